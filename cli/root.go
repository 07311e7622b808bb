package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"arcademerge/emucfg"
	"arcademerge/journal"
	"arcademerge/logger"
	"arcademerge/merge"
	"arcademerge/models"
	"arcademerge/paths"
	"arcademerge/romset"
	"arcademerge/settings"
	"arcademerge/utils"
)

// Execute runs the command line and exits 1 on any failure.
func Execute() {
	cmd := newRootCmd(afero.NewOsFs())
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "arcademerge: %v\n", err)
		os.Exit(1)
	}
}

type globalFlags struct {
	settingsPath string
	logFormat    string
	logLevel     string
	journal      string
}

type mergeFlags struct {
	extension   string
	prefix      string
	configMode  string
	fbaEmulator string
	mameEmu     string
}

func newRootCmd(fs afero.Fs) *cobra.Command {
	var g globalFlags
	var m mergeFlags

	cmd := &cobra.Command{
		Use:   "arcademerge <fba-dir> <mame-dir> <arcade-dir> <emulators.cfg>",
		Short: "Merge FBA and MAME-2003 ROM folders into the RetroPie arcade folder",
		Long: `Copies the ROMs of an FBA and a MAME-2003 folder into one arcade folder and
appends a line per ROM to emulators.cfg so RetroPie starts it with the right core.

The config file must already exist. Lines are appended on every run, so running
twice over the same ROMs leaves duplicate entries (use --config-mode upsert to
rewrite them instead). Do not run two merges against the same config file at once.`,
		Args:          cobra.ExactArgs(4),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := resolveSettings(cmd, g, m)
			if err != nil {
				return err
			}
			setupLogger(cmd, s)

			return runMerge(cmd.Context(), fs, s, paths.Args{
				FBA:    args[0],
				MAME:   args[1],
				Arcade: args[2],
				Config: args[3],
			})
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&g.settingsPath, "settings", "", "YAML settings file")
	pf.StringVar(&g.logFormat, "log-format", "", "log format: text or json")
	pf.StringVar(&g.logLevel, "log-level", "", "log level: debug, info, warn, error")
	pf.StringVar(&g.journal, "journal", "", "sqlite journal of merge runs (disabled when empty)")

	f := cmd.Flags()
	f.StringVar(&m.extension, "ext", "", "ROM file extension (default .zip)")
	f.StringVar(&m.prefix, "prefix", "", "config key prefix (default arcade_)")
	f.StringVar(&m.configMode, "config-mode", "", "append or upsert (default append)")
	f.StringVar(&m.fbaEmulator, "fba-emulator", "", "emulator for the FBA set (default lr-fbalpha)")
	f.StringVar(&m.mameEmu, "mame-emulator", "", "emulator for the MAME set (default lr-mame2003)")

	cmd.AddCommand(historyCmd(&g))
	return cmd
}

// resolveSettings layers defaults, the settings file and explicitly set flags.
func resolveSettings(cmd *cobra.Command, g globalFlags, m mergeFlags) (settings.Settings, error) {
	s := settings.Default()
	if g.settingsPath != "" {
		var err error
		if s, err = settings.Load(g.settingsPath); err != nil {
			return settings.Settings{}, err
		}
	}

	overrides := []struct {
		flag string
		val  string
		dst  *string
	}{
		{"log-format", g.logFormat, &s.Log.Format},
		{"log-level", g.logLevel, &s.Log.Level},
		{"journal", g.journal, &s.Journal},
		{"ext", m.extension, &s.Extension},
		{"prefix", m.prefix, &s.Prefix},
		{"config-mode", m.configMode, &s.ConfigMode},
		{"fba-emulator", m.fbaEmulator, &s.Emulators.FBA},
		{"mame-emulator", m.mameEmu, &s.Emulators.MAME},
	}
	for _, o := range overrides {
		if f := cmd.Flags().Lookup(o.flag); f != nil && f.Changed {
			*o.dst = o.val
		}
	}

	if err := s.Validate(); err != nil {
		return settings.Settings{}, err
	}
	return s, nil
}

func setupLogger(cmd *cobra.Command, s settings.Settings) {
	logger.Init(cmd.ErrOrStderr(), s.Log.Format, logger.ParseLevel(s.Log.Level))
}

func runMerge(ctx context.Context, fs afero.Fs, s settings.Settings, raw paths.Args) error {
	v, err := paths.NewValidator(fs, s.ConfigSuffix)
	if err != nil {
		return err
	}
	args, err := v.Validate(raw)
	if err != nil {
		return err
	}

	mode, err := emucfg.ParseMode(s.ConfigMode)
	if err != nil {
		return err
	}
	writer, err := emucfg.New(fs, mode, emucfg.Options{
		Path:      args.Config,
		Prefix:    s.Prefix,
		Extension: s.Extension,
		Logger:    logger.Log,
	})
	if err != nil {
		return err
	}

	p := &merge.Pipeline{
		Fs:        fs,
		Extension: s.Extension,
		Copier:    romset.NewCopier(fs, logger.Log),
		Writer:    writer,
		Logger:    logger.Log,
	}

	if s.Journal != "" {
		path, err := journalPath(s.Journal)
		if err != nil {
			return err
		}
		j, err := journal.Open(path)
		if err != nil {
			return &models.OpError{Op: "journal.open", Kind: models.KindJournalFailed, Path: s.Journal, Err: err}
		}
		defer j.Close()
		p.Recorder = j
		p.Digest = utils.ROMDigest
	}

	_, err = p.Run(ctx, merge.Request{
		Sets: []models.ROMSet{
			{Name: "fba", Emulator: s.Emulators.FBA, Dir: args.FBA},
			{Name: "mame", Emulator: s.Emulators.MAME, Dir: args.MAME},
		},
		Arcade:     args.Arcade,
		ConfigFile: args.Config,
	})
	return err
}

// journalPath expands "~" and anchors a relative journal path at the working directory.
func journalPath(raw string) (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get working directory: %w", err)
	}
	home, _ := os.UserHomeDir()
	return paths.Canonicalize(raw, home, cwd), nil
}
