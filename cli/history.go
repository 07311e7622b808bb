package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"arcademerge/journal"
	"arcademerge/models"
	"arcademerge/settings"
)

func historyCmd(g *globalFlags) *cobra.Command {
	var limit int
	var runID string
	var rom string

	c := &cobra.Command{
		Use:   "history",
		Short: "List past merge runs recorded in the journal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			raw := g.journal
			if raw == "" && g.settingsPath != "" {
				s, err := settings.Load(g.settingsPath)
				if err != nil {
					return err
				}
				raw = s.Journal
			}
			if raw == "" {
				return errors.New("no journal configured (use --journal or journal: in the settings file)")
			}
			path, err := journalPath(raw)
			if err != nil {
				return err
			}
			if _, err := os.Stat(path); err != nil {
				return fmt.Errorf("journal %s: %w", path, err)
			}

			j, err := journal.Open(path)
			if err != nil {
				return err
			}
			defer j.Close()

			out := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			defer out.Flush()

			switch {
			case rom != "":
				r, err := j.FindByName(cmd.Context(), rom)
				if err != nil {
					return err
				}
				if r == nil {
					return fmt.Errorf("no copy of %s recorded in %s", rom, path)
				}
				fmt.Fprintln(out, "SET\tROM\tSOURCE\tDESTINATION\tSIZE\tSHA1\tMEMBER")
				fmt.Fprintf(out, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
					r.Set, r.Name, r.Source, r.Destination, r.Size, dash(r.SHA1), dash(r.Member))
				return nil

			case runID != "":
				roms, err := j.ROMs(cmd.Context(), runID)
				if err != nil {
					return err
				}
				printROMs(out, roms)
				return nil
			}

			runs, err := j.Runs(cmd.Context(), limit)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, "RUN\tSTARTED\tSTATUS\tROMS\tERROR")
			for _, r := range runs {
				fmt.Fprintf(out, "%s\t%s\t%s\t%d\t%s\n",
					r.ID, r.StartedAt.Local().Format(time.DateTime), r.Status, r.ROMCount, dash(r.Error))
			}
			return nil
		},
	}

	c.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs to show (0 for all)")
	c.Flags().StringVar(&runID, "run", "", "show the ROMs copied by one run")
	c.Flags().StringVar(&rom, "rom", "", "show the most recent copy of a ROM file name")
	return c
}

func printROMs(w io.Writer, roms []models.CopiedROM) {
	fmt.Fprintln(w, "SET\tROM\tSIZE\tSHA1\tMEMBER")
	for _, r := range roms {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n", r.Set, r.Name, r.Size, dash(r.SHA1), dash(r.Member))
	}
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
