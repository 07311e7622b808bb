// Package paths checks and normalizes the command line path arguments before any
// file is touched.
package paths

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"arcademerge/models"
)

// DefaultConfigSuffix is the suffix RetroPie uses for emulators.cfg.
const DefaultConfigSuffix = ".cfg"

// Args holds the four positional arguments of a merge, in command line order.
type Args struct {
	FBA    string
	MAME   string
	Arcade string
	Config string
}

// Canonicalize expands a leading "~" to home, anchors relative paths at cwd and
// cleans the result. It never touches the filesystem.
func Canonicalize(raw, home, cwd string) string {
	p := expandHome(raw, home)
	if !filepath.IsAbs(p) {
		p = filepath.Join(cwd, p)
	}
	return filepath.Clean(p)
}

func expandHome(raw, home string) string {
	switch {
	case raw == "~":
		return home
	case strings.HasPrefix(raw, "~/"):
		return filepath.Join(home, raw[2:])
	default:
		return raw
	}
}

// Validator checks path arguments against a filesystem.
type Validator struct {
	Fs           afero.Fs
	Home         string
	Cwd          string
	ConfigSuffix string
	// Resolve follows symbolic links. Nil leaves paths as they are.
	Resolve func(string) (string, error)
}

// NewValidator returns a Validator anchored at the process home and working
// directories. Symbolic links are only resolved on the OS filesystem.
func NewValidator(fs afero.Fs, configSuffix string) (*Validator, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get working directory: %w", err)
	}
	home, _ := os.UserHomeDir()

	if configSuffix == "" {
		configSuffix = DefaultConfigSuffix
	}

	v := &Validator{
		Fs:           fs,
		Home:         home,
		Cwd:          cwd,
		ConfigSuffix: configSuffix,
	}
	if _, ok := fs.(*afero.OsFs); ok {
		v.Resolve = filepath.EvalSymlinks
	}
	return v, nil
}

// Dir returns the absolute, link-resolved form of raw if it names a directory.
func (v *Validator) Dir(name, raw string) (string, error) {
	p := Canonicalize(raw, v.Home, v.Cwd)

	if v.Resolve != nil {
		resolved, err := v.Resolve(p)
		if err != nil {
			return "", invalid(name, raw, "is not a directory", err)
		}
		p = Canonicalize(resolved, v.Home, v.Cwd)
	}

	info, err := v.Fs.Stat(p)
	if err != nil {
		return "", invalid(name, raw, "is not a directory", err)
	}
	if !info.IsDir() {
		return "", invalid(name, raw, "is not a directory", nil)
	}
	return p, nil
}

// ConfigFile checks that raw names an existing regular file ending in the config
// suffix. The path is returned as given, apart from "~" expansion.
func (v *Validator) ConfigFile(name, raw string) (string, error) {
	suffix := v.ConfigSuffix
	if suffix == "" {
		suffix = DefaultConfigSuffix
	}

	if !strings.HasSuffix(raw, suffix) {
		return "", invalid(name, raw, "is not a valid config file", nil)
	}

	info, err := v.Fs.Stat(Canonicalize(raw, v.Home, v.Cwd))
	if err != nil {
		return "", invalid(name, raw, "is not a valid config file", err)
	}
	if !info.Mode().IsRegular() {
		return "", invalid(name, raw, "is not a valid config file", nil)
	}
	return expandHome(raw, v.Home), nil
}

// Validate checks every argument in command line order and stops at the first bad one.
func (v *Validator) Validate(args Args) (Args, error) {
	var out Args
	var err error

	if out.FBA, err = v.Dir("fba", args.FBA); err != nil {
		return Args{}, err
	}
	if out.MAME, err = v.Dir("mame", args.MAME); err != nil {
		return Args{}, err
	}
	if out.Arcade, err = v.Dir("arcade", args.Arcade); err != nil {
		return Args{}, err
	}
	if out.Config, err = v.ConfigFile("config", args.Config); err != nil {
		return Args{}, err
	}
	return out, nil
}

func invalid(name, raw, reason string, cause error) error {
	msg := fmt.Sprintf("%q %s", raw, reason)
	var err error
	if cause != nil {
		err = fmt.Errorf("%s: %w", msg, cause)
	} else {
		err = errors.New(msg)
	}
	return &models.OpError{
		Op:   "validate." + name,
		Kind: models.KindInvalidPath,
		Path: raw,
		Err:  err,
	}
}
