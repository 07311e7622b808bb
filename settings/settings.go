// Package settings loads the optional YAML settings file of arcademerge.
package settings

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"arcademerge/emucfg"
	"arcademerge/paths"
	"arcademerge/romset"
)

// Emulators names the libretro core for each source set.
type Emulators struct {
	FBA  string `yaml:"fba"`
	MAME string `yaml:"mame"`
}

type Log struct {
	Format string `yaml:"format"` // text or json
	Level  string `yaml:"level"`  // debug, info, warn, error
}

type Settings struct {
	Extension    string    `yaml:"extension"`
	Prefix       string    `yaml:"prefix"`
	ConfigSuffix string    `yaml:"config_suffix"`
	ConfigMode   string    `yaml:"config_mode"`
	Emulators    Emulators `yaml:"emulators"`
	Log          Log       `yaml:"log"`
	Journal      string    `yaml:"journal"` // sqlite path, empty disables the journal
}

// Default returns the settings used by RetroPie installs.
func Default() Settings {
	return Settings{
		Extension:    romset.DefaultExtension,
		Prefix:       emucfg.DefaultPrefix,
		ConfigSuffix: paths.DefaultConfigSuffix,
		ConfigMode:   string(emucfg.ModeAppend),
		Emulators: Emulators{
			FBA:  "lr-fbalpha",
			MAME: "lr-mame2003",
		},
		Log: Log{
			Format: "text",
			Level:  "info",
		},
	}
}

// Load reads path over the defaults. Keys missing from the file keep their default.
func Load(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("failed to read settings file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML settings over the defaults and rejects unknown keys.
func Parse(data []byte) (Settings, error) {
	s := Default()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil && !errors.Is(err, io.EOF) {
		return Settings{}, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// Validate checks values that would otherwise fail late, after ROMs are copied.
func (s Settings) Validate() error {
	if !strings.HasPrefix(s.Extension, ".") || len(s.Extension) < 2 {
		return fmt.Errorf("extension %q must start with a dot", s.Extension)
	}
	if s.ConfigSuffix == "" {
		return errors.New("config_suffix must not be empty")
	}
	if strings.TrimSpace(s.Emulators.FBA) == "" || strings.TrimSpace(s.Emulators.MAME) == "" {
		return errors.New("emulators.fba and emulators.mame must be set")
	}
	if _, err := emucfg.ParseMode(s.ConfigMode); err != nil {
		return err
	}
	switch strings.ToLower(s.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("log format %q must be text or json", s.Log.Format)
	}
	return nil
}
