// Package emucfg writes per-ROM emulator selections into a RetroPie
// emulators.cfg file.
package emucfg

import (
	"bufio"
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/afero"

	"arcademerge/logger"
	"arcademerge/models"
)

// DefaultPrefix is the key prefix RetroPie uses for arcade ROMs.
const DefaultPrefix = "arcade_"

// Mode selects how a Writer treats ROMs that are already configured.
type Mode string

const (
	ModeAppend Mode = "append"
	ModeUpsert Mode = "upsert"
)

// ParseMode accepts "append" (or empty) and "upsert".
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeAppend:
		return ModeAppend, nil
	case ModeUpsert:
		return ModeUpsert, nil
	default:
		return "", fmt.Errorf("unknown config mode %q (want append or upsert)", s)
	}
}

// Identifier strips the ROM extension from name.
func Identifier(name, ext string) string {
	if ext == "" || !strings.HasSuffix(name, ext) {
		return name
	}
	return name[:len(name)-len(ext)]
}

// Key is the left-hand side of a config line for the ROM.
func Key(prefix, name, ext string) string {
	return prefix + Identifier(name, ext)
}

// Line renders one emulators.cfg record, newline included.
func Line(prefix, name, ext, emulator string) string {
	return Key(prefix, name, ext) + ` = "` + emulator + "\"\n"
}

// Writer records the emulator for each ROM in a config file.
type Writer interface {
	Apply(names []string, emulator string) error
}

// Options are shared by every Writer.
type Options struct {
	Path      string
	Prefix    string
	Extension string
	Logger    *slog.Logger
}

// New returns the Writer for mode.
func New(fs afero.Fs, mode Mode, opts Options) (Writer, error) {
	switch mode {
	case "", ModeAppend:
		return &AppendWriter{Fs: fs, Options: opts}, nil
	case ModeUpsert:
		return &UpsertWriter{Fs: fs, Options: opts}, nil
	default:
		return nil, fmt.Errorf("unknown config mode %q", mode)
	}
}

// AppendWriter adds one line per ROM to the end of the existing file. Running it
// twice over the same ROMs leaves duplicate lines.
type AppendWriter struct {
	Fs afero.Fs
	Options
}

// Apply appends the lines for names in order and never creates the file.
func (w *AppendWriter) Apply(names []string, emulator string) error {
	f, err := w.Fs.OpenFile(w.Path, os.O_APPEND|os.O_WRONLY, 0)
	if err != nil {
		return writeFailed("emucfg.append", w.Path, fmt.Errorf("failed to open config: %w", err))
	}

	for _, name := range names {
		if _, err := f.WriteString(Line(w.Prefix, name, w.Extension, emulator)); err != nil {
			f.Close()
			return writeFailed("emucfg.append", w.Path, fmt.Errorf("failed to write %s: %w", name, err))
		}
	}

	if err := f.Close(); err != nil {
		return writeFailed("emucfg.append", w.Path, fmt.Errorf("failed to close config: %w", err))
	}

	logger.OrDiscard(w.Logger).Info(emulator+" configs applied", "emulator", emulator, "roms", len(names))
	return nil
}

// UpsertWriter rewrites the line of a ROM that is already configured and appends
// the rest, so reruns do not accumulate duplicates.
type UpsertWriter struct {
	Fs afero.Fs
	Options
}

func (w *UpsertWriter) Apply(names []string, emulator string) error {
	info, err := w.Fs.Stat(w.Path)
	if err != nil {
		return writeFailed("emucfg.upsert", w.Path, fmt.Errorf("failed to stat config: %w", err))
	}
	data, err := afero.ReadFile(w.Fs, w.Path)
	if err != nil {
		return writeFailed("emucfg.upsert", w.Path, fmt.Errorf("failed to read config: %w", err))
	}

	lines, err := splitLines(data)
	if err != nil {
		return writeFailed("emucfg.upsert", w.Path, fmt.Errorf("failed to read config: %w", err))
	}
	index := make(map[string]int, len(lines))
	for i, l := range lines {
		if k, ok := lineKey(l); ok {
			if _, seen := index[k]; !seen {
				index[k] = i
			}
		}
	}

	updated, added := 0, 0
	for _, name := range names {
		key := Key(w.Prefix, name, w.Extension)
		line := strings.TrimSuffix(Line(w.Prefix, name, w.Extension, emulator), "\n")
		if i, ok := index[key]; ok {
			lines[i] = line
			updated++
			continue
		}
		index[key] = len(lines)
		lines = append(lines, line)
		added++
	}

	var buf bytes.Buffer
	for _, l := range lines {
		buf.WriteString(l)
		buf.WriteByte('\n')
	}
	if err := afero.WriteFile(w.Fs, w.Path, buf.Bytes(), info.Mode().Perm()); err != nil {
		return writeFailed("emucfg.upsert", w.Path, fmt.Errorf("failed to write config: %w", err))
	}

	logger.OrDiscard(w.Logger).Info(emulator+" configs applied",
		"emulator", emulator, "added", added, "updated", updated)
	return nil
}

func splitLines(data []byte) ([]string, error) {
	var lines []string
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	return lines, sc.Err()
}

// lineKey returns the key of a "key = value" line. Comments and blank lines have none.
func lineKey(line string) (string, bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || strings.HasPrefix(trimmed, "#") {
		return "", false
	}
	k, _, ok := strings.Cut(trimmed, "=")
	if !ok {
		return "", false
	}
	return strings.TrimSpace(k), true
}

func writeFailed(op, path string, err error) error {
	return &models.OpError{
		Op:   op,
		Kind: models.KindWriteFailed,
		Path: path,
		Err:  err,
	}
}
