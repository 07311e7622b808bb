// Package romset lists ROM files in a source directory and copies them into the
// merged arcade directory.
package romset

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"

	"arcademerge/logger"
	"arcademerge/models"
)

// DefaultExtension is the file type of arcade ROM archives.
const DefaultExtension = ".zip"

// List returns the names of the non-hidden files in dir ending in ext, sorted
// ascending. Subdirectories are skipped.
func List(fs afero.Fs, dir, ext string) ([]string, error) {
	entries, err := afero.ReadDir(fs, dir)
	if err != nil {
		return nil, &models.OpError{
			Op:   "romset.list",
			Kind: models.KindDirectoryUnavailable,
			Path: dir,
			Err:  err,
		}
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ext) {
			continue
		}
		names = append(names, name)
	}

	sort.Strings(names)
	return names, nil
}

// Copier copies ROM files between directories of one filesystem.
type Copier struct {
	Fs     afero.Fs
	Logger *slog.Logger
}

// NewCopier returns a Copier logging to l, or discarding logs when l is nil.
func NewCopier(fs afero.Fs, l *slog.Logger) *Copier {
	return &Copier{Fs: fs, Logger: logger.OrDiscard(l)}
}

// Copy copies every named file from src to dst in the given order. An existing
// destination file is replaced. The first failure stops the copy; files already
// copied stay in place.
func (c *Copier) Copy(names []string, dst, src string) ([]models.CopiedROM, error) {
	log := logger.OrDiscard(c.Logger)

	copied := make([]models.CopiedROM, 0, len(names))
	for _, name := range names {
		from := filepath.Join(src, name)
		to := filepath.Join(dst, name)

		n, err := c.copyFile(from, to)
		if err != nil {
			return copied, &models.OpError{
				Op:   "romset.copy",
				Kind: models.KindCopyFailed,
				Path: name,
				Err:  err,
			}
		}

		copied = append(copied, models.CopiedROM{
			Name:        name,
			Source:      from,
			Destination: to,
			Size:        n,
		})
		log.Info("ROM copied to arcade folder", "rom", name)
	}
	return copied, nil
}

func (c *Copier) copyFile(from, to string) (int64, error) {
	in, err := c.Fs.Open(from)
	if err != nil {
		return 0, fmt.Errorf("failed to open source: %w", err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return 0, fmt.Errorf("failed to stat source: %w", err)
	}
	if info.IsDir() {
		return 0, fmt.Errorf("source %s is a directory", from)
	}
	perm := info.Mode().Perm()

	same, err := c.sameFile(from, to, info)
	if err != nil {
		return 0, err
	}
	if same {
		return 0, fmt.Errorf("%s and %s are the same file", from, to)
	}

	out, err := c.Fs.OpenFile(to, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return 0, fmt.Errorf("failed to create destination: %w", err)
	}

	n, err := io.Copy(out, in)
	if err != nil {
		out.Close()
		return n, fmt.Errorf("failed to copy contents: %w", err)
	}
	if err := out.Close(); err != nil {
		return n, fmt.Errorf("failed to close destination: %w", err)
	}

	if err := c.Fs.Chmod(to, perm); err != nil {
		return n, fmt.Errorf("failed to set destination mode: %w", err)
	}
	return n, nil
}

// sameFile reports whether to already names the source file, either by path or,
// on the OS filesystem, through a link.
func (c *Copier) sameFile(from, to string, src os.FileInfo) (bool, error) {
	if filepath.Clean(from) == filepath.Clean(to) {
		return true, nil
	}
	if _, ok := c.Fs.(*afero.OsFs); !ok {
		return false, nil
	}

	dst, err := c.Fs.Stat(to)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat destination: %w", err)
	}
	return os.SameFile(src, dst), nil
}
