package utils

import (
	"archive/zip"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// Digest is the SHA-1 of a ROM and, for archives, the member it was taken from.
type Digest struct {
	SHA1   string
	Member string
}

// ROMDigest hashes a ROM file. Zip archives are hashed by their first file
// member, the way DAT files identify single-file arcade sets.
func ROMDigest(fs afero.Fs, filename string) (Digest, error) {
	file, err := fs.Open(filename)
	if err != nil {
		return Digest{}, fmt.Errorf("failed to open file %s: %w", filename, err)
	}
	defer file.Close()

	if strings.EqualFold(filepath.Ext(filename), ".zip") {
		return zipDigest(file, filename)
	}

	sum, err := sha1Hex(file)
	if err != nil {
		return Digest{}, fmt.Errorf("failed to calculate hash for %s: %w", filename, err)
	}
	return Digest{SHA1: sum}, nil
}

func zipDigest(file afero.File, filename string) (Digest, error) {
	info, err := file.Stat()
	if err != nil {
		return Digest{}, fmt.Errorf("failed to stat zip file %s: %w", filename, err)
	}

	archive, err := zip.NewReader(file, info.Size())
	if err != nil {
		return Digest{}, fmt.Errorf("failed to open zip file %s: %w", filename, err)
	}

	member := firstMember(archive)
	if member == nil {
		return Digest{}, fmt.Errorf("zip file %s has no file members", filename)
	}

	r, err := member.Open()
	if err != nil {
		return Digest{}, fmt.Errorf("failed to open %s within %s: %w", member.Name, filename, err)
	}
	defer r.Close()

	sum, err := sha1Hex(r)
	if err != nil {
		return Digest{}, fmt.Errorf("failed to calculate hash for %s within %s: %w", member.Name, filename, err)
	}
	return Digest{SHA1: sum, Member: member.Name}, nil
}

// firstMember skips directory entries some archivers store ahead of the files.
func firstMember(archive *zip.Reader) *zip.File {
	for _, f := range archive.File {
		if !f.FileInfo().IsDir() {
			return f
		}
	}
	return nil
}

func sha1Hex(r io.Reader) (string, error) {
	h := sha1.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
