package merge

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha1"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/afero"

	"arcademerge/emucfg"
	"arcademerge/journal"
	"arcademerge/models"
	"arcademerge/romset"
	"arcademerge/utils"
)

const (
	fbaDir    = "/home/pi/RetroPie/roms/fba"
	mameDir   = "/home/pi/RetroPie/roms/mame-libretro"
	arcadeDir = "/home/pi/RetroPie/roms/arcade"
	cfgPath   = "/opt/retropie/configs/all/emulators.cfg"
)

type fixture struct {
	fs  afero.Fs
	req Request
}

func newFixture(t *testing.T, fba, mame map[string]string) *fixture {
	t.Helper()
	fs := afero.NewMemMapFs()
	for dir, files := range map[string]map[string]string{fbaDir: fba, mameDir: mame, arcadeDir: nil} {
		if err := fs.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
		for name, content := range files {
			if err := afero.WriteFile(fs, filepath.Join(dir, name), []byte(content), 0o644); err != nil {
				t.Fatal(err)
			}
		}
	}
	if err := afero.WriteFile(fs, cfgPath, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	return &fixture{
		fs: fs,
		req: Request{
			Sets: []models.ROMSet{
				{Name: "fba", Emulator: "lr-fbalpha", Dir: fbaDir},
				{Name: "mame", Emulator: "lr-mame2003", Dir: mameDir},
			},
			Arcade:     arcadeDir,
			ConfigFile: cfgPath,
		},
	}
}

func (f *fixture) pipeline(t *testing.T) *Pipeline {
	t.Helper()
	w, err := emucfg.New(f.fs, emucfg.ModeAppend, emucfg.Options{
		Path:      cfgPath,
		Prefix:    emucfg.DefaultPrefix,
		Extension: ".zip",
	})
	if err != nil {
		t.Fatal(err)
	}
	return &Pipeline{
		Fs:        f.fs,
		Extension: ".zip",
		Copier:    romset.NewCopier(f.fs, nil),
		Writer:    w,
	}
}

func (f *fixture) config(t *testing.T) string {
	t.Helper()
	data, err := afero.ReadFile(f.fs, cfgPath)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func TestRunMergesBothSets(t *testing.T) {
	f := newFixture(t,
		map[string]string{"sf2.zip": "SF2", ".hidden.zip": "HIDDEN"},
		map[string]string{"pacman.zip": "PACMAN", "readme.txt": "x"},
	)

	res, err := f.pipeline(t).Run(context.Background(), f.req)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.RunID == "" || res.ROMCount() != 2 {
		t.Errorf("result = %+v", res)
	}

	for name, want := range map[string]string{"sf2.zip": "SF2", "pacman.zip": "PACMAN"} {
		got, err := afero.ReadFile(f.fs, filepath.Join(arcadeDir, name))
		if err != nil {
			t.Fatalf("%s not copied: %v", name, err)
		}
		if string(got) != want {
			t.Errorf("%s = %q, want %q", name, got, want)
		}
	}
	for _, name := range []string{".hidden.zip", "readme.txt"} {
		if ok, _ := afero.Exists(f.fs, filepath.Join(arcadeDir, name)); ok {
			t.Errorf("%s should not be copied", name)
		}
	}

	want := "arcade_sf2 = \"lr-fbalpha\"\narcade_pacman = \"lr-mame2003\"\n"
	if got := f.config(t); got != want {
		t.Errorf("config = %q, want %q", got, want)
	}
}

func TestRunTwiceDuplicatesConfigLines(t *testing.T) {
	f := newFixture(t, map[string]string{"sf2.zip": "SF2"}, map[string]string{"pacman.zip": "PACMAN"})
	p := f.pipeline(t)

	for i := 0; i < 2; i++ {
		if _, err := p.Run(context.Background(), f.req); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
	}

	cfg := f.config(t)
	if n := strings.Count(cfg, "arcade_sf2 = \"lr-fbalpha\"\n"); n != 2 {
		t.Errorf("sf2 lines = %d, want 2", n)
	}
	if n := strings.Count(cfg, "arcade_pacman = \"lr-mame2003\"\n"); n != 2 {
		t.Errorf("pacman lines = %d, want 2", n)
	}
}

func TestRunSameNameInBothSetsLaterWins(t *testing.T) {
	f := newFixture(t, map[string]string{"dkong.zip": "FBA"}, map[string]string{"dkong.zip": "MAME"})

	if _, err := f.pipeline(t).Run(context.Background(), f.req); err != nil {
		t.Fatal(err)
	}

	got, _ := afero.ReadFile(f.fs, filepath.Join(arcadeDir, "dkong.zip"))
	if string(got) != "MAME" {
		t.Errorf("dkong.zip = %q, want the mame copy", got)
	}
}

func TestRunStopsWhenSourceDisappears(t *testing.T) {
	f := newFixture(t, map[string]string{"sf2.zip": "SF2"}, map[string]string{"pacman.zip": "PACMAN"})
	if err := f.fs.RemoveAll(mameDir); err != nil {
		t.Fatal(err)
	}

	_, err := f.pipeline(t).Run(context.Background(), f.req)
	if !models.IsKind(err, models.KindDirectoryUnavailable) {
		t.Fatalf("expected directory_unavailable, got %v", err)
	}

	if ok, _ := afero.Exists(f.fs, filepath.Join(arcadeDir, "sf2.zip")); ok {
		t.Error("nothing should be copied when listing fails")
	}
	if cfg := f.config(t); cfg != "" {
		t.Errorf("config changed: %q", cfg)
	}
}

type failingCopier struct {
	inner Copier
	fail  string
}

func (c failingCopier) Copy(names []string, dst, src string) ([]models.CopiedROM, error) {
	if src == c.fail {
		return nil, &models.OpError{Op: "romset.copy", Kind: models.KindCopyFailed, Path: names[0], Err: errors.New("disk full")}
	}
	return c.inner.Copy(names, dst, src)
}

func TestRunCopyFailureSkipsConfig(t *testing.T) {
	f := newFixture(t, map[string]string{"sf2.zip": "SF2"}, map[string]string{"pacman.zip": "PACMAN"})
	p := f.pipeline(t)
	p.Copier = failingCopier{inner: p.Copier, fail: mameDir}

	_, err := p.Run(context.Background(), f.req)
	if !models.IsKind(err, models.KindCopyFailed) {
		t.Fatalf("expected copy_failed, got %v", err)
	}

	if ok, _ := afero.Exists(f.fs, filepath.Join(arcadeDir, "sf2.zip")); !ok {
		t.Error("fba ROMs copied before the failure should remain")
	}
	if cfg := f.config(t); cfg != "" {
		t.Errorf("config should be untouched, got %q", cfg)
	}
}

func zipBytes(t *testing.T, member, content string) string {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create(member)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write([]byte(content)); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.String()
}

func TestRunRecordsJournal(t *testing.T) {
	f := newFixture(t,
		map[string]string{"sf2.zip": zipBytes(t, "sf2.bin", "SF2"), "1942.zip": "1942"},
		map[string]string{"pacman.zip": "PACMAN"},
	)

	j, err := journal.Open(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer j.Close()

	p := f.pipeline(t)
	p.Recorder = j
	p.Digest = utils.ROMDigest

	ctx := context.Background()
	res, err := p.Run(ctx, f.req)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	runs, err := j.Runs(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 || runs[0].ID != res.RunID || runs[0].Status != models.RunSucceeded || runs[0].ROMCount != 3 {
		t.Fatalf("runs = %+v", runs)
	}

	roms, err := j.ROMs(ctx, res.RunID)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, r := range roms {
		names = append(names, r.Set+"/"+r.Name)
		switch r.Name {
		case "sf2.zip":
			if r.SHA1 != fmt.Sprintf("%x", sha1.Sum([]byte("SF2"))) || r.Member != "sf2.bin" {
				t.Errorf("sf2.zip digest = %s of %q", r.SHA1, r.Member)
			}
		default:
			if r.SHA1 != "" || r.Member != "" {
				t.Errorf("%s: non-zip content should have no digest, got %s", r.Name, r.SHA1)
			}
		}
	}
	if got := strings.Join(names, ","); got != "fba/1942.zip,fba/sf2.zip,mame/pacman.zip" {
		t.Errorf("journal roms = %s", got)
	}
}

func TestRunRecordsFailedRun(t *testing.T) {
	f := newFixture(t, map[string]string{"sf2.zip": "SF2"}, map[string]string{"pacman.zip": "PACMAN"})
	if err := f.fs.Remove(cfgPath); err != nil {
		t.Fatal(err)
	}

	j, err := journal.Open(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer j.Close()

	p := f.pipeline(t)
	p.Recorder = j

	ctx := context.Background()
	_, err = p.Run(ctx, f.req)
	if !models.IsKind(err, models.KindWriteFailed) {
		t.Fatalf("expected write_failed, got %v", err)
	}

	runs, err := j.Runs(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 || runs[0].Status != models.RunFailed || !strings.Contains(runs[0].Error, "write_failed") {
		t.Errorf("runs = %+v", runs)
	}
}

func TestRunArcadeSameAsSourceKeepsROMs(t *testing.T) {
	f := newFixture(t, map[string]string{"sf2.zip": "SF2-ROM-DATA"}, map[string]string{"pacman.zip": "PACMAN"})
	f.req.Arcade = fbaDir

	_, err := f.pipeline(t).Run(context.Background(), f.req)
	if !models.IsKind(err, models.KindCopyFailed) {
		t.Fatalf("expected copy_failed, got %v", err)
	}

	got, _ := afero.ReadFile(f.fs, filepath.Join(fbaDir, "sf2.zip"))
	if string(got) != "SF2-ROM-DATA" {
		t.Errorf("sf2.zip = %q, want the original content", got)
	}
	if cfg := f.config(t); cfg != "" {
		t.Errorf("config should be untouched, got %q", cfg)
	}
}
