// Package merge runs the arcade merge: list both ROM sets, copy them into the
// arcade directory, then record each ROM's emulator in the config file. The first
// failing stage stops the run and nothing is rolled back.
package merge

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"arcademerge/emucfg"
	"arcademerge/logger"
	"arcademerge/models"
	"arcademerge/romset"
	"arcademerge/utils"
)

// Copier copies named files from src into dst.
type Copier interface {
	Copy(names []string, dst, src string) ([]models.CopiedROM, error)
}

// Recorder keeps a history of runs. The sqlite journal implements it.
type Recorder interface {
	Begin(ctx context.Context, run *models.Run) error
	RecordROMs(ctx context.Context, runID string, roms []models.CopiedROM) error
	Finish(ctx context.Context, runID string, runErr error) error
}

// DigestFunc hashes a copied ROM for the journal.
type DigestFunc func(fs afero.Fs, path string) (utils.Digest, error)

// Pipeline wires the merge stages to their filesystem, writer and optional journal.
type Pipeline struct {
	Fs        afero.Fs
	Extension string
	Copier    Copier
	Writer    emucfg.Writer
	Recorder  Recorder   // optional
	Digest    DigestFunc // optional, only used with a Recorder
	Logger    *slog.Logger
}

// Request names the ROM sets to merge, in order, and their targets.
type Request struct {
	Sets       []models.ROMSet
	Arcade     string
	ConfigFile string
}

// SetResult is what one ROM set contributed to the run.
type SetResult struct {
	Set    models.ROMSet
	ROMs   []string
	Copied []models.CopiedROM
}

// Result carries the run ID and what each set contributed.
type Result struct {
	RunID string
	Sets  []SetResult
}

// ROMCount is the number of ROMs listed over all sets.
func (r *Result) ROMCount() int {
	n := 0
	for _, s := range r.Sets {
		n += len(s.ROMs)
	}
	return n
}

type stage struct {
	name string
	run  func(ctx context.Context, req Request, res *Result) error
}

// Run executes the stages in order and returns at the first error. The partial
// result is returned alongside the error.
func (p *Pipeline) Run(ctx context.Context, req Request) (*Result, error) {
	log := logger.OrDiscard(p.Logger)

	res := &Result{RunID: uuid.NewString()}
	for _, set := range req.Sets {
		res.Sets = append(res.Sets, SetResult{Set: set})
	}
	log = log.With("run_id", res.RunID)

	if p.Recorder != nil {
		run := &models.Run{ID: res.RunID, Arcade: req.Arcade, ConfigFile: req.ConfigFile}
		if err := p.Recorder.Begin(ctx, run); err != nil {
			return res, journalFailed("merge.begin", err)
		}
	}

	stages := []stage{
		{"list", p.list},
		{"copy", p.copy},
		{"configure", p.configure},
	}

	log.Info("merge started", "arcade", req.Arcade, "config", req.ConfigFile, "sets", len(req.Sets))

	var runErr error
	for _, st := range stages {
		log.Debug("stage started", "stage", st.name)
		if runErr = st.run(ctx, req, res); runErr != nil {
			log.Error("stage failed", "stage", st.name, "error", runErr)
			break
		}
	}

	if p.Recorder != nil {
		if err := p.Recorder.Finish(ctx, res.RunID, runErr); err != nil {
			if runErr == nil {
				return res, journalFailed("merge.finish", err)
			}
			log.Warn("failed to record run outcome", "error", err)
		}
	}
	if runErr != nil {
		return res, runErr
	}

	log.Info("merge finished", "roms", res.ROMCount())
	return res, nil
}

func (p *Pipeline) list(_ context.Context, _ Request, res *Result) error {
	ext := p.Extension
	if ext == "" {
		ext = romset.DefaultExtension
	}

	for i := range res.Sets {
		sr := &res.Sets[i]
		names, err := romset.List(p.Fs, sr.Set.Dir, ext)
		if err != nil {
			return err
		}
		sr.ROMs = names
		logger.OrDiscard(p.Logger).Debug("ROMs listed", "set", sr.Set.Name, "dir", sr.Set.Dir, "count", len(names))
	}
	return nil
}

func (p *Pipeline) copy(ctx context.Context, req Request, res *Result) error {
	for i := range res.Sets {
		sr := &res.Sets[i]

		copied, copyErr := p.Copier.Copy(sr.ROMs, req.Arcade, sr.Set.Dir)
		for j := range copied {
			copied[j].Set = sr.Set.Name
		}
		sr.Copied = copied

		if p.Recorder != nil && len(copied) > 0 {
			p.digest(copied)
			if err := p.Recorder.RecordROMs(ctx, res.RunID, copied); err != nil {
				if copyErr != nil {
					return copyErr
				}
				return journalFailed("merge.record", err)
			}
		}

		if copyErr != nil {
			return copyErr
		}
	}
	return nil
}

// digest fills in SHA-1 values for the journal. A ROM that cannot be hashed is
// recorded without one.
func (p *Pipeline) digest(roms []models.CopiedROM) {
	if p.Digest == nil {
		return
	}
	for i := range roms {
		d, err := p.Digest(p.Fs, roms[i].Destination)
		if err != nil {
			logger.OrDiscard(p.Logger).Warn("failed to hash ROM", "rom", filepath.Base(roms[i].Destination), "error", err)
			continue
		}
		roms[i].SHA1 = d.SHA1
		roms[i].Member = d.Member
	}
}

func (p *Pipeline) configure(_ context.Context, _ Request, res *Result) error {
	for _, sr := range res.Sets {
		if err := p.Writer.Apply(sr.ROMs, sr.Set.Emulator); err != nil {
			return err
		}
	}
	return nil
}

func journalFailed(op string, err error) error {
	return &models.OpError{
		Op:   op,
		Kind: models.KindJournalFailed,
		Err:  err,
	}
}
