package models

import "time"

// ROMSet is one source directory of ROMs and the emulator that runs them.
type ROMSet struct {
	Name     string
	Emulator string
	Dir      string
}

// CopiedROM describes a ROM file placed in the merged arcade directory.
type CopiedROM struct {
	Set         string
	Name        string
	Source      string
	Destination string
	Size        int64
	SHA1        string
	Member      string // zip member the SHA-1 was taken from
}

type RunStatus string

const (
	RunStarted   RunStatus = "started"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

// Run is a single invocation of the merge as recorded in the journal.
type Run struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	Status     RunStatus
	Error      string
	Arcade     string
	ConfigFile string
	ROMCount   int
}
