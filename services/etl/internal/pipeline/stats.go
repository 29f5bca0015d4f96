package pipeline

import (
	"sort"
	"time"

	"github.com/Trugira-ctrl/airquality-rwanda/services/etl/internal/db"
)

// State is the lifecycle of one run.
type State string

const (
	StateNotStarted     State = "not_started"
	StateRunning        State = "running"
	StateCompleted      State = "completed"
	StatePartialFailure State = "partial_failure"
)

// Stage is the step a source pipeline is in.
type Stage string

const (
	StageExtracting   Stage = "extracting"
	StageTransforming Stage = "transforming"
	StageValidating   Stage = "validating"
	StageLoading      Stage = "loading"
)

// SourceStats counts what happened to one source during a run.
type SourceStats struct {
	Extracted int
	Loaded    int
	Inserted  int64
	Issues    int
	Skipped   bool
	FailedAt  Stage
}

// RunStats is owned by a single run and read once it has finished.
type RunStats struct {
	State        State
	Start        time.Time
	End          time.Time
	Sources      map[string]*SourceStats
	Issues       int
	Errors       int
	Verification *db.Summary
}

func newRunStats() *RunStats {
	return &RunStats{State: StateNotStarted, Sources: make(map[string]*SourceStats)}
}

func (s *RunStats) source(name string) *SourceStats {
	src, ok := s.Sources[name]
	if !ok {
		src = &SourceStats{}
		s.Sources[name] = src
	}
	return src
}

// Duration is End minus Start, or zero while the run is in progress.
func (s *RunStats) Duration() time.Duration {
	if s.End.IsZero() {
		return 0
	}
	return s.End.Sub(s.Start)
}

// Extracted sums extracted rows over all sources.
func (s *RunStats) Extracted() int {
	n := 0
	for _, src := range s.Sources {
		n += src.Extracted
	}
	return n
}

// Loaded sums loaded rows over all sources.
func (s *RunStats) Loaded() int {
	n := 0
	for _, src := range s.Sources {
		n += src.Loaded
	}
	return n
}

// SourceNames returns the sources seen during the run, sorted.
func (s *RunStats) SourceNames() []string {
	names := make([]string, 0, len(s.Sources))
	for name := range s.Sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Succeeded reports whether no hard error was recorded.
func (s *RunStats) Succeeded() bool { return s.Errors == 0 }

// ExitCode is the process status for the run: 0 without hard errors, 1 otherwise.
func (s *RunStats) ExitCode() int {
	if s.Succeeded() {
		return 0
	}
	return 1
}
