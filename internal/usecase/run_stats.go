package usecase

import (
	"sync"
	"time"

	"TrustGate/internal/domain/models"
	"TrustGate/pkg/util"
)

// RunStats accumulates run counters. Written by the runner, read by the HTTP
// API and the summary checkpoint job.
type RunStats struct {
	mu           sync.RWMutex
	base         models.RunSummary
	started      time.Time
	ended        time.Time
	streamCounts map[string]int
}

func NewRunStats(base models.RunSummary) *RunStats {
	return &RunStats{base: base, streamCounts: make(map[string]int)}
}

func (s *RunStats) Start(at time.Time) {
	s.mu.Lock()
	s.started = at
	s.ended = time.Time{}
	s.mu.Unlock()
}

func (s *RunStats) Finish(at time.Time) {
	s.mu.Lock()
	s.ended = at
	s.mu.Unlock()
}

func (s *RunStats) AddEvent(stream string) {
	s.mu.Lock()
	s.base.Events++
	s.streamCounts[stream]++
	s.mu.Unlock()
}

func (s *RunStats) AddDecision() {
	s.mu.Lock()
	s.base.Decisions++
	s.mu.Unlock()
}

func (s *RunStats) AddTransitions(n int) {
	s.mu.Lock()
	s.base.Transitions += int64(n)
	s.mu.Unlock()
}

func (s *RunStats) AddError(err error) {
	if err == nil {
		return
	}
	msg := err.Error()
	s.mu.Lock()
	s.base.Errors++
	s.base.LastError = &msg
	s.mu.Unlock()
}

func (s *RunStats) SetFilesProcessed(n int) {
	s.mu.Lock()
	s.base.FilesProcessed = n
	s.mu.Unlock()
}

// Summary returns a copy of the counters. RunSeconds is measured up to now
// while the run is still in progress.
func (s *RunStats) Summary() models.RunSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := s.base
	if s.base.LastError != nil {
		msg := *s.base.LastError
		out.LastError = &msg
	}
	out.StreamCounts = make(map[string]int, len(s.streamCounts))
	for k, v := range s.streamCounts {
		out.StreamCounts[k] = v
	}
	if s.started.IsZero() {
		return out
	}
	end := s.ended
	if end.IsZero() {
		end = time.Now()
	}
	out.StartedAtUnix = util.UnixSeconds(s.started)
	out.EndedAtUnix = util.UnixSeconds(end)
	out.RunSeconds = util.Round(end.Sub(s.started).Seconds(), 3)
	return out
}
