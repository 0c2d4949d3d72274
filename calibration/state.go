package calibration

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// State holds the most recent successful calibration result.
type State struct {
	clock clock.Clock

	mu         sync.RWMutex
	hasResult  bool
	intrinsics Intrinsics
	updatedAt  time.Time
}

// NewState returns an empty State using clk for timestamps.
func NewState(clk clock.Clock) *State {
	if clk == nil {
		clk = clock.New()
	}
	return &State{clock: clk}
}

// Update replaces the held result.
func (s *State) Update(in Intrinsics) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.intrinsics = in
	s.hasResult = true
	s.updatedAt = s.clock.Now()
}

// Read returns a copy of the held result, or ErrNotCalibrated.
func (s *State) Read() (Intrinsics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.hasResult {
		return Intrinsics{}, ErrNotCalibrated
	}
	return s.intrinsics, nil
}

// UpdatedAt returns when the held result was written, or the zero time.
func (s *State) UpdatedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updatedAt
}
