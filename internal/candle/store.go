// Package candle holds the in-memory bar series for a single symbol and
// detects bar completion as ticks for the forming bar arrive.
package candle

import (
	"fmt"
	"sync"

	"github.com/alanyoungcy/spotbot/internal/domain"
)

// Store is the bar series owned by the polling driver. Upsert and Seed are
// called by that single writer; readers such as the HTTP server only ever
// receive copies.
type Store struct {
	mu    sync.RWMutex
	bars  []domain.Bar
	limit int
}

// NewStore returns an empty store. A positive limit caps the number of bars
// kept in memory; the oldest completed bars are dropped first.
func NewStore(limit int) *Store {
	return &Store{limit: limit}
}

// Seed replaces the series with a historical backlog. Every bar but the last
// is marked complete; the last one is the currently forming bar.
func (s *Store) Seed(ticks []domain.Tick) error {
	bars := make([]domain.Bar, 0, len(ticks))
	for i, t := range ticks {
		if i > 0 && !t.OpenTime.After(ticks[i-1].OpenTime) {
			return fmt.Errorf("candle: seed: bar %d at %s: %w", i, t.OpenTime, domain.ErrNonMonotonicBar)
		}
		b := domain.BarFromTick(t)
		b.Complete = i < len(ticks)-1
		bars = append(bars, b)
	}

	s.mu.Lock()
	s.bars = bars
	s.trimLocked()
	s.mu.Unlock()
	return nil
}

// Upsert applies a tick for the forming bar. When the tick starts a new bar
// the previous one is frozen and returned with ok set to true.
func (s *Store) Upsert(t domain.Tick) (completed domain.Bar, ok bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.bars)
	if n == 0 {
		s.bars = append(s.bars, domain.BarFromTick(t))
		return domain.Bar{}, false, nil
	}

	last := &s.bars[n-1]
	switch {
	case t.OpenTime.Equal(last.OpenTime):
		complete := last.Complete
		*last = domain.BarFromTick(t)
		last.Complete = complete
		return domain.Bar{}, false, nil
	case t.OpenTime.Before(last.OpenTime):
		return domain.Bar{}, false, fmt.Errorf("candle: upsert %s after %s: %w",
			t.OpenTime, last.OpenTime, domain.ErrNonMonotonicBar)
	}

	last.Complete = true
	completed = *last
	s.bars = append(s.bars, domain.BarFromTick(t))
	s.trimLocked()
	return completed, true, nil
}

// Completed returns a copy of every completed bar in order.
func (s *Store) Completed() []domain.Bar {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.bars)
	if n > 0 && !s.bars[n-1].Complete {
		n--
	}
	out := make([]domain.Bar, n)
	copy(out, s.bars[:n])
	return out
}

// Last returns the most recent bar, complete or not.
func (s *Store) Last() (domain.Bar, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.bars) == 0 {
		return domain.Bar{}, false
	}
	return s.bars[len(s.bars)-1], true
}

// Snapshot returns a copy of the whole series, including the forming bar.
func (s *Store) Snapshot() []domain.Bar {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Bar, len(s.bars))
	copy(out, s.bars)
	return out
}

// Len reports the number of stored bars.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.bars)
}

func (s *Store) trimLocked() {
	if s.limit <= 0 || len(s.bars) <= s.limit {
		return
	}
	drop := len(s.bars) - s.limit
	s.bars = append(s.bars[:0:0], s.bars[drop:]...)
}
