package folio

import (
	"context"
	"sync"
	"time"
)

// MockGenerator is a test implementation of Generator.
// It keeps per-series counters in memory so tests get deterministic,
// collision-free folios without a database.
type MockGenerator struct {
	mu   sync.Mutex
	seqs map[string]int64

	// NextNFunc overrides the default behavior when set.
	NextNFunc func(ctx context.Context, cfg Config, period time.Time, n int) ([]string, error)
}

// NewMockGenerator creates an empty MockGenerator.
func NewMockGenerator() *MockGenerator {
	return &MockGenerator{seqs: make(map[string]int64)}
}

// NextN implements Generator.
func (m *MockGenerator) NextN(ctx context.Context, cfg Config, period time.Time, n int) ([]string, error) {
	if m.NextNFunc != nil {
		return m.NextNFunc(ctx, cfg, period, n)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := cfg.SeriesKey(period)
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		m.seqs[key]++
		out = append(out, cfg.Format(period, m.seqs[key]))
	}
	return out, nil
}
