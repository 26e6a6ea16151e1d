package cost

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculator_Claude(t *testing.T) {
	calc := NewCalculator(DefaultRates())

	tests := []struct {
		name  string
		model string
		usage Usage
		want  float64
	}{
		{"sonnet in/out", "claude-sonnet-4-5-20250929", Usage{Input: 1_000_000, Output: 1_000_000}, 18.0},
		{"sonnet cache", "claude-sonnet-4-5-20250929", Usage{CacheWrite: 1_000_000, CacheRead: 1_000_000}, 3.75 + 0.3},
		{"haiku", "claude-haiku-4-5-20251001", Usage{Input: 500_000}, 0.5},
		{"unknown model", "gpt-x", Usage{Input: 1_000_000}, 0},
		{"zero", "claude-opus-4-6", Usage{}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, calc.Claude(tt.model, tt.usage), 1e-9)
		})
	}

	var nilCalc *Calculator
	assert.Zero(t, nilCalc.Claude("claude-opus-4-6", Usage{Input: 1}))
}

func TestLedger_AccumulatesConcurrently(t *testing.T) {
	l := NewLedger(NewCalculator(DefaultRates()))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Record("claude-sonnet-4-5-20250929", "plan", Usage{Input: 100_000, Output: 10_000})
		}()
	}
	wg.Wait()
	l.Record("claude-sonnet-4-5-20250929", "normalize", Usage{Input: 1_000})

	entries := l.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "normalize", entries[0].Stage)
	assert.Equal(t, "plan", entries[1].Stage)
	assert.Equal(t, 10, entries[1].Calls)
	assert.Equal(t, int64(1_000_000), entries[1].Usage.Input)

	u, usd := l.Total()
	assert.Equal(t, int64(1_001_000), u.Input)
	assert.InDelta(t, 3.0+1.5+0.003, usd, 1e-9)
}
