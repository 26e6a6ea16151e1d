// Package cost prices model token usage and keeps a per-run ledger.
package cost

import (
	"sort"
	"sync"

	"go.uber.org/zap"
)

// ModelRate holds per-model token pricing (USD per million tokens).
type ModelRate struct {
	Input         float64 `yaml:"input" mapstructure:"input"`
	Output        float64 `yaml:"output" mapstructure:"output"`
	CacheWriteMul float64 `yaml:"cache_write_mul" mapstructure:"cache_write_mul"`
	CacheReadMul  float64 `yaml:"cache_read_mul" mapstructure:"cache_read_mul"`
}

// Rates maps model ids to prices.
type Rates struct {
	Anthropic map[string]ModelRate `yaml:"anthropic" mapstructure:"anthropic"`
}

// DefaultRates returns list prices for the models the advisor is configured with.
func DefaultRates() Rates {
	return Rates{
		Anthropic: map[string]ModelRate{
			"claude-haiku-4-5-20251001":  {Input: 1.00, Output: 5.00, CacheWriteMul: 1.25, CacheReadMul: 0.1},
			"claude-sonnet-4-5-20250929": {Input: 3.00, Output: 15.00, CacheWriteMul: 1.25, CacheReadMul: 0.1},
			"claude-opus-4-6":            {Input: 15.00, Output: 75.00, CacheWriteMul: 1.25, CacheReadMul: 0.1},
		},
	}
}

// Usage is a token count for one or more calls.
type Usage struct {
	Input      int64 `json:"input_tokens"`
	Output     int64 `json:"output_tokens"`
	CacheWrite int64 `json:"cache_write_tokens"`
	CacheRead  int64 `json:"cache_read_tokens"`
}

// Calculator computes costs for API usage.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a Calculator with the given rates.
func NewCalculator(rates Rates) *Calculator {
	return &Calculator{rates: rates}
}

// Claude returns the USD cost of usage on model, or 0 for an unpriced model.
func (c *Calculator) Claude(model string, u Usage) float64 {
	if c == nil {
		return 0
	}
	rate, ok := c.rates.Anthropic[model]
	if !ok {
		return 0
	}
	perTok := func(n int64) float64 { return float64(n) / 1e6 }
	return perTok(u.Input)*rate.Input +
		perTok(u.Output)*rate.Output +
		perTok(u.CacheWrite)*rate.Input*rate.CacheWriteMul +
		perTok(u.CacheRead)*rate.Input*rate.CacheReadMul
}

// Entry is the accumulated usage for one model and stage.
type Entry struct {
	Model string  `json:"model"`
	Stage string  `json:"stage"`
	Calls int     `json:"calls"`
	Usage Usage   `json:"usage"`
	USD   float64 `json:"usd"`
}

// Ledger accumulates usage across concurrent calls.
type Ledger struct {
	calc *Calculator

	mu      sync.Mutex
	entries map[[2]string]*Entry
}

// NewLedger creates an empty ledger priced by calc.
func NewLedger(calc *Calculator) *Ledger {
	return &Ledger{calc: calc, entries: map[[2]string]*Entry{}}
}

// Record adds one call's usage and logs its cost.
func (l *Ledger) Record(model, stage string, u Usage) float64 {
	usd := l.calc.Claude(model, u)
	zap.L().Debug("cost attribution",
		zap.String("model", model),
		zap.String("stage", stage),
		zap.Int64("input_tokens", u.Input),
		zap.Int64("output_tokens", u.Output),
		zap.Int64("cache_write_tokens", u.CacheWrite),
		zap.Int64("cache_read_tokens", u.CacheRead),
		zap.Float64("estimated_cost_usd", usd),
	)

	l.mu.Lock()
	defer l.mu.Unlock()
	k := [2]string{model, stage}
	e, ok := l.entries[k]
	if !ok {
		e = &Entry{Model: model, Stage: stage}
		l.entries[k] = e
	}
	e.Calls++
	e.Usage.Input += u.Input
	e.Usage.Output += u.Output
	e.Usage.CacheWrite += u.CacheWrite
	e.Usage.CacheRead += u.CacheRead
	e.USD += usd
	return usd
}

// Entries returns a snapshot ordered by stage then model.
func (l *Ledger) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, 0, len(l.entries))
	for _, e := range l.entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Stage != out[j].Stage {
			return out[i].Stage < out[j].Stage
		}
		return out[i].Model < out[j].Model
	})
	return out
}

// Total returns the summed usage and cost.
func (l *Ledger) Total() (Usage, float64) {
	var u Usage
	var usd float64
	for _, e := range l.Entries() {
		u.Input += e.Usage.Input
		u.Output += e.Usage.Output
		u.CacheWrite += e.Usage.CacheWrite
		u.CacheRead += e.Usage.CacheRead
		usd += e.USD
	}
	return u, usd
}
