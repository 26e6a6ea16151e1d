package llm

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/grantscope/advisor/internal/cost"
	"github.com/grantscope/advisor/internal/resilience"
	"github.com/grantscope/advisor/pkg/anthropic"
)

// AnthropicConfig configures an AnthropicGenerator.
type AnthropicConfig struct {
	Model       string
	MaxTokens   int64
	Temperature float64
	// CacheTTL is the prompt-cache TTL for system prompts ("5m", "1h" or
	// empty to disable).
	CacheTTL string
	// RequestsPerSecond throttles calls across goroutines. Zero disables.
	RequestsPerSecond float64
	Burst             int
}

// AnthropicGenerator implements Generator against the Messages API with
// throttling, retries, a circuit breaker, and cost attribution.
type AnthropicGenerator struct {
	client  anthropic.Client
	cfg     AnthropicConfig
	limiter *rate.Limiter
	policy  resilience.Policy
	ledger  *cost.Ledger
}

// NewAnthropicGenerator wires client behind policy. ledger may be nil.
func NewAnthropicGenerator(client anthropic.Client, cfg AnthropicConfig, policy resilience.Policy, ledger *cost.Ledger) *AnthropicGenerator {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}
	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return &AnthropicGenerator{client: client, cfg: cfg, limiter: limiter, policy: policy, ledger: ledger}
}

// Ledger returns the cost ledger, possibly nil.
func (g *AnthropicGenerator) Ledger() *cost.Ledger { return g.ledger }

// Generate sends one user turn and returns the joined text reply.
func (g *AnthropicGenerator) Generate(ctx context.Context, system, user string) (string, error) {
	if g == nil || g.client == nil {
		return "", ErrUnavailable
	}
	stage := StageFrom(ctx)
	start := time.Now()

	temp := g.cfg.Temperature
	req := anthropic.MessageRequest{
		Model:       g.cfg.Model,
		MaxTokens:   g.cfg.MaxTokens,
		System:      anthropic.CachedSystem(system, g.cfg.CacheTTL),
		Messages:    []anthropic.Message{{Role: "user", Content: user}},
		Temperature: &temp,
	}

	resp, err := resilience.Call(ctx, g.policy, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		if g.limiter != nil {
			if err := g.limiter.Wait(ctx); err != nil {
				return nil, eris.Wrap(err, "llm: rate limit wait")
			}
		}
		r, err := g.client.CreateMessage(ctx, req)
		if err != nil {
			return nil, resilience.MarkTransient(err, anthropic.StatusCode(err))
		}
		return r, nil
	})
	if err != nil {
		zap.L().Warn("llm: generate failed",
			zap.String("stage", stage),
			zap.String("model", g.cfg.Model),
			zap.Error(err),
		)
		return "", eris.Wrapf(err, "llm: generate (%s)", stage)
	}

	model := resp.Model
	if model == "" {
		model = g.cfg.Model
	}
	if g.ledger != nil {
		g.ledger.Record(model, stage, cost.Usage{
			Input:      resp.Usage.InputTokens,
			Output:     resp.Usage.OutputTokens,
			CacheWrite: resp.Usage.CacheCreationInputTokens,
			CacheRead:  resp.Usage.CacheReadInputTokens,
		})
	}
	zap.L().Debug("llm: generate",
		zap.String("stage", stage),
		zap.String("model", model),
		zap.String("stop_reason", resp.StopReason),
		zap.Int64("duration_ms", time.Since(start).Milliseconds()),
	)

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", eris.Errorf("llm: empty completion (%s)", stage)
	}
	return text, nil
}

// Offline is a Generator that never reaches a model. Every call fails with
// ErrUnavailable, which drives each stage onto its deterministic fallback.
type Offline struct{}

// Generate implements Generator.
func (Offline) Generate(context.Context, string, string) (string, error) {
	return "", ErrUnavailable
}
