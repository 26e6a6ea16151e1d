package main

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/grantscope/advisor/internal/advisor"
	"github.com/grantscope/advisor/internal/cache"
	"github.com/grantscope/advisor/internal/cost"
	"github.com/grantscope/advisor/internal/dataset"
	"github.com/grantscope/advisor/internal/fetcher"
	"github.com/grantscope/advisor/internal/figures"
	"github.com/grantscope/advisor/internal/llm"
	"github.com/grantscope/advisor/internal/store"
	anthropicpkg "github.com/grantscope/advisor/pkg/anthropic"
)

// advisorEnv holds the dataset, collaborators and orchestrator needed by the
// advise and serve commands.
type advisorEnv struct {
	Frame        *dataset.Frame
	Orchestrator *advisor.Orchestrator
	Reports      *advisor.ReportStore
	Archive      store.Archive // may be nil
	Ledger       *cost.Ledger  // nil when offline
	memo         *cache.Memo
}

// Close releases resources held by the environment.
func (e *advisorEnv) Close() {
	if e.memo != nil {
		_ = e.memo.Close()
	}
	if e.Archive != nil {
		_ = e.Archive.Close()
	}
}

// envOptions are the per-command inputs to initAdvisor.
type envOptions struct {
	DataPath string
	Offline  bool
	Archive  bool
}

// initAdvisor loads the dataset and wires the generator, stage cache,
// figure builder and orchestrator. Callers should defer env.Close().
func initAdvisor(ctx context.Context, opts envOptions) (*advisorEnv, error) {
	var frame *dataset.Frame
	if opts.DataPath != "" {
		path, err := fetcher.NewResolver("").Resolve(ctx, opts.DataPath)
		if err != nil {
			return nil, eris.Wrap(err, "resolve dataset")
		}
		f, err := dataset.Load(ctx, path)
		if err != nil {
			return nil, err
		}
		frame = f
	} else {
		frame = dataset.New(nil, nil)
	}

	memo, err := initMemo(ctx)
	if err != nil {
		return nil, err
	}

	env := &advisorEnv{Frame: frame, Reports: advisor.NewReportStore(), memo: memo}

	if opts.Archive {
		a, err := store.Open(ctx, cfg.Store)
		if err != nil {
			env.Close()
			return nil, eris.Wrap(err, "open archive")
		}
		env.Archive = a
	}

	var gen llm.Generator = llm.Offline{}
	switch {
	case opts.Offline:
		zap.L().Info("running offline, model stages use deterministic fallbacks")
	case strings.TrimSpace(cfg.Anthropic.Key) == "":
		zap.L().Warn("anthropic.key not set, running offline")
	default:
		var clientOpts []anthropicpkg.ClientOption
		if cfg.Anthropic.BaseURL != "" {
			clientOpts = append(clientOpts, anthropicpkg.WithBaseURL(cfg.Anthropic.BaseURL))
		}
		env.Ledger = cost.NewLedger(cost.NewCalculator(cfg.Pricing))
		gen = llm.NewAnthropicGenerator(
			anthropicpkg.NewClient(cfg.Anthropic.Key, clientOpts...),
			cfg.Generator(),
			cfg.Policy(),
			env.Ledger,
		)
	}

	stages := advisor.NewModelStages(gen, memo).WithMinSections(cfg.Advisor().MinSections)
	var tools advisor.ToolRunner = advisor.LocalToolRunner{}
	if cfg.Pipeline.ModelTools {
		tools = advisor.NewModelToolRunner(gen)
	}

	env.Orchestrator = advisor.New(cfg.Advisor(), stages, tools, figures.NewBuilder(stages), env.Reports)
	return env, nil
}

func initMemo(ctx context.Context) (*cache.Memo, error) {
	switch strings.ToLower(cfg.Cache.Driver) {
	case "redis":
		r := cache.NewRedis(cfg.Cache.RedisAddr, cfg.Cache.Prefix)
		if err := r.Ping(ctx); err != nil {
			_ = r.Close()
			return nil, err
		}
		zap.L().Info("stage cache: redis", zap.String("addr", cfg.Cache.RedisAddr))
		return cache.NewMemo(r, cfg.CacheTTL()), nil
	default:
		return cache.NewMemo(cache.NewMemory(), cfg.CacheTTL()), nil
	}
}
