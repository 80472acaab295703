package main

import (
	"context"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/charlie-wiebe/market-sizing-tool/internal/cost"
	"github.com/charlie-wiebe/market-sizing-tool/internal/enrich"
	"github.com/charlie-wiebe/market-sizing-tool/internal/model"
	"github.com/charlie-wiebe/market-sizing-tool/internal/resilience"
	"github.com/charlie-wiebe/market-sizing-tool/internal/signal"
	"github.com/charlie-wiebe/market-sizing-tool/internal/sizing"
	"github.com/charlie-wiebe/market-sizing-tool/internal/store"
	"github.com/charlie-wiebe/market-sizing-tool/pkg/hubspot"
	"github.com/charlie-wiebe/market-sizing-tool/pkg/prospeo"
)

// appEnv holds the store, clients and runner shared by the job commands.
type appEnv struct {
	Store   store.Store
	Gateway prospeo.Client
	Runner  *sizing.Runner
	Signal  *signal.RedisSignal // nil without redis.url
}

// Close releases resources held by the environment.
func (e *appEnv) Close() {
	if e.Signal != nil {
		_ = e.Signal.Close()
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// stopSignal returns the cross-process stop channel, or nil.
func (e *appEnv) stopSignal() signal.StopSignal {
	if e.Signal == nil {
		return nil
	}
	return e.Signal
}

// initEnv validates the config for mode and builds the store, gateway,
// optional HubSpot enricher, optional Redis signal, and runner. Callers
// should defer env.Close().
func initEnv(ctx context.Context, mode string) (*appEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	env := &appEnv{Store: st, Gateway: initGateway()}

	var extra []sizing.RunnerOption
	if cfg.HubSpot.Key != "" {
		crm := hubspot.NewClient(cfg.HubSpot.Key,
			hubspot.WithBaseURL(cfg.HubSpot.BaseURL),
			hubspot.WithRateLimit(cfg.HubSpot.MaxPer10),
		)
		extra = append(extra, sizing.WithEnricher(enrich.New(st, crm)))
		zap.L().Info("hubspot enrichment enabled")
	} else {
		zap.L().Debug("TAM_HUBSPOT_KEY not set, enrichment disabled")
	}

	if cfg.Redis.URL != "" {
		sig, err := signal.Connect(ctx, cfg.Redis.URL, time.Duration(cfg.Redis.TTLMinutes)*time.Minute)
		if err != nil {
			zap.L().Warn("redis unavailable, stop requests stay in-process", zap.Error(err))
		} else {
			env.Signal = sig
			extra = append(extra, sizing.WithStopSignal(sig), sizing.WithProgressPublisher(sig))
			zap.L().Info("redis stop signal enabled")
		}
	}

	env.Runner = sizing.NewRunner(st, env.Gateway, runnerOptions(), extra...)
	return env, nil
}

// initStore opens and migrates the configured store.
func initStore(ctx context.Context) (store.Store, error) {
	st, err := store.Open(ctx, cfg.Store.Driver, cfg.Store.DatabaseURL, &store.PoolConfig{
		MaxConns: cfg.Store.MaxConns,
		MinConns: cfg.Store.MinConns,
	})
	if err != nil {
		return nil, eris.Wrap(err, "open store")
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

func initGateway() prospeo.Client {
	backoff := resilience.DefaultBackoff()
	if cfg.Prospeo.MaxAttempts > 0 {
		backoff.Attempts = cfg.Prospeo.MaxAttempts
	}
	timeout := time.Duration(cfg.Prospeo.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return prospeo.NewClient(cfg.Prospeo.Key,
		prospeo.WithBaseURL(cfg.Prospeo.BaseURL),
		prospeo.WithHTTPClient(&http.Client{Timeout: timeout}),
		prospeo.WithRateLimit(cfg.Prospeo.MaxPerSecond, cfg.Prospeo.MaxPerMinute),
		prospeo.WithBackoff(backoff),
	)
}

func runnerOptions() sizing.Options {
	return sizing.Options{
		CommitEvery:            cfg.Jobs.CommitEvery,
		MaxPagesUnknownSegment: cfg.Jobs.MaxPagesUnknownSegment,
		Rates:                  cost.Rates(cfg.Pricing),
	}
}

// defaultPolicy is the dedup policy for jobs that do not choose one.
func defaultPolicy() model.DedupPolicy {
	p := model.DefaultDedupPolicy()
	if cfg.Jobs.DefaultMaxDataAgeDays > 0 {
		p.MaxDataAgeDays = cfg.Jobs.DefaultMaxDataAgeDays
	}
	return p
}
