package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/unkn0wn-root/swrcache"
	"github.com/unkn0wn-root/swrcache/config"
	"github.com/unkn0wn-root/swrcache/genstore"
	asynchook "github.com/unkn0wn-root/swrcache/hooks/async"
	"github.com/unkn0wn-root/swrcache/internal/logging"
	logrusadapter "github.com/unkn0wn-root/swrcache/log/logrus"
	"github.com/unkn0wn-root/swrcache/metrics/prom"
	pr "github.com/unkn0wn-root/swrcache/provider"
	"github.com/unkn0wn-root/swrcache/provider/bigcache"
	"github.com/unkn0wn-root/swrcache/provider/memory"
	redisprovider "github.com/unkn0wn-root/swrcache/provider/redis"
	"github.com/unkn0wn-root/swrcache/provider/ristretto"
	"github.com/unkn0wn-root/swrcache/request"
	"github.com/unkn0wn-root/swrcache/sloghooks"
	"github.com/unkn0wn-root/swrcache/swr"
)

// run wires the probe from the config and polls until opts.rounds are done or
// ctx ends. Returns the process exit code.
func run(ctx context.Context, opts cliOptions) int {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stdErr, "load config: %v\n", err)
		return 1
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(stdErr, "init logger: %v\n", err)
		return 1
	}

	if opts.checkOnly {
		logger.WithFields(logrus.Fields{
			"action":   "check_config",
			"config":   opts.configPath,
			"provider": cfg.Cache.Provider,
			"genstore": cfg.Cache.GenStore,
			"result":   "ok",
		}).Info("config ok")
		return 0
	}
	if cfg.Request.BaseURL == "" {
		fmt.Fprintln(stdErr, "Request.BaseURL is required")
		return 1
	}
	if len(opts.paths) == 0 {
		fmt.Fprintln(stdErr, "at least one -path is required")
		return 1
	}

	p, err := newProbe(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Error("probe setup failed")
		return 1
	}
	defer p.close()

	if err := p.loop(ctx, opts); err != nil && !errors.Is(err, context.Canceled) {
		logger.WithError(err).Error("probe stopped")
		return 1
	}
	return 0
}

type probe struct {
	cfg     *config.Config
	log     *logrus.Logger
	rdb     *goredis.Client
	hooks   *asynchook.Hooks
	metrics *prom.Metrics
	engine  *swrcache.Engine
	reader  *swr.Reader
	client  *request.Client
	srv     *http.Server
}

func newProbe(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*probe, error) {
	p := &probe{cfg: cfg, log: logger, metrics: prom.New()}

	if cfg.Cache.Provider == config.ProviderRedis || cfg.Cache.GenStore == config.GenStoreRedis {
		p.rdb = goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := p.rdb.Ping(ctx).Err(); err != nil {
			_ = p.rdb.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
	}

	var fan swrcache.MultiHooks
	fan = append(fan, p.metrics)
	if logger.IsLevelEnabled(logrus.DebugLevel) {
		sl := slog.New(slog.NewJSONHandler(logger.Out, &slog.HandlerOptions{Level: slog.LevelDebug}))
		fan = append(fan, sloghooks.New(sl, sloghooks.Options{HitMissEvery: 10}))
	}
	p.hooks = asynchook.New(fan, 1, 1024)

	prov, err := buildProvider(cfg, p.rdb)
	if err != nil {
		p.close()
		return nil, err
	}
	var gens genstore.GenStore
	if cfg.Cache.GenStore == config.GenStoreRedis {
		gens = genstore.NewRedisGenStoreWithTTL(p.rdb, cfg.Cache.Prefix, cfg.Redis.GenTTL.DurationValue())
	}

	adapter := logrusadapter.New(logger)
	p.engine, err = swrcache.New(swrcache.Options{
		Provider:        prov,
		Prefix:          cfg.Cache.Prefix,
		MaxEntries:      cfg.Cache.MaxEntries,
		MaxStorageBytes: cfg.Cache.MaxStorageBytes,
		DefaultTTL:      cfg.Cache.DefaultTTL.DurationValue(),
		CleanupInterval: cfg.Cache.CleanupInterval.DurationValue(),
		GenStore:        gens,
		GenRetention:    cfg.Cache.GenRetention.DurationValue(),
		Logger:          adapter,
		Hooks:           p.hooks,
	})
	if err != nil {
		if prov != nil {
			_ = prov.Close(ctx)
		}
		p.close()
		return nil, err
	}
	if err := p.engine.Start(ctx); err != nil {
		p.close()
		return nil, fmt.Errorf("start engine: %w", err)
	}
	p.metrics.WatchEngine(p.engine)

	rc := cfg.Request
	policy := request.Policy{
		MaxAttempts: rc.MaxAttempts,
		BaseDelay:   rc.BaseDelay.DurationValue(),
		MaxDelay:    rc.MaxDelay.DurationValue(),
		Timeout:     rc.Timeout.DurationValue(),
		OnRetry: func(attempt int, delay time.Duration, err error) {
			p.metrics.OnRetry(attempt, delay, err)
			logger.WithFields(logrus.Fields{"attempt": attempt, "delay": delay.String()}).
				WithError(err).Warn("retrying request")
		},
	}
	orch := request.New(policy)
	var creds request.Credentials
	if rc.Token != "" || rc.Organization != "" {
		creds = request.StaticCredentials{Token: rc.Token, Organization: rc.Organization}
	}
	p.client, err = request.NewClient(request.ClientOptions{
		Transport:    &request.HTTPTransport{},
		Credentials:  creds,
		Orchestrator: orch,
		OrgHeader:    rc.OrgHeader,
	})
	if err != nil {
		p.close()
		return nil, err
	}
	p.reader, err = swr.NewReader(p.engine, orch, swr.Options{
		StaleAfter:      cfg.Cache.StaleAfter.DurationValue(),
		RetentionFactor: cfg.Cache.RetentionFactor,
		Logger:          adapter,
	})
	if err != nil {
		p.close()
		return nil, err
	}

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", p.metrics.Handler())
		p.srv = &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := p.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.WithError(err).WithField("addr", cfg.MetricsAddr).Error("metrics server failed")
			}
		}()
		logger.WithFields(logrus.Fields{"action": "listen", "addr": cfg.MetricsAddr}).Info("serving metrics")
	}
	return p, nil
}

func buildProvider(cfg *config.Config, rdb *goredis.Client) (pr.Provider, error) {
	cc := cfg.Cache
	switch cc.Provider {
	case config.ProviderNone:
		return nil, nil
	case config.ProviderMemory:
		return memory.New(0), nil
	case config.ProviderRedis:
		// the probe owns rdb and closes it after the engine
		rp, err := redisprovider.New(redisprovider.Config{Client: rdb, Channel: cfg.Redis.Channel})
		if err != nil {
			return nil, err
		}
		return rp, nil
	case config.ProviderBigCache:
		mb := 0
		if cc.MaxStorageBytes > 0 {
			mb = int(max(cc.MaxStorageBytes>>20, 1))
		}
		bp, err := bigcache.New(bigcache.Config{Shards: cc.BigCacheShards, HardMaxCacheSizeMB: mb})
		if err != nil {
			return nil, err
		}
		return bp, nil
	case config.ProviderRistretto:
		rp, err := ristretto.New(ristretto.Config{
			NumCounters: 10 * int64(max(cc.MaxEntries, 1000)),
			MaxCost:     cc.RistrettoMaxCost,
			BufferItems: 64,
		})
		if err != nil {
			return nil, err
		}
		return rp, nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cc.Provider)
	}
}

// loop runs polling rounds; each round reads every path concurrently.
func (p *probe) loop(ctx context.Context, opts cliOptions) error {
	t := time.NewTicker(opts.interval)
	defer t.Stop()
	for round := 1; ; round++ {
		if err := p.round(ctx, opts, round); err != nil {
			return err
		}
		if opts.invalidate != nil {
			n, err := p.engine.InvalidatePattern(ctx, opts.invalidate)
			if err != nil {
				p.log.WithError(err).Warn("invalidate failed")
			}
			p.log.WithFields(logrus.Fields{"pattern": opts.invalidate.String(), "removed": n}).Info("invalidated")
		}
		if opts.rounds > 0 && round >= opts.rounds {
			p.reader.Wait()
			p.logStats()
			return nil
		}
		select {
		case <-ctx.Done():
			p.logStats()
			return ctx.Err()
		case <-t.C:
		}
	}
}

func (p *probe) round(ctx context.Context, opts cliOptions, round int) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, path := range opts.paths {
		g.Go(func() error {
			key := swrcache.Key(opts.namespace, path, nil)
			fetch := p.client.Fetcher(request.Request{URL: p.cfg.Request.BaseURL + path})
			start := time.Now()
			res, err := p.reader.Read(gctx, key, fetch, swr.ReadOptions{
				OnUpdate: func(u swr.Update) {
					entry := p.log.WithFields(logrus.Fields{"key": u.Key, "state": u.State.String(), "discarded": u.Discarded})
					if u.Err != nil {
						entry.WithError(u.Err).Warn("refresh failed")
						return
					}
					entry.WithField("bytes", len(u.Value)).Info("refreshed")
				},
			})
			fields := logrus.Fields{
				"round":      round,
				"key":        key,
				"state":      res.State.String(),
				"refreshing": res.Refreshing,
				"bytes":      len(res.Value),
				"elapsed_ms": time.Since(start).Milliseconds(),
			}
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return err
				}
				// a failed resource does not stop the others
				p.log.WithFields(fields).WithError(err).Warn("read failed")
				return nil
			}
			p.log.WithFields(fields).Info("read")
			return nil
		})
	}
	return g.Wait()
}

func (p *probe) logStats() {
	s := p.engine.Stats()
	p.log.WithFields(logrus.Fields{
		"memory_entries":    s.MemoryEntries,
		"memory_bytes":      s.MemoryBytes,
		"persisted_entries": s.PersistedEntries,
		"persisted_bytes":   s.PersistedBytes,
		"hit_rate":          s.HitRate,
	}).Info("cache stats")
}

func (p *probe) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if p.srv != nil {
		_ = p.srv.Shutdown(ctx)
	}
	if p.reader != nil {
		p.reader.Close()
	}
	if p.engine != nil {
		if err := p.engine.Close(ctx); err != nil {
			p.log.WithError(err).Warn("engine close")
		}
	}
	if p.hooks != nil {
		p.hooks.Close()
	}
	if p.rdb != nil {
		_ = p.rdb.Close()
	}
}
