// Package app assembles the job engine from configuration and runs its
// long-lived components.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"mediaflow/internal/adapter/memrepo"
	"mediaflow/internal/adapter/pebblerepo"
	"mediaflow/internal/adapter/repo"
	"mediaflow/internal/domain"
	"mediaflow/internal/http/handlers"
	"mediaflow/internal/http/httpapi"
	"mediaflow/internal/infra"
	"mediaflow/internal/infra/credentials"
	"mediaflow/internal/infra/geoip"
	"mediaflow/internal/infra/oidc"
	"mediaflow/internal/jobs"
	"mediaflow/internal/metrics"
	"mediaflow/internal/middleware"
	"mediaflow/internal/processing"
	"mediaflow/internal/quota"
	"mediaflow/internal/retention"
	"mediaflow/internal/scheduler"
	"mediaflow/internal/storage"
	"mediaflow/internal/worker"
)

// App holds the wired components of one process.
type App struct {
	Config   *infra.Config
	Log      zerolog.Logger
	Store    domain.Store
	Blobs    storage.BlobStore
	Queue    *scheduler.Queue
	Jobs     *jobs.Manager
	Metrics  *metrics.Collector
	Registry *processing.Registry
	Sweeper  *retention.Sweeper
	// Tokens is set only on the postgres backend.
	Tokens *credentials.Store

	geo     *geoip.Resolver
	closers []func() error
}

// New opens the configured backends and wires the engine. Close releases
// them; New cleans up after itself when it fails.
func New(ctx context.Context, cfg *infra.Config, log zerolog.Logger) (*App, error) {
	a := &App{Config: cfg, Log: log, Queue: scheduler.New()}
	if err := a.wire(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) wire(ctx context.Context) error {
	cfg, log := a.Config, a.Log

	var (
		sql infra.SQLExecutor
		err error
	)
	a.Store, sql, err = OpenStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, a.Store.Close)
	if sql != nil {
		a.Tokens = credentials.NewStore(sql)
	}

	var closeBlobs func() error
	a.Blobs, closeBlobs, err = OpenBlobs(ctx, cfg)
	if err != nil {
		return err
	}
	if closeBlobs != nil {
		a.closers = append(a.closers, closeBlobs)
	}

	a.geo, err = geoip.Open(cfg.GeoIP.DBPath)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, a.geo.Close)

	removeBG := processing.RemoveBGOptions{
		URL:     cfg.RemoveBG.URL,
		APIKey:  cfg.RemoveBG.APIKey,
		Timeout: cfg.RemoveBG.Timeout,
	}
	if a.Tokens != nil {
		removeBG.Tokens = a.Tokens
	}
	a.Registry = processing.NewDefaultRegistry(processing.Options{
		Tools: processing.Tools{
			FFmpeg:  cfg.Tools.FFmpeg,
			FFprobe: cfg.Tools.FFprobe,
			Cwebp:   cfg.Tools.Cwebp,
			Avifenc: cfg.Tools.Avifenc,
		},
		RemoveBG: removeBG,
		Logger:   log,
	})

	a.Metrics = metrics.New(a.Queue.Len)
	supports := func(t domain.JobType) bool {
		_, ok := a.Registry.Lookup(t)
		return ok
	}
	opts := jobs.Options{
		Store:     a.Store,
		Ledger:    quota.NewLedger(quota.WithUsageCounter(a.Store.Jobs)),
		Queue:     a.Queue,
		Blobs:     a.Blobs,
		Limits:    planLimits(cfg.Quota),
		Retention: cfg.Retention.Window,
		Logger:    log,
		Observer:  a.Metrics,
		Supports:  supports,
	}
	if p := processing.NewProber(cfg.Tools.FFprobe); p != nil {
		opts.Prober = p
	}
	a.Jobs = jobs.NewManager(opts)

	a.Sweeper = retention.New(retention.Config{
		Store:     a.Store,
		Blobs:     a.Blobs,
		Jobs:      a.Jobs,
		Interval:  cfg.Retention.Interval,
		BatchSize: cfg.Retention.BatchSize,
		Logger:    log,
	})
	return nil
}

func planLimits(q infra.QuotaConfig) map[domain.Plan]domain.PlanLimits {
	return map[domain.Plan]domain.PlanLimits{
		domain.PlanFree: {DailyQuota: q.Free.Daily, MaxConcurrent: q.Free.Concurrent},
		domain.PlanPro:  {DailyQuota: q.Pro.Daily, MaxConcurrent: q.Pro.Concurrent},
	}
}

// OpenStore opens the configured repository backend. The SQL executor is
// non-nil only for postgres, whose schema is migrated on open.
func OpenStore(ctx context.Context, cfg *infra.Config, log zerolog.Logger) (domain.Store, infra.SQLExecutor, error) {
	switch cfg.Store.Backend {
	case "memory":
		return memrepo.New(), nil, nil
	case "pebble":
		db, err := pebblerepo.Open(cfg.Store.PebblePath)
		if err != nil {
			return domain.Store{}, nil, err
		}
		return db.Store(), nil, nil
	case "postgres":
		pool, err := infra.NewDBPool(ctx, cfg)
		if err != nil {
			return domain.Store{}, nil, err
		}
		runner := infra.NewSQLRunner(pool, log.With().Str("component", "sql").Logger())
		if err := repo.Migrate(ctx, runner); err != nil {
			pool.Close()
			return domain.Store{}, nil, err
		}
		return repo.NewStore(runner, pool.Close), runner, nil
	}
	return domain.Store{}, nil, fmt.Errorf("app: unknown store backend %q", cfg.Store.Backend)
}

// OpenBlobs opens the configured blob backend. The close func may be nil.
func OpenBlobs(ctx context.Context, cfg *infra.Config) (storage.BlobStore, func() error, error) {
	switch cfg.Blob.Backend {
	case "memory":
		return storage.NewMemoryStore(), nil, nil
	case "filesystem":
		fs, err := storage.NewFileStore(cfg.Blob.Dir)
		return fs, nil, err
	case "s3":
		s3, err := storage.NewS3Store(storage.S3Options{
			Bucket:    cfg.Blob.S3.Bucket,
			Region:    cfg.Blob.S3.Region,
			Endpoint:  cfg.Blob.S3.Endpoint,
			AccessKey: cfg.Blob.S3.AccessKey,
			SecretKey: cfg.Blob.S3.SecretKey,
			Prefix:    cfg.Blob.S3.Prefix,
			PathStyle: cfg.Blob.S3.PathStyle,
		})
		return s3, nil, err
	case "gcs":
		gcs, err := storage.NewGCSStore(ctx, storage.GCSOptions{
			Bucket:          cfg.Blob.GCS.Bucket,
			Prefix:          cfg.Blob.GCS.Prefix,
			CredentialsFile: cfg.Blob.GCS.CredentialsFile,
		})
		if err != nil {
			return nil, nil, err
		}
		return gcs, gcs.Close, nil
	}
	return nil, nil, fmt.Errorf("app: unknown blob backend %q", cfg.Blob.Backend)
}

// Handler builds the HTTP API.
func (a *App) Handler() http.Handler {
	opts := httpapi.Options{
		Auth: middleware.AuthOptions{
			Secret:         a.Config.Auth.JWTSecret,
			Issuer:         a.Config.Auth.Issuer,
			Audience:       a.Config.Auth.Audience,
			AllowDevHeader: a.Config.Auth.DevHeader,
		},
		DefaultLocale:      "en",
		RateLimitPerMinute: a.Config.HTTP.RateLimitPerMin,
		Logger:             a.Log,
	}
	if a.geo != nil {
		opts.Country = a.geo.CountryCode
	}
	if v := oidc.NewVerifier(a.Config.Auth.OIDCIssuer, a.Config.Auth.OIDCAudience, nil); v != nil {
		opts.Auth.Verifier = v
	}
	return httpapi.NewRouter(handlers.NewApp(a.Jobs, a.Log, a.Metrics.Handler()), opts)
}

// Run restores in-flight state, then serves HTTP and runs the worker pool,
// the reaper and the retention sweeper until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	restored, err := a.Jobs.Recover(ctx)
	if err != nil {
		return fmt.Errorf("app: recover: %w", err)
	}
	a.Log.Info().Int("jobs", restored).Msg("app: state recovered")

	w := a.Config.Worker
	pool := worker.NewPool(a.Jobs, a.Queue, a.Registry, worker.Options{
		Size:         w.Size,
		MaxAttempts:  w.MaxAttempts,
		BackoffBase:  w.BackoffBase,
		BackoffMax:   w.BackoffMax,
		ImageTimeout: w.ImageTimeout,
		VideoTimeout: w.VideoTimeout,
		Heartbeat:    w.DeadTimeout / 4,
		Grace:        a.Config.HTTP.ShutdownTimeout,
		Logger:       a.Log,
	})
	reaper := worker.NewReaper(a.Jobs, w.DeadTimeout, a.Log, nil)
	server := infra.NewHTTPServer(a.Config, a.Handler())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return pool.Run(gctx) })
	g.Go(func() error { return reaper.Run(gctx) })
	g.Go(func() error { return a.Sweeper.Run(gctx) })
	g.Go(func() error {
		a.Log.Info().Str("addr", server.Addr()).Msg("app: http listening")
		return server.Start()
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.Config.HTTP.ShutdownTimeout)
		defer cancel()
		err := server.Shutdown(shutdownCtx)
		a.Queue.Close()
		return err
	})

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// Close releases the backends in reverse order of opening.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
