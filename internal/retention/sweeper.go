// Package retention purges jobs, results and uploads once their retention
// window has elapsed.
package retention

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"mediaflow/internal/domain"
	"mediaflow/internal/storage"
)

// Forgetter records purged job ids so later lookups can answer "gone".
type Forgetter interface {
	Forget(jobID string)
}

// Config configures a Sweeper.
type Config struct {
	Store     domain.Store
	Blobs     storage.BlobStore
	Jobs      Forgetter
	Interval  time.Duration
	BatchSize int
	Logger    zerolog.Logger
	Now       func() time.Time
}

// Sweeper deletes expired records and their blobs.
type Sweeper struct {
	store     domain.Store
	blobs     storage.BlobStore
	jobs      Forgetter
	interval  time.Duration
	batchSize int
	log       zerolog.Logger
	now       func() time.Time
}

// Options tunes a single pass.
type Options struct {
	// DryRun reports what would be purged without deleting anything.
	DryRun bool
}

// Result summarizes a pass.
type Result struct {
	JobsPurged   int      `json:"jobs_purged"`
	AssetsPurged int      `json:"assets_purged"`
	Skipped      int      `json:"skipped"`
	PurgedJobIDs []string `json:"purged_job_ids,omitempty"`
}

func New(cfg Config) *Sweeper {
	s := &Sweeper{
		store:     cfg.Store,
		blobs:     cfg.Blobs,
		jobs:      cfg.Jobs,
		interval:  cfg.Interval,
		batchSize: cfg.BatchSize,
		log:       cfg.Logger.With().Str("component", "retention").Logger(),
		now:       cfg.Now,
	}
	if s.interval <= 0 {
		s.interval = 10 * time.Minute
	}
	if s.batchSize <= 0 {
		s.batchSize = 500
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Run sweeps on every interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	s.log.Info().Dur("interval", s.interval).Msg("retention: sweeper started")
	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("retention: sweeper stopped")
			return nil
		case <-t.C:
			res, err := s.Sweep(ctx, Options{})
			if err != nil {
				s.log.Error().Err(err).Msg("retention: sweep failed")
				continue
			}
			if res.JobsPurged+res.AssetsPurged+res.Skipped > 0 {
				s.log.Info().Int("jobs", res.JobsPurged).Int("assets", res.AssetsPurged).
					Int("skipped", res.Skipped).Msg("retention: sweep finished")
			}
		}
	}
}

// Sweep runs one pass over every expired row, a page of BatchSize at a
// time. Non-terminal jobs are never purged, nor are assets that a
// non-terminal job still reads. Running it again right away is a no-op.
func (s *Sweeper) Sweep(ctx context.Context, opts Options) (Result, error) {
	var res Result
	now := s.now().UTC()

	// Every row already looked at, purged or kept. Kept rows come back on
	// each page, so each page asks for that many more.
	seenJobs := make(map[string]bool)
	// Results purged with their job are not counted again.
	seenAssets := make(map[string]bool)
	for {
		limit := len(seenJobs) + s.batchSize
		expired, err := s.store.Jobs.ListExpired(ctx, now, limit)
		if err != nil {
			return res, fmt.Errorf("retention: list expired jobs: %w", err)
		}
		for _, job := range expired {
			if seenJobs[job.ID] {
				continue
			}
			seenJobs[job.ID] = true
			if err := s.sweepJob(ctx, job, opts, seenAssets, &res); err != nil {
				return res, err
			}
		}
		if len(expired) < limit {
			break
		}
	}

	inUse, err := s.referencedAssets(ctx)
	if err != nil {
		return res, err
	}
	for {
		limit := len(seenAssets) + s.batchSize
		assets, err := s.store.Assets.ListExpired(ctx, now, limit)
		if err != nil {
			return res, fmt.Errorf("retention: list expired assets: %w", err)
		}
		for _, asset := range assets {
			if seenAssets[asset.ID] {
				continue
			}
			seenAssets[asset.ID] = true
			if inUse[asset.ID] {
				s.log.Warn().Str("asset_id", asset.ID).Msg("retention: asset referenced by an active job, skipping")
				res.Skipped++
				continue
			}
			if !opts.DryRun {
				if err := s.purgeAsset(ctx, asset); err != nil {
					return res, err
				}
			}
			res.AssetsPurged++
		}
		if len(assets) < limit {
			break
		}
	}
	if opts.DryRun {
		s.log.Info().Int("jobs", res.JobsPurged).Int("assets", res.AssetsPurged).Msg("retention: dry run")
	}
	return res, nil
}

func (s *Sweeper) sweepJob(ctx context.Context, job *domain.Job, opts Options, handled map[string]bool, res *Result) error {
	if !job.Status.Terminal() {
		s.log.Warn().Str("job_id", job.ID).Str("status", string(job.Status)).Msg("retention: job not terminal, skipping")
		res.Skipped++
		return nil
	}
	result, err := s.resultOf(ctx, job)
	if err != nil {
		return err
	}
	if !opts.DryRun {
		if err := s.purgeJob(ctx, job, result); err != nil {
			return err
		}
	}
	if result != nil {
		handled[result.ID] = true
		res.AssetsPurged++
	}
	res.JobsPurged++
	res.PurgedJobIDs = append(res.PurgedJobIDs, job.ID)
	return nil
}

func (s *Sweeper) resultOf(ctx context.Context, job *domain.Job) (*domain.Asset, error) {
	if job.ResultAssetID == "" {
		return nil, nil
	}
	asset, err := s.store.Assets.Get(ctx, job.ResultAssetID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("retention: load result of %s: %w", job.ID, err)
	}
	return asset, nil
}

func (s *Sweeper) purgeJob(ctx context.Context, job *domain.Job, result *domain.Asset) error {
	if result != nil {
		if err := s.purgeAsset(ctx, result); err != nil {
			return err
		}
	}
	if err := s.store.Jobs.Delete(ctx, job.ID); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("retention: delete job %s: %w", job.ID, err)
	}
	if s.jobs != nil {
		s.jobs.Forget(job.ID)
	}
	s.log.Debug().Str("job_id", job.ID).Str("status", string(job.Status)).Msg("retention: job purged")
	return nil
}

func (s *Sweeper) purgeAsset(ctx context.Context, asset *domain.Asset) error {
	if err := s.blobs.Delete(ctx, asset.StorageKey); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("retention: delete blob %s: %w", asset.StorageKey, err)
	}
	if err := s.store.Assets.Delete(ctx, asset.ID); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("retention: delete asset %s: %w", asset.ID, err)
	}
	return nil
}

// referencedAssets collects the inputs and LUTs of pending and running jobs.
func (s *Sweeper) referencedAssets(ctx context.Context) (map[string]bool, error) {
	active, err := s.store.Jobs.ListByStatus(ctx, domain.JobStatusPending, domain.JobStatusRunning)
	if err != nil {
		return nil, fmt.Errorf("retention: list active jobs: %w", err)
	}
	refs := make(map[string]bool)
	for _, job := range active {
		for _, id := range job.InputAssetIDs {
			refs[id] = true
		}
		if cg := job.Params.ColorGrade; cg != nil && cg.LUTAssetID != "" {
			refs[cg.LUTAssetID] = true
		}
	}
	return refs, nil
}
