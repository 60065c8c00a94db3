package jobs

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"mediaflow/internal/domain"
	"mediaflow/internal/storage"
	"mediaflow/pkg/zip"
)

const maxArchiveJobs = 20

// ErrNotReady is returned when a result is requested before the job completed.
var ErrNotReady = errors.New("jobs: result not ready")

// DurationProber measures the playback length of a video in seconds.
type DurationProber interface {
	Duration(ctx context.Context, data []byte, ext string) (float64, error)
}

// UploadRequest is one file submitted for later processing.
type UploadRequest struct {
	AccountID string
	Filename  string
	Data      []byte
	// DurationSeconds is the client-declared video length, used when no
	// prober is configured or probing fails.
	DurationSeconds float64
}

// Upload validates and stores an input file and records it as an asset that
// expires with the retention window.
func (m *Manager) Upload(ctx context.Context, req UploadRequest) (*domain.Asset, error) {
	kind, mime, ok := domain.ClassifyFilename(req.Filename)
	if !ok {
		return nil, domain.NewValidationError("file", "unsupported file type "+strings.ToLower(filepath.Ext(req.Filename)))
	}
	if len(req.Data) == 0 {
		return nil, domain.NewValidationError("file", "empty upload")
	}
	size := int64(len(req.Data))
	switch kind {
	case domain.AssetKindImage:
		if size > domain.MaxImageBytes {
			return nil, &domain.SizeLimitError{Kind: kind, Limit: domain.MaxImageBytes}
		}
	case domain.AssetKindVideo:
		if size > domain.MaxVideoBytes {
			return nil, &domain.SizeLimitError{Kind: kind, Limit: domain.MaxVideoBytes}
		}
	case domain.AssetKindLUT:
		if size > domain.MaxLUTBytes {
			return nil, &domain.SizeLimitError{Kind: kind, Limit: domain.MaxLUTBytes}
		}
	}

	ext := strings.ToLower(filepath.Ext(req.Filename))
	var duration float64
	if kind == domain.AssetKindVideo {
		d, err := m.videoDuration(ctx, req, ext)
		if err != nil {
			return nil, err
		}
		duration = d
	}

	key, err := m.blobs.Put(ctx, req.Data, m.retention, storage.PutHint{Scope: "uploads", Owner: req.AccountID, MIME: mime, Ext: ext})
	if err != nil {
		return nil, fmt.Errorf("jobs: store upload: %w", err)
	}
	now := m.clock()
	asset := &domain.Asset{
		ID:              uuid.NewString(),
		AccountID:       req.AccountID,
		Kind:            kind,
		Filename:        filepath.Base(req.Filename),
		MIME:            mime,
		SizeBytes:       size,
		DurationSeconds: duration,
		StorageKey:      key,
		Status:          domain.AssetStatusUploaded,
		CreatedAt:       now,
		ExpiresAt:       now.Add(m.retention),
	}
	if err := m.store.Assets.Create(ctx, asset); err != nil {
		if derr := m.blobs.Delete(ctx, key); derr != nil {
			m.log.Warn().Err(derr).Str("key", key).Msg("jobs: orphaned upload")
		}
		return nil, fmt.Errorf("jobs: record asset: %w", err)
	}
	m.log.Debug().Str("asset_id", asset.ID).Str("account_id", asset.AccountID).Str("kind", string(kind)).
		Int64("size", size).Msg("jobs: asset uploaded")
	return asset, nil
}

func (m *Manager) videoDuration(ctx context.Context, req UploadRequest, ext string) (float64, error) {
	duration := req.DurationSeconds
	if m.prober != nil {
		probed, err := m.prober.Duration(ctx, req.Data, ext)
		if err == nil {
			duration = probed
		} else {
			m.log.Warn().Err(err).Str("filename", req.Filename).Msg("jobs: duration probe failed, using declared value")
		}
	}
	switch {
	case duration <= 0:
		return 0, domain.NewValidationError("duration_seconds", "video duration is required")
	case duration > domain.MaxVideoDurationSec:
		return 0, domain.NewValidationError("duration_seconds", fmt.Sprintf("video is %.1fs, the limit is 30s", duration))
	}
	return duration, nil
}

// InputFile is a job input loaded from the blob store.
type InputFile struct {
	Asset *domain.Asset
	Data  []byte
}

// Inputs loads the bytes of a job's inputs, plus the LUT referenced by its
// color_grade parameters. An input whose object is gone fails permanently;
// storage outages stay retryable.
func (m *Manager) Inputs(ctx context.Context, job *domain.Job) ([]InputFile, []byte, error) {
	files := make([]InputFile, 0, len(job.InputAssetIDs))
	for _, id := range job.InputAssetIDs {
		asset, data, err := m.loadAsset(ctx, id)
		if err != nil {
			return nil, nil, err
		}
		files = append(files, InputFile{Asset: asset, Data: data})
	}
	var lut []byte
	if cg := job.Params.ColorGrade; cg != nil && cg.LUTAssetID != "" {
		_, data, err := m.loadAsset(ctx, cg.LUTAssetID)
		if err != nil {
			return nil, nil, err
		}
		lut = data
	}
	return files, lut, nil
}

func (m *Manager) loadAsset(ctx context.Context, id string) (*domain.Asset, []byte, error) {
	asset, err := m.store.Assets.Get(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil, domain.Permanentf("input asset %s no longer exists", id)
	}
	if err != nil {
		return nil, nil, domain.Transient(fmt.Errorf("load asset %s: %w", id, err))
	}
	data, err := m.blobs.Get(ctx, asset.StorageKey)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil, domain.Permanentf("input asset %s has expired", id)
	}
	if err != nil {
		return nil, nil, err
	}
	return asset, data, nil
}

// SaveResult stores the output of a run and records it as a result asset
// that expires with its job.
func (m *Manager) SaveResult(ctx context.Context, job *domain.Job, data []byte, mime, ext string) (*domain.Asset, error) {
	if ext == "" {
		ext = domain.ExtensionForMIME(mime)
	}
	ttl := job.ExpiresAt.Sub(m.clock())
	if ttl <= 0 {
		ttl = time.Minute
	}
	key, err := m.blobs.Put(ctx, data, ttl, storage.PutHint{Scope: "results", Owner: job.AccountID, MIME: mime, Ext: ext})
	if err != nil {
		return nil, err
	}
	kind := domain.AssetKindImage
	if strings.HasPrefix(mime, "video/") {
		kind = domain.AssetKindVideo
	}
	asset := &domain.Asset{
		ID:         uuid.NewString(),
		AccountID:  job.AccountID,
		Kind:       kind,
		Filename:   resultName(job, ext),
		MIME:       mime,
		SizeBytes:  int64(len(data)),
		StorageKey: key,
		Status:     domain.AssetStatusInUse,
		CreatedAt:  m.clock(),
		ExpiresAt:  job.ExpiresAt,
	}
	if err := m.store.Assets.Create(ctx, asset); err != nil {
		_ = m.blobs.Delete(ctx, key)
		return nil, fmt.Errorf("jobs: record result: %w", err)
	}
	return asset, nil
}

// DiscardResult removes a result that will not be attached to its job.
func (m *Manager) DiscardResult(ctx context.Context, asset *domain.Asset) {
	if asset == nil {
		return
	}
	if err := m.blobs.Delete(ctx, asset.StorageKey); err != nil {
		m.log.Warn().Err(err).Str("asset_id", asset.ID).Msg("jobs: discard result blob")
	}
	if err := m.store.Assets.Delete(ctx, asset.ID); err != nil && !errors.Is(err, domain.ErrNotFound) {
		m.log.Warn().Err(err).Str("asset_id", asset.ID).Msg("jobs: discard result asset")
	}
}

func resultName(job *domain.Job, ext string) string {
	id := job.ID
	if len(id) > 8 {
		id = id[:8]
	}
	return fmt.Sprintf("%s-%s%s", strings.ReplaceAll(string(job.Type), "_", "-"), id, ext)
}

// ResultFile is a downloadable job result.
type ResultFile struct {
	Filename string
	MIME     string
	Data     []byte
	Modified time.Time
}

// Result returns the output of a completed job owned by accountID. It fails
// with ErrNotReady before completion and domain.ErrGone once the result was
// purged.
func (m *Manager) Result(ctx context.Context, accountID, jobID string) (*ResultFile, error) {
	job, err := m.Get(ctx, accountID, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != domain.JobStatusCompleted {
		return nil, ErrNotReady
	}
	now := m.clock()
	if job.Expired(now) || job.ResultAssetID == "" {
		return nil, domain.ErrGone
	}
	asset, err := m.store.Assets.Get(ctx, job.ResultAssetID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.ErrGone
	}
	if err != nil {
		return nil, err
	}
	if asset.Expired(now) {
		return nil, domain.ErrGone
	}
	data, err := m.blobs.Get(ctx, asset.StorageKey)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, domain.ErrGone
	}
	if err != nil {
		return nil, err
	}
	modified := job.UpdatedAt
	if job.CompletedAt != nil {
		modified = *job.CompletedAt
	}
	return &ResultFile{Filename: asset.Filename, MIME: asset.MIME, Data: data, Modified: modified}, nil
}

// Archive bundles the results of the given completed jobs into one zip.
// Jobs that are not completed yet are left out; an archive with nothing in
// it fails with ErrNotReady.
func (m *Manager) Archive(ctx context.Context, accountID string, jobIDs []string) ([]byte, error) {
	if len(jobIDs) == 0 {
		return nil, domain.NewValidationError("ids", "at least one job id is required")
	}
	if len(jobIDs) > maxArchiveJobs {
		return nil, domain.NewValidationError("ids", fmt.Sprintf("at most %d jobs per archive", maxArchiveJobs))
	}
	entries := make([]zip.Entry, 0, len(jobIDs))
	for _, id := range jobIDs {
		res, err := m.Result(ctx, accountID, id)
		switch {
		case errors.Is(err, ErrNotReady), errors.Is(err, domain.ErrGone):
			continue
		case err != nil:
			return nil, err
		}
		entries = append(entries, zip.Entry{Name: res.Filename, Data: res.Data, Modified: res.Modified})
	}
	if len(entries) == 0 {
		return nil, ErrNotReady
	}
	return zip.Archive(entries)
}
