package handlers

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"mediaflow/internal/domain"
	"mediaflow/internal/jobs"
	"mediaflow/internal/middleware"
)

// maxUploadBody leaves room for multipart framing around the largest file.
const maxUploadBody = domain.MaxVideoBytes + 1<<20

type assetResponse struct {
	AssetID         string           `json:"asset_id"`
	Kind            domain.AssetKind `json:"kind"`
	Filename        string           `json:"filename"`
	MIME            string           `json:"mime"`
	SizeBytes       int64            `json:"size_bytes"`
	DurationSeconds float64          `json:"duration_seconds,omitempty"`
	ExpiresAt       time.Time        `json:"expires_at"`
}

// UploadAsset accepts one multipart file ("file") and an optional
// duration_seconds field for videos.
func (a *App) UploadAsset(w http.ResponseWriter, r *http.Request) {
	acc, ok := a.account(w, r)
	if !ok {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBody)
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			a.writeError(w, r, &domain.SizeLimitError{Kind: domain.AssetKindVideo, Limit: domain.MaxVideoBytes})
			return
		}
		middleware.WriteError(w, r, http.StatusBadRequest, "invalid_request")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("file")
	if err != nil {
		a.writeError(w, r, domain.NewValidationError("file", "a file is required"))
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		middleware.WriteError(w, r, http.StatusBadRequest, "invalid_request")
		return
	}

	var duration float64
	if raw := strings.TrimSpace(r.FormValue("duration_seconds")); raw != "" {
		duration, err = strconv.ParseFloat(raw, 64)
		if err != nil {
			a.writeError(w, r, domain.NewValidationError("duration_seconds", "must be a number"))
			return
		}
	}

	asset, err := a.Jobs.Upload(r.Context(), jobs.UploadRequest{
		AccountID:       acc.ID,
		Filename:        header.Filename,
		Data:            data,
		DurationSeconds: duration,
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.json(w, http.StatusCreated, assetResponse{
		AssetID:         asset.ID,
		Kind:            asset.Kind,
		Filename:        asset.Filename,
		MIME:            asset.MIME,
		SizeBytes:       asset.SizeBytes,
		DurationSeconds: asset.DurationSeconds,
		ExpiresAt:       asset.ExpiresAt,
	})
}
