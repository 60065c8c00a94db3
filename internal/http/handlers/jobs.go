package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"mediaflow/internal/domain"
	"mediaflow/internal/jobs"
	"mediaflow/internal/middleware"
)

type createJobRequest struct {
	Type     domain.JobType  `json:"type" validate:"required"`
	AssetIDs []string        `json:"asset_ids" validate:"required,min=1,dive,required"`
	Params   json.RawMessage `json:"params"`
}

type createJobResponse struct {
	JobID     string           `json:"job_id"`
	Status    domain.JobStatus `json:"status"`
	Priority  domain.Priority  `json:"priority"`
	CreatedAt time.Time        `json:"created_at"`
}

// CreateJob admits a job described by {type, asset_ids, params}.
func (a *App) CreateJob(w http.ResponseWriter, r *http.Request) {
	acc, ok := a.account(w, r)
	if !ok {
		return
	}
	var req createJobRequest
	if !a.decode(w, r, &req) {
		return
	}
	a.create(w, r, acc, req)
}

// Shorthand accepts the per-type form used by older clients: asset_id (or
// asset_ids) next to the parameter fields, e.g.
// {"asset_id": "...", "output_format": "webp"} on /v1/convert.
func (a *App) Shorthand(t domain.JobType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		acc, ok := a.account(w, r)
		if !ok {
			return
		}
		var fields map[string]json.RawMessage
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&fields); err != nil {
			middleware.WriteError(w, r, http.StatusBadRequest, "invalid_request")
			return
		}
		req := createJobRequest{Type: t}
		if raw, ok := fields["asset_id"]; ok {
			var id string
			if err := json.Unmarshal(raw, &id); err != nil {
				a.writeError(w, r, domain.NewValidationError("asset_id", "must be a string"))
				return
			}
			req.AssetIDs = []string{id}
		}
		if raw, ok := fields["asset_ids"]; ok {
			if err := json.Unmarshal(raw, &req.AssetIDs); err != nil {
				a.writeError(w, r, domain.NewValidationError("asset_ids", "must be a list of ids"))
				return
			}
		}
		delete(fields, "asset_id")
		delete(fields, "asset_ids")
		params, err := json.Marshal(fields)
		if err != nil {
			middleware.WriteError(w, r, http.StatusBadRequest, "invalid_request")
			return
		}
		req.Params = params
		if len(req.AssetIDs) == 0 {
			a.writeError(w, r, domain.NewValidationError("asset_id", "is required"))
			return
		}
		a.create(w, r, acc, req)
	}
}

func (a *App) create(w http.ResponseWriter, r *http.Request, acc *domain.Account, req createJobRequest) {
	params, err := domain.DecodeParameters(req.Type, req.Params)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	job, err := a.Jobs.Create(r.Context(), jobs.CreateRequest{
		AccountID:     acc.ID,
		InputAssetIDs: req.AssetIDs,
		Type:          req.Type,
		Params:        params,
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/jobs/"+job.ID)
	a.json(w, http.StatusAccepted, createJobResponse{
		JobID:     job.ID,
		Status:    job.Status,
		Priority:  job.Priority,
		CreatedAt: job.CreatedAt,
	})
}

// view resolves the client view with a download URL in place of the
// storage key.
func (a *App) view(r *http.Request, job *domain.Job) domain.JobView {
	v := a.Jobs.View(r.Context(), job)
	if v.ResultLocation != "" {
		v.ResultLocation = "/v1/jobs/" + job.ID + "/download"
	}
	return v
}

func (a *App) ListJobs(w http.ResponseWriter, r *http.Request) {
	acc, ok := a.account(w, r)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	list, err := a.Jobs.List(r.Context(), acc.ID, limit)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	items := make([]domain.JobView, 0, len(list))
	for _, job := range list {
		items = append(items, a.view(r, job))
	}
	a.json(w, http.StatusOK, map[string]any{"items": items})
}

func (a *App) JobStatus(w http.ResponseWriter, r *http.Request) {
	acc, ok := a.account(w, r)
	if !ok {
		return
	}
	job, err := a.Jobs.Get(r.Context(), acc.ID, chi.URLParam(r, "id"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.json(w, http.StatusOK, a.view(r, job))
}

// CancelJob cancels a pending job at once; a running job answers 202 and
// turns cancelled when its worker observes the signal.
func (a *App) CancelJob(w http.ResponseWriter, r *http.Request) {
	acc, ok := a.account(w, r)
	if !ok {
		return
	}
	job, err := a.Jobs.Cancel(r.Context(), acc.ID, chi.URLParam(r, "id"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	code := http.StatusOK
	if job.Status == domain.JobStatusRunning {
		code = http.StatusAccepted
	}
	a.json(w, code, a.view(r, job))
}

func (a *App) DownloadResult(w http.ResponseWriter, r *http.Request) {
	acc, ok := a.account(w, r)
	if !ok {
		return
	}
	res, err := a.Jobs.Result(r.Context(), acc.ID, chi.URLParam(r, "id"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", res.MIME)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", res.Filename))
	http.ServeContent(w, r, res.Filename, res.Modified, bytes.NewReader(res.Data))
}

// ArchiveResults zips the results of ?ids=a,b,c.
func (a *App) ArchiveResults(w http.ResponseWriter, r *http.Request) {
	acc, ok := a.account(w, r)
	if !ok {
		return
	}
	var ids []string
	for _, id := range strings.Split(r.URL.Query().Get("ids"), ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	data, err := a.Jobs.Archive(r.Context(), acc.ID, ids)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="results.zip"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
