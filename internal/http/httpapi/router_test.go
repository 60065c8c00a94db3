package httpapi

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"mediaflow/internal/adapter/memrepo"
	"mediaflow/internal/domain"
	"mediaflow/internal/http/handlers"
	"mediaflow/internal/jobs"
	"mediaflow/internal/metrics"
	"mediaflow/internal/middleware"
	"mediaflow/internal/quota"
	"mediaflow/internal/scheduler"
	"mediaflow/internal/storage"
)

const secret = "test-secret"

type server struct {
	h     http.Handler
	m     *jobs.Manager
	queue *scheduler.Queue
}

func newServer(t *testing.T) *server {
	t.Helper()
	store := memrepo.New()
	queue := scheduler.New()
	collector := metrics.New(queue.Len)
	m := jobs.NewManager(jobs.Options{
		Store:    store,
		Ledger:   quota.NewLedger(quota.WithUsageCounter(store.Jobs)),
		Queue:    queue,
		Blobs:    storage.NewMemoryStore(),
		Logger:   zerolog.Nop(),
		Observer: collector,
	})
	app := handlers.NewApp(m, zerolog.Nop(), collector.Handler())
	h := NewRouter(app, Options{
		Auth:   middleware.AuthOptions{Secret: secret, AllowDevHeader: true},
		Logger: zerolog.Nop(),
	})
	return &server{h: h, m: m, queue: queue}
}

func (s *server) do(t *testing.T, req *http.Request, account string) *httptest.ResponseRecorder {
	t.Helper()
	if account != "" {
		req.Header.Set("X-Account-ID", account)
		if strings.HasPrefix(account, "pro") {
			req.Header.Set("X-Account-Plan", "pro")
		}
	}
	rec := httptest.NewRecorder()
	s.h.ServeHTTP(rec, req)
	return rec
}

func (s *server) postJSON(t *testing.T, path, account string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	return s.do(t, req, account)
}

func (s *server) upload(t *testing.T, account, filename string, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, "/v1/assets", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return s.do(t, req, account)
}

func (s *server) asset(t *testing.T, account string) string {
	t.Helper()
	rec := s.upload(t, account, "photo.png", []byte("png"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var out struct {
		AssetID string `json:"asset_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out.AssetID
}

func (s *server) submit(t *testing.T, account string) *httptest.ResponseRecorder {
	t.Helper()
	return s.postJSON(t, "/v1/jobs", account, map[string]any{
		"type":      "convert",
		"asset_ids": []string{s.asset(t, account)},
		"params":    map[string]any{"output_format": "png"},
	})
}

// finish runs the next queued job to completion without a worker pool.
func (s *server) finish(t *testing.T, data string) string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	item, err := s.queue.Pop(ctx)
	require.NoError(t, err)
	run, err := s.m.Start(context.Background(), item.JobID, 0)
	require.NoError(t, err)
	defer run.Release()
	res, err := s.m.SaveResult(context.Background(), run.Job, []byte(data), "image/png", ".png")
	require.NoError(t, err)
	_, err = run.Complete(context.Background(), res.ID, 1)
	require.NoError(t, err)
	return item.JobID
}

type errorBody struct {
	Error middleware.ErrorDetail `json:"error"`
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) middleware.ErrorDetail {
	t.Helper()
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body.Error
}

func TestHealthAndAuth(t *testing.T) {
	s := newServer(t)
	rec := s.do(t, httptest.NewRequest(http.MethodGet, "/v1/healthz", nil), "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, httptest.NewRequest(http.MethodGet, "/v1/openapi.json", nil), "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, json.Valid(rec.Body.Bytes()))

	rec = s.do(t, httptest.NewRequest(http.MethodGet, "/v1/jobs", nil), "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "unauthorized", decodeError(t, rec).Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/jobs", nil)
	req.Header.Set("Accept-Language", "id-ID")
	rec = s.do(t, req, "")
	require.Equal(t, "Autentikasi diperlukan.", decodeError(t, rec).Message)

	token, err := middleware.SignJWT(secret, middleware.TokenClaims{Sub: "pro-token", Plan: "pro", Exp: time.Now().Add(time.Hour).Unix()})
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/v1/usage", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = s.do(t, req, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var usage map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &usage))
	require.Equal(t, "pro", usage["plan"])
	require.Nil(t, usage["daily_quota"])
}

func TestOpenAPIDocumentsEveryRoute(t *testing.T) {
	s := newServer(t)
	rec := s.do(t, httptest.NewRequest(http.MethodGet, "/v1/openapi.json", nil), "")
	require.Equal(t, http.StatusOK, rec.Code)
	var doc struct {
		Paths map[string]map[string]json.RawMessage `json:"paths"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))

	undocumented := map[string]bool{"/metrics": true, "/v1/openapi.json": true, "/v1/docs": true}
	routes, ok := s.h.(chi.Routes)
	require.True(t, ok)
	err := chi.Walk(routes, func(method, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		if len(route) > 1 {
			route = strings.TrimSuffix(route, "/")
		}
		if undocumented[route] {
			return nil
		}
		ops, ok := doc.Paths[route]
		require.True(t, ok, "path %s missing from openapi.json", route)
		_, ok = ops[strings.ToLower(method)]
		require.True(t, ok, "%s %s missing from openapi.json", method, route)
		return nil
	})
	require.NoError(t, err)
}

func TestUploadValidation(t *testing.T) {
	s := newServer(t)
	rec := s.upload(t, "u1", "notes.txt", []byte("hello"))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "validation_failed", decodeError(t, rec).Code)

	rec = s.upload(t, "u1", "big.png", bytes.Repeat([]byte{1}, int(domain.MaxImageBytes)+1))
	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	require.Contains(t, decodeError(t, rec).Message, "5MB")

	rec = s.upload(t, "u1", "clip.mp4", []byte("mp4"))
	require.Equal(t, http.StatusBadRequest, rec.Code, "video without a duration")
}

func TestJobLifecycleOverHTTP(t *testing.T) {
	s := newServer(t)

	rec := s.submit(t, "free-1")
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var created struct {
		JobID  string `json:"job_id"`
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.Equal(t, "pending", created.Status)
	require.Equal(t, "/v1/jobs/"+created.JobID, rec.Header().Get("Location"))

	rec = s.submit(t, "free-1")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	detail := decodeError(t, rec)
	require.Equal(t, "quota_exceeded", detail.Code)
	require.Equal(t, string(domain.ReasonConcurrency), detail.Reason)

	rec = s.do(t, httptest.NewRequest(http.MethodGet, "/v1/jobs/"+created.JobID+"/download", nil), "free-1")
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "job_not_ready", decodeError(t, rec).Code)

	rec = s.do(t, httptest.NewRequest(http.MethodGet, "/v1/jobs/"+created.JobID, nil), "someone-else")
	require.Equal(t, http.StatusForbidden, rec.Code)

	require.Equal(t, created.JobID, s.finish(t, "converted"))

	rec = s.do(t, httptest.NewRequest(http.MethodGet, "/v1/jobs/"+created.JobID, nil), "free-1")
	require.Equal(t, http.StatusOK, rec.Code)
	var view domain.JobView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	require.Equal(t, domain.JobStatusCompleted, view.Status)
	require.Equal(t, 100, view.Progress)
	require.Equal(t, "/v1/jobs/"+created.JobID+"/download", view.ResultLocation)

	rec = s.do(t, httptest.NewRequest(http.MethodGet, view.ResultLocation, nil), "free-1")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "converted", rec.Body.String())
	require.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	require.Contains(t, rec.Header().Get("Content-Disposition"), "attachment")

	rec = s.do(t, httptest.NewRequest(http.MethodGet, "/v1/jobs/archive?ids="+created.JobID, nil), "free-1")
	require.Equal(t, http.StatusOK, rec.Code)
	zr, err := zip.NewReader(bytes.NewReader(rec.Body.Bytes()), int64(rec.Body.Len()))
	require.NoError(t, err)
	require.Len(t, zr.File, 1)
	f, err := zr.File[0].Open()
	require.NoError(t, err)
	content, err := io.ReadAll(f)
	require.NoError(t, err)
	require.Equal(t, "converted", string(content))

	rec = s.postJSON(t, "/v1/jobs/"+created.JobID+"/cancel", "free-1", nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "illegal_transition", decodeError(t, rec).Code)

	rec = s.do(t, httptest.NewRequest(http.MethodGet, "/v1/usage", nil), "free-1")
	var usage map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &usage))
	require.EqualValues(t, 1, usage["completed_today"])
	require.EqualValues(t, 2, usage["remaining_today"])

	rec = s.do(t, httptest.NewRequest(http.MethodGet, "/v1/jobs", nil), "free-1")
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Items []domain.JobView `json:"items"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Items, 1)

	rec = s.do(t, httptest.NewRequest(http.MethodGet, "/metrics", nil), "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `mediaflow_jobs_denied_total{reason="CONCURRENCY_LIMIT"} 1`)
}

func TestCancelPendingAndShorthand(t *testing.T) {
	s := newServer(t)
	rec := s.postJSON(t, "/v1/convert", "pro-1", map[string]any{
		"asset_id":      s.asset(t, "pro-1"),
		"output_format": "jpg",
		"quality":       80,
	})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var created struct {
		JobID    string `json:"job_id"`
		Priority int    `json:"priority"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.Equal(t, int(domain.PriorityPro), created.Priority)

	rec = s.postJSON(t, "/v1/jobs/"+created.JobID+"/cancel", "pro-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var view domain.JobView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	require.Equal(t, domain.JobStatusCancelled, view.Status)
	require.Zero(t, s.queue.Len())

	rec = s.postJSON(t, "/v1/convert", "pro-1", map[string]any{
		"asset_id":      s.asset(t, "pro-1"),
		"output_format": "bmp",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "validation_failed", decodeError(t, rec).Code)

	rec = s.postJSON(t, "/v1/jobs", "pro-1", map[string]any{"type": "convert"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, decodeError(t, rec).Message, "asset_ids")

	rec = s.do(t, httptest.NewRequest(http.MethodGet, "/v1/jobs/unknown", nil), "pro-1")
	require.Equal(t, http.StatusNotFound, rec.Code)
}
