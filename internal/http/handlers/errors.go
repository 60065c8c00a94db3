package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"mediaflow/internal/domain"
	"mediaflow/internal/i18n"
	"mediaflow/internal/jobs"
	"mediaflow/internal/middleware"
)

// writeError maps domain errors to HTTP responses. Every handler reports
// failures through it.
func (a *App) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		ve *domain.ValidationError
		se *domain.SizeLimitError
		qe *domain.QuotaExceededError
	)
	switch {
	case errors.As(err, &ve):
		field := ve.Field
		if field == "" {
			field = "request"
		}
		middleware.WriteError(w, r, http.StatusBadRequest, "validation_failed", field, ve.Reason)
	case errors.As(err, &se):
		middleware.WriteError(w, r, http.StatusRequestEntityTooLarge, "payload_too_large", humanBytes(se.Limit))
	case errors.As(err, &qe):
		key, code := "quota_concurrency", http.StatusTooManyRequests
		if qe.Reason == domain.ReasonDailyQuota {
			key = "quota_daily"
		}
		middleware.WriteErrorDetail(w, r, code, middleware.ErrorDetail{
			Code:    "quota_exceeded",
			Reason:  string(qe.Reason),
			Message: i18n.Message(middleware.LocaleFromContext(r.Context()), key, qe.Limit),
		})
	case errors.Is(err, domain.ErrUnauthorized):
		middleware.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, domain.ErrForbidden):
		middleware.WriteError(w, r, http.StatusForbidden, "forbidden")
	case errors.Is(err, domain.ErrNotFound):
		middleware.WriteError(w, r, http.StatusNotFound, "not_found")
	case errors.Is(err, domain.ErrGone):
		middleware.WriteError(w, r, http.StatusGone, "result_expired")
	case errors.Is(err, jobs.ErrNotReady):
		middleware.WriteError(w, r, http.StatusConflict, "job_not_ready")
	case errors.Is(err, domain.ErrIllegalTransition):
		middleware.WriteError(w, r, http.StatusConflict, "illegal_transition")
	case errors.Is(err, domain.ErrStorageUnavailable):
		w.Header().Set("Retry-After", "5")
		middleware.WriteError(w, r, http.StatusServiceUnavailable, "storage_unavailable")
	default:
		a.Logger.Error().Err(err).Str("path", r.URL.Path).Msg("http: unhandled error")
		middleware.WriteError(w, r, http.StatusInternalServerError, "internal_error")
	}
}

func humanBytes(n int64) string {
	if n >= 1<<20 && n%(1<<20) == 0 {
		return fmt.Sprintf("%dMB", n>>20)
	}
	if n >= 1<<10 && n%(1<<10) == 0 {
		return fmt.Sprintf("%dKB", n>>10)
	}
	return fmt.Sprintf("%dB", n)
}
