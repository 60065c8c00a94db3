package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"mediaflow/internal/domain"
	"mediaflow/internal/jobs"
	"mediaflow/internal/middleware"
)

type App struct {
	Jobs    *jobs.Manager
	Logger  zerolog.Logger
	Metrics http.Handler

	validate *validator.Validate
}

func NewApp(m *jobs.Manager, logger zerolog.Logger, metrics http.Handler) *App {
	v := validator.New()
	v.RegisterTagNameFunc(jsonFieldName)
	return &App{
		Jobs:     m,
		Logger:   logger.With().Str("component", "http").Logger(),
		Metrics:  metrics,
		validate: v,
	}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// account resolves the caller and provisions it on first sight. It writes
// the error response itself and reports whether the handler may continue.
func (a *App) account(w http.ResponseWriter, r *http.Request) (*domain.Account, bool) {
	p, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		middleware.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return nil, false
	}
	acc, err := a.Jobs.EnsureAccount(r.Context(), p.AccountID, p.Plan)
	if err != nil {
		a.writeError(w, r, err)
		return nil, false
	}
	return acc, true
}

func (a *App) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(dst); err != nil {
		middleware.WriteError(w, r, http.StatusBadRequest, "invalid_request")
		return false
	}
	if err := a.validate.Struct(dst); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			a.writeError(w, r, domain.NewValidationError(fe.Field(), "failed "+fe.Tag()))
			return false
		}
		a.writeError(w, r, domain.NewValidationError("", err.Error()))
		return false
	}
	return true
}

// jsonFieldName reports validation errors under the JSON field name.
func jsonFieldName(f reflect.StructField) string {
	name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
	if name == "" || name == "-" {
		return f.Name
	}
	return name
}
