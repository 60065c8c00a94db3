package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"mediaflow/internal/domain"
	"mediaflow/internal/http/handlers"
	"mediaflow/internal/middleware"
)

// Options configures the router's middleware stack.
type Options struct {
	Auth               middleware.AuthOptions
	CORSOrigins        []string
	DefaultLocale      string
	Country            middleware.CountryLookup
	RateLimitPerMinute int
	Logger             zerolog.Logger
}

func NewRouter(app *handlers.App, opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		middleware.Logger(opts.Logger),
		chimw.Recoverer,
		middleware.CORS(opts.CORSOrigins),
		middleware.I18N(opts.DefaultLocale, opts.Country),
	)

	// Health
	r.Get("/v1/healthz", app.Health)
	r.Get("/metrics", app.MetricsHandler)
	r.Get("/v1/openapi.json", app.OpenAPIJSON)
	r.Get("/v1/docs", app.OpenAPIDocs)

	limiter := middleware.NewRateLimiter(opts.RateLimitPerMinute)
	r.Group(func(r chi.Router) {
		r.Use(middleware.Authenticate(opts.Auth), limiter.Middleware)

		r.Get("/v1/usage", app.Usage)
		r.Post("/v1/assets", app.UploadAsset)

		r.Route("/v1/jobs", func(r chi.Router) {
			r.Post("/", app.CreateJob)
			r.Get("/", app.ListJobs)
			r.Get("/archive", app.ArchiveResults)
			r.Get("/{id}", app.JobStatus)
			r.Post("/{id}/cancel", app.CancelJob)
			r.Get("/{id}/download", app.DownloadResult)
		})

		r.Post("/v1/convert", app.Shorthand(domain.JobTypeConvert))
		r.Post("/v1/remove-bg", app.Shorthand(domain.JobTypeRemoveBG))
		r.Post("/v1/color-grade", app.Shorthand(domain.JobTypeColorGrade))
		r.Post("/v1/merge", app.Shorthand(domain.JobTypeMerge))
		r.Post("/v1/trim", app.Shorthand(domain.JobTypeTrim))
	})

	return r
}
