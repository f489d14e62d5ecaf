package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"remix/internal/http/handlers"
	"remix/internal/middleware"
)

// Options tunes router-level behavior.
type Options struct {
	Logger zerolog.Logger
	// RateLimitPerMin caps generation-class requests per client IP per
	// minute. Zero disables the limiter.
	RateLimitPerMin int
}

func NewRouter(app *handlers.App, opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(
		chimw.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(opts.Logger),
	)

	r.Get("/v1/healthz", app.Health)

	r.Route("/v1/effects", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			if opts.RateLimitPerMin > 0 {
				r.Use(middleware.RateLimit(opts.RateLimitPerMin, time.Minute))
			}
			r.Post("/generate", app.EffectsGenerate)
		})
		r.Get("/jobs/{job_id}", app.EffectsJobStatus)
		r.Get("/images", app.EffectsImages)
		r.Post("/prompt", app.EffectsPrompt)
		r.Post("/reset", app.EffectsReset)
	})

	r.Route("/v1/models", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			if opts.RateLimitPerMin > 0 {
				r.Use(middleware.RateLimit(opts.RateLimitPerMin, time.Minute))
			}
			r.Post("/", app.ModelsTrain)
		})
		r.Get("/", app.ModelsList)
		r.Delete("/{id}", app.ModelsDelete)
	})

	r.Post("/v1/composite", app.Composite)

	return r
}
