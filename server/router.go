package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	tee "github.com/ericselin/tableserve/pkg/response-writer-tee"
	"github.com/ericselin/tableserve/telemetry"
)

// NewRouter mounts handler for GET and HEAD on every path.
// Other methods are answered with 405 by the router.
// A nil limiter disables rate limiting.
func NewRouter(handler http.Handler, limiter *rate.Limiter, tel *telemetry.Telemetry, logger zerolog.Logger) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(accessLog(logger))
	if limiter != nil {
		r.Use(rateLimit(limiter, tel))
	}
	r.Method(http.MethodGet, "/*", handler)
	r.Method(http.MethodHead, "/*", handler)
	return r
}

func accessLog(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := tee.NewRecorder(w)
			defer func() {
				logger.Info().
					Str("reqId", middleware.GetReqID(r.Context())).
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Int("status", rec.StatusCode()).
					Int64("bytes", rec.BytesWritten()).
					Dur("took", time.Since(rec.CreatedAt)).
					Msg("Request")
			}()
			next.ServeHTTP(rec, r)
		})
	}
}

func rateLimit(limiter *rate.Limiter, tel *telemetry.Telemetry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				tel.RecordResponse(r.Context(), http.StatusTooManyRequests, "limited")
				http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
