package main

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/Sternrassler/pagedlist/pkg/metrics"
	"github.com/Sternrassler/pagedlist/pkg/pagination"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// maxSample bounds the n of the sample endpoint.
const maxSample = 100

// quotaReporter reports the API quota health; *client.Client implements it.
type quotaReporter interface {
	QuotaHealthy(ctx context.Context) (bool, error)
}

type server struct {
	feeds   map[string]presenter
	quota   quotaReporter
	timeout time.Duration
	logger  zerolog.Logger
}

type healthView struct {
	Status string `json:"status"`
	Quota  string `json:"quota"`
}

func newRouter(s *server) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(accessLog(s.logger))
	r.Use(chimw.Recoverer)

	r.Get("/health", s.health)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/feeds/{feed}", func(r chi.Router) {
		r.Get("/", s.getFeed)
		r.Post("/load", s.operate(pagination.OpLoadFirst, presenter.LoadFirstPage))
		r.Post("/next", s.operate(pagination.OpLoadNext, presenter.LoadNextPage))
		r.Post("/refresh", s.operate(pagination.OpRefresh, presenter.Refresh))
		r.Get("/sample", s.sampleFeed)
	})

	return r
}

// health always answers 200 while the process serves; a low API quota is
// reported in the body, not as a failure.
func (s *server) health(w http.ResponseWriter, r *http.Request) {
	v := healthView{Status: "ok", Quota: "healthy"}
	if s.quota != nil {
		healthy, err := s.quota.QuotaHealthy(r.Context())
		switch {
		case err != nil:
			s.logger.Warn().Err(err).Msg("Quota health check failed")
			v.Quota = "unknown"
		case !healthy:
			v.Quota = "low"
		}
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *server) lookup(w http.ResponseWriter, r *http.Request) (string, presenter, bool) {
	name := chi.URLParam(r, "feed")
	p, ok := s.feeds[name]
	if !ok {
		writeError(w, http.StatusNotFound, "unknown feed "+strconv.Quote(name))
		return name, nil, false
	}
	return name, p, true
}

func (s *server) getFeed(w http.ResponseWriter, r *http.Request) {
	name, p, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, p.view(name))
}

// operate runs one collection operation and reports the resulting state.
func (s *server) operate(op string, run func(presenter, context.Context) pagination.Outcome) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name, p, ok := s.lookup(w, r)
		if !ok {
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
		defer cancel()

		outcome := run(p, ctx)
		v := p.view(name)
		v.Outcome = outcome.String()

		s.logger.Debug().
			Str("feed", name).
			Str("op", op).
			Str("outcome", v.Outcome).
			Int("items", v.Count).
			Msg("Feed operation")

		writeJSON(w, statusFor(outcome), v)
	}
}

func (s *server) sampleFeed(w http.ResponseWriter, r *http.Request) {
	name, p, ok := s.lookup(w, r)
	if !ok {
		return
	}

	n := 0
	if raw := r.URL.Query().Get("n"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 || parsed > maxSample {
			writeError(w, http.StatusBadRequest, "n must be between 0 and "+strconv.Itoa(maxSample))
			return
		}
		n = parsed
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"feed":  name,
		"items": p.sample(n),
	})
}

func statusFor(o pagination.Outcome) int {
	switch o {
	case pagination.OutcomeApplied:
		return http.StatusOK
	case pagination.OutcomeFailed:
		return http.StatusBadGateway
	default:
		// rejected or superseded: another operation owns the collection
		return http.StatusConflict
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func accessLog(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			logger.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Str("request_id", chimw.GetReqID(r.Context())).
				Msg("HTTP request")
		})
	}
}
