package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/cuemby/burrow/pkg/metrics"
)

// instrument logs each request and records it in the API metrics, labelled
// by route pattern so keys do not explode cardinality
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		timer := metrics.NewTimer()
		ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		method := r.Method + " " + routePattern(r)
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		timer.ObserveDurationVec(metrics.APIRequestDuration, method)
		metrics.APIRequestsTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()

		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Dur("duration", timer.Duration()).
			Str("request_id", chiMiddleware.GetReqID(r.Context())).
			Msg("Request served")
	})
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}
