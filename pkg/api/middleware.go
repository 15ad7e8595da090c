package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/minicloud/minicloud/pkg/metrics"
	"github.com/minicloud/minicloud/pkg/types"
)

type contextKey int

const principalKey contextKey = iota

// principal returns the authenticated identity attached by the auth
// middleware
func principal(r *http.Request) *types.Principal {
	p, _ := r.Context().Value(principalKey).(*types.Principal)
	return p
}

// authenticate resolves the bearer token and attaches the principal to
// the request context. Websocket clients may pass the token as a query
// parameter since browsers cannot set headers on the upgrade request.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		p, err := s.mgr.Authenticate(token)
		if err != nil {
			writeError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), principalKey, p)))
	})
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

// statusRecorder captures the response code for access logging and
// request metrics
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Websocket handshakes hijack the connection; wrapping the
		// writer would break the upgrade.
		if strings.Contains(r.URL.Path, "/ws/") {
			next.ServeHTTP(w, r)
			return
		}

		timer := metrics.NewTimer()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		timer.ObserveAPIRequest(r.Method, strconv.Itoa(rec.status))
		s.logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", timer.Duration()).
			Str("remote", r.RemoteAddr).
			Msg("request")
	})
}
