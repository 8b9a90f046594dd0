package web

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"

	"github.com/justestif/go-spotify-vibe-match/internal/logging"
)

type sessionKey struct{}

// requestLogger tags the request context with a correlation id (the chi
// request id when present) and logs one line per request.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := middleware.GetReqID(r.Context())
		if id == "" {
			id = logging.NewCorrelationID()
		}
		ctx := logging.ContextWithCorrelationID(r.Context(), id)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r.WithContext(ctx))

		logging.Ctx(ctx).Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

// requireSession rejects requests without a valid session cookie and stores
// the session in the request context.
func (h *Handlers) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session := h.sessions.GetFromRequest(r)
		if session == nil {
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "not logged in"})
			return
		}
		ctx := context.WithValue(r.Context(), sessionKey{}, session)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func sessionFrom(ctx context.Context) *Session {
	s, _ := ctx.Value(sessionKey{}).(*Session)
	return s
}

// sessionUserKey keys rate limits by the logged-in user.
func sessionUserKey(r *http.Request) (string, error) {
	if session := sessionFrom(r.Context()); session != nil {
		return session.UserID, nil
	}
	return httprate.KeyByIP(r)
}
