package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/DoyleJ11/skygames-rooms/internal/auth"
	"github.com/DoyleJ11/skygames-rooms/pkg/types"
)

// RequireUser enforces JWT auth and adds the user ID to the request context.
func RequireUser(j *auth.JWT) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tok, err := auth.TokenFromRequest(r)
			if err != nil {
				writeJSON(w, http.StatusUnauthorized, types.ErrorBody{Error: "not_authenticated", Message: "no token"})
				return
			}
			uid, err := j.Verify(tok)
			if err != nil {
				writeJSON(w, http.StatusUnauthorized, types.ErrorBody{Error: "not_authenticated", Message: "bad token"})
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.WithUser(r.Context(), uid)))
		})
	}
}

// AccessLog writes one line per request.
func AccessLog(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Info("http",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("took", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}
