package middleware

import (
	"net/http"

	"go.uber.org/zap"
)

// Recover returns middleware that turns a handler panic into the given
// fallback response instead of letting it reach the server goroutine.
func Recover(logger *zap.Logger, fallback http.HandlerFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				// http.ErrAbortHandler is the sanctioned way to abort a response
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				LoggerFromRequest(r, logger).Error("handler panic",
					zap.Any("panic", rec),
					zap.String("path", r.URL.Path),
				)
				fallback(w, r)
			}()
			next.ServeHTTP(w, r)
		})
	}
}
