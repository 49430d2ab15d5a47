package middleware

import (
	"net/http"

	apperrors "github.com/ricesearch/receval/internal/pkg/errors"
)

// MaxBody limits request bodies to limit bytes. A declared length over the
// limit is rejected up front; a streamed body fails with
// *http.MaxBytesError once the limit is read.
func MaxBody(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limit <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > limit {
				w.Header().Set("Connection", "close")
				apperrors.WriteError(w, apperrors.PayloadTooLargeError(limit))
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, limit)
			next.ServeHTTP(w, r)
		})
	}
}
