package middleware

import (
	"net/http"

	apperrors "github.com/openclaw/subbot-linker/internal/errors"
	"github.com/openclaw/subbot-linker/internal/httputil"
)

// MaxSessionBodySize bounds create requests, which carry a handful of short
// fields.
const MaxSessionBodySize = 16 << 10

// LimitBody rejects declared oversize bodies up front and caps the rest with
// http.MaxBytesReader. maxSize <= 0 selects MaxSessionBodySize.
func LimitBody(maxSize int64) func(http.Handler) http.Handler {
	if maxSize <= 0 {
		maxSize = MaxSessionBodySize
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxSize {
				httputil.WriteErrorWithStatus(w, http.StatusRequestEntityTooLarge,
					apperrors.InvalidInput("body", "request body too large"))
				return
			}
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, maxSize)
			}
			next.ServeHTTP(w, r)
		})
	}
}
