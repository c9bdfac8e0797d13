package middleware

import (
	"net/http"

	"github.com/hitoshi/dashgate/internal/security"
)

// NewSanitizeMiddleware はボディとクエリからオペレーターキーを除去し、
// 文字列値のマークアップを取り除くミドルウェアを返す。
// パスパラメーターは対象外。
func NewSanitizeMiddleware(sanitizer *security.InputSanitizer) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if body := BodyFromContext(ctx); body != nil {
				ctx = ContextWithBody(ctx, sanitizer.SanitizeBody(body))
			}
			r = r.WithContext(ctx)

			if r.URL.RawQuery != "" {
				u := *r.URL
				u.RawQuery = sanitizer.SanitizeQuery(r.URL.Query()).Encode()
				r.URL = &u
			}

			next.ServeHTTP(w, r)
		})
	}
}
