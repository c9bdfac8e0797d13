package middleware

import (
	"context"
	"net/http"
	"time"
)

var requestTimeContextKey = contextKey("request_time")

// NewRequestTimeMiddleware はリクエスト受付時刻をRFC3339文字列でコンテキストに格納する。
func NewRequestTimeMiddleware(now func() time.Time) func(next http.Handler) http.Handler {
	if now == nil {
		now = time.Now
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			stamp := now().UTC().Format(time.RFC3339)
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestTimeContextKey, stamp)))
		})
	}
}

// RequestTimeFromContext はリクエスト受付時刻を返す。
func RequestTimeFromContext(ctx context.Context) string {
	stamp, _ := ctx.Value(requestTimeContextKey).(string)
	return stamp
}
