package middleware

import (
	"net/http"
	"strings"
)

// methodOverrideField はHTMLフォームから動詞を上書きするボディフィールド名。
const methodOverrideField = "_method"

// NewMethodOverrideMiddleware はPOSTボディの_methodフィールドでHTTPメソッドを上書きするミドルウェアを返す。
// 上書き可能なのはPUT・PATCH・DELETEのみ。_methodはメソッドを問わずボディから取り除く。
func NewMethodOverrideMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body := BodyFromContext(r.Context())
			raw, ok := body[methodOverrideField]
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			stripped := make(map[string]any, len(body)-1)
			for k, v := range body {
				if k != methodOverrideField {
					stripped[k] = v
				}
			}
			r = r.WithContext(ContextWithBody(r.Context(), stripped))

			if r.Method == http.MethodPost {
				if method, ok := raw.(string); ok {
					switch m := strings.ToUpper(strings.TrimSpace(method)); m {
					case http.MethodPut, http.MethodPatch, http.MethodDelete:
						r.Method = m
					}
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}
