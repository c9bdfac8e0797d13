package middleware

import (
	"context"
	"net/http"
)

var cookiesContextKey = contextKey("cookies")

// NewCookieParserMiddleware は全Cookieを名前と値のマップとしてコンテキストに格納する。
// 同名のCookieが複数ある場合は先頭を採用する。
func NewCookieParserMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookies := make(map[string]string)
			for _, c := range r.Cookies() {
				if _, exists := cookies[c.Name]; !exists {
					cookies[c.Name] = c.Value
				}
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), cookiesContextKey, cookies)))
		})
	}
}

// CookiesFromContext はパース済みのCookieを返す。ミドルウェア未通過の場合はnil。
func CookiesFromContext(ctx context.Context) map[string]string {
	cookies, _ := ctx.Value(cookiesContextKey).(map[string]string)
	return cookies
}

// requestCookie はCookieパーサーが格納したマップから値を取り出す。
// パーサーより前段で呼ばれた場合はリクエストヘッダーから直接読む。
func requestCookie(r *http.Request, name string) string {
	if cookies := CookiesFromContext(r.Context()); cookies != nil {
		return cookies[name]
	}
	if c, err := r.Cookie(name); err == nil {
		return c.Value
	}
	return ""
}
