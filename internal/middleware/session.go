// Package middleware はリクエストパイプラインを構成するHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/hitoshi/dashgate/internal/model"
	"github.com/hitoshi/dashgate/internal/session"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	// userIDContextKey はリクエストコンテキストにユーザーIDを格納するためのキー。
	userIDContextKey = contextKey("user_id")
	// sessionTokenContextKey は復元できたセッショントークンを格納するキー。
	sessionTokenContextKey = contextKey("session_token")
)

// SessionResolver はCookie値からユーザーIDを復元するインターフェース。
// session.Managerが満たす。
type SessionResolver interface {
	Decode(cookieValue string) (string, bool)
	Resolve(ctx context.Context, token string) (session.Resolution, bool, error)
	Cookie(s *model.Session) *http.Cookie
}

// NewSessionMiddleware はsession_id Cookieからセッションを復元し、
// ユーザーIDとトークンをリクエストコンテキストに注入するミドルウェアを返す。
// Cookieの欠落、署名不正、期限切れ、ストア障害はいずれも匿名として後続へ進める。
// 解決時に期限が延長された場合は新しい期限でCookieを再発行する。
func NewSessionMiddleware(resolver SessionResolver) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(session.CookieName)
			if err != nil || cookie.Value == "" {
				next.ServeHTTP(w, r)
				return
			}

			token, ok := resolver.Decode(cookie.Value)
			if !ok {
				slog.Debug("session cookie signature mismatch", slog.String("path", r.URL.Path))
				next.ServeHTTP(w, r)
				return
			}

			res, ok, err := resolver.Resolve(r.Context(), token)
			if err != nil {
				slog.Warn("failed to resolve session, continuing anonymously",
					slog.String("error", err.Error()),
				)
				next.ServeHTTP(w, r)
				return
			}
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			if res.Extended {
				http.SetCookie(w, resolver.Cookie(&model.Session{ID: token, UserID: res.UserID, ExpiresAt: res.ExpiresAt}))
			}

			ctx := ContextWithUserID(r.Context(), res.UserID)
			ctx = ContextWithSessionToken(ctx, token)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
// セッションミドルウェアで認証済みと判定されたリクエストでのみ有効。
func UserIDFromContext(ctx context.Context) (string, error) {
	userID, ok := ctx.Value(userIDContextKey).(string)
	if !ok || userID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return userID, nil
}

// ContextWithUserID はコンテキストにユーザーIDを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDContextKey, userID)
}

// SessionTokenFromContext は復元済みのセッショントークンを返す。
func SessionTokenFromContext(ctx context.Context) string {
	token, _ := ctx.Value(sessionTokenContextKey).(string)
	return token
}

// ContextWithSessionToken はコンテキストにセッショントークンを注入する。
func ContextWithSessionToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, sessionTokenContextKey, token)
}
