package handler

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"log/slog"
	"net/http"

	"github.com/hitoshi/dashgate/internal/middleware"
	"github.com/hitoshi/dashgate/internal/model"
)

const oauthStateCookie = "oauth_state"

// AuthService は認証ハンドラーが必要とするサービスインターフェース。
type AuthService interface {
	GetLoginURL(state string) string
	HandleCallback(ctx context.Context, code string) (*model.Session, error)
	Logout(ctx context.Context, token string) error
}

// SessionCookies はセッションCookieの生成を行う。session.Managerが満たす。
type SessionCookies interface {
	Cookie(session *model.Session) *http.Cookie
	ClearCookie() *http.Cookie
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	CookieSecure bool
}

// AuthHandler はOAuth認証関連のHTTPハンドラー。
type AuthHandler struct {
	service   AuthService
	cookies   SessionCookies
	responder *middleware.Responder
	config    AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthService, cookies SessionCookies, responder *middleware.Responder, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		service:   service,
		cookies:   cookies,
		responder: responder,
		config:    config,
	}
}

// Login はGoogle OAuthフローを開始する。
// GET /auth/google
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	state, err := generateState()
	if err != nil {
		h.responder.Respond(w, r, model.NewInternalError(err))
		return
	}

	// stateをCookieに保存（CSRF対策）
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/auth/google",
		MaxAge:   600, // 10分
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, h.service.GetLoginURL(state), http.StatusFound)
}

// Callback はOAuthコールバックを処理し、セッションを確立してダッシュボードへリダイレクトする。
// GET /auth/google/callback?code=xxx&state=yyy
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	// 1. stateの検証（CSRF対策）
	state := query.Get("state")
	stateCookie, err := r.Cookie(oauthStateCookie)
	if err != nil || state == "" || subtle.ConstantTimeCompare([]byte(stateCookie.Value), []byte(state)) != 1 {
		slog.Warn("oauth state mismatch", slog.String("query_state", state))
		h.responder.Respond(w, r, model.NewInvalidOAuthCallbackError("state mismatch"))
		return
	}

	// stateクッキーを削除
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    "",
		Path:     "/auth/google",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	// 2. IdP側で拒否された場合
	if reason := query.Get("error"); reason != "" {
		h.responder.Respond(w, r, model.NewInvalidOAuthCallbackError("access was denied"))
		return
	}

	// 3. 認可コードの取得
	code := query.Get("code")
	if code == "" {
		h.responder.Respond(w, r, model.NewInvalidOAuthCallbackError("missing authorization code"))
		return
	}

	// 4. 認証処理
	session, err := h.service.HandleCallback(r.Context(), code)
	if err != nil {
		h.responder.Respond(w, r, err)
		return
	}

	// 5. セッションCookieを設定してダッシュボードへ
	http.SetCookie(w, h.cookies.Cookie(session))
	http.Redirect(w, r, "/dashboard", http.StatusFound)
}

// Logout はセッションを破棄してランディングページへリダイレクトする。
// POST|DELETE|GET /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if token := middleware.SessionTokenFromContext(r.Context()); token != "" {
		if err := h.service.Logout(r.Context(), token); err != nil {
			// ログアウト失敗してもCookieはクリアする
			slog.Error("failed to logout", slog.String("error", err.Error()))
		}
	}

	http.SetCookie(w, h.cookies.ClearCookie())
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// generateState はCSRF対策用のランダムなstate値を生成する。
func generateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
