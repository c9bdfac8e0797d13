// Package session はサーバーサイドセッションの発行・解決・破棄と、
// 署名付きセッションCookieの生成を提供する。
package session

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hitoshi/dashgate/internal/model"
	"github.com/hitoshi/dashgate/internal/repository"
)

// CookieName はセッショントークンを運ぶCookie名。
const CookieName = "session_id"

// Config はセッションマネージャーの設定。
type Config struct {
	Secret       string        // Cookie署名用の秘密鍵
	MaxAge       time.Duration // セッション有効期間
	CookieDomain string        // 空の場合はホスト限定Cookie
}

// Manager はセッションのライフサイクルを管理する。
// 解決のたびにストアを参照するため、破棄は他のリクエストから即座に観測される。
type Manager struct {
	repo   repository.SessionRepository
	secret []byte
	maxAge time.Duration
	domain string
	now    func() time.Time
}

// NewManager はManagerを生成する。
func NewManager(repo repository.SessionRepository, cfg Config) *Manager {
	return &Manager{
		repo:   repo,
		secret: []byte(cfg.Secret),
		maxAge: cfg.MaxAge,
		domain: cfg.CookieDomain,
		now:    time.Now,
	}
}

// MaxAge はセッション有効期間を返す。
func (m *Manager) MaxAge() time.Duration {
	return m.maxAge
}

// Establish はユーザーの新しいセッションを発行し永続化する。
func (m *Manager) Establish(ctx context.Context, userID string) (*model.Session, error) {
	token, err := generateToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session token: %w", err)
	}

	now := m.now()
	session := &model.Session{
		ID:        token,
		UserID:    userID,
		ExpiresAt: now.Add(m.maxAge),
		CreatedAt: now,
	}

	if err := m.repo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	return session, nil
}

// Resolution はResolveで復元できたセッションの状態。
type Resolution struct {
	UserID    string
	ExpiresAt time.Time
	// Extended は今回の解決で期限を延長したかどうか。trueならCookieを再発行する。
	Extended bool
}

// Resolve はトークンに対応するセッションを返す。
// 存在しないまたは期限切れの場合はokがfalseになる。
// 有効期間の半分を過ぎたセッションは期限を延長する。
func (m *Manager) Resolve(ctx context.Context, token string) (Resolution, bool, error) {
	if token == "" {
		return Resolution{}, false, nil
	}

	session, err := m.repo.FindByID(ctx, token)
	if err != nil {
		return Resolution{}, false, fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil {
		return Resolution{}, false, nil
	}

	res := Resolution{UserID: session.UserID, ExpiresAt: session.ExpiresAt}
	now := m.now()
	if session.ExpiresAt.Sub(now) < m.maxAge/2 {
		expiresAt := now.Add(m.maxAge)
		if err := m.repo.Extend(ctx, session.ID, expiresAt); err != nil {
			// 延長に失敗しても現在のセッションは有効
			slog.Warn("failed to extend session",
				slog.String("user_id", session.UserID),
				slog.String("error", err.Error()),
			)
		} else {
			res.ExpiresAt = expiresAt
			res.Extended = true
		}
	}

	return res, true, nil
}

// Destroy はセッションを破棄する。空トークンの場合は何もしない。
func (m *Manager) Destroy(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if err := m.repo.DeleteByID(ctx, token); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// Encode はトークンにHMAC-SHA256署名を付与したCookie値を返す。
func (m *Manager) Encode(token string) string {
	return token + "." + m.sign(token)
}

// Decode はCookie値の署名を検証し、トークンを返す。
// 形式不正または署名不一致の場合はokがfalseになる。
func (m *Manager) Decode(value string) (string, bool) {
	token, sig, found := strings.Cut(value, ".")
	if !found || token == "" || sig == "" {
		return "", false
	}
	if !hmac.Equal([]byte(sig), []byte(m.sign(token))) {
		return "", false
	}
	return token, true
}

// Cookie はセッションを運ぶCookieを生成する。
func (m *Manager) Cookie(session *model.Session) *http.Cookie {
	return &http.Cookie{
		Name:     CookieName,
		Value:    m.Encode(session.ID),
		Path:     "/",
		Domain:   m.domain,
		Expires:  session.ExpiresAt,
		MaxAge:   int(m.maxAge.Seconds()),
		Secure:   true,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
}

// ClearCookie はセッションCookieを削除するためのCookieを生成する。
func (m *Manager) ClearCookie() *http.Cookie {
	return &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		Domain:   m.domain,
		MaxAge:   -1,
		Secure:   true,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
}

func (m *Manager) sign(token string) string {
	mac := hmac.New(sha256.New, m.secret)
	mac.Write([]byte(token))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// generateToken は256bitの暗号論的乱数トークンを生成する。
func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
