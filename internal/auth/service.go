// Package auth はGoogle OAuthによるログインと、外部IDからユーザーへの解決を提供する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hitoshi/dashgate/internal/model"
	"github.com/hitoshi/dashgate/internal/repository"
)

// ログイン結果のラベル
const (
	LoginSuccess    = "success"
	LoginIncomplete = "incomplete"
	LoginFailure    = "failure"
)

// Claims はOAuthプロバイダーが検証済みの外部IDを表す。
type Claims struct {
	Subject    string
	Email      string
	Name       string
	GivenName  string
	FamilyName string
	Picture    string
}

// OAuthProvider はOAuth認証プロバイダーのインターフェース。
type OAuthProvider interface {
	// GetLoginURL はOAuth認証URLを生成する。
	GetLoginURL(state string) string
	// ExchangeCode は認可コードをトークンに交換し、検証済みのクレームを取得する。
	ExchangeCode(ctx context.Context, code string) (*Claims, error)
}

// UserStore はユーザーの検索と作成のインターフェース。
// user.Serviceが満たす。
type UserStore interface {
	FindByGoogleID(ctx context.Context, googleID string) (*model.User, error)
	Create(ctx context.Context, u *model.User) (*model.User, error)
}

// SessionIssuer はセッションの発行と破棄のインターフェース。
// session.Managerが満たす。
type SessionIssuer interface {
	Establish(ctx context.Context, userID string) (*model.Session, error)
	Destroy(ctx context.Context, token string) error
}

// LoginRecorder はログイン結果を記録するインターフェース。
type LoginRecorder interface {
	RecordLogin(outcome string)
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	oauth    OAuthProvider
	users    UserStore
	sessions SessionIssuer
	recorder LoginRecorder
}

// NewService はServiceを生成する。recorderはnilでもよい。
func NewService(oauth OAuthProvider, users UserStore, sessions SessionIssuer, recorder LoginRecorder) *Service {
	return &Service{
		oauth:    oauth,
		users:    users,
		sessions: sessions,
		recorder: recorder,
	}
}

// GetLoginURL はOAuth認証URLを生成する。
func (s *Service) GetLoginURL(state string) string {
	return s.oauth.GetLoginURL(state)
}

// HandleCallback はOAuthコールバックを処理し、セッションを発行する。
// 未登録のIDの場合はユーザーを作成する。
func (s *Service) HandleCallback(ctx context.Context, code string) (*model.Session, error) {
	claims, err := s.oauth.ExchangeCode(ctx, code)
	if err != nil {
		s.record(LoginFailure)
		return nil, fmt.Errorf("failed to exchange oauth code: %w", err)
	}

	user, err := s.ResolveUser(ctx, claims)
	if err != nil {
		if model.IsCode(err, model.ErrCodeIdentityIncomplete) {
			s.record(LoginIncomplete)
		} else {
			s.record(LoginFailure)
		}
		return nil, err
	}

	session, err := s.sessions.Establish(ctx, user.ID)
	if err != nil {
		s.record(LoginFailure)
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	s.record(LoginSuccess)
	slog.Info("user logged in", slog.String("user_id", user.ID))
	return session, nil
}

// ResolveUser は検証済みの外部IDに対応するユーザーを返す。
// 未登録の場合はクレームから必須項目を導出して作成する。
// 同一IDで何度呼んでも同じユーザーを返し、重複レコードは作られない。
func (s *Service) ResolveUser(ctx context.Context, claims *Claims) (*model.User, error) {
	if claims == nil || strings.TrimSpace(claims.Subject) == "" {
		return nil, model.NewIdentityIncompleteError("an account identifier")
	}

	existing, err := s.users.FindByGoogleID(ctx, claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by google id: %w", err)
	}
	if existing != nil {
		return existing, nil
	}

	candidate, err := userFromClaims(claims)
	if err != nil {
		slog.Warn("identity is missing required fields",
			slog.String("google_id", claims.Subject),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	created, err := s.users.Create(ctx, candidate)
	if err == nil {
		return created, nil
	}
	if !errors.Is(err, repository.ErrDuplicateGoogleID) {
		return nil, err
	}

	// 同一IDの初回ログインが並行した場合は先に作成されたユーザーを返す
	winner, findErr := s.users.FindByGoogleID(ctx, claims.Subject)
	if findErr != nil {
		return nil, fmt.Errorf("failed to re-read user after conflict: %w", findErr)
	}
	if winner == nil {
		return nil, fmt.Errorf("user vanished after google id conflict: %w", err)
	}
	return winner, nil
}

// Logout はセッションを破棄する。
func (s *Service) Logout(ctx context.Context, token string) error {
	if err := s.sessions.Destroy(ctx, token); err != nil {
		return fmt.Errorf("failed to destroy session: %w", err)
	}
	return nil
}

func (s *Service) record(outcome string) {
	if s.recorder != nil {
		s.recorder.RecordLogin(outcome)
	}
}

// userFromClaims はクレームから新規ユーザーの項目を導出する。
// 姓名が得られない場合はIdentityIncompleteを返す。
func userFromClaims(c *Claims) (*model.User, error) {
	first := strings.TrimSpace(c.GivenName)
	last := strings.TrimSpace(c.FamilyName)

	words := strings.Fields(c.Name)
	if first == "" && len(words) > 0 {
		first = words[0]
	}
	if last == "" && len(words) > 1 {
		last = strings.Join(words[1:], " ")
	}

	if first == "" {
		return nil, model.NewIdentityIncompleteError("a first name")
	}
	if last == "" {
		return nil, model.NewIdentityIncompleteError("a last name")
	}

	username := strings.ToLower(strings.TrimSpace(c.Email))
	if username == "" {
		username = "google_" + c.Subject
	}

	return &model.User{
		GoogleID:  c.Subject,
		Username:  username,
		Role:      model.RoleUser,
		FirstName: first,
		LastName:  last,
		Avatar:    c.Picture,
	}, nil
}
