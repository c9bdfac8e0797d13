// Package user はユーザー管理のドメインロジックを提供する。
package user

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/dashgate/internal/model"
	"github.com/hitoshi/dashgate/internal/repository"
)

// CreatedRecorder はユーザー作成件数を記録するインターフェース。
type CreatedRecorder interface {
	RecordUserCreated()
}

// Service はユーザー管理のサービス層。
// 作成時の検証と一意制約違反のドメインエラーへの変換を担う。
type Service struct {
	repo     repository.UserRepository
	recorder CreatedRecorder
	now      func() time.Time
	newID    func() string
}

// NewService はServiceの新しいインスタンスを生成する。
// recorderはnilでもよい。
func NewService(repo repository.UserRepository, recorder CreatedRecorder) *Service {
	return &Service{
		repo:     repo,
		recorder: recorder,
		now:      time.Now,
		newID:    func() string { return uuid.New().String() },
	}
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (s *Service) FindByID(ctx context.Context, id string) (*model.User, error) {
	return s.repo.FindByID(ctx, id)
}

// FindByGoogleID はGoogleのsubjectでユーザーを検索する。見つからない場合はnilを返す。
func (s *Service) FindByGoogleID(ctx context.Context, googleID string) (*model.User, error) {
	return s.repo.FindByGoogleID(ctx, googleID)
}

// Create はユーザーを検証して作成する。
// 必須フィールド欠落とユーザー名重複はValidationErrorを返し、レコードは作成されない。
// GoogleIDの重複はrepository.ErrDuplicateGoogleIDをラップして返す。
func (s *Service) Create(ctx context.Context, u *model.User) (*model.User, error) {
	if err := u.Validate(); err != nil {
		return nil, err
	}

	now := s.now()
	created := *u
	created.ID = s.newID()
	created.CreatedAt = now
	created.UpdatedAt = now

	if err := s.repo.Create(ctx, &created); err != nil {
		switch {
		case errors.Is(err, repository.ErrDuplicateUsername):
			return nil, model.NewDuplicateUsernameError(u.Username)
		case errors.Is(err, repository.ErrDuplicateGoogleID):
			return nil, fmt.Errorf("user for google id already exists: %w", err)
		default:
			return nil, fmt.Errorf("ユーザーの作成に失敗しました: %w", err)
		}
	}

	if s.recorder != nil {
		s.recorder.RecordUserCreated()
	}

	slog.Info("ユーザーを作成しました",
		slog.String("user_id", created.ID),
		slog.String("role", string(created.Role)),
	)

	return &created, nil
}
