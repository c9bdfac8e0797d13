// Package repository はデータ永続化のインターフェースと
// MongoDB・PostgreSQLによる実装を提供する。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/dashgate/internal/model"
)

var (
	// ErrDuplicateUsername はユーザー名の一意制約違反を表す。
	ErrDuplicateUsername = errors.New("duplicate username")
	// ErrDuplicateGoogleID は外部IdP識別子の一意制約違反を表す。
	// 同一アカウントの初回ログインが並行した場合に発生しうる。
	ErrDuplicateGoogleID = errors.New("duplicate google id")
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)
	// FindByGoogleID はGoogleのsubjectでユーザーを検索する。見つからない場合はnilを返す。
	FindByGoogleID(ctx context.Context, googleID string) (*model.User, error)
	// Create はユーザーを作成する。
	// 一意制約違反はErrDuplicateUsernameまたはErrDuplicateGoogleIDを返す。
	Create(ctx context.Context, user *model.User) error
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れまたは存在しない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// Extend はセッションの有効期限を更新する。存在しない場合は何もしない。
	Extend(ctx context.Context, id string, expiresAt time.Time) error
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteExpired は期限切れセッションを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context) (int64, error)
}
