// Package model はドメインモデルを定義する。
package model

import (
	"strings"
	"time"
)

// Role はユーザーの権限種別を表す。
type Role string

const (
	// RoleUser は一般ユーザー。新規作成時のデフォルト。
	RoleUser Role = "user"
	// RoleAdmin は管理者。
	RoleAdmin Role = "admin"
)

// Valid はロールが定義済みの値かどうかを返す。
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAdmin
}

// User はサービス利用ユーザーを表す。
// GoogleIDは外部IdP経由で作成された場合のみ設定される。
type User struct {
	ID        string    `bson:"_id"`
	GoogleID  string    `bson:"google_id,omitempty"`
	Username  string    `bson:"username"`
	Role      Role      `bson:"role"`
	FirstName string    `bson:"first_name"`
	LastName  string    `bson:"last_name"`
	Avatar    string    `bson:"avatar,omitempty"`
	CreatedAt time.Time `bson:"created_at"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// Validate は必須フィールドとロールを検証する。
// ロールが未設定の場合はRoleUserを補完する。
// 最初に見つかった違反をValidationErrorとして返す。
func (u *User) Validate() error {
	if u.Role == "" {
		u.Role = RoleUser
	}
	if strings.TrimSpace(u.Username) == "" {
		return NewValidationError("username", "Please enter a username")
	}
	if strings.TrimSpace(u.FirstName) == "" {
		return NewValidationError("firstName", "Please enter the first name")
	}
	if strings.TrimSpace(u.LastName) == "" {
		return NewValidationError("lastName", "Please enter the last name")
	}
	if !u.Role.Valid() {
		return NewValidationError("role", "Role must be either user or admin")
	}
	return nil
}

// Session はユーザーのログインセッションを表す。
// IDはCookieで運ばれる不透明なトークンで、ストアの主キーを兼ねる。
type Session struct {
	ID        string    `bson:"_id"`
	UserID    string    `bson:"user_id"`
	ExpiresAt time.Time `bson:"expires_at"`
	CreatedAt time.Time `bson:"created_at"`
}
