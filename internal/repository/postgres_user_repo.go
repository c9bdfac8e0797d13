package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/hitoshi/dashgate/internal/model"
)

// PostgreSQLの一意制約違反コード
const pqUniqueViolation = "23505"

// 一意制約名（migrations/000001_create_users.up.sql と一致させる）
const (
	usersUsernameConstraint = "users_username_key"
	usersGoogleIDConstraint = "users_google_id_key"
)

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

const userColumns = `id, google_id, username, role, first_name, last_name, avatar, created_at, updated_at`

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`,
		id,
	)
	user, err := scanUser(row)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}
	return user, nil
}

// FindByGoogleID はGoogleのsubjectでユーザーを検索する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByGoogleID(ctx context.Context, googleID string) (*model.User, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE google_id = $1`,
		googleID,
	)
	user, err := scanUser(row)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by google ID: %w", err)
	}
	return user, nil
}

// Create はユーザーを作成する。
func (r *PostgresUserRepo) Create(ctx context.Context, user *model.User) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		user.ID, nullIfEmpty(user.GoogleID), user.Username, string(user.Role),
		user.FirstName, user.LastName, nullIfEmpty(user.Avatar),
		user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
			switch pqErr.Constraint {
			case usersUsernameConstraint:
				return ErrDuplicateUsername
			case usersGoogleIDConstraint:
				return ErrDuplicateGoogleID
			}
		}
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

// scanUser は1行をUserに変換する。行がない場合はnilを返す。
func scanUser(row *sql.Row) (*model.User, error) {
	var (
		user     model.User
		googleID sql.NullString
		avatar   sql.NullString
		role     string
	)
	err := row.Scan(&user.ID, &googleID, &user.Username, &role,
		&user.FirstName, &user.LastName, &avatar, &user.CreatedAt, &user.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	user.GoogleID = googleID.String
	user.Avatar = avatar.String
	user.Role = model.Role(role)
	return &user, nil
}

func nullIfEmpty(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
