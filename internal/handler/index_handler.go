package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hitoshi/dashgate/internal/model"
)

// UserFinder はダッシュボード表示に必要なユーザー検索インターフェース。
type UserFinder interface {
	FindByID(ctx context.Context, id string) (*model.User, error)
}

// IndexHandler はランディングページとダッシュボードのビューハンドラー。
type IndexHandler struct {
	users UserFinder
}

// NewIndexHandler はIndexHandlerを生成する。
func NewIndexHandler(users UserFinder) *IndexHandler {
	return &IndexHandler{users: users}
}

// Landing はログインページを描画する。
// GET /
func (h *IndexHandler) Landing(_ *http.Request, _ Identity) Result {
	return Rendered("login", "login", nil)
}

// Dashboard はログインユーザーの名前入りダッシュボードを描画する。
// 主体がない、またはユーザーを読み込めない場合はerror/500を描画する。
// GET /dashboard
func (h *IndexHandler) Dashboard(r *http.Request, id Identity) Result {
	if !id.Authenticated() {
		slog.Warn("dashboard requested without session", slog.String("path", r.URL.Path))
		return Rendered("error/500", "main", nil)
	}

	user, err := h.users.FindByID(r.Context(), id.UserID)
	if err != nil {
		slog.Error("failed to load dashboard user",
			slog.String("user_id", id.UserID),
			slog.String("error", err.Error()),
		)
		return Rendered("error/500", "main", nil)
	}
	if user == nil {
		slog.Warn("dashboard user not found", slog.String("user_id", id.UserID))
		return Rendered("error/500", "main", nil)
	}

	return Rendered("dashboard", "main", map[string]any{"name": user.FirstName})
}
