// Package handler はルーティングテーブルとHTTPハンドラーを提供する。
package handler

import (
	"bytes"
	"fmt"
	"io"
	"net/http"

	"github.com/hitoshi/dashgate/internal/middleware"
	"github.com/hitoshi/dashgate/internal/model"
	"github.com/hitoshi/dashgate/internal/view"
)

// Identity はセッションから復元されたリクエストの主体。
// 匿名リクエストではUserIDが空になる。
type Identity struct {
	UserID       string
	SessionToken string
}

// Authenticated は認証済みかどうかを返す。
func (i Identity) Authenticated() bool {
	return i.UserID != ""
}

// identityFromRequest はセッションミドルウェアが注入した値からIdentityを組み立てる。
func identityFromRequest(r *http.Request) Identity {
	userID, _ := middleware.UserIDFromContext(r.Context())
	return Identity{
		UserID:       userID,
		SessionToken: middleware.SessionTokenFromContext(r.Context()),
	}
}

// Result はビューハンドラーの結果。RenderedかFailedのどちらか一方。
type Result struct {
	View   string
	Layout string
	Data   any
	Err    error
}

// Rendered はビューをレイアウトで描画する結果を返す。
func Rendered(view, layout string, data any) Result {
	return Result{View: view, Layout: layout, Data: data}
}

// Failed はError Responderへ渡す失敗結果を返す。
func Failed(err error) Result {
	return Result{Err: err}
}

// ViewFunc はリクエストと主体からResultを決めるハンドラー。
// 主体は引数で明示的に受け取り、レスポンスへは直接書き込まない。
type ViewFunc func(r *http.Request, id Identity) Result

// Renderer はビューの描画を行う。view.Rendererが満たす。
type Renderer interface {
	Render(w io.Writer, view, layout string, data any) error
}

// Dispatcher はViewFuncの結果をレスポンスへ変換する。
type Dispatcher struct {
	renderer  Renderer
	responder *middleware.Responder
}

// NewDispatcher はDispatcherを生成する。
func NewDispatcher(renderer Renderer, responder *middleware.Responder) *Dispatcher {
	return &Dispatcher{renderer: renderer, responder: responder}
}

// Handle はViewFuncをhttp.HandlerFuncに変換する。
// 描画はバッファに行い、失敗した場合は途中までの出力を送らずInternalErrorを返す。
func (d *Dispatcher) Handle(fn ViewFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := identityFromRequest(r)
		res := fn(r, id)
		if res.Err != nil {
			d.responder.Respond(w, r, res.Err)
			return
		}

		page := view.Page{
			Authenticated: id.Authenticated(),
			CSRFToken:     middleware.CSRFTokenFromContext(r.Context()),
			RequestTime:   middleware.RequestTimeFromContext(r.Context()),
			Data:          res.Data,
		}

		var buf bytes.Buffer
		if err := d.renderer.Render(&buf, res.View, res.Layout, page); err != nil {
			d.responder.Respond(w, r, model.NewInternalError(fmt.Errorf("render %s: %w", res.View, err)))
			return
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		buf.WriteTo(w)
	}
}
