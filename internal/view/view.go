// Package view は埋め込みテンプレートによるページ描画と静的ファイル配信を提供する。
package view

import (
	"embed"
	"fmt"
	"html/template"
	"io"
	"io/fs"
	"net/http"
)

//go:embed templates/layouts/*.html templates/pages/*.html templates/pages/error/*.html
var templateFS embed.FS

//go:embed static
var staticFS embed.FS

// 利用可能なレイアウトとビュー
var (
	Layouts = []string{"main", "login"}
	Views   = []string{"login", "dashboard", "error/500"}
)

// Page はテンプレートに渡すデータ。
// Dataにはハンドラーが返した値がそのまま入る。
type Page struct {
	Authenticated bool
	CSRFToken     string
	RequestTime   string
	Data          any
}

// Renderer はレイアウトとビューの組み合わせごとにパース済みのテンプレートを保持する。
// 生成後は読み取り専用のため、並行利用できる。
type Renderer struct {
	templates map[string]*template.Template
}

// NewRenderer は全てのレイアウトとビューの組み合わせをパースする。
// テンプレートの構文エラーは起動時に検出される。
func NewRenderer() (*Renderer, error) {
	r := &Renderer{templates: make(map[string]*template.Template, len(Layouts)*len(Views))}
	for _, layout := range Layouts {
		for _, v := range Views {
			tmpl, err := template.New(layout).ParseFS(templateFS,
				"templates/layouts/"+layout+".html",
				"templates/pages/"+v+".html",
			)
			if err != nil {
				return nil, fmt.Errorf("failed to parse view %s with layout %s: %w", v, layout, err)
			}
			r.templates[key(v, layout)] = tmpl
		}
	}
	return r, nil
}

// Render はビューをレイアウトで包んでwに書き込む。
// 未知のビューやレイアウトはエラーになる。
func (r *Renderer) Render(w io.Writer, view, layout string, data any) error {
	tmpl, ok := r.templates[key(view, layout)]
	if !ok {
		return fmt.Errorf("unknown view %q with layout %q", view, layout)
	}
	if err := tmpl.ExecuteTemplate(w, "layout", data); err != nil {
		return fmt.Errorf("failed to execute view %s: %w", view, err)
	}
	return nil
}

// StaticHandler は埋め込み静的ファイルを配信するハンドラーを返す。
// /static プレフィックスを取り除いた上でマウントすること。
func StaticHandler() http.Handler {
	sub, err := fs.Sub(staticFS, "static")
	if err != nil {
		// embedのパスはコンパイル時に確定している
		panic(err)
	}
	return http.FileServer(http.FS(sub))
}

func key(view, layout string) string {
	return layout + ":" + view
}
