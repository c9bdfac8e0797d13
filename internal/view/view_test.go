package view

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestRenderer(t *testing.T) *Renderer {
	t.Helper()
	r, err := NewRenderer()
	if err != nil {
		t.Fatalf("NewRenderer error: %v", err)
	}
	return r
}

func TestRenderer_AllCombinationsParse(t *testing.T) {
	r := newTestRenderer(t)
	for _, layout := range Layouts {
		for _, v := range Views {
			var buf bytes.Buffer
			if err := r.Render(&buf, v, layout, Page{Data: map[string]any{"name": "Ada"}}); err != nil {
				t.Errorf("Render(%s, %s) error: %v", v, layout, err)
			}
		}
	}
}

func TestRenderer_Dashboard_ShowsNameAndEscapes(t *testing.T) {
	r := newTestRenderer(t)

	var buf bytes.Buffer
	err := r.Render(&buf, "dashboard", "main", Page{
		Authenticated: true,
		CSRFToken:     "tok123",
		Data:          map[string]any{"name": "<b>Ada</b>"},
	})
	if err != nil {
		t.Fatalf("Render error: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "Welcome &lt;b&gt;Ada&lt;/b&gt;") {
		t.Errorf("expected escaped first name in output:\n%s", out)
	}
	if !strings.Contains(out, `name="_csrf" value="tok123"`) {
		t.Error("expected CSRF token in logout form")
	}
	if !strings.Contains(out, `name="_method" value="DELETE"`) {
		t.Error("expected method override field in logout form")
	}
}

func TestRenderer_MainLayout_AnonymousHasNoLogout(t *testing.T) {
	r := newTestRenderer(t)

	var buf bytes.Buffer
	if err := r.Render(&buf, "error/500", "main", Page{}); err != nil {
		t.Fatalf("Render error: %v", err)
	}
	if strings.Contains(buf.String(), "/auth/logout") {
		t.Error("logout form must not be rendered for anonymous visitors")
	}
}

func TestRenderer_Login_LinksToGoogle(t *testing.T) {
	r := newTestRenderer(t)

	var buf bytes.Buffer
	if err := r.Render(&buf, "login", "login", Page{}); err != nil {
		t.Fatalf("Render error: %v", err)
	}
	if !strings.Contains(buf.String(), `href="/auth/google"`) {
		t.Error("expected login link to /auth/google")
	}
}

func TestRenderer_UnknownView_ReturnsError(t *testing.T) {
	r := newTestRenderer(t)

	if err := r.Render(io.Discard, "missing", "main", nil); err == nil {
		t.Error("expected error for unknown view")
	}
	if err := r.Render(io.Discard, "login", "missing", nil); err == nil {
		t.Error("expected error for unknown layout")
	}
}

func TestStaticHandler_ServesEmbeddedAssets(t *testing.T) {
	h := http.StripPrefix("/static", StaticHandler())

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/static/css/style.css", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/css") {
		t.Errorf("Content-Type = %q, want text/css", ct)
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/static/nope.js", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("missing asset status = %d, want 404", w.Code)
	}
}
