package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestCSRF() func(http.Handler) http.Handler {
	return NewCSRFMiddleware(CSRFConfig{}, NewResponder(false))
}

func TestCSRFMiddleware_SafeMethods_PassThroughAndIssueCookie(t *testing.T) {
	for _, method := range []string{http.MethodGet, http.MethodHead, http.MethodOptions} {
		t.Run(method, func(t *testing.T) {
			var seenToken string
			handler := newTestCSRF()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seenToken = CSRFTokenFromContext(r.Context())
				w.WriteHeader(http.StatusOK)
			}))

			w := httptest.NewRecorder()
			handler.ServeHTTP(w, httptest.NewRequest(method, "/dashboard", nil))

			if w.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200", w.Code)
			}
			var cookie *http.Cookie
			for _, c := range w.Result().Cookies() {
				if c.Name == csrfCookieName {
					cookie = c
				}
			}
			if cookie == nil {
				t.Fatal("expected CSRF cookie to be issued")
			}
			if cookie.HttpOnly {
				t.Error("CSRF cookie must be readable by scripts")
			}
			if len(cookie.Value) != 64 {
				t.Errorf("token length = %d, want 64 hex chars", len(cookie.Value))
			}
			if seenToken != cookie.Value {
				t.Errorf("context token = %q, cookie = %q", seenToken, cookie.Value)
			}
		})
	}
}

func TestCSRFMiddleware_ExistingCookie_NotReissued(t *testing.T) {
	handler := newTestCSRF()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := CSRFTokenFromContext(r.Context()); got != "existing" {
			t.Errorf("context token = %q, want existing", got)
		}
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: "existing"})
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	for _, c := range w.Result().Cookies() {
		if c.Name == csrfCookieName {
			t.Error("CSRF cookie should not be re-set when already present")
		}
	}
}

func TestCSRFMiddleware_StateChangingMethods(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		cookie     string
		header     string
		bodyToken  string
		wantStatus int
	}{
		{"POST no cookie", http.MethodPost, "", "tok", "", http.StatusForbidden},
		{"POST no submitted token", http.MethodPost, "tok", "", "", http.StatusForbidden},
		{"POST header mismatch", http.MethodPost, "tok", "other", "", http.StatusForbidden},
		{"POST header match", http.MethodPost, "tok", "tok", "", http.StatusOK},
		{"POST form field match", http.MethodPost, "tok", "", "tok", http.StatusOK},
		{"POST form field mismatch", http.MethodPost, "tok", "", "bad", http.StatusForbidden},
		{"DELETE header match", http.MethodDelete, "tok", "tok", "", http.StatusOK},
		{"PUT no token", http.MethodPut, "tok", "", "", http.StatusForbidden},
		{"PATCH no token", http.MethodPatch, "", "", "", http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := newTestCSRF()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(tt.method, "/auth/logout", nil)
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: tt.cookie})
			}
			if tt.header != "" {
				req.Header.Set(csrfHeaderName, tt.header)
			}
			if tt.bodyToken != "" {
				req = req.WithContext(ContextWithBody(req.Context(), map[string]any{csrfFormField: tt.bodyToken}))
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if tt.wantStatus == http.StatusForbidden && !strings.Contains(w.Body.String(), `"code":"CSRF_FAILED"`) {
				t.Errorf("body = %s, want CSRF_FAILED code", w.Body.String())
			}
		})
	}
}

func TestCSRFTokenHandler_SetsTokenCookieAndReturnsJSON(t *testing.T) {
	h := NewCSRFTokenHandler(CSRFConfig{CookieDomain: "example.com"}, NewResponder(false))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/auth/csrf-token", nil))

	resp := w.Result()
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	var cookie *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == csrfCookieName {
			cookie = c
		}
	}
	if cookie == nil || cookie.Value != body.Token || body.Token == "" {
		t.Fatalf("cookie = %+v, token = %q; should match and be non-empty", cookie, body.Token)
	}
	if cookie.SameSite != http.SameSiteLaxMode {
		t.Errorf("SameSite = %v, want Lax", cookie.SameSite)
	}
}

func TestCSRFTokenHandler_ExistingCookie_ReturnsSameToken(t *testing.T) {
	h := NewCSRFTokenHandler(CSRFConfig{}, NewResponder(false))

	req := httptest.NewRequest(http.MethodGet, "/auth/csrf-token", nil)
	req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: "existing-csrf-token"})
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.Token != "existing-csrf-token" {
		t.Errorf("token = %q, want existing-csrf-token", body.Token)
	}
}

// TestCSRFMiddleware_ReadsParsedCookies はCookieパーサーが格納したマップから
// トークンを読むことを検証する。ヘッダー上のCookieは参照しない。
func TestCSRFMiddleware_ReadsParsedCookies(t *testing.T) {
	called := false
	handler := newTestCSRF()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req.Header.Set(csrfHeaderName, "parsed-token")
	req = req.WithContext(context.WithValue(req.Context(), cookiesContextKey, map[string]string{
		csrfCookieName: "parsed-token",
	}))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK || !called {
		t.Fatalf("status = %d, called = %v, want pass-through", w.Code, called)
	}

	// パース済みマップにない場合、ヘッダー上のCookieがあっても拒否する
	called = false
	req = httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req.Header.Set(csrfHeaderName, "header-token")
	req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: "header-token"})
	req = req.WithContext(context.WithValue(req.Context(), cookiesContextKey, map[string]string{}))
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden || called {
		t.Errorf("status = %d, called = %v, want 403", w.Code, called)
	}
}

func TestCookieParser_ThenCSRF(t *testing.T) {
	handler := NewCookieParserMiddleware()(newTestCSRF()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := CSRFTokenFromContext(r.Context()); got != "tok" {
			t.Errorf("context token = %q, want tok", got)
		}
	})))

	req := httptest.NewRequest(http.MethodDelete, "/auth/logout", nil)
	req.Header.Set(csrfHeaderName, "tok")
	req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: "tok"})
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}
