package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	"github.com/hitoshi/dashgate/internal/model"
)

// mockUserFinder はUserFinderのモック実装。
type mockUserFinder struct {
	findByIDFn func(ctx context.Context, id string) (*model.User, error)
}

func (m *mockUserFinder) FindByID(ctx context.Context, id string) (*model.User, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

func TestIndexHandler_Landing_AlwaysRendersLogin(t *testing.T) {
	h := NewIndexHandler(&mockUserFinder{})
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	for _, id := range []Identity{{}, {UserID: "user-1", SessionToken: "tok"}} {
		res := h.Landing(req, id)
		if res.View != "login" || res.Layout != "login" || res.Err != nil {
			t.Errorf("Landing(%+v) = %+v, want login/login", id, res)
		}
	}
}

func TestIndexHandler_Dashboard(t *testing.T) {
	ada := &model.User{ID: "user-ada", FirstName: "Ada", LastName: "Lovelace", Username: "ada@example.com", Role: model.RoleUser}

	tests := []struct {
		name     string
		id       Identity
		finder   *mockUserFinder
		wantView string
		wantData any
	}{
		{
			name: "authenticated user sees first name",
			id:   Identity{UserID: "user-ada"},
			finder: &mockUserFinder{findByIDFn: func(_ context.Context, id string) (*model.User, error) {
				if id != "user-ada" {
					t.Errorf("looked up %q, want user-ada", id)
				}
				return ada, nil
			}},
			wantView: "dashboard",
			wantData: map[string]any{"name": "Ada"},
		},
		{
			name: "anonymous renders error page without lookup",
			id:   Identity{},
			finder: &mockUserFinder{findByIDFn: func(context.Context, string) (*model.User, error) {
				t.Error("store must not be consulted without an identity")
				return ada, nil
			}},
			wantView: "error/500",
		},
		{
			name: "store failure renders error page",
			id:   Identity{UserID: "user-ada"},
			finder: &mockUserFinder{findByIDFn: func(context.Context, string) (*model.User, error) {
				return nil, errors.New("connection refused")
			}},
			wantView: "error/500",
		},
		{
			name:     "deleted user renders error page",
			id:       Identity{UserID: "user-gone"},
			finder:   &mockUserFinder{},
			wantView: "error/500",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewIndexHandler(tt.finder)
			res := h.Dashboard(httptest.NewRequest(http.MethodGet, "/dashboard", nil), tt.id)

			if res.Err != nil {
				t.Fatalf("dashboard must not fail, got %v", res.Err)
			}
			if res.View != tt.wantView || res.Layout != "main" {
				t.Errorf("view = %s/%s, want %s/main", res.View, res.Layout, tt.wantView)
			}
			if tt.wantData != nil && !reflect.DeepEqual(res.Data, tt.wantData) {
				t.Errorf("data = %#v, want %#v", res.Data, tt.wantData)
			}
			if tt.wantData == nil && res.Data != nil {
				t.Errorf("error page must carry no user data, got %#v", res.Data)
			}
		})
	}
}
