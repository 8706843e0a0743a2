package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/rankinge/internal/middleware"
	"github.com/hitoshi/rankinge/internal/model"
)

type fakeHealthChecker struct{ err error }

func (f fakeHealthChecker) PingContext(ctx context.Context) error { return f.err }

func TestHealthHandler(t *testing.T) {
	tests := []struct {
		name       string
		checker    HealthChecker
		wantStatus int
	}{
		{"チェッカーなし", nil, http.StatusOK},
		{"DB正常", fakeHealthChecker{}, http.StatusOK},
		{"DB異常", fakeHealthChecker{err: errors.New("down")}, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			NewHealthHandler(tt.checker)(w, httptest.NewRequest(http.MethodGet, "/health", nil))
			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
		})
	}
}

func TestNewRouter_AccessControl(t *testing.T) {
	env := newIntegrationEnv(t, generousRateLimits())

	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		session    string
		wantStatus int
	}{
		{"ヘルスチェック", http.MethodGet, "/health", "", "", http.StatusOK},
		{"公開カテゴリ一覧", http.MethodGet, "/api/categories", "", "", http.StatusOK},
		{"公開設定", http.MethodGet, "/api/settings/public", "", "", http.StatusOK},
		{"CSRFトークン", http.MethodGet, "/api/csrf-token", "", "", http.StatusOK},
		{"投票は要ログイン", http.MethodPut, "/api/categories/c1/vote", `{"item_id":"i1"}`, "", http.StatusUnauthorized},
		{"不正なセッション", http.MethodGet, "/api/categories/c1/vote", "", "unknown-session", http.StatusUnauthorized},
		{"退会は要ログイン", http.MethodDelete, "/api/users/me", "", "", http.StatusUnauthorized},
		{"退会", http.MethodDelete, "/api/users/me", "", "user-session", http.StatusNoContent},
		{"管理APIは要ログイン", http.MethodGet, "/api/admin/users", "", "", http.StatusUnauthorized},
		{"管理APIは管理者のみ", http.MethodGet, "/api/admin/users", "", "user-session", http.StatusForbidden},
		{"管理者のユーザー一覧", http.MethodGet, "/api/admin/users", "", "admin-session", http.StatusOK},
		{"AI生成は管理者のみ", http.MethodPost, "/api/admin/ai/generate", `{"type":"blog_post","prompt":"x"}`, "user-session", http.StatusForbidden},
		{"AI生成", http.MethodPost, "/api/admin/ai/generate", `{"type":"blog_post","prompt":"x"}`, "admin-session", http.StatusOK},
		{"設定の更新", http.MethodPut, "/api/admin/settings/vote_display_mode", `{"value":"count"}`, "admin-session", http.StatusOK},
		{"不正な設定", http.MethodPut, "/api/admin/settings/vote_display_mode", `{"value":"grid"}`, "admin-session", http.StatusBadRequest},
		{"存在しないルート", http.MethodGet, "/api/unknown", "", "", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, tt.method, tt.path, tt.body, tt.session)
			if w.Code != tt.wantStatus {
				t.Errorf("%s %s = %d, want %d (body=%s)", tt.method, tt.path, w.Code, tt.wantStatus, w.Body.String())
			}
		})
	}
}

func TestNewRouter_StateChangeRequiresCSRF(t *testing.T) {
	env := newIntegrationEnv(t, generousRateLimits())

	req := httptest.NewRequest(http.MethodPost, "/api/categories", nil)
	req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: "user-session"})
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", w.Code)
	}
	if body := decodeAPIError(t, w); body.Code != "CSRF_TOKEN_INVALID" {
		t.Errorf("code = %q, want CSRF_TOKEN_INVALID", body.Code)
	}
}

func TestNewRouter_SessionCheckedBeforeCSRF(t *testing.T) {
	env := newIntegrationEnv(t, generousRateLimits())

	// セッションもCSRFトークンもない場合は401が先に返る
	req := httptest.NewRequest(http.MethodPost, "/api/categories", nil)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestNewRouter_VoteRateLimit(t *testing.T) {
	cfg := generousRateLimits()
	cfg.VoteRate = middleware.PerMinute(1)
	cfg.VoteBurst = 2
	env := newIntegrationEnv(t, cfg)

	cat := env.createCategory(t, `{"name":"Limited"}`)
	it := env.createItem(t, cat.ID, "x")
	sid := env.voter("spammer")

	for i := 0; i < 2; i++ {
		if w := env.do(t, http.MethodPut, "/api/categories/"+cat.ID+"/vote", `{"item_id":"`+it.ID+`"}`, sid); w.Code >= 400 {
			t.Fatalf("vote %d status = %d", i, w.Code)
		}
	}
	w := env.do(t, http.MethodPut, "/api/categories/"+cat.ID+"/vote", `{"item_id":"`+it.ID+`"}`, sid)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("third vote status = %d, want 429", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("Retry-After header should be set")
	}

	// 投票以外のルートは投票の制限を受けない
	if w := env.do(t, http.MethodGet, "/api/categories/"+cat.ID+"/vote", "", sid); w.Code != http.StatusOK {
		t.Errorf("current vote after limit = %d, want 200", w.Code)
	}
}

func TestNewRouter_AdminSeesPendingCategories(t *testing.T) {
	env := newIntegrationEnv(t, generousRateLimits())
	if w := env.do(t, http.MethodPost, "/api/categories", `{"name":"Waiting"}`, "user-session"); w.Code != http.StatusCreated {
		t.Fatalf("submit = %d", w.Code)
	}

	count := func(session string) int {
		w := env.do(t, http.MethodGet, "/api/categories?status=pending", "", session)
		var body struct {
			Categories []categoryResponse `json:"categories"`
		}
		decodeBody(t, w, &body)
		n := 0
		for _, c := range body.Categories {
			if c.Status == string(model.ApprovalPending) {
				n++
			}
		}
		return n
	}

	if n := count(""); n != 0 {
		t.Errorf("anonymous sees %d pending categories, want 0", n)
	}
	if n := count("admin-session"); n != 1 {
		t.Errorf("admin sees %d pending categories, want 1", n)
	}
}
