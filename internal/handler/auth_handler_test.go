package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/hitoshi/rankinge/internal/model"
)

type mockAuthService struct {
	getLoginURLFn    func(state string) string
	handleCallbackFn func(ctx context.Context, code string) (*model.Session, error)
	logoutFn         func(ctx context.Context, sessionID string) error
	getCurrentUserFn func(ctx context.Context, sessionID string) (*model.User, error)
}

func (m *mockAuthService) GetLoginURL(state string) string {
	if m.getLoginURLFn != nil {
		return m.getLoginURLFn(state)
	}
	return "https://accounts.google.com/o/oauth2/auth?state=" + state
}

func (m *mockAuthService) HandleCallback(ctx context.Context, code string) (*model.Session, error) {
	if m.handleCallbackFn != nil {
		return m.handleCallbackFn(ctx, code)
	}
	return &model.Session{ID: "sess-1", UserID: "u1", ExpiresAt: time.Now().Add(time.Hour)}, nil
}

func (m *mockAuthService) Logout(ctx context.Context, sessionID string) error {
	if m.logoutFn != nil {
		return m.logoutFn(ctx, sessionID)
	}
	return nil
}

func (m *mockAuthService) GetCurrentUser(ctx context.Context, sessionID string) (*model.User, error) {
	if m.getCurrentUserFn != nil {
		return m.getCurrentUserFn(ctx, sessionID)
	}
	return nil, nil
}

var testAuthConfig = AuthHandlerConfig{
	BaseURL:       "https://rankinge.example/",
	SessionMaxAge: 3600,
}

func findCookie(resp *http.Response, name string) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// callbackRequest はLoginで発行されたCookieを持ち帰ったコールバックを組み立てる。
func callbackRequest(query string, returnTo string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/auth/google/callback?"+query, nil)
	req.AddCookie(&http.Cookie{Name: oauthStateCookie, Value: "st"})
	if returnTo != "" {
		req.AddCookie(&http.Cookie{Name: oauthReturnCookie, Value: url.QueryEscape(returnTo)})
	}
	return req
}

func TestAuthHandler_Login_StoresStateAndReturnPath(t *testing.T) {
	tests := []struct {
		name       string
		returnTo   string
		wantReturn bool
	}{
		{"カテゴリページへ戻す", "/categories/keyboards", true},
		{"戻り先なし", "", false},
		{"プロトコル相対URLは無視", "//evil.example/x", false},
		{"外部URLは無視", "https://evil.example/", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotState string
			svc := &mockAuthService{getLoginURLFn: func(state string) string {
				gotState = state
				return "https://accounts.google.com/o/oauth2/auth?state=" + state
			}}
			h := NewAuthHandler(svc, testAuthConfig)

			w := httptest.NewRecorder()
			h.Login(w, httptest.NewRequest(http.MethodGet, "/auth/google/login?return_to="+url.QueryEscape(tt.returnTo), nil))
			resp := w.Result()

			if resp.StatusCode != http.StatusTemporaryRedirect {
				t.Fatalf("status = %d, want 307", resp.StatusCode)
			}
			state := findCookie(resp, oauthStateCookie)
			if state == nil || state.Value == "" || state.Value != gotState {
				t.Errorf("state cookie = %+v, want value passed to GetLoginURL (%q)", state, gotState)
			}
			if state != nil && (!state.HttpOnly || state.Path != oauthCookiePath) {
				t.Errorf("state cookie attributes = %+v", state)
			}

			ret := findCookie(resp, oauthReturnCookie)
			if tt.wantReturn {
				if ret == nil {
					t.Fatal("return_to cookie not set")
				}
				if v, _ := url.QueryUnescape(ret.Value); v != tt.returnTo {
					t.Errorf("return_to cookie = %q, want %q", v, tt.returnTo)
				}
			} else if ret != nil {
				t.Errorf("return_to cookie = %q, want none", ret.Value)
			}
		})
	}
}

func TestAuthHandler_Callback_RedirectsToReturnPath(t *testing.T) {
	h := NewAuthHandler(&mockAuthService{}, testAuthConfig)

	w := httptest.NewRecorder()
	h.Callback(w, callbackRequest("code=c&state=st", "/categories/keyboards"))
	resp := w.Result()

	if resp.StatusCode != http.StatusTemporaryRedirect {
		t.Fatalf("status = %d, want 307", resp.StatusCode)
	}
	if loc := resp.Header.Get("Location"); loc != "https://rankinge.example/categories/keyboards" {
		t.Errorf("Location = %q", loc)
	}
	sess := findCookie(resp, sessionCookieName)
	if sess == nil || sess.Value != "sess-1" || sess.MaxAge != 3600 || !sess.HttpOnly {
		t.Errorf("session cookie = %+v", sess)
	}
	if st := findCookie(resp, oauthStateCookie); st == nil || st.MaxAge >= 0 {
		t.Errorf("state cookie should be cleared, got %+v", st)
	}
}

func TestAuthHandler_Callback_ConsentDenied(t *testing.T) {
	called := false
	svc := &mockAuthService{handleCallbackFn: func(ctx context.Context, code string) (*model.Session, error) {
		called = true
		return nil, nil
	}}
	h := NewAuthHandler(svc, testAuthConfig)

	w := httptest.NewRecorder()
	h.Callback(w, callbackRequest("error=access_denied&state=st", "/categories/mice"))
	resp := w.Result()

	if called {
		t.Error("HandleCallback must not run when consent was denied")
	}
	if loc := resp.Header.Get("Location"); loc != "https://rankinge.example/categories/mice?login_error=access_denied" {
		t.Errorf("Location = %q", loc)
	}
	if findCookie(resp, sessionCookieName) != nil {
		t.Error("session cookie must not be issued")
	}
}

func TestAuthHandler_Callback_Errors(t *testing.T) {
	tests := []struct {
		name       string
		req        func() *http.Request
		callbackFn func(ctx context.Context, code string) (*model.Session, error)
		wantStatus int
		wantCode   string
	}{
		{
			name: "stateが一致しない",
			req: func() *http.Request {
				return callbackRequest("code=c&state=other", "")
			},
			wantStatus: http.StatusBadRequest,
			wantCode:   model.ErrCodeValidationFailed,
		},
		{
			name: "stateのCookieがない",
			req: func() *http.Request {
				return httptest.NewRequest(http.MethodGet, "/auth/google/callback?code=c&state=st", nil)
			},
			wantStatus: http.StatusBadRequest,
			wantCode:   model.ErrCodeValidationFailed,
		},
		{
			name:       "認可コードがない",
			req:        func() *http.Request { return callbackRequest("state=st", "") },
			wantStatus: http.StatusBadRequest,
			wantCode:   model.ErrCodeValidationFailed,
		},
		{
			name: "Googleとの交換に失敗",
			req:  func() *http.Request { return callbackRequest("code=c&state=st", "") },
			callbackFn: func(ctx context.Context, code string) (*model.Session, error) {
				return nil, errors.New("oauth2: token exchange failed")
			},
			wantStatus: http.StatusBadGateway,
			wantCode:   "AUTHENTICATION_FAILED",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewAuthHandler(&mockAuthService{handleCallbackFn: tt.callbackFn}, testAuthConfig)
			w := httptest.NewRecorder()
			h.Callback(w, tt.req())

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			var body map[string]string
			if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body["code"] != tt.wantCode {
				t.Errorf("code = %q, want %q", body["code"], tt.wantCode)
			}
			if findCookie(w.Result(), sessionCookieName) != nil {
				t.Error("session cookie must not be issued")
			}
		})
	}
}

func TestAuthHandler_Logout_ClearsCookieEvenWhenStoreFails(t *testing.T) {
	var deleted string
	svc := &mockAuthService{logoutFn: func(ctx context.Context, sessionID string) error {
		deleted = sessionID
		return errors.New("connection reset")
	}}
	h := NewAuthHandler(svc, testAuthConfig)

	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: "sess-1"})
	w := httptest.NewRecorder()
	h.Logout(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", w.Code)
	}
	if deleted != "sess-1" {
		t.Errorf("Logout called with %q, want sess-1", deleted)
	}
	if c := findCookie(w.Result(), sessionCookieName); c == nil || c.MaxAge >= 0 {
		t.Errorf("session cookie should be cleared, got %+v", c)
	}
}

func TestAuthHandler_Me(t *testing.T) {
	admin := &model.User{ID: "u1", Email: "owner@example.com", Name: "Owner", Role: model.RoleAdmin}

	tests := []struct {
		name       string
		cookie     string
		user       *model.User
		err        error
		wantStatus int
		wantRole   string
	}{
		{name: "管理者", cookie: "sess-1", user: admin, wantStatus: http.StatusOK, wantRole: "admin"},
		{name: "期限切れセッション", cookie: "expired", wantStatus: http.StatusUnauthorized},
		{name: "Cookieなし", wantStatus: http.StatusUnauthorized},
		{
			name:       "ストア障害",
			cookie:     "sess-1",
			err:        model.NewTransientStoreError("get session", errors.New("timeout")),
			wantStatus: http.StatusServiceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockAuthService{getCurrentUserFn: func(ctx context.Context, sessionID string) (*model.User, error) {
				return tt.user, tt.err
			}}
			h := NewAuthHandler(svc, testAuthConfig)

			req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: tt.cookie})
			}
			w := httptest.NewRecorder()
			h.Me(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if tt.wantRole == "" {
				return
			}
			var got userResponse
			if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if got.Role != tt.wantRole || got.Email != admin.Email {
				t.Errorf("user = %+v", got)
			}
		})
	}
}

func TestSafeReturnPath(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"/", true},
		{"/categories/keyboards?tab=ranking", true},
		{"", false},
		{"categories", false},
		{"//evil.example", false},
		{`/\evil.example`, false},
		{"https://evil.example/", false},
	}
	for _, tt := range tests {
		if _, ok := safeReturnPath(tt.in); ok != tt.want {
			t.Errorf("safeReturnPath(%q) = %v, want %v", tt.in, ok, tt.want)
		}
	}
}
