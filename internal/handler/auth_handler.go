// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/hitoshi/rankinge/internal/middleware"
	"github.com/hitoshi/rankinge/internal/model"
)

const (
	sessionCookieName = "session_id"
	oauthStateCookie  = "oauth_state"
	oauthReturnCookie = "oauth_return_to"
	oauthCookiePath   = "/auth/google"
	oauthCookieMaxAge = 600
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	GetLoginURL(state string) string
	HandleCallback(ctx context.Context, code string) (*model.Session, error)
	Logout(ctx context.Context, sessionID string) error
	GetCurrentUser(ctx context.Context, sessionID string) (*model.User, error)
}

// AuthHandlerConfig はセッションCookieとログイン後の戻り先の設定。
type AuthHandlerConfig struct {
	BaseURL       string // フロントエンドのURL
	CookieDomain  string
	CookieSecure  bool
	SessionMaxAge int // 秒
}

// sessionCookie はセッションCookieを作る。maxAgeが負ならCookieを消す。
func (c AuthHandlerConfig) sessionCookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     sessionCookieName,
		Value:    value,
		Path:     "/",
		Domain:   c.CookieDomain,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   c.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	}
}

// oauthCookie はOAuthフローの間だけ使う短命のCookieを作る。
func (c AuthHandlerConfig) oauthCookie(name, value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     oauthCookiePath,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   c.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	}
}

// frontendURL はBaseURLにpathとqueryを付けたURLを返す。
func (c AuthHandlerConfig) frontendURL(path string, query url.Values) string {
	u := strings.TrimRight(c.BaseURL, "/") + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

// AuthHandler はGoogle OAuthによるログインとセッション確認のハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
	config  AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{service: service, config: config}
}

// Login はGoogleの認可画面へリダイレクトする。
// GET /auth/google/login?return_to=/categories/keyboards
//
// return_toはログイン後に戻すフロントエンド内のパス。投票しようとして
// ログインを求められたユーザーを元のカテゴリページへ戻すのに使う。
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	state, err := randomToken(16)
	if err != nil {
		slog.Error("failed to generate oauth state", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	http.SetCookie(w, h.config.oauthCookie(oauthStateCookie, state, oauthCookieMaxAge))
	if returnTo, ok := safeReturnPath(r.URL.Query().Get("return_to")); ok {
		http.SetCookie(w, h.config.oauthCookie(oauthReturnCookie, url.QueryEscape(returnTo), oauthCookieMaxAge))
	}
	http.Redirect(w, r, h.service.GetLoginURL(state), http.StatusTemporaryRedirect)
}

// Callback はGoogleからの戻りを処理し、セッションCookieを発行してフロントエンドへ戻す。
// GET /auth/google/callback?code=xxx&state=yyy
//
// ユーザーが同意画面で拒否した場合（error=access_denied）はエラー応答にせず、
// login_errorを付けてフロントエンドへ戻す。
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	stateCookie, err := r.Cookie(oauthStateCookie)
	if err != nil || stateCookie.Value == "" || stateCookie.Value != q.Get("state") {
		slog.Warn("oauth state mismatch", slog.Bool("has_cookie", err == nil))
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationError("state", "OAuthのstateが一致しません"))
		return
	}
	http.SetCookie(w, h.config.oauthCookie(oauthStateCookie, "", -1))
	http.SetCookie(w, h.config.oauthCookie(oauthReturnCookie, "", -1))

	returnTo := "/"
	if c, err := r.Cookie(oauthReturnCookie); err == nil {
		if raw, err := url.QueryUnescape(c.Value); err == nil {
			if p, ok := safeReturnPath(raw); ok {
				returnTo = p
			}
		}
	}

	if denied := q.Get("error"); denied != "" {
		slog.Info("oauth consent not granted", slog.String("error", denied))
		http.Redirect(w, r, h.config.frontendURL(returnTo, url.Values{"login_error": {denied}}), http.StatusTemporaryRedirect)
		return
	}

	code := q.Get("code")
	if code == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationError("code", "認可コードがありません"))
		return
	}

	session, err := h.service.HandleCallback(r.Context(), code)
	if err != nil {
		slog.Error("oauth callback failed", slog.String("error", err.Error()))
		writeAPIErrorResponse(w, http.StatusBadGateway, &model.APIError{
			Code:     "AUTHENTICATION_FAILED",
			Message:  "Googleでの認証に失敗しました。",
			Category: "auth",
			Action:   "もう一度ログインをお試しください。",
			Cause:    err,
		})
		return
	}

	http.SetCookie(w, h.config.sessionCookie(session.ID, h.config.SessionMaxAge))
	http.Redirect(w, r, h.config.frontendURL(returnTo, nil), http.StatusTemporaryRedirect)
}

// Logout はセッションを破棄してCookieを消す。フロントエンドのfetchから呼ぶので204を返す。
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(sessionCookieName); err == nil && c.Value != "" {
		if err := h.service.Logout(r.Context(), c.Value); err != nil {
			// ストアの失敗でもCookieは消す。セッション行は期限切れで掃除される。
			slog.Error("failed to delete session", slog.String("error", err.Error()))
		}
	}
	http.SetCookie(w, h.config.sessionCookie("", -1))
	w.WriteHeader(http.StatusNoContent)
}

// Me はログイン中のユーザーを返す。
// GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	c, err := r.Cookie(sessionCookieName)
	if err != nil || c.Value == "" {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
		return
	}
	user, err := h.service.GetCurrentUser(r.Context(), c.Value)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if user == nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(user))
}

// safeReturnPath は同一オリジン内の絶対パスだけを受け付ける。
// "//evil.example" や "/\evil.example" のようなプロトコル相対URLは拒否する。
func safeReturnPath(p string) (string, bool) {
	if p == "" || len(p) > 512 || p[0] != '/' {
		return "", false
	}
	if len(p) > 1 && (p[1] == '/' || p[1] == '\\') {
		return "", false
	}
	u, err := url.Parse(p)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return "", false
	}
	return p, true
}

func randomToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
