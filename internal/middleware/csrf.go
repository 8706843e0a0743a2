package middleware

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/rankinge/internal/model"
)

const (
	// csrfCookieName はフロントエンドが読み取ってヘッダーに写すため、HttpOnlyにしない。
	csrfCookieName = "csrf_token"
	csrfHeaderName = "X-CSRF-Token"
	csrfCookieAge  = 24 * 60 * 60
	csrfTokenBytes = 32
)

// CSRFConfig はCSRF対策の設定。
type CSRFConfig struct {
	CookieSecure bool
	CookieDomain string
	// TrustedOrigins は状態変更リクエストのOriginとして受け付けるオリジン（カンマ区切り）。
	// 空ならOriginは検査せず、ダブルサブミットトークンだけで判定する。
	TrustedOrigins string
}

func (c CSRFConfig) trusted() map[string]bool {
	m := make(map[string]bool)
	for _, o := range strings.Split(c.TrustedOrigins, ",") {
		if o = strings.TrimRight(strings.TrimSpace(o), "/"); o != "" {
			m[o] = true
		}
	}
	return m
}

// NewCSRFMiddleware は投票や管理操作などの状態変更リクエストを検証する。
// Cookieとヘッダーのトークンが一致し、Originがあれば信頼済みであることを要求する。
// 安全なメソッドは検証せず、トークンCookieがなければ発行する。
func NewCSRFMiddleware(cfg CSRFConfig) func(next http.Handler) http.Handler {
	trusted := cfg.trusted()
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				if _, err := r.Cookie(csrfCookieName); err != nil {
					if _, err := issueCSRFToken(w, cfg); err != nil {
						slog.Error("failed to issue CSRF token", slog.String("error", err.Error()))
					}
				}
				next.ServeHTTP(w, r)
				return
			}

			if reason := rejectCSRF(r, trusted); reason != "" {
				slog.Warn("CSRF validation failed",
					slog.String("reason", reason),
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.String("request_id", RequestIDFromContext(r.Context())),
				)
				WriteErrorResponse(w, http.StatusForbidden, &model.APIError{
					Code:     "CSRF_TOKEN_INVALID",
					Message:  "CSRFトークンの検証に失敗しました。",
					Category: "auth",
					Action:   "ページを再読み込みしてから再度お試しください。",
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// NewCSRFTokenHandler はGET /api/csrf-tokenのハンドラー。
// Cookieにトークンがあればそれを、なければ新しく発行して {"token": ...} で返す。
func NewCSRFTokenHandler(cfg CSRFConfig) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := ""
		if c, err := r.Cookie(csrfCookieName); err == nil {
			token = c.Value
		}
		if token == "" {
			var err error
			if token, err = issueCSRFToken(w, cfg); err != nil {
				slog.Error("failed to issue CSRF token", slog.String("error", err.Error()))
				WriteInternalServerError(w)
				return
			}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(struct {
			Token string `json:"token"`
		}{token})
	})
}

func issueCSRFToken(w http.ResponseWriter, cfg CSRFConfig) (string, error) {
	b := make([]byte, csrfTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	token := base64.RawURLEncoding.EncodeToString(b)
	http.SetCookie(w, &http.Cookie{
		Name:     csrfCookieName,
		Value:    token,
		Path:     "/",
		Domain:   cfg.CookieDomain,
		MaxAge:   csrfCookieAge,
		Secure:   cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	return token, nil
}

// rejectCSRF は拒否理由を返す。受け付ける場合は空文字列。
func rejectCSRF(r *http.Request, trusted map[string]bool) string {
	if origin := r.Header.Get("Origin"); origin != "" && len(trusted) > 0 && !trusted[origin] {
		return "untrusted origin"
	}
	cookie, err := r.Cookie(csrfCookieName)
	if err != nil || cookie.Value == "" {
		return "missing cookie token"
	}
	header := r.Header.Get(csrfHeaderName)
	if header == "" {
		return "missing header token"
	}
	if subtle.ConstantTimeCompare([]byte(cookie.Value), []byte(header)) != 1 {
		return "token mismatch"
	}
	return ""
}
