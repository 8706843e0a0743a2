package middleware

import (
	"net/http"
	"strings"
)

// SecurityHeadersConfig はNewSecurityHeadersMiddlewareの設定。
type SecurityHeadersConfig struct {
	// HSTS はStrict-Transport-Securityを付けるか。HTTPSで公開する場合だけtrueにする。
	HSTS bool
}

// APIはJSONとSSEしか返さないので、CSPはすべてを拒否してよい。
const apiContentSecurityPolicy = "default-src 'none'; frame-ancestors 'none'"

// NewSecurityHeadersMiddleware はAPIレスポンスにセキュリティヘッダーを付与する。
// /apiと/authの応答はユーザーごとに異なるため、共有キャッシュに載せない。
func NewSecurityHeadersMiddleware(cfg SecurityHeadersConfig) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Referrer-Policy", "no-referrer")
			h.Set("Content-Security-Policy", apiContentSecurityPolicy)
			h.Set("Cross-Origin-Resource-Policy", "same-site")
			if cfg.HSTS {
				h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
			}
			if isPrivatePath(r.URL.Path) {
				h.Set("Cache-Control", "no-store")
			}
			next.ServeHTTP(w, r)
		})
	}
}

func isPrivatePath(path string) bool {
	return strings.HasPrefix(path, "/api/") || strings.HasPrefix(path, "/auth/")
}
