// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/hitoshi/rankinge/internal/model"
)

const sessionCookieName = "session_id"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// userContextKey はリクエストコンテキストに認証済みユーザーを格納するためのキー。
var userContextKey = contextKey("user")

// UserResolver はセッションIDから現在のユーザーを解決する。
// auth.Serviceが実装する。
type UserResolver interface {
	GetCurrentUser(ctx context.Context, sessionID string) (*model.User, error)
}

// NewSessionMiddleware はHTTP Only Cookieからセッションを読み取り、
// 認証済みユーザーをリクエストコンテキストに注入するミドルウェアを返す。
// 未認証リクエストには401、セッションストア障害には503を返す。
func NewSessionMiddleware(resolver UserResolver) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, err := resolveUser(r, resolver)
			if err != nil {
				writeSessionError(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(ContextWithUser(r.Context(), user)))
		})
	}
}

// NewOptionalSessionMiddleware は公開ルート用のセッションミドルウェアを返す。
// ログイン済みであればユーザーを注入し、未ログインやエラー時はそのまま通す。
func NewOptionalSessionMiddleware(resolver UserResolver) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, err := resolveUser(r, resolver)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r.WithContext(ContextWithUser(r.Context(), user)))
		})
	}
}

// RequireAdmin は管理者以外のリクエストを403で拒否する。
// セッションミドルウェアの後に配置する。
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := UserFromContext(r.Context())
		if !ok {
			WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
			return
		}
		if !user.IsAdmin() {
			WriteErrorResponse(w, http.StatusForbidden, model.NewForbiddenError())
			return
		}
		next.ServeHTTP(w, r)
	})
}

func resolveUser(r *http.Request, resolver UserResolver) (*model.User, error) {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil || cookie.Value == "" {
		return nil, model.NewUnauthenticatedError()
	}
	return resolver.GetCurrentUser(r.Context(), cookie.Value)
}

func writeSessionError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Code == model.ErrCodeTransientStoreFailure {
			slog.Error("failed to resolve session", slog.String("error", err.Error()))
			WriteErrorResponse(w, http.StatusServiceUnavailable, apiErr)
			return
		}
		WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
		return
	}
	slog.Error("failed to resolve session", slog.String("error", err.Error()))
	WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
}

// UserFromContext はリクエストコンテキストから認証済みユーザーを取得する。
func UserFromContext(ctx context.Context) (*model.User, bool) {
	user, ok := ctx.Value(userContextKey).(*model.User)
	return user, ok && user != nil
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
// セッションミドルウェアを通過したリクエストでのみ有効。
func UserIDFromContext(ctx context.Context) (string, error) {
	user, ok := UserFromContext(ctx)
	if !ok || user.ID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return user.ID, nil
}

// ContextWithUser はコンテキストにユーザーを注入する。
// ロギングミドルウェアの内側ならリクエストログにもユーザーIDを残す。
func ContextWithUser(ctx context.Context, user *model.User) context.Context {
	if user != nil {
		noteUser(ctx, user.ID)
	}
	return context.WithValue(ctx, userContextKey, user)
}
