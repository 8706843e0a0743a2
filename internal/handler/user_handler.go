package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/rankinge/internal/model"
)

// UserServiceInterface はユーザーハンドラーが必要とするサービスインターフェース。
type UserServiceInterface interface {
	// Withdraw はユーザーの退会処理を実行する。
	// 投票を取り消して集計を戻してから、セッションとユーザーを削除する。
	Withdraw(ctx context.Context, userID string) error
	List(ctx context.Context, limit, offset int) ([]*model.User, error)
	SetRole(ctx context.Context, actor *model.User, userID, role string) (*model.User, error)
}

// UserHandler はユーザー管理のHTTPハンドラー。
type UserHandler struct {
	service UserServiceInterface
	cookies AuthHandlerConfig
}

// NewUserHandler はUserHandlerを生成する。
// 退会時にセッションCookieを消すためにCookie設定を受け取る。
func NewUserHandler(service UserServiceInterface, cookies AuthHandlerConfig) *UserHandler {
	return &UserHandler{
		service: service,
		cookies: cookies,
	}
}

type userResponse struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

func toUserResponse(u *model.User) userResponse {
	return userResponse{
		ID:        u.ID,
		Email:     u.Email,
		Name:      u.Name,
		Role:      string(u.Role),
		CreatedAt: u.CreatedAt,
	}
}

// Withdraw はユーザーの退会処理を実行する。
// DELETE /api/users/me
func (h *UserHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	user := requireUser(w, r)
	if user == nil {
		return
	}

	if err := h.service.Withdraw(r.Context(), user.ID); err != nil {
		handleServiceError(w, err)
		return
	}

	http.SetCookie(w, h.cookies.sessionCookie("", -1))
	w.WriteHeader(http.StatusNoContent)
}

// List はユーザー一覧を返す。
// GET /api/admin/users?limit=50&offset=0
func (h *UserHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	users, err := h.service.List(r.Context(), limit, offset)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]userResponse, len(users))
	for i, u := range users {
		resp[i] = toUserResponse(u)
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": resp})
}

type setRoleRequest struct {
	Role string `json:"role"`
}

// SetRole はユーザーの権限を変更する。
// PUT /api/admin/users/{id}/role
func (h *UserHandler) SetRole(w http.ResponseWriter, r *http.Request) {
	actor := requireUser(w, r)
	if actor == nil {
		return
	}

	var req setRoleRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	updated, err := h.service.SetRole(r.Context(), actor, chi.URLParam(r, "id"), req.Role)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(updated))
}
