package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/rankinge/internal/model"
	"github.com/hitoshi/rankinge/internal/repository"
)

// CategoryServiceInterface はカテゴリハンドラーが必要とするサービスインターフェース。
type CategoryServiceInterface interface {
	List(ctx context.Context, viewer *model.User, filter repository.CategoryFilter) ([]*model.Category, error)
	Get(ctx context.Context, viewer *model.User, idOrSlug string) (*model.Category, error)
	Submit(ctx context.Context, author *model.User, input model.CategoryInput) (*model.Category, error)
	Update(ctx context.Context, editor *model.User, id string, input model.CategoryInput) (*model.Category, error)
	Approve(ctx context.Context, id string) (*model.Category, error)
	Delete(ctx context.Context, id string) error
}

// CategoryHandler はカテゴリ管理のHTTPハンドラー。
type CategoryHandler struct {
	service CategoryServiceInterface
}

// NewCategoryHandler はCategoryHandlerを生成する。
func NewCategoryHandler(service CategoryServiceInterface) *CategoryHandler {
	return &CategoryHandler{service: service}
}

type categoryResponse struct {
	ID          string    `json:"id"`
	Slug        string    `json:"slug,omitempty"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	GroupTag    string    `json:"group_tag,omitempty"`
	Status      string    `json:"status"`
	ParentID    *string   `json:"parent_id,omitempty"`
	DisplayMode string    `json:"display_mode"`
	CreatedBy   string    `json:"created_by,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func toCategoryResponse(c *model.Category) categoryResponse {
	return categoryResponse{
		ID:          c.ID,
		Slug:        c.Slug,
		Name:        c.Name,
		Description: c.Description,
		GroupTag:    c.GroupTag,
		Status:      string(c.Status),
		ParentID:    c.ParentID,
		DisplayMode: string(c.DisplayMode),
		CreatedBy:   c.CreatedBy,
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
	}
}

// categoryRequest はカテゴリ作成・更新リクエストのボディ。
// 省略したフィールドは変更しない。
type categoryRequest struct {
	Slug        *string `json:"slug,omitempty"`
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	GroupTag    *string `json:"group_tag,omitempty"`
	ParentID    *string `json:"parent_id,omitempty"`
	DisplayMode *string `json:"display_mode,omitempty"`
}

func (req categoryRequest) toInput() (model.CategoryInput, error) {
	input := model.CategoryInput{
		Slug:        req.Slug,
		Name:        req.Name,
		Description: req.Description,
		GroupTag:    req.GroupTag,
		ParentID:    req.ParentID,
	}
	if req.DisplayMode != nil {
		mode, err := model.ParseDisplayMode(*req.DisplayMode)
		if err != nil {
			return input, model.NewInvalidDisplayModeError(*req.DisplayMode)
		}
		input.DisplayMode = &mode
	}
	return input, nil
}

// List はカテゴリ一覧を返す。
// GET /api/categories?status=pending&group=xxx&parent=yyy
// 管理者以外には承認済みのカテゴリのみを返す。
func (h *CategoryHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := repository.CategoryFilter{
		GroupTag: q.Get("group"),
		ParentID: q.Get("parent"),
	}
	if s := q.Get("status"); s != "" {
		status, err := model.ParseApprovalStatus(s)
		if err != nil {
			writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationError("status", "pendingまたはapprovedを指定してください"))
			return
		}
		filter.Status = status
	}

	categories, err := h.service.List(r.Context(), viewerFromRequest(r), filter)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]categoryResponse, len(categories))
	for i, c := range categories {
		resp[i] = toCategoryResponse(c)
	}
	writeJSON(w, http.StatusOK, map[string]any{"categories": resp})
}

// Get はIDまたはスラッグでカテゴリを返す。
// GET /api/categories/{id}
func (h *CategoryHandler) Get(w http.ResponseWriter, r *http.Request) {
	c, err := h.service.Get(r.Context(), viewerFromRequest(r), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCategoryResponse(c))
}

// Submit はカテゴリを投稿する。一般ユーザーの投稿は承認待ちになる。
// POST /api/categories
func (h *CategoryHandler) Submit(w http.ResponseWriter, r *http.Request) {
	user := requireUser(w, r)
	if user == nil {
		return
	}

	var req categoryRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	input, err := req.toInput()
	if err != nil {
		handleServiceError(w, err)
		return
	}

	c, err := h.service.Submit(r.Context(), user, input)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCategoryResponse(c))
}

// Update はカテゴリを更新する。作成者は承認前のみ、管理者はいつでも更新できる。
// PATCH /api/categories/{id}
func (h *CategoryHandler) Update(w http.ResponseWriter, r *http.Request) {
	user := requireUser(w, r)
	if user == nil {
		return
	}

	var req categoryRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	input, err := req.toInput()
	if err != nil {
		handleServiceError(w, err)
		return
	}

	c, err := h.service.Update(r.Context(), user, chi.URLParam(r, "id"), input)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCategoryResponse(c))
}

// Approve はカテゴリを承認する。
// POST /api/admin/categories/{id}/approve
func (h *CategoryHandler) Approve(w http.ResponseWriter, r *http.Request) {
	c, err := h.service.Approve(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCategoryResponse(c))
}

// Delete はカテゴリを削除する。アイテム・投票・スナップショットも削除される。
// DELETE /api/admin/categories/{id}
func (h *CategoryHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
