package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/rankinge/internal/model"
)

// PostServiceInterface はブログ記事・固定ページのサービスインターフェース。content.Serviceが実装する。
type PostServiceInterface interface {
	List(ctx context.Context, kind model.PostKind, includeDrafts bool) ([]*model.Post, error)
	GetBySlug(ctx context.Context, kind model.PostKind, slug string, includeDrafts bool) (*model.Post, error)
	Create(ctx context.Context, input model.PostInput) (*model.Post, error)
	Update(ctx context.Context, id string, input model.PostInput) (*model.Post, error)
	Delete(ctx context.Context, id string) error
}

// PostHandler はブログ記事・固定ページのHTTPハンドラー。
type PostHandler struct {
	service PostServiceInterface
}

// NewPostHandler はPostHandlerを生成する。
func NewPostHandler(service PostServiceInterface) *PostHandler {
	return &PostHandler{service: service}
}

type postResponse struct {
	ID           string    `json:"id"`
	Kind         string    `json:"kind"`
	Slug         string    `json:"slug"`
	Title        string    `json:"title"`
	BodyMarkdown string    `json:"body_markdown,omitempty"`
	BodyHTML     string    `json:"body_html"`
	Published    bool      `json:"published"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// toPostResponse はMarkdown原文を管理者にのみ返す。
func toPostResponse(p *model.Post, withSource bool) postResponse {
	resp := postResponse{
		ID:        p.ID,
		Kind:      string(p.Kind),
		Slug:      p.Slug,
		Title:     p.Title,
		BodyHTML:  p.BodyHTML,
		Published: p.Published,
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
	if withSource {
		resp.BodyMarkdown = p.BodyMarkdown
	}
	return resp
}

// postKindFromQuery は?kind=を解釈する。省略時はblog。
func postKindFromQuery(r *http.Request) (model.PostKind, error) {
	s := r.URL.Query().Get("kind")
	if s == "" {
		return model.PostBlog, nil
	}
	kind, err := model.ParsePostKind(s)
	if err != nil {
		return "", model.NewValidationError("kind", "blogまたはpageを指定してください")
	}
	return kind, nil
}

func isAdmin(u *model.User) bool {
	return u != nil && u.IsAdmin()
}

// List は記事一覧を返す。管理者には下書きも含める。
// GET /api/posts?kind=blog|page
func (h *PostHandler) List(w http.ResponseWriter, r *http.Request) {
	kind, err := postKindFromQuery(r)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	admin := isAdmin(viewerFromRequest(r))

	posts, err := h.service.List(r.Context(), kind, admin)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]postResponse, len(posts))
	for i, p := range posts {
		resp[i] = toPostResponse(p, admin)
	}
	writeJSON(w, http.StatusOK, map[string]any{"posts": resp})
}

// Get はスラッグで記事を返す。
// GET /api/posts/{slug}?kind=blog|page
func (h *PostHandler) Get(w http.ResponseWriter, r *http.Request) {
	kind, err := postKindFromQuery(r)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	admin := isAdmin(viewerFromRequest(r))

	p, err := h.service.GetBySlug(r.Context(), kind, chi.URLParam(r, "slug"), admin)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPostResponse(p, admin))
}

type postRequest struct {
	Kind      *string `json:"kind,omitempty"`
	Slug      *string `json:"slug,omitempty"`
	Title     *string `json:"title,omitempty"`
	Body      *string `json:"body,omitempty"`
	Published *bool   `json:"published,omitempty"`
}

func (req postRequest) toInput() (model.PostInput, error) {
	input := model.PostInput{
		Slug:      req.Slug,
		Title:     req.Title,
		Body:      req.Body,
		Published: req.Published,
	}
	if req.Kind != nil {
		kind, err := model.ParsePostKind(*req.Kind)
		if err != nil {
			return input, model.NewValidationError("kind", "blogまたはpageを指定してください")
		}
		input.Kind = &kind
	}
	return input, nil
}

// Create は記事を作成する。
// POST /api/admin/posts
func (h *PostHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req postRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	input, err := req.toInput()
	if err != nil {
		handleServiceError(w, err)
		return
	}

	p, err := h.service.Create(r.Context(), input)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPostResponse(p, true))
}

// Update は記事を部分更新する。
// PATCH /api/admin/posts/{id}
func (h *PostHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req postRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	input, err := req.toInput()
	if err != nil {
		handleServiceError(w, err)
		return
	}

	p, err := h.service.Update(r.Context(), chi.URLParam(r, "id"), input)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPostResponse(p, true))
}

// Delete は記事を削除する。
// DELETE /api/admin/posts/{id}
func (h *PostHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
