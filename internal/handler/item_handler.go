package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/rankinge/internal/model"
)

// ItemServiceInterface はアイテムハンドラーが必要とするサービスインターフェース。
type ItemServiceInterface interface {
	// List はカテゴリ内のアイテムをランキング順に返す。
	List(ctx context.Context, categoryID string) ([]*model.Item, error)
	Get(ctx context.Context, itemID string) (*model.Item, error)
	Create(ctx context.Context, categoryID string, input model.ItemInput) (*model.Item, error)
	// Update はnilでないフィールドのみ更新する。投票数は変更しない。
	Update(ctx context.Context, itemID string, input model.ItemInput) (*model.Item, error)
	Delete(ctx context.Context, itemID string) error
	// Recount はカテゴリ内の投票数をvotesから再計算し、補正した件数を返す。
	Recount(ctx context.Context, categoryID string) (int64, error)
	// Preview は商品ページのOGPからアイテム入力の下書きを作る。
	Preview(ctx context.Context, productURL string) (*model.ItemPreview, error)
}

// ItemHandler はアイテム管理のHTTPハンドラー。
type ItemHandler struct {
	service ItemServiceInterface
}

// NewItemHandler はItemHandlerを生成する。
func NewItemHandler(service ItemServiceInterface) *ItemHandler {
	return &ItemHandler{service: service}
}

type itemResponse struct {
	ID           string    `json:"id"`
	CategoryID   string    `json:"category_id"`
	Name         string    `json:"name"`
	Description  string    `json:"description"` // サニタイズ済みHTML
	ImageURL     string    `json:"image_url,omitempty"`
	ProductURL   string    `json:"product_url,omitempty"`
	AffiliateURL string    `json:"affiliate_url,omitempty"`
	VoteCount    int       `json:"vote_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func toItemResponse(it *model.Item) itemResponse {
	return itemResponse{
		ID:           it.ID,
		CategoryID:   it.CategoryID,
		Name:         it.Name,
		Description:  it.Description,
		ImageURL:     it.ImageURL,
		ProductURL:   it.ProductURL,
		AffiliateURL: it.AffiliateURL,
		VoteCount:    it.VoteCount,
		CreatedAt:    it.CreatedAt,
		UpdatedAt:    it.UpdatedAt,
	}
}

// itemRequest はアイテム作成・更新リクエストのボディ。
// vote_countは受け付けない（DisallowUnknownFieldsで400になる）。
type itemRequest struct {
	Name         *string `json:"name,omitempty"`
	Description  *string `json:"description,omitempty"`
	ImageURL     *string `json:"image_url,omitempty"`
	ProductURL   *string `json:"product_url,omitempty"`
	AffiliateURL *string `json:"affiliate_url,omitempty"`
}

func (req itemRequest) toInput() model.ItemInput {
	return model.ItemInput{
		Name:         req.Name,
		Description:  req.Description,
		ImageURL:     req.ImageURL,
		ProductURL:   req.ProductURL,
		AffiliateURL: req.AffiliateURL,
	}
}

// Get はアイテムを1件返す。
// GET /api/items/{itemId}
func (h *ItemHandler) Get(w http.ResponseWriter, r *http.Request) {
	it, err := h.service.Get(r.Context(), chi.URLParam(r, "itemId"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toItemResponse(it))
}

// Create はカテゴリにアイテムを追加する。
// POST /api/admin/categories/{id}/items
func (h *ItemHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req itemRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	it, err := h.service.Create(r.Context(), chi.URLParam(r, "id"), req.toInput())
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toItemResponse(it))
}

// Update はアイテムを部分更新する。
// PATCH /api/admin/items/{itemId}
func (h *ItemHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req itemRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	it, err := h.service.Update(r.Context(), chi.URLParam(r, "itemId"), req.toInput())
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toItemResponse(it))
}

// Delete はアイテムを削除する。このアイテムへの投票も削除される。
// DELETE /api/admin/items/{itemId}
func (h *ItemHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(r.Context(), chi.URLParam(r, "itemId")); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type previewRequest struct {
	URL string `json:"url"`
}

type previewResponse struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	ImageURL    string `json:"image_url,omitempty"`
	ProductURL  string `json:"product_url"`
}

// Preview は商品URLからアイテムの下書きを取得する。
// POST /api/admin/items/preview
func (h *ItemHandler) Preview(w http.ResponseWriter, r *http.Request) {
	var req previewRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationError("url", "必須です"))
		return
	}

	p, err := h.service.Preview(r.Context(), req.URL)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, previewResponse{
		Title:       p.Title,
		Description: p.Description,
		ImageURL:    p.ImageURL,
		ProductURL:  p.ProductURL,
	})
}
