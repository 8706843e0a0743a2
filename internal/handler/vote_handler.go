package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/rankinge/internal/model"
)

// VoteServiceInterface は投票ハンドラーが必要とするサービスインターフェース。vote.Ledgerが実装する。
type VoteServiceInterface interface {
	CastVote(ctx context.Context, userID, categoryID, itemID string) (model.VoteResult, error)
	RetractVote(ctx context.Context, userID, categoryID string) (model.VoteResult, error)
	CurrentVote(ctx context.Context, userID, categoryID string) (*model.Vote, error)
}

// VoteHandler は投票のHTTPハンドラー。
type VoteHandler struct {
	ledger VoteServiceInterface
}

// NewVoteHandler はVoteHandlerを生成する。
func NewVoteHandler(ledger VoteServiceInterface) *VoteHandler {
	return &VoteHandler{ledger: ledger}
}

type voteResponse struct {
	ID         string    `json:"id"`
	CategoryID string    `json:"category_id"`
	ItemID     string    `json:"item_id"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type voteResultResponse struct {
	Outcome        string        `json:"outcome"`
	Vote           *voteResponse `json:"vote"`
	PreviousItemID string        `json:"previous_item_id,omitempty"`
}

func toVoteResponse(v *model.Vote) *voteResponse {
	if v == nil {
		return nil
	}
	return &voteResponse{
		ID:         v.ID,
		CategoryID: v.CategoryID,
		ItemID:     v.ItemID,
		CreatedAt:  v.CreatedAt,
		UpdatedAt:  v.UpdatedAt,
	}
}

func toVoteResultResponse(res model.VoteResult) voteResultResponse {
	return voteResultResponse{
		Outcome:        string(res.Outcome),
		Vote:           toVoteResponse(res.Vote),
		PreviousItemID: res.PreviousItemID,
	}
}

type castVoteRequest struct {
	ItemID string `json:"item_id"`
}

// Cast はカテゴリ内のアイテムに投票する。既に別アイテムへ投票済みなら移動する。
// PUT /api/categories/{id}/vote
func (h *VoteHandler) Cast(w http.ResponseWriter, r *http.Request) {
	user := requireUser(w, r)
	if user == nil {
		return
	}

	var req castVoteRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.ItemID) == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationError("item_id", "必須です"))
		return
	}

	res, err := h.ledger.CastVote(r.Context(), user.ID, chi.URLParam(r, "id"), req.ItemID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	status := http.StatusOK
	if res.Outcome == model.VoteCreated {
		status = http.StatusCreated
	}
	writeJSON(w, status, toVoteResultResponse(res))
}

// Retract はカテゴリ内の投票を取り消す。投票がなくても成功する。
// DELETE /api/categories/{id}/vote
func (h *VoteHandler) Retract(w http.ResponseWriter, r *http.Request) {
	user := requireUser(w, r)
	if user == nil {
		return
	}

	res, err := h.ledger.RetractVote(r.Context(), user.ID, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toVoteResultResponse(res))
}

// Current はカテゴリ内の自分の投票を返す。未投票ならvoteはnull。
// GET /api/categories/{id}/vote
func (h *VoteHandler) Current(w http.ResponseWriter, r *http.Request) {
	user := requireUser(w, r)
	if user == nil {
		return
	}

	v, err := h.ledger.CurrentVote(r.Context(), user.ID, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"vote": toVoteResponse(v)})
}
