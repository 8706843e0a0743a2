package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/rankinge/internal/model"
)

// AIServiceInterface はAIテキスト生成のサービスインターフェース。ai.Serviceが実装する。
type AIServiceInterface interface {
	Generate(ctx context.Context, req model.GenerationRequest) (*model.GenerationResult, error)
}

// AIHandler はAIテキスト生成のHTTPハンドラー。
type AIHandler struct {
	service AIServiceInterface
}

// NewAIHandler はAIHandlerを生成する。
func NewAIHandler(service AIServiceInterface) *AIHandler {
	return &AIHandler{service: service}
}

type generateRequest struct {
	Type    string         `json:"type"`
	Prompt  string         `json:"prompt"`
	Context map[string]any `json:"context,omitempty"`
}

// Generate は管理画面の下書き用テキストを生成する。
// POST /api/admin/ai/generate
func (h *AIHandler) Generate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	res, err := h.service.Generate(r.Context(), model.GenerationRequest{
		Type:    model.GenerationType(req.Type),
		Prompt:  req.Prompt,
		Context: req.Context,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"result": res.Result})
}
