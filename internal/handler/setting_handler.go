package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/rankinge/internal/model"
)

// SettingServiceInterface はアプリ設定のサービスインターフェース。setting.Serviceが実装する。
type SettingServiceInterface interface {
	Current(ctx context.Context) (model.Settings, error)
	List(ctx context.Context) ([]*model.AppSetting, error)
	Set(ctx context.Context, key, value string) (*model.AppSetting, error)
}

// SettingHandler はアプリ設定のHTTPハンドラー。
type SettingHandler struct {
	service SettingServiceInterface
}

// NewSettingHandler はSettingHandlerを生成する。
func NewSettingHandler(service SettingServiceInterface) *SettingHandler {
	return &SettingHandler{service: service}
}

type settingResponse struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Public は未ログインでも参照できる設定を返す。AIプロバイダーは含めない。
// GET /api/settings/public
func (h *SettingHandler) Public(w http.ResponseWriter, r *http.Request) {
	s, err := h.service.Current(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		model.SettingVoteDisplayMode: string(s.VoteDisplayMode),
	})
}

// List は保存済みの全設定を返す。
// GET /api/admin/settings
func (h *SettingHandler) List(w http.ResponseWriter, r *http.Request) {
	settings, err := h.service.List(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]settingResponse, len(settings))
	for i, s := range settings {
		resp[i] = settingResponse{Key: s.Key, Value: s.Value, UpdatedAt: s.UpdatedAt}
	}
	writeJSON(w, http.StatusOK, map[string]any{"settings": resp})
}

type setSettingRequest struct {
	Value string `json:"value"`
}

// Set は設定値を更新する。未知のキーや不正な値は400。
// PUT /api/admin/settings/{key}
func (h *SettingHandler) Set(w http.ResponseWriter, r *http.Request) {
	var req setSettingRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	s, err := h.service.Set(r.Context(), chi.URLParam(r, "key"), req.Value)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, settingResponse{Key: s.Key, Value: s.Value, UpdatedAt: s.UpdatedAt})
}
