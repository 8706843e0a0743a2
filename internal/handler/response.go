package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/rankinge/internal/middleware"
	"github.com/hitoshi/rankinge/internal/model"
)

// maxRequestBodyBytes はJSONリクエストボディの上限（1MB）。
const maxRequestBodyBytes = 1 << 20

// writeJSON はステータスコードとJSONボディを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// writeAPIErrorResponse は統一エラーフォーマットでエラーレスポンスを書き込む。
func writeAPIErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	middleware.WriteErrorResponse(w, statusCode, apiErr)
}

// decodeJSON はリクエストボディをdstにデコードする。
// 失敗した場合は400を書き込んでfalseを返す。
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_REQUEST",
			Message:  "リクエストボディの解析に失敗しました。",
			Category: "validation",
			Action:   "正しいJSON形式でリクエストしてください。",
		})
		return false
	}
	return true
}

// requireUser はコンテキストから認証済みユーザーを取り出す。
// 見つからない場合は401を書き込んでnilを返す。
func requireUser(w http.ResponseWriter, r *http.Request) *model.User {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
		return nil
	}
	return user
}

// viewerFromRequest は公開ルートで閲覧者を取り出す。未ログインならnil。
func viewerFromRequest(r *http.Request) *model.User {
	user, _ := middleware.UserFromContext(r.Context())
	return user
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		statusCode := mapAPIErrorToHTTPStatus(apiErr)
		if statusCode >= http.StatusInternalServerError {
			attrs := []any{
				slog.String("code", apiErr.Code),
				slog.String("error", err.Error()),
			}
			if apiErr.Code == model.ErrCodeDataIntegrityViolation {
				slog.Error("vote count integrity violation", attrs...)
			} else {
				slog.Error("service error", attrs...)
			}
		}
		writeAPIErrorResponse(w, statusCode, apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	middleware.WriteInternalServerError(w)
}

// apiErrorStatus はAPIErrorコードとHTTPステータスコードの対応表。
var apiErrorStatus = map[string]int{
	model.ErrCodeInvalidTarget:          http.StatusBadRequest,
	model.ErrCodeUnauthenticated:        http.StatusUnauthorized,
	model.ErrCodeForbidden:              http.StatusForbidden,
	model.ErrCodeTransientStoreFailure:  http.StatusServiceUnavailable,
	model.ErrCodeDataIntegrityViolation: http.StatusInternalServerError,
	model.ErrCodeCategoryNotFound:       http.StatusNotFound,
	model.ErrCodeItemNotFound:           http.StatusNotFound,
	model.ErrCodePostNotFound:           http.StatusNotFound,
	model.ErrCodeUserNotFound:           http.StatusNotFound,
	model.ErrCodeValidationFailed:       http.StatusBadRequest,
	model.ErrCodeInvalidSetting:         http.StatusBadRequest,
	model.ErrCodeInvalidDisplayMode:     http.StatusBadRequest,
	model.ErrCodeInvalidURL:             http.StatusBadRequest,
	model.ErrCodeSSRFBlocked:            http.StatusBadRequest,
	model.ErrCodeDuplicateSlug:          http.StatusConflict,
	model.ErrCodePreviewFailed:          http.StatusBadGateway,
	model.ErrCodeAIRateLimited:          http.StatusTooManyRequests,
	model.ErrCodeAIQuotaExhausted:       http.StatusPaymentRequired,
	model.ErrCodeAIGenerationFailed:     http.StatusInternalServerError,
	model.ErrCodeAIDisabled:             http.StatusServiceUnavailable,
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
// 未知のコードは500。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	if status, ok := apiErrorStatus[apiErr.Code]; ok {
		return status
	}
	return http.StatusInternalServerError
}
