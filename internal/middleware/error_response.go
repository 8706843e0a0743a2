package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/hitoshi/rankinge/internal/model"
)

// ErrorResponseBody はAPIエラーレスポンスの本文。
// request_idはログとの突き合わせに使う。
type ErrorResponseBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Category  string `json:"category"`
	Action    string `json:"action"`
	RequestID string `json:"request_id,omitempty"`
}

// WriteErrorResponse はapiErrをstatusCodeで書き込む。
// ロギングミドルウェアが付けたX-Request-IDがあれば本文にも載せる。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	body := ErrorResponseBody{
		Code:      apiErr.Code,
		Message:   apiErr.Message,
		Category:  apiErr.Category,
		Action:    apiErr.Action,
		RequestID: w.Header().Get(requestIDHeader),
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Debug("failed to write error response", slog.String("error", err.Error()))
	}
}

// internalError は詳細を伏せた500用のエラー。原因はログにだけ残す。
var internalError = model.APIError{
	Code:     "INTERNAL_ERROR",
	Message:  "内部エラーが発生しました。",
	Category: "system",
	Action:   "しばらく待ってから再度お試しください。",
}

// WriteInternalServerError は500の共通レスポンスを書き込む。
func WriteInternalServerError(w http.ResponseWriter) {
	apiErr := internalError
	WriteErrorResponse(w, http.StatusInternalServerError, &apiErr)
}
