package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hitoshi/rankinge/internal/metrics"
)

const requestIDHeader = "X-Request-ID"

// maxRequestIDLength を超えるX-Request-IDは信用せず振り直す。
const maxRequestIDLength = 64

type requestLogKey struct{}

// requestLog はリクエスト1件分のログ属性。内側のミドルウェアが後から書き足す。
type requestLog struct {
	id     string
	userID string
}

// RequestIDFromContext はロギングミドルウェアが割り当てたリクエストIDを返す。
func RequestIDFromContext(ctx context.Context) string {
	if rl, ok := ctx.Value(requestLogKey{}).(*requestLog); ok {
		return rl.id
	}
	return ""
}

// noteUser はセッション解決後のユーザーIDをリクエストログに残す。
func noteUser(ctx context.Context, userID string) {
	if rl, ok := ctx.Value(requestLogKey{}).(*requestLog); ok {
		rl.userID = userID
	}
}

// responseRecorder はステータスコードと書き込みバイト数を記録する。
// SSEのためにFlushとUnwrapを下位へ通す。
type responseRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (rr *responseRecorder) WriteHeader(code int) {
	if rr.status == 0 {
		rr.status = code
	}
	rr.ResponseWriter.WriteHeader(code)
}

func (rr *responseRecorder) Write(b []byte) (int, error) {
	if rr.status == 0 {
		rr.status = http.StatusOK
	}
	n, err := rr.ResponseWriter.Write(b)
	rr.bytes += n
	return n, err
}

func (rr *responseRecorder) Flush() {
	if rr.status == 0 {
		rr.status = http.StatusOK
	}
	if f, ok := rr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rr *responseRecorder) Unwrap() http.ResponseWriter {
	return rr.ResponseWriter
}

func (rr *responseRecorder) statusCode() int {
	if rr.status == 0 {
		return http.StatusOK
	}
	return rr.status
}

// NewLoggingMiddleware はリクエストごとにIDを割り当て、完了時に構造化ログを1行出す。
//
// ログの属性: request_id, method, path, route, status, bytes, duration_ms, user_id（ログイン時のみ）。
// routeはchiのルートパターンで、/api/categories/{id}/ranking のようにIDを含まない。
// 5xxはERROR、4xxはWARN、それ以外はINFOで出す。
func NewLoggingMiddleware(logger *slog.Logger, collector metrics.MetricsCollector) func(next http.Handler) http.Handler {
	if collector == nil {
		collector = metrics.Nop{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			requestID := r.Header.Get(requestIDHeader)
			if requestID == "" || len(requestID) > maxRequestIDLength {
				requestID = uuid.NewString()
			}
			w.Header().Set(requestIDHeader, requestID)
			rl := &requestLog{id: requestID}
			r = r.WithContext(context.WithValue(r.Context(), requestLogKey{}, rl))

			rec := &responseRecorder{ResponseWriter: w}
			next.ServeHTTP(rec, r)

			status := rec.statusCode()
			collector.RecordHTTPStatus(status)

			attrs := []any{
				slog.String("request_id", requestID),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("route", routePattern(r)),
				slog.Int("status", status),
				slog.Int("bytes", rec.bytes),
				slog.Float64("duration_ms", float64(time.Since(start).Microseconds())/1000),
			}
			if rl.userID == "" {
				rl.userID, _ = UserIDFromContext(r.Context())
			}
			if rl.userID != "" {
				attrs = append(attrs, slog.String("user_id", rl.userID))
			}

			level := slog.LevelInfo
			switch {
			case status >= http.StatusInternalServerError:
				level = slog.LevelError
			case status >= http.StatusBadRequest:
				level = slog.LevelWarn
			}
			logger.Log(r.Context(), level, "http_request", attrs...)
		})
	}
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		return rctx.RoutePattern()
	}
	return ""
}
