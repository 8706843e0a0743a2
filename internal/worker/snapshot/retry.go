package snapshot

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/rankinge/internal/model"
)

const (
	// defaultMaxAttempts は1カテゴリあたりの最大試行回数（初回を含む）。
	defaultMaxAttempts = 4
	// defaultInitialBackoff は指数バックオフの初回遅延。
	defaultInitialBackoff = 2 * time.Second
	// defaultMaxBackoff は指数バックオフの最大遅延。
	defaultMaxBackoff = 30 * time.Second
)

// RetryPolicy は一時的な障害に対する再試行の設定。
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultRetryPolicy はデフォルトの再試行設定を返す。
// 最大4回試行、初回2秒、2倍ずつ増加、最大30秒。
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    defaultMaxAttempts,
		InitialBackoff: defaultInitialBackoff,
		MaxBackoff:     defaultMaxBackoff,
	}
}

// Backoff は失敗回数に基づいて次の試行までの遅延を計算する。
// failures=1 で InitialBackoff、以降2倍ずつ増加し MaxBackoff で頭打ちになる。
func (p RetryPolicy) Backoff(failures int) time.Duration {
	delay := p.InitialBackoff
	for i := 1; i < failures; i++ {
		delay *= 2
		if delay >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	if delay > p.MaxBackoff {
		return p.MaxBackoff
	}
	return delay
}

// IsRetryable はエラーが再試行で回復しうる一時的な障害かを判定する。
// カテゴリ未検出などの恒久的なエラーは再試行しない。
func IsRetryable(err error) bool {
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Code == model.ErrCodeTransientStoreFailure
}

// sleepContext はdだけ待機する。コンテキストがキャンセルされた場合は即座に戻る。
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
