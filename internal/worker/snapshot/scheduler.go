// Package snapshot はランキングスナップショットの定期取得を提供する。
// スケジューラと一時障害に対する再試行戦略を含む。
package snapshot

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// CategoryLister はスナップショット対象の承認済みカテゴリを列挙する。
type CategoryLister interface {
	ListApprovedIDs(ctx context.Context) ([]string, error)
}

// Capturer は1カテゴリ分のスナップショットを取得する。ranking.Snapshotterが実装する。
type Capturer interface {
	CaptureSnapshot(ctx context.Context, categoryID string) (time.Time, error)
}

// Summary は1回のスナップショットサイクルの結果。
type Summary struct {
	Categories int `json:"categories"`
	Captured   int `json:"captured"`
	Failed     int `json:"failed"`
}

// Scheduler は承認済みカテゴリのスナップショット取得をスケジューリングする。
// semaphoreパターンで最大並列数を制御し、一時的な障害は指数バックオフで再試行する。
type Scheduler struct {
	lister         CategoryLister
	capturer       Capturer
	logger         *slog.Logger
	maxConcurrency int
	retry          RetryPolicy
	sleep          func(ctx context.Context, d time.Duration) error

	// cycleMu は定期実行と管理画面からの手動実行が重ならないようにする。
	cycleMu sync.Mutex
}

// NewScheduler はSchedulerの新しいインスタンスを生成する。
// maxConcurrencyが0以下の場合はデフォルト値4を使用する。
func NewScheduler(
	lister CategoryLister,
	capturer Capturer,
	logger *slog.Logger,
	maxConcurrency int,
	retry RetryPolicy,
) *Scheduler {
	if maxConcurrency <= 0 {
		maxConcurrency = 4
	}
	if retry.MaxAttempts <= 0 {
		retry = DefaultRetryPolicy()
	}
	return &Scheduler{
		lister:         lister,
		capturer:       capturer,
		logger:         logger,
		maxConcurrency: maxConcurrency,
		retry:          retry,
		sleep:          sleepContext,
	}
}

// Start は指定間隔のティッカーでスケジューラを起動する。
// コンテキストがキャンセルされるまで実行を継続する。
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("スナップショットスケジューラを開始しました",
		slog.Duration("interval", interval),
		slog.Int("max_concurrency", s.maxConcurrency),
	)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("スナップショットスケジューラを停止しました")
			return
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil {
				s.logger.Error("スナップショットサイクルの実行に失敗しました",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// RunOnce は承認済みカテゴリを1回列挙し、並列でスナップショットを取得する。
// 個々のカテゴリの失敗はログに記録してSummaryに数え、サイクル全体は止めない。
func (s *Scheduler) RunOnce(ctx context.Context) (Summary, error) {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()

	start := time.Now()

	ids, err := s.lister.ListApprovedIDs(ctx)
	if err != nil {
		return Summary{}, err
	}
	if len(ids) == 0 {
		s.logger.Info("スナップショット対象のカテゴリはありません")
		return Summary{}, nil
	}

	var captured, failed atomic.Int64
	sem := make(chan struct{}, s.maxConcurrency)
	var wg sync.WaitGroup

	for _, id := range ids {
		wg.Add(1)
		sem <- struct{}{} // semaphore取得（ブロック）

		go func(categoryID string) {
			defer wg.Done()
			defer func() { <-sem }() // semaphore解放

			if err := s.captureWithRetry(ctx, categoryID); err != nil {
				failed.Add(1)
				s.logger.Error("スナップショットの取得に失敗しました",
					slog.String("category_id", categoryID),
					slog.String("error", err.Error()),
				)
				return
			}
			captured.Add(1)
		}(id)
	}

	wg.Wait()

	summary := Summary{
		Categories: len(ids),
		Captured:   int(captured.Load()),
		Failed:     int(failed.Load()),
	}
	s.logger.Info("スナップショットサイクルが完了しました",
		slog.Int("category_count", summary.Categories),
		slog.Int("captured", summary.Captured),
		slog.Int("failed", summary.Failed),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return summary, nil
}

// captureWithRetry は一時的な障害の場合だけ指数バックオフで再試行する。
func (s *Scheduler) captureWithRetry(ctx context.Context, categoryID string) error {
	var lastErr error
	for attempt := 1; attempt <= s.retry.MaxAttempts; attempt++ {
		_, err := s.capturer.CaptureSnapshot(ctx, categoryID)
		if err == nil {
			return nil
		}
		lastErr = err
		if !IsRetryable(err) || attempt == s.retry.MaxAttempts {
			break
		}

		delay := s.retry.Backoff(attempt)
		s.logger.Warn("スナップショットを再試行します",
			slog.String("category_id", categoryID),
			slog.Int("attempt", attempt),
			slog.Duration("backoff", delay),
			slog.String("error", err.Error()),
		)
		if err := s.sleep(ctx, delay); err != nil {
			return err
		}
	}
	return lastErr
}
