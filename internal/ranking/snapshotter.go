package ranking

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/rankinge/internal/metrics"
	"github.com/hitoshi/rankinge/internal/model"
	"github.com/hitoshi/rankinge/internal/repository"
)

// CacheInvalidator はスナップショット保存後に破棄すべきキャッシュ。Calculatorが実装する。
type CacheInvalidator interface {
	Invalidate(categoryID string)
}

// Snapshotter はカテゴリの現在の順位を記録する。
type Snapshotter struct {
	categories repository.CategoryRepository
	items      repository.ItemRepository
	snapshots  repository.SnapshotRepository
	cache      CacheInvalidator
	metrics    metrics.MetricsCollector
	logger     *slog.Logger
	now        func() time.Time
}

// NewSnapshotter はSnapshotterを生成する。cacheはnilでもよい。
func NewSnapshotter(
	categories repository.CategoryRepository,
	items repository.ItemRepository,
	snapshots repository.SnapshotRepository,
	cache CacheInvalidator,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
) *Snapshotter {
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &Snapshotter{
		categories: categories,
		items:      items,
		snapshots:  snapshots,
		cache:      cache,
		metrics:    collector,
		logger:     logger,
		now:        time.Now,
	}
}

// CaptureSnapshot はカテゴリ内の全アイテムを1回で読み取り、順位を付けて
// 共通のタイムスタンプで保存する。保存したタイムスタンプを返す。
// アイテムがないカテゴリでは何も保存せずにタイムスタンプだけを返す。
// 投票はブロックしない。再試行は呼び出し側が行う。
func (s *Snapshotter) CaptureSnapshot(ctx context.Context, categoryID string) (time.Time, error) {
	start := time.Now()

	c, err := s.categories.FindByID(ctx, categoryID)
	if err != nil {
		s.metrics.RecordSnapshotFailure()
		return time.Time{}, model.NewTransientStoreError("get category", err)
	}
	if c == nil {
		return time.Time{}, model.NewInvalidTargetError("カテゴリが存在しません: " + categoryID)
	}

	ptrs, err := s.items.ListByCategory(ctx, categoryID)
	if err != nil {
		s.metrics.RecordSnapshotFailure()
		return time.Time{}, model.NewTransientStoreError("read items for snapshot", err)
	}

	// PostgreSQLのtimestamptzはマイクロ秒精度
	ts := s.now().UTC().Truncate(time.Microsecond)

	items := make([]model.Item, len(ptrs))
	for i, p := range ptrs {
		items[i] = *p
	}
	SortItems(items)

	rows := make([]model.RankingSnapshot, len(items))
	for i, it := range items {
		rows[i] = model.RankingSnapshot{
			ID:                uuid.NewString(),
			CategoryID:        categoryID,
			ItemID:            it.ID,
			RankPosition:      i + 1,
			VoteCount:         it.VoteCount,
			SnapshotTimestamp: ts,
		}
	}

	if len(rows) > 0 {
		if err := s.snapshots.InsertBatch(ctx, rows); err != nil {
			s.metrics.RecordSnapshotFailure()
			return time.Time{}, model.NewTransientStoreError("write snapshot", err)
		}
	}

	if s.cache != nil {
		s.cache.Invalidate(categoryID)
	}
	s.metrics.RecordSnapshotCaptured(len(rows))
	s.metrics.RecordSnapshotLatency(time.Since(start))
	s.logger.Info("ranking snapshot captured",
		slog.String("category_id", categoryID),
		slog.Int("rows", len(rows)),
		slog.Time("snapshot_timestamp", ts),
	)
	return ts, nil
}
