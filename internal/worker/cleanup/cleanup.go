// Package cleanup は古いランキングスナップショットと期限切れセッションの
// 日次削除ジョブを提供する。
package cleanup

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// Executor はSQLのExecContextを抽象化するインターフェース。
// *sql.DB や *sql.Tx を受け付けることができる。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// deleteSnapshotsQuery は保持期間を超えたスナップショット行を削除する。
// 各カテゴリの直近2バッチは保持期間に関わらず残し、順位変動を常に計算できるようにする。
const deleteSnapshotsQuery = `
DELETE FROM ranking_snapshots rs
WHERE rs.snapshot_timestamp < now() - $1::interval
  AND rs.snapshot_timestamp < (
    SELECT min(recent.ts) FROM (
      SELECT DISTINCT r2.snapshot_timestamp AS ts
      FROM ranking_snapshots r2
      WHERE r2.category_id = rs.category_id
      ORDER BY ts DESC
      LIMIT 2
    ) recent
  )`

const deleteSessionsQuery = `DELETE FROM sessions WHERE expires_at < now()`

// Result は1回のクリーンアップで削除した件数。
type Result struct {
	SnapshotRows int64
	Sessions     int64
}

// CleanupJob はスナップショットとセッションの自動削除ジョブ。
// 日次実行のバッチジョブとして設計されており、冪等な削除処理を保証する。
type CleanupJob struct {
	db            Executor
	logger        *slog.Logger
	RetentionDays int // スナップショットの保持日数（デフォルト: 90）
}

// NewCleanupJob は新しいCleanupJobを生成する。
// retentionDaysが0以下の場合はデフォルトの90日を使う。
func NewCleanupJob(db Executor, logger *slog.Logger, retentionDays int) *CleanupJob {
	if retentionDays <= 0 {
		retentionDays = 90
	}
	return &CleanupJob{
		db:            db,
		logger:        logger,
		RetentionDays: retentionDays,
	}
}

// Run は保持期間を超過したスナップショット行と期限切れセッションを削除する。
// 冪等: 削除対象がない場合でもエラーにならない。
func (j *CleanupJob) Run(ctx context.Context) (Result, error) {
	start := time.Now()

	interval := fmt.Sprintf("%d days", j.RetentionDays)
	snapshotRows, err := j.exec(ctx, "スナップショット", deleteSnapshotsQuery, interval)
	if err != nil {
		return Result{}, err
	}

	sessions, err := j.exec(ctx, "セッション", deleteSessionsQuery)
	if err != nil {
		return Result{SnapshotRows: snapshotRows}, err
	}

	j.logger.Info("クリーンアップジョブが完了しました",
		slog.Int64("deleted_snapshot_rows", snapshotRows),
		slog.Int64("deleted_sessions", sessions),
		slog.Int("retention_days", j.RetentionDays),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return Result{SnapshotRows: snapshotRows, Sessions: sessions}, nil
}

// Start は指定間隔でRunを繰り返す。コンテキストがキャンセルされるまで実行を継続する。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// エラーはRun内でログ済み
			_, _ = j.Run(ctx)
		}
	}
}

func (j *CleanupJob) exec(ctx context.Context, target, query string, args ...interface{}) (int64, error) {
	result, err := j.db.ExecContext(ctx, query, args...)
	if err != nil {
		j.logger.Error(target+"のクリーンアップに失敗しました",
			slog.String("error", err.Error()),
			slog.Int("retention_days", j.RetentionDays),
		)
		return 0, fmt.Errorf("%sのクリーンアップに失敗: %w", target, err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		j.logger.Error("削除件数の取得に失敗しました",
			slog.String("target", target),
			slog.String("error", err.Error()),
		)
		return 0, fmt.Errorf("削除件数の取得に失敗: %w", err)
	}
	return deleted, nil
}
