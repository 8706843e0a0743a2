package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/rankinge/internal/model"
	"github.com/lib/pq"
)

// PostgresSnapshotRepo はPostgreSQLを使用したランキングスナップショットリポジトリ。
type PostgresSnapshotRepo struct {
	db *sql.DB
}

// NewPostgresSnapshotRepo はPostgresSnapshotRepoを生成する。
func NewPostgresSnapshotRepo(db *sql.DB) *PostgresSnapshotRepo {
	return &PostgresSnapshotRepo{db: db}
}

// InsertBatch は同一タイムスタンプの行を1文でまとめて挿入する。
// 全行が同じcategory_idとsnapshot_timestampを持つことを前提とし、異なる場合はエラーを返す。
func (r *PostgresSnapshotRepo) InsertBatch(ctx context.Context, rows []model.RankingSnapshot) error {
	if len(rows) == 0 {
		return nil
	}

	categoryID := rows[0].CategoryID
	ts := rows[0].SnapshotTimestamp

	ids := make([]string, len(rows))
	itemIDs := make([]string, len(rows))
	ranks := make([]int64, len(rows))
	counts := make([]int64, len(rows))
	for i, row := range rows {
		if row.CategoryID != categoryID || !row.SnapshotTimestamp.Equal(ts) {
			return fmt.Errorf("snapshot batch must share category and timestamp (row %d)", i)
		}
		ids[i] = row.ID
		itemIDs[i] = row.ItemID
		ranks[i] = int64(row.RankPosition)
		counts[i] = int64(row.VoteCount)
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO ranking_snapshots (id, category_id, item_id, rank_position, vote_count, snapshot_timestamp)
		 SELECT t.id, $2, t.item_id, t.rank_position, t.vote_count, $6
		 FROM unnest($1::uuid[], $3::uuid[], $4::int[], $5::int[]) AS t(id, item_id, rank_position, vote_count)`,
		pq.Array(ids), categoryID, pq.Array(itemIDs), pq.Array(ranks), pq.Array(counts), ts,
	)
	if err != nil {
		return fmt.Errorf("スナップショットの保存に失敗しました: %w", err)
	}
	return nil
}

// ListRecentBatches はカテゴリの最新batches件のバッチを新しい順に返す。
// 各バッチの行は順位昇順。バッチは途中で切らず、それより新しいバッチの行数の合計が
// maxRowsに達した時点で以降のバッチを読まない。
func (r *PostgresSnapshotRepo) ListRecentBatches(ctx context.Context, categoryID string, batches, maxRows int) ([]model.SnapshotBatch, error) {
	rows, err := r.db.QueryContext(ctx,
		`WITH latest AS (
		     SELECT snapshot_timestamp, count(*) AS n
		     FROM ranking_snapshots
		     WHERE category_id = $1
		     GROUP BY snapshot_timestamp
		     ORDER BY snapshot_timestamp DESC
		     LIMIT $2
		 ), bounded AS (
		     SELECT snapshot_timestamp,
		            coalesce(sum(n) OVER (ORDER BY snapshot_timestamp DESC
		                                  ROWS BETWEEN UNBOUNDED PRECEDING AND 1 PRECEDING), 0) AS newer_rows
		     FROM latest
		 )
		 SELECT s.id, s.category_id, s.item_id, s.rank_position, s.vote_count, s.snapshot_timestamp
		 FROM ranking_snapshots s
		 JOIN bounded b ON s.snapshot_timestamp = b.snapshot_timestamp
		 WHERE s.category_id = $1 AND b.newer_rows < $3
		 ORDER BY s.snapshot_timestamp DESC, s.rank_position ASC`,
		categoryID, batches, maxRows,
	)
	if err != nil {
		return nil, fmt.Errorf("スナップショットの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var result []model.SnapshotBatch
	for rows.Next() {
		var s model.RankingSnapshot
		if err := rows.Scan(&s.ID, &s.CategoryID, &s.ItemID, &s.RankPosition, &s.VoteCount, &s.SnapshotTimestamp); err != nil {
			return nil, fmt.Errorf("スナップショットのスキャンに失敗しました: %w", err)
		}
		n := len(result)
		if n == 0 || !result[n-1].Timestamp.Equal(s.SnapshotTimestamp) {
			result = append(result, model.SnapshotBatch{Timestamp: s.SnapshotTimestamp})
			n++
		}
		result[n-1].Rows = append(result[n-1].Rows, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("スナップショットの読み込みに失敗しました: %w", err)
	}
	return result, nil
}

// compile-time interface check
var _ SnapshotRepository = (*PostgresSnapshotRepo)(nil)
