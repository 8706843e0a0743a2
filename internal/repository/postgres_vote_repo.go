package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/rankinge/internal/model"
)

// PostgresVoteRepo はPostgreSQLを使用した投票リポジトリ。
// (user_id, category_id) のUNIQUE制約で1ユーザー1カテゴリ1票を保証する。
type PostgresVoteRepo struct {
	db *sql.DB
}

// NewPostgresVoteRepo はPostgresVoteRepoを生成する。
func NewPostgresVoteRepo(db *sql.DB) *PostgresVoteRepo {
	return &PostgresVoteRepo{db: db}
}

const voteColumns = `id, user_id, category_id, item_id, created_at, updated_at`

func scanVote(row interface{ Scan(...any) error }) (*model.Vote, error) {
	v := &model.Vote{}
	if err := row.Scan(&v.ID, &v.UserID, &v.CategoryID, &v.ItemID, &v.CreatedAt, &v.UpdatedAt); err != nil {
		return nil, err
	}
	return v, nil
}

// FindByUserAndCategory はユーザーのカテゴリ内の投票を取得する。見つからない場合はnilを返す。
func (r *PostgresVoteRepo) FindByUserAndCategory(ctx context.Context, userID, categoryID string) (*model.Vote, error) {
	v, err := scanVote(r.db.QueryRowContext(ctx,
		`SELECT `+voteColumns+` FROM votes WHERE user_id = $1 AND category_id = $2`,
		userID, categoryID,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("投票の取得に失敗しました: %w", err)
	}
	return v, nil
}

// ListByUser はユーザーの全投票を返す。
func (r *PostgresVoteRepo) ListByUser(ctx context.Context, userID string) ([]*model.Vote, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+voteColumns+` FROM votes WHERE user_id = $1 ORDER BY created_at`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("投票一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var votes []*model.Vote
	for rows.Next() {
		v, err := scanVote(rows)
		if err != nil {
			return nil, fmt.Errorf("投票のスキャンに失敗しました: %w", err)
		}
		votes = append(votes, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("投票一覧の読み込みに失敗しました: %w", err)
	}
	return votes, nil
}

// CountByCategory はカテゴリ内の投票数を返す。
func (r *PostgresVoteRepo) CountByCategory(ctx context.Context, categoryID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM votes WHERE category_id = $1`, categoryID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("投票数の集計に失敗しました: %w", err)
	}
	return n, nil
}

// WithinTx はfnを1つのトランザクション内で実行する。
// fnがエラーを返した場合、またはコミットに失敗した場合は全体がロールバックされる。
func (r *PostgresVoteRepo) WithinTx(ctx context.Context, fn func(tx VoteTx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&pgVoteTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// pgVoteTx は*sql.Tx上のVoteTx実装。
type pgVoteTx struct {
	tx *sql.Tx
}

// LockVote は (user, category) の投票をSELECT ... FOR UPDATEで取得する。
func (t *pgVoteTx) LockVote(ctx context.Context, userID, categoryID string) (*model.Vote, error) {
	v, err := scanVote(t.tx.QueryRowContext(ctx,
		`SELECT `+voteColumns+` FROM votes
		 WHERE user_id = $1 AND category_id = $2
		 FOR UPDATE`,
		userID, categoryID,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("投票のロック取得に失敗しました: %w", err)
	}
	return v, nil
}

// InsertVote は投票を挿入する。
// 並行する別トランザクションが先に同じ (user, category) を挿入していた場合は
// ON CONFLICT DO NOTHINGにより0行となり、falseを返す。
func (t *pgVoteTx) InsertVote(ctx context.Context, v *model.Vote) (bool, error) {
	result, err := t.tx.ExecContext(ctx,
		`INSERT INTO votes (id, user_id, category_id, item_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (user_id, category_id) DO NOTHING`,
		v.ID, v.UserID, v.CategoryID, v.ItemID, v.CreatedAt, v.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("投票の作成に失敗しました: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n == 1, nil
}

// UpdateVoteItem は投票先のアイテムを変更する。
func (t *pgVoteTx) UpdateVoteItem(ctx context.Context, voteID, itemID string, at time.Time) error {
	result, err := t.tx.ExecContext(ctx,
		`UPDATE votes SET item_id = $2, updated_at = $3 WHERE id = $1`,
		voteID, itemID, at,
	)
	if err != nil {
		return fmt.Errorf("投票先の更新に失敗しました: %w", err)
	}
	return requireAffected(result, "vote", voteID)
}

// DeleteVote は投票を削除する。
func (t *pgVoteTx) DeleteVote(ctx context.Context, voteID string) error {
	result, err := t.tx.ExecContext(ctx, `DELETE FROM votes WHERE id = $1`, voteID)
	if err != nil {
		return fmt.Errorf("投票の削除に失敗しました: %w", err)
	}
	return requireAffected(result, "vote", voteID)
}

// AdjustVoteCount はトランザクション内でvote_countを増減する。
func (t *pgVoteTx) AdjustVoteCount(ctx context.Context, itemID string, delta int) (int, error) {
	return adjustVoteCount(ctx, t.tx, itemID, delta)
}

// compile-time interface check
var (
	_ VoteRepository = (*PostgresVoteRepo)(nil)
	_ VoteTx         = (*pgVoteTx)(nil)
)
