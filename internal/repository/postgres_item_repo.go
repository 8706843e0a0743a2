package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/rankinge/internal/model"
)

// dbtx は*sql.DBと*sql.Txの共通部分。
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// PostgresItemRepo はPostgreSQLを使用したアイテムリポジトリ。
type PostgresItemRepo struct {
	db *sql.DB
}

// NewPostgresItemRepo はPostgresItemRepoを生成する。
func NewPostgresItemRepo(db *sql.DB) *PostgresItemRepo {
	return &PostgresItemRepo{db: db}
}

const itemColumns = `id, category_id, name, description, image_url, product_url, affiliate_url, vote_count, created_at, updated_at`

func scanItem(row interface{ Scan(...any) error }) (*model.Item, error) {
	item := &model.Item{}
	var description, imageURL, productURL, affiliateURL sql.NullString
	err := row.Scan(
		&item.ID, &item.CategoryID, &item.Name,
		&description, &imageURL, &productURL, &affiliateURL,
		&item.VoteCount, &item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	item.Description = description.String
	item.ImageURL = imageURL.String
	item.ProductURL = productURL.String
	item.AffiliateURL = affiliateURL.String
	return item, nil
}

// FindByID は指定IDのアイテムを取得する。見つからない場合はnilを返す。
func (r *PostgresItemRepo) FindByID(ctx context.Context, id string) (*model.Item, error) {
	item, err := scanItem(r.db.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM items WHERE id = $1`, id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("アイテムの取得に失敗しました: %w", err)
	}
	return item, nil
}

// ListByCategory はカテゴリ内の全アイテムをvote_count降順、id昇順で返す。
func (r *PostgresItemRepo) ListByCategory(ctx context.Context, categoryID string) ([]*model.Item, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM items
		 WHERE category_id = $1
		 ORDER BY vote_count DESC, id ASC`,
		categoryID,
	)
	if err != nil {
		return nil, fmt.Errorf("アイテム一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var items []*model.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("アイテムのスキャンに失敗しました: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("アイテム一覧の読み込みに失敗しました: %w", err)
	}
	return items, nil
}

// Create は新規アイテムを作成する。vote_countは常に0から始まる。
func (r *PostgresItemRepo) Create(ctx context.Context, item *model.Item) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO items (id, category_id, name, description, image_url, product_url, affiliate_url, vote_count, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, 0, $8, $9)`,
		item.ID, item.CategoryID, item.Name,
		nullString(item.Description), nullString(item.ImageURL),
		nullString(item.ProductURL), nullString(item.AffiliateURL),
		item.CreatedAt, item.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("アイテムの作成に失敗しました: %w", err)
	}
	item.VoteCount = 0
	return nil
}

// Update はvote_count以外の属性を更新する。
func (r *PostgresItemRepo) Update(ctx context.Context, item *model.Item) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE items SET
		    name = $2, description = $3, image_url = $4,
		    product_url = $5, affiliate_url = $6, updated_at = $7
		 WHERE id = $1`,
		item.ID, item.Name,
		nullString(item.Description), nullString(item.ImageURL),
		nullString(item.ProductURL), nullString(item.AffiliateURL),
		item.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("アイテムの更新に失敗しました: %w", err)
	}
	return requireAffected(result, "item", item.ID)
}

// Delete はアイテムを削除する。参照している投票はCASCADE削除される。
func (r *PostgresItemRepo) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM items WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("アイテムの削除に失敗しました: %w", err)
	}
	return requireAffected(result, "item", id)
}

// AdjustVoteCount はvote_countをdelta分だけ原子的に増減し、新しい値を返す。
func (r *PostgresItemRepo) AdjustVoteCount(ctx context.Context, itemID string, delta int) (int, error) {
	return adjustVoteCount(ctx, r.db, itemID, delta)
}

// RecountByCategory はカテゴリ内のvote_countをvotesテーブルの件数で置き換える。
func (r *PostgresItemRepo) RecountByCategory(ctx context.Context, categoryID string) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE items i SET vote_count = c.cnt, updated_at = now()
		 FROM (
		     SELECT it.id, COUNT(v.id)::int AS cnt
		     FROM items it
		     LEFT JOIN votes v ON v.item_id = it.id
		     WHERE it.category_id = $1
		     GROUP BY it.id
		 ) c
		 WHERE i.id = c.id AND i.vote_count <> c.cnt`,
		categoryID,
	)
	if err != nil {
		return 0, fmt.Errorf("投票数の再集計に失敗しました: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// adjustVoteCount は vote_count = vote_count + delta を1文で行う。
// 結果が負になる更新は条件で弾き、アイテムの有無でErrVoteCountUnderflowとErrNotFoundを区別する。
func adjustVoteCount(ctx context.Context, q dbtx, itemID string, delta int) (int, error) {
	var count int
	err := q.QueryRowContext(ctx,
		`UPDATE items SET vote_count = vote_count + $2, updated_at = now()
		 WHERE id = $1 AND vote_count + $2 >= 0
		 RETURNING vote_count`,
		itemID, delta,
	).Scan(&count)
	if err == nil {
		return count, nil
	}
	if err != sql.ErrNoRows {
		return 0, fmt.Errorf("投票数の更新に失敗しました: %w", err)
	}

	var exists bool
	if err := q.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM items WHERE id = $1)`, itemID,
	).Scan(&exists); err != nil {
		return 0, fmt.Errorf("アイテムの存在確認に失敗しました: %w", err)
	}
	if !exists {
		return 0, fmt.Errorf("item %s: %w", itemID, ErrNotFound)
	}
	return 0, fmt.Errorf("item %s delta %d: %w", itemID, delta, ErrVoteCountUnderflow)
}

// compile-time interface check
var _ ItemRepository = (*PostgresItemRepo)(nil)
