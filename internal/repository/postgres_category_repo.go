package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/hitoshi/rankinge/internal/model"
)

// PostgresCategoryRepo はPostgreSQLを使用したカテゴリリポジトリ。
type PostgresCategoryRepo struct {
	db *sql.DB
}

// NewPostgresCategoryRepo はPostgresCategoryRepoを生成する。
func NewPostgresCategoryRepo(db *sql.DB) *PostgresCategoryRepo {
	return &PostgresCategoryRepo{db: db}
}

const categoryColumns = `id, slug, name, description, group_tag, status, parent_id, display_mode, created_by, created_at, updated_at`

// scanCategory は1行をmodel.Categoryに変換する。
// status、display_modeはここで型付けし、未知の値は行ごと拒否する。
func scanCategory(row interface{ Scan(...any) error }) (*model.Category, error) {
	c := &model.Category{}
	var (
		slug, description, groupTag, parentID, createdBy sql.NullString
		status, displayMode                              string
	)
	err := row.Scan(
		&c.ID, &slug, &c.Name, &description, &groupTag,
		&status, &parentID, &displayMode, &createdBy,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if c.Status, err = model.ParseApprovalStatus(status); err != nil {
		return nil, fmt.Errorf("invalid category row %s: %w", c.ID, err)
	}
	if c.DisplayMode, err = model.ParseDisplayMode(displayMode); err != nil {
		return nil, fmt.Errorf("invalid category row %s: %w", c.ID, err)
	}
	c.Slug = slug.String
	c.Description = description.String
	c.GroupTag = groupTag.String
	c.CreatedBy = createdBy.String
	if parentID.Valid {
		p := parentID.String
		c.ParentID = &p
	}
	return c, nil
}

// FindByID は指定IDのカテゴリを取得する。見つからない場合はnilを返す。
func (r *PostgresCategoryRepo) FindByID(ctx context.Context, id string) (*model.Category, error) {
	c, err := scanCategory(r.db.QueryRowContext(ctx,
		`SELECT `+categoryColumns+` FROM categories WHERE id = $1`, id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("カテゴリの取得に失敗しました: %w", err)
	}
	return c, nil
}

// FindBySlug はスラッグでカテゴリを検索する。見つからない場合はnilを返す。
func (r *PostgresCategoryRepo) FindBySlug(ctx context.Context, slug string) (*model.Category, error) {
	c, err := scanCategory(r.db.QueryRowContext(ctx,
		`SELECT `+categoryColumns+` FROM categories WHERE slug = $1`, slug,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("スラッグによるカテゴリの取得に失敗しました: %w", err)
	}
	return c, nil
}

// List は条件に合うカテゴリを名前順で返す。
func (r *PostgresCategoryRepo) List(ctx context.Context, filter CategoryFilter) ([]*model.Category, error) {
	var (
		conds []string
		args  []any
	)
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.GroupTag != "" {
		args = append(args, filter.GroupTag)
		conds = append(conds, fmt.Sprintf("group_tag = $%d", len(args)))
	}
	if filter.ParentID != "" {
		args = append(args, filter.ParentID)
		conds = append(conds, fmt.Sprintf("parent_id = $%d", len(args)))
	}

	query := `SELECT ` + categoryColumns + ` FROM categories`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY name, id`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("カテゴリ一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var categories []*model.Category
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, fmt.Errorf("カテゴリのスキャンに失敗しました: %w", err)
		}
		categories = append(categories, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("カテゴリ一覧の読み込みに失敗しました: %w", err)
	}
	return categories, nil
}

// Create はカテゴリを作成する。
func (r *PostgresCategoryRepo) Create(ctx context.Context, c *model.Category) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO categories (id, slug, name, description, group_tag, status, parent_id, display_mode, created_by, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		c.ID, nullString(c.Slug), c.Name, nullString(c.Description), nullString(c.GroupTag),
		string(c.Status), nullStringPtr(c.ParentID), string(c.DisplayMode), nullString(c.CreatedBy),
		c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("カテゴリの作成に失敗しました: %w", err)
	}
	return nil
}

// Update はカテゴリ属性を上書き更新する。
func (r *PostgresCategoryRepo) Update(ctx context.Context, c *model.Category) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE categories SET
		    slug = $2, name = $3, description = $4, group_tag = $5,
		    status = $6, parent_id = $7, display_mode = $8, updated_at = $9
		 WHERE id = $1`,
		c.ID, nullString(c.Slug), c.Name, nullString(c.Description), nullString(c.GroupTag),
		string(c.Status), nullStringPtr(c.ParentID), string(c.DisplayMode), c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("カテゴリの更新に失敗しました: %w", err)
	}
	return requireAffected(result, "category", c.ID)
}

// Delete はカテゴリを削除する。items、votes、ranking_snapshotsはCASCADE削除される。
func (r *PostgresCategoryRepo) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM categories WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("カテゴリの削除に失敗しました: %w", err)
	}
	return requireAffected(result, "category", id)
}

// compile-time interface check
var _ CategoryRepository = (*PostgresCategoryRepo)(nil)
