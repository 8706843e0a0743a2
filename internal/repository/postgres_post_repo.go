package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/rankinge/internal/model"
)

// PostgresPostRepo はPostgreSQLを使用したブログ記事・固定ページリポジトリ。
type PostgresPostRepo struct {
	db *sql.DB
}

// NewPostgresPostRepo はPostgresPostRepoを生成する。
func NewPostgresPostRepo(db *sql.DB) *PostgresPostRepo {
	return &PostgresPostRepo{db: db}
}

const postColumns = `id, kind, slug, title, body_markdown, body_html, published, created_at, updated_at`

func scanPost(row interface{ Scan(...any) error }) (*model.Post, error) {
	p := &model.Post{}
	var kind string
	if err := row.Scan(&p.ID, &kind, &p.Slug, &p.Title, &p.BodyMarkdown, &p.BodyHTML, &p.Published, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	parsed, err := model.ParsePostKind(kind)
	if err != nil {
		return nil, fmt.Errorf("invalid post row %s: %w", p.ID, err)
	}
	p.Kind = parsed
	return p, nil
}

// FindBySlug は種別とスラッグで記事を取得する。見つからない場合はnilを返す。
func (r *PostgresPostRepo) FindBySlug(ctx context.Context, kind model.PostKind, slug string) (*model.Post, error) {
	p, err := scanPost(r.db.QueryRowContext(ctx,
		`SELECT `+postColumns+` FROM posts WHERE kind = $1 AND slug = $2`, string(kind), slug,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("記事の取得に失敗しました: %w", err)
	}
	return p, nil
}

// FindByID は指定IDの記事を取得する。見つからない場合はnilを返す。
func (r *PostgresPostRepo) FindByID(ctx context.Context, id string) (*model.Post, error) {
	p, err := scanPost(r.db.QueryRowContext(ctx,
		`SELECT `+postColumns+` FROM posts WHERE id = $1`, id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("記事の取得に失敗しました: %w", err)
	}
	return p, nil
}

// List は記事一覧を作成日時の降順で返す。
func (r *PostgresPostRepo) List(ctx context.Context, kind model.PostKind, publishedOnly bool) ([]*model.Post, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+postColumns+` FROM posts
		 WHERE kind = $1 AND ($2 = false OR published = true)
		 ORDER BY created_at DESC, id`,
		string(kind), publishedOnly,
	)
	if err != nil {
		return nil, fmt.Errorf("記事一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var posts []*model.Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("記事のスキャンに失敗しました: %w", err)
		}
		posts = append(posts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("記事一覧の読み込みに失敗しました: %w", err)
	}
	return posts, nil
}

// Create は記事を作成する。
func (r *PostgresPostRepo) Create(ctx context.Context, p *model.Post) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO posts (id, kind, slug, title, body_markdown, body_html, published, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		p.ID, string(p.Kind), p.Slug, p.Title, p.BodyMarkdown, p.BodyHTML, p.Published, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("記事の作成に失敗しました: %w", err)
	}
	return nil
}

// Update は記事を上書き更新する。
func (r *PostgresPostRepo) Update(ctx context.Context, p *model.Post) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE posts SET slug = $2, title = $3, body_markdown = $4, body_html = $5, published = $6, updated_at = $7
		 WHERE id = $1`,
		p.ID, p.Slug, p.Title, p.BodyMarkdown, p.BodyHTML, p.Published, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("記事の更新に失敗しました: %w", err)
	}
	return requireAffected(result, "post", p.ID)
}

// Delete は記事を削除する。
func (r *PostgresPostRepo) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM posts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("記事の削除に失敗しました: %w", err)
	}
	return requireAffected(result, "post", id)
}

// compile-time interface check
var _ PostRepository = (*PostgresPostRepo)(nil)
