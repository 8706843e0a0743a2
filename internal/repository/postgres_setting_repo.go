package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/rankinge/internal/model"
)

// PostgresSettingRepo はPostgreSQLを使用したアプリ設定リポジトリ。
type PostgresSettingRepo struct {
	db *sql.DB
}

// NewPostgresSettingRepo はPostgresSettingRepoを生成する。
func NewPostgresSettingRepo(db *sql.DB) *PostgresSettingRepo {
	return &PostgresSettingRepo{db: db}
}

// Get は指定キーの設定を取得する。見つからない場合はnilを返す。
func (r *PostgresSettingRepo) Get(ctx context.Context, key string) (*model.AppSetting, error) {
	s := &model.AppSetting{}
	err := r.db.QueryRowContext(ctx,
		`SELECT key, value, updated_at FROM app_settings WHERE key = $1`, key,
	).Scan(&s.Key, &s.Value, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("設定の取得に失敗しました: %w", err)
	}
	return s, nil
}

// List は全設定をキー順で返す。
func (r *PostgresSettingRepo) List(ctx context.Context) ([]*model.AppSetting, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT key, value, updated_at FROM app_settings ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("設定一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var settings []*model.AppSetting
	for rows.Next() {
		s := &model.AppSetting{}
		if err := rows.Scan(&s.Key, &s.Value, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("設定のスキャンに失敗しました: %w", err)
		}
		settings = append(settings, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("設定一覧の読み込みに失敗しました: %w", err)
	}
	return settings, nil
}

// Upsert は設定を後勝ちで保存する。
func (r *PostgresSettingRepo) Upsert(ctx context.Context, key, value string) (*model.AppSetting, error) {
	s := &model.AppSetting{}
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO app_settings (key, value, updated_at) VALUES ($1, $2, now())
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
		 RETURNING key, value, updated_at`,
		key, value,
	).Scan(&s.Key, &s.Value, &s.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("設定の保存に失敗しました: %w", err)
	}
	return s, nil
}

// compile-time interface check
var _ SettingRepository = (*PostgresSettingRepo)(nil)
