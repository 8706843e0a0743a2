// Package setting はアプリ全体の設定（投票数の表示形式、AIプロバイダー）を扱う。
package setting

import (
	"context"
	"fmt"
	"strings"

	"github.com/hitoshi/rankinge/internal/model"
	"github.com/hitoshi/rankinge/internal/repository"
)

// Service は設定の読み書きを提供する。
type Service struct {
	repo repository.SettingRepository
}

// NewService はServiceを生成する。
func NewService(repo repository.SettingRepository) *Service {
	return &Service{repo: repo}
}

// Current は型付けされた設定を返す。未設定のキーは既定値になる。
// 保存済みの値が不正な場合はエラーを返す。
func (s *Service) Current(ctx context.Context) (model.Settings, error) {
	settings := model.DefaultSettings()

	stored, err := s.repo.List(ctx)
	if err != nil {
		return settings, model.NewTransientStoreError("list settings", err)
	}
	for _, st := range stored {
		switch st.Key {
		case model.SettingVoteDisplayMode:
			mode, err := model.ParseDisplayMode(st.Value)
			if err != nil {
				return settings, fmt.Errorf("stored setting %s: %w", st.Key, err)
			}
			settings.VoteDisplayMode = mode
		case model.SettingAIProvider:
			provider, err := model.ParseAIProvider(st.Value)
			if err != nil {
				return settings, fmt.Errorf("stored setting %s: %w", st.Key, err)
			}
			settings.AIProvider = provider
		}
	}
	return settings, nil
}

// AIProvider は現在選択されているAIプロバイダーを返す。
func (s *Service) AIProvider(ctx context.Context) (model.AIProvider, error) {
	settings, err := s.Current(ctx)
	if err != nil {
		return model.AIProviderDisabled, err
	}
	return settings.AIProvider, nil
}

// List は保存済みの全設定を返す。
func (s *Service) List(ctx context.Context) ([]*model.AppSetting, error) {
	stored, err := s.repo.List(ctx)
	if err != nil {
		return nil, model.NewTransientStoreError("list settings", err)
	}
	return stored, nil
}

// Set は既知のキーに対して値を検証してから保存する。同時更新は後勝ち。
func (s *Service) Set(ctx context.Context, key, value string) (*model.AppSetting, error) {
	key = strings.TrimSpace(key)
	value = strings.TrimSpace(value)
	if err := model.ValidateSetting(key, value); err != nil {
		return nil, model.NewInvalidSettingError(key, value)
	}

	saved, err := s.repo.Upsert(ctx, key, value)
	if err != nil {
		return nil, model.NewTransientStoreError("save setting", err)
	}
	return saved, nil
}
