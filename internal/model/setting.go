package model

import (
	"fmt"
	"time"
)

// 既知の設定キー
const (
	SettingVoteDisplayMode = "vote_display_mode"
	SettingAIProvider      = "ai_provider"
)

// AppSetting はアプリケーション全体の設定を表すキー/値ペア。
// 同時更新は後勝ち。
type AppSetting struct {
	Key       string
	Value     string
	UpdatedAt time.Time
}

// AIProvider はAI生成に使用するプロバイダーを表す。
type AIProvider string

const (
	AIProviderGemini   AIProvider = "gemini"
	AIProviderDisabled AIProvider = "disabled"
)

// ParseAIProvider は文字列をAIProviderに変換する。未知の値はエラー。
func ParseAIProvider(s string) (AIProvider, error) {
	switch AIProvider(s) {
	case AIProviderGemini, AIProviderDisabled:
		return AIProvider(s), nil
	default:
		return "", fmt.Errorf("unknown ai provider: %q", s)
	}
}

// ValidateSetting は既知の設定キーに対して値を検証する。
func ValidateSetting(key, value string) error {
	switch key {
	case SettingVoteDisplayMode:
		_, err := ParseDisplayMode(value)
		return err
	case SettingAIProvider:
		_, err := ParseAIProvider(value)
		return err
	default:
		return fmt.Errorf("unknown setting key: %q", key)
	}
}

// Settings は型付けされた設定値のスナップショット。
type Settings struct {
	VoteDisplayMode DisplayMode
	AIProvider      AIProvider
}

// DefaultSettings は未設定時に使う既定値を返す。
func DefaultSettings() Settings {
	return Settings{
		VoteDisplayMode: DisplayBoth,
		AIProvider:      AIProviderDisabled,
	}
}
