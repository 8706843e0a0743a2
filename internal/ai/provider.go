// Package ai は管理画面向けのAIテキスト生成を提供する。
package ai

import (
	"context"
	"errors"
)

// プロバイダー共通のエラー。Serviceがこれらを統一エラーに変換する。
var (
	ErrQuotaExhausted = errors.New("ai provider quota exhausted")
	ErrRateLimited    = errors.New("ai provider rate limited")
)

// Provider はテキスト生成を行う外部サービス。
type Provider interface {
	// Generate はinstructionを前提にpromptへの応答テキストを返す。
	Generate(ctx context.Context, instruction, prompt string) (string, error)
}
