package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hitoshi/rankinge/internal/metrics"
	"github.com/hitoshi/rankinge/internal/model"
)

const maxPromptLength = 4000

// ProviderSelector は現在選択されているAIプロバイダーを返す。setting.Serviceが実装する。
type ProviderSelector interface {
	AIProvider(ctx context.Context) (model.AIProvider, error)
}

// Service は生成用途ごとの指示文を付けてプロバイダーに生成を依頼する。
type Service struct {
	selector  ProviderSelector
	providers map[model.AIProvider]Provider
	timeout   time.Duration
	metrics   metrics.MetricsCollector
	logger    *slog.Logger
}

// NewService はServiceを生成する。providersに含まれないプロバイダーが選択されている場合は無効扱い。
func NewService(
	selector ProviderSelector,
	providers map[model.AIProvider]Provider,
	timeout time.Duration,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
) *Service {
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &Service{
		selector:  selector,
		providers: providers,
		timeout:   timeout,
		metrics:   collector,
		logger:    logger,
	}
}

var instructions = map[model.GenerationType]string{
	model.GenerateCategoryDescription: "あなたは商品ランキングサイトの編集者です。カテゴリの紹介文を日本語で2〜3文で書いてください。",
	model.GenerateItemDescription:     "あなたは商品ランキングサイトの編集者です。商品の特徴を日本語で簡潔に説明してください。誇張や虚偽は避けてください。",
	model.GenerateBlogPost:            "あなたは商品ランキングサイトのライターです。Markdown形式でブログ記事を書いてください。",
	model.GeneratePageContent:         "あなたは商品ランキングサイトの編集者です。Markdown形式で固定ページの本文を書いてください。",
}

// Generate はreqの用途に応じた指示文でテキストを生成する。
// 出力がJSONとして解釈できればオブジェクト、そうでなければ文字列を返す。
func (s *Service) Generate(ctx context.Context, req model.GenerationRequest) (*model.GenerationResult, error) {
	genType, err := model.ParseGenerationType(string(req.Type))
	if err != nil {
		return nil, model.NewValidationError("type", "不明な生成種別です")
	}
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return nil, model.NewValidationError("prompt", "必須です")
	}
	if utf8.RuneCountInString(prompt) > maxPromptLength {
		return nil, model.NewValidationError("prompt", "4000文字以内で入力してください")
	}

	selected, err := s.selector.AIProvider(ctx)
	if err != nil {
		return nil, model.NewTransientStoreError("get ai provider", err)
	}
	provider, ok := s.providers[selected]
	if selected == model.AIProviderDisabled || !ok || provider == nil {
		s.metrics.RecordAIRequest("disabled")
		return nil, model.NewAIDisabledError()
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	text, err := provider.Generate(ctx, instructions[genType], buildPrompt(prompt, req.Context))
	if err != nil {
		return nil, s.translate(err, selected, genType)
	}

	s.metrics.RecordAIRequest("ok")
	s.logger.Info("ai text generated",
		slog.String("provider", string(selected)),
		slog.String("type", string(genType)),
		slog.Duration("duration", time.Since(start)),
	)
	return &model.GenerationResult{Result: decodeResult(text)}, nil
}

func (s *Service) translate(err error, provider model.AIProvider, genType model.GenerationType) error {
	attrs := []any{
		slog.String("provider", string(provider)),
		slog.String("type", string(genType)),
		slog.String("error", err.Error()),
	}
	switch {
	case errors.Is(err, ErrQuotaExhausted):
		s.metrics.RecordAIRequest("quota_exhausted")
		s.logger.Warn("ai provider quota exhausted", attrs...)
		return model.NewAIQuotaExhaustedError(err)
	case errors.Is(err, ErrRateLimited):
		s.metrics.RecordAIRequest("rate_limited")
		s.logger.Warn("ai provider rate limited", attrs...)
		return model.NewAIRateLimitedError()
	default:
		s.metrics.RecordAIRequest("error")
		s.logger.Error("ai generation failed", attrs...)
		return model.NewAIGenerationFailedError(err)
	}
}

// buildPrompt はcontextの値をキー順に並べてプロンプトの後ろに付ける。
func buildPrompt(prompt string, extra map[string]any) string {
	if len(extra) == 0 {
		return prompt
	}
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(prompt)
	b.WriteString("\n\n参考情報:\n")
	for _, k := range keys {
		fmt.Fprintf(&b, "- %s: %v\n", k, extra[k])
	}
	return b.String()
}

// decodeResult はコードフェンスを外した出力がJSONならデコードした値を返す。
func decodeResult(text string) any {
	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```json")
		trimmed = strings.TrimPrefix(trimmed, "```")
		trimmed = strings.TrimSuffix(trimmed, "```")
		trimmed = strings.TrimSpace(trimmed)
	}
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		var v any
		if err := json.Unmarshal([]byte(trimmed), &v); err == nil {
			return v
		}
	}
	return text
}
