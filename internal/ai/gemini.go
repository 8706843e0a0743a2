package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// DefaultGeminiModel はGEMINI_MODEL未設定時に使うモデル名。
const DefaultGeminiModel = "gemini-1.5-flash"

// GeminiProvider はGoogle Geminiによるテキスト生成。
type GeminiProvider struct {
	client    *genai.Client
	modelName string
}

// NewGeminiProvider はAPIキーでGeminiクライアントを生成する。
func NewGeminiProvider(ctx context.Context, apiKey, modelName string) (*GeminiProvider, error) {
	if apiKey == "" {
		return nil, errors.New("gemini api key is empty")
	}
	if modelName == "" {
		modelName = DefaultGeminiModel
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &GeminiProvider{client: client, modelName: modelName}, nil
}

// Generate はGenerateContentを1回呼び、候補のテキストを連結して返す。
func (g *GeminiProvider) Generate(ctx context.Context, instruction, prompt string) (string, error) {
	model := g.client.GenerativeModel(g.modelName)
	if instruction != "" {
		model.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(instruction)},
		}
	}

	res, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", classifyGeminiError(err)
	}
	if len(res.Candidates) == 0 || res.Candidates[0].Content == nil {
		return "", errors.New("gemini returned no candidates")
	}

	var b strings.Builder
	for _, part := range res.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			b.WriteString(string(text))
		}
	}
	if b.Len() == 0 {
		return "", errors.New("gemini returned no text")
	}
	return b.String(), nil
}

// Close はクライアントを閉じる。
func (g *GeminiProvider) Close() error {
	return g.client.Close()
}

// classifyGeminiError はクォータ枯渇とレート制限を共通エラーに包む。
// どちらもRESOURCE_EXHAUSTED(429)で返るため、メッセージにquotaを含むかで区別する。
func classifyGeminiError(err error) error {
	code := codes.OK
	if st, ok := status.FromError(err); ok {
		code = st.Code()
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusTooManyRequests:
			code = codes.ResourceExhausted
		case http.StatusPaymentRequired:
			return fmt.Errorf("%w: %v", ErrQuotaExhausted, err)
		}
	}

	if code != codes.ResourceExhausted {
		return err
	}
	if strings.Contains(strings.ToLower(err.Error()), "quota") {
		return fmt.Errorf("%w: %v", ErrQuotaExhausted, err)
	}
	return fmt.Errorf("%w: %v", ErrRateLimited, err)
}
