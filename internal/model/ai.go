package model

import "fmt"

// GenerationType はAI生成の用途を表す。
type GenerationType string

const (
	GenerateCategoryDescription GenerationType = "category_description"
	GenerateItemDescription     GenerationType = "item_description"
	GenerateBlogPost            GenerationType = "blog_post"
	GeneratePageContent         GenerationType = "page_content"
)

// ParseGenerationType は文字列をGenerationTypeに変換する。未知の値はエラー。
func ParseGenerationType(s string) (GenerationType, error) {
	switch GenerationType(s) {
	case GenerateCategoryDescription, GenerateItemDescription, GenerateBlogPost, GeneratePageContent:
		return GenerationType(s), nil
	default:
		return "", fmt.Errorf("unknown generation type: %q", s)
	}
}

// GenerationRequest はAIテキスト生成の入力。
type GenerationRequest struct {
	Type    GenerationType
	Prompt  string
	Context map[string]any
}

// GenerationResult はAIテキスト生成の出力。
// Resultは文字列、またはJSONとして解釈できた場合はオブジェクト。
type GenerationResult struct {
	Result any
}
