// Package content はブログ記事と固定ページの管理を提供する。
package content

import (
	"bytes"
	"fmt"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer/html"

	"github.com/hitoshi/rankinge/internal/security"
)

// Renderer はMarkdownをサニタイズ済みHTMLに変換する。
type Renderer struct {
	md        goldmark.Markdown
	sanitizer security.Sanitizer
}

// NewRenderer はGFM、見出しID付与、改行の<br>化を有効にしたRendererを生成する。
func NewRenderer(sanitizer security.Sanitizer) *Renderer {
	return &Renderer{
		md: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithParserOptions(
				parser.WithAutoHeadingID(),
			),
			goldmark.WithRendererOptions(
				html.WithHardWraps(),
				html.WithXHTML(),
			),
		),
		sanitizer: sanitizer,
	}
}

// Render はsourceをHTMLに変換し、記事用ポリシーでサニタイズする。
func (r *Renderer) Render(source string) (string, error) {
	var buf bytes.Buffer
	if err := r.md.Convert([]byte(source), &buf); err != nil {
		return "", fmt.Errorf("markdown conversion: %w", err)
	}
	return r.sanitizer.SanitizeDocument(buf.String()), nil
}
