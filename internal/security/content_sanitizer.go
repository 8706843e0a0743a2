// Package security はアプリケーションのセキュリティ機能を提供する。
//
// Sanitizer は利用者や管理者が入力したHTMLを許可リストベースで無害化する。
// 説明文用と、Markdownから生成した記事本文用の2つのポリシーを持つ。
package security

import (
	"net/url"

	"github.com/microcosm-cc/bluemonday"
)

// Sanitizer はHTMLコンテンツのサニタイズ機能のインターフェースを定義する。
type Sanitizer interface {
	// SanitizeDescription はカテゴリ・アイテムの説明文をサニタイズする。
	// 強調とリンク、改行のみを残す。
	SanitizeDescription(raw string) string

	// SanitizeDocument はMarkdownから生成した記事本文をサニタイズする。
	// 見出し、表、画像、コードブロックを許可する。
	SanitizeDocument(rawHTML string) string
}

type contentSanitizer struct {
	description *bluemonday.Policy
	document    *bluemonday.Policy
}

// NewSanitizer はSanitizerを生成する。ポリシーは生成時に1回だけ構築する。
func NewSanitizer() *contentSanitizer {
	return &contentSanitizer{
		description: newDescriptionPolicy(),
		document:    newDocumentPolicy(),
	}
}

func newDescriptionPolicy() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowElements("p", "br", "strong", "em", "ul", "ol", "li")
	allowSafeLinks(p)
	return p
}

func newDocumentPolicy() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowElements(
		"p", "br", "hr", "ul", "ol", "li",
		"blockquote", "pre", "code",
		"strong", "em", "del",
		"table", "thead", "tbody", "tr", "th", "td",
	)
	// goldmarkのAutoHeadingIDが付与するidはページ内リンクに使う
	p.AllowAttrs("id").Matching(bluemonday.SpaceSeparatedTokens).OnElements("h1", "h2", "h3", "h4", "h5", "h6")
	p.AllowElements("h1", "h2", "h3", "h4", "h5", "h6")
	p.AllowAttrs("class").Matching(bluemonday.SpaceSeparatedTokens).OnElements("code")
	p.AllowAttrs("align").Matching(bluemonday.CellAlign).OnElements("th", "td")

	p.AllowAttrs("src", "alt", "title").OnElements("img")
	allowSafeLinks(p)
	return p
}

// allowSafeLinks はaタグのhrefを絶対URLに限定し、外部リンクに
// target="_blank" と rel="noopener noreferrer" を付与する。
// httpsのみ許可するため、img srcもhttpsに限られる。
func allowSafeLinks(p *bluemonday.Policy) {
	p.AllowAttrs("href").OnElements("a")
	p.AllowRelativeURLs(false)
	p.AddTargetBlankToFullyQualifiedLinks(true)
	p.RequireNoReferrerOnLinks(true)
	p.AllowURLSchemeWithCustomPolicy("https", func(u *url.URL) bool {
		return u.Host != ""
	})
}

func (s *contentSanitizer) SanitizeDescription(raw string) string {
	return s.description.Sanitize(raw)
}

func (s *contentSanitizer) SanitizeDocument(rawHTML string) string {
	return s.document.Sanitize(rawHTML)
}
