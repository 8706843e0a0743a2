package model

import (
	"fmt"
	"time"
)

// PostKind はブログ記事と固定ページを区別する。
type PostKind string

const (
	PostBlog PostKind = "blog"
	PostPage PostKind = "page"
)

// ParsePostKind は文字列をPostKindに変換する。未知の値はエラー。
func ParsePostKind(s string) (PostKind, error) {
	switch PostKind(s) {
	case PostBlog, PostPage:
		return PostKind(s), nil
	default:
		return "", fmt.Errorf("unknown post kind: %q", s)
	}
}

// Post は管理者が作成するブログ記事または固定ページ。
// BodyHTMLはBodyMarkdownから生成したサニタイズ済みHTML。
type Post struct {
	ID           string
	Kind         PostKind
	Slug         string
	Title        string
	BodyMarkdown string
	BodyHTML     string
	Published    bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// PostInput は記事の作成・更新時の入力値。
// nilのフィールドは更新しない。Kindは作成時のみ有効。
type PostInput struct {
	Kind      *PostKind
	Slug      *string
	Title     *string
	Body      *string
	Published *bool
}
