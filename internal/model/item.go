package model

import (
	"fmt"
	"time"
)

// Item はカテゴリ内の投票対象を表す。
// VoteCountはこのアイテムを指している投票の数と常に一致する。
type Item struct {
	ID           string
	CategoryID   string
	Name         string
	Description  string // サニタイズ済み
	ImageURL     string
	ProductURL   string
	AffiliateURL string
	VoteCount    int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ItemInput はアイテムの作成・更新時の入力値。
// nilのフィールドは更新しない。VoteCountは入力として受け付けない。
type ItemInput struct {
	Name         *string
	Description  *string
	ImageURL     *string
	ProductURL   *string
	AffiliateURL *string
}

// ChangeKind はアイテム変更通知の種別を表す。
type ChangeKind string

const (
	ChangeCreated ChangeKind = "created"
	ChangeUpdated ChangeKind = "updated"
	ChangeDeleted ChangeKind = "deleted"
)

// ParseChangeKind は変更通知の種別文字列を変換する。
// PostgreSQLトリガーが送るINSERT/UPDATE/DELETEも受け付ける。
func ParseChangeKind(s string) (ChangeKind, error) {
	switch s {
	case "created", "INSERT":
		return ChangeCreated, nil
	case "updated", "UPDATE":
		return ChangeUpdated, nil
	case "deleted", "DELETE":
		return ChangeDeleted, nil
	default:
		return "", fmt.Errorf("unknown change kind: %q", s)
	}
}

// ItemEvent はアイテムの作成・更新・削除の通知を表す。
// Deletedの場合、ItemはIDとCategoryIDのみ有効。
type ItemEvent struct {
	Kind ChangeKind
	Item Item
}

// ItemPreview は商品ページから抽出したアイテム入力の下書き。
type ItemPreview struct {
	Title       string
	Description string
	ImageURL    string
	ProductURL  string
}
