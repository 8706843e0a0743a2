package model

import (
	"fmt"
	"time"
)

// ApprovalStatus はカテゴリの承認状態を表す。
type ApprovalStatus string

const (
	// ApprovalPending はユーザーが投稿し、管理者の承認待ちの状態。
	ApprovalPending ApprovalStatus = "pending"
	// ApprovalApproved は管理者が承認し、投票可能な状態。
	ApprovalApproved ApprovalStatus = "approved"
)

// ParseApprovalStatus は文字列をApprovalStatusに変換する。未知の値はエラー。
func ParseApprovalStatus(s string) (ApprovalStatus, error) {
	switch ApprovalStatus(s) {
	case ApprovalPending, ApprovalApproved:
		return ApprovalStatus(s), nil
	default:
		return "", fmt.Errorf("unknown approval status: %q", s)
	}
}

// DisplayMode は投票結果の表示形式を表す。
type DisplayMode string

const (
	DisplayPercentage DisplayMode = "percentage"
	DisplayCount      DisplayMode = "count"
	DisplayBoth       DisplayMode = "both"
)

// ParseDisplayMode は文字列をDisplayModeに変換する。未知の値はエラー。
func ParseDisplayMode(s string) (DisplayMode, error) {
	switch DisplayMode(s) {
	case DisplayPercentage, DisplayCount, DisplayBoth:
		return DisplayMode(s), nil
	default:
		return "", fmt.Errorf("unknown display mode: %q", s)
	}
}

// Category は投票対象のアイテムをまとめるカテゴリを表す。
type Category struct {
	ID          string
	Slug        string
	Name        string
	Description string
	GroupTag    string
	Status      ApprovalStatus
	ParentID    *string // 階層表示用の親カテゴリ
	DisplayMode DisplayMode
	CreatedBy   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// IsApproved はカテゴリが承認済みかを返す。
func (c *Category) IsApproved() bool {
	return c.Status == ApprovalApproved
}

// CategoryInput はカテゴリの作成・更新時の入力値。
// nilのフィールドは更新しない。
type CategoryInput struct {
	Slug        *string
	Name        *string
	Description *string
	GroupTag    *string
	ParentID    *string
	DisplayMode *DisplayMode
}
