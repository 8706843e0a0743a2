package model

import "time"

// Vote はカテゴリ内でのユーザーの現在の選択を表す。
// (UserID, CategoryID) の組に対して常に高々1件しか存在しない。
type Vote struct {
	ID         string
	UserID     string
	CategoryID string
	ItemID     string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// VoteOutcome は投票操作の結果種別を表す。
type VoteOutcome string

const (
	// VoteCreated はカテゴリ内で初めて投票した。
	VoteCreated VoteOutcome = "created"
	// VoteAlreadyVoted は同じアイテムに既に投票済みで、何も変更していない。
	VoteAlreadyVoted VoteOutcome = "already_voted"
	// VoteMoved は別のアイテムから投票先を移した。
	VoteMoved VoteOutcome = "moved"
	// VoteRetracted は投票を取り消した（投票がなかった場合も含む）。
	VoteRetracted VoteOutcome = "retracted"
)

// VoteResult は投票操作の結果。
type VoteResult struct {
	Outcome VoteOutcome
	// Vote は操作後の投票。取り消し時はnil。
	Vote *Vote
	// PreviousItemID は移動・取り消し前の投票先。新規投票時は空。
	PreviousItemID string
}
