package model

import "time"

// RankingSnapshot はある時点でのカテゴリ内アイテムの順位記録。
// 同じSnapshotTimestampを持つ行の集合が1回のスナップショット（バッチ）を構成する。
// 作成後に更新されることはない。
type RankingSnapshot struct {
	ID                string
	CategoryID        string
	ItemID            string
	RankPosition      int // 1始まり。小さいほど上位
	VoteCount         int
	SnapshotTimestamp time.Time
}

// SnapshotBatch は同一タイムスタンプのスナップショット行をまとめたもの。
// Rowsは順位昇順。
type SnapshotBatch struct {
	Timestamp time.Time
	Rows      []RankingSnapshot
}

// MovementKind は直前のスナップショットからの順位変動の種別。
type MovementKind string

const (
	MovementUp     MovementKind = "up"
	MovementDown   MovementKind = "down"
	MovementStable MovementKind = "stable"
	MovementNew    MovementKind = "new"
)

// Movement はアイテムの順位変動を表す。
type Movement struct {
	ItemID       string
	Kind         MovementKind
	Delta        int // 変動幅（常に0以上）
	CurrentRank  int
	PreviousRank *int // 新規の場合はnil
}

// RankedItem はランキング表示用に順位と変動を付与したアイテム。
type RankedItem struct {
	Item
	Rank     int
	Movement *Movement // スナップショットがない場合はnil
}
