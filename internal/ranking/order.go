// Package ranking はランキングのスナップショット、順位変動、ライブ配信を提供する。
package ranking

import (
	"cmp"
	"slices"

	"github.com/hitoshi/rankinge/internal/model"
)

// compareItems はランキング順（投票数の降順、同数ならID昇順）の比較関数。
func compareItems(a, b model.Item) int {
	if c := cmp.Compare(b.VoteCount, a.VoteCount); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

// SortItems はitemsをランキング順に並べ替える。
func SortItems(items []model.Item) {
	slices.SortFunc(items, compareItems)
}

// BuildRanking は並べ替え済みのアイテムに1始まりの順位と変動情報を付ける。
// movementsにないアイテムのMovementはnil。
func BuildRanking(items []model.Item, movements map[string]model.Movement) []model.RankedItem {
	sorted := slices.Clone(items)
	SortItems(sorted)

	ranked := make([]model.RankedItem, len(sorted))
	for i, it := range sorted {
		ranked[i] = model.RankedItem{Item: it, Rank: i + 1}
		if m, ok := movements[it.ID]; ok {
			m := m
			ranked[i].Movement = &m
		}
	}
	return ranked
}
