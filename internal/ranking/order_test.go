package ranking

import (
	"testing"

	"github.com/hitoshi/rankinge/internal/model"
)

func ids(items []model.Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.ID
	}
	return out
}

func TestSortItems_VoteCountDescThenIDAsc(t *testing.T) {
	items := []model.Item{
		{ID: "c", VoteCount: 5},
		{ID: "b", VoteCount: 7},
		{ID: "a", VoteCount: 5},
		{ID: "d", VoteCount: 0},
	}
	SortItems(items)

	want := []string{"b", "a", "c", "d"}
	for i, id := range ids(items) {
		if id != want[i] {
			t.Fatalf("order = %v, want %v", ids(items), want)
		}
	}
}

func TestBuildRanking(t *testing.T) {
	items := []model.Item{
		{ID: "x", VoteCount: 1},
		{ID: "y", VoteCount: 3},
	}
	prev := 1
	movements := map[string]model.Movement{
		"y": {ItemID: "y", Kind: model.MovementStable, CurrentRank: 1, PreviousRank: &prev},
	}

	ranked := BuildRanking(items, movements)

	if len(ranked) != 2 {
		t.Fatalf("len = %d, want 2", len(ranked))
	}
	if ranked[0].ID != "y" || ranked[0].Rank != 1 || ranked[0].Movement == nil {
		t.Errorf("ranked[0] = %+v", ranked[0])
	}
	if ranked[1].ID != "x" || ranked[1].Rank != 2 || ranked[1].Movement != nil {
		t.Errorf("ranked[1] = %+v", ranked[1])
	}
	// 入力は並べ替えない
	if items[0].ID != "x" {
		t.Error("BuildRanking must not reorder its input")
	}
}
