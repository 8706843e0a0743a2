package ranking

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/hitoshi/rankinge/internal/model"
	"github.com/hitoshi/rankinge/internal/repository"
)

// DefaultLookbackRows は順位変動の計算で読むスナップショット行数の上限の既定値。
const DefaultLookbackRows = 1000

const movementCacheSize = 512

// Calculator は直近2回のスナップショットから順位変動を求める。
// 結果はカテゴリ単位でTTL付きLRUにキャッシュし、新しいスナップショットの保存時に破棄する。
type Calculator struct {
	snapshots    repository.SnapshotRepository
	lookbackRows int
	cache        *expirable.LRU[string, map[string]model.Movement]

	// generationはInvalidateのたびに増える。読み込み中に破棄された結果をキャッシュしないために使う。
	mu         sync.Mutex
	generation map[string]uint64
}

// NewCalculator はCalculatorを生成する。cacheTTLが0以下ならキャッシュしない。
func NewCalculator(snapshots repository.SnapshotRepository, lookbackRows int, cacheTTL time.Duration) *Calculator {
	if lookbackRows <= 0 {
		lookbackRows = DefaultLookbackRows
	}
	c := &Calculator{snapshots: snapshots, lookbackRows: lookbackRows, generation: map[string]uint64{}}
	if cacheTTL > 0 {
		c.cache = expirable.NewLRU[string, map[string]model.Movement](movementCacheSize, nil, cacheTTL)
	}
	return c
}

// GetMovement はアイテムの順位変動を返す。最新のスナップショットに含まれない場合はnil。
func (c *Calculator) GetMovement(ctx context.Context, categoryID, itemID string) (*model.Movement, error) {
	all, err := c.load(ctx, categoryID)
	if err != nil {
		return nil, err
	}
	m, ok := all[itemID]
	if !ok {
		return nil, nil
	}
	return &m, nil
}

// GetMovements は最新のスナップショットに含まれる全アイテムの順位変動を返す。
// スナップショットがなければ空のマップを返す。
func (c *Calculator) GetMovements(ctx context.Context, categoryID string) (map[string]model.Movement, error) {
	all, err := c.load(ctx, categoryID)
	if err != nil {
		return nil, err
	}
	return maps.Clone(all), nil
}

// Invalidate はカテゴリのキャッシュを破棄する。
func (c *Calculator) Invalidate(categoryID string) {
	if c.cache == nil {
		return
	}
	c.mu.Lock()
	c.generation[categoryID]++
	c.cache.Remove(categoryID)
	c.mu.Unlock()
}

func (c *Calculator) load(ctx context.Context, categoryID string) (map[string]model.Movement, error) {
	var gen uint64
	if c.cache != nil {
		if m, ok := c.cache.Get(categoryID); ok {
			return m, nil
		}
		c.mu.Lock()
		gen = c.generation[categoryID]
		c.mu.Unlock()
	}

	batches, err := c.snapshots.ListRecentBatches(ctx, categoryID, 2, c.lookbackRows)
	if err != nil {
		return nil, model.NewTransientStoreError("load snapshots", err)
	}

	var result map[string]model.Movement
	switch {
	case len(batches) == 0:
		result = map[string]model.Movement{}
	case len(batches) == 1 && len(batches[0].Rows) >= c.lookbackRows:
		// 直前のバッチが上限で読まれなかった可能性がある。newと誤って表示しないよう変動なしとする。
		result = map[string]model.Movement{}
	case len(batches) == 1:
		result = ComputeMovements(batches[0].Rows, nil)
	default:
		result = ComputeMovements(batches[0].Rows, batches[1].Rows)
	}

	if c.cache != nil {
		c.mu.Lock()
		if c.generation[categoryID] == gen {
			c.cache.Add(categoryID, result)
		}
		c.mu.Unlock()
	}
	return result, nil
}

// ComputeMovements は最新バッチと直前バッチの順位を比べる。
// 直前バッチにないアイテムはnew、順位が上がればup、下がればdown、同じならstable。
// Deltaは常に0以上。同じ入力には同じ結果を返す。
func ComputeMovements(latest, previous []model.RankingSnapshot) map[string]model.Movement {
	prevRank := make(map[string]int, len(previous))
	for _, row := range previous {
		prevRank[row.ItemID] = row.RankPosition
	}

	result := make(map[string]model.Movement, len(latest))
	for _, row := range latest {
		m := model.Movement{ItemID: row.ItemID, CurrentRank: row.RankPosition}
		prev, ok := prevRank[row.ItemID]
		switch {
		case !ok:
			m.Kind = model.MovementNew
		case prev > row.RankPosition:
			m.Kind = model.MovementUp
			m.Delta = prev - row.RankPosition
		case prev < row.RankPosition:
			m.Kind = model.MovementDown
			m.Delta = row.RankPosition - prev
		default:
			m.Kind = model.MovementStable
		}
		if ok {
			p := prev
			m.PreviousRank = &p
		}
		result[row.ItemID] = m
	}
	return result
}
