// Package item はカテゴリ内アイテムの集計値と管理機能を提供する。
package item

import (
	"context"
	"errors"

	"github.com/hitoshi/rankinge/internal/changefeed"
	"github.com/hitoshi/rankinge/internal/model"
	"github.com/hitoshi/rankinge/internal/repository"
)

// ChangeSource はカテゴリ単位のアイテム変更通知の購読元。changefeed.Hubが実装する。
type ChangeSource interface {
	Subscribe(categoryID string, callback func(model.ItemEvent)) changefeed.Subscription
}

// Store はアイテムの投票数の読み書きと変更通知の購読を提供する。
type Store struct {
	items   repository.ItemRepository
	changes ChangeSource
}

// NewStore はStoreを生成する。
func NewStore(items repository.ItemRepository, changes ChangeSource) *Store {
	return &Store{items: items, changes: changes}
}

// GetVoteCount はアイテムの現在の投票数を返す。
func (s *Store) GetVoteCount(ctx context.Context, itemID string) (int, error) {
	it, err := s.items.FindByID(ctx, itemID)
	if err != nil {
		return 0, model.NewTransientStoreError("get vote count", err)
	}
	if it == nil {
		return 0, model.NewInvalidTargetError("アイテムが存在しません: " + itemID)
	}
	return it.VoteCount, nil
}

// AdjustVoteCount は投票数をdelta分だけ原子的に増減し、新しい値を返す。
// 負になる場合は何も変更せずDataIntegrityViolationを返す。
func (s *Store) AdjustVoteCount(ctx context.Context, itemID string, delta int) (int, error) {
	count, err := s.items.AdjustVoteCount(ctx, itemID, delta)
	switch {
	case err == nil:
		return count, nil
	case errors.Is(err, repository.ErrVoteCountUnderflow):
		return 0, model.NewDataIntegrityError("vote_countが負になります: "+itemID, err)
	case errors.Is(err, repository.ErrNotFound):
		return 0, model.NewInvalidTargetError("アイテムが存在しません: " + itemID)
	default:
		return 0, model.NewTransientStoreError("adjust vote count", err)
	}
}

// ListByCategory はカテゴリ内の全アイテムを1回の読み取りで取得し、
// 投票数の降順、同数の場合はID昇順で返す。
func (s *Store) ListByCategory(ctx context.Context, categoryID string) ([]model.Item, error) {
	ptrs, err := s.items.ListByCategory(ctx, categoryID)
	if err != nil {
		return nil, model.NewTransientStoreError("list items", err)
	}
	items := make([]model.Item, len(ptrs))
	for i, p := range ptrs {
		items[i] = *p
	}
	return items, nil
}

// OnChange はcategoryID内のアイテムの作成・更新・削除ごとにcallbackを呼ぶ。
// 返されたSubscriptionのCloseで購読を解除する。
func (s *Store) OnChange(categoryID string, callback func(model.ItemEvent)) changefeed.Subscription {
	return s.changes.Subscribe(categoryID, callback)
}
