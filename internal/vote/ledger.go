// Package vote は1ユーザー1カテゴリ1票の投票台帳を提供する。
package vote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/rankinge/internal/metrics"
	"github.com/hitoshi/rankinge/internal/model"
	"github.com/hitoshi/rankinge/internal/repository"
)

// Ledger は投票の記録と、それに伴うアイテムの投票数の増減を1トランザクションで行う。
// 内部で再試行はしない。TransientStoreFailureを受けた呼び出し側が操作全体を再試行する。
type Ledger struct {
	categories repository.CategoryRepository
	items      repository.ItemRepository
	votes      repository.VoteRepository
	metrics    metrics.MetricsCollector
	logger     *slog.Logger
	now        func() time.Time
}

// NewLedger はLedgerを生成する。
func NewLedger(
	categories repository.CategoryRepository,
	items repository.ItemRepository,
	votes repository.VoteRepository,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
) *Ledger {
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &Ledger{
		categories: categories,
		items:      items,
		votes:      votes,
		metrics:    collector,
		logger:     logger,
		now:        time.Now,
	}
}

// CastVote はuserIDのcategoryIDにおける投票先をitemIDにする。
//   - 未投票なら投票を作成し、アイテムの投票数を1増やす（created）
//   - 既に同じアイテムに投票済みなら何もしない（already_voted）
//   - 別のアイテムに投票済みなら投票先を移し、旧アイテムを1減らして新アイテムを1増やす（moved）
func (l *Ledger) CastVote(ctx context.Context, userID, categoryID, itemID string) (model.VoteResult, error) {
	if userID == "" {
		return model.VoteResult{}, model.NewUnauthenticatedError()
	}
	if err := l.checkTarget(ctx, categoryID, itemID); err != nil {
		return model.VoteResult{}, err
	}

	var result model.VoteResult
	err := l.votes.WithinTx(ctx, func(tx repository.VoteTx) error {
		existing, err := tx.LockVote(ctx, userID, categoryID)
		if err != nil {
			return err
		}

		if existing == nil {
			now := l.now().UTC()
			v := &model.Vote{
				ID:         uuid.NewString(),
				UserID:     userID,
				CategoryID: categoryID,
				ItemID:     itemID,
				CreatedAt:  now,
				UpdatedAt:  now,
			}
			inserted, err := tx.InsertVote(ctx, v)
			if err != nil {
				return err
			}
			if inserted {
				if _, err := tx.AdjustVoteCount(ctx, itemID, 1); err != nil {
					return err
				}
				result = model.VoteResult{Outcome: model.VoteCreated, Vote: v}
				return nil
			}
			// 同じユーザーの並行リクエストが先に挿入した。その行はもう見えている。
			existing, err = tx.LockVote(ctx, userID, categoryID)
			if err != nil {
				return err
			}
			if existing == nil {
				return fmt.Errorf("vote for user %s in category %s vanished after insert conflict", userID, categoryID)
			}
		}

		if existing.ItemID == itemID {
			result = model.VoteResult{Outcome: model.VoteAlreadyVoted, Vote: existing}
			return nil
		}

		previous := existing.ItemID
		// アイテム行はID順にロックする。逆向きの移動が並行してもデッドロックしない。
		adjustments := [2]struct {
			itemID string
			delta  int
		}{{previous, -1}, {itemID, 1}}
		if itemID < previous {
			adjustments[0], adjustments[1] = adjustments[1], adjustments[0]
		}
		for _, a := range adjustments {
			if _, err := tx.AdjustVoteCount(ctx, a.itemID, a.delta); err != nil {
				return err
			}
		}
		at := l.now().UTC()
		if err := tx.UpdateVoteItem(ctx, existing.ID, itemID, at); err != nil {
			return err
		}
		existing.ItemID = itemID
		existing.UpdatedAt = at
		result = model.VoteResult{Outcome: model.VoteMoved, Vote: existing, PreviousItemID: previous}
		return nil
	})
	if err != nil {
		return model.VoteResult{}, l.translate(err, "cast vote", userID, categoryID, itemID)
	}

	l.record(result, userID, categoryID)
	return result, nil
}

// RetractVote はuserIDのcategoryIDにおける投票を取り消し、投票先の投票数を1減らす。
// 投票がなければ何もせず、Vote=nilのretractedを返す。
func (l *Ledger) RetractVote(ctx context.Context, userID, categoryID string) (model.VoteResult, error) {
	if userID == "" {
		return model.VoteResult{}, model.NewUnauthenticatedError()
	}

	result := model.VoteResult{Outcome: model.VoteRetracted}
	err := l.votes.WithinTx(ctx, func(tx repository.VoteTx) error {
		existing, err := tx.LockVote(ctx, userID, categoryID)
		if err != nil || existing == nil {
			return err
		}
		if err := tx.DeleteVote(ctx, existing.ID); err != nil {
			return err
		}
		if _, err := tx.AdjustVoteCount(ctx, existing.ItemID, -1); err != nil {
			return err
		}
		result.PreviousItemID = existing.ItemID
		return nil
	})
	if err != nil {
		return model.VoteResult{}, l.translate(err, "retract vote", userID, categoryID, "")
	}

	l.record(result, userID, categoryID)
	return result, nil
}

// RetractAll はユーザーの全カテゴリの投票を取り消す。退会処理で使う。
// 1件でも失敗した場合はそこで中断してエラーを返す。取り消し済みの分は戻さない。
func (l *Ledger) RetractAll(ctx context.Context, userID string) (int, error) {
	votes, err := l.votes.ListByUser(ctx, userID)
	if err != nil {
		return 0, model.NewTransientStoreError("list votes", err)
	}
	n := 0
	for _, v := range votes {
		if _, err := l.RetractVote(ctx, userID, v.CategoryID); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// CurrentVote はuserIDのcategoryIDにおける現在の投票を返す。未投票ならnil。
func (l *Ledger) CurrentVote(ctx context.Context, userID, categoryID string) (*model.Vote, error) {
	if userID == "" {
		return nil, model.NewUnauthenticatedError()
	}
	v, err := l.votes.FindByUserAndCategory(ctx, userID, categoryID)
	if err != nil {
		return nil, model.NewTransientStoreError("get vote", err)
	}
	return v, nil
}

// checkTarget は変更を始める前に、カテゴリが承認済みでアイテムがそのカテゴリに属することを確認する。
func (l *Ledger) checkTarget(ctx context.Context, categoryID, itemID string) error {
	if categoryID == "" || itemID == "" {
		return model.NewInvalidTargetError("カテゴリとアイテムの指定が必要です")
	}

	c, err := l.categories.FindByID(ctx, categoryID)
	if err != nil {
		return model.NewTransientStoreError("get category", err)
	}
	if c == nil {
		return model.NewInvalidTargetError("カテゴリが存在しません: " + categoryID)
	}
	if !c.IsApproved() {
		return model.NewInvalidTargetError("カテゴリは承認待ちです: " + categoryID)
	}

	it, err := l.items.FindByID(ctx, itemID)
	if err != nil {
		return model.NewTransientStoreError("get item", err)
	}
	if it == nil || it.CategoryID != categoryID {
		return model.NewInvalidTargetError("アイテムがカテゴリに属していません: " + itemID)
	}
	return nil
}

// translate はトランザクション内のエラーをAPIErrorに変換する。
// 整合性違反はERRORログとメトリクスに残す。
func (l *Ledger) translate(err error, op, userID, categoryID, itemID string) error {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	if errors.Is(err, repository.ErrVoteCountUnderflow) {
		l.metrics.RecordIntegrityViolation()
		l.logger.Error("vote count underflow detected; transaction rolled back",
			slog.String("op", op),
			slog.String("user_id", userID),
			slog.String("category_id", categoryID),
			slog.String("item_id", itemID),
			slog.String("error", err.Error()),
		)
		return model.NewDataIntegrityError(fmt.Sprintf("category=%s", categoryID), err)
	}

	// アイテムがトランザクション中に削除された場合
	if errors.Is(err, repository.ErrNotFound) {
		return model.NewInvalidTargetError("アイテムが削除されました: " + itemID)
	}

	return model.NewTransientStoreError(op, err)
}

func (l *Ledger) record(result model.VoteResult, userID, categoryID string) {
	l.metrics.RecordVote(string(result.Outcome))

	attrs := []any{
		slog.String("outcome", string(result.Outcome)),
		slog.String("user_id", userID),
		slog.String("category_id", categoryID),
	}
	if result.Vote != nil {
		attrs = append(attrs, slog.String("item_id", result.Vote.ItemID))
	}
	if result.PreviousItemID != "" {
		attrs = append(attrs, slog.String("previous_item_id", result.PreviousItemID))
	}
	l.logger.Info("vote recorded", attrs...)
}
