package ranking

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"github.com/hitoshi/rankinge/internal/changefeed"
	"github.com/hitoshi/rankinge/internal/metrics"
	"github.com/hitoshi/rankinge/internal/model"
)

// ItemSource はLiveViewが読むアイテムの一覧と変更通知。item.Storeが実装する。
type ItemSource interface {
	ListByCategory(ctx context.Context, categoryID string) ([]model.Item, error)
	OnChange(categoryID string, callback func(model.ItemEvent)) changefeed.Subscription
}

// LiveView はカテゴリのランキングを変更通知に追従して保持する購読を作る。
type LiveView struct {
	source  ItemSource
	metrics metrics.MetricsCollector
	logger  *slog.Logger
}

// NewLiveView はLiveViewを生成する。
func NewLiveView(source ItemSource, collector metrics.MetricsCollector, logger *slog.Logger) *LiveView {
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &LiveView{source: source, metrics: collector, logger: logger}
}

// LiveSubscription はカテゴリのアイテムをランキング順に保持する。
// 途中から再開はできない。切断後は新たにSubscribeして読み直す。
type LiveSubscription struct {
	categoryID string
	view       *LiveView

	mu      sync.Mutex
	items   []model.Item
	ready   bool
	pending []model.ItemEvent
	closed  bool
	updates chan []model.Item
	done    chan struct{}

	sub changefeed.Subscription
}

// Subscribe は変更通知を先に登録してから初回の全件読み込みを行う。
// 読み込み中に届いた変更は読み込み後に受信順で適用する。
// ctxがキャンセルされると購読は閉じられる。
func (v *LiveView) Subscribe(ctx context.Context, categoryID string) (*LiveSubscription, error) {
	ls := &LiveSubscription{
		categoryID: categoryID,
		view:       v,
		updates:    make(chan []model.Item, 1),
		done:       make(chan struct{}),
	}
	ls.sub = v.source.OnChange(categoryID, ls.onEvent)

	items, err := v.source.ListByCategory(ctx, categoryID)
	if err != nil {
		ls.sub.Close()
		return nil, err
	}

	ls.mu.Lock()
	ls.items = items
	SortItems(ls.items)
	for _, e := range ls.pending {
		ls.apply(e)
	}
	ls.pending = nil
	ls.ready = true
	ls.mu.Unlock()

	v.metrics.LiveSubscriberAdded()
	v.logger.Debug("live ranking subscribed",
		slog.String("category_id", categoryID),
		slog.Int("items", len(items)),
	)

	go func() {
		select {
		case <-ctx.Done():
			ls.Close()
		case <-ls.done:
		}
	}()
	return ls, nil
}

// Items は現在の並びのコピーを返す。
func (ls *LiveSubscription) Items() []model.Item {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return slices.Clone(ls.items)
}

// Updates は変更を適用するたびに並べ替え後の一覧を送るチャネルを返す。
// 受信が遅れた場合は途中の状態を捨てて最新の一覧だけを残す。Closeでチャネルは閉じられる。
func (ls *LiveSubscription) Updates() <-chan []model.Item {
	return ls.updates
}

// Done はCloseされると閉じるチャネルを返す。
func (ls *LiveSubscription) Done() <-chan struct{} {
	return ls.done
}

// Close は購読を解除する。複数回呼んでも安全。
func (ls *LiveSubscription) Close() {
	ls.mu.Lock()
	if ls.closed {
		ls.mu.Unlock()
		return
	}
	ls.closed = true
	close(ls.updates)
	close(ls.done)
	ls.mu.Unlock()

	ls.sub.Close()
	ls.view.metrics.LiveSubscriberRemoved()
	ls.view.logger.Debug("live ranking closed", slog.String("category_id", ls.categoryID))
}

func (ls *LiveSubscription) onEvent(e model.ItemEvent) {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	if ls.closed {
		return
	}
	if !ls.ready {
		ls.pending = append(ls.pending, e)
		return
	}
	ls.apply(e)
	ls.emit()
}

// apply はイベントを1件反映して並べ替える。ls.muを保持して呼ぶこと。
func (ls *LiveSubscription) apply(e model.ItemEvent) {
	if e.Item.CategoryID != ls.categoryID {
		return
	}
	idx := slices.IndexFunc(ls.items, func(it model.Item) bool { return it.ID == e.Item.ID })

	switch e.Kind {
	case model.ChangeCreated, model.ChangeUpdated:
		if idx >= 0 {
			// 変更通知にはdescriptionが含まれないため、読み込み済みの値を残す
			updated := e.Item
			if updated.Description == "" {
				updated.Description = ls.items[idx].Description
			}
			ls.items[idx] = updated
		} else {
			ls.items = append(ls.items, e.Item)
		}
	case model.ChangeDeleted:
		if idx >= 0 {
			ls.items = slices.Delete(ls.items, idx, idx+1)
		}
	}
	SortItems(ls.items)
}

// emit は最新の一覧を送る。未受信の古い一覧があれば置き換える。ls.muを保持して呼ぶこと。
func (ls *LiveSubscription) emit() {
	snapshot := slices.Clone(ls.items)
	select {
	case ls.updates <- snapshot:
	default:
		select {
		case <-ls.updates:
		default:
		}
		ls.updates <- snapshot
	}
}
