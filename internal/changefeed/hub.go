// Package changefeed はアイテム変更通知をカテゴリ単位で購読者に配信する。
package changefeed

import (
	"sync"

	"github.com/hitoshi/rankinge/internal/model"
)

// Subscription は購読の解除ハンドル。
type Subscription interface {
	// Close は購読を解除する。複数回呼んでも安全。
	// Closeが戻った後にコールバックが呼ばれることはない。
	Close()
}

// Hub はカテゴリIDごとにコールバックを管理し、受信順にイベントを配信する。
// Publishは単一のゴルーチン（PGListenerなど）から呼ばれることを想定している。
type Hub struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[string]map[uint64]*subscription
}

// NewHub は空のHubを生成する。
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[uint64]*subscription)}
}

type subscription struct {
	hub        *Hub
	id         uint64
	categoryID string
	callback   func(model.ItemEvent)

	mu     sync.Mutex
	closed bool
}

// Subscribe はcategoryIDのイベントを受け取るコールバックを登録する。
// コールバックは配信元のゴルーチンで同期的に呼ばれるため、ブロックしないこと。
// コールバック内から自身のCloseを呼んではならない。
func (h *Hub) Subscribe(categoryID string, callback func(model.ItemEvent)) Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	sub := &subscription{
		hub:        h,
		id:         h.nextID,
		categoryID: categoryID,
		callback:   callback,
	}
	if h.subs[categoryID] == nil {
		h.subs[categoryID] = make(map[uint64]*subscription)
	}
	h.subs[categoryID][sub.id] = sub
	return sub
}

// Publish はイベントをそのカテゴリの全購読者に配信する。
func (h *Hub) Publish(event model.ItemEvent) {
	h.mu.RLock()
	targets := make([]*subscription, 0, len(h.subs[event.Item.CategoryID]))
	for _, sub := range h.subs[event.Item.CategoryID] {
		targets = append(targets, sub)
	}
	h.mu.RUnlock()

	for _, sub := range targets {
		sub.deliver(event)
	}
}

// Count はcategoryIDの購読者数を返す。categoryIDが空なら全体の数。
func (h *Hub) Count(categoryID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if categoryID != "" {
		return len(h.subs[categoryID])
	}
	n := 0
	for _, m := range h.subs {
		n += len(m)
	}
	return n
}

func (s *subscription) deliver(event model.ItemEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.callback(event)
}

func (s *subscription) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	h := s.hub
	h.mu.Lock()
	defer h.mu.Unlock()
	if m := h.subs[s.categoryID]; m != nil {
		delete(m, s.id)
		if len(m) == 0 {
			delete(h.subs, s.categoryID)
		}
	}
}
