// Package memstore はrepositoryのインターフェースをメモリ上で実装する。
// 単一プロセスのテストとローカル開発用。トランザクションはストア全体のロックで直列化する。
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hitoshi/rankinge/internal/model"
	"github.com/hitoshi/rankinge/internal/repository"
)

// Publisher はアイテム変更の通知先。PostgreSQLのトリガーに相当する。
type Publisher interface {
	Publish(event model.ItemEvent)
}

// Store はカテゴリ、アイテム、投票、スナップショット、設定を保持する。
type Store struct {
	mu         sync.Mutex
	categories map[string]*model.Category
	items      map[string]*model.Item
	votes      map[string]*model.Vote // vote id -> vote
	snapshots  []model.RankingSnapshot
	settings   map[string]*model.AppSetting
	publisher  Publisher

	// テストから障害を注入するためのフック。nilなら何もしない。
	FailAdjust func(itemID string, delta int) error
}

// New は空のStoreを生成する。publisherがnilなら変更通知は行わない。
func New(publisher Publisher) *Store {
	return &Store{
		categories: map[string]*model.Category{},
		items:      map[string]*model.Item{},
		votes:      map[string]*model.Vote{},
		settings:   map[string]*model.AppSetting{},
		publisher:  publisher,
	}
}

var (
	_ repository.CategoryRepository = (*CategoryRepo)(nil)
	_ repository.ItemRepository     = (*ItemRepo)(nil)
	_ repository.VoteRepository     = (*VoteRepo)(nil)
	_ repository.SnapshotRepository = (*SnapshotRepo)(nil)
	_ repository.SettingRepository  = (*SettingRepo)(nil)
)

// CategoryRepo はStore上のCategoryRepository。
type CategoryRepo struct{ s *Store }

// ItemRepo はStore上のItemRepository。
type ItemRepo struct{ s *Store }

// VoteRepo はStore上のVoteRepository。
type VoteRepo struct{ s *Store }

// SnapshotRepo はStore上のSnapshotRepository。
type SnapshotRepo struct{ s *Store }

// SettingRepo はStore上のSettingRepository。
type SettingRepo struct{ s *Store }

func (s *Store) Categories() *CategoryRepo { return &CategoryRepo{s} }
func (s *Store) Items() *ItemRepo          { return &ItemRepo{s} }
func (s *Store) Votes() *VoteRepo          { return &VoteRepo{s} }
func (s *Store) Snapshots() *SnapshotRepo  { return &SnapshotRepo{s} }
func (s *Store) Settings() *SettingRepo    { return &SettingRepo{s} }

func (s *Store) publish(kind model.ChangeKind, it *model.Item) {
	if s.publisher != nil {
		s.publisher.Publish(model.ItemEvent{Kind: kind, Item: *it})
	}
}

// --- categories ---

func (r *CategoryRepo) FindByID(_ context.Context, id string) (*model.Category, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if c, ok := r.s.categories[id]; ok {
		cp := *c
		return &cp, nil
	}
	return nil, nil
}

func (r *CategoryRepo) FindBySlug(_ context.Context, slug string) (*model.Category, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, c := range r.s.categories {
		if c.Slug != "" && c.Slug == slug {
			cp := *c
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *CategoryRepo) List(_ context.Context, f repository.CategoryFilter) ([]*model.Category, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*model.Category
	for _, c := range r.s.categories {
		if f.Status != "" && c.Status != f.Status {
			continue
		}
		if f.GroupTag != "" && c.GroupTag != f.GroupTag {
			continue
		}
		if f.ParentID != "" && (c.ParentID == nil || *c.ParentID != f.ParentID) {
			continue
		}
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *CategoryRepo) Create(_ context.Context, c *model.Category) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cp := *c
	r.s.categories[c.ID] = &cp
	return nil
}

func (r *CategoryRepo) Update(_ context.Context, c *model.Category) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.categories[c.ID]; !ok {
		return repository.ErrNotFound
	}
	cp := *c
	r.s.categories[c.ID] = &cp
	return nil
}

// Delete はカテゴリと、それに属するアイテム、投票、スナップショットを削除する。
func (r *CategoryRepo) Delete(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.categories[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.s.categories, id)
	for itemID, it := range r.s.items {
		if it.CategoryID == id {
			r.s.deleteItemLocked(itemID)
		}
	}
	kept := r.s.snapshots[:0]
	for _, row := range r.s.snapshots {
		if row.CategoryID != id {
			kept = append(kept, row)
		}
	}
	r.s.snapshots = kept
	return nil
}

// --- items ---

func (r *ItemRepo) FindByID(_ context.Context, id string) (*model.Item, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if it, ok := r.s.items[id]; ok {
		cp := *it
		return &cp, nil
	}
	return nil, nil
}

func (r *ItemRepo) ListByCategory(_ context.Context, categoryID string) ([]*model.Item, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*model.Item
	for _, it := range r.s.items {
		if it.CategoryID == categoryID {
			cp := *it
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].VoteCount != out[j].VoteCount {
			return out[i].VoteCount > out[j].VoteCount
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *ItemRepo) Create(_ context.Context, it *model.Item) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cp := *it
	cp.VoteCount = 0
	it.VoteCount = 0
	r.s.items[it.ID] = &cp
	r.s.publish(model.ChangeCreated, &cp)
	return nil
}

func (r *ItemRepo) Update(_ context.Context, it *model.Item) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cur, ok := r.s.items[it.ID]
	if !ok {
		return repository.ErrNotFound
	}
	cp := *it
	cp.VoteCount = cur.VoteCount
	cp.CategoryID = cur.CategoryID
	r.s.items[it.ID] = &cp
	r.s.publish(model.ChangeUpdated, &cp)
	return nil
}

func (r *ItemRepo) Delete(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.items[id]; !ok {
		return repository.ErrNotFound
	}
	r.s.deleteItemLocked(id)
	return nil
}

func (s *Store) deleteItemLocked(id string) {
	it := s.items[id]
	delete(s.items, id)
	for vid, v := range s.votes {
		if v.ItemID == id {
			delete(s.votes, vid)
		}
	}
	s.publish(model.ChangeDeleted, it)
}

func (r *ItemRepo) AdjustVoteCount(_ context.Context, itemID string, delta int) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.adjustLocked(itemID, delta)
}

func (s *Store) adjustLocked(itemID string, delta int) (int, error) {
	if s.FailAdjust != nil {
		if err := s.FailAdjust(itemID, delta); err != nil {
			return 0, err
		}
	}
	it, ok := s.items[itemID]
	if !ok {
		return 0, repository.ErrNotFound
	}
	if it.VoteCount+delta < 0 {
		return 0, repository.ErrVoteCountUnderflow
	}
	it.VoteCount += delta
	it.UpdatedAt = time.Now().UTC()
	s.publish(model.ChangeUpdated, it)
	return it.VoteCount, nil
}

func (r *ItemRepo) RecountByCategory(_ context.Context, categoryID string) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	counts := map[string]int{}
	for _, v := range r.s.votes {
		counts[v.ItemID]++
	}
	var changed int64
	for _, it := range r.s.items {
		if it.CategoryID != categoryID || it.VoteCount == counts[it.ID] {
			continue
		}
		it.VoteCount = counts[it.ID]
		changed++
		r.s.publish(model.ChangeUpdated, it)
	}
	return changed, nil
}

// --- votes ---

func (r *VoteRepo) FindByUserAndCategory(_ context.Context, userID, categoryID string) (*model.Vote, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if v := r.s.findVoteLocked(userID, categoryID); v != nil {
		cp := *v
		return &cp, nil
	}
	return nil, nil
}

func (s *Store) findVoteLocked(userID, categoryID string) *model.Vote {
	for _, v := range s.votes {
		if v.UserID == userID && v.CategoryID == categoryID {
			return v
		}
	}
	return nil
}

func (r *VoteRepo) ListByUser(_ context.Context, userID string) ([]*model.Vote, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*model.Vote
	for _, v := range r.s.votes {
		if v.UserID == userID {
			cp := *v
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *VoteRepo) CountByCategory(_ context.Context, categoryID string) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n := 0
	for _, v := range r.s.votes {
		if v.CategoryID == categoryID {
			n++
		}
	}
	return n, nil
}

// WithinTx はストア全体をロックしてfnを実行する。fnがエラーを返した場合は
// 投票と投票数を実行前の状態に戻す。
func (r *VoteRepo) WithinTx(ctx context.Context, fn func(tx repository.VoteTx) error) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	savedVotes := make(map[string]*model.Vote, len(r.s.votes))
	for id, v := range r.s.votes {
		cp := *v
		savedVotes[id] = &cp
	}
	savedCounts := make(map[string]int, len(r.s.items))
	for id, it := range r.s.items {
		savedCounts[id] = it.VoteCount
	}

	// コミットまで通知を保留する
	pending := &bufferedPublisher{}
	direct := r.s.publisher
	r.s.publisher = pending

	err := fn(&memVoteTx{s: r.s})

	r.s.publisher = direct
	if err != nil {
		r.s.votes = savedVotes
		for id, c := range savedCounts {
			if it, ok := r.s.items[id]; ok {
				it.VoteCount = c
			}
		}
		return err
	}
	if direct != nil {
		for _, e := range pending.events {
			direct.Publish(e)
		}
	}
	return nil
}

type bufferedPublisher struct{ events []model.ItemEvent }

func (b *bufferedPublisher) Publish(e model.ItemEvent) { b.events = append(b.events, e) }

type memVoteTx struct{ s *Store }

func (tx *memVoteTx) LockVote(_ context.Context, userID, categoryID string) (*model.Vote, error) {
	if v := tx.s.findVoteLocked(userID, categoryID); v != nil {
		cp := *v
		return &cp, nil
	}
	return nil, nil
}

func (tx *memVoteTx) InsertVote(_ context.Context, v *model.Vote) (bool, error) {
	if tx.s.findVoteLocked(v.UserID, v.CategoryID) != nil {
		return false, nil
	}
	cp := *v
	tx.s.votes[v.ID] = &cp
	return true, nil
}

func (tx *memVoteTx) UpdateVoteItem(_ context.Context, voteID, itemID string, at time.Time) error {
	v, ok := tx.s.votes[voteID]
	if !ok {
		return repository.ErrNotFound
	}
	v.ItemID = itemID
	v.UpdatedAt = at
	return nil
}

func (tx *memVoteTx) DeleteVote(_ context.Context, voteID string) error {
	if _, ok := tx.s.votes[voteID]; !ok {
		return repository.ErrNotFound
	}
	delete(tx.s.votes, voteID)
	return nil
}

func (tx *memVoteTx) AdjustVoteCount(_ context.Context, itemID string, delta int) (int, error) {
	return tx.s.adjustLocked(itemID, delta)
}

// --- snapshots ---

func (r *SnapshotRepo) InsertBatch(_ context.Context, rows []model.RankingSnapshot) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.snapshots = append(r.s.snapshots, rows...)
	return nil
}

func (r *SnapshotRepo) ListRecentBatches(_ context.Context, categoryID string, batches, maxRows int) ([]model.SnapshotBatch, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	byTS := map[time.Time][]model.RankingSnapshot{}
	for _, row := range r.s.snapshots {
		if row.CategoryID == categoryID {
			byTS[row.SnapshotTimestamp] = append(byTS[row.SnapshotTimestamp], row)
		}
	}
	stamps := make([]time.Time, 0, len(byTS))
	for ts := range byTS {
		stamps = append(stamps, ts)
	}
	sort.Slice(stamps, func(i, j int) bool { return stamps[i].After(stamps[j]) })
	if len(stamps) > batches {
		stamps = stamps[:batches]
	}

	var out []model.SnapshotBatch
	read := 0
	for _, ts := range stamps {
		rows := byTS[ts]
		if read >= maxRows {
			break
		}
		sort.Slice(rows, func(i, j int) bool { return rows[i].RankPosition < rows[j].RankPosition })
		read += len(rows)
		out = append(out, model.SnapshotBatch{Timestamp: ts, Rows: rows})
	}
	return out, nil
}

// --- settings ---

func (r *SettingRepo) Get(_ context.Context, key string) (*model.AppSetting, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if st, ok := r.s.settings[key]; ok {
		cp := *st
		return &cp, nil
	}
	return nil, nil
}

func (r *SettingRepo) List(_ context.Context) ([]*model.AppSetting, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]*model.AppSetting, 0, len(r.s.settings))
	for _, st := range r.s.settings {
		cp := *st
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (r *SettingRepo) Upsert(_ context.Context, key, value string) (*model.AppSetting, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	st := &model.AppSetting{Key: key, Value: value, UpdatedAt: time.Now().UTC()}
	r.s.settings[key] = st
	cp := *st
	return &cp, nil
}

// SumVoteCounts はカテゴリ内のvote_countの合計を返す。整合性の検証用。
func (s *Store) SumVoteCounts(categoryID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	sum := 0
	for _, it := range s.items {
		if it.CategoryID == categoryID {
			sum += it.VoteCount
		}
	}
	return sum
}
