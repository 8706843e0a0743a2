package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/rankinge/internal/model"
	"github.com/hitoshi/rankinge/internal/ranking"
	"github.com/hitoshi/rankinge/internal/worker/snapshot"
)

// defaultLiveKeepAlive はSSE接続を維持するコメント送信の間隔。
const defaultLiveKeepAlive = 25 * time.Second

// MovementServiceInterface は順位変動の読み取りインターフェース。ranking.Calculatorが実装する。
type MovementServiceInterface interface {
	GetMovement(ctx context.Context, categoryID, itemID string) (*model.Movement, error)
	GetMovements(ctx context.Context, categoryID string) (map[string]model.Movement, error)
}

// LiveServiceInterface はライブランキング購読のインターフェース。ranking.LiveViewが実装する。
type LiveServiceInterface interface {
	Subscribe(ctx context.Context, categoryID string) (*ranking.LiveSubscription, error)
}

// SnapshotServiceInterface は単一カテゴリのスナップショット取得。ranking.Snapshotterが実装する。
type SnapshotServiceInterface interface {
	CaptureSnapshot(ctx context.Context, categoryID string) (time.Time, error)
}

// SnapshotRunnerInterface は全カテゴリのスナップショット取得。snapshot.Schedulerが実装する。
type SnapshotRunnerInterface interface {
	RunOnce(ctx context.Context) (snapshot.Summary, error)
}

// SettingsReader は型付けされた設定値の読み取り。setting.Serviceが実装する。
type SettingsReader interface {
	Current(ctx context.Context) (model.Settings, error)
}

// RankingHandler はランキング表示とスナップショット操作のHTTPハンドラー。
type RankingHandler struct {
	categories CategoryServiceInterface
	items      ItemServiceInterface
	movements  MovementServiceInterface
	live       LiveServiceInterface
	snapshots  SnapshotServiceInterface
	runner     SnapshotRunnerInterface
	settings   SettingsReader
	keepAlive  time.Duration
}

// RankingHandlerDeps はRankingHandlerの依存関係。
type RankingHandlerDeps struct {
	Categories CategoryServiceInterface
	Items      ItemServiceInterface
	Movements  MovementServiceInterface
	Live       LiveServiceInterface
	Snapshots  SnapshotServiceInterface
	Runner     SnapshotRunnerInterface
	Settings   SettingsReader
}

// NewRankingHandler はRankingHandlerを生成する。
func NewRankingHandler(deps RankingHandlerDeps) *RankingHandler {
	return &RankingHandler{
		categories: deps.Categories,
		items:      deps.Items,
		movements:  deps.Movements,
		live:       deps.Live,
		snapshots:  deps.Snapshots,
		runner:     deps.Runner,
		settings:   deps.Settings,
		keepAlive:  defaultLiveKeepAlive,
	}
}

type movementResponse struct {
	Kind         string `json:"kind"`
	Delta        int    `json:"delta"`
	CurrentRank  int    `json:"current_rank"`
	PreviousRank *int   `json:"previous_rank"`
}

func toMovementResponse(m *model.Movement) *movementResponse {
	if m == nil {
		return nil
	}
	return &movementResponse{
		Kind:         string(m.Kind),
		Delta:        m.Delta,
		CurrentRank:  m.CurrentRank,
		PreviousRank: m.PreviousRank,
	}
}

// rankedItemResponse はランキングの1行。表示形式によってvote_countかpercentageを省く。
type rankedItemResponse struct {
	Rank       int               `json:"rank"`
	Item       itemResponse      `json:"item"`
	VoteCount  *int              `json:"vote_count,omitempty"`
	Percentage *float64          `json:"percentage,omitempty"`
	Movement   *movementResponse `json:"movement"`
}

type rankingResponse struct {
	CategoryID  string               `json:"category_id"`
	DisplayMode string               `json:"display_mode"`
	TotalVotes  *int                 `json:"total_votes,omitempty"`
	Items       []rankedItemResponse `json:"items"`
}

// effectiveDisplayMode はカテゴリの表示形式を返す。
// カテゴリが既定のbothのときはサイト全体の設定に従う。
func effectiveDisplayMode(c *model.Category, settings model.Settings) model.DisplayMode {
	if c.DisplayMode != "" && c.DisplayMode != model.DisplayBoth {
		return c.DisplayMode
	}
	if settings.VoteDisplayMode != "" {
		return settings.VoteDisplayMode
	}
	return model.DisplayBoth
}

// votePercentage は得票率を小数点以下1桁に丸めて返す。総投票数0なら0。
func votePercentage(count, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(count)*1000/float64(total)) / 10
}

func buildRankingResponse(c *model.Category, mode model.DisplayMode, ranked []model.RankedItem) rankingResponse {
	total := 0
	for _, it := range ranked {
		total += it.VoteCount
	}

	resp := rankingResponse{
		CategoryID:  c.ID,
		DisplayMode: string(mode),
		Items:       make([]rankedItemResponse, len(ranked)),
	}
	showCount := mode != model.DisplayPercentage
	showPercentage := mode != model.DisplayCount
	if showCount {
		resp.TotalVotes = &total
	}

	for i, it := range ranked {
		row := rankedItemResponse{
			Rank:     it.Rank,
			Item:     toItemResponse(&it.Item),
			Movement: toMovementResponse(it.Movement),
		}
		if showCount {
			n := it.VoteCount
			row.VoteCount = &n
		}
		if showPercentage {
			p := votePercentage(it.VoteCount, total)
			row.Percentage = &p
		}
		resp.Items[i] = row
	}
	return resp
}

// visibleCategory は閲覧者に見えるカテゴリを取得する。失敗時はエラーレスポンスを書き込む。
func (h *RankingHandler) visibleCategory(w http.ResponseWriter, r *http.Request) *model.Category {
	c, err := h.categories.Get(r.Context(), viewerFromRequest(r), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return nil
	}
	return c
}

// ListItems はカテゴリ内のアイテムをランキング順に返す。
// GET /api/categories/{id}/items
func (h *RankingHandler) ListItems(w http.ResponseWriter, r *http.Request) {
	c := h.visibleCategory(w, r)
	if c == nil {
		return
	}

	items, err := h.items.List(r.Context(), c.ID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]itemResponse, len(items))
	for i, it := range items {
		resp[i] = toItemResponse(it)
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": resp})
}

// Ranking はランキング順のアイテムに順位・得票・順位変動を付けて返す。
// GET /api/categories/{id}/ranking
func (h *RankingHandler) Ranking(w http.ResponseWriter, r *http.Request) {
	c := h.visibleCategory(w, r)
	if c == nil {
		return
	}

	ptrs, err := h.items.List(r.Context(), c.ID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	movements, err := h.movements.GetMovements(r.Context(), c.ID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	settings, err := h.settings.Current(r.Context())
	if err != nil {
		// 設定が読めなくてもランキングは既定値で表示する
		slog.Warn("failed to load settings for ranking", slog.String("error", err.Error()))
		settings = model.DefaultSettings()
	}

	items := make([]model.Item, len(ptrs))
	for i, p := range ptrs {
		items[i] = *p
	}
	ranked := ranking.BuildRanking(items, movements)
	writeJSON(w, http.StatusOK, buildRankingResponse(c, effectiveDisplayMode(c, settings), ranked))
}

// Movement は1アイテムの順位変動を返す。最新のスナップショットにない場合はnull。
// GET /api/categories/{id}/items/{itemId}/movement
func (h *RankingHandler) Movement(w http.ResponseWriter, r *http.Request) {
	c := h.visibleCategory(w, r)
	if c == nil {
		return
	}

	itemID := chi.URLParam(r, "itemId")
	it, err := h.items.Get(r.Context(), itemID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if it.CategoryID != c.ID {
		handleServiceError(w, model.NewItemNotFoundError(itemID))
		return
	}

	m, err := h.movements.GetMovement(r.Context(), c.ID, itemID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"item_id":  itemID,
		"movement": toMovementResponse(m),
	})
}

// Live はカテゴリのランキングをServer-Sent Eventsで配信する。
// 接続直後に現在の並びを送り、以降は変更のたびに並べ替え後の一覧を送る。
// GET /api/categories/{id}/live
func (h *RankingHandler) Live(w http.ResponseWriter, r *http.Request) {
	c := h.visibleCategory(w, r)
	if c == nil {
		return
	}

	rc := http.NewResponseController(w)

	sub, err := h.live.Subscribe(r.Context(), c.ID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	// 長時間接続になるためサーバーの書き込みタイムアウトを解除する
	_ = rc.SetWriteDeadline(time.Time{})
	w.WriteHeader(http.StatusOK)

	if err := writeLiveEvent(w, c.ID, sub.Items()); err != nil {
		return
	}
	if err := rc.Flush(); err != nil {
		slog.Error("live ranking requires a flushable response", slog.String("error", err.Error()))
		return
	}

	keepAlive := time.NewTicker(h.keepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case items, ok := <-sub.Updates():
			if !ok {
				return
			}
			if err := writeLiveEvent(w, c.ID, items); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}

type liveEvent struct {
	CategoryID string               `json:"category_id"`
	Items      []rankedItemResponse `json:"items"`
}

func writeLiveEvent(w http.ResponseWriter, categoryID string, items []model.Item) error {
	ranked := ranking.BuildRanking(items, nil)
	rows := make([]rankedItemResponse, len(ranked))
	for i, it := range ranked {
		n := it.VoteCount
		rows[i] = rankedItemResponse{Rank: it.Rank, Item: toItemResponse(&it.Item), VoteCount: &n}
	}
	data, err := json.Marshal(liveEvent{CategoryID: categoryID, Items: rows})
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: ranking\ndata: %s\n\n", data)
	return err
}

// CaptureSnapshot はカテゴリのスナップショットを即時に取得する。
// POST /api/admin/categories/{id}/snapshots
func (h *RankingHandler) CaptureSnapshot(w http.ResponseWriter, r *http.Request) {
	c := h.visibleCategory(w, r)
	if c == nil {
		return
	}

	ts, err := h.snapshots.CaptureSnapshot(r.Context(), c.ID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"category_id":        c.ID,
		"snapshot_timestamp": ts,
	})
}

// CaptureAll は承認済みの全カテゴリのスナップショットを取得する。
// POST /api/admin/snapshots
func (h *RankingHandler) CaptureAll(w http.ResponseWriter, r *http.Request) {
	summary, err := h.runner.RunOnce(r.Context())
	if err != nil {
		handleServiceError(w, model.NewTransientStoreError("list approved categories", err))
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// Recount はカテゴリ内の投票数をvotesから再計算する。
// POST /api/admin/categories/{id}/recount
func (h *RankingHandler) Recount(w http.ResponseWriter, r *http.Request) {
	c := h.visibleCategory(w, r)
	if c == nil {
		return
	}

	n, err := h.items.Recount(r.Context(), c.ID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"category_id":   c.ID,
		"items_updated": n,
	})
}
