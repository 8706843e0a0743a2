package handler

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/rankinge/internal/category"
	"github.com/hitoshi/rankinge/internal/changefeed"
	"github.com/hitoshi/rankinge/internal/item"
	"github.com/hitoshi/rankinge/internal/metrics"
	"github.com/hitoshi/rankinge/internal/middleware"
	"github.com/hitoshi/rankinge/internal/model"
	"github.com/hitoshi/rankinge/internal/ranking"
	"github.com/hitoshi/rankinge/internal/repository/memstore"
	"github.com/hitoshi/rankinge/internal/security"
	"github.com/hitoshi/rankinge/internal/setting"
	"github.com/hitoshi/rankinge/internal/vote"
	"github.com/hitoshi/rankinge/internal/worker/snapshot"
)

const testCSRFToken = "csrf-token-for-tests"

// --- 統合テスト用のセッション解決 ---

// sessionTable はセッションIDとユーザーの対応を保持するUserResolver。
type sessionTable map[string]*model.User

func (s sessionTable) GetCurrentUser(ctx context.Context, sessionID string) (*model.User, error) {
	u, ok := s[sessionID]
	if !ok {
		return nil, model.NewUnauthenticatedError()
	}
	return u, nil
}

// integrationEnv はメモリストア上に組み立てた本物のサービス群とルーター。
type integrationEnv struct {
	store    *memstore.Store
	sessions sessionTable
	registry *prometheus.Registry
	router   http.Handler
}

func newIntegrationEnv(t *testing.T, rl middleware.RateLimiterConfig) *integrationEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	hub := changefeed.NewHub()
	store := memstore.New(hub)
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)
	sanitizer := security.NewSanitizer()

	categories := category.NewService(store.Categories(), sanitizer)
	items := item.NewService(store.Categories(), store.Items(), sanitizer, security.NewURLGuard(), nil)
	ledger := vote.NewLedger(store.Categories(), store.Items(), store.Votes(), collector, logger)
	calc := ranking.NewCalculator(store.Snapshots(), ranking.DefaultLookbackRows, time.Minute)
	snapshotter := ranking.NewSnapshotter(store.Categories(), store.Items(), store.Snapshots(), calc, collector, logger)
	live := ranking.NewLiveView(item.NewStore(store.Items(), hub), collector, logger)
	scheduler := snapshot.NewScheduler(categories, snapshotter, logger, 2, snapshot.DefaultRetryPolicy())

	limiter := middleware.NewRateLimiter(rl)
	t.Cleanup(limiter.Stop)

	sessions := sessionTable{
		"admin-session": testAdmin,
		"user-session":  testUser,
	}

	router := NewRouter(&RouterDeps{
		UserResolver:      sessions,
		CORSAllowedOrigin: "http://localhost:3000",
		RateLimiter:       limiter,
		Logger:            logger,
		Metrics:           collector,
		MetricsHandler:    metrics.Handler(reg),
		AuthService:       &mockAuthService{},
		AuthConfig:        AuthHandlerConfig{BaseURL: "http://localhost:3000"},
		CategoryService:   categories,
		ItemService:       items,
		VoteService:       ledger,
		MovementService:   calc,
		LiveService:       live,
		SnapshotService:   snapshotter,
		SnapshotRunner:    scheduler,
		SettingService:    setting.NewService(store.Settings()),
		PostService:       &mockPostService{},
		UserService:       &mockUserService{},
		AIService: &mockAIService{generateFn: func(ctx context.Context, req model.GenerationRequest) (*model.GenerationResult, error) {
			return &model.GenerationResult{Result: "draft"}, nil
		}},
	})

	return &integrationEnv{store: store, sessions: sessions, registry: reg, router: router}
}

func generousRateLimits() middleware.RateLimiterConfig {
	cfg := middleware.DefaultRateLimiterConfig()
	cfg.GeneralBurst = 1000
	cfg.VoteBurst = 1000
	return cfg
}

// do はセッションとCSRFトークンを付けてリクエストを送る。sessionIDが空なら匿名。
func (e *integrationEnv) do(t *testing.T, method, path, body, sessionID string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if sessionID != "" {
		req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: sessionID})
	}
	req.AddCookie(&http.Cookie{Name: "csrf_token", Value: testCSRFToken})
	req.Header.Set("X-CSRF-Token", testCSRFToken)

	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

// voter は投票用のユーザーとセッションを登録し、セッションIDを返す。
func (e *integrationEnv) voter(id string) string {
	sid := "session-" + id
	e.sessions[sid] = &model.User{ID: id, Email: id + "@example.com", Role: model.RoleUser}
	return sid
}

func (e *integrationEnv) createCategory(t *testing.T, body string) categoryResponse {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/categories", body, "admin-session")
	if w.Code != http.StatusCreated {
		t.Fatalf("create category status = %d (body=%s)", w.Code, w.Body.String())
	}
	var c categoryResponse
	decodeBody(t, w, &c)
	return c
}

func (e *integrationEnv) createItem(t *testing.T, categoryID, name string) itemResponse {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/admin/categories/"+categoryID+"/items", `{"name":"`+name+`"}`, "admin-session")
	if w.Code != http.StatusCreated {
		t.Fatalf("create item status = %d (body=%s)", w.Code, w.Body.String())
	}
	var it itemResponse
	decodeBody(t, w, &it)
	return it
}

func (e *integrationEnv) vote(t *testing.T, sessionID, categoryID, itemID string) voteResultResponse {
	t.Helper()
	w := e.do(t, http.MethodPut, "/api/categories/"+categoryID+"/vote", `{"item_id":"`+itemID+`"}`, sessionID)
	if w.Code != http.StatusCreated && w.Code != http.StatusOK {
		t.Fatalf("vote status = %d (body=%s)", w.Code, w.Body.String())
	}
	var res voteResultResponse
	decodeBody(t, w, &res)
	return res
}

func (e *integrationEnv) capture(t *testing.T, categoryID string) {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/admin/categories/"+categoryID+"/snapshots", "", "admin-session")
	if w.Code != http.StatusCreated {
		t.Fatalf("capture status = %d (body=%s)", w.Code, w.Body.String())
	}
	// 同一タイムスタンプのバッチにならないようにする
	time.Sleep(2 * time.Millisecond)
}

// --- テスト ---

func TestIntegration_VoteRankingAndMovement(t *testing.T) {
	env := newIntegrationEnv(t, generousRateLimits())

	cat := env.createCategory(t, `{"name":"Best Ramen","display_mode":"both"}`)
	if cat.Status != string(model.ApprovalApproved) {
		t.Fatalf("admin-created category status = %q, want approved", cat.Status)
	}
	a := env.createItem(t, cat.ID, "Shio")
	b := env.createItem(t, cat.ID, "Shoyu")
	c := env.createItem(t, cat.ID, "Miso")

	// B=2, C=1, A=0
	env.vote(t, env.voter("u1"), cat.ID, b.ID)
	env.vote(t, env.voter("u2"), cat.ID, b.ID)
	u3 := env.voter("u3")
	if res := env.vote(t, u3, cat.ID, c.ID); res.Outcome != string(model.VoteCreated) {
		t.Errorf("first vote outcome = %q, want created", res.Outcome)
	}
	env.capture(t, cat.ID)

	// A=3, B=2, C=0（u3はCからAへ移動）
	if res := env.vote(t, u3, cat.ID, a.ID); res.Outcome != string(model.VoteMoved) || res.PreviousItemID != c.ID {
		t.Errorf("move outcome = %+v", res)
	}
	env.vote(t, env.voter("u4"), cat.ID, a.ID)
	env.vote(t, env.voter("u5"), cat.ID, a.ID)
	env.capture(t, cat.ID)

	w := env.do(t, http.MethodGet, "/api/categories/"+cat.ID+"/ranking", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("ranking status = %d (body=%s)", w.Code, w.Body.String())
	}
	var rk rankingResponse
	decodeBody(t, w, &rk)

	wantOrder := []string{a.ID, b.ID, c.ID}
	wantVotes := []int{3, 2, 0}
	if len(rk.Items) != 3 {
		t.Fatalf("ranking items = %d, want 3", len(rk.Items))
	}
	for i, row := range rk.Items {
		if row.Item.ID != wantOrder[i] || row.Rank != i+1 {
			t.Errorf("row %d = %s (rank %d), want %s", i, row.Item.ID, row.Rank, wantOrder[i])
		}
		if row.VoteCount == nil || *row.VoteCount != wantVotes[i] {
			t.Errorf("row %d vote_count = %v, want %d", i, row.VoteCount, wantVotes[i])
		}
	}
	if rk.TotalVotes == nil || *rk.TotalVotes != 5 {
		t.Errorf("total_votes = %v, want 5", rk.TotalVotes)
	}
	if p := rk.Items[0].Percentage; p == nil || *p != 60 {
		t.Errorf("top percentage = %v, want 60", p)
	}
	if m := rk.Items[0].Movement; m == nil || m.Kind != string(model.MovementUp) || m.Delta != 2 {
		t.Errorf("top movement = %+v, want up by 2", m)
	}

	w = env.do(t, http.MethodGet, "/api/categories/"+cat.ID+"/items/"+b.ID+"/movement", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("movement status = %d", w.Code)
	}
	var mv struct {
		ItemID   string            `json:"item_id"`
		Movement *movementResponse `json:"movement"`
	}
	decodeBody(t, w, &mv)
	if mv.Movement == nil || mv.Movement.Kind != string(model.MovementDown) || mv.Movement.Delta != 1 {
		t.Errorf("movement of B = %+v, want down by 1", mv.Movement)
	}
	if mv.Movement.PreviousRank == nil || *mv.Movement.PreviousRank != 1 {
		t.Errorf("previous rank of B = %v, want 1", mv.Movement.PreviousRank)
	}

	// 投票の合計は集計値と一致する
	if sum := env.store.SumVoteCounts(cat.ID); sum != 5 {
		t.Errorf("sum of vote counts = %d, want 5", sum)
	}

	w = env.do(t, http.MethodPost, "/api/admin/categories/"+cat.ID+"/recount", "", "admin-session")
	if w.Code != http.StatusOK {
		t.Fatalf("recount status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"items_updated":0`) {
		t.Errorf("recount should not change consistent counts: %s", w.Body.String())
	}
}

func TestIntegration_RetractAndCurrentVote(t *testing.T) {
	env := newIntegrationEnv(t, generousRateLimits())
	cat := env.createCategory(t, `{"name":"Coffee"}`)
	it := env.createItem(t, cat.ID, "Drip")

	sid := env.voter("u1")
	env.vote(t, sid, cat.ID, it.ID)
	if res := env.vote(t, sid, cat.ID, it.ID); res.Outcome != string(model.VoteAlreadyVoted) {
		t.Errorf("repeat vote outcome = %q, want already_voted", res.Outcome)
	}

	w := env.do(t, http.MethodGet, "/api/categories/"+cat.ID+"/vote", "", sid)
	if !strings.Contains(w.Body.String(), it.ID) {
		t.Errorf("current vote = %s", w.Body.String())
	}

	w = env.do(t, http.MethodDelete, "/api/categories/"+cat.ID+"/vote", "", sid)
	if w.Code != http.StatusOK {
		t.Fatalf("retract status = %d", w.Code)
	}
	w = env.do(t, http.MethodGet, "/api/categories/"+cat.ID+"/vote", "", sid)
	if got := w.Body.String(); got != "{\"vote\":null}\n" {
		t.Errorf("after retract = %q", got)
	}
	if sum := env.store.SumVoteCounts(cat.ID); sum != 0 {
		t.Errorf("sum after retract = %d, want 0", sum)
	}
}

func TestIntegration_PendingCategory(t *testing.T) {
	env := newIntegrationEnv(t, generousRateLimits())

	w := env.do(t, http.MethodPost, "/api/categories", `{"name":"Pending Topic"}`, "user-session")
	if w.Code != http.StatusCreated {
		t.Fatalf("submit status = %d (body=%s)", w.Code, w.Body.String())
	}
	var cat categoryResponse
	decodeBody(t, w, &cat)
	if cat.Status != string(model.ApprovalPending) {
		t.Fatalf("status = %q, want pending", cat.Status)
	}
	it := env.createItem(t, cat.ID, "Option")

	// 匿名には見えない
	if w := env.do(t, http.MethodGet, "/api/categories/"+cat.ID, "", ""); w.Code != http.StatusNotFound {
		t.Errorf("anonymous get pending = %d, want 404", w.Code)
	}

	// 承認前の投票は拒否される
	w = env.do(t, http.MethodPut, "/api/categories/"+cat.ID+"/vote", `{"item_id":"`+it.ID+`"}`, env.voter("u9"))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("vote on pending = %d, want 400", w.Code)
	}
	if body := decodeAPIError(t, w); body.Code != model.ErrCodeInvalidTarget {
		t.Errorf("code = %q, want INVALID_TARGET", body.Code)
	}

	// 一般ユーザーは承認できない
	if w := env.do(t, http.MethodPost, "/api/admin/categories/"+cat.ID+"/approve", "", "user-session"); w.Code != http.StatusForbidden {
		t.Errorf("user approve = %d, want 403", w.Code)
	}
	if w := env.do(t, http.MethodPost, "/api/admin/categories/"+cat.ID+"/approve", "", "admin-session"); w.Code != http.StatusOK {
		t.Fatalf("admin approve = %d", w.Code)
	}

	if w := env.do(t, http.MethodGet, "/api/categories/"+cat.ID, "", ""); w.Code != http.StatusOK {
		t.Errorf("anonymous get approved = %d, want 200", w.Code)
	}
	env.vote(t, env.voter("u9"), cat.ID, it.ID)
}

func TestIntegration_CaptureAllSnapshots(t *testing.T) {
	env := newIntegrationEnv(t, generousRateLimits())
	for _, name := range []string{"One", "Two"} {
		cat := env.createCategory(t, `{"name":"`+name+`"}`)
		env.createItem(t, cat.ID, "x")
	}

	w := env.do(t, http.MethodPost, "/api/admin/snapshots", "", "admin-session")
	if w.Code != http.StatusOK {
		t.Fatalf("capture all = %d (body=%s)", w.Code, w.Body.String())
	}
	var summary snapshot.Summary
	decodeBody(t, w, &summary)
	if summary.Categories != 2 || summary.Captured != 2 || summary.Failed != 0 {
		t.Errorf("summary = %+v", summary)
	}
}

func TestIntegration_LiveRankingStream(t *testing.T) {
	env := newIntegrationEnv(t, generousRateLimits())
	cat := env.createCategory(t, `{"name":"Live"}`)
	a := env.createItem(t, cat.ID, "A")
	b := env.createItem(t, cat.ID, "B")
	env.vote(t, env.voter("u1"), cat.ID, a.ID)

	srv := httptest.NewServer(env.router)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/categories/"+cat.ID+"/live", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("live request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("live status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}

	events := make(chan liveEvent, 4)
	go func() {
		defer close(events)
		reader := bufio.NewReader(resp.Body)
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				return
			}
			if data, ok := strings.CutPrefix(line, "data: "); ok {
				var ev liveEvent
				if json.Unmarshal([]byte(data), &ev) == nil {
					events <- ev
				}
			}
		}
	}()

	next := func() liveEvent {
		t.Helper()
		select {
		case ev, ok := <-events:
			if !ok {
				t.Fatal("stream closed")
			}
			return ev
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for live event")
		}
		return liveEvent{}
	}

	initial := next()
	if len(initial.Items) != 2 || initial.Items[0].Item.ID != a.ID {
		t.Fatalf("initial = %+v", initial.Items)
	}

	// Bに2票入ると先頭が入れ替わる
	env.vote(t, env.voter("u2"), cat.ID, b.ID)
	env.vote(t, env.voter("u3"), cat.ID, b.ID)

	deadline := time.After(2 * time.Second)
	for {
		ev := next()
		if ev.Items[0].Item.ID == b.ID && *ev.Items[0].VoteCount == 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("live view never reflected new votes")
		default:
		}
	}
}

func TestIntegration_MetricsExposeVotes(t *testing.T) {
	env := newIntegrationEnv(t, generousRateLimits())
	cat := env.createCategory(t, `{"name":"Metrics"}`)
	it := env.createItem(t, cat.ID, "m")
	env.vote(t, env.voter("u1"), cat.ID, it.ID)

	w := env.do(t, http.MethodGet, "/metrics", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", w.Code)
	}
	body := w.Body.String()
	for _, name := range []string{"rankinge_votes_total", "rankinge_http_status_total"} {
		if !strings.Contains(body, name) {
			t.Errorf("metrics output missing %s", name)
		}
	}
}
