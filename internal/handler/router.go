package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/rankinge/internal/metrics"
	"github.com/hitoshi/rankinge/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	UserResolver      middleware.UserResolver
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	CSRFConfig        middleware.CSRFConfig
	SecurityHeaders   middleware.SecurityHeadersConfig
	Logger            *slog.Logger
	Metrics           metrics.MetricsCollector

	// 運用
	HealthChecker  HealthChecker
	MetricsHandler http.Handler

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// カテゴリ・アイテム・投票
	CategoryService CategoryServiceInterface
	ItemService     ItemServiceInterface
	VoteService     VoteServiceInterface

	// ランキング
	MovementService MovementServiceInterface
	LiveService     LiveServiceInterface
	SnapshotService SnapshotServiceInterface
	SnapshotRunner  SnapshotRunnerInterface

	// 管理
	SettingService SettingServiceInterface
	PostService    PostServiceInterface
	UserService    UserServiceInterface
	AIService      AIServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → Logging → CORS → (認証ルート) Session → CSRF → RateLimit
//
// 公開ルートはセッションを任意で解決し、管理者には承認待ちカテゴリや下書きも見せる。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware(deps.SecurityHeaders))
	r.Use(middleware.NewLoggingMiddleware(logger, deps.Metrics))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	authHandler := NewAuthHandler(deps.AuthService, deps.AuthConfig)
	categoryHandler := NewCategoryHandler(deps.CategoryService)
	itemHandler := NewItemHandler(deps.ItemService)
	voteHandler := NewVoteHandler(deps.VoteService)
	rankingHandler := NewRankingHandler(RankingHandlerDeps{
		Categories: deps.CategoryService,
		Items:      deps.ItemService,
		Movements:  deps.MovementService,
		Live:       deps.LiveService,
		Snapshots:  deps.SnapshotService,
		Runner:     deps.SnapshotRunner,
		Settings:   deps.SettingService,
	})
	settingHandler := NewSettingHandler(deps.SettingService)
	postHandler := NewPostHandler(deps.PostService)
	userHandler := NewUserHandler(deps.UserService, deps.AuthConfig)
	aiHandler := NewAIHandler(deps.AIService)

	// --- 運用エンドポイント ---
	r.Get("/health", NewHealthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// --- 認証ルート（OAuthフロー） ---
	r.Route("/auth", func(r chi.Router) {
		r.Get("/google/login", authHandler.Login)
		r.Get("/google/callback", authHandler.Callback)
		r.Post("/logout", authHandler.Logout)
		r.Get("/me", authHandler.Me)
	})
	r.Method(http.MethodGet, "/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig))

	// --- 公開ルート ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewOptionalSessionMiddleware(deps.UserResolver))

		r.Get("/api/categories", categoryHandler.List)
		r.Get("/api/categories/{id}", categoryHandler.Get)
		r.Get("/api/categories/{id}/items", rankingHandler.ListItems)
		r.Get("/api/categories/{id}/ranking", rankingHandler.Ranking)
		r.Get("/api/categories/{id}/items/{itemId}/movement", rankingHandler.Movement)
		r.Get("/api/categories/{id}/live", rankingHandler.Live)
		r.Get("/api/items/{itemId}", itemHandler.Get)

		r.Get("/api/posts", postHandler.List)
		r.Get("/api/posts/{slug}", postHandler.Get)
		r.Get("/api/settings/public", settingHandler.Public)
	})

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: Session → CSRF → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.UserResolver))
		r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		// 投票（投票専用レート制限を追加）
		r.With(deps.RateLimiter.VoteMiddleware()).Put("/api/categories/{id}/vote", voteHandler.Cast)
		r.Delete("/api/categories/{id}/vote", voteHandler.Retract)
		r.Get("/api/categories/{id}/vote", voteHandler.Current)

		// カテゴリ投稿
		r.Post("/api/categories", categoryHandler.Submit)
		r.Patch("/api/categories/{id}", categoryHandler.Update)

		// 退会
		r.Delete("/api/users/me", userHandler.Withdraw)

		// --- 管理者ルート ---
		r.Route("/api/admin", func(r chi.Router) {
			r.Use(middleware.RequireAdmin)

			r.Route("/categories/{id}", func(r chi.Router) {
				r.Delete("/", categoryHandler.Delete)
				r.Post("/approve", categoryHandler.Approve)
				r.Post("/recount", rankingHandler.Recount)
				r.Post("/snapshots", rankingHandler.CaptureSnapshot)
				r.Post("/items", itemHandler.Create)
			})
			r.Post("/snapshots", rankingHandler.CaptureAll)

			r.Post("/items/preview", itemHandler.Preview)
			r.Patch("/items/{itemId}", itemHandler.Update)
			r.Delete("/items/{itemId}", itemHandler.Delete)

			r.Post("/posts", postHandler.Create)
			r.Patch("/posts/{id}", postHandler.Update)
			r.Delete("/posts/{id}", postHandler.Delete)

			r.Get("/settings", settingHandler.List)
			r.Put("/settings/{key}", settingHandler.Set)

			r.Get("/users", userHandler.List)
			r.Put("/users/{id}/role", userHandler.SetRole)

			r.With(deps.RateLimiter.AIMiddleware()).Post("/ai/generate", aiHandler.Generate)
		})
	})

	return r
}
