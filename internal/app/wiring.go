package app

import (
	"database/sql"
	"log/slog"
	"net/http"

	"github.com/hitoshi/rankinge/internal/ai"
	"github.com/hitoshi/rankinge/internal/auth"
	"github.com/hitoshi/rankinge/internal/category"
	"github.com/hitoshi/rankinge/internal/changefeed"
	"github.com/hitoshi/rankinge/internal/config"
	"github.com/hitoshi/rankinge/internal/content"
	"github.com/hitoshi/rankinge/internal/handler"
	"github.com/hitoshi/rankinge/internal/item"
	"github.com/hitoshi/rankinge/internal/metrics"
	"github.com/hitoshi/rankinge/internal/middleware"
	"github.com/hitoshi/rankinge/internal/model"
	"github.com/hitoshi/rankinge/internal/ranking"
	"github.com/hitoshi/rankinge/internal/repository"
	"github.com/hitoshi/rankinge/internal/security"
	"github.com/hitoshi/rankinge/internal/setting"
	"github.com/hitoshi/rankinge/internal/user"
	"github.com/hitoshi/rankinge/internal/vote"
	"github.com/hitoshi/rankinge/internal/worker/snapshot"
)

// repositories はサービス層が使う永続化の実装をまとめたもの。
type repositories struct {
	Users      repository.UserRepository
	Identities repository.IdentityRepository
	Sessions   repository.SessionRepository
	Categories repository.CategoryRepository
	Items      repository.ItemRepository
	Votes      repository.VoteRepository
	Snapshots  repository.SnapshotRepository
	Settings   repository.SettingRepository
	Posts      repository.PostRepository
}

func newPostgresRepositories(db *sql.DB) repositories {
	return repositories{
		Users:      repository.NewPostgresUserRepo(db),
		Identities: repository.NewPostgresIdentityRepo(db),
		Sessions:   repository.NewPostgresSessionRepo(db),
		Categories: repository.NewPostgresCategoryRepo(db),
		Items:      repository.NewPostgresItemRepo(db),
		Votes:      repository.NewPostgresVoteRepo(db),
		Snapshots:  repository.NewPostgresSnapshotRepo(db),
		Settings:   repository.NewPostgresSettingRepo(db),
		Posts:      repository.NewPostgresPostRepo(db),
	}
}

// components はserveとworkerが共有するドメインサービス群。
type components struct {
	Auth        *auth.Service
	Categories  *category.Service
	Items       *item.Service
	Ledger      *vote.Ledger
	Movements   *ranking.Calculator
	Snapshotter *ranking.Snapshotter
	Live        *ranking.LiveView
	Scheduler   *snapshot.Scheduler
	Settings    *setting.Service
	Posts       *content.Service
	Users       *user.Service
	AI          *ai.Service
}

// buildComponents はリポジトリと変更通知ハブからサービスを組み立てる。
// aiProvidersが空ならAI生成は常に無効として扱われる。
func buildComponents(
	cfg *config.Config,
	repos repositories,
	hub *changefeed.Hub,
	collector metrics.MetricsCollector,
	aiProviders map[model.AIProvider]ai.Provider,
	logger *slog.Logger,
) *components {
	sanitizer := security.NewSanitizer()
	guard := security.NewURLGuard()

	c := &components{}

	oauthProvider := auth.NewGoogleOAuthProvider(auth.GoogleOAuthConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURL,
	})
	c.Auth = auth.NewService(
		oauthProvider, repos.Users, repos.Identities, repos.Sessions,
		auth.ServiceConfig{SessionMaxAge: cfg.SessionMaxAge, AdminEmails: cfg.AdminEmails},
	)

	c.Categories = category.NewService(repos.Categories, sanitizer)
	previewer := item.NewPreviewer(guard, cfg.PreviewTimeout, cfg.PreviewMaxSize)
	c.Items = item.NewService(repos.Categories, repos.Items, sanitizer, guard, previewer)
	c.Ledger = vote.NewLedger(repos.Categories, repos.Items, repos.Votes, collector, logger)

	c.Movements = ranking.NewCalculator(repos.Snapshots, cfg.MovementLookbackRows, cfg.MovementCacheTTL)
	c.Snapshotter = ranking.NewSnapshotter(repos.Categories, repos.Items, repos.Snapshots, c.Movements, collector, logger)
	c.Live = ranking.NewLiveView(item.NewStore(repos.Items, hub), collector, logger)
	c.Scheduler = snapshot.NewScheduler(
		c.Categories, c.Snapshotter, logger,
		cfg.SnapshotMaxConcurrent, snapshot.DefaultRetryPolicy(),
	)

	c.Settings = setting.NewService(repos.Settings)
	c.Posts = content.NewService(repos.Posts, content.NewRenderer(sanitizer))
	c.Users = user.NewService(repos.Users, repos.Sessions, c.Ledger, logger)
	c.AI = ai.NewService(c.Settings, aiProviders, cfg.AITimeout, collector, logger)

	return c
}

// rateLimiterConfig は設定値（req/min）からレート制限設定を作る。
// バーストは1分あたりの上限と同じにする。
func rateLimiterConfig(cfg *config.Config) middleware.RateLimiterConfig {
	rl := middleware.DefaultRateLimiterConfig()
	if cfg.RateLimitGeneral > 0 {
		rl.GeneralRate = middleware.PerMinute(cfg.RateLimitGeneral)
		rl.GeneralBurst = cfg.RateLimitGeneral
	}
	if cfg.RateLimitVote > 0 {
		rl.VoteRate = middleware.PerMinute(cfg.RateLimitVote)
		rl.VoteBurst = cfg.RateLimitVote
	}
	if cfg.RateLimitAI > 0 {
		rl.AIRate = middleware.PerMinute(cfg.RateLimitAI)
		rl.AIBurst = cfg.RateLimitAI
	}
	return rl
}

// newAPIRouter はAPIサーバーのルーターを構成する。
func newAPIRouter(
	cfg *config.Config,
	c *components,
	limiter *middleware.RateLimiter,
	health handler.HealthChecker,
	collector metrics.MetricsCollector,
	metricsHandler http.Handler,
	logger *slog.Logger,
) http.Handler {
	return handler.NewRouter(&handler.RouterDeps{
		UserResolver:      c.Auth,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       limiter,
		CSRFConfig: middleware.CSRFConfig{
			CookieSecure:   cfg.CookieSecure,
			CookieDomain:   cfg.CookieDomain,
			TrustedOrigins: cfg.CORSAllowedOrigin + "," + cfg.BaseURL,
		},
		SecurityHeaders: middleware.SecurityHeadersConfig{HSTS: cfg.CookieSecure},
		Logger:          logger,
		Metrics:         collector,

		HealthChecker:  health,
		MetricsHandler: metricsHandler,

		AuthService: c.Auth,
		AuthConfig: handler.AuthHandlerConfig{
			BaseURL:       cfg.BaseURL,
			CookieDomain:  cfg.CookieDomain,
			CookieSecure:  cfg.CookieSecure,
			SessionMaxAge: cfg.SessionMaxAge,
		},

		CategoryService: c.Categories,
		ItemService:     c.Items,
		VoteService:     c.Ledger,

		MovementService: c.Movements,
		LiveService:     c.Live,
		SnapshotService: c.Snapshotter,
		SnapshotRunner:  c.Scheduler,

		SettingService: c.Settings,
		PostService:    c.Posts,
		UserService:    c.Users,
		AIService:      c.AI,
	})
}
