package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/rankinge/internal/ai"
	"github.com/hitoshi/rankinge/internal/changefeed"
	"github.com/hitoshi/rankinge/internal/config"
	"github.com/hitoshi/rankinge/internal/database"
	"github.com/hitoshi/rankinge/internal/handler"
	"github.com/hitoshi/rankinge/internal/logger"
	"github.com/hitoshi/rankinge/internal/metrics"
	"github.com/hitoshi/rankinge/internal/middleware"
	"github.com/hitoshi/rankinge/internal/model"
	"github.com/hitoshi/rankinge/internal/worker/cleanup"
)

const (
	shutdownTimeout = 30 * time.Second
	cleanupInterval = 24 * time.Hour
)

// 投票トランザクションとLISTEN接続が同時に張られるため、MaxOpenConnsは2以上にする。
var poolConfig = database.PoolConfig{
	MaxOpenConns:    20,
	MaxIdleConns:    5,
	ConnMaxLifetime: 30 * time.Minute,
}

// Init はアプリケーションの初期化を行う。
// .envがあれば読み込み、環境変数からConfigを読み込んでJSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 設定読み込み前にログを使えるようにする
	logger.SetupDefault(w, slog.LevelInfo)

	if err := config.LoadDotEnv(); err != nil {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))
	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	switch cmd {
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		var rest []string
		if len(args) > 1 {
			rest = args[1:]
		}
		return runMigrate(cfg, rest)
	default:
		return runServe(cfg)
	}
}

// openDatabase はプール設定付きでDBを開き、接続を確認する。
func openDatabase(cfg *config.Config) (*sql.DB, error) {
	db, err := database.OpenWithPool(cfg.DatabaseURL, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)
	return db, nil
}

// newMetricsRegistry はアプリケーションとランタイムのメトリクスを登録したレジストリを返す。
func newMetricsRegistry() (*prometheus.Registry, *metrics.Collector) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg, metrics.NewCollector(reg)
}

// newAIProviders はAPIキーが設定されているプロバイダーだけを生成する。
// 戻り値のcloseは生成したクライアントをすべて閉じる。
func newAIProviders(ctx context.Context, cfg *config.Config) (map[model.AIProvider]ai.Provider, func(), error) {
	providers := map[model.AIProvider]ai.Provider{}
	closeAll := func() {}

	if cfg.GeminiAPIKey == "" {
		slog.Info("GEMINI_API_KEY is not set, AI generation is disabled")
		return providers, closeAll, nil
	}

	gemini, err := ai.NewGeminiProvider(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
	if err != nil {
		return nil, closeAll, fmt.Errorf("failed to create gemini provider: %w", err)
	}
	providers[model.AIProviderGemini] = gemini
	closeAll = func() {
		if err := gemini.Close(); err != nil {
			slog.Warn("failed to close gemini client", slog.String("error", err.Error()))
		}
	}
	return providers, closeAll, nil
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	log := slog.Default()
	reg, collector := newMetricsRegistry()

	// アイテム変更はDBトリガーのNOTIFYからハブへ配信する
	hub := changefeed.NewHub()
	listener := changefeed.NewPGListener(cfg.DatabaseURL, hub, log)
	go func() {
		if err := listener.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("change listener stopped", slog.String("error", err.Error()))
		}
	}()

	aiProviders, closeAI, err := newAIProviders(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeAI()

	comps := buildComponents(cfg, newPostgresRepositories(db), hub, collector, aiProviders, log)

	limiter := middleware.NewRateLimiter(rateLimiterConfig(cfg))
	defer limiter.Stop()

	router := newAPIRouter(cfg, comps, limiter, db, collector, metrics.Handler(reg), log)

	// SSEは接続ごとに書き込み期限を解除するため、WriteTimeoutは通常のAPI向けの値のままでよい
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	return serveUntilDone(ctx, server, "API server")
}

// runWorker はワーカーモードで起動する。
// 定期スナップショットと日次クリーンアップを実行し、
// ヘルスチェックとメトリクス用の小さなHTTPサーバーを公開する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	log := slog.Default()
	reg, collector := newMetricsRegistry()

	// ワーカーは変更通知を購読しないため、ハブには誰も登録されない
	comps := buildComponents(cfg, newPostgresRepositories(db), changefeed.NewHub(), collector, nil, log)
	cleanupJob := cleanup.NewCleanupJob(db, log, cfg.SnapshotRetentionDays)

	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           newWorkerRouter(db, reg),
		ReadHeaderTimeout: 5 * time.Second,
	}

	slog.Info("worker starting",
		slog.Duration("snapshot_interval", cfg.SnapshotInterval),
		slog.Int("max_concurrent", cfg.SnapshotMaxConcurrent),
		slog.Int("retention_days", cfg.SnapshotRetentionDays),
	)

	go func() {
		// 起動直後に1回実行する。エラーはRun内でログ済み
		_, _ = cleanupJob.Run(ctx)
		cleanupJob.Start(ctx, cleanupInterval)
	}()
	go comps.Scheduler.Start(ctx, cfg.SnapshotInterval)

	return serveUntilDone(ctx, server, "worker")
}

// newWorkerRouter はワーカー用の/healthと/metricsだけを持つルーター。
func newWorkerRouter(health handler.HealthChecker, gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.NewRecoveryMiddleware(slog.Default()))
	r.Get("/health", handler.NewHealthHandler(health))
	r.Handle("/metrics", metrics.Handler(gatherer))
	return r
}

// serveUntilDone はctxがキャンセルされるまでサーバーを動かし、その後グレースフルに停止する。
func serveUntilDone(ctx context.Context, server *http.Server, name string) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info(name+" starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("%s listen error: %w", name, err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down " + name + "...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("%s shutdown failed: %w", name, err)
	}

	slog.Info(name + " stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
//
//	migrate            未適用のマイグレーションをすべて適用する
//	migrate up         同上
//	migrate down [N]   直近N件（既定1件）を巻き戻す
//	migrate version    現在のスキーマバージョンを表示する
func runMigrate(cfg *config.Config, args []string) error {
	m, err := ParseMigrateArgs(args)
	if err != nil {
		return err
	}

	masked := maskDatabaseURL(cfg.DatabaseURL)

	switch m.Action {
	case MigrateDown:
		slog.Info("rolling back database migrations",
			slog.String("database_url", masked),
			slog.Int("steps", m.Steps),
		)
		if err := database.RollbackMigrations(cfg.DatabaseURL, m.Steps); err != nil {
			return fmt.Errorf("rollback failed: %w", err)
		}
		slog.Info("database rollback completed successfully")
	case MigrateVersion:
		version, dirty, err := database.SchemaVersion(cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to read schema version: %w", err)
		}
		slog.Info("database schema version",
			slog.Uint64("version", uint64(version)),
			slog.Bool("dirty", dirty),
		)
	default:
		slog.Info("running database migrations", slog.String("database_url", masked))
		if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		slog.Info("database migrations completed successfully")
	}
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
// serveとworkerのどちらのコンテナでも使える。
func runHealthcheck(port string) error {
	target := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(target)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLのパスワードをマスクする。
// URLとして解釈できない場合は全体を伏せる。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
