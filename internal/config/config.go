package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// OAuth
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string
	AdminEmails        []string // 初回ログイン時に管理者にするメールアドレス

	// Session
	SessionSecret string
	SessionMaxAge int

	// Rate Limit（リクエスト/分）
	RateLimitGeneral int
	RateLimitVote    int
	RateLimitAI      int

	// Snapshot
	SnapshotInterval      time.Duration
	SnapshotMaxConcurrent int
	SnapshotRetentionDays int

	// Movement
	MovementLookbackRows int
	MovementCacheTTL     time.Duration

	// AI
	GeminiAPIKey string
	GeminiModel  string
	AITimeout    time.Duration

	// Item preview
	PreviewTimeout time.Duration
	PreviewMaxSize int64

	// Logging
	LogLevel string

	// Server
	ServerPort string
	BaseURL    string

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS
	CORSAllowedOrigin string
}

// LoadDotEnv は開発用の.envファイルを環境変数に読み込む。
// 既に設定されている環境変数は上書きしない。ファイルがなければ何もしない。
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string
	required := func(key string) string {
		v := os.Getenv(key)
		if v == "" {
			missing = append(missing, key)
		}
		return v
	}

	cfg.DatabaseURL = required("DATABASE_URL")
	cfg.GoogleClientID = required("GOOGLE_CLIENT_ID")
	cfg.GoogleClientSecret = required("GOOGLE_CLIENT_SECRET")
	cfg.GoogleRedirectURL = required("GOOGLE_REDIRECT_URL")
	cfg.SessionSecret = required("SESSION_SECRET")
	cfg.BaseURL = required("BASE_URL")

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.SessionMaxAge = getEnvInt("SESSION_MAX_AGE", 86400)
	cfg.AdminEmails = getEnvList("ADMIN_EMAILS")
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitVote = getEnvInt("RATE_LIMIT_VOTE", 30)
	cfg.RateLimitAI = getEnvInt("RATE_LIMIT_AI", 10)
	cfg.SnapshotInterval = getEnvDuration("SNAPSHOT_INTERVAL", time.Hour)
	cfg.SnapshotMaxConcurrent = getEnvInt("SNAPSHOT_MAX_CONCURRENT", 4)
	cfg.SnapshotRetentionDays = getEnvInt("SNAPSHOT_RETENTION_DAYS", 90)
	cfg.MovementLookbackRows = getEnvInt("MOVEMENT_LOOKBACK_ROWS", 1000)
	cfg.MovementCacheTTL = getEnvDuration("MOVEMENT_CACHE_TTL", time.Minute)
	cfg.GeminiAPIKey = getEnvString("GEMINI_API_KEY", "")
	cfg.GeminiModel = getEnvString("GEMINI_MODEL", "gemini-1.5-flash")
	cfg.AITimeout = getEnvDuration("AI_TIMEOUT", 30*time.Second)
	cfg.PreviewTimeout = getEnvDuration("PREVIEW_TIMEOUT", 10*time.Second)
	cfg.PreviewMaxSize = getEnvInt64("PREVIEW_MAX_SIZE", 2097152)
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

// getEnvList はカンマ区切りの値を空要素を除いて返す。
func getEnvList(key string) []string {
	var out []string
	for _, s := range strings.Split(os.Getenv(key), ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
