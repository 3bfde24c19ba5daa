package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL     string        `env:"DATABASE_URL,required,notEmpty"`
	DBMaxOpenConns  int           `env:"DB_MAX_OPEN_CONNS" envDefault:"24"`
	DBMaxIdleConns  int           `env:"DB_MAX_IDLE_CONNS" envDefault:"6"`
	DBConnLifetime  time.Duration `env:"DB_CONN_MAX_LIFETIME" envDefault:"30m"`

	// Server
	ServerPort string `env:"SERVER_PORT" envDefault:"8080"`
	LogLevel   string `env:"LOG_LEVEL" envDefault:"info"`

	// Telegram
	TelegramBotToken      string `env:"TELEGRAM_BOT_TOKEN,required,notEmpty"`
	TelegramWebhookSecret string `env:"TELEGRAM_WEBHOOK_SECRET,required,notEmpty"`
	TelegramSendRate      int    `env:"TELEGRAM_SEND_RATE" envDefault:"25"`

	// 決済
	PaystackSecretKey string           `env:"PAYSTACK_SECRET_KEY,required,notEmpty"`
	PaymentPageURL    string           `env:"PAYMENT_PAGE_URL"`
	PlanPrices        map[string]int64 `env:"PLAN_PRICES" envDefault:"NGN:500000,USD:1000"`
	SubscriptionDays  int              `env:"SUBSCRIPTION_DAYS" envDefault:"30"`
	TrialDays         int              `env:"TRIAL_DAYS" envDefault:"14"`
	DefaultCurrency   string           `env:"DEFAULT_CURRENCY" envDefault:"NGN"`

	// LLM
	OpenAIAPIKey      string        `env:"OPENAI_API_KEY"`
	OpenAIModel       string        `env:"OPENAI_MODEL" envDefault:"gpt-4o-mini"`
	OpenAIBaseURL     string        `env:"OPENAI_BASE_URL"`
	GeminiAPIKey      string        `env:"GEMINI_API_KEY"`
	GeminiModel       string        `env:"GEMINI_MODEL" envDefault:"gemini-2.5-flash"`
	ClassifierTimeout time.Duration `env:"CLASSIFIER_TIMEOUT" envDefault:"15s"`

	// Rate Limit
	RateLimitMax      int64         `env:"RATE_LIMIT_MAX" envDefault:"10"`
	RateLimitWindow   time.Duration `env:"RATE_LIMIT_WINDOW" envDefault:"60s"`
	IngressRatePerMin int           `env:"INGRESS_RATE_PER_MIN" envDefault:"600"`

	// Dispatch
	DispatchWorkers   int           `env:"DISPATCH_WORKERS" envDefault:"16"`
	DispatchQueueSize int           `env:"DISPATCH_QUEUE_SIZE" envDefault:"64"`
	FlowTTL           time.Duration `env:"FLOW_TTL" envDefault:"24h"`

	// Cleanup
	MessageRetentionDays int           `env:"MESSAGE_RETENTION_DAYS" envDefault:"14"`
	CleanupInterval      time.Duration `env:"CLEANUP_INTERVAL" envDefault:"1h"`
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合や値が不正な場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.normalize()
	return cfg, nil
}

func (c *Config) validate() error {
	var problems []string

	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		problems = append(problems, err.Error())
	}
	for code, minor := range c.PlanPrices {
		if minor <= 0 {
			problems = append(problems, fmt.Sprintf("PLAN_PRICES: %s must be positive", code))
		}
	}
	positive := map[string]int64{
		"RATE_LIMIT_MAX":         c.RateLimitMax,
		"DISPATCH_WORKERS":       int64(c.DispatchWorkers),
		"DISPATCH_QUEUE_SIZE":    int64(c.DispatchQueueSize),
		"SUBSCRIPTION_DAYS":      int64(c.SubscriptionDays),
		"MESSAGE_RETENTION_DAYS": int64(c.MessageRetentionDays),
	}
	for name, v := range positive {
		if v <= 0 {
			problems = append(problems, name+" must be positive")
		}
	}
	if c.RateLimitWindow <= 0 {
		problems = append(problems, "RATE_LIMIT_WINDOW must be positive")
	}
	if c.CleanupInterval <= 0 {
		problems = append(problems, "CLEANUP_INTERVAL must be positive")
	}
	// 各ワーカーがターン中に1接続を保持するため、プールはワーカー数より大きくなければならない
	if c.DBMaxOpenConns > 0 && c.DBMaxOpenConns <= c.DispatchWorkers {
		problems = append(problems, "DB_MAX_OPEN_CONNS must exceed DISPATCH_WORKERS")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// normalize は通貨コードを大文字に揃える。
func (c *Config) normalize() {
	c.DefaultCurrency = strings.ToUpper(strings.TrimSpace(c.DefaultCurrency))
	prices := make(map[string]int64, len(c.PlanPrices))
	for code, minor := range c.PlanPrices {
		prices[strings.ToUpper(strings.TrimSpace(code))] = minor
	}
	c.PlanPrices = prices
}

// ParseLogLevel はLOG_LEVELの文字列をslog.Levelに変換する。
func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("LOG_LEVEL: unknown level %q", s)
	}
}
