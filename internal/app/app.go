package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/chatbooks/internal/channel"
	"github.com/hitoshi/chatbooks/internal/config"
	"github.com/hitoshi/chatbooks/internal/conversation"
	"github.com/hitoshi/chatbooks/internal/database"
	"github.com/hitoshi/chatbooks/internal/dispatch"
	"github.com/hitoshi/chatbooks/internal/executor"
	"github.com/hitoshi/chatbooks/internal/handler"
	"github.com/hitoshi/chatbooks/internal/intent"
	"github.com/hitoshi/chatbooks/internal/llm"
	"github.com/hitoshi/chatbooks/internal/logger"
	"github.com/hitoshi/chatbooks/internal/metrics"
	"github.com/hitoshi/chatbooks/internal/middleware"
	"github.com/hitoshi/chatbooks/internal/payment"
	"github.com/hitoshi/chatbooks/internal/ratelimit"
	"github.com/hitoshi/chatbooks/internal/repository"
	"github.com/hitoshi/chatbooks/internal/security"
	"github.com/hitoshi/chatbooks/internal/slotfill"
	"github.com/hitoshi/chatbooks/internal/worker/cleanup"
)

// maxInboundRunes は受信本文のサニタイズ後の最大文字数。
const maxInboundRunes = 4096

// Init はアプリケーションの初期化を行う。
// JSON構造化ログをセットアップし、環境変数からConfigを読み込んだ後、
// LOG_LEVEL に従ってログレベルを設定し直す。
func Init(w io.Writer) (*config.Config, *slog.Logger, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	level, _ := config.ParseLogLevel(cfg.LogLevel)
	return cfg, logger.SetupDefault(w, level), nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd, err := ParseCommand(args)
	if err != nil {
		return err
	}

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, log, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	log.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("log_level", cfg.LogLevel),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case CommandWorker:
		return runWorker(ctx, cfg, log)
	case CommandMigrate:
		return runMigrate(cfg, log)
	case CommandMigrateDown:
		return runMigrateDown(cfg, log)
	default:
		return runServe(ctx, cfg, log)
	}
}

// openDB はDB接続を開き、疎通を確認する。
func openDB(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL, database.PoolConfig{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnLifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// buildProvider は主・副のLLMプロバイダを組み立てる。
// OPENAI_API_KEY を優先し、GEMINI_API_KEY のみ設定されている場合はGeminiを主とする。
// どちらも未設定の場合は常に失敗するプロバイダを返し、configured=false とする。
func buildProvider(ctx context.Context, cfg *config.Config, log *slog.Logger) (fb *llm.Fallback, configured bool, err error) {
	var providers []llm.Provider
	if cfg.OpenAIAPIKey != "" {
		providers = append(providers, llm.NewOpenAIProvider(llm.OpenAIConfig{
			APIKey:  cfg.OpenAIAPIKey,
			Model:   cfg.OpenAIModel,
			BaseURL: cfg.OpenAIBaseURL,
		}))
	}
	if cfg.GeminiAPIKey != "" {
		gemini, err := llm.NewGeminiProvider(ctx, llm.GeminiConfig{
			APIKey: cfg.GeminiAPIKey,
			Model:  cfg.GeminiModel,
		})
		if err != nil {
			return nil, false, fmt.Errorf("failed to create gemini provider: %w", err)
		}
		providers = append(providers, gemini)
	}

	fb = &llm.Fallback{Timeout: cfg.ClassifierTimeout, Logger: log}
	switch len(providers) {
	case 0:
		log.Warn("no LLM provider configured; falling back to keyword classification")
		fb.Primary = llm.Unconfigured("none")
		return fb, false, nil
	case 1:
		fb.Primary = providers[0]
	default:
		fb.Primary, fb.Secondary = providers[0], providers[1]
	}
	return fb, true, nil
}

// runServe はWebhookサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーとディスパッチキューを起動する。
// ctx がキャンセルされるとHTTPサーバーを停止し、キューに残ったイベントを処理してから戻る。
func runServe(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	// 1. DB接続
	db, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	log.Info("database connection established")

	// 2. 永続化層とメトリクス
	store := repository.NewPostgresStore(db)
	repos := store.Repos()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(registry)

	// 3. LLMプロバイダと分類・抽出
	provider, configured, err := buildProvider(ctx, cfg, log)
	if err != nil {
		return err
	}
	var completer intent.Completer
	if configured {
		completer = provider
	}
	classifier := intent.NewClassifier(completer, log)
	slots := slotfill.NewEngine(provider, repos.Products, log)
	tasks := executor.New(store, log,
		executor.WithInsightProvider(provider),
		executor.WithObserver(collector),
	)

	// 4. メッセージングチャネル
	telegram, err := channel.NewTelegram(channel.TelegramConfig{
		Token:     cfg.TelegramBotToken,
		PerSecond: cfg.TelegramSendRate,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telegram: %w", err)
	}
	notifier := channel.NewNotifier(telegram, log)

	// 5. 会話エンジンとディスパッチキュー
	engine := conversation.New(conversation.Deps{
		Users:      repos.Users,
		Classifier: classifier,
		Slots:      slots,
		Tasks:      tasks,
		Reply:      notifier,
		OTP:        conversation.NewLogOTPSender(log),
		Observer:   collector,
	}, conversation.Config{
		TrialDays:       cfg.TrialDays,
		FlowTTL:         cfg.FlowTTL,
		DefaultCurrency: cfg.DefaultCurrency,
		PaymentPageURL:  cfg.PaymentPageURL,
		PlanPrices:      cfg.PlanPrices,
	}, log)

	queue := dispatch.NewQueue(engine, collector, dispatch.QueueConfig{
		Workers: cfg.DispatchWorkers,
		Size:    cfg.DispatchQueueSize,
	}, log)
	queue.Start(ctx)

	limiter := ratelimit.New(repository.NewPostgresCounterStore(db), ratelimit.Config{
		Max:    cfg.RateLimitMax,
		Window: cfg.RateLimitWindow,
	}, log)
	ingestor := dispatch.NewIngestor(dispatch.IngestorDeps{
		Ledger:    repos.Idempotency,
		Limiter:   limiter,
		Sanitizer: security.NewTextSanitizer(maxInboundRunes),
		Queue:     queue,
		Notify:    notifier,
		Observer:  collector,
	}, log)

	// 6. 決済
	payments := payment.NewProcessor(store, notifier, collector, payment.Config{
		PlanPrices:       cfg.PlanPrices,
		SubscriptionDays: cfg.SubscriptionDays,
	}, log)

	// 7. ルーターの構築
	ingress := middleware.NewRateLimiter(middleware.PerMinuteConfig(cfg.IngressRatePerMin))
	defer ingress.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:         log,
		RateLimiter:    ingress,
		StatusRecorder: collector,
		DB:             db,
		Metrics:        metrics.Handler(registry),
		TelegramSecret: cfg.TelegramWebhookSecret,
		Ingestor:       ingestor,
		CallbackAcker:  telegram,
		PaystackSecret: cfg.PaystackSecretKey,
		Payments:       payments,
	})

	// 8. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("API server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		queue.Stop()
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	log.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	// 受付停止後にキューを閉じ、処理中のイベントを完了させる
	queue.Stop()

	log.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// DB接続を開き、クリーンアップジョブを CLEANUP_INTERVAL ごとに実行する。
// ctx がキャンセルされるとシャットダウンする。
func runWorker(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	db, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	log.Info("database connection established (worker)")

	job := cleanup.NewCleanupJob(db, log)
	job.MessageRetentionDays = cfg.MessageRetentionDays
	job.FlowTTL = cfg.FlowTTL

	log.Info("worker starting",
		slog.Duration("cleanup_interval", cfg.CleanupInterval),
		slog.Int("message_retention_days", cfg.MessageRetentionDays),
		slog.Duration("flow_ttl", cfg.FlowTTL),
	)

	job.Start(ctx, cfg.CleanupInterval)

	log.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config, log *slog.Logger) error {
	log.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	log.Info("database migrations completed successfully")
	return nil
}

// runMigrateDown は最新のマイグレーションを1つ戻す。
func runMigrateDown(cfg *config.Config, log *slog.Logger) error {
	log.Info("rolling back latest database migration",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	version, applied, err := database.RollbackMigration(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration rollback failed: %w", err)
	}

	log.Info("database migration rolled back",
		slog.Uint64("version", uint64(version)),
		slog.Bool("applied", applied),
	)
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
