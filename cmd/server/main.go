package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/pubsub"
	firebase "firebase.google.com/go/v4"
	"github.com/go-chi/chi/v5"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/forensicbot/core/internal/actions"
	"github.com/forensicbot/core/internal/blobstore"
	"github.com/forensicbot/core/internal/cache"
	"github.com/forensicbot/core/internal/chatplatform"
	"github.com/forensicbot/core/internal/config"
	"github.com/forensicbot/core/internal/detector"
	"github.com/forensicbot/core/internal/handler"
	"github.com/forensicbot/core/internal/middleware"
	"github.com/forensicbot/core/internal/notify"
	"github.com/forensicbot/core/internal/queue"
	"github.com/forensicbot/core/internal/repository"
	"github.com/forensicbot/core/internal/router"
	"github.com/forensicbot/core/internal/service"
	"github.com/forensicbot/core/internal/ssm"
	"github.com/forensicbot/core/internal/worker"
)

const Version = "0.1.0"

func getPort() string {
	if port := os.Getenv("PORT"); port != "" {
		return port
	}
	return "8080"
}

// app bundles everything that needs an orderly shutdown: the HTTP router,
// the worker pool and the Pub/Sub wake-up listener backing it, and every
// external client holding a connection.
type app struct {
	router  *chi.Mux
	pool    *worker.Pool
	wakeup  *queue.WakeupListener
	closers []func() error
}

// buildApp wires every backend collaborator: database pool, Redis, blob
// storage, Pub/Sub, BigQuery, the detector API client, the chat platform
// client, and the analysis worker pool, into a ready-to-run app. This
// backend has no HTTP-triggered pipeline step — every analysis runs off
// the queue, so the router and the worker pool are built and shut down
// together here rather than the router alone.
func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	dbPool, err := repository.NewPool(ctx, cfg.DatabaseURL, cfg.DatabaseMaxConns)
	if err != nil {
		return nil, fmt.Errorf("main: db pool: %w", err)
	}
	a.closers = append(a.closers, func() error { dbPool.Close(); return nil })

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	a.closers = append(a.closers, redisClient.Close)

	blobs, err := blobstore.NewStore(ctx, cfg.GCSBucketName)
	if err != nil {
		return nil, fmt.Errorf("main: blobstore: %w", err)
	}
	a.closers = append(a.closers, blobs.Close)

	pubsubClient, err := pubsub.NewClient(ctx, cfg.GCPProject)
	if err != nil {
		return nil, fmt.Errorf("main: pubsub client: %w", err)
	}
	a.closers = append(a.closers, pubsubClient.Close)

	topicHigh := pubsubClient.Topic(cfg.PubSubTopicHigh)
	topicDefault := pubsubClient.Topic(cfg.PubSubTopicDefault)
	topicLow := pubsubClient.Topic(cfg.PubSubTopicLow)
	publisher := queue.NewPubSubPublisher(topicHigh, topicDefault, topicLow)

	var wakeupSub *pubsub.Subscription
	if subID := os.Getenv("PUBSUB_WAKEUP_SUBSCRIPTION"); subID != "" {
		wakeupSub = pubsubClient.Subscription(subID)
	}
	wakeup := queue.NewWakeupListener(wakeupSub, 2*time.Second)
	a.wakeup = wakeup

	bqClient, err := bigquery.NewClient(ctx, cfg.GCPProject)
	if err != nil {
		return nil, fmt.Errorf("main: bigquery client: %w", err)
	}
	a.closers = append(a.closers, bqClient.Close)
	bqWriter := service.NewBigQueryAuditWriter(bqClient, cfg.BigQueryDataset, cfg.BigQueryTable)

	detectorClient := detector.NewClient(cfg.DetectorAPIURL, time.Duration(cfg.DetectorAPITimeout)*time.Second)

	botToken := os.Getenv("TELEGRAM_BOT_TOKEN")
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("main: telegram bot: %w", err)
	}
	chatClient := chatplatform.NewTelegramClient(bot)

	var authClient *firebase.App
	var authService *service.AuthService
	if cfg.FirebaseProjectID != "" {
		authClient, err = firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.FirebaseProjectID})
		if err != nil {
			return nil, fmt.Errorf("main: firebase app: %w", err)
		}
		authProvider, err := authClient.Auth(ctx)
		if err != nil {
			return nil, fmt.Errorf("main: firebase auth client: %w", err)
		}
		authService = service.NewAuthService(authProvider)
	}

	userRepo := repository.NewUserRepo(dbPool, cfg.DailyFreeQuota)
	convoRepo := repository.NewConversationRepo(dbPool)
	analysisRepo := repository.NewAnalysisRepo(dbPool)
	auditRepo := repository.NewAuditRepo(dbPool)

	auditService, err := service.NewAuditService(auditRepo, bqWriter)
	if err != nil {
		return nil, fmt.Errorf("main: audit service: %w", err)
	}

	dedup := cache.NewDuplicateIndex(redisClient, time.Duration(cfg.DuplicateWindowHours)*time.Hour)
	webhookLimiter := cache.NewRateLimiter(redisClient, cfg.RateLimitCapacity, time.Duration(cfg.RateLimitWindow)*time.Second)

	jobQueue := queue.New(dbPool, publisher)

	progress := notify.NewProgressEditor(chatClient)
	renderer := notify.NewRenderer(nil)

	machine := ssm.NewMachine(ssm.Deps{
		Users:          userRepo,
		Convos:         convoRepo,
		Analyses:       analysisRepo,
		Blobs:          blobs,
		Jobs:           jobQueue,
		Dedup:          dedup,
		Chat:           chatClient,
		Progress:       progress,
		Renderer:       renderer,
		Audit:          auditService,
		MaxUploadBytes: cfg.MaxUploadBytes,
	})

	actionExecutor := actions.NewExecutor(chatClient, analysisRepo, convoRepo, nil)

	metricsReg := prometheus.NewRegistry()
	metrics := middleware.NewMetrics(metricsReg)

	pool := worker.NewPool(worker.Deps{
		Queue:       jobQueue,
		Blobs:       blobs,
		Detector:    detectorClient,
		Analyses:    analysisRepo,
		Users:       userRepo,
		Convos:      convoRepo,
		Dedup:       dedup,
		Chat:        chatClient,
		Progress:    progress,
		Renderer:    renderer,
		Audit:       auditService,
		Metrics:     metrics,
		Waker:       wakeup,
		WorkerCount: cfg.WorkerCount,
	})
	a.pool = pool

	generalLimiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		MaxRequests: cfg.RateLimitCapacity,
		Window:      time.Duration(cfg.RateLimitWindow) * time.Second,
	})

	a.router = router.New(&router.Dependencies{
		DB:                 userRepo,
		AuthService:        authService,
		Version:            Version,
		Metrics:            metrics,
		MetricsReg:         metricsReg,
		InternalAuthSecret: cfg.InternalAuthSecret,
		FrontendURL:        os.Getenv("FRONTEND_URL"),
		Webhook: handler.WebhookDeps{
			Machine:     machine,
			Actions:     actionExecutor,
			Convos:      convoRepo,
			Chat:        chatClient,
			RateLimiter: webhookLimiter,
		},
		WebhookPath: "/webhook/" + botToken,
		Users:       userRepo,
		Queue:       jobQueue,
		Audit: handler.AuditDeps{
			Lister:   auditRepo,
			Verifier: auditService,
		},
		AdminMigrate: handler.AdminMigrateDeps{
			RunSQL: func(ctx context.Context, sql string) error {
				_, err := dbPool.Exec(ctx, sql)
				return err
			},
		},
		GeneralRateLimiter: generalLimiter,
	})

	ok = true
	return a, nil
}

// Close releases every resource buildApp acquired, in reverse order, best
// effort — a failed close must not prevent the others from running.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			slog.Warn("error closing resource during shutdown", "error", err)
		}
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("run: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := buildApp(ctx, cfg)
	if err != nil {
		return fmt.Errorf("run: %w", err)
	}
	defer a.Close()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		a.wakeup.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		a.pool.Run(ctx)
	}()

	port := getPort()
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      a.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("forensicbot v%s starting on port %s", Version, port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Printf("received signal %s, shutting down gracefully", sig)
	case err := <-errCh:
		cancel()
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		cancel()
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	cancel()
	wg.Wait()

	log.Println("server stopped")
	return nil
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
