package main

import (
	"context"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/getsentry/sentry-go"
	sentryhttp "github.com/getsentry/sentry-go/http"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"

	"github.com/malbeclabs/waybill/agent/pkg/workflow"
	"github.com/malbeclabs/waybill/agent/pkg/workflow/logistics"
	"github.com/malbeclabs/waybill/api/config"
	"github.com/malbeclabs/waybill/api/handlers"
	"github.com/malbeclabs/waybill/api/metrics"
	"github.com/malbeclabs/waybill/audit"
	storeneo4j "github.com/malbeclabs/waybill/store/neo4j"
	storepg "github.com/malbeclabs/waybill/store/postgres"
	slackbot "github.com/malbeclabs/waybill/slack/bot"
)

var (
	// Set by LDFLAGS
	version = "dev"
	commit  = "none"
	date    = "unknown"

	// shuttingDown is set when a shutdown signal is received so the
	// readiness probe fails before connections are drained.
	shuttingDown atomic.Bool
)

const defaultMetricsAddr = "localhost:2113"

func setupLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logger := slog.New(tint.NewHandler(os.Stderr, &tint.Options{Level: lvl}))
	slog.SetDefault(logger)
	return logger
}

func main() {
	metricsAddrFlag := flag.String("metrics-addr", defaultMetricsAddr, "Address to listen on for prometheus metrics")
	migrateFlag := flag.Bool("migrate", true, "Run database migrations on startup")
	flag.Parse()

	log.Printf("Starting waybill-api version=%s commit=%s date=%s", version, commit, date)

	// godotenv doesn't override existing env vars, so later files don't overwrite earlier ones
	_ = godotenv.Load()           // .env in current working directory
	_ = godotenv.Load("api/.env") // api/.env when running from repo root

	// Sentry is optional and a no-op when the DSN is not set.
	sentryDSN := os.Getenv("SENTRY_DSN")
	if sentryDSN != "" {
		sentryEnv := os.Getenv("SENTRY_ENVIRONMENT")
		if sentryEnv == "" {
			sentryEnv = "development"
		}
		release := version
		if commit != "none" {
			release = version + "-" + commit
		}
		tracesSampleRate := 0.1
		if sentryEnv == "development" {
			tracesSampleRate = 1.0
		}
		err := sentry.Init(sentry.ClientOptions{
			Dsn:              sentryDSN,
			Environment:      sentryEnv,
			Release:          release,
			EnableTracing:    true,
			TracesSampleRate: tracesSampleRate,
		})
		if err != nil {
			log.Printf("Warning: Sentry initialization failed: %v", err)
		} else {
			log.Printf("Sentry initialized (env=%s, release=%s)", sentryEnv, release)
			defer sentry.Flush(2 * time.Second)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := setupLogger(cfg.LogLevel)

	ctx := context.Background()

	if *migrateFlag {
		if err := storepg.RunMigrations(ctx, logger, cfg.PostgresDSN); err != nil {
			log.Fatalf("Failed to run migrations: %v", err)
		}
	}

	pool, err := storepg.NewPool(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("Failed to connect to postgres: %v", err)
	}
	defer pool.Close()

	// Conversation history lives in Postgres when the checkpointer is
	// enabled, otherwise in process memory.
	var store workflow.Store
	var checkpointPool *pgxpool.Pool
	if cfg.UseDBCheckpointer {
		if cfg.CheckpointDBURI == cfg.PostgresDSN {
			checkpointPool = pool
		} else {
			checkpointPool, err = storepg.NewPool(ctx, cfg.CheckpointDBURI)
			if err != nil {
				log.Fatalf("Failed to connect to checkpoint database: %v", err)
			}
			defer checkpointPool.Close()
		}
		store = storepg.NewCheckpointStore(checkpointPool)
		logger.Info("using postgres conversation store")
	} else {
		store = workflow.NewMemoryStore()
		logger.Info("using in-memory conversation store")
	}

	// Document retrieval is optional; without Neo4j the RAG route answers
	// from model knowledge alone.
	var retriever workflow.Retriever
	if cfg.Neo4jURI != "" {
		neoRetriever, err := storeneo4j.NewRetriever(ctx, logger, cfg.Neo4jURI, cfg.Neo4jDatabase, cfg.Neo4jUser, cfg.Neo4jPassword)
		if err != nil {
			log.Printf("Warning: Neo4j unavailable, document retrieval disabled: %v", err)
		} else {
			defer func() { _ = neoRetriever.Close(ctx) }()
			if err := neoRetriever.EnsureIndex(ctx); err != nil {
				log.Printf("Warning: failed to ensure fulltext index: %v", err)
			}
			retriever = neoRetriever
		}
	}

	var auditSink workflow.AuditSink = &audit.LogSink{Log: logger}
	if cfg.ClickHouseAddr != "" {
		chSink, err := audit.NewClickHouseSink(ctx, logger, audit.Config{
			Addr:     cfg.ClickHouseAddr,
			Database: cfg.ClickHouseDatabase,
			Username: cfg.ClickHouseUser,
			Password: cfg.ClickHousePassword,
			Secure:   cfg.ClickHouseSecure,
		})
		if err != nil {
			log.Printf("Warning: ClickHouse unavailable, auditing to log only: %v", err)
		} else {
			defer func() { _ = chSink.Close() }()
			auditSink = chSink
		}
	}

	llm := workflow.NewAnthropicLLMClient(anthropic.Model(cfg.Model), cfg.MaxTokens, cfg.Temperature)

	agent, err := logistics.New(workflow.Config{
		Logger:               logger,
		LLM:                  llm,
		Querier:              storepg.NewQuerier(pool, cfg.MaxQueryResults),
		Schema:               storepg.NewSchemaFetcher(pool),
		Retriever:            retriever,
		Store:                store,
		Audit:                auditSink,
		MaxQueryResults:      cfg.MaxQueryResults,
		SmallResultThreshold: cfg.SmallResultThreshold,
		LimitForLargeResults: cfg.LimitForLargeResults,
		QueryTimeout:         cfg.QueryTimeout,
		EnableQueryLogging:   cfg.EnableQueryLogging,
	})
	if err != nil {
		log.Fatalf("Failed to create agent: %v", err)
	}

	// Start metrics server
	var metricsServer *http.Server
	if *metricsAddrFlag != "" {
		metrics.BuildInfo.WithLabelValues(version, commit, date).Set(1)
		listener, err := net.Listen("tcp", *metricsAddrFlag)
		if err != nil {
			log.Printf("Failed to start prometheus metrics server listener: %v", err)
		} else {
			log.Printf("Prometheus metrics server listening on %s", listener.Addr().String())
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			metricsServer = &http.Server{Handler: mux}
			go func() {
				if err := metricsServer.Serve(listener); err != nil && err != http.ErrServerClosed {
					log.Printf("Metrics server error: %v", err)
				}
			}()
		}
	}

	r := chi.NewRouter()

	r.Use(middleware.Logger)

	// Sentry middleware before Recoverer so panics are captured.
	if sentryDSN != "" {
		sentryHandler := sentryhttp.New(sentryhttp.Options{
			Repanic: true,
		})
		r.Use(sentryHandler.Handle)

		// Set transaction name from Chi route pattern
		r.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if txn := sentry.TransactionFromContext(r.Context()); txn != nil {
					if rctx := chi.RouteContext(r.Context()); rctx != nil {
						if pattern := rctx.RoutePattern(); pattern != "" {
							txn.Name = r.Method + " " + pattern
						} else {
							txn.Name = r.Method + " " + r.URL.Path
						}
					}
				}
				next.ServeHTTP(w, r)
			})
		})
	}

	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)

	// CORS origins from env or allow all
	corsOrigins := []string{"*"}
	if origins := os.Getenv("CORS_ORIGINS"); origins != "" {
		corsOrigins = strings.Split(origins, ",")
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Health check endpoints
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if shuttingDown.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("shutting down"))
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		if err := pool.Ping(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("database connection failed: " + err.Error()))
			return
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/health", handlers.Health(agent))
	r.Method(http.MethodPost, "/chat", handlers.NewChatHandler(agent))

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	// Cancellable base context so in-flight requests observe shutdown;
	// http.Server.Shutdown does not cancel request contexts by default.
	serverCtx, serverCancel := context.WithCancel(context.Background())
	server.BaseContext = func(_ net.Listener) context.Context {
		return serverCtx
	}

	go func() {
		log.Printf("API server starting on :%s", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Start Slack bot if configured
	var slackEventHandler *slackbot.EventHandler
	if botToken := os.Getenv("SLACK_BOT_TOKEN"); botToken != "" {
		slackEventHandler = startSlackBot(serverCtx, logger, agent, botToken, os.Getenv("SLACK_APP_TOKEN"))
	}

	sig := <-shutdown
	log.Printf("Received signal %v, shutting down gracefully...", sig)

	// Fail the readiness probe immediately
	shuttingDown.Store(true)

	// Stop Slack bot before cancelling the server context
	if slackEventHandler != nil {
		log.Println("Stopping Slack bot...")
		waitInFlight := slackEventHandler.StopAcceptingNew()
		waitDone := make(chan struct{})
		go func() {
			waitInFlight()
			close(waitDone)
		}()
		select {
		case <-waitDone:
			log.Println("Slack bot stopped gracefully")
		case <-time.After(30 * time.Second):
			log.Println("Slack bot shutdown timed out")
		}
	}

	serverCancel()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	} else {
		log.Println("Server stopped gracefully")
	}

	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("Metrics server shutdown error: %v", err)
		} else {
			log.Println("Metrics server stopped gracefully")
		}
	}
}

// startSlackBot starts the Socket Mode bot and returns its event handler for
// graceful shutdown.
func startSlackBot(ctx context.Context, logger *slog.Logger, agent *logistics.Agent, botToken, appToken string) *slackbot.EventHandler {
	if appToken == "" {
		log.Println("SLACK_APP_TOKEN not set, Slack bot disabled")
		return nil
	}

	client, err := slackbot.NewClient(botToken, appToken, logger)
	if err != nil {
		log.Printf("Failed to start Slack bot: %v", err)
		return nil
	}

	processor := slackbot.NewProcessor(agent, client, logger)
	handler := slackbot.NewEventHandler(client, processor, logger)
	handler.StartCleanup(ctx)

	go func() {
		if err := handler.HandleSocketMode(ctx, client.Socket()); err != nil && err != context.Canceled {
			log.Printf("Slack socket mode handler exited: %v", err)
		}
	}()
	go func() {
		if err := client.Socket().RunContext(ctx); err != nil && err != context.Canceled {
			log.Printf("Slack socket mode client exited: %v", err)
		}
	}()

	log.Println("Slack bot started in socket mode")
	return handler
}
