package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/quartzlabs/mailpilot/internal/action"
	"github.com/quartzlabs/mailpilot/internal/auth"
	"github.com/quartzlabs/mailpilot/internal/config"
	"github.com/quartzlabs/mailpilot/internal/database"
	"github.com/quartzlabs/mailpilot/internal/jobs"
	"github.com/quartzlabs/mailpilot/internal/notify"
	"github.com/quartzlabs/mailpilot/internal/pipeline"
	"github.com/quartzlabs/mailpilot/internal/provider"
	"github.com/quartzlabs/mailpilot/internal/ratelimit"
	"github.com/quartzlabs/mailpilot/internal/rules"
	"github.com/quartzlabs/mailpilot/internal/safety"
	"github.com/quartzlabs/mailpilot/internal/store/postgres"
	"github.com/quartzlabs/mailpilot/internal/web"
	"github.com/quartzlabs/mailpilot/internal/web/handlers"
	"github.com/quartzlabs/mailpilot/migrations"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Database
	db, err := postgres.NewDB(cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Migrations
	if err := database.Migrate(migrations.FS, cfg.DatabaseURL); err != nil {
		slog.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	// Stores
	jobStore := postgres.NewJobStore(db, cfg.MaxAttempts)
	ruleStore := postgres.NewRuleStore(db)
	decisionStore := postgres.NewDecisionStore(db)
	actionStore := postgres.NewActionStore(db)

	// Provider clients. The memory backend stands in until a wire-level
	// client is plugged into the factory; its credentials never expire, so
	// the refresh group gets a noop refresher.
	baseFactory := provider.NewMemoryFactory()
	refreshGroup := provider.NewRefreshGroup(provider.NoopRefresher{})
	clientFactory := provider.ClientFactory(func(accountID string) (provider.Client, error) {
		client, err := baseFactory(accountID)
		if err != nil {
			return nil, err
		}
		client = provider.WithLimits(client, cfg.ProviderRPS, cfg.ProviderBurst, cfg.ProviderTimeout)
		return provider.WithAuthRetry(client, accountID, refreshGroup), nil
	})

	// Notifier
	var notifier notify.Notifier = notify.NoopNotifier{}
	if cfg.NATSURL != "" {
		publisher, err := notify.NewNATSPublisher(cfg.NATSURL, "")
		if err != nil {
			slog.Error("failed to connect to NATS", "url", cfg.NATSURL, "error", err)
			os.Exit(1)
		}
		defer publisher.Close()
		notifier = publisher
	}

	// Services
	ruleExecutor := rules.NewExecutor(ruleStore)
	actionExecutor := action.NewExecutor(actionStore, jobStore, clientFactory)
	undoResolver := action.NewResolver(actionStore, jobStore, actionExecutor)
	service := pipeline.NewService(pipeline.Deps{
		Jobs:      jobStore,
		Rules:     ruleExecutor,
		Decisions: decisionStore,
		Actions:   actionStore,
		Executor:  actionExecutor,
		Resolver:  undoResolver,
		Clients:   clientFactory,
		Policy: safety.Policy{
			ConfidenceThreshold: cfg.ApprovalConfidenceThreshold,
			AlwaysApprove:       cfg.AlwaysApproveActions,
		},
		Notifier: notifier,
	})

	registry := jobs.NewRegistry()
	service.Register(registry)

	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()

	var wg sync.WaitGroup
	for i := 0; i < cfg.WorkerCount; i++ {
		worker := jobs.NewWorker(jobStore, registry, jobs.WorkerOptions{
			PollInterval: cfg.PollInterval,
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			worker.Run(workerCtx)
		}()
	}

	// Stale-job supervisor: running jobs whose worker died get requeued.
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(cfg.StaleJobThreshold / 2)
		defer ticker.Stop()
		for {
			select {
			case <-workerCtx.Done():
				return
			case <-ticker.C:
				n, err := jobStore.RequeueStaleJobs(workerCtx, cfg.StaleJobThreshold)
				if err != nil {
					slog.Error("failed to requeue stale jobs", "error", err)
					continue
				}
				if n > 0 {
					slog.Warn("requeued stale jobs", "count", n)
				}
			}
		}
	}()

	// Rate limiter
	limiter := ratelimit.NewLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	defer limiter.Close()

	// Router
	router := web.NewRouter(web.RouterDeps{
		EventHandler:  handlers.NewEventHandler(service, 0),
		ActionHandler: handlers.NewActionHandler(actionStore, service),
		RuleHandler:   handlers.NewRuleHandler(ruleStore),
		Verifier:      auth.NewKeyVerifier(cfg.APIKeyHash),
		Limiter:       limiter,
	})

	// Server
	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		slog.Info("mailpilot starting", "addr", addr, "workers", cfg.WorkerCount)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-done
	slog.Info("shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "error", err)
	}

	stopWorkers()
	wg.Wait()
}
