package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kashcal/synccore/internal/calendar/application"
	"github.com/kashcal/synccore/internal/calendar/domain"
	"github.com/kashcal/synccore/internal/calendar/infrastructure/caldav"
	"github.com/kashcal/synccore/internal/calendar/infrastructure/icalcodec"
	"github.com/kashcal/synccore/internal/calendar/infrastructure/ics"
	"github.com/kashcal/synccore/internal/calendar/infrastructure/persistence"
	"github.com/kashcal/synccore/internal/calendar/infrastructure/reminder"
	"github.com/kashcal/synccore/internal/shared/infrastructure/database"
	"github.com/kashcal/synccore/internal/shared/infrastructure/database/sqlite"
	"github.com/kashcal/synccore/internal/shared/infrastructure/eventbus"
	"github.com/kashcal/synccore/internal/shared/infrastructure/migrations"
	"github.com/kashcal/synccore/internal/shared/infrastructure/outbox"
	"github.com/kashcal/synccore/pkg/config"
	"github.com/kashcal/synccore/pkg/observability"
)

func main() {
	logger := observability.LoggerFromEnv()
	logger.Info("starting synccore")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	if err := database.EnsureDirectory(cfg.SQLitePath); err != nil {
		logger.Error("failed to prepare database directory", "error", err)
		os.Exit(1)
	}

	conn, err := database.NewConnection(ctx, database.Config{
		Driver:     database.DriverSQLite,
		SQLitePath: cfg.SQLitePath,
	})
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer conn.Close()

	sqliteConn, ok := conn.(*sqlite.Connection)
	if !ok {
		logger.Error("unexpected connection type for migrations")
		os.Exit(1)
	}
	if err := runMigrations(ctx, sqliteConn.DB()); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	logger.Info("database ready", "path", cfg.SQLitePath)

	accountRepo := persistence.NewAccountRepository(conn)
	calendarRepo := persistence.NewCalendarRepository(conn)
	eventRepo := persistence.NewEventRepository(conn)
	occurrenceRepo := persistence.NewOccurrenceRepository(conn)
	opRepo := persistence.NewPendingOperationRepository(conn)
	reminderRepo := persistence.NewScheduledReminderRepository(conn)
	outboxRepo := outbox.NewSQLiteRepository(conn)
	uow := database.NewUnitOfWork(conn)

	bus := eventbus.NewInProcessEventBus(logger)
	publisher := eventbus.NewInProcessPublisher(bus, logger)
	outboxProcessor := outbox.NewProcessor(outboxRepo, publisher, outbox.ProcessorConfig{
		PollInterval: 5 * time.Second,
		BatchSize:    50,
		MaxRetries:   5,
	}, logger)
	if err := outboxProcessor.Start(ctx); err != nil {
		logger.Error("failed to start outbox processor", "error", err)
		os.Exit(1)
	}
	defer outboxProcessor.Stop()

	metrics := observability.NewInMemoryMetrics()
	clock := domain.NewSystemClock()

	codec := icalcodec.NewCodec()
	occurrences := application.NewOccurrenceEngine(occurrenceRepo, eventRepo)
	queue := application.NewOperationQueueManager(opRepo, clock)
	reminderDispatcher := reminder.NewDispatcher(nil, nil, logger)

	var caldavClient application.CalDAVClient
	if cfg.CalDAVUsername != "" {
		caldavClient = caldav.NewBreakerClient(caldav.NewClient(cfg.CalDAVUsername, cfg.CalDAVPassword), logger)
	}

	pull := application.NewPullStrategy(eventRepo, calendarRepo, occurrences, caldavClient, codec, clock, logger)
	push := application.NewPushStrategy(eventRepo, calendarRepo, occurrences, queue, caldavClient, codec, clock, logger)
	icsEngine := application.NewICSSubscriptionEngine(eventRepo, calendarRepo, reminderRepo, reminderDispatcher, occurrences, ics.NewClient(), codec, clock, logger)

	syncEngine := application.NewSyncEngine(
		accountRepo,
		calendarRepo,
		queue,
		pull,
		push,
		icsEngine,
		caldavClient,
		clock,
		logger,
		application.SyncEngineConfig{
			MailboxSize: cfg.SyncMailboxSize,
			DrainLimit:  cfg.SyncDrainLimit,
		},
		metrics,
	)
	defer syncEngine.Shutdown()

	// EventWriter is the mutation path exposed to whatever host process
	// embeds this core (mobile binding, CLI, desktop app); nothing in this
	// daemon's own sync loop calls it directly.
	_ = application.NewEventWriter(eventRepo, calendarRepo, reminderRepo, reminderDispatcher, occurrences, queue, clock)

	accountService := application.NewAccountService(
		accountRepo,
		calendarRepo,
		eventRepo,
		reminderRepo,
		opRepo,
		outboxRepo,
		uow,
		syncEngine,
		reminderDispatcher,
		caldavClient,
		clock,
		logger,
	)

	registry := observability.NewHealthRegistry()
	registry.Register("database", observability.DatabaseHealthChecker(conn.Ping))
	startHealthServer(ctx, cfg, logger, registry)

	pollTicker := time.NewTicker(cfg.SyncPollInterval)
	defer pollTicker.Stop()

	runSyncSweep(ctx, accountService, syncEngine, logger)
	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down synccore")
			return
		case <-pollTicker.C:
			runSyncSweep(ctx, accountService, syncEngine, logger)
		}
	}
}

// runSyncSweep requests a sync cycle for every enabled account. Each
// request only enqueues onto that account's mailbox; SyncEngine's own
// goroutine performs the pull/push work, so this never blocks the poll
// loop on network I/O.
func runSyncSweep(ctx context.Context, accounts *application.AccountService, engine *application.SyncEngine, logger *slog.Logger) {
	enabled, err := accounts.EnabledAccounts(ctx)
	if err != nil {
		logger.Error("failed to list enabled accounts", "error", err)
		return
	}
	for _, account := range enabled {
		engine.SyncAccount(ctx, account.ID())
	}
}

func runMigrations(ctx context.Context, db *sql.DB) error {
	return migrations.RunSQLiteMigrations(ctx, db)
}

func startHealthServer(ctx context.Context, cfg *config.Config, logger *slog.Logger, registry *observability.HealthRegistry) {
	if cfg.HealthAddr == "" {
		return
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		health := registry.GetOverallHealth(r.Context())
		if health.Status != observability.HealthStatusHealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(health)
	})

	srv := &http.Server{
		Addr:              cfg.HealthAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("health server starting", "addr", cfg.HealthAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("health server error", "error", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("health server shutdown error", "error", err)
		}
	}()
}
