package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/pcherno/flakewise/internal/chat"
	"github.com/pcherno/flakewise/internal/config"
	"github.com/pcherno/flakewise/internal/httpapi"
	"github.com/pcherno/flakewise/internal/observability"
	"github.com/pcherno/flakewise/internal/responder"
	"github.com/pcherno/flakewise/internal/session"
	"github.com/pcherno/flakewise/internal/warehouse"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	answers, err := responder.New(responder.Config{
		Mode:    cfg.ResponderMode,
		HTTPURL: cfg.ResponderHTTPURL,
	})
	if err != nil {
		log.Fatalf("responder init failed: %v", err)
	}

	var executor warehouse.Executor
	if cfg.WarehouseDSN != "" {
		executor, err = warehouse.NewPostgresExecutor(cfg.WarehouseDSN, cfg.WarehouseQueryTimeout, cfg.WarehouseMaxRows)
		if err != nil {
			log.Fatalf("warehouse executor init failed: %v", err)
		}
		log.Printf("warehouse executor: postgres")
	} else {
		executor = warehouse.NewMockExecutor()
		log.Printf("warehouse executor: mock (WAREHOUSE_DSN is not set)")
	}
	executor = warehouse.NewReadOnlyGuard(executor)

	sessions := session.NewManager(cfg.SessionInactivityTimeout, responder.Welcome)
	sessions.SetExpireHook(func(_ *session.Session) {
		metrics.SessionEvents.WithLabelValues("expired").Inc()
		metrics.ActiveSessions.Set(float64(sessions.ActiveCount()))
	})

	orchestrator := chat.NewOrchestrator(answers, executor, metrics)

	api := httpapi.New(cfg, sessions, orchestrator, metrics)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	sessions.StartJanitor(runCtx, cfg.SessionJanitorInterval)

	go func() {
		log.Printf("server listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	log.Printf("shutdown complete")
}
