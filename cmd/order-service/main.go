package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ms-seatsale/internal/app"
	"ms-seatsale/internal/config"
	"ms-seatsale/internal/database/migrations"
	"ms-seatsale/internal/jobs"
	"ms-seatsale/internal/logger"
	"ms-seatsale/internal/order/order_api"
)

func main() {
	log := logger.NewLogger("order-service")
	defer log.Close()

	log.Info("APP", "Starting order service initialization")
	cfg := config.Load()
	ctx := context.Background()

	if cfg.Server.AutoMigrate {
		migrate(ctx, cfg, log)
	}

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal("APP", fmt.Sprintf("initialization failed: %v", err))
	}
	defer a.Close()

	verifier, err := app.Verifier(ctx, cfg.Auth)
	if err != nil {
		log.Fatal("AUTH", err.Error())
	}

	var scheduler *jobs.Scheduler
	if cfg.Jobs.Enabled {
		scheduler, err = jobs.New(a.Transactor, jobs.Config{
			RefundRetrySpec:   cfg.Jobs.RefundRetrySpec,
			ExpireRequestSpec: cfg.Jobs.ExpireRequestSpec,
			MaxRequestAge:     cfg.Reservation.ChargeIndexTTL,
		}, log)
		if err != nil {
			log.Fatal("JOBS", err.Error())
		}
		scheduler.Start()
	}

	handler := order_api.NewHandler(a.Transactor, a.Reservations, a.DB, a.QR, a.PDF, log)
	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      handler.Routes(verifier, cfg.Auth.AdminRole),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("HTTP", fmt.Sprintf("Order service running on %s", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("HTTP", fmt.Sprintf("HTTP server error: %v", err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	log.Info("APP", "Service started successfully, waiting for shutdown signal")
	<-stop

	log.Info("APP", "Shutdown signal received, initiating graceful shutdown")
	ctxShutdown, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	if err := server.Shutdown(ctxShutdown); err != nil {
		log.Error("HTTP", fmt.Sprintf("Server shutdown failed: %v", err))
	}
	if scheduler != nil {
		select {
		case <-scheduler.Stop().Done():
		case <-ctxShutdown.Done():
			log.Warn("JOBS", "jobs still running at shutdown")
		}
	}
	log.Info("HTTP", "Order service shutdown complete")
}

// migrate runs on its own connection because the migrator closes it.
func migrate(ctx context.Context, cfg *config.Config, log *logger.Logger) {
	sqldb, err := app.OpenPostgres(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal("MIGRATE", err.Error())
	}
	runner := migrations.NewRunner(sqldb, migrations.Options{Dir: cfg.Database.MigrationsPath}, log)
	defer runner.Close()
	if err := runner.Up(); err != nil {
		log.Fatal("MIGRATE", err.Error())
	}
}
