// Package jobs runs the periodic repairs of the purchase saga: retrying
// refunds the gateway never confirmed and compensating payment requests the
// customer never came back from.
package jobs

import (
	"context"
	"fmt"
	"time"

	"ms-seatsale/internal/logger"

	"github.com/robfig/cron/v3"
)

// Reconciler is implemented by *order.PaymentTransactor.
type Reconciler interface {
	ReconcileRefunds(ctx context.Context, limit int) (int, error)
	ExpireStale(ctx context.Context, maxAge time.Duration, limit int) (int, error)
}

type Config struct {
	RefundRetrySpec   string
	ExpireRequestSpec string
	// MaxRequestAge is how long a payment may stay in flight.
	MaxRequestAge time.Duration
	BatchSize     int
	RunTimeout    time.Duration
}

type Scheduler struct {
	cron       *cron.Cron
	reconciler Reconciler
	cfg        Config
	logger     *logger.Logger
}

func New(r Reconciler, cfg Config, log *logger.Logger) (*Scheduler, error) {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = 5 * time.Minute
	}

	cl := cronLogger{log}
	s := &Scheduler{
		cron:       cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		reconciler: r,
		cfg:        cfg,
		logger:     log,
	}
	if _, err := s.cron.AddFunc(cfg.RefundRetrySpec, func() { s.RetryRefunds() }); err != nil {
		return nil, fmt.Errorf("invalid refund retry schedule %q: %w", cfg.RefundRetrySpec, err)
	}
	if _, err := s.cron.AddFunc(cfg.ExpireRequestSpec, func() { s.ExpireRequests() }); err != nil {
		return nil, fmt.Errorf("invalid request expiry schedule %q: %w", cfg.ExpireRequestSpec, err)
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("JOBS", fmt.Sprintf("scheduled refund retry %q and request expiry %q", s.cfg.RefundRetrySpec, s.cfg.ExpireRequestSpec))
}

// Stop stops scheduling and returns a context that is done once running
// jobs have finished.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// RetryRefunds runs one refund reconciliation pass.
func (s *Scheduler) RetryRefunds() int {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.RunTimeout)
	defer cancel()

	n, err := s.reconciler.ReconcileRefunds(ctx, s.cfg.BatchSize)
	if err != nil {
		s.logger.Error("JOBS", fmt.Sprintf("refund retry: %d confirmed, errors: %v", n, err))
	} else if n > 0 {
		s.logger.Info("JOBS", fmt.Sprintf("refund retry: %d confirmed", n))
	}
	return n
}

// ExpireRequests runs one pass over abandoned payment requests.
func (s *Scheduler) ExpireRequests() int {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.RunTimeout)
	defer cancel()

	n, err := s.reconciler.ExpireStale(ctx, s.cfg.MaxRequestAge, s.cfg.BatchSize)
	if err != nil {
		s.logger.Error("JOBS", fmt.Sprintf("request expiry failed: %v", err))
	} else if n > 0 {
		s.logger.Info("JOBS", fmt.Sprintf("request expiry: %d purchases compensated", n))
	}
	return n
}

// cronLogger routes cron's own messages to the service logger.
type cronLogger struct {
	l *logger.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug("CRON", fmt.Sprint(msg, " ", keysAndValues))
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error("CRON", fmt.Sprintf("%s: %v %v", msg, err, keysAndValues))
}
