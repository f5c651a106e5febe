// Package app wires the service's dependencies from configuration. Both the
// HTTP service and the admin CLI build on it.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"ms-seatsale/internal/auth"
	"ms-seatsale/internal/chargeindex"
	"ms-seatsale/internal/config"
	"ms-seatsale/internal/display"
	"ms-seatsale/internal/kafka"
	"ms-seatsale/internal/logger"
	"ms-seatsale/internal/notification"
	"ms-seatsale/internal/order"
	"ms-seatsale/internal/order/db"
	"ms-seatsale/internal/payment/gateway"
	"ms-seatsale/internal/reservation"
	"ms-seatsale/internal/tickets/admission"
	"ms-seatsale/internal/tickets/template"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
)

const connectAttempts = 5

// App holds the long-lived clients and the purchase saga built on them.
type App struct {
	Config       *config.Config
	Logger       *logger.Logger
	SQL          *sql.DB
	Bun          *bun.DB
	DB           *db.DB
	Redis        *redis.Client
	Reservations *reservation.Store
	Gateway      gateway.Gateway
	Publisher    notification.Publisher
	Transactor   *order.PaymentTransactor
	QR           *admission.QRGenerator
	PDF          *template.TicketPDFGenerator
}

// New connects to Postgres and Redis and builds the saga.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: log}

	sqldb, err := OpenPostgres(ctx, cfg.Database, log)
	if err != nil {
		return nil, err
	}
	a.SQL = sqldb
	a.Bun = bun.NewDB(sqldb, pgdialect.New())
	a.DB = &db.DB{Bun: a.Bun}

	a.Redis = redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := a.Redis.Ping(ctx).Err(); err != nil {
		a.Close()
		return nil, fmt.Errorf("redis connection error: %w", err)
	}
	log.Info("DATABASE", fmt.Sprintf("Redis connection successful to %s (DB: %d)", cfg.Redis.Addr, cfg.Redis.DB))

	a.Gateway, err = NewGateway(cfg.Gateway, a.Redis, log)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Publisher, err = NewPublisher(cfg, log)
	if err != nil {
		a.Close()
		return nil, err
	}

	issuer, err := admission.NewIssuer(cfg.Admission.NodeID)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.QR = admission.NewQRGenerator(cfg.Admission.QRSecret)
	a.PDF = template.NewTicketPDFGenerator(cfg.Admission.TicketTitle)

	tables, err := display.Load(cfg.DisplayTable)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Reservations = reservation.NewStore(a.Redis, log, cfg.Reservation.TTL)

	deps := order.Deps{
		DB:            a.DB,
		Reservations:  a.Reservations,
		Gateway:       a.Gateway,
		Charges:       chargeindex.New(chargeindex.RedisCache{Client: a.Redis}, cfg.Reservation.ChargeIndexTTL),
		Admission:     issuer,
		Display:       tables,
		Logger:        log,
		HoldTTL:       cfg.Reservation.TTL,
		PurchaseLimit: cfg.Reservation.PurchaseLimit,
	}
	if a.Publisher != nil {
		deps.Notifier = notification.NewNotifier(a.Publisher, notification.Destinations{
			PurchaseCompleted: cfg.Kafka.Topics.PurchaseCompleted,
			SeatsReleased:     cfg.Kafka.Topics.SeatsReleased,
		}, log)
	}
	a.Transactor = order.NewPaymentTransactor(deps)
	return a, nil
}

// OpenPostgres connects with retries, the way containers usually need at
// startup.
func OpenPostgres(ctx context.Context, cfg config.DatabaseConfig, log *logger.Logger) (*sql.DB, error) {
	var lastErr error
	for i := 0; i < connectAttempts; i++ {
		log.Info("DATABASE", fmt.Sprintf("Attempting to connect to PostgreSQL (attempt %d/%d)", i+1, connectAttempts))
		sqldb, err := sql.Open("postgres", cfg.DSN())
		if err == nil {
			if err = sqldb.PingContext(ctx); err == nil {
				sqldb.SetMaxOpenConns(cfg.MaxOpenConns)
				sqldb.SetMaxIdleConns(cfg.MaxIdleConns)
				sqldb.SetConnMaxLifetime(cfg.MaxLifetime)
				log.Info("DATABASE", "PostgreSQL connection successful")
				return sqldb, nil
			}
			sqldb.Close()
		}
		lastErr = err
		log.Error("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL: %v", err))

		if i < connectAttempts-1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(2 * time.Second):
			}
		}
	}
	return nil, fmt.Errorf("postgres unreachable after %d attempts: %w", connectAttempts, lastErr)
}

// NewGateway picks the payment backend named by cfg.Backend.
func NewGateway(cfg config.GatewayConfig, rdb *redis.Client, log *logger.Logger) (gateway.Gateway, error) {
	switch cfg.Backend {
	case "http", "":
		c := gateway.NewHTTPClient(cfg.BaseURL, cfg.APIKey, cfg.Timeout, log)
		if cfg.TokenURL != "" {
			var cache *auth.RedisTokenCache
			if rdb != nil {
				cache = auth.NewRedisTokenCache(rdb, cfg.ClientID)
			}
			c.WithTokenSource(auth.NewM2MTokenSource(auth.M2MConfig{
				TokenURL:     cfg.TokenURL,
				ClientID:     cfg.ClientID,
				ClientSecret: cfg.ClientSecret,
			}, &http.Client{Timeout: cfg.Timeout}, cache, log))
		}
		return c, nil
	case "stripe":
		return gateway.NewStripeGateway(gateway.StripeConfig{
			SecretKey:  cfg.StripeKey,
			SuccessURL: cfg.SuccessURL,
			CancelURL:  cfg.CancelURL,
			Currency:   cfg.Currency,
		}, log)
	}
	return nil, fmt.Errorf("unknown payment gateway %q", cfg.Backend)
}

// NewPublisher picks the notification broker. It returns nil for "none".
func NewPublisher(cfg *config.Config, log *logger.Logger) (notification.Publisher, error) {
	switch cfg.Notify {
	case "kafka":
		topics := []string{cfg.Kafka.Topics.PurchaseCompleted, cfg.Kafka.Topics.SeatsReleased}
		if err := kafka.EnsureTopicsExist(cfg.Kafka.Brokers, topics, log); err != nil {
			log.Warn("KAFKA", fmt.Sprintf("Topic creation might have failed: %v", err))
		}
		return kafka.NewProducer(cfg.Kafka.Brokers), nil
	case "rabbitmq":
		return notification.NewRabbitPublisher(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange), nil
	case "none", "":
		log.Warn("NOTIFY", "notifications disabled")
		return nil, nil
	}
	return nil, fmt.Errorf("unknown notification broker %q", cfg.Notify)
}

// Verifier prefers the OIDC issuer and falls back to the shared secret.
func Verifier(ctx context.Context, cfg config.AuthConfig) (auth.Verifier, error) {
	if cfg.OIDCIssuer != "" {
		return auth.NewOIDCVerifier(ctx, cfg.OIDCIssuer, cfg.OIDCClientID)
	}
	if cfg.HMACSecret != "" {
		return auth.NewHMACVerifier(cfg.HMACSecret), nil
	}
	return nil, errors.New("neither OIDC_ISSUER nor JWT_SECRET is set")
}

// Close waits for pending notifications and releases every client.
func (a *App) Close() {
	if a.Transactor != nil {
		a.Transactor.Wait()
	}
	if a.Publisher != nil {
		if err := a.Publisher.Close(); err != nil {
			a.Logger.Warn("NOTIFY", fmt.Sprintf("publisher close: %v", err))
		}
	}
	if a.Redis != nil {
		a.Redis.Close()
	}
	if a.Bun != nil {
		a.Bun.Close()
	} else if a.SQL != nil {
		a.SQL.Close()
	}
}
