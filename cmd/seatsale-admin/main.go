package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"ms-seatsale/internal/app"
	"ms-seatsale/internal/auth"
	"ms-seatsale/internal/config"
	"ms-seatsale/internal/database/migrations"
	"ms-seatsale/internal/kafka"
	"ms-seatsale/internal/logger"
	"ms-seatsale/internal/order"
	"ms-seatsale/internal/order/db"

	"github.com/spf13/cobra"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
)

var Version = "dev"

func main() {
	// stdout carries command output only
	log := logger.New(os.Stderr)
	cfg := config.Load()

	rootCmd := &cobra.Command{
		Use:           "seatsale-admin",
		Short:         "Operate the seat sale service: migrations, refunds and maintenance jobs",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(migrateCmd(cfg, log))
	rootCmd.AddCommand(refundCmd(cfg, log))
	rootCmd.AddCommand(reconcileCmd(cfg, log))
	rootCmd.AddCommand(expireCmd(cfg, log))
	rootCmd.AddCommand(seedCmd(cfg, log))
	rootCmd.AddCommand(eventsCmd(cfg, log))
	rootCmd.AddCommand(tokenCmd(cfg))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func migrateCmd(cfg *config.Config, log *logger.Logger) *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back the database schema",
	}
	cmd.PersistentFlags().StringVar(&dir, "dir", cfg.Database.MigrationsPath, "migrations directory (default: embedded)")

	run := func(fn func(r *migrations.Runner) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			sqldb, err := app.OpenPostgres(cmd.Context(), cfg.Database, log)
			if err != nil {
				return err
			}
			runner := migrations.NewRunner(sqldb, migrations.Options{Dir: dir}, log)
			defer runner.Close()
			return fn(runner)
		}
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE:  run(func(r *migrations.Runner) error { return r.Up() }),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back every migration",
		RunE:  run(func(r *migrations.Runner) error { return r.Down() }),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "to [version]",
		Short: "Migrate up or down to a specific version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := strconv.ParseUint(args[0], 10, 32)
			if err != nil {
				return fmt.Errorf("invalid version %q: %w", args[0], err)
			}
			return run(func(r *migrations.Runner) error { return r.To(uint(v)) })(cmd, args)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the current schema version",
		RunE: run(func(r *migrations.Runner) error {
			v, dirty, err := r.Version()
			if err != nil {
				return err
			}
			fmt.Printf("version %d (dirty: %t)\n", v, dirty)
			return nil
		}),
	})
	return cmd
}

// withApp builds the full service graph for commands that drive the saga.
func withApp(cfg *config.Config, log *logger.Logger, fn func(ctx context.Context, a *app.App) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		a, err := app.New(cmd.Context(), cfg, log)
		if err != nil {
			return err
		}
		defer a.Close()
		return fn(cmd.Context(), a)
	}
}

func refundCmd(cfg *config.Config, log *logger.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "refund [orderId]",
		Short: "Refund a captured order and release its seats",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			orderID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || orderID <= 0 {
				return fmt.Errorf("invalid order id %q", args[0])
			}
			return withApp(cfg, log, func(ctx context.Context, a *app.App) error {
				log.LogSecurity("ADMIN_REFUND", fmt.Sprintf("cli refunds order %d", orderID))
				out, err := a.Transactor.Refund(ctx, orderID)
				if err != nil {
					return err
				}
				return printRefund(out)
			})(cmd, args)
		},
	}
}

func printRefund(out order.Outcome) error {
	body, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	fmt.Printf("%s %s\n", out.Kind, body)
	if !out.OK() {
		return fmt.Errorf("refund %s: %s", out.Kind, out.Code)
	}
	return nil
}

func reconcileCmd(cfg *config.Config, log *logger.Logger) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Retry gateway refunds that were recorded locally but not confirmed",
		RunE: withApp(cfg, log, func(ctx context.Context, a *app.App) error {
			n, err := a.Transactor.ReconcileRefunds(ctx, limit)
			fmt.Printf("confirmed %d refunds\n", n)
			return err
		}),
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 100, "maximum orders per run")
	return cmd
}

func expireCmd(cfg *config.Config, log *logger.Logger) *cobra.Command {
	var (
		limit  int
		maxAge time.Duration
	)
	cmd := &cobra.Command{
		Use:   "expire",
		Short: "Compensate purchase requests the customer never completed",
		RunE: withApp(cfg, log, func(ctx context.Context, a *app.App) error {
			n, err := a.Transactor.ExpireStale(ctx, maxAge, limit)
			fmt.Printf("expired %d requests\n", n)
			return err
		}),
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 100, "maximum orders per run")
	cmd.Flags().DurationVar(&maxAge, "max-age", cfg.Reservation.ChargeIndexTTL, "age after which a request is stale")
	return cmd
}

func seedCmd(cfg *config.Config, log *logger.Logger) *cobra.Command {
	var migrate bool
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Insert a demo event with seats on sale",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if migrate {
				sqldb, err := app.OpenPostgres(ctx, cfg.Database, log)
				if err != nil {
					return err
				}
				runner := migrations.NewRunner(sqldb, migrations.Options{Dir: cfg.Database.MigrationsPath}, log)
				err = runner.Up()
				runner.Close()
				if err != nil {
					return err
				}
			}

			sqldb, err := app.OpenPostgres(ctx, cfg.Database, log)
			if err != nil {
				return err
			}
			bdb := bun.NewDB(sqldb, pgdialect.New())
			defer bdb.Close()

			var demo *db.Demo
			err = bdb.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
				var seedErr error
				demo, seedErr = db.SeedDemo(ctx, tx, time.Now())
				return seedErr
			})
			if err != nil {
				return err
			}
			fmt.Printf("seeded hold %d, sale %d\n", demo.Hold.ID, demo.Sale.ID)
			for _, t := range demo.Tickets {
				fmt.Printf("  ticket %d  %s\n", t.ID, t.SeatLabel())
			}
			for _, t := range demo.UnitTickets {
				fmt.Printf("  ticket %d  %s (box %d)\n", t.ID, t.SeatLabel(), demo.Unit.ID)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", false, "apply migrations first")
	return cmd
}

func eventsCmd(cfg *config.Config, log *logger.Logger) *cobra.Command {
	var group string
	cmd := &cobra.Command{
		Use:   "events [topic]",
		Short: "Print notification messages from a Kafka topic",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			topic := cfg.Kafka.Topics.PurchaseCompleted
			if len(args) == 1 {
				topic = args[0]
			}
			consumer := kafka.NewConsumer(cfg.Kafka.Brokers, topic, group, log)
			defer consumer.Close()
			return consumer.Run(cmd.Context(), func(key, value []byte) error {
				fmt.Printf("%s\t%s\n", key, value)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&group, "group", "g", "seatsale-admin", "consumer group")
	return cmd
}

func tokenCmd(cfg *config.Config) *cobra.Command {
	var (
		roles []string
		ttl   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token [userId]",
		Short: "Sign a development token with JWT_SECRET",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.Auth.HMACSecret == "" {
				return fmt.Errorf("JWT_SECRET is not set")
			}
			userID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || userID <= 0 {
				return fmt.Errorf("invalid user id %q", args[0])
			}
			token, err := auth.NewHMACVerifier(cfg.Auth.HMACSecret).Sign(userID, roles, ttl)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().StringSliceVarP(&roles, "role", "r", nil, "roles to grant")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}
