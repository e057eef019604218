package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/splitlock/splitlock/internal/ledger"
	"github.com/splitlock/splitlock/internal/logging"
	"github.com/splitlock/splitlock/internal/store"
)

func init() {
	rootCmd.AddCommand(newSweepCmd())
}

func newSweepCmd() *cobra.Command {
	var (
		every  time.Duration
		daemon bool
	)

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Remove expired idempotency records",
		Long: `Remove idempotency records whose TTL has elapsed. Runs once by
default; with --every it keeps sweeping on the given interval until
interrupted. The sweep only removes logically dead rows, so it is safe to
run while the service is live.

Examples:
  splitlock sweep
  splitlock sweep --every 5m
  splitlock sweep --daemon`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if daemon && every <= 0 {
				every = cfg.SweepInterval
			}

			logger, err := logging.New(logLevel)
			if err != nil {
				return err
			}
			defer logger.Sync()

			return withStore(func(s *store.SQLiteStore) error {
				led := ledger.New(s, logger)
				ctx := context.Background()

				count, err := led.CleanupExpired(ctx, time.Now())
				if err != nil {
					return fmt.Errorf("sweep failed: %w", err)
				}
				fmt.Printf("Removed %d expired records\n", count)

				if every <= 0 {
					return nil
				}

				logger.Info("sweeping periodically", zap.Duration("every", every))

				stop := make(chan os.Signal, 1)
				signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
				ticker := time.NewTicker(every)
				defer ticker.Stop()

				for {
					select {
					case <-ticker.C:
						if _, err := led.CleanupExpired(ctx, time.Now()); err != nil {
							logger.Error("sweep failed", zap.Error(err))
						}
					case <-stop:
						return nil
					}
				}
			})
		},
	}

	cmd.Flags().DurationVar(&every, "every", 0, "sweep repeatedly on this interval (0 = run once)")
	cmd.Flags().BoolVar(&daemon, "daemon", false, "sweep repeatedly on the configured SPLITLOCK_SWEEP_INTERVAL")

	return cmd
}
