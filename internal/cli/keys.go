package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/splitlock/splitlock/internal/ledger"
	"github.com/splitlock/splitlock/internal/logging"
	"github.com/splitlock/splitlock/internal/store"
)

func init() {
	rootCmd.AddCommand(newKeyCmd())
}

// newKeyCmd exposes the ledger protocol for operational debugging:
// inspecting a stuck key, claiming a key by hand before a manual replay,
// or releasing one after a crashed worker.
func newKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "key",
		Short: "Operate on idempotency keys",
	}

	cmd.AddCommand(newKeyShowCmd(), newKeyClaimCmd(), newKeyCompleteCmd(), newKeyReleaseCmd())

	return cmd
}

func withLedger(fn func(*ledger.Ledger) error) error {
	logger, err := logging.New(logLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	return withStore(func(s *store.SQLiteStore) error {
		return fn(ledger.New(s, logger))
	})
}

func newKeyShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <key>",
		Short: "Show an idempotency record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(func(l *ledger.Ledger) error {
				rec, err := l.Get(context.Background(), args[0])
				if err != nil {
					if errors.Is(err, store.ErrNotFound) {
						return fmt.Errorf("key '%s' not found", args[0])
					}
					return err
				}

				fmt.Printf("KEY: %s\n", rec.Key)
				fmt.Printf("STATUS: %s\n", rec.Status)
				fmt.Printf("EXPIRES: %s\n", rec.ExpiresAt.Format(time.RFC3339))
				if len(rec.Result) > 0 {
					fmt.Printf("RESULT: %s\n", rec.Result)
				}
				return nil
			})
		},
	}
}

func newKeyClaimCmd() *cobra.Command {
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "claim <key>",
		Short: "Claim a key for exclusive processing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if ttl <= 0 {
				ttl = cfg.ClaimTTL
			}
			return withLedger(func(l *ledger.Ledger) error {
				claimed, err := l.Claim(context.Background(), args[0], ttl)
				if err != nil {
					return err
				}
				if !claimed {
					return fmt.Errorf("key '%s' is already claimed or completed", args[0])
				}
				fmt.Printf("Claimed '%s' for %s\n", args[0], ttl)
				return nil
			})
		},
	}

	cmd.Flags().DurationVar(&ttl, "ttl", 0, "claim TTL (default SPLITLOCK_CLAIM_TTL)")

	return cmd
}

func newKeyCompleteCmd() *cobra.Command {
	var (
		ttl    time.Duration
		result string
	)

	cmd := &cobra.Command{
		Use:   "complete <key>",
		Short: "Mark a claimed key as completed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if ttl <= 0 {
				ttl = cfg.ResultTTL
			}

			var payload json.RawMessage
			if result != "" {
				if !json.Valid([]byte(result)) {
					return fmt.Errorf("--result must be valid JSON")
				}
				payload = json.RawMessage(result)
			}

			return withLedger(func(l *ledger.Ledger) error {
				if err := l.Complete(context.Background(), args[0], payload, ttl); err != nil {
					return err
				}
				fmt.Printf("Completed '%s', result kept for %s\n", args[0], ttl)
				return nil
			})
		},
	}

	cmd.Flags().DurationVar(&ttl, "ttl", 0, "result TTL (default SPLITLOCK_RESULT_TTL)")
	cmd.Flags().StringVar(&result, "result", "", "JSON result payload to store")

	return cmd
}

func newKeyReleaseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "release <key>",
		Short: "Release a claim so the key can be retried",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(func(l *ledger.Ledger) error {
				if err := l.Release(context.Background(), args[0]); err != nil {
					return err
				}
				fmt.Printf("Released '%s'\n", args[0])
				return nil
			})
		},
	}
}
