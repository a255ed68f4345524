package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecgard/meterline/internal/metering"
	"github.com/spf13/cobra"
)

var (
	syncUsers []string
	syncFrom  string
	syncTo    string
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Sync usage history once for one or more users",
	Long:  "Sync fetches usage history from the metering service and upserts it into the cache. Without --from it resumes from the latest cached period.",
	RunE:  runSync,
}

func init() {
	syncCmd.Flags().StringSliceVar(&syncUsers, "user", nil, "user id to sync (repeatable, default: sync.users from config)")
	syncCmd.Flags().StringVar(&syncFrom, "from", "", "window start, YYYY-MM-DD or RFC3339 (default: resume from cache)")
	syncCmd.Flags().StringVar(&syncTo, "to", "", "window end, YYYY-MM-DD or RFC3339 (default: now)")
	rootCmd.AddCommand(syncCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	setupLogger()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	users := syncUsers
	if len(users) == 0 {
		users = cfg.Sync.Users
	}
	if len(users) == 0 {
		return errors.New("no users to sync: pass --user or set sync.users")
	}

	from, err := parseFlagTime("from", syncFrom)
	if err != nil {
		return err
	}
	to, err := parseFlagTime("to", syncTo)
	if err != nil {
		return err
	}
	bounds := metering.Window{From: from, To: to}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	var failed int
	for _, userID := range users {
		records, err := a.syncer.Sync(ctx, userID, bounds)
		if err != nil {
			failed++
			fmt.Fprintf(os.Stderr, "%s: %d periods written before error: %v\n", userID, len(records), err)
			if ctx.Err() != nil {
				break
			}
			continue
		}
		fmt.Printf("%s: %d periods synced\n", userID, len(records))
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d user syncs failed", failed, len(users))
	}
	slog.Info("sync finished", "users", len(users))
	return nil
}

func parseFlagTime(name, v string) (time.Time, error) {
	t, err := metering.ParseTime(v)
	if err != nil {
		return time.Time{}, fmt.Errorf("--%s: %w", name, err)
	}
	return t, nil
}
