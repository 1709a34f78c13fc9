package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/spf13/cobra"
)

func (c *Cli) newSyncCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Pull server changes and push local ones once",
		Args:  cobra.NoArgs,
		RunE:  c.withStore(func(ctx context.Context, _ []string) error { return c.runSync(ctx) }),
	}
}

func (c *Cli) runSync(ctx context.Context) error {
	// Без токена не стоит начинать
	if _, err := c.accessToken(ctx); err != nil {
		return err
	}

	c.io.Println("=== Synchronization ===")

	results, err := c.newManager().SyncOnce(ctx)

	names := make([]string, 0, len(results))
	for name := range results {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		r := results[name]
		c.io.Printf("%-12s pulled: %d, pushed: %d, conflicts: %d\n", name, r.Pulled, r.Pushed, r.Conflicts)
	}

	if err != nil {
		return fmt.Errorf("synchronization failed: %w", err)
	}

	c.io.Println("✓ Synchronization completed successfully!")
	return nil
}

func (c *Cli) newWatchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Keep the local store in sync until interrupted",
		Long: `Keep the local store in sync with live server streams until interrupted.

The local database stays locked while watch runs.`,
		Args: cobra.NoArgs,
		RunE: c.withStore(func(ctx context.Context, _ []string) error { return c.runWatch(ctx) }),
	}
}

func (c *Cli) runWatch(ctx context.Context) error {
	if _, err := c.accessToken(ctx); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	c.io.Println("Watching for changes, press Ctrl+C to stop...")

	if err := c.newManager().Run(ctx); err != nil {
		return fmt.Errorf("live sync stopped: %w", err)
	}

	c.io.Println("✓ Stopped")
	return nil
}
