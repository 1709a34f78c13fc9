package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/iudanet/decksync/internal/client/storage"
)

func (c *Cli) newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show authentication and replication status",
		Args:  cobra.NoArgs,
		RunE:  c.withStore(func(ctx context.Context, _ []string) error { return c.runStatus(ctx) }),
	}
}

func (c *Cli) runStatus(ctx context.Context) error {
	c.io.Println("=== Authentication Status ===")

	authData, err := c.store.GetAuth(ctx)
	switch {
	case errors.Is(err, storage.ErrAuthNotFound):
		c.io.Println("Status: Not authenticated")
		c.io.Println("Run 'decksync login' to authenticate.")
	case err != nil:
		return fmt.Errorf("failed to get auth data: %w", err)
	default:
		c.io.Println("Status: Authenticated")
		c.io.Printf("User: %s\n", authData.UserID)
		if authData.ExpiresAt > 0 {
			expiresAt := time.Unix(authData.ExpiresAt, 0)
			c.io.Printf("Token expires: %s\n", expiresAt.Format(time.RFC3339))
			if authData.Expired(c.now()) {
				c.io.Println("⚠️  Token has expired. Please login again.")
			}
		}
	}

	c.io.Println()
	c.io.Println("=== Replication ===")

	pendingTotal := 0
	for _, name := range c.catalog.Names() {
		cp, err := c.store.GetCheckpoint(ctx, name)
		if err != nil {
			return err
		}
		pending, err := c.store.CountDirty(ctx, name)
		if err != nil {
			return err
		}
		pendingTotal += pending

		position := "not synced"
		if cp != nil {
			position = fmt.Sprintf("%s @ %s", cp.ID, time.UnixMilli(cp.UpdatedAt).UTC().Format(time.RFC3339Nano))
		}
		c.io.Printf("%-12s checkpoint: %s, pending: %d\n", name, position, pending)
	}

	c.io.Println()
	if pendingTotal > 0 {
		c.io.Printf("⚠️  Pending sync: %d document(s) waiting to be pushed\n", pendingTotal)
		c.io.Println("Run 'decksync sync' to synchronize with server.")
	} else {
		c.io.Println("✓ All local changes pushed")
	}

	return nil
}
