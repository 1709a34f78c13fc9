package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func (c *Cli) newLogoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the saved access token",
		Args:  cobra.NoArgs,
		RunE:  c.withStore(func(ctx context.Context, _ []string) error { return c.runLogout(ctx) }),
	}
}

func (c *Cli) runLogout(ctx context.Context) error {
	if err := c.store.DeleteAuth(ctx); err != nil {
		return fmt.Errorf("logout failed: %w", err)
	}

	c.io.Println("✓ Logout successful!")
	// Локальные документы остаются, неотправленные правки уйдут после следующего login
	c.io.Println("Local documents are kept.")

	return nil
}
