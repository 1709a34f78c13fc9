package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	clientapi "github.com/iudanet/decksync/internal/client/api"
	"github.com/iudanet/decksync/internal/client/iocli"
	"github.com/iudanet/decksync/internal/client/replication"
	"github.com/iudanet/decksync/internal/client/storage"
	"github.com/iudanet/decksync/internal/client/storage/boltdb"
	"github.com/iudanet/decksync/internal/models"
)

var (
	// ErrNotAuthenticated is returned by commands that talk to the server before login
	ErrNotAuthenticated = errors.New("not authenticated, run 'decksync login' first")

	// ErrTokenExpired is returned when the saved access token is past its expiry
	ErrTokenExpired = errors.New("access token has expired, run 'decksync login' again")
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ServerURL string
	DBPath    string
	BatchSize int
	Verbose   bool
}

// Cli holds what the commands share: console, local store and server client
type Cli struct {
	io      iocli.IO
	logger  *slog.Logger
	store   *boltdb.Storage
	remote  replication.Remote
	catalog *models.Catalog
	opts    *RootOptions
	now     func() time.Time
}

// NewRootCommand creates the root command of the client CLI.
func NewRootCommand(console iocli.IO) *cobra.Command {
	opts := &RootOptions{}
	c := &Cli{
		io:      console,
		catalog: models.DefaultCatalog(),
		opts:    opts,
		now:     time.Now,
	}

	cmd := &cobra.Command{
		Use:   "decksync",
		Short: "Decksync client",
		Long: `Keeps a local copy of decks, cards and settings in sync with a decksync server.

Local edits are stored first and pushed by 'sync' or 'watch'.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.BatchSize < 1 || opts.BatchSize > 200 {
				return fmt.Errorf("invalid batch size %d: must be between 1 and 200", opts.BatchSize)
			}
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().StringVar(&opts.ServerURL, "server", "http://localhost:8080", "server URL")
	cmd.PersistentFlags().StringVar(&opts.DBPath, "db", "decksync-client.db", "path to local database")
	cmd.PersistentFlags().IntVar(&opts.BatchSize, "batch-size", 100, "documents per pull and push request")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")

	cmd.AddCommand(c.newLoginCommand())
	cmd.AddCommand(c.newLogoutCommand())
	cmd.AddCommand(c.newStatusCommand())
	cmd.AddCommand(c.newPutCommand())
	cmd.AddCommand(c.newDeleteCommand())
	cmd.AddCommand(c.newListCommand())
	cmd.AddCommand(c.newSyncCommand())
	cmd.AddCommand(c.newWatchCommand())

	return cmd
}

// withStore открывает локальную базу на время выполнения команды
func (c *Cli) withStore(fn func(ctx context.Context, args []string) error) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		level := slog.LevelWarn
		if c.opts.Verbose {
			level = slog.LevelDebug
		}
		c.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

		store, err := boltdb.New(cmd.Context(), c.opts.DBPath)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer func() {
			if err := store.Close(); err != nil {
				c.logger.Error("Failed to close database", "error", err)
			}
		}()

		c.store = store
		c.remote = replication.NewRemote(clientapi.NewClient(c.opts.ServerURL))

		return fn(cmd.Context(), args)
	}
}

// accessToken is the replication.TokenSource of the CLI
func (c *Cli) accessToken(ctx context.Context) (string, error) {
	authData, err := c.store.GetAuth(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrAuthNotFound) {
			return "", ErrNotAuthenticated
		}
		return "", fmt.Errorf("failed to get auth data: %w", err)
	}

	if authData.Expired(c.now()) {
		return "", ErrTokenExpired
	}
	return authData.AccessToken, nil
}

func (c *Cli) newManager() *replication.Manager {
	return replication.NewManager(c.logger, c.remote, c.store, c.accessToken, replication.ManagerConfig{
		Driver:      replication.DriverConfig{BatchSize: c.opts.BatchSize},
		Multiplexed: c.catalog.Multiplexed(),
		Standalone:  c.catalog.Standalone(),
	})
}
