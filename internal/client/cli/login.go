package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cobra"

	clientapi "github.com/iudanet/decksync/internal/client/api"
	"github.com/iudanet/decksync/internal/client/storage"
	"github.com/iudanet/decksync/pkg/api"
)

// TokenEnv is the environment variable read by login before any other source
const TokenEnv = "DECKSYNC_TOKEN"

// TokenSources are the non-interactive sources of the access token
type TokenSources struct {
	FromFile string
	FromArgs string
}

// tokenClaims - claims, которые выпускает сервер
type tokenClaims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

func (c *Cli) newLoginCommand() *cobra.Command {
	var sources TokenSources

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Save the access token issued for this user",
		Long: `Save the access token issued by 'decksync-server issue-token'.

Token priority (highest to lowest):
  1. DECKSYNC_TOKEN environment variable
  2. --token-file (file path)
  3. --token (command line)
  4. Interactive prompt`,
		Args: cobra.NoArgs,
		RunE: c.withStore(func(ctx context.Context, _ []string) error {
			return c.runLogin(ctx, sources)
		}),
	}

	cmd.Flags().StringVar(&sources.FromArgs, "token", "", "access token (not recommended, use env var or file)")
	cmd.Flags().StringVar(&sources.FromFile, "token-file", "", "path to file containing the access token")

	return cmd
}

func (c *Cli) runLogin(ctx context.Context, sources TokenSources) error {
	token, err := c.getToken(sources)
	if err != nil {
		return fmt.Errorf("failed to get access token: %w", err)
	}

	claims, err := parseToken(token)
	if err != nil {
		return err
	}

	// Проверяем токен на сервере пустым pull
	_, err = c.remote.Pull(ctx, token, c.catalog.Names()[0], api.PullRequest{BatchSize: 1})
	if err != nil {
		if errors.Is(err, clientapi.ErrUnauthorized) {
			return fmt.Errorf("token rejected by server: %w", err)
		}
		return fmt.Errorf("failed to verify token: %w", err)
	}

	authData := &storage.AuthData{
		UserID:      claims.UserID,
		AccessToken: token,
	}
	if claims.ExpiresAt != nil {
		authData.ExpiresAt = claims.ExpiresAt.Unix()
	}

	if err := c.store.SaveAuth(ctx, authData); err != nil {
		return fmt.Errorf("failed to save auth data: %w", err)
	}

	c.io.Println("✓ Login successful!")
	c.io.Printf("User: %s\n", authData.UserID)
	if authData.ExpiresAt > 0 {
		c.io.Printf("Token expires: %s\n", time.Unix(authData.ExpiresAt, 0).Format(time.RFC3339))
	}

	return nil
}

// getToken retrieves the access token from various sources with priority:
// 1. Environment variable DECKSYNC_TOKEN
// 2. File specified in FromFile
// 3. Command-line parameter FromArgs
// 4. Interactive prompt (fallback)
func (c *Cli) getToken(sources TokenSources) (string, error) {
	// Priority 1: Environment variable
	if envToken := os.Getenv(TokenEnv); envToken != "" {
		return envToken, nil
	}

	// Priority 2: File
	if sources.FromFile != "" {
		content, err := os.ReadFile(sources.FromFile)
		if err != nil {
			return "", fmt.Errorf("failed to read token file: %w", err)
		}
		token := strings.TrimSpace(string(content))
		if token == "" {
			return "", fmt.Errorf("token file is empty")
		}
		return token, nil
	}

	// Priority 3: CLI parameter
	if sources.FromArgs != "" {
		return sources.FromArgs, nil
	}

	// Priority 4: Interactive prompt (fallback)
	token, err := c.io.ReadPassword("Access token: ")
	if err != nil {
		return "", fmt.Errorf("failed to read token from stdin: %w", err)
	}
	if token == "" {
		return "", fmt.Errorf("token cannot be empty")
	}

	return token, nil
}

// parseToken читает claims без проверки подписи: ее проверяет сервер
func parseToken(token string) (*tokenClaims, error) {
	claims := &tokenClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("failed to parse access token: %w", err)
	}
	if claims.UserID == "" {
		return nil, errors.New("access token has no user_id claim")
	}
	return claims, nil
}
