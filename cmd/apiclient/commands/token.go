package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/fivetwenty-io/apiclient/internal/auth"
	"github.com/fivetwenty-io/apiclient/internal/constants"
	"github.com/fivetwenty-io/apiclient/pkg/api"
	"github.com/fivetwenty-io/apiclient/pkg/tokenstore"
)

const tokenPreviewLength = 8

// tokenStatus is the printable, masked form of a stored pair.
type tokenStatus struct {
	Store           string `json:"store"                       yaml:"store"`
	Authenticated   bool   `json:"authenticated"               yaml:"authenticated"`
	AccessToken     string `json:"access_token,omitempty"      yaml:"access_token,omitempty"`
	HasRefreshToken bool   `json:"has_refresh_token"           yaml:"has_refresh_token"`
	ExpiresAt       string `json:"expires_at,omitempty"        yaml:"expires_at,omitempty"`
	TimeUntilExpiry string `json:"time_until_expiry,omitempty" yaml:"time_until_expiry,omitempty"`
	Valid           bool   `json:"valid"                       yaml:"valid"`
}

// NewTokenCommand creates the token command group.
func NewTokenCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage authentication tokens",
		Long:  "Commands for storing, inspecting, refreshing and clearing the credential pair",
	}

	cmd.AddCommand(newTokenSetCommand())
	cmd.AddCommand(newTokenShowCommand())
	cmd.AddCommand(newTokenClearCommand())
	cmd.AddCommand(newTokenRefreshCommand())

	return cmd
}

// withStore opens the configured token store for the duration of fn.
func withStore(cmd *cobra.Command, fn func(ctx context.Context, config *Config, store tokenstore.Store) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	config := loadConfig()

	store, err := openTokenStore(ctx, config)
	if err != nil {
		return err
	}

	defer func() { _ = tokenstore.Close(store) }()

	return fn(ctx, config, store)
}

func newTokenSetCommand() *cobra.Command {
	var (
		accessToken  string
		refreshToken string
		expiresIn    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Store a credential pair",
		Long: `Store an access token and optional refresh token.

The access token is read from the terminal without echo when --access is not
given. The expiry is taken from --expires-in, or from the token's exp claim
when it is a JWT.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if accessToken == "" {
				secret, err := readSecret(cmd.ErrOrStderr(), "Access token: ")
				if err != nil {
					return err
				}

				accessToken = secret
			}

			pair := &api.TokenPair{AccessToken: accessToken, RefreshToken: refreshToken}
			if expiresIn > 0 {
				pair.ExpiresAt = time.Now().Add(expiresIn)
			}

			return withStore(cmd, func(ctx context.Context, _ *Config, store tokenstore.Store) error {
				err := store.SetTokens(ctx, auth.WithDerivedExpiry(pair))
				if err != nil {
					return fmt.Errorf("storing tokens: %w", err)
				}

				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Tokens stored")

				return nil
			})
		},
	}

	cmd.Flags().StringVar(&accessToken, "access", "", "access token (prompted when omitted)")
	cmd.Flags().StringVar(&refreshToken, "refresh", "", "refresh token")
	cmd.Flags().DurationVar(&expiresIn, "expires-in", 0, "access token lifetime")

	return cmd
}

func newTokenShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the stored credential",
		Long:  "Display the stored credential with the access token masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, config *Config, store tokenstore.Store) error {
				pair, err := store.Load(ctx)
				if err != nil {
					return fmt.Errorf("loading tokens: %w", err)
				}

				status := buildTokenStatus(storeName(config), pair, time.Now())

				format := viper.GetString("output")
				if format == constants.FormatJSON || format == constants.FormatYAML {
					return writeStructured(cmd.OutOrStdout(), format, status)
				}

				return renderProperties(cmd.OutOrStdout(), status.rows())
			})
		},
	}
}

func newTokenClearCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove the stored credential",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, _ *Config, store tokenstore.Store) error {
				err := store.Clear(ctx)
				if err != nil {
					return fmt.Errorf("clearing tokens: %w", err)
				}

				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Tokens cleared")

				return nil
			})
		},
	}
}

func newTokenRefreshCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Refresh the credential now",
		Long:  "Run the configured OAuth2 grant against token_url and store the new pair",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, config *Config, store tokenstore.Store) error {
				refresh := refresher(config, store)
				if refresh == nil {
					return constants.ErrNoTokenURL
				}

				ctx, cancel := context.WithTimeout(ctx, constants.DefaultRefreshTimeout)
				defer cancel()

				pair, err := refresh(ctx)
				if err != nil {
					return err
				}

				err = store.SetTokens(ctx, auth.WithDerivedExpiry(pair))
				if err != nil {
					return fmt.Errorf("storing tokens: %w", err)
				}

				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Tokens refreshed")

				return nil
			})
		},
	}
}

// readSecret prompts on w and reads a line from the terminal without echo.
func readSecret(w io.Writer, prompt string) (string, error) {
	fd := int(os.Stdin.Fd()) // #nosec G115 -- file descriptors fit in int

	if !term.IsTerminal(fd) {
		return "", constants.ErrNotATerminal
	}

	_, _ = fmt.Fprint(w, prompt)

	secret, err := term.ReadPassword(fd)

	_, _ = fmt.Fprintln(w)

	if err != nil {
		return "", fmt.Errorf("reading secret: %w", err)
	}

	return strings.TrimSpace(string(secret)), nil
}

func storeName(config *Config) string {
	if config.TokenStore == "" {
		return string(tokenstore.TypeFile)
	}

	return config.TokenStore
}

func buildTokenStatus(store string, pair *api.TokenPair, now time.Time) tokenStatus {
	status := tokenStatus{Store: store}
	if pair == nil || pair.AccessToken == "" {
		return status
	}

	pair = auth.WithDerivedExpiry(pair)

	status.Authenticated = true
	status.AccessToken = maskToken(pair.AccessToken)
	status.HasRefreshToken = pair.RefreshToken != ""
	status.Valid = pair.Valid(constants.TokenExpirationBuffer)

	if !pair.ExpiresAt.IsZero() {
		status.ExpiresAt = pair.ExpiresAt.Format(time.RFC3339)
		status.TimeUntilExpiry = pair.ExpiresAt.Sub(now).Round(time.Second).String()
	}

	return status
}

func maskToken(token string) string {
	if len(token) <= tokenPreviewLength {
		return constants.MaskedSecret
	}

	return token[:tokenPreviewLength] + constants.MaskedSecret
}

func (s tokenStatus) rows() [][2]string {
	return [][2]string{
		{"Store", s.Store},
		{"Authenticated", strconv.FormatBool(s.Authenticated)},
		{"Access Token", orNA(s.AccessToken)},
		{"Refresh Token", strconv.FormatBool(s.HasRefreshToken)},
		{"Expires At", orNA(s.ExpiresAt)},
		{"Time Until Expiry", orNA(s.TimeUntilExpiry)},
		{"Valid", strconv.FormatBool(s.Valid)},
	}
}
