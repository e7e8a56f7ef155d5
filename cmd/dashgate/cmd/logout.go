package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	identityclient "github.com/Ahmdfdhilah/dashgate/internal/adapter/outbound/identity"
	"github.com/Ahmdfdhilah/dashgate/internal/config"
	"github.com/Ahmdfdhilah/dashgate/internal/domain/session"
	"github.com/Ahmdfdhilah/dashgate/internal/domain/token"
	"github.com/Ahmdfdhilah/dashgate/internal/service"
)

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "End the stored session",
	Long: `End the session: notify the identity backend and remove stored tokens.

If a gateway is running on the configured address, the logout goes through
it so its in-memory session ends too. Otherwise the stored tokens are read,
the backend is notified and the tokens are removed. Local tokens are removed
even when the backend cannot be reached.

Examples:
  dashgate logout`,
	RunE: runLogout,
}

func init() {
	rootCmd.AddCommand(logoutCmd)
}

func runLogout(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	out := cmd.OutOrStdout()
	ctx := cmd.Context()

	if logoutViaGateway(ctx, gatewayURL(cfg.Server.HTTPAddr)) {
		fmt.Fprintln(out, "Logged out through the running gateway.")
		return nil
	}

	logger := newLogger(cfg.Server.LogLevel)
	storage, closeStorage, err := openTokenStorage(ctx, cfg.Storage, logger)
	if err != nil {
		return err
	}
	defer closeStorage()

	client := identityclient.NewHTTPClient(cfg.Identity.BaseURL,
		identityclient.WithTimeout(cfg.IdentityTimeout()),
		identityclient.WithUserAgent("dashgate/"+Version),
	)
	notified, err := logoutStored(ctx, token.NewStore(storage, logger), client, logger)
	if !notified && err == nil {
		fmt.Fprintln(out, "No active session. Stored tokens removed.")
		return nil
	}
	if err != nil {
		fmt.Fprintf(out, "Stored tokens removed, but the backend was not notified: %v\n", err)
		return nil
	}
	fmt.Fprintln(out, "Logged out.")
	return nil
}

// logoutStored ends the session held in store. notified is false when there
// was no live session to end; stored tokens are removed either way.
func logoutStored(ctx context.Context, store *token.Store, client *identityclient.HTTPClient, logger *slog.Logger) (notified bool, err error) {
	res := store.Load()
	if !res.IsAuthenticated {
		return false, store.Clear()
	}

	state := session.NewState(store, logger)
	state.Restore(session.Snapshot{
		IsAuthenticated: true,
		AccessToken:     res.AccessToken,
		RefreshToken:    res.RefreshToken,
		TokenExpiration: res.TokenExpiration,
	})
	return true, service.NewAuthService(state, client, logger).Logout(ctx)
}

// logoutViaGateway asks a running gateway to log out. It reports false when
// no gateway answered.
func logoutViaGateway(ctx context.Context, baseURL string) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/auth/logout", nil)
	if err != nil {
		return false
	}
	req.Header.Set("Accept", "application/json")

	client := &http.Client{
		CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK
}

// gatewayURL returns the base URL a local client uses to reach addr.
func gatewayURL(addr string) string {
	if strings.HasPrefix(addr, ":") {
		return "http://localhost" + addr
	}
	return "http://" + addr
}
