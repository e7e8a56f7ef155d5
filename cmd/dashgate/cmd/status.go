package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Ahmdfdhilah/dashgate/internal/config"
	"github.com/Ahmdfdhilah/dashgate/internal/domain/token"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the stored session",
	Long: `Show the session held in token storage without changing it.

Tokens are never printed; a short fingerprint identifies them instead.

Examples:
  dashgate status
  dashgate status --output json`,
	RunE: runStatus,
}

var statusOutput string

func init() {
	statusCmd.Flags().StringVarP(&statusOutput, "output", "o", "text", "Output format: text, json or yaml")
	rootCmd.AddCommand(statusCmd)
}

// sessionStatus is the stored session as reported by the status command.
type sessionStatus struct {
	Driver          string     `json:"driver" yaml:"driver"`
	Path            string     `json:"path,omitempty" yaml:"path,omitempty"`
	Authenticated   bool       `json:"authenticated" yaml:"authenticated"`
	AccessToken     string     `json:"access_token,omitempty" yaml:"access_token,omitempty"`
	HasRefreshToken bool       `json:"has_refresh_token" yaml:"has_refresh_token"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty" yaml:"expires_at,omitempty"`
	ExpiresIn       string     `json:"expires_in,omitempty" yaml:"expires_in,omitempty"`
	Note            string     `json:"note,omitempty" yaml:"note,omitempty"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	switch statusOutput {
	case "text", "json", "yaml":
	default:
		return fmt.Errorf("unknown output format %q (want text, json or yaml)", statusOutput)
	}

	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	status := sessionStatus{Driver: cfg.Storage.Driver, Path: cfg.Storage.Path}
	if cfg.Storage.Driver == config.StorageMemory {
		status.Note = "memory storage keeps no session between processes"
		return writeStatus(cmd.OutOrStdout(), status, statusOutput)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	storage, closeStorage, err := openTokenStorage(cmd.Context(), cfg.Storage, logger)
	if err != nil {
		return err
	}
	defer closeStorage()

	if err := inspectStorage(storage, time.Now(), &status); err != nil {
		return err
	}
	return writeStatus(cmd.OutOrStdout(), status, statusOutput)
}

// inspectStorage fills status from storage. It only reads, so an expired
// token is reported rather than purged.
func inspectStorage(storage token.Storage, now time.Time, status *sessionStatus) error {
	access, ok, err := storage.Get(token.KeyAccessToken)
	if err != nil {
		return fmt.Errorf("read access token: %w", err)
	}
	refresh, _, err := storage.Get(token.KeyRefreshToken)
	if err != nil {
		return fmt.Errorf("read refresh token: %w", err)
	}
	status.HasRefreshToken = refresh != ""

	if !ok || access == "" {
		status.Note = "no stored session"
		return nil
	}
	status.AccessToken = token.Fingerprint(access)

	exp, valid := token.ExpiryOf(access)
	if !valid {
		status.Note = "stored access token is undecodable and will be purged on start"
		return nil
	}
	status.ExpiresAt = &exp
	if !exp.After(now) {
		if status.HasRefreshToken {
			status.Note = "access token expired; one refresh will be attempted on start"
		} else {
			status.Note = "access token expired and will be purged on start"
		}
		return nil
	}
	status.Authenticated = true
	status.ExpiresIn = exp.Sub(now).Truncate(time.Second).String()
	return nil
}

func writeStatus(w io.Writer, status sessionStatus, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(status)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(status); err != nil {
			return err
		}
		return enc.Close()
	}

	fmt.Fprintf(w, "Storage:        %s", status.Driver)
	if status.Path != "" {
		fmt.Fprintf(w, " (%s)", status.Path)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Authenticated:  %t\n", status.Authenticated)
	if status.AccessToken != "" {
		fmt.Fprintf(w, "Access token:   %s\n", status.AccessToken)
	}
	fmt.Fprintf(w, "Refresh token:  %s\n", presence(status.HasRefreshToken))
	if status.ExpiresAt != nil {
		fmt.Fprintf(w, "Expires at:     %s\n", status.ExpiresAt.Local().Format(time.RFC1123))
	}
	if status.ExpiresIn != "" {
		fmt.Fprintf(w, "Expires in:     %s\n", status.ExpiresIn)
	}
	if status.Note != "" {
		fmt.Fprintf(w, "Note:           %s\n", status.Note)
	}
	return nil
}

func presence(ok bool) string {
	if ok {
		return "present"
	}
	return "absent"
}
