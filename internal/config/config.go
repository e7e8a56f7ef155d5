// Package config provides configuration types for dashgate.
//
// dashgate is configured from a single YAML file plus environment
// overrides. The file describes where the SSO portal and identity API
// live, where tokens are persisted, and which path prefixes are
// protected by the route guard.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration for dashgate.
type Config struct {
	// Server configures the HTTP listener and guard behaviour.
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	// SSO configures the single sign-on portal users are sent to.
	SSO SSOConfig `yaml:"sso" mapstructure:"sso"`

	// Identity configures the identity REST API (profile, refresh, logout).
	Identity IdentityConfig `yaml:"identity" mapstructure:"identity"`

	// Storage configures where tokens are persisted between restarts.
	Storage StorageConfig `yaml:"storage" mapstructure:"storage"`

	// Routes lists the protected path prefixes. Defaults to a single
	// catch-all route when empty.
	Routes []RouteConfig `yaml:"routes" mapstructure:"routes" validate:"omitempty,dive"`

	// API configures the authenticated reverse proxy to the backend.
	API APIConfig `yaml:"api" mapstructure:"api"`

	// App configures dashboard-level behaviour.
	App AppConfig `yaml:"app" mapstructure:"app"`

	// Audit configures the session audit log.
	Audit AuditConfig `yaml:"audit" mapstructure:"audit"`

	// Telemetry configures OpenTelemetry export.
	Telemetry TelemetryConfig `yaml:"telemetry" mapstructure:"telemetry"`

	// DevMode enables development features (debug logging, stdout telemetry).
	DevMode bool `yaml:"dev_mode" mapstructure:"dev_mode"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	// HTTPAddr is the address to listen on (e.g., "127.0.0.1:8080").
	// Defaults to "127.0.0.1:8080" (localhost only) if empty.
	HTTPAddr string `yaml:"http_addr" mapstructure:"http_addr" validate:"omitempty,hostname_port"`

	// LogLevel sets the minimum log level.
	// Valid values: "debug", "info", "warn", "error".
	// Defaults to "info" if empty. DevMode=true overrides to "debug".
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn warning error"`

	// ResolveTimeout is how long a protected request waits for the session
	// to settle before a wait page is served (e.g., "5s").
	// Defaults to "5s".
	ResolveTimeout string `yaml:"resolve_timeout" mapstructure:"resolve_timeout" validate:"omitempty,duration"`

	// RefreshLeadTime is how long before expiry the access token is
	// refreshed. Defaults to "5m".
	RefreshLeadTime string `yaml:"refresh_lead_time" mapstructure:"refresh_lead_time" validate:"omitempty,duration"`

	// AllowedOrigins lists extra Origin values accepted on state-changing
	// requests. Localhost origins are always accepted.
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// SSOConfig configures the SSO portal.
type SSOConfig struct {
	// BaseURL is the portal root; users are sent to <BaseURL>/login.
	BaseURL string `yaml:"base_url" mapstructure:"base_url" validate:"required,url"`

	// ReuseAccessAsRefresh stores the hand-off access token as the refresh
	// credential when the portal sends no separate refresh token.
	// Defaults to true.
	ReuseAccessAsRefresh bool `yaml:"reuse_access_as_refresh" mapstructure:"reuse_access_as_refresh"`
}

// IdentityConfig configures the identity API client.
type IdentityConfig struct {
	// BaseURL is the API root (e.g., "https://api.example.com/api/v1").
	BaseURL string `yaml:"base_url" mapstructure:"base_url" validate:"required,url"`

	// Timeout bounds each identity call (e.g., "30s"). Defaults to "30s".
	Timeout string `yaml:"timeout" mapstructure:"timeout" validate:"omitempty,duration"`
}

// StorageConfig configures token persistence.
type StorageConfig struct {
	// Driver is one of "file", "sqlite" or "memory". Defaults to "file".
	Driver string `yaml:"driver" mapstructure:"driver" validate:"omitempty,oneof=file sqlite memory"`

	// Path is the credentials file or database location.
	// Defaults to ~/.dashgate/credentials.json or ~/.dashgate/dashgate.db.
	Path string `yaml:"path" mapstructure:"path"`
}

// RouteConfig configures one protected path prefix.
type RouteConfig struct {
	// Prefix is the URL path prefix (e.g., "/mpm/").
	Prefix string `yaml:"prefix" mapstructure:"prefix" validate:"required,route_prefix"`

	// Dir is a directory of static dashboard assets served once the guard
	// grants access. Empty serves the built-in landing page.
	Dir string `yaml:"dir" mapstructure:"dir"`

	// RequireRole is a role type the user must hold (e.g., "admin").
	RequireRole string `yaml:"require_role" mapstructure:"require_role"`

	// Expression is a CEL expression that must evaluate to true
	// (e.g., `"admin" in roles || org_unit_code == "FIN"`).
	Expression string `yaml:"expression" mapstructure:"expression"`
}

// APIConfig configures the backend reverse proxy.
type APIConfig struct {
	// Prefix is the path prefix forwarded to the backend. Defaults to "/api/".
	Prefix string `yaml:"prefix" mapstructure:"prefix" validate:"omitempty,route_prefix"`

	// Upstream is the backend root. The proxy is disabled when empty.
	Upstream string `yaml:"upstream" mapstructure:"upstream" validate:"omitempty,url"`

	// StripPrefix removes Prefix before forwarding.
	StripPrefix bool `yaml:"strip_prefix" mapstructure:"strip_prefix"`

	// Timeout bounds backend responses (e.g., "30s"). Defaults to "30s".
	Timeout string `yaml:"timeout" mapstructure:"timeout" validate:"omitempty,duration"`
}

// AppConfig configures dashboard-level behaviour.
type AppConfig struct {
	// DefaultPath is where the unauthorized page links back to.
	// Defaults to "/".
	DefaultPath string `yaml:"default_path" mapstructure:"default_path" validate:"omitempty,route_prefix"`
}

// AuditConfig configures the session audit log.
type AuditConfig struct {
	// Enabled turns on recording of session transitions.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`

	// Dir holds the daily JSON Lines files.
	// Defaults to ~/.dashgate/audit.
	Dir string `yaml:"dir" mapstructure:"dir"`

	// RetentionDays is how long files are kept. Defaults to 30.
	RetentionDays int `yaml:"retention_days" mapstructure:"retention_days" validate:"gte=0"`

	// MaxFileSizeMB caps one file before it rolls over. Defaults to 10.
	MaxFileSizeMB int `yaml:"max_file_size_mb" mapstructure:"max_file_size_mb" validate:"gte=0"`
}

// TelemetryConfig configures OpenTelemetry.
type TelemetryConfig struct {
	// Stdout exports traces and metrics to stdout.
	Stdout bool `yaml:"stdout" mapstructure:"stdout"`
}

// Storage drivers.
const (
	StorageFile   = "file"
	StorageSQLite = "sqlite"
	StorageMemory = "memory"
)

// SetDefaults applies sensible default values to the configuration.
func (c *Config) SetDefaults() {
	// Bind to localhost only unless configured otherwise.
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = "127.0.0.1:8080"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.Server.ResolveTimeout == "" {
		c.Server.ResolveTimeout = "5s"
	}
	if c.Server.RefreshLeadTime == "" {
		c.Server.RefreshLeadTime = "5m"
	}

	// viper.IsSet distinguishes "not set" from "explicitly false".
	if !viper.IsSet("sso.reuse_access_as_refresh") {
		c.SSO.ReuseAccessAsRefresh = true
	}

	if c.Identity.Timeout == "" {
		c.Identity.Timeout = "30s"
	}

	if c.Storage.Driver == "" {
		c.Storage.Driver = StorageFile
	}
	if c.Storage.Path == "" {
		if home, err := os.UserHomeDir(); err == nil {
			switch c.Storage.Driver {
			case StorageFile:
				c.Storage.Path = filepath.Join(home, ".dashgate", "credentials.json")
			case StorageSQLite:
				c.Storage.Path = filepath.Join(home, ".dashgate", "dashgate.db")
			}
		}
	}

	if len(c.Routes) == 0 {
		c.Routes = []RouteConfig{{Prefix: "/"}}
	}

	if c.API.Prefix == "" {
		c.API.Prefix = "/api/"
	}
	if c.API.Timeout == "" {
		c.API.Timeout = "30s"
	}

	if c.App.DefaultPath == "" {
		c.App.DefaultPath = "/"
	}

	if c.Audit.Dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			c.Audit.Dir = filepath.Join(home, ".dashgate", "audit")
		}
	}
	if c.Audit.RetentionDays == 0 {
		c.Audit.RetentionDays = 30
	}
	if c.Audit.MaxFileSizeMB == 0 {
		c.Audit.MaxFileSizeMB = 10
	}
}

// SetDevDefaults applies development overrides. Call after SetDefaults.
func (c *Config) SetDevDefaults() {
	if !c.DevMode {
		return
	}
	c.Server.LogLevel = "debug"
	c.Telemetry.Stdout = true
}

// ResolveTimeout returns server.resolve_timeout as a duration.
func (c *Config) ResolveTimeout() time.Duration {
	return parseDuration(c.Server.ResolveTimeout, 5*time.Second)
}

// RefreshLeadTime returns server.refresh_lead_time as a duration.
func (c *Config) RefreshLeadTime() time.Duration {
	return parseDuration(c.Server.RefreshLeadTime, 5*time.Minute)
}

// IdentityTimeout returns identity.timeout as a duration.
func (c *Config) IdentityTimeout() time.Duration {
	return parseDuration(c.Identity.Timeout, 30*time.Second)
}

// APITimeout returns api.timeout as a duration.
func (c *Config) APITimeout() time.Duration {
	return parseDuration(c.API.Timeout, 30*time.Second)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
