package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/viper"
)

// InitViper initializes Viper with the configuration file and environment variables.
// If configFile is empty, it searches for dashgate.yaml/.yml in standard locations.
// The search requires an explicit YAML extension so the binary itself is never
// matched.
func InitViper(configFile string) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else if found := findConfigFile(); found != "" {
		viper.SetConfigFile(found)
	} else {
		// ReadInConfig then returns ConfigFileNotFoundError, which callers tolerate.
		viper.SetConfigName("dashgate")
		viper.SetConfigType("yaml")
	}

	// Environment variable support: DASHGATE_SSO_BASE_URL
	viper.SetEnvPrefix("DASHGATE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	bindNestedEnvKeys()
}

// findConfigFile searches standard locations for a dashgate config file.
func findConfigFile() string {
	home, _ := os.UserHomeDir()
	paths := []string{
		".",
		filepath.Join(home, ".dashgate"),
	}
	if runtime.GOOS == "windows" {
		if pd := os.Getenv("ProgramData"); pd != "" {
			paths = append(paths, filepath.Join(pd, "dashgate"))
		}
	} else {
		paths = append(paths, "/etc/dashgate")
	}
	return findConfigFileInPaths(paths)
}

// findConfigFileInPaths searches the given directories for dashgate.yaml or .yml.
// Returns the full path of the first match, or empty string if none found.
func findConfigFileInPaths(paths []string) string {
	for _, dir := range paths {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, "dashgate"+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// bindNestedEnvKeys binds nested keys so that, for example,
// DASHGATE_IDENTITY_BASE_URL overrides identity.base_url.
func bindNestedEnvKeys() {
	_ = viper.BindEnv("server.http_addr")
	_ = viper.BindEnv("server.log_level")
	_ = viper.BindEnv("server.resolve_timeout")
	_ = viper.BindEnv("server.refresh_lead_time")

	_ = viper.BindEnv("sso.base_url")
	_ = viper.BindEnv("sso.reuse_access_as_refresh")

	_ = viper.BindEnv("identity.base_url")
	_ = viper.BindEnv("identity.timeout")

	_ = viper.BindEnv("storage.driver")
	_ = viper.BindEnv("storage.path")

	// routes is an array; configure it in the file.

	_ = viper.BindEnv("api.prefix")
	_ = viper.BindEnv("api.upstream")
	_ = viper.BindEnv("api.strip_prefix")
	_ = viper.BindEnv("api.timeout")

	_ = viper.BindEnv("app.default_path")

	_ = viper.BindEnv("audit.enabled")
	_ = viper.BindEnv("audit.dir")
	_ = viper.BindEnv("audit.retention_days")
	_ = viper.BindEnv("audit.max_file_size_mb")

	_ = viper.BindEnv("telemetry.stdout")
	_ = viper.BindEnv("dev_mode")
}

// LoadConfig reads the configuration file, applies environment overrides,
// sets defaults, and validates the result.
func LoadConfig() (*Config, error) {
	cfg, err := LoadConfigRaw()
	if err != nil {
		return nil, err
	}
	cfg.SetDevDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// LoadConfigRaw reads the configuration file and applies defaults,
// but does NOT apply dev defaults or validate.
// Use this when CLI flags may override DevMode before validation.
func LoadConfigRaw() (*Config, error) {
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.SetDefaults()
	return &cfg, nil
}

// ConfigFileUsed returns the path to the configuration file that was loaded.
// Returns an empty string if no config file was found (env vars only mode).
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}
