package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// reservedPrefixes are served by dashgate itself and cannot be guarded routes.
var reservedPrefixes = []string{"/auth/", "/health", "/metrics"}

// RegisterCustomValidators registers dashgate validation rules.
// Must be called before validating Config.
func RegisterCustomValidators(v *validator.Validate) error {
	if err := v.RegisterValidation("route_prefix", validateRoutePrefix); err != nil {
		return fmt.Errorf("failed to register route_prefix validator: %w", err)
	}
	if err := v.RegisterValidation("duration", validateDuration); err != nil {
		return fmt.Errorf("failed to register duration validator: %w", err)
	}
	return nil
}

// validateRoutePrefix accepts absolute URL paths without query or fragment.
func validateRoutePrefix(fl validator.FieldLevel) bool {
	p := fl.Field().String()
	return strings.HasPrefix(p, "/") && !strings.ContainsAny(p, "?# ")
}

// validateDuration accepts positive Go duration strings.
func validateDuration(fl validator.FieldLevel) bool {
	d, err := time.ParseDuration(fl.Field().String())
	return err == nil && d > 0
}

// Validate validates the Config using struct tags and custom cross-field rules.
// Returns an error if validation fails, with actionable error messages.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := RegisterCustomValidators(v); err != nil {
		return err
	}

	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}

	if err := c.validateStoragePath(); err != nil {
		return err
	}
	if err := c.validateRoutes(); err != nil {
		return err
	}
	if c.Audit.Enabled && c.Audit.Dir == "" {
		return fmt.Errorf("audit.dir is required when audit is enabled")
	}
	return nil
}

// validateStoragePath ensures persistent drivers have somewhere to write.
func (c *Config) validateStoragePath() error {
	if c.Storage.Driver != StorageMemory && c.Storage.Path == "" {
		return fmt.Errorf("storage.path is required for driver %q", c.Storage.Driver)
	}
	return nil
}

// validateRoutes rejects duplicate prefixes and prefixes that shadow
// dashgate's own endpoints or the API proxy.
func (c *Config) validateRoutes() error {
	seen := make(map[string]struct{}, len(c.Routes))
	for i, r := range c.Routes {
		// "/mpm" and "/mpm/" mount the same paths.
		key := strings.TrimSuffix(r.Prefix, "/")
		if _, dup := seen[key]; dup {
			return fmt.Errorf("routes[%d]: duplicate prefix %s", i, r.Prefix)
		}
		seen[key] = struct{}{}

		for _, reserved := range reservedPrefixes {
			if strings.HasPrefix(r.Prefix, reserved) {
				return fmt.Errorf("routes[%d]: prefix %s is reserved", i, r.Prefix)
			}
		}
		if c.API.Upstream != "" && (strings.HasPrefix(r.Prefix, c.API.Prefix) || key == strings.TrimSuffix(c.API.Prefix, "/")) {
			return fmt.Errorf("routes[%d]: prefix %s overlaps api.prefix %s", i, r.Prefix, c.API.Prefix)
		}
	}
	return nil
}

// formatValidationErrors converts validator.ValidationErrors to user-friendly messages.
func formatValidationErrors(err error) error {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		var messages []string
		for _, e := range validationErrors {
			messages = append(messages, formatSingleValidationError(e))
		}
		return errors.New(strings.Join(messages, "; "))
	}
	return err
}

// formatSingleValidationError creates a user-friendly message for a single validation error.
func formatSingleValidationError(e validator.FieldError) string {
	field := e.Namespace()

	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "url":
		return fmt.Sprintf("%s must be a valid URL", field)
	case "hostname_port":
		return fmt.Sprintf("%s must be a valid host:port", field)
	case "route_prefix":
		return fmt.Sprintf("%s must be an absolute path starting with '/'", field)
	case "duration":
		return fmt.Sprintf("%s must be a positive duration (e.g. \"30s\")", field)
	default:
		return fmt.Sprintf("%s failed validation: %s", field, e.Tag())
	}
}
