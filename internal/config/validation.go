package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/fusekit/fusekit/internal/bridge"
	"github.com/fusekit/fusekit/pkg/logging"
)

var validate = validator.New()

// Validate checks the configuration using struct tags plus rules that
// tags cannot express. Run ApplyDefaults first; zero values for
// required fields fail here.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}
	return validateCustomRules(cfg)
}

func validateCustomRules(cfg *Config) error {
	if _, err := logging.ParseLevel(cfg.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	for name, level := range cfg.Logging.Components {
		if _, err := logging.ParseLevel(level); err != nil {
			return fmt.Errorf("logging.components[%s]: %w", name, err)
		}
	}

	// The mount option string must parse under the -o grammar.
	if cfg.Session.Options != "" {
		if err := bridge.NewMountOptions().Parse(cfg.Session.Options); err != nil {
			return fmt.Errorf("session.options: %w", err)
		}
	}

	// metrics.Config carries no validation tags of its own.
	if cfg.Metrics.Enabled {
		if cfg.Metrics.Port < 1 || cfg.Metrics.Port > 65535 {
			return fmt.Errorf("metrics.port: %d out of range", cfg.Metrics.Port)
		}
		if !strings.HasPrefix(cfg.Metrics.Path, "/") {
			return fmt.Errorf("metrics.path: %q must start with /", cfg.Metrics.Path)
		}
	}

	if cfg.StoreEnabled() {
		if cfg.Store.Anonymous && (cfg.Store.Profile != "" || cfg.Store.AccessKeyID != "") {
			return fmt.Errorf("store: anonymous excludes profile and static credentials")
		}
		if (cfg.Store.AccessKeyID == "") != (cfg.Store.SecretAccessKey == "") {
			return fmt.Errorf("store: access_key_id and secret_access_key must be set together")
		}
		if p := cfg.Store.Prefix; p != "" && !strings.HasSuffix(p, "/") {
			return fmt.Errorf("store.prefix: %q must end with /", p)
		}
		if cfg.Store.Retry.MaxDelay < cfg.Store.Retry.InitialDelay {
			return fmt.Errorf("store.retry: max_delay %v below initial_delay %v",
				cfg.Store.Retry.MaxDelay, cfg.Store.Retry.InitialDelay)
		}
	}

	return nil
}

// formatValidationError turns the first validator error into a message
// that names the failing field.
func formatValidationError(err error) error {
	if errs, ok := err.(validator.ValidationErrors); ok && len(errs) > 0 {
		e := errs[0]
		return fmt.Errorf("%s: failed %q validation (value: %v)",
			e.Namespace(), e.Tag(), e.Value())
	}
	return err
}
