package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/runtimegov/governor/internal/domain/wallet"
)

// Validate validates the GovernorConfig using struct tags and cross-field
// rules. Returns an error with actionable messages on failure.
func (c *GovernorConfig) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())

	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}

	if err := c.validateAuditBackend(); err != nil {
		return err
	}
	if err := c.validateDurations(); err != nil {
		return err
	}
	if err := c.validateWalletBalance(); err != nil {
		return err
	}

	return nil
}

// validateAuditBackend ensures a non-memory backend carries a Path.
func (c *GovernorConfig) validateAuditBackend() error {
	if c.Audit.Backend != AuditBackendMemory && c.Audit.Path == "" {
		return fmt.Errorf("audit.path is required when audit.backend is %q", c.Audit.Backend)
	}
	return nil
}

// validateDurations ensures every duration-string option parses.
func (c *GovernorConfig) validateDurations() error {
	for name, raw := range map[string]string{
		"engine.policy_cache_ttl":   c.Engine.PolicyCacheTTL,
		"engine.heartbeat_interval": c.Engine.HeartbeatInterval,
		"engine.escalation_timeout": c.Engine.EscalationTimeout,
	} {
		if raw == "" {
			continue
		}
		if _, err := time.ParseDuration(raw); err != nil {
			return fmt.Errorf("%s: invalid duration %q: %w", name, raw, err)
		}
	}
	return nil
}

// validateWalletBalance ensures the configured initial balance parses as a
// wallet.Amount.
func (c *GovernorConfig) validateWalletBalance() error {
	if c.Engine.WalletInitialBalance == "" {
		return nil
	}
	if _, err := wallet.Parse(c.Engine.WalletInitialBalance); err != nil {
		return fmt.Errorf("engine.wallet_initial_balance: %w", err)
	}
	return nil
}

// formatValidationErrors converts validator.ValidationErrors to
// user-friendly messages.
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

// formatSingleValidationError creates a user-friendly message for a single
// validation error.
func formatSingleValidationError(e validator.FieldError) string {
	field := e.Namespace()
	tag := e.Tag()

	switch tag {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, e.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	default:
		return fmt.Sprintf("%s failed validation: %s", field, tag)
	}
}
