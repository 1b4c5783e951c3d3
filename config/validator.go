package config

import (
	"fmt"
	"net/url"
	"slices"
	"strings"

	"anonsend/logging"
)

// ValidationError is a single invalid config field.
type ValidationError struct {
	Field   string
	Value   any
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors collects every invalid field found by Validate.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d config errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Validate returns every problem it finds rather than stopping at the first.
// Fields that only matter for an unselected mode are not checked.
func (c *Config) Validate() []ValidationError {
	var errs []ValidationError
	add := func(field string, value any, msg string) {
		errs = append(errs, ValidationError{Field: field, Value: value, Message: msg})
	}

	switch c.Database.Backend {
	case BackendSQLite:
		if !slices.Contains([]string{"sqlite3", "sqlite"}, c.Database.Driver) {
			add("database.driver", c.Database.Driver, "must be sqlite3 or sqlite")
		}
	case BackendGORM:
		if !slices.Contains([]string{"postgres", "mysql", "sqlite"}, c.Database.Dialect) {
			add("database.dialect", c.Database.Dialect, "must be postgres, mysql or sqlite")
		}
		if c.Database.DSN == "" {
			add("database.dsn", c.Database.DSN, "is required for the gorm backend")
		}
	case BackendMemory:
	default:
		add("database.backend", c.Database.Backend, "must be sqlite, gorm or memory")
	}
	if c.Database.StoreTimeout <= 0 {
		add("database.store_timeout", c.Database.StoreTimeout, "must be positive")
	}

	switch c.Secret.Source {
	case SecretSourceFile:
		if c.Secret.KeyPath == "" {
			add("secret.key_path", c.Secret.KeyPath, "is required for the file source")
		}
	case SecretSourceEnv:
		if c.Secret.EnvVar == "" {
			add("secret.env_var", c.Secret.EnvVar, "is required for the env source")
		}
	default:
		add("secret.source", c.Secret.Source, "must be file or env")
	}

	switch c.Auth.Mode {
	case AuthModeCodes:
	case AuthModeTOTP:
		if c.Auth.TOTPSecretPath == "" {
			add("auth.totp_secret_path", c.Auth.TOTPSecretPath, "is required in totp mode")
		}
	default:
		add("auth.mode", c.Auth.Mode, "must be codes or totp")
	}

	if c.Delivery.Interval <= 0 {
		add("delivery.interval", c.Delivery.Interval, "must be positive")
	}
	if c.Delivery.BatchSize <= 0 {
		add("delivery.batch_size", c.Delivery.BatchSize, "must be positive")
	}
	switch c.Delivery.Transport {
	case TransportLog:
	case TransportSMTP:
		if c.SMTP.Host == "" {
			add("smtp.host", c.SMTP.Host, "is required for the smtp transport")
		}
		if c.SMTP.Port <= 0 || c.SMTP.Port > 65535 {
			add("smtp.port", c.SMTP.Port, "must be between 1 and 65535")
		}
		if c.SMTP.From == "" {
			add("smtp.from", c.SMTP.From, "is required for the smtp transport")
		}
	default:
		add("delivery.transport", c.Delivery.Transport, "must be smtp or log")
	}

	if c.Moderation.ClassifierURL != "" {
		u, err := url.Parse(c.Moderation.ClassifierURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			add("moderation.classifier_url", c.Moderation.ClassifierURL, "must be an http(s) URL")
		}
	}

	if !logging.ValidLevel(c.Log.Level) {
		add("log.level", c.Log.Level, "must be debug, info, warn or error")
	}

	return errs
}
