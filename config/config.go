package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	// AppDirectoryName is the per-user application data directory name.
	AppDirectoryName = "anonsend"
	// DataDirEnv overrides the data directory.
	DataDirEnv = "ANONSEND_DATA_DIR"
	// EnvPrefix is prepended to every environment override, e.g. ANONSEND_DELIVERY_BATCH_SIZE.
	EnvPrefix = "ANONSEND"
	// configFileName is the config file looked up in the data directory.
	configFileName = "config.yaml"
)

const (
	BackendSQLite = "sqlite"
	BackendGORM   = "gorm"
	BackendMemory = "memory"

	SecretSourceFile = "file"
	SecretSourceEnv  = "env"

	AuthModeCodes = "codes"
	AuthModeTOTP  = "totp"

	TransportSMTP = "smtp"
	TransportLog  = "log"
)

// Config is the full runtime configuration, decoded by viper from
// config.yaml, ANONSEND_* environment variables and flags.
type Config struct {
	DataDir    string           `mapstructure:"data_dir"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Secret     SecretConfig     `mapstructure:"secret"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Delivery   DeliveryConfig   `mapstructure:"delivery"`
	SMTP       SMTPConfig       `mapstructure:"smtp"`
	Moderation ModerationConfig `mapstructure:"moderation"`
	Log        LogConfig        `mapstructure:"log"`
	Events     EventsConfig     `mapstructure:"events"`
}

// DatabaseConfig selects the persistence backend.
type DatabaseConfig struct {
	// Backend is sqlite (default), gorm or memory.
	Backend string `mapstructure:"backend"`
	// Driver picks the SQLite driver for the sqlite backend: sqlite3 (cgo) or sqlite (pure Go).
	Driver string `mapstructure:"driver"`
	// Dialect is postgres, mysql or sqlite for the gorm backend.
	Dialect string `mapstructure:"dialect"`
	DSN     string `mapstructure:"dsn"`
	// Path overrides {data_dir}/anonsend.db.
	Path string `mapstructure:"path"`
	// StoreTimeout bounds every persistence call.
	StoreTimeout          time.Duration `mapstructure:"store_timeout"`
	WALCheckpointInterval time.Duration `mapstructure:"wal_checkpoint_interval"`
}

// SecretConfig locates the master key.
type SecretConfig struct {
	Source  string `mapstructure:"source"`
	KeyPath string `mapstructure:"key_path"`
	EnvVar  string `mapstructure:"env_var"`
}

// AuthConfig selects where one-time codes come from.
type AuthConfig struct {
	Mode           string        `mapstructure:"mode"`
	TOTPSecretPath string        `mapstructure:"totp_secret_path"`
	TOTPSkew       uint          `mapstructure:"totp_skew"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

// DeliveryConfig drives the worker loop.
type DeliveryConfig struct {
	Interval  time.Duration `mapstructure:"interval"`
	BatchSize int           `mapstructure:"batch_size"`
	Transport string        `mapstructure:"transport"`
}

// SMTPConfig is used when delivery.transport is smtp.
type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

// ModerationConfig configures content screening.
type ModerationConfig struct {
	Keywords          []string      `mapstructure:"keywords"`
	ClassifierURL     string        `mapstructure:"classifier_url"`
	ClassifierTimeout time.Duration `mapstructure:"classifier_timeout"`
}

// LogConfig controls the structured logger. An empty Dir logs to stderr.
type LogConfig struct {
	Level string `mapstructure:"level"`
	Dir   string `mapstructure:"dir"`
}

// EventsConfig controls the event journal.
type EventsConfig struct {
	Retention time.Duration `mapstructure:"retention"`
}

// DefaultKeywords is the keyword list used when moderation.keywords is unset.
func DefaultKeywords() []string {
	return []string{"hate", "violence", "threat", "kill", "abuse", "harm", "hurt"}
}

// Default returns the configuration used when nothing is overridden.
// Paths stay empty until ResolvePaths fills them from the data dir.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			Backend:               BackendSQLite,
			Driver:                "sqlite3",
			Dialect:               "postgres",
			StoreTimeout:          5 * time.Second,
			WALCheckpointInterval: 24 * time.Hour,
		},
		Secret: SecretConfig{
			Source: SecretSourceFile,
			EnvVar: "ANONSEND_SECRET_KEY",
		},
		Auth: AuthConfig{
			Mode:     AuthModeCodes,
			TOTPSkew: 2,
			Timeout:  5 * time.Second,
		},
		Delivery: DeliveryConfig{
			Interval:  time.Minute,
			BatchSize: 10,
			Transport: TransportLog,
		},
		SMTP: SMTPConfig{
			Port: 587,
		},
		Moderation: ModerationConfig{
			Keywords:          DefaultKeywords(),
			ClassifierTimeout: 10 * time.Second,
		},
		Log: LogConfig{
			Level: "info",
		},
		Events: EventsConfig{
			Retention: 90 * 24 * time.Hour,
		},
	}
}

// SetDefaults registers every default with v so unset keys decode sensibly
// and each key is reachable through its ANONSEND_* variable.
func SetDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("data_dir", "")

	v.SetDefault("database.backend", d.Database.Backend)
	v.SetDefault("database.driver", d.Database.Driver)
	v.SetDefault("database.dialect", d.Database.Dialect)
	v.SetDefault("database.dsn", d.Database.DSN)
	v.SetDefault("database.path", d.Database.Path)
	v.SetDefault("database.store_timeout", d.Database.StoreTimeout)
	v.SetDefault("database.wal_checkpoint_interval", d.Database.WALCheckpointInterval)

	v.SetDefault("secret.source", d.Secret.Source)
	v.SetDefault("secret.key_path", d.Secret.KeyPath)
	v.SetDefault("secret.env_var", d.Secret.EnvVar)

	v.SetDefault("auth.mode", d.Auth.Mode)
	v.SetDefault("auth.totp_secret_path", d.Auth.TOTPSecretPath)
	v.SetDefault("auth.totp_skew", d.Auth.TOTPSkew)
	v.SetDefault("auth.timeout", d.Auth.Timeout)

	v.SetDefault("delivery.interval", d.Delivery.Interval)
	v.SetDefault("delivery.batch_size", d.Delivery.BatchSize)
	v.SetDefault("delivery.transport", d.Delivery.Transport)

	v.SetDefault("smtp.host", d.SMTP.Host)
	v.SetDefault("smtp.port", d.SMTP.Port)
	v.SetDefault("smtp.username", d.SMTP.Username)
	v.SetDefault("smtp.password", d.SMTP.Password)
	v.SetDefault("smtp.from", d.SMTP.From)

	v.SetDefault("moderation.keywords", d.Moderation.Keywords)
	v.SetDefault("moderation.classifier_url", d.Moderation.ClassifierURL)
	v.SetDefault("moderation.classifier_timeout", d.Moderation.ClassifierTimeout)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.dir", d.Log.Dir)

	v.SetDefault("events.retention", d.Events.Retention)
}

// Configure wires defaults, the config file and environment overrides into v.
// cfgFile may be empty, in which case config.yaml is looked up in the data
// dir and the working directory. A missing file is not an error.
func Configure(v *viper.Viper, cfgFile string) error {
	SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName(strings.TrimSuffix(configFileName, filepath.Ext(configFileName)))
		v.SetConfigType("yaml")
		if dataDir, err := ResolveDataDir(); err == nil {
			v.AddConfigPath(dataDir)
		}
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("read config: %w", err)
		}
	}
	return nil
}

// Load decodes v into a Config, fills derived paths and validates the result.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if cfg.DataDir == "" {
		dataDir, err := ResolveDataDir()
		if err != nil {
			return nil, err
		}
		cfg.DataDir = dataDir
	}
	cfg.ResolvePaths()

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}
	return &cfg, nil
}

// ResolvePaths fills file locations left empty with their place under DataDir.
func (c *Config) ResolvePaths() {
	keysDir := filepath.Join(c.DataDir, "keys")
	if c.Secret.KeyPath == "" {
		c.Secret.KeyPath = filepath.Join(keysDir, "master_key.pem")
	}
	if c.Auth.TOTPSecretPath == "" {
		c.Auth.TOTPSecretPath = filepath.Join(keysDir, "totp_secret.pem")
	}
}

// ResolveDataDir returns the OS-aware app data directory.
//
// If ANONSEND_DATA_DIR is set, its value is used as an explicit override.
func ResolveDataDir() (string, error) {
	if override := os.Getenv(DataDirEnv); override != "" {
		return override, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve user home: %w", err)
	}

	switch runtime.GOOS {
	case "windows":
		base := os.Getenv("APPDATA")
		if base == "" {
			base = filepath.Join(home, "AppData", "Roaming")
		}
		return filepath.Join(base, AppDirectoryName), nil
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", AppDirectoryName), nil
	default:
		base := os.Getenv("XDG_CONFIG_HOME")
		if base == "" {
			base = filepath.Join(home, ".config")
		}
		return filepath.Join(base, AppDirectoryName), nil
	}
}

// ConfigPath returns the full path to config.yaml for a data directory.
func ConfigPath(dataDir string) string {
	return filepath.Join(dataDir, configFileName)
}

// EnsureDataDirectories creates the app data directory layout if needed.
func EnsureDataDirectories(dataDir string) error {
	dirs := []string{
		dataDir,
		filepath.Join(dataDir, "keys"),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}

	return nil
}
