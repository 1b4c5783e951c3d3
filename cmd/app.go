package cmd

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/viper"

	"anonsend/auth"
	"anonsend/codes"
	"anonsend/config"
	"anonsend/crypto"
	"anonsend/gormstore"
	"anonsend/logging"
	"anonsend/memstore"
	"anonsend/models"
	"anonsend/moderation"
	"anonsend/queue"
	"anonsend/storage"
	"anonsend/transport"
)

// backend is what every persistence implementation offers the commands.
type backend interface {
	auth.CodeStore
	queue.Backend
	codes.StepRedeemer
	RecordEvent(ctx context.Context, event models.Event) error
	GetEvents(ctx context.Context, filter models.EventFilter) ([]models.Event, error)
	InsertCodes(ctx context.Context, codes []string, source string) (int, error)
	CodeStats(ctx context.Context) (models.CodeStats, error)
	QueueDepth(ctx context.Context) (int, error)
	PruneTOTPSteps(ctx context.Context, beforeStep int64) (int64, error)
	Close() error
}

// app holds the components built once per command invocation.
type app struct {
	cfg      *config.Config
	logger   *logging.Logger
	store    backend
	location string
}

func openApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if err := config.EnsureDataDirectories(cfg.DataDir); err != nil {
		return nil, err
	}

	logger, err := logging.NewLogger(cfg.Log.Dir, cfg.Log.Level)
	if err != nil {
		return nil, err
	}

	store, location, err := openBackend(cfg)
	if err != nil {
		_ = logger.Close()
		return nil, err
	}

	return &app{cfg: cfg, logger: logger, store: store, location: location}, nil
}

func openBackend(cfg *config.Config) (backend, string, error) {
	switch cfg.Database.Backend {
	case config.BackendSQLite:
		opts := storage.Options{
			Driver:                cfg.Database.Driver,
			WALCheckpointInterval: cfg.Database.WALCheckpointInterval,
			EventRetention:        cfg.Events.Retention,
		}
		if cfg.Database.Path != "" {
			store, err := storage.OpenPath(cfg.Database.Path, opts)
			if err != nil {
				return nil, "", err
			}
			return store, cfg.Database.Path, nil
		}
		store, dbPath, err := storage.Open(cfg.DataDir, opts)
		if err != nil {
			return nil, "", err
		}
		return store, dbPath, nil
	case config.BackendGORM:
		store, err := gormstore.Open(cfg.Database.Dialect, cfg.Database.DSN)
		if err != nil {
			return nil, "", err
		}
		store.SetEventRetention(cfg.Events.Retention)
		return store, cfg.Database.Dialect + " (gorm)", nil
	case config.BackendMemory:
		return memstore.New(), "memory (not persisted)", nil
	default:
		return nil, "", fmt.Errorf("unsupported database backend %q", cfg.Database.Backend)
	}
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.logger.Error("database close failed", "error", err)
	}
	_ = a.logger.Close()
}

func (a *app) secretProvider() crypto.SecretProvider {
	if a.cfg.Secret.Source == config.SecretSourceEnv {
		return crypto.EnvSecret{Var: a.cfg.Secret.EnvVar}
	}
	return crypto.FileSecret{Path: a.cfg.Secret.KeyPath}
}

// codec loads the master key once and builds the process-wide codec.
func (a *app) codec() (*crypto.Codec, string, error) {
	key, err := a.secretProvider().MasterKey()
	if err != nil {
		return nil, "", fmt.Errorf("load master key: %w", err)
	}
	codec, err := crypto.NewCodec(key)
	if err != nil {
		return nil, "", err
	}
	return codec, crypto.KeyFingerprint(key), nil
}

func (a *app) queue(codec *crypto.Codec) *queue.Queue {
	return queue.New(a.store, codec, a.cfg.Database.StoreTimeout, a.logger)
}

func (a *app) codeStore() (auth.CodeStore, error) {
	if a.cfg.Auth.Mode != config.AuthModeTOTP {
		return a.store, nil
	}
	key, err := codes.LoadTOTPKey(a.cfg.Auth.TOTPSecretPath)
	if err != nil {
		return nil, fmt.Errorf("auth mode totp: %w (run `anonsend totp setup`)", err)
	}
	return codes.NewTOTPStore(key, a.cfg.Auth.TOTPSkew, a.store), nil
}

func (a *app) gate() (*auth.Gate, error) {
	store, err := a.codeStore()
	if err != nil {
		return nil, err
	}
	return auth.NewGate(store,
		auth.WithTimeout(a.cfg.Auth.Timeout),
		auth.WithLogger(a.logger),
		auth.WithEventRecorder(a.store),
	), nil
}

func (a *app) moderator() moderation.Checker {
	chain := moderation.Chain{moderation.NewKeywords(a.cfg.Moderation.Keywords)}
	if a.cfg.Moderation.ClassifierURL != "" {
		chain = append(chain, moderation.NewHTTPClassifier(a.cfg.Moderation.ClassifierURL, a.cfg.Moderation.ClassifierTimeout))
	}
	return chain
}

func (a *app) sender() (transport.Sender, error) {
	if a.cfg.Delivery.Transport == config.TransportSMTP {
		return transport.NewSMTPSender(transport.SMTPConfig{
			Host:     a.cfg.SMTP.Host,
			Port:     a.cfg.SMTP.Port,
			Username: a.cfg.SMTP.Username,
			Password: a.cfg.SMTP.Password,
			From:     a.cfg.SMTP.From,
		})
	}
	return transport.NewLogSender(a.logger), nil
}

// printBanner prints the startup summary shared by the long-running commands.
func (a *app) printBanner(w io.Writer, fingerprint string) {
	printField(w, "Data Directory", a.cfg.DataDir)
	printField(w, "Config File", configFileUsed(a.cfg))
	printField(w, "Database", a.location)
	printField(w, "Auth Mode", a.cfg.Auth.Mode)
	if fingerprint != "" {
		printField(w, "Key Fingerprint", crypto.FormatFingerprint(fingerprint))
	}
}

func configFileUsed(cfg *config.Config) string {
	if used := viper.ConfigFileUsed(); used != "" {
		return used
	}
	return filepath.Join(cfg.DataDir, "config.yaml") + " (not present, using defaults)"
}
