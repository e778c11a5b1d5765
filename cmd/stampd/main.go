package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/stamp-kkookk/digital-stamp-service-sub000/internal/directory"
	"github.com/stamp-kkookk/digital-stamp-service-sub000/internal/httpserver"
	"github.com/stamp-kkookk/digital-stamp-service-sub000/internal/oplog"
	"github.com/stamp-kkookk/digital-stamp-service-sub000/internal/reconciler"
	"github.com/stamp-kkookk/digital-stamp-service-sub000/internal/store/gormstore"
	"github.com/stamp-kkookk/digital-stamp-service-sub000/pkg/approval"
)

const (
	flagDatabaseURL        = "database-url"
	flagListenAddr         = "listen-addr"
	flagAllowedOrigins     = "allowed-origins"
	flagSessionSigningKey  = "session-signing-key"
	flagSessionIssuer      = "session-issuer"
	flagSessionCookieName  = "session-cookie-name"
	flagTerminalSigningKey = "terminal-signing-key"
	flagTerminalIssuer     = "terminal-issuer"
	flagSweepSchedule      = "sweep-schedule"

	configKeyDatabaseURL        = "database_url"
	configKeyListenAddr         = "listen_addr"
	configKeyAllowedOrigins     = "allowed_origins"
	configKeySessionSigningKey  = "session_signing_key"
	configKeySessionIssuer      = "session_issuer"
	configKeySessionCookieName  = "session_cookie_name"
	configKeyTerminalSigningKey = "terminal_signing_key"
	configKeyTerminalIssuer     = "terminal_issuer"
	configKeySweepSchedule      = "sweep_schedule"

	defaultDatabaseURL = "sqlite:///tmp/stampd.db"
	defaultListenAddr  = ":8080"
)

type runtimeConfig struct {
	DatabaseURL   string
	SweepSchedule string
	HTTP          httpserver.Config
}

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "stampd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &runtimeConfig{}
	cmd := &cobra.Command{
		Use:           "stampd",
		Short:         "Digital stamp-card approval backend",
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg)
		},
	}

	cmd.Flags().String(flagDatabaseURL, defaultDatabaseURL, "PostgreSQL connection string or sqlite path")
	cmd.Flags().String(flagListenAddr, defaultListenAddr, "HTTP listen address")
	cmd.Flags().String(flagAllowedOrigins, "", "comma-separated list of allowed CORS origins")
	cmd.Flags().String(flagSessionSigningKey, "", "customer session JWT signing key (required)")
	cmd.Flags().String(flagSessionIssuer, "", "expected session JWT issuer")
	cmd.Flags().String(flagSessionCookieName, "", "session cookie name")
	cmd.Flags().String(flagTerminalSigningKey, "", "terminal JWT signing key (required)")
	cmd.Flags().String(flagTerminalIssuer, "", "expected terminal JWT issuer")
	cmd.Flags().String(flagSweepSchedule, "", "cron schedule for the expiry sweep (empty disables it)")

	return cmd
}

func loadConfig(cmd *cobra.Command, cfg *runtimeConfig) error {
	// Local development drops secrets in a .env file; absence is fine.
	_ = godotenv.Load()

	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	bindings := map[string]string{
		configKeyDatabaseURL:        "DATABASE_URL",
		configKeyListenAddr:         "LISTEN_ADDR",
		configKeyAllowedOrigins:     "ALLOWED_ORIGINS",
		configKeySessionSigningKey:  "SESSION_SIGNING_KEY",
		configKeySessionIssuer:      "SESSION_ISSUER",
		configKeySessionCookieName:  "SESSION_COOKIE_NAME",
		configKeyTerminalSigningKey: "TERMINAL_SIGNING_KEY",
		configKeyTerminalIssuer:     "TERMINAL_ISSUER",
		configKeySweepSchedule:      "SWEEP_SCHEDULE",
	}
	for configKey, envName := range bindings {
		if err := viper.BindEnv(configKey, envName); err != nil {
			return err
		}
	}

	flags := map[string]string{
		configKeyDatabaseURL:        flagDatabaseURL,
		configKeyListenAddr:         flagListenAddr,
		configKeyAllowedOrigins:     flagAllowedOrigins,
		configKeySessionSigningKey:  flagSessionSigningKey,
		configKeySessionIssuer:      flagSessionIssuer,
		configKeySessionCookieName:  flagSessionCookieName,
		configKeyTerminalSigningKey: flagTerminalSigningKey,
		configKeyTerminalIssuer:     flagTerminalIssuer,
		configKeySweepSchedule:      flagSweepSchedule,
	}
	for configKey, flagName := range flags {
		if err := viper.BindPFlag(configKey, cmd.Flags().Lookup(flagName)); err != nil {
			return err
		}
	}

	cfg.DatabaseURL = viper.GetString(configKeyDatabaseURL)
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = defaultDatabaseURL
	}
	cfg.SweepSchedule = viper.GetString(configKeySweepSchedule)
	cfg.HTTP = httpserver.Config{
		ListenAddr:         viper.GetString(configKeyListenAddr),
		AllowedOrigins:     httpserver.ParseAllowedOrigins(viper.GetString(configKeyAllowedOrigins)),
		SessionSigningKey:  viper.GetString(configKeySessionSigningKey),
		SessionIssuer:      viper.GetString(configKeySessionIssuer),
		SessionCookieName:  viper.GetString(configKeySessionCookieName),
		TerminalSigningKey: viper.GetString(configKeyTerminalSigningKey),
		TerminalIssuer:     viper.GetString(configKeyTerminalIssuer),
	}
	return cfg.HTTP.Validate()
}

func runServer(ctx context.Context, cfg *runtimeConfig) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	gormDB, cleanup, driver, err := openDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database open: %w", err)
	}
	defer cleanup()

	if err := prepareSchema(gormDB, driver); err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	metrics := oplog.NewMetrics(registry)
	operationLogger := oplog.New(logger, metrics)

	store := gormstore.New(gormDB)
	resourceDirectory := directory.New(gormDB)
	clock := func() int64 { return time.Now().UTC().Unix() }
	engine, err := approval.NewEngine(store, resourceDirectory, clock, approval.WithOperationLogger(operationLogger))
	if err != nil {
		return fmt.Errorf("approval engine init: %w", err)
	}

	if cfg.SweepSchedule != "" {
		expirySweeper, err := reconciler.New(engine, logger, cfg.SweepSchedule)
		if err != nil {
			return err
		}
		if err := expirySweeper.Start(ctx); err != nil {
			return err
		}
	}

	return httpserver.Run(ctx, cfg.HTTP, engine, logger, registry)
}

func openDatabase(ctx context.Context, dsn string) (*gorm.DB, func() error, string, error) {
	driver, sqlitePath, err := resolveDriver(dsn)
	if err != nil {
		return nil, nil, "", err
	}

	var db *gorm.DB
	cfg := &gorm.Config{TranslateError: true}
	switch driver {
	case "postgres":
		db, err = gorm.Open(postgres.Open(dsn), cfg)
	case "sqlite":
		db, err = gorm.Open(sqlite.Open(sqlitePath), cfg)
	default:
		return nil, nil, "", fmt.Errorf("unsupported database scheme %q", driver)
	}
	if err != nil {
		return nil, nil, "", err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, "", err
	}
	cleanup := func() error { return sqlDB.Close() }
	return db.WithContext(ctx), cleanup, driver, nil
}

func resolveDriver(dsn string) (string, string, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return "postgres", "", nil
	}
	if strings.HasPrefix(dsn, "sqlite://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", "", fmt.Errorf("parse sqlite url: %w", err)
		}
		path := u.Path
		if path == "" {
			path = u.Host
		}
		if path == "" || path == "/" {
			path = "stampd.db"
		}
		sqlitePath, err := normalizeSQLitePath(path)
		return "sqlite", sqlitePath, err
	}
	// Treat everything else as a direct sqlite path.
	sqlitePath, err := normalizeSQLitePath(dsn)
	return "sqlite", sqlitePath, err
}

func normalizeSQLitePath(path string) (string, error) {
	if path == ":memory:" {
		return path, nil
	}
	if strings.HasPrefix(path, "/") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", err
		}
		return path, nil
	}
	abs := filepath.Join(".", path)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", err
	}
	return abs, nil
}

func prepareSchema(db *gorm.DB, driver string) error {
	if driver != "sqlite" {
		return nil
	}
	if err := db.AutoMigrate(
		&gormstore.ApprovalRequest{},
		&gormstore.StampEvent{},
		&gormstore.StampAggregate{},
		&directory.Store{},
		&directory.CustomerWallet{},
		&directory.WalletStampCard{},
		&directory.WalletReward{},
	); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
