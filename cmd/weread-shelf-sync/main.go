// weread-shelf-sync serves a user's WeRead bookshelf, book details and
// highlights over a JSON API.
//
// Environment Variables:
//
//	JWT_SECRET           secret used to sign session tokens (required)
//	ENCRYPTION_KEY       (optional) key for stored session cookies; a key file in DATA_DIR is used otherwise
//	DATABASE_TYPE        (optional) sqlite, postgres or mysql (default: sqlite)
//	DATA_DIR             (optional) directory for the SQLite database and key file (default: ./data)
//	PORT                 (optional) HTTP port (default: 8000)
//	LOG_LEVEL            (optional) debug, info, warn, error
//	ALLOW_UNVERIFIED_LOGIN (optional) accept logins the platform rejects, marked as dev logins
//
// Endpoints:
//
//	GET /healthz         # Health check
//	/api/...             # see internal/api
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/drallgood/weread-shelf-sync/internal/api"
	"github.com/drallgood/weread-shelf-sync/internal/auth"
	"github.com/drallgood/weread-shelf-sync/internal/config"
	"github.com/drallgood/weread-shelf-sync/internal/crypto"
	"github.com/drallgood/weread-shelf-sync/internal/database"
	"github.com/drallgood/weread-shelf-sync/internal/library"
	"github.com/drallgood/weread-shelf-sync/internal/logger"
	"github.com/drallgood/weread-shelf-sync/internal/server"
	"github.com/drallgood/weread-shelf-sync/internal/util"
	"github.com/drallgood/weread-shelf-sync/internal/weread"
)

var (
	version = "dev" // Set during build
)

func main() {
	flags := parseFlags()

	if flags.help {
		showHelp()
		return
	}
	if flags.version {
		showVersion()
		return
	}

	cfg, err := config.Load(flags.configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(logger.Config{
		Level:      cfg.Logging.Level,
		Format:     logger.ParseLogFormat(cfg.Logging.Format),
		Output:     os.Stdout,
		TimeFormat: time.RFC3339,
	})
	log := logger.Get()

	log.Info("Starting weread-shelf-sync", map[string]interface{}{
		"version":    version,
		"log_level":  cfg.Logging.Level,
		"log_format": cfg.Logging.Format,
		"database":   cfg.Database.Type,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("Server exited with error", map[string]interface{}{
			"error": err.Error(),
		})
		os.Exit(1)
	}
	log.Info("Server stopped", nil)
}

func run(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	db, err := database.Open(database.FromConfig(cfg), log)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Warn("Failed to close database", map[string]interface{}{"error": err.Error()})
		}
	}()

	encryptor, err := crypto.NewEncryptionManager(cfg.Auth.EncryptionKey, dataDir(), log)
	if err != nil {
		return fmt.Errorf("failed to set up credential encryption: %w", err)
	}
	repo := database.NewRepository(db, encryptor, log)

	transport := weread.NewRestyTransport(weread.TransportOptions{
		Limiter: util.NewRateLimiter(util.PerSecond(cfg.WeRead.RequestsPerSecond), cfg.WeRead.Burst),
		Logger:  log,
	})
	client := weread.NewClient(weread.Config{
		WebURL:     cfg.WeRead.WebURL,
		BaseURL:    cfg.WeRead.BaseURL,
		UserAgent:  cfg.WeRead.UserAgent,
		BatchSize:  cfg.WeRead.BatchSize,
		BatchDelay: cfg.WeRead.BatchDelay,
	}, transport, repo, log)

	tokens, err := auth.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	if err != nil {
		return fmt.Errorf("failed to set up tokens: %w", err)
	}
	if cfg.Auth.AllowUnverified {
		log.Warn("Unverified logins are enabled; rejected cookies will be accepted as dev logins", nil)
	}

	service := library.NewService(repo, client, tokens, library.Options{
		BookTTL:         cfg.Cache.BookTTL,
		AllowUnverified: cfg.Auth.AllowUnverified,
	}, log)

	srv := server.New(cfg, api.NewHandler(service), auth.NewMiddleware(tokens, repo), db, log)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		log.Info("Shutdown signal received", nil)
	}

	return srv.Shutdown(context.Background())
}

func dataDir() string {
	if dir := os.Getenv("DATA_DIR"); dir != "" {
		return dir
	}
	return "./data"
}
