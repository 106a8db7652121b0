// Package app initializes and runs the short link service.
// It configures logging, storage, authentication, the optional Redis cache
// and RabbitMQ publisher, and routing, and handles graceful shutdown.
package app

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/patric-chuzhbe/minurl/internal/accessevents"
	"github.com/patric-chuzhbe/minurl/internal/auth"
	"github.com/patric-chuzhbe/minurl/internal/config"
	"github.com/patric-chuzhbe/minurl/internal/db/jsondb"
	"github.com/patric-chuzhbe/minurl/internal/db/memorystorage"
	"github.com/patric-chuzhbe/minurl/internal/db/postgresdb"
	"github.com/patric-chuzhbe/minurl/internal/ipchecker"
	"github.com/patric-chuzhbe/minurl/internal/linkcache"
	"github.com/patric-chuzhbe/minurl/internal/logger"
	"github.com/patric-chuzhbe/minurl/internal/models"
	"github.com/patric-chuzhbe/minurl/internal/passwordhash"
	"github.com/patric-chuzhbe/minurl/internal/router"
	"github.com/patric-chuzhbe/minurl/internal/service"
	"github.com/patric-chuzhbe/minurl/internal/user"
)

const shutdownTimeout = 10 * time.Second

type storage interface {
	service.Storage
	GetUserByUsername(ctx context.Context, username string) (*user.User, error)
	Close() error
}

// App holds the configuration, HTTP handler, storage backend and the
// optional cache and message broker connections.
type App struct {
	cfg          *config.Config
	db           storage
	redisClient  *redis.Client
	amqpConn     *amqp.Connection
	accessEvents *accessevents.Publisher
	httpHandler  http.Handler
}

// New initializes a new instance of App by:
// - loading configuration
// - initializing logger
// - selecting and setting up storage
// - connecting to Redis and RabbitMQ when configured
// - setting up the router and middleware
func New(optionsProto ...config.InitOption) (*App, error) {
	var err error
	app := &App{}

	app.cfg, err = config.New(optionsProto...)
	if err != nil {
		return nil, err
	}

	err = logger.Init(app.cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	app.db, err = getStorageByType(app.cfg)
	if err != nil {
		return nil, err
	}

	if app.cfg.UsesDefaultSigningKey() {
		logger.Log.Warnln("TOKEN_SIGNING_SECRET_KEY is not set, tokens are signed with the public development key")
	}

	signingKey, err := base64.URLEncoding.DecodeString(app.cfg.TokenSigningSecretKey)
	if err != nil {
		app.closeAll()
		return nil, fmt.Errorf("in internal/app/app.go/New(): error while `base64.URLEncoding.DecodeString()` calling: %w", err)
	}

	tokens, err := auth.NewTokenService(signingKey, app.cfg.TokenTTL)
	if err != nil {
		app.closeAll()
		return nil, err
	}

	trustedNetwork, err := ipchecker.New(app.cfg.TrustedSubnet)
	if err != nil {
		app.closeAll()
		return nil, err
	}
	if trustedNetwork.IsTrustedSubnetEmpty() {
		logger.Log.Infoln("trusted subnet is not configured, the internal endpoints will answer 403")
	}

	serviceOptions := []service.Option{
		service.WithShortCodeLength(app.cfg.ShortCodeLength),
		service.WithShortCodeAttempts(app.cfg.ShortCodeAttempts),
	}

	if app.cfg.RedisAddr != "" {
		cache, err := app.connectRedis()
		if err != nil {
			app.closeAll()
			return nil, err
		}
		serviceOptions = append(serviceOptions, service.WithLinkCache(cache))
	}

	if app.cfg.AMQPURL != "" {
		if err := app.connectAMQP(); err != nil {
			app.closeAll()
			return nil, err
		}
		serviceOptions = append(serviceOptions, service.WithAccessEvents(app.accessEvents))
	}

	svc := service.New(
		app.db,
		passwordhash.New(passwordhash.DefaultCost),
		tokens,
		app.cfg.ShortURLBase,
		serviceOptions...,
	)

	app.httpHandler = router.New(
		svc,
		auth.NewGate(tokens, app.db),
		trustedNetwork,
		router.WithAllowedOrigins(app.cfg.CORSAllowedOrigins),
	)

	return app, nil
}

func (a *App) connectRedis() (*linkcache.Cache, error) {
	a.redisClient = redis.NewClient(&redis.Options{
		Addr:     a.cfg.RedisAddr,
		Password: a.cfg.RedisPassword,
		DB:       a.cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.DBConnectionTimeout)
	defer cancel()

	if err := a.redisClient.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("in internal/app/app.go/connectRedis(): error while `a.redisClient.Ping()` calling: %w", err)
	}

	return linkcache.New(a.redisClient, a.cfg.LinkCacheTTL), nil
}

func (a *App) connectAMQP() error {
	var err error

	a.amqpConn, err = amqp.Dial(a.cfg.AMQPURL)
	if err != nil {
		return fmt.Errorf("in internal/app/app.go/connectAMQP(): error while `amqp.Dial()` calling: %w", err)
	}

	ch, err := a.amqpConn.Channel()
	if err != nil {
		return fmt.Errorf("in internal/app/app.go/connectAMQP(): error while `a.amqpConn.Channel()` calling: %w", err)
	}

	a.accessEvents, err = accessevents.New(ch, a.cfg.AccessEventsQueue)
	if err != nil {
		_ = ch.Close()
		return err
	}

	a.accessEvents.ListenErrors(func(err error) {
		logger.Log.Debugln("Error passed from the `a.accessEvents.ListenErrors()`:", zap.Error(err))
	})

	return nil
}

// Handler returns the HTTP handler of the service.
func (a *App) Handler() http.Handler {
	return a.httpHandler
}

// Run starts the HTTP server with graceful shutdown support.
// It listens for system signals and releases resources upon termination.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Log.Infoln("server running", "RunAddr", a.cfg.RunAddr)

	server := &http.Server{
		Addr:    a.cfg.RunAddr,
		Handler: a.httpHandler,
	}

	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Log.Infoln("Received shutdown signal. Saving database and exiting...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}

		return a.closeAll()

	case err := <-serverErrCh:
		if errors.Is(err, http.ErrServerClosed) {
			return a.closeAll()
		}
		_ = a.closeAll()
		return fmt.Errorf("server error: %w", err)
	}
}

// closeAll releases the publisher, broker, cache and storage connections.
// It is safe to call more than once.
func (a *App) closeAll() error {
	var errs []error

	if a.accessEvents != nil {
		errs = append(errs, a.accessEvents.Close())
		a.accessEvents = nil
	}

	if a.amqpConn != nil {
		errs = append(errs, a.amqpConn.Close())
		a.amqpConn = nil
	}

	if a.redisClient != nil {
		errs = append(errs, a.redisClient.Close())
		a.redisClient = nil
	}

	if a.db != nil {
		errs = append(errs, a.db.Close())
		a.db = nil
	}

	return errors.Join(errs...)
}

// Close flushes the logger.
func (a *App) Close() {
	if err := logger.Sync(); err != nil {
		fmt.Println("Logger sync error:", err)
	}
}

func getAvailableStorageType(cfg *config.Config) int {
	if cfg.DatabaseDSN != "" {
		return models.StorageTypePostgresql
	}

	if cfg.DBFileName != "" {
		return models.StorageTypeFile
	}

	return models.StorageTypeMemory
}

func getStorageByType(cfg *config.Config) (storage, error) {
	switch getAvailableStorageType(cfg) {
	case models.StorageTypeUnknown:
		return nil, errors.New("unknown storage type")

	case models.StorageTypePostgresql:
		logger.Log.Infoln("using postgresql storage")
		ctx, cancel := context.WithTimeout(context.Background(), cfg.DBConnectionTimeout)
		defer cancel()
		return postgresdb.New(
			ctx,
			cfg.DatabaseDSN,
			cfg.DBConnectionTimeout,
			cfg.MigrationsDir,
		)

	case models.StorageTypeFile:
		logger.Log.Infoln("using file storage", "path", cfg.DBFileName)
		return jsondb.New(cfg.DBFileName)
	}

	logger.Log.Infoln("using in-memory storage")
	return memorystorage.New()
}
