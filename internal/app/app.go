package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"

	"github.com/Tonic56/stock-trading-simulator/internal/config"
	"github.com/Tonic56/stock-trading-simulator/internal/events"
	httphandler "github.com/Tonic56/stock-trading-simulator/internal/handler/http"
	"github.com/Tonic56/stock-trading-simulator/internal/market"
	"github.com/Tonic56/stock-trading-simulator/internal/provider"
	"github.com/Tonic56/stock-trading-simulator/internal/repository"
	"github.com/Tonic56/stock-trading-simulator/internal/service"
	"github.com/Tonic56/stock-trading-simulator/internal/websocket"
	"github.com/Tonic56/stock-trading-simulator/storage/postgres"
	"github.com/Tonic56/stock-trading-simulator/storage/redis"
	"github.com/Tonic56/stock-trading-simulator/storage/sqlite"
	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"
)

type App struct {
	cfg             *config.Config
	log             *slog.Logger
	httpServer      *http.Server
	storage         *postgres.Storage
	redisClient     *goredis.Client
	redisSubscriber *redis.Subscriber
	producer        *events.Producer
	wsManager       *websocket.Manager

	ctx    context.Context
	cancel context.CancelFunc
}

// OpenStorage connects to the configured database driver and migrates it.
func OpenStorage(cfg config.DBConfig) (*postgres.Storage, error) {
	switch cfg.Driver {
	case "postgres":
		return postgres.New(cfg)
	case "sqlite":
		return sqlite.New(cfg.SQLitePath)
	default:
		return nil, fmt.Errorf("unknown DB_DRIVER %q", cfg.Driver)
	}
}

func New(log *slog.Logger, cfg *config.Config) (*App, error) {
	storage, err := OpenStorage(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to init storage: %w", err)
	}

	startingBalance, err := cfg.Trading.Balance()
	if err != nil {
		return nil, fmt.Errorf("invalid starting balance: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	a := &App{
		cfg:     cfg,
		log:     log,
		storage: storage,
		ctx:     ctx,
		cancel:  cancel,
	}

	var quotePublisher service.QuotePublisher = events.Discard{}
	if cfg.Redis.Enabled {
		a.redisClient = redis.NewClient(cfg.Redis)
		a.redisSubscriber = redis.NewSubscriber(a.redisClient, log)
		quotePublisher = redis.NewPublisher(a.redisClient)
	}

	var tradePublisher service.TradePublisher = events.Discard{}
	if cfg.Kafka.Enabled {
		a.producer = events.NewProducer(cfg.Kafka, log)
		tradePublisher = a.producer
	}

	source := provider.NewYahoo(cfg.Market.ProviderURL, cfg.Market.ProviderTimeout, cfg.Market.LogoURLTemplate)
	oracle := market.NewHours(cfg.Market.AlwaysOpen)

	quotesService := service.NewQuotesService(
		repository.NewQuotesRepository(storage.DB),
		source,
		quotePublisher,
		service.QuoteCacheConfig{
			PriceTTL:        cfg.Market.PriceTTL,
			DescriptorTTL:   cfg.Market.DescriptorTTL,
			ProviderTimeout: cfg.Market.ProviderTimeout,
		},
		log,
	)
	portfolioService := service.NewPortfolioService(
		repository.NewUsersRepository(storage.DB),
		repository.NewPositionsRepository(storage.DB),
		quotesService,
		log,
	)

	svc := httphandler.Services{
		Users: service.NewUsersService(storage.DB, service.AuthConfig{
			Secret:          cfg.Security.JWTSecret,
			AccessTokenTTL:  cfg.Security.AccessTokenTTL,
			StartingBalance: startingBalance,
			AdminUsernames:  cfg.Security.AdminUsernames,
		}, log),
		Quotes:    quotesService,
		Trades:    service.NewTradeService(storage.DB, quotesService, oracle, tradePublisher, log),
		Portfolio: portfolioService,
		Shop:      service.NewShopService(storage.DB, log),
		Market:    oracle,
	}

	if a.redisSubscriber != nil {
		a.wsManager = websocket.NewManager(log, a.redisSubscriber, a.redisSubscriber.Messages, portfolioService)
	} else {
		a.wsManager = websocket.NewManager(log, nil, nil, portfolioService)
	}

	if cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}
	ginEngine := gin.New()
	ginEngine.Use(gin.Recovery())
	httpHandler := httphandler.NewHandler(svc, a.wsManager, log, cfg.Security.JWTSecret)
	httpHandler.RegisterRoutes(ginEngine)

	a.httpServer = &http.Server{
		Addr:    net.JoinHostPort("", strconv.FormatUint(uint64(cfg.HTTP.Port), 10)),
		Handler: ginEngine,
	}

	return a, nil
}

func (a *App) Run() error {
	errChan := make(chan error, 1)

	go func() {
		a.log.Info("websocket manager started")
		a.wsManager.Run(a.ctx)
		a.log.Info("websocket manager stopped")
	}()

	go func() {
		if err := a.runHTTP(); err != nil {
			errChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	select {
	case err := <-errChan:
		a.log.Warn("shutting down application due to an error", "error", err)
		a.Stop()
		return err
	case <-a.ctx.Done():
		return nil
	}
}

func (a *App) Stop() {
	a.log.Info("stopping application components gracefully...")

	a.cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), a.cfg.HTTP.Timeout)
	defer shutdownCancel()

	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		a.log.Warn("failed to gracefully shutdown HTTP server", "error", err)
	} else {
		a.log.Info("HTTP server stopped")
	}

	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.log.Warn("failed to close kafka producer", "error", err)
		}
	}

	if a.redisSubscriber != nil {
		a.redisSubscriber.Close()
	}
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.log.Warn("failed to close redis client", "error", err)
		}
	}

	if err := a.storage.Stop(); err != nil {
		a.log.Error("failed to stop storage", "error", err)
	} else {
		a.log.Info("database connection closed")
	}
}

func (a *App) runHTTP() error {
	const op = "app.runHTTP"

	a.log.Info("HTTP server is running", "addr", a.httpServer.Addr)

	if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}
