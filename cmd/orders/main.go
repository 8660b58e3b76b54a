package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tm-acme-shop/acme-shop-order-placement/internal/clients"
	"github.com/tm-acme-shop/acme-shop-order-placement/internal/config"
	"github.com/tm-acme-shop/acme-shop-order-placement/internal/events"
	"github.com/tm-acme-shop/acme-shop-order-placement/internal/handlers"
	"github.com/tm-acme-shop/acme-shop-order-placement/internal/interfaces"
	"github.com/tm-acme-shop/acme-shop-order-placement/internal/logging"
	"github.com/tm-acme-shop/acme-shop-order-placement/internal/metrics"
	"github.com/tm-acme-shop/acme-shop-order-placement/internal/repository"
	"github.com/tm-acme-shop/acme-shop-order-placement/internal/server"
	"github.com/tm-acme-shop/acme-shop-order-placement/internal/service"
	"github.com/tm-acme-shop/acme-shop-order-placement/internal/tracing"

	_ "github.com/lib/pq"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger := logging.NewLoggerV2("orders-service")
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Invalid configuration", logging.Fields{"error": err.Error()})
	}

	logging.Infof("Starting orders-service on port %d", cfg.Server.Port)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx, cfg.Tracing)
	if err != nil {
		logger.Fatal("Failed to set up tracing", logging.Fields{"error": err.Error()})
	}

	var checks []handlers.ReadinessCheck

	orderRepo, db, err := initRepository(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize order store", logging.Fields{"error": err.Error()})
	}
	if db != nil {
		defer db.Close()
		checks = append(checks, handlers.ReadinessCheck{Name: "database", Check: db.PingContext})
	}

	var orderCache interfaces.OrderCache
	if cfg.Features.EnableOrderCaching {
		redisCache := repository.NewRedisOrderCache(cfg.Redis)
		defer redisCache.Close()
		orderCache = redisCache
		checks = append(checks, handlers.ReadinessCheck{Name: "redis", Check: redisCache.Ping})
	}

	var eventPublisher interfaces.OrderEventPublisher = events.NopPublisher{}
	if cfg.Features.EnableOrderEvents {
		eventPublisher = events.NewKafkaPublisher(cfg.Kafka, logger.Named("events"))
	}
	defer eventPublisher.Close()

	inventoryClient := clients.NewHTTPInventoryClient(cfg.InventoryService, logger.Named("inventory"))
	m := metrics.NewWithRuntime()

	orderService := service.NewOrderService(
		orderRepo,
		inventoryClient,
		orderCache,
		eventPublisher,
		m,
		cfg,
	)

	h := handlers.NewHandlers(orderService, cfg, checks...)
	srv := server.New(h, cfg, m, logger.Named("http"))

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Server starting", logging.Fields{
			"port":                          cfg.Server.Port,
			"db_driver":                     cfg.Database.Driver,
			"enable_order_caching":          cfg.Features.EnableOrderCaching,
			"enable_order_events":           cfg.Features.EnableOrderEvents,
			"enable_order_request_consumer": cfg.Features.EnableOrderRequestConsumer,
		})
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	if cfg.Features.EnableOrderRequestConsumer {
		consumer := events.NewKafkaConsumer(cfg.Kafka, orderService, logger.Named("consumer"))
		g.Go(func() error {
			err := consumer.Start(gctx)
			if gctx.Err() != nil {
				return nil
			}
			return err
		})
		g.Go(func() error {
			<-gctx.Done()
			consumer.Stop()
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server forced to shutdown", logging.Fields{"error": err.Error()})
		}
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Error("Failed to flush traces", logging.Fields{"error": err.Error()})
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Service stopped with error", logging.Fields{"error": err.Error()})
		os.Exit(1)
	}

	logger.Info("Server exited")
}

// initRepository returns the configured order store. db is nil for the
// in-memory driver.
func initRepository(ctx context.Context, cfg *config.Config, logger *logging.LoggerV2) (interfaces.OrderRepository, *sql.DB, error) {
	if cfg.Database.Driver == "memory" {
		logger.Warn("Using in-memory order store; orders are lost on restart")
		return repository.NewMemoryOrderRepository(logger.Named("repository")), nil, nil
	}

	db, err := initDatabase(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	if cfg.Database.AutoMigrate {
		if err := repository.Migrate(ctx, db); err != nil {
			db.Close()
			return nil, nil, err
		}
		logger.Info("Database schema migrated")
	}

	return repository.NewPostgresOrderRepository(db, logger.Named("repository")), db, nil
}

func initDatabase(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.Database.ConnectionString())
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.MaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	logging.Info("Database connected", logging.Fields{
		"host": cfg.Database.Host,
		"name": cfg.Database.Name,
	})

	return db, nil
}
