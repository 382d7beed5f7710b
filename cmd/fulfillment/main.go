// Package main Fulfillment API
//
// Order and chef booking lifecycle, payment reconciliation and the
// post-checkout admission wait.
//
//	@title			Fulfillment API
//	@version		1.0
//	@description	Order and chef booking lifecycle with payment reconciliation
//
//	@contact.name	API Support
//	@contact.email	support@example.com
//
//	@license.name	MIT
//	@license.url	https://opensource.org/licenses/MIT
//
//	@host		localhost:8080
//	@BasePath	/
//	@schemes	http https
//
//	@securityDefinitions.apikey	ApiKeyAuth
//	@in							header
//	@name						Authorization
package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc/health"

	_ "go-fulfillment/docs/swagger"
	"go-fulfillment/internal/orders/adapters"
	"go-fulfillment/internal/orders/admission"
	"go-fulfillment/internal/orders/application"
	"go-fulfillment/internal/orders/infrastructure"
	"go-fulfillment/internal/orders/ports"
	"go-fulfillment/pkg/config"
	"go-fulfillment/pkg/db"
	"go-fulfillment/pkg/events"
	grpcpkg "go-fulfillment/pkg/grpc"
	"go-fulfillment/pkg/logger"
	"go-fulfillment/pkg/metrics"
	"go-fulfillment/pkg/middleware"
	"go-fulfillment/pkg/rabbitmq"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	log := logger.NewWithFormat(cfg.ServiceName, cfg.LogLevel, cfg.LogFormat)
	defer log.Sync()

	if err := cfg.Validate(); err != nil {
		log.Fatal("invalid configuration", zap.Error(err))
	}
	log.Info("starting fulfillment service",
		zap.String("store", cfg.StoreDriver),
		zap.String("payment_provider", cfg.PaymentProvider),
		zap.Bool("cash_only", cfg.CashOnly),
	)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	lifecycleMetrics := metrics.NewLifecycleMetrics(reg, "lifecycle")

	healthServer := health.NewServer()
	monitor := infrastructure.NewHealthMonitor(cfg.ServiceName, healthServer, cfg.HealthCheckInterval, log)

	// Storage
	var (
		orders   ports.OrderRepository
		bookings ports.BookingRepository
		catalog  ports.Catalog
	)
	switch cfg.StoreDriver {
	case config.StorePostgres:
		dbConn, err := db.NewConnection(cfg.Database())
		if err != nil {
			log.Fatal("failed to connect to database", zap.Error(err))
		}
		defer db.Close(dbConn)
		log.Info("connected to database")

		if cfg.DBAutoMigrate {
			if err := adapters.Migrate(dbConn); err != nil {
				log.Fatal("failed to migrate database", zap.Error(err))
			}
		}
		orders = adapters.NewPostgresOrderRepository(dbConn)
		bookings = adapters.NewPostgresBookingRepository(dbConn)
		catalog = adapters.NewPostgresCatalog(dbConn)
		monitor.Require("database", func(ctx context.Context) error { return db.Ping(ctx, dbConn) })
	default:
		orders = adapters.NewMemoryOrderRepository()
		bookings = adapters.NewMemoryBookingRepository()
		catalog = adapters.NewStaticCatalog(adapters.DemoMenu()...)
		log.Warn("using in-memory store, data is lost on restart")
	}

	// Checkout session ledger
	var ledger ports.SessionLedger
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer rdb.Close()
		ledger = adapters.NewRedisSessionLedger(rdb, cfg.SessionLedgerTTL)
		monitor.Require("redis", func(ctx context.Context) error { return rdb.Ping(ctx).Err() })
		log.Info("checkout sessions stored in redis", zap.String("addr", cfg.RedisAddr))
	} else {
		ledger = adapters.NewMemorySessionLedger()
	}

	// Payment gateway
	var gateway ports.PaymentGateway
	switch cfg.PaymentProvider {
	case config.ProviderStripe:
		stripeGateway := adapters.NewStripeGateway(adapters.StripeConfig{
			SecretKey:        cfg.StripeSecretKey,
			AllowedCountries: cfg.StripeAllowedCountries,
			HTTPTimeout:      cfg.PaymentGatewayTimeout,
		}, log)
		if !stripeGateway.Configured() {
			log.Warn("stripe selected without STRIPE_SECRET_KEY, online payments are refused")
		}
		gateway = stripeGateway
	case config.ProviderSandbox:
		gateway = adapters.NewSandboxGateway(cfg.SandboxAutoComplete)
		log.Warn("sandbox payment gateway in use, no money moves")
	}

	// Events. Interfaces stay nil unless a concrete value exists.
	var (
		publisher  ports.EventPublisher
		rabbitConn *rabbitmq.Connection
	)
	if cfg.RabbitMQURL != "" {
		conn, err := rabbitmq.NewConnection(cfg.RabbitMQURL, log)
		if err != nil {
			log.Warn("failed to connect to RabbitMQ, events will be disabled", zap.Error(err))
		} else {
			rabbitConn = conn
			defer rabbitConn.Close()

			pub, err := rabbitmq.NewPublisher(rabbitConn, events.ExchangeFulfillment, log)
			if err != nil {
				log.Warn("failed to create publisher", zap.Error(err))
			} else {
				publisher = adapters.NewRabbitMQPublisher(pub, log)
			}
			monitor.Observe("rabbitmq", func(ctx context.Context) error {
				if !rabbitConn.IsConnected() {
					return rabbitmq.ErrNotConnected
				}
				return nil
			})
		}
	}

	// Application
	lifecycle := application.NewLifecycleService(orders, bookings, catalog, publisher, log,
		application.WithMetrics(lifecycleMetrics),
	)
	modes := application.NewPaymentModes(cfg.CashOnly)
	saga := application.NewReconciliationSaga(lifecycle, gateway, ledger, modes, application.SagaConfig{
		GatewayTimeout: cfg.PaymentGatewayTimeout,
		Currency:       cfg.PaymentCurrency,
	}, log, lifecycleMetrics)
	waiter := admission.NewWaiter(lifecycle, admission.Config{
		Interval: cfg.AdmissionPollInterval,
		Deadline: cfg.AdmissionWaitDeadline,
	}, log, admission.WithMetrics(lifecycleMetrics))

	// HTTP
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(middleware.TraceID())
	router.Use(middleware.RequestLogger(log))
	router.Use(middleware.ErrorHandler(log))
	router.Use(middleware.CORS())
	router.Use(metrics.NewServerMetrics(reg, "api").Middleware())

	httpHandler := infrastructure.NewHTTPHandler(lifecycle, saga, modes, waiter, infrastructure.HTTPConfig{
		PublicBaseURL: cfg.PublicBaseURL,
		JWTSecret:     cfg.JWTSecret,
	})
	httpHandler.RegisterRoutes(router.Group("/api/v1"))

	router.GET("/health", monitor.Handler)
	router.GET("/metrics", gin.WrapH(metrics.Handler(reg)))
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	httpServer := &http.Server{
		Addr:        ":" + cfg.HTTPPort,
		Handler:     router,
		ReadTimeout: cfg.HTTPTimeout,
		// The admission endpoint holds a request for up to the wait deadline
		WriteTimeout: cfg.AdmissionWaitDeadline + cfg.HTTPTimeout,
	}

	// gRPC
	var tlsFiles *grpcpkg.TLSFiles
	if cfg.GRPCMTLSEnabled {
		tlsFiles = &grpcpkg.TLSFiles{CertFile: cfg.TLSCertFile, KeyFile: cfg.TLSKeyFile, CAFile: cfg.TLSCAFile}
		log.Info("gRPC mTLS enabled")
	}
	grpcOpts, err := grpcpkg.ServerOptions(log, cfg.GRPCTimeout, tlsFiles)
	if err != nil {
		log.Fatal("failed to load TLS config", zap.Error(err))
	}
	grpcServer := infrastructure.NewGRPCServer(healthServer, grpcOpts...)
	lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		log.Fatal("failed to listen for gRPC", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("HTTP server listening on :" + cfg.HTTPPort)
		log.Info("Swagger UI: http://localhost:" + cfg.HTTPPort + "/swagger/index.html")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		log.Info("gRPC server listening on :" + cfg.GRPCPort)
		return grpcServer.Serve(lis)
	})

	g.Go(func() error {
		return monitor.Run(gctx)
	})

	if rabbitConn != nil {
		consumer, err := adapters.NewPaymentSessionConsumer(rabbitConn, saga, log)
		if err != nil {
			log.Warn("failed to create payment session consumer", zap.Error(err))
		} else {
			g.Go(func() error {
				if err := consumer.Start(gctx); err != nil && gctx.Err() == nil {
					log.Error("payment session consumer stopped", zap.Error(err))
				}
				return nil
			})
		}
	}

	// Shutdown once a signal arrives or any server fails
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down servers...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		stopped := make(chan struct{})
		go func() {
			grpcServer.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-shutdownCtx.Done():
			grpcServer.Stop()
		}

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP shutdown error", zap.Error(err))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error("server error", zap.Error(err))
		os.Exit(1)
	}
	log.Info("servers stopped")
}
