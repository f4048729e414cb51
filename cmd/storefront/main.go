package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fjod/furnistore/internal/cart"
	"github.com/fjod/furnistore/internal/catalog"
	"github.com/fjod/furnistore/internal/checkout"
	"github.com/fjod/furnistore/internal/config"
	"github.com/fjod/furnistore/internal/consumer"
	"github.com/fjod/furnistore/internal/domain"
	h "github.com/fjod/furnistore/internal/http"
	"github.com/fjod/furnistore/internal/payment"
	"github.com/fjod/furnistore/internal/publisher"
	"github.com/fjod/furnistore/internal/repository"
	"github.com/fjod/furnistore/internal/store"
	"github.com/fjod/furnistore/pkg/circuitbreaker"
	"github.com/fjod/furnistore/pkg/logger"
	"github.com/fjod/furnistore/pkg/tracing"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	l, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = l.Sync() }()
	zap.ReplaceGlobals(l)
	tracing.InstallPropagator()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Cart store
	cartStore, closeStore, err := openCartStore(ctx, cfg, l)
	if err != nil {
		l.Fatal("failed to open cart store", zap.String("store", cfg.CartStore), zap.Error(err))
	}
	defer closeStore()

	// Catalog
	cat, err := catalog.NewSQLiteCatalog(cfg.CatalogPath)
	if err != nil {
		l.Fatal("failed to open catalog", zap.String("path", cfg.CatalogPath), zap.Error(err))
	}
	defer cat.Close()
	if err := cat.RunMigrations(); err != nil {
		l.Fatal("failed to migrate catalog", zap.Error(err))
	}

	sessions := cart.NewSessions(cartStore, l)
	if cfg.SessionIdleTimeout > 0 {
		go sessions.Run(ctx, cart.SweepInterval, cfg.SessionIdleTimeout)
	}

	// Checkout ledger
	var ledger checkout.Ledger
	var outbox publisher.OutboxRepository
	if cfg.Postgres.Enabled() {
		repo, err := repository.NewRepository(&repository.Credentials{
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			DBName:   cfg.Postgres.DBName,
		})
		if err != nil {
			l.Fatal("failed to connect to database", zap.Error(err))
		}
		defer repo.Close()
		if err := repo.RunMigrations(); err != nil {
			l.Fatal("failed to run migrations", zap.Error(err))
		}
		l.Info("database migrations completed", zap.String("host", cfg.Postgres.Host))
		ledger, outbox = repo, repo
	} else {
		mem := checkout.NewMemoryLedger()
		ledger, outbox = mem, mem
		l.Info("using in-memory checkout ledger")
	}

	registry := buildRegistry(cfg, l)
	if len(registry.Providers()) == 0 {
		l.Warn("no payment provider configured, checkout will reject every request")
	}
	orchestrator := checkout.NewOrchestrator(registry, ledger, cfg.PaymentTimeout, l)

	// Outbox publisher
	if len(cfg.KafkaBrokers) > 0 {
		poller := publisher.NewOutboxPoller(outbox, publisher.Config{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaTopic,
		}, l)
		poller.OnRecovered(sessions.ClearPaid)
		go poller.Run(ctx)
		l.Info("outbox publisher started", zap.Strings("brokers", cfg.KafkaBrokers), zap.String("topic", cfg.KafkaTopic))

		// carts in a shared store can be cleared by another instance
		if cfg.CartStore != config.CartStoreMemory {
			c := consumer.NewConsumer(sessions, consumer.Config{
				Brokers: cfg.KafkaBrokers,
				Topic:   cfg.KafkaTopic,
				GroupID: cfg.KafkaGroupID,
			}, l)
			go c.Run(ctx)
			l.Info("checkout consumer started", zap.String("group_id", cfg.KafkaGroupID))
		}
	}

	var payments *h.PaymentHandler
	if cfg.PaymentMode == config.PaymentModeDirect {
		payments = h.NewPaymentHandler(registry, cfg.PaymentTimeout, l)
	}

	router := h.NewStorefrontRouter(h.RouterConfig{
		ServiceName:        "storefront",
		RequestTimeout:     cfg.RequestTimeout,
		MaxRequestBodySize: cfg.MaxRequestBodySize,
	},
		h.NewCartHandler(sessions, cat, cfg.RequestTimeout),
		h.NewCheckoutHandler(sessions, orchestrator, l),
		h.NewProductHandler(cat, cfg.RequestTimeout),
		payments,
	)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		l.Info("storefront listening", zap.String("port", cfg.HTTPPort))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.Fatal("server error", zap.Error(err))
		}
	}()

	// gRPC health endpoint for orchestrators
	lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		l.Fatal("failed to listen", zap.String("port", cfg.GRPCPort), zap.Error(err))
	}
	grpcServer := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("storefront", grpc_health_v1.HealthCheckResponse_SERVING)
	reflection.Register(grpcServer)

	go func() {
		l.Info("grpc health listening", zap.String("port", cfg.GRPCPort))
		if err := grpcServer.Serve(lis); err != nil {
			l.Fatal("failed to serve grpc", zap.Error(err))
		}
	}()

	<-ctx.Done()

	l.Info("shutting down storefront...")
	healthServer.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		l.Error("server forced to shutdown", zap.Error(err))
	}
	grpcServer.GracefulStop()
	l.Info("storefront stopped")
}

func openCartStore(ctx context.Context, cfg *config.Config, l *zap.Logger) (store.CartStore, func(), error) {
	switch cfg.CartStore {
	case config.CartStoreRedis:
		client, err := store.ConnectRedis(ctx, cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			return nil, nil, err
		}
		l.Info("connected to redis", zap.String("addr", cfg.RedisAddr))
		return store.NewRedisStore(client), func() { _ = client.Close() }, nil

	case config.CartStoreMongo:
		db, err := store.ConnectMongoDB(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, nil, err
		}
		s := store.NewMongoStore(db)
		if err := s.CreateIndexes(ctx); err != nil {
			return nil, nil, fmt.Errorf("failed to create indexes: %w", err)
		}
		l.Info("connected to mongodb", zap.String("database", cfg.MongoDatabase))
		return s, func() { _ = db.Client().Disconnect(context.Background()) }, nil

	default:
		l.Info("using in-memory cart store", zap.Duration("ttl", cfg.MemoryCartTTL))
		s := store.NewMemoryStoreWithTTL(cfg.MemoryCartTTL)
		go s.Run(ctx, store.CleanupInterval)
		return s, func() {}, nil
	}
}

func buildRegistry(cfg *config.Config, l *zap.Logger) *payment.Registry {
	if cfg.PaymentMode == config.PaymentModeRemote {
		client := &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
		l.Info("using remote payment routes", zap.String("url", cfg.PaymentsURL))
		return payment.NewRegistry(
			payment.NewRemoteAdapter(domain.ProviderStripe, cfg.PaymentsURL, client),
			payment.NewRemoteAdapter(domain.ProviderPayPal, cfg.PaymentsURL, client),
		)
	}
	return payment.NewRegistry(directAdapters(cfg, l)...)
}

func directAdapters(cfg *config.Config, l *zap.Logger) []payment.Adapter {
	client := &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	breaker := circuitbreaker.DefaultConfig()
	breaker.ConsecutiveFailures = cfg.Breaker.ConsecutiveFailures
	breaker.Timeout = cfg.Breaker.Timeout

	var adapters []payment.Adapter
	if cfg.Stripe.Enabled() {
		adapters = append(adapters, payment.NewGuarded(payment.NewStripeAdapter(payment.StripeConfig{
			SecretKey:     cfg.Stripe.SecretKey,
			BaseURL:       cfg.Stripe.APIURL,
			PaymentMethod: cfg.Stripe.PaymentMethod,
			HTTPClient:    client,
		}), breaker, l))
		l.Info("stripe adapter enabled")
	}
	if cfg.PayPal.Enabled() {
		adapters = append(adapters, payment.NewGuarded(payment.NewPayPalAdapter(payment.PayPalConfig{
			ClientID:     cfg.PayPal.ClientID,
			ClientSecret: cfg.PayPal.ClientSecret,
			BaseURL:      cfg.PayPal.APIURL,
			HTTPClient:   client,
		}), breaker, l))
		l.Info("paypal adapter enabled")
	}
	return adapters
}
