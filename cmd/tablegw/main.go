package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ismaiel54/table-order-gateway/internal/bus"
	"github.com/ismaiel54/table-order-gateway/internal/chaos"
	"github.com/ismaiel54/table-order-gateway/internal/config"
	"github.com/ismaiel54/table-order-gateway/internal/engine"
	"github.com/ismaiel54/table-order-gateway/internal/httpapi"
	"github.com/ismaiel54/table-order-gateway/internal/idempotency"
	"github.com/ismaiel54/table-order-gateway/internal/logging"
	"github.com/ismaiel54/table-order-gateway/internal/market"
	"github.com/ismaiel54/table-order-gateway/internal/msg"
	"github.com/ismaiel54/table-order-gateway/internal/observability"
	"github.com/ismaiel54/table-order-gateway/internal/portfolio"
	"github.com/ismaiel54/table-order-gateway/internal/rpc/gatewaysvc"
	"github.com/ismaiel54/table-order-gateway/internal/tables"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig("tablegw")
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger, err := logging.NewLogger(cfg.ServiceName, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting tablegw service",
		zap.Int("grpc_port", cfg.GRPCPort),
		zap.Int("http_port", cfg.HTTPPort),
		zap.String("order_table", cfg.OrderTablePath),
		zap.String("fill_table", cfg.FillTablePath),
		zap.String("account_table", cfg.AccountTablePath),
		zap.String("feed", cfg.FeedPath),
		zap.Bool("kafka", cfg.KafkaEnabled()),
	)

	faults := chaos.New(chaos.LoadConfig(), logger)

	tbl, closeTables, err := openTables(cfg, faults)
	if err != nil {
		logger.Fatal("failed to open tables", zap.Error(err))
	}
	defer closeTables()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Event bus and engine
	b := bus.New(logger, cfg.TimerInterval)
	b.Start(ctx)
	defer b.Stop()

	eng := engine.New(tbl, b, engine.Options{
		ScanInterval:    cfg.ScanInterval,
		SnapshotRefresh: cfg.SnapshotRefreshInterval,
		AccountType:     cfg.AccountType,
		ClientIDBase:    cfg.ClientIDBase,
		Classifier:      portfolio.NewPrefixClassifier(cfg.T0Prefixes...),
	}, logger)

	startCtx, startCancel := context.WithTimeout(ctx, 30*time.Second)
	err = eng.Start(startCtx)
	startCancel()
	if err != nil {
		logger.Fatal("failed to start engine", zap.Error(err))
	}
	defer eng.Stop()
	b.Subscribe(bus.TopicTimer, "engine", eng.HandleTimer)

	// Market feed poller
	if cfg.FeedPath != "" {
		poller := market.NewPoller(cfg.FeedPath, cfg.FeedInterval, eng, b, faults, logger)
		held, err := eng.Positions(ctx, "")
		if err != nil {
			logger.Warn("failed to list held symbols", zap.Error(err))
		}
		for _, p := range held {
			poller.Subscribe(p.Symbol)
		}
		b.Subscribe(bus.TopicOrder, "market", poller.HandleOrder)
		go poller.Run(ctx)
	}

	// Create health checker
	healthChecker := observability.NewHealthChecker(logger)
	healthChecker.AddCheck("engine", eng.Ready)

	// Create gRPC server
	grpcServer := grpc.NewServer(
		grpc.UnaryInterceptor(gatewaysvc.LoggingUnaryServerInterceptor(logger)),
	)
	healthChecker.RegisterGRPC(grpcServer)
	gatewaysvc.RegisterGatewayServer(grpcServer, gatewaysvc.NewServer(eng, logger))

	// Start gRPC server
	grpcListener, err := net.Listen("tcp", cfg.GRPCAddr())
	if err != nil {
		logger.Fatal("failed to listen on gRPC port", zap.Error(err))
	}

	grpcErrCh := make(chan error, 1)
	go func() {
		logger.Info("gRPC server listening", zap.String("addr", cfg.GRPCAddr()))
		if err := grpcServer.Serve(grpcListener); err != nil {
			grpcErrCh <- err
		}
	}()

	// Start HTTP query and health server
	router := httpapi.NewRouter(eng, healthChecker, cfg.RequestTimeout, logger)
	httpErrCh := make(chan error, 1)
	go func() {
		if err := healthChecker.StartHTTPServer(cfg.HTTPAddr(), router); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErrCh <- err
		}
	}()

	// Kafka command intake and outbox
	kafkaErrCh := make(chan error, 2)
	var closeKafka func()
	if cfg.KafkaEnabled() {
		closeKafka, err = startKafka(ctx, cfg, b, eng, healthChecker, kafkaErrCh, logger)
		if err != nil {
			logger.Fatal("failed to start kafka pipeline", zap.Error(err))
		}
	}

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
	case err := <-grpcErrCh:
		logger.Error("gRPC server error", zap.Error(err))
	case err := <-httpErrCh:
		logger.Error("HTTP server error", zap.Error(err))
	case err := <-kafkaErrCh:
		logger.Error("kafka pipeline error", zap.Error(err))
	}

	// Graceful shutdown
	logger.Info("shutting down gracefully...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := healthChecker.Shutdown(shutdownCtx); err != nil {
		logger.Error("error shutting down health checker", zap.Error(err))
	}
	grpcServer.GracefulStop()

	cancel()
	if closeKafka != nil {
		closeKafka()
	}
	eng.Stop()

	logger.Info("tablegw service stopped")
}

// openTables opens one store when all tables share a file and one store per
// table otherwise. Reads of the terminal-written tables go through the
// fault injector.
func openTables(cfg *config.Config, faults *chaos.Chaos) (engine.Tables, func(), error) {
	var stores []*tables.Store
	closeAll := func() {
		for _, s := range stores {
			s.Close()
		}
	}
	open := func(path string) (*tables.Store, error) {
		s, err := tables.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", path, err)
		}
		stores = append(stores, s)
		return s, nil
	}

	orders, err := open(cfg.OrderTablePath)
	if err != nil {
		return engine.Tables{}, closeAll, err
	}
	fills, accounts := orders, orders
	if !cfg.SharedTables() {
		if fills, err = open(cfg.FillTablePath); err != nil {
			closeAll()
			return engine.Tables{}, func() {}, err
		}
		if accounts, err = open(cfg.AccountTablePath); err != nil {
			closeAll()
			return engine.Tables{}, func() {}, err
		}
	}

	return engine.Tables{
		Instructions: orders,
		Fills:        tables.NewFaultyFillLog(fills, faults),
		Accounts:     tables.NewFaultyAccountTable(accounts, faults),
	}, closeAll, nil
}

// startKafka wires the command consumer, the bus outbox sink and the outbox
// publisher. The returned func releases the Kafka clients and the outbox.
func startKafka(ctx context.Context, cfg *config.Config, b *bus.Bus, eng *engine.Engine,
	healthChecker *observability.HealthChecker, errCh chan<- error, logger *zap.Logger) (func(), error) {
	kcfg := msg.LoadConfig()
	kcfg.Brokers = msg.ParseBrokers(cfg.KafkaBrokers)

	dbPath := filepath.Join(cfg.DataDir, "outbox.db")
	store, err := idempotency.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open outbox: %w", err)
	}
	logger.Info("outbox store opened", zap.String("path", dbPath))

	producer, err := msg.NewProducer(kcfg, logger)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("create producer: %w", err)
	}

	consumer, err := msg.NewConsumer(kcfg, []string{msg.TopicCommands}, logger)
	if err != nil {
		producer.Close()
		store.Close()
		return nil, fmt.Errorf("create consumer: %w", err)
	}

	sink := idempotency.NewSink(store, logger)
	sink.Subscribe(b)
	go sink.Run(ctx)

	publisher := idempotency.NewPublisher(store, producer, logger)
	go func() {
		if err := publisher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- err
		}
	}()

	handler := idempotency.NewCommandHandler(store, eng, logger)
	go func() {
		if err := consumer.Run(ctx, handler.Handle); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- err
		}
	}()

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := producer.Ping(pingCtx); err != nil {
		logger.Warn("kafka not reachable yet", zap.Error(err))
		healthChecker.SetKafkaReady(false)
	} else {
		healthChecker.SetKafkaReady(true)
	}

	return func() {
		b.Unsubscribe(bus.TopicOrder, "outbox")
		b.Unsubscribe(bus.TopicTrade, "outbox")
		consumer.Close()
		producer.Close()
		store.Close()
	}, nil
}
