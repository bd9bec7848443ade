package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ismaiel54/table-order-gateway/internal/config"
	"github.com/ismaiel54/table-order-gateway/internal/domain"
	"github.com/ismaiel54/table-order-gateway/internal/logging"
	"github.com/ismaiel54/table-order-gateway/internal/tables"
	"github.com/ismaiel54/table-order-gateway/internal/termsim"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// splitTables routes simulator writes when the tables live in separate files
type splitTables struct {
	*tables.Store
	fills    *tables.Store
	accounts *tables.Store
}

func (s splitTables) AppendFill(ctx context.Context, r domain.FillRecord) error {
	return s.fills.AppendFill(ctx, r)
}

func (s splitTables) PutAccountRow(ctx context.Context, r domain.AccountRow) error {
	return s.accounts.PutAccountRow(ctx, r)
}

func main() {
	var (
		interval    = flag.Duration("interval", time.Second, "Step interval")
		fillStep    = flag.Int64("fill-step", 0, "Quantity filled per step (0 fills at once)")
		reject      = flag.String("reject", "", "Comma separated symbols answered with an error row")
		hold        = flag.String("hold", "", "Comma separated symbols acknowledged but never filled")
		seedAccount = flag.String("seed-account", "", "Account to seed with cash before starting")
		seedCash    = flag.String("seed-cash", "100000", "Cash written for the seeded account")
	)
	flag.Parse()

	cfg, err := config.LoadConfig("termsim")
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewLogger(cfg.ServiceName, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	orders, err := tables.Open(cfg.OrderTablePath)
	if err != nil {
		logger.Fatal("failed to open order table", zap.Error(err))
	}
	defer orders.Close()

	var tbl termsim.Table = orders
	if !cfg.SharedTables() {
		fills, err := tables.Open(cfg.FillTablePath)
		if err != nil {
			logger.Fatal("failed to open fill table", zap.Error(err))
		}
		defer fills.Close()
		accounts, err := tables.Open(cfg.AccountTablePath)
		if err != nil {
			logger.Fatal("failed to open account table", zap.Error(err))
		}
		defer accounts.Close()
		tbl = splitTables{Store: orders, fills: fills, accounts: accounts}
	}

	sim := termsim.New(tbl, termsim.Options{
		FillStep:      *fillStep,
		RejectSymbols: strings.Split(*reject, ","),
		HoldSymbols:   strings.Split(*hold, ","),
	}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *seedAccount != "" {
		cash, err := decimal.NewFromString(*seedCash)
		if err != nil {
			logger.Fatal("invalid seed cash", zap.String("seed_cash", *seedCash), zap.Error(err))
		}
		if err := sim.Seed(ctx, *seedAccount, cash, nil); err != nil {
			logger.Fatal("failed to seed account", zap.Error(err))
		}
		logger.Info("account seeded", zap.String("account", *seedAccount), zap.String("cash", cash.String()))
	}

	logger.Info("starting terminal simulator",
		zap.Duration("interval", *interval),
		zap.Int64("fill_step", *fillStep),
		zap.String("order_table", cfg.OrderTablePath),
		zap.String("fill_table", cfg.FillTablePath),
	)

	done := make(chan struct{})
	go func() {
		sim.Run(ctx, *interval)
		close(done)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received shutdown signal", zap.String("signal", sig.String()))

	cancel()
	<-done
	logger.Info("terminal simulator stopped", zap.Int64("instruction_offset", sim.Offset()))
}
