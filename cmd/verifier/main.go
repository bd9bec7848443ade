package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/ismaiel54/table-order-gateway/internal/logging"
	"github.com/ismaiel54/table-order-gateway/internal/msg"
	"go.uber.org/zap"
)

// report collects what the verifier saw on the orders topic
type report struct {
	events     int
	eventIDs   map[string]int
	commandIDs map[string]int
	// last filled quantity per client id, to detect regressions
	filled      map[int64]int64
	regressions []string
}

func newReport() *report {
	return &report{
		eventIDs:   make(map[string]int),
		commandIDs: make(map[string]int),
		filled:     make(map[int64]int64),
	}
}

func (r *report) add(ev msg.OrderEventMsg) {
	r.events++
	r.eventIDs[ev.EventID]++
	if ev.CommandID != "" {
		r.commandIDs[ev.CommandID]++
		return
	}
	if last, ok := r.filled[ev.ClientID]; ok && ev.FilledQty < last {
		r.regressions = append(r.regressions,
			fmt.Sprintf("client_id=%d filled %d after %d (event %s)", ev.ClientID, ev.FilledQty, last, ev.EventID))
	}
	if ev.FilledQty > r.filled[ev.ClientID] {
		r.filled[ev.ClientID] = ev.FilledQty
	}
}

func duplicates(counts map[string]int) []string {
	var out []string
	for id, n := range counts {
		if n > 1 {
			out = append(out, fmt.Sprintf("%s x%d", id, n))
		}
	}
	sort.Strings(out)
	return out
}

func main() {
	var (
		duration = flag.Duration("duration", 30*time.Second, "How long to consume")
		brokers  = flag.String("brokers", "127.0.0.1:9092", "Kafka broker addresses")
	)
	flag.Parse()

	logger, err := logging.NewLogger("verifier", "info")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	cfg := &msg.Config{
		Brokers:  msg.ParseBrokers(*brokers),
		ClientID: "tablegw-verifier",
		Group:    "tablegw-verifier-" + uuid.New().String(),
	}

	logger.Info("starting verifier",
		zap.Duration("duration", *duration),
		zap.Strings("brokers", cfg.Brokers),
	)

	consumer, err := msg.NewConsumer(cfg, []string{msg.TopicOrders}, logger)
	if err != nil {
		logger.Fatal("failed to create consumer", zap.Error(err))
	}
	defer consumer.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	rep := newReport()
	err = consumer.Run(ctx, func(ctx context.Context, rec msg.Record) error {
		var ev msg.OrderEventMsg
		if err := json.Unmarshal(rec.Value, &ev); err != nil {
			logger.Warn("failed to unmarshal event", zap.Error(err))
			return nil
		}
		rep.add(ev)

		logger.Debug("consumed event",
			zap.String("event_id", ev.EventID),
			zap.Int64("client_id", ev.ClientID),
			zap.String("state", ev.State),
			zap.Int32("partition", rec.Partition),
			zap.Int64("offset", rec.Offset),
		)
		return nil
	})
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		logger.Error("consumer error", zap.Error(err))
	}

	dupEvents := duplicates(rep.eventIDs)
	dupCommands := duplicates(rep.commandIDs)

	fmt.Println("\n=== Verification Results ===")
	fmt.Printf("Total events consumed: %d\n", rep.events)
	fmt.Printf("Command outcomes: %d\n", len(rep.commandIDs))
	fmt.Printf("Orders tracked: %d\n", len(rep.filled))
	fmt.Printf("Duplicate event IDs: %d\n", len(dupEvents))
	fmt.Printf("Duplicate command outcomes: %d\n", len(dupCommands))
	fmt.Printf("Filled quantity regressions: %d\n", len(rep.regressions))

	failed := false
	for _, group := range [][]string{dupEvents, dupCommands, rep.regressions} {
		for _, line := range group {
			fmt.Printf("  %s\n", line)
			failed = true
		}
	}
	if failed {
		fmt.Println("\nVERIFICATION FAILED")
		os.Exit(1)
	}
	fmt.Println("\nVERIFICATION PASSED")
}
