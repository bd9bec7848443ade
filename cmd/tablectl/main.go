package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/ismaiel54/table-order-gateway/internal/logging"
	"github.com/ismaiel54/table-order-gateway/internal/msg"
	"github.com/ismaiel54/table-order-gateway/internal/rpc/gatewaysvc"
	"go.uber.org/zap"
)

const usage = `Usage: tablectl [flags] <command> [args]

Commands:
  submit <account> <symbol> <buy|sell> <qty> <price> [price_type]
  cancel <account> <client_id>
  account <account>
  positions <account>
  orders <account> [cancelable]
  order <client_id>

Flags:
`

func main() {
	var (
		addr     = flag.String("addr", envOr("GATEWAY_GRPC_ADDR", "127.0.0.1:50061"), "Gateway gRPC address")
		timeout  = flag.Duration("timeout", 5*time.Second, "Per-call timeout")
		viaKafka = flag.Bool("kafka", false, "Send submit and cancel as Kafka commands instead of gRPC calls")
		brokers  = flag.String("brokers", envOr("KAFKA_BROKERS", "127.0.0.1:9092"), "Kafka broker addresses")
		logLevel = flag.String("log-level", "warn", "Log level")
	)
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	logger, err := logging.NewLogger("tablectl", *logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if *viaKafka && (args[0] == "submit" || args[0] == "cancel") {
		err = sendCommand(ctx, *brokers, args, logger)
	} else {
		err = call(ctx, *addr, *timeout, args, logger)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func call(ctx context.Context, addr string, timeout time.Duration, args []string, logger *zap.Logger) error {
	client, err := gatewaysvc.Dial(ctx, addr, timeout, logger)
	if err != nil {
		return err
	}
	defer client.Close()

	var reply any
	switch args[0] {
	case "submit":
		req, err := submitRequest(args[1:])
		if err != nil {
			return err
		}
		reply, err = client.Submit(ctx, req)
		if err != nil {
			return err
		}
	case "cancel":
		if len(args) != 3 {
			return fmt.Errorf("cancel needs <account> <client_id>")
		}
		id, err := strconv.ParseInt(args[2], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid client_id %q", args[2])
		}
		reply, err = client.Cancel(ctx, &gatewaysvc.CancelRequest{Account: args[1], ClientID: id})
		if err != nil {
			return err
		}
	case "account":
		if len(args) != 2 {
			return fmt.Errorf("account needs <account>")
		}
		reply, err = client.GetAccount(ctx, &gatewaysvc.AccountRequest{Account: args[1]})
		if err != nil {
			return err
		}
	case "positions":
		if len(args) != 2 {
			return fmt.Errorf("positions needs <account>")
		}
		reply, err = client.ListPositions(ctx, &gatewaysvc.AccountRequest{Account: args[1]})
		if err != nil {
			return err
		}
	case "orders":
		if len(args) < 2 {
			return fmt.Errorf("orders needs <account>")
		}
		req := &gatewaysvc.OrdersRequest{Account: args[1], CancelableOnly: len(args) > 2 && args[2] == "cancelable"}
		reply, err = client.ListOrders(ctx, req)
		if err != nil {
			return err
		}
	case "order":
		if len(args) != 2 {
			return fmt.Errorf("order needs <client_id>")
		}
		id, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid client_id %q", args[1])
		}
		reply, err = client.ListOrders(ctx, &gatewaysvc.OrdersRequest{ClientID: id})
		if err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}

	return printJSON(reply)
}

func submitRequest(args []string) (*gatewaysvc.SubmitRequest, error) {
	if len(args) < 5 {
		return nil, fmt.Errorf("submit needs <account> <symbol> <side> <qty> <price>")
	}
	qty, err := strconv.ParseInt(args[3], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid qty %q", args[3])
	}
	req := &gatewaysvc.SubmitRequest{
		Account: args[0],
		Symbol:  args[1],
		Side:    args[2],
		Qty:     qty,
		Price:   args[4],
	}
	if len(args) > 5 {
		req.PriceType = args[5]
	}
	return req, nil
}

// sendCommand publishes submit or cancel to the command topic. The gateway
// executes each command id at most once and reports the outcome on the
// orders topic.
func sendCommand(ctx context.Context, brokers string, args []string, logger *zap.Logger) error {
	cmd := msg.CommandMsg{
		CommandID:    uuid.New().String(),
		TsUnixMillis: time.Now().UnixMilli(),
	}

	switch args[0] {
	case "submit":
		req, err := submitRequest(args[1:])
		if err != nil {
			return err
		}
		cmd.Kind = msg.CommandSubmit
		cmd.Account = req.Account
		cmd.Symbol = req.Symbol
		cmd.Side = req.Side
		cmd.Qty = req.Qty
		cmd.Price = req.Price
		cmd.PriceType = req.PriceType
	case "cancel":
		if len(args) != 3 {
			return fmt.Errorf("cancel needs <account> <client_id>")
		}
		id, err := strconv.ParseInt(args[2], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid client_id %q", args[2])
		}
		cmd.Kind = msg.CommandCancel
		cmd.Account = args[1]
		cmd.ClientID = id
	}
	if err := cmd.Validate(); err != nil {
		return err
	}

	producer, err := msg.NewProducer(&msg.Config{Brokers: msg.ParseBrokers(brokers), ClientID: "tablectl"}, logger)
	if err != nil {
		return err
	}
	defer producer.Close()

	if err := producer.ProduceJSON(ctx, msg.TopicCommands, cmd.Account, cmd); err != nil {
		return err
	}
	return printJSON(map[string]string{"command_id": cmd.CommandID, "topic": msg.TopicCommands})
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
