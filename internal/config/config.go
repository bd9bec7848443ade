package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap/zapcore"
)

// Config holds configuration for all services
type Config struct {
	// Service name
	ServiceName string

	// gRPC server port
	GRPCPort int

	// HTTP server port
	HTTPPort int

	// Log level: debug, info, warn, error
	LogLevel string

	// Gateway gRPC address dialled by the CLI and simulator
	GatewayGRPCAddr string

	// Paths of the external tables; they may share one database file
	OrderTablePath   string
	FillTablePath    string
	AccountTablePath string

	// Market feed file; empty disables the poller
	FeedPath     string
	FeedInterval time.Duration

	ScanInterval            time.Duration
	TimerInterval           time.Duration
	RequestTimeout          time.Duration
	SnapshotRefreshInterval time.Duration

	ClientIDBase int64
	AccountType  string
	T0Prefixes   []string

	// Kafka brokers (comma-separated); empty disables Kafka
	KafkaBrokers string

	// Directory for local state such as the outbox database
	DataDir string
}

// LoadConfig loads configuration from environment variables with defaults
func LoadConfig(serviceName string) (*Config, error) {
	dataDir := getEnvAsString("DATA_DIR", "./.data")
	tablePath := dataDir + "/tables.db"

	cfg := &Config{
		ServiceName:             serviceName,
		GRPCPort:                getEnvAsInt("PORT_GRPC", 50061),
		HTTPPort:                getEnvAsInt("PORT_HTTP", 8080),
		LogLevel:                getEnvAsString("LOG_LEVEL", "info"),
		GatewayGRPCAddr:         getEnvAsString("GATEWAY_GRPC_ADDR", "127.0.0.1:50061"),
		OrderTablePath:          getEnvAsString("TABLE_ORDER_PATH", tablePath),
		FillTablePath:           getEnvAsString("TABLE_FILL_PATH", tablePath),
		AccountTablePath:        getEnvAsString("TABLE_ACCOUNT_PATH", tablePath),
		FeedPath:                getEnvAsString("FEED_PATH", ""),
		FeedInterval:            getEnvAsDuration("FEED_INTERVAL", 2*time.Second),
		ScanInterval:            getEnvAsDuration("SCAN_INTERVAL", time.Second),
		TimerInterval:           getEnvAsDuration("TIMER_INTERVAL", time.Second),
		RequestTimeout:          getEnvAsDuration("REQUEST_TIMEOUT", 5*time.Second),
		SnapshotRefreshInterval: getEnvAsDuration("SNAPSHOT_REFRESH_INTERVAL", 0),
		ClientIDBase:            int64(getEnvAsInt("CLIENT_ID_BASE", 1000)),
		AccountType:             getEnvAsString("ACCOUNT_TYPE", "S0"),
		T0Prefixes:              getEnvAsList("T0_PREFIXES", []string{"511"}),
		KafkaBrokers:            getEnvAsString("KAFKA_BROKERS", ""),
		DataDir:                 dataDir,
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the loaded values
func (c *Config) Validate() error {
	var errs []error
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("LOG_LEVEL: %w", err))
	}
	if c.OrderTablePath == "" || c.FillTablePath == "" || c.AccountTablePath == "" {
		errs = append(errs, errors.New("table paths must not be empty"))
	}
	for name, d := range map[string]time.Duration{
		"FEED_INTERVAL":   c.FeedInterval,
		"SCAN_INTERVAL":   c.ScanInterval,
		"TIMER_INTERVAL":  c.TimerInterval,
		"REQUEST_TIMEOUT": c.RequestTimeout,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, d))
		}
	}
	if c.SnapshotRefreshInterval < 0 {
		errs = append(errs, fmt.Errorf("SNAPSHOT_REFRESH_INTERVAL must not be negative"))
	}
	if c.ClientIDBase <= 0 {
		errs = append(errs, fmt.Errorf("CLIENT_ID_BASE must be positive, got %d", c.ClientIDBase))
	}
	return errors.Join(errs...)
}

// GRPCAddr returns the gRPC server address
func (c *Config) GRPCAddr() string {
	return fmt.Sprintf(":%d", c.GRPCPort)
}

// HTTPAddr returns the HTTP server address
func (c *Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

// KafkaEnabled reports whether brokers are configured
func (c *Config) KafkaEnabled() bool {
	return strings.TrimSpace(c.KafkaBrokers) != ""
}

// SharedTables reports whether all three tables live in one database file
func (c *Config) SharedTables() bool {
	return c.OrderTablePath == c.FillTablePath && c.FillTablePath == c.AccountTablePath
}

func getEnvAsString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
