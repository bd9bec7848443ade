package msg

import (
	"os"
	"strings"
)

// Config holds Kafka configuration
type Config struct {
	Brokers  []string
	ClientID string
	Group    string
}

// Topic names
const (
	TopicCommands = "tablegw.commands"
	TopicOrders   = "tablegw.orders"
	TopicTrades   = "tablegw.trades"
)

// LoadConfig loads Kafka configuration from environment variables. Brokers
// is empty when KAFKA_BROKERS is unset.
func LoadConfig() *Config {
	return &Config{
		Brokers:  ParseBrokers(os.Getenv("KAFKA_BROKERS")),
		ClientID: getEnvAsString("KAFKA_CLIENT_ID", "tablegw"),
		Group:    getEnvAsString("KAFKA_GROUP", "tablegw-commands"),
	}
}

// ParseBrokers splits a comma separated broker list
func ParseBrokers(s string) []string {
	var brokers []string
	for _, b := range strings.Split(s, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

// Enabled reports whether any broker is configured
func (c *Config) Enabled() bool {
	return len(c.Brokers) > 0
}

func getEnvAsString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
