// Package config centralizes environment-driven configuration for the API
// server and the workers.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Environment variable names
const (
	// EnvBrokerHost is the Redis broker host
	EnvBrokerHost = "BROKER_HOST"
	// EnvBrokerPort is the Redis broker port
	EnvBrokerPort = "BROKER_PORT"
	// EnvBrokerPassword is the Redis broker password
	EnvBrokerPassword = "BROKER_PASSWORD"
	// EnvBrokerDB is the Redis logical database index
	EnvBrokerDB = "BROKER_DB"
	// EnvStoreURI is the Postgres DSN for the job store
	EnvStoreURI = "STORE_URI"
	// EnvAPIPort is the port the API server listens on
	EnvAPIPort = "API_PORT"
	// EnvWorkerType selects which queue a worker instance consumes
	EnvWorkerType = "WORKER_TYPE"
	// EnvCompileConcurrency is the per-instance compile dispatch cap
	EnvCompileConcurrency = "COMPILE_WORKER_CONCURRENCY"
	// EnvDeployConcurrency is the per-instance deploy dispatch cap
	EnvDeployConcurrency = "DEPLOY_WORKER_CONCURRENCY"
	// EnvPaymentNetwork selects the deploy network (testnet or mainnet)
	EnvPaymentNetwork = "PAYMENT_NETWORK"
	// EnvHorizonURL is the Horizon endpoint used for deploy probes
	EnvHorizonURL = "HORIZON_URL"
	// EnvCORSOrigins is the comma-separated CORS allow-list
	EnvCORSOrigins = "CORS_ORIGINS"
)

// Defaults
const (
	DefaultBrokerHost  = "localhost"
	DefaultBrokerPort  = 6379
	DefaultBrokerDB    = 0
	DefaultAPIPort     = "8080"
	DefaultConcurrency = 2
	DefaultNetwork     = "testnet"
	DefaultHorizonURL  = "https://horizon-testnet.stellar.org"
	DefaultCORSOrigins = "http://localhost:3000,http://localhost:5173"
)

// GetEnv retrieves the value of an environment variable with a fallback value if not set
func GetEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// GetEnvInt retrieves an integer environment variable with a fallback value
func GetEnvInt(key string, fallback int) int {
	value, exists := os.LookupEnv(key)
	if !exists {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return n
}

// Broker holds connection options for the Redis broker that backs both the
// job queue and the pub/sub bus.
type Broker struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// Addr returns the host:port address of the broker.
func (b Broker) Addr() string {
	return fmt.Sprintf("%s:%d", b.Host, b.Port)
}

// BrokerFromEnv reads broker options from the environment.
func BrokerFromEnv() Broker {
	return Broker{
		Host:     GetEnv(EnvBrokerHost, DefaultBrokerHost),
		Port:     GetEnvInt(EnvBrokerPort, DefaultBrokerPort),
		Password: GetEnv(EnvBrokerPassword, ""),
		DB:       GetEnvInt(EnvBrokerDB, DefaultBrokerDB),
	}
}

// CORSOrigins returns the configured CORS allow-list.
func CORSOrigins() string {
	return strings.TrimSpace(GetEnv(EnvCORSOrigins, DefaultCORSOrigins))
}

// Network returns the configured deploy network.
func Network() string {
	return GetEnv(EnvPaymentNetwork, DefaultNetwork)
}

// HorizonURL returns the configured Horizon endpoint.
func HorizonURL() string {
	return GetEnv(EnvHorizonURL, DefaultHorizonURL)
}
