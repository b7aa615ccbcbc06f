// Package config provides configuration management for the nonce submitter.
package config

import (
	"errors"
	"flag"
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"
)

// Build-time variables (set via -ldflags)
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// Config holds the application configuration.
type Config struct {
	Port           int
	APIKey         string
	LogFile        string
	MaxLogFileSize int
	LogLevel       string

	// Blockchain configuration
	RPCURL        string
	SecretKey     string
	GasMultiplier float64
	GasPriceWei   string

	// Dispatcher configuration
	Workers      int
	QueueSize    int
	WaitReceipts bool
	TxTimeout    time.Duration
}

// Parse parses command-line flags and returns a Config. SECRET_KEY is read
// from the environment.
func Parse() *Config {
	cfg, err := parse(flag.CommandLine, os.Args[1:])
	if err != nil {
		// flag.ExitOnError already exited for malformed flags.
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	return cfg
}

func parse(fs *flag.FlagSet, args []string) (*Config, error) {
	cfg := &Config{}

	fs.IntVar(&cfg.Port, "port", 8080, "HTTP server port")
	fs.StringVar(&cfg.APIKey, "api-key", "", "API key for request authentication (optional, no auth if empty)")
	fs.StringVar(&cfg.LogFile, "log-file", "", "Path to log file (default: stdout)")
	fs.IntVar(&cfg.MaxLogFileSize, "max-log-file-size", 10*1024*1024, "Max log file size in bytes before rotation (default: 10MB)")
	fs.StringVar(&cfg.LogLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	// Blockchain configuration
	fs.StringVar(&cfg.RPCURL, "rpc-url", "https://dream-rpc.somnia.network/", "Blockchain RPC URL")
	fs.Float64Var(&cfg.GasMultiplier, "gas-multiplier", 1.2, "Multiplier applied to estimated gas limits")
	fs.StringVar(&cfg.GasPriceWei, "gas-price", "", "Fixed legacy gas price in wei (empty to use node suggestions)")

	// Dispatcher configuration
	fs.IntVar(&cfg.Workers, "workers", 4, "Number of concurrent transaction workers")
	fs.IntVar(&cfg.QueueSize, "queue-size", 64, "Number of transactions that may wait for a worker")
	fs.BoolVar(&cfg.WaitReceipts, "wait-receipts", true, "Wait for receipts before answering /tx by default")
	fs.DurationVar(&cfg.TxTimeout, "tx-timeout", 2*time.Minute, "Timeout for a single transaction request")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg.SecretKey = os.Getenv("SECRET_KEY")

	return cfg, nil
}

// GasPrice returns the fixed gas price, or nil when none is configured.
func (c *Config) GasPrice() (*big.Int, error) {
	if c.GasPriceWei == "" {
		return nil, nil
	}
	price, ok := new(big.Int).SetString(c.GasPriceWei, 10)
	if !ok || price.Sign() <= 0 {
		return nil, fmt.Errorf("invalid gas price: %s", c.GasPriceWei)
	}
	return price, nil
}

// Validate reports configuration errors.
func (c *Config) Validate() error {
	var errs []error

	if c.SecretKey == "" {
		errs = append(errs, errors.New("SECRET_KEY environment variable is required"))
	}
	if c.RPCURL == "" {
		errs = append(errs, errors.New("--rpc-url is required"))
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid port: %d", c.Port))
	}
	if c.Workers < 1 {
		errs = append(errs, fmt.Errorf("--workers must be at least 1, got %d", c.Workers))
	}
	if c.QueueSize < 0 {
		errs = append(errs, fmt.Errorf("--queue-size must not be negative, got %d", c.QueueSize))
	}
	if c.GasMultiplier < 1 {
		errs = append(errs, fmt.Errorf("--gas-multiplier must be at least 1, got %v", c.GasMultiplier))
	}
	if _, err := c.GasPrice(); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("invalid log level: %s", c.LogLevel))
	}

	return errors.Join(errs...)
}
