package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

type (
	// Config holds configuration settings for the workflow host
	Config struct {
		// API server
		APIHost  string
		APIPort  int
		LogLevel string

		// Base addresses receive points are registered under. Typically
		// one, but multi-address hosts are supported
		BaseAddresses []string

		// Dispatch
		WorkflowTimeout     time.Duration
		ResumeBackoff       time.Duration
		ResumeBackoffFactor float64

		// Idle handling
		TimeToUnload  time.Duration
		TimeToPersist time.Duration

		// Instance store
		Store StoreConfig

		// Error responses include failure details when enabled
		IncludeErrorDetails bool

		ShutdownTimeout time.Duration
	}

	// StoreConfig selects and configures the durable instance store
	StoreConfig struct {
		Backend string

		// Redis backend
		Addr     string
		Password string
		DB       int
		Prefix   string

		// Blob backend
		BucketURL  string
		BlobPrefix string
	}
)

const (
	StoreBackendInMem = "inmem"
	StoreBackendRedis = "redis"
	StoreBackendBlob  = "blob"

	DefaultAPIHost         = "0.0.0.0"
	DefaultAPIPort         = 8080
	MaxTCPPort             = 65535
	DefaultBaseAddress     = "http://localhost:8080/"
	DefaultWorkflowTimeout = 60 * time.Second
	DefaultResumeBackoff   = 10 * time.Millisecond
	DefaultResumeFactor    = 2.0
	DefaultShutdownTimeout = 10 * time.Second
	DefaultRedisEndpoint   = "localhost:6379"
	DefaultRedisDB         = 0
	DefaultStorePrefix     = "flowmark"

	MaxWorkflowTimeout = 24 * time.Hour
	MaxResumeBackoff   = time.Minute
)

var (
	ErrInvalidAPIPort = errors.New("invalid API port")
	ErrNoBaseAddress  = errors.New(
		"at least one base address is required",
	)
	ErrInvalidBaseAddress     = errors.New("invalid base address")
	ErrInvalidWorkflowTimeout = errors.New(
		"workflow timeout must be positive",
	)
	ErrInvalidResumeBackoff = errors.New(
		"resume backoff must be positive",
	)
	ErrInvalidResumeFactor = errors.New(
		"resume backoff factor must be at least 1",
	)
	ErrInvalidStoreBackend = errors.New("invalid store backend")
	ErrMissingBucketURL    = errors.New(
		"blob store requires a bucket URL",
	)
)

// NewDefaultConfig creates a configuration with sensible defaults for the
// host, dispatch timing, and instance store
func NewDefaultConfig() *Config {
	return &Config{
		APIHost:             DefaultAPIHost,
		APIPort:             DefaultAPIPort,
		LogLevel:            "info",
		BaseAddresses:       []string{DefaultBaseAddress},
		WorkflowTimeout:     DefaultWorkflowTimeout,
		ResumeBackoff:       DefaultResumeBackoff,
		ResumeBackoffFactor: DefaultResumeFactor,
		Store: StoreConfig{
			Backend: StoreBackendInMem,
			Addr:    DefaultRedisEndpoint,
			DB:      DefaultRedisDB,
			Prefix:  DefaultStorePrefix,
		},
		ShutdownTimeout: DefaultShutdownTimeout,
	}
}

// LoadFromEnv populates configuration values from environment variables.
// Returns an error if any value cannot be parsed
func (c *Config) LoadFromEnv() error {
	if host := os.Getenv("API_HOST"); host != "" {
		c.APIHost = host
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		c.LogLevel = level
	}
	if addrs := os.Getenv("BASE_ADDRESSES"); addrs != "" {
		c.BaseAddresses = splitAndTrim(addrs)
	}
	if backend := os.Getenv("STORE_BACKEND"); backend != "" {
		c.Store.Backend = backend
	}
	if addr := os.Getenv("STORE_REDIS_ADDR"); addr != "" {
		c.Store.Addr = addr
	}
	if password := os.Getenv("STORE_REDIS_PASSWORD"); password != "" {
		c.Store.Password = password
	}
	if prefix := os.Getenv("STORE_PREFIX"); prefix != "" {
		c.Store.Prefix = prefix
	}
	if bucket := os.Getenv("STORE_BUCKET_URL"); bucket != "" {
		c.Store.BucketURL = bucket
	}
	if prefix := os.Getenv("STORE_BLOB_PREFIX"); prefix != "" {
		c.Store.BlobPrefix = prefix
	}
	if details := os.Getenv("INCLUDE_ERROR_DETAILS"); details != "" {
		c.IncludeErrorDetails = details == "true" || details == "1"
	}

	if err := loadEnvInt("API_PORT", &c.APIPort, 0, MaxTCPPort); err != nil {
		return err
	}
	if err := loadEnvInt(
		"STORE_REDIS_DB", &c.Store.DB, -1, 15,
	); err != nil {
		return err
	}

	if err := loadEnvDuration(
		"WORKFLOW_TIMEOUT", &c.WorkflowTimeout,
	); err != nil {
		return err
	}
	if err := loadEnvDuration(
		"RESUME_BACKOFF", &c.ResumeBackoff,
	); err != nil {
		return err
	}
	if err := loadEnvDuration(
		"TIME_TO_UNLOAD", &c.TimeToUnload,
	); err != nil {
		return err
	}
	if err := loadEnvDuration(
		"TIME_TO_PERSIST", &c.TimeToPersist,
	); err != nil {
		return err
	}
	if err := loadEnvDuration(
		"SHUTDOWN_TIMEOUT", &c.ShutdownTimeout,
	); err != nil {
		return err
	}

	if factor := os.Getenv("RESUME_BACKOFF_FACTOR"); factor != "" {
		f, err := strconv.ParseFloat(factor, 64)
		if err != nil {
			return fmt.Errorf("invalid RESUME_BACKOFF_FACTOR: %q", factor)
		}
		c.ResumeBackoffFactor = f
	}

	return nil
}

// PersistOnIdle reports whether idle transitions should checkpoint the
// instance without unloading it
func (c *Config) PersistOnIdle() bool {
	return c.TimeToPersist > 0
}

// UnloadOnIdle reports whether idle instances are eventually unloaded
func (c *Config) UnloadOnIdle() bool {
	return c.TimeToUnload > 0
}

// Validate checks that all configuration values are usable
func (c *Config) Validate() error {
	if c.APIPort <= 0 || c.APIPort > MaxTCPPort {
		return fmt.Errorf("%w: %d", ErrInvalidAPIPort, c.APIPort)
	}

	if len(c.BaseAddresses) == 0 {
		return ErrNoBaseAddress
	}
	for _, addr := range c.BaseAddresses {
		u, err := url.Parse(addr)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%w: %s", ErrInvalidBaseAddress, addr)
		}
	}

	if c.WorkflowTimeout <= 0 || c.WorkflowTimeout > MaxWorkflowTimeout {
		return ErrInvalidWorkflowTimeout
	}
	if c.ResumeBackoff <= 0 || c.ResumeBackoff > MaxResumeBackoff {
		return ErrInvalidResumeBackoff
	}
	if c.ResumeBackoffFactor < 1 {
		return ErrInvalidResumeFactor
	}

	switch c.Store.Backend {
	case StoreBackendInMem, StoreBackendRedis:
	case StoreBackendBlob:
		if c.Store.BucketURL == "" {
			return ErrMissingBucketURL
		}
	default:
		return fmt.Errorf("%w: %s", ErrInvalidStoreBackend, c.Store.Backend)
	}

	return nil
}

func splitAndTrim(s string) []string {
	var res []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			res = append(res, part)
		}
	}
	return res
}

func loadEnvInt(key string, dst *int, min, max int) error {
	s := os.Getenv(key)
	if s == "" {
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("invalid %s: %q", key, s)
	}
	if v <= min || v > max {
		return fmt.Errorf("invalid %s: %d out of range (%d, %d]",
			key, v, min, max)
	}
	*dst = v
	return nil
}

func loadEnvDuration(key string, dst *time.Duration) error {
	s := os.Getenv(key)
	if s == "" {
		return nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid %s: %q", key, s)
	}
	if d < 0 {
		return fmt.Errorf("invalid %s: must not be negative", key)
	}
	*dst = d
	return nil
}
