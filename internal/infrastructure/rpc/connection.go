package rpc

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/care/erpsync/internal/domain/sync"
)

// Config validation errors
var (
	ErrConfigMissingBaseURL  = errors.New("rpc: config missing base URL")
	ErrConfigMissingDatabase = errors.New("rpc: config missing database")
	ErrConfigMissingUsername = errors.New("rpc: config missing username")
	ErrConfigMissingPassword = errors.New("rpc: config missing password")
)

// Connection provides authenticated call semantics over the remote RPC
// transport, hiding session lifecycle and transient-failure retry from
// callers. One concrete implementation speaks JSON-RPC; future transports
// implement the same contract without touching callers.
type Connection interface {
	// Authenticate establishes or refreshes the session. A credential
	// rejection fails with ErrAuthentication and is never retried.
	Authenticate(ctx context.Context) (*domain.Session, error)

	// Call invokes a named remote method on a collection. Transport-level
	// failures are retried with exponential backoff up to the configured
	// maximum; remote application errors fail immediately with their typed
	// error and are never retried.
	Call(ctx context.Context, collection, method string, args []any, kwargs map[string]any) (any, error)

	// Close tears the session down best-effort. Failures are logged, not
	// propagated.
	Close(ctx context.Context) error
}

// Config holds the settings of one remote connection
type Config struct {
	BaseURL     string
	Database    string
	Username    string
	Password    string
	APIKey      string
	Timeout     time.Duration
	MaxRetries  int           // total call attempts on transport failure
	BackoffBase time.Duration // first retry delay, doubled each attempt
	BackoffMax  time.Duration // retry delay cap
	CacheTTL    time.Duration // session cache time-to-live
}

// Validate checks required fields and fills in defaults
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return ErrConfigMissingBaseURL
	}
	if c.Database == "" {
		return ErrConfigMissingDatabase
	}
	if c.Username == "" {
		return ErrConfigMissingUsername
	}
	if c.Password == "" && c.APIKey == "" {
		return ErrConfigMissingPassword
	}

	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.BackoffBase == 0 {
		c.BackoffBase = time.Second
	}
	if c.BackoffMax == 0 {
		c.BackoffMax = 30 * time.Second
	}
	if c.CacheTTL == 0 {
		c.CacheTTL = time.Hour
	}
	return nil
}

// cacheKey identifies this connection in the shared session cache
func (c *Config) cacheKey() string {
	return fmt.Sprintf("%s|%s|%s", c.BaseURL, c.Database, c.Username)
}
