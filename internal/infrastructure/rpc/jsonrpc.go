package rpc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/goccy/go-json"
	"go.uber.org/zap"

	domain "github.com/care/erpsync/internal/domain/sync"
)

// JSON-RPC endpoints of the remote accounting system
const (
	authenticatePath = "/web/session/authenticate"
	callPath         = "/web/dataset/call_kw"
	destroyPath      = "/web/session/destroy"
)

const sessionCookieName = "session_id"

// maxResponseSize is the maximum allowed response size from the remote (10MB)
const maxResponseSize = 10 * 1024 * 1024

// ---------------------------------------------------------------------------
// Wire types
// ---------------------------------------------------------------------------

type rpcRequest struct {
	Jsonrpc string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
	ID      int64  `json:"id"`
}

type rpcErrorData struct {
	Name    string `json:"name"`
	Message string `json:"message"`
	Debug   string `json:"debug,omitempty"`
}

type rpcError struct {
	Code    int          `json:"code"`
	Message string       `json:"message"`
	Data    rpcErrorData `json:"data"`
}

func (e *rpcError) text() string {
	if e.Data.Message != "" {
		return e.Data.Message
	}
	return e.Message
}

type rpcResponse struct {
	Jsonrpc string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
}

// ---------------------------------------------------------------------------
// JSONRPCConnection
// ---------------------------------------------------------------------------

// JSONRPCConnection implements Connection over HTTP(S) POST with JSON-RPC
// bodies. The authenticated session lives in the injected cache under this
// connection's identity; refreshing it is serialized so concurrent callers
// reuse one authentication round trip.
type JSONRPCConnection struct {
	cfg        Config
	httpClient *http.Client
	sessions   domain.SessionCache
	logger     *zap.Logger

	mu        sync.Mutex // serializes session refresh
	requestID atomic.Int64
}

var _ Connection = (*JSONRPCConnection)(nil)

// NewJSONRPCConnection creates a connection with the given configuration.
func NewJSONRPCConnection(cfg Config, sessions domain.SessionCache, logger *zap.Logger) (*JSONRPCConnection, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &JSONRPCConnection{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		sessions: sessions,
		logger:   logger,
	}, nil
}

// Authenticate establishes a fresh session and caches it.
func (c *JSONRPCConnection) Authenticate(ctx context.Context) (*domain.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authenticateLocked(ctx)
}

// authenticateLocked performs the authentication round trip. Callers hold mu.
func (c *JSONRPCConnection) authenticateLocked(ctx context.Context) (*domain.Session, error) {
	resp, cookie, err := c.post(ctx, authenticatePath, map[string]any{
		"db":       c.cfg.Database,
		"login":    c.cfg.Username,
		"password": c.cfg.Password,
	}, "")
	if err != nil {
		if errors.Is(err, domain.ErrAuthentication) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: authenticate: %v", domain.ErrConnection, err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrAuthentication, resp.Error.text())
	}

	var result map[string]any
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, fmt.Errorf("%w: malformed authenticate result: %v", domain.ErrAuthentication, err)
	}
	uid, ok := result["uid"].(float64)
	if !ok || uid == 0 {
		return nil, fmt.Errorf("%w: credentials rejected for user %s", domain.ErrAuthentication, c.cfg.Username)
	}

	session := &domain.Session{
		UID:       int64(uid),
		Token:     cookie,
		Database:  c.cfg.Database,
		ExpiresAt: time.Now().Add(c.cfg.CacheTTL),
	}

	if err := c.sessions.Set(ctx, c.cfg.cacheKey(), session, c.cfg.CacheTTL); err != nil {
		c.logger.Warn("failed to cache session", zap.Error(err))
	}

	c.logger.Info("authenticated with remote system",
		zap.String("database", c.cfg.Database),
		zap.String("username", c.cfg.Username),
		zap.Int64("uid", session.UID),
	)
	return session, nil
}

// ensureSession returns a live session, authenticating at most once across
// concurrent callers.
func (c *JSONRPCConnection) ensureSession(ctx context.Context) (*domain.Session, error) {
	now := time.Now()
	if session, ok, err := c.sessions.Get(ctx, c.cfg.cacheKey()); err == nil && ok && session.Valid(now) {
		return session, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Another caller may have refreshed while we waited on the mutex.
	if session, ok, err := c.sessions.Get(ctx, c.cfg.cacheKey()); err == nil && ok && session.Valid(time.Now()) {
		return session, nil
	}
	return c.authenticateLocked(ctx)
}

// Call invokes collection.method remotely. See Connection for retry and
// error semantics.
func (c *JSONRPCConnection) Call(ctx context.Context, collection, method string, args []any, kwargs map[string]any) (any, error) {
	if args == nil {
		args = []any{}
	}
	if kwargs == nil {
		kwargs = map[string]any{}
	}

	var result any
	attempt := 0
	reauthenticated := false

	operation := func() error {
		attempt++

		session, err := c.ensureSession(ctx)
		if err != nil {
			if errors.Is(err, domain.ErrAuthentication) {
				// Retrying would not change the outcome.
				return backoff.Permanent(err)
			}
			return err
		}

		resp, _, err := c.post(ctx, callPath, map[string]any{
			"model":  collection,
			"method": method,
			"args":   args,
			"kwargs": kwargs,
		}, session.Token)
		if err != nil {
			if errors.Is(err, domain.ErrAuthentication) {
				return c.handleAuthFailure(ctx, err, &reauthenticated)
			}
			if errors.Is(err, domain.ErrConnection) {
				return err
			}
			return backoff.Permanent(err)
		}
		if resp.Error != nil {
			mapped := mapRemoteError(resp.Error)
			if errors.Is(mapped, domain.ErrAuthentication) {
				return c.handleAuthFailure(ctx, mapped, &reauthenticated)
			}
			return backoff.Permanent(mapped)
		}

		if len(resp.Result) > 0 {
			if err := json.Unmarshal(resp.Result, &result); err != nil {
				return backoff.Permanent(fmt.Errorf("%w: decoding %s.%s result: %v",
					domain.ErrResource, collection, method, err))
			}
		}
		return nil
	}

	notify := func(err error, next time.Duration) {
		c.logger.Warn("remote call failed, will retry",
			zap.String("collection", collection),
			zap.String("method", method),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", next),
			zap.Error(err),
		)
	}

	if err := backoff.RetryNotify(operation, c.newBackOff(ctx), notify); err != nil {
		if errors.Is(err, domain.ErrConnection) {
			return nil, fmt.Errorf("%s.%s failed after %d attempt(s): %w", collection, method, attempt, err)
		}
		return nil, err
	}
	return result, nil
}

// handleAuthFailure invalidates the cached session so the next attempt
// re-authenticates before retrying the original method. A second
// authentication failure on the same call is final.
func (c *JSONRPCConnection) handleAuthFailure(ctx context.Context, err error, reauthenticated *bool) error {
	if cacheErr := c.sessions.Invalidate(ctx, c.cfg.cacheKey()); cacheErr != nil {
		c.logger.Warn("failed to invalidate cached session", zap.Error(cacheErr))
	}
	if *reauthenticated {
		return backoff.Permanent(err)
	}
	*reauthenticated = true
	c.logger.Info("session rejected mid-call, re-authenticating", zap.Error(err))
	return err
}

// Close tears down the remote session best-effort.
func (c *JSONRPCConnection) Close(ctx context.Context) error {
	session, ok, err := c.sessions.Get(ctx, c.cfg.cacheKey())
	if err != nil || !ok {
		return nil
	}

	if _, _, err := c.post(ctx, destroyPath, map[string]any{}, session.Token); err != nil {
		c.logger.Warn("session teardown failed", zap.Error(err))
	}
	if err := c.sessions.Invalidate(ctx, c.cfg.cacheKey()); err != nil {
		c.logger.Warn("failed to drop cached session", zap.Error(err))
	}
	return nil
}

// TestConnection authenticates and issues a cheap read-only call.
func (c *JSONRPCConnection) TestConnection(ctx context.Context) error {
	if _, err := c.Authenticate(ctx); err != nil {
		return err
	}
	_, err := c.Call(ctx, "ir.module.module", "search_count", []any{[]any{}}, nil)
	return err
}

// ---------------------------------------------------------------------------
// Transport
// ---------------------------------------------------------------------------

// post sends one JSON-RPC envelope and returns the parsed response plus any
// session cookie the remote set.
func (c *JSONRPCConnection) post(ctx context.Context, path string, params any, token string) (*rpcResponse, string, error) {
	payload := rpcRequest{
		Jsonrpc: "2.0",
		Method:  "call",
		Params:  params,
		ID:      c.requestID.Add(1),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, "", fmt.Errorf("%w: encoding request: %v", domain.ErrIntegration, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, "", fmt.Errorf("%w: building request: %v", domain.ErrIntegration, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("X-API-Key", c.cfg.APIKey)
	}
	if token != "" {
		req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: token})
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %s: %v", domain.ErrConnection, path, err)
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp.StatusCode, path); err != nil {
		return nil, "", err
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, "", fmt.Errorf("%w: reading %s response: %v", domain.ErrConnection, path, err)
	}

	var parsed rpcResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, "", fmt.Errorf("%w: malformed %s response: %v", domain.ErrResource, path, err)
	}

	cookie := ""
	for _, ck := range resp.Cookies() {
		if ck.Name == sessionCookieName {
			cookie = ck.Value
		}
	}
	return &parsed, cookie, nil
}

// classifyStatus maps an HTTP status onto the error taxonomy. 429 and 5xx
// are transient; 401/403 invalidate the session.
func classifyStatus(status int, path string) error {
	switch {
	case status == http.StatusOK:
		return nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w: %s returned HTTP %d", domain.ErrAuthentication, path, status)
	case status == http.StatusTooManyRequests || status >= 500:
		return fmt.Errorf("%w: %s returned HTTP %d", domain.ErrConnection, path, status)
	default:
		return fmt.Errorf("%w: %s returned HTTP %d", domain.ErrResource, path, status)
	}
}

// mapRemoteError classifies a remote application error by its exception
// name. These are deterministic rejections and are never retried.
func mapRemoteError(e *rpcError) error {
	name := e.Data.Name
	switch {
	case strings.Contains(name, "SessionExpired"),
		strings.Contains(name, "AccessDenied"),
		strings.Contains(name, "AccessError"):
		return fmt.Errorf("%w: %s", domain.ErrAuthentication, e.text())
	case strings.Contains(name, "ValidationError"),
		strings.Contains(name, "UserError"):
		return fmt.Errorf("%w: %s", domain.ErrResourceValidation, e.text())
	case strings.Contains(name, "MissingError"):
		return fmt.Errorf("%w: %s", domain.ErrResourceNotFound, e.text())
	default:
		return fmt.Errorf("%w: %s", domain.ErrResource, e.text())
	}
}

// newBackOff builds the per-call retry policy: exponential, capped, bounded
// by the configured attempt maximum, and cancellable through ctx.
func (c *JSONRPCConnection) newBackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.BackoffBase
	b.MaxInterval = c.cfg.BackoffMax
	b.Multiplier = 2.0
	b.RandomizationFactor = 0.25
	b.MaxElapsedTime = 0
	b.Reset()

	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.cfg.MaxRetries-1)), ctx)
}
