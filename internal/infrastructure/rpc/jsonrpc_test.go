package rpc

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/care/erpsync/internal/infrastructure/cache"

	domain "github.com/care/erpsync/internal/domain/sync"
)

// ---------------------------------------------------------------------------
// Fake remote endpoint
// ---------------------------------------------------------------------------

type fakeRemote struct {
	mu           sync.Mutex
	authCalls    int
	callCalls    int
	destroyCalls int

	rejectAuth bool
	// onCall decides the response of the nth method call (1-based).
	onCall func(n int, w http.ResponseWriter)
}

func (f *fakeRemote) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch r.URL.Path {
	case authenticatePath:
		f.authCalls++
		if f.rejectAuth {
			writeRPCError(w, "odoo.exceptions.AccessDenied", "Access Denied")
			return
		}
		http.SetCookie(w, &http.Cookie{Name: sessionCookieName, Value: fmt.Sprintf("sess-%d", f.authCalls)})
		writeRPCResult(w, map[string]any{"uid": 7})
	case callPath:
		f.callCalls++
		if f.onCall != nil {
			f.onCall(f.callCalls, w)
			return
		}
		writeRPCResult(w, true)
	case destroyPath:
		f.destroyCalls++
		writeRPCResult(w, true)
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeRemote) counts() (auth, call, destroy int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.authCalls, f.callCalls, f.destroyCalls
}

func writeRPCResult(w http.ResponseWriter, result any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": 1, "result": result})
}

func writeRPCError(w http.ResponseWriter, name, message string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"error": map[string]any{
			"code":    200,
			"message": "Remote Server Error",
			"data":    map[string]any{"name": name, "message": message},
		},
	})
}

func newTestConnection(t *testing.T, baseURL string) (*JSONRPCConnection, *cache.MemorySessionCache) {
	t.Helper()

	sessions := cache.NewMemorySessionCache()
	t.Cleanup(func() { _ = sessions.Close() })

	conn, err := NewJSONRPCConnection(Config{
		BaseURL:     baseURL,
		Database:    "care",
		Username:    "integration",
		Password:    "secret",
		Timeout:     2 * time.Second,
		MaxRetries:  3,
		BackoffBase: time.Millisecond,
		BackoffMax:  5 * time.Millisecond,
		CacheTTL:    time.Minute,
	}, sessions, zap.NewNop())
	require.NoError(t, err)
	return conn, sessions
}

// ---------------------------------------------------------------------------
// Config
// ---------------------------------------------------------------------------

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr error
	}{
		{
			name:   "valid",
			config: Config{BaseURL: "https://erp.example.com/", Database: "care", Username: "u", Password: "p"},
		},
		{
			name:    "missing base url",
			config:  Config{Database: "care", Username: "u", Password: "p"},
			wantErr: ErrConfigMissingBaseURL,
		},
		{
			name:    "missing database",
			config:  Config{BaseURL: "https://erp.example.com", Username: "u", Password: "p"},
			wantErr: ErrConfigMissingDatabase,
		},
		{
			name:    "missing username",
			config:  Config{BaseURL: "https://erp.example.com", Database: "care", Password: "p"},
			wantErr: ErrConfigMissingUsername,
		},
		{
			name:    "missing credentials",
			config:  Config{BaseURL: "https://erp.example.com", Database: "care", Username: "u"},
			wantErr: ErrConfigMissingPassword,
		},
		{
			name:   "api key instead of password",
			config: Config{BaseURL: "https://erp.example.com", Database: "care", Username: "u", APIKey: "k"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "https://erp.example.com", tt.config.BaseURL)
			assert.Equal(t, 3, tt.config.MaxRetries)
			assert.Equal(t, 30*time.Second, tt.config.Timeout)
		})
	}
}

// ---------------------------------------------------------------------------
// Authentication
// ---------------------------------------------------------------------------

func TestJSONRPCConnection_Authenticate(t *testing.T) {
	remote := &fakeRemote{}
	server := httptest.NewServer(remote)
	defer server.Close()

	conn, sessions := newTestConnection(t, server.URL)

	session, err := conn.Authenticate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(7), session.UID)
	assert.Equal(t, "sess-1", session.Token)

	cached, ok, err := sessions.Get(context.Background(), conn.cfg.cacheKey())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, session.Token, cached.Token)
}

func TestJSONRPCConnection_Authenticate_Rejected(t *testing.T) {
	remote := &fakeRemote{rejectAuth: true}
	server := httptest.NewServer(remote)
	defer server.Close()

	conn, _ := newTestConnection(t, server.URL)

	_, err := conn.Authenticate(context.Background())
	assert.ErrorIs(t, err, domain.ErrAuthentication)

	// Credential rejection is not retried.
	auth, _, _ := remote.counts()
	assert.Equal(t, 1, auth)
}

func TestJSONRPCConnection_Call_ReusesCachedSession(t *testing.T) {
	remote := &fakeRemote{}
	server := httptest.NewServer(remote)
	defer server.Close()

	conn, _ := newTestConnection(t, server.URL)
	ctx := context.Background()

	_, err := conn.Call(ctx, "res.partner", "search", []any{[]any{}}, nil)
	require.NoError(t, err)
	_, err = conn.Call(ctx, "res.partner", "search", []any{[]any{}}, nil)
	require.NoError(t, err)

	auth, call, _ := remote.counts()
	assert.Equal(t, 1, auth, "second call must reuse the cached session")
	assert.Equal(t, 2, call)
}

// ---------------------------------------------------------------------------
// Retry semantics
// ---------------------------------------------------------------------------

func TestJSONRPCConnection_Call_RetryBoundOnTransportFailure(t *testing.T) {
	remote := &fakeRemote{
		onCall: func(n int, w http.ResponseWriter) {
			w.WriteHeader(http.StatusServiceUnavailable)
		},
	}
	server := httptest.NewServer(remote)
	defer server.Close()

	conn, _ := newTestConnection(t, server.URL)

	_, err := conn.Call(context.Background(), "account.move", "create", []any{map[string]any{}}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrConnection)

	// max-retries = 3 means exactly 3 attempts, then failure.
	_, call, _ := remote.counts()
	assert.Equal(t, 3, call)
}

func TestJSONRPCConnection_Call_TransientFailureThenSuccess(t *testing.T) {
	remote := &fakeRemote{
		onCall: func(n int, w http.ResponseWriter) {
			if n == 1 {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			writeRPCResult(w, []any{float64(42)})
		},
	}
	server := httptest.NewServer(remote)
	defer server.Close()

	conn, _ := newTestConnection(t, server.URL)

	result, err := conn.Call(context.Background(), "res.partner", "search", []any{[]any{}}, nil)
	require.NoError(t, err)
	assert.Equal(t, []any{float64(42)}, result)

	_, call, _ := remote.counts()
	assert.Equal(t, 2, call)
}

func TestJSONRPCConnection_Call_RemoteErrorsNotRetried(t *testing.T) {
	tests := []struct {
		name      string
		exception string
		wantErr   error
	}{
		{name: "validation", exception: "odoo.exceptions.ValidationError", wantErr: domain.ErrResourceValidation},
		{name: "user error", exception: "odoo.exceptions.UserError", wantErr: domain.ErrResourceValidation},
		{name: "missing", exception: "odoo.exceptions.MissingError", wantErr: domain.ErrResourceNotFound},
		{name: "generic", exception: "builtins.TypeError", wantErr: domain.ErrResource},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			remote := &fakeRemote{
				onCall: func(n int, w http.ResponseWriter) {
					writeRPCError(w, tt.exception, "rejected")
				},
			}
			server := httptest.NewServer(remote)
			defer server.Close()

			conn, _ := newTestConnection(t, server.URL)

			_, err := conn.Call(context.Background(), "account.move", "create", []any{map[string]any{}}, nil)
			assert.ErrorIs(t, err, tt.wantErr)

			_, call, _ := remote.counts()
			assert.Equal(t, 1, call, "remote rejections must not be retried")
		})
	}
}

func TestJSONRPCConnection_Call_AuthErrorInvalidatesSessionAndReauthenticates(t *testing.T) {
	remote := &fakeRemote{
		onCall: func(n int, w http.ResponseWriter) {
			if n == 1 {
				writeRPCError(w, "odoo.http.SessionExpiredException", "Session expired")
				return
			}
			writeRPCResult(w, true)
		},
	}
	server := httptest.NewServer(remote)
	defer server.Close()

	conn, _ := newTestConnection(t, server.URL)
	ctx := context.Background()

	// Prime the session, then expire it server-side.
	_, err := conn.Authenticate(ctx)
	require.NoError(t, err)

	result, err := conn.Call(ctx, "res.partner", "write", []any{[]any{int64(1)}, map[string]any{}}, nil)
	require.NoError(t, err)
	assert.Equal(t, true, result)

	auth, call, _ := remote.counts()
	assert.Equal(t, 2, auth, "expired session must trigger exactly one re-authentication")
	assert.Equal(t, 2, call, "original method must be retried after re-authentication")
}

func TestJSONRPCConnection_Call_PersistentAuthErrorIsFinal(t *testing.T) {
	remote := &fakeRemote{
		onCall: func(n int, w http.ResponseWriter) {
			writeRPCError(w, "odoo.exceptions.AccessError", "not allowed")
		},
	}
	server := httptest.NewServer(remote)
	defer server.Close()

	conn, _ := newTestConnection(t, server.URL)

	_, err := conn.Call(context.Background(), "res.partner", "unlink", []any{[]any{int64(1)}}, nil)
	assert.ErrorIs(t, err, domain.ErrAuthentication)

	_, call, _ := remote.counts()
	assert.Equal(t, 2, call, "a second auth rejection on the same call is final")
}

// ---------------------------------------------------------------------------
// Teardown
// ---------------------------------------------------------------------------

func TestJSONRPCConnection_Close(t *testing.T) {
	remote := &fakeRemote{}
	server := httptest.NewServer(remote)
	defer server.Close()

	conn, sessions := newTestConnection(t, server.URL)
	ctx := context.Background()

	_, err := conn.Authenticate(ctx)
	require.NoError(t, err)

	require.NoError(t, conn.Close(ctx))

	_, _, destroy := remote.counts()
	assert.Equal(t, 1, destroy)

	_, ok, err := sessions.Get(ctx, conn.cfg.cacheKey())
	require.NoError(t, err)
	assert.False(t, ok, "close must drop the cached session")
}

func TestJSONRPCConnection_Close_WithoutSessionIsNoop(t *testing.T) {
	remote := &fakeRemote{}
	server := httptest.NewServer(remote)
	defer server.Close()

	conn, _ := newTestConnection(t, server.URL)
	require.NoError(t, conn.Close(context.Background()))

	_, _, destroy := remote.counts()
	assert.Equal(t, 0, destroy)
}

func TestJSONRPCConnection_TestConnection(t *testing.T) {
	remote := &fakeRemote{}
	server := httptest.NewServer(remote)
	defer server.Close()

	conn, _ := newTestConnection(t, server.URL)
	require.NoError(t, conn.TestConnection(context.Background()))
}
