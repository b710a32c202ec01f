package sync

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestKind(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{name: "nil", err: nil, want: KindNone},
		{name: "connection", err: fmt.Errorf("%w: dial tcp refused", ErrConnection), want: KindConnection},
		{name: "authentication", err: ErrAuthentication, want: KindAuthentication},
		{name: "not found", err: fmt.Errorf("read: %w", ErrResourceNotFound), want: KindResourceNotFound},
		{name: "validation", err: ErrResourceValidation, want: KindResourceValidation},
		{name: "resource", err: ErrResource, want: KindResource},
		{name: "mapping", err: ErrMapping, want: KindMapping},
		{name: "concurrent", err: ErrConcurrentSync, want: KindConcurrentSync},
		{name: "integration", err: ErrIntegration, want: KindIntegration},
		{name: "unclassified", err: errors.New("boom"), want: KindIntegration},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Kind(tt.err))
		})
	}
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(fmt.Errorf("%w: timeout", ErrConnection)))
	assert.False(t, Retryable(ErrAuthentication))
	assert.False(t, Retryable(ErrResourceValidation))
	assert.False(t, Retryable(nil))
}

func TestSession_Valid(t *testing.T) {
	now := time.Now()

	var nilSession *Session
	assert.False(t, nilSession.Valid(now))

	assert.False(t, (&Session{UID: 0, ExpiresAt: now.Add(time.Hour)}).Valid(now))
	assert.False(t, (&Session{UID: 7, ExpiresAt: now.Add(-time.Second)}).Valid(now))
	assert.True(t, (&Session{UID: 7, ExpiresAt: now.Add(time.Hour)}).Valid(now))
}

func TestState_Terminal(t *testing.T) {
	assert.True(t, StateDone.Terminal())
	assert.True(t, StateFailed.Terminal())
	assert.False(t, StateSubmitting.Terminal())
	assert.False(t, StatePending.Terminal())
}

func TestFailure(t *testing.T) {
	recordID := uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

	result := Failure(recordID, fmt.Errorf("%w: number missing", ErrMapping))
	assert.Equal(t, recordID, result.RecordID)
	assert.False(t, result.Success)
	assert.Equal(t, StateFailed, result.State)
	assert.Equal(t, KindMapping, result.ErrorKind)
	assert.Contains(t, result.Message, "number missing")
}

func TestRemoteRef_IsZero(t *testing.T) {
	assert.True(t, RemoteRef{}.IsZero())
	assert.False(t, RemoteRef{Collection: CollectionInvoice, ID: 42}.IsZero())
}
