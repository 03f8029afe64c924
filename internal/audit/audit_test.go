package audit

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogEncryptDecrypt(t *testing.T) {
	mock := &mockWriter{}
	logger := NewLogger(10, mock)

	logger.LogEncrypt("container.occ", "notes/one.txt", "chacha20poly1305", 1, true, nil, 5*time.Millisecond, nil)
	logger.LogDecrypt("container.occ", "notes/one.txt", "chacha20poly1305", 1, true, nil, 3*time.Millisecond, nil)

	events := logger.GetEvents()
	require.Len(t, events, 2)

	assert.Equal(t, EventTypeEncrypt, events[0].EventType)
	assert.Equal(t, "container.occ", events[0].Container)
	assert.Equal(t, "notes/one.txt", events[0].Path)
	assert.True(t, events[0].Success)

	assert.Equal(t, EventTypeDecrypt, events[1].EventType)
	assert.Equal(t, "container.occ", events[1].Container)
	assert.Equal(t, "notes/one.txt", events[1].Path)
}

func TestLogAccessFailure(t *testing.T) {
	mock := &mockWriter{}
	logger := NewLogger(10, mock)

	logger.LogAccess("access", "container.occ", "notes/missing.txt", "127.0.0.1", "curl/8.0", "req-1", false, errors.New("not found"), time.Millisecond)

	events := logger.GetEvents()
	require.Len(t, events, 1)
	assert.Equal(t, "container.occ", events[0].Container)
	assert.Equal(t, "notes/missing.txt", events[0].Path)
	assert.False(t, events[0].Success)
	assert.Equal(t, "not found", events[0].Error)
}

func TestLoggerRespectsMaxEvents(t *testing.T) {
	mock := &mockWriter{}
	logger := NewLogger(2, mock)

	for i := 0; i < 5; i++ {
		logger.LogAccess("access", "c", "p", "", "", "", true, nil, 0)
	}

	assert.Len(t, logger.GetEvents(), 2)
	assert.Len(t, mock.events, 5, "writer still sees every event even once the ring buffer trims")
}

func TestLogLock(t *testing.T) {
	mock := &mockWriter{}
	logger := NewLogger(10, mock)

	logger.LogLock(EventTypeLockAcquired, "tenants/alpha.occ", "tok-1", true, nil, time.Millisecond)
	logger.LogLock(EventTypeLockContended, "tenants/alpha.occ", "tok-2", false, errors.New("held by another process"), time.Millisecond)

	events := logger.GetEvents()
	require.Len(t, events, 2)

	assert.Equal(t, EventTypeLockAcquired, events[0].EventType)
	assert.Equal(t, "tenants/alpha.occ", events[0].Container)
	assert.Equal(t, "tok-1", events[0].Metadata["lock_token"])
	assert.True(t, events[0].Success)

	assert.Equal(t, EventTypeLockContended, events[1].EventType)
	assert.False(t, events[1].Success)
	assert.Equal(t, "held by another process", events[1].Error)
}

func TestLoggerRedactsMetadataKeys(t *testing.T) {
	mock := &mockWriter{}
	logger := NewLoggerWithRedaction(10, mock, []string{"password"})

	logger.LogEncrypt("c", "p", "chacha20poly1305", 1, true, nil, 0, map[string]interface{}{
		"password": "secret",
		"other":    "value",
	})

	events := logger.GetEvents()
	require.Len(t, events, 1)
	assert.Equal(t, "[REDACTED]", events[0].Metadata["password"])
	assert.Equal(t, "value", events[0].Metadata["other"])
}
