package container

import (
	"context"
	"fmt"
	"time"

	"github.com/cadellanderson/omnicore/internal/audit"
	"github.com/cadellanderson/omnicore/internal/corerr"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// WriterLock enforces the "single writer per open container" rule across
// multiple processes or hosts, on top of the in-process mutex
// Container already holds. It is optional: a Container with no WriterLock
// configured relies solely on the in-process mutex, which is sufficient
// within one process.
type WriterLock struct {
	client       *redis.Client
	key          string
	containerKey string
	token        string
	ttl          time.Duration
	audit        audit.Logger
}

// NewWriterLock returns a lock keyed by containerPath against the given
// Redis client. ttl bounds how long a crashed holder can block others.
func NewWriterLock(client *redis.Client, containerPath string, ttl time.Duration) *WriterLock {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &WriterLock{
		client:       client,
		key:          "omnicore:container-lock:" + containerPath,
		containerKey: containerPath,
		token:        uuid.NewString(),
		ttl:          ttl,
	}
}

// WithAudit attaches an audit logger that records every acquire, contend,
// and release against this lock. Returns the receiver for chaining.
func (l *WriterLock) WithAudit(logger audit.Logger) *WriterLock {
	l.audit = logger
	return l
}

// Acquire attempts to take the lock, failing fast if another holder has it.
func (l *WriterLock) Acquire(ctx context.Context) error {
	start := time.Now()
	ok, err := l.client.SetNX(ctx, l.key, l.token, l.ttl).Result()
	if err != nil {
		l.logLock(audit.EventTypeLockContended, false, err, time.Since(start))
		return fmt.Errorf("container: acquire writer lock: %w", corerr.ErrIOError)
	}
	if !ok {
		err := fmt.Errorf("container: writer lock held by another process: %w", corerr.ErrIOError)
		l.logLock(audit.EventTypeLockContended, false, err, time.Since(start))
		return err
	}
	l.logLock(audit.EventTypeLockAcquired, true, nil, time.Since(start))
	return nil
}

func (l *WriterLock) logLock(eventType audit.EventType, success bool, err error, duration time.Duration) {
	if l.audit == nil {
		return
	}
	l.audit.LogLock(eventType, l.containerKey, l.token, success, err, duration)
}

// Refresh extends the lock's TTL; callers should call this periodically
// during a long write session.
func (l *WriterLock) Refresh(ctx context.Context) error {
	script := redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("pexpire", KEYS[1], ARGV[2])
		end
		return 0
	`)
	_, err := script.Run(ctx, l.client, []string{l.key}, l.token, l.ttl.Milliseconds()).Result()
	if err != nil {
		return fmt.Errorf("container: refresh writer lock: %w", corerr.ErrIOError)
	}
	return nil
}

// Release drops the lock if this holder still owns it.
func (l *WriterLock) Release(ctx context.Context) error {
	start := time.Now()
	script := redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		end
		return 0
	`)
	_, err := script.Run(ctx, l.client, []string{l.key}, l.token).Result()
	if err != nil {
		l.logLock(audit.EventTypeLockReleased, false, err, time.Since(start))
		return fmt.Errorf("container: release writer lock: %w", corerr.ErrIOError)
	}
	l.logLock(audit.EventTypeLockReleased, true, nil, time.Since(start))
	return nil
}
