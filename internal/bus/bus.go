// Package bus implements the Message Bus: per-agent durable FIFO queues
// addressed by name, plus the "shared" logical fan-out address, over a
// minimal capability set that a Redis-compatible list server (or an
// in-memory mock, for tests) can satisfy.
package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/sealteam/sealteam/internal/models"
	"github.com/sealteam/sealteam/internal/store"
)

// Capability is the minimal set of list-server operations the Message
// Bus needs. A Redis-compatible server satisfies it directly; tests use
// an in-memory mock.
type Capability interface {
	LPush(ctx context.Context, key, value string) error
	BRPop(ctx context.Context, key string, timeoutSec int) (value string, ok bool, err error)
	RPop(ctx context.Context, key string) (value string, ok bool, err error)
	Keys(ctx context.Context, pattern string) ([]string, error)
	Del(ctx context.Context, key string) error
	Close() error
}

// ConfigurationError is returned when an operation is missing
// configuration it requires, such as a workspace path for a shared send.
type ConfigurationError struct {
	Msg string
}

func (e *ConfigurationError) Error() string { return e.Msg }

const (
	backoffBase     = 500 * time.Millisecond
	backoffAttempts = 3
	queueKeyPrefix  = "queue:"
)

// QueueKey returns the list-server key for an agent's personal queue.
func QueueKey(name string) string {
	return queueKeyPrefix + name
}

// Bus is the Message Bus, backed by any Capability implementation.
type Bus struct {
	cap Capability
}

// New wraps a Capability implementation in Message Bus semantics.
func New(cap Capability) *Bus {
	return &Bus{cap: cap}
}

// Send delivers msg. If msg.To is the shared address, it reads
// SessionState from workspace, enumerates agents with status "running"
// excluding msg.From, and pushes one copy to each of their queues;
// workspace must be supplied in that case or ConfigurationError is
// returned. Otherwise it pushes a single copy to queue:<to>.
func (b *Bus) Send(ctx context.Context, msg models.QueueMessage, workspace string) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	if msg.To != models.SharedAddress {
		return b.pushWithRetry(ctx, QueueKey(msg.To), msg)
	}

	if workspace == "" {
		return &ConfigurationError{Msg: "shared send requires a workspace to resolve running agents"}
	}
	session, ok, err := store.ReadSessionState(workspace)
	if err != nil {
		return fmt.Errorf("send shared: read session state: %w", err)
	}
	if !ok {
		return &ConfigurationError{Msg: "shared send found no session state at " + workspace}
	}

	for _, name := range session.RunningAgents(msg.From) {
		if err := b.pushWithRetry(ctx, QueueKey(name), msg); err != nil {
			return fmt.Errorf("send shared to %s: %w", name, err)
		}
	}
	return nil
}

func (b *Bus) pushWithRetry(ctx context.Context, key string, msg models.QueueMessage) error {
	payload, err := encodeMessage(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	return withBackoff(ctx, func() error {
		return b.cap.LPush(ctx, key, payload)
	})
}

// Receive blocks up to timeoutSec waiting for a message on the named
// agent's queue, returning (msg, true, nil) on delivery or (zero,
// false, nil) on timeout.
func (b *Bus) Receive(ctx context.Context, name string, timeoutSec int) (models.QueueMessage, bool, error) {
	var payload string
	var ok bool
	err := withBackoff(ctx, func() error {
		var innerErr error
		payload, ok, innerErr = b.cap.BRPop(ctx, QueueKey(name), timeoutSec)
		return innerErr
	})
	if err != nil {
		return models.QueueMessage{}, false, err
	}
	if !ok {
		return models.QueueMessage{}, false, nil
	}
	msg, err := decodeMessage(payload)
	if err != nil {
		return models.QueueMessage{}, false, fmt.Errorf("decode message: %w", err)
	}
	return msg, true, nil
}

// ReceiveNonBlocking pops a message from the named agent's queue without
// waiting, returning (zero, false, nil) if the queue is empty.
func (b *Bus) ReceiveNonBlocking(ctx context.Context, name string) (models.QueueMessage, bool, error) {
	var payload string
	var ok bool
	err := withBackoff(ctx, func() error {
		var innerErr error
		payload, ok, innerErr = b.cap.RPop(ctx, QueueKey(name))
		return innerErr
	})
	if err != nil {
		return models.QueueMessage{}, false, err
	}
	if !ok {
		return models.QueueMessage{}, false, nil
	}
	msg, err := decodeMessage(payload)
	if err != nil {
		return models.QueueMessage{}, false, fmt.Errorf("decode message: %w", err)
	}
	return msg, true, nil
}

// FlushAll deletes every queue:* key, returning the number removed.
// Called once by the supervisor at session start, since queue keys are
// not durable across session boundaries.
func (b *Bus) FlushAll(ctx context.Context) (int, error) {
	var keys []string
	err := withBackoff(ctx, func() error {
		var innerErr error
		keys, innerErr = b.cap.Keys(ctx, queueKeyPrefix+"*")
		return innerErr
	})
	if err != nil {
		return 0, fmt.Errorf("flush all: list keys: %w", err)
	}
	for _, k := range keys {
		if err := withBackoff(ctx, func() error { return b.cap.Del(ctx, k) }); err != nil {
			return 0, fmt.Errorf("flush all: delete %s: %w", k, err)
		}
	}
	return len(keys), nil
}

// Close releases the underlying connection.
func (b *Bus) Close() error {
	return b.cap.Close()
}

// withBackoff retries fn up to backoffAttempts times with exponential
// backoff starting at backoffBase, stopping early on success or on
// context cancellation.
func withBackoff(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt < backoffAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if attempt == backoffAttempts-1 {
			break
		}
		delay := time.Duration(float64(backoffBase) * math.Pow(2, float64(attempt)))
		slog.Warn("bus: operation failed, retrying", "attempt", attempt+1, "delay", delay, "error", lastErr)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("bus: exhausted %d attempts: %w", backoffAttempts, lastErr)
}

var errEmptyPayload = errors.New("bus: empty message payload")
