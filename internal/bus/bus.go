// Package bus provides the cross-process fan-out of per-job log and status
// events over Redis pub/sub. Delivery is best-effort and fire-and-forget;
// late subscribers only see events from the time they subscribe. Catch-up is
// the job store's snapshot, not the bus's concern.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/wasmforge/wasmforge/internal/config"
	"github.com/wasmforge/wasmforge/internal/db/models"
	"github.com/wasmforge/wasmforge/internal/logger"
	"github.com/wasmforge/wasmforge/internal/types"
)

// Channel name patterns.
const (
	logChannelPrefix    = "job:log:"
	statusChannelPrefix = "job:status:"
)

// LogChannel returns the log channel name for a job.
func LogChannel(jobID string) string {
	return logChannelPrefix + jobID
}

// StatusChannel returns the status channel name for a job.
func StatusChannel(jobID string) string {
	return statusChannelPrefix + jobID
}

// Bus publishes and subscribes job events on Redis pub/sub.
type Bus struct {
	client *redis.Client
}

// New creates a bus and verifies the broker connection.
func New(ctx context.Context, broker config.Broker) (*Bus, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     broker.Addr(),
		Password: broker.Password,
		DB:       broker.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to bus: %w", err)
	}
	return &Bus{client: client}, nil
}

// NewWithClient builds a bus around an existing client. Used by tests.
func NewWithClient(client *redis.Client) *Bus {
	return &Bus{client: client}
}

// PublishLog publishes one log record on the job's log channel.
// Errors are returned but callers treat publishing as fire-and-forget.
func (b *Bus) PublishLog(ctx context.Context, jobID string, record models.LogRecord) error {
	raw, err := json.Marshal(types.LogEvent{JobID: jobID, Log: record})
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, LogChannel(jobID), raw).Err()
}

// PublishStatus publishes a status transition on the job's status channel.
func (b *Bus) PublishStatus(ctx context.Context, jobID string, status models.JobStatus, result json.RawMessage) error {
	raw, err := json.Marshal(types.StatusEvent{JobID: jobID, Status: status, Result: result})
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, StatusChannel(jobID), raw).Err()
}

// Forwarder receives every decoded bus event.
type Forwarder interface {
	ForwardLog(event types.LogEvent)
	ForwardStatus(event types.StatusEvent)
}

// StartForwarder pattern-subscribes to all job channels and feeds decoded
// events to fwd until ctx is done. Malformed payloads are dropped.
func (b *Bus) StartForwarder(ctx context.Context, fwd Forwarder) error {
	sub := b.client.PSubscribe(ctx, logChannelPrefix+"*", statusChannelPrefix+"*")

	// ensures the subscription actually started
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("bus subscribe: %w", err)
	}

	go func() {
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					_ = sub.Close()
					return
				}
				b.dispatch(fwd, m.Channel, []byte(m.Payload))
			}
		}
	}()

	return nil
}

func (b *Bus) dispatch(fwd Forwarder, channel string, payload []byte) {
	switch {
	case strings.HasPrefix(channel, logChannelPrefix):
		var event types.LogEvent
		if err := json.Unmarshal(payload, &event); err != nil {
			logger.Warnf("bus: bad log payload on %s: %v", channel, err)
			return
		}
		fwd.ForwardLog(event)
	case strings.HasPrefix(channel, statusChannelPrefix):
		var event types.StatusEvent
		if err := json.Unmarshal(payload, &event); err != nil {
			logger.Warnf("bus: bad status payload on %s: %v", channel, err)
			return
		}
		fwd.ForwardStatus(event)
	}
}

// Close closes the bus connection.
func (b *Bus) Close() error {
	return b.client.Close()
}
