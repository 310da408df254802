// Package queue provides the brokered job queue on Redis Streams with
// consumer groups. Dispatch is at-least-once: a consumer that dies mid-job
// leaves its message pending and another consumer reclaims it after a
// backoff. Messages that exhaust their attempts move to a dead letter stream.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/wasmforge/wasmforge/internal/config"
	"github.com/wasmforge/wasmforge/internal/logger"
)

// Queue names consumed by workers.
const (
	// QueueCompile carries compile job payloads
	QueueCompile = "compile"
	// QueueDeploy carries deploy job payloads
	QueueDeploy = "deploy"
)

// Stream naming and policy.
const (
	streamPrefix = "wasmforge:jobs:"
	dlqPrefix    = "wasmforge:dlq:"

	// DefaultMaxAttempts is how many deliveries a payload gets before the DLQ
	DefaultMaxAttempts = 3
	// DefaultBackoffBase is the base of the exponential redelivery backoff
	DefaultBackoffBase = 2 * time.Second
	// DefaultBlock is how long a consumer blocks waiting for new messages
	DefaultBlock = 5 * time.Second
	// DefaultRetention caps the completed-message history kept on a stream
	DefaultRetention = 1000
)

// Delivery is one dequeued payload.
type Delivery struct {
	MessageID string
	Handle    string
	Body      []byte
	Attempt   int64
}

// Handler processes one delivery. A nil return acks the message; an error
// leaves it pending for redelivery until attempts are exhausted.
type Handler func(ctx context.Context, d Delivery) error

// Adapter wraps the Redis Streams operations for the job queue.
type Adapter struct {
	client *redis.Client

	group       string
	consumerID  string
	maxAttempts int64
	backoffBase time.Duration
	block       time.Duration
	retention   int64
}

// Config holds configuration for the queue adapter.
type Config struct {
	Broker      config.Broker
	Group       string
	MaxAttempts int64
	BackoffBase time.Duration
}

// New creates a queue adapter and verifies the broker connection.
func New(ctx context.Context, cfg Config) (*Adapter, error) {
	if cfg.Group == "" {
		cfg.Group = "wasmforge-workers"
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.BackoffBase == 0 {
		cfg.BackoffBase = DefaultBackoffBase
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Broker.Addr(),
		Password: cfg.Broker.Password,
		DB:       cfg.Broker.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to broker: %w", err)
	}

	return &Adapter{
		client:      client,
		group:       cfg.Group,
		consumerID:  fmt.Sprintf("wasmforge-%s", uuid.New().String()[:8]),
		maxAttempts: cfg.MaxAttempts,
		backoffBase: cfg.BackoffBase,
		block:       DefaultBlock,
		retention:   DefaultRetention,
	}, nil
}

// NewWithClient builds an adapter around an existing client. Used by tests.
func NewWithClient(client *redis.Client, group string) *Adapter {
	return &Adapter{
		client:      client,
		group:       group,
		consumerID:  fmt.Sprintf("wasmforge-%s", uuid.New().String()[:8]),
		maxAttempts: DefaultMaxAttempts,
		backoffBase: DefaultBackoffBase,
		block:       DefaultBlock,
		retention:   DefaultRetention,
	}
}

func streamName(queue string) string {
	return streamPrefix + queue
}

func dlqName(queue string) string {
	return dlqPrefix + queue
}

// Enqueue appends a payload to the named queue and returns its broker handle.
func (a *Adapter) Enqueue(ctx context.Context, queue, handle string, payload interface{}) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payload: %w", err)
	}

	err = a.client.XAdd(ctx, &redis.XAddArgs{
		Stream: streamName(queue),
		MaxLen: a.retention,
		Approx: true,
		Values: map[string]interface{}{
			"handle":  handle,
			"payload": string(body),
		},
	}).Err()
	if err != nil {
		return "", fmt.Errorf("failed to enqueue on %s: %w", queue, err)
	}
	return handle, nil
}

// EnsureGroup creates the consumer group for a queue if it doesn't exist.
func (a *Adapter) EnsureGroup(ctx context.Context, queue string) error {
	err := a.client.XGroupCreateMkStream(ctx, streamName(queue), a.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}
	return nil
}

// Consume runs concurrency consumers on the named queue until ctx is done.
// Each consumer alternates between reclaiming expired pending messages and
// reading new ones.
func (a *Adapter) Consume(ctx context.Context, queue string, handler Handler, concurrency int) error {
	if concurrency <= 0 {
		concurrency = config.DefaultConcurrency
	}
	if err := a.EnsureGroup(ctx, queue); err != nil {
		return err
	}

	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.consumeLoop(ctx, queue, handler)
		}()
	}
	wg.Wait()
	return ctx.Err()
}

func (a *Adapter) consumeLoop(ctx context.Context, queue string, handler Handler) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		d, err := a.nextDelivery(ctx, queue)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warnf("queue %s: fetch error: %v", queue, err)
			select {
			case <-time.After(a.backoffBase):
			case <-ctx.Done():
				return
			}
			continue
		}
		if d == nil {
			continue
		}

		if d.Attempt > a.maxAttempts {
			logger.WarnWithFields("payload exhausted attempts, moving to DLQ", map[string]interface{}{
				"queue":   queue,
				"handle":  d.Handle,
				"attempt": d.Attempt,
			})
			if err := a.moveToDLQ(ctx, queue, d, "max attempts exceeded"); err != nil {
				logger.Errorf("queue %s: DLQ move failed: %v", queue, err)
			}
			_ = a.ack(ctx, queue, d.MessageID)
			continue
		}

		if err := handler(ctx, *d); err != nil {
			// Leave pending; the reclaim pass redelivers after backoff.
			logger.WarnWithFields("handler failed, payload left for redelivery", map[string]interface{}{
				"queue":   queue,
				"handle":  d.Handle,
				"attempt": d.Attempt,
				"error":   err.Error(),
			})
			continue
		}
		if err := a.ack(ctx, queue, d.MessageID); err != nil {
			logger.Errorf("queue %s: ack failed for %s: %v", queue, d.MessageID, err)
		}
	}
}

// nextDelivery prefers reclaiming an expired pending message, then falls back
// to reading a new one. Returns nil when nothing is available.
func (a *Adapter) nextDelivery(ctx context.Context, queue string) (*Delivery, error) {
	if d, err := a.reclaim(ctx, queue); err != nil || d != nil {
		return d, err
	}

	streams, err := a.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    a.group,
		Consumer: a.consumerID,
		Streams:  []string{streamName(queue), ">"},
		Count:    1,
		Block:    a.block,
	}).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}
	if len(streams) == 0 || len(streams[0].Messages) == 0 {
		return nil, nil
	}

	return a.parseMessage(ctx, queue, streams[0].Messages[0])
}

// reclaim takes over one pending message whose idle time exceeds the
// exponential backoff for its delivery count (base * 2^(attempt-1)).
func (a *Adapter) reclaim(ctx context.Context, queue string) (*Delivery, error) {
	pending, err := a.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: streamName(queue),
		Group:  a.group,
		Start:  "-",
		End:    "+",
		Count:  10,
	}).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}

	for _, p := range pending {
		if p.Idle < a.backoffFor(p.RetryCount) {
			continue
		}
		msgs, err := a.client.XClaim(ctx, &redis.XClaimArgs{
			Stream:   streamName(queue),
			Group:    a.group,
			Consumer: a.consumerID,
			MinIdle:  a.backoffFor(p.RetryCount),
			Messages: []string{p.ID},
		}).Result()
		if err != nil || len(msgs) == 0 {
			// Another consumer beat us to it.
			continue
		}
		return a.parseMessage(ctx, queue, msgs[0])
	}
	return nil, nil
}

// backoffFor returns the redelivery delay for the given delivery count.
func (a *Adapter) backoffFor(attempt int64) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	backoff := a.backoffBase << uint(attempt-1)
	const maxBackoff = 2 * time.Minute
	if backoff > maxBackoff || backoff <= 0 {
		return maxBackoff
	}
	return backoff
}

func (a *Adapter) parseMessage(ctx context.Context, queue string, msg redis.XMessage) (*Delivery, error) {
	d := &Delivery{MessageID: msg.ID, Attempt: 1}

	if handle, ok := msg.Values["handle"].(string); ok {
		d.Handle = handle
	}
	if payload, ok := msg.Values["payload"].(string); ok {
		d.Body = []byte(payload)
	}

	if attempt, err := a.deliveryCount(ctx, queue, msg.ID); err == nil && attempt > 0 {
		d.Attempt = attempt
	}
	return d, nil
}

func (a *Adapter) deliveryCount(ctx context.Context, queue, messageID string) (int64, error) {
	pending, err := a.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: streamName(queue),
		Group:  a.group,
		Start:  messageID,
		End:    messageID,
		Count:  1,
	}).Result()
	if err != nil {
		return 0, err
	}
	if len(pending) > 0 {
		return pending[0].RetryCount, nil
	}
	return 0, nil
}

func (a *Adapter) ack(ctx context.Context, queue, messageID string) error {
	return a.client.XAck(ctx, streamName(queue), a.group, messageID).Err()
}

// moveToDLQ copies an exhausted payload to the dead letter stream.
func (a *Adapter) moveToDLQ(ctx context.Context, queue string, d *Delivery, reason string) error {
	return a.client.XAdd(ctx, &redis.XAddArgs{
		Stream: dlqName(queue),
		Values: map[string]interface{}{
			"original_message_id": d.MessageID,
			"original_queue":      queue,
			"handle":              d.Handle,
			"payload":             string(d.Body),
			"reason":              reason,
			"moved_at":            time.Now().UTC().Format(time.RFC3339),
			"worker_id":           a.consumerID,
		},
	}).Err()
}

// Close closes the broker connection.
func (a *Adapter) Close() error {
	return a.client.Close()
}
