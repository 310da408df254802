// Package hub maintains per-job subscriber rooms and forwards bus events to
// the sockets in them. Logs are not a durable protocol here: slow clients
// drop, and catch-up is the snapshot emitted at subscribe time.
package hub

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/wasmforge/wasmforge/internal/bus"
	"github.com/wasmforge/wasmforge/internal/db/models"
	"github.com/wasmforge/wasmforge/internal/db/repos"
	"github.com/wasmforge/wasmforge/internal/logger"
	"github.com/wasmforge/wasmforge/internal/types"
)

// Server -> client event names.
const (
	// EventSnapshot carries the persisted log tail and status at subscribe
	EventSnapshot = "snapshot"
	// EventJobLog carries one live log record
	EventJobLog = "job:log"
	// EventJobStatus carries a live status transition
	EventJobStatus = "job:status"
)

// Client -> server event names.
const (
	// EventSubscribe joins a job room
	EventSubscribe = "subscribe:job"
	// EventUnsubscribe leaves a job room
	EventUnsubscribe = "unsubscribe:job"
)

// sendBuffer is the per-client outbound buffer. When it fills, events for
// that client are dropped.
const sendBuffer = 64

// Envelope is the server -> client event frame.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// ClientEvent is the client -> server event frame.
type ClientEvent struct {
	Event string `json:"event"`
	JobID string `json:"job_id"`
}

// Snapshot is the catch-up payload emitted on subscribe.
type Snapshot struct {
	JobID  string           `json:"job_id"`
	Logs   models.LogTail   `json:"logs"`
	Status models.JobStatus `json:"status"`
}

// Client is one connected socket. Send is drained by the connection's write
// loop.
type Client struct {
	Send chan Envelope

	hub    *Hub
	rooms  map[string]bool
	mu     sync.Mutex
	closed bool
}

// Hub tracks room membership and bridges the bus to local sockets.
type Hub struct {
	jobs *repos.JobRepository
	bus  *bus.Bus

	mu    sync.RWMutex
	rooms map[string]map[*Client]bool
}

// New creates a hub.
func New(jobs *repos.JobRepository, eventBus *bus.Bus) *Hub {
	return &Hub{
		jobs:  jobs,
		bus:   eventBus,
		rooms: make(map[string]map[*Client]bool),
	}
}

// Start subscribes the hub to the bus. Events arriving for rooms with no
// subscribers are discarded.
func (h *Hub) Start(ctx context.Context) error {
	return h.bus.StartForwarder(ctx, h)
}

// NewClient registers a socket with the hub.
func (h *Hub) NewClient() *Client {
	return &Client{
		Send:  make(chan Envelope, sendBuffer),
		hub:   h,
		rooms: make(map[string]bool),
	}
}

// Subscribe joins the client to a job room and emits the snapshot: every
// persisted log to date plus the current status. Live events may overlap the
// snapshot; clients de-duplicate on (timestamp, message, kind).
func (c *Client) Subscribe(ctx context.Context, jobID string) error {
	job, err := c.hub.jobs.Get(ctx, jobID)
	if err != nil {
		return err
	}

	c.hub.join(jobID, c)
	c.mu.Lock()
	c.rooms[jobID] = true
	c.mu.Unlock()

	snapshot, err := json.Marshal(Snapshot{
		JobID:  job.ID,
		Logs:   job.Logs,
		Status: job.Status,
	})
	if err != nil {
		return err
	}
	c.deliver(Envelope{Event: EventSnapshot, Data: snapshot})
	return nil
}

// Unsubscribe removes the client from a job room. Idempotent.
func (c *Client) Unsubscribe(jobID string) {
	c.mu.Lock()
	delete(c.rooms, jobID)
	c.mu.Unlock()
	c.hub.leave(jobID, c)
}

// Close removes the client from all rooms and closes its send channel.
// Idempotent.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	rooms := make([]string, 0, len(c.rooms))
	for jobID := range c.rooms {
		rooms = append(rooms, jobID)
	}
	c.rooms = make(map[string]bool)
	close(c.Send)
	c.mu.Unlock()

	for _, jobID := range rooms {
		c.hub.leave(jobID, c)
	}
}

// deliver enqueues an event, dropping it when the client's buffer is full.
// A broadcast racing Close may still hold the client; the closed check keeps
// it off the closed channel.
func (c *Client) deliver(env Envelope) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.Send <- env:
	default:
		logger.Debug("hub: dropping event for slow client")
	}
}

func (h *Hub) join(jobID string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room := h.rooms[jobID]
	if room == nil {
		room = make(map[*Client]bool)
		h.rooms[jobID] = room
	}
	room[c] = true
}

func (h *Hub) leave(jobID string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room := h.rooms[jobID]
	if room == nil {
		return
	}
	delete(room, c)
	if len(room) == 0 {
		delete(h.rooms, jobID)
	}
}

// broadcast fans an event out to every socket in a room.
func (h *Hub) broadcast(jobID string, env Envelope) {
	h.mu.RLock()
	room := h.rooms[jobID]
	clients := make([]*Client, 0, len(room))
	for c := range room {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.deliver(env)
	}
}

// ForwardLog implements bus.Forwarder.
func (h *Hub) ForwardLog(event types.LogEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	h.broadcast(event.JobID, Envelope{Event: EventJobLog, Data: data})
}

// ForwardStatus implements bus.Forwarder.
func (h *Hub) ForwardStatus(event types.StatusEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	h.broadcast(event.JobID, Envelope{Event: EventJobStatus, Data: data})
}

// EmitLog bridges an in-process log emit: local rooms get it directly and
// the bus carries it to other replicas.
func (h *Hub) EmitLog(ctx context.Context, jobID string, record models.LogRecord) {
	h.ForwardLog(types.LogEvent{JobID: jobID, Log: record})
	if h.bus == nil {
		return
	}
	if err := h.bus.PublishLog(ctx, jobID, record); err != nil {
		logger.Debugf("hub: bus publish failed for %s: %v", jobID, err)
	}
}
