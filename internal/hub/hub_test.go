package hub

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/wasmforge/wasmforge/internal/db/models"
	"github.com/wasmforge/wasmforge/internal/db/repos"
	"github.com/wasmforge/wasmforge/internal/types"
)

func newTestHub(t *testing.T) (*Hub, *repos.JobRepository) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Job{}))
	t.Cleanup(func() {
		sqlDB, err := db.DB()
		if err == nil && sqlDB != nil {
			_ = sqlDB.Close()
		}
	})

	jobs := repos.NewJobRepository(db)
	return New(jobs, nil), jobs
}

func seedJob(t *testing.T, jobs *repos.JobRepository, id string, status models.JobStatus, logs models.LogTail) {
	t.Helper()
	job := &models.Job{
		ID:           id,
		Type:         models.JobTypeCompile,
		Status:       models.JobStatusQueued,
		OwnerID:      1,
		ProjectID:    "proj-1",
		BrokerHandle: "compile-" + id,
		Logs:         logs,
		LogsCount:    len(logs),
	}
	require.NoError(t, jobs.Create(context.Background(), job))
	if status == models.JobStatusActive {
		require.NoError(t, jobs.MarkActive(context.Background(), id))
	}
}

func TestSubscribeDeliversSnapshot(t *testing.T) {
	h, jobs := newTestHub(t)
	logs := models.LogTail{
		models.NewLogRecord(models.LogKindInfo, "Compile job queued"),
		models.NewLogRecord(models.LogKindInfo, "Compiling contract"),
	}
	seedJob(t, jobs, "job-snap", models.JobStatusActive, logs)

	client := h.NewClient()
	require.NoError(t, client.Subscribe(context.Background(), "job-snap"))

	env := <-client.Send
	assert.Equal(t, EventSnapshot, env.Event)

	var snapshot Snapshot
	require.NoError(t, json.Unmarshal(env.Data, &snapshot))
	assert.Equal(t, "job-snap", snapshot.JobID)
	assert.Equal(t, models.JobStatusActive, snapshot.Status)
	assert.Len(t, snapshot.Logs, 2)
}

func TestSubscribeUnknownJob(t *testing.T) {
	h, _ := newTestHub(t)
	client := h.NewClient()

	err := client.Subscribe(context.Background(), "no-such-job")
	require.ErrorIs(t, err, repos.ErrJobNotFound)
	assert.Empty(t, client.Send)
}

func TestForwardLogReachesRoomOnly(t *testing.T) {
	h, jobs := newTestHub(t)
	seedJob(t, jobs, "job-a", models.JobStatusQueued, nil)
	seedJob(t, jobs, "job-b", models.JobStatusQueued, nil)

	subscribed := h.NewClient()
	require.NoError(t, subscribed.Subscribe(context.Background(), "job-a"))
	<-subscribed.Send // drain the snapshot

	bystander := h.NewClient()
	require.NoError(t, bystander.Subscribe(context.Background(), "job-b"))
	<-bystander.Send

	h.ForwardLog(types.LogEvent{
		JobID: "job-a",
		Log:   models.NewLogRecord(models.LogKindInfo, "hello"),
	})

	env := <-subscribed.Send
	assert.Equal(t, EventJobLog, env.Event)
	assert.Empty(t, bystander.Send, "events must not leak across rooms")
}

func TestForwardStatus(t *testing.T) {
	h, jobs := newTestHub(t)
	seedJob(t, jobs, "job-status", models.JobStatusQueued, nil)

	client := h.NewClient()
	require.NoError(t, client.Subscribe(context.Background(), "job-status"))
	<-client.Send

	h.ForwardStatus(types.StatusEvent{JobID: "job-status", Status: models.JobStatusCompleted})

	env := <-client.Send
	assert.Equal(t, EventJobStatus, env.Event)

	var event types.StatusEvent
	require.NoError(t, json.Unmarshal(env.Data, &event))
	assert.Equal(t, models.JobStatusCompleted, event.Status)
}

func TestEmitLogReachesLocalRoom(t *testing.T) {
	h, jobs := newTestHub(t)
	seedJob(t, jobs, "job-emit", models.JobStatusQueued, nil)

	client := h.NewClient()
	require.NoError(t, client.Subscribe(context.Background(), "job-emit"))
	<-client.Send // drain the snapshot

	h.EmitLog(context.Background(), "job-emit", models.NewLogRecord(models.LogKindInfo, "Compile job queued"))

	env := <-client.Send
	assert.Equal(t, EventJobLog, env.Event)

	var event types.LogEvent
	require.NoError(t, json.Unmarshal(env.Data, &event))
	assert.Equal(t, "job-emit", event.JobID)
	assert.Equal(t, "Compile job queued", event.Log.Message)
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	h, jobs := newTestHub(t)
	seedJob(t, jobs, "job-unsub", models.JobStatusQueued, nil)

	client := h.NewClient()
	require.NoError(t, client.Subscribe(context.Background(), "job-unsub"))
	<-client.Send

	client.Unsubscribe("job-unsub")
	client.Unsubscribe("job-unsub")
	client.Unsubscribe("never-subscribed")

	h.ForwardLog(types.LogEvent{JobID: "job-unsub", Log: models.NewLogRecord(models.LogKindInfo, "x")})
	assert.Empty(t, client.Send)
}

func TestSlowClientDropsEvents(t *testing.T) {
	h, jobs := newTestHub(t)
	seedJob(t, jobs, "job-slow", models.JobStatusQueued, nil)

	client := h.NewClient()
	require.NoError(t, client.Subscribe(context.Background(), "job-slow"))
	<-client.Send

	// Nothing drains Send; flooding past the buffer must not block.
	for i := 0; i < sendBuffer*2; i++ {
		h.ForwardLog(types.LogEvent{JobID: "job-slow", Log: models.NewLogRecord(models.LogKindInfo, "flood")})
	}
	assert.Len(t, client.Send, sendBuffer)
}

func TestCloseLeavesRooms(t *testing.T) {
	h, jobs := newTestHub(t)
	seedJob(t, jobs, "job-close", models.JobStatusQueued, nil)

	client := h.NewClient()
	require.NoError(t, client.Subscribe(context.Background(), "job-close"))
	<-client.Send
	client.Close()

	// Forwarding after close must not panic on the closed channel.
	h.ForwardLog(types.LogEvent{JobID: "job-close", Log: models.NewLogRecord(models.LogKindInfo, "x")})

	_, open := <-client.Send
	assert.False(t, open)
}
