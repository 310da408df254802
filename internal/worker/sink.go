package worker

import (
	"context"
	"sync"

	"github.com/wasmforge/wasmforge/internal/db/models"
	"github.com/wasmforge/wasmforge/internal/db/repos"
	"github.com/wasmforge/wasmforge/internal/logger"
)

// logSink fans one job's log stream out to the in-memory vector, the job
// store tail and the bus. Safe for the goroutines pumping subprocess stdio.
type logSink struct {
	jobID string
	jobs  *repos.JobRepository
	bus   EventBus

	mu      sync.Mutex
	records models.LogTail
}

func newLogSink(jobID string, jobs *repos.JobRepository, eventBus EventBus) *logSink {
	return &logSink{jobID: jobID, jobs: jobs, bus: eventBus}
}

// Emit appends the record, persists the current tail and publishes the
// event. Store and bus failures are logged and dropped; the in-memory
// vector stays authoritative for the terminal write.
func (s *logSink) Emit(ctx context.Context) func(models.LogRecord) {
	return func(record models.LogRecord) {
		s.mu.Lock()
		s.records = append(s.records, record)
		tail := make(models.LogTail, len(s.records))
		copy(tail, s.records)
		s.mu.Unlock()

		if err := s.jobs.AppendLogs(ctx, s.jobID, tail, len(tail)); err != nil {
			logger.Warnf("job %s: log persist failed: %v", s.jobID, err)
		}
		if err := s.bus.PublishLog(ctx, s.jobID, record); err != nil {
			logger.Debugf("job %s: log publish failed: %v", s.jobID, err)
		}
	}
}

// Tail returns a copy of the records emitted so far.
func (s *logSink) Tail() models.LogTail {
	s.mu.Lock()
	defer s.mu.Unlock()
	tail := make(models.LogTail, len(s.records))
	copy(tail, s.records)
	return tail
}
