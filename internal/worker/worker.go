// Package worker runs the job state machine: dequeue, transition, invoke the
// runner, persist the terminal outcome and publish it. The write-once
// terminal write in the job store is what makes at-least-once dispatch safe;
// everything here leans on it.
package worker

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/wasmforge/wasmforge/internal/bus"
	"github.com/wasmforge/wasmforge/internal/compiler"
	"github.com/wasmforge/wasmforge/internal/db/models"
	"github.com/wasmforge/wasmforge/internal/db/repos"
	"github.com/wasmforge/wasmforge/internal/deployer"
	"github.com/wasmforge/wasmforge/internal/logger"
	"github.com/wasmforge/wasmforge/internal/queue"
	"github.com/wasmforge/wasmforge/internal/types"
)

// EventBus publishes job events for live subscribers. *bus.Bus satisfies it.
type EventBus interface {
	PublishLog(ctx context.Context, jobID string, record models.LogRecord) error
	PublishStatus(ctx context.Context, jobID string, status models.JobStatus, result json.RawMessage) error
}

// CompileRunner builds a source tree into a WASM artifact.
type CompileRunner interface {
	Compile(ctx context.Context, projectID string, files []types.SourceFile, emit types.EmitLog) (*compiler.Result, error)
}

// DeployRunner publishes a WASM artifact on chain.
type DeployRunner interface {
	Deploy(ctx context.Context, projectID string, wasm []byte, network types.Network, emit types.EmitLog) (*types.DeployResult, error)
}

var _ EventBus = (*bus.Bus)(nil)

// Worker processes compile and deploy payloads.
type Worker struct {
	jobs     *repos.JobRepository
	users    *repos.UserRepository
	audits   *repos.AuditRepository
	bus      EventBus
	compiler CompileRunner
	deployer DeployRunner
}

// New creates a worker.
func New(jobs *repos.JobRepository, users *repos.UserRepository, audits *repos.AuditRepository,
	eventBus EventBus, compileRunner CompileRunner, deployRunner DeployRunner) *Worker {
	return &Worker{
		jobs:     jobs,
		users:    users,
		audits:   audits,
		bus:      eventBus,
		compiler: compileRunner,
		deployer: deployRunner,
	}
}

// HandleCompile processes one compile delivery.
func (w *Worker) HandleCompile(ctx context.Context, d queue.Delivery) error {
	var payload types.CompilePayload
	if err := json.Unmarshal(d.Body, &payload); err != nil {
		logger.Errorf("compile payload unparseable, acking: %v", err)
		return nil
	}

	job, done, err := w.begin(ctx, payload.JobID, d)
	if done || err != nil {
		return err
	}

	sink := newLogSink(job.ID, w.jobs, w.bus)
	emit := sink.Emit(ctx)
	emit(models.NewLogRecord(models.LogKindInfo, "Compile job started"))

	result, runErr := w.runCompile(ctx, payload, emit)
	if runErr != nil {
		return w.fail(ctx, job, runErr, sink.Tail())
	}

	raw, err := json.Marshal(types.CompileResult{
		WasmBase64:   base64.StdEncoding.EncodeToString(result.WasmBytes),
		WasmFilename: result.WasmFilename,
		BackendUsed:  result.BackendUsed,
	})
	if err != nil {
		return w.fail(ctx, job, fmt.Errorf("failed to encode result: %w", err), sink.Tail())
	}

	return w.complete(ctx, job, raw, sink.Tail())
}

// HandleDeploy processes one deploy delivery.
func (w *Worker) HandleDeploy(ctx context.Context, d queue.Delivery) error {
	var payload types.DeployPayload
	if err := json.Unmarshal(d.Body, &payload); err != nil {
		logger.Errorf("deploy payload unparseable, acking: %v", err)
		return nil
	}

	job, done, err := w.begin(ctx, payload.JobID, d)
	if done || err != nil {
		return err
	}

	sink := newLogSink(job.ID, w.jobs, w.bus)
	emit := sink.Emit(ctx)
	emit(models.NewLogRecord(models.LogKindInfo, "Deploy job started"))

	result, runErr := w.runDeploy(ctx, payload, emit)
	if runErr != nil {
		terminalErr := w.fail(ctx, job, runErr, sink.Tail())
		w.auditDeploy(ctx, job, models.AuditOutcomeFailure, runErr.Error())
		return terminalErr
	}

	raw, err := json.Marshal(result)
	if err != nil {
		return w.fail(ctx, job, fmt.Errorf("failed to encode result: %w", err), sink.Tail())
	}

	if err := w.complete(ctx, job, raw, sink.Tail()); err != nil {
		return err
	}

	// Post-terminal side effects. Failures here are logged and dropped;
	// they never revert the terminal status.
	if err := w.users.IncrementDeployCount(ctx, job.OwnerID); err != nil {
		logger.Errorf("job %s: deploy counter increment failed: %v", job.ID, err)
	}
	w.auditDeploy(ctx, job, models.AuditOutcomeSuccess, result.ContractID)
	return nil
}

// begin performs the idempotency check and the queued -> active transition.
// done is true when the delivery should simply be acked: the job is already
// terminal (redelivery) or its record is missing (store was unavailable at
// enqueue time; there is no state to protect).
func (w *Worker) begin(ctx context.Context, jobID string, d queue.Delivery) (*models.Job, bool, error) {
	job, err := w.jobs.Get(ctx, jobID)
	if err != nil {
		if errors.Is(err, repos.ErrJobNotFound) {
			logger.WarnWithFields("payload for unknown job, acking", map[string]interface{}{
				"job_id": jobID,
				"handle": d.Handle,
			})
			return nil, true, nil
		}
		return nil, false, err
	}

	if job.Status.Terminal() {
		logger.InfoWithFields("job already terminal, acking redelivery", map[string]interface{}{
			"job_id":  job.ID,
			"status":  job.Status,
			"attempt": d.Attempt,
		})
		return nil, true, nil
	}

	if err := w.jobs.MarkActive(ctx, job.ID); err != nil {
		return nil, false, err
	}
	if err := w.bus.PublishStatus(ctx, job.ID, models.JobStatusActive, nil); err != nil {
		logger.Debugf("job %s: status publish failed: %v", job.ID, err)
	}
	return job, false, nil
}

// runCompile invokes the compile runner, converting panics into errors so
// the terminal write still happens.
func (w *Worker) runCompile(ctx context.Context, payload types.CompilePayload, emit types.EmitLog) (result *compiler.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("compile runner panic: %v", r)
		}
	}()
	return w.compiler.Compile(ctx, payload.ProjectID, payload.Files, emit)
}

// runDeploy invokes the deploy runner with the same panic isolation.
func (w *Worker) runDeploy(ctx context.Context, payload types.DeployPayload, emit types.EmitLog) (result *types.DeployResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("deploy runner panic: %v", r)
		}
	}()

	wasm, decodeErr := base64.StdEncoding.DecodeString(payload.WasmBase64)
	if decodeErr != nil {
		return nil, fmt.Errorf("%w: payload is not valid base64", deployer.ErrInvalidWasm)
	}
	return w.deployer.Deploy(ctx, payload.ProjectID, wasm, payload.Network, emit)
}

// complete records the terminal success and publishes it. Write-once: on a
// redelivery race the stored outcome wins.
func (w *Worker) complete(ctx context.Context, job *models.Job, raw json.RawMessage, tail models.LogTail) error {
	recorded, err := w.jobs.Complete(ctx, job.ID, raw, tail)
	if err != nil {
		return err
	}
	if err := w.bus.PublishStatus(ctx, job.ID, recorded.Status, recorded.Result); err != nil {
		logger.Debugf("job %s: terminal status publish failed: %v", job.ID, err)
	}
	return nil
}

// fail records the terminal failure, publishes it and returns the original
// error so the broker applies its retry policy. Redeliveries are absorbed by
// the idempotency check in begin.
func (w *Worker) fail(ctx context.Context, job *models.Job, runErr error, tail models.LogTail) error {
	recorded, err := w.jobs.Fail(ctx, job.ID, runErr.Error(), tail)
	if err != nil {
		logger.Errorf("job %s: terminal fail write failed: %v", job.ID, err)
		return runErr
	}
	if err := w.bus.PublishStatus(ctx, job.ID, recorded.Status, nil); err != nil {
		logger.Debugf("job %s: terminal status publish failed: %v", job.ID, err)
	}
	return runErr
}

func (w *Worker) auditDeploy(ctx context.Context, job *models.Job, outcome models.AuditOutcome, detail string) {
	entry := &models.AuditEntry{
		JobID:   job.ID,
		OwnerID: job.OwnerID,
		Action:  string(models.JobTypeDeploy),
		Outcome: outcome,
		Detail:  detail,
	}
	if err := w.audits.Append(ctx, entry); err != nil {
		logger.Errorf("job %s: audit append failed: %v", job.ID, err)
	}
}

// RecoverStale logs active jobs found at boot. Their queue payloads are
// still pending on the broker; redelivery plus the idempotency check brings
// them back without extra bookkeeping here.
func (w *Worker) RecoverStale(ctx context.Context, jobType models.JobType) {
	stale, err := w.jobs.ListStaleActive(ctx, jobType, 100)
	if err != nil {
		logger.Errorf("stale job scan failed: %v", err)
		return
	}
	if len(stale) > 0 {
		logger.Infof("found %d active %s jobs from a previous run; broker redelivery will resume them", len(stale), jobType)
	}
}
