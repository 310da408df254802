package worker

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/wasmforge/wasmforge/internal/compiler"
	"github.com/wasmforge/wasmforge/internal/db/models"
	"github.com/wasmforge/wasmforge/internal/db/repos"
	"github.com/wasmforge/wasmforge/internal/queue"
	"github.com/wasmforge/wasmforge/internal/types"
)

// fakeBus records published status transitions.
type fakeBus struct {
	mu       sync.Mutex
	statuses []models.JobStatus
	logs     int
}

func (b *fakeBus) PublishLog(_ context.Context, _ string, _ models.LogRecord) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.logs++
	return nil
}

func (b *fakeBus) PublishStatus(_ context.Context, _ string, status models.JobStatus, _ json.RawMessage) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.statuses = append(b.statuses, status)
	return nil
}

func (b *fakeBus) published() []models.JobStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]models.JobStatus, len(b.statuses))
	copy(out, b.statuses)
	return out
}

// fakeCompiler returns a scripted result or error.
type fakeCompiler struct {
	result *compiler.Result
	err    error
	panics bool
	calls  int
}

func (f *fakeCompiler) Compile(_ context.Context, _ string, _ []types.SourceFile, emit types.EmitLog) (*compiler.Result, error) {
	f.calls++
	if f.panics {
		panic("compiler blew up")
	}
	emit(models.NewLogRecord(models.LogKindInfo, "Compiling contract"))
	return f.result, f.err
}

// fakeDeployer returns a scripted result or error.
type fakeDeployer struct {
	result *types.DeployResult
	err    error
	calls  int
}

func (f *fakeDeployer) Deploy(_ context.Context, _ string, _ []byte, network types.Network, emit types.EmitLog) (*types.DeployResult, error) {
	f.calls++
	emit(models.NewLogRecord(models.LogKindInfo, "Deploying"))
	if f.err != nil {
		return nil, f.err
	}
	result := *f.result
	result.Network = network
	return &result, nil
}

type WorkerTestSuite struct {
	suite.Suite
	db       *gorm.DB
	ctx      context.Context
	jobs     *repos.JobRepository
	users    *repos.UserRepository
	audits   *repos.AuditRepository
	bus      *fakeBus
	compiler *fakeCompiler
	deployer *fakeDeployer
	worker   *Worker

	user *models.User
	seq  int
}

func (s *WorkerTestSuite) SetupTest() {
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(s.T(), err)
	require.NoError(s.T(), db.AutoMigrate(&models.Job{}, &models.User{}, &models.AuditEntry{}))

	s.db = db
	s.ctx = context.Background()
	s.jobs = repos.NewJobRepository(db)
	s.users = repos.NewUserRepository(db)
	s.audits = repos.NewAuditRepository(db)
	s.bus = &fakeBus{}
	s.compiler = &fakeCompiler{
		result: &compiler.Result{
			WasmBytes:    []byte{0x00, 0x61, 0x73, 0x6D},
			WasmFilename: "contract.wasm",
			BackendUsed:  types.BackendNative,
		},
	}
	s.deployer = &fakeDeployer{
		result: &types.DeployResult{
			ContractID:     "CDLZFC3SYJYDZT7K67VZ75HPJVIEUVNIXF47ZG2FB2RMQQVU2HHGCYSC",
			SignerIdentity: "deployer",
		},
	}
	s.worker = New(s.jobs, s.users, s.audits, s.bus, s.compiler, s.deployer)

	s.user = &models.User{Username: fmt.Sprintf("worker-user-%p", s), Tier: models.TierFree}
	require.NoError(s.T(), s.users.Create(s.ctx, s.user))
}

func (s *WorkerTestSuite) TearDownTest() {
	sqlDB, err := s.db.DB()
	if err == nil && sqlDB != nil {
		_ = sqlDB.Close()
	}
}

func (s *WorkerTestSuite) newJob(jobType models.JobType) *models.Job {
	s.seq++
	id := fmt.Sprintf("job-%s-%d", jobType, s.seq)
	job := &models.Job{
		ID:           id,
		Type:         jobType,
		OwnerID:      s.user.ID,
		ProjectID:    "proj-1",
		BrokerHandle: fmt.Sprintf("%s-%s", jobType, id),
	}
	s.Require().NoError(s.jobs.Create(s.ctx, job))
	return job
}

func (s *WorkerTestSuite) compileDelivery(jobID string) queue.Delivery {
	body, err := json.Marshal(types.CompilePayload{
		ProjectID: "proj-1",
		Files:     []types.SourceFile{{Name: "Cargo.toml", Content: "[package]\n"}},
		JobID:     jobID,
		UserID:    s.user.ID,
	})
	s.Require().NoError(err)
	return queue.Delivery{MessageID: "1-0", Handle: "compile-" + jobID, Body: body, Attempt: 1}
}

func (s *WorkerTestSuite) deployDelivery(jobID string, wasm []byte) queue.Delivery {
	body, err := json.Marshal(types.DeployPayload{
		ProjectID:  "proj-1",
		WasmBase64: base64.StdEncoding.EncodeToString(wasm),
		Network:    types.NetworkTestnet,
		JobID:      jobID,
		UserID:     s.user.ID,
	})
	s.Require().NoError(err)
	return queue.Delivery{MessageID: "1-0", Handle: "deploy-" + jobID, Body: body, Attempt: 1}
}

func (s *WorkerTestSuite) TestCompileSuccess() {
	job := s.newJob(models.JobTypeCompile)

	err := s.worker.HandleCompile(s.ctx, s.compileDelivery(job.ID))
	s.Require().NoError(err)

	got, err := s.jobs.Get(s.ctx, job.ID)
	s.Require().NoError(err)
	s.Equal(models.JobStatusCompleted, got.Status)
	s.NotEmpty(got.Logs)

	var result types.CompileResult
	s.Require().NoError(json.Unmarshal(got.Result, &result))
	s.Equal("contract.wasm", result.WasmFilename)
	s.Equal(types.BackendNative, result.BackendUsed)

	wasm, err := base64.StdEncoding.DecodeString(result.WasmBase64)
	s.Require().NoError(err)
	s.Equal([]byte{0x00, 0x61, 0x73, 0x6D}, wasm)

	s.Equal([]models.JobStatus{models.JobStatusActive, models.JobStatusCompleted}, s.bus.published())
}

func (s *WorkerTestSuite) TestCompileFailureReturnsError() {
	job := s.newJob(models.JobTypeCompile)
	s.compiler.err = errors.New("CompilerFailed: boom")
	s.compiler.result = nil

	err := s.worker.HandleCompile(s.ctx, s.compileDelivery(job.ID))
	s.Require().Error(err, "the runner error must propagate so the broker retries")

	got, getErr := s.jobs.Get(s.ctx, job.ID)
	s.Require().NoError(getErr)
	s.Equal(models.JobStatusFailed, got.Status)
	s.Contains(got.Error, "CompilerFailed")
}

func (s *WorkerTestSuite) TestRedeliveryOfTerminalJobIsAcked() {
	job := s.newJob(models.JobTypeCompile)

	s.Require().NoError(s.worker.HandleCompile(s.ctx, s.compileDelivery(job.ID)))
	s.Equal(1, s.compiler.calls)

	// The redelivered payload acks without rerunning the compiler.
	delivery := s.compileDelivery(job.ID)
	delivery.Attempt = 2
	s.Require().NoError(s.worker.HandleCompile(s.ctx, delivery))
	s.Equal(1, s.compiler.calls)
}

func (s *WorkerTestSuite) TestUnknownJobIsAcked() {
	err := s.worker.HandleCompile(s.ctx, s.compileDelivery("no-such-job"))
	s.Require().NoError(err)
	s.Equal(0, s.compiler.calls)
}

func (s *WorkerTestSuite) TestMalformedPayloadIsAcked() {
	err := s.worker.HandleCompile(s.ctx, queue.Delivery{MessageID: "1-0", Body: []byte("{not json")})
	s.Require().NoError(err)
}

func (s *WorkerTestSuite) TestCompilePanicBecomesFailure() {
	job := s.newJob(models.JobTypeCompile)
	s.compiler.panics = true

	err := s.worker.HandleCompile(s.ctx, s.compileDelivery(job.ID))
	s.Require().Error(err)

	got, getErr := s.jobs.Get(s.ctx, job.ID)
	s.Require().NoError(getErr)
	s.Equal(models.JobStatusFailed, got.Status)
	s.Contains(got.Error, "panic")
}

func (s *WorkerTestSuite) TestDeploySuccessSideEffects() {
	job := s.newJob(models.JobTypeDeploy)
	wasm := []byte{0x00, 0x61, 0x73, 0x6D, 0x01, 0x00, 0x00, 0x00, 0x00}

	err := s.worker.HandleDeploy(s.ctx, s.deployDelivery(job.ID, wasm))
	s.Require().NoError(err)

	got, getErr := s.jobs.Get(s.ctx, job.ID)
	s.Require().NoError(getErr)
	s.Equal(models.JobStatusCompleted, got.Status)

	// The deploy counter moved exactly once.
	user, userErr := s.users.GetByID(s.ctx, s.user.ID)
	s.Require().NoError(userErr)
	s.Equal(1, user.DeployCount)

	// And the success was audited with the contract id.
	entries, auditErr := s.audits.ListByJob(s.ctx, job.ID)
	s.Require().NoError(auditErr)
	s.Require().Len(entries, 1)
	s.Equal(models.AuditOutcomeSuccess, entries[0].Outcome)
	s.Equal(s.deployer.result.ContractID, entries[0].Detail)
}

func (s *WorkerTestSuite) TestDeployRedeliveryDoesNotDoubleCount() {
	job := s.newJob(models.JobTypeDeploy)
	wasm := []byte{0x00, 0x61, 0x73, 0x6D, 0x01, 0x00, 0x00, 0x00, 0x00}

	s.Require().NoError(s.worker.HandleDeploy(s.ctx, s.deployDelivery(job.ID, wasm)))
	s.Require().NoError(s.worker.HandleDeploy(s.ctx, s.deployDelivery(job.ID, wasm)))

	user, err := s.users.GetByID(s.ctx, s.user.ID)
	s.Require().NoError(err)
	s.Equal(1, user.DeployCount)
	s.Equal(1, s.deployer.calls)
}

func (s *WorkerTestSuite) TestDeployFailureAuditsAndDoesNotCount() {
	job := s.newJob(models.JobTypeDeploy)
	s.deployer.err = errors.New("DeployFailed: simulation error")

	err := s.worker.HandleDeploy(s.ctx, s.deployDelivery(job.ID, []byte{0x00, 0x61, 0x73, 0x6D, 0x01, 0x00, 0x00, 0x00, 0x00}))
	s.Require().Error(err)

	user, userErr := s.users.GetByID(s.ctx, s.user.ID)
	s.Require().NoError(userErr)
	s.Equal(0, user.DeployCount, "failed deploys never burn quota")

	entries, auditErr := s.audits.ListByJob(s.ctx, job.ID)
	s.Require().NoError(auditErr)
	s.Require().Len(entries, 1)
	s.Equal(models.AuditOutcomeFailure, entries[0].Outcome)
}

func (s *WorkerTestSuite) TestDeployBadBase64Fails() {
	job := s.newJob(models.JobTypeDeploy)
	body, err := json.Marshal(map[string]interface{}{
		"project_id":  "proj-1",
		"wasm_base64": "!!!not base64!!!",
		"network":     "testnet",
		"job_id":      job.ID,
		"user_id":     s.user.ID,
	})
	s.Require().NoError(err)

	handleErr := s.worker.HandleDeploy(s.ctx, queue.Delivery{MessageID: "1-0", Body: body, Attempt: 1})
	s.Require().Error(handleErr)

	got, getErr := s.jobs.Get(s.ctx, job.ID)
	s.Require().NoError(getErr)
	s.Equal(models.JobStatusFailed, got.Status)
	s.Contains(got.Error, "InvalidWasm")
	s.Equal(0, s.deployer.calls)
}

func TestWorkerTestSuite(t *testing.T) {
	suite.Run(t, new(WorkerTestSuite))
}
