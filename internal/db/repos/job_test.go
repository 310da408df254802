package repos

import (
	"encoding/json"

	"github.com/wasmforge/wasmforge/internal/db/models"
)

func (s *RepositoryTestSuite) TestCreateAndGetJob() {
	owner := s.randomOwnerID()
	job := s.createTestJob(owner, models.JobTypeCompile)

	got, err := s.jobRepo.Get(s.ctx, job.ID)
	s.Require().NoError(err)
	s.Equal(job.ID, got.ID)
	s.Equal(models.JobStatusQueued, got.Status)
	s.Equal(owner, got.OwnerID)
}

func (s *RepositoryTestSuite) TestGetMissingJob() {
	_, err := s.jobRepo.Get(s.ctx, "no-such-job")
	s.Require().ErrorIs(err, ErrJobNotFound)
}

func (s *RepositoryTestSuite) TestDuplicateBrokerHandle() {
	owner := s.randomOwnerID()
	job := s.createTestJob(owner, models.JobTypeCompile)

	dup := &models.Job{
		ID:           job.ID + "-second",
		Type:         models.JobTypeCompile,
		OwnerID:      owner,
		ProjectID:    "proj-test",
		BrokerHandle: job.BrokerHandle,
	}
	err := s.jobRepo.Create(s.ctx, dup)
	s.Require().ErrorIs(err, ErrDuplicateJob)
}

func (s *RepositoryTestSuite) TestMarkActive() {
	job := s.createTestJob(s.randomOwnerID(), models.JobTypeCompile)

	s.Require().NoError(s.jobRepo.MarkActive(s.ctx, job.ID))
	got, err := s.jobRepo.Get(s.ctx, job.ID)
	s.Require().NoError(err)
	s.Equal(models.JobStatusActive, got.Status)

	// Marking again is a no-op, not an error.
	s.Require().NoError(s.jobRepo.MarkActive(s.ctx, job.ID))
}

func (s *RepositoryTestSuite) TestMarkActiveMissingJob() {
	err := s.jobRepo.MarkActive(s.ctx, "no-such-job")
	s.Require().ErrorIs(err, ErrJobNotFound)
}

func (s *RepositoryTestSuite) TestCompleteIsWriteOnce() {
	job := s.createTestJob(s.randomOwnerID(), models.JobTypeCompile)
	result := json.RawMessage(`{"wasm_filename":"contract.wasm"}`)

	recorded, err := s.jobRepo.Complete(s.ctx, job.ID, result, models.LogTail{})
	s.Require().NoError(err)
	s.Equal(models.JobStatusCompleted, recorded.Status)

	// A racing Fail after Complete returns the recorded success untouched.
	recorded, err = s.jobRepo.Fail(s.ctx, job.ID, "late failure", models.LogTail{})
	s.Require().NoError(err)
	s.Equal(models.JobStatusCompleted, recorded.Status)
	s.JSONEq(string(result), string(recorded.Result))
	s.Empty(recorded.Error)
}

func (s *RepositoryTestSuite) TestFailIsWriteOnce() {
	job := s.createTestJob(s.randomOwnerID(), models.JobTypeDeploy)

	recorded, err := s.jobRepo.Fail(s.ctx, job.ID, "DeployFailed: boom", models.LogTail{})
	s.Require().NoError(err)
	s.Equal(models.JobStatusFailed, recorded.Status)
	s.Equal("DeployFailed: boom", recorded.Error)

	recorded, err = s.jobRepo.Complete(s.ctx, job.ID, json.RawMessage(`{}`), models.LogTail{})
	s.Require().NoError(err)
	s.Equal(models.JobStatusFailed, recorded.Status)
}

func (s *RepositoryTestSuite) TestAppendLogsMonotoneCount() {
	job := s.createTestJob(s.randomOwnerID(), models.JobTypeCompile)

	first := models.LogTail{
		models.NewLogRecord(models.LogKindInfo, "one"),
		models.NewLogRecord(models.LogKindInfo, "two"),
	}
	s.Require().NoError(s.jobRepo.AppendLogs(s.ctx, job.ID, first, 2))

	got, err := s.jobRepo.Get(s.ctx, job.ID)
	s.Require().NoError(err)
	s.Len(got.Logs, 2)
	s.Equal(2, got.LogsCount)

	// A stale writer with a lower count cannot shrink the tail.
	stale := models.LogTail{models.NewLogRecord(models.LogKindInfo, "old")}
	s.Require().NoError(s.jobRepo.AppendLogs(s.ctx, job.ID, stale, 1))

	got, err = s.jobRepo.Get(s.ctx, job.ID)
	s.Require().NoError(err)
	s.Len(got.Logs, 2)
	s.Equal("two", got.Logs[1].Message)
}

func (s *RepositoryTestSuite) TestAppendLogsTruncatesTail() {
	job := s.createTestJob(s.randomOwnerID(), models.JobTypeCompile)

	var logs models.LogTail
	for i := 0; i < models.LogTailLimit+25; i++ {
		logs = append(logs, models.NewLogRecord(models.LogKindInfo, "line"))
	}
	s.Require().NoError(s.jobRepo.AppendLogs(s.ctx, job.ID, logs, len(logs)))

	got, err := s.jobRepo.Get(s.ctx, job.ID)
	s.Require().NoError(err)
	s.Len(got.Logs, models.LogTailLimit)
	s.Equal(models.LogTailLimit+25, got.LogsCount)
}

func (s *RepositoryTestSuite) TestListFiltersByOwner() {
	ownerA := s.randomOwnerID()
	ownerB := ownerA + 1
	s.createTestJob(ownerA, models.JobTypeCompile)
	s.createTestJob(ownerA, models.JobTypeDeploy)
	s.createTestJob(ownerB, models.JobTypeCompile)

	jobs, err := s.jobRepo.List(s.ctx, ownerA, JobFilter{})
	s.Require().NoError(err)
	s.Len(jobs, 2)
	for _, job := range jobs {
		s.Equal(ownerA, job.OwnerID)
	}

	deploys, err := s.jobRepo.List(s.ctx, ownerA, JobFilter{Type: models.JobTypeDeploy})
	s.Require().NoError(err)
	s.Len(deploys, 1)
	s.Equal(models.JobTypeDeploy, deploys[0].Type)
}

func (s *RepositoryTestSuite) TestDeleteJob() {
	job := s.createTestJob(s.randomOwnerID(), models.JobTypeCompile)

	s.Require().NoError(s.jobRepo.Delete(s.ctx, job.ID))
	_, err := s.jobRepo.Get(s.ctx, job.ID)
	s.Require().ErrorIs(err, ErrJobNotFound)
}

func (s *RepositoryTestSuite) TestListStaleActive() {
	job := s.createTestJob(s.randomOwnerID(), models.JobTypeCompile)
	s.Require().NoError(s.jobRepo.MarkActive(s.ctx, job.ID))

	stale, err := s.jobRepo.ListStaleActive(s.ctx, models.JobTypeCompile, 10)
	s.Require().NoError(err)
	s.Require().NotEmpty(stale)
	found := false
	for _, candidate := range stale {
		if candidate.ID == job.ID {
			found = true
		}
	}
	s.True(found)
}
