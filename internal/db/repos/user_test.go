package repos

import (
	"time"

	"github.com/wasmforge/wasmforge/internal/db/models"
)

func (s *RepositoryTestSuite) TestGetUserByToken() {
	user := s.createTestUser()

	got, err := s.userRepo.GetByToken(s.ctx, user.APIToken)
	s.Require().NoError(err)
	s.Equal(user.ID, got.ID)

	_, err = s.userRepo.GetByToken(s.ctx, "bogus-token")
	s.Require().ErrorIs(err, ErrUserNotFound)

	_, err = s.userRepo.GetByToken(s.ctx, "")
	s.Require().ErrorIs(err, ErrUserNotFound)
}

func (s *RepositoryTestSuite) TestIncrementDeployCount() {
	user := s.createTestUser()

	s.Require().NoError(s.userRepo.IncrementDeployCount(s.ctx, user.ID))
	s.Require().NoError(s.userRepo.IncrementDeployCount(s.ctx, user.ID))

	got, err := s.userRepo.GetByID(s.ctx, user.ID)
	s.Require().NoError(err)
	s.Equal(2, got.DeployCount)
	s.Equal(0, got.FunctionTestCount)
}

func (s *RepositoryTestSuite) TestResetCounters() {
	user := s.createTestUser()
	s.Require().NoError(s.userRepo.IncrementDeployCount(s.ctx, user.ID))
	s.Require().NoError(s.userRepo.IncrementFunctionTestCount(s.ctx, user.ID))

	now := time.Now().UTC()
	s.Require().NoError(s.userRepo.ResetCounters(s.ctx, user.ID, now))

	got, err := s.userRepo.GetByID(s.ctx, user.ID)
	s.Require().NoError(err)
	s.Equal(0, got.DeployCount)
	s.Equal(0, got.FunctionTestCount)
	s.WithinDuration(now, got.DeployResetAt, time.Second)
}

func (s *RepositoryTestSuite) TestProjectOwnership() {
	owner := s.randomOwnerID()
	project := s.createTestProject(owner)

	got, err := s.projectRepo.GetOwned(s.ctx, owner, project.ID)
	s.Require().NoError(err)
	s.Equal(project.ID, got.ID)

	// Another owner is rejected as not-owned, distinct from missing.
	_, err = s.projectRepo.GetOwned(s.ctx, owner+1, project.ID)
	s.Require().ErrorIs(err, ErrNotOwned)

	_, err = s.projectRepo.GetOwned(s.ctx, owner, "no-such-project")
	s.Require().ErrorIs(err, ErrProjectNotFound)
}

func (s *RepositoryTestSuite) TestAuditTrail() {
	job := s.createTestJob(s.randomOwnerID(), models.JobTypeDeploy)

	entry := &models.AuditEntry{
		JobID:   job.ID,
		OwnerID: job.OwnerID,
		Action:  string(models.JobTypeDeploy),
		Outcome: models.AuditOutcomeSuccess,
		Detail:  "CABC123",
	}
	s.Require().NoError(s.auditRepo.Append(s.ctx, entry))

	entries, err := s.auditRepo.ListByJob(s.ctx, job.ID)
	s.Require().NoError(err)
	s.Require().Len(entries, 1)
	s.Equal(models.AuditOutcomeSuccess, entries[0].Outcome)
}
