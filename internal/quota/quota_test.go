package quota

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/wasmforge/wasmforge/internal/db/models"
	"github.com/wasmforge/wasmforge/internal/db/repos"
)

type QuotaTestSuite struct {
	suite.Suite
	db    *gorm.DB
	ctx   context.Context
	users *repos.UserRepository

	clock time.Time
	gate  *Gate
}

func (s *QuotaTestSuite) SetupTest() {
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(s.T(), err)
	require.NoError(s.T(), db.AutoMigrate(&models.User{}))

	s.db = db
	s.ctx = context.Background()
	s.users = repos.NewUserRepository(db)
	s.clock = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s.gate = NewGateWithClock(s.users, func() time.Time { return s.clock })
}

func (s *QuotaTestSuite) TearDownTest() {
	sqlDB, err := s.db.DB()
	if err == nil && sqlDB != nil {
		_ = sqlDB.Close()
	}
}

func (s *QuotaTestSuite) newUser(tier models.Tier) *models.User {
	user := &models.User{
		Username:            fmt.Sprintf("quota-%s-%d", tier, time.Now().UnixNano()),
		Tier:                tier,
		DeployResetAt:       s.clock,
		FunctionTestResetAt: s.clock,
	}
	s.Require().NoError(s.users.Create(s.ctx, user))
	return user
}

func (s *QuotaTestSuite) TestCompileIsUnbounded() {
	user := s.newUser(models.TierFree)
	for i := 0; i < 50; i++ {
		s.Require().NoError(s.gate.Admit(s.ctx, user, ActionCompile))
	}
}

func (s *QuotaTestSuite) TestFreeTierDeployLimit() {
	user := s.newUser(models.TierFree)

	for i := 0; i < 5; i++ {
		user.DeployCount = i
		s.Require().NoError(s.gate.Admit(s.ctx, user, ActionDeploy))
	}

	user.DeployCount = 5
	err := s.gate.Admit(s.ctx, user, ActionDeploy)
	s.Require().Error(err)

	var exceeded *ExceededError
	s.Require().ErrorAs(err, &exceeded)
	s.Equal(ActionDeploy, exceeded.Action)
	s.Equal(5, exceeded.Current)
	s.Equal(5, exceeded.Limit)
	s.Contains(err.Error(), "QuotaExceeded")
}

func (s *QuotaTestSuite) TestPaidTiersDeployUnbounded() {
	for _, tier := range []models.Tier{models.TierMid, models.TierTop} {
		user := s.newUser(tier)
		user.DeployCount = 1000
		s.Require().NoError(s.gate.Admit(s.ctx, user, ActionDeploy), "tier %s", tier)
	}
}

func (s *QuotaTestSuite) TestFunctionTestLimits() {
	cases := []struct {
		tier    models.Tier
		count   int
		allowed bool
	}{
		{models.TierFree, 1, true},
		{models.TierFree, 2, false},
		{models.TierMid, 4, true},
		{models.TierMid, 5, false},
		{models.TierTop, 10000, true},
	}

	for _, tc := range cases {
		user := s.newUser(tc.tier)
		user.FunctionTestCount = tc.count
		err := s.gate.Admit(s.ctx, user, ActionFunctionTest)
		if tc.allowed {
			s.NoError(err, "tier %s count %d", tc.tier, tc.count)
		} else {
			s.Error(err, "tier %s count %d", tc.tier, tc.count)
		}
	}
}

func (s *QuotaTestSuite) TestAdmitNeverIncrements() {
	user := s.newUser(models.TierFree)
	s.Require().NoError(s.gate.Admit(s.ctx, user, ActionDeploy))

	got, err := s.users.GetByID(s.ctx, user.ID)
	s.Require().NoError(err)
	s.Equal(0, got.DeployCount)
}

func (s *QuotaTestSuite) TestWindowReset() {
	user := s.newUser(models.TierFree)
	user.DeployCount = 5
	s.Require().NoError(s.users.Update(s.ctx, user))

	// Still inside the window: rejected.
	s.clock = s.clock.Add(29 * 24 * time.Hour)
	s.Require().Error(s.gate.Admit(s.ctx, user, ActionDeploy))

	// Past the window: counters reset and the request is admitted.
	s.clock = s.clock.Add(2 * 24 * time.Hour)
	s.Require().NoError(s.gate.Admit(s.ctx, user, ActionDeploy))
	s.Equal(0, user.DeployCount)

	got, err := s.users.GetByID(s.ctx, user.ID)
	s.Require().NoError(err)
	s.Equal(0, got.DeployCount)
	s.WithinDuration(s.clock, got.DeployResetAt, time.Second)
}

func (s *QuotaTestSuite) TestZeroResetAtStartsWindow() {
	user := &models.User{
		Username: fmt.Sprintf("quota-fresh-%d", time.Now().UnixNano()),
		Tier:     models.TierFree,
	}
	s.Require().NoError(s.users.Create(s.ctx, user))
	user.DeployResetAt = time.Time{}
	user.FunctionTestResetAt = time.Time{}

	s.Require().NoError(s.gate.Admit(s.ctx, user, ActionDeploy))
	s.Equal(s.clock, user.DeployResetAt)
}

func TestQuotaTestSuite(t *testing.T) {
	suite.Run(t, new(QuotaTestSuite))
}
