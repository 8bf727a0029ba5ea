//go:build integration

package biometric_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"intake/internal/biometric"
	"intake/pkg/domain"
	"intake/pkg/platform/sentinel"
	"intake/pkg/testutil/containers"
)

type RedisLeaserSuite struct {
	suite.Suite
	redis  *containers.RedisContainer
	leaser *biometric.RedisLeaser
}

func TestRedisLeaserSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisLeaserSuite))
}

func (s *RedisLeaserSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.redis = mgr.GetRedis(s.T())
	s.leaser = biometric.NewRedisLeaser(s.redis.Client)
}

func (s *RedisLeaserSuite) SetupTest() {
	err := s.redis.FlushAll(context.Background())
	s.Require().NoError(err)
}

func (s *RedisLeaserSuite) TestLeaseSerializesPerProgram() {
	ctx := context.Background()
	programID := domain.ProgramID(uuid.New())

	release, err := s.leaser.Acquire(ctx, programID)
	s.Require().NoError(err)

	_, err = s.leaser.Acquire(ctx, programID)
	s.True(errors.Is(err, sentinel.ErrAlreadyProcessing))

	release()

	release, err = s.leaser.Acquire(ctx, programID)
	s.Require().NoError(err, "released lease can be taken again")
	release()
}

func (s *RedisLeaserSuite) TestLeasesAreIndependentAcrossPrograms() {
	ctx := context.Background()

	releaseA, err := s.leaser.Acquire(ctx, domain.ProgramID(uuid.New()))
	s.Require().NoError(err)
	defer releaseA()

	releaseB, err := s.leaser.Acquire(ctx, domain.ProgramID(uuid.New()))
	s.Require().NoError(err)
	defer releaseB()
}

func (s *RedisLeaserSuite) TestReleaseSurvivesCancelledContext() {
	ctx, cancel := context.WithCancel(context.Background())
	programID := domain.ProgramID(uuid.New())

	release, err := s.leaser.Acquire(ctx, programID)
	s.Require().NoError(err)

	cancel()
	release()

	release, err = s.leaser.Acquire(context.Background(), programID)
	s.Require().NoError(err)
	release()
}
