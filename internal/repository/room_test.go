package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
	"github.com/wfunc/cookie-catcher/internal/models"
	"gorm.io/gorm"
)

// RoomRepositoryTestSuite 房间仓储测试套件
type RoomRepositoryTestSuite struct {
	suite.Suite
	db       *gorm.DB
	roomRepo RoomRepository
}

func (suite *RoomRepositoryTestSuite) SetupTest() {
	suite.db = SetupTestDB()
	suite.roomRepo = NewRoomRepository(suite.db)
}

func (suite *RoomRepositoryTestSuite) TearDownTest() {
	CleanupTestDB(suite.db)
}

func (suite *RoomRepositoryTestSuite) TestGet() {
	room, err := suite.roomRepo.Get(context.Background(), testRoom)
	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), models.RoomStatusIdle, room.Status)

	_, err = suite.roomRepo.Get(context.Background(), "nope")
	assert.ErrorIs(suite.T(), err, ErrRoomNotFound)
}

func (suite *RoomRepositoryTestSuite) TestRoundLifecycle() {
	ctx := context.Background()
	start := time.Now().UTC()

	room, err := suite.roomRepo.StartRound(ctx, testRoom, start, start.Add(30*time.Second))
	suite.Require().NoError(err)
	assert.Equal(suite.T(), models.RoomStatusRunning, room.Status)
	assert.Equal(suite.T(), 1, room.RoundNo)
	suite.Require().NotNil(room.RoundEndsAt)
	assert.WithinDuration(suite.T(), start.Add(30*time.Second), *room.RoundEndsAt, time.Millisecond)

	room, err = suite.roomRepo.StartRound(ctx, testRoom, start, start.Add(30*time.Second))
	suite.Require().NoError(err)
	assert.Equal(suite.T(), 2, room.RoundNo)

	room, err = suite.roomRepo.StartIntermission(ctx, testRoom, start, start.Add(10*time.Second))
	suite.Require().NoError(err)
	assert.Equal(suite.T(), models.RoomStatusIntermission, room.Status)
	assert.Equal(suite.T(), 2, room.RoundNo)

	room, err = suite.roomRepo.StopRound(ctx, testRoom)
	suite.Require().NoError(err)
	assert.Equal(suite.T(), models.RoomStatusIdle, room.Status)
	assert.Nil(suite.T(), room.RoundEndsAt)
	assert.Equal(suite.T(), 2, room.RoundNo)
}

func (suite *RoomRepositoryTestSuite) TestUpdateSpawnRate() {
	room, err := suite.roomRepo.UpdateSpawnRate(context.Background(), testRoom, 4.5)
	assert.NoError(suite.T(), err)
	assert.InDelta(suite.T(), 4.5, room.SpawnRatePerSec, 1e-9)

	_, err = suite.roomRepo.UpdateSpawnRate(context.Background(), "nope", 1)
	assert.ErrorIs(suite.T(), err, ErrRoomNotFound)
}

func (suite *RoomRepositoryTestSuite) TestManagerTransactionRollback() {
	ctx := context.Background()
	mgr := NewManager(suite.db)

	err := mgr.WithTransaction(ctx, func(tx *Manager) error {
		if _, err := tx.Room().UpdateSpawnRate(ctx, testRoom, 9); err != nil {
			return err
		}
		return assert.AnError
	})
	assert.ErrorIs(suite.T(), err, assert.AnError)

	room, err := mgr.Room().Get(ctx, testRoom)
	suite.Require().NoError(err)
	assert.NotEqual(suite.T(), 9.0, room.SpawnRatePerSec)
}

func (suite *RoomRepositoryTestSuite) TestNicknameWords() {
	words, err := NewManager(suite.db).NicknameWord().ListAll(context.Background())
	assert.NoError(suite.T(), err)
	assert.NotEmpty(suite.T(), words)
	assert.Equal(suite.T(), 1, words[0].Position)
	assert.Equal(suite.T(), 3, words[len(words)-1].Position)
}

func TestRoomRepositorySuite(t *testing.T) {
	suite.Run(t, new(RoomRepositoryTestSuite))
}
