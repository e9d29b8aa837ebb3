package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	apperrors "github.com/wfunc/cookie-catcher/internal/errors"
	"github.com/wfunc/cookie-catcher/internal/game"
	"github.com/wfunc/cookie-catcher/internal/models"
	"github.com/wfunc/cookie-catcher/internal/repository"
	"gorm.io/gorm"
)

// ServiceTestSuite 服务层测试套件
type ServiceTestSuite struct {
	suite.Suite
	db       *gorm.DB
	clock    *fakeClock
	feed     *recordFeed
	cfg      *Config
	services *Services
	ctx      context.Context
}

func (suite *ServiceTestSuite) SetupTest() {
	suite.db = repository.SetupTestDB()
	suite.clock = newFakeClock()
	suite.feed = &recordFeed{}
	suite.cfg = testConfig(suite.clock)
	suite.ctx = context.Background()

	services, err := NewServices(suite.db, suite.cfg, suite.feed, nil)
	suite.Require().NoError(err)
	suite.services = services
}

func (suite *ServiceTestSuite) TearDownTest() {
	repository.CleanupTestDB(suite.db)
}

func (suite *ServiceTestSuite) join(device string) *models.Player {
	p, err := suite.services.Player.AssignNickname(suite.ctx, device)
	suite.Require().NoError(err)
	return p
}

func (suite *ServiceTestSuite) putCookie(typ string, value int, ttl time.Duration) *models.Cookie {
	now := suite.clock.Now()
	c := models.Cookie{
		ID:        uuid.New().String(),
		RoomID:    suite.cfg.Game.RoomID,
		Type:      typ,
		Value:     value,
		XPct:      50,
		SpawnedAt: now,
		DespawnAt: now.Add(ttl),
	}
	suite.Require().NoError(suite.services.Repos.Cookie().InsertBatch(suite.ctx, []models.Cookie{c}))
	return &c
}

func (suite *ServiceTestSuite) admin(action string) *AdminActionResult {
	res, err := suite.services.Admin.Execute(suite.ctx, &AdminActionRequest{Action: action})
	suite.Require().NoError(err)
	return res
}

// ---- 昵称 ----

func (suite *ServiceTestSuite) TestAssignNickname_Idempotent() {
	first := suite.join("device-1")
	suite.NotEmpty(first.Nick)
	suite.Equal(game.ColorForNick(first.Nick), first.Color)
	suite.Equal(suite.cfg.Game.RoomID, first.RoomID)
	suite.Equal(1, suite.feed.count(TableScores, EventInsert))

	suite.clock.Advance(time.Minute)
	second := suite.join("device-1")
	suite.Equal(first.ID, second.ID)
	suite.Equal(first.Nick, second.Nick)
	suite.True(second.LastSeenAt.After(first.LastSeenAt))
	suite.Equal(1, suite.feed.count(TableScores, EventInsert))
}

func (suite *ServiceTestSuite) TestAssignNickname_UniqueNicks() {
	seen := map[string]bool{}
	for i := 0; i < 30; i++ {
		p := suite.join(fmt.Sprintf("device-%d", i))
		suite.False(seen[p.Nick], "重复昵称 %s", p.Nick)
		seen[p.Nick] = true
	}
}

func (suite *ServiceTestSuite) TestAssignNickname_ConcurrentSameDevice() {
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		ids = map[string]bool{}
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := suite.services.Player.AssignNickname(suite.ctx, "same-device")
			suite.NoError(err)
			if p != nil {
				mu.Lock()
				ids[p.ID] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	suite.Len(ids, 1)
}

func (suite *ServiceTestSuite) TestAssignNickname_Validation() {
	_, err := suite.services.Player.AssignNickname(suite.ctx, "  ")
	suite.True(apperrors.Is(err, apperrors.ErrInvalidParam))
	appErr, _ := apperrors.As(err)
	suite.Equal("Device ID is required", appErr.PublicMessage())
}

func (suite *ServiceTestSuite) TestAssignNickname_EmptyWordBank() {
	suite.Require().NoError(suite.db.Where("position = ?", 2).Delete(&models.NicknameWord{}).Error)
	_, err := suite.services.Player.AssignNickname(suite.ctx, "device-x")
	suite.True(apperrors.Is(err, apperrors.ErrNicknameWordsMiss))
}

// ---- 领取 ----

func (suite *ServiceTestSuite) TestClaim_SuccessUpdatesScores() {
	suite.join("device-1")
	cat := suite.putCookie(models.CookieTypeCat, 3, 5*time.Second)

	res, err := suite.services.Claim.Claim(suite.ctx, cat.ID, "device-1")
	suite.Require().NoError(err)
	suite.True(res.OK())
	suite.Equal(3, res.Value)
	suite.Equal(3, res.Score.ScoreRound)
	suite.Equal(3, res.Score.ScoreTotal)
	suite.Equal(1, suite.feed.count(TableCookies, EventUpdate))
	suite.Equal(1, suite.feed.count(TableScores, EventUpdate))
}

func (suite *ServiceTestSuite) TestClaim_SequenceExample() {
	p := suite.join("device-1")
	_, err := suite.services.Repos.Score().ApplyClaim(suite.ctx, p.ID, suite.cfg.Game.RoomID, 5, suite.clock.Now().Add(-time.Hour))
	suite.Require().NoError(err)

	cat := suite.putCookie(models.CookieTypeCat, 3, 5*time.Second)
	res, err := suite.services.Claim.Claim(suite.ctx, cat.ID, "device-1")
	suite.Require().NoError(err)
	suite.Equal(8, res.Score.ScoreRound)

	suite.clock.Advance(time.Second)
	cookie := suite.putCookie(models.CookieTypeCookie, 1, 5*time.Second)
	res, err = suite.services.Claim.Claim(suite.ctx, cookie.ID, "device-1")
	suite.Require().NoError(err)
	suite.Equal(9, res.Score.ScoreRound)
	suite.Equal(9, res.Score.ScoreTotal)
}

func (suite *ServiceTestSuite) TestClaim_PlayerNotFound() {
	c := suite.putCookie(models.CookieTypeCookie, 1, 5*time.Second)
	res, err := suite.services.Claim.Claim(suite.ctx, c.ID, "ghost")
	suite.Require().NoError(err)
	suite.Equal(ClaimPlayerNotFound, res.Status)
	suite.Equal("Player not found", res.Reason())
}

func (suite *ServiceTestSuite) TestClaim_RateLimited() {
	suite.join("device-1")
	a := suite.putCookie(models.CookieTypeCookie, 1, 5*time.Second)
	b := suite.putCookie(models.CookieTypeCookie, 1, 5*time.Second)

	res, err := suite.services.Claim.Claim(suite.ctx, a.ID, "device-1")
	suite.Require().NoError(err)
	suite.True(res.OK())

	suite.clock.Advance(suite.cfg.Game.ClaimCooldown / 2)
	res, err = suite.services.Claim.Claim(suite.ctx, b.ID, "device-1")
	suite.Require().NoError(err)
	suite.Equal(ClaimRateLimited, res.Status)
	suite.Equal("Rate limited", res.Reason())

	suite.clock.Advance(suite.cfg.Game.ClaimCooldown)
	res, err = suite.services.Claim.Claim(suite.ctx, b.ID, "device-1")
	suite.Require().NoError(err)
	suite.True(res.OK())
}

// 冷却在事务外读取：同一设备并发领取不同饼干时可能都成功，
// 但积分不会丢失，失败的一方只会是 RateLimited
func (suite *ServiceTestSuite) TestClaim_SameDeviceConcurrentCookies() {
	p := suite.join("device-1")
	cookies := []*models.Cookie{
		suite.putCookie(models.CookieTypeCookie, 1, 5*time.Second),
		suite.putCookie(models.CookieTypeCat, 3, 5*time.Second),
	}

	results := make([]*ClaimResult, len(cookies))
	var wg sync.WaitGroup
	for i, c := range cookies {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			res, err := suite.services.Claim.Claim(suite.ctx, id, "device-1")
			suite.NoError(err)
			results[i] = res
		}(i, c.ID)
	}
	wg.Wait()

	won := 0
	var pending []*models.Cookie
	for i, res := range results {
		suite.Require().NotNil(res)
		if res.OK() {
			won += res.Value
			suite.Equal(cookies[i].Value, res.Value)
			continue
		}
		suite.Equal(ClaimRateLimited, res.Status)
		pending = append(pending, cookies[i])
	}
	suite.Less(len(pending), len(cookies), "至少一个成功")

	score, err := suite.services.Repos.Score().FindByPlayer(suite.ctx, p.ID)
	suite.Require().NoError(err)
	suite.Equal(won, score.ScoreTotal)
	suite.Equal(won, score.ScoreRound)

	// 被限流的饼干冷却后仍可领取
	suite.clock.Advance(suite.cfg.Game.ClaimCooldown)
	for _, c := range pending {
		res, err := suite.services.Claim.Claim(suite.ctx, c.ID, "device-1")
		suite.Require().NoError(err)
		suite.True(res.OK())
	}
	score, err = suite.services.Repos.Score().FindByPlayer(suite.ctx, p.ID)
	suite.Require().NoError(err)
	suite.Equal(4, score.ScoreTotal)
}

func (suite *ServiceTestSuite) TestClaim_Expired() {
	p := suite.join("device-1")
	c := suite.putCookie(models.CookieTypeCookie, 1, time.Second)
	suite.clock.Advance(2 * time.Second)

	res, err := suite.services.Claim.Claim(suite.ctx, c.ID, "device-1")
	suite.Require().NoError(err)
	suite.Equal(ClaimExpired, res.Status)
	suite.Equal("Cookie already claimed or expired", res.Reason())

	score, err := suite.services.Repos.Score().FindByPlayer(suite.ctx, p.ID)
	suite.Require().NoError(err)
	suite.Equal(0, score.ScoreTotal)
}

func (suite *ServiceTestSuite) TestClaim_UnknownCookie() {
	suite.join("device-1")
	res, err := suite.services.Claim.Claim(suite.ctx, uuid.New().String(), "device-1")
	suite.Require().NoError(err)
	suite.Equal(ClaimCookieNotFound, res.Status)
	suite.Equal(ReasonClaimedOrExpire, res.Reason())
}

func (suite *ServiceTestSuite) TestClaim_ConcurrentExactlyOneWinner() {
	const racers = 12
	for i := 0; i < racers; i++ {
		suite.join(fmt.Sprintf("racer-%d", i))
	}
	c := suite.putCookie(models.CookieTypeCookie, 1, 5*time.Second)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		statuses = map[ClaimStatus]int{}
	)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := suite.services.Claim.Claim(suite.ctx, c.ID, fmt.Sprintf("racer-%d", i))
			suite.NoError(err)
			if res != nil {
				mu.Lock()
				statuses[res.Status]++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	suite.Equal(1, statuses[ClaimOK])
	suite.Equal(racers-1, statuses[ClaimAlreadyClaimed])
}

func (suite *ServiceTestSuite) TestClaim_MissingParams() {
	_, err := suite.services.Claim.Claim(suite.ctx, "", "device-1")
	suite.True(apperrors.Is(err, apperrors.ErrInvalidParam))
}

// ---- 生成 ----

func (suite *ServiceTestSuite) TestSpawnTick_NotRunning() {
	res, err := suite.services.Spawn.SpawnTick(suite.ctx)
	suite.Require().NoError(err)
	suite.False(res.Running)
	suite.Equal(models.RoomStatusIdle, res.RoomStatus)
	suite.Equal(0, res.Spawned)

	active, err := suite.services.Query.ActiveCookies(suite.ctx)
	suite.Require().NoError(err)
	suite.Empty(active)
}

func (suite *ServiceTestSuite) TestSpawnTick_RunningSpawnsAndCleans() {
	suite.admin(ActionStartRound)
	_, err := suite.services.Admin.Execute(suite.ctx, &AdminActionRequest{Action: ActionUpdateSpawnRate, Rate: floatPtr(3.4)})
	suite.Require().NoError(err)

	stale := suite.putCookie(models.CookieTypeCookie, 1, time.Second)
	suite.clock.Advance(2 * time.Second)
	suite.feed.reset()

	res, err := suite.services.Spawn.SpawnTick(suite.ctx)
	suite.Require().NoError(err)
	suite.True(res.Running)
	suite.Equal(3, res.Spawned)
	suite.Equal(1, res.Cleaned)
	suite.Equal(3, suite.feed.count(TableCookies, EventInsert))
	suite.Equal(1, suite.feed.count(TableCookies, EventDelete))

	_, err = suite.services.Repos.Cookie().Find(suite.ctx, stale.ID)
	suite.ErrorIs(err, repository.ErrCookieNotFound)

	active, err := suite.services.Query.ActiveCookies(suite.ctx)
	suite.Require().NoError(err)
	suite.Len(active, 3)
	for _, c := range active {
		suite.GreaterOrEqual(c.XPct, 5.0)
		suite.Less(c.XPct, 95.0)
		suite.Equal(0.0, c.YPct)
		suite.WithinDuration(suite.clock.Now().Add(8*time.Second), c.DespawnAt, time.Millisecond)
	}
}

func (suite *ServiceTestSuite) TestCollectClaimed() {
	suite.join("device-1")
	c := suite.putCookie(models.CookieTypeCookie, 1, 5*time.Second)
	res, err := suite.services.Claim.Claim(suite.ctx, c.ID, "device-1")
	suite.Require().NoError(err)
	suite.Require().True(res.OK())

	n, err := suite.services.Spawn.CollectClaimed(suite.ctx)
	suite.NoError(err)
	suite.Equal(int64(0), n)

	suite.clock.Advance(suite.cfg.Game.Spawner.ClaimedRetention + time.Second)
	n, err = suite.services.Spawn.CollectClaimed(suite.ctx)
	suite.NoError(err)
	suite.Equal(int64(1), n)
}

// ---- 管理 ----

func (suite *ServiceTestSuite) TestAuthenticate() {
	token, err := suite.services.Admin.Authenticate(suite.ctx, "let-me-in")
	suite.Require().NoError(err)
	claims, err := suite.services.Admin.ValidateToken(suite.ctx, token)
	suite.Require().NoError(err)
	suite.Equal("admin", claims.Role)

	_, err = suite.services.Admin.Authenticate(suite.ctx, "wrong")
	suite.True(apperrors.Is(err, apperrors.ErrAuthentication))

	_, err = suite.services.Admin.Authenticate(suite.ctx, "")
	suite.True(apperrors.Is(err, apperrors.ErrInvalidParam))

	_, err = suite.services.Admin.ValidateToken(suite.ctx, "garbage")
	suite.True(apperrors.Is(err, apperrors.ErrTokenInvalid))
}

func (suite *ServiceTestSuite) TestAuthenticate_NotConfigured() {
	cfg := testConfig(suite.clock)
	cfg.AdminPassword = ""
	services, err := NewServices(suite.db, cfg, nil, nil)
	suite.Require().NoError(err)

	_, err = services.Admin.Authenticate(suite.ctx, "anything")
	suite.True(apperrors.Is(err, apperrors.ErrConfigMissing))
	appErr, _ := apperrors.As(err)
	suite.Equal("Server configuration error", appErr.PublicMessage())
}

func (suite *ServiceTestSuite) TestStartRound_ResetsRoundScoresFromSecondRound() {
	p := suite.join("device-1")

	res := suite.admin(ActionStartRound)
	suite.Equal(1, *res.Round)
	room, err := suite.services.Query.Room(suite.ctx)
	suite.Require().NoError(err)
	suite.Equal(models.RoomStatusRunning, room.Status)
	suite.Equal(30, room.TimeRemaining)

	c := suite.putCookie(models.CookieTypeCookie, 1, 5*time.Second)
	claim, err := suite.services.Claim.Claim(suite.ctx, c.ID, "device-1")
	suite.Require().NoError(err)
	suite.Require().True(claim.OK())

	res = suite.admin(ActionStartRound)
	suite.Equal(2, *res.Round)

	score, err := suite.services.Repos.Score().FindByPlayer(suite.ctx, p.ID)
	suite.Require().NoError(err)
	suite.Equal(0, score.ScoreRound)
	suite.Equal(1, score.ScoreTotal)
}

func (suite *ServiceTestSuite) TestRoomTransitions() {
	suite.admin(ActionStartRound)

	suite.admin(ActionStartIntermission)
	room, err := suite.services.Query.Room(suite.ctx)
	suite.Require().NoError(err)
	suite.Equal(models.RoomStatusIntermission, room.Status)
	suite.Equal(10, room.TimeRemaining)

	suite.clock.Advance(9500 * time.Millisecond)
	room, err = suite.services.Query.Room(suite.ctx)
	suite.Require().NoError(err)
	suite.Equal(1, room.TimeRemaining)

	suite.admin(ActionStopRound)
	room, err = suite.services.Query.Room(suite.ctx)
	suite.Require().NoError(err)
	suite.Equal(models.RoomStatusIdle, room.Status)
	suite.Nil(room.RoundEndsAt)
	suite.Equal(0, room.TimeRemaining)
	suite.Equal(3, suite.feed.count(TableRooms, EventUpdate))
}

func (suite *ServiceTestSuite) TestUpdateSpawnRate_Validation() {
	for _, rate := range []*float64{nil, floatPtr(0), floatPtr(-1), floatPtr(game.MaxSpawnRate + 0.1), floatPtr(1e9)} {
		_, err := suite.services.Admin.Execute(suite.ctx, &AdminActionRequest{Action: ActionUpdateSpawnRate, Rate: rate})
		suite.True(apperrors.Is(err, apperrors.ErrInvalidSpawnRate))
	}
	room, err := suite.services.Query.Room(suite.ctx)
	suite.Require().NoError(err)
	suite.NotEqual(1e9, room.SpawnRatePerSec, "非法速率不会写入")

	res, err := suite.services.Admin.Execute(suite.ctx, &AdminActionRequest{Action: ActionUpdateSpawnRate, Rate: floatPtr(5)})
	suite.Require().NoError(err)
	suite.Equal(5.0, *res.Rate)

	res, err = suite.services.Admin.Execute(suite.ctx, &AdminActionRequest{Action: ActionUpdateSpawnRate, Rate: floatPtr(game.MaxSpawnRate)})
	suite.Require().NoError(err)
	suite.Equal(float64(game.MaxSpawnRate), *res.Rate)
}

func (suite *ServiceTestSuite) TestSpawnTick_ClampsStoredRate() {
	suite.admin(ActionStartRound)
	_, err := suite.services.Repos.Room().UpdateSpawnRate(suite.ctx, suite.cfg.Game.RoomID, 1e9)
	suite.Require().NoError(err)

	res, err := suite.services.Spawn.SpawnTick(suite.ctx)
	suite.Require().NoError(err)
	suite.Equal(game.MaxSpawnRate, res.Spawned)
}

func (suite *ServiceTestSuite) TestSpawnCookiesAndClear() {
	res := suite.admin(ActionSpawnCookies)
	suite.Equal(10, *res.Spawned)

	three := 3
	res, err := suite.services.Admin.Execute(suite.ctx, &AdminActionRequest{Action: ActionSpawnCookies, Count: &three})
	suite.Require().NoError(err)
	suite.Equal(3, *res.Spawned)

	zero := 0
	_, err = suite.services.Admin.Execute(suite.ctx, &AdminActionRequest{Action: ActionSpawnCookies, Count: &zero})
	suite.True(apperrors.Is(err, apperrors.ErrInvalidCount))

	res = suite.admin(ActionClearCookies)
	suite.Equal(13, *res.Cleared)
	suite.Equal(13, suite.feed.count(TableCookies, EventDelete))

	active, err := suite.services.Query.ActiveCookies(suite.ctx)
	suite.Require().NoError(err)
	suite.Empty(active)
}

func (suite *ServiceTestSuite) TestResetScores() {
	p := suite.join("device-1")
	_, err := suite.services.Repos.Score().ApplyClaim(suite.ctx, p.ID, suite.cfg.Game.RoomID, 4, suite.clock.Now())
	suite.Require().NoError(err)

	suite.admin(ActionResetRoundScores)
	score, _ := suite.services.Repos.Score().FindByPlayer(suite.ctx, p.ID)
	suite.Equal(0, score.ScoreRound)
	suite.Equal(4, score.ScoreTotal)

	suite.admin(ActionResetAllScores)
	score, _ = suite.services.Repos.Score().FindByPlayer(suite.ctx, p.ID)
	suite.Equal(0, score.ScoreTotal)
	suite.Nil(score.LastClaimAt)
}

func (suite *ServiceTestSuite) TestUnknownAction() {
	_, err := suite.services.Admin.Execute(suite.ctx, &AdminActionRequest{Action: "explode"})
	suite.True(apperrors.Is(err, apperrors.ErrUnknownAction))
	appErr, _ := apperrors.As(err)
	suite.Equal("Unknown action: explode", appErr.PublicMessage())
}

// ---- 查询 ----

func (suite *ServiceTestSuite) TestLeaderboardAndRank() {
	a := suite.join("device-a")
	b := suite.join("device-b")
	suite.join("device-c")
	room := suite.cfg.Game.RoomID
	_, err := suite.services.Repos.Score().ApplyClaim(suite.ctx, a.ID, room, 2, suite.clock.Now())
	suite.Require().NoError(err)
	_, err = suite.services.Repos.Score().ApplyClaim(suite.ctx, b.ID, room, 7, suite.clock.Now())
	suite.Require().NoError(err)

	entries, err := suite.services.Query.Leaderboard(suite.ctx, game.BoardTotal)
	suite.Require().NoError(err)
	suite.Require().Len(entries, 2)
	suite.Equal(b.ID, entries[0].PlayerID)
	suite.Equal(1, entries[0].Rank)
	suite.Equal(b.Nick, entries[0].Nick)
	suite.Equal(7, entries[0].Score)

	rank, err := suite.services.Query.PlayerRank(suite.ctx, a.ID)
	suite.Require().NoError(err)
	suite.Equal(2, rank.TotalRank)
	suite.Equal(2, rank.RoundRank)

	_, err = suite.services.Query.PlayerRank(suite.ctx, "nobody")
	suite.True(apperrors.Is(err, apperrors.ErrNotFound))

	scores, err := suite.services.Query.Scores(suite.ctx)
	suite.Require().NoError(err)
	suite.Len(scores, 3)
	for _, sc := range scores {
		suite.NotNil(sc.Player)
	}
}

func (suite *ServiceTestSuite) TestPlayerCount() {
	suite.join("device-a")
	suite.clock.Advance(2 * time.Minute)
	suite.join("device-b")

	n, err := suite.services.Query.PlayerCount(suite.ctx)
	suite.Require().NoError(err)
	suite.Equal(int64(1), n)
}

func floatPtr(f float64) *float64 { return &f }

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceTestSuite))
}
