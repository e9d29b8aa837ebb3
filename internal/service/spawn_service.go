package service

import (
	"context"
	"errors"
	"time"

	apperrors "github.com/wfunc/cookie-catcher/internal/errors"
	"github.com/wfunc/cookie-catcher/internal/game"
	"github.com/wfunc/cookie-catcher/internal/logger"
	"github.com/wfunc/cookie-catcher/internal/models"
	"github.com/wfunc/cookie-catcher/internal/repository"
	"go.uber.org/zap"
)

// spawnService 饼干生成服务实现
type spawnService struct {
	repos *repository.Manager
	cfg   *Config
	feed  ChangeFeed
	log   *zap.Logger
}

// NewSpawnService 创建生成服务
func NewSpawnService(repos *repository.Manager, cfg *Config, feed ChangeFeed, log *zap.Logger) SpawnService {
	return &spawnService{
		repos: repos,
		cfg:   cfg,
		feed:  feed,
		log:   log,
	}
}

// SpawnTick 房间处于回合中时按生成速率生成，并顺带清理过期未领取的饼干
func (s *spawnService) SpawnTick(ctx context.Context) (*SpawnResult, error) {
	roomID := s.cfg.Game.RoomID
	now := s.cfg.Now()

	room, err := s.room(ctx, roomID)
	if err != nil {
		return nil, err
	}

	result := &SpawnResult{RoomStatus: room.Status, Running: room.IsRunning()}
	if !result.Running {
		return result, nil
	}

	cleaned, err := s.repos.Cookie().DeleteExpiredUnclaimed(ctx, roomID, now)
	if err != nil {
		s.log.Warn("清理过期饼干失败", zap.Error(err))
	}
	s.publishDeleted(roomID, cleaned)
	result.Cleaned = len(cleaned)

	cookies := game.GenerateCookies(s.cfg.Rand, now, s.params(roomID, game.SpawnCount(room.SpawnRatePerSec), time.Duration(room.TTLSeconds)*time.Second))
	if err := s.insert(ctx, roomID, cookies); err != nil {
		return nil, err
	}
	result.Spawned = len(cookies)
	return result, nil
}

// SpawnManual 手动生成 count 个饼干，存活时间为 manual_spawn_ttl
func (s *spawnService) SpawnManual(ctx context.Context, count int) (int, error) {
	roomID := s.cfg.Game.RoomID
	if _, err := s.room(ctx, roomID); err != nil {
		return 0, err
	}

	cookies := game.GenerateCookies(s.cfg.Rand, s.cfg.Now(), s.params(roomID, count, s.cfg.Game.ManualSpawnTTL))
	if err := s.insert(ctx, roomID, cookies); err != nil {
		return 0, err
	}
	logger.LogGameEvent("manual_spawn", roomID, map[string]interface{}{"count": len(cookies)})
	return len(cookies), nil
}

// CollectClaimed 已领取的饼干保留一段时间后删除
func (s *spawnService) CollectClaimed(ctx context.Context) (int64, error) {
	before := s.cfg.Now().Add(-s.cfg.Game.Spawner.ClaimedRetention)
	n, err := s.repos.Cookie().DeleteClaimedBefore(ctx, s.cfg.Game.RoomID, before)
	if err != nil {
		return 0, apperrors.Wrap(err, apperrors.ErrDatabaseDelete, "删除已领取饼干失败")
	}
	return n, nil
}

func (s *spawnService) room(ctx context.Context, roomID string) (*models.Room, error) {
	room, err := s.repos.Room().Get(ctx, roomID)
	if errors.Is(err, repository.ErrRoomNotFound) {
		return nil, apperrors.New(apperrors.ErrRoomNotFound, roomID).WithPublic("Room not found")
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrDatabaseQuery, "查询房间失败")
	}
	return room, nil
}

func (s *spawnService) params(roomID string, count int, ttl time.Duration) game.SpawnParams {
	return game.SpawnParams{
		RoomID:           roomID,
		Count:            count,
		TTL:              ttl,
		BonusProbability: s.cfg.Game.BonusProbability,
		BonusValue:       s.cfg.Game.BonusValue,
		BaseValue:        s.cfg.Game.BaseValue,
	}
}

func (s *spawnService) insert(ctx context.Context, roomID string, cookies []models.Cookie) error {
	if err := s.repos.Cookie().InsertBatch(ctx, cookies); err != nil {
		return apperrors.Wrap(err, apperrors.ErrDatabaseInsert, "插入饼干失败")
	}
	for i := range cookies {
		s.feed.PublishChange(roomID, TableCookies, EventInsert, &cookies[i], nil)
	}
	return nil
}

func (s *spawnService) publishDeleted(roomID string, ids []string) {
	for _, id := range ids {
		s.feed.PublishChange(roomID, TableCookies, EventDelete, nil, deletedRow{ID: id})
	}
}
