package service

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	apperrors "github.com/wfunc/cookie-catcher/internal/errors"
	"github.com/wfunc/cookie-catcher/internal/game"
	"github.com/wfunc/cookie-catcher/internal/models"
	"github.com/wfunc/cookie-catcher/internal/repository"
	"go.uber.org/zap"
)

// 昵称或设备唯一约束冲突时的重试次数
const createPlayerRetries = 3

// playerService 玩家服务实现
type playerService struct {
	repos *repository.Manager
	cfg   *Config
	feed  ChangeFeed
	log   *zap.Logger
}

// NewPlayerService 创建玩家服务
func NewPlayerService(repos *repository.Manager, cfg *Config, feed ChangeFeed, log *zap.Logger) PlayerService {
	return &playerService{
		repos: repos,
		cfg:   cfg,
		feed:  feed,
		log:   log,
	}
}

// AssignNickname 为设备分配昵称，同一设备重复调用返回同一个玩家
func (s *playerService) AssignNickname(ctx context.Context, deviceID string) (*models.Player, error) {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return nil, apperrors.New(apperrors.ErrInvalidParam, "deviceId 为空").WithPublic("Device ID is required")
	}

	roomID := s.cfg.Game.RoomID
	now := s.cfg.Now()

	player, err := s.existing(ctx, roomID, deviceID)
	if err != nil || player != nil {
		return player, err
	}

	words, err := s.repos.NicknameWord().ListAll(ctx)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrDatabaseQuery, "查询昵称词库失败").
			WithPublic("Failed to fetch nickname words")
	}
	bank, err := game.NewWordBank(words)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrNicknameWordsMiss).WithPublic("Failed to fetch nickname words")
	}

	nick, err := bank.PickNick(s.cfg.Rand, func(candidate string) (bool, error) {
		return s.repos.Player().NickExists(ctx, candidate)
	})
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrDatabaseQuery, "检查昵称失败")
	}

	var lastErr error
	for attempt := 0; attempt < createPlayerRetries; attempt++ {
		p := &models.Player{
			ID:         uuid.New().String(),
			RoomID:     roomID,
			Nick:       nick,
			Color:      game.ColorForNick(nick),
			DeviceID:   deviceID,
			JoinedAt:   now,
			LastSeenAt: now,
		}
		score, err := s.repos.Player().CreateWithScore(ctx, p)
		if err == nil {
			score.Player = p
			s.feed.PublishChange(roomID, TableScores, EventInsert, score, nil)
			s.log.Info("分配昵称",
				zap.String("player_id", p.ID),
				zap.String("nick", p.Nick),
				zap.String("device_id", deviceID),
			)
			return p, nil
		}
		lastErr = err

		// 同一设备的并发首次请求，另一个请求已经建好玩家
		if found, ferr := s.repos.Player().FindByDevice(ctx, roomID, deviceID); ferr == nil {
			return found, nil
		}
		// 昵称被并发占用，换一个带数字后缀的
		nick = bank.ComposeWithSuffix(s.cfg.Rand)
	}

	return nil, apperrors.Wrap(lastErr, apperrors.ErrDatabaseInsert, "创建玩家失败")
}

// existing 已分配过的设备刷新在线时间后直接返回
func (s *playerService) existing(ctx context.Context, roomID, deviceID string) (*models.Player, error) {
	player, err := s.repos.Player().FindByDevice(ctx, roomID, deviceID)
	if errors.Is(err, repository.ErrPlayerNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrDatabaseQuery, "查询玩家失败")
	}

	now := s.cfg.Now()
	if err := s.repos.Player().TouchLastSeen(ctx, player.ID, now); err != nil {
		s.log.Warn("刷新在线时间失败", zap.String("player_id", player.ID), zap.Error(err))
	} else {
		player.LastSeenAt = now
	}
	return player, nil
}
