package service

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	apperrors "github.com/wfunc/cookie-catcher/internal/errors"
	"github.com/wfunc/cookie-catcher/internal/game"
	"github.com/wfunc/cookie-catcher/internal/logger"
	"github.com/wfunc/cookie-catcher/internal/models"
	"github.com/wfunc/cookie-catcher/internal/repository"
	"github.com/wfunc/cookie-catcher/internal/utils"
	"go.uber.org/zap"
)

// adminService 管理服务实现
type adminService struct {
	repos      *repository.Manager
	cfg        *Config
	spawn      SpawnService
	jwtManager *utils.JWTManager
	adminHash  string
	feed       ChangeFeed
	log        *zap.Logger
}

// NewAdminService 创建管理服务，adminHash 为空表示未配置管理员口令
func NewAdminService(
	repos *repository.Manager,
	cfg *Config,
	spawn SpawnService,
	jwtManager *utils.JWTManager,
	adminHash string,
	feed ChangeFeed,
	log *zap.Logger,
) AdminService {
	return &adminService{
		repos:      repos,
		cfg:        cfg,
		spawn:      spawn,
		jwtManager: jwtManager,
		adminHash:  adminHash,
		feed:       feed,
		log:        log,
	}
}

// Authenticate 校验管理员口令，成功返回 admin 令牌
func (s *adminService) Authenticate(ctx context.Context, password string) (string, error) {
	if s.adminHash == "" {
		return "", apperrors.New(apperrors.ErrConfigMissing, "未配置管理员口令").
			WithPublic("Server configuration error")
	}
	if password == "" {
		return "", apperrors.New(apperrors.ErrInvalidParam, "口令为空").WithPublic("Password is required")
	}

	ok, err := utils.VerifyPassword(password, s.adminHash)
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrUnknown, "校验口令失败").WithPublic("Internal server error")
	}
	if !ok {
		s.log.Warn("管理员口令错误")
		return "", apperrors.New(apperrors.ErrAuthentication).WithPublic("Invalid password")
	}

	token, err := s.jwtManager.GenerateAdminToken(s.cfg.Game.RoomID, uuid.New().String())
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrUnknown, "签发令牌失败").WithPublic("Internal server error")
	}
	return token, nil
}

// ValidateToken 校验管理员令牌
func (s *adminService) ValidateToken(ctx context.Context, token string) (*utils.AdminClaims, error) {
	claims, err := s.jwtManager.ValidateToken(token)
	if errors.Is(err, utils.ErrExpiredToken) {
		return nil, apperrors.Wrap(err, apperrors.ErrTokenExpired).WithPublic("Token expired")
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrTokenInvalid).WithPublic("Invalid token")
	}
	return claims, nil
}

// Execute 执行管理操作
func (s *adminService) Execute(ctx context.Context, req *AdminActionRequest) (*AdminActionResult, error) {
	action := strings.TrimSpace(req.Action)
	roomID := s.cfg.Game.RoomID

	var (
		result *AdminActionResult
		err    error
	)
	switch action {
	case ActionStartRound:
		result, err = s.startRound(ctx, roomID)
	case ActionStopRound:
		result, err = s.updateRoom(ctx, roomID, func(r repository.RoomRepository) (*models.Room, error) {
			return r.StopRound(ctx, roomID)
		})
	case ActionStartIntermission:
		now := s.cfg.Now()
		result, err = s.updateRoom(ctx, roomID, func(r repository.RoomRepository) (*models.Room, error) {
			return r.StartIntermission(ctx, roomID, now, now.Add(s.cfg.Game.IntermissionDuration))
		})
	case ActionUpdateSpawnRate:
		result, err = s.updateSpawnRate(ctx, roomID, req.Rate)
	case ActionSpawnCookies:
		result, err = s.spawnCookies(ctx, req.Count)
	case ActionClearCookies:
		result, err = s.clearCookies(ctx, roomID)
	case ActionResetRoundScores:
		result, err = s.resetScores(ctx, roomID, false)
	case ActionResetAllScores:
		result, err = s.resetScores(ctx, roomID, true)
	default:
		return nil, apperrors.New(apperrors.ErrUnknownAction, action).WithPublic("Unknown action: " + action)
	}
	if err != nil {
		return nil, err
	}

	logger.LogGameEvent(action, roomID, nil)
	return result, nil
}

// startRound 回合号加一，第二回合起清零回合积分
func (s *adminService) startRound(ctx context.Context, roomID string) (*AdminActionResult, error) {
	now := s.cfg.Now()
	var (
		room  *models.Room
		reset bool
	)
	err := s.repos.WithTransaction(ctx, func(tx *repository.Manager) error {
		var err error
		room, err = tx.Room().StartRound(ctx, roomID, now, now.Add(s.cfg.Game.RoundDuration))
		if err != nil {
			return err
		}
		if room.RoundNo > 1 {
			if _, err := tx.Score().ResetRound(ctx, roomID); err != nil {
				return err
			}
			reset = true
		}
		return nil
	})
	if err != nil {
		return nil, roomError(err)
	}

	s.feed.PublishChange(roomID, TableRooms, EventUpdate, room, nil)
	if reset {
		s.publishScores(ctx, roomID)
	}
	round := room.RoundNo
	return &AdminActionResult{Success: true, Round: &round}, nil
}

func (s *adminService) updateRoom(ctx context.Context, roomID string, fn func(repository.RoomRepository) (*models.Room, error)) (*AdminActionResult, error) {
	room, err := fn(s.repos.Room())
	if err != nil {
		return nil, roomError(err)
	}
	s.feed.PublishChange(roomID, TableRooms, EventUpdate, room, nil)
	return &AdminActionResult{Success: true}, nil
}

func (s *adminService) updateSpawnRate(ctx context.Context, roomID string, rate *float64) (*AdminActionResult, error) {
	if rate == nil || !(*rate > 0) || *rate > game.MaxSpawnRate {
		return nil, apperrors.New(apperrors.ErrInvalidSpawnRate).WithPublic("Invalid spawn rate")
	}
	room, err := s.repos.Room().UpdateSpawnRate(ctx, roomID, *rate)
	if err != nil {
		return nil, roomError(err)
	}
	s.feed.PublishChange(roomID, TableRooms, EventUpdate, room, nil)
	r := room.SpawnRatePerSec
	return &AdminActionResult{Success: true, Rate: &r}, nil
}

func (s *adminService) spawnCookies(ctx context.Context, count *int) (*AdminActionResult, error) {
	n := s.cfg.Game.ManualSpawnCount
	if count != nil {
		n = *count
	}
	if n < 1 || n > MaxManualSpawn {
		return nil, apperrors.Newf(apperrors.ErrInvalidCount, "count=%d", n).WithPublic("Invalid count")
	}
	spawned, err := s.spawn.SpawnManual(ctx, n)
	if err != nil {
		return nil, err
	}
	return &AdminActionResult{Success: true, Spawned: &spawned}, nil
}

func (s *adminService) clearCookies(ctx context.Context, roomID string) (*AdminActionResult, error) {
	ids, err := s.repos.Cookie().DeleteUnclaimed(ctx, roomID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrDatabaseDelete, "清空饼干失败")
	}
	for _, id := range ids {
		s.feed.PublishChange(roomID, TableCookies, EventDelete, nil, deletedRow{ID: id})
	}
	cleared := len(ids)
	return &AdminActionResult{Success: true, Cleared: &cleared}, nil
}

func (s *adminService) resetScores(ctx context.Context, roomID string, all bool) (*AdminActionResult, error) {
	var err error
	if all {
		_, err = s.repos.Score().ResetAll(ctx, roomID)
	} else {
		_, err = s.repos.Score().ResetRound(ctx, roomID)
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrDatabaseUpdate, "重置积分失败")
	}
	s.publishScores(ctx, roomID)
	return &AdminActionResult{Success: true}, nil
}

// publishScores 批量重置后逐行推送
func (s *adminService) publishScores(ctx context.Context, roomID string) {
	scores, err := s.repos.Score().ListWithPlayers(ctx, roomID)
	if err != nil {
		s.log.Warn("读取积分失败，跳过推送", zap.Error(err))
		return
	}
	for i := range scores {
		s.feed.PublishChange(roomID, TableScores, EventUpdate, &scores[i], nil)
	}
}

func roomError(err error) error {
	if errors.Is(err, repository.ErrRoomNotFound) {
		return apperrors.New(apperrors.ErrRoomNotFound).WithPublic("Room not found")
	}
	return apperrors.Wrap(err, apperrors.ErrDatabaseUpdate, "更新房间失败")
}
