package service

import (
	"context"
	"errors"
	"strings"
	"time"

	apperrors "github.com/wfunc/cookie-catcher/internal/errors"
	"github.com/wfunc/cookie-catcher/internal/logger"
	"github.com/wfunc/cookie-catcher/internal/repository"
	"go.uber.org/zap"
)

// claimService 领取仲裁服务实现
type claimService struct {
	repos *repository.Manager
	cfg   *Config
	feed  ChangeFeed
	log   *zap.Logger
}

// NewClaimService 创建领取服务
func NewClaimService(repos *repository.Manager, cfg *Config, feed ChangeFeed, log *zap.Logger) ClaimService {
	return &claimService{
		repos: repos,
		cfg:   cfg,
		feed:  feed,
		log:   log,
	}
}

// Claim 领取饼干。同一个饼干并发领取时只有一个请求成功，其余返回 ClaimAlreadyClaimed。
func (s *claimService) Claim(ctx context.Context, cookieID, deviceID string) (*ClaimResult, error) {
	cookieID = strings.TrimSpace(cookieID)
	deviceID = strings.TrimSpace(deviceID)
	if cookieID == "" || deviceID == "" {
		return nil, apperrors.New(apperrors.ErrInvalidParam, "cookieId/deviceId 为空").
			WithPublic("Missing cookieId or deviceId")
	}

	roomID := s.cfg.Game.RoomID
	now := s.cfg.Now()

	player, err := s.repos.Player().FindByDevice(ctx, roomID, deviceID)
	if errors.Is(err, repository.ErrPlayerNotFound) {
		return s.finish(cookieID, "", &ClaimResult{Status: ClaimPlayerNotFound}), nil
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrDatabaseQuery, "查询玩家失败")
	}

	// 冷却只防刷，不保证正确性
	score, err := s.repos.Score().FindByPlayer(ctx, player.ID)
	if err != nil && !errors.Is(err, repository.ErrScoreNotFound) {
		return nil, apperrors.Wrap(err, apperrors.ErrDatabaseQuery, "查询积分失败")
	}
	if score != nil && score.LastClaimAt != nil && now.Sub(*score.LastClaimAt) < s.cfg.Game.ClaimCooldown {
		return s.finish(cookieID, player.ID, &ClaimResult{Status: ClaimRateLimited}), nil
	}

	result := &ClaimResult{}
	err = s.repos.WithTransaction(ctx, func(tx *repository.Manager) error {
		cookie, ok, err := tx.Cookie().Claim(ctx, roomID, cookieID, player.ID, now)
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrDatabaseUpdate, "条件更新饼干失败")
		}
		if !ok {
			return nil
		}
		updated, err := tx.Score().ApplyClaim(ctx, player.ID, roomID, cookie.Value, now)
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrDatabaseUpdate, "积分更新失败").WithPublic("Score update failed")
		}
		result.Status = ClaimOK
		result.Value = cookie.Value
		result.Cookie = cookie
		result.Score = updated
		return nil
	})
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrTransaction)
	}

	if !result.OK() {
		result.Status = s.classify(ctx, roomID, cookieID, now)
		return s.finish(cookieID, player.ID, result), nil
	}

	s.feed.PublishChange(roomID, TableCookies, EventUpdate, result.Cookie, nil)
	s.feed.PublishChange(roomID, TableScores, EventUpdate, result.Score, nil)
	return s.finish(cookieID, player.ID, result), nil
}

// classify 条件更新未命中后再读一次，区分失败原因，仅用于日志和测试
func (s *claimService) classify(ctx context.Context, roomID, cookieID string, now time.Time) ClaimStatus {
	cookie, err := s.repos.Cookie().Find(ctx, cookieID)
	if err != nil {
		if !errors.Is(err, repository.ErrCookieNotFound) {
			s.log.Warn("读取饼干失败", zap.String("cookie_id", cookieID), zap.Error(err))
		}
		return ClaimCookieNotFound
	}
	switch {
	case cookie.RoomID != roomID:
		return ClaimCookieNotFound
	case cookie.Owner != nil:
		return ClaimAlreadyClaimed
	case !cookie.DespawnAt.After(now):
		return ClaimExpired
	default:
		// 条件不满足但读到可领取，按竞争失败处理
		return ClaimAlreadyClaimed
	}
}

func (s *claimService) finish(cookieID, playerID string, r *ClaimResult) *ClaimResult {
	logger.LogClaim(cookieID, playerID, r.OK(), string(r.Status))
	return r
}
