package repository

import (
	"context"
	"time"

	"github.com/wfunc/cookie-catcher/internal/models"
	"gorm.io/gorm"
)

// CookieRepository 饼干仓储接口
type CookieRepository interface {
	BaseRepository
	InsertBatch(ctx context.Context, cookies []models.Cookie) error
	Find(ctx context.Context, id string) (*models.Cookie, error)
	Claim(ctx context.Context, roomID, cookieID, playerID string, now time.Time) (*models.Cookie, bool, error)
	ListActive(ctx context.Context, roomID string, now time.Time) ([]models.Cookie, error)
	DeleteExpiredUnclaimed(ctx context.Context, roomID string, now time.Time) ([]string, error)
	DeleteUnclaimed(ctx context.Context, roomID string) ([]string, error)
	DeleteClaimedBefore(ctx context.Context, roomID string, before time.Time) (int64, error)
}

// cookieRepo 饼干仓储实现
type cookieRepo struct {
	*BaseRepo
}

// NewCookieRepository 创建饼干仓储
func NewCookieRepository(db *gorm.DB) CookieRepository {
	return &cookieRepo{
		BaseRepo: &BaseRepo{db: db},
	}
}

// InsertBatch 批量插入
func (r *cookieRepo) InsertBatch(ctx context.Context, cookies []models.Cookie) error {
	if len(cookies) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).CreateInBatches(cookies, 100).Error
}

// Find 按ID查询
func (r *cookieRepo) Find(ctx context.Context, id string) (*models.Cookie, error) {
	var cookie models.Cookie
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&cookie).Error; err != nil {
		return nil, notFound(err, ErrCookieNotFound)
	}
	return &cookie, nil
}

// Claim 条件更新抢占饼干，只有 owner 为空且未过期时才会成功。
// 同一个饼干的并发请求只有一个能让 RowsAffected 为1。
func (r *cookieRepo) Claim(ctx context.Context, roomID, cookieID, playerID string, now time.Time) (*models.Cookie, bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Cookie{}).
		Where("id = ? AND room_id = ? AND owner IS NULL AND despawn_at > ?", cookieID, roomID, now).
		Updates(map[string]interface{}{
			"owner":      playerID,
			"claimed_at": now,
		})
	if result.Error != nil {
		return nil, false, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, false, nil
	}

	cookie, err := r.Find(ctx, cookieID)
	if err != nil {
		return nil, false, err
	}
	return cookie, true, nil
}

// ListActive 未领取且未过期的饼干
func (r *cookieRepo) ListActive(ctx context.Context, roomID string, now time.Time) ([]models.Cookie, error) {
	var cookies []models.Cookie
	err := r.db.WithContext(ctx).
		Where("room_id = ? AND owner IS NULL AND despawn_at > ?", roomID, now).
		Order("spawned_at ASC").
		Find(&cookies).Error
	return cookies, err
}

// deleteUnclaimedWhere 先查出ID再删除，返回被删除的ID用于推送
func (r *cookieRepo) deleteUnclaimedWhere(ctx context.Context, query string, args ...interface{}) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).
		Model(&models.Cookie{}).
		Where(query, args...).
		Where("owner IS NULL").
		Pluck("id", &ids).Error
	if err != nil || len(ids) == 0 {
		return nil, err
	}

	err = r.db.WithContext(ctx).
		Where("id IN ? AND owner IS NULL", ids).
		Delete(&models.Cookie{}).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// DeleteExpiredUnclaimed 清理已过期且无人领取的饼干，已领取的保留给回合统计
func (r *cookieRepo) DeleteExpiredUnclaimed(ctx context.Context, roomID string, now time.Time) ([]string, error) {
	return r.deleteUnclaimedWhere(ctx, "room_id = ? AND despawn_at < ?", roomID, now)
}

// DeleteUnclaimed 清空房间内所有未领取的饼干
func (r *cookieRepo) DeleteUnclaimed(ctx context.Context, roomID string) ([]string, error) {
	return r.deleteUnclaimedWhere(ctx, "room_id = ?", roomID)
}

// DeleteClaimedBefore 删除早于 before 被领取的饼干
func (r *cookieRepo) DeleteClaimedBefore(ctx context.Context, roomID string, before time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("room_id = ? AND owner IS NOT NULL AND claimed_at < ?", roomID, before).
		Delete(&models.Cookie{})
	return result.RowsAffected, result.Error
}
