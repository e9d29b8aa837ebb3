package repository

import (
	"context"
	"time"

	"github.com/wfunc/cookie-catcher/internal/models"
	"gorm.io/gorm"
)

// PlayerRepository 玩家仓储接口
type PlayerRepository interface {
	BaseRepository
	FindByID(ctx context.Context, id string) (*models.Player, error)
	FindByDevice(ctx context.Context, roomID, deviceID string) (*models.Player, error)
	NickExists(ctx context.Context, nick string) (bool, error)
	CreateWithScore(ctx context.Context, player *models.Player) (*models.Score, error)
	TouchLastSeen(ctx context.Context, id string, at time.Time) error
	CountActiveSince(ctx context.Context, roomID string, since time.Time) (int64, error)
}

// playerRepo 玩家仓储实现
type playerRepo struct {
	*BaseRepo
}

// NewPlayerRepository 创建玩家仓储
func NewPlayerRepository(db *gorm.DB) PlayerRepository {
	return &playerRepo{
		BaseRepo: &BaseRepo{db: db},
	}
}

// FindByID 按ID查询
func (r *playerRepo) FindByID(ctx context.Context, id string) (*models.Player, error) {
	var player models.Player
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&player).Error; err != nil {
		return nil, notFound(err, ErrPlayerNotFound)
	}
	return &player, nil
}

// FindByDevice 按房间和设备查询
func (r *playerRepo) FindByDevice(ctx context.Context, roomID, deviceID string) (*models.Player, error) {
	var player models.Player
	err := r.db.WithContext(ctx).
		Where("room_id = ? AND device_id = ?", roomID, deviceID).
		First(&player).Error
	if err != nil {
		return nil, notFound(err, ErrPlayerNotFound)
	}
	return &player, nil
}

// NickExists 昵称是否已被占用
func (r *playerRepo) NickExists(ctx context.Context, nick string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Player{}).Where("nick = ?", nick).Count(&count).Error
	return count > 0, err
}

// CreateWithScore 在同一事务中创建玩家和全0积分
func (r *playerRepo) CreateWithScore(ctx context.Context, player *models.Player) (*models.Score, error) {
	score := &models.Score{
		PlayerID: player.ID,
		RoomID:   player.RoomID,
	}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(player).Error; err != nil {
			return err
		}
		return tx.Create(score).Error
	})
	if err != nil {
		return nil, err
	}
	return score, nil
}

// TouchLastSeen 刷新最后在线时间
func (r *playerRepo) TouchLastSeen(ctx context.Context, id string, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.Player{}).
		Where("id = ?", id).
		Update("last_seen_at", at).Error
}

// CountActiveSince 统计 since 之后出现过的玩家
func (r *playerRepo) CountActiveSince(ctx context.Context, roomID string, since time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Player{}).
		Where("room_id = ? AND last_seen_at >= ?", roomID, since).
		Count(&count).Error
	return count, err
}
