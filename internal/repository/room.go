package repository

import (
	"context"
	"time"

	"github.com/wfunc/cookie-catcher/internal/models"
	"gorm.io/gorm"
)

// RoomRepository 房间仓储接口
type RoomRepository interface {
	BaseRepository
	Get(ctx context.Context, id string) (*models.Room, error)
	StartRound(ctx context.Context, id string, startedAt, endsAt time.Time) (*models.Room, error)
	StopRound(ctx context.Context, id string) (*models.Room, error)
	StartIntermission(ctx context.Context, id string, startedAt, endsAt time.Time) (*models.Room, error)
	UpdateSpawnRate(ctx context.Context, id string, rate float64) (*models.Room, error)
}

// roomRepo 房间仓储实现
type roomRepo struct {
	*BaseRepo
}

// NewRoomRepository 创建房间仓储
func NewRoomRepository(db *gorm.DB) RoomRepository {
	return &roomRepo{
		BaseRepo: &BaseRepo{db: db},
	}
}

// Get 按ID查询房间
func (r *roomRepo) Get(ctx context.Context, id string) (*models.Room, error) {
	var room models.Room
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&room).Error; err != nil {
		return nil, notFound(err, ErrRoomNotFound)
	}
	return &room, nil
}

// update 更新房间字段后重新读取
func (r *roomRepo) update(ctx context.Context, id string, updates map[string]interface{}) (*models.Room, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Room{}).
		Where("id = ?", id).
		Updates(updates)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, ErrRoomNotFound
	}
	return r.Get(ctx, id)
}

// StartRound 回合号加一并进入 running，回合号在数据库内自增
func (r *roomRepo) StartRound(ctx context.Context, id string, startedAt, endsAt time.Time) (*models.Room, error) {
	return r.update(ctx, id, map[string]interface{}{
		"status":           models.RoomStatusRunning,
		"round_no":         gorm.Expr("round_no + ?", 1),
		"round_started_at": startedAt,
		"round_ends_at":    endsAt,
	})
}

// StopRound 回到 idle 并清空结束时间
func (r *roomRepo) StopRound(ctx context.Context, id string) (*models.Room, error) {
	return r.update(ctx, id, map[string]interface{}{
		"status":        models.RoomStatusIdle,
		"round_ends_at": nil,
	})
}

// StartIntermission 进入中场休息
func (r *roomRepo) StartIntermission(ctx context.Context, id string, startedAt, endsAt time.Time) (*models.Room, error) {
	return r.update(ctx, id, map[string]interface{}{
		"status":           models.RoomStatusIntermission,
		"round_started_at": startedAt,
		"round_ends_at":    endsAt,
	})
}

// UpdateSpawnRate 修改每秒生成速率
func (r *roomRepo) UpdateSpawnRate(ctx context.Context, id string, rate float64) (*models.Room, error) {
	return r.update(ctx, id, map[string]interface{}{
		"spawn_rate_per_sec": rate,
	})
}
