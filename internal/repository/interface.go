package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

// 仓储层的哨兵错误
var (
	ErrRoomNotFound   = errors.New("房间不存在")
	ErrPlayerNotFound = errors.New("玩家不存在")
	ErrScoreNotFound  = errors.New("积分不存在")
	ErrCookieNotFound = errors.New("饼干不存在")
)

// BaseRepository 基础仓储接口
type BaseRepository interface {
	// GetDB 获取数据库实例
	GetDB() *gorm.DB
}

// BaseRepo 基础仓储实现
type BaseRepo struct {
	db *gorm.DB
}

// NewBaseRepo 创建基础仓储
func NewBaseRepo(db *gorm.DB) *BaseRepo {
	return &BaseRepo{db: db}
}

// GetDB 获取数据库实例
func (r *BaseRepo) GetDB() *gorm.DB {
	return r.db
}

// Transaction 执行事务
func (r *BaseRepo) Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}

// notFound 把 gorm 的未找到错误换成仓储自己的哨兵错误
func notFound(err error, sentinel error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return sentinel
	}
	return err
}
