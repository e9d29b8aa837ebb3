package repository

import (
	"context"

	"github.com/wfunc/cookie-catcher/internal/models"
	"gorm.io/gorm"
)

// NicknameWordRepository 昵称词库仓储接口
type NicknameWordRepository interface {
	BaseRepository
	ListAll(ctx context.Context) ([]models.NicknameWord, error)
}

type nicknameWordRepo struct {
	*BaseRepo
}

// NewNicknameWordRepository 创建昵称词库仓储
func NewNicknameWordRepository(db *gorm.DB) NicknameWordRepository {
	return &nicknameWordRepo{
		BaseRepo: &BaseRepo{db: db},
	}
}

// ListAll 全部词条
func (r *nicknameWordRepo) ListAll(ctx context.Context) ([]models.NicknameWord, error) {
	var words []models.NicknameWord
	err := r.db.WithContext(ctx).Order("position ASC, id ASC").Find(&words).Error
	return words, err
}
