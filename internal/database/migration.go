package database

import (
	"fmt"

	"github.com/wfunc/cookie-catcher/internal/config"
	"github.com/wfunc/cookie-catcher/internal/logger"
	"github.com/wfunc/cookie-catcher/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Models 需要迁移的模型
func Models() []interface{} {
	return []interface{}{
		&models.Room{},
		&models.Player{},
		&models.Score{},
		&models.Cookie{},
		&models.NicknameWord{},
	}
}

// AutoMigrate 自动迁移全局数据库
func AutoMigrate(gameCfg *config.GameConfig) error {
	if DB == nil {
		return fmt.Errorf("数据库未初始化")
	}
	return Migrate(DB, gameCfg)
}

// Migrate 迁移表结构、创建索引并写入默认数据
func Migrate(db *gorm.DB, gameCfg *config.GameConfig) error {
	CleanupStaleLocks()

	// 获取迁移锁，避免多个进程同时迁移同一个SQLite文件
	if dbPath := getDBPath(db); dbPath != "" {
		lockFile, err := acquireMigrationLock(dbPath)
		if err != nil {
			logger.Error("无法获取迁移锁", zap.Error(err))
			return fmt.Errorf("获取迁移锁失败: %w", err)
		}
		defer releaseMigrationLock(lockFile)
	}

	logger.Info("开始数据库迁移...")

	for _, model := range Models() {
		if err := db.AutoMigrate(model); err != nil {
			logger.Error("迁移失败",
				zap.String("model", fmt.Sprintf("%T", model)),
				zap.Error(err),
			)
			return err
		}
		logger.Debug("迁移成功", zap.String("model", fmt.Sprintf("%T", model)))
	}

	createIndexes(db)

	if err := initDefaultData(db, gameCfg); err != nil {
		return err
	}

	logger.Info("数据库迁移完成")
	return nil
}

// createIndexes 创建查询用的补充索引
func createIndexes(db *gorm.DB) {
	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_cookies_room_owner ON cookies(room_id, owner)",
		"CREATE INDEX IF NOT EXISTS idx_scores_room_round ON scores(room_id, score_round)",
		"CREATE INDEX IF NOT EXISTS idx_scores_room_total ON scores(room_id, score_total)",
	}
	for _, idx := range indexes {
		if err := db.Exec(idx).Error; err != nil {
			logger.Warn("创建索引失败", zap.String("index", idx), zap.Error(err))
		}
	}
}

// initDefaultData 初始化房间和昵称词库
func initDefaultData(db *gorm.DB, gameCfg *config.GameConfig) error {
	room := models.Room{
		ID:              gameCfg.RoomID,
		Name:            gameCfg.RoomName,
		Status:          models.RoomStatusIdle,
		SpawnRatePerSec: gameCfg.DefaultSpawnRate,
		TTLSeconds:      gameCfg.DefaultTTLSeconds,
	}
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&room).Error; err != nil {
		return fmt.Errorf("创建默认房间失败: %w", err)
	}

	var count int64
	if err := db.Model(&models.NicknameWord{}).Count(&count).Error; err != nil {
		return fmt.Errorf("查询昵称词库失败: %w", err)
	}
	if count > 0 {
		return nil
	}

	words := DefaultNicknameWords()
	if err := db.CreateInBatches(words, 100).Error; err != nil {
		return fmt.Errorf("写入昵称词库失败: %w", err)
	}

	logger.Info("默认数据初始化完成",
		zap.String("room_id", room.ID),
		zap.Int("nickname_words", len(words)),
	)
	return nil
}

// DefaultNicknameWords 默认昵称词库
func DefaultNicknameWords() []models.NicknameWord {
	first := []string{"Happy", "Swift", "Brave", "Sneaky", "Lucky", "Fuzzy", "Mighty", "Sleepy", "Jolly", "Clever", "Bouncy", "Cosmic"}
	second := []string{"Red", "Golden", "Silver", "Purple", "Crimson", "Minty", "Amber", "Teal", "Coral", "Indigo"}
	third := []string{"Panda", "Tiger", "Otter", "Falcon", "Koala", "Fox", "Badger", "Penguin", "Lynx", "Gecko", "Moose", "Raccoon"}

	words := make([]models.NicknameWord, 0, len(first)+len(second)+len(third))
	for pos, list := range [][]string{first, second, third} {
		for _, w := range list {
			words = append(words, models.NicknameWord{Word: w, Position: pos + 1})
		}
	}
	return words
}

// DropAllTables 删除所有表（仅用于测试环境）
func DropAllTables(db *gorm.DB) error {
	migrator := db.Migrator()
	ms := Models()
	for i := len(ms) - 1; i >= 0; i-- {
		if err := migrator.DropTable(ms[i]); err != nil {
			logger.Error("删除表失败", zap.String("model", fmt.Sprintf("%T", ms[i])), zap.Error(err))
			return err
		}
	}
	logger.Info("所有表已删除")
	return nil
}
