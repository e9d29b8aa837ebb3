package service

import (
	"fmt"
	"time"

	"github.com/wfunc/cookie-catcher/internal/config"
	"github.com/wfunc/cookie-catcher/internal/game"
	"github.com/wfunc/cookie-catcher/internal/repository"
	"github.com/wfunc/cookie-catcher/internal/utils"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Config 服务配置
type Config struct {
	Game           config.GameConfig
	JWTSecret      string
	TokenExpiry    time.Duration
	AdminPassword  string
	AdminHash      string
	Now            Clock
	Rand           game.Rand
	PasswordConfig *utils.PasswordConfig
}

// ConfigFrom 从全局配置生成服务配置
func ConfigFrom(cfg *config.Config) *Config {
	expiry := time.Duration(cfg.Security.JWT.ExpireHours) * time.Hour
	if expiry <= 0 {
		expiry = 12 * time.Hour
	}
	return &Config{
		Game:          cfg.Game,
		JWTSecret:     cfg.Security.JWT.Secret,
		TokenExpiry:   expiry,
		AdminPassword: cfg.Security.Admin.Password,
		AdminHash:     cfg.Security.Admin.PasswordHash,
	}
}

// Services 服务集合
type Services struct {
	Claim  ClaimService
	Player PlayerService
	Spawn  SpawnService
	Admin  AdminService
	Query  QueryService
	Repos  *repository.Manager
}

// NewServices 创建服务集合
func NewServices(db *gorm.DB, cfg *Config, feed ChangeFeed, log *zap.Logger) (*Services, error) {
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	if cfg.Rand == nil {
		cfg.Rand = game.NewRand(time.Now().UnixNano())
	}
	if feed == nil {
		feed = NopFeed{}
	}
	if log == nil {
		log = zap.NewNop()
	}

	secret := cfg.JWTSecret
	if secret == "" {
		// 未配置时每次启动随机生成，重启后旧令牌失效
		s, err := utils.GenerateRandomString(48)
		if err != nil {
			return nil, fmt.Errorf("生成JWT密钥失败: %w", err)
		}
		secret = s
		log.Warn("未配置 security.jwt.secret，使用随机密钥")
	}

	adminHash, err := resolveAdminHash(cfg)
	if err != nil {
		return nil, err
	}

	repos := repository.NewManager(db)
	jwtManager := utils.NewJWTManager(secret, cfg.TokenExpiry)

	spawnService := NewSpawnService(repos, cfg, feed, log.Named("spawn"))

	return &Services{
		Claim:  NewClaimService(repos, cfg, feed, log.Named("claim")),
		Player: NewPlayerService(repos, cfg, feed, log.Named("player")),
		Spawn:  spawnService,
		Admin:  NewAdminService(repos, cfg, spawnService, jwtManager, adminHash, feed, log.Named("admin")),
		Query:  NewQueryService(repos, cfg),
		Repos:  repos,
	}, nil
}

// resolveAdminHash 明文口令在启动时哈希，已是 argon2id 编码的直接使用
func resolveAdminHash(cfg *Config) (string, error) {
	if cfg.AdminHash != "" {
		if !utils.IsPasswordHash(cfg.AdminHash) {
			return "", fmt.Errorf("security.admin.password_hash 不是有效的 argon2id 编码")
		}
		return cfg.AdminHash, nil
	}
	if cfg.AdminPassword == "" {
		return "", nil
	}
	pc := cfg.PasswordConfig
	if pc == nil {
		pc = utils.DefaultPasswordConfig
	}
	hash, err := utils.HashPasswordWithConfig(cfg.AdminPassword, pc)
	if err != nil {
		return "", fmt.Errorf("哈希管理员口令失败: %w", err)
	}
	return hash, nil
}
