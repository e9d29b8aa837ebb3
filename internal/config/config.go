package config

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config 全局配置结构体
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	WebSocket WebSocketConfig `mapstructure:"websocket"`
	Realtime  RealtimeConfig  `mapstructure:"realtime"`
	Game      GameConfig      `mapstructure:"game"`
	Relay     RelayConfig     `mapstructure:"relay"`
	Log       LogConfig       `mapstructure:"log"`
	Security  SecurityConfig  `mapstructure:"security"`
	CORS      CORSConfig      `mapstructure:"cors"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"`
	PublicURL       string        `mapstructure:"public_url"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	LogLevel        string        `mapstructure:"log_level"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// WebSocketConfig WebSocket配置
type WebSocketConfig struct {
	Path              string        `mapstructure:"path"`
	ReadBufferSize    int           `mapstructure:"read_buffer_size"`
	WriteBufferSize   int           `mapstructure:"write_buffer_size"`
	MaxMessageSize    int64         `mapstructure:"max_message_size"`
	SendBufferSize    int           `mapstructure:"send_buffer_size"`
	PingInterval      time.Duration `mapstructure:"ping_interval"`
	PongTimeout       time.Duration `mapstructure:"pong_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	EnableCompression bool          `mapstructure:"enable_compression"`
}

// RealtimeConfig 实时消息配置
type RealtimeConfig struct {
	Redis RedisConfig `mapstructure:"redis"`
}

// RedisConfig 多实例广播桥接
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Channel  string `mapstructure:"channel"`
}

// GameConfig 游戏配置
type GameConfig struct {
	RoomID               string        `mapstructure:"room_id"`
	RoomName             string        `mapstructure:"room_name"`
	ClaimCooldown        time.Duration `mapstructure:"claim_cooldown"`
	RoundDuration        time.Duration `mapstructure:"round_duration"`
	IntermissionDuration time.Duration `mapstructure:"intermission_duration"`
	ManualSpawnTTL       time.Duration `mapstructure:"manual_spawn_ttl"`
	ManualSpawnCount     int           `mapstructure:"manual_spawn_count"`
	BonusProbability     float64       `mapstructure:"bonus_probability"`
	BonusValue           int           `mapstructure:"bonus_value"`
	BaseValue            int           `mapstructure:"base_value"`
	DefaultSpawnRate     float64       `mapstructure:"default_spawn_rate"`
	DefaultTTLSeconds    int           `mapstructure:"default_ttl_seconds"`
	ActivePlayerWindow   time.Duration `mapstructure:"active_player_window"`
	LeaderboardSize      int           `mapstructure:"leaderboard_size"`
	Spawner              SpawnerConfig `mapstructure:"spawner"`
}

// SpawnerConfig 定时生成配置
type SpawnerConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	Interval         time.Duration `mapstructure:"interval"`
	GCInterval       time.Duration `mapstructure:"gc_interval"`
	ClaimedRetention time.Duration `mapstructure:"claimed_retention"`
}

// RelayConfig 光标/在线状态中继配置（客户端）
type RelayConfig struct {
	Throttle         time.Duration `mapstructure:"throttle"`
	CursorStaleAfter time.Duration `mapstructure:"cursor_stale_after"`
	NotificationTTL  time.Duration `mapstructure:"notification_ttl"`
	PruneInterval    time.Duration `mapstructure:"prune_interval"`
	// Heartbeat 重新上报在线状态的间隔，需小于 CursorStaleAfter
	Heartbeat time.Duration `mapstructure:"heartbeat"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level   string            `mapstructure:"level"`
	Format  string            `mapstructure:"format"`
	Output  string            `mapstructure:"output"`
	File    LogFileConfig     `mapstructure:"file"`
	Modules map[string]string `mapstructure:"modules"`
}

// LogFileConfig 日志文件配置
type LogFileConfig struct {
	Path       string `mapstructure:"path"`
	Filename   string `mapstructure:"filename"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxAge     int    `mapstructure:"max_age"`
	MaxBackups int    `mapstructure:"max_backups"`
	Compress   bool   `mapstructure:"compress"`
}

// SecurityConfig 安全配置
type SecurityConfig struct {
	JWT   JWTConfig   `mapstructure:"jwt"`
	Admin AdminConfig `mapstructure:"admin"`
}

// JWTConfig JWT配置
type JWTConfig struct {
	Secret      string `mapstructure:"secret"`
	ExpireHours int    `mapstructure:"expire_hours"`
}

// AdminConfig 管理员口令，password 为明文，password_hash 为 argon2id 哈希，两者取其一
type AdminConfig struct {
	Password     string `mapstructure:"password"`
	PasswordHash string `mapstructure:"password_hash"`
}

// CORSConfig 跨域配置
type CORSConfig struct {
	AllowOrigins []string `mapstructure:"allow_origins"`
	AllowHeaders []string `mapstructure:"allow_headers"`
	AllowMethods []string `mapstructure:"allow_methods"`
}

var (
	cfg  *Config
	once sync.Once
	mu   sync.RWMutex
	v    *viper.Viper
)

// Init 初始化配置
func Init(configPath string) error {
	var err error
	once.Do(func() {
		// .env 文件不存在时忽略
		if _, statErr := os.Stat(".env"); statErr == nil {
			if err = godotenv.Load(); err != nil {
				return
			}
		}

		v = viper.New()

		if configPath != "" {
			v.SetConfigFile(configPath)
		} else {
			v.SetConfigName("config")
			v.SetConfigType("yaml")
			v.AddConfigPath("./config")
			v.AddConfigPath(".")
		}

		v.SetEnvPrefix("COOKIE")
		v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
		v.AutomaticEnv()
		// ADMIN_PASSWORD 沿用部署环境里的变量名
		_ = v.BindEnv("security.admin.password", "COOKIE_SECURITY_ADMIN_PASSWORD", "ADMIN_PASSWORD")

		setDefaults(v)

		if err = v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return
			}
			err = nil
		}

		cfg = &Config{}
		if err = v.Unmarshal(cfg); err != nil {
			return
		}
	})

	return err
}

// Default 返回只包含默认值的配置，测试与工具使用
func Default() *Config {
	dv := viper.New()
	setDefaults(dv)
	c := &Config{}
	_ = dv.Unmarshal(c)
	return c
}

// setDefaults 设置默认配置值
func setDefaults(v *viper.Viper) {
	// 服务器默认配置
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "development")
	v.SetDefault("server.public_url", "http://localhost:8080")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "10s")

	// 数据库默认配置
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "./data/cookie-catcher.db")
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.max_open_conns", 100)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.log_level", "warn")
	v.SetDefault("database.auto_migrate", true)

	// WebSocket默认配置
	v.SetDefault("websocket.path", "/realtime/v1/websocket")
	v.SetDefault("websocket.read_buffer_size", 1024)
	v.SetDefault("websocket.write_buffer_size", 1024)
	v.SetDefault("websocket.max_message_size", 8192)
	v.SetDefault("websocket.send_buffer_size", 256)
	v.SetDefault("websocket.ping_interval", "30s")
	v.SetDefault("websocket.pong_timeout", "60s")
	v.SetDefault("websocket.write_timeout", "10s")
	v.SetDefault("websocket.enable_compression", false)

	v.SetDefault("realtime.redis.enabled", false)
	v.SetDefault("realtime.redis.addr", "localhost:6379")
	v.SetDefault("realtime.redis.db", 0)
	v.SetDefault("realtime.redis.channel", "cookie-catcher:realtime")

	// 游戏默认配置
	v.SetDefault("game.room_id", "main-room")
	v.SetDefault("game.room_name", "Main Room")
	v.SetDefault("game.claim_cooldown", "120ms")
	v.SetDefault("game.round_duration", "30s")
	v.SetDefault("game.intermission_duration", "10s")
	v.SetDefault("game.manual_spawn_ttl", "8s")
	v.SetDefault("game.manual_spawn_count", 10)
	v.SetDefault("game.bonus_probability", 0.15)
	v.SetDefault("game.bonus_value", 3)
	v.SetDefault("game.base_value", 1)
	v.SetDefault("game.default_spawn_rate", 2.0)
	v.SetDefault("game.default_ttl_seconds", 8)
	v.SetDefault("game.active_player_window", "1m")
	v.SetDefault("game.leaderboard_size", 10)
	v.SetDefault("game.spawner.enabled", true)
	v.SetDefault("game.spawner.interval", "1s")
	v.SetDefault("game.spawner.gc_interval", "1m")
	v.SetDefault("game.spawner.claimed_retention", "10m")

	v.SetDefault("relay.throttle", "50ms")
	v.SetDefault("relay.cursor_stale_after", "5s")
	v.SetDefault("relay.notification_ttl", "5s")
	v.SetDefault("relay.prune_interval", "100ms")
	v.SetDefault("relay.heartbeat", "1500ms")

	// 日志默认配置
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output", "stdout")
	v.SetDefault("log.file.path", "./logs")
	v.SetDefault("log.file.filename", "cookie-catcher.log")
	v.SetDefault("log.file.max_size", 100)
	v.SetDefault("log.file.max_age", 30)
	v.SetDefault("log.file.max_backups", 7)
	v.SetDefault("log.file.compress", true)

	v.SetDefault("security.jwt.secret", "change-me-in-production")
	v.SetDefault("security.jwt.expire_hours", 12)

	v.SetDefault("cors.allow_origins", []string{"*"})
	v.SetDefault("cors.allow_headers", []string{"authorization", "x-client-info", "apikey", "content-type"})
	v.SetDefault("cors.allow_methods", []string{"GET", "POST", "OPTIONS"})
}

// Get 获取配置实例
func Get() *Config {
	mu.RLock()
	defer mu.RUnlock()
	return cfg
}

// Watch 监听配置文件变化
func Watch(callback func(*Config)) {
	if v == nil {
		return
	}
	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		newCfg := &Config{}
		if err := v.Unmarshal(newCfg); err != nil {
			fmt.Printf("配置重载失败: %v\n", err)
			return
		}

		mu.Lock()
		cfg = newCfg
		mu.Unlock()

		if callback != nil {
			callback(newCfg)
		}

		fmt.Println("配置已重新加载:", e.Name)
	})
}

// GetString 获取字符串配置
func GetString(key string) string {
	return v.GetString(key)
}

// GetDuration 获取时间间隔配置
func GetDuration(key string) time.Duration {
	return v.GetDuration(key)
}
