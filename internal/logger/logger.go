package logger

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/wfunc/cookie-catcher/internal/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	root    *zap.Logger
	modules map[string]*zap.Logger
	once    sync.Once
	mu      sync.RWMutex

	// 全局级别，配置热更新时调整
	level = zap.NewAtomicLevel()
)

// Init 初始化全局日志，只有第一次调用生效
func Init(cfg *config.LogConfig) error {
	var err error
	once.Do(func() {
		level.SetLevel(parseLevel(cfg.Level))

		var cores []zapcore.Core
		cores, err = buildCores(cfg)
		if err != nil {
			return
		}
		tee := zapcore.NewTee(cores...)

		mu.Lock()
		defer mu.Unlock()
		root = zap.New(tee, zap.AddCaller(), zap.AddCallerSkip(1), zap.AddStacktrace(zapcore.ErrorLevel))

		// 模块共享输出，只提高级别
		modules = make(map[string]*zap.Logger, len(cfg.Modules))
		for name, lv := range cfg.Modules {
			modules[name] = zap.New(tee, zap.AddCaller(), zap.IncreaseLevel(parseLevel(lv))).Named(name)
		}
	})
	return err
}

func encoderFor(format string) zapcore.Encoder {
	ec := zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.MillisDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
	if format == "json" {
		return zapcore.NewJSONEncoder(ec)
	}
	ec.EncodeLevel = zapcore.CapitalColorLevelEncoder
	return zapcore.NewConsoleEncoder(ec)
}

func rolling(cfg *config.LogConfig, name string) zapcore.WriteSyncer {
	return zapcore.AddSync(&lumberjack.Logger{
		Filename:   filepath.Join(cfg.File.Path, name),
		MaxSize:    cfg.File.MaxSize, // MB
		MaxAge:     cfg.File.MaxAge,  // 天
		MaxBackups: cfg.File.MaxBackups,
		Compress:   cfg.File.Compress,
	})
}

// buildCores 按 output 组装输出，文件模式下 error 以上另写一份 error.log
func buildCores(cfg *config.LogConfig) ([]zapcore.Core, error) {
	enc := encoderFor(cfg.Format)
	toStdout := cfg.Output == "stdout" || cfg.Output == "both"
	toFile := cfg.Output == "file" || cfg.Output == "both"

	var cores []zapcore.Core
	if toStdout || !toFile {
		cores = append(cores, zapcore.NewCore(enc, zapcore.AddSync(os.Stdout), level))
	}
	if toFile {
		if err := os.MkdirAll(cfg.File.Path, 0755); err != nil {
			return nil, err
		}
		cores = append(cores,
			zapcore.NewCore(enc, rolling(cfg, cfg.File.Filename), level),
			zapcore.NewCore(enc, rolling(cfg, "error.log"), zapcore.ErrorLevel),
		)
	}
	return cores, nil
}

func parseLevel(s string) zapcore.Level {
	var lv zapcore.Level
	if err := lv.UnmarshalText([]byte(s)); err != nil {
		return zapcore.InfoLevel
	}
	return lv
}

// GetLogger 全局日志器，未初始化时退回 zap 生产配置
func GetLogger() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	if root == nil {
		l, _ := zap.NewProduction()
		return l
	}
	return root
}

// WithModule 模块日志器，配置了模块级别时使用独立级别
func WithModule(module string) *zap.Logger {
	mu.RLock()
	l, ok := modules[module]
	mu.RUnlock()
	if ok {
		return l
	}
	return GetLogger().WithOptions(zap.AddCallerSkip(-1)).Named(module)
}

// SetLevel 调整全局级别
func SetLevel(s string) {
	level.SetLevel(parseLevel(s))
}

// Sync 刷新缓冲
func Sync() error {
	mu.RLock()
	defer mu.RUnlock()
	if root != nil {
		return root.Sync()
	}
	return nil
}

func Debug(msg string, fields ...zap.Field) { GetLogger().Debug(msg, fields...) }

func Info(msg string, fields ...zap.Field) { GetLogger().Info(msg, fields...) }

func Warn(msg string, fields ...zap.Field) { GetLogger().Warn(msg, fields...) }

func Error(msg string, fields ...zap.Field) { GetLogger().Error(msg, fields...) }

// Fatal 记录后退出进程
func Fatal(msg string, fields ...zap.Field) { GetLogger().Fatal(msg, fields...) }

// LogRequest HTTP 访问日志
func LogRequest(method, path string, status int, latency time.Duration, clientIP string) {
	GetLogger().Info("request",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", status),
		zap.Duration("latency", latency),
		zap.String("client_ip", clientIP),
	)
}

// LogPanic 记录被恢复的 panic
func LogPanic(recovered interface{}, stack []byte) {
	GetLogger().Error("panic recovered",
		zap.Any("panic", recovered),
		zap.ByteString("stack", stack),
	)
}

// LogGameEvent 管理操作、手动生成等房间事件
func LogGameEvent(event string, roomID string, data map[string]interface{}) {
	WithModule("game").Info("game_event",
		zap.String("event", event),
		zap.String("room_id", roomID),
		zap.Any("data", data),
	)
}

// LogClaim 领取结果，失败时带原因
func LogClaim(cookieID, playerID string, ok bool, reason string) {
	fields := []zap.Field{zap.String("cookie_id", cookieID), zap.String("player_id", playerID)}
	if ok {
		WithModule("claim").Debug("claim_ok", fields...)
		return
	}
	WithModule("claim").Debug("claim_rejected", append(fields, zap.String("reason", reason))...)
}

// LogRealtimeMessage 实时帧收发，direction 为 in 或 out
func LogRealtimeMessage(direction string, frameType string, topic string) {
	WithModule("realtime").Debug("rt_message",
		zap.String("direction", direction),
		zap.String("type", frameType),
		zap.String("topic", topic),
	)
}
