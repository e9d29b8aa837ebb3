package spawner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/wfunc/cookie-catcher/internal/config"
	apperrors "github.com/wfunc/cookie-catcher/internal/errors"
	"github.com/wfunc/cookie-catcher/internal/service"
	"go.uber.org/zap"
)

// Spawner 定时生成饼干并回收已领取的饼干
type Spawner struct {
	spawn  service.SpawnService
	cfg    config.SpawnerConfig
	logger *zap.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	timeout time.Duration
}

// New 创建定时任务
func New(spawn service.SpawnService, cfg config.SpawnerConfig, log *zap.Logger) *Spawner {
	if log == nil {
		log = zap.NewNop()
	}
	return &Spawner{
		spawn:   spawn,
		cfg:     cfg,
		logger:  log,
		timeout: 5 * time.Second,
	}
}

// Start 注册任务并启动调度
func (s *Spawner) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		return fmt.Errorf("定时任务已启动")
	}
	if s.cfg.Interval <= 0 {
		return fmt.Errorf("无效的生成间隔: %s", s.cfg.Interval)
	}

	if s.cfg.Interval < time.Second {
		// cron 的 @every 最小粒度为1秒
		s.logger.Warn("生成间隔小于1秒，按1秒执行", zap.Duration("interval", s.cfg.Interval))
	}

	cl := cronLogger{s.logger.Sugar()}
	c := cron.New(cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)))

	if _, err := c.AddFunc("@every "+s.cfg.Interval.String(), s.Tick); err != nil {
		return fmt.Errorf("注册生成任务失败: %w", err)
	}
	if s.cfg.GCInterval > 0 {
		if _, err := c.AddFunc("@every "+s.cfg.GCInterval.String(), s.Collect); err != nil {
			return fmt.Errorf("注册回收任务失败: %w", err)
		}
	}

	c.Start()
	s.cron = c
	s.logger.Info("定时生成已启动",
		zap.Duration("interval", s.cfg.Interval),
		zap.Duration("gc_interval", s.cfg.GCInterval),
	)
	return nil
}

// Stop 停止调度并等待正在执行的任务结束
func (s *Spawner) Stop(ctx context.Context) error {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()

	if c == nil {
		return nil
	}
	select {
	case <-c.Stop().Done():
		s.logger.Info("定时生成已停止")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Tick 执行一次生成
func (s *Spawner) Tick() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	res, err := s.spawn.SpawnTick(ctx)
	if err != nil {
		if apperrors.IsRetryable(err) {
			s.logger.Warn("定时生成失败，下个周期重试", zap.Error(err))
		} else {
			s.logger.Error("定时生成失败", zap.Error(err))
		}
		return
	}
	if res.Spawned > 0 || res.Cleaned > 0 {
		s.logger.Debug("定时生成",
			zap.Int("spawned", res.Spawned),
			zap.Int("cleaned", res.Cleaned),
			zap.String("room_status", res.RoomStatus),
		)
	}
}

// Collect 执行一次回收
func (s *Spawner) Collect() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	n, err := s.spawn.CollectClaimed(ctx)
	if err != nil {
		s.logger.Error("回收已领取饼干失败", zap.Error(err))
		return
	}
	if n > 0 {
		s.logger.Info("回收已领取饼干", zap.Int64("deleted", n))
	}
}

// cronLogger 把 cron 的日志转给 zap
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
