package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wfunc/cookie-catcher/internal/config"
	"github.com/wfunc/cookie-catcher/internal/game"
	"github.com/wfunc/cookie-catcher/internal/logger"
	"github.com/wfunc/cookie-catcher/internal/relay"
	"go.uber.org/zap"
)

// Bot 一个模拟玩家
type Bot struct {
	cfg     *Config
	api     *relay.APIClient
	session *relay.Session
	rand    game.Rand
	log     *zap.Logger

	playerID string
	x, y     float64
	claimed  int
	score    int
}

// Run 加入房间并一直运行到 ctx 结束
func Run(ctx context.Context, cfg *Config) error {
	logCfg := config.Default().Log
	logCfg.Format = "console"
	if cfg.verbose {
		logCfg.Level = "debug"
	}
	if err := logger.Init(&logCfg); err != nil {
		return fmt.Errorf("初始化日志失败: %w", err)
	}
	defer logger.Sync()
	log := logger.WithModule("bot")

	if cfg.duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.duration)
		defer cancel()
	}

	api := relay.NewAPIClient(cfg.server, 5*time.Second)
	player, err := api.AssignNickname(ctx, cfg.device)
	if err != nil {
		return fmt.Errorf("领取昵称失败: %w", err)
	}
	log = log.With(zap.String("nick", player.Nick), zap.String("device", player.DeviceID))
	log.Info("已领取昵称", zap.String("player_id", player.ID), zap.String("color", player.Color))

	conn, err := relay.Dial(ctx, cfg.wsURL(), player.DeviceID, log.Named("conn"))
	if err != nil {
		return err
	}

	opts := relay.OptionsFrom(config.Default().Relay)
	opts.Throttle = cfg.throttle
	opts.Logger = log.Named("session")
	opts.OnJoin = func(n relay.JoinNotification) {
		log.Info("玩家加入", zap.String("who", n.Nick))
	}
	opts.OnRipple = func(r relay.TouchRipple) {
		log.Debug("触摸波纹", zap.String("who", r.Nick), zap.String("type", r.Type))
	}

	session := relay.NewSession(conn, relay.Identity{
		UserID:   player.ID,
		Nick:     player.Nick,
		Color:    player.Color,
		DeviceID: player.DeviceID,
		RoomID:   player.RoomID,
	}, opts)
	if err := session.JoinWithSnapshot(ctx, api.LoadSnapshot); err != nil {
		conn.Close()
		return err
	}

	bot := &Bot{
		cfg:      cfg,
		api:      api,
		session:  session,
		rand:     game.NewRand(time.Now().UnixNano()),
		log:      log,
		playerID: player.ID,
		x:        50,
		y:        50,
	}
	runErr := bot.loop(ctx)

	leaveCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := session.Leave(leaveCtx); err != nil {
		log.Warn("离开房间失败", zap.Error(err))
	}

	log.Info("机器人退出", zap.Int("claimed", bot.claimed), zap.Int("score", bot.score))
	if errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded) {
		return nil
	}
	return runErr
}

func (b *Bot) loop(ctx context.Context) error {
	move := time.NewTicker(b.cfg.moveInterval)
	defer move.Stop()
	claim := time.NewTicker(b.cfg.claimInterval)
	defer claim.Stop()
	status := time.NewTicker(5 * time.Second)
	defer status.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-b.session.Done():
			return errors.New("实时连接已断开")
		case <-move.C:
			b.wander()
		case <-claim.C:
			b.tryClaim(ctx)
		case <-status.C:
			b.report()
		}
	}
}

// wander 随机游走，坐标为百分比
func (b *Bot) wander() {
	b.x = clamp(b.x+(b.rand.Float64()-0.5)*6, 0, 100)
	b.y = clamp(b.y+(b.rand.Float64()-0.5)*6, 0, 100)
	b.session.MoveCursor(b.x, b.y)
}

// tryClaim 回合中随机挑一个可领取的饼干
func (b *Bot) tryClaim(ctx context.Context) {
	if !b.session.Store.IsRunning() {
		return
	}
	now := time.Now()
	cookies := b.session.Store.ActiveCookies(now)
	if len(cookies) == 0 {
		return
	}
	target := cookies[b.rand.Intn(len(cookies))]

	b.x, b.y = target.XPct, clamp(target.YPct, 0, 100)
	if err := b.session.Touch(b.x, b.y, relay.TouchTap); err != nil {
		b.log.Debug("发送触摸失败", zap.Error(err))
	}

	res, err := b.api.Claim(ctx, target.ID, b.session.Identity().DeviceID)
	if err != nil {
		b.log.Warn("领取请求失败", zap.String("cookie_id", target.ID), zap.Error(err))
		return
	}
	if !res.OK {
		b.log.Debug("没抢到", zap.String("cookie_id", target.ID), zap.String("reason", res.Reason))
		return
	}

	b.session.Store.MarkClaimed(target.ID, b.playerID, now)
	b.claimed++
	if res.NewTotals != nil {
		b.score = res.NewTotals.ScoreTotal
	}
	b.log.Info("领取成功", zap.Int("value", res.Value), zap.Int("total", b.score))
}

func (b *Bot) report() {
	now := time.Now()
	store := b.session.Store
	fields := []zap.Field{
		zap.Int("online", b.session.Presence.Count()),
		zap.Int("cursors", b.session.Cursors.Len()),
		zap.Int("active_cookies", len(store.ActiveCookies(now))),
		zap.Int("round_rank", store.Rank(b.playerID, game.BoardRound)),
	}
	if room := store.Room(); room != nil {
		fields = append(fields, zap.String("status", room.Status), zap.Int("time_remaining", store.TimeRemaining(now)))
	}
	b.log.Info("状态", fields...)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
