package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/wfunc/cookie-catcher/internal/config"
	"go.uber.org/zap"
)

// BridgeMessage 实例间转发的帧
type BridgeMessage struct {
	Origin string          `json:"origin"`
	Topic  string          `json:"topic"`
	Frame  json.RawMessage `json:"frame"`
}

// Bridge 多实例转发。Publish 不能阻塞调用方。
// 在线状态只在本实例内维护，不经过 Bridge。
type Bridge interface {
	Publish(msg *BridgeMessage)
	Messages() <-chan *BridgeMessage
	Close() error
}

// RedisBridge 基于 Redis 发布订阅的转发
type RedisBridge struct {
	client  *redis.Client
	pubsub  *redis.PubSub
	channel string
	pub     chan *BridgeMessage
	out     chan *BridgeMessage
	cancel  context.CancelFunc
	logger  *zap.Logger
}

// NewRedisBridge 连接 Redis 并订阅频道
func NewRedisBridge(ctx context.Context, cfg *config.RedisConfig, log *zap.Logger) (*RedisBridge, error) {
	if log == nil {
		log = zap.NewNop()
	}
	channel := cfg.Channel
	if channel == "" {
		channel = "cookie-catcher:realtime"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("连接Redis失败: %w", err)
	}

	pubsub := client.Subscribe(ctx, channel)
	// 等待订阅确认，之后发布的消息不会丢
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		client.Close()
		return nil, fmt.Errorf("订阅Redis频道失败: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	b := &RedisBridge{
		client:  client,
		pubsub:  pubsub,
		channel: channel,
		pub:     make(chan *BridgeMessage, 1024),
		out:     make(chan *BridgeMessage, 1024),
		cancel:  cancel,
		logger:  log,
	}
	go b.receiveLoop(runCtx)
	go b.publishLoop(runCtx)

	log.Info("Redis桥接已启动", zap.String("addr", cfg.Addr), zap.String("channel", channel))
	return b, nil
}

// Publish 放入发送队列
func (b *RedisBridge) Publish(msg *BridgeMessage) {
	select {
	case b.pub <- msg:
	default:
		b.logger.Warn("Redis发送队列已满，丢弃", zap.String("topic", msg.Topic))
	}
}

// Messages 其他实例发来的帧
func (b *RedisBridge) Messages() <-chan *BridgeMessage {
	return b.out
}

// Close 关闭订阅和连接
func (b *RedisBridge) Close() error {
	b.cancel()
	if err := b.pubsub.Close(); err != nil {
		b.logger.Warn("关闭Redis订阅失败", zap.Error(err))
	}
	return b.client.Close()
}

func (b *RedisBridge) publishLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-b.pub:
			data, err := json.Marshal(msg)
			if err != nil {
				b.logger.Error("序列化桥接消息失败", zap.Error(err))
				continue
			}
			if err := b.client.Publish(ctx, b.channel, data).Err(); err != nil {
				b.logger.Warn("Redis发布失败", zap.String("topic", msg.Topic), zap.Error(err))
			}
		}
	}
}

func (b *RedisBridge) receiveLoop(ctx context.Context) {
	defer close(b.out)
	ch := b.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-ch:
			if !ok {
				return
			}
			var msg BridgeMessage
			if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
				b.logger.Warn("无法解析桥接消息", zap.Error(err))
				continue
			}
			select {
			case b.out <- &msg:
			default:
				b.logger.Warn("桥接接收队列已满，丢弃", zap.String("topic", msg.Topic))
			}
		}
	}
}
