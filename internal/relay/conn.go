package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/wfunc/cookie-catcher/internal/realtime"
	"go.uber.org/zap"
)

var (
	ErrClosed = errors.New("连接已关闭")
)

// ServerError 服务端返回的错误帧
type ServerError struct {
	Topic   string
	Message string
}

func (e *ServerError) Error() string {
	if e.Topic == "" {
		return "realtime: " + e.Message
	}
	return fmt.Sprintf("realtime[%s]: %s", e.Topic, e.Message)
}

// Handler 处理某个频道收到的帧，在读循环中串行调用
type Handler func(f realtime.Frame)

// Conn 实时频道客户端连接
type Conn struct {
	ws     *websocket.Conn
	logger *zap.Logger

	writeMu sync.Mutex

	mu       sync.Mutex
	handlers map[string]Handler
	acks     map[string]chan realtime.Frame

	refSeq    uint64
	done      chan struct{}
	closeOnce sync.Once
	err       error
}

// Dial 连接实时服务，key 作为在线状态的 key
func Dial(ctx context.Context, rawURL, key string, log *zap.Logger) (*Conn, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("解析实时服务地址失败: %w", err)
	}
	if key != "" {
		q := u.Query()
		q.Set("key", key)
		u.RawQuery = q.Encode()
	}

	ws, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("连接实时服务失败: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}

	c := &Conn{
		ws:       ws,
		logger:   log,
		handlers: make(map[string]Handler),
		acks:     make(map[string]chan realtime.Frame),
		done:     make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Done 连接断开后关闭
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Err 连接断开的原因
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Conn) readLoop() {
	defer c.shutdown(nil)

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.shutdown(err)
			}
			return
		}

		var f realtime.Frame
		if err := json.Unmarshal(data, &f); err != nil {
			c.logger.Warn("无法解析的帧", zap.Error(err))
			continue
		}
		c.dispatch(f)
	}
}

func (c *Conn) dispatch(f realtime.Frame) {
	c.mu.Lock()
	if f.Ref != "" {
		if ch, ok := c.acks[f.Ref]; ok {
			delete(c.acks, f.Ref)
			c.mu.Unlock()
			ch <- f
			return
		}
	}
	h := c.handlers[f.Topic]
	c.mu.Unlock()

	if h != nil {
		h(f)
		return
	}
	if f.Type == realtime.FrameError {
		c.logger.Warn("实时服务返回错误", zap.String("topic", f.Topic), zap.ByteString("payload", f.Payload))
	}
}

func (c *Conn) nextRef() string {
	return strconv.FormatUint(atomic.AddUint64(&c.refSeq, 1), 10)
}

func (c *Conn) write(f *realtime.Frame) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	data, err := json.Marshal(f)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// request 发送带 ref 的帧并等待同 ref 的回复
func (c *Conn) request(ctx context.Context, f *realtime.Frame) (realtime.Frame, error) {
	f.Ref = c.nextRef()
	ch := make(chan realtime.Frame, 1)

	c.mu.Lock()
	c.acks[f.Ref] = ch
	c.mu.Unlock()

	forget := func() {
		c.mu.Lock()
		delete(c.acks, f.Ref)
		c.mu.Unlock()
	}

	if err := c.write(f); err != nil {
		forget()
		return realtime.Frame{}, err
	}

	select {
	case reply := <-ch:
		if reply.Type == realtime.FrameError {
			var p realtime.ErrorPayload
			json.Unmarshal(reply.Payload, &p)
			return reply, &ServerError{Topic: reply.Topic, Message: p.Message}
		}
		return reply, nil
	case <-c.done:
		forget()
		return realtime.Frame{}, ErrClosed
	case <-ctx.Done():
		forget()
		return realtime.Frame{}, ctx.Err()
	}
}

// Subscribe 订阅频道，收到服务端确认后返回
func (c *Conn) Subscribe(ctx context.Context, topic string, self bool, h Handler) error {
	if err := realtime.ValidateTopic(topic); err != nil {
		return err
	}

	c.mu.Lock()
	c.handlers[topic] = h
	c.mu.Unlock()

	_, err := c.request(ctx, &realtime.Frame{
		Type:   realtime.FrameSubscribe,
		Topic:  topic,
		Config: &realtime.SubscribeConfig{Self: self},
	})
	if err != nil {
		c.mu.Lock()
		delete(c.handlers, topic)
		c.mu.Unlock()
		return err
	}
	return nil
}

// Unsubscribe 退订频道
func (c *Conn) Unsubscribe(ctx context.Context, topic string) error {
	c.mu.Lock()
	delete(c.handlers, topic)
	c.mu.Unlock()

	_, err := c.request(ctx, &realtime.Frame{Type: realtime.FrameUnsubscribe, Topic: topic})
	return err
}

// Broadcast 向频道广播消息，不等待确认
func (c *Conn) Broadcast(topic, event string, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return c.write(&realtime.Frame{Type: realtime.FrameBroadcast, Topic: topic, Event: event, Payload: raw})
}

// Track 上报在线状态，meta 必须序列化为 JSON 对象
func (c *Conn) Track(topic string, meta interface{}) error {
	raw, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	return c.write(&realtime.Frame{Type: realtime.FrameTrack, Topic: topic, Payload: raw})
}

// Untrack 撤销在线状态
func (c *Conn) Untrack(topic string) error {
	return c.write(&realtime.Frame{Type: realtime.FrameUntrack, Topic: topic})
}

// Ping 检测连接
func (c *Conn) Ping(ctx context.Context) error {
	_, err := c.request(ctx, &realtime.Frame{Type: realtime.FramePing})
	return err
}

// Close 正常关闭连接
func (c *Conn) Close() error {
	c.writeMu.Lock()
	c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()

	c.shutdown(nil)
	return nil
}

func (c *Conn) shutdown(err error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.err = err
		c.mu.Unlock()
		close(c.done)
		c.ws.Close()
		if err != nil {
			c.logger.Warn("实时连接断开", zap.Error(err))
		}
	})
}
