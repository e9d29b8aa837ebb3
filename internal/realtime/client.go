package realtime

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/wfunc/cookie-catcher/internal/config"
	"go.uber.org/zap"
)

// 连接参数缺省值
const (
	defaultWriteWait      = 10 * time.Second
	defaultPongWait       = 60 * time.Second
	defaultMaxMessageSize = 64 * 1024
	defaultSendBuffer     = 256
)

// Client 一个 WebSocket 连接
type Client struct {
	ID  string
	Key string // 在线状态的 key，缺省为连接ID

	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	// 只在 Hub.Run 协程中读写
	topics map[string]struct{}
}

func withDefaults(cfg config.WebSocketConfig) config.WebSocketConfig {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteWait
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = defaultPongWait
	}
	if cfg.PingInterval <= 0 || cfg.PingInterval >= cfg.PongTimeout {
		cfg.PingInterval = cfg.PongTimeout * 9 / 10
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaultMaxMessageSize
	}
	if cfg.SendBufferSize <= 0 {
		cfg.SendBufferSize = defaultSendBuffer
	}
	if cfg.ReadBufferSize <= 0 {
		cfg.ReadBufferSize = 1024
	}
	if cfg.WriteBufferSize <= 0 {
		cfg.WriteBufferSize = 1024
	}
	return cfg
}

func newClient(hub *Hub, conn *websocket.Conn, key string) *Client {
	id := uuid.New().String()
	if key == "" {
		key = id
	}
	return &Client{
		ID:     id,
		Key:    key,
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, hub.cfg.SendBufferSize),
		topics: make(map[string]struct{}),
	}
}

// enqueue 放入发送缓冲，满了直接丢弃，不拖慢其他订阅者
func (c *Client) enqueue(data []byte) {
	select {
	case c.send <- data:
	default:
		c.hub.logger.Warn("客户端发送缓冲区满，丢弃消息",
			zap.String("client_id", c.ID),
			zap.Int("size", len(data)))
	}
}

// readPump 读取客户端帧交给 Hub
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	cfg := c.hub.cfg
	c.conn.SetReadLimit(cfg.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(cfg.PongTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(cfg.PongTimeout))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warn("WebSocket读取错误",
					zap.String("client_id", c.ID),
					zap.Error(err))
			}
			return
		}
		// 客户端有消息就算活着
		c.conn.SetReadDeadline(time.Now().Add(cfg.PongTimeout))

		in := inboundFrame{client: c}
		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			in.err = fmt.Errorf("消息格式错误: %w", err)
		} else if f.Type == "" {
			in.err = fmt.Errorf("消息类型不能为空")
		} else {
			in.frame = &f
		}

		select {
		case c.hub.inbound <- in:
		case <-c.hub.done:
			return
		}
		if in.err != nil {
			return
		}
	}
}

// writePump 每帧单独一条文本消息，定时发送 ping
func (c *Client) writePump() {
	cfg := c.hub.cfg
	ticker := time.NewTicker(cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if !ok {
				// Hub 关闭了通道
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// HandleWebSocket 升级连接并注册到 Hub，query 参数 key 为在线状态的 key
func (h *Hub) HandleWebSocket(c *gin.Context) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:    h.cfg.ReadBufferSize,
		WriteBufferSize:   h.cfg.WriteBufferSize,
		EnableCompression: h.cfg.EnableCompression,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("WebSocket升级失败", zap.Error(err))
		return
	}

	client := newClient(h, conn, c.Query("key"))
	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}
