package realtime

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/wfunc/cookie-catcher/internal/config"
	"github.com/wfunc/cookie-catcher/internal/logger"
	"go.uber.org/zap"
)

// Hub 实时频道中心：订阅、广播、在线状态和表变更推送。
// 所有映射只在 Run 协程中修改，mu 只为查询接口加锁。
type Hub struct {
	clients  map[string]*Client
	topics   map[string]map[*Client]*subscription
	presence map[string]map[string]map[string]json.RawMessage // topic -> key -> clientID -> meta
	mu       sync.RWMutex

	register   chan *Client
	unregister chan *Client
	inbound    chan inboundFrame
	outbound   chan *envelope
	done       chan struct{}

	bridge     Bridge
	instanceID string
	cfg        config.WebSocketConfig
	logger     *zap.Logger
}

type subscription struct {
	self bool
}

type inboundFrame struct {
	client *Client
	frame  *Frame
	err    error
}

// envelope 待分发的帧，sender 非空时按订阅的 self 选项决定是否回送
type envelope struct {
	topic  string
	data   []byte
	sender *Client
}

// Option Hub 选项
type Option func(*Hub)

// WithBridge 多实例桥接
func WithBridge(b Bridge) Option {
	return func(h *Hub) {
		h.bridge = b
	}
}

// NewHub 创建Hub
func NewHub(cfg config.WebSocketConfig, log *zap.Logger, opts ...Option) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	h := &Hub{
		clients:    make(map[string]*Client),
		topics:     make(map[string]map[*Client]*subscription),
		presence:   make(map[string]map[string]map[string]json.RawMessage),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		inbound:    make(chan inboundFrame, 256),
		outbound:   make(chan *envelope, 1024),
		done:       make(chan struct{}),
		instanceID: uuid.New().String(),
		cfg:        withDefaults(cfg),
		logger:     log,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run 运行Hub，ctx 取消后断开所有连接
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	var bridged <-chan *BridgeMessage
	if h.bridge != nil {
		bridged = h.bridge.Messages()
	}

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return

		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case in := <-h.inbound:
			h.handleFrame(in)

		case env := <-h.outbound:
			h.fanOut(env)

		case msg, ok := <-bridged:
			if !ok {
				bridged = nil
				continue
			}
			if msg.Origin != h.instanceID {
				h.fanOut(&envelope{topic: msg.Topic, data: msg.Frame})
			}
		}
	}
}

// Done Run 退出后关闭
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	h.clients[client.ID] = client
	h.mu.Unlock()

	h.logger.Info("实时客户端连接",
		zap.String("client_id", client.ID),
		zap.String("key", client.Key))
}

func (h *Hub) unregisterClient(client *Client) {
	h.mu.RLock()
	_, ok := h.clients[client.ID]
	h.mu.RUnlock()
	if !ok {
		return
	}

	for topic := range client.topics {
		h.leaveTopic(client, topic)
	}

	h.mu.Lock()
	delete(h.clients, client.ID)
	h.mu.Unlock()
	close(client.send)

	h.logger.Info("实时客户端断开",
		zap.String("client_id", client.ID),
		zap.String("key", client.Key))
}

func (h *Hub) closeAll() {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		h.unregisterClient(c)
	}
}

// handleFrame 处理客户端帧
func (h *Hub) handleFrame(in inboundFrame) {
	client := in.client
	if in.err != nil {
		// 无法解析的帧，回复错误后断开
		h.sendError(client, "", "", in.err.Error())
		h.unregisterClient(client)
		return
	}

	f := in.frame
	logger.LogRealtimeMessage("in", f.Type, f.Topic)

	switch f.Type {
	case FramePing:
		h.send(client, FramePong, "", "", nil, f.Ref)

	case FrameSubscribe:
		if err := ValidateTopic(f.Topic); err != nil {
			h.sendError(client, f.Topic, f.Ref, err.Error())
			return
		}
		h.subscribe(client, f)

	case FrameUnsubscribe:
		if !h.subscribed(client, f.Topic) {
			h.sendError(client, f.Topic, f.Ref, ErrNotSubscribed.Error())
			return
		}
		h.leaveTopic(client, f.Topic)
		h.send(client, FrameUnsubscribed, f.Topic, "", nil, f.Ref)

	case FrameBroadcast:
		if !h.subscribed(client, f.Topic) {
			h.sendError(client, f.Topic, f.Ref, ErrNotSubscribed.Error())
			return
		}
		data, err := encodeFrame(FrameBroadcast, f.Topic, f.Event, f.Payload)
		if err != nil {
			h.sendError(client, f.Topic, f.Ref, err.Error())
			return
		}
		h.fanOut(&envelope{topic: f.Topic, data: data, sender: client})
		h.mirror(f.Topic, data)

	case FrameTrack:
		if !h.subscribed(client, f.Topic) {
			h.sendError(client, f.Topic, f.Ref, ErrNotSubscribed.Error())
			return
		}
		if len(f.Payload) == 0 || f.Payload[0] != '{' {
			h.sendError(client, f.Topic, f.Ref, "track payload 必须是对象")
			return
		}
		h.track(client, f.Topic, f.Payload)

	case FrameUntrack:
		h.untrack(client, f.Topic)

	default:
		h.sendError(client, f.Topic, f.Ref, ErrUnknownFrame.Error()+": "+f.Type)
	}
}

func (h *Hub) subscribed(client *Client, topic string) bool {
	_, ok := client.topics[topic]
	return ok
}

func (h *Hub) subscribe(client *Client, f *Frame) {
	self := f.Config != nil && f.Config.Self

	h.mu.Lock()
	subs, ok := h.topics[f.Topic]
	if !ok {
		subs = make(map[*Client]*subscription)
		h.topics[f.Topic] = subs
	}
	subs[client] = &subscription{self: self}
	h.mu.Unlock()
	client.topics[f.Topic] = struct{}{}

	h.send(client, FrameSubscribed, f.Topic, "", nil, f.Ref)
	if state := h.presenceState(f.Topic); len(state) > 0 {
		h.send(client, FramePresenceState, f.Topic, "", state, "")
	}
}

// leaveTopic 取消订阅，已跟踪的在线状态一并移除
func (h *Hub) leaveTopic(client *Client, topic string) {
	h.untrack(client, topic)

	h.mu.Lock()
	if subs, ok := h.topics[topic]; ok {
		delete(subs, client)
		if len(subs) == 0 {
			delete(h.topics, topic)
		}
	}
	h.mu.Unlock()
	delete(client.topics, topic)
}

// track 记录在线状态，同一连接重复 track 时先发出旧状态的 leave，
// 全量状态只在首次 track 时下发
func (h *Hub) track(client *Client, topic string, meta json.RawMessage) {
	h.mu.Lock()
	byKey, ok := h.presence[topic]
	if !ok {
		byKey = make(map[string]map[string]json.RawMessage)
		h.presence[topic] = byKey
	}
	metas, ok := byKey[client.Key]
	if !ok {
		metas = make(map[string]json.RawMessage)
		byKey[client.Key] = metas
	}
	old, replaced := metas[client.ID]
	metas[client.ID] = meta
	h.mu.Unlock()

	diff := PresenceDiff{
		Joins:  PresenceState{client.Key: {{Ref: client.ID, Meta: meta}}},
		Leaves: PresenceState{},
	}
	if replaced {
		diff.Leaves[client.Key] = []PresenceMeta{{Ref: client.ID, Meta: old}}
	}

	if !replaced {
		h.send(client, FramePresenceState, topic, "", h.presenceState(topic), "")
	}
	h.publishLocal(topic, FramePresenceDiff, diff)
}

// untrack 移除在线状态并通知其他订阅者
func (h *Hub) untrack(client *Client, topic string) {
	h.mu.Lock()
	byKey, ok := h.presence[topic]
	if !ok {
		h.mu.Unlock()
		return
	}
	metas, ok := byKey[client.Key]
	if !ok {
		h.mu.Unlock()
		return
	}
	old, ok := metas[client.ID]
	if !ok {
		h.mu.Unlock()
		return
	}
	delete(metas, client.ID)
	if len(metas) == 0 {
		delete(byKey, client.Key)
	}
	if len(byKey) == 0 {
		delete(h.presence, topic)
	}
	h.mu.Unlock()

	diff := PresenceDiff{
		Joins:  PresenceState{},
		Leaves: PresenceState{client.Key: {{Ref: client.ID, Meta: old}}},
	}
	h.publishLocal(topic, FramePresenceDiff, diff)
}

func (h *Hub) presenceState(topic string) PresenceState {
	h.mu.RLock()
	defer h.mu.RUnlock()

	state := PresenceState{}
	for key, metas := range h.presence[topic] {
		for ref, meta := range metas {
			state[key] = append(state[key], PresenceMeta{Ref: ref, Meta: meta})
		}
	}
	return state
}

// publishLocal 发给本实例该频道的全部订阅者
func (h *Hub) publishLocal(topic, typ string, payload interface{}) {
	data, err := encodeFrame(typ, topic, "", payload)
	if err != nil {
		h.logger.Error("序列化帧失败", zap.String("type", typ), zap.Error(err))
		return
	}
	h.fanOut(&envelope{topic: topic, data: data})
}

func (h *Hub) fanOut(env *envelope) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client, sub := range h.topics[env.topic] {
		if client == env.sender && !sub.self {
			continue
		}
		client.enqueue(env.data)
	}
}

// mirror 转发到其他实例
func (h *Hub) mirror(topic string, data []byte) {
	if h.bridge == nil {
		return
	}
	h.bridge.Publish(&BridgeMessage{Origin: h.instanceID, Topic: topic, Frame: data})
}

func (h *Hub) send(client *Client, typ, topic, event string, payload interface{}, ref string) {
	f := Frame{Type: typ, Topic: topic, Event: event, Ref: ref}
	if payload != nil {
		raw, err := marshalRaw(payload)
		if err != nil {
			h.logger.Error("序列化帧失败", zap.String("type", typ), zap.Error(err))
			return
		}
		f.Payload = raw
	}
	data, err := json.Marshal(&f)
	if err != nil {
		h.logger.Error("序列化帧失败", zap.String("type", typ), zap.Error(err))
		return
	}
	logger.LogRealtimeMessage("out", typ, topic)
	client.enqueue(data)
}

// sendError 回复错误帧，ref 原样带回
func (h *Hub) sendError(client *Client, topic, ref, message string) {
	h.send(client, FrameError, topic, "", ErrorPayload{Message: message}, ref)
}

// PublishChange 推送表变更，不阻塞调用方
func (h *Hub) PublishChange(roomID, table, event string, newRow, oldRow interface{}) {
	payload := ChangePayload{Event: event, Table: table}
	var err error
	if payload.New, err = marshalRaw(newRow); err != nil {
		h.logger.Error("序列化变更失败", zap.String("table", table), zap.Error(err))
		return
	}
	if payload.Old, err = marshalRaw(oldRow); err != nil {
		h.logger.Error("序列化变更失败", zap.String("table", table), zap.Error(err))
		return
	}

	topic := TopicForTable(roomID, table)
	data, err := encodeFrame(FrameChanges, topic, event, payload)
	if err != nil {
		h.logger.Error("序列化变更失败", zap.String("table", table), zap.Error(err))
		return
	}
	h.enqueueOutbound(&envelope{topic: topic, data: data})
	h.mirror(topic, data)
}

// Broadcast 服务端向频道广播
func (h *Hub) Broadcast(topic, event string, payload interface{}) error {
	data, err := encodeFrame(FrameBroadcast, topic, event, payload)
	if err != nil {
		return err
	}
	h.enqueueOutbound(&envelope{topic: topic, data: data})
	h.mirror(topic, data)
	return nil
}

func (h *Hub) enqueueOutbound(env *envelope) {
	select {
	case h.outbound <- env:
	default:
		h.logger.Warn("推送队列已满，丢弃", zap.String("topic", env.topic))
	}
}

// OnlineCount 当前连接数
func (h *Hub) OnlineCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// SubscriberCount 频道订阅数
func (h *Hub) SubscriberCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

// Presence 频道当前在线状态
func (h *Hub) Presence(topic string) PresenceState {
	return h.presenceState(topic)
}
