package realtime

import (
	"encoding/json"
	"errors"
	"strings"
)

// 客户端发来的帧类型
const (
	FrameSubscribe   = "subscribe"
	FrameUnsubscribe = "unsubscribe"
	FrameBroadcast   = "broadcast"
	FrameTrack       = "track"
	FrameUntrack     = "untrack"
	FramePing        = "ping"
)

// 服务端发出的帧类型
const (
	FrameSubscribed    = "subscribed"
	FrameUnsubscribed  = "unsubscribed"
	FramePresenceState = "presence_state"
	FramePresenceDiff  = "presence_diff"
	FrameChanges       = "postgres_changes"
	FramePong          = "pong"
	FrameError         = "error"
)

// MaxTopicLength 频道名最大长度
const MaxTopicLength = 128

var (
	ErrEmptyTopic     = errors.New("频道名为空")
	ErrTopicTooLong   = errors.New("频道名过长")
	ErrNotSubscribed  = errors.New("未订阅该频道")
	ErrSendBufferFull = errors.New("发送缓冲区已满")
	ErrUnknownFrame   = errors.New("未知的帧类型")
)

// Frame 客户端和服务端共用的 JSON 帧
type Frame struct {
	Type    string           `json:"type"`
	Topic   string           `json:"topic,omitempty"`
	Event   string           `json:"event,omitempty"`
	Ref     string           `json:"ref,omitempty"`
	Config  *SubscribeConfig `json:"config,omitempty"`
	Payload json.RawMessage  `json:"payload,omitempty"`
}

// SubscribeConfig 订阅选项，self 为 true 时广播也回送给发送者
type SubscribeConfig struct {
	Self bool `json:"self"`
}

// PresenceMeta 一个连接在某个 key 下的在线信息，ref 为连接ID
type PresenceMeta struct {
	Ref  string          `json:"ref"`
	Meta json.RawMessage `json:"meta"`
}

// PresenceState key 到在线信息列表
type PresenceState map[string][]PresenceMeta

// PresenceDiff 在线状态增量
type PresenceDiff struct {
	Joins  PresenceState `json:"joins"`
	Leaves PresenceState `json:"leaves"`
}

// ChangePayload 表变更事件
type ChangePayload struct {
	Event string          `json:"event"`
	Table string          `json:"table"`
	New   json.RawMessage `json:"new,omitempty"`
	Old   json.RawMessage `json:"old,omitempty"`
}

// ErrorPayload 错误帧内容
type ErrorPayload struct {
	Message string `json:"message"`
}

// ValidateTopic 校验频道名
func ValidateTopic(topic string) error {
	if strings.TrimSpace(topic) == "" {
		return ErrEmptyTopic
	}
	if len(topic) > MaxTopicLength {
		return ErrTopicTooLong
	}
	return nil
}

// TopicForTable 表变更推送的频道
func TopicForTable(roomID, table string) string {
	switch table {
	case "rooms":
		return "room:" + roomID
	default:
		return table + ":" + roomID
	}
}

// encodeFrame 序列化帧，payload 为 nil 时省略
func encodeFrame(typ, topic, event string, payload interface{}) ([]byte, error) {
	f := Frame{Type: typ, Topic: topic, Event: event}
	if payload != nil {
		raw, err := marshalRaw(payload)
		if err != nil {
			return nil, err
		}
		f.Payload = raw
	}
	return json.Marshal(&f)
}

func marshalRaw(v interface{}) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(v)
}
