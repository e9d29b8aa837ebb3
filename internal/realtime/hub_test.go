package realtime

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
	"github.com/wfunc/cookie-catcher/internal/config"
)

// memBus 进程内的 Bridge，模拟 Redis 发布订阅（发布者自己也会收到）
type memBus struct {
	mu        sync.Mutex
	endpoints []*memEndpoint
}

type memEndpoint struct {
	bus *memBus
	out chan *BridgeMessage
}

func (b *memBus) endpoint() *memEndpoint {
	b.mu.Lock()
	defer b.mu.Unlock()
	ep := &memEndpoint{bus: b, out: make(chan *BridgeMessage, 64)}
	b.endpoints = append(b.endpoints, ep)
	return ep
}

func (e *memEndpoint) Publish(msg *BridgeMessage) {
	e.bus.mu.Lock()
	defer e.bus.mu.Unlock()
	for _, ep := range e.bus.endpoints {
		ep.out <- msg
	}
}

func (e *memEndpoint) Messages() <-chan *BridgeMessage { return e.out }
func (e *memEndpoint) Close() error                    { return nil }

type testServer struct {
	hub    *Hub
	srv    *httptest.Server
	cancel context.CancelFunc
}

func startServer(opts ...Option) *testServer {
	gin.SetMode(gin.TestMode)
	hub := NewHub(config.WebSocketConfig{}, nil, opts...)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	r := gin.New()
	r.GET("/realtime/v1/websocket", hub.HandleWebSocket)
	return &testServer{hub: hub, srv: httptest.NewServer(r), cancel: cancel}
}

func (s *testServer) close() {
	s.cancel()
	<-s.hub.Done()
	s.srv.Close()
}

// HubTestSuite 实时 Hub 测试套件
type HubTestSuite struct {
	suite.Suite
	server *testServer
}

func (suite *HubTestSuite) SetupTest() {
	suite.server = startServer()
}

func (suite *HubTestSuite) TearDownTest() {
	suite.server.close()
}

func (suite *HubTestSuite) dial(key string) *websocket.Conn {
	return dialServer(suite.T(), suite.server, key)
}

func dialServer(t *testing.T, s *testServer, key string) *websocket.Conn {
	url := "ws" + strings.TrimPrefix(s.srv.URL, "http") + "/realtime/v1/websocket?key=" + key
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func write(t *testing.T, conn *websocket.Conn, f Frame) {
	data, err := json.Marshal(&f)
	if err != nil {
		t.Fatal(err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func read(t *testing.T, conn *websocket.Conn) Frame {
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return f
}

func expect(t *testing.T, conn *websocket.Conn, typ string) Frame {
	f := read(t, conn)
	if f.Type != typ {
		t.Fatalf("期望 %s，收到 %s (%s)", typ, f.Type, f.Payload)
	}
	return f
}

func subscribe(t *testing.T, conn *websocket.Conn, topic string, self bool) {
	write(t, conn, Frame{Type: FrameSubscribe, Topic: topic, Config: &SubscribeConfig{Self: self}})
	expect(t, conn, FrameSubscribed)
}

// assertQuiet 发 ping 后下一帧必须是 pong，证明前面没有多余的帧
func assertQuiet(t *testing.T, conn *websocket.Conn) {
	write(t, conn, Frame{Type: FramePing, Ref: "q"})
	f := expect(t, conn, FramePong)
	assert.Equal(t, "q", f.Ref)
}

func (suite *HubTestSuite) TestPingPong() {
	conn := suite.dial("a")
	write(suite.T(), conn, Frame{Type: FramePing, Ref: "42"})
	f := expect(suite.T(), conn, FramePong)
	suite.Equal("42", f.Ref)
}

func (suite *HubTestSuite) TestBroadcastExcludesSenderByDefault() {
	t := suite.T()
	a, b := suite.dial("a"), suite.dial("b")
	subscribe(t, a, "cursors_main-room", false)
	subscribe(t, b, "cursors_main-room", false)

	write(t, a, Frame{Type: FrameBroadcast, Topic: "cursors_main-room", Event: "cursor_move", Payload: json.RawMessage(`{"userId":"a"}`)})

	f := expect(t, b, FrameBroadcast)
	suite.Equal("cursor_move", f.Event)
	suite.JSONEq(`{"userId":"a"}`, string(f.Payload))
	assertQuiet(t, a)
}

func (suite *HubTestSuite) TestBroadcastSelfTrue() {
	t := suite.T()
	a := suite.dial("a")
	subscribe(t, a, "room-x", true)

	write(t, a, Frame{Type: FrameBroadcast, Topic: "room-x", Event: "hello"})
	f := expect(t, a, FrameBroadcast)
	suite.Equal("hello", f.Event)
}

func (suite *HubTestSuite) TestBroadcastRequiresSubscription() {
	t := suite.T()
	a := suite.dial("a")
	write(t, a, Frame{Type: FrameBroadcast, Topic: "nowhere", Event: "x"})
	f := expect(t, a, FrameError)
	suite.Contains(string(f.Payload), ErrNotSubscribed.Error())
}

func (suite *HubTestSuite) TestBroadcastNotDeliveredToOtherTopics() {
	t := suite.T()
	a, b := suite.dial("a"), suite.dial("b")
	subscribe(t, a, "t1", false)
	subscribe(t, b, "t2", false)

	write(t, a, Frame{Type: FrameBroadcast, Topic: "t1", Event: "x"})
	assertQuiet(t, b)
}

func (suite *HubTestSuite) TestSubscribeValidation() {
	t := suite.T()
	a := suite.dial("a")
	write(t, a, Frame{Type: FrameSubscribe, Topic: "  "})
	expect(t, a, FrameError)
	write(t, a, Frame{Type: FrameSubscribe, Topic: strings.Repeat("x", MaxTopicLength+1)})
	expect(t, a, FrameError)
}

func (suite *HubTestSuite) TestPresenceTrackAndDisconnect() {
	t := suite.T()
	a, b := suite.dial("device-a"), suite.dial("device-b")
	topic := "presence_main-room"

	subscribe(t, a, topic, false)
	write(t, a, Frame{Type: FrameTrack, Topic: topic, Payload: json.RawMessage(`{"nick":"Alice"}`)})
	state := expect(t, a, FramePresenceState)
	var ps PresenceState
	suite.Require().NoError(json.Unmarshal(state.Payload, &ps))
	suite.Len(ps["device-a"], 1)
	expect(t, a, FramePresenceDiff)

	// 后订阅的连接先拿到完整状态
	subscribe(t, b, topic, false)
	expect(t, b, FramePresenceState)

	write(t, b, Frame{Type: FrameTrack, Topic: topic, Payload: json.RawMessage(`{"nick":"Bob"}`)})
	expect(t, b, FramePresenceState)
	expect(t, b, FramePresenceDiff)

	diffFrame := expect(t, a, FramePresenceDiff)
	var diff PresenceDiff
	suite.Require().NoError(json.Unmarshal(diffFrame.Payload, &diff))
	suite.Contains(diff.Joins, "device-b")
	suite.JSONEq(`{"nick":"Bob"}`, string(diff.Joins["device-b"][0].Meta))

	suite.Len(suite.server.hub.Presence(topic), 2)

	// 断线后其他人立刻收到 leave
	b.Close()
	diffFrame = expect(t, a, FramePresenceDiff)
	diff = PresenceDiff{}
	suite.Require().NoError(json.Unmarshal(diffFrame.Payload, &diff))
	suite.Contains(diff.Leaves, "device-b")
	suite.Empty(diff.Joins)
}

func (suite *HubTestSuite) TestRetrackSendsDiffOnly() {
	t := suite.T()
	a := suite.dial("device-a")
	topic := "presence_main-room"

	subscribe(t, a, topic, false)
	write(t, a, Frame{Type: FrameTrack, Topic: topic, Payload: json.RawMessage(`{"nick":"Alice"}`)})
	expect(t, a, FramePresenceState)
	expect(t, a, FramePresenceDiff)

	write(t, a, Frame{Type: FrameTrack, Topic: topic, Payload: json.RawMessage(`{"nick":"Alice","n":2}`)})
	f := expect(t, a, FramePresenceDiff)
	var diff PresenceDiff
	suite.Require().NoError(json.Unmarshal(f.Payload, &diff))
	suite.JSONEq(`{"nick":"Alice"}`, string(diff.Leaves["device-a"][0].Meta))
	suite.JSONEq(`{"nick":"Alice","n":2}`, string(diff.Joins["device-a"][0].Meta))
	suite.Len(suite.server.hub.Presence(topic)["device-a"], 1)
}

func (suite *HubTestSuite) TestUntrack() {
	t := suite.T()
	a, b := suite.dial("a"), suite.dial("b")
	topic := "presence_main-room"
	subscribe(t, a, topic, false)
	subscribe(t, b, topic, false)

	write(t, b, Frame{Type: FrameTrack, Topic: topic, Payload: json.RawMessage(`{"nick":"Bob"}`)})
	expect(t, a, FramePresenceDiff)

	write(t, b, Frame{Type: FrameUntrack, Topic: topic})
	f := expect(t, a, FramePresenceDiff)
	suite.Contains(string(f.Payload), `"leaves":{"b"`)
	suite.Empty(suite.server.hub.Presence(topic))
}

func (suite *HubTestSuite) TestTrackRejectsNonObject() {
	t := suite.T()
	a := suite.dial("a")
	subscribe(t, a, "p", false)
	write(t, a, Frame{Type: FrameTrack, Topic: "p", Payload: json.RawMessage(`"nope"`)})
	expect(t, a, FrameError)
}

func (suite *HubTestSuite) TestPublishChange() {
	t := suite.T()
	a := suite.dial("a")
	subscribe(t, a, "cookies:main-room", false)

	suite.server.hub.PublishChange("main-room", "cookies", "INSERT", map[string]interface{}{"id": "c1", "value": 3}, nil)

	f := expect(t, a, FrameChanges)
	var change ChangePayload
	suite.Require().NoError(json.Unmarshal(f.Payload, &change))
	suite.Equal("INSERT", change.Event)
	suite.Equal("cookies", change.Table)
	suite.JSONEq(`{"id":"c1","value":3}`, string(change.New))
	suite.Empty(change.Old)
}

func (suite *HubTestSuite) TestUnsubscribeStopsDelivery() {
	t := suite.T()
	a := suite.dial("a")
	subscribe(t, a, "room:main-room", false)
	write(t, a, Frame{Type: FrameUnsubscribe, Topic: "room:main-room"})
	expect(t, a, FrameUnsubscribed)

	suite.server.hub.PublishChange("main-room", "rooms", "UPDATE", map[string]string{"status": "running"}, nil)
	assertQuiet(t, a)
	suite.Equal(0, suite.server.hub.SubscriberCount("room:main-room"))
}

func (suite *HubTestSuite) TestMalformedFrameClosesConnection() {
	t := suite.T()
	a := suite.dial("a")
	suite.Require().NoError(a.WriteMessage(websocket.TextMessage, []byte("{not json")))
	expect(t, a, FrameError)

	a.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := a.ReadMessage()
	suite.Error(err)
}

func (suite *HubTestSuite) TestUnknownFrameType() {
	t := suite.T()
	a := suite.dial("a")
	write(t, a, Frame{Type: "dance"})
	expect(t, a, FrameError)
	assertQuiet(t, a)
}

func TestHubSuite(t *testing.T) {
	suite.Run(t, new(HubTestSuite))
}

func TestBridgeAcrossInstances(t *testing.T) {
	bus := &memBus{}
	s1 := startServer(WithBridge(bus.endpoint()))
	defer s1.close()
	s2 := startServer(WithBridge(bus.endpoint()))
	defer s2.close()

	a := dialServer(t, s1, "a")
	b := dialServer(t, s2, "b")
	subscribe(t, a, "cursors_main-room", false)
	subscribe(t, b, "cursors_main-room", false)

	write(t, a, Frame{Type: FrameBroadcast, Topic: "cursors_main-room", Event: "cursor_move"})
	f := expect(t, b, FrameBroadcast)
	assert.Equal(t, "cursor_move", f.Event)
	// 自己实例发出的消息经桥接回来时被过滤
	assertQuiet(t, a)

	subscribe(t, a, "scores:main-room", false)
	s2.hub.PublishChange("main-room", "scores", "UPDATE", map[string]int{"score_total": 2}, nil)
	f = expect(t, a, FrameChanges)
	assert.Contains(t, string(f.Payload), `"score_total":2`)
}

func TestEnqueueDropsWhenFull(t *testing.T) {
	hub := NewHub(config.WebSocketConfig{SendBufferSize: 1}, nil)
	c := newClient(hub, nil, "")
	c.enqueue([]byte("1"))
	c.enqueue([]byte("2"))
	assert.Len(t, c.send, 1)
	assert.Equal(t, "1", string(<-c.send))
	assert.Equal(t, c.ID, c.Key)
}

func TestTopicHelpers(t *testing.T) {
	assert.Equal(t, "room:main-room", TopicForTable("main-room", "rooms"))
	assert.Equal(t, "cookies:main-room", TopicForTable("main-room", "cookies"))
	assert.Equal(t, "scores:main-room", TopicForTable("main-room", "scores"))
	assert.ErrorIs(t, ValidateTopic(""), ErrEmptyTopic)
	assert.NoError(t, ValidateTopic("cursors_main-room"))
}
