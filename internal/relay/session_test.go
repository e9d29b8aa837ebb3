package relay

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/suite"
	"github.com/wfunc/cookie-catcher/internal/config"
	"github.com/wfunc/cookie-catcher/internal/models"
	"github.com/wfunc/cookie-catcher/internal/realtime"
)

const testRoom = "main-room"

// SessionTestSuite 通过真实 Hub 测试会话
type SessionTestSuite struct {
	suite.Suite
	hub    *realtime.Hub
	srv    *httptest.Server
	cancel context.CancelFunc
	ctx    context.Context
}

func (suite *SessionTestSuite) SetupTest() {
	gin.SetMode(gin.TestMode)
	suite.hub = realtime.NewHub(config.WebSocketConfig{}, nil)
	var ctx context.Context
	ctx, suite.cancel = context.WithCancel(context.Background())
	go suite.hub.Run(ctx)

	r := gin.New()
	r.GET("/realtime/v1/websocket", suite.hub.HandleWebSocket)
	suite.srv = httptest.NewServer(r)
	suite.ctx = context.Background()
}

func (suite *SessionTestSuite) TearDownTest() {
	suite.cancel()
	<-suite.hub.Done()
	suite.srv.Close()
}

func (suite *SessionTestSuite) wsURL() string {
	return "ws" + strings.TrimPrefix(suite.srv.URL, "http") + "/realtime/v1/websocket"
}

func (suite *SessionTestSuite) join(id Identity, opts Options) *Session {
	conn, err := Dial(suite.ctx, suite.wsURL(), id.DeviceID, nil)
	suite.Require().NoError(err)
	if opts.Throttle == 0 {
		opts.Throttle = 10 * time.Millisecond
	}
	s := NewSession(conn, id, opts)
	suite.Require().NoError(s.Join(suite.ctx))
	return s
}

func identity(user, nick, device string) Identity {
	return Identity{UserID: user, Nick: nick, Color: "#112233", DeviceID: device, RoomID: testRoom}
}

func (suite *SessionTestSuite) eventually(cond func() bool, msg string) {
	suite.Eventually(cond, 2*time.Second, 10*time.Millisecond, msg)
}

func (suite *SessionTestSuite) TestPresenceAndJoinNotifications() {
	var mu sync.Mutex
	var joins []JoinNotification
	amy := suite.join(identity("p1", "Amy", "dev-a"), Options{OnJoin: func(n JoinNotification) {
		mu.Lock()
		joins = append(joins, n)
		mu.Unlock()
	}})
	suite.eventually(func() bool { return amy.Presence.Count() == 1 }, "自己上线")

	bob := suite.join(identity("p2", "Bob", "dev-b"), Options{})
	suite.eventually(func() bool { return amy.Presence.Count() == 2 }, "看到 Bob")
	suite.eventually(func() bool { return bob.Presence.Count() == 2 }, "Bob 拿到全量状态")

	users := amy.Presence.Users()
	suite.Equal("Amy", users[0].Nick)
	suite.Equal("Bob", users[1].Nick)

	suite.eventually(func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(joins) == 1 && joins[0].Nick == "Bob"
	}, "只提示其他玩家加入")
	suite.Len(amy.Notifications.Active(time.Now()), 1)

	suite.Require().NoError(bob.Leave(suite.ctx))
	suite.eventually(func() bool { return amy.Presence.Count() == 1 }, "Bob 离开")
	suite.NoError(amy.Leave(suite.ctx))
}

// 对端不关闭连接也不再读写，在线列表在一个超时窗口后收敛
func (suite *SessionTestSuite) TestSilentPeerDropsFromPresence() {
	var mu sync.Mutex
	var joins []JoinNotification
	opts := Options{
		StaleAfter:    600 * time.Millisecond,
		PruneInterval: 20 * time.Millisecond,
		OnJoin: func(n JoinNotification) {
			mu.Lock()
			joins = append(joins, n)
			mu.Unlock()
		},
	}
	amy := suite.join(identity("p1", "Amy", "dev-a"), opts)
	bob := suite.join(identity("p2", "Bob", "dev-b"), Options{StaleAfter: opts.StaleAfter, PruneInterval: opts.PruneInterval})

	ghost, _, err := websocket.DefaultDialer.Dial(suite.wsURL()+"?key=dev-ghost", nil)
	suite.Require().NoError(err)
	defer ghost.Close()
	topic := PresenceTopic(testRoom)
	suite.Require().NoError(ghost.WriteJSON(realtime.Frame{Type: realtime.FrameSubscribe, Topic: topic}))
	suite.Require().NoError(ghost.WriteJSON(realtime.Frame{
		Type:    realtime.FrameTrack,
		Topic:   topic,
		Payload: json.RawMessage(`{"nick":"Ghost","device_id":"dev-ghost","last_seen":"x"}`),
	}))

	suite.eventually(func() bool { return amy.Presence.Count() == 3 }, "看到 Ghost")
	suite.Eventually(func() bool { return amy.Presence.Count() == 2 }, 3*opts.StaleAfter, 10*time.Millisecond, "Ghost 超时移除")

	// 心跳让在线的玩家一直保留
	time.Sleep(3 * opts.StaleAfter)
	users := amy.Presence.Users()
	suite.Require().Len(users, 2)
	suite.Equal("Amy", users[0].Nick)
	suite.Equal("Bob", users[1].Nick)
	suite.Equal(2, bob.Presence.Count())

	mu.Lock()
	suite.Len(joins, 2, "心跳不会重复提示加入")
	mu.Unlock()

	suite.NoError(bob.Leave(suite.ctx))
	suite.NoError(amy.Leave(suite.ctx))
}

func (suite *SessionTestSuite) TestCursorRelay() {
	var mu sync.Mutex
	var ripples []TouchRipple
	amy := suite.join(identity("p1", "Amy", "dev-a"), Options{OnRipple: func(r TouchRipple) {
		mu.Lock()
		ripples = append(ripples, r)
		mu.Unlock()
	}})
	bob := suite.join(identity("p2", "Bob", "dev-b"), Options{})

	bob.MoveCursor(10, 20)
	bob.MoveCursor(30, 40)
	suite.eventually(func() bool {
		c := amy.Cursors.Cursors()
		return len(c) == 1 && c[0].Position.X == 30
	}, "收到最新光标")
	suite.Equal(0, bob.Cursors.Len(), "不会收到自己的光标")

	suite.Require().NoError(bob.Touch(50, 60, TouchTap))
	suite.Error(bob.Touch(50, 60, "poke"))
	suite.eventually(func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(ripples) == 1 && ripples[0].UserID == "p2"
	}, "收到触摸波纹")

	suite.Require().NoError(bob.Leave(suite.ctx))
	suite.eventually(func() bool { return amy.Cursors.Len() == 0 }, "离开后移除光标")
	suite.NoError(amy.Leave(suite.ctx))
}

func (suite *SessionTestSuite) TestStaleCursorPruned() {
	amy := suite.join(identity("p1", "Amy", "dev-a"), Options{
		StaleAfter:    50 * time.Millisecond,
		PruneInterval: 10 * time.Millisecond,
	})
	bob := suite.join(identity("p2", "Bob", "dev-b"), Options{})

	bob.MoveCursor(1, 1)
	suite.eventually(func() bool { return amy.Cursors.Len() == 1 }, "收到光标")
	suite.eventually(func() bool { return amy.Cursors.Len() == 0 }, "超时清理")

	suite.NoError(bob.Leave(suite.ctx))
	suite.NoError(amy.Leave(suite.ctx))
}

func (suite *SessionTestSuite) TestStoreFollowsChanges() {
	amy := suite.join(identity("p1", "Amy", "dev-a"), Options{})

	ends := time.Now().Add(time.Minute)
	suite.hub.PublishChange(testRoom, "rooms", "UPDATE",
		&models.Room{ID: testRoom, Status: models.RoomStatusRunning, RoundNo: 1, RoundEndsAt: &ends}, nil)
	suite.hub.PublishChange(testRoom, "cookies", "INSERT",
		&models.Cookie{ID: "c1", RoomID: testRoom, Value: 1, DespawnAt: time.Now().Add(time.Minute)}, nil)
	suite.hub.PublishChange("other-room", "cookies", "INSERT",
		&models.Cookie{ID: "c9", RoomID: "other-room", Value: 1, DespawnAt: time.Now().Add(time.Minute)}, nil)

	suite.eventually(func() bool { return amy.Store.IsRunning() }, "房间状态")
	suite.eventually(func() bool { return len(amy.Store.ActiveCookies(time.Now())) == 1 }, "新饼干")

	suite.hub.PublishChange(testRoom, "cookies", "DELETE", nil, map[string]string{"id": "c1"})
	suite.eventually(func() bool { return len(amy.Store.Snapshot().Cookies) == 0 }, "删除饼干")

	suite.NoError(amy.Leave(suite.ctx))
}

func (suite *SessionTestSuite) TestJoinWithSnapshotLoadsFirst() {
	conn, err := Dial(suite.ctx, suite.wsURL(), "dev-a", nil)
	suite.Require().NoError(err)
	amy := NewSession(conn, identity("p1", "Amy", "dev-a"), Options{})

	ends := time.Now().Add(time.Minute)
	load := func(ctx context.Context) (Snapshot, error) {
		amy.mu.Lock()
		suite.Empty(amy.topics, "装入快照时还没有订阅")
		amy.mu.Unlock()
		return Snapshot{
			Room:    &models.Room{ID: testRoom, Status: models.RoomStatusRunning, RoundNo: 1, RoundEndsAt: &ends},
			Cookies: []models.Cookie{{ID: "c-old", RoomID: testRoom, Value: 1, DespawnAt: time.Now().Add(time.Minute)}},
		}, nil
	}
	suite.Require().NoError(amy.JoinWithSnapshot(suite.ctx, load))
	suite.True(amy.Store.IsRunning())

	suite.hub.PublishChange(testRoom, "cookies", "INSERT",
		&models.Cookie{ID: "c-new", RoomID: testRoom, Value: 1, DespawnAt: time.Now().Add(time.Minute)}, nil)
	suite.eventually(func() bool { return len(amy.Store.ActiveCookies(time.Now())) == 2 }, "变更叠加在快照上")

	suite.NoError(amy.Leave(suite.ctx))
}

func (suite *SessionTestSuite) TestJoinWithSnapshotLoadError() {
	conn, err := Dial(suite.ctx, suite.wsURL(), "dev-a", nil)
	suite.Require().NoError(err)
	amy := NewSession(conn, identity("p1", "Amy", "dev-a"), Options{})

	err = amy.JoinWithSnapshot(suite.ctx, func(context.Context) (Snapshot, error) {
		return Snapshot{}, errors.New("http 503")
	})
	suite.ErrorContains(err, "http 503")
	suite.Empty(amy.topics)
	suite.NoError(amy.Leave(suite.ctx))
}

func (suite *SessionTestSuite) TestJoinTwiceFails() {
	amy := suite.join(identity("p1", "Amy", "dev-a"), Options{})
	suite.Error(amy.Join(suite.ctx))
	suite.NoError(amy.Leave(suite.ctx))
	suite.NoError(amy.Leave(suite.ctx))
}

func (suite *SessionTestSuite) TestConnPingAndServerError() {
	conn, err := Dial(suite.ctx, suite.wsURL(), "dev-x", nil)
	suite.Require().NoError(err)
	defer conn.Close()

	suite.NoError(conn.Ping(suite.ctx))

	err = conn.Unsubscribe(suite.ctx, "never-subscribed")
	var serverErr *ServerError
	suite.Require().ErrorAs(err, &serverErr)
	suite.Equal("never-subscribed", serverErr.Topic)

	suite.Error(conn.Subscribe(suite.ctx, "", false, nil))

	conn.Close()
	<-conn.Done()
	suite.ErrorIs(conn.Broadcast("t", "e", nil), ErrClosed)
}

func TestSessionSuite(t *testing.T) {
	suite.Run(t, new(SessionTestSuite))
}
