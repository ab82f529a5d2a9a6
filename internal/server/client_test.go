package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-chatrelay/internal/cache"
	"github.com/npezzotti/go-chatrelay/internal/codec"
	"github.com/npezzotti/go-chatrelay/internal/database"
	"github.com/npezzotti/go-chatrelay/internal/session"
	"github.com/npezzotti/go-chatrelay/internal/testutil"
	"github.com/npezzotti/go-chatrelay/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockEngine struct {
	mock.Mock
}

func (m *mockEngine) AppendMessage(ctx context.Context, origin session.Origin, roomId, senderId, content string, attachments []types.Attachment) session.Outcome {
	args := m.Called(ctx, origin, roomId, senderId, content, attachments)
	return args.Get(0).(session.Outcome)
}

func (m *mockEngine) JoinRoom(ctx context.Context, origin session.Origin, roomId, participantId string, role types.Role) session.Outcome {
	args := m.Called(ctx, origin, roomId, participantId, role)
	return args.Get(0).(session.Outcome)
}

func (m *mockEngine) LeaveRoom(ctx context.Context, origin session.Origin, roomId, participantId string, role types.Role) session.Outcome {
	args := m.Called(ctx, origin, roomId, participantId, role)
	return args.Get(0).(session.Outcome)
}

func (m *mockEngine) Typing(ctx context.Context, origin session.Origin, roomId, participantId string) session.Outcome {
	args := m.Called(ctx, origin, roomId, participantId)
	return args.Get(0).(session.Outcome)
}

func Test_queueMessage(t *testing.T) {
	t.Run("successful queue", func(t *testing.T) {
		c := &Client{
			send: make(chan *ServerMessage, 1),
			log:  testutil.TestLogger(t),
		}

		res := c.queueMessage(&ServerMessage{})
		assert.True(t, res, "expected queueMessage to return true when channel is not full")
		assert.Len(t, c.send, 1)
	})

	t.Run("channel full", func(t *testing.T) {
		c := &Client{
			send: make(chan *ServerMessage, 1),
			log:  testutil.TestLogger(t),
		}

		c.send <- &ServerMessage{}
		res := c.queueMessage(&ServerMessage{})
		assert.False(t, res, "expected queueMessage to return false when channel is full")
	})
}

func Test_stopClient(t *testing.T) {
	c := &Client{stop: make(chan struct{})}

	c.stopClient()
	c.stopClient()

	select {
	case <-c.stop:
	default:
		t.Error("expected stop channel to be closed")
	}
}

func Test_dispatch(t *testing.T) {
	ctx := context.Background()

	t.Run("routes events with origin payload", func(t *testing.T) {
		eng := &mockEngine{}
		defer eng.AssertExpectations(t)

		c := newTestClient(t, "c1", newTestChatServer(t))
		c.engine = eng

		raw := `{"event":"join_room","data":{"room":"doc1_cli1","username":"doc1","accountType":"doctor"}}`
		msg, body, err := DecodeEvent([]byte(raw))
		require.NoError(t, err)

		eng.On("JoinRoom", ctx, session.Origin{ConnId: "c1", Payload: msg.Data}, "doc1_cli1", "doc1", types.RoleInitiator).
			Return(session.Outcome{Directive: &session.Directive{}}).Once()

		c.dispatch(ctx, msg, body)
		assert.Len(t, c.send, 0, "expected no reply on success")
	})

	t.Run("rejection goes to originator", func(t *testing.T) {
		eng := &mockEngine{}
		defer eng.AssertExpectations(t)

		c := newTestClient(t, "c1", newTestChatServer(t))
		c.engine = eng

		msg, body, err := DecodeEvent([]byte(`{"event":"typing","data":{"room":"nope","username":"cli1"}}`))
		require.NoError(t, err)

		se := &session.Error{Kind: session.ErrRoomNotFound, Message: "room does not exist", StatusCode: http.StatusNotFound}
		eng.On("Typing", ctx, mock.Anything, "nope", "cli1").Return(session.Outcome{Err: se}).Once()

		c.dispatch(ctx, msg, body)
		require.Len(t, c.send, 1)

		reply := <-c.send
		assert.Equal(t, EventError, reply.Event)
		assert.Equal(t, "ROOM_NOT_FOUND", reply.Error.Code)
		assert.Equal(t, session.SourceTyping, reply.Error.Source)
	})

	t.Run("send message passes attachments", func(t *testing.T) {
		eng := &mockEngine{}
		defer eng.AssertExpectations(t)

		c := newTestClient(t, "c1", newTestChatServer(t))
		c.engine = eng

		raw := `{"event":"send_message","data":{"room":"r","username":"u","message":"m","isFile":[{"type":"image/png","url":"https://x.io/a.png"}]}}`
		msg, body, err := DecodeEvent([]byte(raw))
		require.NoError(t, err)

		eng.On("AppendMessage", ctx, mock.Anything, "r", "u", "m",
			[]types.Attachment{{ContentType: "image/png", URL: "https://x.io/a.png"}}).
			Return(session.Outcome{}).Once()

		c.dispatch(ctx, msg, body)
	})
}

// startRelay runs a websocket endpoint backed by a real engine over an
// in-memory store.
func startRelay(t *testing.T) (*httptest.Server, *session.Engine) {
	t.Helper()
	logger := testutil.TestLogger(t)

	store, err := database.NewBadgerRoomStore("")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	cs := newTestChatServer(t)
	engine, err := session.NewEngine(session.Options{
		Cache:  cache.NewRoomCache(logger, 0),
		Store:  store,
		Codec:  codec.Identity{},
		Fanout: cs,
		Logger: logger,
	})
	require.NoError(t, err)

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		c, err := NewClient(conn, cs, engine, logger)
		if err != nil {
			conn.Close()
			return
		}
		if err := cs.RegisterClient(c); err != nil {
			conn.Close()
			return
		}
		go c.Write()
		go c.Read()
	}))
	t.Cleanup(func() {
		srv.Close()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		cs.Shutdown(ctx)
	})

	return srv, engine
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
	Error *ErrorDetail    `json:"error"`
}

// readUntil returns the first frame with the given event.
func readUntil(t *testing.T, conn *websocket.Conn, event string) frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var f frame
		require.NoError(t, conn.ReadJSON(&f), "waiting for %s", event)
		if f.Event == event {
			return f
		}
	}
}

func TestRelayEndToEnd(t *testing.T) {
	srv, engine := startRelay(t)
	_, _, err := engine.CreateRoom(context.Background(), "doc1", "cli1")
	require.NoError(t, err)

	doc := dial(t, srv)
	cli := dial(t, srv)

	require.NoError(t, doc.WriteJSON(map[string]any{
		"event": "join_room",
		"data":  map[string]string{"room": "doc1_cli1", "username": "doc1", "accountType": "doctor"},
	}))
	readUntil(t, doc, session.EventJoinAnnouncement)

	require.NoError(t, cli.WriteJSON(map[string]any{
		"event": "join_room",
		"data":  map[string]string{"room": "doc1_cli1", "username": "cli1", "accountType": "client"},
	}))
	readUntil(t, cli, session.EventJoinAnnouncement)
	readUntil(t, doc, session.EventJoinAnnouncement)

	sent := `{"room":"doc1_cli1","username":"cli1","message":"hello"}`
	require.NoError(t, cli.WriteMessage(websocket.TextMessage, []byte(`{"event":"send_message","data":`+sent+`}`)))

	for _, conn := range []*websocket.Conn{doc, cli} {
		f := readUntil(t, conn, session.EventReceiveMessage)
		assert.JSONEq(t, sent, string(f.Data))
	}

	require.NoError(t, cli.WriteJSON(map[string]any{
		"event": "join_room",
		"data":  map[string]string{"room": "doc1_cli1", "username": "cli1", "accountType": "doctor"},
	}))
	f := readUntil(t, cli, EventError)
	require.NotNil(t, f.Error)
	assert.Equal(t, "ROOM_ID_MISMATCH", f.Error.Code)
	assert.Equal(t, session.SourceJoinRoom, f.Error.Source)

	require.NoError(t, doc.WriteJSON(map[string]any{
		"event": "typing",
		"data":  map[string]string{"room": "doc1_cli1", "username": "doc1"},
	}))
	// The mismatch error went to cli only, so doc's next frame is the typing
	// indicator.
	doc.SetReadDeadline(time.Now().Add(2 * time.Second))
	var next frame
	require.NoError(t, doc.ReadJSON(&next))
	assert.Equal(t, session.EventPersonTyping, next.Event)
	readUntil(t, cli, session.EventPersonTyping)

	room, err := engine.History(context.Background(), "doc1_cli1", 0)
	require.NoError(t, err)
	require.Len(t, room.Messages, 1)
	assert.Equal(t, "hello", room.Messages[0].Content)
	assert.Len(t, room.History, 2)
}

func TestRelayRejectsMalformedFrames(t *testing.T) {
	srv, _ := startRelay(t)
	conn := dial(t, srv)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"send_message","data":`)))
	f := readUntil(t, conn, EventError)
	assert.Equal(t, "VALIDATION_ERROR", f.Error.Code)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"send_message","data":{"room":"missing","username":"u","message":"m"}}`)))
	f = readUntil(t, conn, EventError)
	assert.Equal(t, "ROOM_NOT_FOUND", f.Error.Code)
	assert.Equal(t, session.SourceSendMessage, f.Error.Source)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"typing","data":{"room":"missing"}}`)))
	f = readUntil(t, conn, EventError)
	assert.Equal(t, "VALIDATION_ERROR", f.Error.Code)
	assert.Equal(t, session.SourceTyping, f.Error.Source)
}
