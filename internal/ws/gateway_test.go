package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"groupchat/internal/auth"
	"groupchat/internal/mocks"
	"groupchat/internal/models"
	"groupchat/internal/observability"
	"groupchat/internal/presence"
	"groupchat/internal/rooms"
)

type fakeVerifier map[string]string

func (f fakeVerifier) Verify(token string) (string, error) {
	if id, ok := f[token]; ok {
		return id, nil
	}
	return "", auth.ErrInvalidToken
}

type gatewayFixture struct {
	gateway       *Gateway
	hub           *Hub
	registry      presence.Registry
	users         *mocks.UserRepositoryMock
	conversations *mocks.ConversationRepositoryMock
	messages      *mocks.MessageRepositoryMock
}

func newFixture(t *testing.T) *gatewayFixture {
	t.Helper()
	f := &gatewayFixture{
		hub:           NewHub(rooms.NewTracker()),
		registry:      presence.NewMemoryRegistry(),
		users:         new(mocks.UserRepositoryMock),
		conversations: new(mocks.ConversationRepositoryMock),
		messages:      new(mocks.MessageRepositoryMock),
	}
	f.users.On("GetUser", mock.Anything, "a").Return(models.User{ID: "a", Name: "Alice", Email: "alice@example.com"}, nil).Maybe()
	f.users.On("GetUser", mock.Anything, "b").Return(models.User{ID: "b", Name: "Bob", Email: "bob@example.com"}, nil).Maybe()
	f.gateway = NewGateway(f.hub, fakeVerifier{"tok-a": "a", "tok-b": "b"}, f.registry, f.users, f.conversations, f.messages, time.Second)
	return f
}

func (f *gatewayFixture) connect(userID, connID string) *Client {
	c := newClient(nil, ConnInfo{ConnID: connID, Identity: observability.WSIdentity{UserID: userID}, ConnectedAt: time.Now()})
	f.gateway.connect(context.Background(), c)
	return c
}

func (f *gatewayFixture) emit(c *Client, event string, data any) {
	env, err := models.NewEnvelope(event, data)
	if err != nil {
		panic(err)
	}
	frame, _ := json.Marshal(env)
	f.gateway.dispatch(context.Background(), c, frame)
}

func drain(c *Client) []models.Envelope {
	var out []models.Envelope
	for {
		select {
		case frame, ok := <-c.send:
			if !ok {
				return out
			}
			var env models.Envelope
			if err := json.Unmarshal(frame, &env); err == nil {
				out = append(out, env)
			}
		default:
			return out
		}
	}
}

func named(envs []models.Envelope, event string) []models.Envelope {
	var out []models.Envelope
	for _, env := range envs {
		if env.Event == event {
			out = append(out, env)
		}
	}
	return out
}

func TestRegisterThenOnlineUsers(t *testing.T) {
	f := newFixture(t)
	a := f.connect("a", "ca")
	b := f.connect("b", "cb")

	f.emit(a, models.EventRegister, models.RegisterPayload{ID: "a", Name: "Alice"})
	drain(b)
	f.emit(b, models.EventGetOnlineUsers, nil)

	replies := named(drain(b), models.EventOnlineUsers)
	require.Len(t, replies, 1)
	var users []models.PresencePayload
	require.NoError(t, json.Unmarshal(replies[0].Data, &users))
	assert.Contains(t, users, models.PresencePayload{UserID: "a", Name: "Alice", Email: "alice@example.com", Online: true})
	assert.Empty(t, named(drain(a), models.EventOnlineUsers))
}

func TestRegisterWithForeignIDIsIgnored(t *testing.T) {
	f := newFixture(t)
	a := f.connect("a", "ca")

	f.emit(a, models.EventRegister, models.RegisterPayload{ID: "b", Name: "Mallory"})

	entry, ok, err := f.registry.Get(context.Background(), "a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Alice", entry.Name)
	_, ok, _ = f.registry.Get(context.Background(), "b")
	assert.False(t, ok)
}

func TestUserConnectedBroadcastOnFirstConnection(t *testing.T) {
	f := newFixture(t)
	b := f.connect("b", "cb")
	drain(b)

	f.connect("a", "ca1")
	connected := named(drain(b), models.EventUserConnected)
	require.Len(t, connected, 1)
	assert.JSONEq(t, `{"userId":"a","name":"Alice","email":"alice@example.com","online":true}`, string(connected[0].Data))

	f.connect("a", "ca2")
	assert.Empty(t, named(drain(b), models.EventUserConnected))
}

func TestSendMessageReachesJoinedConnections(t *testing.T) {
	f := newFixture(t)
	created := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	f.conversations.On("IsMember", mock.Anything, "conv1", mock.Anything).Return(true, nil)
	f.messages.On("CreateMessage", mock.Anything, "conv1", "a", "hi", "").
		Return(models.Message{ID: "m1", ConversationID: "conv1", SenderID: "a", Content: "hi", CreatedAt: created}, nil).Once()
	f.messages.On("GetMessage", mock.Anything, "m1").
		Return(models.Message{ID: "m1", ConversationID: "conv1", SenderID: "a", SenderName: "Alice", Content: "hi", CreatedAt: created}, nil)

	a := f.connect("a", "ca")
	b := f.connect("b", "cb")
	f.emit(a, models.EventJoinConversation, "conv1")
	f.emit(b, models.EventJoinConversation, "conv1")
	drain(a)
	drain(b)

	f.emit(a, models.EventSendMessage, models.SendMessagePayload{ConversationID: "conv1", Content: "hi"})

	for _, c := range []*Client{a, b} {
		msgs := named(drain(c), models.EventNewMessage)
		require.Len(t, msgs, 1)
		var got models.MessagePayload
		require.NoError(t, json.Unmarshal(msgs[0].Data, &got))
		assert.Equal(t, models.MessagePayload{
			ID:             "m1",
			ConversationID: "conv1",
			SenderID:       "a",
			SenderName:     "Alice",
			Content:        "hi",
			Timestamp:      "2024-03-01T09:30:00.000Z",
		}, got)
	}
	f.messages.AssertExpectations(t)
}

func TestSendMessageSkipsConnectionsOutsideRoom(t *testing.T) {
	f := newFixture(t)
	f.conversations.On("IsMember", mock.Anything, "conv1", mock.Anything).Return(true, nil)
	f.messages.On("CreateMessage", mock.Anything, "conv1", "a", "hi", "k1").
		Return(models.Message{ID: "m1", ConversationID: "conv1", SenderID: "a", Content: "hi", ClientMessageID: "k1", CreatedAt: time.Now()}, nil)
	f.messages.On("GetMessage", mock.Anything, "m1").Return(models.Message{}, errors.New("lookup failed"))

	a := f.connect("a", "ca")
	b := f.connect("b", "cb")
	f.emit(a, models.EventJoinConversation, map[string]string{"conversationId": "conv1"})
	drain(a)
	drain(b)

	f.emit(a, models.EventSendMessage, models.SendMessagePayload{ConversationID: "conv1", Content: "hi", ClientMessageID: "k1"})

	msgs := named(drain(a), models.EventNewMessage)
	require.Len(t, msgs, 1)
	var got models.MessagePayload
	require.NoError(t, json.Unmarshal(msgs[0].Data, &got))
	assert.Equal(t, "k1", got.ClientMessageID)
	assert.Equal(t, "Alice", got.SenderName)
	assert.Empty(t, drain(b))
}

func TestJoinTwiceDeliversOnce(t *testing.T) {
	f := newFixture(t)
	f.hub.Register(newClient(nil, ConnInfo{ConnID: "ca", Identity: observability.WSIdentity{UserID: "a"}}))
	c := f.hub.clients["ca"]

	f.hub.Join("ca", "conv1")
	f.hub.Join("ca", "conv1")
	require.NoError(t, f.hub.Broadcast(context.Background(), "conv1", "", models.EventNewMessage, map[string]string{"content": "x"}))

	assert.Len(t, drain(c), 1)
}

func TestJoinRequiresMembership(t *testing.T) {
	f := newFixture(t)
	f.conversations.On("IsMember", mock.Anything, "conv2", "a").Return(false, nil)
	a := f.connect("a", "ca")

	f.emit(a, models.EventJoinConversation, "conv2")

	assert.NotContains(t, f.hub.Rooms("ca"), "conv2")
}

func TestJoinAcceptsNumericID(t *testing.T) {
	f := newFixture(t)
	f.conversations.On("IsMember", mock.Anything, "42", "a").Return(true, nil)
	a := f.connect("a", "ca")

	f.emit(a, models.EventJoinConversation, 42)

	assert.Contains(t, f.hub.Rooms("ca"), "42")
}

func TestSendMessageFromNonMemberIsDropped(t *testing.T) {
	f := newFixture(t)
	f.conversations.On("IsMember", mock.Anything, "conv1", "a").Return(false, nil)
	a := f.connect("a", "ca")
	drain(a)

	f.emit(a, models.EventSendMessage, models.SendMessagePayload{ConversationID: "conv1", Content: "hi"})

	f.messages.AssertNotCalled(t, "CreateMessage", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	assert.Empty(t, drain(a))
}

func TestInvalidSendMessageIsDropped(t *testing.T) {
	f := newFixture(t)
	a := f.connect("a", "ca")
	drain(a)

	f.emit(a, models.EventSendMessage, map[string]string{"conversationId": "conv1"})
	f.emit(a, models.EventSendMessage, map[string]string{"content": "hi"})

	f.conversations.AssertNotCalled(t, "IsMember", mock.Anything, mock.Anything, mock.Anything)
	assert.Empty(t, drain(a))
}

func TestPersistenceFailureNotifiesSenderOnly(t *testing.T) {
	f := newFixture(t)
	f.conversations.On("IsMember", mock.Anything, "conv1", mock.Anything).Return(true, nil)
	f.messages.On("CreateMessage", mock.Anything, "conv1", "a", "hi", "k9").Return(nil, errors.New("db down"))

	a := f.connect("a", "ca")
	b := f.connect("b", "cb")
	f.emit(a, models.EventJoinConversation, "conv1")
	f.emit(b, models.EventJoinConversation, "conv1")
	drain(a)
	drain(b)

	f.emit(a, models.EventSendMessage, models.SendMessagePayload{ConversationID: "conv1", Content: "hi", ClientMessageID: "k9"})

	gotA := drain(a)
	assert.Empty(t, named(gotA, models.EventNewMessage))
	failed := named(gotA, models.EventMessageFailed)
	require.Len(t, failed, 1)
	assert.JSONEq(t, `{"conversationId":"conv1","clientMessageId":"k9","error":"message could not be saved"}`, string(failed[0].Data))
	assert.Empty(t, drain(b))
}

func TestTypingExcludesSender(t *testing.T) {
	f := newFixture(t)
	f.conversations.On("IsMember", mock.Anything, "conv1", mock.Anything).Return(true, nil)
	a := f.connect("a", "ca")
	b := f.connect("b", "cb")
	f.emit(a, models.EventJoinConversation, "conv1")
	f.emit(b, models.EventJoinConversation, "conv1")
	drain(a)
	drain(b)

	f.emit(a, models.EventTyping, map[string]string{"conversationId": "conv1"})

	assert.Empty(t, drain(a))
	typing := named(drain(b), models.EventUserTyping)
	require.Len(t, typing, 1)
	assert.JSONEq(t, `{"userId":"a","userName":"Alice","conversationId":"conv1"}`, string(typing[0].Data))
}

func TestDisconnectBroadcastsAndCleansUp(t *testing.T) {
	f := newFixture(t)
	f.conversations.On("IsMember", mock.Anything, "conv1", mock.Anything).Return(true, nil)
	a := f.connect("a", "ca")
	b := f.connect("b", "cb")
	f.emit(a, models.EventJoinConversation, "conv1")
	drain(b)

	f.gateway.disconnect(context.Background(), a, "")

	gone := named(drain(b), models.EventUserDisconnected)
	require.Len(t, gone, 1)
	assert.JSONEq(t, `{"userId":"a","online":false}`, string(gone[0].Data))

	entry, ok, err := f.registry.Get(context.Background(), "a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.False(t, entry.Online)
	online, err := f.registry.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, online, 1)

	assert.Empty(t, f.hub.Rooms("ca"))
	require.NoError(t, f.hub.NotifyRoom(context.Background(), "conv1", models.EventNewMessage, nil))
	assert.Empty(t, drain(b))
}

func TestSecondConnectionKeepsUserOnline(t *testing.T) {
	f := newFixture(t)
	a1 := f.connect("a", "ca1")
	f.connect("a", "ca2")
	b := f.connect("b", "cb")
	drain(b)

	f.gateway.disconnect(context.Background(), a1, "")

	assert.Empty(t, named(drain(b), models.EventUserDisconnected))
	entry, _, err := f.registry.Get(context.Background(), "a")
	require.NoError(t, err)
	assert.True(t, entry.Online)
}

func TestInviteReachesOnlyPersonalRoom(t *testing.T) {
	f := newFixture(t)
	a := f.connect("a", "ca")
	b1 := f.connect("b", "cb1")
	b2 := f.connect("b", "cb2")
	drain(a)
	drain(b1)
	drain(b2)

	require.NoError(t, f.hub.NotifyUser(context.Background(), "b", models.EventGroupInvite, models.InvitePayload{
		InvitationID:     "inv1",
		ConversationID:   "conv1",
		ConversationName: "Team",
		InviterName:      "Alice",
	}))

	assert.Empty(t, drain(a))
	for _, c := range []*Client{b1, b2} {
		invites := named(drain(c), models.EventGroupInvite)
		require.Len(t, invites, 1)
		assert.JSONEq(t, `{"invitationId":"inv1","conversationId":"conv1","conversationName":"Team","inviterName":"Alice"}`, string(invites[0].Data))
	}
}

func TestSlowClientIsDropped(t *testing.T) {
	hub := NewHub(nil)
	c := newClient(nil, ConnInfo{ConnID: "c1", Identity: observability.WSIdentity{UserID: "a"}})
	hub.Register(c)
	hub.Join("c1", "conv1")

	for i := 0; i < sendQueueSize+1; i++ {
		require.NoError(t, hub.NotifyRoom(context.Background(), "conv1", models.EventUserTyping, nil))
	}

	assert.True(t, c.isClosed())
	assert.Len(t, drain(c), sendQueueSize)
}

func TestConversationIDFrom(t *testing.T) {
	cases := map[string]string{
		`"conv1"`:                    "conv1",
		`42`:                         "42",
		`{"conversationId":"conv1"}`: "conv1",
		`{"conversationId":7}`:       "7",
	}
	for raw, want := range cases {
		got, err := conversationIDFrom(json.RawMessage(raw))
		require.NoError(t, err, raw)
		assert.Equal(t, want, got)
	}

	for _, raw := range []string{``, `null`, `""`, `{}`, `true`, `{"conversationId":{"x":1}}`} {
		_, err := conversationIDFrom(json.RawMessage(raw))
		assert.ErrorIs(t, err, ErrInvalidPayload, raw)
	}
}

func TestTokenFromRequest(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/ws?token=q", nil)
	assert.Equal(t, "q", tokenFromRequest(req))

	req.Header.Set("Authorization", "Bearer h")
	assert.Equal(t, "h", tokenFromRequest(req))

	req.Header.Set("Authorization", "Basic h")
	assert.Equal(t, "", tokenFromRequest(req))
}

func TestHandshake(t *testing.T) {
	gin.SetMode(gin.TestMode)
	f := newFixture(t)
	r := gin.New()
	r.GET("/ws", f.gateway.Handle)
	srv := httptest.NewServer(r)
	defer srv.Close()
	base := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	t.Run("rejects bad token", func(t *testing.T) {
		_, resp, err := websocket.DefaultDialer.Dial(base+"?token=nope", nil)
		require.Error(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("exchanges events", func(t *testing.T) {
		conn, _, err := websocket.DefaultDialer.Dial(base+"?token=tok-a", nil)
		require.NoError(t, err)
		defer conn.Close()

		require.NoError(t, conn.WriteJSON(models.Envelope{Event: models.EventGetOnlineUsers}))

		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		for {
			var env models.Envelope
			require.NoError(t, conn.ReadJSON(&env))
			if env.Event != models.EventOnlineUsers {
				continue
			}
			var users []models.PresencePayload
			require.NoError(t, json.Unmarshal(env.Data, &users))
			assert.Equal(t, []models.PresencePayload{{UserID: "a", Name: "Alice", Email: "alice@example.com", Online: true}}, users)
			return
		}
	})
}
