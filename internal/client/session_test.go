package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"groupchat/internal/auth"
	"groupchat/internal/mocks"
	"groupchat/internal/models"
	"groupchat/internal/presence"
	"groupchat/internal/repositories"
	"groupchat/internal/rooms"
	"groupchat/internal/ws"
)

type staticVerifier map[string]string

func (v staticVerifier) Verify(token string) (string, error) {
	if id, ok := v[token]; ok {
		return id, nil
	}
	return "", auth.ErrInvalidToken
}

// memoryMessages stores messages in memory and echoes client message ids.
type memoryMessages struct {
	mu   sync.Mutex
	msgs []models.Message
	fail bool
}

var _ repositories.MessageRepository = (*memoryMessages)(nil)

func (m *memoryMessages) CreateMessage(_ context.Context, conversationID, senderID, content, clientMessageID string) (models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return models.Message{}, errors.New("db down")
	}
	msg := models.Message{
		ID:              fmt.Sprintf("m%d", len(m.msgs)+1),
		ConversationID:  conversationID,
		SenderID:        senderID,
		Content:         content,
		ClientMessageID: clientMessageID,
		CreatedAt:       time.Now(),
	}
	m.msgs = append(m.msgs, msg)
	return msg, nil
}

func (m *memoryMessages) GetMessage(_ context.Context, id string) (models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range m.msgs {
		if msg.ID == id {
			return msg, nil
		}
	}
	return models.Message{}, repositories.ErrMessageNotFound
}

func (m *memoryMessages) ListMessages(context.Context, string) ([]models.Message, error) {
	return nil, nil
}

func (m *memoryMessages) LastMessage(context.Context, string) (models.Message, error) {
	return models.Message{}, repositories.ErrMessageNotFound
}

func (m *memoryMessages) CountMessages(context.Context, string) (int, error) {
	return 0, nil
}

// trackingListener remembers accepted connections so tests can sever them.
type trackingListener struct {
	net.Listener
	mu    sync.Mutex
	conns []net.Conn
}

func (l *trackingListener) Accept() (net.Conn, error) {
	conn, err := l.Listener.Accept()
	if err == nil {
		l.mu.Lock()
		l.conns = append(l.conns, conn)
		l.mu.Unlock()
	}
	return conn, err
}

func (l *trackingListener) dropAll() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, conn := range l.conns {
		conn.Close()
	}
	l.conns = nil
}

type serverFixture struct {
	url      string
	tracker  *rooms.Tracker
	messages *memoryMessages
	listener *trackingListener
}

func newServer(t *testing.T) *serverFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	users := new(mocks.UserRepositoryMock)
	users.On("GetUser", mock.Anything, "a").Return(models.User{ID: "a", Name: "Alice", Email: "alice@example.com"}, nil).Maybe()
	users.On("GetUser", mock.Anything, "b").Return(models.User{ID: "b", Name: "Bob", Email: "bob@example.com"}, nil).Maybe()
	conversations := new(mocks.ConversationRepositoryMock)
	conversations.On("IsMember", mock.Anything, mock.Anything, mock.Anything).Return(true, nil).Maybe()

	f := &serverFixture{tracker: rooms.NewTracker(), messages: &memoryMessages{}}
	hub := ws.NewHub(f.tracker)
	gateway := ws.NewGateway(hub, staticVerifier{"tok-a": "a", "tok-b": "b"}, presence.NewMemoryRegistry(), users, conversations, f.messages, time.Second)

	r := gin.New()
	r.GET("/ws", gateway.Handle)
	srv := httptest.NewUnstartedServer(r)
	f.listener = &trackingListener{Listener: srv.Listener}
	srv.Listener = f.listener
	srv.Start()
	t.Cleanup(srv.Close)

	f.url = "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	return f
}

func fastBackoff() backoff.BackOff {
	return backoff.NewConstantBackOff(20 * time.Millisecond)
}

func connectSession(t *testing.T, f *serverFixture, token string) *Session {
	t.Helper()
	s := New(f.url, token, WithBackoff(fastBackoff))
	require.NoError(t, s.Connect(context.Background()))
	t.Cleanup(func() { s.Close() })
	assert.Equal(t, StateConnected, s.State())
	return s
}

func TestConnectRejectsBadToken(t *testing.T) {
	f := newServer(t)
	s := New(f.url, "nope", WithBackoff(fastBackoff))
	err := s.Connect(context.Background())
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, StateDisconnected, s.State())
}

func TestSendMessageResolvesOutbox(t *testing.T) {
	f := newServer(t)
	alice := connectSession(t, f, "tok-a")
	bob := connectSession(t, f, "tok-b")

	received := make(chan models.MessagePayload, 1)
	bob.OnNewMessage(func(p models.MessagePayload) { received <- p })
	echoed := make(chan models.MessagePayload, 1)
	alice.OnNewMessage(func(p models.MessagePayload) { echoed <- p })

	require.NoError(t, alice.JoinConversation("conv1"))
	require.NoError(t, bob.JoinConversation("conv1"))
	require.Eventually(t, func() bool { return f.tracker.Count("conv1") == 2 }, 2*time.Second, 10*time.Millisecond)

	id, err := alice.SendMessage("conv1", "hello")
	require.NoError(t, err)

	select {
	case p := <-received:
		assert.Equal(t, "hello", p.Content)
		assert.Equal(t, "a", p.SenderID)
		assert.Equal(t, "Alice", p.SenderName)
	case <-time.After(2 * time.Second):
		t.Fatal("bob did not receive the message")
	}
	select {
	case p := <-echoed:
		assert.Equal(t, id, p.ClientMessageID)
	case <-time.After(2 * time.Second):
		t.Fatal("alice did not receive the echo")
	}
	assert.Empty(t, alice.Outbox().Pending("conv1"))
}

func TestFailedSendStaysInOutbox(t *testing.T) {
	f := newServer(t)
	f.messages.fail = true
	alice := connectSession(t, f, "tok-a")

	failed := make(chan models.MessageFailedPayload, 1)
	alice.OnMessageFailed(func(p models.MessageFailedPayload) { failed <- p })
	require.NoError(t, alice.JoinConversation("conv1"))

	id, err := alice.SendMessage("conv1", "hello")
	require.NoError(t, err)

	select {
	case p := <-failed:
		assert.Equal(t, id, p.ClientMessageID)
	case <-time.After(2 * time.Second):
		t.Fatal("no message_failed")
	}
	pending := alice.Outbox().Pending("conv1")
	require.Len(t, pending, 1)
	assert.True(t, pending[0].Failed)
}

func TestSendWhileDisconnected(t *testing.T) {
	s := New("ws://127.0.0.1:1/ws", "tok")
	id, err := s.SendMessage("conv1", "hi")
	assert.ErrorIs(t, err, ErrNotConnected)
	pending := s.Outbox().Pending("conv1")
	require.Len(t, pending, 1)
	assert.Equal(t, id, pending[0].ClientMessageID)
	assert.True(t, pending[0].Failed)

	require.NoError(t, s.JoinConversation("conv9"))
	assert.Equal(t, []string{"conv9"}, s.Rooms())
}

func TestReconnectRejoinsRooms(t *testing.T) {
	f := newServer(t)
	alice := connectSession(t, f, "tok-a")

	var mu sync.Mutex
	var states []State
	alice.OnStateChange(func(s State) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	})

	require.NoError(t, alice.JoinConversation("conv1"))
	require.Eventually(t, func() bool { return f.tracker.Count("conv1") == 1 }, 2*time.Second, 10*time.Millisecond)

	f.listener.dropAll()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(states) >= 2 && states[len(states)-1] == StateConnected
	}, 3*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return f.tracker.Count("conv1") == 1 }, 3*time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.Equal(t, StateDisconnected, states[0])
	mu.Unlock()
}

func TestJoinsDuringReconnectAreKept(t *testing.T) {
	f := newServer(t)
	alice := connectSession(t, f, "tok-a")

	f.listener.dropAll()

	joined := make([]string, 0, 30)
	for i := 0; i < 30; i++ {
		room := fmt.Sprintf("room%d", i)
		joined = append(joined, room)
		// a join racing the dead socket may fail; the room is still remembered
		_ = alice.JoinConversation(room)
		time.Sleep(5 * time.Millisecond)
	}

	require.Eventually(t, func() bool { return alice.State() == StateConnected }, 3*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		for _, room := range joined {
			if f.tracker.Count(room) != 1 {
				return false
			}
		}
		return true
	}, 3*time.Second, 10*time.Millisecond)
	assert.ElementsMatch(t, joined, alice.Rooms())
}

func TestUnsubscribe(t *testing.T) {
	s := New("ws://unused", "tok")
	calls := 0
	stop := s.OnUserTyping(func(models.TypingPayload) { calls++ })
	frame := []byte(`{"event":"user_typing","data":{"userId":"b","userName":"Bob","conversationId":"conv1"}}`)

	s.dispatch(frame)
	stop()
	s.dispatch(frame)
	assert.Equal(t, 1, calls)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "disconnected", StateDisconnected.String())
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "connected", StateConnected.String())
	assert.Equal(t, "unknown", State(9).String())
}
