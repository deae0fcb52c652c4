package client

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"groupchat/internal/models"
)

var (
	ErrNotConnected = errors.New("session is not connected")
	ErrUnauthorized = errors.New("handshake rejected: unauthorized")
	ErrClosed       = errors.New("session closed")
)

const writeWait = 10 * time.Second

// State is the connection state of a Session.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// Option configures a Session.
type Option func(*Session)

// WithDialer overrides the websocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(s *Session) { s.dialer = d }
}

// WithBackoff sets the reconnect policy. The factory is called once per outage.
func WithBackoff(newBackoff func() backoff.BackOff) Option {
	return func(s *Session) { s.newBackoff = newBackoff }
}

type subscriber struct {
	id int
	fn func(json.RawMessage)
}

// Session is a realtime connection to the gateway that survives reconnects.
// Joined conversations are remembered and joined again after every reconnect.
type Session struct {
	url        string
	token      string
	dialer     *websocket.Dialer
	newBackoff func() backoff.BackOff
	outbox     *Outbox

	mu     sync.Mutex
	state  State
	conn   *websocket.Conn
	rooms  map[string]struct{}
	closed bool
	cancel context.CancelFunc

	writeMu sync.Mutex

	subMu     sync.RWMutex
	subs      map[string][]subscriber
	stateSubs []func(State)
	nextSubID int
}

// New creates a disconnected session for the gateway at url (ws://host/ws).
func New(url, token string, opts ...Option) *Session {
	s := &Session{
		url:    url,
		token:  token,
		dialer: websocket.DefaultDialer,
		newBackoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			b.MaxInterval = 30 * time.Second
			b.MaxElapsedTime = 0
			return b
		},
		outbox: NewOutbox(),
		rooms:  make(map[string]struct{}),
		subs:   make(map[string][]subscriber),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Connect dials the gateway. ctx bounds the whole session including reconnects.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	if err := s.dial(ctx); err != nil {
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			return perm.Err
		}
		return err
	}
	return nil
}

// Close stops reconnecting and closes the socket.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	conn := s.conn
	s.conn = nil
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		s.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		s.writeMu.Unlock()
		return conn.Close()
	}
	return nil
}

// State returns the current connection state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Rooms returns the remembered conversation ids, sorted.
func (s *Session) Rooms() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roomList()
}

// Outbox exposes optimistic messages still awaiting the server echo.
func (s *Session) Outbox() *Outbox {
	return s.outbox
}

// Register updates the display info the gateway shows for this user.
func (s *Session) Register(userID, name, email string) error {
	return s.emit(models.EventRegister, models.RegisterPayload{ID: userID, Name: name, Email: email})
}

// RequestOnlineUsers asks for an online_users snapshot.
func (s *Session) RequestOnlineUsers() error {
	return s.emit(models.EventGetOnlineUsers, nil)
}

// JoinConversation remembers the conversation and joins it now when connected.
func (s *Session) JoinConversation(conversationID string) error {
	s.mu.Lock()
	s.rooms[conversationID] = struct{}{}
	connected := s.state == StateConnected
	s.mu.Unlock()
	if !connected {
		return nil
	}
	return s.emit(models.EventJoinConversation, conversationID)
}

// Typing announces that the user is typing in a conversation.
func (s *Session) Typing(conversationID string) error {
	return s.emit(models.EventTyping, conversationID)
}

// SendMessage sends content with a fresh client message id and records it in the outbox.
func (s *Session) SendMessage(conversationID, content string) (string, error) {
	clientMessageID := uuid.NewString()
	s.outbox.Add(PendingMessage{
		ClientMessageID: clientMessageID,
		ConversationID:  conversationID,
		Content:         content,
		CreatedAt:       time.Now(),
	})
	err := s.emit(models.EventSendMessage, models.SendMessagePayload{
		ConversationID:  conversationID,
		Content:         content,
		ClientMessageID: clientMessageID,
	})
	if err != nil {
		s.outbox.Fail(clientMessageID)
	}
	return clientMessageID, err
}

func (s *Session) OnNewMessage(fn func(models.MessagePayload)) func() {
	return subscribe(s, models.EventNewMessage, fn)
}

func (s *Session) OnMessageFailed(fn func(models.MessageFailedPayload)) func() {
	return subscribe(s, models.EventMessageFailed, fn)
}

func (s *Session) OnUserTyping(fn func(models.TypingPayload)) func() {
	return subscribe(s, models.EventUserTyping, fn)
}

func (s *Session) OnOnlineUsers(fn func([]models.PresencePayload)) func() {
	return subscribe(s, models.EventOnlineUsers, fn)
}

func (s *Session) OnUserConnected(fn func(models.PresencePayload)) func() {
	return subscribe(s, models.EventUserConnected, fn)
}

func (s *Session) OnUserDisconnected(fn func(models.DisconnectedPayload)) func() {
	return subscribe(s, models.EventUserDisconnected, fn)
}

func (s *Session) OnInvite(fn func(models.InvitePayload)) func() {
	return subscribe(s, models.EventGroupInvite, fn)
}

func (s *Session) OnMemberAdded(fn func(models.MemberAddedPayload)) func() {
	return subscribe(s, models.EventMemberAdded, fn)
}

func (s *Session) OnNotification(fn func(models.NotificationPayload)) func() {
	return subscribe(s, models.EventNotification, fn)
}

// OnStateChange registers fn for every state transition.
func (s *Session) OnStateChange(fn func(State)) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	s.stateSubs = append(s.stateSubs, fn)
}

func subscribe[T any](s *Session, event string, fn func(T)) func() {
	return s.on(event, func(data json.RawMessage) {
		var v T
		if err := json.Unmarshal(data, &v); err != nil {
			log.Printf("client: decode %s: %v", event, err)
			return
		}
		fn(v)
	})
}

func (s *Session) on(event string, fn func(json.RawMessage)) func() {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	s.nextSubID++
	id := s.nextSubID
	s.subs[event] = append(s.subs[event], subscriber{id: id, fn: fn})

	return func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		list := s.subs[event]
		for i, sub := range list {
			if sub.id == id {
				s.subs[event] = append(list[:i:i], list[i+1:]...)
				return
			}
		}
	}
}

func (s *Session) dial(ctx context.Context) error {
	s.setState(StateConnecting)

	header := http.Header{}
	header.Set("Authorization", "Bearer "+s.token)
	conn, resp, err := s.dialer.DialContext(ctx, s.url, header)
	if err != nil {
		s.setState(StateDisconnected)
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return backoff.Permanent(ErrUnauthorized)
		}
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		return backoff.Permanent(ErrClosed)
	}
	// a join after this point sees StateConnected and emits on its own
	s.conn = conn
	rooms := s.roomList()
	changed := s.state != StateConnected
	s.state = StateConnected
	s.mu.Unlock()

	if changed {
		s.notifyState(StateConnected)
	}
	for _, room := range rooms {
		if err := s.emit(models.EventJoinConversation, room); err != nil {
			log.Printf("client: rejoin %s failed: %v", room, err)
		}
	}

	go s.readLoop(ctx, conn)
	return nil
}

func (s *Session) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		s.dispatch(data)
	}

	s.mu.Lock()
	if s.conn == conn {
		s.conn = nil
	}
	closed := s.closed
	s.mu.Unlock()
	s.setState(StateDisconnected)

	if closed || ctx.Err() != nil {
		return
	}
	s.reconnect(ctx)
}

func (s *Session) reconnect(ctx context.Context) {
	b := backoff.WithContext(s.newBackoff(), ctx)
	err := backoff.RetryNotify(func() error {
		return s.dial(ctx)
	}, b, func(err error, wait time.Duration) {
		log.Printf("client: reconnect failed, retrying in %s: %v", wait, err)
	})
	if err != nil && !errors.Is(err, ErrClosed) {
		log.Printf("client: giving up reconnect: %v", err)
	}
}

func (s *Session) dispatch(data []byte) {
	var env models.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Printf("client: malformed frame: %v", err)
		return
	}

	switch env.Event {
	case models.EventNewMessage:
		var p models.MessagePayload
		if err := json.Unmarshal(env.Data, &p); err == nil && p.ClientMessageID != "" {
			s.outbox.Resolve(p.ClientMessageID)
		}
	case models.EventMessageFailed:
		var p models.MessageFailedPayload
		if err := json.Unmarshal(env.Data, &p); err == nil && p.ClientMessageID != "" {
			s.outbox.Fail(p.ClientMessageID)
		}
	}

	s.subMu.RLock()
	handlers := append([]subscriber(nil), s.subs[env.Event]...)
	s.subMu.RUnlock()
	for _, h := range handlers {
		h.fn(env.Data)
	}
}

func (s *Session) emit(event string, payload any) error {
	env, err := models.NewEnvelope(event, payload)
	if err != nil {
		return err
	}
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(env)
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	if s.state == state {
		s.mu.Unlock()
		return
	}
	s.state = state
	s.mu.Unlock()
	s.notifyState(state)
}

func (s *Session) notifyState(state State) {
	s.subMu.RLock()
	subs := append(([]func(State))(nil), s.stateSubs...)
	s.subMu.RUnlock()
	for _, fn := range subs {
		fn(state)
	}
}

func (s *Session) roomList() []string {
	out := make([]string, 0, len(s.rooms))
	for room := range s.rooms {
		out = append(out, room)
	}
	sort.Strings(out)
	return out
}
