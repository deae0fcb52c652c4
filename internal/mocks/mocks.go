package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"groupchat/internal/models"
	"groupchat/internal/repositories"
)

type UserRepositoryMock struct {
	mock.Mock
}

func (m *UserRepositoryMock) CreateUser(ctx context.Context, name, email, passwordHash string) (models.User, error) {
	args := m.Called(ctx, name, email, passwordHash)
	var user models.User
	if val := args.Get(0); val != nil {
		user = val.(models.User)
	}
	return user, args.Error(1)
}

func (m *UserRepositoryMock) GetUser(ctx context.Context, userID string) (models.User, error) {
	args := m.Called(ctx, userID)
	var user models.User
	if val := args.Get(0); val != nil {
		user = val.(models.User)
	}
	return user, args.Error(1)
}

func (m *UserRepositoryMock) GetUserByEmail(ctx context.Context, email string) (models.User, error) {
	args := m.Called(ctx, email)
	var user models.User
	if val := args.Get(0); val != nil {
		user = val.(models.User)
	}
	return user, args.Error(1)
}

func (m *UserRepositoryMock) ListUsersByIDs(ctx context.Context, ids []string) ([]models.User, error) {
	args := m.Called(ctx, ids)
	var users []models.User
	if val := args.Get(0); val != nil {
		users = val.([]models.User)
	}
	return users, args.Error(1)
}

func (m *UserRepositoryMock) SearchUsers(ctx context.Context, query string, excludeID string, limit int) ([]models.User, error) {
	args := m.Called(ctx, query, excludeID, limit)
	var users []models.User
	if val := args.Get(0); val != nil {
		users = val.([]models.User)
	}
	return users, args.Error(1)
}

type ConversationRepositoryMock struct {
	mock.Mock
}

func (m *ConversationRepositoryMock) CreateConversation(ctx context.Context, name string, creatorID string) (models.Conversation, error) {
	args := m.Called(ctx, name, creatorID)
	var conv models.Conversation
	if val := args.Get(0); val != nil {
		conv = val.(models.Conversation)
	}
	return conv, args.Error(1)
}

func (m *ConversationRepositoryMock) GetConversation(ctx context.Context, conversationID string) (models.Conversation, error) {
	args := m.Called(ctx, conversationID)
	var conv models.Conversation
	if val := args.Get(0); val != nil {
		conv = val.(models.Conversation)
	}
	return conv, args.Error(1)
}

func (m *ConversationRepositoryMock) ListConversationsForUser(ctx context.Context, userID string) ([]models.Conversation, error) {
	args := m.Called(ctx, userID)
	var convs []models.Conversation
	if val := args.Get(0); val != nil {
		convs = val.([]models.Conversation)
	}
	return convs, args.Error(1)
}

func (m *ConversationRepositoryMock) IsMember(ctx context.Context, conversationID string, userID string) (bool, error) {
	args := m.Called(ctx, conversationID, userID)
	return args.Bool(0), args.Error(1)
}

func (m *ConversationRepositoryMock) DeleteConversation(ctx context.Context, conversationID string) error {
	args := m.Called(ctx, conversationID)
	return args.Error(0)
}

type MessageRepositoryMock struct {
	mock.Mock
}

func (m *MessageRepositoryMock) CreateMessage(ctx context.Context, conversationID string, senderID string, content string, clientMessageID string) (models.Message, error) {
	args := m.Called(ctx, conversationID, senderID, content, clientMessageID)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageRepositoryMock) GetMessage(ctx context.Context, messageID string) (models.Message, error) {
	args := m.Called(ctx, messageID)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageRepositoryMock) ListMessages(ctx context.Context, conversationID string) ([]models.Message, error) {
	args := m.Called(ctx, conversationID)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

func (m *MessageRepositoryMock) LastMessage(ctx context.Context, conversationID string) (models.Message, error) {
	args := m.Called(ctx, conversationID)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageRepositoryMock) CountMessages(ctx context.Context, conversationID string) (int, error) {
	args := m.Called(ctx, conversationID)
	return args.Int(0), args.Error(1)
}

type InvitationRepositoryMock struct {
	mock.Mock
}

func (m *InvitationRepositoryMock) CreateInvitation(ctx context.Context, conversationID, inviterID, inviteeID string, expiresAt time.Time) (models.Invitation, error) {
	args := m.Called(ctx, conversationID, inviterID, inviteeID, expiresAt)
	var inv models.Invitation
	if val := args.Get(0); val != nil {
		inv = val.(models.Invitation)
	}
	return inv, args.Error(1)
}

func (m *InvitationRepositoryMock) FindPending(ctx context.Context, conversationID, inviteeID string) (models.Invitation, error) {
	args := m.Called(ctx, conversationID, inviteeID)
	var inv models.Invitation
	if val := args.Get(0); val != nil {
		inv = val.(models.Invitation)
	}
	return inv, args.Error(1)
}

func (m *InvitationRepositoryMock) GetInvitation(ctx context.Context, invitationID string) (models.Invitation, error) {
	args := m.Called(ctx, invitationID)
	var inv models.Invitation
	if val := args.Get(0); val != nil {
		inv = val.(models.Invitation)
	}
	return inv, args.Error(1)
}

func (m *InvitationRepositoryMock) ListPendingForUser(ctx context.Context, userID string, now time.Time) ([]models.Invitation, error) {
	args := m.Called(ctx, userID, now)
	var invs []models.Invitation
	if val := args.Get(0); val != nil {
		invs = val.([]models.Invitation)
	}
	return invs, args.Error(1)
}

func (m *InvitationRepositoryMock) SetStatus(ctx context.Context, invitationID string, status string) error {
	args := m.Called(ctx, invitationID, status)
	return args.Error(0)
}

func (m *InvitationRepositoryMock) Accept(ctx context.Context, invitation models.Invitation) error {
	args := m.Called(ctx, invitation)
	return args.Error(0)
}

var _ repositories.UserRepository = (*UserRepositoryMock)(nil)
var _ repositories.ConversationRepository = (*ConversationRepositoryMock)(nil)
var _ repositories.MessageRepository = (*MessageRepositoryMock)(nil)
var _ repositories.InvitationRepository = (*InvitationRepositoryMock)(nil)
