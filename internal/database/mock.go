package database

import (
	"context"

	"github.com/npezzotti/go-chatline/internal/types"
	"github.com/stretchr/testify/mock"
)

type MockChatRepository struct {
	mock.Mock
}

func (m *MockChatRepository) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
func (m *MockChatRepository) CreateUser(ctx context.Context, user User) (User, error) {
	args := m.Called(ctx, user)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockChatRepository) GetUserByUsername(ctx context.Context, username string) (User, error) {
	args := m.Called(ctx, username)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockChatRepository) GetUserByEmail(ctx context.Context, email string) (User, error) {
	args := m.Called(ctx, email)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockChatRepository) ActivateUser(ctx context.Context, username string) error {
	args := m.Called(ctx, username)
	return args.Error(0)
}
func (m *MockChatRepository) CreatePrivateChat(ctx context.Context, id, user1, user2 string) (Chat, error) {
	args := m.Called(ctx, id, user1, user2)
	return args.Get(0).(Chat), args.Error(1)
}
func (m *MockChatRepository) CreateGroupChat(ctx context.Context, id, name string, members []string) (Chat, error) {
	args := m.Called(ctx, id, name, members)
	return args.Get(0).(Chat), args.Error(1)
}
func (m *MockChatRepository) AddGroupMember(ctx context.Context, chatId, username string) error {
	args := m.Called(ctx, chatId, username)
	return args.Error(0)
}
func (m *MockChatRepository) GetChat(ctx context.Context, kind types.ChatKind, chatId string) (Chat, error) {
	args := m.Called(ctx, kind, chatId)
	return args.Get(0).(Chat), args.Error(1)
}
func (m *MockChatRepository) ListUserChats(ctx context.Context, username string) ([]Chat, error) {
	args := m.Called(ctx, username)
	return args.Get(0).([]Chat), args.Error(1)
}
func (m *MockChatRepository) AppendMessage(ctx context.Context, kind types.ChatKind, chatId string, msg types.Message) (types.Message, error) {
	args := m.Called(ctx, kind, chatId, msg)
	return args.Get(0).(types.Message), args.Error(1)
}
func (m *MockChatRepository) GetMessages(ctx context.Context, kind types.ChatKind, chatId string) ([]types.Message, error) {
	args := m.Called(ctx, kind, chatId)
	return args.Get(0).([]types.Message), args.Error(1)
}

type MockDocumentStore struct {
	mock.Mock
}

func (m *MockDocumentStore) FindOne(ctx context.Context, collection string, filter map[string]any, out any) error {
	args := m.Called(ctx, collection, filter, out)
	return args.Error(0)
}
func (m *MockDocumentStore) FindAll(ctx context.Context, collection string, filter map[string]any, out any) error {
	args := m.Called(ctx, collection, filter, out)
	return args.Error(0)
}
func (m *MockDocumentStore) InsertOne(ctx context.Context, collection string, doc any) error {
	args := m.Called(ctx, collection, doc)
	return args.Error(0)
}
func (m *MockDocumentStore) UpdateOne(ctx context.Context, collection string, filter map[string]any, op UpdateOp, update map[string]any) error {
	args := m.Called(ctx, collection, filter, op, update)
	return args.Error(0)
}
func (m *MockDocumentStore) DeleteOne(ctx context.Context, collection string, filter map[string]any) error {
	args := m.Called(ctx, collection, filter)
	return args.Error(0)
}
func (m *MockDocumentStore) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
func (m *MockDocumentStore) Close(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
