package database

import (
	"context"

	"github.com/npezzotti/go-chatline/internal/types"
)

type ChatRepository interface {
	Ping(ctx context.Context) error
	CreateUser(ctx context.Context, user User) (User, error)
	GetUserByUsername(ctx context.Context, username string) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)
	ActivateUser(ctx context.Context, username string) error
	CreatePrivateChat(ctx context.Context, id, user1, user2 string) (Chat, error)
	CreateGroupChat(ctx context.Context, id, name string, members []string) (Chat, error)
	AddGroupMember(ctx context.Context, chatId, username string) error
	GetChat(ctx context.Context, kind types.ChatKind, chatId string) (Chat, error)
	ListUserChats(ctx context.Context, username string) ([]Chat, error)
	AppendMessage(ctx context.Context, kind types.ChatKind, chatId string, msg types.Message) (types.Message, error)
	GetMessages(ctx context.Context, kind types.ChatKind, chatId string) ([]types.Message, error)
}
