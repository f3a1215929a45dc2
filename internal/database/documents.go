package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/npezzotti/go-chatline/internal/types"
)

// DocumentRepository implements ChatRepository on top of a DocumentStore.
// All mapping between stored documents and typed records happens here.
type DocumentRepository struct {
	store DocumentStore
}

func NewDocumentRepository(store DocumentStore) *DocumentRepository {
	return &DocumentRepository{store: store}
}

func (r *DocumentRepository) Ping(ctx context.Context) error {
	return r.store.Ping(ctx)
}

func (r *DocumentRepository) CreateUser(ctx context.Context, user User) (User, error) {
	if user.Username == "" || user.Email == "" || user.PasswordHash == "" {
		return User{}, fmt.Errorf("%w: username, email and password are required", ErrValidation)
	}

	if _, err := r.GetUserByUsername(ctx, user.Username); err == nil {
		return User{}, fmt.Errorf("username %w", ErrDuplicate)
	}
	if _, err := r.GetUserByEmail(ctx, user.Email); err == nil {
		return User{}, fmt.Errorf("email %w", ErrDuplicate)
	}

	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	if err := r.store.InsertOne(ctx, usersCollection, user); err != nil {
		return User{}, fmt.Errorf("insert user: %w", err)
	}

	return user, nil
}

func (r *DocumentRepository) GetUserByUsername(ctx context.Context, username string) (User, error) {
	var user User
	if err := r.store.FindOne(ctx, usersCollection, map[string]any{"username": username}, &user); err != nil {
		return User{}, err
	}

	return user, nil
}

func (r *DocumentRepository) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var user User
	if err := r.store.FindOne(ctx, usersCollection, map[string]any{"email": email}, &user); err != nil {
		return User{}, err
	}

	return user, nil
}

// ActivateUser flips the activation flag through the store's update
// contract rather than mutating a fetched copy.
func (r *DocumentRepository) ActivateUser(ctx context.Context, username string) error {
	return r.store.UpdateOne(ctx, usersCollection,
		map[string]any{"username": username}, OpSet, map[string]any{"is_active": true})
}

func (r *DocumentRepository) CreatePrivateChat(ctx context.Context, id, user1, user2 string) (Chat, error) {
	if id == "" || user1 == "" || user2 == "" {
		return Chat{}, fmt.Errorf("%w: chat id and both users are required", ErrValidation)
	}
	if user1 == user2 {
		return Chat{}, fmt.Errorf("%w: private chat requires two distinct users", ErrValidation)
	}

	doc := PrivateChat{
		Id:       id,
		UserIds:  []string{user1, user2},
		Messages: []Message{},
	}

	if err := r.store.InsertOne(ctx, privateChatsCollection, doc); err != nil {
		return Chat{}, fmt.Errorf("insert private chat: %w", err)
	}

	return doc.chat(), nil
}

func (r *DocumentRepository) CreateGroupChat(ctx context.Context, id, name string, members []string) (Chat, error) {
	if id == "" || name == "" {
		return Chat{}, fmt.Errorf("%w: chat id and group name are required", ErrValidation)
	}
	if len(members) == 0 {
		return Chat{}, fmt.Errorf("%w: group chat requires at least one member", ErrValidation)
	}

	doc := GroupChat{
		Id:        id,
		GroupName: name,
		MemberIds: members,
		Messages:  []Message{},
	}

	if err := r.store.InsertOne(ctx, groupChatsCollection, doc); err != nil {
		return Chat{}, fmt.Errorf("insert group chat: %w", err)
	}

	return doc.chat(), nil
}

func (r *DocumentRepository) AddGroupMember(ctx context.Context, chatId, username string) error {
	if username == "" {
		return fmt.Errorf("%w: username is required", ErrValidation)
	}

	return r.store.UpdateOne(ctx, groupChatsCollection,
		map[string]any{"_id": chatId}, OpAddToSet, map[string]any{"member_ids": username})
}

func (r *DocumentRepository) GetChat(ctx context.Context, kind types.ChatKind, chatId string) (Chat, error) {
	if !kind.Valid() {
		return Chat{}, fmt.Errorf("%w: unknown chat kind %q", ErrValidation, kind)
	}

	filter := map[string]any{"_id": chatId}
	if kind == types.ChatKindGroup {
		var doc GroupChat
		if err := r.store.FindOne(ctx, groupChatsCollection, filter, &doc); err != nil {
			return Chat{}, err
		}
		return doc.chat(), nil
	}

	var doc PrivateChat
	if err := r.store.FindOne(ctx, privateChatsCollection, filter, &doc); err != nil {
		return Chat{}, err
	}
	return doc.chat(), nil
}

func (r *DocumentRepository) ListUserChats(ctx context.Context, username string) ([]Chat, error) {
	var privateChats []PrivateChat
	if err := r.store.FindAll(ctx, privateChatsCollection, map[string]any{"user_ids": username}, &privateChats); err != nil {
		return nil, fmt.Errorf("list private chats: %w", err)
	}

	var groupChats []GroupChat
	if err := r.store.FindAll(ctx, groupChatsCollection, map[string]any{"member_ids": username}, &groupChats); err != nil {
		return nil, fmt.Errorf("list group chats: %w", err)
	}

	chats := make([]Chat, 0, len(privateChats)+len(groupChats))
	for _, c := range privateChats {
		chats = append(chats, c.chat())
	}
	for _, c := range groupChats {
		chats = append(chats, c.chat())
	}

	return chats, nil
}

// AppendMessage validates the message, appends it to the chat's message
// list and returns the stored form with server-assigned fields set.
func (r *DocumentRepository) AppendMessage(ctx context.Context, kind types.ChatKind, chatId string, msg types.Message) (types.Message, error) {
	if !kind.Valid() {
		return types.Message{}, fmt.Errorf("%w: unknown chat kind %q", ErrValidation, kind)
	}

	if err := validateMessage(msg); err != nil {
		return types.Message{}, err
	}

	if msg.Id == "" {
		msg.Id = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	if msg.Attachments == nil {
		msg.Attachments = []types.Attachment{}
	}

	err := r.store.UpdateOne(ctx, collectionFor(kind),
		map[string]any{"_id": chatId}, OpPush, map[string]any{"messages": messageFromTypes(msg)})
	if err != nil {
		return types.Message{}, err
	}

	return msg, nil
}

func (r *DocumentRepository) GetMessages(ctx context.Context, kind types.ChatKind, chatId string) ([]types.Message, error) {
	chat, err := r.GetChat(ctx, kind, chatId)
	if err != nil {
		return nil, err
	}

	messages := make([]types.Message, len(chat.Messages))
	for i, m := range chat.Messages {
		messages[i] = m.ToMessage()
	}

	return messages, nil
}

func validateMessage(msg types.Message) error {
	if msg.SenderId == "" {
		return fmt.Errorf("%w: missing sender_id", ErrValidation)
	}
	if msg.Caption == "" && len(msg.Attachments) == 0 {
		return fmt.Errorf("%w: message requires a caption or attachments", ErrValidation)
	}
	for _, a := range msg.Attachments {
		if a.Type == "" || a.File == "" {
			return fmt.Errorf("%w: attachment requires a type and file", ErrValidation)
		}
	}

	return nil
}
