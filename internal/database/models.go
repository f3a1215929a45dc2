package database

import (
	"time"

	"github.com/npezzotti/go-chatline/internal/types"
)

const (
	usersCollection        = "users"
	privateChatsCollection = "private_chats"
	groupChatsCollection   = "group_chats"
)

func collectionFor(kind types.ChatKind) string {
	if kind == types.ChatKindGroup {
		return groupChatsCollection
	}
	return privateChatsCollection
}

type User struct {
	Username     string    `bson:"username"`
	Email        string    `bson:"email"`
	PasswordHash string    `bson:"password"`
	IsActive     bool      `bson:"is_active"`
	CreatedAt    time.Time `bson:"created_at"`
}

type Attachment struct {
	Type string `bson:"type"`
	File string `bson:"file"`
}

type Message struct {
	Id          string       `bson:"_id"`
	SenderId    string       `bson:"sender_id"`
	Caption     string       `bson:"caption"`
	Attachments []Attachment `bson:"attachments"`
	CreatedAt   time.Time    `bson:"created_at"`
}

type PrivateChat struct {
	Id       string    `bson:"_id"`
	UserIds  []string  `bson:"user_ids"`
	Messages []Message `bson:"messages"`
}

type GroupChat struct {
	Id        string    `bson:"_id"`
	GroupName string    `bson:"group_name"`
	MemberIds []string  `bson:"member_ids"`
	Messages  []Message `bson:"messages"`
}

// Chat is the kind-independent view of a stored chat document.
type Chat struct {
	Id       string
	Kind     types.ChatKind
	Name     string
	Members  []string
	Messages []Message
}

func (u User) ToUser() types.User {
	return types.User{
		Username:  u.Username,
		Email:     u.Email,
		IsActive:  u.IsActive,
		CreatedAt: u.CreatedAt,
	}
}

func (c Chat) ToChat() types.Chat {
	return types.Chat{
		Id:      c.Id,
		Kind:    c.Kind,
		Name:    c.Name,
		Members: c.Members,
	}
}

func (m Message) ToMessage() types.Message {
	attachments := make([]types.Attachment, len(m.Attachments))
	for i, a := range m.Attachments {
		attachments[i] = types.Attachment{Type: a.Type, File: a.File}
	}

	return types.Message{
		Id:          m.Id,
		SenderId:    m.SenderId,
		Caption:     m.Caption,
		Attachments: attachments,
		CreatedAt:   m.CreatedAt,
	}
}

func messageFromTypes(msg types.Message) Message {
	attachments := make([]Attachment, len(msg.Attachments))
	for i, a := range msg.Attachments {
		attachments[i] = Attachment{Type: a.Type, File: a.File}
	}

	return Message{
		Id:          msg.Id,
		SenderId:    msg.SenderId,
		Caption:     msg.Caption,
		Attachments: attachments,
		CreatedAt:   msg.CreatedAt,
	}
}

func (c PrivateChat) chat() Chat {
	return Chat{
		Id:       c.Id,
		Kind:     types.ChatKindPrivate,
		Members:  c.UserIds,
		Messages: c.Messages,
	}
}

func (c GroupChat) chat() Chat {
	return Chat{
		Id:       c.Id,
		Kind:     types.ChatKindGroup,
		Name:     c.GroupName,
		Members:  c.MemberIds,
		Messages: c.Messages,
	}
}
