package types

import (
	"time"
)

type ChatKind string

const (
	ChatKindPrivate ChatKind = "private"
	ChatKindGroup   ChatKind = "group"
)

func (k ChatKind) Valid() bool {
	return k == ChatKindPrivate || k == ChatKindGroup
}

type User struct {
	Username  string    `json:"username"`
	Email     string    `json:"email,omitempty"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

type Chat struct {
	Id      string   `json:"id"`
	Kind    ChatKind `json:"kind"`
	Name    string   `json:"name,omitempty"`
	Members []string `json:"members"`
}

type Attachment struct {
	Type string `json:"type"`
	File string `json:"file"`
}

type Message struct {
	Id          string       `json:"id"`
	SenderId    string       `json:"sender_id"`
	Caption     string       `json:"caption"`
	Attachments []Attachment `json:"attachments"`
	CreatedAt   time.Time    `json:"created_at"`
}
