package server

import (
	"net/http"
	"time"

	"github.com/npezzotti/go-chatline/internal/types"
)

const (
	EventNewMessage   = "new_message"
	EventUserJoined   = "user_joined"
	EventUserLeft     = "user_left"
	EventOnlineCounts = "online_counts"
	EventResponse     = "response"
)

// ClientMessage is the inbound wire payload for publishing a message to
// the connection's chat.
type ClientMessage struct {
	ChatKind    types.ChatKind     `json:"chat_kind"`
	SenderId    string             `json:"sender_id"`
	Caption     string             `json:"caption"`
	Attachments []types.Attachment `json:"attachments"`
	Timestamp   time.Time          `json:"-"`
	client      *Client
}

// ServerMessage is the outbound wire payload. Exactly one of the
// event-specific fields is populated depending on Event.
type ServerMessage struct {
	Event        string         `json:"event"`
	ChatId       string         `json:"chat_id,omitempty"`
	Identity     string         `json:"identity,omitempty"`
	Count        int            `json:"count,omitempty"`
	Message      *types.Message `json:"message,omitempty"`
	Response     *Response      `json:"response,omitempty"`
	Timestamp    time.Time      `json:"timestamp"`
	SkipIdentity string         `json:"-"`
}

type Response struct {
	ResponseCode int    `json:"response_code"`
	Error        string `json:"error,omitempty"`
}

func NoErrAccepted() *ServerMessage {
	return &ServerMessage{
		Event:     EventResponse,
		Timestamp: Now(),
		Response: &Response{
			ResponseCode: http.StatusAccepted,
		},
	}
}

func ErrInvalidMessage(detail string) *ServerMessage {
	if detail == "" {
		detail = "invalid message format"
	}

	return &ServerMessage{
		Event:     EventResponse,
		Timestamp: Now(),
		Response: &Response{
			ResponseCode: http.StatusBadRequest,
			Error:        detail,
		},
	}
}

func ErrChatNotFound() *ServerMessage {
	return &ServerMessage{
		Event:     EventResponse,
		Timestamp: Now(),
		Response: &Response{
			ResponseCode: http.StatusNotFound,
			Error:        "chat not found",
		},
	}
}

func ErrNotAMember() *ServerMessage {
	return &ServerMessage{
		Event:     EventResponse,
		Timestamp: Now(),
		Response: &Response{
			ResponseCode: http.StatusForbidden,
			Error:        "not a member of this chat",
		},
	}
}

func ErrInternalError() *ServerMessage {
	return &ServerMessage{
		Event:     EventResponse,
		Timestamp: Now(),
		Response: &Response{
			ResponseCode: http.StatusInternalServerError,
			Error:        "internal server error",
		},
	}
}

func ErrServiceUnavailable() *ServerMessage {
	return &ServerMessage{
		Event:     EventResponse,
		Timestamp: Now(),
		Response: &Response{
			ResponseCode: http.StatusServiceUnavailable,
			Error:        "service unavailable",
		},
	}
}

func newMessageEvent(chatId string, msg types.Message, skipIdentity string) *ServerMessage {
	return &ServerMessage{
		Event:        EventNewMessage,
		ChatId:       chatId,
		Message:      &msg,
		Timestamp:    Now(),
		SkipIdentity: skipIdentity,
	}
}

func presenceEvent(event, chatId, identity string) *ServerMessage {
	return &ServerMessage{
		Event:     event,
		ChatId:    chatId,
		Identity:  identity,
		Timestamp: Now(),
	}
}

func onlineCountsEvent(chatId string, count int) *ServerMessage {
	return &ServerMessage{
		Event:     EventOnlineCounts,
		ChatId:    chatId,
		Count:     count,
		Timestamp: Now(),
	}
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
