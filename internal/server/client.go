package server

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-chatline/internal/types"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 4096
)

// Client is one live connection bound to an authenticated identity and a
// declared chat. Inbound events are handled strictly in arrival order by
// the read pump; outbound delivery goes through the buffered send channel.
type Client struct {
	conn       *websocket.Conn
	chatServer *ChatServer
	log        *log.Logger
	identity   string
	chatId     string
	chatKind   types.ChatKind
	send       chan *ServerMessage
	rooms      map[string]*Room
	roomsLock  sync.RWMutex
	stop       chan struct{}
	closeOnce  sync.Once
}

func NewClient(identity string, kind types.ChatKind, chatId string, conn *websocket.Conn, cs *ChatServer, l *log.Logger) *Client {
	return &Client{
		conn:       conn,
		chatServer: cs,
		log:        l,
		identity:   identity,
		chatId:     chatId,
		chatKind:   kind,
		send:       make(chan *ServerMessage, 256),
		rooms:      make(map[string]*Room),
		stop:       make(chan struct{}),
	}
}

func (c *Client) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}

			bytes, err := serializeMessage(msg)
			if err != nil {
				c.log.Println("failed to serialize message:", err)
				continue
			}

			if !c.sendMessage(websocket.TextMessage, bytes) {
				return
			}
		case <-c.stop:
			return
		case <-ticker.C:
			if !c.sendMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Client) Read() {
	defer func() {
		c.conn.Close()
		c.cleanup()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(appData string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Printf("ws: read: %v", err)
			}
			break
		}

		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.log.Println("error parsing message:", err)
			c.queueMessage(ErrInvalidMessage(""))
			continue
		}

		msg.client = c
		msg.Timestamp = Now()

		if detail, ok := c.validateMessage(&msg); !ok {
			c.queueMessage(ErrInvalidMessage(detail))
			continue
		}

		r := c.getRoom(c.chatId)
		if r == nil {
			c.queueMessage(ErrChatNotFound())
			continue
		}

		select {
		case r.clientMsgChan <- &msg:
		default:
			c.queueMessage(ErrServiceUnavailable())
			c.log.Printf("message channel full for chat %q", r.chatId)
		}
	}
}

// validateMessage checks the payload shape before it is handed to the
// room. A failed check is reported to the sender only.
func (c *Client) validateMessage(msg *ClientMessage) (string, bool) {
	if !msg.ChatKind.Valid() {
		return "unknown chat_kind", false
	}
	if msg.ChatKind != c.chatKind {
		return "chat_kind does not match this connection", false
	}
	if msg.SenderId == "" {
		return "missing sender_id", false
	}
	if msg.SenderId != c.identity {
		return "sender_id does not match authenticated identity", false
	}
	for _, a := range msg.Attachments {
		if a.Type == "" || a.File == "" {
			return "attachment requires a type and file", false
		}
	}

	return "", true
}

func (c *Client) queueMessage(msg *ServerMessage) bool {
	select {
	case c.send <- msg:
	default:
		c.log.Printf("dropping message for %q, send buffer full", c.identity)
		return false
	}

	return true
}

func serializeMessage(msg *ServerMessage) ([]byte, error) {
	return json.Marshal(msg)
}

func (c *Client) sendMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Printf("write message: %s", err)
		}
		return false
	}

	return true
}

func (c *Client) stopClient() {
	c.closeOnce.Do(func() {
		close(c.stop)
	})
}

// cleanup runs the Open -> Closed transition exactly once, no matter how
// many disconnect signals race. The stop channel is closed first so a
// join still in flight observes the client as gone.
func (c *Client) cleanup() {
	c.stopClient()
	c.leaveAllRooms()
	c.chatServer.removeClient(c)
}

func (c *Client) leaveAllRooms() {
	c.roomsLock.RLock()
	defer c.roomsLock.RUnlock()

	for _, room := range c.rooms {
		select {
		case room.leaveChan <- &leaveRequest{client: c}:
		default:
			room.log.Printf("leave channel full for chat %q", room.chatId)
		}
	}
}

func (c *Client) delRoom(id string) {
	c.roomsLock.Lock()
	defer c.roomsLock.Unlock()

	delete(c.rooms, id)
}

func (c *Client) addRoom(r *Room) {
	c.roomsLock.Lock()
	defer c.roomsLock.Unlock()

	c.rooms[r.chatId] = r
}

func (c *Client) getRoom(id string) *Room {
	c.roomsLock.RLock()
	defer c.roomsLock.RUnlock()

	if room, ok := c.rooms[id]; ok {
		return room
	}

	return nil
}

func (c *Client) stopped() bool {
	select {
	case <-c.stop:
		return true
	default:
		return false
	}
}
