package server

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/npezzotti/go-chatline/internal/database"
	"github.com/npezzotti/go-chatline/internal/stats"
)

type unloadRoomRequest struct {
	chatId string
}

type stopRequest struct {
	done chan struct{}
}

// ChatServer owns the connection registry (identity -> client, unique per
// identity) and supervises the per-chat rooms. It is the single source of
// truth for "is this user online".
type ChatServer struct {
	log            *log.Logger
	db             database.ChatRepository
	stats          stats.StatsProvider
	clients        map[string]*Client
	clientsLock    sync.Mutex
	rooms          map[string]*Room
	roomsLock      sync.RWMutex
	joinChan       chan *joinRequest
	unloadRoomChan chan unloadRoomRequest
	stop           chan stopRequest
}

func NewChatServer(logger *log.Logger, db database.ChatRepository, sp stats.StatsProvider) (*ChatServer, error) {
	cs := &ChatServer{
		log:            logger,
		db:             db,
		stats:          sp,
		clients:        make(map[string]*Client),
		rooms:          make(map[string]*Room),
		joinChan:       make(chan *joinRequest, 256),
		unloadRoomChan: make(chan unloadRoomRequest, 256),
		stop:           make(chan stopRequest),
	}

	for _, metric := range []string{
		"NumActiveConnections",
		"NumActiveRooms",
		"NumMessages",
		"NumDroppedDeliveries",
	} {
		sp.RegisterMetric(metric)
	}

	return cs, nil
}

func (cs *ChatServer) Run() {
	for {
		select {
		case join := <-cs.joinChan:
			cs.handleJoinRequest(join)
		case req := <-cs.unloadRoomChan:
			cs.handleUnloadRoom(req.chatId)
		case req := <-cs.stop:
			cs.log.Println("shutting down chat server")
			cs.stopAllClients()

			for _, r := range cs.allRooms() {
				cs.removeRoom(r.chatId)
				done := make(chan struct{})
				r.exit <- exitReq{done: done}
				<-done
			}

			close(req.done)
			return
		}
	}
}

func (cs *ChatServer) handleJoinRequest(join *joinRequest) {
	c := join.client

	room, ok := cs.getRoom(c.chatId)
	if !ok {
		chat, err := cs.db.GetChat(context.Background(), c.chatKind, c.chatId)
		if err != nil {
			cs.log.Printf("GetChat %q: %v", c.chatId, err)
			if errors.Is(err, database.ErrNotFound) {
				c.queueMessage(ErrChatNotFound())
			} else {
				c.queueMessage(ErrInternalError())
			}
			return
		}

		room = cs.newRoom(chat)
		cs.addRoom(room.chatId, room)
		cs.stats.Incr("NumActiveRooms")
		go room.start()
	}

	if room.kind != c.chatKind {
		c.queueMessage(ErrChatNotFound())
		return
	}

	select {
	case room.joinChan <- join:
	default:
		cs.log.Printf("join channel full on room %q", room.chatId)
		c.queueMessage(ErrServiceUnavailable())
	}
}

// handleUnloadRoom tears down an idle room. The request may be stale: a
// join can land between the kill timer firing and the request being
// processed, so an occupied room (or one with joins still queued) is
// left alone and unloads again once it drains.
func (cs *ChatServer) handleUnloadRoom(chatId string) {
	r, ok := cs.getRoom(chatId)
	if !ok {
		return
	}

	if r.onlineCount() > 0 || len(r.joinChan) > 0 {
		cs.log.Printf("skipping unload of occupied room %q", chatId)
		return
	}

	cs.removeRoom(chatId)

	done := make(chan struct{})
	r.exit <- exitReq{done: done}
	<-done

	cs.stats.Decr("NumActiveRooms")
	cs.log.Printf("unloaded room %q", chatId)
}

func (cs *ChatServer) newRoom(chat database.Chat) *Room {
	return &Room{
		chatId:        chat.Id,
		kind:          chat.Kind,
		members:       chat.Members,
		online:        make(map[string]struct{}),
		cs:            cs,
		joinChan:      make(chan *joinRequest, 256),
		leaveChan:     make(chan *leaveRequest, 256),
		clientMsgChan: make(chan *ClientMessage, 256),
		exit:          make(chan exitReq),
		log:           cs.log,
	}
}

// RegisterClient installs the client in the registry. A previous
// connection for the same identity is closed first, so at most one live
// connection per identity exists (last writer wins).
func (cs *ChatServer) RegisterClient(c *Client) {
	cs.clientsLock.Lock()
	old := cs.clients[c.identity]
	cs.clients[c.identity] = c
	cs.clientsLock.Unlock()

	if old != nil {
		cs.log.Printf("evicting previous connection for %q", c.identity)
		old.stopClient()
		if old.conn != nil {
			old.conn.Close()
		}
	} else {
		cs.stats.Incr("NumActiveConnections")
	}

	cs.log.Printf("registered connection for %q", c.identity)
}

// removeClient unmaps the identity only if the registry still points at
// this client, so an evicted connection can't unmap its replacement.
// Removing an absent identity is a no-op.
func (cs *ChatServer) removeClient(c *Client) {
	cs.clientsLock.Lock()
	cur, ok := cs.clients[c.identity]
	if ok && cur == c {
		delete(cs.clients, c.identity)
	}
	cs.clientsLock.Unlock()

	if ok && cur == c {
		cs.stats.Decr("NumActiveConnections")
		cs.log.Printf("removed connection for %q", c.identity)
	}
}

func (cs *ChatServer) LookupClient(identity string) (*Client, bool) {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()

	c, ok := cs.clients[identity]
	return c, ok
}

// SendToUser resolves the identity through the registry at send time and
// delivers best-effort: an offline identity or a full send buffer drops
// the event without surfacing an error to the caller.
func (cs *ChatServer) SendToUser(identity string, msg *ServerMessage) {
	c, ok := cs.LookupClient(identity)
	if !ok {
		return
	}

	if !c.queueMessage(msg) {
		cs.stats.Incr("NumDroppedDeliveries")
	}
}

// JoinRoom dispatches the client's join to its declared chat.
func (cs *ChatServer) JoinRoom(c *Client) {
	select {
	case cs.joinChan <- &joinRequest{client: c}:
	default:
		cs.log.Println("join channel full")
		c.queueMessage(ErrServiceUnavailable())
	}
}

func (cs *ChatServer) stopAllClients() {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()

	for _, c := range cs.clients {
		c.stopClient()
	}
}

func (cs *ChatServer) addRoom(chatId string, r *Room) {
	cs.roomsLock.Lock()
	defer cs.roomsLock.Unlock()

	cs.rooms[chatId] = r
}

func (cs *ChatServer) getRoom(chatId string) (*Room, bool) {
	cs.roomsLock.RLock()
	defer cs.roomsLock.RUnlock()

	r, ok := cs.rooms[chatId]
	return r, ok
}

func (cs *ChatServer) removeRoom(chatId string) {
	cs.roomsLock.Lock()
	defer cs.roomsLock.Unlock()

	delete(cs.rooms, chatId)
}

func (cs *ChatServer) allRooms() []*Room {
	cs.roomsLock.RLock()
	defer cs.roomsLock.RUnlock()

	rooms := make([]*Room, 0, len(cs.rooms))
	for _, r := range cs.rooms {
		rooms = append(rooms, r)
	}

	return rooms
}

func (cs *ChatServer) Shutdown(ctx context.Context) error {
	req := stopRequest{done: make(chan struct{})}

	select {
	case cs.stop <- req:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-req.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
