package server

import (
	"context"
	"errors"
	"log"
	"slices"
	"sync"
	"time"

	"github.com/npezzotti/go-chatline/internal/database"
	"github.com/npezzotti/go-chatline/internal/types"
)

const idleRoomTimeout = time.Second * 5

type joinRequest struct {
	client *Client
}

type leaveRequest struct {
	client *Client
}

type exitReq struct {
	done chan struct{}
}

// Room tracks which identities of a chat are currently online and fans
// events out to them. It holds identities, never transport handles: every
// delivery re-resolves the identity through the connection registry, so a
// peer that vanished between snapshot and send is silently skipped.
type Room struct {
	chatId        string
	kind          types.ChatKind
	members       []string
	online        map[string]struct{}
	cs            *ChatServer
	joinChan      chan *joinRequest
	leaveChan     chan *leaveRequest
	clientMsgChan chan *ClientMessage
	presenceLock  sync.RWMutex
	log           *log.Logger
	// killTimer unloads the room once the last participant has left
	killTimer *time.Timer
	exit      chan exitReq
}

func (r *Room) start() {
	r.log.Printf("starting room %q", r.chatId)
	r.killTimer = time.NewTimer(idleRoomTimeout)
	r.killTimer.Stop()

	for {
		select {
		case join := <-r.joinChan:
			r.handleJoin(join)
		case leave := <-r.leaveChan:
			r.handleLeave(leave)
		case msg := <-r.clientMsgChan:
			r.saveAndBroadcast(msg)
		case <-r.killTimer.C:
			r.handleRoomTimeout()
		case e := <-r.exit:
			r.handleRoomExit(e)
			return
		}
	}
}

func (r *Room) handleJoin(join *joinRequest) {
	r.killTimer.Stop()

	c := join.client
	if c.stopped() {
		// the connection died before the join was processed
		if r.onlineCount() == 0 {
			r.killTimer.Reset(idleRoomTimeout)
		}
		return
	}

	// refresh the static member list so a user added to a group chat
	// after the room was loaded can still join
	chat, err := r.cs.db.GetChat(context.Background(), r.kind, r.chatId)
	if err != nil {
		r.log.Printf("GetChat %q: %v", r.chatId, err)
		if errors.Is(err, database.ErrNotFound) {
			c.queueMessage(ErrChatNotFound())
		} else {
			c.queueMessage(ErrInternalError())
		}
		if r.onlineCount() == 0 {
			r.killTimer.Reset(idleRoomTimeout)
		}
		return
	}
	r.members = chat.Members

	if !slices.Contains(r.members, c.identity) {
		r.log.Printf("user %q is not a member of chat %q", c.identity, r.chatId)
		c.queueMessage(ErrNotAMember())
		if r.onlineCount() == 0 {
			r.killTimer.Reset(idleRoomTimeout)
		}
		return
	}

	r.addOnline(c.identity)
	c.addRoom(r)

	// the joiner is already present, so it receives its own join event
	r.broadcast(presenceEvent(EventUserJoined, r.chatId, c.identity))
	r.broadcast(onlineCountsEvent(r.chatId, r.onlineCount()))
}

func (r *Room) handleLeave(leave *leaveRequest) {
	c := leave.client
	c.delRoom(r.chatId)

	// if the identity was evicted by a newer connection, its presence
	// belongs to the replacement now
	if cur, ok := r.cs.LookupClient(c.identity); ok && cur != c {
		return
	}

	if !r.isOnline(c.identity) {
		// duplicate disconnect signal, nothing to do
		return
	}

	r.removeOnline(c.identity)

	r.broadcast(&ServerMessage{
		Event:        EventUserLeft,
		ChatId:       r.chatId,
		Identity:     c.identity,
		Timestamp:    Now(),
		SkipIdentity: c.identity,
	})
	r.broadcast(onlineCountsEvent(r.chatId, r.onlineCount()))

	if r.onlineCount() == 0 {
		r.log.Printf("no participants in %q, starting kill timer", r.chatId)
		r.killTimer.Reset(idleRoomTimeout)
	}
}

func (r *Room) handleRoomTimeout() {
	r.log.Printf("room %q timed out", r.chatId)
	select {
	case r.cs.unloadRoomChan <- unloadRoomRequest{chatId: r.chatId}:
	default:
		// retry on the next timeout
		r.killTimer.Reset(idleRoomTimeout)
	}
}

func (r *Room) handleRoomExit(e exitReq) {
	r.log.Printf("room %q is exiting", r.chatId)

	r.presenceLock.Lock()
	r.online = make(map[string]struct{})
	r.presenceLock.Unlock()

	if e.done != nil {
		close(e.done)
	}
}

// saveAndBroadcast persists the message and fans it out to all online
// participants except the sender. Persistence failure is reported to the
// sender only and never reaches the room.
func (r *Room) saveAndBroadcast(msg *ClientMessage) {
	stored, err := r.cs.db.AppendMessage(context.Background(), r.kind, r.chatId, types.Message{
		SenderId:    msg.SenderId,
		Caption:     msg.Caption,
		Attachments: msg.Attachments,
		CreatedAt:   msg.Timestamp,
	})
	if err != nil {
		r.log.Printf("AppendMessage: %v", err)
		switch {
		case errors.Is(err, database.ErrValidation):
			msg.client.queueMessage(ErrInvalidMessage(""))
		case errors.Is(err, database.ErrNotFound):
			msg.client.queueMessage(ErrChatNotFound())
		default:
			msg.client.queueMessage(ErrInternalError())
		}
		return
	}

	r.cs.stats.Incr("NumMessages")
	msg.client.queueMessage(NoErrAccepted())

	r.broadcast(newMessageEvent(r.chatId, stored, msg.SenderId))
}

// broadcast delivers msg to every online participant except
// msg.SkipIdentity. The participant set is read in one snapshot; delivery
// itself is per-recipient and best-effort.
func (r *Room) broadcast(msg *ServerMessage) {
	for _, identity := range r.participants() {
		if identity == msg.SkipIdentity {
			continue
		}

		r.cs.SendToUser(identity, msg)
	}
}

func (r *Room) addOnline(identity string) {
	r.presenceLock.Lock()
	defer r.presenceLock.Unlock()

	r.online[identity] = struct{}{}
}

func (r *Room) removeOnline(identity string) {
	r.presenceLock.Lock()
	defer r.presenceLock.Unlock()

	delete(r.online, identity)
}

func (r *Room) isOnline(identity string) bool {
	r.presenceLock.RLock()
	defer r.presenceLock.RUnlock()

	_, ok := r.online[identity]
	return ok
}

func (r *Room) onlineCount() int {
	r.presenceLock.RLock()
	defer r.presenceLock.RUnlock()

	return len(r.online)
}

func (r *Room) participants() []string {
	r.presenceLock.RLock()
	defer r.presenceLock.RUnlock()

	identities := make([]string, 0, len(r.online))
	for identity := range r.online {
		identities = append(identities, identity)
	}

	return identities
}
