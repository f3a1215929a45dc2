package server

import (
	"errors"
	"testing"
	"time"

	"github.com/npezzotti/go-chatline/internal/database"
	"github.com/npezzotti/go-chatline/internal/stats"
	"github.com/npezzotti/go-chatline/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

// newTestRoom builds a room the way handleJoinRequest does, with the kill
// timer armed but stopped so handlers can be called directly.
func newTestRoom(t *testing.T, cs *ChatServer, chat database.Chat) *Room {
	t.Helper()
	r := cs.newRoom(chat)
	r.killTimer = time.NewTimer(idleRoomTimeout)
	r.killTimer.Stop()
	return r
}

func recvMessage(t *testing.T, c *Client) *ServerMessage {
	t.Helper()
	select {
	case msg := <-c.send:
		return msg
	default:
		t.Fatalf("expected a queued message for %q", c.identity)
		return nil
	}
}

func Test_handleJoin(t *testing.T) {
	chat := database.Chat{Id: "r1", Kind: types.ChatKindPrivate, Members: []string{"alice", "bob"}}

	t.Run("join notifies existing participants", func(t *testing.T) {
		db := &database.MockChatRepository{}
		defer db.AssertExpectations(t)
		db.On("GetChat", mock.Anything, types.ChatKindPrivate, "r1").Return(chat, nil).Once()

		su := &stats.MockStatsUpdater{}
		defer su.AssertExpectations(t)

		cs := newTestChatServer(t, db, su)
		r := newTestRoom(t, cs, chat)

		bob := newTestClient(t, cs, "bob", "r1")
		alice := newTestClient(t, cs, "alice", "r1")
		cs.clients["bob"] = bob
		cs.clients["alice"] = alice
		r.addOnline("bob")

		r.handleJoin(&joinRequest{client: alice})

		assert.True(t, r.isOnline("alice"), "expected alice to be online after joining")
		assert.Equal(t, 2, r.onlineCount(), "expected two online participants")

		msg := recvMessage(t, bob)
		assert.Equal(t, EventUserJoined, msg.Event, "expected a join event first")
		assert.Equal(t, "r1", msg.ChatId, "expected join event to carry the chat id")
		assert.Equal(t, "alice", msg.Identity, "expected join event to name the joiner")

		msg = recvMessage(t, bob)
		assert.Equal(t, EventOnlineCounts, msg.Event, "expected an online counts event second")
		assert.Equal(t, 2, msg.Count, "expected count to include the joiner")

		// the joiner receives its own join event
		msg = recvMessage(t, alice)
		assert.Equal(t, EventUserJoined, msg.Event, "expected the joiner to see its own join")
		msg = recvMessage(t, alice)
		assert.Equal(t, EventOnlineCounts, msg.Event, "expected the joiner to see the counts event")
	})

	t.Run("non-member is rejected", func(t *testing.T) {
		db := &database.MockChatRepository{}
		defer db.AssertExpectations(t)
		db.On("GetChat", mock.Anything, types.ChatKindPrivate, "r1").Return(chat, nil).Once()

		cs := newTestChatServer(t, db, &stats.MockStatsUpdater{})
		r := newTestRoom(t, cs, chat)

		carol := newTestClient(t, cs, "carol", "r1")
		cs.clients["carol"] = carol

		r.handleJoin(&joinRequest{client: carol})

		assert.False(t, r.isOnline("carol"), "expected non-member to stay offline")
		assert.Equal(t, 0, r.onlineCount(), "expected no online participants")

		msg := recvMessage(t, carol)
		assert.NotNil(t, msg.Response, "expected an error response")
		assert.Equal(t, 403, msg.Response.ResponseCode, "expected forbidden response for non-member")
	})

	t.Run("membership refresh admits a newly added member", func(t *testing.T) {
		db := &database.MockChatRepository{}
		defer db.AssertExpectations(t)
		// the chat gained a member since the room was loaded
		db.On("GetChat", mock.Anything, types.ChatKindGroup, "g1").Return(database.Chat{
			Id: "g1", Kind: types.ChatKindGroup, Members: []string{"alice", "bob", "carol"},
		}, nil).Once()

		cs := newTestChatServer(t, db, &stats.MockStatsUpdater{})
		r := newTestRoom(t, cs, database.Chat{Id: "g1", Kind: types.ChatKindGroup, Members: []string{"alice", "bob"}})

		carol := newTestClient(t, cs, "carol", "g1")
		carol.chatKind = types.ChatKindGroup
		cs.clients["carol"] = carol

		r.handleJoin(&joinRequest{client: carol})

		assert.True(t, r.isOnline("carol"), "expected the new member to be admitted")
	})

	t.Run("stopped client is skipped", func(t *testing.T) {
		db := &database.MockChatRepository{}
		defer db.AssertExpectations(t)

		cs := newTestChatServer(t, db, &stats.MockStatsUpdater{})
		r := newTestRoom(t, cs, chat)

		alice := newTestClient(t, cs, "alice", "r1")
		alice.stopClient()

		r.handleJoin(&joinRequest{client: alice})

		assert.Equal(t, 0, r.onlineCount(), "expected no online participants")
		assert.Len(t, alice.send, 0, "expected no messages for a dead connection")
	})

	t.Run("chat deleted after room load", func(t *testing.T) {
		db := &database.MockChatRepository{}
		defer db.AssertExpectations(t)
		db.On("GetChat", mock.Anything, types.ChatKindPrivate, "r1").
			Return(database.Chat{}, database.ErrNotFound).Once()

		cs := newTestChatServer(t, db, &stats.MockStatsUpdater{})
		r := newTestRoom(t, cs, chat)

		alice := newTestClient(t, cs, "alice", "r1")
		r.handleJoin(&joinRequest{client: alice})

		msg := recvMessage(t, alice)
		assert.NotNil(t, msg.Response, "expected an error response")
		assert.Equal(t, 404, msg.Response.ResponseCode, "expected not found response")
		assert.False(t, r.isOnline("alice"), "expected no presence for a failed join")
	})
}

func Test_handleLeave(t *testing.T) {
	chat := database.Chat{Id: "r1", Kind: types.ChatKindPrivate, Members: []string{"alice", "bob"}}

	t.Run("leave notifies remaining participants once", func(t *testing.T) {
		cs := newTestChatServer(t, &database.MockChatRepository{}, &stats.MockStatsUpdater{})
		r := newTestRoom(t, cs, chat)

		alice := newTestClient(t, cs, "alice", "r1")
		bob := newTestClient(t, cs, "bob", "r1")
		cs.clients["alice"] = alice
		cs.clients["bob"] = bob
		r.addOnline("alice")
		r.addOnline("bob")
		alice.addRoom(r)

		r.handleLeave(&leaveRequest{client: alice})

		assert.False(t, r.isOnline("alice"), "expected alice to be offline after leaving")
		assert.Equal(t, 1, r.onlineCount(), "expected one remaining participant")
		assert.Nil(t, alice.getRoom("r1"), "expected the room to be dropped from the client")

		msg := recvMessage(t, bob)
		assert.Equal(t, EventUserLeft, msg.Event, "expected a leave event first")
		assert.Equal(t, "alice", msg.Identity, "expected leave event to name the leaver")
		msg = recvMessage(t, bob)
		assert.Equal(t, EventOnlineCounts, msg.Event, "expected an online counts event second")
		assert.Equal(t, 1, msg.Count, "expected count to exclude the leaver")

		// the leaver is never notified of its own departure
		assert.Len(t, alice.send, 0, "expected no events for the leaver")

		// a duplicate disconnect signal must not produce a second broadcast
		r.handleLeave(&leaveRequest{client: alice})
		assert.Len(t, bob.send, 0, "expected no events for a duplicate leave")
	})

	t.Run("leave from an evicted connection is ignored", func(t *testing.T) {
		cs := newTestChatServer(t, &database.MockChatRepository{}, &stats.MockStatsUpdater{})
		r := newTestRoom(t, cs, chat)

		old := newTestClient(t, cs, "alice", "r1")
		replacement := newTestClient(t, cs, "alice", "r1")
		bob := newTestClient(t, cs, "bob", "r1")
		cs.clients["alice"] = replacement
		cs.clients["bob"] = bob
		r.addOnline("alice")
		r.addOnline("bob")

		r.handleLeave(&leaveRequest{client: old})

		assert.True(t, r.isOnline("alice"), "expected presence to survive the evicted connection's leave")
		assert.Len(t, bob.send, 0, "expected no leave broadcast for an evicted connection")
	})

	t.Run("last leave arms the kill timer", func(t *testing.T) {
		cs := newTestChatServer(t, &database.MockChatRepository{}, &stats.MockStatsUpdater{})
		r := newTestRoom(t, cs, chat)

		alice := newTestClient(t, cs, "alice", "r1")
		cs.clients["alice"] = alice
		r.addOnline("alice")

		r.handleLeave(&leaveRequest{client: alice})

		assert.Equal(t, 0, r.onlineCount(), "expected the room to be empty")
		assert.True(t, r.killTimer.Stop(), "expected the kill timer to be armed")
	})
}

func Test_saveAndBroadcast(t *testing.T) {
	chat := database.Chat{Id: "r1", Kind: types.ChatKindPrivate, Members: []string{"alice", "bob"}}

	t.Run("persists then fans out to everyone but the sender", func(t *testing.T) {
		stored := types.Message{
			Id:        "m1",
			SenderId:  "alice",
			Caption:   "hello",
			CreatedAt: Now(),
		}

		db := &database.MockChatRepository{}
		defer db.AssertExpectations(t)
		db.On("AppendMessage", mock.Anything, types.ChatKindPrivate, "r1", mock.MatchedBy(func(m types.Message) bool {
			return m.SenderId == "alice" && m.Caption == "hello"
		})).Return(stored, nil).Once()

		su := &stats.MockStatsUpdater{}
		su.On("Incr", "NumMessages").Once()
		defer su.AssertExpectations(t)

		cs := newTestChatServer(t, db, su)
		r := newTestRoom(t, cs, chat)

		alice := newTestClient(t, cs, "alice", "r1")
		bob := newTestClient(t, cs, "bob", "r1")
		cs.clients["alice"] = alice
		cs.clients["bob"] = bob
		r.addOnline("alice")
		r.addOnline("bob")

		r.saveAndBroadcast(&ClientMessage{
			ChatKind:  types.ChatKindPrivate,
			SenderId:  "alice",
			Caption:   "hello",
			Timestamp: Now(),
			client:    alice,
		})

		msg := recvMessage(t, bob)
		assert.Equal(t, EventNewMessage, msg.Event, "expected a new message event")
		assert.Equal(t, "r1", msg.ChatId, "expected the event to carry the chat id")
		assert.NotNil(t, msg.Message, "expected the event to carry the stored message")
		assert.Equal(t, "m1", msg.Message.Id, "expected the stored message id")
		assert.Equal(t, "hello", msg.Message.Caption, "expected the stored caption")

		// the sender gets an ack but not its own message back
		msg = recvMessage(t, alice)
		assert.NotNil(t, msg.Response, "expected an ack for the sender")
		assert.Equal(t, 202, msg.Response.ResponseCode, "expected accepted response code")
		assert.Len(t, alice.send, 0, "expected no message event for the sender")
	})

	t.Run("validation failure is reported to the sender only", func(t *testing.T) {
		db := &database.MockChatRepository{}
		defer db.AssertExpectations(t)
		db.On("AppendMessage", mock.Anything, types.ChatKindPrivate, "r1", mock.Anything).
			Return(types.Message{}, database.ErrValidation).Once()

		cs := newTestChatServer(t, db, &stats.MockStatsUpdater{})
		r := newTestRoom(t, cs, chat)

		alice := newTestClient(t, cs, "alice", "r1")
		bob := newTestClient(t, cs, "bob", "r1")
		cs.clients["alice"] = alice
		cs.clients["bob"] = bob
		r.addOnline("alice")
		r.addOnline("bob")

		r.saveAndBroadcast(&ClientMessage{
			ChatKind: types.ChatKindPrivate,
			SenderId: "alice",
			client:   alice,
		})

		msg := recvMessage(t, alice)
		assert.NotNil(t, msg.Response, "expected an error response for the sender")
		assert.Equal(t, 400, msg.Response.ResponseCode, "expected bad request response code")
		assert.Len(t, bob.send, 0, "expected no broadcast on persistence failure")
	})

	t.Run("missing chat is reported as not found", func(t *testing.T) {
		db := &database.MockChatRepository{}
		defer db.AssertExpectations(t)
		db.On("AppendMessage", mock.Anything, types.ChatKindPrivate, "r1", mock.Anything).
			Return(types.Message{}, database.ErrNotFound).Once()

		cs := newTestChatServer(t, db, &stats.MockStatsUpdater{})
		r := newTestRoom(t, cs, chat)

		alice := newTestClient(t, cs, "alice", "r1")
		cs.clients["alice"] = alice
		r.addOnline("alice")

		r.saveAndBroadcast(&ClientMessage{ChatKind: types.ChatKindPrivate, SenderId: "alice", client: alice})

		msg := recvMessage(t, alice)
		assert.Equal(t, 404, msg.Response.ResponseCode, "expected not found response code")
	})

	t.Run("storage failure is reported as internal error", func(t *testing.T) {
		db := &database.MockChatRepository{}
		defer db.AssertExpectations(t)
		db.On("AppendMessage", mock.Anything, types.ChatKindPrivate, "r1", mock.Anything).
			Return(types.Message{}, errors.New("db down")).Once()

		cs := newTestChatServer(t, db, &stats.MockStatsUpdater{})
		r := newTestRoom(t, cs, chat)

		alice := newTestClient(t, cs, "alice", "r1")
		cs.clients["alice"] = alice
		r.addOnline("alice")

		r.saveAndBroadcast(&ClientMessage{ChatKind: types.ChatKindPrivate, SenderId: "alice", client: alice})

		msg := recvMessage(t, alice)
		assert.Equal(t, 500, msg.Response.ResponseCode, "expected internal error response code")
	})
}

func Test_broadcast(t *testing.T) {
	t.Run("skips a participant that went offline", func(t *testing.T) {
		cs := newTestChatServer(t, &database.MockChatRepository{}, &stats.MockStatsUpdater{})
		r := newTestRoom(t, cs, database.Chat{Id: "r1", Kind: types.ChatKindPrivate, Members: []string{"alice", "bob", "carol"}})

		alice := newTestClient(t, cs, "alice", "r1")
		carol := newTestClient(t, cs, "carol", "r1")
		cs.clients["alice"] = alice
		cs.clients["carol"] = carol

		// bob is still in the presence set but its connection is gone
		r.addOnline("alice")
		r.addOnline("bob")
		r.addOnline("carol")

		r.broadcast(&ServerMessage{Event: EventNewMessage, ChatId: "r1"})

		assert.Len(t, alice.send, 1, "expected delivery to alice")
		assert.Len(t, carol.send, 1, "expected delivery to carol")
	})

	t.Run("skips the identity named in SkipIdentity", func(t *testing.T) {
		cs := newTestChatServer(t, &database.MockChatRepository{}, &stats.MockStatsUpdater{})
		r := newTestRoom(t, cs, database.Chat{Id: "r1", Kind: types.ChatKindPrivate, Members: []string{"alice", "bob"}})

		alice := newTestClient(t, cs, "alice", "r1")
		bob := newTestClient(t, cs, "bob", "r1")
		cs.clients["alice"] = alice
		cs.clients["bob"] = bob
		r.addOnline("alice")
		r.addOnline("bob")

		r.broadcast(&ServerMessage{Event: EventNewMessage, ChatId: "r1", SkipIdentity: "alice"})

		assert.Len(t, alice.send, 0, "expected no delivery to the skipped identity")
		assert.Len(t, bob.send, 1, "expected delivery to bob")
	})
}

func Test_handleRoomTimeout(t *testing.T) {
	t.Run("requests unload", func(t *testing.T) {
		cs := newTestChatServer(t, &database.MockChatRepository{}, &stats.MockStatsUpdater{})
		r := newTestRoom(t, cs, database.Chat{Id: "r1", Kind: types.ChatKindPrivate})

		r.handleRoomTimeout()

		select {
		case req := <-cs.unloadRoomChan:
			assert.Equal(t, "r1", req.chatId, "expected unload request for the timed out room")
		default:
			t.Error("expected an unload request")
		}
	})

	t.Run("rearms the timer when the unload channel is full", func(t *testing.T) {
		cs := newTestChatServer(t, &database.MockChatRepository{}, &stats.MockStatsUpdater{})
		cs.unloadRoomChan = make(chan unloadRoomRequest)

		r := newTestRoom(t, cs, database.Chat{Id: "r1", Kind: types.ChatKindPrivate})
		r.handleRoomTimeout()

		assert.True(t, r.killTimer.Stop(), "expected the kill timer to be rearmed")
	})
}

func Test_presenceTracking(t *testing.T) {
	cs := newTestChatServer(t, &database.MockChatRepository{}, &stats.MockStatsUpdater{})
	r := newTestRoom(t, cs, database.Chat{Id: "r1", Kind: types.ChatKindPrivate, Members: []string{"alice", "bob"}})

	assert.Equal(t, 0, r.onlineCount(), "expected an empty presence set")

	r.addOnline("alice")
	assert.True(t, r.isOnline("alice"), "expected alice to be online")
	assert.Equal(t, 1, r.onlineCount(), "expected one online participant")
	assert.Contains(t, r.participants(), "alice", "expected alice in the participant snapshot")

	// adding the same identity twice does not double count
	r.addOnline("alice")
	assert.Equal(t, 1, r.onlineCount(), "expected presence to be a set")

	r.removeOnline("alice")
	assert.False(t, r.isOnline("alice"), "expected alice to be offline after removal")
	assert.Equal(t, 0, r.onlineCount(), "expected an empty presence set after removal")

	// removing an absent identity is a no-op
	r.removeOnline("alice")
	assert.Equal(t, 0, r.onlineCount(), "expected removal to be idempotent")
}
