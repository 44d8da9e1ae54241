package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkravets/signalhub/internal/domain/events"
	"github.com/mkravets/signalhub/internal/infra/adapters/memory"
)

// fakeSender records every frame written to one connection.
type fakeSender struct {
	mu     sync.Mutex
	frames [][]byte
	fail   bool
}

func (f *fakeSender) WriteJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	return f.WriteText(data)
}

func (f *fakeSender) WriteText(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.fail {
		return errors.New("transport gone")
	}

	frame := make([]byte, len(data))
	copy(frame, data)
	f.frames = append(f.frames, frame)

	return nil
}

// ofType returns the decoded frames carrying the given envelope type.
func (f *fakeSender) ofType(t *testing.T, envelopeType string) []map[string]any {
	t.Helper()

	f.mu.Lock()
	defer f.mu.Unlock()

	var out []map[string]any
	for _, frame := range f.frames {
		var m map[string]any
		require.NoError(t, json.Unmarshal(frame, &m))
		if m["type"] == envelopeType {
			out = append(out, m)
		}
	}

	return out
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.frames)
}

type harness struct {
	conns memory.ConnectionRepository
	rooms memory.RoomRepository
	uc    SignalingUsecase
}

func newHarness() *harness {
	conns := memory.NewConnectionRepository()
	rooms := memory.NewRoomRepository()

	return &harness{
		conns: conns,
		rooms: rooms,
		uc:    NewSignalingUsecase(conns, rooms),
	}
}

func (h *harness) connect() (uuid.UUID, *fakeSender) {
	connID := uuid.New()
	sender := &fakeSender{}
	h.uc.HandleOpen(context.Background(), connID, sender)

	return connID, sender
}

func (h *harness) send(connID uuid.UUID, frame string) {
	h.uc.HandleMessage(context.Background(), connID, []byte(frame))
}

func TestConnectedSentOnOpen(t *testing.T) {
	h := newHarness()

	connID, sender := h.connect()

	frames := sender.ofType(t, events.TypeConnected)
	require.Len(t, frames, 1)
	assert.Equal(t, connID.String(), frames[0]["clientId"])
}

func TestRegisterEchoesConfirmation(t *testing.T) {
	h := newHarness()

	connID, sender := h.connect()
	h.send(connID, `{"type":"register","userId":"alice"}`)

	frames := sender.ofType(t, events.TypeRegistered)
	require.Len(t, frames, 1)
	assert.Equal(t, "alice", frames[0]["userId"])
}

func TestRegisterRequiresUserID(t *testing.T) {
	h := newHarness()

	connID, sender := h.connect()
	h.send(connID, `{"type":"register"}`)

	frames := sender.ofType(t, events.TypeError)
	require.Len(t, frames, 1)

	_, found := h.conns.UserID(connID)
	assert.False(t, found)
}

func TestJoinRoomRequiresRegister(t *testing.T) {
	h := newHarness()

	connID, sender := h.connect()
	h.send(connID, `{"type":"join-room","roomId":"r1"}`)

	frames := sender.ofType(t, events.TypeError)
	require.Len(t, frames, 1)

	_, inRoom := h.rooms.RoomOf(connID)
	assert.False(t, inRoom, "failed join must not change membership")
	assert.Empty(t, h.rooms.Members("r1"))
}

func TestJoinRoomPresence(t *testing.T) {
	h := newHarness()

	alice, aliceSender := h.connect()
	h.send(alice, `{"type":"register","userId":"alice"}`)
	h.send(alice, `{"type":"join-room","roomId":"r1"}`)

	joined := aliceSender.ofType(t, events.TypeJoinedRoom)
	require.Len(t, joined, 1)
	assert.Equal(t, "r1", joined[0]["roomId"])
	assert.Empty(t, joined[0]["users"], "first member sees an empty roster")

	bob, bobSender := h.connect()
	h.send(bob, `{"type":"register","userId":"bob"}`)
	h.send(bob, `{"type":"join-room","roomId":"r1"}`)

	// Bob's roster lists only who was already there.
	joined = bobSender.ofType(t, events.TypeJoinedRoom)
	require.Len(t, joined, 1)
	assert.Equal(t, []any{"alice"}, joined[0]["users"])

	// Alice is told about bob; bob gets no echo of his own join.
	userJoined := aliceSender.ofType(t, events.TypeUserJoined)
	require.Len(t, userJoined, 1)
	assert.Equal(t, "bob", userJoined[0]["userId"])
	assert.Empty(t, bobSender.ofType(t, events.TypeUserJoined))
}

func TestConnectionInAtMostOneRoom(t *testing.T) {
	h := newHarness()

	connID, _ := h.connect()
	h.send(connID, `{"type":"register","userId":"alice"}`)

	for _, room := range []string{"r1", "r2", "r1", "r3"} {
		h.send(connID, fmt.Sprintf(`{"type":"join-room","roomId":%q}`, room))

		current, ok := h.rooms.RoomOf(connID)
		require.True(t, ok)
		assert.Equal(t, room, current)

		// Old rooms emptied and were reaped.
		for _, other := range []string{"r1", "r2", "r3"} {
			if other != room {
				assert.Empty(t, h.rooms.Members(other))
			}
		}
	}
}

func TestSwitchRoomsNotifiesOldRoom(t *testing.T) {
	h := newHarness()

	alice, _ := h.connect()
	h.send(alice, `{"type":"register","userId":"alice"}`)
	h.send(alice, `{"type":"join-room","roomId":"r1"}`)

	bob, bobSender := h.connect()
	h.send(bob, `{"type":"register","userId":"bob"}`)
	h.send(bob, `{"type":"join-room","roomId":"r1"}`)

	h.send(alice, `{"type":"join-room","roomId":"r2"}`)

	left := bobSender.ofType(t, events.TypeUserLeft)
	require.Len(t, left, 1)
	assert.Equal(t, "alice", left[0]["userId"])
}

func TestLeaveRoomIdempotentFromNoRoom(t *testing.T) {
	h := newHarness()

	connID, sender := h.connect()
	h.send(connID, `{"type":"register","userId":"alice"}`)

	before := sender.count()
	h.send(connID, `{"type":"leave-room"}`)

	assert.Equal(t, before, sender.count(), "leaving from NoRoom is a silent no-op")
}

func TestChatRequiresRoom(t *testing.T) {
	h := newHarness()

	connID, sender := h.connect()
	h.send(connID, `{"type":"register","userId":"alice"}`)
	h.send(connID, `{"type":"chat-message","message":"hi","encrypted":false}`)

	frames := sender.ofType(t, events.TypeError)
	require.Len(t, frames, 1)
}

func TestChatBroadcastIncludesSender(t *testing.T) {
	h := newHarness()

	alice, aliceSender := h.connect()
	h.send(alice, `{"type":"register","userId":"alice"}`)
	h.send(alice, `{"type":"join-room","roomId":"r1"}`)

	bob, bobSender := h.connect()
	h.send(bob, `{"type":"register","userId":"bob"}`)
	h.send(bob, `{"type":"join-room","roomId":"r1"}`)

	start := time.Now().UnixMilli()
	h.send(alice, `{"type":"chat-message","message":"hi","encrypted":false}`)

	for _, sender := range []*fakeSender{aliceSender, bobSender} {
		frames := sender.ofType(t, events.TypeChatMessage)
		require.Len(t, frames, 1, "every member gets exactly one copy, sender included")
		assert.Equal(t, "alice", frames[0]["userId"])
		assert.Equal(t, "hi", frames[0]["message"])
		assert.Equal(t, false, frames[0]["encrypted"])

		ts := int64(frames[0]["timestamp"].(float64))
		assert.GreaterOrEqual(t, ts, start)
		assert.LessOrEqual(t, ts, time.Now().UnixMilli())
	}

	// Copies are byte-identical: the payload is serialized once.
	aliceFrame := aliceSender.frames[len(aliceSender.frames)-1]
	bobFrame := bobSender.frames[len(bobSender.frames)-1]
	assert.Equal(t, aliceFrame, bobFrame)
}

func TestChatCarriesOpaqueCiphertext(t *testing.T) {
	h := newHarness()

	alice, aliceSender := h.connect()
	h.send(alice, `{"type":"register","userId":"alice"}`)
	h.send(alice, `{"type":"join-room","roomId":"r1"}`)

	h.send(alice, `{"type":"chat-message","message":"bm90IGZvciB0aGUgc2VydmVy","encrypted":true}`)

	frames := aliceSender.ofType(t, events.TypeChatMessage)
	require.Len(t, frames, 1)
	assert.Equal(t, "bm90IGZvciB0aGUgc2VydmVy", frames[0]["message"])
	assert.Equal(t, true, frames[0]["encrypted"])
}

func TestBroadcastIsolatesRecipientFailures(t *testing.T) {
	h := newHarness()

	alice, _ := h.connect()
	h.send(alice, `{"type":"register","userId":"alice"}`)
	h.send(alice, `{"type":"join-room","roomId":"r1"}`)

	bob, bobSender := h.connect()
	h.send(bob, `{"type":"register","userId":"bob"}`)
	h.send(bob, `{"type":"join-room","roomId":"r1"}`)

	carol, carolSender := h.connect()
	h.send(carol, `{"type":"register","userId":"carol"}`)
	h.send(carol, `{"type":"join-room","roomId":"r1"}`)

	bobSender.fail = true

	h.send(alice, `{"type":"chat-message","message":"hi","encrypted":false}`)

	assert.Len(t, carolSender.ofType(t, events.TypeChatMessage), 1,
		"one dead transport must not abort delivery to the rest")
}

func TestCallFlow(t *testing.T) {
	h := newHarness()

	alice, aliceSender := h.connect()
	h.send(alice, `{"type":"register","userId":"alice"}`)

	bob, bobSender := h.connect()
	h.send(bob, `{"type":"register","userId":"bob"}`)

	h.send(alice, `{"type":"call-user","targetUserId":"bob","callType":"voice"}`)

	incoming := bobSender.ofType(t, events.TypeIncomingCall)
	require.Len(t, incoming, 1)
	assert.Equal(t, "alice", incoming[0]["fromUserId"])
	assert.Equal(t, "voice", incoming[0]["callType"])

	h.send(bob, `{"type":"call-response","targetUserId":"alice","accepted":true}`)

	response := aliceSender.ofType(t, events.TypeCallResponse)
	require.Len(t, response, 1)
	assert.Equal(t, "bob", response[0]["fromUserId"])
	assert.Equal(t, true, response[0]["accepted"])

	h.send(alice, `{"type":"end-call","targetUserId":"bob"}`)

	ended := bobSender.ofType(t, events.TypeCallEnded)
	require.Len(t, ended, 1)
	assert.Equal(t, "alice", ended[0]["fromUserId"])
}

func TestCallCrossesRooms(t *testing.T) {
	h := newHarness()

	alice, _ := h.connect()
	h.send(alice, `{"type":"register","userId":"alice"}`)
	h.send(alice, `{"type":"join-room","roomId":"r1"}`)

	bob, bobSender := h.connect()
	h.send(bob, `{"type":"register","userId":"bob"}`)
	h.send(bob, `{"type":"join-room","roomId":"r2"}`)

	h.send(alice, `{"type":"call-user","targetUserId":"bob","callType":"video"}`)

	require.Len(t, bobSender.ofType(t, events.TypeIncomingCall), 1,
		"relays are not room-scoped")
}

func TestCallUnknownTarget(t *testing.T) {
	h := newHarness()

	alice, aliceSender := h.connect()
	h.send(alice, `{"type":"register","userId":"alice"}`)

	bob, bobSender := h.connect()
	h.send(bob, `{"type":"register","userId":"bob"}`)

	bobFramesBefore := bobSender.count()

	h.send(alice, `{"type":"call-user","targetUserId":"nobody","callType":"voice"}`)

	frames := aliceSender.ofType(t, events.TypeError)
	require.Len(t, frames, 1)
	assert.Equal(t, "Target user not found", frames[0]["error"])
	assert.Equal(t, bobFramesBefore, bobSender.count(), "nothing delivered anywhere")
}

func TestWebRTCRelayForwardsVerbatim(t *testing.T) {
	h := newHarness()

	alice, _ := h.connect()
	h.send(alice, `{"type":"register","userId":"alice"}`)

	bob, bobSender := h.connect()
	h.send(bob, `{"type":"register","userId":"bob"}`)

	h.send(alice, `{"type":"webrtc-offer","targetUserId":"bob","data":{"sdp":"v=0...","type":"offer"}}`)

	offers := bobSender.ofType(t, events.TypeWebRTCOffer)
	require.Len(t, offers, 1)
	assert.Equal(t, "alice", offers[0]["fromUserId"])
	assert.Equal(t, map[string]any{"sdp": "v=0...", "type": "offer"}, offers[0]["data"])
}

func TestICECandidateWithoutHandshakeIsDelivered(t *testing.T) {
	h := newHarness()

	alice, _ := h.connect()
	h.send(alice, `{"type":"register","userId":"alice"}`)

	bob, bobSender := h.connect()
	h.send(bob, `{"type":"register","userId":"bob"}`)

	// No call-user, no offer. The server holds no call state, so the
	// candidate is simply forwarded.
	h.send(alice, `{"type":"webrtc-ice-candidate","targetUserId":"bob","data":{"candidate":"candidate:1"}}`)

	require.Len(t, bobSender.ofType(t, events.TypeWebRTCCandidate), 1)
}

func TestDuplicateUserIDLastRegistrationWins(t *testing.T) {
	h := newHarness()

	first, firstSender := h.connect()
	h.send(first, `{"type":"register","userId":"alice"}`)

	second, secondSender := h.connect()
	h.send(second, `{"type":"register","userId":"alice"}`)

	caller, _ := h.connect()
	h.send(caller, `{"type":"register","userId":"bob"}`)
	h.send(caller, `{"type":"call-user","targetUserId":"alice","callType":"voice"}`)

	assert.Empty(t, firstSender.ofType(t, events.TypeIncomingCall))
	assert.Len(t, secondSender.ofType(t, events.TypeIncomingCall), 1)
}

func TestDisconnectNotifiesRoom(t *testing.T) {
	h := newHarness()

	alice, _ := h.connect()
	h.send(alice, `{"type":"register","userId":"alice"}`)
	h.send(alice, `{"type":"join-room","roomId":"r1"}`)

	bob, bobSender := h.connect()
	h.send(bob, `{"type":"register","userId":"bob"}`)
	h.send(bob, `{"type":"join-room","roomId":"r1"}`)

	h.uc.HandleClose(context.Background(), alice)

	left := bobSender.ofType(t, events.TypeUserLeft)
	require.Len(t, left, 1)
	assert.Equal(t, "alice", left[0]["userId"])

	// Alice's label is released with the connection.
	_, found := h.conns.FindByUserID("alice")
	assert.False(t, found)

	// Once bob leaves too, the room is gone.
	h.send(bob, `{"type":"leave-room"}`)
	assert.Empty(t, h.rooms.Members("r1"))
}

func TestMalformedEnvelope(t *testing.T) {
	h := newHarness()

	connID, sender := h.connect()
	h.send(connID, `{not json`)

	frames := sender.ofType(t, events.TypeError)
	require.Len(t, frames, 1)
	assert.Equal(t, "Malformed envelope", frames[0]["error"])
}

func TestMalformedPayloadFields(t *testing.T) {
	h := newHarness()

	connID, sender := h.connect()
	h.send(connID, `{"type":"register","userId":42}`)

	frames := sender.ofType(t, events.TypeError)
	require.Len(t, frames, 1)
	assert.Equal(t, "Malformed envelope", frames[0]["error"])
}

func TestUnknownTypeIgnored(t *testing.T) {
	h := newHarness()

	connID, sender := h.connect()

	before := sender.count()
	h.send(connID, `{"type":"typing-indicator","userId":"alice"}`)

	assert.Equal(t, before, sender.count(), "unknown types get no reply at all")
}
