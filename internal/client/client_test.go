package client

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkravets/signalhub/internal/domain/events"
	"github.com/mkravets/signalhub/internal/e2ee"
)

func TestDispatchUpdatesSession(t *testing.T) {
	var gotUsers []string

	c := New("ws://localhost/api/v1/ws", Handlers{
		OnJoinedRoom: func(roomID string, users []string) {
			gotUsers = users
		},
	})

	c.dispatch([]byte(`{"type":"connected","clientId":"c-1"}`))
	assert.Equal(t, "c-1", c.Session().ClientID())

	c.dispatch([]byte(`{"type":"registered","userId":"alice"}`))
	assert.Equal(t, "alice", c.Session().UserID())

	c.dispatch([]byte(`{"type":"joined-room","roomId":"r1","users":["bob"]}`))
	assert.Equal(t, "r1", c.Session().RoomID())
	assert.Equal(t, []string{"bob"}, gotUsers)
}

func TestDispatchInvokesHandlers(t *testing.T) {
	var (
		chat     events.ChatBroadcastEvent
		caller   string
		callType string
		errMsg   string
	)

	c := New("ws://localhost/api/v1/ws", Handlers{
		OnChatMessage: func(ev events.ChatBroadcastEvent) { chat = ev },
		OnIncomingCall: func(fromUserID, ct string) {
			caller = fromUserID
			callType = ct
		},
		OnError: func(message string) { errMsg = message },
	})

	c.dispatch([]byte(`{"type":"chat-message","userId":"bob","message":"hi","encrypted":false,"timestamp":1700000000000}`))
	assert.Equal(t, "bob", chat.UserID)
	assert.Equal(t, "hi", chat.Message)
	assert.EqualValues(t, 1700000000000, chat.Timestamp)

	c.dispatch([]byte(`{"type":"incoming-call","fromUserId":"bob","callType":"video"}`))
	assert.Equal(t, "bob", caller)
	assert.Equal(t, "video", callType)

	c.dispatch([]byte(`{"type":"error","error":"Target user not found"}`))
	assert.Equal(t, "Target user not found", errMsg)
}

func TestDispatchForwardsSignalPayloadVerbatim(t *testing.T) {
	var (
		gotType string
		gotData json.RawMessage
	)

	c := New("ws://localhost/api/v1/ws", Handlers{
		OnSignal: func(envelopeType, fromUserID string, data json.RawMessage) {
			gotType = envelopeType
			gotData = data
		},
	})

	c.dispatch([]byte(`{"type":"webrtc-offer","fromUserId":"bob","data":{"sdp":"v=0"}}`))

	assert.Equal(t, events.TypeWebRTCOffer, gotType)
	assert.JSONEq(t, `{"sdp":"v=0"}`, string(gotData))
}

func TestDispatchToleratesUnknownAndMalformedFrames(t *testing.T) {
	c := New("ws://localhost/api/v1/ws", Handlers{})

	// Neither may panic.
	c.dispatch([]byte(`{"type":"something-new"}`))
	c.dispatch([]byte(`{broken`))
}

func TestEncryptedChatRoundTrip(t *testing.T) {
	c := New("ws://localhost/api/v1/ws", Handlers{})

	key, err := e2ee.GenerateKey()
	require.NoError(t, err)
	c.Session().SetRoomKey(key)

	require.NoError(t, c.SendEncryptedChat([]byte("привіт, кімнато")))

	// The frame the write pump would send carries sealed base64, not
	// the plaintext.
	payload := <-c.outgoing
	frame, err := json.Marshal(payload)
	require.NoError(t, err)

	var sent events.ChatMessageEvent
	require.NoError(t, json.Unmarshal(frame, &sent))
	assert.True(t, sent.Encrypted)
	assert.NotContains(t, sent.Message, "привіт")

	opened, err := c.OpenChat(sent.Message)
	require.NoError(t, err)
	assert.Equal(t, []byte("привіт, кімнато"), opened)
}

func TestEncryptedChatRequiresKey(t *testing.T) {
	c := New("ws://localhost/api/v1/ws", Handlers{})

	assert.ErrorIs(t, c.SendEncryptedChat([]byte("x")), ErrNoRoomKey)
	_, err := c.OpenChat("AAAA")
	assert.ErrorIs(t, err, ErrNoRoomKey)
}
