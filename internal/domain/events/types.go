package events

import "encoding/json"

// Envelope types sent by clients.
const (
	TypeRegister        = "register"
	TypeJoinRoom        = "join-room"
	TypeLeaveRoom       = "leave-room"
	TypeChatMessage     = "chat-message"
	TypeCallUser        = "call-user"
	TypeCallResponse    = "call-response"
	TypeEndCall         = "end-call"
	TypeWebRTCOffer     = "webrtc-offer"
	TypeWebRTCAnswer    = "webrtc-answer"
	TypeWebRTCCandidate = "webrtc-ice-candidate"
)

// Envelope types sent by the server.
const (
	TypeConnected    = "connected"
	TypeRegistered   = "registered"
	TypeJoinedRoom   = "joined-room"
	TypeUserJoined   = "user-joined"
	TypeUserLeft     = "user-left"
	TypeIncomingCall = "incoming-call"
	TypeCallEnded    = "call-ended"
	TypeError        = "error"
)

// Head is the first decoding pass over an inbound frame: just the
// discriminator. The full frame is decoded again into the matching
// event struct once the type is known.
type Head struct {
	Type string `json:"type"`
}

// RegisterEvent attaches a claimed user label to the connection.
type RegisterEvent struct {
	UserID string `json:"userId"`
}

type JoinRoomEvent struct {
	RoomID string `json:"roomId"`
}

// ChatMessageEvent carries an opaque payload. Message may be ciphertext;
// the server never inspects it.
type ChatMessageEvent struct {
	Message   string `json:"message"`
	Encrypted bool   `json:"encrypted"`
}

type CallUserEvent struct {
	TargetUserID string `json:"targetUserId"`
	CallType     string `json:"callType"`
}

type CallResponseEvent struct {
	TargetUserID string `json:"targetUserId"`
	Accepted     bool   `json:"accepted"`
}

type EndCallEvent struct {
	TargetUserID string `json:"targetUserId"`
}

// SignalEvent is shared by webrtc-offer, webrtc-answer and
// webrtc-ice-candidate: the negotiation payload is relayed verbatim.
type SignalEvent struct {
	TargetUserID string          `json:"targetUserId"`
	Data         json.RawMessage `json:"data"`
}

// ConnectedEvent is the first frame on every new connection.
type ConnectedEvent struct {
	Type     string `json:"type"`
	ClientID string `json:"clientId"`
}

type RegisteredEvent struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
}

// JoinedRoomEvent acknowledges a join. Users lists the members already
// present in the room, excluding the joiner.
type JoinedRoomEvent struct {
	Type   string   `json:"type"`
	RoomID string   `json:"roomId"`
	Users  []string `json:"users"`
}

type UserJoinedEvent struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
}

type UserLeftEvent struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
}

// ChatBroadcastEvent is the room-wide echo of a chat message. Timestamp
// is millisecond epoch, attached by the server at relay time.
type ChatBroadcastEvent struct {
	Type      string `json:"type"`
	UserID    string `json:"userId"`
	Message   string `json:"message"`
	Encrypted bool   `json:"encrypted"`
	Timestamp int64  `json:"timestamp"`
}

type IncomingCallEvent struct {
	Type       string `json:"type"`
	FromUserID string `json:"fromUserId"`
	CallType   string `json:"callType"`
}

type CallResponseForward struct {
	Type       string `json:"type"`
	FromUserID string `json:"fromUserId"`
	Accepted   bool   `json:"accepted"`
}

type CallEndedEvent struct {
	Type       string `json:"type"`
	FromUserID string `json:"fromUserId"`
}

// SignalForward relays a webrtc-* envelope to its target; Type keeps
// the inbound type unchanged.
type SignalForward struct {
	Type       string          `json:"type"`
	FromUserID string          `json:"fromUserId"`
	Data       json.RawMessage `json:"data"`
}

type ErrorEvent struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

func NewError(message string) ErrorEvent {
	return ErrorEvent{Type: TypeError, Error: message}
}
