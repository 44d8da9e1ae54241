// Package client is the Go consumer of the relay: it speaks the wire
// envelope catalogue, keeps the per-connection Session up to date and
// surfaces server events through callbacks.
package client

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mkravets/signalhub/internal/application/constant"
	"github.com/mkravets/signalhub/internal/domain/events"
	"github.com/mkravets/signalhub/internal/e2ee"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

var ErrNoRoomKey = errors.New("client: no room key installed")

// Handlers receives server events. Nil fields are skipped.
type Handlers struct {
	OnConnected    func(clientID string)
	OnRegistered   func(userID string)
	OnJoinedRoom   func(roomID string, users []string)
	OnUserJoined   func(userID string)
	OnUserLeft     func(userID string)
	OnChatMessage  func(ev events.ChatBroadcastEvent)
	OnIncomingCall func(fromUserID, callType string)
	OnCallResponse func(fromUserID string, accepted bool)
	OnCallEnded    func(fromUserID string)
	OnSignal       func(envelopeType, fromUserID string, data json.RawMessage)
	OnError        func(message string)
}

// Client manages the WebSocket connection to the relay.
type Client struct {
	conn      *websocket.Conn
	serverURL string

	outgoing chan any
	done     chan struct{}
	closed   bool

	handlers Handlers
	session  *Session
}

func New(serverURL string, handlers Handlers) *Client {
	return &Client{
		serverURL: serverURL,
		outgoing:  make(chan any, 8),
		done:      make(chan struct{}),
		handlers:  handlers,
		session:   &Session{},
	}
}

func (c *Client) Session() *Session {
	return c.session
}

// Connect establishes the WebSocket connection and starts the pumps.
func (c *Client) Connect() error {
	u, err := url.Parse(c.serverURL)
	if err != nil {
		return fmt.Errorf("invalid server URL: %w", err)
	}

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	c.conn = conn

	c.conn.SetReadLimit(maxMessageSize)

	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go c.readPump()
	go c.writePump()

	return nil
}

// Close closes the connection and stops the pumps.
func (c *Client) Close() {
	if c.closed {
		return
	}
	c.closed = true

	close(c.done)
}

func (c *Client) readPump() {
	defer c.conn.Close()

	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return
	}

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		c.dispatch(raw)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload := <-c.outgoing:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(payload); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

// dispatch updates session state and invokes the matching handler.
func (c *Client) dispatch(raw []byte) {
	var head events.Head
	if err := json.Unmarshal(raw, &head); err != nil {
		slog.Warn("client: malformed server frame", slog.Any(constant.Error, err))
		return
	}

	switch head.Type {
	case events.TypeConnected:
		var ev events.ConnectedEvent
		if json.Unmarshal(raw, &ev) != nil {
			return
		}
		c.session.setClientID(ev.ClientID)
		if c.handlers.OnConnected != nil {
			c.handlers.OnConnected(ev.ClientID)
		}

	case events.TypeRegistered:
		var ev events.RegisteredEvent
		if json.Unmarshal(raw, &ev) != nil {
			return
		}
		c.session.setUserID(ev.UserID)
		if c.handlers.OnRegistered != nil {
			c.handlers.OnRegistered(ev.UserID)
		}

	case events.TypeJoinedRoom:
		var ev events.JoinedRoomEvent
		if json.Unmarshal(raw, &ev) != nil {
			return
		}
		c.session.setRoomID(ev.RoomID)
		if c.handlers.OnJoinedRoom != nil {
			c.handlers.OnJoinedRoom(ev.RoomID, ev.Users)
		}

	case events.TypeUserJoined:
		var ev events.UserJoinedEvent
		if json.Unmarshal(raw, &ev) != nil {
			return
		}
		if c.handlers.OnUserJoined != nil {
			c.handlers.OnUserJoined(ev.UserID)
		}

	case events.TypeUserLeft:
		var ev events.UserLeftEvent
		if json.Unmarshal(raw, &ev) != nil {
			return
		}
		if c.handlers.OnUserLeft != nil {
			c.handlers.OnUserLeft(ev.UserID)
		}

	case events.TypeChatMessage:
		var ev events.ChatBroadcastEvent
		if json.Unmarshal(raw, &ev) != nil {
			return
		}
		if c.handlers.OnChatMessage != nil {
			c.handlers.OnChatMessage(ev)
		}

	case events.TypeIncomingCall:
		var ev events.IncomingCallEvent
		if json.Unmarshal(raw, &ev) != nil {
			return
		}
		if c.handlers.OnIncomingCall != nil {
			c.handlers.OnIncomingCall(ev.FromUserID, ev.CallType)
		}

	case events.TypeCallResponse:
		var ev events.CallResponseForward
		if json.Unmarshal(raw, &ev) != nil {
			return
		}
		if c.handlers.OnCallResponse != nil {
			c.handlers.OnCallResponse(ev.FromUserID, ev.Accepted)
		}

	case events.TypeCallEnded:
		var ev events.CallEndedEvent
		if json.Unmarshal(raw, &ev) != nil {
			return
		}
		if err := c.session.ClosePeerConnection(); err != nil {
			slog.Warn("client: close peer connection", slog.Any(constant.Error, err))
		}
		if c.handlers.OnCallEnded != nil {
			c.handlers.OnCallEnded(ev.FromUserID)
		}

	case events.TypeWebRTCOffer, events.TypeWebRTCAnswer, events.TypeWebRTCCandidate:
		var ev events.SignalForward
		if json.Unmarshal(raw, &ev) != nil {
			return
		}
		if c.handlers.OnSignal != nil {
			c.handlers.OnSignal(ev.Type, ev.FromUserID, ev.Data)
		}

	case events.TypeError:
		var ev events.ErrorEvent
		if json.Unmarshal(raw, &ev) != nil {
			return
		}
		if c.handlers.OnError != nil {
			c.handlers.OnError(ev.Error)
		}

	default:
		slog.Warn("client: unknown envelope type", slog.String(constant.Type, head.Type))
	}
}

func (c *Client) send(payload any) {
	select {
	case c.outgoing <- payload:
	case <-c.done:
	}
}

func (c *Client) Register(userID string) {
	c.send(struct {
		Type   string `json:"type"`
		UserID string `json:"userId"`
	}{events.TypeRegister, userID})
}

func (c *Client) JoinRoom(roomID string) {
	c.send(struct {
		Type   string `json:"type"`
		RoomID string `json:"roomId"`
	}{events.TypeJoinRoom, roomID})
}

func (c *Client) LeaveRoom() {
	c.session.setRoomID("")
	c.send(events.Head{Type: events.TypeLeaveRoom})
}

// SendChat sends a plaintext chat message to the current room.
func (c *Client) SendChat(message string) {
	c.sendChat(message, false)
}

// SendEncryptedChat seals plaintext under the installed room key and
// sends it with the encrypted flag set. The relay carries the sealed
// payload without inspecting it.
func (c *Client) SendEncryptedChat(plaintext []byte) error {
	key := c.session.RoomKey()
	if key == nil {
		return ErrNoRoomKey
	}

	sealed, err := e2ee.Seal(plaintext, key)
	if err != nil {
		return fmt.Errorf("seal chat payload: %w", err)
	}

	c.sendChat(base64.StdEncoding.EncodeToString(sealed), true)
	return nil
}

// OpenChat decodes and opens a sealed chat payload received in a
// chat-message event with the encrypted flag set.
func (c *Client) OpenChat(message string) ([]byte, error) {
	key := c.session.RoomKey()
	if key == nil {
		return nil, ErrNoRoomKey
	}

	sealed, err := base64.StdEncoding.DecodeString(message)
	if err != nil {
		return nil, fmt.Errorf("decode chat payload: %w", err)
	}

	return e2ee.Open(sealed, key)
}

func (c *Client) sendChat(message string, encrypted bool) {
	c.send(struct {
		Type      string `json:"type"`
		Message   string `json:"message"`
		Encrypted bool   `json:"encrypted"`
	}{events.TypeChatMessage, message, encrypted})
}

func (c *Client) CallUser(targetUserID, callType string) {
	c.send(struct {
		Type         string `json:"type"`
		TargetUserID string `json:"targetUserId"`
		CallType     string `json:"callType"`
	}{events.TypeCallUser, targetUserID, callType})
}

func (c *Client) RespondToCall(targetUserID string, accepted bool) {
	c.send(struct {
		Type         string `json:"type"`
		TargetUserID string `json:"targetUserId"`
		Accepted     bool   `json:"accepted"`
	}{events.TypeCallResponse, targetUserID, accepted})
}

func (c *Client) EndCall(targetUserID string) {
	c.send(struct {
		Type         string `json:"type"`
		TargetUserID string `json:"targetUserId"`
	}{events.TypeEndCall, targetUserID})
}

// Signal relays a WebRTC negotiation payload (offer, answer or ICE
// candidate) to the target user. envelopeType must be one of the
// webrtc-* types.
func (c *Client) Signal(envelopeType, targetUserID string, data json.RawMessage) {
	c.send(struct {
		Type         string          `json:"type"`
		TargetUserID string          `json:"targetUserId"`
		Data         json.RawMessage `json:"data"`
	}{envelopeType, targetUserID, data})
}
