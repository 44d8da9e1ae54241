package client

import (
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/mkravets/signalhub/internal/e2ee"
)

// Session is the client-side state for one connection to the relay:
// the server-assigned client id, the claimed identity, the current
// room, the optional room key and the peer connection for an active
// call. All call-state knowledge lives here — the server keeps none.
type Session struct {
	mu sync.RWMutex

	clientID string
	userID   string
	roomID   string

	roomKey *[e2ee.KeySize]byte

	pc *webrtc.PeerConnection
}

func (s *Session) ClientID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.clientID
}

func (s *Session) UserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.userID
}

func (s *Session) RoomID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.roomID
}

// SetRoomKey installs the shared key used to seal chat payloads.
func (s *Session) SetRoomKey(key *[e2ee.KeySize]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.roomKey = key
}

func (s *Session) RoomKey() *[e2ee.KeySize]byte {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.roomKey
}

// EnsurePeerConnection returns the peer connection for the active call,
// creating it on first use.
func (s *Session) EnsurePeerConnection(iceServers []webrtc.ICEServer) (*webrtc.PeerConnection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pc != nil {
		return s.pc, nil
	}

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}

	s.pc = pc
	return pc, nil
}

// ClosePeerConnection tears down the active call, if any.
func (s *Session) ClosePeerConnection() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pc == nil {
		return nil
	}

	err := s.pc.Close()
	s.pc = nil

	return err
}

func (s *Session) setClientID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.clientID = id
}

func (s *Session) setUserID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.userID = id
}

func (s *Session) setRoomID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.roomID = id
}
