package memory

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/mkravets/signalhub/internal/application/constant"
	"github.com/mkravets/signalhub/internal/application/metric"
)

// Sender delivers payloads to a single transport. The production
// implementation wraps *websocket.Conn; tests substitute their own.
type Sender interface {
	WriteJSON(v any) error
	WriteText(data []byte) error
}

// safeWS serializes writes to one websocket connection. gorilla allows
// only a single concurrent writer per connection.
type safeWS struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func NewWebsocketSender(conn *websocket.Conn) Sender {
	return &safeWS{conn: conn}
}

func (s *safeWS) WriteJSON(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.conn.WriteJSON(v)
}

func (s *safeWS) WriteText(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// ConnectionRepository tracks live connections and the user label each
// one has claimed. Entries exist from transport open to transport close.
type ConnectionRepository interface {
	Add(connID uuid.UUID, sender Sender)
	Remove(connID uuid.UUID)

	// SetIdentity attaches a claimed user label. Labels are not
	// authenticated and not unique: when two connections claim the same
	// label, the most recent registration wins lookups.
	SetIdentity(connID uuid.UUID, userID string)

	UserID(connID uuid.UUID) (string, bool)
	FindByUserID(userID string) (uuid.UUID, bool)

	// Write sends a payload to one connection. Failures are logged and
	// swallowed so one dead transport never aborts a caller's loop.
	Write(connID uuid.UUID, payload any)
	WriteText(connID uuid.UUID, data []byte)
}

type connection struct {
	sender Sender
	userID string
}

type connectionRepository struct {
	conns  map[uuid.UUID]*connection
	byUser map[string]uuid.UUID

	mu sync.RWMutex
}

func NewConnectionRepository() ConnectionRepository {
	return &connectionRepository{
		conns:  make(map[uuid.UUID]*connection, 16),
		byUser: make(map[string]uuid.UUID, 16),
	}
}

func (r *connectionRepository) Add(connID uuid.UUID, sender Sender) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.conns[connID] = &connection{sender: sender}

	metric.IncrementWSActiveConnections()
}

func (r *connectionRepository) Remove(connID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.conns[connID]
	if !ok {
		return
	}

	delete(r.conns, connID)

	// Drop the label index only if this connection still owns it.
	if conn.userID != "" && r.byUser[conn.userID] == connID {
		delete(r.byUser, conn.userID)
	}

	metric.DecrementWSActiveConnections()
}

func (r *connectionRepository) SetIdentity(connID uuid.UUID, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.conns[connID]
	if !ok {
		slog.Warn("set identity for unknown connection",
			slog.String(constant.ConnID, connID.String()),
			slog.String(constant.UserID, userID),
		)
		return
	}

	if conn.userID != "" && r.byUser[conn.userID] == connID {
		delete(r.byUser, conn.userID)
	}

	conn.userID = userID
	r.byUser[userID] = connID
}

func (r *connectionRepository) UserID(connID uuid.UUID) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.conns[connID]
	if !ok || conn.userID == "" {
		return "", false
	}

	return conn.userID, true
}

func (r *connectionRepository) FindByUserID(userID string) (uuid.UUID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	connID, ok := r.byUser[userID]
	return connID, ok
}

func (r *connectionRepository) Write(connID uuid.UUID, payload any) {
	sender, ok := r.sender(connID)
	if !ok {
		return
	}

	if err := sender.WriteJSON(payload); err != nil {
		slog.Error("write to connection",
			slog.Any(constant.Error, err),
			slog.String(constant.ConnID, connID.String()),
		)
	}
}

func (r *connectionRepository) WriteText(connID uuid.UUID, data []byte) {
	sender, ok := r.sender(connID)
	if !ok {
		return
	}

	if err := sender.WriteText(data); err != nil {
		slog.Error("write to connection",
			slog.Any(constant.Error, err),
			slog.String(constant.ConnID, connID.String()),
		)
	}
}

func (r *connectionRepository) sender(connID uuid.UUID) (Sender, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.conns[connID]
	if !ok {
		return nil, false
	}

	return conn.sender, true
}
