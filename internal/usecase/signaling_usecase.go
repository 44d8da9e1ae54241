package usecase

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mkravets/signalhub/internal/application/constant"
	"github.com/mkravets/signalhub/internal/application/metric"
	"github.com/mkravets/signalhub/internal/domain/events"
	"github.com/mkravets/signalhub/internal/infra/adapters/memory"
)

// Router error messages.
const (
	errMalformedEnvelope = "Malformed envelope"
	errUserIDRequired    = "userId is required"
	errRoomIDRequired    = "roomId is required"
	errNotRegistered     = "Must register before joining a room"
	errNotInRoom         = "You are not in a room"
	errTargetNotFound    = "Target user not found"
)

// SignalingUsecase routes every inbound envelope and owns all registry
// and room directory mutation. Call-related envelopes are relayed
// without any server-side call state: the server never knows whether a
// call is active, so negotiation payloads are deliverable at any time.
type SignalingUsecase interface {
	HandleOpen(ctx context.Context, connID uuid.UUID, sender memory.Sender)
	HandleMessage(ctx context.Context, connID uuid.UUID, raw []byte)
	HandleClose(ctx context.Context, connID uuid.UUID)
}

type signalingUsecase struct {
	connRepo memory.ConnectionRepository
	roomRepo memory.RoomRepository
}

func NewSignalingUsecase(
	connRepo memory.ConnectionRepository,
	roomRepo memory.RoomRepository,
) SignalingUsecase {
	return &signalingUsecase{
		connRepo: connRepo,
		roomRepo: roomRepo,
	}
}

func (s *signalingUsecase) HandleOpen(ctx context.Context, connID uuid.UUID, sender memory.Sender) {
	s.connRepo.Add(connID, sender)

	s.connRepo.Write(connID, events.ConnectedEvent{
		Type:     events.TypeConnected,
		ClientID: connID.String(),
	})

	slog.Info("connection opened", slog.String(constant.ConnID, connID.String()))
}

// HandleClose releases everything the connection held. Room membership
// is released before the registry entry so remaining members can still
// be notified. A peer in an active call with this connection is not
// notified: the server holds no call state to know such a peer exists,
// and the peer detects the loss through its own transport failure.
func (s *signalingUsecase) HandleClose(ctx context.Context, connID uuid.UUID) {
	s.leaveAndNotify(connID)
	s.connRepo.Remove(connID)

	slog.Info("connection closed", slog.String(constant.ConnID, connID.String()))
}

func (s *signalingUsecase) HandleMessage(ctx context.Context, connID uuid.UUID, raw []byte) {
	var head events.Head
	if err := json.Unmarshal(raw, &head); err != nil {
		s.connRepo.Write(connID, events.NewError(errMalformedEnvelope))
		return
	}

	metric.RecordEnvelope(head.Type)

	switch head.Type {
	case events.TypeRegister:
		s.handleRegister(connID, raw)
	case events.TypeJoinRoom:
		s.handleJoinRoom(connID, raw)
	case events.TypeLeaveRoom:
		s.leaveAndNotify(connID)
	case events.TypeChatMessage:
		s.handleChatMessage(connID, raw)
	case events.TypeCallUser:
		s.handleCallUser(connID, raw)
	case events.TypeCallResponse:
		s.handleCallResponse(connID, raw)
	case events.TypeEndCall:
		s.handleEndCall(connID, raw)
	case events.TypeWebRTCOffer, events.TypeWebRTCAnswer, events.TypeWebRTCCandidate:
		s.handleSignal(connID, head.Type, raw)
	default:
		// Lenient by policy: newer clients may send types this server
		// does not understand yet.
		slog.Warn("unknown envelope type",
			slog.String(constant.Type, head.Type),
			slog.String(constant.ConnID, connID.String()),
		)
	}
}

func (s *signalingUsecase) handleRegister(connID uuid.UUID, raw []byte) {
	var ev events.RegisterEvent
	if !s.decode(connID, raw, &ev) {
		return
	}

	if ev.UserID == "" {
		s.connRepo.Write(connID, events.NewError(errUserIDRequired))
		return
	}

	s.connRepo.SetIdentity(connID, ev.UserID)

	s.connRepo.Write(connID, events.RegisteredEvent{
		Type:   events.TypeRegistered,
		UserID: ev.UserID,
	})

	slog.Info("user registered",
		slog.String(constant.ConnID, connID.String()),
		slog.String(constant.UserID, ev.UserID),
	)
}

func (s *signalingUsecase) handleJoinRoom(connID uuid.UUID, raw []byte) {
	var ev events.JoinRoomEvent
	if !s.decode(connID, raw, &ev) {
		return
	}

	userID, ok := s.connRepo.UserID(connID)
	if !ok {
		s.connRepo.Write(connID, events.NewError(errNotRegistered))
		return
	}

	if ev.RoomID == "" {
		s.connRepo.Write(connID, events.NewError(errRoomIDRequired))
		return
	}

	// Switching rooms notifies the old room the same way an explicit
	// leave-room would.
	s.leaveAndNotify(connID)

	others := s.roomRepo.Join(ev.RoomID, connID)

	users := make([]string, 0, len(others))
	for _, other := range others {
		if otherID, ok := s.connRepo.UserID(other); ok {
			users = append(users, otherID)
		}
	}

	s.connRepo.Write(connID, events.JoinedRoomEvent{
		Type:   events.TypeJoinedRoom,
		RoomID: ev.RoomID,
		Users:  users,
	})

	s.broadcast(others, events.UserJoinedEvent{
		Type:   events.TypeUserJoined,
		UserID: userID,
	})

	slog.Info("user joined room",
		slog.String(constant.UserID, userID),
		slog.String(constant.RoomID, ev.RoomID),
	)
}

// leaveAndNotify backs both the leave-room envelope and the implicit
// leave on disconnect or room switch. No-op for roomless connections.
func (s *signalingUsecase) leaveAndNotify(connID uuid.UUID) {
	userID, _ := s.connRepo.UserID(connID)

	roomID, remaining := s.roomRepo.Leave(connID)
	if roomID == "" {
		return
	}

	s.broadcast(remaining, events.UserLeftEvent{
		Type:   events.TypeUserLeft,
		UserID: userID,
	})

	slog.Info("user left room",
		slog.String(constant.UserID, userID),
		slog.String(constant.RoomID, roomID),
	)
}

func (s *signalingUsecase) handleChatMessage(connID uuid.UUID, raw []byte) {
	var ev events.ChatMessageEvent
	if !s.decode(connID, raw, &ev) {
		return
	}

	roomID, ok := s.roomRepo.RoomOf(connID)
	if !ok {
		s.connRepo.Write(connID, events.NewError(errNotInRoom))
		return
	}

	userID, _ := s.connRepo.UserID(connID)

	// The whole room gets the echo, sender included: the sender relies
	// on it for confirmation and ordering.
	s.broadcast(s.roomRepo.Members(roomID), events.ChatBroadcastEvent{
		Type:      events.TypeChatMessage,
		UserID:    userID,
		Message:   ev.Message,
		Encrypted: ev.Encrypted,
		Timestamp: time.Now().UnixMilli(),
	})
}

func (s *signalingUsecase) handleCallUser(connID uuid.UUID, raw []byte) {
	var ev events.CallUserEvent
	if !s.decode(connID, raw, &ev) {
		return
	}

	target, ok := s.findTarget(connID, ev.TargetUserID)
	if !ok {
		return
	}

	fromUserID, _ := s.connRepo.UserID(connID)

	s.connRepo.Write(target, events.IncomingCallEvent{
		Type:       events.TypeIncomingCall,
		FromUserID: fromUserID,
		CallType:   ev.CallType,
	})
}

func (s *signalingUsecase) handleCallResponse(connID uuid.UUID, raw []byte) {
	var ev events.CallResponseEvent
	if !s.decode(connID, raw, &ev) {
		return
	}

	target, ok := s.findTarget(connID, ev.TargetUserID)
	if !ok {
		return
	}

	fromUserID, _ := s.connRepo.UserID(connID)

	s.connRepo.Write(target, events.CallResponseForward{
		Type:       events.TypeCallResponse,
		FromUserID: fromUserID,
		Accepted:   ev.Accepted,
	})
}

func (s *signalingUsecase) handleEndCall(connID uuid.UUID, raw []byte) {
	var ev events.EndCallEvent
	if !s.decode(connID, raw, &ev) {
		return
	}

	target, ok := s.findTarget(connID, ev.TargetUserID)
	if !ok {
		return
	}

	fromUserID, _ := s.connRepo.UserID(connID)

	s.connRepo.Write(target, events.CallEndedEvent{
		Type:       events.TypeCallEnded,
		FromUserID: fromUserID,
	})
}

func (s *signalingUsecase) handleSignal(connID uuid.UUID, envelopeType string, raw []byte) {
	var ev events.SignalEvent
	if !s.decode(connID, raw, &ev) {
		return
	}

	target, ok := s.findTarget(connID, ev.TargetUserID)
	if !ok {
		return
	}

	fromUserID, _ := s.connRepo.UserID(connID)

	s.connRepo.Write(target, events.SignalForward{
		Type:       envelopeType,
		FromUserID: fromUserID,
		Data:       ev.Data,
	})
}

// findTarget resolves a relay target, reporting the failure to the
// sender. Relays are not room-scoped: the target may be in another
// room or in none.
func (s *signalingUsecase) findTarget(connID uuid.UUID, targetUserID string) (uuid.UUID, bool) {
	target, ok := s.connRepo.FindByUserID(targetUserID)
	if !ok {
		s.connRepo.Write(connID, events.NewError(errTargetNotFound))
		return uuid.Nil, false
	}

	return target, true
}

func (s *signalingUsecase) decode(connID uuid.UUID, raw []byte, v any) bool {
	if err := json.Unmarshal(raw, v); err != nil {
		s.connRepo.Write(connID, events.NewError(errMalformedEnvelope))
		return false
	}

	return true
}

// broadcast serializes the payload once and delivers it to every
// member. Per-recipient failures are isolated inside the repository
// write, so one dead transport cannot break the fan-out.
func (s *signalingUsecase) broadcast(members []uuid.UUID, payload any) {
	if len(members) == 0 {
		return
	}

	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal broadcast payload", slog.Any(constant.Error, err))
		return
	}

	for _, member := range members {
		s.connRepo.WriteText(member, data)
	}
}
