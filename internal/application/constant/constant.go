package constant

// Shared slog attribute keys.
const (
	Error  = "error"
	ConnID = "conn_id"
	UserID = "user_id"
	RoomID = "room_id"
	Type   = "type"
)
