package model

// EventName identifies an event on the lobby channel
type EventName string

const (
	// Outbound commands
	EventJoinRoom  EventName = "join-room"
	EventStartGame EventName = "start-game"
	EventLeaveRoom EventName = "leave-room"

	// Inbound lobby events
	EventPlayerJoined   EventName = "player-joined"
	EventPlayerLeft     EventName = "player-left"
	EventSessionUpdated EventName = "session-updated"
	EventGameStarted    EventName = "game-started"
	EventError          EventName = "error"
)

// RoomPayload is the body of every outbound command
type RoomPayload struct {
	RoomCode RoomCode `json:"roomCode"`
}

// IsSnapshotEvent reports whether the event carries a session snapshot
func (e EventName) IsSnapshotEvent() bool {
	switch e {
	case EventPlayerJoined, EventPlayerLeft, EventSessionUpdated:
		return true
	}
	return false
}
