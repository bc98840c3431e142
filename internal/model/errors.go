package model

import (
	"errors"
	"fmt"
)

// Common errors used across the application
var (
	// Credential errors
	ErrUnauthenticated = errors.New("no stored credential")
	ErrSessionExpired  = errors.New("session expired, sign in again")
	ErrMalformedToken  = errors.New("malformed token")

	// Storage errors
	ErrKeyNotFound = errors.New("key not found")

	// Input errors
	ErrInvalidRoomCode = errors.New("room code must be 5 characters")
	ErrInvalidConfig   = errors.New("invalid session config")

	// Join errors
	ErrRoomNotFound     = errors.New("room not found")
	ErrRoomFull         = errors.New("room is full")
	ErrGameInProgress   = errors.New("game is in progress")
	ErrAlreadyInSession = errors.New("already in a session")
	ErrJoinNetwork      = errors.New("network error while joining")

	// Lobby errors
	ErrNotHost             = errors.New("player is not the host")
	ErrInsufficientPlayers = errors.New("insufficient players to start game")
	ErrNotInLobby          = errors.New("not in lobby")
	ErrSynchronizerClosed  = errors.New("lobby connection is closed")
	ErrAlreadyJoined       = errors.New("synchronizer has already joined a room")
	ErrStartRejected       = errors.New("start rejected by server")

	// Transport errors
	ErrConnectionLost = errors.New("connection lost")
)

// JoinReason classifies why joining a room failed
type JoinReason string

const (
	JoinRoomNotFound     JoinReason = "ROOM_NOT_FOUND"
	JoinRoomFull         JoinReason = "ROOM_FULL"
	JoinGameInProgress   JoinReason = "GAME_IN_PROGRESS"
	JoinAlreadyInSession JoinReason = "ALREADY_IN_SESSION"
	JoinNetwork          JoinReason = "NETWORK"
)

var joinSentinels = map[JoinReason]error{
	JoinRoomNotFound:     ErrRoomNotFound,
	JoinRoomFull:         ErrRoomFull,
	JoinGameInProgress:   ErrGameInProgress,
	JoinAlreadyInSession: ErrAlreadyInSession,
	JoinNetwork:          ErrJoinNetwork,
}

// JoinError is returned when a room cannot be joined, either over the
// request layer or through the join-room acknowledgement
type JoinError struct {
	Reason  JoinReason
	Message string // server supplied message, may be empty
	Err     error  // underlying cause, may be nil
}

func (e *JoinError) Error() string {
	msg := joinSentinels[e.Reason].Error()
	if e.Message != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Message)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap exposes both the reason sentinel and the underlying cause
func (e *JoinError) Unwrap() []error {
	errs := []error{joinSentinels[e.Reason]}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// ChannelError is a non-fatal error event reported by the server over the
// event channel
type ChannelError struct {
	Message string
}

func (e *ChannelError) Error() string {
	if e.Message == "" {
		return "channel error"
	}
	return "channel error: " + e.Message
}
