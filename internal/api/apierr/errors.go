// Package apierr turns request layer and channel failures into the typed
// errors of the model package.
package apierr

import (
	"errors"
	"net/http"
	"strings"

	"github.com/SvelteTick/Impostr/internal/api"
	"github.com/SvelteTick/Impostr/internal/model"
)

// ClassifyJoin converts a failed join into a JoinError. It returns nil for a
// nil error and passes an existing JoinError through unchanged.
func ClassifyJoin(err error) *model.JoinError {
	if err == nil {
		return nil
	}

	var joinErr *model.JoinError
	if errors.As(err, &joinErr) {
		return joinErr
	}

	var apiErr *api.Error
	if errors.As(err, &apiErr) {
		reason := JoinReason(apiErr.StatusCode, apiErr.Message)
		return &model.JoinError{Reason: reason, Message: apiErr.Message}
	}

	return &model.JoinError{Reason: model.JoinNetwork, Err: err}
}

// JoinReason maps a status code and message to a join failure reason. A zero
// status means the failure came without one, as with a channel
// acknowledgement, and only the message is consulted.
func JoinReason(status int, message string) model.JoinReason {
	msg := strings.ToLower(message)

	switch status {
	case http.StatusNotFound:
		return model.JoinRoomNotFound
	case http.StatusConflict:
		return model.JoinAlreadyInSession
	}

	switch {
	case strings.Contains(msg, "full"):
		return model.JoinRoomFull
	case strings.Contains(msg, "started"), strings.Contains(msg, "in progress"):
		return model.JoinGameInProgress
	case strings.Contains(msg, "already"):
		return model.JoinAlreadyInSession
	case strings.Contains(msg, "not found"), strings.Contains(msg, "does not exist"):
		return model.JoinRoomNotFound
	}

	if status >= http.StatusInternalServerError {
		return model.JoinNetwork
	}
	// Remaining rejections name no cause we recognise; the room is treated
	// as unavailable.
	return model.JoinRoomNotFound
}

// IsUnauthorized reports whether err is an authentication rejection
func IsUnauthorized(err error) bool {
	switch api.StatusCode(err) {
	case http.StatusUnauthorized, http.StatusForbidden:
		return true
	}
	return false
}

// IsNetwork reports whether err means the backend was unreachable
func IsNetwork(err error) bool {
	return errors.Is(err, api.ErrNetwork)
}
