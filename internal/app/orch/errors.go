package orch

import (
	"errors"

	"github.com/dkeye/meetsfu/internal/core"
	"github.com/dkeye/meetsfu/internal/domain"
)

var (
	ErrMissingFields = errors.New("missing required fields")
	ErrNotJoined     = errors.New("not joined to a room")
	ErrWrongRoom     = errors.New("not joined to this room")
	ErrSessionGone   = errors.New("session closed")
	ErrInvalidKind   = errors.New("invalid media kind")
)

// ErrorMessage renders err for the client. Engine errors pass through
// verbatim.
func ErrorMessage(err error) string {
	switch {
	case errors.Is(err, domain.ErrLinkExpired):
		return "Meeting link has expired (24h limit)"
	case errors.Is(err, ErrMissingFields):
		return "Missing required fields"
	case errors.Is(err, core.ErrRoomNotFound):
		return "Room not found"
	case errors.Is(err, ErrNotJoined), errors.Is(err, ErrWrongRoom):
		return "Not joined to this room"
	case errors.Is(err, core.ErrTransportNotFound):
		return "Transport not found"
	case errors.Is(err, core.ErrCannotConsume):
		return "Cannot consume"
	default:
		return err.Error()
	}
}
