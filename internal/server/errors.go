package server

import (
	"errors"
)

var (
	ErrValidation           = errors.New("validation failed")
	ErrNotParticipant       = errors.New("not a participant")
	ErrConversationNotFound = errors.New("conversation not found")
	ErrPersistence          = errors.New("persistence failed")
	ErrBusy                 = errors.New("server busy")
)

// errorMessage maps a router error to the response sent to the
// originating connection.
func errorMessage(id int, err error) *ServerMessage {
	switch {
	case errors.Is(err, ErrValidation):
		return ErrBadRequest(id, err.Error())
	case errors.Is(err, ErrNotParticipant):
		return ErrForbidden(id)
	case errors.Is(err, ErrConversationNotFound):
		return ErrNotFound(id)
	case errors.Is(err, ErrBusy):
		return ErrServiceUnavailable(id)
	default:
		return ErrInternalError(id)
	}
}
