package messaging

import (
	"errors"
	"fmt"

	"messaging-service/internal/identity"
)

var (
	ErrBlocked            = errors.New("blocked")
	ErrContactUnavailable = errors.New("contact unavailable")
	ErrAwaitingReply      = errors.New("awaiting reply")
	ErrNotParticipant     = errors.New("not a participant")
	ErrNotSender          = errors.New("not the message sender")
	ErrNotFound           = errors.New("not found")
	ErrTransientStore     = errors.New("store temporarily unavailable")

	ErrSelfConversation = errors.New("cannot start a conversation with yourself")
	ErrEmptyMessage     = errors.New("message is empty")
	ErrMessageTooLong   = errors.New("message too long")
)

// RedirectError tells the caller to contact Target instead. The core never
// substitutes the recipient on its own.
type RedirectError struct {
	Target int64
}

func (e *RedirectError) Error() string {
	return fmt.Sprintf("direct contact refused, redirect to user %d", e.Target)
}

func decisionError(d identity.Decision) error {
	if d.Allowed {
		return nil
	}
	switch d.Reason {
	case identity.ReasonBlocked:
		return ErrBlocked
	case identity.ReasonRedirect:
		if d.RedirectTo != nil {
			return &RedirectError{Target: *d.RedirectTo}
		}
	}
	return ErrContactUnavailable
}

// rejectionReason labels a caller-facing error for metrics and logs.
func rejectionReason(err error) string {
	var redirect *RedirectError
	switch {
	case errors.Is(err, ErrBlocked):
		return "blocked"
	case errors.Is(err, ErrContactUnavailable):
		return "contact_unavailable"
	case errors.As(err, &redirect):
		return "redirect"
	case errors.Is(err, ErrAwaitingReply):
		return "awaiting_reply"
	case errors.Is(err, ErrNotParticipant):
		return "not_participant"
	case errors.Is(err, ErrNotSender):
		return "not_sender"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrTransientStore):
		return "store_unavailable"
	case errors.Is(err, ErrEmptyMessage), errors.Is(err, ErrMessageTooLong):
		return "invalid"
	}
	return "error"
}
