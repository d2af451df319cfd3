package tickets

import (
	"fmt"

	"sunat-client/internal/shared/apierr"
)

// ResultError converts a terminal ticket into the error its caller should see.
// DONE and non-terminal tickets yield nil. ERROR carries the failure descriptor;
// EXPIRED and CANCELLED get their own kinds so callers can tell them apart.
func ResultError(t Ticket) error {
	switch t.Status {
	case StatusError:
		e := &apierr.Error{Kind: apierr.KindTicketFailed, Message: t.StatusMessage}
		if f := t.Failure; f != nil {
			e.Code = f.Code
			if f.Message != "" {
				e.Message = f.Message
			}
			e.Details = append([]string(nil), f.Details...)
			e.CanRetry = f.CanRetry
		}
		if e.Message == "" {
			e.Message = fmt.Sprintf("ticket %s failed", t.ID)
		}
		return e
	case StatusExpired:
		msg := t.StatusMessage
		if msg == "" {
			msg = fmt.Sprintf("ticket %s expired", t.ID)
		}
		return &apierr.Error{Kind: apierr.KindExpired, Message: msg}
	case StatusCancelled:
		msg := t.StatusMessage
		if msg == "" {
			msg = fmt.Sprintf("ticket %s was cancelled", t.ID)
		}
		return &apierr.Error{Kind: apierr.KindCancelled, Message: msg}
	default:
		return nil
	}
}

// CheckSnapshot rejects a backend snapshot whose status is outside the known
// set. Accepting one would leave no legal transition out of it.
func CheckSnapshot(t Ticket) error {
	if t.Status.Valid() {
		return nil
	}
	return &apierr.Error{
		Kind:    apierr.KindTransport,
		Code:    "unknown_status",
		Message: fmt.Sprintf("backend returned unknown status %q for ticket %s", t.Status, t.ID),
	}
}
