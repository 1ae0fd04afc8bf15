package inbox

import (
	"errors"
	"fmt"
)

var (
	ErrSourceUnavailable   = errors.New("inbox: source unavailable")
	ErrSendFailed          = errors.New("inbox: message not sent")
	ErrStatusWriteFailed   = errors.New("inbox: status not saved")
	ErrOwnershipMismatch   = errors.New("inbox: chat room belongs to another agent")
	ErrGuestBuyer          = errors.New("inbox: guest buyers cannot be messaged")
	ErrEmptyMessage        = errors.New("inbox: message text is required")
	ErrUnknownConversation = errors.New("inbox: unknown conversation")
	ErrNotMounted          = errors.New("inbox: session not mounted")
)

const (
	SourceInquiries = "inquiries"
	SourceChat      = "chat"
)

// SourceError reports a backing store that failed during a refresh cycle.
type SourceError struct {
	Source string
	Err    error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("inbox: %s source unavailable: %v", e.Source, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }

func (e *SourceError) Is(target error) bool { return target == ErrSourceUnavailable }
