package relay

import (
	"errors"
	"fmt"
)

var (
	// ErrNotAReply is returned when the operator writes without replying to a relayed message.
	ErrNotAReply = errors.New("operator message must reply to a user message")

	// ErrReplyTargetNotFound is returned when the replied-to message does not
	// resolve to a retained user message.
	ErrReplyTargetNotFound = errors.New("reply target not found")

	// ErrUnsupportedContent is returned for messages with neither text nor photo.
	ErrUnsupportedContent = errors.New("message has no text or photo")
)

// TransportError reports a failed or timed out platform send.
type TransportError struct {
	Target string
	ChatID int64
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("send to %s (chat %d) failed: %v", e.Target, e.ChatID, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
