package relay

import (
	"github.com/capitalize-ai/operator-relay/internal/model"
)

// ChatKind classifies the chat an inbound message arrived in.
type ChatKind int

const (
	ChatPrivate ChatKind = iota
	ChatGroup
	ChatOther
)

// Event is one inbound platform message, already decoded from the transport.
type Event struct {
	UpdateID  int
	ChatID    int64
	ChatKind  ChatKind
	ChatTitle string
	From      model.Profile
	MessageID int

	Text    string
	Photo   string
	Caption string

	// ReplyToMessageID is zero when the message is not a reply.
	ReplyToMessageID int
}

// HasContent reports whether the event carries something the relay can forward.
func (e *Event) HasContent() bool {
	return e.Text != "" || e.Photo != ""
}

// Status is the outcome of handling one event.
type Status string

const (
	StatusForwarded           Status = "forwarded"
	StatusDelivered           Status = "delivered"
	StatusReplyTargetNotFound Status = "reply_target_not_found"
	StatusNotAReply           Status = "not_a_reply"
	StatusDeliveryFailed      Status = "delivery_failed"
	StatusPersistFailed       Status = "persist_failed"
	StatusModerated           Status = "moderated"
	StatusIgnored             Status = "ignored"
)

// Result describes what the engine did with an event. Err carries the
// underlying condition for non-success statuses; it is informational, the
// engine has already told the affected side.
type Result struct {
	Status         Status
	Direction      model.Direction
	UserID         int64
	UserMessageID  int
	OwnerMessageID int
	Err            error
}
