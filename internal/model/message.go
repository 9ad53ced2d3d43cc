package model

import (
	"errors"
	"time"
)

// Sender identifies which side of the relay produced a message.
type Sender string

const (
	SenderUser  Sender = "user"
	SenderOwner Sender = "owner"
)

// ErrEmptyContent is returned when a message carries neither text nor a photo.
var ErrEmptyContent = errors.New("message has neither text nor photo")

// Message is one logged relay event in a user's conversation.
type Message struct {
	Timestamp time.Time `json:"timestamp"`
	Sender    Sender    `json:"sender"`

	// Content
	Text    string `json:"text,omitempty"`
	Photo   string `json:"photo,omitempty"`
	Caption string `json:"caption,omitempty"`

	// Mode is set on user messages only.
	Mode SendMode `json:"mode,omitempty"`

	// Platform ids. Zero means unset.
	UserMessageID  int `json:"tg_message_id,omitempty"`
	OwnerMessageID int `json:"tg_owner_message_id,omitempty"`
}

// Validate checks that the message carries text or a photo.
func (m *Message) Validate() error {
	if m.Text == "" && m.Photo == "" {
		return ErrEmptyContent
	}
	return nil
}

// Linkable reports whether the operator can reply to this message to reach the user.
func (m *Message) Linkable() bool {
	return m.Sender == SenderUser && m.OwnerMessageID != 0
}

// ThreadLink resolves an operator-side message id back to the user it came from.
type ThreadLink struct {
	UserID        int64 `json:"user_id"`
	UserMessageID int   `json:"user_message_id"`
}
