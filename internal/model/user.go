// Package model defines data structures for the operator relay.
package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Profile is the identity information carried by an inbound platform message.
type Profile struct {
	ID        int64
	FirstName string
	LastName  string
	Username  string
}

// DisplayName joins first and last name.
func (p Profile) DisplayName() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

// Handle returns the @-prefixed username or an empty string.
func (p Profile) Handle() string {
	if p.Username == "" {
		return ""
	}
	return "@" + p.Username
}

// SendMode is how a user's messages are labelled for the operator.
type SendMode string

const (
	ModeAnonymous SendMode = "anonymous"
	ModeNamed     SendMode = "named"
)

// ErrInvalidMode is returned for a send mode other than anonymous or named.
var ErrInvalidMode = errors.New("invalid send mode")

// Valid reports whether m is a known send mode.
func (m SendMode) Valid() bool {
	return m == ModeAnonymous || m == ModeNamed
}

// UserInfo is the persisted, informational part of a user.
type UserInfo struct {
	FirstName  string    `json:"first_name"`
	LastName   string    `json:"last_name"`
	Username   string    `json:"username"`
	LastActive time.Time `json:"last_active"`

	// Mode is empty until the user picks one.
	Mode       SendMode `json:"mode,omitempty"`
	Identified bool     `json:"identified,omitempty"`
}

// User is a user known to the relay, as exposed to readers of the store.
type User struct {
	ID         int64     `json:"id"`
	FirstName  string    `json:"first_name"`
	LastName   string    `json:"last_name,omitempty"`
	Username   string    `json:"username,omitempty"`
	LastActive time.Time `json:"last_active"`
	Mode       SendMode  `json:"mode,omitempty"`

	ThreadHeaderID int `json:"thread_header_id,omitempty"`
	MessageCount   int `json:"message_count"`
}

// String renders the user for operator-facing text.
func (u User) String() string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if u.Username != "" {
		return fmt.Sprintf("%s (@%s, id %d)", name, u.Username, u.ID)
	}
	return fmt.Sprintf("%s (id %d)", name, u.ID)
}
