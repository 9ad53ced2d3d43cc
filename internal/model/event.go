package model

import (
	"time"
)

// Direction is the routing direction of a relay event.
type Direction string

const (
	DirectionInbound  Direction = "user_to_owner"
	DirectionOutbound Direction = "owner_to_user"
	DirectionGroup    Direction = "group"
)

// RelayEvent is an audit record of one processed inbound platform message.
type RelayEvent struct {
	ID             string    `json:"id"`
	Direction      Direction `json:"direction"`
	Status         string    `json:"status"`
	UserID         int64     `json:"user_id,omitempty"`
	UserMessageID  int       `json:"user_message_id,omitempty"`
	OwnerMessageID int       `json:"owner_message_id,omitempty"`
	Reason         string    `json:"reason,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}
