package model

import (
	"encoding/json"
	"sort"
)

// Snapshot is the complete persisted relay state.
type Snapshot struct {
	MessageCount   int                 `json:"message_count"`
	AnonymousCount int                 `json:"anonymous_count"`
	NamedCount     int                 `json:"named_count"`
	Users          []int64             `json:"users"`
	UserInfo       map[int64]UserInfo  `json:"user_info"`
	Conversations  map[int64][]Message `json:"conversations"`
	OwnerThreads   map[int64]int       `json:"owner_threads"`
}

// NewSnapshot returns an empty snapshot with all maps allocated.
func NewSnapshot() *Snapshot {
	return &Snapshot{
		Users:         []int64{},
		UserInfo:      make(map[int64]UserInfo),
		Conversations: make(map[int64][]Message),
		OwnerThreads:  make(map[int64]int),
	}
}

// Normalize fills nil maps and sorts the user list so that encoding is stable.
func (s *Snapshot) Normalize() {
	if s.Users == nil {
		s.Users = []int64{}
	}
	if s.UserInfo == nil {
		s.UserInfo = make(map[int64]UserInfo)
	}
	if s.Conversations == nil {
		s.Conversations = make(map[int64][]Message)
	}
	if s.OwnerThreads == nil {
		s.OwnerThreads = make(map[int64]int)
	}
	sort.Slice(s.Users, func(i, j int) bool { return s.Users[i] < s.Users[j] })
}

// Encode marshals the snapshot as indented JSON.
func (s *Snapshot) Encode() ([]byte, error) {
	s.Normalize()
	return json.MarshalIndent(s, "", "  ")
}

// DecodeSnapshot parses a snapshot previously produced by Encode.
func DecodeSnapshot(data []byte) (*Snapshot, error) {
	snap := NewSnapshot()
	if len(data) == 0 {
		return snap, nil
	}
	if err := json.Unmarshal(data, snap); err != nil {
		return nil, err
	}
	snap.Normalize()
	return snap, nil
}

// Stats summarizes the relay state.
type Stats struct {
	Users            int `json:"users"`
	MessageCount     int `json:"message_count"`
	AnonymousCount   int `json:"anonymous_count"`
	NamedCount       int `json:"named_count"`
	Threads          int `json:"threads"`
	RetainedMessages int `json:"retained_messages"`
	IndexedLinks     int `json:"indexed_links"`
}
