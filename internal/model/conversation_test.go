package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleSnapshot() *Snapshot {
	ts := time.Date(2026, 10, 19, 12, 0, 0, 123456789, time.UTC)
	snap := NewSnapshot()
	snap.MessageCount = 2
	snap.Users = []int64{222, 111}
	snap.UserInfo[111] = UserInfo{FirstName: "Ann", Username: "ann", LastActive: ts}
	snap.UserInfo[222] = UserInfo{FirstName: "Bob", LastName: "Stone", LastActive: ts}
	snap.Conversations[111] = []Message{
		{Timestamp: ts, Sender: SenderUser, Text: "hello", UserMessageID: 5, OwnerMessageID: 42},
		{Timestamp: ts.Add(time.Second), Sender: SenderOwner, Text: "hi there", UserMessageID: 6, OwnerMessageID: 43},
	}
	snap.Conversations[222] = []Message{
		{Timestamp: ts, Sender: SenderUser, Photo: "AgACAgI", Caption: "look", UserMessageID: 9, OwnerMessageID: 50},
	}
	snap.OwnerThreads[111] = 41
	snap.OwnerThreads[222] = 49
	return snap
}

func TestSnapshotRoundTrip(t *testing.T) {
	first, err := sampleSnapshot().Encode()
	require.NoError(t, err)

	decoded, err := DecodeSnapshot(first)
	require.NoError(t, err)

	second, err := decoded.Encode()
	require.NoError(t, err)

	assert.JSONEq(t, string(first), string(second))
	assert.Equal(t, []int64{111, 222}, decoded.Users)
	assert.Equal(t, 42, decoded.Conversations[111][0].OwnerMessageID)
	assert.Equal(t, 41, decoded.OwnerThreads[111])
}

func TestSnapshotUsesPersistedFieldNames(t *testing.T) {
	data, err := sampleSnapshot().Encode()
	require.NoError(t, err)

	for _, key := range []string{"message_count", "users", "user_info", "conversations", "owner_threads",
		"tg_message_id", "tg_owner_message_id", "first_name", "last_active", "caption"} {
		assert.Contains(t, string(data), `"`+key+`"`)
	}
}

func TestDecodeEmptySnapshot(t *testing.T) {
	snap, err := DecodeSnapshot(nil)
	require.NoError(t, err)
	assert.Empty(t, snap.Users)
	assert.NotNil(t, snap.Conversations)
}

func TestMessageValidate(t *testing.T) {
	assert.ErrorIs(t, (&Message{Sender: SenderUser}).Validate(), ErrEmptyContent)
	assert.NoError(t, (&Message{Photo: "file"}).Validate())
	assert.NoError(t, (&Message{Text: "x"}).Validate())
}

func TestMessageLinkable(t *testing.T) {
	assert.True(t, (&Message{Sender: SenderUser, OwnerMessageID: 1}).Linkable())
	assert.False(t, (&Message{Sender: SenderOwner, OwnerMessageID: 1}).Linkable())
	assert.False(t, (&Message{Sender: SenderUser}).Linkable())
}

func TestSendModeValid(t *testing.T) {
	assert.True(t, ModeAnonymous.Valid())
	assert.True(t, ModeNamed.Valid())
	assert.False(t, SendMode("").Valid())
	assert.False(t, SendMode("loud").Valid())
}

func TestSnapshotWithoutModeFieldsDecodes(t *testing.T) {
	snap, err := DecodeSnapshot([]byte(`{"message_count":2,"users":[111],` +
		`"user_info":{"111":{"first_name":"Ann","last_name":"","username":"","last_active":"2026-01-01T00:00:00Z"}},` +
		`"conversations":{},"owner_threads":{"111":41}}`))
	require.NoError(t, err)
	assert.Equal(t, 2, snap.MessageCount)
	assert.Zero(t, snap.AnonymousCount)
	assert.Equal(t, SendMode(""), snap.UserInfo[111].Mode)
	assert.False(t, snap.UserInfo[111].Identified)
}
