package store

import (
	"sort"
	"time"

	"github.com/capitalize-ai/operator-relay/internal/model"
)

type indexEntry struct {
	link model.ThreadLink
	at   time.Time
}

// ThreadIndex maps operator-side message ids to the user message they carry.
// It is not safe for concurrent use; Store guards it with its own lock.
type ThreadIndex struct {
	links map[int]indexEntry
}

// NewThreadIndex returns an empty index.
func NewThreadIndex() *ThreadIndex {
	return &ThreadIndex{links: make(map[int]indexEntry)}
}

// BuildThreadIndex rebuilds the index from a snapshot. When two entries share
// an operator-side id the later one wins.
func BuildThreadIndex(snap *model.Snapshot) *ThreadIndex {
	ix := NewThreadIndex()

	userIDs := make([]int64, 0, len(snap.Conversations))
	for id := range snap.Conversations {
		userIDs = append(userIDs, id)
	}
	sort.Slice(userIDs, func(i, j int) bool { return userIDs[i] < userIDs[j] })

	for _, userID := range userIDs {
		for _, msg := range snap.Conversations[userID] {
			if !msg.Linkable() {
				continue
			}
			if cur, ok := ix.links[msg.OwnerMessageID]; ok && msg.Timestamp.Before(cur.at) {
				continue
			}
			ix.add(userID, msg)
		}
	}
	return ix
}

// Add indexes a message if the operator can reply to it.
func (ix *ThreadIndex) Add(userID int64, msg model.Message) {
	if !msg.Linkable() {
		return
	}
	ix.add(userID, msg)
}

func (ix *ThreadIndex) add(userID int64, msg model.Message) {
	ix.links[msg.OwnerMessageID] = indexEntry{
		link: model.ThreadLink{UserID: userID, UserMessageID: msg.UserMessageID},
		at:   msg.Timestamp,
	}
}

// Remove drops the entry for an evicted message, unless the id has since been
// claimed by a newer message.
func (ix *ThreadIndex) Remove(userID int64, msg model.Message) {
	if !msg.Linkable() {
		return
	}
	cur, ok := ix.links[msg.OwnerMessageID]
	if !ok {
		return
	}
	if cur.link.UserID == userID && cur.link.UserMessageID == msg.UserMessageID {
		delete(ix.links, msg.OwnerMessageID)
	}
}

// Lookup resolves an operator-side message id.
func (ix *ThreadIndex) Lookup(ownerMessageID int) (model.ThreadLink, bool) {
	e, ok := ix.links[ownerMessageID]
	return e.link, ok
}

// Len returns the number of resolvable ids.
func (ix *ThreadIndex) Len() int {
	return len(ix.links)
}
