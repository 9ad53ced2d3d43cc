// Package store provides the durable conversation store behind the relay.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/capitalize-ai/operator-relay/internal/model"
	"github.com/capitalize-ai/operator-relay/pkg/logger"
	"github.com/capitalize-ai/operator-relay/pkg/metrics"
	"github.com/capitalize-ai/operator-relay/pkg/tracing"
)

// DefaultHistoryLimit is the number of messages retained per user.
const DefaultHistoryLimit = 100

// DefaultWriteTimeout bounds a single persister write.
const DefaultWriteTimeout = 5 * time.Second

// Option configures a Store.
type Option func(*Store)

// WithHistoryLimit overrides the per-user retention cap.
func WithHistoryLimit(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.limit = n
		}
	}
}

// WithWriteTimeout overrides the deadline applied to each persister write.
func WithWriteTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.writeTimeout = d
		}
	}
}

// WithLogger sets the store logger.
func WithLogger(l *logger.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

// WithClock overrides the time source used for activity timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// Store owns users, thread headers and conversation logs. Every mutation is
// written through the persister before it becomes visible in memory.
type Store struct {
	persister    Persister
	limit        int
	writeTimeout time.Duration
	logger       *logger.Logger
	tracer       trace.Tracer
	now          func() time.Time

	mu    sync.RWMutex
	state *model.Snapshot
	index *ThreadIndex
}

// New loads the persisted state and rebuilds the thread index.
func New(ctx context.Context, p Persister, opts ...Option) (*Store, error) {
	s := &Store{
		persister:    p,
		limit:        DefaultHistoryLimit,
		writeTimeout: DefaultWriteTimeout,
		logger:       logger.Global(),
		tracer:       tracing.Tracer("store"),
		now:          func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}

	snap, err := p.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load state from %s: %w", p.Name(), err)
	}
	snap.Normalize()

	// A lowered limit applies to state written under a larger one.
	for userID, log := range snap.Conversations {
		if len(log) > s.limit {
			snap.Conversations[userID] = append([]model.Message(nil), log[len(log)-s.limit:]...)
		}
	}

	s.state = snap
	s.index = BuildThreadIndex(snap)
	s.updateGauges()

	s.logger.Info("conversation store loaded",
		zap.String("driver", p.Name()),
		zap.Int("users", len(snap.Users)),
		zap.Int("indexed_links", s.index.Len()),
	)

	return s, nil
}

// RecordUserActivity upserts the user's profile and bumps last activity.
// The user's send mode is kept.
func (s *Store) RecordUserActivity(ctx context.Context, p model.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.clone()
	addUser(next, p.ID)
	info := next.UserInfo[p.ID]
	info.FirstName = p.FirstName
	info.LastName = p.LastName
	info.Username = p.Username
	info.LastActive = s.now()
	next.UserInfo[p.ID] = info

	return s.commit(ctx, "record_user_activity", next)
}

// Mode returns the send mode the user chose. The second result is false if
// the user never chose one.
func (s *Store) Mode(userID int64) (model.SendMode, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	mode := s.state.UserInfo[userID].Mode
	return mode, mode != ""
}

// SetMode records the user's send mode.
func (s *Store) SetMode(ctx context.Context, userID int64, mode model.SendMode) error {
	if !mode.Valid() {
		return fmt.Errorf("%w: %q", model.ErrInvalidMode, mode)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.UserInfo[userID].Mode == mode && hasUser(s.state, userID) {
		return nil
	}

	next := s.clone()
	addUser(next, userID)
	info := next.UserInfo[userID]
	info.Mode = mode
	next.UserInfo[userID] = info

	return s.commit(ctx, "set_mode", next)
}

// Identified reports whether the operator has been shown the user's identity.
func (s *Store) Identified(userID int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.state.UserInfo[userID].Identified
}

// MarkIdentified records that the user's identity was sent to the operator.
func (s *Store) MarkIdentified(ctx context.Context, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.UserInfo[userID].Identified {
		return nil
	}

	next := s.clone()
	addUser(next, userID)
	info := next.UserInfo[userID]
	info.Identified = true
	next.UserInfo[userID] = info

	return s.commit(ctx, "mark_identified", next)
}

// EnsureThread returns the operator-side id of the user's thread header.
// The second result is false if no header has been bound yet.
func (s *Store) EnsureThread(userID int64) (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.state.OwnerThreads[userID]
	return id, ok
}

// BindThread records the user's thread header. Binding an already bound user
// is a no-op that returns the original header id.
func (s *Store) BindThread(ctx context.Context, userID int64, ownerMessageID int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.state.OwnerThreads[userID]; ok {
		if existing != ownerMessageID {
			s.logger.Warn("thread header already bound",
				zap.Int64("user_id", userID),
				zap.Int("bound", existing),
				zap.Int("ignored", ownerMessageID),
			)
		}
		return existing, nil
	}

	next := s.clone()
	addUser(next, userID)
	next.OwnerThreads[userID] = ownerMessageID

	if err := s.commit(ctx, "bind_thread", next); err != nil {
		return 0, err
	}
	return ownerMessageID, nil
}

// AppendMessage appends to the user's log, evicting the oldest entries past
// the retention cap, and persists before returning.
func (s *Store) AppendMessage(ctx context.Context, userID int64, msg model.Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = s.now()
	}

	ctx, span := s.tracer.Start(ctx, "store.AppendMessage", trace.WithAttributes(
		attribute.Int64("user_id", userID),
		attribute.String("sender", string(msg.Sender)),
	))
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.state.Conversations[userID]
	log := make([]model.Message, 0, len(prev)+1)
	log = append(log, prev...)
	log = append(log, msg)

	var evicted []model.Message
	if over := len(log) - s.limit; over > 0 {
		evicted = log[:over]
		log = append([]model.Message(nil), log[over:]...)
	}

	next := s.clone()
	addUser(next, userID)
	next.Conversations[userID] = log
	if msg.Sender == model.SenderUser {
		next.MessageCount++
		switch msg.Mode {
		case model.ModeAnonymous:
			next.AnonymousCount++
		case model.ModeNamed:
			next.NamedCount++
		}
	}

	if err := s.commit(ctx, "append_message", next); err != nil {
		span.RecordError(err)
		return err
	}

	for _, old := range evicted {
		s.index.Remove(userID, old)
	}
	s.index.Add(userID, msg)
	metrics.ThreadIndexSize.Set(float64(s.index.Len()))

	return nil
}

// FindByOperatorMessageID resolves an operator-side message id to the user
// message it carries. Evicted messages do not resolve.
func (s *Store) FindByOperatorMessageID(ownerMessageID int) (model.ThreadLink, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.index.Lookup(ownerMessageID)
}

// User returns one known user.
func (s *Store) User(userID int64) (model.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !hasUser(s.state, userID) {
		return model.User{}, false
	}
	return s.user(userID), true
}

// Users returns every known user, most recently active first.
func (s *Store) Users() []model.User {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]model.User, 0, len(s.state.Users))
	for _, id := range s.state.Users {
		users = append(users, s.user(id))
	}
	sort.SliceStable(users, func(i, j int) bool {
		return users[i].LastActive.After(users[j].LastActive)
	})
	return users
}

// Conversation returns a copy of the user's retained log, oldest first.
func (s *Store) Conversation(userID int64) []model.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]model.Message(nil), s.state.Conversations[userID]...)
}

// Stats summarizes the store.
func (s *Store) Stats() model.Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	retained := 0
	for _, log := range s.state.Conversations {
		retained += len(log)
	}
	return model.Stats{
		Users:            len(s.state.Users),
		MessageCount:     s.state.MessageCount,
		AnonymousCount:   s.state.AnonymousCount,
		NamedCount:       s.state.NamedCount,
		Threads:          len(s.state.OwnerThreads),
		RetainedMessages: retained,
		IndexedLinks:     s.index.Len(),
	}
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() *model.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.clone()
}

// Close closes the persister.
func (s *Store) Close() error {
	return s.persister.Close()
}

// commit persists next and swaps it in. Callers hold s.mu.
func (s *Store) commit(ctx context.Context, op string, next *model.Snapshot) error {
	ctx, cancel := context.WithTimeout(ctx, s.writeTimeout)
	defer cancel()

	start := time.Now()
	err := s.persister.Save(ctx, next)
	metrics.RecordPersist(s.persister.Name(), err, time.Since(start).Seconds())
	if err != nil {
		s.logger.Error("failed to persist relay state",
			zap.String("op", op),
			zap.String("driver", s.persister.Name()),
			zap.Error(err),
		)
		return &PersistenceError{Op: op, Driver: s.persister.Name(), Err: err}
	}

	s.state = next
	s.updateGauges()
	return nil
}

// clone copies the top-level containers. Conversation slices are shared
// because they are never mutated in place.
func (s *Store) clone() *model.Snapshot {
	cur := s.state
	next := &model.Snapshot{
		MessageCount:   cur.MessageCount,
		AnonymousCount: cur.AnonymousCount,
		NamedCount:     cur.NamedCount,
		Users:          append(make([]int64, 0, len(cur.Users)+1), cur.Users...),
		UserInfo:       make(map[int64]model.UserInfo, len(cur.UserInfo)),
		Conversations:  make(map[int64][]model.Message, len(cur.Conversations)),
		OwnerThreads:   make(map[int64]int, len(cur.OwnerThreads)),
	}
	for k, v := range cur.UserInfo {
		next.UserInfo[k] = v
	}
	for k, v := range cur.Conversations {
		next.Conversations[k] = v
	}
	for k, v := range cur.OwnerThreads {
		next.OwnerThreads[k] = v
	}
	return next
}

func (s *Store) user(userID int64) model.User {
	info := s.state.UserInfo[userID]
	return model.User{
		ID:             userID,
		FirstName:      info.FirstName,
		LastName:       info.LastName,
		Username:       info.Username,
		LastActive:     info.LastActive,
		Mode:           info.Mode,
		ThreadHeaderID: s.state.OwnerThreads[userID],
		MessageCount:   len(s.state.Conversations[userID]),
	}
}

func (s *Store) updateGauges() {
	metrics.UsersKnown.Set(float64(len(s.state.Users)))
	metrics.ThreadIndexSize.Set(float64(s.index.Len()))
}

func hasUser(snap *model.Snapshot, userID int64) bool {
	i := sort.Search(len(snap.Users), func(i int) bool { return snap.Users[i] >= userID })
	return i < len(snap.Users) && snap.Users[i] == userID
}

// addUser inserts userID into the sorted user list.
func addUser(snap *model.Snapshot, userID int64) {
	i := sort.Search(len(snap.Users), func(i int) bool { return snap.Users[i] >= userID })
	if i < len(snap.Users) && snap.Users[i] == userID {
		return
	}
	snap.Users = append(snap.Users, 0)
	copy(snap.Users[i+1:], snap.Users[i:])
	snap.Users[i] = userID
}
