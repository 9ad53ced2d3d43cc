package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/operator-relay/internal/model"
	"github.com/capitalize-ai/operator-relay/pkg/logger"
)

// memPersister keeps the last saved encoding so tests can reload it.
type memPersister struct {
	mu    sync.Mutex
	data  []byte
	saves int
	fail  error
}

func (p *memPersister) Name() string { return "memory" }

func (p *memPersister) Load(ctx context.Context) (*model.Snapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return model.DecodeSnapshot(p.data)
}

func (p *memPersister) Save(ctx context.Context, snap *model.Snapshot) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail != nil {
		return p.fail
	}
	data, err := snap.Encode()
	if err != nil {
		return err
	}
	p.data = data
	p.saves++
	return nil
}

func (p *memPersister) Close() error { return nil }

func (p *memPersister) setFail(err error) {
	p.mu.Lock()
	p.fail = err
	p.mu.Unlock()
}

func newTestStore(t *testing.T, p Persister, opts ...Option) *Store {
	t.Helper()
	base := []Option{WithLogger(logger.NewNop())}
	s, err := New(context.Background(), p, append(base, opts...)...)
	require.NoError(t, err)
	return s
}

func userMsg(text string, userMsgID, ownerMsgID int) model.Message {
	return model.Message{Sender: model.SenderUser, Text: text, UserMessageID: userMsgID, OwnerMessageID: ownerMsgID}
}

func TestRecordUserActivityIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, &memPersister{})
	p := model.Profile{ID: 111, FirstName: "Ann", Username: "ann"}

	require.NoError(t, s.RecordUserActivity(ctx, p))
	require.NoError(t, s.RecordUserActivity(ctx, p))

	users := s.Users()
	require.Len(t, users, 1)
	assert.Equal(t, "Ann", users[0].FirstName)
	assert.Equal(t, 1, s.Stats().Users)
}

func TestRecordUserActivityUpdatesProfile(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := newTestStore(t, &memPersister{}, WithClock(func() time.Time { return now }))

	require.NoError(t, s.RecordUserActivity(ctx, model.Profile{ID: 1, FirstName: "Old"}))
	now = now.Add(time.Hour)
	require.NoError(t, s.RecordUserActivity(ctx, model.Profile{ID: 1, FirstName: "New", Username: "new"}))

	u, ok := s.User(1)
	require.True(t, ok)
	assert.Equal(t, "New", u.FirstName)
	assert.Equal(t, "new", u.Username)
	assert.Equal(t, now, u.LastActive)
}

func TestEnsureAndBindThread(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, &memPersister{})

	_, ok := s.EnsureThread(111)
	assert.False(t, ok)

	id, err := s.BindThread(ctx, 111, 41)
	require.NoError(t, err)
	assert.Equal(t, 41, id)

	got, ok := s.EnsureThread(111)
	assert.True(t, ok)
	assert.Equal(t, 41, got)
}

func TestBindThreadTwiceIsNoop(t *testing.T) {
	ctx := context.Background()
	p := &memPersister{}
	s := newTestStore(t, p)

	_, err := s.BindThread(ctx, 111, 41)
	require.NoError(t, err)
	saves := p.saves

	id, err := s.BindThread(ctx, 111, 99)
	require.NoError(t, err)
	assert.Equal(t, 41, id)
	assert.Equal(t, saves, p.saves)

	got, _ := s.EnsureThread(111)
	assert.Equal(t, 41, got)
}

func TestAppendMessageCapsHistory(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, &memPersister{})

	for i := 1; i <= 150; i++ {
		require.NoError(t, s.AppendMessage(ctx, 111, userMsg(fmt.Sprint(i), i, 1000+i)))
	}

	log := s.Conversation(111)
	require.Len(t, log, DefaultHistoryLimit)
	assert.Equal(t, "51", log[0].Text)
	assert.Equal(t, "150", log[len(log)-1].Text)
	assert.Equal(t, 150, s.Stats().MessageCount)
}

func TestAppendMessageEvictsIndexEntries(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, &memPersister{}, WithHistoryLimit(3))

	for i := 1; i <= 4; i++ {
		require.NoError(t, s.AppendMessage(ctx, 111, userMsg("m", i, 100+i)))
	}

	_, ok := s.FindByOperatorMessageID(101)
	assert.False(t, ok, "evicted message must not resolve")

	link, ok := s.FindByOperatorMessageID(104)
	require.True(t, ok)
	assert.Equal(t, model.ThreadLink{UserID: 111, UserMessageID: 4}, link)
	assert.Equal(t, 3, s.Stats().IndexedLinks)
}

func TestOperatorMessagesAreNotIndexed(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, &memPersister{})

	require.NoError(t, s.AppendMessage(ctx, 111, model.Message{
		Sender: model.SenderOwner, Text: "hi", UserMessageID: 7, OwnerMessageID: 55,
	}))

	_, ok := s.FindByOperatorMessageID(55)
	assert.False(t, ok)
	assert.Equal(t, 0, s.Stats().MessageCount)
}

func TestAppendMessageRejectsEmptyContent(t *testing.T) {
	s := newTestStore(t, &memPersister{})

	err := s.AppendMessage(context.Background(), 111, model.Message{Sender: model.SenderUser})
	assert.ErrorIs(t, err, model.ErrEmptyContent)
	assert.Empty(t, s.Conversation(111))
}

func TestPersistenceFailureLeavesStateUntouched(t *testing.T) {
	ctx := context.Background()
	p := &memPersister{}
	s := newTestStore(t, p)

	require.NoError(t, s.AppendMessage(ctx, 111, userMsg("first", 1, 10)))

	p.setFail(errors.New("disk full"))

	err := s.AppendMessage(ctx, 111, userMsg("second", 2, 20))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPersistence)
	var perr *PersistenceError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "append_message", perr.Op)

	assert.Len(t, s.Conversation(111), 1)
	_, ok := s.FindByOperatorMessageID(20)
	assert.False(t, ok)

	_, err = s.BindThread(ctx, 222, 5)
	assert.ErrorIs(t, err, ErrPersistence)
	_, ok = s.EnsureThread(222)
	assert.False(t, ok)

	assert.ErrorIs(t, s.RecordUserActivity(ctx, model.Profile{ID: 333}), ErrPersistence)
	_, ok = s.User(333)
	assert.False(t, ok)
}

func TestReloadRestoresStateAndIndex(t *testing.T) {
	ctx := context.Background()
	p := &memPersister{}
	s := newTestStore(t, p)

	require.NoError(t, s.RecordUserActivity(ctx, model.Profile{ID: 111, FirstName: "Ann"}))
	_, err := s.BindThread(ctx, 111, 41)
	require.NoError(t, err)
	require.NoError(t, s.AppendMessage(ctx, 111, userMsg("hello", 5, 42)))

	reloaded := newTestStore(t, p)

	link, ok := reloaded.FindByOperatorMessageID(42)
	require.True(t, ok)
	assert.Equal(t, model.ThreadLink{UserID: 111, UserMessageID: 5}, link)

	header, ok := reloaded.EnsureThread(111)
	assert.True(t, ok)
	assert.Equal(t, 41, header)

	before, err := s.Snapshot().Encode()
	require.NoError(t, err)
	after, err := reloaded.Snapshot().Encode()
	require.NoError(t, err)
	assert.JSONEq(t, string(before), string(after))
}

func TestLoadTrimsToLoweredLimit(t *testing.T) {
	ctx := context.Background()
	p := &memPersister{}
	s := newTestStore(t, p)
	for i := 1; i <= 10; i++ {
		require.NoError(t, s.AppendMessage(ctx, 1, userMsg("m", i, 100+i)))
	}

	small := newTestStore(t, p, WithHistoryLimit(4))
	assert.Len(t, small.Conversation(1), 4)
	_, ok := small.FindByOperatorMessageID(101)
	assert.False(t, ok)
}

func TestConcurrentAppendsAcrossUsers(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, &memPersister{})

	var wg sync.WaitGroup
	for u := int64(1); u <= 8; u++ {
		wg.Add(1)
		go func(userID int64) {
			defer wg.Done()
			for i := 1; i <= 20; i++ {
				assert.NoError(t, s.AppendMessage(ctx, userID, userMsg("m", i, int(userID)*1000+i)))
			}
		}(u)
	}
	wg.Wait()

	stats := s.Stats()
	assert.Equal(t, 8, stats.Users)
	assert.Equal(t, 160, stats.RetainedMessages)
	assert.Equal(t, 160, stats.IndexedLinks)
	for u := int64(1); u <= 8; u++ {
		log := s.Conversation(u)
		require.Len(t, log, 20)
		for i, m := range log {
			assert.Equal(t, i+1, m.UserMessageID)
		}
	}
}

func TestUsersOrderedByActivity(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := newTestStore(t, &memPersister{}, WithClock(func() time.Time { return now }))

	require.NoError(t, s.RecordUserActivity(ctx, model.Profile{ID: 1}))
	now = now.Add(time.Minute)
	require.NoError(t, s.RecordUserActivity(ctx, model.Profile{ID: 2}))

	users := s.Users()
	require.Len(t, users, 2)
	assert.Equal(t, int64(2), users[0].ID)
}

// stallingPersister blocks every save until ctx is done.
type stallingPersister struct {
	memPersister
}

func (p *stallingPersister) Save(ctx context.Context, snap *model.Snapshot) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestCommitIsBoundedByWriteTimeout(t *testing.T) {
	s := newTestStore(t, &stallingPersister{}, WithWriteTimeout(30*time.Millisecond))

	start := time.Now()
	err := s.AppendMessage(context.WithoutCancel(context.Background()), 111, userMsg("hello", 1, 10))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPersistence)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Empty(t, s.Conversation(111))
}

func TestSetModeSurvivesActivityAndReload(t *testing.T) {
	ctx := context.Background()
	p := &memPersister{}
	s := newTestStore(t, p)

	_, ok := s.Mode(111)
	assert.False(t, ok)

	require.NoError(t, s.SetMode(ctx, 111, model.ModeNamed))
	require.NoError(t, s.RecordUserActivity(ctx, model.Profile{ID: 111, FirstName: "Ann"}))
	require.NoError(t, s.MarkIdentified(ctx, 111))

	mode, ok := s.Mode(111)
	require.True(t, ok)
	assert.Equal(t, model.ModeNamed, mode)

	reloaded := newTestStore(t, p)
	mode, ok = reloaded.Mode(111)
	require.True(t, ok)
	assert.Equal(t, model.ModeNamed, mode)
	assert.True(t, reloaded.Identified(111))

	u, ok := reloaded.User(111)
	require.True(t, ok)
	assert.Equal(t, "Ann", u.FirstName)
	assert.Equal(t, model.ModeNamed, u.Mode)
}

func TestSetModeRejectsUnknownMode(t *testing.T) {
	s := newTestStore(t, &memPersister{})

	err := s.SetMode(context.Background(), 111, "loud")
	assert.ErrorIs(t, err, model.ErrInvalidMode)
	_, ok := s.User(111)
	assert.False(t, ok)
}

func TestAppendMessageCountsByMode(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, &memPersister{})

	anon := userMsg("a", 1, 10)
	anon.Mode = model.ModeAnonymous
	named := userMsg("b", 2, 20)
	named.Mode = model.ModeNamed
	reply := model.Message{Sender: model.SenderOwner, Text: "r", UserMessageID: 3, OwnerMessageID: 30}

	require.NoError(t, s.AppendMessage(ctx, 111, anon))
	require.NoError(t, s.AppendMessage(ctx, 111, named))
	require.NoError(t, s.AppendMessage(ctx, 111, anon))
	require.NoError(t, s.AppendMessage(ctx, 111, reply))

	stats := s.Stats()
	assert.Equal(t, 3, stats.MessageCount)
	assert.Equal(t, 2, stats.AnonymousCount)
	assert.Equal(t, 1, stats.NamedCount)
}
