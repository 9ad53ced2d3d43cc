// Package relay routes messages between users and the operator through
// per-user threads, using reply-to linkage for the return path.
package relay

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/capitalize-ai/operator-relay/internal/model"
	"github.com/capitalize-ai/operator-relay/internal/moderation"
	"github.com/capitalize-ai/operator-relay/pkg/logger"
	"github.com/capitalize-ai/operator-relay/pkg/metrics"
	"github.com/capitalize-ai/operator-relay/pkg/tracing"
)

// Transport sends messages on the chat platform. Implementations must honour
// ctx cancellation.
type Transport interface {
	SendText(ctx context.Context, chatID int64, text string, replyTo int) (int, error)
	SendPhoto(ctx context.Context, chatID int64, photo, caption string, replyTo int) (int, error)
}

// ConversationStore is the state the engine reads and writes.
type ConversationStore interface {
	RecordUserActivity(ctx context.Context, p model.Profile) error
	EnsureThread(userID int64) (int, bool)
	BindThread(ctx context.Context, userID int64, ownerMessageID int) (int, error)
	AppendMessage(ctx context.Context, userID int64, msg model.Message) error
	FindByOperatorMessageID(ownerMessageID int) (model.ThreadLink, bool)
	Mode(userID int64) (model.SendMode, bool)
	SetMode(ctx context.Context, userID int64, mode model.SendMode) error
	Identified(userID int64) bool
	MarkIdentified(ctx context.Context, userID int64) error
}

// Moderator reviews group messages.
type Moderator interface {
	Review(ctx context.Context, msg moderation.GroupMessage) moderation.Verdict
}

// EventSink receives an audit record for every handled event.
type EventSink interface {
	Publish(ctx context.Context, ev *model.RelayEvent) error
}

// Config holds engine settings. DefaultMode applies to users who never
// picked a send mode.
type Config struct {
	OperatorID  int64
	SendTimeout time.Duration
	DefaultMode model.SendMode
	Texts       Texts
}

// Option configures an Engine.
type Option func(*Engine)

// WithModerator enables group moderation.
func WithModerator(m Moderator) Option {
	return func(e *Engine) {
		e.moderator = m
	}
}

// WithEventSink publishes relay events.
func WithEventSink(s EventSink) Option {
	return func(e *Engine) {
		e.events = s
	}
}

// WithLogger sets the engine logger.
func WithLogger(l *logger.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// Engine is the relay state machine. It holds no conversation state of its own.
type Engine struct {
	store     ConversationStore
	transport Transport
	moderator Moderator
	events    EventSink

	operatorID  int64
	sendTimeout time.Duration
	defaultMode model.SendMode
	texts       Texts

	locks  *userLocks
	logger *logger.Logger
	tracer trace.Tracer
	now    func() time.Time
}

// NewEngine creates a relay engine.
func NewEngine(cfg Config, st ConversationStore, tr Transport, opts ...Option) *Engine {
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	if cfg.Texts == (Texts{}) {
		cfg.Texts = DefaultTexts()
	}
	if !cfg.DefaultMode.Valid() {
		cfg.DefaultMode = model.ModeAnonymous
	}

	e := &Engine{
		store:       st,
		transport:   tr,
		operatorID:  cfg.OperatorID,
		sendTimeout: cfg.SendTimeout,
		defaultMode: cfg.DefaultMode,
		texts:       cfg.Texts,
		locks:       newUserLocks(),
		logger:      logger.Global(),
		tracer:      tracing.Tracer("relay"),
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Handle routes one inbound event. Failures are reported to the affected side
// and returned in the Result; Handle never panics on I/O errors.
func (e *Engine) Handle(ctx context.Context, ev Event) Result {
	ctx, span := e.tracer.Start(ctx, "relay.Handle", trace.WithAttributes(
		attribute.Int64("chat_id", ev.ChatID),
		attribute.Int64("from_id", ev.From.ID),
		attribute.Int("message_id", ev.MessageID),
	))
	defer span.End()

	log := e.logger.WithUpdate(ev.UpdateID, ev.ChatID, ev.From.ID)

	var res Result
	switch {
	case ev.ChatKind == ChatGroup:
		res = e.handleGroup(ctx, ev)
	case ev.ChatKind != ChatPrivate:
		res = Result{Status: StatusIgnored}
	case ev.From.ID == e.operatorID:
		res = e.handleOperator(ctx, log, ev)
	default:
		res = e.handleUser(ctx, log, ev)
	}

	span.SetAttributes(attribute.String("status", string(res.Status)))
	if res.Err != nil {
		span.RecordError(res.Err)
	}
	metrics.RecordRelay(string(res.Direction), string(res.Status))

	fields := []zap.Field{
		zap.String("direction", string(res.Direction)),
		zap.String("status", string(res.Status)),
		zap.Int64("target_user_id", res.UserID),
		zap.Int("user_message_id", res.UserMessageID),
		zap.Int("owner_message_id", res.OwnerMessageID),
	}
	if res.Err != nil {
		log.Warn("relay step failed", append(fields, zap.Error(res.Err))...)
	} else if res.Status != StatusIgnored {
		log.Info("relay step completed", fields...)
	}

	e.publish(ctx, res)
	return res
}

// handleUser forwards a user's message into their thread.
func (e *Engine) handleUser(ctx context.Context, log *logger.Logger, ev Event) Result {
	userID := ev.From.ID
	res := Result{Direction: model.DirectionInbound, UserID: userID, UserMessageID: ev.MessageID}

	if !ev.HasContent() {
		e.notify(ctx, log, ev.ChatID, e.texts.Unsupported, ev.MessageID)
		res.Status = StatusIgnored
		res.Err = ErrUnsupportedContent
		return res
	}

	unlock := e.locks.Lock(userID)
	defer unlock()

	if err := e.store.RecordUserActivity(ctx, ev.From); err != nil {
		e.notify(ctx, log, ev.ChatID, e.texts.DeliveryFailed, ev.MessageID)
		res.Status = StatusPersistFailed
		res.Err = err
		return res
	}

	mode := e.modeFor(userID)

	header, ok := e.store.EnsureThread(userID)
	if !ok {
		sent, err := e.send(ctx, "owner", e.operatorID, content{text: e.headerText(ev.From, mode)}, 0)
		if err != nil {
			e.notify(ctx, log, ev.ChatID, e.texts.DeliveryFailed, ev.MessageID)
			res.Status = StatusDeliveryFailed
			res.Err = err
			return res
		}
		header, err = e.store.BindThread(ctx, userID, sent)
		if err != nil {
			e.notify(ctx, log, ev.ChatID, e.texts.DeliveryFailed, ev.MessageID)
			res.Status = StatusPersistFailed
			res.Err = err
			return res
		}
		log.Info("thread header created", zap.Int("header_id", header), zap.String("mode", string(mode)))
		if mode == model.ModeNamed {
			e.markIdentified(ctx, log, userID)
		}
	} else if mode == model.ModeNamed && !e.store.Identified(userID) {
		if err := e.shareIdentity(ctx, log, ev.From, header); err != nil {
			log.Warn("failed to share identity", zap.Error(err))
		}
	}

	c := content{text: ev.Text, photo: ev.Photo, caption: ev.Caption}
	forwarded, err := e.send(ctx, "owner", e.operatorID, c, header)
	if err != nil {
		e.notify(ctx, log, ev.ChatID, e.texts.DeliveryFailed, ev.MessageID)
		e.notify(ctx, log, e.operatorID, fmt.Sprintf(e.texts.ForwardFailedNotice, conversationTag(userID)), header)
		res.Status = StatusDeliveryFailed
		res.Err = err
		return res
	}
	res.OwnerMessageID = forwarded

	msg := model.Message{
		Timestamp:      e.now(),
		Sender:         model.SenderUser,
		Text:           ev.Text,
		Photo:          ev.Photo,
		Caption:        ev.Caption,
		Mode:           mode,
		UserMessageID:  ev.MessageID,
		OwnerMessageID: forwarded,
	}
	if err := e.store.AppendMessage(ctx, userID, msg); err != nil {
		e.notify(ctx, log, e.operatorID, e.texts.NotRecorded, forwarded)
		res.Status = StatusPersistFailed
		res.Err = err
		return res
	}

	e.notify(ctx, log, ev.ChatID, e.texts.MessageSent, ev.MessageID)
	res.Status = StatusForwarded
	return res
}

// SelectMode records how the user's messages are labelled for the operator.
// Switching to named after an anonymous header was sent posts the user's
// identity into their thread. The result reports whether the operator has
// already been shown who the user is.
func (e *Engine) SelectMode(ctx context.Context, p model.Profile, mode model.SendMode) (bool, error) {
	if !mode.Valid() {
		return false, fmt.Errorf("%w: %q", model.ErrInvalidMode, mode)
	}

	log := e.logger.With(zap.Int64("user_id", p.ID))

	unlock := e.locks.Lock(p.ID)
	defer unlock()

	if err := e.store.RecordUserActivity(ctx, p); err != nil {
		return false, err
	}
	if err := e.store.SetMode(ctx, p.ID, mode); err != nil {
		return false, err
	}
	log.Info("send mode selected", zap.String("mode", string(mode)))

	identified := e.store.Identified(p.ID)
	if mode == model.ModeAnonymous || identified {
		return identified, nil
	}

	header, ok := e.store.EnsureThread(p.ID)
	if !ok {
		// The header will carry the name when it is created.
		return false, nil
	}
	if err := e.shareIdentity(ctx, log, p, header); err != nil {
		return false, err
	}
	return true, nil
}

// handleOperator delivers an operator reply to the user it resolves to.
func (e *Engine) handleOperator(ctx context.Context, log *logger.Logger, ev Event) Result {
	res := Result{Direction: model.DirectionOutbound, OwnerMessageID: ev.MessageID}

	if ev.ReplyToMessageID == 0 {
		e.notify(ctx, log, ev.ChatID, e.texts.MustReply, ev.MessageID)
		res.Status = StatusNotAReply
		res.Err = ErrNotAReply
		return res
	}

	link, ok := e.store.FindByOperatorMessageID(ev.ReplyToMessageID)
	if !ok {
		e.notify(ctx, log, ev.ChatID, e.texts.ReplyTargetNotFound, ev.MessageID)
		res.Status = StatusReplyTargetNotFound
		res.Err = fmt.Errorf("%w: owner message %d", ErrReplyTargetNotFound, ev.ReplyToMessageID)
		return res
	}
	res.UserID = link.UserID

	if !ev.HasContent() {
		e.notify(ctx, log, ev.ChatID, e.texts.Unsupported, ev.MessageID)
		res.Status = StatusIgnored
		res.Err = ErrUnsupportedContent
		return res
	}

	unlock := e.locks.Lock(link.UserID)
	defer unlock()

	c := content{text: ev.Text, photo: ev.Photo, caption: ev.Caption}
	delivered, err := e.send(ctx, "user", link.UserID, c, link.UserMessageID)
	if err != nil {
		e.notify(ctx, log, ev.ChatID, e.texts.ReplyDeliveryFailed, ev.MessageID)
		res.Status = StatusDeliveryFailed
		res.Err = err
		return res
	}
	res.UserMessageID = delivered

	msg := model.Message{
		Timestamp:      e.now(),
		Sender:         model.SenderOwner,
		Text:           ev.Text,
		Photo:          ev.Photo,
		Caption:        ev.Caption,
		UserMessageID:  delivered,
		OwnerMessageID: ev.MessageID,
	}
	if err := e.store.AppendMessage(ctx, link.UserID, msg); err != nil {
		e.notify(ctx, log, ev.ChatID, e.texts.NotRecorded, ev.MessageID)
		res.Status = StatusPersistFailed
		res.Err = err
		return res
	}

	res.Status = StatusDelivered
	return res
}

// handleGroup passes group traffic to the moderation gate. Group messages
// never enter a user conversation.
func (e *Engine) handleGroup(ctx context.Context, ev Event) Result {
	res := Result{Direction: model.DirectionGroup, Status: StatusIgnored}
	if e.moderator == nil {
		return res
	}

	text := ev.Text
	if text == "" {
		text = ev.Caption
	}
	v := e.moderator.Review(ctx, moderation.GroupMessage{
		ChatID:    ev.ChatID,
		ChatTitle: ev.ChatTitle,
		From:      ev.From,
		MessageID: ev.MessageID,
		Text:      text,
	})
	if v.Flagged {
		res.Status = StatusModerated
	}
	res.Err = v.Err
	return res
}

type content struct {
	text    string
	photo   string
	caption string
}

// send performs one bounded platform send.
func (e *Engine) send(ctx context.Context, target string, chatID int64, c content, replyTo int) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, e.sendTimeout)
	defer cancel()

	start := time.Now()
	var id int
	var err error
	if c.photo != "" {
		id, err = e.transport.SendPhoto(ctx, chatID, c.photo, c.caption, replyTo)
	} else {
		id, err = e.transport.SendText(ctx, chatID, c.text, replyTo)
	}
	metrics.RecordSend(target, err, time.Since(start).Seconds())

	if err != nil {
		return 0, &TransportError{Target: target, ChatID: chatID, Err: err}
	}
	return id, nil
}

// notify sends a best-effort notice.
func (e *Engine) notify(ctx context.Context, log *logger.Logger, chatID int64, text string, replyTo int) {
	if _, err := e.send(ctx, "notice", chatID, content{text: text}, replyTo); err != nil {
		log.Warn("failed to send notice", zap.Int64("notice_chat_id", chatID), zap.Error(err))
	}
}

func (e *Engine) modeFor(userID int64) model.SendMode {
	if mode, ok := e.store.Mode(userID); ok {
		return mode
	}
	return e.defaultMode
}

// shareIdentity posts the user's profile into their thread.
func (e *Engine) shareIdentity(ctx context.Context, log *logger.Logger, p model.Profile, header int) error {
	if _, err := e.send(ctx, "owner", e.operatorID, content{text: e.identityText(p)}, header); err != nil {
		return err
	}
	e.markIdentified(ctx, log, p.ID)
	return nil
}

func (e *Engine) markIdentified(ctx context.Context, log *logger.Logger, userID int64) {
	if err := e.store.MarkIdentified(ctx, userID); err != nil {
		log.Warn("failed to record identity disclosure", zap.Error(err))
	}
}

func (e *Engine) headerText(p model.Profile, mode model.SendMode) string {
	tag := conversationTag(p.ID)
	if mode == model.ModeAnonymous {
		return fmt.Sprintf(e.texts.AnonymousHeader, tag)
	}
	return e.profileText(e.texts.NamedHeader, tag, p)
}

func (e *Engine) identityText(p model.Profile) string {
	return e.profileText(e.texts.IdentityShared, conversationTag(p.ID), p)
}

func (e *Engine) profileText(format, tag string, p model.Profile) string {
	handle := p.Handle()
	if handle == "" {
		handle = "-"
	}
	return fmt.Sprintf(format, tag, p.DisplayName(), handle, p.ID)
}

func (e *Engine) publish(ctx context.Context, res Result) {
	if e.events == nil || res.Status == StatusIgnored {
		return
	}

	ev := &model.RelayEvent{
		ID:             uuid.Must(uuid.NewV7()).String(),
		Direction:      res.Direction,
		Status:         string(res.Status),
		UserID:         res.UserID,
		UserMessageID:  res.UserMessageID,
		OwnerMessageID: res.OwnerMessageID,
		CreatedAt:      e.now(),
	}
	if res.Err != nil {
		ev.Reason = res.Err.Error()
	}

	ctx, cancel := context.WithTimeout(ctx, e.sendTimeout)
	defer cancel()
	if err := e.events.Publish(ctx, ev); err != nil {
		e.logger.Warn("failed to publish relay event", zap.String("event_id", ev.ID), zap.Error(err))
	}
}

// conversationTag is a stable pseudonym for a user, shown to the operator.
func conversationTag(userID int64) string {
	id := uuid.NewSHA1(uuid.NameSpaceOID, []byte(strconv.FormatInt(userID, 10)))
	return "#" + id.String()[:8]
}
