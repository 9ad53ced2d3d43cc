package telegram

import (
	"context"
	"fmt"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/capitalize-ai/operator-relay/internal/model"
	"github.com/capitalize-ai/operator-relay/internal/relay"
	"github.com/capitalize-ai/operator-relay/pkg/logger"
)

// DefaultWorkers bounds how many updates are processed at once.
const DefaultWorkers = 16

// Handler processes relay events and send mode choices.
type Handler interface {
	Handle(ctx context.Context, ev relay.Event) relay.Result
	SelectMode(ctx context.Context, p model.Profile, mode model.SendMode) (bool, error)
}

// StatsSource is the store view the commands need.
type StatsSource interface {
	RecordUserActivity(ctx context.Context, p model.Profile) error
	Stats() model.Stats
}

// Sender is the outbound side the commands reply through.
type Sender interface {
	SendText(ctx context.Context, chatID int64, text string, replyTo int) (int, error)
	SendWithKeyboard(ctx context.Context, chatID int64, text string, buttons ...string) (int, error)
}

// CommandTexts are the replies to bot commands and the keyboard labels.
type CommandTexts struct {
	Greeting         string
	OperatorGreeting string
	ChooseMode       string
	WritePrompt      string
	AlreadyNamed     string
	Cancelled        string
	SelectFailed     string
	OperatorOnly     string
	StatsFormat      string

	AnonymousButton string
	NamedButton     string
	CancelButton    string
	BackButton      string
}

// DefaultCommandTexts returns the built-in English replies.
func DefaultCommandTexts() CommandTexts {
	return CommandTexts{
		Greeting: "Welcome! 👋\n\nMessages you send here are passed on privately and " +
			"replies arrive in this chat.\n\nChoose how to send your message:",
		OperatorGreeting: "You are the operator. Reply to a forwarded message to answer its sender; " +
			"/stats shows relay statistics.",
		ChooseMode:   "Choose how to send your message:",
		WritePrompt:  "Now write your message:",
		AlreadyNamed: "Your name was already shared in this conversation.",
		Cancelled:    "Cancelled.",
		SelectFailed: "⚠️ Something went wrong, please try again.",
		OperatorOnly: "This command is only available to the operator.",
		StatsFormat: "📊 Relay statistics\n\nUsers: %d\nMessages relayed: %d\n" +
			"Anonymous messages: %d\nNamed messages: %d\n" +
			"Active threads: %d\nRetained messages: %d",

		AnonymousButton: "🕶️ Send anonymously",
		NamedButton:     "👤 Send with my name",
		CancelButton:    "❌ Cancel",
		BackButton:      "🏠 Back to menu",
	}
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithWorkers bounds how many updates are processed concurrently.
func WithWorkers(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.workers = semaphore.NewWeighted(int64(n))
		}
	}
}

// Dispatcher runs bot commands and hands everything else to the relay.
// Updates from one chat are processed in arrival order; different chats run
// concurrently up to the worker limit. Wait blocks until all of them finish.
type Dispatcher struct {
	handler    Handler
	stats      StatsSource
	sender     Sender
	operatorID int64
	texts      CommandTexts
	logger     *logger.Logger
	workers    *semaphore.Weighted

	mu sync.Mutex
	// pending holds queued updates per chat. A key is present while that
	// chat has a running drain goroutine.
	pending map[int64][]tgbotapi.Update
	wg      sync.WaitGroup
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(h Handler, stats StatsSource, sender Sender, operatorID int64, log *logger.Logger, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		handler:    h,
		stats:      stats,
		sender:     sender,
		operatorID: operatorID,
		texts:      DefaultCommandTexts(),
		logger:     log,
		workers:    semaphore.NewWeighted(DefaultWorkers),
		pending:    make(map[int64][]tgbotapi.Update),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Submit queues u behind earlier updates from the same chat and processes it
// in the background. The work is detached from ctx's cancellation so
// shutdown can drain it.
func (d *Dispatcher) Submit(ctx context.Context, u tgbotapi.Update) {
	ctx = context.WithoutCancel(ctx)
	key := chatKey(u)

	d.mu.Lock()
	if queued, busy := d.pending[key]; busy {
		d.pending[key] = append(queued, u)
		d.mu.Unlock()
		return
	}
	d.pending[key] = nil
	d.wg.Add(1)
	d.mu.Unlock()

	go d.drain(ctx, key, u)
}

// drain processes u and then every update queued for the same chat.
func (d *Dispatcher) drain(ctx context.Context, key int64, u tgbotapi.Update) {
	defer d.wg.Done()

	for {
		// ctx is never cancelled, so Acquire only returns once a slot is free.
		_ = d.workers.Acquire(ctx, 1)
		d.Dispatch(ctx, u)
		d.workers.Release(1)

		d.mu.Lock()
		queued := d.pending[key]
		if len(queued) == 0 {
			delete(d.pending, key)
			d.mu.Unlock()
			return
		}
		u = queued[0]
		d.pending[key] = queued[1:]
		d.mu.Unlock()
	}
}

// Wait blocks until every submitted update has been processed.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Dispatch processes one update synchronously.
func (d *Dispatcher) Dispatch(ctx context.Context, u tgbotapi.Update) {
	ev, ok := ToEvent(u)
	if !ok {
		return
	}

	if ev.ChatKind == relay.ChatPrivate {
		if u.Message.IsCommand() {
			switch u.Message.Command() {
			case "start":
				d.start(ctx, ev)
				return
			case "stats":
				d.statsCommand(ctx, ev)
				return
			}
		}
		if ev.From.ID != d.operatorID && d.menu(ctx, ev) {
			return
		}
	}

	d.handler.Handle(ctx, ev)
}

func (d *Dispatcher) start(ctx context.Context, ev relay.Event) {
	log := d.logger.WithUpdate(ev.UpdateID, ev.ChatID, ev.From.ID)

	if ev.From.ID == d.operatorID {
		if _, err := d.sender.SendText(ctx, ev.ChatID, d.texts.OperatorGreeting, 0); err != nil {
			log.Warn("failed to send greeting", zap.Error(err))
		}
		return
	}

	if err := d.stats.RecordUserActivity(ctx, ev.From); err != nil {
		log.Warn("failed to record user activity", zap.Error(err))
	}
	d.reply(ctx, ev, d.texts.Greeting, d.texts.AnonymousButton, d.texts.NamedButton, d.texts.BackButton)
}

// menu handles taps on the reply keyboard. It reports whether ev was a
// keyboard label.
func (d *Dispatcher) menu(ctx context.Context, ev relay.Event) bool {
	switch ev.Text {
	case d.texts.AnonymousButton:
		d.selectMode(ctx, ev, model.ModeAnonymous)
	case d.texts.NamedButton:
		d.selectMode(ctx, ev, model.ModeNamed)
	case d.texts.CancelButton:
		d.reply(ctx, ev, d.texts.Cancelled, d.texts.AnonymousButton, d.texts.NamedButton)
	case d.texts.BackButton:
		d.reply(ctx, ev, d.texts.ChooseMode, d.texts.AnonymousButton, d.texts.NamedButton)
	default:
		return false
	}
	return true
}

func (d *Dispatcher) selectMode(ctx context.Context, ev relay.Event, mode model.SendMode) {
	named, err := d.handler.SelectMode(ctx, ev.From, mode)
	if err != nil {
		d.logger.WithUpdate(ev.UpdateID, ev.ChatID, ev.From.ID).
			Warn("failed to select send mode", zap.String("mode", string(mode)), zap.Error(err))
		d.reply(ctx, ev, d.texts.SelectFailed, d.texts.AnonymousButton, d.texts.NamedButton)
		return
	}

	text := d.texts.WritePrompt
	if mode == model.ModeAnonymous && named {
		text = d.texts.AlreadyNamed + "\n\n" + text
	}
	d.reply(ctx, ev, text, d.texts.CancelButton)
}

func (d *Dispatcher) reply(ctx context.Context, ev relay.Event, text string, buttons ...string) {
	if _, err := d.sender.SendWithKeyboard(ctx, ev.ChatID, text, buttons...); err != nil {
		d.logger.WithUpdate(ev.UpdateID, ev.ChatID, ev.From.ID).Warn("failed to send reply", zap.Error(err))
	}
}

func (d *Dispatcher) statsCommand(ctx context.Context, ev relay.Event) {
	log := d.logger.WithUpdate(ev.UpdateID, ev.ChatID, ev.From.ID)

	text := d.texts.OperatorOnly
	if ev.From.ID == d.operatorID {
		s := d.stats.Stats()
		text = fmt.Sprintf(d.texts.StatsFormat, s.Users, s.MessageCount, s.AnonymousCount, s.NamedCount,
			s.Threads, s.RetainedMessages)
	}
	if _, err := d.sender.SendText(ctx, ev.ChatID, text, ev.MessageID); err != nil {
		log.Warn("failed to send stats", zap.Error(err))
	}
}

// chatKey groups updates that must be processed in order.
func chatKey(u tgbotapi.Update) int64 {
	if chat := u.FromChat(); chat != nil {
		return chat.ID
	}
	return 0
}
