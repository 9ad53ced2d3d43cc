// Package telegram adapts the Telegram Bot API to the relay engine.
package telegram

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/capitalize-ai/operator-relay/pkg/logger"
)

// API is the subset of *tgbotapi.BotAPI the relay uses.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	MakeRequest(endpoint string, params tgbotapi.Params) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Bot sends messages through the Bot API, throttled by a shared limiter.
type Bot struct {
	api     API
	limiter *rate.Limiter
	logger  *logger.Logger
}

// NewBot creates a Bot. A non-positive rate disables throttling.
func NewBot(api API, perSecond float64, burst int, log *logger.Logger) *Bot {
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	if burst <= 0 {
		burst = 1
	}
	return &Bot{
		api:     api,
		limiter: rate.NewLimiter(limit, burst),
		logger:  log,
	}
}

// Connect authenticates with the Bot API.
func Connect(token string, log *logger.Logger) (*tgbotapi.BotAPI, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to telegram: %w", err)
	}
	log.Info("authorized on telegram", zap.String("bot", api.Self.UserName))
	return api, nil
}

// SendText sends a text message, optionally as a reply.
func (b *Bot) SendText(ctx context.Context, chatID int64, text string, replyTo int) (int, error) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyToMessageID = replyTo
	msg.AllowSendingWithoutReply = true
	return b.send(ctx, msg)
}

// SendPhoto sends a previously uploaded photo by file id.
func (b *Bot) SendPhoto(ctx context.Context, chatID int64, photo, caption string, replyTo int) (int, error) {
	msg := tgbotapi.NewPhoto(chatID, tgbotapi.FileID(photo))
	msg.Caption = caption
	msg.ReplyToMessageID = replyTo
	msg.AllowSendingWithoutReply = true
	return b.send(ctx, msg)
}

// SendWithKeyboard sends text with a reply keyboard, one button per row.
func (b *Bot) SendWithKeyboard(ctx context.Context, chatID int64, text string, buttons ...string) (int, error) {
	msg := tgbotapi.NewMessage(chatID, text)
	if len(buttons) > 0 {
		rows := make([][]tgbotapi.KeyboardButton, 0, len(buttons))
		for _, label := range buttons {
			rows = append(rows, tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(label)))
		}
		kb := tgbotapi.NewReplyKeyboard(rows...)
		kb.ResizeKeyboard = true
		msg.ReplyMarkup = kb
	}
	return b.send(ctx, msg)
}

// send waits for the limiter and performs the call, giving up when ctx ends.
// The Bot API client has no context support, so an abandoned call may still
// complete in the background.
func (b *Bot) send(ctx context.Context, c tgbotapi.Chattable) (int, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return 0, err
	}

	type result struct {
		msg tgbotapi.Message
		err error
	}
	done := make(chan result, 1)
	go func() {
		msg, err := b.api.Send(c)
		done <- result{msg: msg, err: err}
	}()

	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case r := <-done:
		if r.err != nil {
			return 0, r.err
		}
		return r.msg.MessageID, nil
	}
}

// RegisterWebhook points Telegram at url. Updates are then signed with secret
// in the X-Telegram-Bot-Api-Secret-Token header.
func (b *Bot) RegisterWebhook(url, secret string) error {
	params := tgbotapi.Params{"url": url}
	params.AddNonEmpty("secret_token", secret)

	resp, err := b.api.MakeRequest("setWebhook", params)
	if err != nil {
		return fmt.Errorf("failed to register webhook: %w", err)
	}
	if !resp.Ok {
		return fmt.Errorf("failed to register webhook: %s", resp.Description)
	}
	b.logger.Info("webhook registered", zap.String("url", url))
	return nil
}

// DeleteWebhook switches the bot back to long polling.
func (b *Bot) DeleteWebhook() error {
	if _, err := b.api.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
		return fmt.Errorf("failed to delete webhook: %w", err)
	}
	return nil
}
