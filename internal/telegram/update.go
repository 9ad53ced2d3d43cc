package telegram

import (
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/capitalize-ai/operator-relay/internal/model"
	"github.com/capitalize-ai/operator-relay/internal/relay"
)

// ToEvent converts an update into a relay event. Updates without a message
// or sender are reported as not ok.
func ToEvent(u tgbotapi.Update) (relay.Event, bool) {
	m := u.Message
	if m == nil || m.From == nil || m.Chat == nil {
		return relay.Event{}, false
	}

	ev := relay.Event{
		UpdateID:  u.UpdateID,
		ChatID:    m.Chat.ID,
		ChatKind:  chatKind(m.Chat),
		ChatTitle: m.Chat.Title,
		From: model.Profile{
			ID:        m.From.ID,
			FirstName: m.From.FirstName,
			LastName:  m.From.LastName,
			Username:  m.From.UserName,
		},
		MessageID: m.MessageID,
		Text:      m.Text,
		Caption:   m.Caption,
	}
	if n := len(m.Photo); n > 0 {
		// Sizes are ordered smallest first.
		ev.Photo = m.Photo[n-1].FileID
	}
	if m.ReplyToMessage != nil {
		ev.ReplyToMessageID = m.ReplyToMessage.MessageID
	}
	return ev, true
}

func chatKind(c *tgbotapi.Chat) relay.ChatKind {
	switch {
	case c.IsPrivate():
		return relay.ChatPrivate
	case c.IsGroup(), c.IsSuperGroup():
		return relay.ChatGroup
	default:
		return relay.ChatOther
	}
}
