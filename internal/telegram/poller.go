package telegram

import (
	"context"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/capitalize-ai/operator-relay/pkg/logger"
)

// Poll receives updates by long polling until ctx is cancelled, then waits
// for in-flight updates to finish.
func Poll(ctx context.Context, api API, d *Dispatcher, log *logger.Logger) {
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = 60
	cfg.AllowedUpdates = []string{"message"}

	updates := api.GetUpdatesChan(cfg)
	log.Info("polling for updates")

	for {
		select {
		case <-ctx.Done():
			api.StopReceivingUpdates()
			log.Info("stopped polling, draining in-flight updates")
			d.Wait()
			return
		case u, ok := <-updates:
			if !ok {
				log.Warn("update channel closed")
				d.Wait()
				return
			}
			log.Debug("received update", zap.Int("update_id", u.UpdateID))
			d.Submit(ctx, u)
		}
	}
}
