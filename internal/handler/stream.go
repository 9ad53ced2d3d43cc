package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/operator-relay/internal/model"
	"github.com/capitalize-ai/operator-relay/internal/service"
	"github.com/capitalize-ai/operator-relay/pkg/logger"
	"github.com/capitalize-ai/operator-relay/pkg/metrics"
)

// StreamHandler streams relay events over SSE.
type StreamHandler struct {
	hub       *service.Hub
	heartbeat time.Duration
	logger    *logger.Logger
}

// NewStreamHandler creates a new stream handler.
func NewStreamHandler(hub *service.Hub, log *logger.Logger) *StreamHandler {
	return &StreamHandler{
		hub:       hub,
		heartbeat: 30 * time.Second,
		logger:    log,
	}
}

// ReplayCompleteEvent marks the end of the history replay.
type ReplayCompleteEvent struct {
	EventCount int `json:"event_count"`
}

// HeartbeatEvent keeps idle connections open.
type HeartbeatEvent struct {
	Timestamp time.Time `json:"timestamp"`
}

// Stream handles GET /api/v1/events/stream
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	metrics.IncrementSSEConnections()
	defer metrics.DecrementSSEConnections()

	sub, history := h.hub.Subscribe(64)
	defer h.hub.Unsubscribe(sub)

	for _, ev := range history {
		if err := sendSSEEvent(w, flusher, "relay", ev); err != nil {
			return
		}
	}
	sendSSEEvent(w, flusher, "replay_complete", &ReplayCompleteEvent{EventCount: len(history)})

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("SSE client disconnected")
			return

		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			if err := sendSSEEvent(w, flusher, "relay", ev); err != nil {
				h.logger.Debug("failed to write SSE event", zap.Error(err))
				return
			}

		case <-heartbeat.C:
			sendSSEEvent(w, flusher, "heartbeat", &HeartbeatEvent{Timestamp: time.Now()})
		}
	}
}

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	if ev, ok := data.(*model.RelayEvent); ok {
		fmt.Fprintf(w, "id: %s\n", ev.ID)
	}
	fmt.Fprintf(w, "event: %s\n", event)
	if _, err := fmt.Fprintf(w, "data: %s\n\n", jsonData); err != nil {
		return err
	}
	flusher.Flush()

	return nil
}
