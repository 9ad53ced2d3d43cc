// Package moderation classifies group messages and alerts the operator about flagged ones.
package moderation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/capitalize-ai/operator-relay/internal/model"
	"github.com/capitalize-ai/operator-relay/pkg/logger"
	"github.com/capitalize-ai/operator-relay/pkg/metrics"
	"github.com/capitalize-ai/operator-relay/pkg/tracing"
)

// Classification is a classifier's judgement of one text.
type Classification struct {
	Flagged bool
	Reason  string
}

// Classifier judges whether a text should be flagged.
type Classifier interface {
	Classify(ctx context.Context, text string) (Classification, error)
	Name() string
}

// Notifier delivers the operator alert.
type Notifier interface {
	SendText(ctx context.Context, chatID int64, text string, replyTo int) (int, error)
}

// GroupMessage is a message observed in a group chat.
type GroupMessage struct {
	ChatID    int64
	ChatTitle string
	From      model.Profile
	MessageID int
	Text      string
}

// Verdict is the gate's decision. Err is set when classification failed and
// the message was let through.
type Verdict struct {
	Flagged bool
	Reason  string
	Alerted bool
	Err     error
}

// ClassificationError reports a failed or timed out classification.
type ClassificationError struct {
	Classifier string
	Err        error
}

func (e *ClassificationError) Error() string {
	return fmt.Sprintf("classification by %s failed: %v", e.Classifier, e.Err)
}

func (e *ClassificationError) Unwrap() error {
	return e.Err
}

// Gate consults a classifier for group traffic. It fails open.
type Gate struct {
	classifier Classifier
	notifier   Notifier
	operatorID int64
	timeout    time.Duration
	logger     *logger.Logger
	tracer     trace.Tracer
}

// NewGate creates a moderation gate.
func NewGate(c Classifier, n Notifier, operatorID int64, timeout time.Duration, log *logger.Logger) *Gate {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Gate{
		classifier: c,
		notifier:   n,
		operatorID: operatorID,
		timeout:    timeout,
		logger:     log,
		tracer:     tracing.Tracer("moderation"),
	}
}

// Review classifies msg and alerts the operator if it is flagged.
func (g *Gate) Review(ctx context.Context, msg GroupMessage) Verdict {
	if strings.TrimSpace(msg.Text) == "" {
		return Verdict{}
	}

	ctx, span := g.tracer.Start(ctx, "moderation.Review", trace.WithAttributes(
		attribute.Int64("chat_id", msg.ChatID),
		attribute.String("classifier", g.classifier.Name()),
	))
	defer span.End()

	cctx, cancel := context.WithTimeout(ctx, g.timeout)
	result, err := g.classifier.Classify(cctx, msg.Text)
	cancel()

	if err != nil {
		cerr := &ClassificationError{Classifier: g.classifier.Name(), Err: err}
		span.RecordError(cerr)
		metrics.ModerationChecksTotal.WithLabelValues("error").Inc()
		g.logger.Warn("moderation check failed, letting message through",
			zap.Int64("chat_id", msg.ChatID),
			zap.Int("message_id", msg.MessageID),
			zap.Bool("timeout", errors.Is(err, context.DeadlineExceeded)),
			zap.Error(err),
		)
		return Verdict{Err: cerr}
	}

	if !result.Flagged {
		metrics.ModerationChecksTotal.WithLabelValues("clean").Inc()
		return Verdict{}
	}

	metrics.ModerationChecksTotal.WithLabelValues("flagged").Inc()
	v := Verdict{Flagged: true, Reason: result.Reason}

	if _, err := g.notifier.SendText(ctx, g.operatorID, alertText(msg, result.Reason), 0); err != nil {
		g.logger.Warn("failed to alert operator about flagged message",
			zap.Int64("chat_id", msg.ChatID),
			zap.Error(err),
		)
		return v
	}
	v.Alerted = true

	g.logger.Info("flagged group message",
		zap.Int64("chat_id", msg.ChatID),
		zap.Int64("user_id", msg.From.ID),
		zap.String("reason", result.Reason),
	)
	return v
}

func alertText(msg GroupMessage, reason string) string {
	var b strings.Builder
	b.WriteString("⚠️ Flagged message")
	if msg.ChatTitle != "" {
		fmt.Fprintf(&b, " in %q", msg.ChatTitle)
	}
	fmt.Fprintf(&b, "\nFrom: %s", msg.From.DisplayName())
	if h := msg.From.Handle(); h != "" {
		fmt.Fprintf(&b, " (%s)", h)
	}
	fmt.Fprintf(&b, ", id %d", msg.From.ID)
	if reason != "" {
		fmt.Fprintf(&b, "\nReason: %s", reason)
	}
	fmt.Fprintf(&b, "\n\n%s", msg.Text)
	return b.String()
}
