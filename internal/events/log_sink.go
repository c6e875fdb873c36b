package events

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"
)

// LogSink writes events as structured log lines
type LogSink struct {
	logger *logrus.Entry
}

// NewLogSink creates a log sink
func NewLogSink(logger *logrus.Logger) *LogSink {
	return &LogSink{logger: logger.WithField("component", "events.log")}
}

func (s *LogSink) Emit(_ context.Context, event Event) {
	entry := s.logger.WithFields(logrus.Fields{
		"event_id":   event.ID.String(),
		"event_type": event.Type,
	})
	if event.ProductID != 0 {
		entry = entry.WithField("product_id", event.ProductID)
	}
	if event.ShopID != 0 {
		entry = entry.WithField("shop_id", event.ShopID)
	}
	if event.Context != "" {
		entry = entry.WithField("context", event.Context)
	}
	for k, v := range event.Data {
		entry = entry.WithField(k, v)
	}

	msg := event.Message
	if msg == "" {
		msg = event.Type
	}

	switch {
	case strings.HasSuffix(event.Type, "failed"):
		entry.Error(msg)
	case strings.HasSuffix(event.Type, "conflict"), strings.HasSuffix(event.Type, "rejected"):
		entry.Warn(msg)
	default:
		entry.Info(msg)
	}
}
