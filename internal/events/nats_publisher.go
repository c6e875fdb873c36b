package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/sirupsen/logrus"
)

const (
	// StreamName holds every catalog event and sync job message
	StreamName = "CATALOG_EVENTS"
	// StreamSubjects is the subject filter of StreamName
	StreamSubjects = "catalog.>"

	publishTimeout = 2 * time.Second
)

// Connect opens a NATS connection that keeps reconnecting in the background
func Connect(url, name string, logger *logrus.Logger) (*nats.Conn, error) {
	log := logger.WithField("component", "nats")
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.ReconnectBufSize(8*1024*1024),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Infof("Reconnected to %s", nc.ConnectedUrl())
		}),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.WithError(err).Warn("Disconnected")
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			log.Info("Connection closed")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.WithError(err).Error("NATS error")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return nc, nil
}

// EnsureStream creates or updates the catalog stream
func EnsureStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      StreamName,
		Subjects:  []string{StreamSubjects},
		Retention: jetstream.LimitsPolicy,
		MaxAge:    7 * 24 * time.Hour,
		Storage:   jetstream.FileStorage,
		Replicas:  1,
	})
	return err
}

// Publisher sends domain events to JetStream, one subject per event type
type Publisher struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	logger *logrus.Entry
}

// NewPublisher creates a JetStream publisher on nc and ensures the catalog stream exists
func NewPublisher(ctx context.Context, nc *nats.Conn, logger *logrus.Logger) (*Publisher, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}
	p := &Publisher{
		nc:     nc,
		js:     js,
		logger: logger.WithField("component", "events.publisher"),
	}
	if err := EnsureStream(ctx, js); err != nil {
		p.logger.WithError(err).Warnf("Failed to ensure %s stream", StreamName)
	}
	return p, nil
}

// Emit publishes the event. Failures are logged and never reach the caller.
func (p *Publisher) Emit(ctx context.Context, event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		p.logger.WithError(err).WithField("event_type", event.Type).Error("Failed to encode event")
		return
	}

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if _, err := p.js.Publish(pubCtx, event.Type, data, jetstream.WithMsgID(event.ID.String())); err != nil {
		p.logger.WithError(err).WithFields(logrus.Fields{
			"event_type": event.Type,
			"product_id": event.ProductID,
		}).Warn("Failed to publish event")
	}
}

// JetStream exposes the stream context for other publishers on the same connection
func (p *Publisher) JetStream() jetstream.JetStream {
	return p.js
}

// IsConnected returns true if connected to NATS
func (p *Publisher) IsConnected() bool {
	return p.nc != nil && p.nc.IsConnected()
}
