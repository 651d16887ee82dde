// Package nats implements the message queue port using NATS JetStream. The
// stream carries run lifecycle and saga events for downstream consumers
// (tool workers, audit) alongside the authoritative postgres event log.
package nats

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/tiergate/tiergate/internal/port/messagequeue"
)

const (
	streamName = "TIERGATE"

	// Events older than this have long been folded into run state; the
	// stream is a feed, not the source of truth.
	streamMaxAge = 72 * time.Hour
)

// Queue implements messagequeue.Queue using NATS JetStream.
type Queue struct {
	nc *nats.Conn
	js jetstream.JetStream
}

// Connect establishes a connection to NATS and ensures the lifecycle-event
// stream exists. Subjects follow runs.<tenant>.<event_type> and
// sagas.<tenant>.<event_type>.
func Connect(ctx context.Context, url string) (*Queue, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name: streamName,
		Subjects: []string{
			messagequeue.SubjectRunsPrefix + ">",
			"sagas.>",
		},
		Retention:  jetstream.LimitsPolicy,
		MaxAge:     streamMaxAge,
		Duplicates: 2 * time.Minute,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream stream create: %w", err)
	}

	slog.Info("nats connected", "url", url, "stream", streamName)
	return &Queue{nc: nc, js: js}, nil
}

// Publish sends a message to the given subject. The message id is derived
// from the payload so a replayed publish of the same immutable event is
// deduplicated inside the stream's duplicate window.
func (q *Queue) Publish(ctx context.Context, subject string, data []byte) error {
	sum := sha256.Sum256(data)
	_, err := q.js.Publish(ctx, subject, data,
		jetstream.WithMsgID(hex.EncodeToString(sum[:16])))
	if err != nil {
		return fmt.Errorf("nats publish %s: %w", subject, err)
	}
	return nil
}

// Subscribe registers a durable handler for messages on the given subject
// filter. Handler errors trigger redelivery via Nak.
func (q *Queue) Subscribe(ctx context.Context, subject string, handler messagequeue.Handler) (func(), error) {
	consumer, err := q.js.CreateOrUpdateConsumer(ctx, streamName, jetstream.ConsumerConfig{
		Durable:       durableName(subject),
		FilterSubject: subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("nats consumer create: %w", err)
	}

	cons, err := consumer.Consume(func(msg jetstream.Msg) {
		if err := handler(context.Background(), msg.Subject(), msg.Data()); err != nil {
			slog.Error("message handler failed", "subject", msg.Subject(), "error", err)
			if nakErr := msg.Nak(); nakErr != nil {
				slog.Error("nats nak failed", "error", nakErr)
			}
			return
		}
		if ackErr := msg.Ack(); ackErr != nil {
			slog.Error("nats ack failed", "error", ackErr)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("nats consume: %w", err)
	}

	return cons.Stop, nil
}

// durableName derives a consumer name from a subject filter. NATS consumer
// names cannot contain wildcards or dots.
func durableName(subject string) string {
	name := make([]byte, 0, len(subject)+8)
	name = append(name, "tiergate-"...)
	for i := 0; i < len(subject); i++ {
		switch c := subject[i]; c {
		case '.', '*', '>':
			name = append(name, '_')
		default:
			name = append(name, c)
		}
	}
	return string(name)
}

// Close shuts down the NATS connection.
func (q *Queue) Close() error {
	q.nc.Close()
	return nil
}
