package pubsub

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel/trace"
)

const (
	headerUserID    = "Orgchat-User-Id"
	headerMessageID = "Orgchat-Message-Id"
)

// NATSBridge implements Bus on a NATS connection so several service
// instances share room events. NATS delivers a subscription's messages on a
// single goroutine in publish order.
type NATSBridge struct {
	nc     *nats.Conn
	tracer trace.Tracer

	mu   sync.Mutex
	subs []*nats.Subscription
}

// NewNATSBridge connects to url and reconnects indefinitely.
func NewNATSBridge(url string, tracer trace.Tracer) (*NATSBridge, error) {
	nc, err := nats.Connect(url,
		nats.Name("orgchat"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("NATS disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("pubsub: connect to NATS: %w", err)
	}
	return NewNATSBridgeFromConn(nc, tracer), nil
}

// NewNATSBridgeFromConn wraps an existing connection.
func NewNATSBridgeFromConn(nc *nats.Conn, tracer trace.Tracer) *NATSBridge {
	return &NATSBridge{nc: nc, tracer: tracer}
}

// Publish implements the Publisher interface.
func (b *NATSBridge) Publish(ctx context.Context, msg Message) error {
	out := nats.NewMsg(msg.Topic)
	out.Data = msg.Payload
	for k, v := range msg.Metadata {
		out.Header.Set(k, v)
	}
	out.Header.Set(headerUserID, msg.UserID)
	out.Header.Set(headerMessageID, uuid.NewString())

	var span trace.Span
	if b.tracer != nil {
		_, span = startSpan(ctx, b.tracer, spanInfo{
			system:    "nats",
			operation: "publish",
			topic:     msg.Topic,
			messageID: out.Header.Get(headerMessageID),
			userID:    msg.UserID,
			size:      len(msg.Payload),
		})
	}
	err := b.nc.PublishMsg(out)
	if span != nil {
		endSpan(span, err)
	}
	return err
}

// Subscribe implements the Subscriber interface. The subscription ends when
// ctx is cancelled or the bridge is closed.
func (b *NATSBridge) Subscribe(ctx context.Context, topic string, handler Handler) error {
	sub, err := b.nc.Subscribe(topic, func(in *nats.Msg) {
		msg := fromNATS(in)
		msgCtx := ctx
		var span trace.Span
		if b.tracer != nil {
			msgCtx, span = startSpan(ctx, b.tracer, spanInfo{
				system:    "nats",
				operation: "process",
				topic:     msg.Topic,
				messageID: in.Header.Get(headerMessageID),
				userID:    msg.UserID,
				size:      len(msg.Payload),
			})
		}
		err := handler(msgCtx, msg)
		if span != nil {
			endSpan(span, err)
		}
		if err != nil {
			slog.Error("Failed to handle message", "topic", topic, "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("pubsub: subscribe %s: %w", topic, err)
	}

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		_ = sub.Unsubscribe()
	}()
	return nil
}

// Close drains subscriptions and closes the connection.
func (b *NATSBridge) Close() error {
	b.mu.Lock()
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()

	for _, sub := range subs {
		_ = sub.Unsubscribe()
	}
	if b.nc.IsClosed() {
		return nil
	}
	return b.nc.Drain()
}

func fromNATS(in *nats.Msg) Message {
	metadata := make(map[string]string)
	for k := range in.Header {
		if k == headerUserID || k == headerMessageID {
			continue
		}
		metadata[k] = in.Header.Get(k)
	}
	return Message{
		Topic:    in.Subject,
		UserID:   in.Header.Get(headerUserID),
		Payload:  in.Data,
		Metadata: metadata,
	}
}
