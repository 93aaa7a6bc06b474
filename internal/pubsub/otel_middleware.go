package pubsub

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// spanInfo describes one bus message for tracing.
type spanInfo struct {
	system    string
	operation string
	topic     string
	messageID string
	userID    string
	size      int
}

// startSpan opens a messaging span. Payloads carry chat content, so only
// their size is recorded.
func startSpan(ctx context.Context, tracer trace.Tracer, info spanInfo) (context.Context, trace.Span) {
	if ctx == nil {
		ctx = context.Background()
	}
	return tracer.Start(ctx, fmt.Sprintf("pubsub.%s.%s", info.operation, info.topic),
		trace.WithAttributes(
			attribute.String("messaging.system", info.system),
			attribute.String("messaging.operation", info.operation),
			attribute.String("messaging.destination", info.topic),
			attribute.String("messaging.message_id", info.messageID),
			attribute.String("user.id", info.userID),
			attribute.Int("messaging.message_payload_size_bytes", info.size),
		),
	)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// TracingMiddleware wraps a watermill handler with a process span.
func TracingMiddleware(tracer trace.Tracer) func(message.HandlerFunc) message.HandlerFunc {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			spanCtx, span := startSpan(msg.Context(), tracer, spanInfo{
				system:    "watermill",
				operation: "process",
				topic:     msg.Metadata.Get(metaKeyTopic),
				messageID: msg.UUID,
				userID:    msg.Metadata.Get(metaKeyUserID),
				size:      len(msg.Payload),
			})
			msg.SetContext(spanCtx)

			produced, err := h(msg)
			endSpan(span, err)
			return produced, err
		}
	}
}

// PublisherTracingMiddleware wraps a publisher with tracing capabilities
type PublisherTracingMiddleware struct {
	publisher message.Publisher
	tracer    trace.Tracer
}

// NewPublisherTracingMiddleware creates a new publisher with tracing middleware
func NewPublisherTracingMiddleware(publisher message.Publisher, tracer trace.Tracer) *PublisherTracingMiddleware {
	return &PublisherTracingMiddleware{
		publisher: publisher,
		tracer:    tracer,
	}
}

// Publish opens one publish span per message and closes them once the
// underlying publisher returns.
func (p *PublisherTracingMiddleware) Publish(topic string, messages ...*message.Message) error {
	spans := make([]trace.Span, 0, len(messages))
	for _, msg := range messages {
		spanCtx, span := startSpan(msg.Context(), p.tracer, spanInfo{
			system:    "watermill",
			operation: "publish",
			topic:     topic,
			messageID: msg.UUID,
			userID:    msg.Metadata.Get(metaKeyUserID),
			size:      len(msg.Payload),
		})
		msg.SetContext(spanCtx)
		spans = append(spans, span)
	}

	err := p.publisher.Publish(topic, messages...)
	for _, span := range spans {
		endSpan(span, err)
	}
	return err
}

// Close closes the underlying publisher
func (p *PublisherTracingMiddleware) Close() error {
	return p.publisher.Close()
}
