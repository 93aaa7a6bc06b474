package pubsub

import (
	"fmt"

	"github.com/nfrund/orgchat/internal/config"
	"go.opentelemetry.io/otel/trace"
)

// New builds the bus selected by cfg.Driver. tracer may be nil.
func New(cfg config.PubSubConfig, tracer trace.Tracer) (Bus, error) {
	switch cfg.Driver {
	case config.PubSubGoChannel, "":
		return NewWatermillBridgeWithTracer(tracer), nil
	case config.PubSubNATS:
		return NewNATSBridge(cfg.NATSURL, tracer)
	default:
		return nil, fmt.Errorf("pubsub: unsupported driver %q", cfg.Driver)
	}
}
