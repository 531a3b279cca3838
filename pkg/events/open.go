package events

import (
	"context"
	"fmt"

	"github.com/ghuser/entitlements/pkg/config"
	"github.com/ghuser/entitlements/pkg/logger"
)

// Bus is a Broker that can also be consumed from.
type Bus interface {
	Broker
	Subscribe(ctx context.Context, topic string, handler Handler) (<-chan error, error)
	Close() error
}

var (
	_ Bus = (*EventBus)(nil)
	_ Bus = (*MemoryBroker)(nil)
)

// Open builds the bus selected by cfg.BusBackend. For the SQL backend the
// tables for topics are created up front and, with BUS_USE_FORWARDER, the
// forwarder daemon is started.
func Open(ctx context.Context, cfg *config.Config, topics []string, log logger.Logger) (Bus, error) {
	switch cfg.BusBackend {
	case config.BusBackendMemory:
		log.Info("events: using in-memory bus")
		return NewMemoryBroker(log), nil
	case config.BusBackendSQL, "":
	default:
		return nil, fmt.Errorf("events: unknown bus backend %q", cfg.BusBackend)
	}

	bus, err := NewEventBus(cfg, log)
	if err != nil {
		return nil, err
	}

	if err := bus.InitializeSchema(ctx, topics...); err != nil {
		_ = bus.Close()
		return nil, err
	}
	if cfg.BusUseForwarder {
		if err := bus.StartForwarder(ctx); err != nil {
			_ = bus.Close()
			return nil, err
		}
	}
	log.Info("events: sql bus ready", "forwarder", cfg.BusUseForwarder)
	return bus, nil
}
