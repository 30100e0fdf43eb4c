package bus

import (
	"github.com/traphq/trap/internal/common/config"
	"github.com/traphq/trap/internal/common/logger"
)

// New returns a NATS-backed bus when a URL is configured, otherwise the
// in-memory bus.
func New(cfg config.NATSConfig, log *logger.Logger) (EventBus, error) {
	if cfg.URL == "" {
		return NewMemoryEventBus(log), nil
	}
	return NewNATSEventBus(cfg, log)
}
