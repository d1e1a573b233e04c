package live

import (
	"context"

	"go.uber.org/zap"

	"dronedispatch/internal/logger"
)

// Drivers accepted by Open.
const (
	DriverMemory = "memory"
	DriverRedis  = "redis"
	DriverNATS   = "nats"
)

type Options struct {
	Driver        string
	RedisURL      string
	RedisPrefix   string
	NATS          NATSOptions
	RatePerSecond float64 // 0 disables throttling
	Burst         int
}

// Open builds the configured broker. When the backend cannot be reached it logs and falls
// back to the in-memory broker so the process still serves single-replica traffic.
// The returned close func is never nil.
func Open(ctx context.Context, o Options, log *zap.SugaredLogger) (EventBroker, func() error) {
	log = logger.Or(log)
	var (
		b       EventBroker
		closeFn = func() error { return nil }
	)
	switch o.Driver {
	case DriverRedis:
		rb, err := NewRedisBroker(ctx, o.RedisURL, o.RedisPrefix)
		if err != nil {
			log.Warnw("live_broker_fallback", "driver", o.Driver, "error", err)
			break
		}
		b, closeFn = rb, rb.Close
	case DriverNATS:
		nb, err := NewNATSBroker(o.NATS)
		if err != nil {
			log.Warnw("live_broker_fallback", "driver", o.Driver, "error", err)
			break
		}
		b, closeFn = nb, nb.Close
	case DriverMemory, "":
	default:
		log.Warnw("live_broker_unknown_driver", "driver", o.Driver)
	}
	if b == nil {
		b = NewBroker()
	}
	if o.RatePerSecond > 0 {
		b = NewLimited(b, o.RatePerSecond, o.Burst)
	}
	return b, closeFn
}
