package events

import (
	"context"
	"fmt"

	"github.com/dkeye/Mesh/internal/logging"
	"github.com/rs/zerolog/log"
)

const (
	DriverNone  = "none"
	DriverRedis = "redis"
	DriverKafka = "kafka"
)

type Config struct {
	Driver string
	Buffer int
	Redis  RedisConfig
	Kafka  KafkaConfig
}

// Open connects the configured driver and wraps it in a Bus.
func Open(ctx context.Context, cfg Config) (*Bus, error) {
	var pub Publisher
	switch cfg.Driver {
	case "", DriverNone:
		pub = Nop{}
	case DriverRedis:
		r, err := NewRedisPublisher(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		pub = r
	case DriverKafka:
		k, err := NewKafkaPublisher(cfg.Kafka)
		if err != nil {
			return nil, err
		}
		pub = k
	default:
		return nil, fmt.Errorf("unknown events driver %q", cfg.Driver)
	}
	log.Info().Str(logging.FieldModule, "events").Str("driver", cfg.Driver).Int("buffer", cfg.Buffer).Msg("event feed ready")
	return NewBus(pub, cfg.Buffer), nil
}
