package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dkeye/Mesh/internal/logging"
	"github.com/pion/stun/v3"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

type WebSocketConfig struct {
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	PongWait   time.Duration `mapstructure:"pong_wait"`
	WriteWait  time.Duration `mapstructure:"write_wait"`
	SendBuffer int           `mapstructure:"send_buffer"`
	// MaxDropped is how many frames a slow client may lose before it is
	// disconnected; zero never disconnects.
	MaxDropped int           `mapstructure:"max_dropped"`
}

type SignalingConfig struct {
	PacingDelay    time.Duration `mapstructure:"pacing_delay"`
	OfferTimeout   time.Duration `mapstructure:"offer_timeout"`
	RateLimit      int           `mapstructure:"rate_limit"`
	RateInterval   time.Duration `mapstructure:"rate_interval"`
	MaxIdentityLen int           `mapstructure:"max_identity_len"`
	MaxRoomLen     int           `mapstructure:"max_room_len"`
}

type ICEServer struct {
	URLs       []string `mapstructure:"urls"`
	Username   string   `mapstructure:"username"`
	Credential string   `mapstructure:"credential"`
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Channel  string `mapstructure:"channel"`
}

type KafkaConfig struct {
	Brokers string `mapstructure:"brokers"`
	Topic   string `mapstructure:"topic"`
}

type EventsConfig struct {
	Driver string      `mapstructure:"driver"`
	Buffer int         `mapstructure:"buffer"`
	Redis  RedisConfig `mapstructure:"redis"`
	Kafka  KafkaConfig `mapstructure:"kafka"`
}

type Config struct {
	Mode       string          `mapstructure:"mode"`
	Port       int             `mapstructure:"port"`
	StaticPath string          `mapstructure:"static_path"`
	Secret     string          `mapstructure:"secret"`
	Log        LogConfig       `mapstructure:"log"`
	WebSocket  WebSocketConfig `mapstructure:"websocket"`
	Signaling  SignalingConfig `mapstructure:"signaling"`
	ICEServers []ICEServer     `mapstructure:"ice_servers"`
	Events     EventsConfig    `mapstructure:"events"`
}

const envPrefix = "MESH"

// Load reads config/config.<CONFIG_ENV>.yaml when present and applies
// MESH_* environment overrides, e.g. MESH_SIGNALING_PACING_DELAY=500ms.
func Load() (*Config, error) {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return LoadFile(fmt.Sprintf("config/config.%s.yaml", env))
}

// LoadFile is Load with an explicit file name. A missing file is not an error.
func LoadFile(fileName string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(fileName)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config %s: %w", fileName, err)
		}
		log.Warn().Str(logging.FieldModule, "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str(logging.FieldModule, "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Info().Str(logging.FieldModule, "config").Str("mode", cfg.Mode).Int("port", cfg.Port).
		Str("static", cfg.StaticPath).Str("events", cfg.Events.Driver).Msg("config ready")
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("secret", "mesh-dev-secret")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	v.SetDefault("websocket.read_limit", 65536)
	v.SetDefault("websocket.ping_period", "54s")
	v.SetDefault("websocket.pong_wait", "60s")
	v.SetDefault("websocket.write_wait", "10s")
	v.SetDefault("websocket.send_buffer", 64)
	v.SetDefault("websocket.max_dropped", 32)

	v.SetDefault("signaling.pacing_delay", "1s")
	v.SetDefault("signaling.offer_timeout", "0s")
	v.SetDefault("signaling.rate_limit", 20)
	v.SetDefault("signaling.rate_interval", "10s")
	v.SetDefault("signaling.max_identity_len", 254)
	v.SetDefault("signaling.max_room_len", 64)

	v.SetDefault("ice_servers", []map[string]any{
		{"urls": []string{"stun:stun.l.google.com:19302", "stun:global.stun.twilio.com:3478"}},
	})

	v.SetDefault("events.driver", "none")
	v.SetDefault("events.buffer", 256)
	v.SetDefault("events.redis.address", "localhost:6379")
	v.SetDefault("events.redis.channel", "mesh.events")
	v.SetDefault("events.kafka.brokers", "localhost:9092")
	v.SetDefault("events.kafka.topic", "mesh.events")
}

// Validate rejects values the server cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	ws := c.WebSocket
	if ws.ReadLimit <= 0 {
		errs = append(errs, errors.New("websocket.read_limit must be positive"))
	}
	if ws.SendBuffer <= 0 {
		errs = append(errs, errors.New("websocket.send_buffer must be positive"))
	}
	if ws.PongWait <= 0 || ws.PingPeriod <= 0 || ws.PingPeriod >= ws.PongWait {
		errs = append(errs, errors.New("websocket.ping_period must be positive and shorter than pong_wait"))
	}
	if ws.WriteWait <= 0 {
		errs = append(errs, errors.New("websocket.write_wait must be positive"))
	}
	sig := c.Signaling
	if sig.PacingDelay < 0 {
		errs = append(errs, errors.New("signaling.pacing_delay must not be negative"))
	}
	if sig.OfferTimeout < 0 {
		errs = append(errs, errors.New("signaling.offer_timeout must not be negative"))
	}
	if sig.RateLimit > 0 && sig.RateInterval <= 0 {
		errs = append(errs, errors.New("signaling.rate_interval must be positive when rate_limit is set"))
	}
	if sig.MaxIdentityLen <= 0 || sig.MaxRoomLen <= 0 {
		errs = append(errs, errors.New("signaling length limits must be positive"))
	}
	for i, s := range c.ICEServers {
		if len(s.URLs) == 0 {
			errs = append(errs, fmt.Errorf("ice_servers[%d] has no urls", i))
		}
		for _, u := range s.URLs {
			if _, err := stun.ParseURI(u); err != nil {
				errs = append(errs, fmt.Errorf("ice_servers[%d]: %q: %w", i, u, err))
			}
		}
	}
	switch c.Events.Driver {
	case "", "none", "redis", "kafka":
	default:
		errs = append(errs, fmt.Errorf("unknown events.driver %q", c.Events.Driver))
	}
	return errors.Join(errs...)
}
