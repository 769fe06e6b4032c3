package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML values like "25s" parse directly.
type Duration time.Duration

// UnmarshalYAML parses a Go duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the plain time.Duration value.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the full configuration tree shared by the relay and the agents.
type Config struct {
	Relay     RelayConfig     `yaml:"relay"`
	Channel   ChannelConfig   `yaml:"channel"`
	Broadcast BroadcastConfig `yaml:"broadcast"`
	Trip      TripConfig      `yaml:"trip"`
	Routing   RoutingConfig   `yaml:"routing"`
}

// RelayConfig configures the trackerd relay server.
type RelayConfig struct {
	Port        int    `yaml:"port" validate:"gte=0,lte=65535"`
	JWTSecret   string `yaml:"jwt_secret"`   // empty disables register auth
	DatabaseURL string `yaml:"database_url"` // empty disables the snapshot archive

	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
}

// RabbitMQConfig configures the optional snapshot fanout to RabbitMQ.
type RabbitMQConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port" validate:"gte=0,lte=65535"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

// URL builds the AMQP connection URL.
func (r RabbitMQConfig) URL() string {
	return fmt.Sprintf("amqp://%s:%s@%s:%d/", r.User, r.Password, r.Host, r.Port)
}

// ChannelConfig configures the client-side realtime channel.
type ChannelConfig struct {
	URL                  string   `yaml:"url" validate:"required"`
	HeartbeatInterval    Duration `yaml:"heartbeat_interval"`
	ReconnectBase        Duration `yaml:"reconnect_base"`
	ReconnectCap         Duration `yaml:"reconnect_cap"`
	MaxReconnectAttempts int      `yaml:"max_reconnect_attempts" validate:"gte=0"`
	Token                string   `yaml:"token"` // bearer token sent with register, when the relay enforces auth
}

// BroadcastConfig configures the driver snapshot loop.
type BroadcastConfig struct {
	Interval Duration `yaml:"interval"`
}

// TripConfig configures the trip phase state machine.
type TripConfig struct {
	ArrivalThresholdMeters float64 `yaml:"arrival_threshold_meters" validate:"gte=0"`
}

// RoutingConfig configures the directions/geocoding provider chain.
type RoutingConfig struct {
	DirectionsURL  string   `yaml:"directions_url"`
	PolylineURL    string   `yaml:"polyline_url"` // secondary, geometry-only provider
	GeocodeURL     string   `yaml:"geocode_url"`
	RequestTimeout Duration `yaml:"request_timeout"`
	GeocodeTTL     Duration `yaml:"geocode_cache_ttl"`
}

// LoadFromFile loads config from a YAML file, applies defaults, and validates.
func LoadFromFile(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ApplyDefaults()

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// Default returns a config with all defaults applied and no file read.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults sets safe defaults for unset fields.
func (cfg *Config) ApplyDefaults() {
	if cfg.Relay.Port == 0 {
		cfg.Relay.Port = 8080
	}
	if cfg.Relay.RabbitMQ.Host == "" {
		cfg.Relay.RabbitMQ.Host = "localhost"
	}
	if cfg.Relay.RabbitMQ.Port == 0 {
		cfg.Relay.RabbitMQ.Port = 5672
	}

	if cfg.Channel.URL == "" {
		cfg.Channel.URL = "ws://localhost:8080/ws"
	}
	if cfg.Channel.HeartbeatInterval == 0 {
		cfg.Channel.HeartbeatInterval = Duration(25 * time.Second)
	}
	if cfg.Channel.ReconnectBase == 0 {
		cfg.Channel.ReconnectBase = Duration(2 * time.Second)
	}
	if cfg.Channel.ReconnectCap == 0 {
		cfg.Channel.ReconnectCap = Duration(30 * time.Second)
	}
	if cfg.Channel.MaxReconnectAttempts == 0 {
		cfg.Channel.MaxReconnectAttempts = 10
	}

	if cfg.Broadcast.Interval == 0 {
		cfg.Broadcast.Interval = Duration(10 * time.Second)
	}

	if cfg.Trip.ArrivalThresholdMeters == 0 {
		cfg.Trip.ArrivalThresholdMeters = 120
	}

	if cfg.Routing.DirectionsURL == "" {
		cfg.Routing.DirectionsURL = "https://router.project-osrm.org"
	}
	if cfg.Routing.GeocodeURL == "" {
		cfg.Routing.GeocodeURL = "https://nominatim.openstreetmap.org"
	}
	if cfg.Routing.RequestTimeout == 0 {
		cfg.Routing.RequestTimeout = Duration(8 * time.Second)
	}
	if cfg.Routing.GeocodeTTL == 0 {
		cfg.Routing.GeocodeTTL = Duration(24 * time.Hour)
	}
}
