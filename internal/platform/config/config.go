package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pscheid92/wsbroadcast/internal/domain"
	"go-simpler.org/env"
)

type Config struct {
	AppEnv        string `env:"APP_ENV" default:"development"`
	Host          string `env:"HOST"`
	Port          string `env:"PORT" default:"8080"`
	WebSocketPath string `env:"WS_PATH" default:"/"`
	LogLevel      string `env:"LOG_LEVEL" default:"info"`
	LogFormat     string `env:"LOG_FORMAT" default:"text"`

	// AllowedOrigins is a comma-separated list; empty accepts any origin.
	AllowedOrigins string `env:"ALLOWED_ORIGINS"`

	RoutingPolicy    string        `env:"ROUTING_POLICY" default:"echo-to-sender"`
	CloseTimeout     time.Duration `env:"CLOSE_TIMEOUT" default:"2500ms"`
	SendPollInterval time.Duration `env:"SEND_POLL_INTERVAL" default:"0s"`
	WriteTimeout     time.Duration `env:"WRITE_TIMEOUT" default:"5s"`
	PingInterval     time.Duration `env:"PING_INTERVAL" default:"30s"`
	PongWait         time.Duration `env:"PONG_WAIT" default:"60s"`
	MaxMessageSize   int64         `env:"MAX_MESSAGE_SIZE" default:"65536"`
	MaxQueueLength   int           `env:"MAX_QUEUE_LENGTH" default:"0"`
	ShutdownTimeout  time.Duration `env:"SHUTDOWN_TIMEOUT" default:"10s"`

	TimeBroadcastInterval time.Duration `env:"TIME_BROADCAST_INTERVAL" default:"15s"`
	BroadcastAPIEnabled   bool          `env:"BROADCAST_API_ENABLED" default:"false"`
	RedisURL              string        `env:"REDIS_URL"`
	RedisChannel          string        `env:"REDIS_CHANNEL" default:"wsbroadcast:messages"`

	MaxWebSocketConnections int     `env:"MAX_WEBSOCKET_CONNECTIONS" default:"10000"`
	MaxConnectionsPerIP     int     `env:"MAX_CONNECTIONS_PER_IP" default:"100"`
	ConnectionRatePerIP     float64 `env:"CONNECTION_RATE" default:"10"`
	ConnectionRateBurst     int     `env:"CONNECTION_BURST" default:"20"`
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Addr is the listen address in host:port form.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, c.Port)
}

// Origins splits AllowedOrigins, dropping empty entries.
func (c *Config) Origins() []string {
	var out []string
	for _, o := range strings.Split(c.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// Routing returns the parsed routing policy. Load has already validated it.
func (c *Config) Routing() domain.RoutingPolicy {
	p, _ := domain.ParseRoutingPolicy(c.RoutingPolicy)
	return p
}

func validate(cfg *Config) error {
	port, err := strconv.Atoi(cfg.Port)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("PORT must be a number between 1 and 65535, got %q", cfg.Port)
	}

	if !strings.HasPrefix(cfg.WebSocketPath, "/") {
		return fmt.Errorf("WS_PATH must start with '/', got %q", cfg.WebSocketPath)
	}

	if _, err := domain.ParseRoutingPolicy(cfg.RoutingPolicy); err != nil {
		return fmt.Errorf("ROUTING_POLICY: %w", err)
	}

	if cfg.CloseTimeout <= 0 {
		return errors.New("CLOSE_TIMEOUT must be positive")
	}
	if cfg.WriteTimeout <= 0 {
		return errors.New("WRITE_TIMEOUT must be positive")
	}
	if cfg.ShutdownTimeout <= 0 {
		return errors.New("SHUTDOWN_TIMEOUT must be positive")
	}

	nonNegative := map[string]time.Duration{
		"SEND_POLL_INTERVAL":      cfg.SendPollInterval,
		"PING_INTERVAL":           cfg.PingInterval,
		"PONG_WAIT":               cfg.PongWait,
		"TIME_BROADCAST_INTERVAL": cfg.TimeBroadcastInterval,
	}
	for name, d := range nonNegative {
		if d < 0 {
			return fmt.Errorf("%s must not be negative", name)
		}
	}

	if cfg.PingInterval > 0 && cfg.PongWait <= cfg.PingInterval {
		return errors.New("PONG_WAIT must be greater than PING_INTERVAL")
	}

	if cfg.MaxMessageSize <= 0 {
		return errors.New("MAX_MESSAGE_SIZE must be positive")
	}
	if cfg.MaxQueueLength < 0 {
		return errors.New("MAX_QUEUE_LENGTH must not be negative")
	}
	if cfg.MaxWebSocketConnections < 0 || cfg.MaxConnectionsPerIP < 0 || cfg.ConnectionRateBurst < 0 || cfg.ConnectionRatePerIP < 0 {
		return errors.New("connection limits must not be negative")
	}

	if cfg.RedisURL != "" && cfg.RedisChannel == "" {
		return errors.New("REDIS_CHANNEL is required when REDIS_URL is set")
	}

	return nil
}
