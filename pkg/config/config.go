package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

type ICEServer struct {
	URLs       []string `yaml:"urls"`
	Username   string   `yaml:"username,omitempty"`
	Credential string   `yaml:"credential,omitempty"`
}

type Config struct {
	Signal struct {
		URL           string        `yaml:"url"`
		PollURL       string        `yaml:"poll_url"`
		Modes         []string      `yaml:"modes"`
		TierAttempts  int           `yaml:"tier_attempts"`
		MaxAttempts   int           `yaml:"max_attempts"`
		TierTimeout   time.Duration `yaml:"tier_timeout"`
		JoinTimeout   time.Duration `yaml:"join_timeout"`
		RetryDelay    time.Duration `yaml:"retry_delay"`
		PingInterval  time.Duration `yaml:"ping_interval"`
		AutoReconnect bool          `yaml:"auto_reconnect"`
	} `yaml:"signal"`

	Call struct {
		Room        string `yaml:"room"`
		DisplayName string `yaml:"display_name"`
		AutoStart   bool   `yaml:"auto_start"`
		Audio       bool   `yaml:"audio"`
		Video       bool   `yaml:"video"`
	} `yaml:"call"`

	WebRTC struct {
		ICEServers []ICEServer `yaml:"ice_servers"`
		PortRange  struct {
			Min uint16 `yaml:"min"`
			Max uint16 `yaml:"max"`
		} `yaml:"port_range"`
	} `yaml:"webrtc"`

	Media struct {
		Network struct {
			Mobile       bool `yaml:"mobile"`
			LowBandwidth bool `yaml:"low_bandwidth"`
		} `yaml:"network"`
		PacketInterval time.Duration `yaml:"packet_interval"`
	} `yaml:"media"`

	Health struct {
		Interval           time.Duration `yaml:"interval"`
		MaxRestartAttempts int           `yaml:"max_restart_attempts"`
		BackoffInitial     time.Duration `yaml:"backoff_initial"`
		BackoffMax         time.Duration `yaml:"backoff_max"`
		ProbeTimeout       time.Duration `yaml:"probe_timeout"`
		BreakerThreshold   int           `yaml:"breaker_threshold"`
		BreakerTimeout     time.Duration `yaml:"breaker_timeout"`
	} `yaml:"health"`

	Control struct {
		Enabled         bool          `yaml:"enabled"`
		Address         string        `yaml:"address"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
		RequireAuth     bool          `yaml:"require_auth"`
	} `yaml:"control"`

	Monitoring struct {
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
	} `yaml:"monitoring"`

	Tracing struct {
		Enabled        bool    `yaml:"enabled"`
		ServiceName    string  `yaml:"service_name"`
		JaegerEndpoint string  `yaml:"jaeger_endpoint"`
		SamplingRate   float64 `yaml:"sampling_rate"`
	} `yaml:"tracing"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Auth struct {
		JWTSecret      string        `yaml:"jwt_secret"`
		AccessTokenTTL time.Duration `yaml:"access_token_ttl"`
		Issuer         string        `yaml:"issuer"`
	} `yaml:"auth"`

	RateLimiting struct {
		Enabled bool `yaml:"enabled"`

		HTTP struct {
			RequestsPerSecond float64 `yaml:"requests_per_second"`
			Burst             int     `yaml:"burst"`
			MaxConcurrent     int     `yaml:"max_concurrent"`
		} `yaml:"http"`

		Signal struct {
			MessagesPerSecond float64 `yaml:"messages_per_second"`
			Burst             int     `yaml:"burst"`
		} `yaml:"signal"`
	} `yaml:"rate_limiting"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	// Signal
	if len(c.Signal.Modes) == 0 {
		return fmt.Errorf("signal.modes must not be empty")
	}
	for _, m := range c.Signal.Modes {
		switch m {
		case "websocket":
			if err := checkURL("signal.url", c.Signal.URL, "ws", "wss"); err != nil {
				return err
			}
		case "polling":
			if err := checkURL("signal.poll_url", c.Signal.PollURL, "http", "https"); err != nil {
				return err
			}
		default:
			return fmt.Errorf("signal.modes: unknown mode %q", m)
		}
	}
	if c.Signal.TierAttempts <= 0 {
		return fmt.Errorf("signal.tier_attempts must be > 0")
	}
	if c.Signal.MaxAttempts <= 0 {
		return fmt.Errorf("signal.max_attempts must be > 0")
	}
	if c.Signal.TierTimeout <= 0 {
		return fmt.Errorf("signal.tier_timeout must be > 0")
	}
	if c.Signal.JoinTimeout <= 0 {
		return fmt.Errorf("signal.join_timeout must be > 0")
	}
	if c.Signal.RetryDelay < 0 {
		return fmt.Errorf("signal.retry_delay must be >= 0")
	}

	// Call
	if c.Call.AutoStart && c.Call.Room == "" {
		return fmt.Errorf("call.room must be set when call.auto_start=true")
	}

	// WebRTC
	if c.WebRTC.PortRange.Min > 0 || c.WebRTC.PortRange.Max > 0 {
		if c.WebRTC.PortRange.Min == 0 || c.WebRTC.PortRange.Max == 0 {
			return fmt.Errorf("webrtc.port_range.min and max must both be set when one is set")
		}
		if c.WebRTC.PortRange.Min >= c.WebRTC.PortRange.Max {
			return fmt.Errorf("webrtc.port_range.min must be < max")
		}
	}

	// Media
	if c.Media.PacketInterval <= 0 {
		return fmt.Errorf("media.packet_interval must be > 0")
	}

	// Health
	if c.Health.Interval <= 0 {
		return fmt.Errorf("health.interval must be > 0")
	}
	if c.Health.MaxRestartAttempts < 0 {
		return fmt.Errorf("health.max_restart_attempts must be >= 0")
	}
	if c.Health.BackoffInitial <= 0 || c.Health.BackoffMax < c.Health.BackoffInitial {
		return fmt.Errorf("health.backoff_initial must be > 0 and <= backoff_max")
	}
	if c.Health.ProbeTimeout <= 0 {
		return fmt.Errorf("health.probe_timeout must be > 0")
	}
	if c.Health.BreakerThreshold <= 0 {
		return fmt.Errorf("health.breaker_threshold must be > 0")
	}

	// Control
	if c.Control.Enabled {
		if c.Control.Address == "" {
			return fmt.Errorf("control.address must not be empty when control.enabled=true")
		}
		if c.Control.ShutdownTimeout <= 0 {
			return fmt.Errorf("control.shutdown_timeout must be > 0")
		}
	}

	// Tracing
	if c.Tracing.Enabled && c.Tracing.JaegerEndpoint == "" {
		return fmt.Errorf("tracing.jaeger_endpoint must not be empty when tracing.enabled=true")
	}
	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		return fmt.Errorf("tracing.sampling_rate must be within [0,1]")
	}

	// Logging
	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	// Auth
	if c.Control.RequireAuth && c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret must not be empty when control.require_auth=true")
	}
	if c.Auth.AccessTokenTTL <= 0 {
		return fmt.Errorf("auth.access_token_ttl must be > 0")
	}

	// Rate limiting
	if c.RateLimiting.Enabled {
		if c.RateLimiting.HTTP.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.http.requests_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.Burst <= 0 {
			return fmt.Errorf("rate_limiting.http.burst must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.Signal.MessagesPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.signal.messages_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.Signal.Burst <= 0 {
			return fmt.Errorf("rate_limiting.signal.burst must be > 0 when rate limiting is enabled")
		}
	}

	return nil
}

func checkURL(field, raw string, schemes ...string) error {
	if raw == "" {
		return fmt.Errorf("%s must not be empty", field)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	for _, s := range schemes {
		if u.Scheme == s {
			return nil
		}
	}
	return fmt.Errorf("%s must use one of %v", field, schemes)
}

// Load reads configuration from YAML file, applies defaults and env overrides.
func Load(configPath string) (*Config, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		return cfg, cfg.Validate()
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Signal.URL = "ws://localhost:8081/ws"
	cfg.Signal.PollURL = "http://localhost:8081/poll"
	cfg.Signal.Modes = []string{"websocket", "polling"}
	cfg.Signal.TierAttempts = 2
	cfg.Signal.MaxAttempts = 3
	cfg.Signal.TierTimeout = 10 * time.Second
	cfg.Signal.JoinTimeout = 10 * time.Second
	cfg.Signal.RetryDelay = 500 * time.Millisecond
	cfg.Signal.PingInterval = 30 * time.Second
	cfg.Signal.AutoReconnect = true

	cfg.Call.DisplayName = "meshcall"
	cfg.Call.Audio = true
	cfg.Call.Video = true

	cfg.WebRTC.ICEServers = []ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}}

	cfg.Media.PacketInterval = 20 * time.Millisecond

	cfg.Health.Interval = 30 * time.Second
	cfg.Health.MaxRestartAttempts = 5
	cfg.Health.BackoffInitial = 30 * time.Second
	cfg.Health.BackoffMax = 5 * time.Minute
	cfg.Health.ProbeTimeout = 5 * time.Second
	cfg.Health.BreakerThreshold = 3
	cfg.Health.BreakerTimeout = 2 * time.Minute

	cfg.Control.Enabled = true
	cfg.Control.Address = "127.0.0.1:8090"
	cfg.Control.ReadTimeout = 15 * time.Second
	cfg.Control.WriteTimeout = 15 * time.Second
	cfg.Control.ShutdownTimeout = 10 * time.Second

	cfg.Monitoring.PrometheusEnabled = true

	cfg.Tracing.ServiceName = "meshcall"
	cfg.Tracing.JaegerEndpoint = "http://localhost:14268/api/traces"
	cfg.Tracing.SamplingRate = 0.1

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	cfg.Auth.AccessTokenTTL = 15 * time.Minute
	cfg.Auth.Issuer = "meshcall"

	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.HTTP.RequestsPerSecond = 20
	cfg.RateLimiting.HTTP.Burst = 40
	cfg.RateLimiting.HTTP.MaxConcurrent = 64
	cfg.RateLimiting.Signal.MessagesPerSecond = 50
	cfg.RateLimiting.Signal.Burst = 100

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("MESHCALL_SIGNAL_URL"); v != "" {
		c.Signal.URL = v
	}
	if v := os.Getenv("MESHCALL_POLL_URL"); v != "" {
		c.Signal.PollURL = v
	}
	if v := os.Getenv("MESHCALL_ROOM"); v != "" {
		c.Call.Room = v
	}
	if v := os.Getenv("MESHCALL_DISPLAY_NAME"); v != "" {
		c.Call.DisplayName = v
	}
	if v := os.Getenv("MESHCALL_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("MESHCALL_JWT_SECRET"); v != "" {
		c.Auth.JWTSecret = v
	}
	if v := os.Getenv("MESHCALL_CONTROL_ADDRESS"); v != "" {
		c.Control.Address = v
	}
}
