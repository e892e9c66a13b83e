package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Broker struct {
		URL               string        `yaml:"url"`
		HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
		WriteTimeout      time.Duration `yaml:"write_timeout"`
	} `yaml:"broker"`

	ICE struct {
		STUNURLs          []string `yaml:"stun_urls"`
		CandidatePoolSize int      `yaml:"candidate_pool_size"`
		BundlePolicy      string   `yaml:"bundle_policy"`
		RTCPMuxPolicy     string   `yaml:"rtcp_mux_policy"`
		SDPSemantics      string   `yaml:"sdp_semantics"`
	} `yaml:"ice"`

	Capture struct {
		VideoFile      string `yaml:"video_file"`
		AudioFile      string `yaml:"audio_file"`
		WidthIdeal     int    `yaml:"width_ideal"`
		WidthMax       int    `yaml:"width_max"`
		HeightIdeal    int    `yaml:"height_ideal"`
		HeightMax      int    `yaml:"height_max"`
		FrameRateIdeal int    `yaml:"frame_rate_ideal"`
		FrameRateMax   int    `yaml:"frame_rate_max"`
	} `yaml:"capture"`

	Reconnect struct {
		MaxAttempts int           `yaml:"max_attempts"`
		BaseDelay   time.Duration `yaml:"base_delay"`
		MaxDelay    time.Duration `yaml:"max_delay"`
	} `yaml:"reconnect"`

	Playback struct {
		StreamArrivalTimeout time.Duration `yaml:"stream_arrival_timeout"`
	} `yaml:"playback"`

	Share struct {
		JoinBaseURL string `yaml:"join_base_url"`
	} `yaml:"share"`

	Server struct {
		Address         string        `yaml:"address"`
		PingInterval    time.Duration `yaml:"ping_interval"`
		PongTimeout     time.Duration `yaml:"pong_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	Monitoring struct {
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
	} `yaml:"monitoring"`

	Tracing struct {
		Enabled     bool    `yaml:"enabled"`
		JaegerURL   string  `yaml:"jaeger_url"`
		Environment string  `yaml:"environment"`
		SampleRate  float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	RateLimiting struct {
		Enabled bool `yaml:"enabled"`

		HTTP struct {
			RequestsPerSecond float64 `yaml:"requests_per_second"`
			Burst             int     `yaml:"burst"`
		} `yaml:"http"`

		WebSocket struct {
			ConnectionsPerMinute int     `yaml:"connections_per_minute"`
			MessagesPerSecond    float64 `yaml:"messages_per_second"`
			Burst                int     `yaml:"burst"`
		} `yaml:"websocket"`
	} `yaml:"rate_limiting"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	// Broker
	if c.Broker.URL == "" {
		return fmt.Errorf("broker.url must not be empty")
	}
	if c.Broker.HeartbeatInterval <= 0 {
		return fmt.Errorf("broker.heartbeat_interval must be > 0")
	}
	if c.Broker.WriteTimeout <= 0 {
		return fmt.Errorf("broker.write_timeout must be > 0")
	}

	// ICE
	if len(c.ICE.STUNURLs) == 0 {
		return fmt.Errorf("ice.stun_urls must not be empty")
	}
	if c.ICE.CandidatePoolSize < 0 {
		return fmt.Errorf("ice.candidate_pool_size must be >= 0")
	}

	// Capture
	if c.Capture.WidthIdeal <= 0 || c.Capture.HeightIdeal <= 0 {
		return fmt.Errorf("capture.width_ideal and height_ideal must be > 0")
	}
	if c.Capture.WidthMax < c.Capture.WidthIdeal {
		return fmt.Errorf("capture.width_max must be >= width_ideal")
	}
	if c.Capture.HeightMax < c.Capture.HeightIdeal {
		return fmt.Errorf("capture.height_max must be >= height_ideal")
	}
	if c.Capture.FrameRateIdeal <= 0 {
		return fmt.Errorf("capture.frame_rate_ideal must be > 0")
	}
	if c.Capture.FrameRateMax < c.Capture.FrameRateIdeal {
		return fmt.Errorf("capture.frame_rate_max must be >= frame_rate_ideal")
	}

	// Reconnect
	if c.Reconnect.MaxAttempts < 0 {
		return fmt.Errorf("reconnect.max_attempts must be >= 0")
	}
	if c.Reconnect.BaseDelay <= 0 {
		return fmt.Errorf("reconnect.base_delay must be > 0")
	}
	if c.Reconnect.MaxDelay < c.Reconnect.BaseDelay {
		return fmt.Errorf("reconnect.max_delay must be >= base_delay")
	}

	// Playback
	if c.Playback.StreamArrivalTimeout <= 0 {
		return fmt.Errorf("playback.stream_arrival_timeout must be > 0")
	}

	// Server
	if c.Server.Address == "" {
		return fmt.Errorf("server.address must not be empty")
	}
	if c.Server.PingInterval <= 0 {
		return fmt.Errorf("server.ping_interval must be > 0")
	}
	if c.Server.PongTimeout <= 0 {
		return fmt.Errorf("server.pong_timeout must be > 0")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be > 0")
	}

	// Logging
	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	// Tracing
	if c.Tracing.Enabled {
		if c.Tracing.JaegerURL == "" {
			return fmt.Errorf("tracing.jaeger_url must not be empty when tracing.enabled=true")
		}
		if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
			return fmt.Errorf("tracing.sample_rate must be in [0, 1]")
		}
	}

	// Rate limiting
	if c.RateLimiting.Enabled {
		if c.RateLimiting.HTTP.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.http.requests_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.Burst <= 0 {
			return fmt.Errorf("rate_limiting.http.burst must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.ConnectionsPerMinute <= 0 {
			return fmt.Errorf("rate_limiting.websocket.connections_per_minute must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.MessagesPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.websocket.messages_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.Burst <= 0 {
			return fmt.Errorf("rate_limiting.websocket.burst must be > 0 when rate limiting is enabled")
		}
	}

	return nil
}

// Load reads configuration from YAML file, applies defaults and env overrides.
func Load(configPath string) (*Config, error) {
	// If file does not exist, fall back to defaults
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		return cfg, nil
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

	cfg.Broker.URL = "ws://localhost:9000/ws"
	cfg.Broker.HeartbeatInterval = 5 * time.Second
	cfg.Broker.WriteTimeout = 10 * time.Second

	cfg.ICE.STUNURLs = []string{
		"stun:stun.l.google.com:19302",
		"stun:stun1.l.google.com:19302",
		"stun:stun2.l.google.com:19302",
		"stun:stun3.l.google.com:19302",
		"stun:stun4.l.google.com:19302",
	}
	cfg.ICE.CandidatePoolSize = 10
	cfg.ICE.BundlePolicy = "max-bundle"
	cfg.ICE.RTCPMuxPolicy = "require"
	cfg.ICE.SDPSemantics = "unified-plan"

	cfg.Capture.VideoFile = "media/screen.ivf"
	cfg.Capture.WidthIdeal = 1920
	cfg.Capture.WidthMax = 2560
	cfg.Capture.HeightIdeal = 1080
	cfg.Capture.HeightMax = 1440
	cfg.Capture.FrameRateIdeal = 25
	cfg.Capture.FrameRateMax = 30

	cfg.Reconnect.MaxAttempts = 5
	cfg.Reconnect.BaseDelay = time.Second
	cfg.Reconnect.MaxDelay = 30 * time.Second

	cfg.Playback.StreamArrivalTimeout = 20 * time.Second

	cfg.Share.JoinBaseURL = "http://localhost:9000/join"

	cfg.Server.Address = ":9000"
	cfg.Server.PingInterval = 30 * time.Second
	cfg.Server.PongTimeout = 60 * time.Second
	cfg.Server.ShutdownTimeout = 30 * time.Second

	cfg.Monitoring.PrometheusEnabled = true

	cfg.Tracing.Enabled = false
	cfg.Tracing.JaegerURL = "http://localhost:14268/api/traces"
	cfg.Tracing.Environment = "development"
	cfg.Tracing.SampleRate = 1.0

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.HTTP.RequestsPerSecond = 50
	cfg.RateLimiting.HTTP.Burst = 100
	cfg.RateLimiting.WebSocket.ConnectionsPerMinute = 60
	cfg.RateLimiting.WebSocket.MessagesPerSecond = 100
	cfg.RateLimiting.WebSocket.Burst = 200

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if url := os.Getenv("PEERCAST_BROKER_URL"); url != "" {
		c.Broker.URL = url
	}
	if addr := os.Getenv("PEERCAST_SERVER_ADDRESS"); addr != "" {
		c.Server.Address = addr
	}
	if level := os.Getenv("PEERCAST_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if base := os.Getenv("PEERCAST_JOIN_BASE_URL"); base != "" {
		c.Share.JoinBaseURL = base
	}
}
