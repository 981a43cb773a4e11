package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string `yaml:"environment" default:"development" validate:"required"`
	Logging     struct {
		Level  string `yaml:"level" default:"info"`
		Format string `yaml:"format" default:"json"`
		Output string `yaml:"output" default:"stdout"`
	} `yaml:"logging"`
	Server struct {
		Port            int           `yaml:"port" default:"8080" validate:"gt=0"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"15s"`
	} `yaml:"server"`
	Metrics struct {
		Enabled bool   `yaml:"enabled" default:"true"`
		Path    string `yaml:"path" default:"/metrics"`
	} `yaml:"metrics"`
	Market struct {
		WebSocketURL   string        `yaml:"websocket_url" default:"wss://api.hyperliquid.xyz/ws" validate:"required"`
		Coin           string        `yaml:"coin" default:"HYPE" validate:"required"`
		ReconnectDelay time.Duration `yaml:"reconnect_delay" default:"2s"`
		PingInterval   time.Duration `yaml:"ping_interval" default:"30s"`
		StaleAfter     time.Duration `yaml:"stale_after" default:"5s"`
		OFIHalfLife    time.Duration `yaml:"ofi_half_life" default:"10s"`
		DepthLevels    int           `yaml:"depth_levels" default:"5" validate:"gt=0"`
	} `yaml:"market"`
	Engine struct {
		Cadence           time.Duration   `yaml:"cadence" default:"2s" validate:"required"`
		Horizons          []time.Duration `yaml:"horizons"`
		MinHistory        int             `yaml:"min_history" default:"16" validate:"gt=1"`
		ModelTimeout      time.Duration   `yaml:"model_timeout" default:"500ms"`
		Grace             time.Duration   `yaml:"grace" default:"30s"`
		CalibrationShrink float64         `yaml:"calibration_shrink" default:"0.85" validate:"gt=0,lte=1"`
		Weights           struct {
			HCQR float64 `yaml:"hcqr" default:"1.0" validate:"gte=0"`
			LVP  float64 `yaml:"lvp" default:"1.0" validate:"gte=0"`
			RRF  float64 `yaml:"rrf" default:"1.0" validate:"gte=0"`
		} `yaml:"weights"`
	} `yaml:"engine"`
	Record struct {
		Path         string        `yaml:"path" default:"data/predictions.csv" validate:"required"`
		WriteRetries int           `yaml:"write_retries" default:"5" validate:"gt=0"`
		WriteBackoff time.Duration `yaml:"write_backoff" default:"200ms"`
	} `yaml:"record"`
	ClickHouse struct {
		Enabled          bool          `yaml:"enabled"`
		Host             string        `yaml:"host" default:"localhost"`
		Port             int           `yaml:"port" default:"9000"`
		Database         string        `yaml:"database" default:"perpcast"`
		User             string        `yaml:"user" default:"default"`
		Password         string        `yaml:"password"`
		Table            string        `yaml:"table" default:"predictions"`
		UseHTTP          bool          `yaml:"use_http"`
		AsyncInsert      bool          `yaml:"async_insert"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert"`
		DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout      time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout     time.Duration `yaml:"write_timeout" default:"10s"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"30s"`
	} `yaml:"clickhouse"`
	Kafka struct {
		Enabled      bool     `yaml:"enabled"`
		Brokers      []string `yaml:"brokers"`
		Topic        string   `yaml:"topic" default:"perpcast.signals"`
		RequiredAcks int      `yaml:"required_acks" default:"1"`
		Compression  string   `yaml:"compression" default:"snappy"`
		Producer     struct {
			MaxAttempts  int           `yaml:"max_attempts" default:"3"`
			BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
			BatchSize    int           `yaml:"batch_size" default:"100"`
			BatchTimeout time.Duration `yaml:"batch_timeout" default:"50ms"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"5s"`
			ReadTimeout  time.Duration `yaml:"read_timeout" default:"5s"`
			Async        bool          `yaml:"async" default:"true"`
		} `yaml:"producer"`
	} `yaml:"kafka"`
	Redis struct {
		Enabled  bool          `yaml:"enabled"`
		Addr     string        `yaml:"addr" default:"localhost:6379"`
		Password string        `yaml:"password"`
		DB       int           `yaml:"db"`
		TTL      time.Duration `yaml:"ttl" default:"30s"`
	} `yaml:"redis"`
}

// Load reads a YAML configuration file, applies struct defaults to fields the
// file leaves unset, and validates the result.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("apply config defaults: %w", err)
	}
	if len(c.Engine.Horizons) == 0 {
		c.Engine.Horizons = []time.Duration{10 * time.Second, 30 * time.Second, 60 * time.Second}
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("MARKET_COIN"); v != "" {
		c.Market.Coin = v
	}
	if v := os.Getenv("MARKET_WS_URL"); v != "" {
		c.Market.WebSocketURL = v
	}
	if v := os.Getenv("RECORD_PATH"); v != "" {
		c.Record.Path = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("KAFKA_TOPIC"); v != "" {
		c.Kafka.Topic = v
	}
	if v := os.Getenv("CLICKHOUSE_PASSWORD"); v != "" {
		c.ClickHouse.Password = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}

	return c, nil
}

// Validate checks structural constraints plus the cross-field rules the tag
// validator cannot express.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}
	if c.Engine.Cadence <= 0 {
		return fmt.Errorf("engine.cadence must be positive")
	}
	for _, h := range c.Engine.Horizons {
		if h <= 0 {
			return fmt.Errorf("engine.horizons must all be positive")
		}
		if h%c.Engine.Cadence != 0 {
			return fmt.Errorf("horizon %s is not a multiple of cadence %s", h, c.Engine.Cadence)
		}
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty when kafka is enabled")
	}
	return nil
}
