package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Output backend names.
const (
	BackendFile       = "file"
	BackendKafka      = "kafka"
	BackendClickHouse = "clickhouse"
)

// Ingest source names.
const (
	SourceCSV     = "csv"
	SourceBinance = "binance"
	SourceKafka   = "kafka"
)

type Config struct {
	Environment string `yaml:"environment" default:"development" validate:"required"`
	Log         struct {
		Level      string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
		Format     string `yaml:"format" default:"json" validate:"oneof=json console"`
		Output     string `yaml:"output" default:"stdout"`
		TimeFormat string `yaml:"time_format"`
		Collector  struct {
			Enabled       bool          `yaml:"enabled"`
			Topic         string        `yaml:"topic" default:"trustgate.logs"`
			FlushInterval time.Duration `yaml:"flush_interval" default:"30s"`
			Threshold     int           `yaml:"threshold" default:"100"`
		} `yaml:"collector"`
	} `yaml:"log"`
	Server struct {
		Enabled         bool          `yaml:"enabled" default:"true"`
		Port            int           `yaml:"port" default:"8080" validate:"min=0,max=65535"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"10s"`
		CORSOrigins     []string      `yaml:"cors_origins"`
		RateLimitRPS    float64       `yaml:"rate_limit_rps" default:"20" validate:"gte=0"`
	} `yaml:"server"`
	Metrics struct {
		Enabled bool   `yaml:"enabled" default:"true"`
		Path    string `yaml:"path" default:"/metrics"`
	} `yaml:"metrics"`
	Gate struct {
		AllowedLatenessSec  float64            `yaml:"allowed_lateness_sec" default:"0.5" validate:"gte=0"`
		NoDecisionWindowSec float64            `yaml:"no_decision_window_sec" default:"5" validate:"gt=0"`
		FatFingerWindowSec  float64            `yaml:"fat_finger_window_sec" default:"2" validate:"gte=0"`
		FatFingerRatio      float64            `yaml:"fat_finger_ratio" default:"0.03" validate:"gte=0"`
		StallThresholds     map[string]float64 `yaml:"stall_thresholds"`
		StallCheckInterval  time.Duration      `yaml:"stall_check_interval" default:"1s"`
		Clock               string             `yaml:"clock" default:"wall" validate:"oneof=wall event"`
	} `yaml:"gate"`
	Ingest struct {
		Source         string        `yaml:"source" validate:"omitempty,oneof=csv binance kafka"`
		DataDir        string        `yaml:"data_dir" default:"data"`
		Symbol         string        `yaml:"symbol" default:"btcusdt" validate:"required"`
		WebSocketURL   string        `yaml:"websocket_url" default:"wss://fstream.binance.com/stream" validate:"url"`
		Streams        []string      `yaml:"streams"`
		RecvTimeout    time.Duration `yaml:"recv_timeout" default:"5s"`
		ReconnectDelay time.Duration `yaml:"reconnect_delay" default:"1s"`
		PingInterval   time.Duration `yaml:"ping_interval" default:"30s"`
		RunDuration    time.Duration `yaml:"run_duration" default:"60s" validate:"gte=0"`
		QueueSize      int           `yaml:"queue_size" default:"4096" validate:"gt=0"`
		KafkaTopic     string        `yaml:"kafka_topic" default:"trustgate.events"`
	} `yaml:"ingest"`
	Output struct {
		Dir               string   `yaml:"dir" default:"output" validate:"required"`
		Backends          []string `yaml:"backends" validate:"dive,oneof=file kafka clickhouse"`
		SummarySchedule   string   `yaml:"summary_schedule" default:"@every 30s"`
		TransitionsBuffer int      `yaml:"transitions_buffer" default:"500" validate:"gt=0"`
		DecisionsTopic    string   `yaml:"decisions_topic" default:"trustgate.decisions"`
		TransitionsTopic  string   `yaml:"transitions_topic" default:"trustgate.transitions"`
	} `yaml:"output"`
	Kafka struct {
		Brokers      []string `yaml:"brokers"`
		RequiredAcks int      `yaml:"required_acks" default:"-1"`
		Compression  string   `yaml:"compression" default:"gzip" validate:"oneof=gzip snappy lz4 zstd none"`
		Producer     struct {
			MaxAttempts  int           `yaml:"max_attempts" default:"3"`
			Linger       time.Duration `yaml:"linger" default:"50ms"`
			BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
			BatchSize    int           `yaml:"batch_size" default:"100"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
			ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
		Consumer struct {
			GroupID     string        `yaml:"group_id" default:"trustgate"`
			StartOffset string        `yaml:"start_offset" default:"earliest" validate:"oneof=earliest latest"`
			RetryMax    int           `yaml:"retry_max" default:"3"`
			BackoffMin  time.Duration `yaml:"backoff_min" default:"100ms"`
			BackoffMax  time.Duration `yaml:"backoff_max" default:"2s"`
			DLQTopic    string        `yaml:"dlq_topic"`
			MinBytes    int           `yaml:"min_bytes" default:"1"`
			MaxBytes    int           `yaml:"max_bytes" default:"10485760"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`
	ClickHouse struct {
		Host             string        `yaml:"host"`
		Port             int           `yaml:"port" default:"9000"`
		Database         string        `yaml:"database" default:"default"`
		User             string        `yaml:"user" default:"default"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		AsyncInsert      bool          `yaml:"async_insert"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert"`
		DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout      time.Duration `yaml:"read_timeout" default:"10s"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time"`
		DecisionsTable   string        `yaml:"decisions_table" default:"gate_decisions"`
		TransitionsTable string        `yaml:"transitions_table" default:"gate_transitions"`
		BatchSize        int           `yaml:"batch_size" default:"500" validate:"gte=1"`
		FlushInterval    time.Duration `yaml:"flush_interval" default:"1s" validate:"gte=0"`
	} `yaml:"clickhouse"`
	Redis struct {
		Enabled     bool          `yaml:"enabled"`
		Host        string        `yaml:"host" default:"localhost"`
		Port        int           `yaml:"port" default:"6379"`
		Password    string        `yaml:"password"`
		DB          int           `yaml:"db"`
		PoolSize    int           `yaml:"pool_size" default:"10"`
		Prefix      string        `yaml:"prefix" default:"trustgate"`
		SnapshotTTL time.Duration `yaml:"snapshot_ttl" default:"24h"`
	} `yaml:"redis"`
}

var validate = validator.New()

// Default returns a Config populated only from defaults.
func Default() (*Config, error) {
	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}
	return &c, nil
}

// Load reads and parses a YAML configuration file. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	c, err := Default()
	if err != nil {
		return nil, err
	}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, c); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// LoadWithEnv loads .env (when present), the YAML file, then overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	c, err := Default()
	if err != nil {
		return nil, err
	}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, c); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	if err := c.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}

	if v, ok := get("DATA_DIR"); ok {
		c.Ingest.DataDir = v
	}
	if v, ok := get("OUTPUT_DIR"); ok {
		c.Output.Dir = v
	}
	if v, ok := get("ALLOWED_LATENESS_SEC"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("ALLOWED_LATENESS_SEC: %w", err)
		}
		c.Gate.AllowedLatenessSec = f
	}
	if v, ok := get("RUN_SECONDS"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("RUN_SECONDS: %w", err)
		}
		c.Ingest.RunDuration = time.Duration(f * float64(time.Second))
	}
	if v, ok := get("SYMBOL"); ok {
		c.Ingest.Symbol = strings.ToLower(v)
	}
	if v, ok := get("KAFKA_BROKERS"); ok {
		c.Kafka.Brokers = splitList(v)
	}
	if v, ok := get("OUTPUT_BACKENDS"); ok {
		c.Output.Backends = splitList(v)
	}
	if v, ok := get("LOG_LEVEL"); ok {
		c.Log.Level = strings.ToLower(v)
	}
	return nil
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks struct tags and cross-field rules.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	for stream, sec := range c.Gate.StallThresholds {
		if sec < 0 {
			return fmt.Errorf("gate.stall_thresholds.%s must be >= 0", stream)
		}
	}
	if (c.HasBackend(BackendKafka) || c.Ingest.Source == SourceKafka || c.Log.Collector.Enabled) && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers is required when kafka is used")
	}
	if c.HasBackend(BackendClickHouse) && c.ClickHouse.Host == "" {
		return fmt.Errorf("clickhouse.host is required for the clickhouse backend")
	}
	return nil
}

// HasBackend reports whether the output backend is enabled.
func (c *Config) HasBackend(name string) bool {
	for _, b := range c.Backends() {
		if b == name {
			return true
		}
	}
	return false
}

// Backends returns the configured output backends, defaulting to file.
func (c *Config) Backends() []string {
	if len(c.Output.Backends) == 0 {
		return []string{BackendFile}
	}
	return c.Output.Backends
}

// SourceFor resolves the ingest source for a run mode when none is configured.
func (c *Config) SourceFor(mode string) string {
	if c.Ingest.Source != "" {
		return c.Ingest.Source
	}
	if mode == "realtime" {
		return SourceBinance
	}
	return SourceCSV
}
