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
	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string `yaml:"environment" default:"development" validate:"required,oneof=development staging production"`
	// Owner identifies this process in lock records. Empty means a random id per start.
	Owner string `yaml:"owner"`

	Log          LogConfig          `yaml:"log"`
	Server       ServerConfig       `yaml:"server"`
	Metrics      MetricsConfig      `yaml:"metrics"`
	Feed         FeedConfig         `yaml:"feed"`
	Kafka        KafkaConfig        `yaml:"kafka"`
	WebSocket    WebSocketConfig    `yaml:"websocket"`
	Redis        RedisConfig        `yaml:"redis"`
	Postgres     PostgresConfig     `yaml:"postgres"`
	ClickHouse   ClickHouseConfig   `yaml:"clickhouse"`
	Telegram     TelegramConfig     `yaml:"telegram"`
	Analysis     AnalysisConfig     `yaml:"analysis"`
	Coordination CoordinationConfig `yaml:"coordination"`
	Regime       RegimeConfig       `yaml:"regime"`
	Event        EventConfig        `yaml:"event"`
	Gate         GateConfig         `yaml:"gate"`
	Throttle     ThrottleConfig     `yaml:"throttle"`
	Schedule     ScheduleConfig     `yaml:"schedule"`
}

type LogConfig struct {
	Level  string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" default:"json" validate:"oneof=json console"`
	Output string `yaml:"output" default:"stdout"`
	// CollectErrors ships aggregated error logs to kafka.logs_topic.
	CollectErrors   bool          `yaml:"collect_errors"`
	CollectInterval time.Duration `yaml:"collect_interval" default:"30s"`
}

type ServerConfig struct {
	Port            int           `yaml:"port" default:"8080" validate:"gt=0,lt=65536"`
	ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"15s"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" default:"true"`
	Path    string `yaml:"path" default:"/metrics"`
}

type FeedConfig struct {
	// Source selects the snapshot stream: kafka or websocket.
	Source      string        `yaml:"source" default:"kafka" validate:"oneof=kafka websocket"`
	MinInterval time.Duration `yaml:"min_interval" default:"1s"`
	BufferSize  int           `yaml:"buffer_size" default:"256" validate:"gt=0"`
	RetryMax    int           `yaml:"retry_max" default:"3"`
}

type KafkaConfig struct {
	Brokers       []string `yaml:"brokers" validate:"required,min=1"`
	SnapshotTopic string   `yaml:"snapshot_topic" default:"gatekeeper.snapshots"`
	NotifyTopic   string   `yaml:"notify_topic" default:"gatekeeper.notifications"`
	OrderTopic    string   `yaml:"order_topic" default:"gatekeeper.order_intents"`
	LogsTopic     string   `yaml:"logs_topic" default:"gatekeeper.logs"`
	RequiredAcks  int      `yaml:"required_acks" default:"1"`
	Compression   string   `yaml:"compression" default:"snappy" validate:"oneof=none gzip snappy lz4 zstd"`
	Producer      struct {
		MaxAttempts  int           `yaml:"max_attempts" default:"3"`
		Linger       time.Duration `yaml:"linger" default:"10ms"`
		BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
		BatchSize    int           `yaml:"batch_size" default:"100"`
		WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
		ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
		Async        bool          `yaml:"async"`
	} `yaml:"producer"`
	Consumer struct {
		GroupID    string        `yaml:"group_id" default:"gatekeeper"`
		Workers    int           `yaml:"workers" default:"4" validate:"gt=0"`
		BufferSize int           `yaml:"buffer_size" default:"256"`
		RetryMax   int           `yaml:"retry_max" default:"3"`
		BackoffMin time.Duration `yaml:"backoff_min" default:"100ms"`
		BackoffMax time.Duration `yaml:"backoff_max" default:"5s"`
		DLQTopic   string        `yaml:"dlq_topic"`
		MinBytes   int           `yaml:"min_bytes" default:"1"`
		MaxBytes   int           `yaml:"max_bytes" default:"10485760"`
	} `yaml:"consumer"`
}

type WebSocketConfig struct {
	URL            string        `yaml:"url"`
	Symbols        []string      `yaml:"symbols"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay" default:"5s"`
	PingInterval   time.Duration `yaml:"ping_interval" default:"30s"`
}

type RedisConfig struct {
	Host         string        `yaml:"host" default:"localhost"`
	Port         int           `yaml:"port" default:"6379"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	PoolSize     int           `yaml:"pool_size" default:"10"`
	MinIdleConns int           `yaml:"min_idle_conns" default:"2"`
	PoolTimeout  time.Duration `yaml:"pool_timeout" default:"5s"`
	DialTimeout  time.Duration `yaml:"dial_timeout" default:"2s"`
	ReadTimeout  time.Duration `yaml:"read_timeout" default:"1s"`
	WriteTimeout time.Duration `yaml:"write_timeout" default:"1s"`
	Prefix       string        `yaml:"prefix" default:"gatekeeper"`
}

type PostgresConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns" default:"10"`
	MaxIdleConns    int           `yaml:"max_idle_conns" default:"5"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" default:"30m"`
}

type ClickHouseConfig struct {
	Enabled          bool          `yaml:"enabled" default:"true"`
	Host             string        `yaml:"host" default:"localhost"`
	Port             int           `yaml:"port" default:"9000"`
	Database         string        `yaml:"database" default:"gatekeeper"`
	User             string        `yaml:"user" default:"default"`
	Password         string        `yaml:"password"`
	UseHTTP          bool          `yaml:"use_http"`
	AsyncInsert      bool          `yaml:"async_insert"`
	WaitForAsync     bool          `yaml:"wait_for_async_insert"`
	DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
	ReadTimeout      time.Duration `yaml:"read_timeout" default:"10s"`
	WriteTimeout     time.Duration `yaml:"write_timeout" default:"10s"`
	MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"30s"`
}

type TelegramConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
	ChatID  int64  `yaml:"chat_id"`
}

type AnalysisConfig struct {
	URL          string        `yaml:"url"`
	APIKey       string        `yaml:"api_key"`
	Timeout      time.Duration `yaml:"timeout" default:"30s"`
	MaxRetries   int           `yaml:"max_retries" default:"2"`
	RetryBackoff time.Duration `yaml:"retry_backoff" default:"500ms"`
	// CostPerCall is charged against the gate's cost ceilings.
	CostPerCall float64 `yaml:"cost_per_call" default:"0.02"`
}

type CoordinationConfig struct {
	LockBackend       string        `yaml:"lock_backend" default:"redis" validate:"oneof=redis postgres memory"`
	GateBackend       string        `yaml:"gate_backend" default:"redis" validate:"oneof=redis memory"`
	EventLockTTL      time.Duration `yaml:"event_lock_ttl" default:"10m"`
	SuppressThreshold int           `yaml:"suppress_threshold" default:"3" validate:"gt=0"`
	SuppressTTL       time.Duration `yaml:"suppress_ttl" default:"30m"`
	StreakTTL         time.Duration `yaml:"streak_ttl" default:"24h"`
	StoreTimeout      time.Duration `yaml:"store_timeout" default:"2s"`
}

type RegimeConfig struct {
	VolumeZFloor      float64       `yaml:"volume_z_floor" default:"2.0"`
	VolExpansionFloor float64       `yaml:"vol_expansion_floor" default:"1.3"`
	TrendFloor        float64       `yaml:"trend_floor" default:"0.6"`
	BandFloor         float64       `yaml:"band_floor" default:"1.2"`
	DriftThreshold    float64       `yaml:"drift_threshold" default:"0.002"`
	RangeTrendCeiling float64       `yaml:"range_trend_ceiling" default:"0.4"`
	MinDwell          time.Duration `yaml:"min_dwell" default:"15m"`
	Confirmations     int           `yaml:"confirmations" default:"3" validate:"gt=0"`
}

type EventConfig struct {
	ShortMove      float64       `yaml:"short_move" default:"0.02"`
	AdverseMove    float64       `yaml:"adverse_move" default:"0.03"`
	LiqDistance    float64       `yaml:"liq_distance" default:"0.05"`
	VolSurge       float64       `yaml:"vol_surge" default:"2.5"`
	VolumeConfirm  float64       `yaml:"volume_confirm" default:"1.5"`
	BoxBandWidth   float64       `yaml:"box_band_width" default:"0.01"`
	BoxMove        float64       `yaml:"box_move" default:"0.005"`
	Ret1m          float64       `yaml:"ret_1m" default:"0.008"`
	Ret5m          float64       `yaml:"ret_5m" default:"0.012"`
	Ret15m         float64       `yaml:"ret_15m" default:"0.02"`
	Ret1h          float64       `yaml:"ret_1h" default:"0.035"`
	VolumeSpike    float64       `yaml:"volume_spike" default:"3.0"`
	LevelNear      float64       `yaml:"level_near" default:"0.001"`
	VolLow         float64       `yaml:"vol_low" default:"0.8"`
	VolHigh        float64       `yaml:"vol_high" default:"1.5"`
	DedupReturn    time.Duration `yaml:"dedup_return" default:"15m"`
	DedupVolume    time.Duration `yaml:"dedup_volume" default:"10m"`
	DedupLevel     time.Duration `yaml:"dedup_level" default:"30m"`
	DedupVolRegime time.Duration `yaml:"dedup_vol_regime" default:"1h"`
	PriceBucketPct float64       `yaml:"price_bucket_pct" default:"0.005" validate:"gt=0"`
	TimeBucket     time.Duration `yaml:"time_bucket" default:"15m"`
	Lockout        time.Duration `yaml:"emergency_lockout" default:"30m"`
	MaxEntries     int           `yaml:"max_entries" default:"4096"`
}

type GateConfig struct {
	Timezone          string        `yaml:"timezone" default:"UTC"`
	StateKey          string        `yaml:"state_key" default:"gate:state"`
	AuditedGate       string        `yaml:"audited_gate" default:"analysis"`
	DailyCalls        int           `yaml:"daily_calls" default:"40"`
	DailyCost         float64       `yaml:"daily_cost" default:"2.0"`
	MonthlyCost       float64       `yaml:"monthly_cost" default:"30.0"`
	UrgentDailyCalls  int           `yaml:"urgent_daily_calls" default:"5"`
	Cooldown          time.Duration `yaml:"cooldown" default:"20m"`
	EventWindow       time.Duration `yaml:"event_window" default:"1h"`
	UserWindow        time.Duration `yaml:"user_window" default:"1m"`
	UrgentWindow      time.Duration `yaml:"urgent_window" default:"5m"`
	ErrorBackoff      time.Duration `yaml:"error_backoff" default:"10m"`
	WriteGuardTTL     time.Duration `yaml:"write_guard_ttl" default:"3s"`
}

type ThrottleConfig struct {
	HourlyCap          int           `yaml:"hourly_cap" default:"12" validate:"gt=0"`
	TenMinuteCap       int           `yaml:"ten_minute_cap" default:"4" validate:"gt=0"`
	ActionCooldown     time.Duration `yaml:"action_cooldown" default:"2m"`
	AnyCooldown        time.Duration `yaml:"any_cooldown" default:"20s"`
	RateLimitLockout   time.Duration `yaml:"rate_limit_lockout" default:"1h"`
	MinSizeBackoff     time.Duration `yaml:"min_size_backoff" default:"5m"`
	PersistBackoffBase time.Duration `yaml:"persist_backoff_base" default:"2m"`
	PersistBackoffMax  time.Duration `yaml:"persist_backoff_max" default:"1h"`
	PersistHaltAfter   int           `yaml:"persist_halt_after" default:"3" validate:"gt=0"`
	NetworkBackoffBase time.Duration `yaml:"network_backoff_base" default:"5s"`
	NetworkBackoffMax  time.Duration `yaml:"network_backoff_max" default:"5m"`
}

type ScheduleConfig struct {
	CleanupCron  string   `yaml:"cleanup_cron" default:"@every 5m"`
	AnalysisCron string   `yaml:"analysis_cron"`
	Symbols      []string `yaml:"symbols"`
}

var validate = validator.New()

// Load reads a YAML file over the tagged defaults and validates the result.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// Parse builds a Config from raw YAML.
func Parse(b []byte) (*Config, error) {
	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("config defaults: %w", err)
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
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
	c.applyEnv()
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("GATEKEEPER_OWNER"); v != "" {
		c.Owner = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("REDIS_HOST"); v != "" {
		c.Redis.Host = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("POSTGRES_DSN"); v != "" {
		c.Postgres.DSN = v
	}
	if v := os.Getenv("CLICKHOUSE_PASSWORD"); v != "" {
		c.ClickHouse.Password = v
	}
	if v := os.Getenv("TELEGRAM_TOKEN"); v != "" {
		c.Telegram.Token = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.Telegram.ChatID = id
		}
	}
	if v := os.Getenv("ANALYSIS_API_KEY"); v != "" {
		c.Analysis.APIKey = v
	}
	if v := os.Getenv("LOCK_BACKEND"); v != "" {
		c.Coordination.LockBackend = v
	}
}

// Validate runs tag validation plus the cross-field rules tags cannot express.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.Coordination.LockBackend == "postgres" && c.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required when coordination.lock_backend is postgres")
	}
	if c.Feed.Source == "websocket" && c.WebSocket.URL == "" {
		return errors.New("websocket.url is required when feed.source is websocket")
	}
	if c.Telegram.Enabled && (c.Telegram.Token == "" || c.Telegram.ChatID == 0) {
		return errors.New("telegram.token and telegram.chat_id are required when telegram is enabled")
	}
	if c.Throttle.TenMinuteCap > c.Throttle.HourlyCap {
		return fmt.Errorf("throttle.ten_minute_cap (%d) exceeds throttle.hourly_cap (%d)", c.Throttle.TenMinuteCap, c.Throttle.HourlyCap)
	}
	if c.Regime.RangeTrendCeiling > c.Regime.TrendFloor {
		return errors.New("regime.range_trend_ceiling must not exceed regime.trend_floor")
	}
	if c.Event.VolLow >= c.Event.VolHigh {
		return errors.New("event.vol_low must be below event.vol_high")
	}
	if _, err := time.LoadLocation(c.Gate.Timezone); err != nil {
		return fmt.Errorf("gate.timezone: %w", err)
	}
	return nil
}
