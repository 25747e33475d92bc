// Package config loads the configuration of the seda binary
// from a YAML file, SEDA_ environment variables and defaults.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/spf13/viper"
	"github.com/squadracorsepolito/seda"
	"github.com/squadracorsepolito/seda/connector"
	"github.com/squadracorsepolito/seda/message"
)

// Names of the stages of the pipeline.
const (
	StageIngress    = "ingress"
	StageCannelloni = "cannelloni"
	StageCAN        = "can"
	StageQuestDB    = "questdb"
	StageKafka      = "kafka"
)

// StageNames lists every configurable stage. The pipeline runs the first three
// followed by the one selected as sink.
var StageNames = []string{StageIngress, StageCannelloni, StageCAN, StageQuestDB, StageKafka}

// Config is the complete configuration of the binary.
type Config struct {
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `mapstructure:"log_level"`
	// AdjustInterval is the period of the tuning ticks of every stage.
	AdjustInterval time.Duration `mapstructure:"adjust_interval"`
	// DeadLetter adds a stage logging the rejected messages.
	DeadLetter bool `mapstructure:"dead_letter"`
	// Sink is the stage storing the decoded signals, questdb or kafka.
	Sink string `mapstructure:"sink"`

	UDP       UDPConfig              `mapstructure:"udp"`
	CAN       CANConfig              `mapstructure:"can"`
	QuestDB   QuestDBConfig          `mapstructure:"questdb"`
	Kafka     KafkaConfig            `mapstructure:"kafka"`
	Telemetry TelemetryConfig        `mapstructure:"telemetry"`
	Stages    map[string]StageConfig `mapstructure:"stages"`
}

type UDPConfig struct {
	Address     string `mapstructure:"address"`
	Port        uint16 `mapstructure:"port"`
	PayloadSize int    `mapstructure:"payload_size"`
}

// CANConfig selects the CAN messages to decode. When DBC is empty
// SyntheticMessages messages made of 8 bit signals are used.
type CANConfig struct {
	DBC               string `mapstructure:"dbc"`
	SyntheticMessages int    `mapstructure:"synthetic_messages"`
}

type QuestDBConfig struct {
	Address       string        `mapstructure:"address"`
	AutoFlushRows int           `mapstructure:"auto_flush_rows"`
	RetryTimeout  time.Duration `mapstructure:"retry_timeout"`
}

type KafkaConfig struct {
	Brokers      []string      `mapstructure:"brokers"`
	Topic        string        `mapstructure:"topic"`
	BatchSize    int           `mapstructure:"batch_size"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
	Async        bool          `mapstructure:"async"`
}

type TelemetryConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	ServiceName    string        `mapstructure:"service_name"`
	SampleRatio    float64       `mapstructure:"sample_ratio"`
	MetricInterval time.Duration `mapstructure:"metric_interval"`
}

// StageConfig holds the tunable pool settings of a stage.
type StageConfig struct {
	InitialWorkers    int           `mapstructure:"initial_workers"`
	MinWorkers        int           `mapstructure:"min_workers"`
	MaxWorkers        int           `mapstructure:"max_workers"`
	MinAdjustInterval time.Duration `mapstructure:"min_adjust_interval"`
	MaxTolerableDelay time.Duration `mapstructure:"max_tolerable_delay"`
	MaxBacklog        int           `mapstructure:"max_backlog"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`

	// BacklogCapacity selects a bounded ring buffer of that capacity
	// as backlog. Zero keeps the unbounded queue.
	BacklogCapacity int `mapstructure:"backlog_capacity"`
}

// SEDA returns the stage configuration, the remaining
// settings are the ones of [seda.DefaultStageConfig].
func (sc StageConfig) SEDA() *seda.StageConfig {
	cfg := seda.DefaultStageConfig()

	cfg.InitialWorkers = sc.InitialWorkers
	cfg.MinWorkers = sc.MinWorkers
	cfg.MaxWorkers = sc.MaxWorkers
	cfg.MinAdjustInterval = sc.MinAdjustInterval
	cfg.MaxTolerableDelay = sc.MaxTolerableDelay
	cfg.MaxBacklog = sc.MaxBacklog
	cfg.ShutdownTimeout = sc.ShutdownTimeout

	return cfg
}

// Options returns the stage options matching the configuration.
func (sc StageConfig) Options() []seda.StageOption {
	opts := []seda.StageOption{}

	if sc.BacklogCapacity > 0 {
		opts = append(opts, seda.WithBacklog(connector.NewRingBuffer[message.Message](uint32(sc.BacklogCapacity))))
	}

	return opts
}

func defaultStageConfig() StageConfig {
	def := seda.DefaultStageConfig()

	return StageConfig{
		InitialWorkers:    def.InitialWorkers,
		MinWorkers:        def.MinWorkers,
		MaxWorkers:        def.MaxWorkers,
		MinAdjustInterval: def.MinAdjustInterval,
		MaxTolerableDelay: def.MaxTolerableDelay,
		MaxBacklog:        def.MaxBacklog,
		ShutdownTimeout:   def.ShutdownTimeout,
	}
}

// Default returns the default configuration.
func Default() *Config {
	stages := make(map[string]StageConfig, len(StageNames))
	for _, name := range StageNames {
		stages[name] = defaultStageConfig()
	}

	return &Config{
		LogLevel:       "info",
		AdjustInterval: seda.DefaultAdjustInterval,
		DeadLetter:     true,
		Sink:           StageQuestDB,

		UDP: UDPConfig{
			Address:     "127.0.0.1",
			Port:        20_000,
			PayloadSize: 1474,
		},

		CAN: CANConfig{
			SyntheticMessages: 113,
		},

		QuestDB: QuestDBConfig{
			Address:       "localhost:9000",
			AutoFlushRows: 75_000,
			RetryTimeout:  time.Second,
		},

		Kafka: KafkaConfig{
			Brokers:      []string{"localhost:9092"},
			Topic:        "can_signals",
			BatchSize:    100,
			BatchTimeout: time.Second,
			Async:        true,
		},

		Telemetry: TelemetryConfig{
			Enabled:        false,
			ServiceName:    "seda",
			SampleRatio:    0.05,
			MetricInterval: time.Second,
		},

		Stages: stages,
	}
}

// SetDefaults registers the defaults in viper.
func SetDefaults() {
	defaults := Default()

	viper.SetDefault("log_level", defaults.LogLevel)
	viper.SetDefault("adjust_interval", defaults.AdjustInterval)
	viper.SetDefault("dead_letter", defaults.DeadLetter)
	viper.SetDefault("sink", defaults.Sink)

	viper.SetDefault("udp.address", defaults.UDP.Address)
	viper.SetDefault("udp.port", defaults.UDP.Port)
	viper.SetDefault("udp.payload_size", defaults.UDP.PayloadSize)

	viper.SetDefault("can.dbc", defaults.CAN.DBC)
	viper.SetDefault("can.synthetic_messages", defaults.CAN.SyntheticMessages)

	viper.SetDefault("questdb.address", defaults.QuestDB.Address)
	viper.SetDefault("questdb.auto_flush_rows", defaults.QuestDB.AutoFlushRows)
	viper.SetDefault("questdb.retry_timeout", defaults.QuestDB.RetryTimeout)

	viper.SetDefault("kafka.brokers", defaults.Kafka.Brokers)
	viper.SetDefault("kafka.topic", defaults.Kafka.Topic)
	viper.SetDefault("kafka.batch_size", defaults.Kafka.BatchSize)
	viper.SetDefault("kafka.batch_timeout", defaults.Kafka.BatchTimeout)
	viper.SetDefault("kafka.async", defaults.Kafka.Async)

	viper.SetDefault("telemetry.enabled", defaults.Telemetry.Enabled)
	viper.SetDefault("telemetry.service_name", defaults.Telemetry.ServiceName)
	viper.SetDefault("telemetry.sample_ratio", defaults.Telemetry.SampleRatio)
	viper.SetDefault("telemetry.metric_interval", defaults.Telemetry.MetricInterval)

	for name, sc := range defaults.Stages {
		prefix := "stages." + name + "."

		viper.SetDefault(prefix+"initial_workers", sc.InitialWorkers)
		viper.SetDefault(prefix+"min_workers", sc.MinWorkers)
		viper.SetDefault(prefix+"max_workers", sc.MaxWorkers)
		viper.SetDefault(prefix+"min_adjust_interval", sc.MinAdjustInterval)
		viper.SetDefault(prefix+"max_tolerable_delay", sc.MaxTolerableDelay)
		viper.SetDefault(prefix+"max_backlog", sc.MaxBacklog)
		viper.SetDefault(prefix+"shutdown_timeout", sc.ShutdownTimeout)
		viper.SetDefault(prefix+"backlog_capacity", sc.BacklogCapacity)
	}
}

// Load reads the configuration from viper and validates it.
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the settings that are not checked by the components.
func (c *Config) Validate() error {
	var errs []error

	if _, err := c.SlogLevel(); err != nil {
		errs = append(errs, err)
	}

	if c.AdjustInterval <= 0 {
		errs = append(errs, fmt.Errorf("adjust_interval must be positive, got %s", c.AdjustInterval))
	}

	if c.CAN.DBC == "" && c.CAN.SyntheticMessages <= 0 {
		errs = append(errs, errors.New("can: either dbc or synthetic_messages must be set"))
	}

	switch c.Sink {
	case StageQuestDB:
	case StageKafka:
		if len(c.Kafka.Brokers) == 0 {
			errs = append(errs, errors.New("kafka: at least one broker is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("sink must be %q or %q, got %q", StageQuestDB, StageKafka, c.Sink))
	}

	for _, name := range c.FlowStages() {
		sc, ok := c.Stages[name]
		if !ok {
			errs = append(errs, fmt.Errorf("stages: missing %q", name))
			continue
		}

		if sc.BacklogCapacity < 0 || int64(sc.BacklogCapacity) > math.MaxUint32 {
			errs = append(errs, fmt.Errorf("stages: %q: backlog_capacity %d out of range", name, sc.BacklogCapacity))
		}
	}

	return errors.Join(errs...)
}

// FlowStages returns the stages run by the pipeline in data flow order.
func (c *Config) FlowStages() []string {
	return []string{StageIngress, StageCannelloni, StageCAN, c.Sink}
}

// SlogLevel returns the parsed log level.
func (c *Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return level, fmt.Errorf("log_level: %w", err)
	}
	return level, nil
}
