package config

import (
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the shared configuration for the vehicle and station binaries.
// Each binary reads only the sections it needs.
type Config struct {
	mu sync.Mutex `yaml:"-"`

	VehicleID string `yaml:"vehicle_id"`

	Serial     SerialConfig     `yaml:"serial"`
	Control    ControlConfig    `yaml:"control"`
	Obstacle   ObstacleConfig   `yaml:"obstacle"`
	Vehicle    VehicleConfig    `yaml:"vehicle"`
	Station    StationConfig    `yaml:"station"`
	Sync       SyncConfig       `yaml:"sync"`
	Messaging  MessagingConfig  `yaml:"messaging"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Web        WebConfig        `yaml:"web"`
	VehicleWeb VehicleWebConfig `yaml:"vehicle_web"`
}

// SerialConfig defines the motor controller link. Bridge, when set, is a
// ws:// URL of a remote serial bridge and takes precedence over Port.
type SerialConfig struct {
	Port        string        `yaml:"port"`
	Baud        int           `yaml:"baud"`
	ReadTimeout time.Duration `yaml:"read_timeout"`
	Bridge      string        `yaml:"bridge"`
	JoinTimeout time.Duration `yaml:"join_timeout"`
	SpeedLimit  int           `yaml:"speed_limit"`
}

// ControlConfig defines the line-following speeds.
type ControlConfig struct {
	Tick          time.Duration `yaml:"tick"`
	BaseSpeed     int           `yaml:"base_speed"`
	MaxSpeed      int           `yaml:"max_speed"`
	PrestartSpeed int           `yaml:"prestart_speed"`
	TurnSpeed     int           `yaml:"turn_speed"`
}

// ObstacleConfig defines the obstacle hysteresis.
type ObstacleConfig struct {
	StopBelowMm    uint32        `yaml:"stop_below_mm"`
	RecoverAboveMm uint32        `yaml:"recover_above_mm"`
	Dwell          time.Duration `yaml:"dwell"`
}

// VehicleConfig defines the vehicle state machine limits.
type VehicleConfig struct {
	StaleAfter     time.Duration `yaml:"stale_after"`
	StaleLimit     int           `yaml:"stale_limit"`
	LinkLossLimit  int           `yaml:"link_loss_limit"`
	AutoStartTag   uint32        `yaml:"auto_start_tag"`
	MinBattery     int           `yaml:"min_battery"`
	LivenessWindow time.Duration `yaml:"liveness_window"`
}

// StationConfig defines the station state machine and its loops.
type StationConfig struct {
	VehicleURL            string        `yaml:"vehicle_url"`
	HealthAttempts        int           `yaml:"health_attempts"`
	HealthInterval        time.Duration `yaml:"health_interval"`
	RunningHealthInterval time.Duration `yaml:"running_health_interval"`
	InitialTimeout        time.Duration `yaml:"initial_timeout"`
	ReportStaleAfter      time.Duration `yaml:"report_stale_after"`
	CycleInterval         time.Duration `yaml:"cycle_interval"`
	MinBattery            int           `yaml:"min_battery"`
	AutoStartTag          uint32        `yaml:"auto_start_tag"`
}

// SyncConfig selects how reports and commands travel.
type SyncConfig struct {
	Transport       string        `yaml:"transport"` // "http", "mqtt" or "kafka"
	Codec           string        `yaml:"codec"`     // "json" or "cbor"; broker transports only
	StationURL      string        `yaml:"station_url"`
	ReportInterval  time.Duration `yaml:"report_interval"`
	CommandInterval time.Duration `yaml:"command_interval"`
	Timeout         time.Duration `yaml:"timeout"`
	DropRate        float64       `yaml:"drop_rate"` // simulated loss, 0 disables
	Latency         time.Duration `yaml:"latency"`
}

// MessagingConfig defines the broker backend and topics.
type MessagingConfig struct {
	MQTT                MQTTConfig    `yaml:"mqtt"`
	Kafka               KafkaConfig   `yaml:"kafka"`
	ReportsTopic        string        `yaml:"reports_topic"`
	CommandsTopic       string        `yaml:"commands_topic"`
	HealthTopic         string        `yaml:"health_topic"`
	EventsTopic         string        `yaml:"events_topic"`
	HealthInterval      time.Duration `yaml:"health_interval"`
	OutboxDrainInterval time.Duration `yaml:"outbox_drain_interval"`
	StationID           string        `yaml:"station_id"`
}

// MQTTConfig defines MQTT broker settings.
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	Port     int    `yaml:"port"`
	ClientID string `yaml:"client_id"`
}

// KafkaConfig defines Kafka broker settings.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	GroupID string   `yaml:"group_id"`
}

// DatabaseConfig defines the session log database.
type DatabaseConfig struct {
	Driver   string         `yaml:"driver"`
	SQLite   SQLiteConfig   `yaml:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// SQLiteConfig defines the sqlite file. ":memory:" keeps the log in RAM.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// PostgresConfig defines the postgres connection.
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"`
}

// RedisConfig defines the snapshot cache. An empty address disables it.
type RedisConfig struct {
	Address   string        `yaml:"address"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	KeyPrefix string        `yaml:"key_prefix"`
	TTL       time.Duration `yaml:"ttl"`
}

// WebConfig defines the station web server. SecureCookies marks the session
// cookie Secure; enable it only behind a TLS-terminating proxy, since
// clients drop Secure cookies over plain HTTP.
type WebConfig struct {
	Host          string `yaml:"host"`
	Port          int    `yaml:"port"`
	SessionSecret string `yaml:"session_secret"`
	SecureCookies bool   `yaml:"secure_cookies"`
}

// VehicleWebConfig defines the vehicle health server.
type VehicleWebConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Defaults returns a Config with sane defaults.
func Defaults() *Config {
	return &Config{
		VehicleID: "agv-1",
		Serial: SerialConfig{
			Port:        "/dev/ttyUSB0",
			Baud:        115200,
			ReadTimeout: 100 * time.Millisecond,
			JoinTimeout: 200 * time.Millisecond,
			SpeedLimit:  300,
		},
		Control: ControlConfig{
			Tick:          50 * time.Millisecond,
			BaseSpeed:     150,
			MaxSpeed:      200,
			PrestartSpeed: 200,
			TurnSpeed:     50,
		},
		Obstacle: ObstacleConfig{
			StopBelowMm:    150,
			RecoverAboveMm: 300,
			Dwell:          2 * time.Second,
		},
		Vehicle: VehicleConfig{
			StaleAfter:     500 * time.Millisecond,
			StaleLimit:     10,
			LinkLossLimit:  60,
			MinBattery:     10,
			LivenessWindow: time.Second,
		},
		Station: StationConfig{
			VehicleURL:            "http://localhost:5000",
			HealthAttempts:        3,
			HealthInterval:        10 * time.Second,
			RunningHealthInterval: 2 * time.Second,
			ReportStaleAfter:      3 * time.Second,
			CycleInterval:         100 * time.Millisecond,
			MinBattery:            10,
			AutoStartTag:          1,
		},
		Sync: SyncConfig{
			Transport:       "http",
			Codec:           "json",
			StationURL:      "http://localhost:8090",
			ReportInterval:  33 * time.Millisecond,
			CommandInterval: 100 * time.Millisecond,
			Timeout:         500 * time.Millisecond,
		},
		Messaging: MessagingConfig{
			MQTT: MQTTConfig{
				Broker: "localhost",
				Port:   1883,
			},
			Kafka: KafkaConfig{
				Brokers: []string{"localhost:9092"},
				GroupID: "linetrack",
			},
			ReportsTopic:        "linetrack/reports",
			CommandsTopic:       "linetrack/commands",
			HealthTopic:         "linetrack/health",
			EventsTopic:         "linetrack/events",
			HealthInterval:      time.Second,
			OutboxDrainInterval: 5 * time.Second,
			StationID:           "station",
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			SQLite: SQLiteConfig{Path: ":memory:"},
			Postgres: PostgresConfig{
				Host:     "localhost",
				Port:     5432,
				Database: "linetrack",
				User:     "linetrack",
				SSLMode:  "disable",
			},
		},
		Redis: RedisConfig{
			KeyPrefix: "linetrack:",
			TTL:       time.Minute,
		},
		Web: WebConfig{
			Host:          "0.0.0.0",
			Port:          8090,
			SessionSecret: "change-me-in-production",
		},
		VehicleWeb: VehicleWebConfig{
			Host: "0.0.0.0",
			Port: 5000,
		},
	}
}

// Load reads a YAML config file. If the file doesn't exist, defaults are used.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the config to a YAML file.
func (c *Config) Save(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// NodeID returns the vehicle's broker node name.
func (c *Config) NodeID() string {
	if c.VehicleID != "" {
		return c.VehicleID
	}
	return "agv-1"
}

// Lock acquires the config mutex for multi-step mutations.
func (c *Config) Lock() { c.mu.Lock() }

// Unlock releases the config mutex.
func (c *Config) Unlock() { c.mu.Unlock() }
