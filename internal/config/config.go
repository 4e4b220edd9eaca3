// Package config loads daemon configuration: built-in defaults, then an
// optional YAML file, then CRIB_* environment variables. Command line flags
// are applied last by each main.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// LogConfig selects the zap level and encoder.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MQTTConfig describes an optional broker connection.
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// Device is the crib-sensor daemon configuration.
type Device struct {
	SubjectID string `yaml:"subject_id"`

	// Classifier is the path of the verdict line stream; "-" reads stdin.
	Classifier string `yaml:"classifier"`

	Window    time.Duration `yaml:"window"`
	Threshold int           `yaml:"threshold"`
	Tick      time.Duration `yaml:"tick"`
	Heartbeat time.Duration `yaml:"heartbeat"`
	QueueSize int           `yaml:"queue_size"`

	// ServerURL is the base URL of crib-server. Empty disables HTTP emission.
	ServerURL     string        `yaml:"server_url"`
	ClientTimeout time.Duration `yaml:"client_timeout"`
	ClientRetries int           `yaml:"client_retries"`

	MQTT MQTTConfig `yaml:"mqtt"`

	// Override buttons. A zero pin disables that button.
	PinMarkAsleep int `yaml:"pin_mark_asleep"`
	PinMarkAwake  int `yaml:"pin_mark_awake"`

	HTTPAddr string    `yaml:"http_addr"`
	Log      LogConfig `yaml:"log"`
}

// DatabaseConfig is the Postgres connection.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"sslmode"`
	MaxConns int    `yaml:"max_conns"`
}

// DSN returns the lib/pq connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// RedisConfig is the tracker replay store. Empty Addr disables replication.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// KafkaConfig is the awakening record fan-out. No brokers disables it.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// Server is the crib-server configuration.
type Server struct {
	HTTPAddr string `yaml:"http_addr"`

	Cooldown time.Duration `yaml:"cooldown"`
	BlockGap time.Duration `yaml:"block_gap"`
	Timezone string        `yaml:"timezone"`

	RegistryTTL  time.Duration `yaml:"registry_ttl"`
	RegistrySize int           `yaml:"registry_size"`

	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Log      LogConfig      `yaml:"log"`
}

// DefaultDevice returns the device defaults.
func DefaultDevice() Device {
	return Device{
		Classifier:    "-",
		Window:        25 * time.Second,
		Threshold:     600,
		Tick:          200 * time.Millisecond,
		Heartbeat:     15 * time.Minute,
		QueueSize:     64,
		ClientTimeout: 10 * time.Second,
		ClientRetries: 3,
		MQTT:          MQTTConfig{ClientID: "crib-sensor"},
		HTTPAddr:      ":8080",
		Log:           LogConfig{Level: "info", Format: "json"},
	}
}

// DefaultServer returns the server defaults.
func DefaultServer() Server {
	return Server{
		HTTPAddr:     ":8000",
		Cooldown:     20 * time.Minute,
		BlockGap:     30 * time.Minute,
		Timezone:     "UTC",
		RegistryTTL:  5 * time.Minute,
		RegistrySize: 1000,
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "crib",
			Database: "crib",
			SSLMode:  "disable",
			MaxConns: 10,
		},
		Kafka: KafkaConfig{Topic: "crib.awakenings"},
		MQTT:  MQTTConfig{ClientID: "crib-server"},
		Log:   LogConfig{Level: "info", Format: "json"},
	}
}

// LoadDevice returns defaults overlaid with the YAML file at path (if any)
// and then the environment.
func LoadDevice(path string) (Device, error) {
	cfg := DefaultDevice()
	if err := loadFile(path, &cfg); err != nil {
		return cfg, err
	}
	cfg.applyEnv()
	return cfg, nil
}

// LoadServer returns defaults overlaid with the YAML file at path (if any)
// and then the environment.
func LoadServer(path string) (Server, error) {
	cfg := DefaultServer()
	if err := loadFile(path, &cfg); err != nil {
		return cfg, err
	}
	cfg.applyEnv()
	return cfg, nil
}

func loadFile(path string, out interface{}) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

func (c *Device) applyEnv() {
	c.SubjectID = getEnv("CRIB_SUBJECT_ID", c.SubjectID)
	c.Classifier = getEnv("CRIB_CLASSIFIER", c.Classifier)
	c.ServerURL = getEnv("CRIB_SERVER_URL", c.ServerURL)
	c.MQTT.Broker = getEnv("CRIB_MQTT_BROKER", c.MQTT.Broker)
	c.HTTPAddr = getEnv("CRIB_HTTP_ADDR", c.HTTPAddr)
	c.Threshold = getEnvInt("CRIB_THRESHOLD", c.Threshold)
	c.Window = getEnvDuration("CRIB_WINDOW", c.Window)
	c.Log.Level = getEnv("CRIB_LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("CRIB_LOG_FORMAT", c.Log.Format)
}

func (c *Server) applyEnv() {
	c.HTTPAddr = getEnv("CRIB_HTTP_ADDR", c.HTTPAddr)
	c.Cooldown = getEnvDuration("CRIB_COOLDOWN", c.Cooldown)
	c.BlockGap = getEnvDuration("CRIB_BLOCK_GAP", c.BlockGap)
	c.Timezone = getEnv("CRIB_TIMEZONE", c.Timezone)

	c.Database.Host = getEnv("CRIB_DB_HOST", c.Database.Host)
	c.Database.Port = getEnvInt("CRIB_DB_PORT", c.Database.Port)
	c.Database.User = getEnv("CRIB_DB_USER", c.Database.User)
	c.Database.Password = getEnv("CRIB_DB_PASSWORD", c.Database.Password)
	c.Database.Database = getEnv("CRIB_DB_NAME", c.Database.Database)
	c.Database.SSLMode = getEnv("CRIB_DB_SSLMODE", c.Database.SSLMode)

	c.Redis.Addr = getEnv("CRIB_REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnv("CRIB_REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = getEnvInt("CRIB_REDIS_DB", c.Redis.DB)

	if brokers := getEnv("CRIB_KAFKA_BROKERS", ""); brokers != "" {
		c.Kafka.Brokers = strings.Split(brokers, ",")
	}
	c.Kafka.Topic = getEnv("CRIB_KAFKA_TOPIC", c.Kafka.Topic)
	c.MQTT.Broker = getEnv("CRIB_MQTT_BROKER", c.MQTT.Broker)

	c.Log.Level = getEnv("CRIB_LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("CRIB_LOG_FORMAT", c.Log.Format)
}

// Validate checks the device configuration.
func (c Device) Validate() error {
	var errs []error
	if c.SubjectID == "" {
		errs = append(errs, errors.New("subject_id is required"))
	}
	if c.Window <= 0 {
		errs = append(errs, fmt.Errorf("window must be positive, got %v", c.Window))
	}
	if c.Threshold < 0 {
		errs = append(errs, fmt.Errorf("threshold must not be negative, got %d", c.Threshold))
	}
	if c.Tick <= 0 {
		errs = append(errs, fmt.Errorf("tick must be positive, got %v", c.Tick))
	}
	if c.QueueSize <= 0 {
		errs = append(errs, fmt.Errorf("queue_size must be positive, got %d", c.QueueSize))
	}
	if c.ServerURL == "" && c.MQTT.Broker == "" {
		errs = append(errs, errors.New("at least one of server_url or mqtt.broker is required"))
	}
	if (c.PinMarkAsleep != 0 || c.PinMarkAwake != 0) && c.ServerURL == "" {
		errs = append(errs, errors.New("override buttons require server_url"))
	}
	if c.PinMarkAsleep != 0 && c.PinMarkAsleep == c.PinMarkAwake {
		errs = append(errs, fmt.Errorf("override buttons share pin %d", c.PinMarkAsleep))
	}
	return errors.Join(errs...)
}

// Validate checks the server configuration.
func (c Server) Validate() error {
	var errs []error
	if c.HTTPAddr == "" {
		errs = append(errs, errors.New("http_addr is required"))
	}
	if c.Cooldown <= 0 {
		errs = append(errs, fmt.Errorf("cooldown must be positive, got %v", c.Cooldown))
	}
	if c.BlockGap < 0 {
		errs = append(errs, fmt.Errorf("block_gap must not be negative, got %v", c.BlockGap))
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("timezone %q: %w", c.Timezone, err))
	}
	if c.Database.Host == "" {
		errs = append(errs, errors.New("database.host is required"))
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		errs = append(errs, errors.New("kafka.topic is required when brokers are set"))
	}
	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}
