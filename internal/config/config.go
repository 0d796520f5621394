package config

import (
	"fmt"
	"log/slog"
	"math"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Defaults taken from the deployed SmartBus device.
const (
	DefaultDeviceID       = "bus001"
	DefaultCloudURL       = "https://iotupload-n47mkff2za-uc.a.run.app"
	DefaultAgentAddr      = ":5000"
	DefaultCollectorAddr  = ":8080"
	DefaultUploadInterval = time.Second
	DefaultUploadTimeout  = 5 * time.Second
	DefaultSendCadence    = 3 * time.Second
	DefaultMaxClockDrift  = 120 * time.Second
	DefaultRateLimit      = 15
	DefaultRateWindow     = time.Minute
)

// AgentConfig holds the device agent configuration.
type AgentConfig struct {
	DeviceID       string
	CloudURL       string
	ListenAddr     string
	UploadInterval time.Duration
	UploadTimeout  time.Duration
	AllowedOrigins []string
	LogLevel       string
}

// SenderConfig holds the abnormal sender configuration.
type SenderConfig struct {
	DeviceID      string
	CloudURL      string
	UploadTimeout time.Duration
	Cadence       time.Duration
	ScenarioFile  string
	LogLevel      string
}

// CollectorConfig holds the reference collector configuration.
type CollectorConfig struct {
	ListenAddr     string
	InfluxDBURL    string
	InfluxDBToken  string
	InfluxDBOrg    string
	InfluxDBBucket string
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	JWTSecret      string
	JWTIssuer      string
	JWTAudience    string
	MaxClockDrift  time.Duration
	RateLimit      int
	RateWindow     time.Duration
	AllowedOrigins []string
	LogLevel       string
}

// loadDotEnv loads .env when present; a missing file is not an error.
func loadDotEnv() {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file found, relying on system environment variables")
	}
}

// LoadAgentConfig loads the agent configuration from the environment.
func LoadAgentConfig() (AgentConfig, error) {
	loadDotEnv()

	cfg := AgentConfig{
		DeviceID:       getEnv("DEVICE_ID", DefaultDeviceID),
		CloudURL:       getEnv("CLOUD_URL", DefaultCloudURL),
		ListenAddr:     getEnv("LISTEN_ADDR", DefaultAgentAddr),
		AllowedOrigins: getList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
	}

	var err error
	if cfg.UploadInterval, err = getDuration("UPLOAD_INTERVAL", DefaultUploadInterval); err != nil {
		return AgentConfig{}, err
	}
	if cfg.UploadTimeout, err = getDuration("UPLOAD_TIMEOUT", DefaultUploadTimeout); err != nil {
		return AgentConfig{}, err
	}
	return cfg, nil
}

// Validate checks if all agent fields are usable.
func (c AgentConfig) Validate() error {
	if err := validateDeviceID(c.DeviceID); err != nil {
		return err
	}
	if err := validateURL("CLOUD_URL", c.CloudURL); err != nil {
		return err
	}
	if c.ListenAddr == "" {
		return fmt.Errorf("LISTEN_ADDR required")
	}
	if c.UploadInterval <= 0 {
		return fmt.Errorf("UPLOAD_INTERVAL must be > 0")
	}
	if c.UploadTimeout <= 0 {
		return fmt.Errorf("UPLOAD_TIMEOUT must be > 0")
	}
	return nil
}

// LoadSenderConfig loads the abnormal sender configuration from the environment.
func LoadSenderConfig() (SenderConfig, error) {
	loadDotEnv()

	cfg := SenderConfig{
		DeviceID:     getEnv("DEVICE_ID", DefaultDeviceID),
		CloudURL:     getEnv("CLOUD_URL", DefaultCloudURL),
		ScenarioFile: getEnv("SCENARIO_FILE", ""),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
	}

	var err error
	if cfg.UploadTimeout, err = getDuration("UPLOAD_TIMEOUT", DefaultUploadTimeout); err != nil {
		return SenderConfig{}, err
	}
	if cfg.Cadence, err = getDuration("SEND_CADENCE", DefaultSendCadence); err != nil {
		return SenderConfig{}, err
	}
	return cfg, nil
}

// Validate checks if all sender fields are usable.
func (c SenderConfig) Validate() error {
	if err := validateDeviceID(c.DeviceID); err != nil {
		return err
	}
	if err := validateURL("CLOUD_URL", c.CloudURL); err != nil {
		return err
	}
	if c.UploadTimeout <= 0 {
		return fmt.Errorf("UPLOAD_TIMEOUT must be > 0")
	}
	if c.Cadence < 0 {
		return fmt.Errorf("SEND_CADENCE must be >= 0")
	}
	return nil
}

// LoadCollectorConfig loads the collector configuration from the environment.
func LoadCollectorConfig() (CollectorConfig, error) {
	loadDotEnv()

	cfg := CollectorConfig{
		ListenAddr:     getEnv("LISTEN_ADDR", DefaultCollectorAddr),
		InfluxDBURL:    getEnv("INFLUXDB_URL", "http://localhost:8086"),
		InfluxDBToken:  os.Getenv("INFLUXDB_TOKEN"),
		InfluxDBOrg:    os.Getenv("INFLUXDB_ORG"),
		InfluxDBBucket: getEnv("INFLUXDB_BUCKET", "smartbus"),
		RedisAddr:      getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:  os.Getenv("REDIS_PASSWORD"),
		JWTSecret:      os.Getenv("JWT_SECRET"),
		JWTIssuer:      getEnv("JWT_ISSUER", "smartbus-collector"),
		JWTAudience:    getEnv("JWT_AUDIENCE", "smartbus-admin"),
		AllowedOrigins: getList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
	}

	var err error
	if cfg.RedisDB, err = getInt("REDIS_DB", 0); err != nil {
		return CollectorConfig{}, err
	}
	if cfg.RateLimit, err = getInt("RATE_LIMIT", DefaultRateLimit); err != nil {
		return CollectorConfig{}, err
	}
	if cfg.MaxClockDrift, err = getDuration("MAX_CLOCK_DRIFT", DefaultMaxClockDrift); err != nil {
		return CollectorConfig{}, err
	}
	if cfg.RateWindow, err = getDuration("RATE_WINDOW", DefaultRateWindow); err != nil {
		return CollectorConfig{}, err
	}
	return cfg, nil
}

// Validate checks if all collector fields are usable.
func (c CollectorConfig) Validate() error {
	if c.InfluxDBURL == "" || c.InfluxDBToken == "" || c.InfluxDBOrg == "" {
		return fmt.Errorf("InfluxDB configuration is incomplete. Please set INFLUXDB_URL, INFLUXDB_TOKEN, and INFLUXDB_ORG environment variables")
	}
	if c.InfluxDBBucket == "" {
		return fmt.Errorf("INFLUXDB_BUCKET required")
	}
	if c.RedisAddr == "" {
		return fmt.Errorf("REDIS_ADDR required")
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET required")
	}
	if c.MaxClockDrift <= 0 || c.RateWindow <= 0 || c.RateLimit <= 0 {
		return fmt.Errorf("MAX_CLOCK_DRIFT, RATE_WINDOW and RATE_LIMIT must be > 0")
	}
	return nil
}

func validateDeviceID(id string) error {
	if id == "" {
		return fmt.Errorf("DEVICE_ID required")
	}
	for i := 0; i < len(id); i++ {
		if id[i] < 0x20 || id[i] > 0x7E {
			return fmt.Errorf("DEVICE_ID must be printable ASCII")
		}
	}
	return nil
}

func validateURL(name, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%s must be an absolute URL, got %q", name, raw)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return fallback
}

func getList(key string, fallback []string) []string {
	v := getEnv(key, "")
	if v == "" {
		return fallback
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func getInt(key string, fallback int) (int, error) {
	v := getEnv(key, "")
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return n, nil
}

// getDuration accepts Go duration syntax ("1500ms") or plain seconds ("5", "0.5").
func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := getEnv(key, "")
	if v == "" {
		return fallback, nil
	}
	d, err := ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

// maxDurationSeconds is the largest number of seconds a time.Duration holds.
const maxDurationSeconds = float64(math.MaxInt64) / float64(time.Second)

// ParseDuration parses Go duration syntax or a plain number of seconds.
func ParseDuration(v string) (time.Duration, error) {
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		if math.IsNaN(secs) || math.IsInf(secs, 0) {
			return 0, fmt.Errorf("%q is not a finite number of seconds", v)
		}
		if math.Abs(secs) >= maxDurationSeconds {
			return 0, fmt.Errorf("%q seconds is out of range", v)
		}
		return time.Duration(secs * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%q is neither a duration nor a number of seconds", v)
	}
	return d, nil
}
