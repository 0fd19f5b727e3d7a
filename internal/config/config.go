package config

import (
	"errors"
	"fmt"
	"os"

	"tintbook/internal/models"
	"tintbook/internal/slots"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	OverlapModePoint    = "point"
	OverlapModeInterval = "interval"
)

type Config struct {
	App           AppConfig           `yaml:"app"`
	BusinessHours BusinessHoursConfig `yaml:"business_hours"`
	Allocation    AllocationConfig    `yaml:"allocation"`
	Database      DatabaseConfig      `yaml:"database"`
	Redis         RedisConfig         `yaml:"redis"`
	Backup        BackupConfig        `yaml:"backup"`
	Monitoring    MonitoringConfig    `yaml:"monitoring"`
	Logging       LoggingConfig       `yaml:"logging"`
	API           APIConfig           `yaml:"api"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Kafka         KafkaConfig         `yaml:"kafka"`
	Google        GoogleConfig        `yaml:"google"`
	Telegram      TelegramConfig      `yaml:"telegram"`
	Exports       ExportConfig        `yaml:"exports"`
	Services      []models.Service    `yaml:"services"`
	Staff         []models.Staff      `yaml:"staff"`
}

type BusinessHoursConfig struct {
	Open               string  `yaml:"open"`
	Close              string  `yaml:"close"`
	GranularityMinutes int     `yaml:"granularity_minutes"`
	DefaultJobHours    float64 `yaml:"default_job_hours"`
	Epsilon            float64 `yaml:"epsilon"`
}

type AllocationConfig struct {
	OverlapMode       string `yaml:"overlap_mode"`
	MaxRetries        int    `yaml:"max_retries"`
	LockTTLMs         int    `yaml:"lock_ttl_ms"`
	LockWaitMs        int    `yaml:"lock_wait_ms"`
	RetryInitialDelay int    `yaml:"retry_initial_delay_ms"`
	RetryMaxDelay     int    `yaml:"retry_max_delay_ms"`
	CacheTTLSeconds   int    `yaml:"cache_ttl_seconds"`
	RandomSeed        int64  `yaml:"random_seed"`
}

type APIConfig struct {
	Enabled   bool               `yaml:"enabled"`
	HTTP      APIHTTPConfig      `yaml:"http"`
	GRPC      APIGRPCConfig      `yaml:"grpc"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIHTTPConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

type APIGRPCConfig struct {
	Enabled    bool         `yaml:"enabled"`
	Port       int          `yaml:"port"`
	Reflection bool         `yaml:"reflection"`
	TLS        APITLSConfig `yaml:"tls"`
}

type APITLSConfig struct {
	Enabled           bool   `yaml:"enabled"`
	CertFile          string `yaml:"cert_file"`
	KeyFile           string `yaml:"key_file"`
	ClientCAFile      string `yaml:"client_ca_file"`
	RequireClientCert bool   `yaml:"require_client_cert"`
}

type APIAuthConfig struct {
	Enabled      bool           `yaml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key"`
	HeaderExtra  string         `yaml:"header_extra"`
	APIKeys      []APIClientKey `yaml:"api_keys"`
}

type APIClientKey struct {
	Key         string   `yaml:"key"`
	Extra       string   `yaml:"extra"`
	Name        string   `yaml:"name"`
	Permissions []string `yaml:"permissions"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type ExportConfig struct {
	Path string `yaml:"path"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
	Timezone    string `yaml:"timezone"`
}

type TelegramConfig struct {
	BotToken string `yaml:"bot_token"`
	ChatID   int64  `yaml:"chat_id"`
	Debug    bool   `yaml:"debug"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Schedule      string `yaml:"schedule"`
	RetentionDays int    `yaml:"retention_days"`
	StoragePath   string `yaml:"storage_path"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool   `yaml:"prometheus_enabled"`
	PrometheusPort    int    `yaml:"prometheus_port"`
	HealthCheckPort   int    `yaml:"health_check_port"`
	LogLevel          string `yaml:"log_level"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type NotificationsConfig struct {
	Enabled             bool `yaml:"enabled"`
	ReminderLeadMinutes int  `yaml:"reminder_lead_minutes"`
	PollIntervalSeconds int  `yaml:"poll_interval_seconds"`
	MaxRetries          int  `yaml:"max_retries"`
}

type KafkaConfig struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type GoogleConfig struct {
	GoogleCredentialsFile     string `yaml:"credentials_file"`
	AppointmentsSpreadsheetID string `yaml:"appointments_spreadsheet_id"`
	SheetName                 string `yaml:"sheet_name"`
}

func Load(configPath string) (*Config, error) {
	// Загружаем .env файл если существует
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	// Предварительная замена переменных окружения в YAML
	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}

	if _, err := c.BusinessHours.ToBusinessHours(); err != nil {
		return err
	}

	switch c.Allocation.OverlapMode {
	case OverlapModePoint, OverlapModeInterval:
	default:
		return fmt.Errorf("unknown allocation overlap mode %q", c.Allocation.OverlapMode)
	}

	if c.Kafka.Enabled && (len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "") {
		return errors.New("kafka brokers and topic are required when kafka is enabled")
	}

	if err := ValidateServices(c.Services); err != nil {
		return err
	}
	return ValidateStaff(c.Staff)
}

// ToBusinessHours converts the "HH:MM" config fields to decimal hours and validates them.
func (b BusinessHoursConfig) ToBusinessHours() (slots.BusinessHours, error) {
	hours := slots.DefaultBusinessHours()

	if b.Open != "" {
		open, err := slots.ToDecimal(b.Open)
		if err != nil {
			return hours, fmt.Errorf("business_hours.open: %w", err)
		}
		hours.Open = open
	}
	if b.Close != "" {
		closeAt, err := slots.ToDecimal(b.Close)
		if err != nil {
			return hours, fmt.Errorf("business_hours.close: %w", err)
		}
		hours.Close = closeAt
	}
	if b.GranularityMinutes != 0 {
		hours.GranularityMinutes = b.GranularityMinutes
	}
	if b.DefaultJobHours != 0 {
		hours.DefaultJobHours = b.DefaultJobHours
	}
	if b.Epsilon != 0 {
		hours.Epsilon = b.Epsilon
	}

	return hours, hours.Validate()
}

func ValidateServices(services []models.Service) error {
	ids := make(map[string]bool)
	for _, s := range services {
		if s.ID == "" {
			return fmt.Errorf("service '%s' has empty id", s.Name)
		}
		if ids[s.ID] {
			return fmt.Errorf("duplicate service id found: %s", s.ID)
		}
		if s.DurationHours <= 0 {
			return fmt.Errorf("service %s must have a positive duration", s.ID)
		}
		ids[s.ID] = true
	}
	return nil
}

func ValidateStaff(staff []models.Staff) error {
	ids := make(map[string]bool)
	for _, s := range staff {
		if s.ID == "" {
			return fmt.Errorf("staff member '%s' has empty id", s.Name)
		}
		if ids[s.ID] {
			return fmt.Errorf("duplicate staff id found: %s", s.ID)
		}
		ids[s.ID] = true
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "tintbook"
	}
	if c.API.GRPC.Port == 0 {
		c.API.GRPC.Port = 8081
	}
	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 8080
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	// auth enabled by default when API is enabled
	if !c.API.Auth.Enabled {
		c.API.Auth.Enabled = true
	}
	if !c.API.HTTP.Enabled && c.API.Enabled {
		c.API.HTTP.Enabled = true
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}
	if c.API.Auth.HeaderExtra == "" {
		c.API.Auth.HeaderExtra = "x-api-extra"
	}

	// Allocation defaults
	if c.Allocation.OverlapMode == "" {
		c.Allocation.OverlapMode = OverlapModePoint
	}
	if c.Allocation.MaxRetries == 0 {
		c.Allocation.MaxRetries = models.MaxAllocationRetries
	}
	if c.Allocation.LockTTLMs == 0 {
		c.Allocation.LockTTLMs = models.DefaultLockTTL
	}
	if c.Allocation.LockWaitMs == 0 {
		c.Allocation.LockWaitMs = c.Allocation.LockTTLMs
	}
	if c.Allocation.RetryInitialDelay == 0 {
		c.Allocation.RetryInitialDelay = 20
	}
	if c.Allocation.RetryMaxDelay == 0 {
		c.Allocation.RetryMaxDelay = 500
	}
	if c.Allocation.CacheTTLSeconds == 0 {
		c.Allocation.CacheTTLSeconds = models.DefaultCacheTTL
	}

	// Notification defaults
	if c.Notifications.ReminderLeadMinutes == 0 {
		c.Notifications.ReminderLeadMinutes = models.ReminderLeadMinutes
	}
	if c.Notifications.PollIntervalSeconds == 0 {
		c.Notifications.PollIntervalSeconds = 30
	}
	if c.Notifications.MaxRetries == 0 {
		c.Notifications.MaxRetries = 5
	}

	if c.Google.SheetName == "" {
		c.Google.SheetName = "Appointments"
	}
	if c.Exports.Path == "" {
		c.Exports.Path = "./exports"
	}
}
