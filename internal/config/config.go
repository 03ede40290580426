package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the service
type Config struct {
	Environment string `mapstructure:"environment"`
	LogLevel    string `mapstructure:"logLevel"`
	Server      struct {
		Port int `mapstructure:"port"`
	} `mapstructure:"server"`
	NATS struct {
		URL           string `mapstructure:"url"`
		NotifyStream  string `mapstructure:"notifyStream"`  // Stream backing engagement/session events
		NotifySubject string `mapstructure:"notifySubject"` // Base subject for published events (e.g. v1.notify)
		MaxAgeDays    int    `mapstructure:"maxAgeDays"`    // Retention for the notify stream
	} `mapstructure:"nats"`
	Database struct {
		PostgresDSN         string `mapstructure:"postgresDSN"`
		PostgresAutoMigrate bool   `mapstructure:"postgresAutoMigrate"`
	} `mapstructure:"database"`
	Metrics struct {
		Enabled bool `mapstructure:"enabled"`
		Port    int  `mapstructure:"port"`
	} `mapstructure:"metrics"`
	Scheduler struct {
		TickInterval        time.Duration `mapstructure:"tickInterval"`        // Cadence of the engagement tick loop
		DefaultBatchSize    int           `mapstructure:"defaultBatchSize"`    // Leads per tick when the tenant sets none
		DefaultMessageDelay time.Duration `mapstructure:"defaultMessageDelay"` // Pause between individual sends when the tenant sets none
	} `mapstructure:"scheduler"`
	Session SessionConfig `mapstructure:"session"`
	WorkerPools struct {
		Scheduler SchedulerWorkerPoolConfig `mapstructure:"scheduler"`
	} `mapstructure:"workerPools"`
}

// SessionConfig holds lifecycle tuning for tenant messaging sessions
type SessionConfig struct {
	AuthTimeout        time.Duration `mapstructure:"authTimeout"`        // Max time allowed in Authenticating before Failed
	ReconnectBaseDelay time.Duration `mapstructure:"reconnectBaseDelay"` // Base delay for reconnect backoff
	ReconnectMaxDelay  time.Duration `mapstructure:"reconnectMaxDelay"`  // Cap for reconnect backoff
	ReconnectMaxTries  uint64        `mapstructure:"reconnectMaxTries"`  // Reconnect attempts before giving up
}

// SchedulerWorkerPoolConfig holds configuration for the per-tenant tick worker pool
type SchedulerWorkerPoolConfig struct {
	PoolSize   int           `mapstructure:"poolSize"`   // Number of workers
	QueueSize  int           `mapstructure:"queueSize"`  // Task queue buffer size
	MaxBlock   time.Duration `mapstructure:"maxBlock"`   // Max time to block when submitting if queue full
	ExpiryTime time.Duration `mapstructure:"expiryTime"` // Idle worker expiry time
}

// LoadConfig reads configuration from file or environment variables
func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("environment", "development")
	v.SetDefault("logLevel", "info")
	v.SetDefault("server.port", 8080)
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 2112)

	v.SetDefault("nats.notifyStream", "leadflow_notify")
	v.SetDefault("nats.notifySubject", "v1.notify")
	v.SetDefault("nats.maxAgeDays", 7)

	v.SetDefault("scheduler.tickInterval", 3*time.Minute)
	v.SetDefault("scheduler.defaultBatchSize", 20)
	v.SetDefault("scheduler.defaultMessageDelay", 5*time.Second)

	v.SetDefault("session.authTimeout", 3*time.Minute)
	v.SetDefault("session.reconnectBaseDelay", 2*time.Second)
	v.SetDefault("session.reconnectMaxDelay", time.Minute)
	v.SetDefault("session.reconnectMaxTries", 5)

	v.SetDefault("workerPools.scheduler.poolSize", 10)
	v.SetDefault("workerPools.scheduler.queueSize", 1000)
	v.SetDefault("workerPools.scheduler.maxBlock", time.Second)
	v.SetDefault("workerPools.scheduler.expiryTime", time.Minute)

	// Config file settings
	v.SetConfigName("default")
	v.SetConfigType("yaml")

	// Add lookup paths
	if path != "" {
		v.AddConfigPath(path)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("./internal/config")
	v.AddConfigPath("$HOME/.leadflow-engine")
	v.AddConfigPath("/etc/leadflow-engine")

	// Try to read from config file
	if err := v.ReadInConfig(); err != nil {
		// It's ok if config file is not found, we'll use env vars
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	// Override with environment variables
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Map environment variables to config fields
	bindEnvs(v, Config{})

	// Read directly from ENV for critical values
	if dsn := os.Getenv("POSTGRES_DSN"); dsn != "" {
		v.Set("database.postgresDSN", dsn)
	}
	if lgLevel := os.Getenv("LOG_LEVEL"); lgLevel != "" {
		v.Set("logLevel", lgLevel)
	}
	if url := os.Getenv("NATS_URL"); url != "" {
		v.Set("nats.url", url)
	}

	// Unmarshal config
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	return &config, nil
}

// bindEnvs recursively binds environment variables to config struct fields
func bindEnvs(v *viper.Viper, cfg interface{}, parts ...string) {
	ifv := reflect.ValueOf(cfg)
	ift := reflect.TypeOf(cfg)
	for i := 0; i < ift.NumField(); i++ {
		fieldVal := ifv.Field(i)
		fieldType := ift.Field(i)

		tag := fieldType.Tag.Get("mapstructure")
		if tag == "" || tag == "-" {
			continue
		}

		path := append(parts, tag)
		key := strings.Join(path, ".")

		if fieldType.Type.Kind() == reflect.Struct {
			bindEnvs(v, fieldVal.Interface(), path...)
			continue
		}

		_ = v.BindEnv(key)
	}
}
