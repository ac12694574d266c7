package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Vision   VisionConfig   `mapstructure:"vision"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
}

type ServerConfig struct {
	Port int        `mapstructure:"port"`
	Mode string     `mapstructure:"mode"`
	CORS CORSConfig `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	AllowAllOrigins bool     `mapstructure:"allow_all_origins"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // postgres, sqlite
	Path            string        `mapstructure:"path"`   // sqlite file path
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// DSN builds the driver-specific connection string.
func (c *DatabaseConfig) DSN() string {
	if c.Driver == "postgres" {
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
	}
	return c.Path
}

type StorageConfig struct {
	Type      string `mapstructure:"type"` // s3, local
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	PublicURL string `mapstructure:"public_url"`
	LocalPath string `mapstructure:"local_path"` // root dir for local storage
}

type VisionConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Model   string `mapstructure:"model"`
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
}

type QueueConfig struct {
	Backend           string        `mapstructure:"backend"` // redis, memory
	RedisAddr         string        `mapstructure:"redis_addr"`
	RedisPass         string        `mapstructure:"redis_pass"`
	RedisDB           int           `mapstructure:"redis_db"`
	Name              string        `mapstructure:"name"`
	HistoryLimit      int           `mapstructure:"history_limit"`
	VisibilityTimeout time.Duration `mapstructure:"visibility_timeout"`
}

type WorkerConfig struct {
	Concurrency     int           `mapstructure:"concurrency"`
	MaxAttempts     int           `mapstructure:"max_attempts"`
	BackoffInitial  time.Duration `mapstructure:"backoff_initial"`
	BackoffMax      time.Duration `mapstructure:"backoff_max"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	SweepInterval   time.Duration `mapstructure:"sweep_interval"`
	SweepMinAge     time.Duration `mapstructure:"sweep_min_age"`
	MetricsPort     int           `mapstructure:"metrics_port"`
}

// PresetConfig overrides one output rendition. When empty, the built-in
// presets apply.
type PresetConfig struct {
	Type    string `mapstructure:"type"`
	Width   int    `mapstructure:"width"`
	Height  int    `mapstructure:"height"`
	Format  string `mapstructure:"format"`
	Quality int    `mapstructure:"quality"`
	Fit     string `mapstructure:"fit"`
}

type PipelineConfig struct {
	Presets     []PresetConfig `mapstructure:"presets"`
	MaxUploadMB int64          `mapstructure:"max_upload_mb"`
}

func Load(configPath string) (*Config, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	// Enable environment variable override
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.cors.allow_all_origins", true)
	v.SetDefault("server.cors.allowed_origins", []string{})
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/pixelpress.db")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("storage.type", "local")
	v.SetDefault("storage.local_path", "./data/images")
	v.SetDefault("storage.endpoint", "localhost:9000")
	v.SetDefault("storage.use_ssl", false)
	v.SetDefault("storage.bucket", "pixelpress")
	v.SetDefault("vision.enabled", true)
	v.SetDefault("vision.model", "gpt-4o-mini")
	v.SetDefault("vision.base_url", "https://api.openai.com/v1")
	v.SetDefault("queue.backend", "redis")
	v.SetDefault("queue.redis_addr", "localhost:6379")
	v.SetDefault("queue.name", "image-processing")
	v.SetDefault("queue.history_limit", 100)
	v.SetDefault("queue.visibility_timeout", 10*time.Minute)
	v.SetDefault("worker.concurrency", 3)
	v.SetDefault("worker.max_attempts", 3)
	v.SetDefault("worker.backoff_initial", 2*time.Second)
	v.SetDefault("worker.backoff_max", time.Minute)
	v.SetDefault("worker.shutdown_timeout", 30*time.Second)
	v.SetDefault("worker.sweep_interval", 5*time.Minute)
	v.SetDefault("worker.sweep_min_age", 2*time.Minute)
	v.SetDefault("worker.metrics_port", 9091)
	v.SetDefault("pipeline.max_upload_mb", 20)

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Bind environment variables explicitly for sensitive data
	v.BindEnv("database.password", "DATABASE_PASSWORD")
	v.BindEnv("storage.access_key", "STORAGE_ACCESS_KEY")
	v.BindEnv("storage.secret_key", "STORAGE_SECRET_KEY")
	v.BindEnv("storage.endpoint", "STORAGE_ENDPOINT")
	v.BindEnv("vision.api_key", "OPENAI_API_KEY")
	v.BindEnv("vision.base_url", "OPENAI_BASE_URL")
	v.BindEnv("vision.model", "VISION_MODEL")
	v.BindEnv("queue.redis_addr", "REDIS_ADDR")
	v.BindEnv("queue.redis_pass", "REDIS_PASSWORD")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}
