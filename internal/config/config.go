package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Download   DownloadConfig   `mapstructure:"download"`
	Subscriber SubscriberConfig `mapstructure:"subscriber"`
	Sources    SourcesConfig    `mapstructure:"sources"`
	Log        LogConfig        `mapstructure:"log"`
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
	Driver          string        `mapstructure:"driver"`
	Path            string        `mapstructure:"path"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
	LogLevel        string        `mapstructure:"log_level"`
}

// DSN returns the connection string for the configured driver.
func (c *DatabaseConfig) DSN() string {
	if c.Driver == "postgres" {
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
	}
	if c.Path == "" || c.Path == ":memory:" {
		return "file::memory:?cache=shared"
	}
	// Busy timeout lets the download workers wait out the subscriber's write transaction.
	return c.Path + "?_busy_timeout=5000&_txlock=immediate"
}

type StorageConfig struct {
	Type      string `mapstructure:"type"` // local, r2, s3, s3compatible
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	PublicURL string `mapstructure:"public_url"`
	LocalPath string `mapstructure:"local_path"`
}

type DownloadConfig struct {
	Workers         int           `mapstructure:"workers"`
	QueueSize       int           `mapstructure:"queue_size"`
	RetryCount      int           `mapstructure:"retry_count"`
	RetryDelay      time.Duration `mapstructure:"retry_delay"`
	Timeout         time.Duration `mapstructure:"timeout"`
	UserAgent       string        `mapstructure:"user_agent"`
	MaxBytes        int64         `mapstructure:"max_bytes"`
	AllowLocalFiles bool          `mapstructure:"allow_local_files"`
}

type SubscriberConfig struct {
	QueueSize int `mapstructure:"queue_size"`
}

type SourcesConfig struct {
	CommandTimeout time.Duration `mapstructure:"command_timeout"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
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

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Bind environment variables explicitly for sensitive data
	v.BindEnv("database.driver", "DATABASE_DRIVER")
	v.BindEnv("database.host", "DATABASE_HOST")
	v.BindEnv("database.password", "DATABASE_PASSWORD")
	v.BindEnv("storage.type", "STORAGE_TYPE")
	v.BindEnv("storage.endpoint", "STORAGE_ENDPOINT")
	v.BindEnv("storage.access_key", "STORAGE_ACCESS_KEY")
	v.BindEnv("storage.secret_key", "STORAGE_SECRET_KEY")
	v.BindEnv("storage.bucket", "STORAGE_BUCKET")
	v.BindEnv("storage.public_url", "STORAGE_PUBLIC_URL")
	v.BindEnv("log.level", "LOG_LEVEL")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.cors.allow_all_origins", true)
	v.SetDefault("server.cors.allowed_origins", []string{})
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/artfeed.db")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.max_open_conns", 4)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("database.log_level", "warn")
	v.SetDefault("storage.type", "local")
	v.SetDefault("storage.local_path", "./data/artworks")
	v.SetDefault("storage.use_ssl", true)
	v.SetDefault("storage.bucket", "artworks")
	v.SetDefault("download.workers", 2)
	v.SetDefault("download.queue_size", 64)
	v.SetDefault("download.retry_count", 3)
	v.SetDefault("download.retry_delay", 2*time.Second)
	v.SetDefault("download.timeout", 30*time.Second)
	v.SetDefault("download.user_agent", "artfeed/1.0")
	v.SetDefault("download.max_bytes", 32<<20)
	v.SetDefault("download.allow_local_files", false)
	v.SetDefault("subscriber.queue_size", 16)
	v.SetDefault("sources.command_timeout", 10*time.Second)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Validate checks the settings that would otherwise fail far from their cause.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("database: unknown driver %q", c.Database.Driver)
	}
	switch c.Storage.Type {
	case "local":
		if c.Storage.LocalPath == "" {
			return fmt.Errorf("storage: local_path is required for local storage")
		}
	case "r2", "s3", "s3compatible", "":
		if c.Storage.Endpoint == "" {
			return fmt.Errorf("storage: endpoint is required for %q storage", c.Storage.Type)
		}
		if c.Storage.PublicURL != "" {
			if _, err := url.Parse(c.Storage.PublicURL); err != nil {
				return fmt.Errorf("storage: invalid public_url: %w", err)
			}
		}
	default:
		return fmt.Errorf("storage: unknown type %q", c.Storage.Type)
	}
	if c.Download.Workers <= 0 {
		return fmt.Errorf("download: workers must be positive")
	}
	if c.Download.QueueSize <= 0 {
		return fmt.Errorf("download: queue_size must be positive")
	}
	if c.Subscriber.QueueSize <= 0 {
		return fmt.Errorf("subscriber: queue_size must be positive")
	}
	return nil
}
