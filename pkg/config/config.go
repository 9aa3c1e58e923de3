package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	SQLite    SQLiteConfig
	Redis     RedisConfig
	LLM       LLMConfig
	Dashboard DashboardConfig
	Database  DatabaseConfig
	RateLimit RateLimitConfig
	Logging   LoggingConfig
}

type ServerConfig struct {
	Host           string
	Port           int
	ReadTimeout    int
	WriteTimeout   int
	BodyLimit      int
	AllowedOrigins string
	Environment    string
}

func (s ServerConfig) IsDevelopment() bool {
	return s.Environment == "development"
}

type SQLiteConfig struct {
	Path string
}

type RedisConfig struct {
	Enabled    bool
	Host       string
	Port       int
	Password   string
	DB         int
	TTLSeconds int
}

func (r RedisConfig) TTL() time.Duration {
	return time.Duration(r.TTLSeconds) * time.Second
}

// LLMConfig describes the hosted text-generation endpoint. Any endpoint that
// speaks the OpenAI chat-completions protocol can be used through BaseURL.
type LLMConfig struct {
	Provider    string
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float32
	MaxTokens   int
	TopP        float32
	TopK        int
	TimeoutSec  int
}

type DashboardConfig struct {
	DefaultVisuals int
	MinVisuals     int
	MaxVisuals     int
	SampleRows     int
	ChartWidth     int
	ChartHeight    int
	ChartFormat    string
}

type DatabaseConfig struct {
	QueryTimeoutSec int
	MaxRows         int
}

func (d DatabaseConfig) QueryTimeout() time.Duration {
	return time.Duration(d.QueryTimeoutSec) * time.Second
}

type RateLimitConfig struct {
	RequestsPerMinute int
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/insightsboard")

	viper.SetEnvPrefix("INSIGHTSBOARD")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate rejects settings the dashboard cannot run with.
func (c *Config) Validate() error {
	d := c.Dashboard
	if d.MinVisuals < 1 || d.MaxVisuals < d.MinVisuals || d.MaxVisuals > 10 {
		return fmt.Errorf("invalid visual range [%d, %d]", d.MinVisuals, d.MaxVisuals)
	}
	if d.DefaultVisuals < d.MinVisuals || d.DefaultVisuals > d.MaxVisuals {
		return fmt.Errorf("default visuals %d outside [%d, %d]", d.DefaultVisuals, d.MinVisuals, d.MaxVisuals)
	}
	if d.SampleRows < 1 {
		return fmt.Errorf("sample rows must be positive, got %d", d.SampleRows)
	}
	switch d.ChartFormat {
	case "png", "svg":
	default:
		return fmt.Errorf("unsupported chart format %q", d.ChartFormat)
	}
	return nil
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.readTimeout", 30)
	viper.SetDefault("server.writeTimeout", 90)
	viper.SetDefault("server.bodyLimit", 10485760)
	viper.SetDefault("server.allowedOrigins", "*")
	viper.SetDefault("server.environment", "production")

	viper.SetDefault("sqlite.path", "./data/insightsboard.db")

	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.ttlSeconds", 3600)

	viper.SetDefault("llm.provider", "openai")
	viper.SetDefault("llm.baseURL", "https://api.openai.com/v1")
	viper.SetDefault("llm.model", "gpt-4o-mini")
	viper.SetDefault("llm.temperature", 0.2)
	viper.SetDefault("llm.maxTokens", 256)
	viper.SetDefault("llm.topP", 0.8)
	viper.SetDefault("llm.topK", 40)
	viper.SetDefault("llm.timeoutSec", 60)

	viper.SetDefault("dashboard.defaultVisuals", 3)
	viper.SetDefault("dashboard.minVisuals", 1)
	viper.SetDefault("dashboard.maxVisuals", 10)
	viper.SetDefault("dashboard.sampleRows", 5)
	viper.SetDefault("dashboard.chartWidth", 640)
	viper.SetDefault("dashboard.chartHeight", 480)
	viper.SetDefault("dashboard.chartFormat", "png")

	viper.SetDefault("database.queryTimeoutSec", 30)
	viper.SetDefault("database.maxRows", 100000)

	viper.SetDefault("ratelimit.requestsPerMinute", 30)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.outputPath", "stdout")
}
