package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	RabbitMQ  RabbitMQConfig
	Redis     RedisConfig
	Providers ProvidersConfig
	Sync      SyncConfig
	Dispatch  DispatchConfig
	AI        AIConfig
	Media     MediaConfig
	Log       LogConfig
	Env       string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port string
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
}

// RabbitMQConfig holds RabbitMQ configuration
type RabbitMQConfig struct {
	Host          string
	Port          string
	User          string
	Password      string
	DispatchQueue string
}

// RedisConfig holds the Redis connection used for cross-process session locks.
// An empty Addr selects the in-process locker.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	LockTTL  time.Duration
}

// ProviderConfig holds connection details for one upstream gateway
type ProviderConfig struct {
	BaseURL           string
	APIKey            string
	Username          string
	Password          string
	Timeout           time.Duration
	RequestsPerSecond float64
}

// Enabled reports whether the provider has been configured
func (p ProviderConfig) Enabled() bool {
	return p.BaseURL != ""
}

// ProvidersConfig holds the three gateway configurations
type ProvidersConfig struct {
	A ProviderConfig
	B ProviderConfig
	C ProviderConfig
	// ListingCacheTTL bounds how long provider C's account listing is reused
	ListingCacheTTL time.Duration
}

// SyncConfig controls the session synchronizer
type SyncConfig struct {
	Interval time.Duration
	QRTTL    time.Duration
}

// DispatchConfig controls the campaign dispatcher and scheduler
type DispatchConfig struct {
	SendTimeout       time.Duration
	StaleAfter        time.Duration
	SkipUnreachable   bool
	SchedulerInterval time.Duration
}

// AIConfig holds the text generator used by ai steps
type AIConfig struct {
	GeminiAPIKey string
	Model        string
	Timeout      time.Duration
	Temperature  float32
	MaxTokens    int32
}

// MediaConfig holds S3 settings for resolving s3:// media references
type MediaConfig struct {
	S3Region      string
	S3Endpoint    string
	S3AccessKey   string
	S3SecretKey   string
	S3PathStyle   bool
	PresignExpiry time.Duration
}

// LogConfig controls zerolog output
type LogConfig struct {
	Level  string
	Format string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	config := &Config{
		Server: ServerConfig{
			Port: getEnv("PORT", "8080"),
		},
		Database: loadDatabase(),
		RabbitMQ: RabbitMQConfig{
			Host:          getEnv("RABBITMQ_HOST", "localhost"),
			Port:          getEnv("RABBITMQ_PORT", "5672"),
			User:          getEnv("RABBITMQ_DEFAULT_USER", "guest"),
			Password:      getEnv("RABBITMQ_DEFAULT_PASS", "guest"),
			DispatchQueue: getEnv("DISPATCH_QUEUE", "campaign_dispatch"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			LockTTL:  getEnvAsSeconds("SESSION_LOCK_TTL_SECONDS", 10),
		},
		Providers: ProvidersConfig{
			A:               loadProvider("PROVIDER_A"),
			B:               loadProvider("PROVIDER_B"),
			C:               loadProvider("PROVIDER_C"),
			ListingCacheTTL: getEnvAsSeconds("PROVIDER_C_LISTING_CACHE_SECONDS", 5),
		},
		Sync: SyncConfig{
			Interval: getEnvAsSeconds("SYNC_INTERVAL_SECONDS", 30),
			QRTTL:    getEnvAsSeconds("QR_TTL_SECONDS", 60),
		},
		Dispatch: DispatchConfig{
			SendTimeout:       getEnvAsSeconds("SEND_TIMEOUT_SECONDS", 30),
			StaleAfter:        getEnvAsSeconds("IN_FLIGHT_STALE_SECONDS", 600),
			SkipUnreachable:   getEnvAsBool("SKIP_UNREACHABLE", true),
			SchedulerInterval: getEnvAsSeconds("SCHEDULER_INTERVAL_SECONDS", 15),
		},
		AI: AIConfig{
			GeminiAPIKey: getEnv("GEMINI_API_KEY", ""),
			Model:        getEnv("GEMINI_MODEL", "gemini-2.0-flash"),
			Timeout:      getEnvAsSeconds("AI_TIMEOUT_SECONDS", 20),
			Temperature:  float32(getEnvAsFloat("AI_TEMPERATURE", 0.7)),
			MaxTokens:    int32(getEnvAsInt("AI_MAX_TOKENS", 512)),
		},
		Media: MediaConfig{
			S3Region:      getEnv("S3_REGION", "us-east-1"),
			S3Endpoint:    getEnv("S3_ENDPOINT", ""),
			S3AccessKey:   getEnv("S3_ACCESS_KEY", ""),
			S3SecretKey:   getEnv("S3_SECRET_KEY", ""),
			S3PathStyle:   getEnvAsBool("S3_PATH_STYLE", false),
			PresignExpiry: getEnvAsSeconds("S3_PRESIGN_SECONDS", 3600),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "console"),
		},
		Env: getEnv("ENV", "development"),
	}

	// Validate required fields
	if config.Database.Password == "" {
		return nil, fmt.Errorf("POSTGRES_PASSWORD is required")
	}
	if !config.Providers.A.Enabled() && !config.Providers.B.Enabled() && !config.Providers.C.Enabled() {
		return nil, fmt.Errorf("at least one of PROVIDER_A_URL, PROVIDER_B_URL, PROVIDER_C_URL is required")
	}
	if config.Providers.C.Enabled() && (config.Providers.C.Username == "" || config.Providers.C.Password == "") {
		return nil, fmt.Errorf("PROVIDER_C_USERNAME and PROVIDER_C_PASSWORD are required when provider C is enabled")
	}
	if config.Sync.Interval <= 0 {
		return nil, fmt.Errorf("SYNC_INTERVAL_SECONDS must be positive")
	}
	// a claimed row goes unrefreshed for up to one AI render plus one send
	if stale := config.Dispatch.StaleAfter; stale > 0 && stale < 2*(config.Dispatch.SendTimeout+config.AI.Timeout) {
		return nil, fmt.Errorf("IN_FLIGHT_STALE_SECONDS must be at least twice SEND_TIMEOUT_SECONDS plus AI_TIMEOUT_SECONDS")
	}

	return config, nil
}

// LoadDatabase reads only the PostgreSQL settings, for tools that never reach a provider
func LoadDatabase() (*Config, error) {
	config := &Config{
		Database: loadDatabase(),
		Env:      getEnv("ENV", "development"),
	}
	if config.Database.Password == "" {
		return nil, fmt.Errorf("POSTGRES_PASSWORD is required")
	}
	return config, nil
}

func loadDatabase() DatabaseConfig {
	return DatabaseConfig{
		Host:     getEnv("POSTGRES_HOST", "localhost"),
		Port:     getEnv("POSTGRES_PORT", "5432"),
		User:     getEnv("POSTGRES_USER", "wacampaign"),
		Password: getEnv("POSTGRES_PASSWORD", ""),
		DBName:   getEnv("POSTGRES_DB", "wacampaign_db"),
	}
}

func loadProvider(prefix string) ProviderConfig {
	return ProviderConfig{
		BaseURL:           getEnv(prefix+"_URL", ""),
		APIKey:            getEnv(prefix+"_API_KEY", ""),
		Username:          getEnv(prefix+"_USERNAME", ""),
		Password:          getEnv(prefix+"_PASSWORD", ""),
		Timeout:           getEnvAsSeconds(prefix+"_TIMEOUT_SECONDS", 15),
		RequestsPerSecond: getEnvAsFloat(prefix+"_RPS", 5),
	}
}

// GetDatabaseDSN returns PostgreSQL connection string
func (c *Config) GetDatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.DBName,
	)
}

// GetRabbitMQURL returns RabbitMQ connection URL
func (c *Config) GetRabbitMQURL() string {
	return fmt.Sprintf(
		"amqp://%s:%s@%s:%s/",
		c.RabbitMQ.User,
		c.RabbitMQ.Password,
		c.RabbitMQ.Host,
		c.RabbitMQ.Port,
	)
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// getEnv gets environment variable or returns default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets environment variable as integer or returns default
func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsSeconds(key string, defaultSeconds int) time.Duration {
	return time.Duration(getEnvAsInt(key, defaultSeconds)) * time.Second
}
