package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

type DBConfig struct {
	URL          string
	Host         string
	Port         string
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

// DSN builds a postgres URL unless DATABASE_URL was given verbatim.
func (c DBConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode,
	)
}

type RedisConfig struct {
	Enabled  bool
	Address  string
	Password string
	DB       int
}

type BusinessHoursConfig struct {
	StartHour int
	EndHour   int
	Days      []time.Weekday
	Location  *time.Location
}

type SenderConfig struct {
	Mode            string // mock or http
	GatewayURL      string
	APIToken        string
	MockSuccessRate float64
}

type Config struct {
	Environment string
	ServerPort  string
	Store       string // postgres or memory
	LogLevel    string
	LogFormat   string

	AllowedOrigins []string

	DB    DBConfig
	Redis RedisConfig

	AMQPURL       string
	DispatchQueue string

	SendTimeout        time.Duration
	ClaimLease         time.Duration
	DriverPollInterval time.Duration
	BusyBackoff        time.Duration
	WorkerConcurrency  int
	SchedulerInterval  time.Duration

	BusinessHours BusinessHoursConfig
	Sender        SenderConfig
}

// Load reads .env (if present) and the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Debug("no .env file found, relying on OS environment variables")
	}

	loc, err := time.LoadLocation(getEnv("TIMEZONE", "UTC"))
	if err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE: %w", err)
	}
	days, err := parseWeekdays(getEnv("BUSINESS_DAYS", "mon,tue,wed,thu,fri"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		ServerPort:  getEnv("SERVER_PORT", "8080"),
		Store:       getEnv("STORE", "postgres"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogFormat:   getEnv("LOG_FORMAT", "text"),
		DB: DBConfig{
			URL:          getEnv("DATABASE_URL", ""),
			Host:         getEnv("DB_HOST", "localhost"),
			Port:         getEnv("DB_PORT", "5432"),
			User:         getEnv("DB_USER", "postgres"),
			Password:     getEnv("DB_PASSWORD", ""),
			Name:         getEnv("DB_NAME", "broadcast"),
			SSLMode:      getEnv("DB_SSL_MODE", "disable"),
			MaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 20),
			MaxIdleConns: getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
		},
		Redis: RedisConfig{
			Enabled:  getEnvAsBool("REDIS_ENABLED", false),
			Address:  getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		AllowedOrigins:     splitCSV(getEnv("CORS_ALLOWED_ORIGINS", "")),
		AMQPURL:            getEnv("AMQP_URL", ""),
		DispatchQueue:      getEnv("DISPATCH_QUEUE", "campaign_dispatch"),
		SendTimeout:        getEnvAsDuration("SEND_TIMEOUT", 30*time.Second),
		ClaimLease:         getEnvAsDuration("CLAIM_LEASE", 2*time.Minute),
		DriverPollInterval: getEnvAsDuration("DRIVER_POLL_INTERVAL", 5*time.Second),
		BusyBackoff:        getEnvAsDuration("BUSY_BACKOFF", 2*time.Second),
		WorkerConcurrency:  getEnvAsInt("WORKER_CONCURRENCY", 4),
		SchedulerInterval:  getEnvAsDuration("SCHEDULER_INTERVAL", 15*time.Second),
		BusinessHours: BusinessHoursConfig{
			StartHour: getEnvAsInt("BUSINESS_HOURS_START", 9),
			EndHour:   getEnvAsInt("BUSINESS_HOURS_END", 18),
			Days:      days,
			Location:  loc,
		},
		Sender: SenderConfig{
			Mode:            getEnv("SENDER_MODE", "mock"),
			GatewayURL:      getEnv("SENDER_GATEWAY_URL", ""),
			APIToken:        getEnv("SENDER_API_TOKEN", ""),
			MockSuccessRate: getEnvAsFloat("MOCK_SUCCESS_RATE", 0.9),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Store != "postgres" && c.Store != "memory" {
		return fmt.Errorf("STORE must be postgres or memory, got %q", c.Store)
	}
	if c.SendTimeout <= 0 {
		return fmt.Errorf("SEND_TIMEOUT must be positive, got %s", c.SendTimeout)
	}
	if c.ClaimLease <= c.SendTimeout {
		return fmt.Errorf("CLAIM_LEASE (%s) must exceed SEND_TIMEOUT (%s)", c.ClaimLease, c.SendTimeout)
	}
	bh := c.BusinessHours
	if bh.StartHour < 0 || bh.EndHour > 24 || bh.StartHour >= bh.EndHour {
		return fmt.Errorf("invalid business hours window %d-%d", bh.StartHour, bh.EndHour)
	}
	if c.WorkerConcurrency < 1 {
		return fmt.Errorf("WORKER_CONCURRENCY must be at least 1")
	}
	switch c.Sender.Mode {
	case "mock":
	case "http":
		if c.Sender.GatewayURL == "" {
			return fmt.Errorf("SENDER_GATEWAY_URL is required when SENDER_MODE=http")
		}
	default:
		return fmt.Errorf("unknown SENDER_MODE %q", c.Sender.Mode)
	}
	return nil
}

// Helper functions
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	v, err := strconv.Atoi(getEnv(key, ""))
	if err != nil {
		return fallback
	}
	return v
}

func getEnvAsFloat(key string, fallback float64) float64 {
	v, err := strconv.ParseFloat(getEnv(key, ""), 64)
	if err != nil {
		return fallback
	}
	return v
}

func getEnvAsBool(key string, fallback bool) bool {
	v, err := strconv.ParseBool(getEnv(key, ""))
	if err != nil {
		return fallback
	}
	return v
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	v, err := time.ParseDuration(getEnv(key, ""))
	if err != nil {
		return fallback
	}
	return v
}

var weekdays = map[string]time.Weekday{
	"sun": time.Sunday, "mon": time.Monday, "tue": time.Tuesday, "wed": time.Wednesday,
	"thu": time.Thursday, "fri": time.Friday, "sat": time.Saturday,
}

func parseWeekdays(s string) ([]time.Weekday, error) {
	var out []time.Weekday
	for _, part := range strings.Split(s, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part == "" {
			continue
		}
		d, ok := weekdays[part]
		if !ok {
			return nil, fmt.Errorf("invalid BUSINESS_DAYS entry %q", part)
		}
		out = append(out, d)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("BUSINESS_DAYS must name at least one day")
	}
	return out, nil
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
