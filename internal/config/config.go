package config

import (
	"fmt"
	"os"
	"strconv"
)

type Config struct {
	Port     int
	LogLevel string
	Env      string

	// Database
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Redis (optional; run lock disabled without it)
	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int

	// Transport. An empty FromEmail means dry-run mode: everything
	// goes to the fallback recorder.
	AWSRegion    string
	SESFromEmail string

	// Operator alerts (optional)
	OpsAlertTopicARN string

	// Fallback recorder sink
	FallbackLogPath string

	// Scheduler
	ReminderHour   int // local hour of the daily check
	SendDelayMS    int // pacing between successive send attempts
	SendTimeoutSec int // bound on one transport call
}

// Load reads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	cfg := &Config{
		Port:     8080,
		LogLevel: "info",
		Env:      "development",

		DBHost:     "localhost",
		DBPort:     5432,
		DBUser:     "subscribely",
		DBPassword: "",
		DBName:     "subscribely",
		DBSSLMode:  "disable",

		RedisHost:     "localhost",
		RedisPort:     6379,
		RedisPassword: "",
		RedisDB:       0,

		AWSRegion: "us-east-1",

		FallbackLogPath: "notifications.log",

		ReminderHour:   10,
		SendDelayMS:    1000,
		SendTimeoutSec: 10,
	}

	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT: %w", err)
		}
		cfg.Port = p
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}

	if env := os.Getenv("ENV"); env != "" {
		cfg.Env = env
	}

	// Database config
	if host := os.Getenv("DB_HOST"); host != "" {
		cfg.DBHost = host
	}

	if port := os.Getenv("DB_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid DB_PORT: %w", err)
		}
		cfg.DBPort = p
	}

	if user := os.Getenv("DB_USER"); user != "" {
		cfg.DBUser = user
	}

	if password := os.Getenv("DB_PASSWORD"); password != "" {
		cfg.DBPassword = password
	}

	if dbname := os.Getenv("DB_NAME"); dbname != "" {
		cfg.DBName = dbname
	}

	if sslmode := os.Getenv("DB_SSLMODE"); sslmode != "" {
		cfg.DBSSLMode = sslmode
	}

	// Redis config
	if host := os.Getenv("REDIS_HOST"); host != "" {
		cfg.RedisHost = host
	}

	if port := os.Getenv("REDIS_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_PORT: %w", err)
		}
		cfg.RedisPort = p
	}

	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.RedisPassword = password
	}

	if db := os.Getenv("REDIS_DB"); db != "" {
		d, err := strconv.Atoi(db)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
		}
		cfg.RedisDB = d
	}

	if region := os.Getenv("AWS_REGION"); region != "" {
		cfg.AWSRegion = region
	}

	if from := os.Getenv("SES_FROM_EMAIL"); from != "" {
		cfg.SESFromEmail = from
	}

	if arn := os.Getenv("OPS_ALERT_TOPIC_ARN"); arn != "" {
		cfg.OpsAlertTopicARN = arn
	}

	if path := os.Getenv("FALLBACK_LOG_PATH"); path != "" {
		cfg.FallbackLogPath = path
	}

	if hour := os.Getenv("REMINDER_HOUR"); hour != "" {
		h, err := strconv.Atoi(hour)
		if err != nil {
			return nil, fmt.Errorf("invalid REMINDER_HOUR: %w", err)
		}
		if h < 0 || h > 23 {
			return nil, fmt.Errorf("invalid REMINDER_HOUR: %d not in 0..23", h)
		}
		cfg.ReminderHour = h
	}

	if delay := os.Getenv("SEND_DELAY_MS"); delay != "" {
		d, err := strconv.Atoi(delay)
		if err != nil {
			return nil, fmt.Errorf("invalid SEND_DELAY_MS: %w", err)
		}
		cfg.SendDelayMS = d
	}

	if timeout := os.Getenv("SEND_TIMEOUT_SEC"); timeout != "" {
		t, err := strconv.Atoi(timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid SEND_TIMEOUT_SEC: %w", err)
		}
		cfg.SendTimeoutSec = t
	}

	return cfg, nil
}
