package config

import (
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
)

type Timings struct {
	PollInterval      time.Duration
	IdleTimeout       time.Duration
	IdleCheckInterval time.Duration
	RequestTimeout    time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
}

type Config struct {
	Environment   string
	APIBaseURI    string
	Username      string
	Password      string
	StateDSN      string
	LogsDirectory string
	Redis         *RedisConfig
	Timings       Timings
}

func LoadConfig() *Config {
	err := godotenv.Load()
	if err != nil {
		log.Println("No .env file found, relying on environment variables")
	}
	return &Config{
		Environment:   getEnv("APP_ENV", "production"),
		APIBaseURI:    os.Getenv("DISPATCH_API_BASE_URI"),
		Username:      os.Getenv("DISPATCH_USERNAME"),
		Password:      os.Getenv("DISPATCH_PASSWORD"),
		StateDSN:      getEnv("STATE_DSN", "dispatch-state.db"),
		LogsDirectory: os.Getenv("LOGS_DIRECTORY"),
		Redis: &RedisConfig{
			Addr:     os.Getenv("REDIS_ADDR"),
			Password: os.Getenv("REDIS_PASSWORD"),
		},
		Timings: Timings{
			PollInterval:      getDuration("POLL_INTERVAL", 3*time.Second),
			IdleTimeout:       getDuration("IDLE_TIMEOUT", 30*time.Minute),
			IdleCheckInterval: getDuration("IDLE_CHECK_INTERVAL", 60*time.Second),
			RequestTimeout:    getDuration("REQUEST_TIMEOUT", 20*time.Second),
		},
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		log.Printf("Invalid %s=%q, using %s", key, raw, fallback)
		return fallback
	}
	return d
}
