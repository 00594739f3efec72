package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	PoolCapacity     int
	QueueDepth       int
	DefaultTimeout   time.Duration
	LaunchRetries    int
	HealthInterval   time.Duration
	FailureThreshold int
	BreakerCooldown  time.Duration

	MaxSteps      int
	AllowEvaluate bool
	Headless      bool

	Port        string
	NatsURL     string
	Environment string
}

func LoadConfig() Config {
	err := godotenv.Load(".env")
	if err != nil {
		log.Printf("Warning: Error loading .env file: %v", err)
	}

	return Config{
		PoolCapacity:     getEnvInt("POOL_CAPACITY", 4),
		QueueDepth:       getEnvInt("QUEUE_DEPTH", 16),
		DefaultTimeout:   getEnvDuration("DEFAULT_JOB_TIMEOUT", 60*time.Second),
		LaunchRetries:    getEnvInt("LAUNCH_RETRIES", 2),
		HealthInterval:   getEnvDuration("HEALTH_CHECK_INTERVAL", time.Second),
		FailureThreshold: getEnvInt("FAILURE_THRESHOLD", 5),
		BreakerCooldown:  getEnvDuration("BREAKER_COOLDOWN", 30*time.Second),

		MaxSteps:      getEnvInt("MAX_STEPS", 50),
		AllowEvaluate: getEnvBool("ALLOW_EVALUATE", false),
		Headless:      getEnvBool("HEADLESS", true),

		Port:        getEnv("PORT", "8080"),
		NatsURL:     getEnv("NATS_URL", "nats://localhost:4222"),
		Environment: getEnv("ENVIRONMENT", "production"),
	}
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
