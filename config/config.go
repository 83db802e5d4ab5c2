package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Realtime drivers for transaction subscriptions. An empty driver
// selects simulated confirmations.
const (
	DriverKafka    = "kafka"
	DriverRedis    = "redis"
	DriverPostgres = "postgres"
)

type Config struct {
	Environment string
	Port        string
	GRPCPort    string

	// Database is optional; without DB_HOST transactions live in memory.
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	RealtimeDriver string
	KafkaBroker    string
	KafkaTopic     string
	RedisHost      string
	RedisPort      string
	RedisPassword  string
	RedisCache     bool

	SimulatedDelay      time.Duration
	StatusStreamTimeout time.Duration

	ScannerDevices []string
	ScannerFPS     int
	ScannerBoxSize int

	JWTSecret      string
	JaegerEndpoint string
}

// Load reads .env when present, then the environment.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: Error loading .env file (might not exist in production): %v", err)
	}

	return &Config{
		Environment: getEnv("APP_ENV", "development"),
		Port:        getEnv("PORT", "8085"),
		GRPCPort:    getEnv("GRPC_PORT", "50055"),

		DBHost:     getEnv("DB_HOST", ""),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", "postgres"),
		DBName:     getEnv("DB_NAME", "stationdb"),

		RealtimeDriver: strings.ToLower(getEnv("REALTIME_DRIVER", "")),
		KafkaBroker:    getEnv("KAFKA_BROKER", "localhost:9092"),
		KafkaTopic:     getEnv("KAFKA_TOPIC", "transaction_events"),
		RedisHost:      getEnv("REDIS_HOST", "localhost"),
		RedisPort:      getEnv("REDIS_PORT", "6379"),
		RedisPassword:  getEnv("REDIS_PASSWORD", ""),
		RedisCache:     getBool("REDIS_CACHE", false),

		SimulatedDelay:      getDuration("SIMULATED_CONFIRM_DELAY", 3*time.Second),
		StatusStreamTimeout: getDuration("STATUS_STREAM_TIMEOUT", 2*time.Minute),

		ScannerDevices: getList("SCANNER_DEVICES", []string{"camera-front", "camera-rear"}),
		ScannerFPS:     getInt("SCANNER_FPS", 15),
		ScannerBoxSize: getInt("SCANNER_BOX_SIZE", 250),

		JWTSecret:      getEnv("JWT_SECRET", ""),
		JaegerEndpoint: getEnv("JAEGER_ENDPOINT", "http://localhost:14268/api/traces"),
	}
}

func (c *Config) Production() bool {
	return c.Environment == "production"
}

// PostgresDSN returns "" when no database host is configured.
func (c *Config) PostgresDSN() string {
	if c.DBHost == "" {
		return ""
	}
	return "host=" + c.DBHost + " port=" + c.DBPort + " user=" + c.DBUser +
		" password=" + c.DBPassword + " dbname=" + c.DBName + " sslmode=disable"
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	value, err := strconv.Atoi(getEnv(key, ""))
	if err != nil {
		return defaultValue
	}
	return value
}

func getBool(key string, defaultValue bool) bool {
	value, err := strconv.ParseBool(getEnv(key, ""))
	if err != nil {
		return defaultValue
	}
	return value
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	value, err := time.ParseDuration(getEnv(key, ""))
	if err != nil {
		return defaultValue
	}
	return value
}

func getList(key string, defaultValue []string) []string {
	raw := getEnv(key, "")
	if raw == "" {
		return defaultValue
	}
	var items []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}
