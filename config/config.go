package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	DB       DBConfig
	Minio    MinioConfig
	API      APIConfig
	Pipeline PipelineConfig
}

type DBConfig struct {
	Host     string
	Port     string
	Name     string
	User     string
	Password string
}

type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

type APIConfig struct {
	BaseURL string
}

type PipelineConfig struct {
	Bucket        string
	ArchiveBucket string
	OutputPath    string
	// LedgerFailOpen keeps loader runs alive when the processed-files
	// ledger is unreachable, at the cost of possibly re-ingesting files.
	LedgerFailOpen bool
}

func (d DBConfig) ConnString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s", d.User, d.Password, d.Host, d.Port, d.Name)
}

// Load reads configuration from the environment, with an optional .env file.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		DB: DBConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			Name:     getEnv("DB_NAME", "crypto"),
			User:     getEnv("DB_USER", "airflow"),
			Password: getEnv("DB_PASSWORD", "airflow"),
		},
		Minio: MinioConfig{
			Endpoint:  getEnv("MINIO_ENDPOINT", "minio:9000"),
			AccessKey: getEnv("MINIO_ACCESS_KEY", "minioadmin"),
			SecretKey: getEnv("MINIO_SECRET_KEY", "minioadmin"),
			UseSSL:    getEnvAsBool("MINIO_USE_SSL", false),
		},
		API: APIConfig{
			BaseURL: getEnv("COINGECKO_BASE_URL", "https://api.coingecko.com"),
		},
		Pipeline: PipelineConfig{
			Bucket:         getEnv("COIN_BUCKET", "coin-bucket"),
			ArchiveBucket:  getEnv("COIN_ARCHIVE_BUCKET", "coin-archive"),
			OutputPath:     getEnv("EXTRACT_OUTPUT_PATH", "coin_data.csv"),
			LedgerFailOpen: getEnvAsBool("LEDGER_FAIL_OPEN", true),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
