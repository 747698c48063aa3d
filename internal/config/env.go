package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// devJWTSecret is the fallback signing key. Anyone can forge tokens with
// it, so production refuses to start on it.
const devJWTSecret = "change-me"

type Config struct {
	Env       string
	Port      string
	DataDir   string
	JWTSecret string

	LLMProvider          string
	LLMURL               string
	LLMTimeout           time.Duration
	LLMMaxLength         int
	LLMTemperature       float64
	LLMTopK              int
	LLMTopP              float64
	LLMRepetitionPenalty float64
	AIAPIKey             string
	GenModel             string

	StoreLockTimeout time.Duration

	AwsAccessKey  string
	AwsSecretKey  string
	AwsRegion     string
	BucketName    string
	MirrorWorkers int

	AllowedOrigins []string
}

// LoadConfig loads the environment variables and return config
func LoadConfig() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		Env:       getEnv("APP_ENV", "development"),
		Port:      getEnv("PORT", "8000"),
		DataDir:   getEnv("DATA_DIR", "data"),
		JWTSecret: getEnv("JWT_SECRET", devJWTSecret),

		LLMProvider:          getEnv("LLM_PROVIDER", "dolphin"),
		LLMURL:               getEnv("LLM_URL", "http://localhost:5000/generate"),
		LLMTimeout:           getEnvDuration("LLM_TIMEOUT", 120*time.Second),
		LLMMaxLength:         getEnvInt("LLM_MAX_LENGTH", 500),
		LLMTemperature:       getEnvFloat("LLM_TEMPERATURE", 0.7),
		LLMTopK:              getEnvInt("LLM_TOP_K", 50),
		LLMTopP:              getEnvFloat("LLM_TOP_P", 0.9),
		LLMRepetitionPenalty: getEnvFloat("LLM_REPETITION_PENALTY", 1.1),
		AIAPIKey:             getEnv("GEMINI_API_KEY", ""),
		GenModel:             getEnv("GEN_MODEL", "gemini-1.5-flash"),

		StoreLockTimeout: getEnvDuration("STORE_LOCK_TIMEOUT", 10*time.Second),

		AwsAccessKey:  getEnv("AWS_ACCESS_KEY", ""),
		AwsSecretKey:  getEnv("AWS_SECRET_KEY", ""),
		AwsRegion:     getEnv("AWS_REGION", "us-east-2"),
		BucketName:    getEnv("BUCKET_NAME", ""),
		MirrorWorkers: getEnvInt("MIRROR_WORKERS", 2),

		AllowedOrigins: getEnvList("ALLOWED_ORIGINS", []string{"http://localhost:8000", "http://localhost:5173"}),
	}

	if err := cfg.Validate(); err != nil {
		log.Fatal(err)
	}
	return cfg
}

// Validate rejects settings that are only safe for local development.
func (c *Config) Validate() error {
	if c.Env == "production" && (c.JWTSecret == "" || c.JWTSecret == devJWTSecret) {
		return fmt.Errorf("JWT_SECRET must be set to a non-default value when APP_ENV=production")
	}
	return nil
}

// MirrorEnabled reports whether outputs should be copied to object storage.
func (c *Config) MirrorEnabled() bool {
	return c.BucketName != "" && c.AwsAccessKey != "" && c.AwsSecretKey != ""
}

// Helper to read environment variables with a default fallback
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, def int) int {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("WARN: %s=%q not an int, using default %d", key, v, def)
		return def
	}
	return n
}

func getEnvFloat(key string, def float64) float64 {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Printf("WARN: %s=%q not a number, using default %g", key, v, def)
		return def
	}
	return f
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("WARN: %s=%q not a duration, using default %s", key, v, def)
		return def
	}
	return d
}

func getEnvList(key string, def []string) []string {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
