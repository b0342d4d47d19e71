package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

var validate = validator.New()

type Config struct {
	Env      string `validate:"required"`
	HttpPort string `validate:"required,numeric"`
	DBPath   string // used when DBDriver=sqlite
	DBDriver string `validate:"oneof=sqlite postgres"`
	DBDsn    string `validate:"required_if=DBDriver postgres"` // DATABASE_URL

	ProviderType  string `validate:"oneof=aws minio mcg generic memory"`
	S3Endpoint    string `validate:"required_if=ProviderType minio,required_if=ProviderType mcg,required_if=ProviderType generic"`
	S3AccessKey   string
	S3SecretKey   string `validate:"required_with=S3AccessKey"`
	S3UseSSL      bool
	DefaultRegion string `validate:"required"`
	// AccountID owns the access points; forced delete refuses to run without it.
	AccountID string

	MaxUploadBytes      int64 `validate:"gt=0"`
	AllowedContentTypes []string
	AdminTokenHash      string // bcrypt; empty disables auth on mutating routes
	RateLimitRPS        float64 `validate:"gte=0"`
	RateLimitBurst      int     `validate:"gte=1"`
}

// Load reads a .env file when present, then the process environment.
func Load() *Config {
	_ = godotenv.Load()
	cfg := &Config{
		Env:      getEnv("APP_ENV", "dev"),
		HttpPort: getEnv("HTTP_PORT", "8080"),
		DBPath:   getEnv("DB_PATH", "data/bucketwarden.db"),
		DBDriver: getEnv("DB_DRIVER", "sqlite"),
		DBDsn:    getEnv("DATABASE_URL", getEnv("DB_DSN", "")),

		ProviderType:  strings.ToLower(getEnv("PROVIDER_TYPE", "aws")),
		S3Endpoint:    getEnv("S3_ENDPOINT", ""),
		S3AccessKey:   getEnv("S3_ACCESS_KEY", ""),
		S3SecretKey:   getEnv("S3_SECRET_KEY", ""),
		S3UseSSL:      getBool("S3_USE_SSL", true),
		DefaultRegion: getEnv("DEFAULT_REGION", "us-east-1"),
		AccountID:     getEnv("AWS_ACCOUNT_ID", ""),

		MaxUploadBytes:      getInt64("MAX_UPLOAD_BYTES", 5<<30),
		AllowedContentTypes: getList("ALLOWED_CONTENT_TYPES"),
		AdminTokenHash:      getEnv("ADMIN_TOKEN_HASH", ""),
		RateLimitRPS:        getFloat("RATE_LIMIT_RPS", 10),
		RateLimitBurst:      int(getInt64("RATE_LIMIT_BURST", 20)),
	}
	return cfg
}

// Validate checks the loaded values and returns the first violation.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		if errs, ok := err.(validator.ValidationErrors); ok && len(errs) > 0 {
			e := errs[0]
			return fmt.Errorf("config %s: validation failed on '%s' tag (value: %v)", e.Field(), e.Tag(), e.Value())
		}
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getBool(key string, def bool) bool {
	if b, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return b
	}
	return def
}

func getInt64(key string, def int64) int64 {
	if n, err := strconv.ParseInt(os.Getenv(key), 10, 64); err == nil {
		return n
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if f, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return f
	}
	return def
}

// getList splits a comma separated variable, dropping blanks.
func getList(key string) []string {
	var out []string
	for _, p := range strings.Split(os.Getenv(key), ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
