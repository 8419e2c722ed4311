package app

import (
	"errors"
	"io/fs"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config stores runtime configuration loaded from environment variables.
type Config struct {
	AppEnv                string
	HTTPAddr              string
	DBDSN                 string
	DBMaxOpenConns        int
	DBMaxIdleConns        int
	DBConnMaxLifeMins     int
	CSRFEnforced          bool
	ImportRateLimitPerMin int
	MaxUploadMB           int
	StrictAnswerAlphabet  bool
	DefaultVariantCode    string
}

// LoadConfig reads .env (if present) and then the process environment.
// Variables already set in the environment win over .env.
func LoadConfig() Config {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("env file ignored: %v", err)
	}

	return Config{
		AppEnv:                envOrDefault("APP_ENV", "development"),
		HTTPAddr:              envOrDefault("HTTP_ADDR", ":8080"),
		DBDSN:                 strings.TrimSpace(os.Getenv("DB_DSN")),
		DBMaxOpenConns:        intOrDefault("DB_MAX_OPEN_CONNS", 25),
		DBMaxIdleConns:        intOrDefault("DB_MAX_IDLE_CONNS", 25),
		DBConnMaxLifeMins:     intOrDefault("DB_CONN_MAX_LIFETIME_MINUTES", 30),
		CSRFEnforced:          boolOrDefault("CSRF_ENFORCED", false),
		ImportRateLimitPerMin: intOrDefault("IMPORT_RATE_LIMIT_PER_MINUTE", 30),
		MaxUploadMB:           intOrDefault("MAX_UPLOAD_MB", 10),
		StrictAnswerAlphabet:  boolOrDefault("STRICT_ANSWER_ALPHABET", false),
		DefaultVariantCode:    envOrDefault("DEFAULT_VARIANT_CODE", "000"),
	}
}

func (c Config) MaxUploadBytes() int64 {
	if c.MaxUploadMB <= 0 {
		return 10 << 20
	}
	return int64(c.MaxUploadMB) << 20
}

func envOrDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func stringsToInt(v string) int {
	n, _ := strconv.Atoi(strings.TrimSpace(v))
	return n
}

func intOrDefault(key string, fallback int) int {
	v := stringsToInt(os.Getenv(key))
	if v <= 0 {
		return fallback
	}
	return v
}

func boolOrDefault(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return fallback
	}
}
