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

// Outbound request timeouts are kept within these bounds.
const (
	minHTTPTimeout = 5 * time.Second
	maxHTTPTimeout = 10 * time.Second
)

// PriceRange is one Bazos search window in CZK with the Telegram chat its
// listings are announced in.
type PriceRange struct {
	From int
	To   int
	Chat string
}

var defaultBazosRanges = "10000-50000:@bazosfirstfetch,50000-100000:@bazossecondfetch,100000-300000:@bazosthirdfetch"

// Config holds all application configuration loaded from environment variables.
type Config struct {
	StoreDriver      string
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string
	SQLitePath       string

	BazosURL           string
	BazosPriceRanges   []PriceRange
	BazosPollInterval  time.Duration
	BazosRenderBrowser bool
	ChromeBin          string

	SautoURL          string
	SautoPollInterval time.Duration

	HTTPTimeout time.Duration
	UserAgent   string
	MaxRetries  int

	TelegramToken     string
	TelegramAPIURL    string
	TelegramBazosChat string
	TelegramSautoChat string

	VAPIDPublicKey  string
	VAPIDPrivateKey string
	VAPIDSubject    string
	PushConcurrency int

	KafkaBrokers []string
	KafkaTopic   string

	HTTPAddr       string
	OTLPEndpoint   string
	CSVArchivePath string
	LogLevel       string
}

// Load reads the .env file and returns a populated Config struct.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("[config] No .env file found, falling back to system env vars")
	}

	return &Config{
		StoreDriver:      getEnv("STORE_DRIVER", "postgres"),
		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "watchdog"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "watchdog"),
		PostgresDB:       getEnv("POSTGRES_DB", "watchdog"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),
		SQLitePath:       getEnv("SQLITE_PATH", "./watchdog.db"),

		BazosURL:           getEnv("BAZOS_URL", "https://auto.bazos.cz/"),
		BazosPriceRanges:   getEnvRanges("BAZOS_PRICE_RANGES", defaultBazosRanges),
		BazosPollInterval:  getEnvDuration("BAZOS_POLL_INTERVAL", 10*time.Second),
		BazosRenderBrowser: getEnvBool("BAZOS_RENDER_BROWSER", false),
		ChromeBin:          getEnv("CHROME_BIN", ""),

		SautoURL:          getEnv("SAUTO_URL", "https://www.sauto.cz/api/v1/items/search?category_id=838&limit=50&offset=0&prodejce=soukromy"),
		SautoPollInterval: getEnvDuration("SAUTO_POLL_INTERVAL", 10*time.Second),

		HTTPTimeout: clampDuration(getEnvDuration("HTTP_TIMEOUT", 10*time.Second), minHTTPTimeout, maxHTTPTimeout),
		UserAgent: getEnv("USER_AGENT", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 "+
			"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"),
		MaxRetries: getEnvInt("MAX_RETRIES", 3),

		TelegramToken:     getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramAPIURL:    getEnv("TELEGRAM_API_URL", "https://api.telegram.org"),
		TelegramBazosChat: getEnv("TELEGRAM_BAZOS_CHAT", "@bazosfirstfetch"),
		TelegramSautoChat: getEnv("TELEGRAM_SAUTO_CHAT", "@sautobot1"),

		VAPIDPublicKey:  getEnv("VAPID_PUBLIC_KEY", ""),
		VAPIDPrivateKey: getEnv("VAPID_PRIVATE_KEY", ""),
		VAPIDSubject:    getEnv("VAPID_SUBJECT", "mailto:admin@watchdog.app"),
		PushConcurrency: getEnvInt("PUSH_CONCURRENCY", 8),

		KafkaBrokers: getEnvList("KAFKA_BROKERS"),
		KafkaTopic:   getEnv("KAFKA_TOPIC", "notifications"),

		HTTPAddr:       getEnv("HTTP_ADDR", ":8080"),
		OTLPEndpoint:   getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		CSVArchivePath: getEnv("CSV_ARCHIVE_PATH", ""),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
	}
}

// DSN returns the connection string for the configured store driver.
func (c *Config) DSN() string {
	if c.StoreDriver == "sqlite" {
		return c.SQLitePath
	}
	return "host=" + c.PostgresHost +
		" port=" + c.PostgresPort +
		" user=" + c.PostgresUser +
		" password=" + c.PostgresPassword +
		" dbname=" + c.PostgresDB +
		" sslmode=" + c.PostgresSSLMode
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		n, err := strconv.Atoi(val)
		if err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		d, err := time.ParseDuration(val)
		if err == nil && d > 0 {
			return d
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		b, err := strconv.ParseBool(val)
		if err == nil {
			return b
		}
	}
	return fallback
}

func getEnvList(key string) []string {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func clampDuration(d, lo, hi time.Duration) time.Duration {
	if d < lo {
		return lo
	}
	if d > hi {
		return hi
	}
	return d
}

// getEnvRanges parses "from-to:chat" entries separated by commas. The chat
// part is optional. An invalid value falls back to the default.
func getEnvRanges(key, fallback string) []PriceRange {
	if val := os.Getenv(key); val != "" {
		ranges, err := ParsePriceRanges(val)
		if err == nil {
			return ranges
		}
		log.Printf("[config] Ignoring %s: %v", key, err)
	}
	ranges, _ := ParsePriceRanges(fallback)
	return ranges
}

// ParsePriceRanges parses a BAZOS_PRICE_RANGES value.
func ParsePriceRanges(val string) ([]PriceRange, error) {
	var out []PriceRange
	for _, part := range strings.Split(val, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		bounds, chat, _ := strings.Cut(part, ":")
		fromStr, toStr, ok := strings.Cut(bounds, "-")
		if !ok {
			return nil, fmt.Errorf("range %q: want from-to", part)
		}
		from, err := strconv.Atoi(strings.TrimSpace(fromStr))
		if err != nil {
			return nil, fmt.Errorf("range %q: %w", part, err)
		}
		to, err := strconv.Atoi(strings.TrimSpace(toStr))
		if err != nil {
			return nil, fmt.Errorf("range %q: %w", part, err)
		}
		if from < 0 || to < from {
			return nil, fmt.Errorf("range %q: bounds out of order", part)
		}
		out = append(out, PriceRange{From: from, To: to, Chat: strings.TrimSpace(chat)})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no ranges")
	}
	return out, nil
}
