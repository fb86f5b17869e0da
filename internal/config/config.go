package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type DB struct {
	User string
	Pass string
	Host string
	Port string
	Name string
}

type Mail struct {
	BaseURL     string        // mail provider API base URL
	ServerToken string        // provider auth token
	Sender      string        // verified sender address
	SendTimeout time.Duration // per-attempt send timeout
}

type Auth struct {
	PublicKeyPEM string // RSA public key for verifying admin JWTs
	Issuer       string
	Audience     string
}

type Worker struct {
	Count           int             // number of concurrent delivery workers
	IdleInterval    time.Duration   // sleep when the queue is empty
	MaxAttempts     int             // delivery attempt ceiling
	BackoffSchedule []time.Duration // retry backoff durations
	JitterPercent   float64         // backoff jitter percentage (0.0-1.0)
	PublishDLQ      bool            // whether to publish dead letters to the NSQ topic
	HTTPPort        string          // worker health/metrics port
}

type NSQ struct {
	NsqdTCPAddr string // e.g. nsqd:4150
	DLQTopic    string // dead letter topic for abandoned deliveries
}

type Config struct {
	AppName       string
	HTTPPort      string // :8080
	RunMigrations bool
	MigrationsDir string
	DB            DB
	Mail          Mail
	Auth          Auth
	Worker        Worker
	NSQ           NSQ
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getenvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getenvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getenvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func defaultBackoffSchedule() []time.Duration {
	return []time.Duration{1 * time.Second, 4 * time.Second, 16 * time.Second, 1 * time.Minute, 4 * time.Minute, 10 * time.Minute}
}

func parseBackoffSchedule(schedule string) []time.Duration {
	if schedule == "" {
		return defaultBackoffSchedule()
	}

	parts := strings.Split(schedule, ",")
	durations := make([]time.Duration, 0, len(parts))

	for _, part := range parts {
		part = strings.TrimSpace(part)
		if d, err := time.ParseDuration(part); err == nil {
			durations = append(durations, d)
		}
	}

	if len(durations) == 0 {
		// Fallback to default if parsing failed
		return defaultBackoffSchedule()
	}

	return durations
}

func FromEnv() Config {
	return Config{
		AppName:       getenv("APP_NAME", "inkwire"),
		HTTPPort:      getenv("HTTP_PORT", ":8080"),
		RunMigrations: getenvBool("RUN_MIGRATIONS", false),
		MigrationsDir: getenv("MIGRATIONS_DIR", "migrations"),
		DB: DB{
			User: getenv("DB_USER", "postgres"),
			Pass: getenv("DB_PASS", "postgres"),
			Host: getenv("DB_HOST", "postgres"),
			Port: getenv("DB_PORT", "5432"),
			Name: getenv("DB_NAME", "inkwire"),
		},
		Mail: Mail{
			BaseURL:     getenv("MAIL_BASE_URL", "http://localhost:8025"),
			ServerToken: getenv("MAIL_SERVER_TOKEN", ""),
			Sender:      getenv("MAIL_SENDER", "newsletter@inkwire.dev"),
			SendTimeout: getenvDuration("MAIL_SEND_TIMEOUT", 10*time.Second),
		},
		Auth: Auth{
			PublicKeyPEM: getenv("AUTH_PUBLIC_KEY_PEM", ""),
			Issuer:       getenv("AUTH_ISSUER", "inkwire"),
			Audience:     getenv("AUTH_AUDIENCE", "inkwire-admin"),
		},
		Worker: Worker{
			Count:           getenvInt("WORKER_COUNT", 4),
			IdleInterval:    getenvDuration("WORKER_IDLE_INTERVAL", 1*time.Second),
			MaxAttempts:     getenvInt("MAX_ATTEMPTS", 10),
			BackoffSchedule: parseBackoffSchedule(getenv("BACKOFF_SCHEDULE", "")),
			JitterPercent:   getenvFloat("BACKOFF_JITTER_PCT", 0.25),
			PublishDLQ:      getenvBool("PUBLISH_DLQ_TOPIC", false),
			HTTPPort:        ":" + getenv("WORKER_HTTP_PORT", "8083"),
		},
		NSQ: NSQ{
			NsqdTCPAddr: getenv("NSQD_TCP_ADDR", "nsqd:4150"),
			DLQTopic:    getenv("NSQ_DLQ_TOPIC", "deliveries_dlq"),
		},
	}
}

func (c Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.DB.User, c.DB.Pass, c.DB.Host, c.DB.Port, c.DB.Name)
}
