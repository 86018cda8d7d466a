package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DefaultSweepLimit = 200
	MaxSweepLimit     = 1000
)

// Config 汇总所有环境变量配置，启动时构造一次后注入到各组件
type Config struct {
	Port        string
	DatabaseURL string
	LogLevel    string
	LogDev      bool

	SMTP  SMTPConfig
	Site  SiteConfig
	Sweep SweepConfig
	Queue QueueConfig

	SelfWakeURL  string
	SelfWakeCron string

	// Warnings 记录加载时被忽略的无效值，logger 建好后再输出
	Warnings []string
}

// SMTPConfig holds the transport settings. Service takes precedence over Host/Port/Secure.
type SMTPConfig struct {
	User     string
	Pass     string
	Service  string
	Host     string
	Port     int
	Secure   bool
	ToEmail  string
	FromName string
}

// Owner returns the address that receives owner notices.
func (c SMTPConfig) Owner() string {
	if c.ToEmail != "" {
		return c.ToEmail
	}
	return c.User
}

// IsOwner reports whether addr belongs to the site owner (TO_EMAIL or the SMTP account itself).
func (c SMTPConfig) IsOwner(addr string) bool {
	if addr == "" {
		return false
	}
	return addr == c.ToEmail || addr == c.User
}

type SiteConfig struct {
	Name         string
	URL          string
	TemplateName string
	TemplateDir  string
}

type SweepConfig struct {
	Limit        int
	Window       time.Duration
	Interval     time.Duration
	InitialDelay time.Duration
	Cron         string
}

type QueueConfig struct {
	Size         int
	Workers      int
	MaxRetries   int
	RetryBackoff time.Duration
}

// Load 读取 .env（如存在）与系统环境变量
func Load() Config {
	envErr := godotenv.Load()
	cfg := FromEnv()
	if envErr != nil {
		cfg.Warnings = append([]string{"No .env file found, finding env vars from system"}, cfg.Warnings...)
	}
	return cfg
}

// FromEnv builds the configuration from the current process environment only.
func FromEnv() Config {
	var env envReader
	cfg := Config{
		Port:        getenv("PORT", "8080"),
		DatabaseURL: getenv("DATABASE_URL", "host=localhost user=postgres password=postgres dbname=valine port=5432 sslmode=disable TimeZone=Asia/Shanghai"),
		LogLevel:    getenv("LOG_LEVEL", "info"),
		LogDev:      getbool("LOG_DEV", false),
		SMTP: SMTPConfig{
			User:     os.Getenv("SMTP_USER"),
			Pass:     os.Getenv("SMTP_PASS"),
			Service:  os.Getenv("SMTP_SERVICE"),
			Host:     os.Getenv("SMTP_HOST"),
			Port:     env.integer("SMTP_PORT", 0),
			Secure:   os.Getenv("SMTP_SECURE") != "false",
			ToEmail:  os.Getenv("TO_EMAIL"),
			FromName: os.Getenv("SENDER_NAME"),
		},
		Site: SiteConfig{
			Name:         os.Getenv("SITE_NAME"),
			URL:          os.Getenv("SITE_URL"),
			TemplateName: getenv("TEMPLATE_NAME", "default"),
			TemplateDir:  getenv("TEMPLATE_DIR", "template"),
		},
		Sweep: SweepConfig{
			Limit:        ClampSweepLimit(env.integer("SWEEP_LIMIT", DefaultSweepLimit)),
			Window:       24 * time.Hour,
			Interval:     env.duration("SWEEP_INTERVAL", 2*time.Minute),
			InitialDelay: env.duration("SWEEP_INITIAL_DELAY", time.Minute),
			Cron:         getenv("SWEEP_CRON", "@every 1h"),
		},
		Queue: QueueConfig{
			Size:         env.integer("QUEUE_SIZE", 1000),
			Workers:      env.integer("QUEUE_WORKERS", 4),
			MaxRetries:   env.integer("QUEUE_MAX_RETRIES", 3),
			RetryBackoff: env.duration("QUEUE_RETRY_BACKOFF", 10*time.Second),
		},
		SelfWakeURL:  os.Getenv("SELF_WAKE_URL"),
		SelfWakeCron: getenv("SELF_WAKE_CRON", "*/20 * * * *"),
	}
	cfg.Warnings = env.warnings
	return cfg
}

// ClampSweepLimit keeps the sweep batch inside [1, MaxSweepLimit]; non-positive values fall back to the default.
func ClampSweepLimit(n int) int {
	if n <= 0 {
		return DefaultSweepLimit
	}
	if n > MaxSweepLimit {
		return MaxSweepLimit
	}
	return n
}

func getenv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

// envReader collects invalid values instead of logging them.
type envReader struct {
	warnings []string
}

func (e *envReader) integer(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.warnings = append(e.warnings, fmt.Sprintf("invalid %s=%q, using %d", key, v, fallback))
		return fallback
	}
	return n
}

func getbool(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func (e *envReader) duration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.warnings = append(e.warnings, fmt.Sprintf("invalid %s=%q, using %s", key, v, fallback))
		return fallback
	}
	return d
}
