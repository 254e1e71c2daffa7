package talkback

import (
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/nasermirzaei89/env"
	"github.com/nasermirzaei89/talkback/cron"
	"github.com/nasermirzaei89/talkback/discuss"
	"github.com/nasermirzaei89/talkback/logging"
	"github.com/nasermirzaei89/talkback/mail"
	"github.com/nasermirzaei89/talkback/server"
	"github.com/nasermirzaei89/talkback/web"
)

const (
	defaultDSN         = "file:talkback.db"
	defaultBaseURL     = "http://localhost:" + server.DefaultPort
	defaultSMTPPort    = 587
	defaultGCTime      = "03:00"
	defaultGCTimezone  = "UTC"
	defaultLogFormat   = logging.FormatJSON
	defaultAutoCertDir = "./cert-cache"
)

type Config struct {
	DatabaseDSN string
	BaseURL     string

	LogLevel  slog.Level
	LogFormat string

	RetentionWindow   time.Duration
	NotifyTimeout     time.Duration
	NotifyDestination string
	SMTP              mail.SMTPConfig

	GCScheduleEnabled bool
	GCHour            int
	GCMinute          int
	GCLocation        *time.Location

	CronSecret   string
	MaxBodyBytes int64

	Server server.Server
}

// LoadConfig reads the configuration from the environment. Malformed values
// are reported instead of silently replaced by defaults.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		DatabaseDSN:       env.GetString("DB_DSN", defaultDSN),
		BaseURL:           env.GetString("BASE_URL", defaultBaseURL),
		LogFormat:         env.GetString("LOG_FORMAT", defaultLogFormat),
		NotifyDestination: env.GetString("NOTIFY_EMAIL", ""),
		SMTP: mail.SMTPConfig{
			Host: env.GetString("SMTP_HOST", ""),
			User: env.GetString("SMTP_USER", ""),
			Pass: env.GetString("SMTP_PASS", ""),
			From: env.GetString("SMTP_FROM", ""),
		},
		GCScheduleEnabled: env.GetBool("GC_SCHEDULE_ENABLED", true),
		CronSecret:        env.GetString("CRON_SECRET", ""),
		Server:            newServer(),
	}

	var err error

	cfg.LogLevel, err = logging.ParseLevel(env.GetString("LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}

	cfg.RetentionWindow, err = parseDuration("COMMENT_RETENTION", discuss.DefaultRetentionWindow)
	if err != nil {
		return nil, err
	}

	cfg.NotifyTimeout, err = parseDuration("NOTIFY_TIMEOUT", discuss.DefaultNotifyTimeout)
	if err != nil {
		return nil, err
	}

	smtpPort, err := parseInt("SMTP_PORT", defaultSMTPPort)
	if err != nil {
		return nil, err
	}

	cfg.SMTP.Port = strconv.Itoa(smtpPort)

	maxBodyBytes, err := parseInt("MAX_BODY_BYTES", int(web.DefaultMaxBodyBytes))
	if err != nil {
		return nil, err
	}

	cfg.MaxBodyBytes = int64(maxBodyBytes)

	cfg.GCHour, cfg.GCMinute, err = cron.ParseClock(env.GetString("GC_TIME", defaultGCTime))
	if err != nil {
		return nil, fmt.Errorf("invalid GC_TIME: %w", err)
	}

	cfg.GCLocation, err = time.LoadLocation(env.GetString("GC_TIMEZONE", defaultGCTimezone))
	if err != nil {
		return nil, fmt.Errorf("invalid GC_TIMEZONE: %w", err)
	}

	err = cfg.Server.Validate()
	if err != nil {
		return nil, fmt.Errorf("invalid server configuration: %w", err)
	}

	return cfg, nil
}

func newServer() server.Server {
	return server.Server{
		Port: env.GetString("PORT", server.DefaultPort),
		Host: env.GetString("HOST", ""),
		TLS: server.ServerTLS{
			Enabled: env.GetBool("TLS_ENABLED", false),
			Mode:    env.GetString("TLS_MODE", server.DefaultTLSMode),
			AutoCert: &server.ServerTLSAutoCert{
				CacheDir: env.GetString("TLS_AUTOCERT_CACHE_DIR", defaultAutoCertDir),
				Domains:  env.GetStringSlice("TLS_AUTOCERT_DOMAINS", []string{}),
				Email:    env.GetString("TLS_AUTOCERT_EMAIL", ""),
			},
			CertFile: env.GetString("TLS_CERT_FILE", ""),
			KeyFile:  env.GetString("TLS_KEY_FILE", ""),
		},
	}
}

func parseDuration(key string, def time.Duration) (time.Duration, error) {
	raw := env.GetString(key, "")
	if raw == "" {
		return def, nil
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}

	if d <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive", key)
	}

	return d, nil
}

func parseInt(key string, def int) (int, error) {
	raw := env.GetString(key, "")
	if raw == "" {
		return def, nil
	}

	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}

	if n <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive", key)
	}

	return n, nil
}
