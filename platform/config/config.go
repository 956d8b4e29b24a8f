// Package config provides application configuration loading.
// This is part of the platform layer and contains no business logic.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// =============================================================================
// Module-Specific Config Interfaces (Principle of Least Privilege)
// =============================================================================

// DatabaseConfig provides database connection settings.
type DatabaseConfig interface {
	GetDatabaseURL() string
}

// JWTConfig provides JWT validation settings for middleware.
type JWTConfig interface {
	GetJWTAccessSecret() string
}

// AuthServiceConfig provides settings needed by the admin token service.
type AuthServiceConfig interface {
	JWTConfig
	GetAccessTokenTTL() time.Duration
	GetAdminEmail() string
	GetAdminPasswordHash() string
}

// HTTPConfig provides settings for the HTTP server.
type HTTPConfig interface {
	GetHTTPAddr() string
	GetCORSAllowAll() bool
	GetCORSOrigins() []string
	GetCORSAllowCreds() bool
}

// EmailConfig provides settings for email sending.
type EmailConfig interface {
	GetEmailEnabled() bool
	GetEmailProvider() string
	GetBrevoAPIKey() string
	GetSMTPHost() string
	GetSMTPPort() int
	GetSMTPUsername() string
	GetSMTPPassword() string
	GetEmailFromName() string
	GetEmailFromAddress() string
}

// WhatsAppConfig provides settings for the messaging gateway.
type WhatsAppConfig interface {
	GetWhatsAppURL() string
	GetWhatsAppKey() string
	GetWhatsAppDeviceID() string
	GetWhatsAppLanguage() string
	GetWhatsAppSendTimeout() time.Duration
}

// PhoneConfig provides the region used to parse national phone numbers.
type PhoneConfig interface {
	GetPhoneDefaultRegion() string
}

// PromptConfig provides settings for rendering outbound prompts.
type PromptConfig interface {
	GetWhatsAppLanguage() string
	GetVisitTimezone() string
}

// EngagementConfig provides settings for inbound webhook ingestion.
type EngagementConfig interface {
	GetWhatsAppWebhookSecret() string
	GetWhatsAppVerifyToken() string
	GetWebhookDedupeTTL() time.Duration
}

// SchedulerConfig provides settings for the asynq client and worker.
type SchedulerConfig interface {
	GetRedisURL() string
	GetRedisTLSInsecure() bool
	GetAsynqQueueName() string
	GetAsynqConcurrency() int
	IsRedisEnabled() bool
}

// SweepConfig provides cadence and retry tunables for the notification sweeps.
type SweepConfig interface {
	GetSchedulerFineInterval() time.Duration
	GetSchedulerExpiryInterval() time.Duration
	GetSchedulerStaleClaim() time.Duration
	GetSchedulerBatchSize() int
	GetSendBackoffBase() time.Duration
	GetSendBackoffMax() time.Duration
	GetSendMaxAttempts() int
	GetRecoveryQuietWindow() time.Duration
	GetConversationInactivity() time.Duration
}

// VisitConfig provides settings for visit creation.
type VisitConfig interface {
	PhoneConfig
	GetWelcomeDelay() time.Duration
	GetConfirmationDelay() time.Duration
}

// AssignmentConfig provides settings for the assignment engine.
type AssignmentConfig interface {
	GetAssignmentDelay() time.Duration
	GetSchedulerBatchSize() int
}

// TechnicianConfig provides defaults for the technician pool.
type TechnicianConfig interface {
	GetTechnicianDailyCapDefault() int
	GetTechnicianResetCron() string
}

// MinIOConfig provides settings for MinIO S3-compatible storage.
type MinIOConfig interface {
	GetMinIOEndpoint() string
	GetMinIOAccessKey() string
	GetMinIOSecretKey() string
	GetMinIOUseSSL() bool
	GetMinioBucketWebhookArchive() string
	IsMinIOEnabled() bool
}

// MetricsConfig provides settings for the standalone metrics listener.
type MetricsConfig interface {
	GetMetricsAddr() string
}

// =============================================================================
// Main Config Struct
// =============================================================================

// Config holds all application configuration values.
type Config struct {
	Env                       string
	HTTPAddr                  string
	MetricsAddr               string
	DatabaseURL               string
	JWTAccessSecret           string
	AccessTokenTTL            time.Duration
	AdminEmail                string
	AdminPasswordHash         string
	CORSAllowAll              bool
	CORSOrigins               []string
	CORSAllowCreds            bool
	EmailEnabled              bool
	EmailProvider             string
	BrevoAPIKey               string
	SMTPHost                  string
	SMTPPort                  int
	SMTPUsername              string
	SMTPPassword              string
	EmailFromName             string
	EmailFromAddress          string
	WhatsAppURL               string
	WhatsAppKey               string
	WhatsAppDeviceID          string
	WhatsAppLanguage          string
	WhatsAppSendTimeout       time.Duration
	WhatsAppWebhookSecret     string
	WhatsAppVerifyToken       string
	WebhookDedupeTTL          time.Duration
	PhoneDefaultRegion        string
	VisitTimezone             string
	RedisURL                  string
	RedisTLSInsecure          bool
	AsynqQueueName            string
	AsynqConcurrency          int
	MinIOEndpoint             string
	MinIOAccessKey            string
	MinIOSecretKey            string
	MinIOUseSSL               bool
	MinioBucketWebhookArchive string
	SchedulerFineInterval     time.Duration
	SchedulerExpiryInterval   time.Duration
	SchedulerStaleClaim       time.Duration
	SchedulerBatchSize        int
	WelcomeDelay              time.Duration
	ConfirmationDelay         time.Duration
	SendBackoffBase           time.Duration
	SendBackoffMax            time.Duration
	SendMaxAttempts           int
	RecoveryQuietWindow       time.Duration
	ConversationInactivity    time.Duration
	AssignmentDelay           time.Duration
	TechnicianDailyCapDefault int
	TechnicianResetCron       string
}

// =============================================================================
// Interface Implementations
// =============================================================================

// DatabaseConfig implementation
func (c *Config) GetDatabaseURL() string { return c.DatabaseURL }

// JWTConfig implementation
func (c *Config) GetJWTAccessSecret() string { return c.JWTAccessSecret }

// AuthServiceConfig implementation
func (c *Config) GetAccessTokenTTL() time.Duration { return c.AccessTokenTTL }
func (c *Config) GetAdminEmail() string            { return c.AdminEmail }
func (c *Config) GetAdminPasswordHash() string     { return c.AdminPasswordHash }

// HTTPConfig implementation
func (c *Config) GetHTTPAddr() string      { return c.HTTPAddr }
func (c *Config) GetCORSAllowAll() bool    { return c.CORSAllowAll }
func (c *Config) GetCORSOrigins() []string { return c.CORSOrigins }
func (c *Config) GetCORSAllowCreds() bool  { return c.CORSAllowCreds }

// EmailConfig implementation
func (c *Config) GetEmailEnabled() bool       { return c.EmailEnabled }
func (c *Config) GetEmailProvider() string    { return c.EmailProvider }
func (c *Config) GetBrevoAPIKey() string      { return c.BrevoAPIKey }
func (c *Config) GetSMTPHost() string         { return c.SMTPHost }
func (c *Config) GetSMTPPort() int            { return c.SMTPPort }
func (c *Config) GetSMTPUsername() string     { return c.SMTPUsername }
func (c *Config) GetSMTPPassword() string     { return c.SMTPPassword }
func (c *Config) GetEmailFromName() string    { return c.EmailFromName }
func (c *Config) GetEmailFromAddress() string { return c.EmailFromAddress }

// WhatsAppConfig implementation
func (c *Config) GetWhatsAppURL() string                { return c.WhatsAppURL }
func (c *Config) GetWhatsAppKey() string                { return c.WhatsAppKey }
func (c *Config) GetWhatsAppDeviceID() string           { return c.WhatsAppDeviceID }
func (c *Config) GetWhatsAppLanguage() string           { return c.WhatsAppLanguage }
func (c *Config) GetWhatsAppSendTimeout() time.Duration { return c.WhatsAppSendTimeout }

// PhoneConfig implementation
func (c *Config) GetPhoneDefaultRegion() string { return c.PhoneDefaultRegion }

// PromptConfig implementation
func (c *Config) GetVisitTimezone() string { return c.VisitTimezone }

// EngagementConfig implementation
func (c *Config) GetWhatsAppWebhookSecret() string   { return c.WhatsAppWebhookSecret }
func (c *Config) GetWhatsAppVerifyToken() string     { return c.WhatsAppVerifyToken }
func (c *Config) GetWebhookDedupeTTL() time.Duration { return c.WebhookDedupeTTL }

// SchedulerConfig implementation
func (c *Config) GetRedisURL() string       { return c.RedisURL }
func (c *Config) GetRedisTLSInsecure() bool { return c.RedisTLSInsecure }
func (c *Config) GetAsynqQueueName() string { return c.AsynqQueueName }
func (c *Config) GetAsynqConcurrency() int  { return c.AsynqConcurrency }
func (c *Config) IsRedisEnabled() bool      { return c.RedisURL != "" }

// SweepConfig implementation
func (c *Config) GetSchedulerFineInterval() time.Duration   { return c.SchedulerFineInterval }
func (c *Config) GetSchedulerExpiryInterval() time.Duration { return c.SchedulerExpiryInterval }
func (c *Config) GetSchedulerStaleClaim() time.Duration     { return c.SchedulerStaleClaim }
func (c *Config) GetSchedulerBatchSize() int                { return c.SchedulerBatchSize }
func (c *Config) GetSendBackoffBase() time.Duration         { return c.SendBackoffBase }
func (c *Config) GetSendBackoffMax() time.Duration          { return c.SendBackoffMax }
func (c *Config) GetSendMaxAttempts() int                   { return c.SendMaxAttempts }
func (c *Config) GetRecoveryQuietWindow() time.Duration     { return c.RecoveryQuietWindow }
func (c *Config) GetConversationInactivity() time.Duration  { return c.ConversationInactivity }

// VisitConfig implementation
func (c *Config) GetWelcomeDelay() time.Duration      { return c.WelcomeDelay }
func (c *Config) GetConfirmationDelay() time.Duration { return c.ConfirmationDelay }

// AssignmentConfig implementation
func (c *Config) GetAssignmentDelay() time.Duration { return c.AssignmentDelay }

// TechnicianConfig implementation
func (c *Config) GetTechnicianDailyCapDefault() int { return c.TechnicianDailyCapDefault }
func (c *Config) GetTechnicianResetCron() string    { return c.TechnicianResetCron }

// MinIOConfig implementation
func (c *Config) GetMinIOEndpoint() string  { return c.MinIOEndpoint }
func (c *Config) GetMinIOAccessKey() string { return c.MinIOAccessKey }
func (c *Config) GetMinIOSecretKey() string { return c.MinIOSecretKey }
func (c *Config) GetMinIOUseSSL() bool      { return c.MinIOUseSSL }
func (c *Config) GetMinioBucketWebhookArchive() string {
	return c.MinioBucketWebhookArchive
}
func (c *Config) IsMinIOEnabled() bool { return c.MinIOEndpoint != "" }

// MetricsConfig implementation
func (c *Config) GetMetricsAddr() string { return c.MetricsAddr }

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	corsOrigins := splitCSV(getEnv("CORS_ORIGINS", "http://localhost:4200"))
	corsAllowAll := strings.EqualFold(getEnv("CORS_ALLOW_ALL", "false"), "true")
	if containsWildcard(corsOrigins) {
		corsAllowAll = true
	}

	emailEnabled := strings.EqualFold(getEnv("EMAIL_ENABLED", "false"), "true")
	emailProvider := strings.ToLower(getEnv("EMAIL_PROVIDER", "brevo"))

	cfg := &Config{
		Env:                       getEnv("APP_ENV", "development"),
		HTTPAddr:                  getEnv("HTTP_ADDR", ":8080"),
		MetricsAddr:               getEnv("METRICS_ADDR", ":9090"),
		DatabaseURL:               getEnv("DATABASE_URL", ""),
		JWTAccessSecret:           getEnv("JWT_ACCESS_SECRET", ""),
		AccessTokenTTL:            mustDuration(getEnv("JWT_ACCESS_TTL", "1h")),
		AdminEmail:                strings.ToLower(strings.TrimSpace(getEnv("ADMIN_EMAIL", ""))),
		AdminPasswordHash:         getEnv("ADMIN_PASSWORD_HASH", ""),
		CORSAllowAll:              corsAllowAll,
		CORSOrigins:               corsOrigins,
		CORSAllowCreds:            strings.EqualFold(getEnv("CORS_ALLOW_CREDENTIALS", "true"), "true"),
		EmailEnabled:              emailEnabled,
		EmailProvider:             emailProvider,
		BrevoAPIKey:               getEnv("BREVO_API_KEY", ""),
		SMTPHost:                  getEnv("SMTP_HOST", ""),
		SMTPPort:                  mustInt(getEnv("SMTP_PORT", "587")),
		SMTPUsername:              getEnv("SMTP_USERNAME", ""),
		SMTPPassword:              getEnv("SMTP_PASSWORD", ""),
		EmailFromName:             getEnv("EMAIL_FROM_NAME", "Site Visits"),
		EmailFromAddress:          getEnv("EMAIL_FROM_ADDRESS", ""),
		WhatsAppURL:               getEnv("WHATSAPP_URL", ""),
		WhatsAppKey:               getEnv("WHATSAPP_KEY", ""),
		WhatsAppDeviceID:          getEnv("WHATSAPP_DEVICE_ID", ""),
		WhatsAppLanguage:          getEnv("WHATSAPP_LANGUAGE", "en"),
		WhatsAppSendTimeout:       mustDuration(getEnv("WHATSAPP_SEND_TIMEOUT", "10s")),
		WhatsAppWebhookSecret:     getEnv("WHATSAPP_WEBHOOK_SECRET", ""),
		WhatsAppVerifyToken:       getEnv("WHATSAPP_VERIFY_TOKEN", ""),
		WebhookDedupeTTL:          mustDuration(getEnv("WEBHOOK_DEDUPE_TTL", "24h")),
		PhoneDefaultRegion:        strings.ToUpper(getEnv("PHONE_DEFAULT_REGION", "IN")),
		VisitTimezone:             getEnv("VISIT_TIMEZONE", "Asia/Kolkata"),
		RedisURL:                  getEnv("REDIS_URL", ""),
		RedisTLSInsecure:          strings.EqualFold(getEnv("REDIS_TLS_INSECURE", "false"), "true"),
		AsynqQueueName:            getEnv("ASYNQ_QUEUE", "default"),
		AsynqConcurrency:          mustInt(getEnv("ASYNQ_CONCURRENCY", "10")),
		MinIOEndpoint:             getEnv("MINIO_ENDPOINT", ""),
		MinIOAccessKey:            getEnv("MINIO_ACCESS_KEY", ""),
		MinIOSecretKey:            getEnv("MINIO_SECRET_KEY", ""),
		MinIOUseSSL:               strings.EqualFold(getEnv("MINIO_USE_SSL", "false"), "true"),
		MinioBucketWebhookArchive: getEnv("MINIO_BUCKET_WEBHOOK_ARCHIVE", "webhook-payloads"),
		SchedulerFineInterval:     mustDuration(getEnv("SCHEDULER_FINE_INTERVAL", "15s")),
		SchedulerExpiryInterval:   mustDuration(getEnv("SCHEDULER_EXPIRY_INTERVAL", "2h")),
		SchedulerStaleClaim:       mustDuration(getEnv("SCHEDULER_STALE_CLAIM", "5m")),
		SchedulerBatchSize:        mustInt(getEnv("SCHEDULER_BATCH_SIZE", "50")),
		WelcomeDelay:              mustDuration(getEnv("WELCOME_DELAY", "1m")),
		ConfirmationDelay:         mustDuration(getEnv("CONFIRMATION_DELAY", "3m")),
		SendBackoffBase:           mustDuration(getEnv("SEND_BACKOFF_BASE", "1m")),
		SendBackoffMax:            mustDuration(getEnv("SEND_BACKOFF_MAX", "1h")),
		SendMaxAttempts:           mustInt(getEnv("SEND_MAX_ATTEMPTS", "8")),
		RecoveryQuietWindow:       mustDuration(getEnv("RECOVERY_QUIET_WINDOW", "2m")),
		ConversationInactivity:    mustDuration(getEnv("CONVERSATION_INACTIVITY", "168h")),
		AssignmentDelay:           mustDuration(getEnv("ASSIGNMENT_DELAY", "30m")),
		TechnicianDailyCapDefault: mustInt(getEnv("TECHNICIAN_DAILY_CAP_DEFAULT", "6")),
		TechnicianResetCron:       getEnv("TECHNICIAN_RESET_CRON", "@daily"),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.WhatsAppWebhookSecret == "" {
		return nil, fmt.Errorf("WHATSAPP_WEBHOOK_SECRET is required")
	}
	if cfg.AdminEmail != "" && (cfg.AdminPasswordHash == "" || cfg.JWTAccessSecret == "") {
		return nil, fmt.Errorf("ADMIN_PASSWORD_HASH and JWT_ACCESS_SECRET are required when ADMIN_EMAIL is set")
	}
	if emailEnabled {
		switch emailProvider {
		case "brevo":
			if cfg.BrevoAPIKey == "" {
				return nil, fmt.Errorf("BREVO_API_KEY is required when EMAIL_PROVIDER is brevo")
			}
		case "smtp":
			if cfg.SMTPHost == "" {
				return nil, fmt.Errorf("SMTP_HOST is required when EMAIL_PROVIDER is smtp")
			}
		default:
			return nil, fmt.Errorf("unsupported EMAIL_PROVIDER %q", emailProvider)
		}
		if cfg.EmailFromAddress == "" {
			return nil, fmt.Errorf("EMAIL_FROM_ADDRESS is required when email is enabled")
		}
	}
	if cfg.CORSAllowAll && cfg.CORSAllowCreds {
		return nil, fmt.Errorf("CORS_ALLOW_CREDENTIALS cannot be true when CORS_ALLOW_ALL is true")
	}
	if cfg.SchedulerFineInterval <= 0 || cfg.SchedulerExpiryInterval <= 0 {
		return nil, fmt.Errorf("scheduler intervals must be positive durations")
	}
	if cfg.SendBackoffBase <= 0 || cfg.SendBackoffMax < cfg.SendBackoffBase {
		return nil, fmt.Errorf("SEND_BACKOFF_MAX must be at least SEND_BACKOFF_BASE")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func mustDuration(value string) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0
	}
	return d
}

func mustInt(value string) int {
	result, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0
	}
	return result
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	results := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			results = append(results, trimmed)
		}
	}
	return results
}

func containsWildcard(values []string) bool {
	for _, value := range values {
		if value == "*" {
			return true
		}
	}
	return false
}
