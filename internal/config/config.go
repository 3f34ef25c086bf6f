package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultTimezone = "Europe/Zurich"
	configPathEnv   = "GEODATENBEZUG_CONFIG"

	databaseDSNEnv    = "DATABASE_DSN"
	authUserEnv       = "GEODIENSTE_AUTH_USER"
	authUserAltEnv    = "AuthUser"
	authPasswordEnv   = "GEODIENSTE_AUTH_PASSWORD"
	authPasswordAlt   = "AuthPw"
	smtpHostEnv       = "SMTP_HOST"
	smtpPortEnv       = "SMTP_PORT"
	smtpUserEnv       = "SMTP_USER"
	smtpPasswordEnv   = "SMTP_PASSWORD"
	smtpFromEnv       = "SMTP_FROM"
	smtpToEnv         = "SMTP_TO"
	smtpCcEnv         = "SMTP_CC"
	telegramTokenEnv  = "TELEGRAM_BOT_TOKEN"
	telegramChatIDEnv = "TELEGRAM_CHAT_ID"
	redisAddrEnv      = "REDIS_ADDR"
	logLevelEnv       = "LOG_LEVEL"
	// NCRONTAB, seconds first ("0 0 * * * *"); five-field cron works too.
	scheduleEnv = "TIME_TRIGGER_SCHEDULE"
)

// Token sources.
const (
	TokenSourceEnv            = "env"
	TokenSourceConfig         = "config"
	TokenSourceSecretsManager = "secretsmanager"
)

// Config holds high-level settings required across the application.
type Config struct {
	Geodienste    GeodiensteConfig   `yaml:"geodienste"`
	Tokens        TokensConfig       `yaml:"tokens"`
	Processing    ProcessingConfig   `yaml:"processing"`
	Scheduler     SchedulerConfig    `yaml:"scheduler"`
	Database      DatabaseConfig     `yaml:"database"`
	Storage       StorageConfig      `yaml:"storage"`
	Notifications NotificationConfig `yaml:"notifications"`
	Redis         RedisConfig        `yaml:"redis"`
	Ops           OpsConfig          `yaml:"ops"`
	Logging       LoggingConfig      `yaml:"logging"`
}

// GeodiensteConfig describes the remote export API.
type GeodiensteConfig struct {
	BaseURL        string        `yaml:"baseUrl"`
	Language       string        `yaml:"language"`
	User           string        `yaml:"user"`
	Password       string        `yaml:"password"`
	PollInterval   time.Duration `yaml:"pollInterval"`
	PollTimeout    time.Duration `yaml:"pollTimeout"`
	RequestTimeout time.Duration `yaml:"requestTimeout"`
}

// TokensConfig selects where export tokens come from.
// Settings maps base topics to "AG=token;BE=token" strings.
type TokensConfig struct {
	Source       string            `yaml:"source"`
	Settings     map[string]string `yaml:"settings"`
	SecretPrefix string            `yaml:"secretPrefix"`
	Region       string            `yaml:"region"`
}

// ProcessingConfig tunes the run coordinator.
type ProcessingConfig struct {
	Concurrency     int           `yaml:"concurrency"`
	FreshnessWindow time.Duration `yaml:"freshnessWindow"`
	LockTTL         time.Duration `yaml:"lockTtl"`
	Dedup           *bool         `yaml:"dedup"`
}

// DedupEnabled reports whether already exported topics are skipped.
func (p ProcessingConfig) DedupEnabled() bool {
	return p.Dedup == nil || *p.Dedup
}

// SchedulerConfig defines when the pipeline should run.
type SchedulerConfig struct {
	CronExpression string         `yaml:"cronExpression"`
	Timezone       string         `yaml:"timezone"`
	RunOnStartup   *bool          `yaml:"runOnStartup"`
	location       *time.Location `yaml:"-"`
}

// StartOnBoot reports whether a run is triggered right after startup.
func (s SchedulerConfig) StartOnBoot() bool {
	return s.RunOnStartup == nil || *s.RunOnStartup
}

// Location resolves the scheduler timezone string to a time.Location.
func (s SchedulerConfig) Location() *time.Location {
	if s.location != nil {
		return s.location
	}
	loc, err := time.LoadLocation(defaultTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// DatabaseConfig describes Postgres connection details. An empty DSN disables history.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// StorageConfig describes the S3 bucket receiving export archives.
type StorageConfig struct {
	Bucket     string        `yaml:"bucket"`
	Prefix     string        `yaml:"prefix"`
	Region     string        `yaml:"region"`
	Endpoint   string        `yaml:"endpoint"`
	PathStyle  bool          `yaml:"pathStyle"`
	PresignTTL time.Duration `yaml:"presignTtl"`
}

// NotificationConfig encapsulates outbound channels.
type NotificationConfig struct {
	Mail     MailConfig     `yaml:"mail"`
	Telegram TelegramConfig `yaml:"telegram"`
}

// MailConfig holds SMTP settings for the processing report.
type MailConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
	To       string `yaml:"to"`
	Cc       string `yaml:"cc"`
}

// TelegramConfig wires all data required to send messages.
type TelegramConfig struct {
	BotToken string `yaml:"botToken"`
	ChatID   string `yaml:"chatId"`
}

// RedisConfig enables the cross-replica run lock.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	LockKey  string `yaml:"lockKey"`
}

// OpsConfig configures the health/metrics listener.
type OpsConfig struct {
	Addr string `yaml:"addr"`
}

// LoggingConfig selects level and output format (text or json).
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads YAML configuration (if present) and applies environment overrides.
func Load() Config {
	cfg := defaultConfig()

	if path := os.Getenv(configPathEnv); path != "" {
		fileCfg, err := ReadFile(path)
		if err != nil {
			log.Printf("config: %v (falling back to defaults)", err)
		} else {
			cfg = mergeConfig(cfg, fileCfg)
		}
	}

	cfg.applyEnvOverrides()
	cfg.bindTimezone()

	return cfg
}

// ReadFile parses a YAML configuration file without applying defaults.
func ReadFile(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("cannot read %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("cannot parse %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	setString := func(target *string, keys ...string) {
		for _, key := range keys {
			if v := os.Getenv(key); v != "" {
				*target = v
				return
			}
		}
	}

	setString(&c.Database.DSN, databaseDSNEnv)
	setString(&c.Geodienste.User, authUserEnv, authUserAltEnv)
	setString(&c.Geodienste.Password, authPasswordEnv, authPasswordAlt)

	setString(&c.Notifications.Mail.Host, smtpHostEnv)
	setString(&c.Notifications.Mail.User, smtpUserEnv)
	setString(&c.Notifications.Mail.Password, smtpPasswordEnv)
	setString(&c.Notifications.Mail.From, smtpFromEnv)
	setString(&c.Notifications.Mail.To, smtpToEnv)
	setString(&c.Notifications.Mail.Cc, smtpCcEnv)
	if v := os.Getenv(smtpPortEnv); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Notifications.Mail.Port = port
		} else {
			log.Printf("config: invalid %s %q, keeping %d", smtpPortEnv, v, c.Notifications.Mail.Port)
		}
	}

	setString(&c.Notifications.Telegram.BotToken, telegramTokenEnv)
	setString(&c.Notifications.Telegram.ChatID, telegramChatIDEnv)
	setString(&c.Redis.Addr, redisAddrEnv)
	setString(&c.Logging.Level, logLevelEnv)
	setString(&c.Scheduler.CronExpression, scheduleEnv)
}

func (c *Config) bindTimezone() {
	tz := c.Scheduler.Timezone
	if tz == "" {
		tz = defaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		log.Printf("config: unknown timezone %s, reverting to %s", tz, defaultTimezone)
		tz = defaultTimezone
		loc, err = time.LoadLocation(defaultTimezone)
		if err != nil {
			loc = time.UTC
		}
	}
	c.Scheduler.Timezone = tz
	c.Scheduler.location = loc
}

func mergeConfig(base, override Config) Config {
	mergeString := func(target *string, value string) {
		if value != "" {
			*target = value
		}
	}
	mergeDuration := func(target *time.Duration, value time.Duration) {
		if value > 0 {
			*target = value
		}
	}

	mergeString(&base.Geodienste.BaseURL, override.Geodienste.BaseURL)
	mergeString(&base.Geodienste.Language, override.Geodienste.Language)
	mergeString(&base.Geodienste.User, override.Geodienste.User)
	mergeString(&base.Geodienste.Password, override.Geodienste.Password)
	mergeDuration(&base.Geodienste.PollInterval, override.Geodienste.PollInterval)
	mergeDuration(&base.Geodienste.PollTimeout, override.Geodienste.PollTimeout)
	mergeDuration(&base.Geodienste.RequestTimeout, override.Geodienste.RequestTimeout)

	mergeString(&base.Tokens.Source, override.Tokens.Source)
	if len(override.Tokens.Settings) > 0 {
		base.Tokens.Settings = override.Tokens.Settings
	}
	mergeString(&base.Tokens.SecretPrefix, override.Tokens.SecretPrefix)
	mergeString(&base.Tokens.Region, override.Tokens.Region)

	if override.Processing.Concurrency > 0 {
		base.Processing.Concurrency = override.Processing.Concurrency
	}
	mergeDuration(&base.Processing.FreshnessWindow, override.Processing.FreshnessWindow)
	mergeDuration(&base.Processing.LockTTL, override.Processing.LockTTL)
	if override.Processing.Dedup != nil {
		base.Processing.Dedup = override.Processing.Dedup
	}

	mergeString(&base.Scheduler.CronExpression, override.Scheduler.CronExpression)
	mergeString(&base.Scheduler.Timezone, override.Scheduler.Timezone)
	if override.Scheduler.RunOnStartup != nil {
		base.Scheduler.RunOnStartup = override.Scheduler.RunOnStartup
	}

	if override.Database.DSN != "" {
		base.Database = override.Database
	}

	if override.Storage.Bucket != "" {
		presignTTL := base.Storage.PresignTTL
		base.Storage = override.Storage
		if base.Storage.PresignTTL <= 0 {
			base.Storage.PresignTTL = presignTTL
		}
	}

	mail := override.Notifications.Mail
	mergeString(&base.Notifications.Mail.Host, mail.Host)
	if mail.Port > 0 {
		base.Notifications.Mail.Port = mail.Port
	}
	mergeString(&base.Notifications.Mail.User, mail.User)
	mergeString(&base.Notifications.Mail.Password, mail.Password)
	mergeString(&base.Notifications.Mail.From, mail.From)
	mergeString(&base.Notifications.Mail.To, mail.To)
	mergeString(&base.Notifications.Mail.Cc, mail.Cc)

	mergeString(&base.Notifications.Telegram.BotToken, override.Notifications.Telegram.BotToken)
	mergeString(&base.Notifications.Telegram.ChatID, override.Notifications.Telegram.ChatID)

	if override.Redis.Addr != "" {
		base.Redis = override.Redis
	}

	mergeString(&base.Ops.Addr, override.Ops.Addr)
	mergeString(&base.Logging.Level, override.Logging.Level)
	mergeString(&base.Logging.Format, override.Logging.Format)

	return base
}

func defaultConfig() Config {
	return Config{
		Geodienste: GeodiensteConfig{
			BaseURL:        "https://geodienste.ch",
			Language:       "de",
			PollInterval:   time.Minute,
			PollTimeout:    10 * time.Minute,
			RequestTimeout: 30 * time.Second,
		},
		Tokens: TokensConfig{Source: TokenSourceEnv},
		Processing: ProcessingConfig{
			Concurrency:     4,
			FreshnessWindow: 24 * time.Hour,
			LockTTL:         2 * time.Hour,
		},
		Scheduler: SchedulerConfig{CronExpression: "0 * * * *", Timezone: defaultTimezone},
		Storage:   StorageConfig{PresignTTL: 7 * 24 * time.Hour},
		Notifications: NotificationConfig{
			Mail: MailConfig{Port: 25},
		},
		Ops:     OpsConfig{Addr: ":8080"},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}
