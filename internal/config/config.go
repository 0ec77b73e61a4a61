package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/mail"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Transport kinds accepted by channels.<name>.transport
const (
	TransportSMTP     = "smtp"
	TransportGmailAPI = "gmail_api"
)

// TLS modes accepted by channels.<name>.tls_mode
const (
	TLSModeSSL      = "ssl"
	TLSModeStartTLS = "starttls"
	TLSModeNone     = "none"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig             `mapstructure:"server"`
	Database  DatabaseConfig           `mapstructure:"database"`
	Redis     RedisConfig              `mapstructure:"redis"`
	Log       LogConfig                `mapstructure:"log"`
	Schedule  ScheduleConfig           `mapstructure:"schedule"`
	Scheduler SchedulerConfig          `mapstructure:"scheduler"`
	Routing   RoutingConfig            `mapstructure:"routing"`
	Sending   SendingConfig            `mapstructure:"sending"`
	Channels  map[string]ChannelConfig `mapstructure:"channels"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         string        `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// RedisConfig holds the shared MX cache connection
type RedisConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	URL       string `mapstructure:"url"`
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// ScheduleConfig describes when queued messages may be sent
type ScheduleConfig struct {
	Queue         string        `mapstructure:"queue"`
	Timezone      string        `mapstructure:"timezone"`
	WindowStart   string        `mapstructure:"window_start"`
	WindowEnd     string        `mapstructure:"window_end"`
	MinDelay      time.Duration `mapstructure:"min_delay"`
	MaxDelay      time.Duration `mapstructure:"max_delay"`
	LookaheadDays int           `mapstructure:"lookahead_days"`
	Weekdays      []string      `mapstructure:"weekdays"`
}

// SchedulerConfig holds delivery tick configuration
type SchedulerConfig struct {
	Interval   time.Duration `mapstructure:"interval"`
	BatchSize  int           `mapstructure:"batch_size"`
	ClaimLease time.Duration `mapstructure:"claim_lease"`
	Autostart  bool          `mapstructure:"autostart"`
}

// SendingConfig is the global delivery switch. Disabled sending still
// accepts and schedules messages but never claims them.
type SendingConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// RoutingConfig holds MX classification and channel routing options
type RoutingConfig struct {
	Enabled         bool              `mapstructure:"enabled"`
	MXCacheTTLHours int               `mapstructure:"mx_cache_ttl_hours"`
	DNSTimeoutMS    int               `mapstructure:"dns_timeout_ms"`
	DNSResolvers    []string          `mapstructure:"dns_resolvers"`
	RUMXPatterns    []string          `mapstructure:"ru_mx_patterns"`
	ForceRUDomains  []string          `mapstructure:"force_ru_domains"`
	DefaultChannel  string            `mapstructure:"default_channel"`
	ClassChannels   map[string]string `mapstructure:"class_channels"`
}

// ChannelConfig describes one outbound mail channel
type ChannelConfig struct {
	Transport      string        `mapstructure:"transport"`
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	TLSMode        string        `mapstructure:"tls_mode"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	From           string        `mapstructure:"from"`
	FromName       string        `mapstructure:"from_name"`
	Sender         string        `mapstructure:"sender"` // "Name <email>", overrides from and from_name
	ReplyTo        string        `mapstructure:"reply_to"`
	ReplyToChannel string        `mapstructure:"reply_to_channel"`
	Timeout        time.Duration `mapstructure:"timeout"`
	RatePerMinute  int           `mapstructure:"rate_per_minute"`
	Burst          int           `mapstructure:"burst"`
	OAuth          OAuthConfig   `mapstructure:"oauth"`
}

// OAuthConfig holds Google OAuth2 credentials for a channel
type OAuthConfig struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	RefreshToken string `mapstructure:"refresh_token"`
}

// LoadConfig loads configuration from .env, an optional config file and the environment.
// An empty path searches ./config.yaml and ./config/config.yaml.
func LoadConfig(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("error loading .env file: %w", err)
	}

	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	// Environment variables override config file
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	bindEnvVars(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	config.normalize()

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "leadgen")
	v.SetDefault("database.dbname", "leadgen")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.max_open_conns", 100)
	v.SetDefault("database.conn_max_lifetime", "1h")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "outreach:mx:")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 30)
	v.SetDefault("log.compress", true)

	v.SetDefault("schedule.queue", "default")
	v.SetDefault("schedule.timezone", "Europe/Moscow")
	v.SetDefault("schedule.window_start", "09:10")
	v.SetDefault("schedule.window_end", "19:45")
	v.SetDefault("schedule.min_delay", "4m")
	v.SetDefault("schedule.max_delay", "8m")
	v.SetDefault("schedule.lookahead_days", 7)
	v.SetDefault("schedule.weekdays", []string{"mon", "tue", "wed", "thu", "fri", "sat", "sun"})

	v.SetDefault("scheduler.interval", "30s")
	v.SetDefault("scheduler.batch_size", 20)
	v.SetDefault("scheduler.claim_lease", "10m")
	v.SetDefault("scheduler.autostart", true)

	v.SetDefault("sending.enabled", true)

	v.SetDefault("routing.enabled", true)
	v.SetDefault("routing.mx_cache_ttl_hours", 168)
	v.SetDefault("routing.dns_timeout_ms", 1500)
	v.SetDefault("routing.dns_resolvers", []string{"1.1.1.1", "8.8.8.8"})
	v.SetDefault("routing.ru_mx_patterns", []string{
		"mx.yandex.net",
		"mxs.mail.ru",
		"mx1.mail.ru",
		"mxs-cloud.mail.ru",
		"mx.rambler.ru",
		"mxs.rambler.ru",
	})
	v.SetDefault("routing.force_ru_domains", []string{
		"yandex.ru",
		"yandex.com",
		"mail.ru",
		"bk.ru",
		"inbox.ru",
		"list.ru",
		"rambler.ru",
	})
	v.SetDefault("routing.default_channel", "gmail")
	v.SetDefault("routing.class_channels", map[string]string{
		"RU":      "yandex",
		"OTHER":   "gmail",
		"UNKNOWN": "gmail",
	})

	v.SetDefault("channels.gmail.transport", TransportSMTP)
	v.SetDefault("channels.gmail.host", "smtp.gmail.com")
	v.SetDefault("channels.gmail.port", 587)
	v.SetDefault("channels.gmail.tls_mode", TLSModeStartTLS)
	v.SetDefault("channels.gmail.timeout", "30s")
	v.SetDefault("channels.gmail.rate_per_minute", 20)
	v.SetDefault("channels.gmail.burst", 1)

	v.SetDefault("channels.yandex.transport", TransportSMTP)
	v.SetDefault("channels.yandex.host", "")
	v.SetDefault("channels.yandex.port", 465)
	v.SetDefault("channels.yandex.tls_mode", TLSModeSSL)
	v.SetDefault("channels.yandex.reply_to_channel", "gmail")
	v.SetDefault("channels.yandex.timeout", "30s")
	v.SetDefault("channels.yandex.rate_per_minute", 20)
	v.SetDefault("channels.yandex.burst", 1)
}

// bindEnvVars binds environment variables to configuration keys
func bindEnvVars(v *viper.Viper) {
	// Server
	v.BindEnv("server.port", "SERVER_PORT")
	v.BindEnv("server.read_timeout", "SERVER_READ_TIMEOUT")
	v.BindEnv("server.write_timeout", "SERVER_WRITE_TIMEOUT")

	// Database
	v.BindEnv("database.driver", "DB_DRIVER")
	v.BindEnv("database.host", "DB_HOST", "POSTGRES_HOST")
	v.BindEnv("database.port", "DB_PORT", "POSTGRES_PORT")
	v.BindEnv("database.user", "DB_USER", "POSTGRES_USER")
	v.BindEnv("database.password", "DB_PASSWORD", "POSTGRES_PASSWORD")
	v.BindEnv("database.dbname", "DB_NAME", "POSTGRES_DB")
	v.BindEnv("database.sslmode", "DB_SSLMODE")

	// Redis
	v.BindEnv("redis.enabled", "REDIS_ENABLED")
	v.BindEnv("redis.url", "REDIS_URL")
	v.BindEnv("redis.addr", "REDIS_ADDR")
	v.BindEnv("redis.password", "REDIS_PASSWORD")

	// Logging
	v.BindEnv("log.level", "LOG_LEVEL")
	v.BindEnv("log.file", "LOG_FILE")

	// Schedule
	v.BindEnv("schedule.timezone", "APP_TIMEZONE")
	v.BindEnv("schedule.window_start", "SEND_WINDOW_START")
	v.BindEnv("schedule.window_end", "SEND_WINDOW_END")
	v.BindEnv("schedule.min_delay", "SEND_MIN_DELAY")
	v.BindEnv("schedule.max_delay", "SEND_MAX_DELAY")

	// Scheduler
	v.BindEnv("scheduler.interval", "SCHEDULER_INTERVAL")
	v.BindEnv("scheduler.batch_size", "SCHEDULER_BATCH_SIZE")
	v.BindEnv("scheduler.claim_lease", "SCHEDULER_CLAIM_LEASE")
	v.BindEnv("scheduler.autostart", "SCHEDULER_AUTOSTART")

	v.BindEnv("sending.enabled", "EMAIL_SENDING_ENABLED")

	// Routing
	v.BindEnv("routing.enabled", "ROUTING_ENABLED")
	v.BindEnv("routing.mx_cache_ttl_hours", "ROUTING_MX_CACHE_TTL_HOURS")
	v.BindEnv("routing.dns_timeout_ms", "ROUTING_DNS_TIMEOUT_MS")
	v.BindEnv("routing.dns_resolvers", "ROUTING_DNS_RESOLVERS")
	v.BindEnv("routing.ru_mx_patterns", "ROUTING_RU_MX_PATTERNS")
	v.BindEnv("routing.force_ru_domains", "ROUTING_FORCE_RU_DOMAINS")
	v.BindEnv("routing.default_channel", "ROUTING_DEFAULT_CHANNEL")

	// Gmail
	v.BindEnv("channels.gmail.transport", "GMAIL_TRANSPORT")
	v.BindEnv("channels.gmail.host", "GMAIL_SMTP_HOST", "SMTP_HOST")
	v.BindEnv("channels.gmail.port", "GMAIL_SMTP_PORT", "SMTP_PORT")
	v.BindEnv("channels.gmail.tls_mode", "GMAIL_SMTP_TLS_MODE")
	v.BindEnv("channels.gmail.username", "GMAIL_USER", "SMTP_USERNAME")
	v.BindEnv("channels.gmail.password", "GMAIL_PASS", "SMTP_PASSWORD")
	v.BindEnv("channels.gmail.from", "GMAIL_FROM_EMAIL", "SMTP_FROM_EMAIL")
	v.BindEnv("channels.gmail.from_name", "GMAIL_FROM_NAME", "SMTP_FROM_NAME")
	v.BindEnv("channels.gmail.sender", "GMAIL_FROM")
	v.BindEnv("channels.gmail.oauth.client_id", "GMAIL_CLIENT_ID")
	v.BindEnv("channels.gmail.oauth.client_secret", "GMAIL_CLIENT_SECRET")
	v.BindEnv("channels.gmail.oauth.refresh_token", "GMAIL_REFRESH_TOKEN")

	// Yandex
	v.BindEnv("channels.yandex.host", "YANDEX_SMTP_HOST")
	v.BindEnv("channels.yandex.port", "YANDEX_SMTP_PORT")
	v.BindEnv("channels.yandex.tls_mode", "YANDEX_SMTP_TLS_MODE")
	v.BindEnv("channels.yandex.username", "YANDEX_USER")
	v.BindEnv("channels.yandex.password", "YANDEX_PASS")
	v.BindEnv("channels.yandex.from", "YANDEX_FROM_EMAIL")
	v.BindEnv("channels.yandex.from_name", "YANDEX_FROM_NAME")
	v.BindEnv("channels.yandex.sender", "YANDEX_FROM")
	v.BindEnv("channels.yandex.reply_to", "YANDEX_REPLY_TO")
}

// normalize fills derived values that viper cannot express as defaults.
func (c *Config) normalize() {
	// viper lowercases map keys
	classes := make(map[string]string, len(c.Routing.ClassChannels))
	for class, channel := range c.Routing.ClassChannels {
		classes[strings.ToUpper(class)] = strings.ToLower(channel)
	}
	c.Routing.ClassChannels = classes
	c.Routing.DefaultChannel = strings.ToLower(c.Routing.DefaultChannel)

	for name, ch := range c.Channels {
		if addr, err := ch.senderAddress(); err == nil && addr != nil {
			ch.From = addr.Address
			if addr.Name != "" {
				ch.FromName = addr.Name
			}
		}
		if ch.From == "" {
			ch.From = ch.Username
		}
		if ch.Transport == "" {
			ch.Transport = TransportSMTP
		}
		ch.TLSMode = strings.ToLower(ch.TLSMode)
		c.Channels[name] = ch
	}
}

// GetDSN returns the database connection string for the configured driver
func (c *DatabaseConfig) GetDSN() string {
	switch c.Driver {
	case "mysql":
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
			c.User, c.Password, c.Host, c.Port, c.DBName)
	default:
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s TimeZone=UTC",
			c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
	}
}

// Configured reports whether the channel has enough settings to send mail
func (c ChannelConfig) Configured() bool {
	if c.From == "" {
		return false
	}
	if c.Transport == TransportGmailAPI {
		return c.OAuth.RefreshToken != ""
	}
	return c.Host != ""
}

func (c ChannelConfig) senderAddress() (*mail.Address, error) {
	if strings.TrimSpace(c.Sender) == "" {
		return nil, nil
	}
	return mail.ParseAddress(c.Sender)
}

// Address returns host:port for SMTP channels
func (c ChannelConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DNSTimeout returns the per-lookup DNS timeout
func (c RoutingConfig) DNSTimeout() time.Duration {
	d := time.Duration(c.DNSTimeoutMS) * time.Millisecond
	if d < 100*time.Millisecond {
		d = 100 * time.Millisecond
	}
	return d
}

// MXCacheTTL returns how long MX classifications stay fresh
func (c RoutingConfig) MXCacheTTL() time.Duration {
	return time.Duration(c.MXCacheTTLHours) * time.Hour
}

// Location loads the configured timezone
func (c ScheduleConfig) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// Days parses the weekday names into time.Weekday values
func (c ScheduleConfig) Days() ([]time.Weekday, error) {
	days := make([]time.Weekday, 0, len(c.Weekdays))
	for _, name := range c.Weekdays {
		key := strings.ToLower(strings.TrimSpace(name))
		if len(key) > 3 {
			key = key[:3]
		}
		day, ok := weekdayNames[key]
		if !ok {
			return nil, fmt.Errorf("invalid weekday %q", name)
		}
		days = append(days, day)
	}
	return days, nil
}

var weekdayNames = map[string]time.Weekday{
	"sun": time.Sunday,
	"mon": time.Monday,
	"tue": time.Tuesday,
	"wed": time.Wednesday,
	"thu": time.Thursday,
	"fri": time.Friday,
	"sat": time.Saturday,
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}

	switch c.Database.Driver {
	case "postgres", "mysql":
		if c.Database.Host == "" || c.Database.User == "" || c.Database.DBName == "" {
			return fmt.Errorf("database host, user, and dbname are required")
		}
	case "memory":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}

	if err := c.Schedule.validate(); err != nil {
		return err
	}

	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler interval must be greater than 0")
	}
	if c.Scheduler.BatchSize <= 0 {
		return fmt.Errorf("scheduler batch size must be greater than 0")
	}
	if c.Scheduler.ClaimLease <= 0 {
		return fmt.Errorf("scheduler claim lease must be greater than 0")
	}

	def, ok := c.Channels[c.Routing.DefaultChannel]
	if !ok {
		return fmt.Errorf("default channel %q is not defined", c.Routing.DefaultChannel)
	}
	if !def.Configured() {
		return fmt.Errorf("default channel %q requires a sender address and a host or oauth credentials", c.Routing.DefaultChannel)
	}
	for class, name := range c.Routing.ClassChannels {
		if _, ok := c.Channels[name]; !ok {
			return fmt.Errorf("routing class %s points to unknown channel %q", class, name)
		}
	}
	for name, ch := range c.Channels {
		if err := ch.validate(name); err != nil {
			return err
		}
	}

	return nil
}

func (c ScheduleConfig) validate() error {
	if _, err := c.Location(); err != nil {
		return err
	}
	start, err := time.Parse("15:04", c.WindowStart)
	if err != nil {
		return fmt.Errorf("invalid window start %q: %w", c.WindowStart, err)
	}
	end, err := time.Parse("15:04", c.WindowEnd)
	if err != nil {
		return fmt.Errorf("invalid window end %q: %w", c.WindowEnd, err)
	}
	if !start.Before(end) {
		return fmt.Errorf("window start %s must be before window end %s", c.WindowStart, c.WindowEnd)
	}
	if c.MinDelay <= 0 || c.MaxDelay < c.MinDelay {
		return fmt.Errorf("delay range must satisfy 0 < min_delay <= max_delay")
	}
	if c.LookaheadDays <= 0 {
		return fmt.Errorf("lookahead days must be greater than 0")
	}
	days, err := c.Days()
	if err != nil {
		return err
	}
	if len(days) == 0 {
		return fmt.Errorf("at least one weekday must be enabled")
	}
	return nil
}

func (c ChannelConfig) validate(name string) error {
	if _, err := c.senderAddress(); err != nil {
		return fmt.Errorf("channel %s: invalid sender %q: %w", name, c.Sender, err)
	}
	switch c.Transport {
	case TransportSMTP:
		switch c.TLSMode {
		case TLSModeSSL, TLSModeStartTLS, TLSModeNone:
		default:
			return fmt.Errorf("channel %s: unsupported tls mode %q", name, c.TLSMode)
		}
	case TransportGmailAPI:
		if c.From != "" && (c.OAuth.ClientID == "" || c.OAuth.ClientSecret == "") {
			return fmt.Errorf("channel %s: Gmail API transport requires OAuth2 client credentials", name)
		}
	default:
		return fmt.Errorf("channel %s: unsupported transport %q", name, c.Transport)
	}
	return nil
}
