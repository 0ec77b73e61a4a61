package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{Port: "8080"},
		Database: DatabaseConfig{
			Driver: "postgres",
			Host:   "localhost",
			User:   "test",
			DBName: "test",
		},
		Schedule: ScheduleConfig{
			Timezone:      "Europe/Moscow",
			WindowStart:   "09:10",
			WindowEnd:     "19:45",
			MinDelay:      4 * time.Minute,
			MaxDelay:      8 * time.Minute,
			LookaheadDays: 7,
			Weekdays:      []string{"mon", "tue"},
		},
		Scheduler: SchedulerConfig{
			Interval:   30 * time.Second,
			BatchSize:  20,
			ClaimLease: 10 * time.Minute,
		},
		Routing: RoutingConfig{
			DefaultChannel: "gmail",
			ClassChannels:  map[string]string{"RU": "yandex", "OTHER": "gmail", "UNKNOWN": "gmail"},
		},
		Channels: map[string]ChannelConfig{
			"gmail":  {Transport: TransportSMTP, Host: "smtp.gmail.com", Port: 587, TLSMode: TLSModeStartTLS, From: "leadgen@example.com"},
			"yandex": {Transport: TransportSMTP, Port: 465, TLSMode: TLSModeSSL},
		},
	}
}

func TestConfigValidation(t *testing.T) {
	config := validConfig()
	assert.NoError(t, config.Validate())

	invalidConfig := &Config{
		Server: ServerConfig{
			Port: "",
		},
	}
	assert.Error(t, invalidConfig.Validate())
}

func TestConfigValidationRejectsBadSchedule(t *testing.T) {
	config := validConfig()
	config.Schedule.WindowStart = "20:00"
	assert.Error(t, config.Validate())

	config = validConfig()
	config.Schedule.MinDelay = 10 * time.Minute
	assert.Error(t, config.Validate())

	config = validConfig()
	config.Schedule.Weekdays = nil
	assert.Error(t, config.Validate())

	config = validConfig()
	config.Schedule.Timezone = "Mars/Olympus"
	assert.Error(t, config.Validate())
}

func TestConfigValidationRejectsBadRouting(t *testing.T) {
	config := validConfig()
	config.Routing.DefaultChannel = "sendgrid"
	assert.Error(t, config.Validate())

	config = validConfig()
	config.Routing.ClassChannels["RU"] = "mailru"
	assert.Error(t, config.Validate())

	config = validConfig()
	gmail := config.Channels["gmail"]
	gmail.From = ""
	config.Channels["gmail"] = gmail
	assert.Error(t, config.Validate())

	config = validConfig()
	gmail = config.Channels["gmail"]
	gmail.TLSMode = "tls13"
	config.Channels["gmail"] = gmail
	assert.Error(t, config.Validate())
}

func TestMemoryDriverNeedsNoHost(t *testing.T) {
	config := validConfig()
	config.Database = DatabaseConfig{Driver: "memory"}
	assert.NoError(t, config.Validate())

	config.Database.Driver = "sqlite"
	assert.Error(t, config.Validate())
}

func TestDatabaseDSN(t *testing.T) {
	config := DatabaseConfig{
		Driver:   "mysql",
		Host:     "localhost",
		Port:     3306,
		User:     "testuser",
		Password: "testpass",
		DBName:   "testdb",
	}
	assert.Equal(t, "testuser:testpass@tcp(localhost:3306)/testdb?charset=utf8mb4&parseTime=True&loc=UTC", config.GetDSN())

	config.Driver = "postgres"
	config.Port = 5432
	config.SSLMode = "disable"
	assert.Equal(t, "host=localhost port=5432 user=testuser password=testpass dbname=testdb sslmode=disable TimeZone=UTC", config.GetDSN())
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("GMAIL_FROM_EMAIL", "leadgen@example.com")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "Europe/Moscow", cfg.Schedule.Timezone)
	assert.Equal(t, "09:10", cfg.Schedule.WindowStart)
	assert.Equal(t, "19:45", cfg.Schedule.WindowEnd)
	assert.Equal(t, 4*time.Minute, cfg.Schedule.MinDelay)
	assert.Equal(t, 8*time.Minute, cfg.Schedule.MaxDelay)
	assert.Equal(t, 1500*time.Millisecond, cfg.Routing.DNSTimeout())
	assert.Equal(t, 168*time.Hour, cfg.Routing.MXCacheTTL())
	assert.Equal(t, []string{"1.1.1.1", "8.8.8.8"}, cfg.Routing.DNSResolvers)
	assert.Contains(t, cfg.Routing.ForceRUDomains, "yandex.ru")
	assert.Equal(t, "yandex", cfg.Routing.ClassChannels["RU"])
	assert.Equal(t, "gmail", cfg.Routing.ClassChannels["UNKNOWN"])

	gmail := cfg.Channels["gmail"]
	assert.Equal(t, "smtp.gmail.com", gmail.Host)
	assert.Equal(t, 587, gmail.Port)
	assert.Equal(t, TLSModeStartTLS, gmail.TLSMode)
	assert.True(t, gmail.Configured())

	yandex := cfg.Channels["yandex"]
	assert.Equal(t, 465, yandex.Port)
	assert.Equal(t, TLSModeSSL, yandex.TLSMode)
	assert.Equal(t, "gmail", yandex.ReplyToChannel)
	assert.False(t, yandex.Configured())

	assert.True(t, cfg.Sending.Enabled)
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("GMAIL_FROM_EMAIL", "leadgen@example.com")
	t.Setenv("YANDEX_SMTP_HOST", "smtp.yandex.ru")
	t.Setenv("YANDEX_USER", "robot@yandex.ru")
	t.Setenv("ROUTING_ENABLED", "false")
	t.Setenv("ROUTING_DNS_TIMEOUT_MS", "20")
	t.Setenv("APP_TIMEZONE", "UTC")

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.False(t, cfg.Routing.Enabled)
	assert.Equal(t, 100*time.Millisecond, cfg.Routing.DNSTimeout())
	assert.Equal(t, "UTC", cfg.Schedule.Timezone)

	yandex := cfg.Channels["yandex"]
	assert.Equal(t, "robot@yandex.ru", yandex.From)
	assert.True(t, yandex.Configured())
}

func TestLoadConfigCombinedSender(t *testing.T) {
	t.Setenv("GMAIL_FROM_EMAIL", "fallback@example.com")
	t.Setenv("GMAIL_FROM_NAME", "Fallback")
	t.Setenv("GMAIL_FROM", "Sales Team <sales@example.com>")
	t.Setenv("YANDEX_SMTP_HOST", "smtp.yandex.ru")
	t.Setenv("YANDEX_FROM_NAME", "Отдел продаж")
	t.Setenv("YANDEX_FROM", "robot@yandex.ru")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	gmail := cfg.Channels["gmail"]
	assert.Equal(t, "sales@example.com", gmail.From)
	assert.Equal(t, "Sales Team", gmail.FromName)

	yandex := cfg.Channels["yandex"]
	assert.Equal(t, "robot@yandex.ru", yandex.From)
	assert.Equal(t, "Отдел продаж", yandex.FromName)
}

func TestInvalidCombinedSenderIsRejected(t *testing.T) {
	t.Setenv("GMAIL_FROM_EMAIL", "fallback@example.com")
	t.Setenv("GMAIL_FROM", "Sales Team <not an address")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "fallback@example.com", cfg.Channels["gmail"].From)
	assert.ErrorContains(t, cfg.Validate(), "invalid sender")
}

func TestLoadConfigSendingSwitch(t *testing.T) {
	t.Setenv("GMAIL_FROM_EMAIL", "leadgen@example.com")
	t.Setenv("EMAIL_SENDING_ENABLED", "false")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.False(t, cfg.Sending.Enabled)
}

func TestScheduleDays(t *testing.T) {
	days, err := ScheduleConfig{Weekdays: []string{"Monday", "fri", " SUN "}}.Days()
	require.NoError(t, err)
	assert.Equal(t, []time.Weekday{time.Monday, time.Friday, time.Sunday}, days)

	_, err = ScheduleConfig{Weekdays: []string{"funday"}}.Days()
	assert.Error(t, err)
}
