package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	Gateways GatewaysConfig
	Booking  BookingConfig
	Sweeper  SweeperConfig
	RabbitMQ RabbitMQConfig
}

type ServerConfig struct {
	Port            string
	Env             string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

type DatabaseConfig struct {
	Host            string
	Port            string
	User            string
	Password        string
	Name            string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DSN returns the lib/pq connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

func (c RedisConfig) Addr() string {
	return c.Host + ":" + c.Port
}

type JWTConfig struct {
	SecretKey string
}

type GatewaysConfig struct {
	Card     CardGatewayConfig
	Regional RegionalGatewayConfig
}

// CardGatewayConfig holds the card provider (Stripe) credentials.
type CardGatewayConfig struct {
	SecretKey      string
	PublishableKey string
	WebhookSecret  string
}

// RegionalGatewayConfig holds the regional provider (Razorpay) credentials.
// KeyID is public and is handed to clients together with the order id.
type RegionalGatewayConfig struct {
	KeyID         string
	KeySecret     string
	WebhookSecret string
}

type BookingConfig struct {
	AwaitInterval   time.Duration
	AwaitTimeout    time.Duration
	CodePrefix      string
	CodeWidth       int
	TimezoneOffset  time.Duration
	DefaultCurrency string
}

// Location is the fixed-offset zone used for check-in and event end times.
func (c BookingConfig) Location() *time.Location {
	return time.FixedZone("marketplace", int(c.TimezoneOffset.Seconds()))
}

type SweeperConfig struct {
	EventSpec     string
	PropertySpec  string
	ReconcileSpec string
	LockTTL       time.Duration
	StaleAfter    time.Duration
	BatchSize     int
}

type RabbitMQConfig struct {
	URL      string
	Exchange string
}

var envBindings = map[string]string{
	"server.port":                      "PORT",
	"server.env":                       "APP_ENV",
	"database.host":                    "DATABASE_HOST",
	"database.port":                    "DATABASE_PORT",
	"database.user":                    "DATABASE_USER",
	"database.password":                "DATABASE_PASSWORD",
	"database.name":                    "DATABASE_NAME",
	"database.ssl_mode":                "DATABASE_SSL_MODE",
	"redis.host":                       "REDIS_HOST",
	"redis.port":                       "REDIS_PORT",
	"redis.password":                   "REDIS_PASSWORD",
	"redis.db":                         "REDIS_DB",
	"jwt.secret_key":                   "JWT_SECRET_KEY",
	"gateways.card.secret_key":         "STRIPE_SECRET_KEY",
	"gateways.card.publishable_key":    "STRIPE_PUBLISHABLE_KEY",
	"gateways.card.webhook_secret":     "STRIPE_WEBHOOK_SECRET",
	"gateways.regional.key_id":         "RAZORPAY_KEY_ID",
	"gateways.regional.key_secret":     "RAZORPAY_KEY_SECRET",
	"gateways.regional.webhook_secret": "RAZORPAY_WEBHOOK_SECRET",
	"booking.await_interval":           "BOOKING_AWAIT_INTERVAL",
	"booking.await_timeout":            "BOOKING_AWAIT_TIMEOUT",
	"booking.code_prefix":              "BOOKING_CODE_PREFIX",
	"booking.timezone_offset":          "BOOKING_TIMEZONE_OFFSET",
	"booking.default_currency":         "BOOKING_DEFAULT_CURRENCY",
	"sweeper.event_spec":               "SWEEPER_EVENT_SPEC",
	"sweeper.property_spec":            "SWEEPER_PROPERTY_SPEC",
	"sweeper.reconcile_spec":           "SWEEPER_RECONCILE_SPEC",
	"sweeper.lock_ttl":                 "SWEEPER_LOCK_TTL",
	"sweeper.stale_after":              "SWEEPER_STALE_AFTER",
	"rabbitmq.url":                     "RABBITMQ_URL",
	"rabbitmq.exchange":                "RABBITMQ_EXCHANGE",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.env", "development")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "password")
	v.SetDefault("database.name", "staybook")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", "6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("booking.await_interval", 500*time.Millisecond)
	v.SetDefault("booking.await_timeout", 10*time.Second)
	v.SetDefault("booking.code_prefix", "BK")
	v.SetDefault("booking.code_width", 5)
	v.SetDefault("booking.timezone_offset", 5*time.Hour+30*time.Minute)
	v.SetDefault("booking.default_currency", "INR")

	v.SetDefault("sweeper.event_spec", "*/15 * * * *")
	v.SetDefault("sweeper.property_spec", "5 * * * *")
	v.SetDefault("sweeper.reconcile_spec", "*/5 * * * *")
	v.SetDefault("sweeper.lock_ttl", 10*time.Minute)
	v.SetDefault("sweeper.stale_after", 2*time.Minute)
	v.SetDefault("sweeper.batch_size", 100)

	v.SetDefault("rabbitmq.url", "")
	v.SetDefault("rabbitmq.exchange", "booking.events")
}

// Load reads .env (if present) and the environment into a Config.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	setDefaults(v)
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind %s: %w", env, err)
		}
	}

	// A missing .env is fine; the environment still applies.
	_ = v.ReadInConfig()

	return fromViper(v), nil
}

func fromViper(v *viper.Viper) *Config {
	return &Config{
		Server: ServerConfig{
			Port:            v.GetString("server.port"),
			Env:             v.GetString("server.env"),
			ReadTimeout:     v.GetDuration("server.read_timeout"),
			WriteTimeout:    v.GetDuration("server.write_timeout"),
			ShutdownTimeout: v.GetDuration("server.shutdown_timeout"),
		},
		Database: DatabaseConfig{
			Host:            v.GetString("database.host"),
			Port:            v.GetString("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			Name:            v.GetString("database.name"),
			SSLMode:         v.GetString("database.ssl_mode"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetDuration("database.conn_max_lifetime"),
		},
		Redis: RedisConfig{
			Host:     v.GetString("redis.host"),
			Port:     v.GetString("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		JWT: JWTConfig{
			SecretKey: v.GetString("jwt.secret_key"),
		},
		Gateways: GatewaysConfig{
			Card: CardGatewayConfig{
				SecretKey:      v.GetString("gateways.card.secret_key"),
				PublishableKey: v.GetString("gateways.card.publishable_key"),
				WebhookSecret:  v.GetString("gateways.card.webhook_secret"),
			},
			Regional: RegionalGatewayConfig{
				KeyID:         v.GetString("gateways.regional.key_id"),
				KeySecret:     v.GetString("gateways.regional.key_secret"),
				WebhookSecret: v.GetString("gateways.regional.webhook_secret"),
			},
		},
		Booking: BookingConfig{
			AwaitInterval:   v.GetDuration("booking.await_interval"),
			AwaitTimeout:    v.GetDuration("booking.await_timeout"),
			CodePrefix:      v.GetString("booking.code_prefix"),
			CodeWidth:       v.GetInt("booking.code_width"),
			TimezoneOffset:  v.GetDuration("booking.timezone_offset"),
			DefaultCurrency: v.GetString("booking.default_currency"),
		},
		Sweeper: SweeperConfig{
			EventSpec:     v.GetString("sweeper.event_spec"),
			PropertySpec:  v.GetString("sweeper.property_spec"),
			ReconcileSpec: v.GetString("sweeper.reconcile_spec"),
			LockTTL:       v.GetDuration("sweeper.lock_ttl"),
			StaleAfter:    v.GetDuration("sweeper.stale_after"),
			BatchSize:     v.GetInt("sweeper.batch_size"),
		},
		RabbitMQ: RabbitMQConfig{
			URL:      v.GetString("rabbitmq.url"),
			Exchange: v.GetString("rabbitmq.exchange"),
		},
	}
}
