package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/sivakasi-crackers/order-dashboard/internal/contact"
	"github.com/sivakasi-crackers/order-dashboard/internal/invoice"
)

const (
	SourceMemory   = "memory"
	SourcePostgres = "postgres"
	SourceKafka    = "kafka"
)

type Config struct {
	HTTPAddr        string        `env:"HTTP_ADDR" envDefault:":8080"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`

	OrderSource  string   `env:"ORDER_SOURCE" envDefault:"memory"`
	SeedFile     string   `env:"SEED_FILE"`
	DatabaseURL  string   `env:"DATABASE_URL"`
	OrderChannel string   `env:"ORDER_CHANNEL" envDefault:"customer_orders_changed"`
	KafkaBrokers []string `env:"KAFKA_BROKERS" envSeparator:","`
	OrderTopic   string   `env:"ORDER_TOPIC" envDefault:"customer-orders"`
	InvoiceTopic string   `env:"INVOICE_TOPIC"`

	RedisAddr       string        `env:"REDIS_ADDR"`
	InvoiceCacheTTL time.Duration `env:"INVOICE_CACHE_TTL" envDefault:"10m"`

	BreakerMaxFailures int           `env:"BREAKER_MAX_FAILURES" envDefault:"3"`
	BreakerCooldown    time.Duration `env:"BREAKER_COOLDOWN" envDefault:"30s"`

	InvoiceFontPath     string `env:"INVOICE_FONT_PATH"`
	InvoiceBoldFontPath string `env:"INVOICE_BOLD_FONT_PATH"`
	TimeZone            string `env:"TIME_ZONE" envDefault:"Asia/Kolkata"`

	ShopName         string   `env:"SHOP_NAME" envDefault:"MAHITHRAA SRI CRACKERS"`
	ShopAddressLine1 string   `env:"SHOP_ADDRESS_LINE1" envDefault:"Vanamoorthilingapuram,"`
	ShopAddressLine2 string   `env:"SHOP_ADDRESS_LINE2" envDefault:"Madathupatti, Sivakasi - 626123"`
	ShopPhones       []string `env:"SHOP_PHONES" envSeparator:"," envDefault:"+919080533427,+918110087349"`
	ContactPhone     string   `env:"CONTACT_PHONE" envDefault:"+919080533427"`
	ContactMessage   string   `env:"CONTACT_MESSAGE"`
}

// Load reads an optional .env file, then the process environment.
func Load(files ...string) (*Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load env file: %w", err)
	}
	return Parse(env.Options{})
}

// Parse builds a Config from the environment described by opts.
func Parse(opts env.Options) (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg, opts); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("LOG_LEVEL: %w", err)
	}
	if _, err := time.LoadLocation(c.TimeZone); err != nil {
		return fmt.Errorf("TIME_ZONE: %w", err)
	}

	switch c.OrderSource {
	case SourceMemory:
	case SourcePostgres:
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required when ORDER_SOURCE=postgres")
		}
	case SourceKafka:
		if len(c.KafkaBrokers) == 0 {
			return errors.New("KAFKA_BROKERS is required when ORDER_SOURCE=kafka")
		}
	default:
		return fmt.Errorf("ORDER_SOURCE must be one of %s, %s, %s; got %q",
			SourceMemory, SourcePostgres, SourceKafka, c.OrderSource)
	}

	if c.InvoiceTopic != "" && len(c.KafkaBrokers) == 0 {
		return errors.New("KAFKA_BROKERS is required when INVOICE_TOPIC is set")
	}
	if c.InvoiceCacheTTL < 0 {
		return errors.New("INVOICE_CACHE_TTL must not be negative")
	}
	if c.BreakerMaxFailures < 1 {
		return errors.New("BREAKER_MAX_FAILURES must be at least 1")
	}
	return nil
}

func (c *Config) Level() logrus.Level {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}

func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (c *Config) Shop() invoice.Shop {
	shop := invoice.Shop{Name: c.ShopName}
	for _, line := range []string{c.ShopAddressLine1, c.ShopAddressLine2} {
		if line != "" {
			shop.AddressLines = append(shop.AddressLines, line)
		}
	}
	if len(c.ShopPhones) > 0 {
		shop.PhoneLine = "Phone no.: " + strings.Join(c.ShopPhones, " & ")
	}
	return shop
}

func (c *Config) InvoiceOptions() invoice.Options {
	return invoice.Options{FontPath: c.InvoiceFontPath, BoldFontPath: c.InvoiceBoldFontPath}
}

func (c *Config) Contact() contact.Info {
	return contact.New(c.ContactPhone, c.ContactMessage)
}
