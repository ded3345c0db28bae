// Package config loads runtime configuration from defaults, an optional YAML
// file, a .env file and the process environment, in increasing precedence.
//
// Keys are dotted ("db.host") and map onto upper-case environment variables
// with underscores ("DB_HOST").
package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Slot contention policies.
const (
	SlotPolicySkip = "skip"
	SlotPolicyFail = "fail"
)

// Config holds all runtime configuration values.
type Config struct {
	HTTP         HTTPConfig         `mapstructure:"http"`
	DB           DBConfig           `mapstructure:"db"`
	Registration RegistrationConfig `mapstructure:"registration"`
	Admission    AdmissionConfig    `mapstructure:"admission"`
	Cache        CacheConfig        `mapstructure:"cache"`
	Redis        RedisConfig        `mapstructure:"redis"`
	RabbitMQ     RabbitMQConfig     `mapstructure:"rabbitmq"`
	JWT          JWTConfig          `mapstructure:"jwt"`
	Tracing      TracingConfig      `mapstructure:"tracing"`
	Log          LogConfig          `mapstructure:"log"`
}

type HTTPConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DBConfig holds PostgreSQL connection settings.
type DBConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	ConnectAttempts int           `mapstructure:"connect_attempts"`
	ConnectBackoff  time.Duration `mapstructure:"connect_backoff"`
}

// DSN builds a libpq-compatible connection string.
func (c DBConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// URL builds a postgres URL for the migration driver.
func (c DBConfig) URL(scheme string) string {
	return fmt.Sprintf("%s://%s:%s@%s:%d/%s?sslmode=%s",
		scheme, c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

// RegistrationConfig controls candidate validation and the registration
// unit of work.
type RegistrationConfig struct {
	InternalDomain       string        `mapstructure:"internal_domain"`
	InternalOrganisation string        `mapstructure:"internal_organisation"`
	Departments          []string      `mapstructure:"departments"`
	SlotPolicy           string        `mapstructure:"slot_policy"`
	MaxRetries           int           `mapstructure:"max_retries"`
	RetryBackoff         time.Duration `mapstructure:"retry_backoff"`
	StoreTimeout         time.Duration `mapstructure:"store_timeout"`
}

// AdmissionConfig is the initial maximum for the in-memory store and the
// default for `admission set-max`.
type AdmissionConfig struct {
	MaxUsers int `mapstructure:"max_users"`
}

type CacheConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

// RedisConfig configures the shared status cache. An empty Addr disables it.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	TLS      bool   `mapstructure:"tls"`
}

// RabbitMQConfig configures event publishing. An empty URL disables it.
type RabbitMQConfig struct {
	URL            string        `mapstructure:"url"`
	Queue          string        `mapstructure:"queue"`
	PublishTimeout time.Duration `mapstructure:"publish_timeout"`
}

// JWTConfig configures admin authentication. An empty secret disables the
// admin API.
type JWTConfig struct {
	Secret string `mapstructure:"secret"`
}

type TracingConfig struct {
	Exporter     string  `mapstructure:"exporter"`
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	ServiceName  string  `mapstructure:"service_name"`
	SampleRate   float64 `mapstructure:"sample_rate"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Defaults returns the configuration used when nothing is overridden.
func Defaults() Config {
	return Config{
		HTTP: HTTPConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		DB: DBConfig{
			Host:            "localhost",
			Port:            5432,
			User:            "postgres",
			Password:        "postgres",
			Name:            "techday",
			SSLMode:         "disable",
			MaxConns:        20,
			MinConns:        2,
			ConnectAttempts: 5,
			ConnectBackoff:  2 * time.Second,
		},
		Registration: RegistrationConfig{
			InternalDomain:       "rdw.nl",
			InternalOrganisation: "RDW",
			Departments:          []string{"D&S", "ICT", "R&I", "T&B", "VRT"},
			SlotPolicy:           SlotPolicySkip,
			MaxRetries:           3,
			RetryBackoff:         25 * time.Millisecond,
			StoreTimeout:         5 * time.Second,
		},
		Admission: AdmissionConfig{MaxUsers: 500},
		Cache:     CacheConfig{TTL: 5 * time.Second},
		RabbitMQ:  RabbitMQConfig{Queue: "registration.committed", PublishTimeout: 2 * time.Second},
		Tracing: TracingConfig{
			Exporter:     "none",
			OTLPEndpoint: "localhost:4317",
			ServiceName:  "techday-registration",
			SampleRate:   1.0,
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// setDefaults registers every key with viper so that environment variables
// are picked up by Unmarshal.
func setDefaults(v *viper.Viper) {
	d := Defaults()
	v.SetDefault("http.port", d.HTTP.Port)
	v.SetDefault("http.read_timeout", d.HTTP.ReadTimeout)
	v.SetDefault("http.write_timeout", d.HTTP.WriteTimeout)
	v.SetDefault("http.idle_timeout", d.HTTP.IdleTimeout)
	v.SetDefault("http.shutdown_timeout", d.HTTP.ShutdownTimeout)

	v.SetDefault("db.host", d.DB.Host)
	v.SetDefault("db.port", d.DB.Port)
	v.SetDefault("db.user", d.DB.User)
	v.SetDefault("db.password", d.DB.Password)
	v.SetDefault("db.name", d.DB.Name)
	v.SetDefault("db.sslmode", d.DB.SSLMode)
	v.SetDefault("db.max_conns", d.DB.MaxConns)
	v.SetDefault("db.min_conns", d.DB.MinConns)
	v.SetDefault("db.connect_attempts", d.DB.ConnectAttempts)
	v.SetDefault("db.connect_backoff", d.DB.ConnectBackoff)

	v.SetDefault("registration.internal_domain", d.Registration.InternalDomain)
	v.SetDefault("registration.internal_organisation", d.Registration.InternalOrganisation)
	v.SetDefault("registration.departments", d.Registration.Departments)
	v.SetDefault("registration.slot_policy", d.Registration.SlotPolicy)
	v.SetDefault("registration.max_retries", d.Registration.MaxRetries)
	v.SetDefault("registration.retry_backoff", d.Registration.RetryBackoff)
	v.SetDefault("registration.store_timeout", d.Registration.StoreTimeout)

	v.SetDefault("admission.max_users", d.Admission.MaxUsers)
	v.SetDefault("cache.ttl", d.Cache.TTL)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.tls", false)

	v.SetDefault("rabbitmq.url", "")
	v.SetDefault("rabbitmq.queue", d.RabbitMQ.Queue)
	v.SetDefault("rabbitmq.publish_timeout", d.RabbitMQ.PublishTimeout)

	v.SetDefault("jwt.secret", "")

	v.SetDefault("tracing.exporter", d.Tracing.Exporter)
	v.SetDefault("tracing.otlp_endpoint", d.Tracing.OTLPEndpoint)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)
	v.SetDefault("tracing.sample_rate", d.Tracing.SampleRate)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
}

// Load builds the configuration. path names an optional YAML file; when it
// is empty, ./techday.yaml is used if present. A .env file in the working
// directory is loaded into the environment first without overriding
// variables that are already set.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Aliases kept for container setups that already export these names.
	_ = v.BindEnv("http.port", "HTTP_PORT", "PORT")
	_ = v.BindEnv("rabbitmq.url", "RABBITMQ_URL", "AMQP_URL")

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("techday")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		errs = append(errs, fmt.Errorf("http.port: %d out of range", c.HTTP.Port))
	}
	if !slices.Contains([]string{SlotPolicySkip, SlotPolicyFail}, c.Registration.SlotPolicy) {
		errs = append(errs, fmt.Errorf("registration.slot_policy: %q must be %q or %q",
			c.Registration.SlotPolicy, SlotPolicySkip, SlotPolicyFail))
	}
	if c.Registration.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("registration.max_retries: must not be negative"))
	}
	if c.Registration.StoreTimeout <= 0 {
		errs = append(errs, fmt.Errorf("registration.store_timeout: must be positive"))
	}
	if c.RabbitMQ.PublishTimeout <= 0 {
		errs = append(errs, fmt.Errorf("rabbitmq.publish_timeout: must be positive"))
	} else if c.HTTP.WriteTimeout > 0 && c.RabbitMQ.PublishTimeout >= c.HTTP.WriteTimeout {
		errs = append(errs, fmt.Errorf("rabbitmq.publish_timeout: %s must be shorter than http.write_timeout %s",
			c.RabbitMQ.PublishTimeout, c.HTTP.WriteTimeout))
	}
	if strings.TrimSpace(c.Registration.InternalDomain) == "" {
		errs = append(errs, fmt.Errorf("registration.internal_domain: required"))
	}
	if c.Admission.MaxUsers < 0 {
		errs = append(errs, fmt.Errorf("admission.max_users: must not be negative"))
	}
	if c.DB.ConnectAttempts < 1 {
		errs = append(errs, fmt.Errorf("db.connect_attempts: must be at least 1"))
	}
	switch c.Tracing.Exporter {
	case "none", "stdout", "otlp":
	default:
		errs = append(errs, fmt.Errorf("tracing.exporter: %q must be none, stdout or otlp", c.Tracing.Exporter))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format: %q must be text or json", c.Log.Format))
	}
	return errors.Join(errs...)
}
