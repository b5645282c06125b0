package authd_config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"
)

// Load reads an optional YAML file, then a .env file in the working
// directory, then the environment. Later sources win.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	v.SetDefault("app.name", "authd")
	v.SetDefault("app.env", "dev")
	v.SetDefault("app.version", "dev")

	v.SetDefault("server.http_addr", ":8080")
	v.SetDefault("server.grpc_addr", ":9090")
	v.SetDefault("server.route_prefix", "")
	v.SetDefault("server.cors_origins", []string{})
	v.SetDefault("server.read_timeout", "5s")
	v.SetDefault("server.write_timeout", "10s")
	v.SetDefault("server.idle_timeout", "60s")
	v.SetDefault("server.graceful_timeout", "15s")

	v.SetDefault("store.driver", DriverPostgres)

	v.SetDefault("db.max_conns", 20)
	v.SetDefault("db.min_conns", 2)
	v.SetDefault("db.max_conn_lifetime", "30m")
	v.SetDefault("db.max_conn_idle_time", "10m")
	v.SetDefault("db.health_check_period", "30s")
	v.SetDefault("db.query_timeout", "2s")
	v.SetDefault("db.migrate_on_start", false)

	v.SetDefault("otel.enable", false)
	v.SetDefault("otel.service_name", "authd")
	v.SetDefault("otel.sample_ratio", 1.0)
	v.SetDefault("otel.otlp_endpoint", "localhost:4317")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	v.SetDefault("auth.access_ttl", "1h")
	v.SetDefault("auth.refresh_ttl", "720h")
	v.SetDefault("auth.bcrypt_cost", bcrypt.DefaultCost)

	v.SetDefault("events.enable", false)
	v.SetDefault("events.brokers", []string{})
	v.SetDefault("events.topic", "auth.accounts")
	v.SetDefault("events.workers", 1)
	v.SetDefault("events.batch_size", 100)
	v.SetDefault("events.wait_time", "1s")
	v.SetDefault("events.in_progress_ttl", "1m")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Keys without defaults are invisible to AutomaticEnv during Unmarshal.
	// The second names are the legacy variables of earlier deployments.
	_ = v.BindEnv("auth.access_secret", "AUTH_ACCESS_SECRET", "JWT_SECRET_KEY")
	_ = v.BindEnv("auth.refresh_secret", "AUTH_REFRESH_SECRET", "JWT_REFRESH_SECRET_KEY")
	_ = v.BindEnv("db.dsn", "DB_DSN", "DATABASE_URL")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports every problem at once. Error texts never contain
// secret values.
func (c *Config) Validate() error {
	err := validation.Errors{
		"auth.access_secret":  validation.Validate(c.Auth.AccessSecret, validation.Required),
		"auth.refresh_secret": validation.Validate(c.Auth.RefreshSecret, validation.Required, validation.By(differsFrom(c.Auth.AccessSecret))),
		"auth.access_ttl":     validation.Validate(c.Auth.AccessTTL, validation.By(positiveDuration)),
		"auth.refresh_ttl":    validation.Validate(c.Auth.RefreshTTL, validation.By(positiveDuration)),
		"auth.bcrypt_cost":    validation.Validate(c.Auth.BcryptCost, validation.By(bcryptCost)),
		"store.driver":        validation.Validate(c.Store.Driver, validation.Required, validation.In(DriverPostgres, DriverMemory)),
		"db.dsn":              validation.Validate(c.DB.DSN, requiredIf(c.Store.Driver == DriverPostgres)...),
		"events.brokers":      validation.Validate(c.Events.Brokers, requiredIf(c.Events.Enable)...),
		"events.topic":        validation.Validate(c.Events.Topic, requiredIf(c.Events.Enable)...),
		"events.enable":       validation.Validate(c.Events.Enable, validation.By(eventsNeedPostgres(c.Store.Driver))),
	}.Filter()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

func requiredIf(cond bool) []validation.Rule {
	if cond {
		return []validation.Rule{validation.Required}
	}
	return nil
}

func differsFrom(other string) validation.RuleFunc {
	return func(value interface{}) error {
		if s, _ := value.(string); s != "" && s == other {
			return errors.New("must differ from auth.access_secret")
		}
		return nil
	}
}

func positiveDuration(value interface{}) error {
	if d, _ := value.(time.Duration); d <= 0 {
		return errors.New("must be a positive duration")
	}
	return nil
}

func bcryptCost(value interface{}) error {
	if n, _ := value.(int); n < bcrypt.MinCost || n > bcrypt.MaxCost {
		return fmt.Errorf("must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
	}
	return nil
}

func eventsNeedPostgres(driver string) validation.RuleFunc {
	return func(value interface{}) error {
		if enabled, _ := value.(bool); enabled && driver != DriverPostgres {
			return errors.New("requires store.driver postgres")
		}
		return nil
	}
}
