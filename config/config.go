// Package config loads client runtime settings from a YAML file and
// CLIENTRT_* environment variables.
//
// Values are resolved in this order: file, environment, struct defaults.
// The result is validated before it is returned.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/ambiyansyah-risyal/clientrt"
	"github.com/ambiyansyah-risyal/clientrt/internal/backoff"
	"github.com/ambiyansyah-risyal/clientrt/retry"
)

// EnvPrefix prefixes every environment override, e.g.
// CLIENTRT_RETRY_MAX_ATTEMPTS.
const EnvPrefix = "CLIENTRT"

var validate *validator.Validate

func init() {
	validate = validator.New()
	validate.RegisterValidation("backoff", func(fl validator.FieldLevel) bool {
		_, err := backoff.ByName(fl.Field().String())
		return err == nil
	})
}

// Config is the file form of the client options.
type Config struct {
	Retry                RetryConfig   `mapstructure:"retry" yaml:"retry"`
	Timeout              TimeoutConfig `mapstructure:"timeout" yaml:"timeout"`
	TokenBucket          BucketConfig  `mapstructure:"token_bucket" yaml:"token_bucket"`
	Partition            string        `mapstructure:"partition" yaml:"partition" default:"host" validate:"oneof=default host host_route"`
	RetryableStatusCodes []int         `mapstructure:"retryable_status_codes" yaml:"retryable_status_codes" default:"[500,502,503,504]" validate:"dive,min=100,max=599"`
	Logging              LogConfig     `mapstructure:"logging" yaml:"logging"`
}

// RetryConfig configures the standard retry strategy.
type RetryConfig struct {
	Mode           string        `mapstructure:"mode" yaml:"mode" default:"standard" validate:"oneof=standard adaptive"`
	MaxAttempts    int           `mapstructure:"max_attempts" yaml:"max_attempts" default:"3" validate:"min=1,max=100"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff" yaml:"initial_backoff" default:"1s" validate:"gt=0"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff" yaml:"max_backoff" default:"20s" validate:"gtefield=InitialBackoff"`
	Backoff        string        `mapstructure:"backoff" yaml:"backoff" default:"full_jitter" validate:"backoff"`
	// Jitter and SuccessReward are pointers so that an explicit zero
	// survives default filling.
	Jitter        *float64 `mapstructure:"jitter" yaml:"jitter" default:"1" validate:"required,min=0,max=1"`
	SuccessReward *int     `mapstructure:"success_reward" yaml:"success_reward" default:"1" validate:"required,min=0"`
}

// TimeoutConfig holds the optional timeouts. An unset timeout is disabled.
type TimeoutConfig struct {
	Connect   *time.Duration `mapstructure:"connect" yaml:"connect,omitempty" validate:"omitempty,gt=0"`
	Read      *time.Duration `mapstructure:"read" yaml:"read,omitempty" validate:"omitempty,gt=0"`
	Operation *time.Duration `mapstructure:"operation" yaml:"operation,omitempty" validate:"omitempty,gt=0"`
	Attempt   *time.Duration `mapstructure:"attempt" yaml:"attempt,omitempty" validate:"omitempty,gt=0"`
}

// BucketConfig configures the retry token bucket of every partition.
type BucketConfig struct {
	Disabled           bool `mapstructure:"disabled" yaml:"disabled"`
	MaxTokens          int  `mapstructure:"max_tokens" yaml:"max_tokens" default:"500" validate:"min=1"`
	TimeoutErrorCost   int  `mapstructure:"timeout_error_cost" yaml:"timeout_error_cost" default:"10" validate:"min=1"`
	RetryableErrorCost int  `mapstructure:"retryable_error_cost" yaml:"retryable_error_cost" default:"5" validate:"min=1"`
}

// LogConfig configures console logging.
type LogConfig struct {
	Level   string `mapstructure:"level" yaml:"level" default:"info" validate:"oneof=debug info warn error"`
	NoColor bool   `mapstructure:"no_color" yaml:"no_color"`
}

// SlogLevel maps Level to a slog level.
func (l LogConfig) SlogLevel() slog.Level {
	switch l.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger returns a console logger writing to w.
func (l LogConfig) NewLogger(w io.Writer) *slog.Logger {
	return clientrt.NewConsoleLogger(w, l.SlogLevel(), !l.NoColor)
}

// Default returns the configuration with every default applied.
func Default() (*Config, error) {
	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("config: failed to apply defaults: %w", err)
	}
	return cfg, nil
}

// Load reads path, applies environment overrides and defaults, and
// validates the result. An empty path loads from the environment alone.
func Load(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: failed to read %s file: %w", path, err)
		}
	}
	return FromViper(v)
}

// FromViper decodes a prepared viper instance. Environment bindings are
// added for every known key.
func FromViper(v *viper.Viper) (*Config, error) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for _, key := range Keys() {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("config: failed to bind %s: %w", key, err)
		}
	}

	cfg := &Config{}
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(cfg, hook); err != nil {
		return nil, fmt.Errorf("config: failed to decode: %w", err)
	}
	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("config: failed to apply defaults: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every field against its validate tag.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, e := range verrs {
				msgs = append(msgs, fmt.Sprintf("field '%s' failed validation: %v (rule: %s)", e.Namespace(), e.Value(), e.Tag()))
			}
			return fmt.Errorf("%w:\n  - %s", clientrt.ErrInvalidConfig, strings.Join(msgs, "\n  - "))
		}
		return err
	}
	return nil
}

// Keys lists the dotted viper key of every leaf setting.
func Keys() []string {
	var keys []string
	collectKeys(reflect.TypeOf(Config{}), "", &keys)
	return keys
}

var durationType = reflect.TypeOf(time.Duration(0))

func collectKeys(t reflect.Type, prefix string, keys *[]string) {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		name := f.Tag.Get("mapstructure")
		if name == "" {
			continue
		}
		if prefix != "" {
			name = prefix + "." + name
		}
		ft := f.Type
		if ft.Kind() == reflect.Ptr {
			ft = ft.Elem()
		}
		if ft.Kind() == reflect.Struct && ft != durationType {
			collectKeys(ft, name, keys)
			continue
		}
		*keys = append(*keys, name)
	}
}

// Marshal renders cfg as YAML.
func Marshal(cfg *Config) ([]byte, error) {
	return yaml.Marshal(cfg)
}

// Options converts the configuration into client options.
func (c *Config) Options() ([]clientrt.Option, error) {
	if _, err := backoff.ByName(c.Retry.Backoff); err != nil {
		return nil, fmt.Errorf("%w: %v", clientrt.ErrInvalidConfig, err)
	}

	opts := []clientrt.Option{
		clientrt.WithRetryMode(clientrt.RetryMode(c.Retry.Mode)),
		clientrt.WithMaxAttempts(c.Retry.MaxAttempts),
		clientrt.WithInitialBackoff(c.Retry.InitialBackoff),
		clientrt.WithMaxBackoff(c.Retry.MaxBackoff),
		clientrt.WithBackoffAlgorithm(c.Retry.Backoff),
	}
	if c.Retry.Jitter != nil {
		opts = append(opts, clientrt.WithJitter(*c.Retry.Jitter))
	}
	if c.Retry.SuccessReward != nil {
		opts = append(opts, clientrt.WithSuccessReward(*c.Retry.SuccessReward))
	}

	if c.TokenBucket.Disabled {
		opts = append(opts, clientrt.WithoutTokenBucket())
	} else {
		opts = append(opts, clientrt.WithTokenBucket(
			retry.WithMaxTokens(c.TokenBucket.MaxTokens),
			retry.WithTimeoutErrorCost(c.TokenBucket.TimeoutErrorCost),
			retry.WithRetryableErrorCost(c.TokenBucket.RetryableErrorCost),
		))
	}

	switch c.Partition {
	case "host":
		opts = append(opts, clientrt.WithPartitionKey(retry.HostPartition))
	case "host_route":
		opts = append(opts, clientrt.WithPartitionKey(retry.HostRoutePartition))
	default:
		opts = append(opts, clientrt.WithPartitionKey(nil))
	}

	if len(c.RetryableStatusCodes) > 0 {
		opts = append(opts, clientrt.WithRetryableStatusCodes(c.RetryableStatusCodes...))
	}

	t := c.Timeout
	if t.Connect != nil {
		opts = append(opts, clientrt.WithConnectTimeout(*t.Connect))
	}
	if t.Read != nil {
		opts = append(opts, clientrt.WithReadTimeout(*t.Read))
	}
	if t.Operation != nil {
		opts = append(opts, clientrt.WithOperationTimeout(*t.Operation))
	}
	if t.Attempt != nil {
		opts = append(opts, clientrt.WithAttemptTimeout(*t.Attempt))
	}
	return opts, nil
}
