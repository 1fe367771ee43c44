package courier

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Config holds the process-wide engine settings. It is read-only once an
// engine is built; every execution reads it without synchronization.
//
// Example:
//
//	cfg := courier.DefaultConfig()
//	cfg.ReadTimeout = 10 * time.Second
//	cfg.DefaultHeaders["User-Agent"] = "acme/1.0"
//
//	engine := courier.New(courier.WithConfig(cfg))
type Config struct {
	// Debug enables debug logging of requests, checkpoints and outcomes.
	// Default: false
	Debug bool `mapstructure:"debug"`

	// Charset is the response character encoding assumed when the server
	// does not declare one.
	// Default: "utf-8"
	Charset string `mapstructure:"charset"`

	// BufferSize is the default decode buffer size in bytes.
	// Default: 8192
	BufferSize int `mapstructure:"buffer_size"`

	// DefaultHeaders are sent with every request unless the request sets
	// the same header.
	// Default: Accept-Charset: UTF-8, Accept-Encoding: gzip
	DefaultHeaders map[string]string `mapstructure:"default_headers"`

	// ConnectTimeout bounds connection establishment when the request sets none.
	// Default: 15s
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`

	// ReadTimeout bounds each read when the request sets none.
	// Default: 30s
	ReadTimeout time.Duration `mapstructure:"read_timeout"`

	// EmptyBodyMethods lists the methods whose successful responses may have
	// no body. Such responses produce an Empty result instead of running the
	// decode stages.
	// Default: POST, PUT
	EmptyBodyMethods []Method `mapstructure:"empty_body_methods"`

	// Retry bounds automatic retries.
	// Default: DefaultRetryPolicy()
	Retry RetryPolicy `mapstructure:"retry"`

	// MaxParallel bounds concurrently running executions. Zero is unbounded.
	// Default: 0
	MaxParallel int `mapstructure:"max_parallel"`

	// RequestIDHeader, when set, carries the execution ID on every attempt.
	// Default: "" (not sent)
	RequestIDHeader string `mapstructure:"request_id_header"`

	// ServiceName identifies the engine in telemetry and names its breaker.
	// Default: ""
	ServiceName string `mapstructure:"service_name"`
}

// DefaultConfig returns the standard settings.
func DefaultConfig() Config {
	return Config{
		Charset:    "utf-8",
		BufferSize: 8192,
		DefaultHeaders: map[string]string{
			"Accept-Charset":  "UTF-8",
			"Accept-Encoding": "gzip",
		},
		ConnectTimeout:   15 * time.Second,
		ReadTimeout:      30 * time.Second,
		EmptyBodyMethods: []Method{MethodPost, MethodPut},
		Retry:            DefaultRetryPolicy(),
	}
}

// Validate reports configuration values the engine cannot work with.
func (c Config) Validate() error {
	var errs []error
	if c.BufferSize <= 0 {
		errs = append(errs, fmt.Errorf("buffer_size must be positive, got %d", c.BufferSize))
	}
	if c.ConnectTimeout < 0 {
		errs = append(errs, errors.New("connect_timeout must not be negative"))
	}
	if c.ReadTimeout < 0 {
		errs = append(errs, errors.New("read_timeout must not be negative"))
	}
	if c.MaxParallel < 0 {
		errs = append(errs, errors.New("max_parallel must not be negative"))
	}
	for _, m := range c.EmptyBodyMethods {
		if _, err := ParseMethod(string(m)); err != nil {
			errs = append(errs, fmt.Errorf("empty_body_methods: %w", err))
		}
	}
	return errors.Join(errs...)
}

// allowsEmptyBody reports whether a successful response to m may be empty.
func (c Config) allowsEmptyBody(m Method, statusCode int) bool {
	if statusCode == http.StatusNoContent {
		return true
	}
	for _, allowed := range c.EmptyBodyMethods {
		if allowed == m {
			return true
		}
	}
	return false
}

// clone deep-copies the mutable parts of c.
func (c Config) clone() Config {
	out := c
	out.DefaultHeaders = make(map[string]string, len(c.DefaultHeaders))
	for k, v := range c.DefaultHeaders {
		out.DefaultHeaders[k] = v
	}
	out.EmptyBodyMethods = append([]Method(nil), c.EmptyBodyMethods...)
	return out
}

// EnvPrefix is the environment variable prefix read by LoadConfig.
const EnvPrefix = "COURIER"

// LoadConfig reads a Config from a YAML, JSON or TOML file layered over
// DefaultConfig. Environment variables such as COURIER_READ_TIMEOUT or
// COURIER_RETRY_MAX_TIMEOUT override file values. An empty path reads the
// environment only.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindConfigKeys(v, reflect.TypeOf(cfg), "")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		stringToMethodHookFunc(),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.DefaultHeaders = canonicalHeaders(cfg.DefaultHeaders)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// bindConfigKeys registers every mapstructure key so AutomaticEnv can see
// values that are absent from the config file.
func bindConfigKeys(v *viper.Viper, t reflect.Type, prefix string) {
	for i := range t.NumField() {
		field := t.Field(i)
		key := field.Tag.Get("mapstructure")
		if key == "" || key == "-" {
			continue
		}
		if prefix != "" {
			key = prefix + "." + key
		}
		switch field.Type.Kind() {
		case reflect.Struct:
			bindConfigKeys(v, field.Type, key)
			continue
		case reflect.Map:
			// Maps come from files only.
			continue
		}
		_ = v.BindEnv(key)
	}
}

// canonicalHeaders folds header names to their canonical form. Viper
// lowercases keys read from files, so those override the built-in defaults.
func canonicalHeaders(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		if k == http.CanonicalHeaderKey(k) {
			out[k] = v
		}
	}
	for k, v := range in {
		if k != http.CanonicalHeaderKey(k) {
			out[http.CanonicalHeaderKey(k)] = v
		}
	}
	return out
}

// stringToMethodHookFunc normalizes method names such as "post".
func stringToMethodHookFunc() mapstructure.DecodeHookFuncType {
	return func(from, to reflect.Type, data any) (any, error) {
		if from.Kind() != reflect.String || to != reflect.TypeOf(Method("")) {
			return data, nil
		}
		return ParseMethod(data.(string))
	}
}
