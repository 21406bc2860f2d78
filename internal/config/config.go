// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"

	"github.com/jeranaias/threadline/internal/model"
	"github.com/jeranaias/threadline/internal/provider"
	"github.com/jeranaias/threadline/internal/storage"
	"github.com/jeranaias/threadline/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete threadline configuration.
type Config struct {
	Provider   provider.Config        `toml:"provider" json:"provider"`
	Generation model.GenerationParams `toml:"generation" json:"generation"`
	Stream     StreamConfig           `toml:"stream" json:"stream"`
	Storage    storage.Config         `toml:"storage" json:"storage"`
	Logging    LoggingConfig          `toml:"logging" json:"logging"`
	Server     ServerConfig           `toml:"server" json:"server"`
	Locale     LocaleConfig           `toml:"locale" json:"locale"`
}

// StreamConfig controls response streaming and session lifetime.
type StreamConfig struct {
	// FlushInterval is the minimum gap between two flushes of one message.
	FlushInterval Duration `toml:"flush_interval" json:"flush_interval" validate:"gte=0"`

	// MaxChunkSize bounds one transport frame, in bytes.
	MaxChunkSize int `toml:"max_chunk_size" json:"max_chunk_size" validate:"gte=1024"`

	// IdleTimeout closes sessions with no activity.
	IdleTimeout Duration `toml:"idle_timeout" json:"idle_timeout" validate:"gte=0"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level  string `toml:"level" json:"level" validate:"oneof=debug info warn error"`
	Format string `toml:"format" json:"format" validate:"oneof=text json"`
	File   string `toml:"file" json:"file,omitempty"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr           string   `toml:"addr" json:"addr" validate:"required,hostname_port"`
	AllowedOrigins []string `toml:"allowed_origins" json:"allowed_origins,omitempty"`
	Metrics        bool     `toml:"metrics" json:"metrics"`

	// Token, when set, is required as a bearer token on /v1 routes.
	Token string `toml:"token" json:"-"`

	// RateLimit is requests per minute per client IP; 0 disables limiting.
	RateLimit int `toml:"rate_limit" json:"rate_limit" validate:"gte=0"`
}

// LocaleConfig selects the notice language.
type LocaleConfig struct {
	// Language is a BCP 47 tag; empty uses $LANG.
	Language string `toml:"language" json:"language,omitempty"`
}

// Duration is a time.Duration that reads and writes as "300ms" in config files.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	*d = Duration(v)
	return nil
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns a Config with sensible defaults. Storage lives under the
// config directory when the home directory is known.
func Default() *Config {
	storePath := "threadline.db"
	if dir, err := ConfigDir(); err == nil {
		storePath = filepath.Join(dir, "threadline.db")
	}
	return &Config{
		Provider: provider.Config{
			Name:    "ollama",
			BaseURL: "http://localhost:11434",
			Model:   "llama3.2",
		},
		Generation: model.DefaultParams(),
		Stream: StreamConfig{
			FlushInterval: Duration(300 * time.Millisecond),
			MaxChunkSize:  1 << 20,
			IdleTimeout:   Duration(15 * time.Minute),
		},
		Storage: storage.Config{
			Driver: "sqlite",
			Path:   storePath,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr:      "127.0.0.1:8787",
			Metrics:   true,
			RateLimit: 120,
		},
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the threadline configuration directory. THREADLINE_HOME
// overrides the default of ~/.threadline.
func ConfigDir() (string, error) {
	if dir := os.Getenv("THREADLINE_HOME"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".threadline"), nil
}

// ConfigPathTOML returns the path to the TOML config file.
func ConfigPathTOML() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// ConfigPathJSON returns the path to the JSON config file.
func ConfigPathJSON() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load reads the config file from the config directory, TOML first, then
// JSON. Without a file the defaults are used. Environment overrides are
// applied last and the result is validated.
func Load() (*Config, error) {
	for _, pathFn := range []func() (string, error){ConfigPathTOML, ConfigPathJSON} {
		path, err := pathFn()
		if err != nil {
			continue
		}
		if _, statErr := os.Stat(path); statErr == nil {
			return LoadFromPath(path)
		}
	}
	return finish(Default())
}

// LoadFromPath loads configuration from a specific file. Files ending in
// .json are read as JSON; anything else as TOML.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()
	var err error
	if strings.HasSuffix(path, ".json") {
		err = LoadJSON(cfg, path)
	} else {
		err = LoadTOML(cfg, path)
	}
	if err != nil {
		return nil, err
	}
	return finish(cfg)
}

func finish(cfg *Config) (*Config, error) {
	if err := cfg.ApplyEnvOverrides(); err != nil {
		return nil, err
	}
	cfg.fillDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadTOML decodes a TOML file over cfg. Unknown keys are rejected.
func LoadTOML(cfg *Config, path string) error {
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("failed to decode TOML file %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return fmt.Errorf("unknown keys in %s: %s", path, strings.Join(keys, ", "))
	}
	return nil
}

// LoadJSON decodes a JSON file over cfg.
func LoadJSON(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read JSON file: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to decode JSON file %s: %w", path, err)
	}
	return nil
}

// fillDefaults restores zero values a file may have blanked out.
func (c *Config) fillDefaults() {
	defaults := Default()

	if c.Stream.MaxChunkSize == 0 {
		c.Stream.MaxChunkSize = defaults.Stream.MaxChunkSize
	}
	if c.Stream.IdleTimeout == 0 {
		c.Stream.IdleTimeout = defaults.Stream.IdleTimeout
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = defaults.Storage.Driver
	}
	if c.Storage.Path == "" && c.Storage.Driver != "memory" {
		c.Storage.Path = defaults.Storage.Path
	}
	if c.Logging.Level == "" {
		c.Logging.Level = defaults.Logging.Level
	}
	if c.Logging.Format == "" {
		c.Logging.Format = defaults.Logging.Format
	}
	if c.Server.Addr == "" {
		c.Server.Addr = defaults.Server.Addr
	}
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save writes the configuration to the default TOML file.
func Save(cfg *Config) error {
	path, err := ConfigPathTOML()
	if err != nil {
		return err
	}
	return SaveTOML(cfg, path)
}

// SaveTOML writes the configuration to a TOML file. The file holds an API
// key, so it is created owner-only.
func SaveTOML(cfg *Config, path string) error {
	err := util.AtomicWrite(path, 0600, func(w io.Writer) error {
		fmt.Fprintln(w, "# threadline configuration file")
		fmt.Fprintln(w, "")
		return toml.NewEncoder(w).Encode(cfg)
	})
	if err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// validate reports field errors by their TOML key path.
var validate = func() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("toml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}()

// Validate checks every section and returns ValidateErrors on failure.
func (c *Config) Validate() error {
	var errs ValidateErrors

	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}
		for _, fe := range verrs {
			errs = append(errs, ValidationError{
				Field:   keyFromNamespace(fe.Namespace()),
				Message: validationMessage(fe),
			})
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// keyFromNamespace turns "Config.stream.flush_interval" into "stream.flush_interval".
func keyFromNamespace(ns string) string {
	_, rest, ok := strings.Cut(ns, ".")
	if !ok {
		return ns
	}
	return rest
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_unless":
		return "is required"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "url":
		return "must be a valid URL"
	case "hostname_port":
		return "must be host:port"
	case "gte":
		return "must be >= " + fe.Param()
	case "lte":
		return "must be <= " + fe.Param()
	default:
		return fmt.Sprintf("failed %s=%s", fe.Tag(), fe.Param())
	}
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies THREADLINE_* environment variables:
//   - THREADLINE_PROVIDER: provider.name
//   - THREADLINE_BASE_URL: provider.base_url
//   - THREADLINE_API_KEY: provider.api_key (OPENAI_API_KEY is used when unset)
//   - THREADLINE_MODEL: provider.model
//   - THREADLINE_LOCAL_ONLY: provider.local_only
//   - THREADLINE_STORAGE_DRIVER: storage.driver
//   - THREADLINE_STORAGE_PATH: storage.path
//   - THREADLINE_FLUSH_INTERVAL: stream.flush_interval
//   - THREADLINE_LOG_LEVEL: logging.level
//   - THREADLINE_LOG_FORMAT: logging.format
//   - THREADLINE_ADDR: server.addr
//   - THREADLINE_TOKEN: server.token
//   - THREADLINE_LANG: locale.language
func (c *Config) ApplyEnvOverrides() error {
	overrides := map[string]string{
		"THREADLINE_PROVIDER":       "provider.name",
		"THREADLINE_BASE_URL":       "provider.base_url",
		"THREADLINE_API_KEY":        "provider.api_key",
		"THREADLINE_MODEL":          "provider.model",
		"THREADLINE_LOCAL_ONLY":     "provider.local_only",
		"THREADLINE_STORAGE_DRIVER": "storage.driver",
		"THREADLINE_STORAGE_PATH":   "storage.path",
		"THREADLINE_FLUSH_INTERVAL": "stream.flush_interval",
		"THREADLINE_LOG_LEVEL":      "logging.level",
		"THREADLINE_LOG_FORMAT":     "logging.format",
		"THREADLINE_ADDR":           "server.addr",
		"THREADLINE_TOKEN":          "server.token",
		"THREADLINE_LANG":           "locale.language",
	}
	var errs []error
	for env, key := range overrides {
		if v := os.Getenv(env); v != "" {
			if err := c.Set(key, v); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", env, err))
			}
		}
	}
	if c.Provider.APIKey == "" {
		c.Provider.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	return errors.Join(errs...)
}

// =============================================================================
// GET/SET HELPERS (DOT NOTATION)
// =============================================================================

// Get retrieves a configuration value by its TOML key path (e.g. "stream.flush_interval").
func (c *Config) Get(key string) (any, error) {
	field, err := c.lookup(key)
	if err != nil {
		return nil, err
	}
	if d, ok := field.Interface().(Duration); ok {
		return d.Std().String(), nil
	}
	return field.Interface(), nil
}

// Set parses value into the field at the TOML key path.
func (c *Config) Set(key, value string) error {
	field, err := c.lookup(key)
	if err != nil {
		return err
	}
	if !field.CanSet() {
		return fmt.Errorf("cannot set field: %s", key)
	}
	return setFieldValue(field, value)
}

func (c *Config) lookup(key string) (reflect.Value, error) {
	parts := strings.Split(key, ".")
	v := reflect.ValueOf(c).Elem()
	for i, part := range parts {
		field, ok := fieldByTOMLKey(v, part)
		if !ok {
			return reflect.Value{}, fmt.Errorf("unknown key: %s", strings.Join(parts[:i+1], "."))
		}
		if i == len(parts)-1 {
			return field, nil
		}
		if field.Kind() != reflect.Struct {
			return reflect.Value{}, fmt.Errorf("key '%s' is not a section", strings.Join(parts[:i+1], "."))
		}
		v = field
	}
	return reflect.Value{}, fmt.Errorf("invalid key: %s", key)
}

func fieldByTOMLKey(v reflect.Value, key string) (reflect.Value, bool) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		name, _, _ := strings.Cut(t.Field(i).Tag.Get("toml"), ",")
		if name != "" && name != "-" && name == key {
			return v.Field(i), true
		}
	}
	return reflect.Value{}, false
}

var durationType = reflect.TypeOf(Duration(0))

// setFieldValue sets a field from its string form.
func setFieldValue(field reflect.Value, value string) error {
	if field.Type() == durationType {
		var d Duration
		if err := d.UnmarshalText([]byte(value)); err != nil {
			return err
		}
		field.Set(reflect.ValueOf(d))
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int64:
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid integer value: %w", err)
		}
		field.SetInt(n)
	case reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid float value: %w", err)
		}
		field.SetFloat(f)
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean value: %w", err)
		}
		field.SetBool(b)
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("cannot set %s from text", field.Type())
		}
		var items []string
		for _, s := range strings.Split(value, ",") {
			if s = strings.TrimSpace(s); s != "" {
				items = append(items, s)
			}
		}
		field.Set(reflect.ValueOf(items))
	default:
		return fmt.Errorf("cannot set %s from text", field.Type())
	}
	return nil
}

// Keys returns every settable key in dot notation.
func Keys() []string {
	var out []string
	var walk func(prefix string, t reflect.Type)
	walk = func(prefix string, t reflect.Type) {
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			name, _, _ := strings.Cut(f.Tag.Get("toml"), ",")
			if name == "" || name == "-" {
				continue
			}
			if f.Type.Kind() == reflect.Struct && f.Type != durationType {
				walk(prefix+name+".", f.Type)
				continue
			}
			if f.Type.Kind() == reflect.Map {
				continue
			}
			out = append(out, prefix+name)
		}
	}
	walk("", reflect.TypeOf(Config{}))
	return out
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// Clone creates a deep copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	if c.Provider.Headers != nil {
		clone.Provider.Headers = make(map[string]string, len(c.Provider.Headers))
		for k, v := range c.Provider.Headers {
			clone.Provider.Headers[k] = v
		}
	}
	clone.Server.AllowedOrigins = append([]string(nil), c.Server.AllowedOrigins...)
	return &clone
}

// String renders the config as TOML with secrets redacted.
func (c *Config) String() string {
	safe := c.Clone()
	if safe.Provider.APIKey != "" {
		safe.Provider.APIKey = "[REDACTED]"
	}
	if safe.Server.Token != "" {
		safe.Server.Token = "[REDACTED]"
	}
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(safe); err != nil {
		return fmt.Sprintf("config: %v", err)
	}
	return buf.String()
}
