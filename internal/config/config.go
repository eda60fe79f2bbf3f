// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package config loads credctl configuration from defaults, a YAML file,
// CREDCTL_* environment variables and command-line flags, in that order.
package config

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/holomush/credentials/internal/auth"
	"github.com/holomush/credentials/internal/xdg"
)

// EnvPrefix is the prefix of environment overrides. A double underscore
// separates nested keys: CREDCTL_STORE__DRIVER sets store.driver.
const EnvPrefix = "CREDCTL_"

// Default file names.
const (
	DefaultConfigFile = "config.yaml"
	DefaultSQLiteFile = "credentials.db"
)

// Config is the complete credctl configuration.
type Config struct {
	Store   StoreConfig   `koanf:"store" json:"store"`
	Hashing HashingConfig `koanf:"hashing" json:"hashing"`
	Reset   ResetConfig   `koanf:"reset" json:"reset"`
	Log     LogConfig     `koanf:"log" json:"log"`
	Metrics MetricsConfig `koanf:"metrics" json:"metrics"`
	Sweep   SweepConfig   `koanf:"sweep" json:"sweep"`
}

// StoreConfig selects the user store backend.
type StoreConfig struct {
	Driver         string        `koanf:"driver" json:"driver" validate:"oneof=postgres sqlite memory" jsonschema:"enum=postgres,enum=sqlite,enum=memory"`
	DSN            string        `koanf:"dsn" json:"dsn" validate:"required_unless=Driver memory" jsonschema:"description=Postgres connection URL or SQLite file path"`
	ConnectTimeout time.Duration `koanf:"connect_timeout" json:"connect_timeout" validate:"gt=0" jsonschema:"oneof_type=string;integer"`
}

// HashingConfig configures the current and legacy password strategies.
type HashingConfig struct {
	Argon2           Argon2Config `koanf:"argon2" json:"argon2"`
	Legacy           []string     `koanf:"legacy" json:"legacy" validate:"dive,oneof=sha512 pbkdf2 bcrypt" jsonschema:"enum=sha512,enum=pbkdf2,enum=bcrypt"`
	PBKDF2Iterations int          `koanf:"pbkdf2_iterations" json:"pbkdf2_iterations" validate:"gte=1000" jsonschema:"minimum=1000"`
	BcryptCost       int          `koanf:"bcrypt_cost" json:"bcrypt_cost" validate:"gte=4,lte=31" jsonschema:"minimum=4,maximum=31"`
}

// Argon2Config holds argon2id cost parameters.
type Argon2Config struct {
	Time    uint32 `koanf:"time" json:"time" validate:"gte=1" jsonschema:"minimum=1"`
	Memory  uint32 `koanf:"memory" json:"memory" validate:"gte=8" jsonschema:"minimum=8,description=Memory in KiB"`
	Threads uint8  `koanf:"threads" json:"threads" validate:"gte=1" jsonschema:"minimum=1"`
	KeyLen  uint32 `koanf:"key_len" json:"key_len" validate:"gte=16" jsonschema:"minimum=16"`
}

// ResetConfig configures password reset grants.
type ResetConfig struct {
	Expiry time.Duration `koanf:"expiry" json:"expiry" validate:"gt=0" jsonschema:"oneof_type=string;integer"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `koanf:"level" json:"level" validate:"oneof=debug info warn error" jsonschema:"enum=debug,enum=info,enum=warn,enum=error"`
	Format string `koanf:"format" json:"format" validate:"oneof=json text" jsonschema:"enum=json,enum=text"`
}

// MetricsConfig configures the metrics and health endpoint of long-running commands.
type MetricsConfig struct {
	Addr string `koanf:"addr" json:"addr" validate:"omitempty,hostname_port" jsonschema:"description=Listen address; empty disables the endpoint"`
}

// SweepConfig configures the expired-reset sweeper.
type SweepConfig struct {
	Interval time.Duration `koanf:"interval" json:"interval" validate:"gt=0" jsonschema:"oneof_type=string;integer"`
}

// Default returns the built-in configuration.
func Default() *Config {
	argon := auth.DefaultArgon2idParams()
	return &Config{
		Store: StoreConfig{
			Driver:         "sqlite",
			DSN:            filepath.Join(xdg.DataDir(), DefaultSQLiteFile),
			ConnectTimeout: 30 * time.Second,
		},
		Hashing: HashingConfig{
			Argon2: Argon2Config{
				Time:    argon.Time,
				Memory:  argon.Memory,
				Threads: argon.Threads,
				KeyLen:  argon.KeyLen,
			},
			Legacy:           []string{"sha512", "pbkdf2"},
			PBKDF2Iterations: auth.DefaultPBKDF2Iterations,
			BcryptCost:       10,
		},
		Reset:   ResetConfig{Expiry: auth.ResetTokenExpiry},
		Log:     LogConfig{Level: "info", Format: "json"},
		Metrics: MetricsConfig{Addr: "127.0.0.1:9100"},
		Sweep:   SweepConfig{Interval: 5 * time.Minute},
	}
}

// DefaultPath returns the config file consulted when none is given.
func DefaultPath() string {
	return filepath.Join(xdg.ConfigDir(), DefaultConfigFile)
}

// FlagKeys maps command-line flag names to configuration keys. Flags not
// listed here are not configuration.
var FlagKeys = map[string]string{
	"driver":         "store.driver",
	"dsn":            "store.dsn",
	"log-level":      "log.level",
	"log-format":     "log.format",
	"metrics-addr":   "metrics.addr",
	"sweep-interval": "sweep.interval",
	"reset-expiry":   "reset.expiry",
}

// Load builds a Config. An empty path falls back to DefaultPath, which may
// be absent; an explicit path must exist. flags may be nil.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaultMap(), "."), nil); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "defaults").Wrap(err)
	}

	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}
	if err := loadFile(k, path, explicit); err != nil {
		return nil, err
	}

	if err := k.Load(env.Provider(".", env.Opt{
		Prefix:        EnvPrefix,
		TransformFunc: envKey,
	}), nil); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "env").Wrap(err)
	}

	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, flagKey(flags)), nil); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "flags").Wrap(err)
		}
	}

	cfg := &Config{}
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{
		DecoderConfig: &mapstructure.DecoderConfig{
			Result:           cfg,
			TagName:          "koanf",
			WeaklyTypedInput: true,
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
			),
		},
	}); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "unmarshal").Wrap(err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFile(k *koanf.Koanf, path string, explicit bool) error {
	data, err := os.ReadFile(path) //nolint:gosec // operator-supplied config path
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !explicit {
			return nil
		}
		return oops.Code("CONFIG_READ_FAILED").With("path", path).Wrap(err)
	}
	if err := ValidateYAML(data); err != nil {
		return oops.Code("CONFIG_SCHEMA_INVALID").With("path", path).Wrap(err)
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return oops.Code("CONFIG_LOAD_FAILED").With("source", "file").With("path", path).Wrap(err)
	}
	return nil
}

// envKey turns CREDCTL_HASHING__PBKDF2_ITERATIONS into hashing.pbkdf2_iterations.
func envKey(k, v string) (string, any) {
	k = strings.ToLower(strings.TrimPrefix(k, EnvPrefix))
	return strings.ReplaceAll(k, "__", "."), v
}

func flagKey(fs *pflag.FlagSet) func(*pflag.Flag) (string, any) {
	return func(f *pflag.Flag) (string, any) {
		key, ok := FlagKeys[f.Name]
		if !ok {
			return "", nil
		}
		return key, posflag.FlagVal(fs, f)
	}
}

func defaultMap() map[string]any {
	d := Default()
	return map[string]any{
		"store.driver":              d.Store.Driver,
		"store.dsn":                 d.Store.DSN,
		"store.connect_timeout":     d.Store.ConnectTimeout,
		"hashing.argon2.time":       d.Hashing.Argon2.Time,
		"hashing.argon2.memory":     d.Hashing.Argon2.Memory,
		"hashing.argon2.threads":    d.Hashing.Argon2.Threads,
		"hashing.argon2.key_len":    d.Hashing.Argon2.KeyLen,
		"hashing.legacy":            d.Hashing.Legacy,
		"hashing.pbkdf2_iterations": d.Hashing.PBKDF2Iterations,
		"hashing.bcrypt_cost":       d.Hashing.BcryptCost,
		"reset.expiry":              d.Reset.Expiry,
		"log.level":                 d.Log.Level,
		"log.format":                d.Log.Format,
		"metrics.addr":              d.Metrics.Addr,
		"sweep.interval":            d.Sweep.Interval,
	}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("koanf"), ",")
		return name
	})
	return v
}

// Validate checks field constraints. The first violation is reported with
// its dotted key.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return oops.Code("CONFIG_INVALID").Wrap(err)
	}
	fe := verrs[0]
	key := strings.TrimPrefix(fe.Namespace(), "Config.")
	return oops.Code("CONFIG_INVALID").
		With("key", key).
		With("rule", fe.Tag()).
		Errorf("%s fails %s", key, rule(fe))
}

func rule(fe validator.FieldError) string {
	if fe.Param() == "" {
		return fe.Tag()
	}
	return fe.Tag() + "=" + fe.Param()
}

// Argon2Params converts the configured argon2 costs.
func (h HashingConfig) Argon2Params() auth.Argon2idParams {
	return auth.Argon2idParams{
		Time:    h.Argon2.Time,
		Memory:  h.Argon2.Memory,
		Threads: h.Argon2.Threads,
		KeyLen:  h.Argon2.KeyLen,
	}
}

// Strategies returns the current argon2id strategy and the configured legacy
// strategies in order.
func (h HashingConfig) Strategies() (auth.Strategy, []auth.Strategy, error) {
	legacy := make([]auth.Strategy, 0, len(h.Legacy))
	for _, name := range h.Legacy {
		switch name {
		case "sha512":
			legacy = append(legacy, auth.NewSaltedSHA512Strategy())
		case "pbkdf2":
			legacy = append(legacy, auth.NewPBKDF2Strategy(h.PBKDF2Iterations))
		case "bcrypt":
			legacy = append(legacy, auth.NewBcryptStrategy(h.BcryptCost))
		default:
			return nil, nil, oops.Code("CONFIG_INVALID").
				With("key", "hashing.legacy").
				Errorf("unknown legacy strategy %q", name)
		}
	}
	return auth.NewArgon2idStrategy(h.Argon2Params()), legacy, nil
}
