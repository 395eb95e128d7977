// Package config loads the calculator configuration from defaults, an optional YAML file,
// CALC_ prefixed environment variables and command line flags, in increasing precedence.
package config

import (
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable, CALC_HTTP_ADDR sets http.addr.
const EnvPrefix = "CALC"

type Config struct {
	HTTP      HTTP      `mapstructure:"http" yaml:"http"`
	Log       Log       `mapstructure:"log" yaml:"log"`
	Server    Server    `mapstructure:"server" yaml:"server"`
	Telemetry Telemetry `mapstructure:"telemetry" yaml:"telemetry"`
	MQTT      MQTT      `mapstructure:"mqtt" yaml:"mqtt"`
}

type HTTP struct {
	Addr            string        `mapstructure:"addr" yaml:"addr" validate:"required,hostname_port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" validate:"gt=0"`
	Compression     Compression   `mapstructure:"compression" yaml:"compression"`
}

type Compression struct {
	Enabled   bool `mapstructure:"enabled" yaml:"enabled"`
	MinLength int  `mapstructure:"min_length" yaml:"min_length" validate:"gte=0"`
}

type Log struct {
	Level       string `mapstructure:"level" yaml:"level" validate:"oneof=debug info warn error"`
	Development bool   `mapstructure:"development" yaml:"development"`
}

type Server struct {
	Name        string        `mapstructure:"name" yaml:"name"`
	WorkerNum   int           `mapstructure:"worker_num" yaml:"worker_num" validate:"gte=0"`
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout" validate:"gte=0"`
	LogResponse bool          `mapstructure:"log_response" yaml:"log_response"`
}

type Telemetry struct {
	Enabled      bool   `mapstructure:"enabled" yaml:"enabled"`
	Debug        bool   `mapstructure:"debug" yaml:"debug"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint" yaml:"otlp_endpoint" validate:"required_if=Enabled true Debug false"`
	Environment  string `mapstructure:"environment" yaml:"environment"`
}

// MQTT configures the optional MQTT transport, disabled while Broker is empty.
type MQTT struct {
	Broker      string `mapstructure:"broker" yaml:"broker" validate:"omitempty,url"`
	ClientID    string `mapstructure:"client_id" yaml:"client_id"`
	Username    string `mapstructure:"username" yaml:"username"`
	Password    string `mapstructure:"password" yaml:"password"`
	TopicPrefix string `mapstructure:"topic_prefix" yaml:"topic_prefix" validate:"required_with=Broker"`
	DeviceID    string `mapstructure:"device_id" yaml:"device_id" validate:"required_with=Broker"`
}

// Enabled reports whether a broker is configured.
func (m MQTT) Enabled() bool {
	return m.Broker != ""
}

// SetDefaults registers the default value of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", ":5000")
	v.SetDefault("http.shutdown_timeout", 5*time.Second)
	v.SetDefault("http.compression.enabled", true)
	v.SetDefault("http.compression.min_length", 0)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
	v.SetDefault("server.name", "calculator")
	v.SetDefault("server.worker_num", 0)
	v.SetDefault("server.timeout", 5*time.Second)
	v.SetDefault("server.log_response", false)
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.debug", false)
	v.SetDefault("telemetry.otlp_endpoint", "")
	v.SetDefault("telemetry.environment", "development")
	v.SetDefault("mqtt.broker", "")
	v.SetDefault("mqtt.client_id", "calculator")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.topic_prefix", "calculator")
	v.SetDefault("mqtt.device_id", "server-01")
}

// New returns a viper instance with defaults and environment binding in place.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// BindFlags binds each flag named in keys to its config key.
func BindFlags(v *viper.Viper, flags *pflag.FlagSet, keys map[string]string) error {
	for flag, key := range keys {
		f := flags.Lookup(flag)
		if f == nil {
			return errors.Newf("unknown flag %s", flag)
		}
		if err := v.BindPFlag(key, f); err != nil {
			return errors.Wrapf(err, "bind flag %s", flag)
		}
	}
	return nil
}

// Load reads the optional file, decodes v into a Config and validates it.
func Load(v *viper.Viper, file string) (*Config, error) {
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "read config %s", file)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}
	return &cfg, nil
}

// YAML renders cfg as YAML, the password masked.
func (c Config) YAML() ([]byte, error) {
	if c.MQTT.Password != "" {
		c.MQTT.Password = "******"
	}
	return yaml.Marshal(c)
}
