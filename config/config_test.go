package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(New(), "")
	require.NoError(t, err)

	assert.Equal(t, ":5000", cfg.HTTP.Addr)
	assert.Equal(t, 5*time.Second, cfg.HTTP.ShutdownTimeout)
	assert.True(t, cfg.HTTP.Compression.Enabled)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "calculator", cfg.Server.Name)
	assert.Equal(t, 5*time.Second, cfg.Server.Timeout)
	assert.False(t, cfg.Telemetry.Enabled)
	assert.False(t, cfg.MQTT.Enabled())
}

func TestLoadFileAndEnv(t *testing.T) {
	file := filepath.Join(t.TempDir(), "calculator.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
http:
  addr: 127.0.0.1:8080
  compression:
    enabled: false
log:
  level: debug
server:
  worker_num: 4
  timeout: 2s
mqtt:
  broker: tcp://localhost:1883
`), 0o600))

	t.Setenv("CALC_SERVER_NAME", "from-env")
	t.Setenv("CALC_HTTP_SHUTDOWN_TIMEOUT", "1s")

	cfg, err := Load(New(), file)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:8080", cfg.HTTP.Addr)
	assert.False(t, cfg.HTTP.Compression.Enabled)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 4, cfg.Server.WorkerNum)
	assert.Equal(t, 2*time.Second, cfg.Server.Timeout)
	assert.Equal(t, "from-env", cfg.Server.Name)
	assert.Equal(t, time.Second, cfg.HTTP.ShutdownTimeout)
	assert.True(t, cfg.MQTT.Enabled())
	assert.Equal(t, "calculator", cfg.MQTT.TopicPrefix)
}

func TestLoadFlags(t *testing.T) {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("addr", "", "")
	flags.String("log-level", "", "")
	require.NoError(t, flags.Parse([]string{"--addr", "localhost:9000", "--log-level", "warn"}))

	v := New()
	require.NoError(t, BindFlags(v, flags, map[string]string{
		"addr":      "http.addr",
		"log-level": "log.level",
	}))

	cfg, err := Load(v, "")
	require.NoError(t, err)
	assert.Equal(t, "localhost:9000", cfg.HTTP.Addr)
	assert.Equal(t, "warn", cfg.Log.Level)

	assert.Error(t, BindFlags(v, flags, map[string]string{"missing": "http.addr"}))
}

func TestLoadInvalid(t *testing.T) {
	cases := map[string]string{
		"CALC_LOG_LEVEL":         "verbose",
		"CALC_HTTP_ADDR":         "no-port",
		"CALC_SERVER_WORKER_NUM": "-1",
		"CALC_MQTT_BROKER":       "::not a url",
		"CALC_TELEMETRY_ENABLED": "true",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			_, err := Load(New(), "")
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(New(), filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestYAML(t *testing.T) {
	cfg, err := Load(New(), "")
	require.NoError(t, err)
	cfg.MQTT.Password = "secret"

	out, err := cfg.YAML()
	require.NoError(t, err)
	assert.NotContains(t, string(out), "secret")
	assert.Equal(t, "secret", cfg.MQTT.Password)

	var decoded map[string]interface{}
	require.NoError(t, yaml.Unmarshal(out, &decoded))
	http := decoded["http"].(map[string]interface{})
	assert.Equal(t, ":5000", http["addr"])
	assert.Equal(t, "5s", http["shutdown_timeout"])
}
