package main

import (
	"testing"

	"github.com/berfenger/mppt2mqtt/internal/config"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func resetViper(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("PORT", "")
	t.Setenv("MPPT_PORT", "")
}

func TestInitConfigFromEnv(t *testing.T) {

	assert := assert.New(t)
	resetViper(t)

	t.Setenv("MPPT_MQTT_ENABLE", "true")
	t.Setenv("MPPT_MQTT_HOST", "broker.lan")
	t.Setenv("MPPT_MQTT_USERNAME", "solar")
	t.Setenv("MPPT_MQTT_PASSWORD", "secret")
	t.Setenv("MPPT_CONTROLLER_NAME", "roof")
	t.Setenv("MPPT_SERIAL_DEVICE", "/dev/ttyS9")
	t.Setenv("MPPT_HTTP_LOG", "true")
	t.Setenv("MPPT_LOG_LEVEL", "debug")

	cfg, err := initConfig()
	require.NoError(t, err)

	assert.True(cfg.MQTT.Enable)
	assert.Equal("broker.lan", cfg.MQTT.Host)
	assert.Equal("solar", cfg.MQTT.Username)
	assert.Equal("secret", cfg.MQTT.Password)
	assert.Equal(1883, cfg.MQTT.Port)
	assert.Equal("roof", cfg.Controller.Name)
	assert.Equal("/dev/ttyS9", cfg.Serial.Device)
	assert.True(cfg.HttpLog)
	assert.Equal(zapcore.DebugLevel, cfg.LogLevel)
}

func TestInitConfigDefaults(t *testing.T) {

	assert := assert.New(t)
	resetViper(t)

	cfg, err := initConfig()
	require.NoError(t, err)

	assert.Equal(config.DEFAULT_SERIAL_DEVICE, cfg.Serial.Device)
	assert.Equal(uint32(config.DEFAULT_UPDATE_INTERVAL_MS), cfg.Controller.UpdateIntervalMillis)
	assert.Equal(config.DEFAULT_BASE_TOPIC, cfg.MQTT.BaseTopic)
	assert.Equal(uint(8080), cfg.Port)
	assert.Empty(cfg.MQTT.Host)
	assert.Equal(zapcore.WarnLevel, cfg.LogLevel)
}

func TestInitConfigPortAlias(t *testing.T) {
	resetViper(t)
	t.Setenv("PORT", "9090")

	cfg, err := initConfig()
	require.NoError(t, err)
	assert.Equal(t, uint(9090), cfg.Port)
}

func TestInitConfigRejectsInvalid(t *testing.T) {
	resetViper(t)
	t.Setenv("MPPT_CONTROLLER_RESPONSE_TIMEOUT_MILLIS", "50")

	_, err := initConfig()
	assert.ErrorContains(t, err, "response_timeout_millis")
}
