package config

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/berfenger/mppt2mqtt/pkg/mppt"

	"github.com/reugn/go-quartz/quartz"
	"go.uber.org/zap/zapcore"
)

const (
	MIN_UPDATE_INTERVAL_MILLIS    = 1000
	MIN_RESPONSE_TIMEOUT_MILLIS   = 200
	DEFAULT_UPDATE_INTERVAL_MS    = 5000
	DEFAULT_RESPONSE_TIMEOUT_MS   = 1000
	DEFAULT_BASE_TOPIC            = "mppt2mqtt"
	DEFAULT_HA_DISCOVERY_TOPIC    = "homeassistant"
	DEFAULT_MODBUS_SERVER_URL     = "tcp://0.0.0.0:5502"
	DEFAULT_ENERGY_RESET_CRON     = "0 0 0 * * *"
	DEFAULT_SERIAL_DEVICE         = "/dev/ttyUSB0"
	DEFAULT_MODBUS_SERVER_CLIENTS = 4
)

type Config struct {
	LogLevel     zapcore.Level
	Serial       SerialConfig       `mapstructure:"serial"`
	Controller   ControllerConfig   `mapstructure:"controller"`
	MQTT         MQTTConfig         `mapstructure:"mqtt"`
	ModbusServer ModbusServerConfig `mapstructure:"modbus_server"`
	Schedule     ScheduleConfig     `mapstructure:"schedule"`
	Port         uint               `mapstructure:"port"`
	HttpLog      bool               `mapstructure:"http_log"`
}

type SerialConfig struct {
	Driver          string
	Device          string
	BaudRate        int    `mapstructure:"baud_rate"`
	ReadSliceMillis uint32 `mapstructure:"read_slice_millis"`
}

type ControllerConfig struct {
	Name                  string
	UpdateIntervalMillis  uint32               `mapstructure:"update_interval_millis"`
	ResponseTimeoutMillis uint32               `mapstructure:"response_timeout_millis"`
	Sensors               []string             `mapstructure:"sensors"`
	VerifyChecksum        bool                 `mapstructure:"verify_checksum"`
	LoadInitial           bool                 `mapstructure:"load_initial"`
	ChargingParams        ChargingParamsConfig `mapstructure:"charging_params"`
}

type ChargingParamsConfig struct {
	ChargeCurrent    int `mapstructure:"charge_current"`
	BatteryType      int `mapstructure:"battery_type"`
	ConstVoltage     int `mapstructure:"const_voltage"`
	LoadUndervoltage int `mapstructure:"load_undervoltage"`
}

type MQTTConfig struct {
	Enable            bool
	Host              string
	Port              int
	Username          string
	Password          string
	BaseTopic         string `mapstructure:"base_topic"`
	HADiscoveryEnable bool   `mapstructure:"ha_discovery_enable"`
	HADiscoveryTopic  string `mapstructure:"ha_discovery_topic"`
}

type ModbusServerConfig struct {
	Enable     bool
	URL        string `mapstructure:"url"`
	UnitId     uint8  `mapstructure:"unit_id"`
	MaxClients uint   `mapstructure:"max_clients"`
}

type ScheduleConfig struct {
	EnergyResetEnable bool   `mapstructure:"energy_reset_enable"`
	EnergyResetCron   string `mapstructure:"energy_reset_cron"`
	EnergyResetReboot bool   `mapstructure:"energy_reset_reboot"`
}

func (c ControllerConfig) UpdateInterval() time.Duration {
	return time.Duration(c.UpdateIntervalMillis) * time.Millisecond
}

func (c ControllerConfig) ResponseTimeout() time.Duration {
	return time.Duration(c.ResponseTimeoutMillis) * time.Millisecond
}

// FieldSet returns the enabled telemetry fields. An empty sensor list enables all of them.
func (c ControllerConfig) FieldSet() (mppt.FieldSet, error) {
	if len(c.Sensors) == 0 {
		return mppt.AllFields(), nil
	}
	return mppt.ParseFieldSet(c.Sensors)
}

func (c ChargingParamsConfig) Params() mppt.SetChargingParams {
	return mppt.SetChargingParams{
		ChargeCurrent:    c.ChargeCurrent,
		BatteryType:      c.BatteryType,
		ConstVoltage:     c.ConstVoltage,
		LoadUndervoltage: c.LoadUndervoltage,
	}
}

func (c SerialConfig) ReadSlice() time.Duration {
	return time.Duration(c.ReadSliceMillis) * time.Millisecond
}

// Validate checks bounds and normalizes topics in place.
func (c *Config) Validate(drivers []string) error {
	if c.Controller.UpdateIntervalMillis < MIN_UPDATE_INTERVAL_MILLIS {
		return fmt.Errorf("config param controller.update_interval_millis should be >= %dms", MIN_UPDATE_INTERVAL_MILLIS)
	}
	if c.Controller.ResponseTimeoutMillis < MIN_RESPONSE_TIMEOUT_MILLIS {
		return fmt.Errorf("config param controller.response_timeout_millis should be >= %dms", MIN_RESPONSE_TIMEOUT_MILLIS)
	}
	if c.Controller.ResponseTimeoutMillis >= c.Controller.UpdateIntervalMillis {
		return errors.New("config param controller.response_timeout_millis must be < controller.update_interval_millis")
	}
	if _, err := c.Controller.FieldSet(); err != nil {
		return fmt.Errorf("config param controller.sensors: %w", err)
	}
	if err := c.Controller.ChargingParams.Params().Validate(); err != nil {
		return fmt.Errorf("config param controller.charging_params: %w", err)
	}
	if c.Serial.Driver != "" && !slices.Contains(drivers, c.Serial.Driver) {
		return fmt.Errorf("config param serial.driver must be one of %s", strings.Join(drivers, ", "))
	}
	if c.Serial.BaudRate < 0 {
		return errors.New("config param serial.baud_rate should be > 0")
	}

	// check and fix base topic
	baseTopic, err := CheckMQTTTopic(c.MQTT.BaseTopic)
	if err != nil {
		return errors.New("invalid base topic. can only contain letters, numbers and underscores")
	}
	c.MQTT.BaseTopic = baseTopic

	// check and fix homeassistant discovery topic
	hadBaseTopic, err := CheckMQTTTopic(c.MQTT.HADiscoveryTopic)
	if err != nil {
		return errors.New("invalid homeassistant discovery topic. can only contain letters, numbers and underscores")
	}
	c.MQTT.HADiscoveryTopic = hadBaseTopic

	if c.Schedule.EnergyResetEnable {
		if _, err := quartz.NewCronTrigger(c.Schedule.EnergyResetCron); err != nil {
			return fmt.Errorf("config param schedule.energy_reset_cron: %w", err)
		}
	}
	return nil
}

func CheckMQTTTopic(baseTopic string) (string, error) {
	// check and fix base topic
	lowerBaseTopic := strings.ToLower(baseTopic)
	baseTopicRegexp := regexp.MustCompile("^[a-z0-9_]+$")
	matches := baseTopicRegexp.FindAllStringSubmatch(lowerBaseTopic, 1)
	if len(matches) <= 0 {
		return "", errors.New("invalid topic. can only contain letters, numbers and underscores")
	}
	return lowerBaseTopic, nil
}

// ParseLogLevel maps a config string to a zap level. Unknown values mean info.
func ParseLogLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "trace", "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "fatal":
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

// Redacted returns a copy safe to print.
func (c Config) Redacted() Config {
	if c.MQTT.Username != "" {
		c.MQTT.Username = "*redacted*"
	}
	if c.MQTT.Password != "" {
		c.MQTT.Password = "*redacted*"
	}
	return c
}
