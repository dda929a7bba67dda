package util

import (
	"github.com/berfenger/mppt2mqtt/internal/config"

	"go.uber.org/zap"
)

func LoadTestConfig() config.Config {
	return config.Config{
		LogLevel: zap.DebugLevel,
		Serial: config.SerialConfig{
			Driver:          "simulator",
			Device:          "sim0",
			BaudRate:        9600,
			ReadSliceMillis: 10,
		},
		Controller: config.ControllerConfig{
			Name:                  "test",
			UpdateIntervalMillis:  1000,
			ResponseTimeoutMillis: 200,
			VerifyChecksum:        true,
			ChargingParams: config.ChargingParamsConfig{
				ChargeCurrent:    20,
				BatteryType:      1,
				ConstVoltage:     1440,
				LoadUndervoltage: 1100,
			},
		},
		MQTT: config.MQTTConfig{
			Host:             "localhost",
			Port:             1883,
			BaseTopic:        "mppt_test",
			HADiscoveryTopic: "homeassistant",
		},
		ModbusServer: config.ModbusServerConfig{
			URL:        "tcp://127.0.0.1:15502",
			UnitId:     1,
			MaxClients: 2,
		},
		Schedule: config.ScheduleConfig{
			EnergyResetCron: "0 0 0 * * *",
		},
		Port: 8080,
	}
}
