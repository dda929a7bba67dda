package domain

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"

	"github.com/berfenger/mppt2mqtt/pkg/mppt"

	"github.com/carlmjohnson/versioninfo"
)

const (
	SENSOR_ID_BRIDGE_STATE       = "bridge"
	SENSOR_ID_DEVICE_CONNECTED   = "device_connected"
	SENSOR_ID_ENERGY_STALE       = "energy_stale"
	SENSOR_ID_PV_VOLTAGE         = "pv_voltage"
	SENSOR_ID_PV_CURRENT         = "pv_current"
	SENSOR_ID_PV_POWER           = "pv_power"
	SENSOR_ID_BATTERY_VOLTAGE    = "battery_voltage"
	SENSOR_ID_TEMPERATURE        = "temperature"
	SENSOR_ID_LOAD_CURRENT       = "load_current"
	SENSOR_ID_DAILY_ENERGY       = "daily_energy"
	SENSOR_ID_TOTAL_ENERGY       = "total_energy"
	SENSOR_ID_ERROR              = "error"
	SENSOR_ID_WORKING_MODE       = "working_mode"
	SWITCH_ID_LOAD               = "load"
	BUTTON_ID_RESET_ENERGY       = "reset_energy"
	BUTTON_ID_REBOOT             = "reboot"
	INPUT_NUMBER_ID_CHARGE_CURR  = "charge_current"
	INPUT_NUMBER_ID_BATT_TYPE    = "battery_type"
	INPUT_NUMBER_ID_CONST_VOLT   = "const_voltage"
	INPUT_NUMBER_ID_LOAD_UV      = "load_undervoltage"
	ACTION_RESET_ENERGY          = "reset_energy"
	ACTION_SET_CHARGING_PARAMS   = "set_charging_params"
	STATE_CLASS_MEASUREMENT      = "measurement"
	STATE_CLASS_TOTAL_INCREASING = "total_increasing"
	DEVICE_CLASS_CURRENT         = "current"
	DEVICE_CLASS_ENERGY          = "energy"
	DEVICE_CLASS_POWER           = "power"
	DEVICE_CLASS_TEMPERATURE     = "temperature"
	DEVICE_CLASS_VOLTAGE         = "voltage"
	DEVICE_CLASS_CONNECTIVITY    = "connectivity"
	DEVICE_CLASS_PROBLEM         = "problem"
	ENTITY_CLASS_DIAGNOSTIC      = "diagnostic"
	ENTITY_CLASS_CONFIG          = "config"
	SENSOR_TYPE_SENSOR           = "sensor"
	SENSOR_TYPE_BINARY           = "binary_sensor"
	INPUT_NUMBER_MODE_BOX        = "box"
)

type fieldSensor struct {
	id          string
	name        string
	unit        string
	stateClass  string
	deviceClass string
	icon        string
	decimals    uint
}

var fieldSensors = map[mppt.Field]fieldSensor{
	mppt.FieldPVVoltage:      {SENSOR_ID_PV_VOLTAGE, "PV voltage", "V", STATE_CLASS_MEASUREMENT, DEVICE_CLASS_VOLTAGE, "mdi:solar-panel", 1},
	mppt.FieldPVCurrent:      {SENSOR_ID_PV_CURRENT, "PV current", "A", STATE_CLASS_MEASUREMENT, DEVICE_CLASS_CURRENT, "mdi:solar-panel", 1},
	mppt.FieldPVPower:        {SENSOR_ID_PV_POWER, "PV power", "W", STATE_CLASS_MEASUREMENT, DEVICE_CLASS_POWER, "mdi:solar-power", 2},
	mppt.FieldBatteryVoltage: {SENSOR_ID_BATTERY_VOLTAGE, "Battery voltage", "V", STATE_CLASS_MEASUREMENT, DEVICE_CLASS_VOLTAGE, "", 1},
	mppt.FieldTemperature:    {SENSOR_ID_TEMPERATURE, "Temperature", "°C", STATE_CLASS_MEASUREMENT, DEVICE_CLASS_TEMPERATURE, "", 1},
	mppt.FieldLoadCurrent:    {SENSOR_ID_LOAD_CURRENT, "Load current", "A", STATE_CLASS_MEASUREMENT, DEVICE_CLASS_CURRENT, "", 1},
	mppt.FieldDailyEnergy:    {SENSOR_ID_DAILY_ENERGY, "Daily energy", "kWh", STATE_CLASS_TOTAL_INCREASING, DEVICE_CLASS_ENERGY, "", 2},
	mppt.FieldTotalEnergy:    {SENSOR_ID_TOTAL_ENERGY, "Total energy", "kWh", STATE_CLASS_TOTAL_INCREASING, DEVICE_CLASS_ENERGY, "", 1},
	mppt.FieldErrorCode:      {SENSOR_ID_ERROR, "Error", "", "", "", "mdi:alert-circle-outline", 0},
	mppt.FieldWorkingMode:    {SENSOR_ID_WORKING_MODE, "Working mode", "", "", "", "mdi:state-machine", 0},
}

// SensorIdForField returns the sensor id and the published decimals of f.
func SensorIdForField(f mppt.Field) (string, uint) {
	s, ok := fieldSensors[f]
	if !ok {
		return f.String(), 0
	}
	return s.id, s.decimals
}

func BridgeDevice(baseTopic string) Device {
	return Device{
		Id:           fmt.Sprintf("mppt2mqtt_bridge_%s", md5HashShort(baseTopic)),
		Manufacturer: "ACasal",
		Model:        "mppt2mqtt",
		Version:      versioninfo.Short(),
		Name:         fmt.Sprintf("mppt2mqtt %s", md5HashShort(baseTopic)),
	}
}

func ControllerDevice(baseTopic string, name string, bridge Device) Device {
	if name == "" {
		name = "MPPT charge controller"
	}
	return Device{
		Id:           fmt.Sprintf("mppt_controller_%s", md5HashShort(baseTopic)),
		Manufacturer: "Generic",
		Model:        "MPPT solar charge controller",
		Name:         name,
		ViaDevice:    bridge.Id,
	}
}

func IdDevice(device Device) Device {
	return Device{
		Id:   device.Id,
		Name: device.Name,
	}
}

// TelemetrySensors lists the discovery sensors for the enabled fields only.
func TelemetrySensors(device Device, fields mppt.FieldSet) []GenericSensor {

	var sensors []GenericSensor

	for _, f := range fields.Fields() {
		s, ok := fieldSensors[f]
		if !ok {
			continue
		}
		sensors = append(sensors, GenericSensor{
			Device:            device,
			Id:                s.id,
			SensorType:        SENSOR_TYPE_SENSOR,
			Name:              s.name,
			StateClass:        s.stateClass,
			DeviceClass:       s.deviceClass,
			UnitOfMeasurement: s.unit,
			Icon:              s.icon,
			UniqueId:          uniqueId(device.Id, s.id),
		})
	}

	// Energy counters awaiting confirmation after a reset
	if fields.Has(mppt.FieldDailyEnergy) || fields.Has(mppt.FieldTotalEnergy) {
		sensors = append(sensors, GenericSensor{
			Device:           device,
			Id:               SENSOR_ID_ENERGY_STALE,
			SensorType:       SENSOR_TYPE_BINARY,
			Name:             "Energy counters pending",
			DeviceClass:      DEVICE_CLASS_PROBLEM,
			EntityCategory:   ENTITY_CLASS_DIAGNOSTIC,
			EnabledByDefault: optionalBool(false),
			UniqueId:         uniqueId(device.Id, SENSOR_ID_ENERGY_STALE),
		})
	}

	return sensors
}

func BridgeSensors(bridgeDevice Device, controllerDevice Device) []GenericSensor {

	var sensors []GenericSensor

	// Bridge connection
	sensors = append(sensors, GenericSensor{
		Device:         bridgeDevice,
		Id:             SENSOR_ID_BRIDGE_STATE,
		SensorType:     SENSOR_TYPE_BINARY,
		Name:           "Connection state",
		DeviceClass:    DEVICE_CLASS_CONNECTIVITY,
		EntityCategory: ENTITY_CLASS_DIAGNOSTIC,
		UniqueId:       uniqueId(bridgeDevice.Id, SENSOR_ID_BRIDGE_STATE),
	})

	// Serial link to the controller
	sensors = append(sensors, GenericSensor{
		Device:         controllerDevice,
		Id:             SENSOR_ID_DEVICE_CONNECTED,
		SensorType:     SENSOR_TYPE_BINARY,
		Name:           "Device connected",
		DeviceClass:    DEVICE_CLASS_CONNECTIVITY,
		EntityCategory: ENTITY_CLASS_DIAGNOSTIC,
		UniqueId:       uniqueId(controllerDevice.Id, SENSOR_ID_DEVICE_CONNECTED),
	})

	return sensors
}

func LoadSwitches(controllerDevice Device) []GenericSwitch {
	return []GenericSwitch{
		{
			Device:   controllerDevice,
			Id:       SWITCH_ID_LOAD,
			Name:     "Load output",
			UniqueId: uniqueId(controllerDevice.Id, SWITCH_ID_LOAD),
			Icon:     "mdi:power-plug",
		},
	}
}

func ActionButtons(controllerDevice Device) []GenericButton {

	var buttons []GenericButton

	buttons = append(buttons, GenericButton{
		Device:       controllerDevice,
		Id:           BUTTON_ID_RESET_ENERGY,
		Name:         "Reset energy counters",
		UniqueId:     uniqueId(controllerDevice.Id, BUTTON_ID_RESET_ENERGY),
		Icon:         "mdi:counter",
		Action:       ACTION_RESET_ENERGY,
		PayloadPress: `{"clear":true,"reboot":false}`,
	})
	buttons = append(buttons, GenericButton{
		Device:         controllerDevice,
		Id:             BUTTON_ID_REBOOT,
		Name:           "Reboot controller",
		UniqueId:       uniqueId(controllerDevice.Id, BUTTON_ID_REBOOT),
		Icon:           "mdi:restart",
		Action:         ACTION_RESET_ENERGY,
		PayloadPress:   `{"clear":false,"reboot":true}`,
		EntityCategory: ENTITY_CLASS_CONFIG,
	})

	return buttons
}

func ChargingParamInputNumbers(controllerDevice Device, initial mppt.SetChargingParams) []GenericInputNumber {

	number := func(id, name, icon string, max, step float64, value int) GenericInputNumber {
		return GenericInputNumber{
			Device:       controllerDevice,
			Id:           id,
			Name:         name,
			UniqueId:     uniqueId(controllerDevice.Id, id),
			Icon:         icon,
			Min:          0,
			Max:          max,
			Step:         step,
			Mode:         INPUT_NUMBER_MODE_BOX,
			InitialValue: float64(value),
		}
	}

	return []GenericInputNumber{
		number(INPUT_NUMBER_ID_CHARGE_CURR, "Charge current", "mdi:current-dc", 255, 1, initial.ChargeCurrent),
		number(INPUT_NUMBER_ID_BATT_TYPE, "Battery type", "mdi:car-battery", 255, 1, initial.BatteryType),
		number(INPUT_NUMBER_ID_CONST_VOLT, "Constant charge voltage", "mdi:flash", 65535, 1, initial.ConstVoltage),
		number(INPUT_NUMBER_ID_LOAD_UV, "Load undervoltage cutoff", "mdi:flash-off", 65535, 1, initial.LoadUndervoltage),
	}
}

// WithChargingParam returns params with the named parameter replaced.
func WithChargingParam(params mppt.SetChargingParams, name string, value int) (mppt.SetChargingParams, error) {
	switch name {
	case INPUT_NUMBER_ID_CHARGE_CURR:
		params.ChargeCurrent = value
	case INPUT_NUMBER_ID_BATT_TYPE:
		params.BatteryType = value
	case INPUT_NUMBER_ID_CONST_VOLT:
		params.ConstVoltage = value
	case INPUT_NUMBER_ID_LOAD_UV:
		params.LoadUndervoltage = value
	default:
		return params, fmt.Errorf("%w: unknown charging parameter %q", mppt.ErrInvalidParameter, name)
	}
	return params, params.Validate()
}

func ChargingParamValues(params mppt.SetChargingParams) map[string]int {
	return map[string]int{
		INPUT_NUMBER_ID_CHARGE_CURR: params.ChargeCurrent,
		INPUT_NUMBER_ID_BATT_TYPE:   params.BatteryType,
		INPUT_NUMBER_ID_CONST_VOLT:  params.ConstVoltage,
		INPUT_NUMBER_ID_LOAD_UV:     params.LoadUndervoltage,
	}
}

func uniqueId(baseId, id string) string {
	return fmt.Sprintf("uid_%s_%s", baseId, id)
}

func md5Hash(text string) string {
	hash := md5.Sum([]byte(text))
	return hex.EncodeToString(hash[:])
}

func md5HashShort(text string) string {
	hash := md5Hash(text)
	return hash[0:8]
}

func optionalBool(value bool) *bool {
	return &value
}
