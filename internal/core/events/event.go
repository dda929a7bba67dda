package events

import (
	"math"

	. "github.com/berfenger/mppt2mqtt/internal/core/domain"
	"github.com/berfenger/mppt2mqtt/pkg/mppt"
)

// TelemetryToUpdateEvents converts a snapshot into sensor events. Only fields
// that are both enabled and present produce an event.
func TelemetryToUpdateEvents(t mppt.Telemetry, fields mppt.FieldSet) []any {
	var events []any

	for _, f := range fields.Fields() {
		id, decimals := SensorIdForField(f)
		switch f {
		case mppt.FieldErrorCode:
			// Error text
			if text, ok := t.ErrorText(); ok {
				events = append(events, NewTextEvent(id, text))
			}
		case mppt.FieldWorkingMode:
			// Working mode text
			if text, ok := t.WorkingModeText(); ok {
				events = append(events, NewTextEvent(id, text))
			}
		default:
			if v, ok := t.Value(f); ok {
				events = append(events, NewFloatEvent(id, roundTo(v, decimals), decimals))
			}
		}
	}

	return events
}

func EnergyStaleUpdateEvent(stale bool) BinarySensorUpdateEvent {
	return NewBinaryEvent(SENSOR_ID_ENERGY_STALE, stale)
}

func DeviceConnectedUpdateEvent(connected bool) BinarySensorUpdateEvent {
	return NewBinaryEvent(SENSOR_ID_DEVICE_CONNECTED, connected)
}

func LoadSwitchUpdateEvent(on bool) SwitchSensorUpdateEvent {
	return NewSwitchEvent(SWITCH_ID_LOAD, on)
}

func ChargingParamsToUpdateEvents(params mppt.SetChargingParams) []any {
	var events []any
	for _, id := range []string{INPUT_NUMBER_ID_CHARGE_CURR, INPUT_NUMBER_ID_BATT_TYPE, INPUT_NUMBER_ID_CONST_VOLT, INPUT_NUMBER_ID_LOAD_UV} {
		events = append(events, NewInputNumberEvent(id, float64(ChargingParamValues(params)[id])))
	}
	return events
}

func roundTo(v float64, decimals uint) float64 {
	p := math.Pow(10, float64(decimals))
	return math.Round(v*p) / p
}
