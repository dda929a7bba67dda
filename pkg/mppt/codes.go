package mppt

import "fmt"

// TODO: confirm both tables against the vendor protocol sheet. Unknown codes
// already fall back to their hex value.
var errorCodeTexts = map[uint8]string{
	0x00: "No error",
	0x01: "Battery over-voltage",
	0x02: "Battery under-voltage",
	0x03: "PV over-voltage",
	0x04: "PV reverse polarity",
	0x05: "Over-temperature",
	0x06: "Load short circuit",
	0x07: "Load over-current",
	0x08: "Charge over-current",
}

var workingModeTexts = map[uint8]string{
	0x00: "Standby",
	0x01: "MPPT charging",
	0x02: "Boost charging",
	0x03: "Float charging",
	0x04: "Equalizing charging",
	0x05: "Current limiting",
	0x06: "Load only",
	0x07: "Fault",
}

func ErrorCodeText(code uint8) string {
	if s, ok := errorCodeTexts[code]; ok {
		return s
	}
	return fmt.Sprintf("Unknown error (0x%02X)", code)
}

func WorkingModeText(mode uint8) string {
	if s, ok := workingModeTexts[mode]; ok {
		return s
	}
	return fmt.Sprintf("Unknown mode (%d)", mode)
}
