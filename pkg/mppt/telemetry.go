package mppt

import (
	"fmt"
	"math"
	"strings"
)

type Field uint8

const (
	FieldPVVoltage Field = iota
	FieldPVCurrent
	FieldPVPower
	FieldBatteryVoltage
	FieldTemperature
	FieldLoadCurrent
	FieldDailyEnergy
	FieldTotalEnergy
	FieldErrorCode
	FieldWorkingMode
	fieldCount
)

var fieldNames = [fieldCount]string{
	"pv_voltage",
	"pv_current",
	"pv_power",
	"battery_voltage",
	"temperature",
	"load_current",
	"daily_energy",
	"total_energy",
	"error_code",
	"working_mode",
}

func (f Field) String() string {
	if f < fieldCount {
		return fieldNames[f]
	}
	return fmt.Sprintf("field(%d)", uint8(f))
}

func ParseField(name string) (Field, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for i, n := range fieldNames {
		if n == name {
			return Field(i), nil
		}
	}
	return 0, fmt.Errorf("mppt: unknown telemetry field %q", name)
}

// FieldSet is the set of telemetry fields that are decoded and published.
type FieldSet uint16

func NewFieldSet(fields ...Field) FieldSet {
	var s FieldSet
	for _, f := range fields {
		s |= 1 << f
	}
	return s
}

func AllFields() FieldSet {
	return FieldSet(1<<fieldCount - 1)
}

func ParseFieldSet(names []string) (FieldSet, error) {
	var s FieldSet
	for _, n := range names {
		f, err := ParseField(n)
		if err != nil {
			return 0, err
		}
		s |= 1 << f
	}
	return s, nil
}

func (s FieldSet) Has(f Field) bool {
	return f < fieldCount && s&(1<<f) != 0
}

func (s FieldSet) Fields() []Field {
	var fields []Field
	for f := Field(0); f < fieldCount; f++ {
		if s.Has(f) {
			fields = append(fields, f)
		}
	}
	return fields
}

// Telemetry is one decoded telemetry frame. A nil field was not configured
// or could not be derived.
type Telemetry struct {
	PVVoltage      *float64 `json:"pv_voltage,omitempty"`
	PVCurrent      *float64 `json:"pv_current,omitempty"`
	PVPower        *float64 `json:"pv_power,omitempty"`
	BatteryVoltage *float64 `json:"battery_voltage,omitempty"`
	Temperature    *float64 `json:"temperature,omitempty"`
	LoadCurrent    *float64 `json:"load_current,omitempty"`
	DailyEnergy    *float64 `json:"daily_energy,omitempty"`
	TotalEnergy    *float64 `json:"total_energy,omitempty"`
	ErrorCode      *uint8   `json:"error_code,omitempty"`
	WorkingMode    *uint8   `json:"working_mode,omitempty"`
}

// Value returns the numeric value of f. Error code and working mode are
// returned as their raw code.
func (t Telemetry) Value(f Field) (float64, bool) {
	var p *float64
	switch f {
	case FieldPVVoltage:
		p = t.PVVoltage
	case FieldPVCurrent:
		p = t.PVCurrent
	case FieldPVPower:
		p = t.PVPower
	case FieldBatteryVoltage:
		p = t.BatteryVoltage
	case FieldTemperature:
		p = t.Temperature
	case FieldLoadCurrent:
		p = t.LoadCurrent
	case FieldDailyEnergy:
		p = t.DailyEnergy
	case FieldTotalEnergy:
		p = t.TotalEnergy
	case FieldErrorCode:
		if t.ErrorCode != nil {
			return float64(*t.ErrorCode), true
		}
	case FieldWorkingMode:
		if t.WorkingMode != nil {
			return float64(*t.WorkingMode), true
		}
	}
	if p == nil {
		return 0, false
	}
	return *p, true
}

func (t Telemetry) ErrorText() (string, bool) {
	if t.ErrorCode == nil {
		return "", false
	}
	return ErrorCodeText(*t.ErrorCode), true
}

func (t Telemetry) WorkingModeText() (string, bool) {
	if t.WorkingMode == nil {
		return "", false
	}
	return WorkingModeText(*t.WorkingMode), true
}

type DecodeOptions struct {
	Fields         FieldSet
	VerifyChecksum bool
}

func DefaultDecodeOptions() DecodeOptions {
	return DecodeOptions{
		Fields:         AllFields(),
		VerifyChecksum: true,
	}
}

// Decode parses a telemetry response. Only fields in opts.Fields are set.
// A 20 byte frame carries no checksum; longer frames are verified when
// opts.VerifyChecksum is set.
func Decode(frame []byte, opts DecodeOptions) (*Telemetry, error) {
	if len(frame) < MinTelemetryLen {
		return nil, &DecodeError{Kind: ErrTooShort, Len: len(frame)}
	}
	if frame[0] != headerResp0 || frame[1] != headerResp1 {
		return nil, &DecodeError{Kind: ErrUnknownFrameType, Len: len(frame)}
	}
	if opts.VerifyChecksum && len(frame) >= FrameLen {
		if sum := Checksum(frame); sum != frame[checksumIndex] {
			return nil, &DecodeError{Kind: ErrChecksumMismatch, Len: len(frame), Want: sum, Got: frame[checksumIndex]}
		}
	}

	t := &Telemetry{}
	scaled := func(f Field, off int, div float64) *float64 {
		if !opts.Fields.Has(f) {
			return nil
		}
		v := float64(readUint16(frame, off)) / div
		return &v
	}
	t.PVVoltage = scaled(FieldPVVoltage, offPVVoltage, 10)
	t.PVCurrent = scaled(FieldPVCurrent, offPVCurrent, 10)
	t.BatteryVoltage = scaled(FieldBatteryVoltage, offBatteryVoltage, 10)
	t.Temperature = scaled(FieldTemperature, offTemperature, 10)
	t.LoadCurrent = scaled(FieldLoadCurrent, offLoadCurrent, 10)
	t.DailyEnergy = scaled(FieldDailyEnergy, offDailyEnergy, 100)
	t.TotalEnergy = scaled(FieldTotalEnergy, offTotalEnergy, 10)

	if opts.Fields.Has(FieldPVPower) {
		v := float64(readUint16(frame, offPVVoltage)) / 10
		i := float64(readUint16(frame, offPVCurrent)) / 10
		p := math.Round(v*i*100) / 100
		t.PVPower = &p
	}
	if opts.Fields.Has(FieldErrorCode) {
		c := frame[offErrorCode]
		t.ErrorCode = &c
	}
	if opts.Fields.Has(FieldWorkingMode) {
		m := frame[offWorkingMode]
		t.WorkingMode = &m
	}
	return t, nil
}

// EncodeTelemetry builds a 21 byte response frame for t. Absent fields are
// encoded as zero.
func EncodeTelemetry(t Telemetry) []byte {
	frame := make([]byte, FrameLen)
	frame[0] = headerResp0
	frame[1] = headerResp1
	frame[2] = headerAddr
	put := func(off int, v *float64, mul float64) {
		if v != nil {
			putUint16(frame, off, toUint16(*v*mul))
		}
	}
	put(offPVVoltage, t.PVVoltage, 10)
	put(offPVCurrent, t.PVCurrent, 10)
	put(offBatteryVoltage, t.BatteryVoltage, 10)
	put(offTemperature, t.Temperature, 10)
	put(offLoadCurrent, t.LoadCurrent, 10)
	put(offDailyEnergy, t.DailyEnergy, 100)
	put(offTotalEnergy, t.TotalEnergy, 10)
	if t.ErrorCode != nil {
		frame[offErrorCode] = *t.ErrorCode
	}
	if t.WorkingMode != nil {
		frame[offWorkingMode] = *t.WorkingMode
	}
	return seal(frame)
}

func toUint16(v float64) uint16 {
	v = math.Round(v)
	if v <= 0 {
		return 0
	}
	if v >= math.MaxUint16 {
		return math.MaxUint16
	}
	return uint16(v)
}

func Float(v float64) *float64 {
	return &v
}

func Code(v uint8) *uint8 {
	return &v
}
