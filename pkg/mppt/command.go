package mppt

import (
	"fmt"
	"math"
)

type CommandKind string

const (
	CommandResetEnergy       CommandKind = "reset_energy"
	CommandSetChargingParams CommandKind = "set_charging_params"
	CommandSetLoadOutput     CommandKind = "set_load_output"
)

// Command is an operator instruction sent to the controller.
type Command interface {
	Kind() CommandKind
	Validate() error
	encode() []byte
}

type ResetEnergy struct {
	Clear  bool `json:"clear"`
	Reboot bool `json:"reboot"`
}

// DefaultResetEnergy clears the energy counters without rebooting the device.
func DefaultResetEnergy() ResetEnergy {
	return ResetEnergy{Clear: true, Reboot: false}
}

func (c ResetEnergy) Kind() CommandKind { return CommandResetEnergy }

func (c ResetEnergy) Validate() error { return nil }

func (c ResetEnergy) encode() []byte {
	frame := hostFrame(frameTypeCommand)
	var flags byte
	if c.Clear {
		flags |= resetFlagClear
	}
	if c.Reboot {
		flags |= resetFlagReboot
	}
	frame[offResetFlags] = flags
	return seal(frame)
}

// SetChargingParams fields are wider than their wire types so that out of range
// values can be detected and rejected instead of silently truncated.
type SetChargingParams struct {
	ChargeCurrent    int `json:"charge_current"`
	BatteryType      int `json:"battery_type"`
	ConstVoltage     int `json:"const_voltage"`
	LoadUndervoltage int `json:"load_undervoltage"`
}

func (c SetChargingParams) Kind() CommandKind { return CommandSetChargingParams }

func (c SetChargingParams) Validate() error {
	if err := checkRange("charge_current", c.ChargeCurrent, 0, math.MaxUint8); err != nil {
		return err
	}
	if err := checkRange("battery_type", c.BatteryType, 0, math.MaxUint8); err != nil {
		return err
	}
	if err := checkRange("const_voltage", c.ConstVoltage, 0, math.MaxUint16); err != nil {
		return err
	}
	return checkRange("load_undervoltage", c.LoadUndervoltage, 0, math.MaxUint16)
}

func (c SetChargingParams) encode() []byte {
	frame := hostFrame(frameTypeCommand)
	frame[offChargeCurrent] = byte(c.ChargeCurrent)
	frame[offBatteryType] = byte(c.BatteryType)
	putUint16(frame, offConstVoltage, uint16(c.ConstVoltage))
	putUint16(frame, offLoadUndervoltage, uint16(c.LoadUndervoltage))
	return seal(frame)
}

type SetLoadOutput struct {
	On bool `json:"on"`
}

func (c SetLoadOutput) Kind() CommandKind { return CommandSetLoadOutput }

func (c SetLoadOutput) Validate() error { return nil }

func (c SetLoadOutput) encode() []byte {
	frame := hostFrame(frameTypeCommand)
	if c.On {
		frame[offLoadOutput] = 1
	}
	return seal(frame)
}

// Encode validates cmd and returns its wire frame.
func Encode(cmd Command) ([]byte, error) {
	if cmd == nil {
		return nil, fmt.Errorf("%w: nil command", ErrInvalidParameter)
	}
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	return cmd.encode(), nil
}

// DecodeCommand parses a command frame of the given kind. Command frames share a
// header, so the kind has to be known by the caller.
func DecodeCommand(kind CommandKind, frame []byte) (Command, error) {
	if len(frame) < FrameLen {
		return nil, &DecodeError{Kind: ErrTooShort, Len: len(frame)}
	}
	if frame[0] != headerHost0 || frame[1] != headerHost1 || frame[3] != frameTypeCommand {
		return nil, &DecodeError{Kind: ErrUnknownFrameType, Len: len(frame)}
	}
	if sum := Checksum(frame); sum != frame[checksumIndex] {
		return nil, &DecodeError{Kind: ErrChecksumMismatch, Len: len(frame), Want: sum, Got: frame[checksumIndex]}
	}
	switch kind {
	case CommandResetEnergy:
		flags := frame[offResetFlags]
		return ResetEnergy{
			Clear:  flags&resetFlagClear != 0,
			Reboot: flags&resetFlagReboot != 0,
		}, nil
	case CommandSetChargingParams:
		return SetChargingParams{
			ChargeCurrent:    int(frame[offChargeCurrent]),
			BatteryType:      int(frame[offBatteryType]),
			ConstVoltage:     int(readUint16(frame, offConstVoltage)),
			LoadUndervoltage: int(readUint16(frame, offLoadUndervoltage)),
		}, nil
	case CommandSetLoadOutput:
		return SetLoadOutput{On: frame[offLoadOutput] != 0}, nil
	default:
		return nil, &DecodeError{Kind: ErrUnknownFrameType, Len: len(frame)}
	}
}
