package mppt

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodePollRequest(t *testing.T) {

	assert := assert.New(t)

	frame := EncodePollRequest()

	assert.Len(frame, FrameLen)
	assert.Equal([]byte{0x5A, 0xA5, 0x01, 0x00}, frame[:4], "request header")
	for i := 4; i < 20; i++ {
		assert.Equal(byte(0), frame[i], "padding")
	}
	assert.Equal(byte(0x01), frame[20], "checksum")
	assert.True(IsPollRequest(frame))
	assert.False(IsCommand(frame))

	// idempotent
	assert.Equal(frame, EncodePollRequest())
}

func TestEncodeResetEnergyDocumentedFrame(t *testing.T) {

	assert := assert.New(t)

	frame, err := Encode(ResetEnergy{Clear: true, Reboot: false})
	require.NoError(t, err)

	expected := make([]byte, FrameLen)
	copy(expected, []byte{0x5A, 0xA5, 0x01, 0x01})
	expected[16] = 0x01
	expected[20] = 0x03
	assert.Equal(expected, frame)

	frame, err = Encode(ResetEnergy{Clear: true, Reboot: true})
	require.NoError(t, err)
	assert.Equal(byte(0x03), frame[16], "clear|reboot flags")
	assert.Equal(byte(0x05), frame[20], "checksum")
}

func TestEncodeChargingParams(t *testing.T) {

	assert := assert.New(t)

	frame, err := Encode(SetChargingParams{
		ChargeCurrent:    10,
		BatteryType:      2,
		ConstVoltage:     1400,
		LoadUndervoltage: 1140,
	})
	require.NoError(t, err)

	assert.Equal(byte(10), frame[4])
	assert.Equal(byte(2), frame[5])
	assert.Equal([]byte{0x05, 0x78}, frame[6:8], "const voltage big endian")
	assert.Equal([]byte{0x04, 0x74}, frame[12:14], "load undervoltage big endian")
	assert.Equal(byte(0x03), frame[20], "checksum wraps modulo 256")
	assert.True(IsCommand(frame))
}

func TestEncodeLoadOutput(t *testing.T) {

	assert := assert.New(t)

	on, err := Encode(SetLoadOutput{On: true})
	require.NoError(t, err)
	off, err := Encode(SetLoadOutput{On: false})
	require.NoError(t, err)

	assert.Equal(byte(1), on[14])
	assert.Equal(byte(0), off[14])
	assert.Equal(byte(0x03), on[20])
	assert.Equal(byte(0x02), off[20])
}

func TestChargingParamsOutOfRange(t *testing.T) {

	cases := []SetChargingParams{
		{ChargeCurrent: 256},
		{ChargeCurrent: -1},
		{BatteryType: 300},
		{ConstVoltage: 65536},
		{LoadUndervoltage: -5},
	}

	for _, c := range cases {
		frame, err := Encode(c)
		assert.Nil(t, frame)
		assert.ErrorIs(t, err, ErrInvalidParameter, "%+v", c)

		var ipe *InvalidParameterError
		assert.True(t, errors.As(err, &ipe))
	}

	_, err := Encode(SetChargingParams{ChargeCurrent: 255, BatteryType: 255, ConstVoltage: 65535, LoadUndervoltage: 65535})
	assert.NoError(t, err, "upper bounds are inclusive")
}

func TestCommandRoundTrip(t *testing.T) {

	assert := assert.New(t)

	commands := []Command{
		ResetEnergy{Clear: true},
		ResetEnergy{Reboot: true},
		ResetEnergy{Clear: true, Reboot: true},
		SetChargingParams{ChargeCurrent: 30, BatteryType: 1, ConstVoltage: 1440, LoadUndervoltage: 1100},
		SetChargingParams{ChargeCurrent: 255, BatteryType: 255, ConstVoltage: 65535, LoadUndervoltage: 65535},
		SetLoadOutput{On: true},
		SetLoadOutput{On: false},
	}

	for _, cmd := range commands {
		frame, err := Encode(cmd)
		require.NoError(t, err)
		decoded, err := DecodeCommand(cmd.Kind(), frame)
		require.NoError(t, err)
		assert.Equal(cmd, decoded)
	}
}

func TestDecodeCommandErrors(t *testing.T) {

	_, err := DecodeCommand(CommandResetEnergy, []byte{0x5A, 0xA5})
	assert.ErrorIs(t, err, ErrTooShort)

	_, err = DecodeCommand(CommandResetEnergy, EncodePollRequest())
	assert.ErrorIs(t, err, ErrUnknownFrameType)

	frame, _ := Encode(ResetEnergy{Clear: true})
	frame[20]++
	_, err = DecodeCommand(CommandResetEnergy, frame)
	assert.ErrorIs(t, err, ErrChecksumMismatch)
}

func twentyByteFrame() []byte {
	frame := make([]byte, MinTelemetryLen)
	copy(frame, []byte{
		0xAA, 0xBB, 0x01,
		0x00, 0xF3, // pv voltage 24.3
		0x00, 0x15, // pv current 2.1
		0x00, 0x84, // battery voltage 13.2
	})
	return frame
}

func TestDecodeTwentyByteFrame(t *testing.T) {

	assert := assert.New(t)

	fields := NewFieldSet(FieldPVVoltage, FieldPVCurrent, FieldBatteryVoltage)
	tm, err := Decode(twentyByteFrame(), DecodeOptions{Fields: fields, VerifyChecksum: true})
	require.NoError(t, err)

	assert.Equal(24.3, *tm.PVVoltage)
	assert.Equal(2.1, *tm.PVCurrent)
	assert.Equal(13.2, *tm.BatteryVoltage)
	assert.Nil(tm.PVPower)
	assert.Nil(tm.Temperature)
	assert.Nil(tm.LoadCurrent)
	assert.Nil(tm.DailyEnergy)
	assert.Nil(tm.TotalEnergy)
	assert.Nil(tm.ErrorCode)
	assert.Nil(tm.WorkingMode)
}

func TestDecodeFullFrame(t *testing.T) {

	assert := assert.New(t)

	in := Telemetry{
		PVVoltage:      Float(38.5),
		PVCurrent:      Float(4.2),
		BatteryVoltage: Float(26.8),
		Temperature:    Float(31.4),
		LoadCurrent:    Float(1.7),
		DailyEnergy:    Float(1.23),
		TotalEnergy:    Float(845.6),
		ErrorCode:      Code(0x05),
		WorkingMode:    Code(0x01),
	}
	frame := EncodeTelemetry(in)
	require.Len(t, frame, FrameLen)

	tm, err := Decode(frame, DefaultDecodeOptions())
	require.NoError(t, err)

	assert.InDelta(38.5, *tm.PVVoltage, 1e-9)
	assert.InDelta(4.2, *tm.PVCurrent, 1e-9)
	assert.InDelta(161.7, *tm.PVPower, 1e-9)
	assert.InDelta(26.8, *tm.BatteryVoltage, 1e-9)
	assert.InDelta(31.4, *tm.Temperature, 1e-9)
	assert.InDelta(1.7, *tm.LoadCurrent, 1e-9)
	assert.InDelta(1.23, *tm.DailyEnergy, 1e-9)
	assert.InDelta(845.6, *tm.TotalEnergy, 1e-9)
	assert.Equal(uint8(0x05), *tm.ErrorCode)
	assert.Equal(uint8(0x01), *tm.WorkingMode)

	text, ok := tm.ErrorText()
	assert.True(ok)
	assert.Equal("Over-temperature", text)
	text, ok = tm.WorkingModeText()
	assert.True(ok)
	assert.Equal("MPPT charging", text)
}

func TestDecodeTooShort(t *testing.T) {

	full := EncodeTelemetry(Telemetry{PVVoltage: Float(12)})
	for n := 0; n < MinTelemetryLen; n++ {
		tm, err := Decode(full[:n], DefaultDecodeOptions())
		assert.Nil(t, tm, "no partial snapshot for %d bytes", n)
		assert.ErrorIs(t, err, ErrTooShort, "%d bytes", n)
	}
}

func TestDecodeUnknownFrameType(t *testing.T) {

	frame := EncodeTelemetry(Telemetry{})
	frame[1] = 0xBC
	tm, err := Decode(frame, DefaultDecodeOptions())
	assert.Nil(t, tm)
	assert.ErrorIs(t, err, ErrUnknownFrameType)

	// our own request echoed back is not telemetry
	_, err = Decode(EncodePollRequest(), DefaultDecodeOptions())
	assert.ErrorIs(t, err, ErrUnknownFrameType)
}

func TestDecodeChecksumMismatch(t *testing.T) {

	frame := EncodeTelemetry(Telemetry{PVVoltage: Float(20)})
	frame[20] ^= 0xFF

	tm, err := Decode(frame, DefaultDecodeOptions())
	assert.Nil(t, tm)
	assert.ErrorIs(t, err, ErrChecksumMismatch)

	var de *DecodeError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, Checksum(frame), de.Want)

	tm, err = Decode(frame, DecodeOptions{Fields: AllFields(), VerifyChecksum: false})
	assert.NoError(t, err)
	assert.Equal(t, 20.0, *tm.PVVoltage)
}

func TestEncodeTelemetryClamps(t *testing.T) {

	frame := EncodeTelemetry(Telemetry{PVVoltage: Float(-3), TotalEnergy: Float(math.MaxFloat32)})
	tm, err := Decode(frame, DefaultDecodeOptions())
	require.NoError(t, err)
	assert.Equal(t, 0.0, *tm.PVVoltage)
	assert.Equal(t, 6553.5, *tm.TotalEnergy)
}

func TestFieldSet(t *testing.T) {

	assert := assert.New(t)

	s, err := ParseFieldSet([]string{"pv_voltage", " Battery_Voltage ", "working_mode"})
	require.NoError(t, err)
	assert.True(s.Has(FieldPVVoltage))
	assert.True(s.Has(FieldBatteryVoltage))
	assert.True(s.Has(FieldWorkingMode))
	assert.False(s.Has(FieldPVPower))
	assert.Equal([]Field{FieldPVVoltage, FieldBatteryVoltage, FieldWorkingMode}, s.Fields())

	_, err = ParseFieldSet([]string{"pv_voltage", "humidity"})
	assert.Error(err)

	assert.Len(AllFields().Fields(), 10)
	assert.Equal("daily_energy", FieldDailyEnergy.String())
}

func TestCodeTexts(t *testing.T) {
	assert.Equal(t, "No error", ErrorCodeText(0))
	assert.Equal(t, "Unknown error (0xFE)", ErrorCodeText(0xFE))
	assert.Equal(t, "Float charging", WorkingModeText(3))
	assert.Equal(t, "Unknown mode (42)", WorkingModeText(42))
}
