package mppt

import (
	"encoding/binary"
)

const (
	FrameLen        = 21
	MinTelemetryLen = 20

	checksumStart = 2
	checksumEnd   = 20
	checksumIndex = 20
)

const (
	headerHost0 byte = 0x5A
	headerHost1 byte = 0xA5
	headerAddr  byte = 0x01

	frameTypePoll    byte = 0x00
	frameTypeCommand byte = 0x01

	headerResp0 byte = 0xAA
	headerResp1 byte = 0xBB
)

// telemetry field offsets (big endian u16)
const (
	offPVVoltage      = 3
	offPVCurrent      = 5
	offBatteryVoltage = 7
	offTemperature    = 9
	offLoadCurrent    = 11
	offErrorCode      = 13
	offWorkingMode    = 14
	offDailyEnergy    = 15
	offTotalEnergy    = 17
)

// command field offsets
const (
	offChargeCurrent    = 4
	offBatteryType      = 5
	offConstVoltage     = 6
	offLoadUndervoltage = 12
	offLoadOutput       = 14
	offResetFlags       = 16

	resetFlagClear  byte = 0x01
	resetFlagReboot byte = 0x02
)

// Checksum returns the frame checksum: sum of bytes 2..19 modulo 256.
// Frames shorter than 20 bytes are summed up to their length.
func Checksum(frame []byte) byte {
	end := checksumEnd
	if len(frame) < end {
		end = len(frame)
	}
	var sum byte
	for i := checksumStart; i < end; i++ {
		sum += frame[i]
	}
	return sum
}

// EncodePollRequest builds the telemetry request frame.
func EncodePollRequest() []byte {
	return hostFrame(frameTypePoll)
}

func hostFrame(frameType byte) []byte {
	frame := make([]byte, FrameLen)
	frame[0] = headerHost0
	frame[1] = headerHost1
	frame[2] = headerAddr
	frame[3] = frameType
	return frame
}

func seal(frame []byte) []byte {
	frame[checksumIndex] = Checksum(frame)
	return frame
}

func putUint16(frame []byte, off int, v uint16) {
	binary.BigEndian.PutUint16(frame[off:off+2], v)
}

func readUint16(frame []byte, off int) uint16 {
	return binary.BigEndian.Uint16(frame[off : off+2])
}

// IsPollRequest reports whether frame is a well formed telemetry request.
func IsPollRequest(frame []byte) bool {
	return isHostFrame(frame, frameTypePoll)
}

// IsCommand reports whether frame is a well formed command frame.
func IsCommand(frame []byte) bool {
	return isHostFrame(frame, frameTypeCommand)
}

func isHostFrame(frame []byte, frameType byte) bool {
	return len(frame) >= FrameLen &&
		frame[0] == headerHost0 && frame[1] == headerHost1 &&
		frame[2] == headerAddr && frame[3] == frameType &&
		frame[checksumIndex] == Checksum(frame)
}
