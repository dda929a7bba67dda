package serial

import (
	"errors"
	"math"
	"sync"
	"time"

	"github.com/berfenger/mppt2mqtt/pkg/mppt"
)

var ErrPortClosed = errors.New("serial: port closed")

// Simulator is an in-process charge controller. It answers poll requests
// with its current telemetry and applies command frames to it.
type Simulator struct {
	// ReadSlice is how long an idle Read blocks before returning zero bytes.
	ReadSlice time.Duration
	// ShortFrames makes telemetry responses 20 bytes long, without checksum.
	ShortFrames bool
	// Silent drops every request, as a disconnected device would.
	Silent bool

	mu        sync.Mutex
	telemetry mppt.Telemetry
	loadOn    bool
	pending   []byte
	commands  []mppt.Command
	closed    bool
}

func NewSimulator(initial mppt.Telemetry) *Simulator {
	return &Simulator{
		ReadSlice: 10 * time.Millisecond,
		telemetry: initial,
	}
}

func DefaultSimulatedTelemetry() mppt.Telemetry {
	return mppt.Telemetry{
		PVVoltage:      mppt.Float(36.4),
		PVCurrent:      mppt.Float(3.2),
		BatteryVoltage: mppt.Float(13.1),
		Temperature:    mppt.Float(28.5),
		LoadCurrent:    mppt.Float(0),
		DailyEnergy:    mppt.Float(0.42),
		TotalEnergy:    mppt.Float(128.3),
		ErrorCode:      mppt.Code(0),
		WorkingMode:    mppt.Code(1),
	}
}

func (s *Simulator) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrPortClosed
	}
	if s.Silent {
		return len(p), nil
	}
	switch {
	case mppt.IsPollRequest(p):
		s.tick()
		frame := mppt.EncodeTelemetry(s.telemetry)
		if s.ShortFrames {
			frame = frame[:mppt.MinTelemetryLen]
		}
		s.pending = append(s.pending, frame...)
	case mppt.IsCommand(p):
		cmd, err := mppt.DecodeCommand(classifyCommand(p), p)
		if err == nil {
			s.apply(cmd)
		}
	}
	return len(p), nil
}

func (s *Simulator) Read(p []byte) (int, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, ErrPortClosed
	}
	if len(s.pending) > 0 {
		n := copy(p, s.pending)
		s.pending = s.pending[n:]
		s.mu.Unlock()
		return n, nil
	}
	s.mu.Unlock()
	time.Sleep(s.ReadSlice)
	return 0, nil
}

func (s *Simulator) ResetInput() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = nil
	return nil
}

func (s *Simulator) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *Simulator) Telemetry() mppt.Telemetry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.telemetry
}

func (s *Simulator) LoadOn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadOn
}

// Commands returns the commands applied so far, oldest first.
func (s *Simulator) Commands() []mppt.Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]mppt.Command(nil), s.commands...)
}

// tick advances the energy counters by one poll worth of PV power.
func (s *Simulator) tick() {
	v, okV := s.telemetry.Value(mppt.FieldPVVoltage)
	i, okI := s.telemetry.Value(mppt.FieldPVCurrent)
	if !okV || !okI {
		return
	}
	wh := v * i * 5 / 3600
	if s.telemetry.DailyEnergy != nil {
		s.telemetry.DailyEnergy = mppt.Float(round(*s.telemetry.DailyEnergy+wh/1000, 100))
	}
	if s.telemetry.TotalEnergy != nil {
		s.telemetry.TotalEnergy = mppt.Float(round(*s.telemetry.TotalEnergy+wh/1000, 10))
	}
}

func (s *Simulator) apply(cmd mppt.Command) {
	s.commands = append(s.commands, cmd)
	switch c := cmd.(type) {
	case mppt.ResetEnergy:
		if c.Clear {
			s.telemetry.DailyEnergy = mppt.Float(0)
			s.telemetry.TotalEnergy = mppt.Float(0)
		}
	case mppt.SetLoadOutput:
		s.loadOn = c.On
		if c.On {
			s.telemetry.LoadCurrent = mppt.Float(1.5)
			s.telemetry.WorkingMode = mppt.Code(1)
		} else {
			s.telemetry.LoadCurrent = mppt.Float(0)
		}
	}
}

// classifyCommand guesses the kind of a command frame from its populated
// bytes. An all zero charging parameter frame reads as load off.
func classifyCommand(frame []byte) mppt.CommandKind {
	if frame[16] != 0 {
		return mppt.CommandResetEnergy
	}
	for _, i := range []int{4, 5, 6, 7, 12, 13} {
		if frame[i] != 0 {
			return mppt.CommandSetChargingParams
		}
	}
	return mppt.CommandSetLoadOutput
}

func round(v float64, scale float64) float64 {
	return math.Round(v*scale) / scale
}
