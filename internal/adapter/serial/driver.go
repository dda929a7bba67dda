package serial

import (
	"fmt"
	"time"

	tarm "github.com/tarm/serial"
	bugst "go.bug.st/serial"
	"go.uber.org/zap"
)

const (
	DRIVER_BUGST     = "bugst"
	DRIVER_TARM      = "tarm"
	DRIVER_SIMULATOR = "simulator"

	DEFAULT_BAUD_RATE  = 9600
	DEFAULT_READ_SLICE = 50 * time.Millisecond
)

var Drivers = []string{DRIVER_BUGST, DRIVER_TARM, DRIVER_SIMULATOR}

type Options struct {
	Driver   string
	Device   string
	BaudRate int
	// ReadSlice bounds each driver read. It is also the idle gap that ends a
	// short frame.
	ReadSlice time.Duration
}

// Open creates the Link for the configured driver.
func Open(opts Options, logger *zap.Logger, instrumentation *Instrument) (*Link, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.BaudRate <= 0 {
		opts.BaudRate = DEFAULT_BAUD_RATE
	}
	if opts.ReadSlice <= 0 {
		opts.ReadSlice = DEFAULT_READ_SLICE
	}

	var p Port
	var err error
	switch opts.Driver {
	case DRIVER_BUGST, "":
		p, err = openBugst(opts)
	case DRIVER_TARM:
		p, err = openTarm(opts)
	case DRIVER_SIMULATOR:
		sim := NewSimulator(DefaultSimulatedTelemetry())
		sim.ReadSlice = opts.ReadSlice
		p = sim
	default:
		return nil, fmt.Errorf("unknown serial driver %q", opts.Driver)
	}
	if err != nil {
		if ports, lerr := bugst.GetPortsList(); lerr == nil {
			logger.Warn("serial: open failed", zap.String("device", opts.Device), zap.Strings("available", ports))
		}
		return nil, err
	}
	name := opts.Device
	if opts.Driver == DRIVER_SIMULATOR {
		name = DRIVER_SIMULATOR
	}
	return NewLink(p, name, logger, instrumentation), nil
}

type bugstPort struct {
	bugst.Port
}

func (p bugstPort) ResetInput() error {
	return p.Port.ResetInputBuffer()
}

func openBugst(opts Options) (Port, error) {
	p, err := bugst.Open(opts.Device, &bugst.Mode{
		BaudRate: opts.BaudRate,
		DataBits: 8,
		Parity:   bugst.NoParity,
		StopBits: bugst.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", opts.Device, err)
	}
	if err := p.SetReadTimeout(opts.ReadSlice); err != nil {
		p.Close()
		return nil, fmt.Errorf("set read timeout on %s: %w", opts.Device, err)
	}
	return bugstPort{Port: p}, nil
}

type tarmPort struct {
	*tarm.Port
}

func (p tarmPort) ResetInput() error {
	return p.Port.Flush()
}

func openTarm(opts Options) (Port, error) {
	// tarm rounds the read timeout to tenths of a second
	slice := opts.ReadSlice
	if slice < 100*time.Millisecond {
		slice = 100 * time.Millisecond
	}
	p, err := tarm.OpenPort(&tarm.Config{
		Name:        opts.Device,
		Baud:        opts.BaudRate,
		ReadTimeout: slice,
		Size:        8,
		Parity:      tarm.ParityNone,
		StopBits:    tarm.Stop1,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", opts.Device, err)
	}
	return tarmPort{Port: p}, nil
}
