package service

import (
	"sync"
	"sync/atomic"

	"github.com/berfenger/mppt2mqtt/pkg/mppt"
)

// TelemetryState holds the last successfully decoded snapshot. Update is only
// called from the poll completion path; readers never block.
type TelemetryState struct {
	current     atomic.Pointer[mppt.Telemetry]
	energyStale atomic.Bool
	fields      mppt.FieldSet

	hooksMu sync.RWMutex
	hooks   []func(mppt.Telemetry)
}

func NewTelemetryState(fields mppt.FieldSet) *TelemetryState {
	return &TelemetryState{
		fields: fields,
	}
}

// Current returns the last snapshot, or false before the first successful poll.
func (s *TelemetryState) Current() (*mppt.Telemetry, bool) {
	t := s.current.Load()
	if t == nil {
		return nil, false
	}
	cp := *t
	return &cp, true
}

func (s *TelemetryState) Fields() mppt.FieldSet {
	return s.fields
}

// OnChange registers fn to be called once per successful update.
func (s *TelemetryState) OnChange(fn func(mppt.Telemetry)) {
	s.hooksMu.Lock()
	defer s.hooksMu.Unlock()
	s.hooks = append(s.hooks, fn)
}

func (s *TelemetryState) Update(t *mppt.Telemetry) {
	if t == nil {
		return
	}
	snapshot := *t
	s.current.Store(&snapshot)
	s.energyStale.Store(false)

	s.hooksMu.RLock()
	hooks := s.hooks
	s.hooksMu.RUnlock()
	for _, fn := range hooks {
		fn(snapshot)
	}
}

// MarkEnergyStale flags the cached energy counters as outdated until the
// device confirms them on the next successful poll.
func (s *TelemetryState) MarkEnergyStale() {
	s.energyStale.Store(true)
}

func (s *TelemetryState) EnergyStale() bool {
	return s.energyStale.Load()
}
