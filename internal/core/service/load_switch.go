package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/berfenger/mppt2mqtt/pkg/mppt"
)

// LoadSwitch is the controller's load output. It keeps a non-owning reference
// to its Controller and caches the last successfully commanded state.
type LoadSwitch struct {
	ctrl  *Controller
	state atomic.Bool

	// serializes Set so that the cached value follows write order
	setMu sync.Mutex

	hooksMu sync.RWMutex
	hooks   []func(bool)
}

func NewLoadSwitch(ctrl *Controller, initial bool) (*LoadSwitch, error) {
	if ctrl == nil {
		return nil, fmt.Errorf("%w: load switch requires a controller", mppt.ErrInvalidParameter)
	}
	s := &LoadSwitch{ctrl: ctrl}
	s.state.Store(initial)
	return s, nil
}

func (s *LoadSwitch) Get() bool {
	return s.state.Load()
}

// Set writes the load output command. The cached state only changes when the
// write succeeded.
func (s *LoadSwitch) Set(ctx context.Context, on bool) error {
	s.setMu.Lock()
	defer s.setMu.Unlock()

	if err := s.ctrl.Execute(ctx, mppt.SetLoadOutput{On: on}); err != nil {
		return err
	}
	s.state.Store(on)

	s.hooksMu.RLock()
	hooks := s.hooks
	s.hooksMu.RUnlock()
	for _, fn := range hooks {
		fn(on)
	}
	return nil
}

func (s *LoadSwitch) OnChange(fn func(bool)) {
	s.hooksMu.Lock()
	defer s.hooksMu.Unlock()
	s.hooks = append(s.hooks, fn)
}
