package common

import (
	"errors"
	"strings"
	"sync"
	"time"
)

var ErrModulePaused = errors.New("module paused")

type PauseView interface {
	IsPaused(module string) bool
}

func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}

// PauseState records why and when a module was paused.
type PauseState struct {
	Reason string
	Since  time.Time
}

// PauseSwitch is an in-memory PauseView toggled by operators. Module names
// are case-insensitive.
type PauseSwitch struct {
	mu     sync.RWMutex
	paused map[string]PauseState
}

func NewPauseSwitch() *PauseSwitch {
	return &PauseSwitch{paused: make(map[string]PauseState)}
}

// Pause halts module. Pausing an already paused module keeps the original
// state.
func (s *PauseSwitch) Pause(module, reason string, at time.Time) {
	key := moduleKey(module)
	if key == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.paused[key]; ok {
		return
	}
	s.paused[key] = PauseState{Reason: strings.TrimSpace(reason), Since: at}
}

// Resume lifts the pause on module.
func (s *PauseSwitch) Resume(module string) {
	s.mu.Lock()
	delete(s.paused, moduleKey(module))
	s.mu.Unlock()
}

func (s *PauseSwitch) IsPaused(module string) bool {
	if s == nil {
		return false
	}
	s.mu.RLock()
	_, ok := s.paused[moduleKey(module)]
	s.mu.RUnlock()
	return ok
}

// State returns the pause state of module, if paused.
func (s *PauseSwitch) State(module string) (PauseState, bool) {
	if s == nil {
		return PauseState{}, false
	}
	s.mu.RLock()
	state, ok := s.paused[moduleKey(module)]
	s.mu.RUnlock()
	return state, ok
}

func moduleKey(module string) string {
	return strings.ToLower(strings.TrimSpace(module))
}
