package common

import (
	"errors"
	"fmt"
	"sync"
)

var ErrModulePaused = errors.New("module paused")

type PauseView interface {
	IsPaused(module string) bool
}

// ActionPauseView is implemented by pause sets that can also switch off
// individual flows inside a module.
type ActionPauseView interface {
	PauseView
	IsActionPaused(module, action string) bool
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

// GuardAction checks the module switch first and then the per-action switch
// when the view supports it.
func GuardAction(p PauseView, module, action string) error {
	if err := Guard(p, module); err != nil {
		return err
	}
	view, ok := p.(ActionPauseView)
	if !ok || action == "" {
		return nil
	}
	if view.IsActionPaused(module, action) {
		return fmt.Errorf("%w: %s.%s", ErrModulePaused, module, action)
	}
	return nil
}

// Pauses is an in-memory pause set toggled by operators.
type Pauses struct {
	mu      sync.RWMutex
	modules map[string]bool
	actions map[string]bool
}

func NewPauses() *Pauses {
	return &Pauses{modules: make(map[string]bool), actions: make(map[string]bool)}
}

func (p *Pauses) IsPaused(module string) bool {
	if p == nil {
		return false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.modules[module]
}

func (p *Pauses) IsActionPaused(module, action string) bool {
	if p == nil {
		return false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.actions[module+"."+action]
}

// SetModule toggles every flow of module.
func (p *Pauses) SetModule(module string, paused bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.modules[module] = paused
}

// SetAction toggles a single flow such as "lending"/"borrow".
func (p *Pauses) SetAction(module, action string, paused bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.actions[module+"."+action] = paused
}
