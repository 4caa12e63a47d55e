package usecase

import (
	"sync"

	"go.uber.org/zap"
)

// DeactivateFunc hides whatever a handle is showing
type DeactivateFunc func()

// ActivationBroker allows at most one registered handle to be active at a time.
// It keeps only one ingredient popup open no matter how many widgets exist.
type ActivationBroker struct {
	mu       sync.Mutex
	handles  map[string]DeactivateFunc
	activeID string
	logger   *zap.Logger
}

// NewActivationBroker creates an empty broker
func NewActivationBroker(logger *zap.Logger) *ActivationBroker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ActivationBroker{
		handles: make(map[string]DeactivateFunc),
		logger:  logger,
	}
}

// Register adds or replaces the handle for id
func (b *ActivationBroker) Register(id string, deactivate DeactivateFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handles[id] = deactivate
}

// Unregister removes the handle for id, clearing it as the active one
func (b *ActivationBroker) Unregister(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handles, id)
	if b.activeID == id {
		b.activeID = ""
	}
}

// RequestActivate makes id the active handle and deactivates every other one.
// It returns false, invoking nothing, when id is already active.
func (b *ActivationBroker) RequestActivate(id string) bool {
	b.mu.Lock()
	if b.activeID == id {
		b.mu.Unlock()
		return false
	}
	b.activeID = id
	others := make([]DeactivateFunc, 0, len(b.handles))
	for handle, deactivate := range b.handles {
		if handle != id {
			others = append(others, deactivate)
		}
	}
	b.mu.Unlock()

	// callbacks run unlocked so they may call back into the broker
	for _, deactivate := range others {
		b.invoke(deactivate)
	}
	return true
}

// NotifyDeactivated clears id as the active handle without invoking any callback
func (b *ActivationBroker) NotifyDeactivated(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.activeID == id {
		b.activeID = ""
	}
}

// DeactivateAll deactivates the active handle, then every registered handle
// in case their visible state drifted from the broker's.
func (b *ActivationBroker) DeactivateAll() {
	b.mu.Lock()
	active := b.handles[b.activeID]
	b.activeID = ""
	all := make([]DeactivateFunc, 0, len(b.handles))
	for _, deactivate := range b.handles {
		all = append(all, deactivate)
	}
	b.mu.Unlock()

	if active != nil {
		b.invoke(active)
	}
	for _, deactivate := range all {
		b.invoke(deactivate)
	}
}

// ActiveID returns the active handle, or "" when none is active
func (b *ActivationBroker) ActiveID() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.activeID
}

// IsActive reports whether id is the active handle
func (b *ActivationBroker) IsActive(id string) bool {
	return id != "" && b.ActiveID() == id
}

func (b *ActivationBroker) invoke(deactivate DeactivateFunc) {
	if deactivate == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			b.logger.Warn("deactivate callback panicked", zap.Any("panic", r))
		}
	}()
	deactivate()
}
