package monitor

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"
)

// ErrAlreadyRegistered is returned when a name is registered twice.
var ErrAlreadyRegistered = errors.New("monitor: name already registered")

// registry holds one monitor per logical database, keyed by a caller-chosen
// identifier. The diagnostics API serves out of it.
var (
	registry   = xsync.NewMapOf[string, *Monitor]()
	defaultMon atomic.Pointer[Monitor]
)

// Register adds a monitor under name. Names are unique; registering an
// existing name fails rather than silently replacing a live instance.
func Register(name string, m *Monitor) error {
	if _, loaded := registry.LoadOrStore(name, m); loaded {
		return fmt.Errorf("%w: %q", ErrAlreadyRegistered, name)
	}
	return nil
}

// Lookup returns the monitor registered under name.
func Lookup(name string) (*Monitor, bool) {
	return registry.Load(name)
}

// Deregister removes and returns the monitor under name. The caller owns
// closing it.
func Deregister(name string) (*Monitor, bool) {
	return registry.LoadAndDelete(name)
}

// Range iterates registered monitors. Iteration order is unspecified.
func Range(fn func(name string, m *Monitor) bool) {
	registry.Range(fn)
}

// SetDefault installs the process-wide default monitor.
func SetDefault(m *Monitor) {
	defaultMon.Store(m)
}

// Default returns the process-wide default monitor, or nil if none is set.
func Default() *Monitor {
	return defaultMon.Load()
}
