package modkit

import "sync"

var (
	defaultMu      sync.RWMutex
	defaultRuntime *Runtime
)

// Default returns the process-wide runtime installed with SetDefault, or nil.
func Default() *Runtime {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultRuntime
}

// SetDefault installs rt as the process-wide runtime and returns the
// previous one, which is not shut down.
func SetDefault(rt *Runtime) *Runtime {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	prev := defaultRuntime
	defaultRuntime = rt
	return prev
}

// Reset shuts down the process-wide runtime, if any, and clears it.
// Intended for tests so that no state leaks between runs.
func Reset() error {
	defaultMu.Lock()
	rt := defaultRuntime
	defaultRuntime = nil
	defaultMu.Unlock()
	if rt == nil {
		return nil
	}
	return rt.Shutdown()
}
