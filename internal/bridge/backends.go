package bridge

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

var (
	ErrBackendNil     = errors.New("bridge: backend factory is nil")
	ErrBackendName    = errors.New("bridge: backend name required")
	ErrBackendExists  = errors.New("bridge: backend already registered")
	ErrBackendUnknown = errors.New("bridge: unknown backend")
)

var (
	backendMu  sync.RWMutex
	backendReg = map[string]BackendFactory{}
)

// RegisterBackend adds a named factory to the process-wide registry.
// The daemon resolves its configured backend name against it during
// bootstrap.
func RegisterBackend(name string, factory BackendFactory) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrBackendName
	}
	if factory == nil {
		return ErrBackendNil
	}
	backendMu.Lock()
	defer backendMu.Unlock()
	if _, ok := backendReg[name]; ok {
		return fmt.Errorf("%w: %q", ErrBackendExists, name)
	}
	backendReg[name] = factory
	return nil
}

// LookupBackend resolves a registered factory by name.
func LookupBackend(name string) (BackendFactory, error) {
	backendMu.RLock()
	defer backendMu.RUnlock()
	factory, ok := backendReg[strings.TrimSpace(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrBackendUnknown, name)
	}
	return factory, nil
}

// BackendNames lists registered backends in stable order.
func BackendNames() []string {
	backendMu.RLock()
	defer backendMu.RUnlock()
	names := make([]string, 0, len(backendReg))
	for name := range backendReg {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func init() {
	if err := RegisterBackend("demo", func() Backend { return NewDemoBackend() }); err != nil {
		panic(err)
	}
}
