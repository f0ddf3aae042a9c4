package servicemanager

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/journeyos/godeye/binder"
	"github.com/yaoapp/kun/log"
)

// Sentinel errors.
var (
	ErrServiceNotFound = errors.New("servicemanager: service not found")
	ErrServiceExists   = errors.New("servicemanager: service already registered")
	ErrInvalidService  = errors.New("servicemanager: invalid service")
)

// ServiceManager maps service names to binders. A service whose process
// dies is dropped automatically.
type ServiceManager struct {
	mu       sync.RWMutex
	services map[string]*entry
}

type entry struct {
	binder binder.Binder
	link   binder.Link
}

// New returns an empty ServiceManager.
func New() *ServiceManager {
	return &ServiceManager{services: make(map[string]*entry)}
}

// AddService publishes b under name.
func (sm *ServiceManager) AddService(name string, b binder.Binder) error {
	if name == "" || b == nil {
		return ErrInvalidService
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()

	if _, exists := sm.services[name]; exists {
		return fmt.Errorf("%w: %s", ErrServiceExists, name)
	}

	e := &entry{binder: b}
	link, err := b.LinkToDeath(func() {
		log.Warn("servicemanager: service %s died", name)
		sm.drop(name, b)
	})
	if err != nil {
		return fmt.Errorf("add service %s: %w", name, err)
	}
	e.link = link
	sm.services[name] = e
	log.Info("servicemanager: service %s registered", name)
	return nil
}

// RemoveService withdraws name. Removing an unknown name is a no-op.
func (sm *ServiceManager) RemoveService(name string) {
	sm.mu.Lock()
	e, ok := sm.services[name]
	delete(sm.services, name)
	sm.mu.Unlock()

	if ok {
		e.link.Unlink()
	}
}

// drop removes name only if it still points at b.
func (sm *ServiceManager) drop(name string, b binder.Binder) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if e, ok := sm.services[name]; ok && e.binder == b {
		delete(sm.services, name)
	}
}

// GetService returns the binder published under name.
func (sm *ServiceManager) GetService(name string) (binder.Binder, error) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	e, ok := sm.services[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrServiceNotFound, name)
	}
	return e.binder, nil
}

// ListServices returns registered names, sorted.
func (sm *ServiceManager) ListServices() []string {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	names := make([]string, 0, len(sm.services))
	for name := range sm.services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
