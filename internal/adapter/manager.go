package adapter

import (
	"sync"

	"github.com/tax-connect/pos-connector/internal/domain"
	"github.com/tax-connect/pos-connector/internal/resilience"
)

// OpsFactory builds the vendor-specific operations for a descriptor.
// Deployments register richer implementations per vendor; the default is
// NewProbeOperations.
type OpsFactory func(descriptor *VendorDescriptor) VendorOperations

// Manager caches live BaseAdapter instances keyed by configuration id.
// Breaker, cache and health state live on the instance, so repeated calls
// for the same tenant must reuse it rather than rebuild it.
type Manager struct {
	mutex      sync.Mutex
	registry   *Registry
	health     *resilience.HealthMonitor
	analytics  AnalyticsRecorder
	defaults   Defaults
	opsFactory OpsFactory
	instances  map[string]*BaseAdapter
}

func NewManager(registry *Registry, health *resilience.HealthMonitor, analytics AnalyticsRecorder, defaults Defaults, opsFactory OpsFactory) *Manager {
	return &Manager{
		registry:   registry,
		health:     health,
		analytics:  analytics,
		defaults:   defaults,
		opsFactory: opsFactory,
		instances:  make(map[string]*BaseAdapter),
	}
}

// GetOrCreate returns the live adapter for the configuration, building one
// on first use.
func (m *Manager) GetOrCreate(config domain.AdapterConfiguration) (*BaseAdapter, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if instance, exists := m.instances[config.ID]; exists {
		return instance, nil
	}

	descriptor, err := m.registry.Get(config.POSType)
	if err != nil {
		return nil, err
	}

	instance := NewBaseAdapter(config, descriptor, m.opsFactory(descriptor), m.health, m.analytics, m.defaults)
	m.instances[config.ID] = instance
	return instance, nil
}

// Descriptor exposes the registry lookup to callers that only hold a
// Manager.
func (m *Manager) Descriptor(posType domain.POSType) (*VendorDescriptor, error) {
	return m.registry.Get(posType)
}

func (m *Manager) Get(adapterID string) (*BaseAdapter, bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	instance, exists := m.instances[adapterID]
	return instance, exists
}

// Remove drops the cached instance, e.g. after a reconfiguration or
// disconnect. The next GetOrCreate builds a fresh one with clean breaker
// state.
func (m *Manager) Remove(adapterID string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	delete(m.instances, adapterID)
}
