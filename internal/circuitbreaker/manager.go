package circuitbreaker

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Manager owns the breakers of one process so they can be reported together.
type Manager struct {
	breakers map[string]*CircuitBreaker
	mutex    sync.RWMutex
	logger   *logrus.Logger
}

func NewManager(logger *logrus.Logger) *Manager {
	return &Manager{
		breakers: make(map[string]*CircuitBreaker),
		logger:   logger,
	}
}

func (m *Manager) GetOrCreate(config Config) *CircuitBreaker {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if cb, ok := m.breakers[config.Name]; ok {
		return cb
	}
	cb := New(config, m.logger)
	m.breakers[cb.name] = cb
	return cb
}

func (m *Manager) AllMetrics() map[string]Metrics {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	out := make(map[string]Metrics, len(m.breakers))
	for name, cb := range m.breakers {
		out[name] = cb.Metrics()
	}
	return out
}
