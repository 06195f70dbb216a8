package store

import (
	"context"
	"sync"

	"github.com/sivakasi-crackers/order-dashboard/pkg/models"
)

// MemorySource keeps the collection in process. It backs tests and the
// ORDER_SOURCE=memory development mode.
type MemorySource struct {
	mu      sync.Mutex
	current models.Collection
	watches map[int]*memoryWatch
	nextID  int
}

type memoryWatch struct {
	updates chan models.Collection
	fail    chan error
}

func NewMemorySource(initial models.Collection) *MemorySource {
	return &MemorySource{
		current: clone(initial),
		watches: make(map[int]*memoryWatch),
	}
}

// Set replaces the whole collection and notifies every running watch.
func (m *MemorySource) Set(c models.Collection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setLocked(clone(c))
}

func (m *MemorySource) Put(rec models.OrderRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	next := clone(m.current)
	next[rec.ID] = rec
	m.setLocked(next)
}

func (m *MemorySource) Delete(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	next := clone(m.current)
	delete(next, id)
	m.setLocked(next)
}

func (m *MemorySource) setLocked(c models.Collection) {
	m.current = c
	for _, w := range m.watches {
		// keep only the latest snapshot for slow readers
		select {
		case <-w.updates:
		default:
		}
		w.updates <- clone(c)
	}
}

// Fail makes every running watch return err.
func (m *MemorySource) Fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, w := range m.watches {
		select {
		case w.fail <- err:
		default:
		}
	}
}

func (m *MemorySource) Watchers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.watches)
}

func (m *MemorySource) Run(ctx context.Context, publish func(models.Collection)) error {
	w := &memoryWatch{
		updates: make(chan models.Collection, 1),
		fail:    make(chan error, 1),
	}

	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.watches[id] = w
	initial := clone(m.current)
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.watches, id)
		m.mu.Unlock()
	}()

	publish(initial)
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-w.fail:
			return err
		case c := <-w.updates:
			publish(c)
		}
	}
}

func clone(c models.Collection) models.Collection {
	out := make(models.Collection, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}
