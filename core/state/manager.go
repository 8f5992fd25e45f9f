package state

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"nameref/core/events"
	"nameref/storage"
)

// ErrReadOnly is returned when a write is attempted inside Manager.View.
var ErrReadOnly = errors.New("state: read-only transaction")

// Manager serialises state transitions over a storage backend. Every
// operation runs to completion against a private Txn overlay and is either
// committed as a single storage batch or discarded entirely, so no caller ever
// observes a partially applied operation.
type Manager struct {
	db storage.Database

	mu      sync.Mutex
	emitter events.Emitter
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db, emitter: events.NoopEmitter{}}
}

// SetEmitter configures the emitter that receives the events of committed
// operations. Passing nil resets the emitter to a no-op implementation.
func (m *Manager) SetEmitter(emitter events.Emitter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if emitter == nil {
		m.emitter = events.NoopEmitter{}
		return
	}
	m.emitter = emitter
}

// Execute runs fn inside an atomic unit of work. When fn returns an error the
// overlay is dropped and no event is emitted. On success the writes are
// committed and the buffered events are emitted in order.
func (m *Manager) Execute(ctx context.Context, fn func(*Txn) error) error {
	if m == nil || m.db == nil {
		return fmt.Errorf("state: manager not configured")
	}
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := newTxn(m.db, false)
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.commit(); err != nil {
		return fmt.Errorf("state: commit: %w", err)
	}
	for _, evt := range tx.events {
		m.emitter.Emit(evt)
	}
	return nil
}

// View runs fn against a read-only snapshot of the committed state.
func (m *Manager) View(fn func(*Txn) error) error {
	if m == nil || m.db == nil {
		return fmt.Errorf("state: manager not configured")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(newTxn(m.db, true))
}
