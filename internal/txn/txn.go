// Package txn implements the transaction manager: monotonic id allocation
// and the GROWING/SHRINKING/COMMITTED/ABORTED lifecycle, delegating lock
// release to the lock manager.
package txn

import (
	"errors"
	"sync"

	"go.uber.org/atomic"

	"github.com/nova-docdb/docdb/internal/lock"
)

// State is a transaction's position in its lifecycle.
type State uint8

const (
	Growing State = iota
	Shrinking
	Committed
	Aborted
)

func (s State) String() string {
	switch s {
	case Growing:
		return "GROWING"
	case Shrinking:
		return "SHRINKING"
	case Committed:
		return "COMMITTED"
	case Aborted:
		return "ABORTED"
	default:
		return "UNKNOWN"
	}
}

// Transaction is a single logical unit of work.
type Transaction struct {
	ID    int64
	State State
}

// ErrNotFound is returned when an id names no known transaction.
var ErrNotFound = errors.New("txn: transaction not found")

// Manager allocates transaction ids and tracks their lifecycle.
type Manager struct {
	mu     sync.Mutex
	nextID atomic.Int64
	txns   map[int64]*Transaction
	locks  *lock.Manager
}

// New returns a manager that releases locks through locks on commit/abort.
func New(locks *lock.Manager) *Manager {
	return &Manager{txns: make(map[int64]*Transaction), locks: locks}
}

// Begin allocates the next transaction id and registers it as GROWING.
func (m *Manager) Begin() *Transaction {
	id := m.nextID.Inc() - 1
	txn := &Transaction{ID: id, State: Growing}

	m.mu.Lock()
	m.txns[id] = txn
	m.mu.Unlock()
	return txn
}

// Get looks up a transaction by id.
func (m *Manager) Get(id int64) (*Transaction, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	txn, ok := m.txns[id]
	return txn, ok
}

// Commit transitions id through SHRINKING to COMMITTED, releasing every
// lock it holds.
func (m *Manager) Commit(id int64) error {
	return m.end(id, Committed)
}

// Abort transitions id through SHRINKING to ABORTED, releasing every lock
// it holds.
func (m *Manager) Abort(id int64) error {
	return m.end(id, Aborted)
}

func (m *Manager) end(id int64, final State) error {
	m.mu.Lock()
	txn, ok := m.txns[id]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	txn.State = Shrinking
	m.mu.Unlock()

	m.locks.UnlockAll(id)

	m.mu.Lock()
	txn.State = final
	m.mu.Unlock()
	return nil
}
