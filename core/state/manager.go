package state

import (
	"errors"
	"fmt"
	"sync"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"marginchain/storage"
)

// KVStore is the record-level view handed to native modules. Values are RLP
// encoded and keys are hashed before they reach the backend.
type KVStore interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVDelete(key []byte) error
}

var errEmptyKey = errors.New("kv: key must not be empty")

func kvKey(key []byte) []byte {
	return ethcrypto.Keccak256(key)
}

// Manager owns the committed state. Reads go straight to the database; writes
// are expected to flow through a Journal so that a call either lands entirely
// or not at all.
type Manager struct {
	db storage.Database
	mu sync.Mutex
}

// NewManager wraps db.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

// KVGet decodes the committed record stored under key into out.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, errEmptyKey
	}
	data, err := m.db.Get(kvKey(key))
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return decodeInto(data, out)
}

// KVPut writes a single record outside of any journal.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return errEmptyKey
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	return m.db.Put(kvKey(key), encoded)
}

// KVDelete removes a single committed record.
func (m *Manager) KVDelete(key []byte) error {
	if len(key) == 0 {
		return errEmptyKey
	}
	return m.db.Delete(kvKey(key))
}

// Begin opens a journal over the committed state.
func (m *Manager) Begin() *Journal {
	return newJournal(m)
}

// Update runs fn inside a journal and commits it when fn succeeds. Any error
// discards every write fn made.
func (m *Manager) Update(fn func(*Journal) error) error {
	journal := m.Begin()
	if err := fn(journal); err != nil {
		journal.Discard()
		return err
	}
	return journal.Commit()
}

func (m *Manager) write(batch *storage.Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if batch.Len() == 0 {
		return nil
	}
	if err := m.db.Write(batch); err != nil {
		return fmt.Errorf("state: commit batch: %w", err)
	}
	return nil
}

func decodeInto(data []byte, out interface{}) (bool, error) {
	if len(data) == 0 {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}
