package state

import (
	"errors"

	"github.com/ethereum/go-ethereum/rlp"

	"marginchain/storage"
)

// ErrJournalClosed is returned when a journal is used after Commit or Discard.
var ErrJournalClosed = errors.New("state: journal already closed")

type journalEntry struct {
	value   []byte
	deleted bool
}

// Journal buffers writes on top of the committed state. Reads observe the
// journal's own writes first. Nothing reaches the database until Commit, which
// applies every write as one storage batch.
type Journal struct {
	manager *Manager
	dirty   map[string]journalEntry
	order   []string
	closed  bool
}

func newJournal(m *Manager) *Journal {
	return &Journal{manager: m, dirty: make(map[string]journalEntry)}
}

// KVGet implements KVStore.
func (j *Journal) KVGet(key []byte, out interface{}) (bool, error) {
	if j.closed {
		return false, ErrJournalClosed
	}
	if len(key) == 0 {
		return false, errEmptyKey
	}
	if entry, ok := j.dirty[string(kvKey(key))]; ok {
		if entry.deleted {
			return false, nil
		}
		return decodeInto(entry.value, out)
	}
	return j.manager.KVGet(key, out)
}

// KVPut implements KVStore.
func (j *Journal) KVPut(key []byte, value interface{}) error {
	if j.closed {
		return ErrJournalClosed
	}
	if len(key) == 0 {
		return errEmptyKey
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	j.record(kvKey(key), journalEntry{value: encoded})
	return nil
}

// KVDelete implements KVStore.
func (j *Journal) KVDelete(key []byte) error {
	if j.closed {
		return ErrJournalClosed
	}
	if len(key) == 0 {
		return errEmptyKey
	}
	j.record(kvKey(key), journalEntry{deleted: true})
	return nil
}

func (j *Journal) record(hashed []byte, entry journalEntry) {
	id := string(hashed)
	if _, seen := j.dirty[id]; !seen {
		j.order = append(j.order, id)
	}
	j.dirty[id] = entry
}

// Dirty reports the number of distinct keys written by the journal.
func (j *Journal) Dirty() int { return len(j.order) }

// Commit flushes the buffered writes in one batch and closes the journal.
func (j *Journal) Commit() error {
	if j.closed {
		return ErrJournalClosed
	}
	batch := storage.NewBatch()
	for _, id := range j.order {
		entry := j.dirty[id]
		if entry.deleted {
			batch.Delete([]byte(id))
			continue
		}
		batch.Put([]byte(id), entry.value)
	}
	if err := j.manager.write(batch); err != nil {
		return err
	}
	j.close()
	return nil
}

// Discard drops every buffered write. Calling Discard on a closed journal is a
// no-op.
func (j *Journal) Discard() {
	if j.closed {
		return
	}
	j.close()
}

func (j *Journal) close() {
	j.closed = true
	j.dirty = nil
	j.order = nil
}
