package state

import (
	"errors"
	"sort"

	"nameref/core/events"
	"nameref/storage"
)

type pendingWrite struct {
	value   []byte
	deleted bool
}

// Txn buffers reads and writes of a single operation on top of the committed
// database. It is not safe for concurrent use; Manager hands out one Txn per
// operation while holding its lock.
type Txn struct {
	db       storage.Database
	readOnly bool
	writes   map[string]pendingWrite
	events   []events.Event
}

func newTxn(db storage.Database, readOnly bool) *Txn {
	return &Txn{
		db:       db,
		readOnly: readOnly,
		writes:   make(map[string]pendingWrite),
	}
}

// get returns nil without error when the key does not exist.
func (t *Txn) get(key []byte) ([]byte, error) {
	if w, ok := t.writes[string(key)]; ok {
		if w.deleted {
			return nil, nil
		}
		return append([]byte(nil), w.value...), nil
	}
	value, err := t.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (t *Txn) put(key, value []byte) error {
	if t.readOnly {
		return ErrReadOnly
	}
	if len(value) == 0 {
		return t.del(key)
	}
	t.writes[string(key)] = pendingWrite{value: append([]byte(nil), value...)}
	return nil
}

func (t *Txn) del(key []byte) error {
	if t.readOnly {
		return ErrReadOnly
	}
	t.writes[string(key)] = pendingWrite{deleted: true}
	return nil
}

// AppendEvent buffers an event until the transaction commits.
func (t *Txn) AppendEvent(evt events.Event) {
	if t == nil || evt == nil {
		return
	}
	t.events = append(t.events, evt)
}

// Events returns the events buffered so far.
func (t *Txn) Events() []events.Event {
	if t == nil {
		return nil
	}
	return append([]events.Event(nil), t.events...)
}

// Dirty reports whether the transaction holds uncommitted writes.
func (t *Txn) Dirty() bool {
	return t != nil && len(t.writes) > 0
}

func (t *Txn) commit() error {
	if t.readOnly || len(t.writes) == 0 {
		return nil
	}
	keys := make([]string, 0, len(t.writes))
	for k := range t.writes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	batch := t.db.NewBatch()
	for _, k := range keys {
		w := t.writes[k]
		if w.deleted {
			batch.Delete([]byte(k))
			continue
		}
		batch.Put([]byte(k), w.value)
	}
	if err := batch.Write(); err != nil {
		return err
	}
	t.writes = make(map[string]pendingWrite)
	return nil
}
