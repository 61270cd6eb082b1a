package peer

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/edup2p/peerprobe/types"
)

// Registry maps identities to records, with the identities kept in the order they were first seen.
//
// Both the announcement listener and the inbound message path write to it concurrently, all methods are safe
// for concurrent use.
type Registry struct {
	mu sync.RWMutex

	records map[Identity]*Record
	order   []Identity

	now func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		records: make(map[Identity]*Record),
		now:     time.Now,
	}
}

// Upsert atomically inserts the record if its identity is unknown, else merges it into the existing record.
//
// Merge rules: a valid address replaces the known address, a key is only taken when none is known yet.
// Updates with an empty identity are dropped.
func (r *Registry) Upsert(update Record) (merged Record, created bool) {
	if update.ID.IsZero() {
		slog.Warn("registry: dropping update without identity")
		return Record{}, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[update.ID]
	if !ok {
		rec = &Record{ID: update.ID, FirstSeen: r.now()}
		r.records[update.ID] = rec
		r.order = append(r.order, update.ID)
		created = true
	}

	if update.Address.Valid && update.Address.Val.IsValid() {
		rec.Address = update.Address
		rec.Address.Val = types.NormaliseAddrPort(rec.Address.Val)
	}

	if !rec.HasKey() && update.HasKey() {
		rec.PublicKey = update.PublicKey
	}

	slog.Log(context.Background(), types.LevelTrace, "registry: upsert", "created", created, "record", rec.Debug())

	return *rec, created
}

// Get returns a copy of the record for id.
func (r *Registry) Get(id Identity) (Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[id]
	if !ok {
		return Record{}, false
	}

	return *rec, true
}

// Filter returns all records matching id, which is at most one.
func (r *Registry) Filter(id Identity) []Record {
	if rec, ok := r.Get(id); ok {
		return []Record{rec}
	}

	return nil
}

// Has reports whether id has a record.
func (r *Registry) Has(id Identity) bool {
	_, ok := r.Get(id)
	return ok
}

// Identities returns all known identities in first-seen order.
func (r *Registry) Identities() []Identity {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return slices.Clone(r.order)
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.order)
}

// Snapshot returns copies of all records in first-seen order.
func (r *Registry) Snapshot() []Record {
	r.mu.RLock()
	defer r.mu.RUnlock()

	recs := make([]Record, 0, len(r.order))
	for _, id := range r.order {
		recs = append(recs, *r.records[id])
	}

	return recs
}

func (r *Registry) String() string {
	return fmt.Sprintf("registry(%d peers)", r.Len())
}
