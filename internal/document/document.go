// Package document implements the shared replication document: an ordered
// collection of entity records, a flat shared-state map, and per-participant
// selection sets, converging across participants through field-level
// last-writer-wins merges.
//
// All mutation goes through batched transactions; observers see each batch as
// one atomic change. Encoded updates are msgpack deltas that double as the
// sync wire format and the compaction substrate.
package document

import (
	"sort"
	"sync"
)

// Version orders concurrent writes to one field: higher clock wins, with the
// actor id breaking ties deterministically.
type Version struct {
	Clock uint64 `msgpack:"c"`
	Actor string `msgpack:"a"`
}

func (v Version) newer(o Version) bool {
	if v.Clock != o.Clock {
		return v.Clock > o.Clock
	}
	return v.Actor > o.Actor
}

type fieldValue struct {
	Value   any    `msgpack:"v"`
	Clock   uint64 `msgpack:"c"`
	Actor   string `msgpack:"a"`
	Deleted bool   `msgpack:"d,omitempty"`
}

func (f fieldValue) version() Version { return Version{Clock: f.Clock, Actor: f.Actor} }

// Change describes one atomic batch as seen by observers. Identifiers list
// what was touched; observers read current values through the document.
type Change struct {
	Entities   []string // entity ids inserted, mutated, or removed
	SharedKeys []string
	Selections []string // participant ids whose selection set changed
	Remote     bool     // true when the batch came from a merged update
}

func (c Change) empty() bool {
	return len(c.Entities) == 0 && len(c.SharedKeys) == 0 && len(c.Selections) == 0
}

// Doc is one participant's replica of the shared document.
type Doc struct {
	mu    sync.Mutex
	actor string
	clock uint64

	entityOrder []string
	entities    map[string]map[string]fieldValue
	presence    map[string]fieldValue // entity liveness; Deleted marks a tombstone
	shared      map[string]fieldValue
	selections  map[string]map[string]fieldValue // participant -> entity -> membership

	log [][]byte // applied deltas, in order; compaction rewrites this

	nextObserver int
	observers    map[int]func(Change)
}

// New creates an empty document replica owned by the given participant actor
// id.
func New(actor string) *Doc {
	return &Doc{
		actor:      actor,
		entities:   make(map[string]map[string]fieldValue),
		presence:   make(map[string]fieldValue),
		shared:     make(map[string]fieldValue),
		selections: make(map[string]map[string]fieldValue),
		observers:  make(map[int]func(Change)),
	}
}

// Subscribe registers an observer for atomic change batches. The returned
// function removes the observer.
func (d *Doc) Subscribe(fn func(Change)) func() {
	d.mu.Lock()
	id := d.nextObserver
	d.nextObserver++
	d.observers[id] = fn
	d.mu.Unlock()

	return func() {
		d.mu.Lock()
		delete(d.observers, id)
		d.mu.Unlock()
	}
}

func (d *Doc) notify(ch Change) {
	if ch.empty() {
		return
	}
	d.mu.Lock()
	fns := make([]func(Change), 0, len(d.observers))
	for _, fn := range d.observers {
		fns = append(fns, fn)
	}
	d.mu.Unlock()

	for _, fn := range fns {
		fn(ch)
	}
}

// Actor returns the participant id that stamps this replica's writes.
func (d *Doc) Actor() string { return d.actor }

// Entity is one live entity record with its fields resolved.
type Entity struct {
	ID     string
	Fields map[string]any
}

// Entities returns all live entity records in insertion order. Insertion
// order defines display order, not meaning.
func (d *Doc) Entities() []Entity {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]Entity, 0, len(d.entityOrder))
	for _, id := range d.entityOrder {
		if p, ok := d.presence[id]; !ok || p.Deleted {
			continue
		}
		out = append(out, Entity{ID: id, Fields: d.entityFieldsLocked(id)})
	}
	return out
}

// Entity returns one live record's fields by id.
func (d *Doc) Entity(id string) (map[string]any, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if p, ok := d.presence[id]; !ok || p.Deleted {
		return nil, false
	}
	return d.entityFieldsLocked(id), true
}

func (d *Doc) entityFieldsLocked(id string) map[string]any {
	fields := make(map[string]any)
	for k, f := range d.entities[id] {
		if !f.Deleted {
			fields[k] = f.Value
		}
	}
	return fields
}

// EntityCount reports the number of live entity records.
func (d *Doc) EntityCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, id := range d.entityOrder {
		if p, ok := d.presence[id]; ok && !p.Deleted {
			n++
		}
	}
	return n
}

// Shared returns the live shared-state map.
func (d *Doc) Shared() map[string]any {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make(map[string]any, len(d.shared))
	for k, f := range d.shared {
		if !f.Deleted {
			out[k] = f.Value
		}
	}
	return out
}

// SharedValue reads one shared-state key.
func (d *Doc) SharedValue(key string) (any, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	f, ok := d.shared[key]
	if !ok || f.Deleted {
		return nil, false
	}
	return f.Value, true
}

// Selection returns the entity ids currently selected by a participant,
// sorted for deterministic reads.
func (d *Doc) Selection(participant string) []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	sel := d.selections[participant]
	out := make([]string, 0, len(sel))
	for id, f := range sel {
		if !f.Deleted {
			if member, ok := f.Value.(bool); ok && member {
				out = append(out, id)
			}
		}
	}
	sort.Strings(out)
	return out
}

// Selections returns every participant's selection set.
func (d *Doc) Selections() map[string][]string {
	d.mu.Lock()
	participants := make([]string, 0, len(d.selections))
	for p := range d.selections {
		participants = append(participants, p)
	}
	d.mu.Unlock()

	out := make(map[string][]string, len(participants))
	for _, p := range participants {
		if sel := d.Selection(p); len(sel) > 0 {
			out[p] = sel
		}
	}
	return out
}
