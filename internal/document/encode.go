package document

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// delta is the unit of replication: a partial document state carrying
// versioned field writes. Snapshots use the same shape, so merging a snapshot
// and applying a remote update are the same operation.
type delta struct {
	Entities   map[string]map[string]fieldValue `msgpack:"e,omitempty"`
	Presence   map[string]fieldValue            `msgpack:"p,omitempty"`
	Order      []string                         `msgpack:"o,omitempty"`
	Shared     map[string]fieldValue            `msgpack:"s,omitempty"`
	Selections map[string]map[string]fieldValue `msgpack:"l,omitempty"`
}

func newDelta() delta {
	return delta{
		Entities:   make(map[string]map[string]fieldValue),
		Presence:   make(map[string]fieldValue),
		Shared:     make(map[string]fieldValue),
		Selections: make(map[string]map[string]fieldValue),
	}
}

func (dl delta) empty() bool {
	return len(dl.Entities) == 0 && len(dl.Presence) == 0 &&
		len(dl.Shared) == 0 && len(dl.Selections) == 0
}

// stamp assigns one version to every write in the delta. A batch carries a
// single version so it merges all-or-nothing per field.
func (dl delta) stamp(clock uint64, actor string) {
	for _, fields := range dl.Entities {
		for k, f := range fields {
			f.Clock, f.Actor = clock, actor
			fields[k] = f
		}
	}
	for k, f := range dl.Presence {
		f.Clock, f.Actor = clock, actor
		dl.Presence[k] = f
	}
	for k, f := range dl.Shared {
		f.Clock, f.Actor = clock, actor
		dl.Shared[k] = f
	}
	for _, sel := range dl.Selections {
		for k, f := range sel {
			f.Clock, f.Actor = clock, actor
			sel[k] = f
		}
	}
}

func (dl delta) encode() ([]byte, error) {
	return msgpack.Marshal(dl)
}

func decodeDelta(data []byte) (delta, error) {
	var dl delta
	if err := msgpack.Unmarshal(data, &dl); err != nil {
		return delta{}, fmt.Errorf("document: decode update: %w", err)
	}
	return dl, nil
}

// ApplyUpdate merges one encoded delta (a remote update or a snapshot) into
// the replica and notifies observers with a single atomic change.
func (d *Doc) ApplyUpdate(data []byte) (Change, error) {
	dl, err := decodeDelta(data)
	if err != nil {
		return Change{}, err
	}

	d.mu.Lock()
	ch := d.applyDeltaLocked(dl, true)
	if !ch.empty() {
		d.log = append(d.log, data)
	}
	d.mu.Unlock()

	d.notify(ch)
	return ch, nil
}

// applyDeltaLocked merges a delta field by field under last-writer-wins and
// reports what changed. The local clock advances past every incoming stamp
// so later local writes win over everything already seen.
func (d *Doc) applyDeltaLocked(dl delta, remote bool) Change {
	ch := Change{Remote: remote}
	changedEntities := make(map[string]struct{})

	bump := func(f fieldValue) {
		if f.Clock > d.clock {
			d.clock = f.Clock
		}
	}

	known := make(map[string]struct{}, len(d.entityOrder))
	for _, id := range d.entityOrder {
		known[id] = struct{}{}
	}
	appendOrder := func(id string) {
		if _, ok := known[id]; !ok {
			d.entityOrder = append(d.entityOrder, id)
			known[id] = struct{}{}
		}
	}
	for _, id := range dl.Order {
		if _, ok := dl.Presence[id]; ok {
			appendOrder(id)
		}
	}

	for id, f := range dl.Presence {
		bump(f)
		appendOrder(id)
		if cur, ok := d.presence[id]; !ok || f.version().newer(cur.version()) {
			d.presence[id] = f
			changedEntities[id] = struct{}{}
		}
	}

	for id, fields := range dl.Entities {
		cur, ok := d.entities[id]
		if !ok {
			cur = make(map[string]fieldValue)
			d.entities[id] = cur
		}
		appendOrder(id)
		for k, f := range fields {
			bump(f)
			if old, ok := cur[k]; !ok || f.version().newer(old.version()) {
				cur[k] = f
				changedEntities[id] = struct{}{}
			}
		}
	}

	for k, f := range dl.Shared {
		bump(f)
		if cur, ok := d.shared[k]; !ok || f.version().newer(cur.version()) {
			d.shared[k] = f
			ch.SharedKeys = append(ch.SharedKeys, k)
		}
	}

	for participant, sel := range dl.Selections {
		cur, ok := d.selections[participant]
		if !ok {
			cur = make(map[string]fieldValue)
			d.selections[participant] = cur
		}
		changed := false
		for id, f := range sel {
			bump(f)
			if old, ok := cur[id]; !ok || f.version().newer(old.version()) {
				cur[id] = f
				changed = true
			}
		}
		if changed {
			ch.Selections = append(ch.Selections, participant)
		}
	}

	for id := range changedEntities {
		ch.Entities = append(ch.Entities, id)
	}
	return ch
}

// encodedState is the full serialized replica: every applied delta in order.
type encodedState struct {
	Deltas [][]byte `msgpack:"d"`
}

// EncodeState serializes the replica's full update history. Its size grows
// with every applied batch until Compact rewrites the history.
func (d *Doc) EncodeState() ([]byte, error) {
	d.mu.Lock()
	deltas := make([][]byte, len(d.log))
	copy(deltas, d.log)
	d.mu.Unlock()

	return msgpack.Marshal(encodedState{Deltas: deltas})
}

// ApplyState applies a full serialized history, e.g. the initial sync
// response from another participant.
func (d *Doc) ApplyState(data []byte) error {
	var st encodedState
	if err := msgpack.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("document: decode state: %w", err)
	}
	for _, raw := range st.Deltas {
		if _, err := d.ApplyUpdate(raw); err != nil {
			return err
		}
	}
	return nil
}

// EncodeSnapshot serializes the replica's current merged state as one delta,
// dropping superseded history but keeping tombstones.
func (d *Doc) EncodeSnapshot() ([]byte, error) {
	d.mu.Lock()
	dl := delta{
		Entities:   make(map[string]map[string]fieldValue, len(d.entities)),
		Presence:   make(map[string]fieldValue, len(d.presence)),
		Order:      append([]string(nil), d.entityOrder...),
		Shared:     make(map[string]fieldValue, len(d.shared)),
		Selections: make(map[string]map[string]fieldValue, len(d.selections)),
	}
	for id, fields := range d.entities {
		m := make(map[string]fieldValue, len(fields))
		for k, f := range fields {
			m[k] = f
		}
		dl.Entities[id] = m
	}
	for id, f := range d.presence {
		dl.Presence[id] = f
	}
	for k, f := range d.shared {
		dl.Shared[k] = f
	}
	for p, sel := range d.selections {
		m := make(map[string]fieldValue, len(sel))
		for id, f := range sel {
			m[id] = f
		}
		dl.Selections[p] = m
	}
	d.mu.Unlock()

	return dl.encode()
}

// StateSize reports the replica's encoded history size in bytes.
func (d *Doc) StateSize() int {
	b, err := d.EncodeState()
	if err != nil {
		return 0
	}
	return len(b)
}
