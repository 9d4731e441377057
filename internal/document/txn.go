package document

// Txn collects a batch of writes. The batch commits as one delta with one
// version stamp; observers never see a partially-applied batch.
type Txn struct {
	doc   *Doc
	delta delta
}

// Update runs a batched mutation. The returned encoded delta is what the
// batch changed, suitable for publishing to other participants; it is nil
// when the batch wrote nothing.
func (d *Doc) Update(fn func(*Txn)) []byte {
	tx := &Txn{doc: d, delta: newDelta()}
	fn(tx)
	if tx.delta.empty() {
		return nil
	}

	d.mu.Lock()
	d.clock++
	tx.delta.stamp(d.clock, d.actor)
	ch := d.applyDeltaLocked(tx.delta, false)
	encoded, err := tx.delta.encode()
	if err == nil {
		d.log = append(d.log, encoded)
	}
	d.mu.Unlock()

	d.notify(ch)
	if err != nil {
		return nil
	}
	return encoded
}

// InsertEntity adds (or revives) an entity record with the given fields.
func (t *Txn) InsertEntity(id string, fields map[string]any) {
	t.delta.Presence[id] = fieldValue{Value: true}
	if len(t.delta.Order) == 0 || t.delta.Order[len(t.delta.Order)-1] != id {
		t.delta.Order = append(t.delta.Order, id)
	}
	for k, v := range fields {
		t.SetEntityField(id, k, v)
	}
}

// SetEntityField writes one field of one entity record.
func (t *Txn) SetEntityField(id, key string, value any) {
	m, ok := t.delta.Entities[id]
	if !ok {
		m = make(map[string]fieldValue)
		t.delta.Entities[id] = m
	}
	m[key] = fieldValue{Value: value}
}

// DeleteEntity tombstones an entity record and all of its fields.
func (t *Txn) DeleteEntity(id string) {
	t.delta.Presence[id] = fieldValue{Deleted: true}

	t.doc.mu.Lock()
	keys := make([]string, 0, len(t.doc.entities[id]))
	for k := range t.doc.entities[id] {
		keys = append(keys, k)
	}
	t.doc.mu.Unlock()

	if len(keys) == 0 {
		return
	}
	m, ok := t.delta.Entities[id]
	if !ok {
		m = make(map[string]fieldValue)
		t.delta.Entities[id] = m
	}
	for _, k := range keys {
		m[k] = fieldValue{Deleted: true}
	}
}

// SetShared writes one shared-state key.
func (t *Txn) SetShared(key string, value any) {
	t.delta.Shared[key] = fieldValue{Value: value}
}

// DeleteShared tombstones one shared-state key.
func (t *Txn) DeleteShared(key string) {
	t.delta.Shared[key] = fieldValue{Deleted: true}
}

// SetSelected sets a participant's selection membership for one entity.
func (t *Txn) SetSelected(participant, entityID string, selected bool) {
	m, ok := t.delta.Selections[participant]
	if !ok {
		m = make(map[string]fieldValue)
		t.delta.Selections[participant] = m
	}
	m[entityID] = fieldValue{Value: selected}
}

// ToggleSelected flips a participant's membership in its own selection set.
func (t *Txn) ToggleSelected(participant, entityID string) {
	t.doc.mu.Lock()
	current := false
	if sel, ok := t.doc.selections[participant]; ok {
		if f, ok := sel[entityID]; ok && !f.Deleted {
			if member, ok := f.Value.(bool); ok {
				current = member
			}
		}
	}
	t.doc.mu.Unlock()
	t.SetSelected(participant, entityID, !current)
}

// HoverKey is the shared-state key prefix holding each node's hover-id list.
const HoverKey = "hover:"

// ToggleHover flips the participant's membership in an entity's hover-id
// list. The whole list is one shared-state value; last writer wins.
func (t *Txn) ToggleHover(entityID, participant string) {
	key := HoverKey + entityID

	t.doc.mu.Lock()
	var ids []string
	if f, ok := t.doc.shared[key]; ok && !f.Deleted {
		if list, ok := f.Value.([]any); ok {
			for _, v := range list {
				if s, ok := v.(string); ok {
					ids = append(ids, s)
				}
			}
		} else if list, ok := f.Value.([]string); ok {
			ids = append(ids, list...)
		}
	}
	t.doc.mu.Unlock()

	out := make([]string, 0, len(ids)+1)
	found := false
	for _, id := range ids {
		if id == participant {
			found = true
			continue
		}
		out = append(out, id)
	}
	if !found {
		out = append(out, participant)
	}

	if len(out) == 0 {
		t.DeleteShared(key)
		return
	}
	t.SetShared(key, out)
}
