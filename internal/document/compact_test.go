package document

import (
	"fmt"
	"math"
	"reflect"
	"testing"

	"github.com/vizlink/vizlink/internal/dataset"
)

func snapshotReads(d *Doc) (entities map[string]map[string]string, shared map[string]string) {
	entities = make(map[string]map[string]string)
	for _, e := range d.Entities() {
		fields := make(map[string]string, len(e.Fields))
		for k, v := range e.Fields {
			fields[k] = fmt.Sprint(v)
		}
		entities[e.ID] = fields
	}
	shared = make(map[string]string)
	for k, v := range d.Shared() {
		shared[k] = fmt.Sprint(v)
	}
	return entities, shared
}

func churn(d *Doc, rounds int) {
	for i := 0; i < rounds; i++ {
		id := fmt.Sprintf("n%d", i%5)
		d.Update(func(tx *Txn) {
			tx.InsertEntity(id, map[string]any{"name": fmt.Sprintf("round-%d", i)})
			tx.SetShared("zoom", fmt.Sprint(i))
		})
	}
}

func TestCompact_PreservesContent(t *testing.T) {
	d := New("alice")
	churn(d, 40)
	d.Update(func(tx *Txn) { tx.DeleteEntity("n3") })
	d.Update(func(tx *Txn) { tx.SetSelected("alice", "n1", true) })

	beforeEntities, beforeShared := snapshotReads(d)
	beforeSel := d.Selection("alice")

	res, err := d.Compact()
	if err != nil {
		t.Fatalf("compact: %v", err)
	}
	if res.Fallback {
		t.Fatal("primary compaction path fell back")
	}

	afterEntities, afterShared := snapshotReads(d)
	if !reflect.DeepEqual(beforeEntities, afterEntities) {
		t.Fatalf("entities changed: %v vs %v", beforeEntities, afterEntities)
	}
	if !reflect.DeepEqual(beforeShared, afterShared) {
		t.Fatalf("shared changed: %v vs %v", beforeShared, afterShared)
	}
	if !reflect.DeepEqual(beforeSel, d.Selection("alice")) {
		t.Fatalf("selections changed: %v vs %v", beforeSel, d.Selection("alice"))
	}
	if _, ok := d.Entity("n3"); ok {
		t.Fatal("compaction revived a deleted entity")
	}
}

func TestCompact_BoundsEncodedSize(t *testing.T) {
	d := New("alice")
	churn(d, 60)

	before := d.StateSize()
	res, err := d.Compact()
	if err != nil {
		t.Fatalf("compact: %v", err)
	}
	if res.BytesBefore != before {
		t.Fatalf("bytes_before: got %d, want %d", res.BytesBefore, before)
	}
	if res.BytesAfter >= res.BytesBefore {
		t.Fatalf("compaction grew state: %d -> %d", res.BytesBefore, res.BytesAfter)
	}

	// A second run over stable content must not grow the state.
	res2, err := d.Compact()
	if err != nil {
		t.Fatalf("second compact: %v", err)
	}
	if res2.BytesAfter > res.BytesAfter {
		t.Fatalf("second compaction grew state: %d -> %d", res.BytesAfter, res2.BytesAfter)
	}
}

func TestCompact_EditsOnMergedSnapshotStillWin(t *testing.T) {
	a := New("alice")
	b := New("bob")

	u := a.Update(func(tx *Txn) {
		tx.InsertEntity("n1", map[string]any{"name": "v1"})
	})
	if _, err := b.ApplyUpdate(u); err != nil {
		t.Fatalf("apply: %v", err)
	}

	// Compaction re-stamps the surviving state, so the compacting replica
	// publishes its snapshot afterward; peers merge it before editing on top.
	if _, err := a.Compact(); err != nil {
		t.Fatalf("compact: %v", err)
	}
	snap, err := a.EncodeSnapshot()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if _, err := b.ApplyUpdate(snap); err != nil {
		t.Fatalf("merge snapshot: %v", err)
	}

	u2 := b.Update(func(tx *Txn) {
		tx.SetEntityField("n1", "name", "v2")
	})
	if _, err := a.ApplyUpdate(u2); err != nil {
		t.Fatalf("apply: %v", err)
	}
	fa, _ := a.Entity("n1")
	if fmt.Sprint(fa["name"]) != "v2" {
		t.Fatalf("post-compaction edit lost: %v", fa["name"])
	}
	fb, _ := b.Entity("n1")
	if fmt.Sprint(fb["name"]) != "v2" {
		t.Fatalf("editing replica lost its own edit: %v", fb["name"])
	}
}

func TestCompact_ConcurrentWritesDoNotWipeContent(t *testing.T) {
	d := New("alice")
	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("n%d", i)
		d.Update(func(tx *Txn) {
			tx.InsertEntity(id, map[string]any{"name": id})
		})
	}

	// A tight writer racing the compaction loop. Writes landing mid-swap must
	// never cause the swap's tombstones to outrank the merged copy.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			d.Update(func(tx *Txn) {
				tx.SetShared("cursor", i)
			})
		}
	}()

	for i := 0; i < 25; i++ {
		if _, err := d.Compact(); err != nil {
			t.Fatalf("compact %d: %v", i, err)
		}
	}
	<-done
	if _, err := d.Compact(); err != nil {
		t.Fatalf("final compact: %v", err)
	}

	if got := d.EntityCount(); got != 5 {
		t.Fatalf("document wiped by compaction racing a local update: %d entities left, want 5", got)
	}
	v, ok := d.SharedValue("cursor")
	if !ok || fmt.Sprint(v) != "199" {
		t.Fatalf("last write lost across compaction: %v %v", v, ok)
	}
}

func TestCompact_StateStillBootstrapsReplicas(t *testing.T) {
	a := New("alice")
	churn(a, 30)
	if _, err := a.Compact(); err != nil {
		t.Fatalf("compact: %v", err)
	}

	state, err := a.EncodeState()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	b := New("bob")
	if err := b.ApplyState(state); err != nil {
		t.Fatalf("apply state: %v", err)
	}

	ae, as := snapshotReads(a)
	be, bs := snapshotReads(b)
	if !reflect.DeepEqual(ae, be) || !reflect.DeepEqual(as, bs) {
		t.Fatal("compacted state does not bootstrap an equal replica")
	}
}

func TestSeedIfEmpty_ReferenceDataset(t *testing.T) {
	d := New("alice")

	update := SeedIfEmpty(d, dataset.Default())
	if update == nil {
		t.Fatal("seed produced no update")
	}

	var people, works, relations int
	byID := make(map[string]map[string]any)
	for _, e := range d.Entities() {
		byID[e.ID] = e.Fields
		switch e.Fields["kind"] {
		case "person":
			people++
		case "work":
			works++
		case "relation":
			relations++
		}
	}
	if people != 5 || works != 3 {
		t.Fatalf("seeded %d people and %d works, want 5 and 3", people, works)
	}
	if relations != 6 {
		t.Fatalf("seeded %d relations, want 6", relations)
	}

	// Every relation references entities present in the collection.
	for id, fields := range byID {
		if fields["kind"] != "relation" {
			continue
		}
		from, _ := fields["from"].(string)
		to, _ := fields["to"].(string)
		if _, ok := byID[from]; !ok {
			t.Fatalf("relation %s references missing entity %q", id, from)
		}
		if _, ok := byID[to]; !ok {
			t.Fatalf("relation %s references missing entity %q", id, to)
		}
	}

	// Every record carries default placement coordinates; relations sit at
	// the midpoint of their endpoints.
	for id, fields := range byID {
		if _, ok := fields["x"]; !ok {
			t.Fatalf("record %s missing coordinates", id)
		}
		if _, ok := fields["y"]; !ok {
			t.Fatalf("record %s missing coordinates", id)
		}
		if fields["kind"] != "relation" {
			continue
		}
		from := byID[fields["from"].(string)]
		to := byID[fields["to"].(string)]
		wantX := (from["x"].(float64) + to["x"].(float64)) / 2
		if got := fields["x"].(float64); got != math.Round(wantX) {
			t.Fatalf("relation %s x: got %v, want %v", id, got, math.Round(wantX))
		}
	}

	// Seeding is idempotent per document.
	if again := SeedIfEmpty(d, dataset.Default()); again != nil {
		t.Fatal("seed ran twice on a non-empty document")
	}
}
