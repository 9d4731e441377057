package document

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vizlink/vizlink/internal/metrics"
)

// CompactResult reports encoded history sizes around one compaction run.
type CompactResult struct {
	BytesBefore int
	BytesAfter  int
	Fallback    bool
}

// Compact bounds history growth by rewriting the replica's update log.
//
// The primary path is a copy-then-swap: copy every live entity field and
// shared-state key verbatim into a fresh batch, tombstone everything in the
// original, then merge the copy back in. The copy is stamped above the
// tombstones, so the merge restores every live value. All three steps run
// inside one critical section on the replica mutex, so no local or remote
// write can land between the wipe and the merge; writes arriving afterward
// carry higher stamps and win the per-field merge as usual.
//
// If the primary path fails, Compact falls back to re-encoding the current
// state as a single snapshot without structural changes.
func (d *Doc) Compact() (CompactResult, error) {
	before := d.StateSize()

	res, err := d.compactSwap()
	if err != nil {
		fallbackErr := d.compactFallback()
		if fallbackErr != nil {
			return CompactResult{BytesBefore: before, BytesAfter: before, Fallback: true},
				fmt.Errorf("document: compaction failed: %w (fallback: %v)", err, fallbackErr)
		}
		res = CompactResult{Fallback: true}
	}

	res.BytesBefore = before
	res.BytesAfter = d.StateSize()
	return res, nil
}

func (d *Doc) compactSwap() (CompactResult, error) {
	d.mu.Lock()

	// Verbatim copy of all live data, and a matching tombstone batch.
	// Selections are per-participant ephemera and are left alone.
	wipe := newDelta()
	copied := newDelta()
	for _, id := range d.entityOrder {
		if p, ok := d.presence[id]; !ok || p.Deleted {
			continue
		}
		wipe.Presence[id] = fieldValue{Deleted: true}
		copied.Presence[id] = fieldValue{Value: true}
		copied.Order = append(copied.Order, id)

		wf := make(map[string]fieldValue, len(d.entities[id]))
		cf := make(map[string]fieldValue, len(d.entities[id]))
		for k, f := range d.entities[id] {
			wf[k] = fieldValue{Deleted: true}
			if !f.Deleted {
				cf[k] = fieldValue{Value: f.Value}
			}
		}
		if len(wf) > 0 {
			wipe.Entities[id] = wf
		}
		if len(cf) > 0 {
			copied.Entities[id] = cf
		}
	}
	for k, f := range d.shared {
		if f.Deleted {
			continue
		}
		wipe.Shared[k] = fieldValue{Deleted: true}
		copied.Shared[k] = fieldValue{Value: f.Value}
	}

	// Tombstones at clock+1, the rebuilt copy at clock+2: the copy wins every
	// per-field merge against its own wipe. Both applied under the same lock
	// acquisition, so no concurrent write can interleave.
	wipe.stamp(d.clock+1, d.actor)
	copied.stamp(d.clock+2, d.actor)
	d.clock += 2

	encoded, err := copied.encode()
	if err != nil {
		d.mu.Unlock()
		return CompactResult{}, err
	}

	d.applyDeltaLocked(wipe, false)
	ch := d.applyDeltaLocked(copied, false)
	d.log = [][]byte{encoded}
	d.mu.Unlock()
	d.notify(ch)

	return CompactResult{}, nil
}

// compactFallback re-encodes the current state as a single snapshot. No
// values change; only the history is rewritten.
func (d *Doc) compactFallback() error {
	encoded, err := d.EncodeSnapshot()
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.log = [][]byte{encoded}
	d.mu.Unlock()
	return nil
}

// Compactor runs Compact on a fixed period, independent of mutation volume.
type Compactor struct {
	doc      *Doc
	interval time.Duration
	log      *slog.Logger

	// OnResult, when set, observes each run's outcome (used by sync to
	// publish the compacted snapshot).
	OnResult func(CompactResult)

	// Metrics, when set, counts runs, fallbacks, and failures.
	Metrics *metrics.Metrics
}

func NewCompactor(doc *Doc, interval time.Duration, logger *slog.Logger) *Compactor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Compactor{doc: doc, interval: interval, log: logger}
}

// Run compacts on every tick until ctx is cancelled. Compaction outcomes are
// reported but never block mutation traffic; a failed run (primary and
// fallback both) is logged only, leaving the document correct but
// uncompacted.
func (c *Compactor) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			res, err := c.doc.Compact()
			if err != nil {
				c.Metrics.Inc(metrics.CompactionFailures)
				c.log.Warn("compaction failed", "err", err)
				continue
			}
			c.Metrics.Inc(metrics.CompactionRuns)
			if res.Fallback {
				c.Metrics.Inc(metrics.CompactionFallback)
			}
			c.log.Info("compacted document",
				"bytes_before", res.BytesBefore,
				"bytes_after", res.BytesAfter,
				"fallback", res.Fallback,
			)
			if c.OnResult != nil {
				c.OnResult(res)
			}
		}
	}
}
