package document

import (
	"math"

	"github.com/vizlink/vizlink/internal/dataset"
)

const (
	seedLayoutRadius  = 280.0
	seedLayoutCenterX = 400.0
	seedLayoutCenterY = 300.0
)

// SeedIfEmpty populates an empty document with the reference dataset in one
// batched transaction and returns the encoded update. Every record gets
// default placement coordinates: people and works sit on a circle, relations
// at the midpoint of their endpoints. If the document already holds any
// entity record the seed is skipped and nil is returned.
func SeedIfEmpty(d *Doc, ds dataset.Dataset) []byte {
	if d.EntityCount() > 0 {
		return nil
	}
	return d.Update(func(t *Txn) {
		n := ds.EntityCount()
		slot := 0
		pos := make(map[string][2]float64, n)
		place := func(id string) (x, y float64) {
			angle := 2 * math.Pi * float64(slot) / float64(n)
			slot++
			x = math.Round(seedLayoutCenterX + seedLayoutRadius*math.Cos(angle))
			y = math.Round(seedLayoutCenterY + seedLayoutRadius*math.Sin(angle))
			pos[id] = [2]float64{x, y}
			return x, y
		}
		for _, p := range ds.People {
			x, y := place(p.ID)
			t.InsertEntity(p.ID, map[string]any{
				"kind": "person",
				"name": p.Name,
				"born": p.Born,
				"x":    x,
				"y":    y,
			})
		}
		for _, w := range ds.Works {
			x, y := place(w.ID)
			t.InsertEntity(w.ID, map[string]any{
				"kind":     "work",
				"title":    w.Title,
				"released": w.Released,
				"x":        x,
				"y":        y,
			})
		}
		for _, r := range ds.Relations {
			from, to := pos[r.From], pos[r.To]
			t.InsertEntity(r.ID, map[string]any{
				"kind": "relation",
				"type": r.Type,
				"from": r.From,
				"to":   r.To,
				"x":    math.Round((from[0] + to[0]) / 2),
				"y":    math.Round((from[1] + to[1]) / 2),
			})
		}
	})
}
