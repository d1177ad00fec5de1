package world

import (
	"math"

	"github.com/Scrimzay/rtsworld/internal/types"
)

const targetCellSize = 16.0

type cell struct{ x, y int }

// spatialIndex buckets combatants into square cells so target lookups only
// scan the cells an attacker's range overlaps.
type spatialIndex struct {
	size  float64
	cells map[cell][]*combatant
}

func newSpatialIndex(size float64) *spatialIndex {
	return &spatialIndex{size: size, cells: make(map[cell][]*combatant)}
}

func (ix *spatialIndex) cellOf(v types.Vec) cell {
	return cell{int(math.Floor(v.X / ix.size)), int(math.Floor(v.Y / ix.size))}
}

func (ix *spatialIndex) insert(c *combatant) {
	k := ix.cellOf(c.pos)
	ix.cells[k] = append(ix.cells[k], c)
}

// nearestHostile returns the closest enemy of a within a.rng. Ties go to
// units over bases, then to the lower id. Bases only shoot at units.
func (ix *spatialIndex) nearestHostile(a *combatant) *combatant {
	if a.rng <= 0 {
		return nil
	}
	lo := ix.cellOf(types.Vec{X: a.pos.X - a.rng, Y: a.pos.Y - a.rng})
	hi := ix.cellOf(types.Vec{X: a.pos.X + a.rng, Y: a.pos.Y + a.rng})

	var best *combatant
	bestDist := math.Inf(1)
	for cx := lo.x; cx <= hi.x; cx++ {
		for cy := lo.y; cy <= hi.y; cy++ {
			for _, t := range ix.cells[cell{cx, cy}] {
				if t.owner == a.owner {
					continue
				}
				if a.kind == types.KindBase && t.kind == types.KindBase {
					continue
				}
				d := a.pos.Dist(t.pos)
				if d > a.rng {
					continue
				}
				if best == nil || d < bestDist || (d == bestDist && closerTie(t, best)) {
					best, bestDist = t, d
				}
			}
		}
	}
	return best
}

func closerTie(a, b *combatant) bool {
	if a.kind != b.kind {
		return a.kind == types.KindUnit
	}
	return a.id < b.id
}
