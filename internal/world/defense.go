package world

import (
	"github.com/Scrimzay/rtsworld/internal/config"
	"github.com/Scrimzay/rtsworld/internal/types"
)

// Defenses maps a base's defense type to its per-level profile.
type Defenses map[types.DefenseType]config.DefenseProfile

// Power is the attack of one defense emplacement.
func (d Defenses) Power(def types.Defense) int64 {
	return d[def.Type].PowerPerLevel * int64(def.Level)
}

func (d Defenses) Mitigation(def types.Defense) int64 {
	return d[def.Type].MitigationPerLevel * int64(def.Level)
}

func (d Defenses) Range(def types.Defense) float64 {
	return d[def.Type].Range
}

// CanFire reports whether a base with def shoots back at all.
// Walls only absorb.
func (d Defenses) CanFire(def types.Defense) bool {
	return def.Count > 0 && d.Power(def) > 0 && d.Range(def) > 0
}

func (d Defenses) Known(t types.DefenseType) bool {
	_, ok := d[t]
	return ok
}
