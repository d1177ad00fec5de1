package world

import (
	"math"
	"sort"
	"time"

	"github.com/Scrimzay/rtsworld/internal/config"
	"github.com/Scrimzay/rtsworld/internal/types"
)

// Combat resolves engagements between hostile units and bases.
type Combat struct {
	defenses Defenses
}

func NewCombat(cfg config.CombatConfig) *Combat {
	return &Combat{defenses: Defenses(cfg.Defenses)}
}

type CombatResult struct {
	Entries        []types.CombatLogEntry
	TotalDamage    int64
	DestroyedUnits []int64
	DestroyedBases []int64
	ChangedUnits   []int64
	ChangedBases   []int64
}

// combatant is a read-only view of a unit or base taken before any damage
// is applied.
type combatant struct {
	kind  types.EntityKind
	id    int64
	owner int64
	pos   types.Vec
	power int64
	count int64
	rng   float64
}

type entityKey struct {
	kind types.EntityKind
	id   int64
}

type engagement struct {
	attacker entityKey
	defender entityKey
	damage   int64
}

// Resolve finds every attacker with a hostile in range, picks its nearest
// target and computes damage from the state as it was after movement. All
// damage is summed per defender and applied at the end, so engagements in
// the same tick never see each other's results.
func (c *Combat) Resolve(s *types.Snapshot, tick int64, now time.Time) (CombatResult, error) {
	var res CombatResult

	attackers, targets, err := c.collect(s)
	if err != nil {
		return res, err
	}

	idx := newSpatialIndex(targetCellSize)
	for _, t := range targets {
		idx.insert(t)
	}

	var engagements []engagement
	for _, a := range attackers {
		t := idx.nearestHostile(a)
		if t == nil {
			continue
		}
		dmg, err := c.damage(s, a, t)
		if err != nil {
			return res, err
		}
		engagements = append(engagements, engagement{
			attacker: entityKey{a.kind, a.id},
			defender: entityKey{t.kind, t.id},
			damage:   dmg,
		})
	}

	incoming := make(map[entityKey]int64)
	attacked := make(map[int64]bool)
	for _, e := range engagements {
		incoming[e.defender] += e.damage
		res.TotalDamage += e.damage
		if e.attacker.kind == types.KindUnit {
			attacked[e.attacker.id] = true
		}
	}

	destroyed := make(map[entityKey]bool)
	changedUnits := make(map[int64]bool)
	changedBases := make(map[int64]bool)

	for _, key := range sortedKeys(incoming) {
		dmg := incoming[key]
		if dmg == 0 {
			continue
		}
		switch key.kind {
		case types.KindUnit:
			u := s.Units[key.id]
			u.Health -= dmg
			if u.Health <= 0 {
				u.Health = 0
				u.Status = types.UnitDestroyed
				u.Target = nil
				destroyed[key] = true
				res.DestroyedUnits = append(res.DestroyedUnits, u.ID)
			}
			changedUnits[u.ID] = true
		case types.KindBase:
			b := s.Bases[key.id]
			b.Health -= dmg
			if b.Health <= 0 {
				// razed bases drop their owner and become claimable next tick
				b.Health = 0
				b.OwnerID = 0
				b.ClaimStatus = types.BaseUnclaimed
				destroyed[key] = true
				res.DestroyedBases = append(res.DestroyedBases, b.ID)
			}
			changedBases[b.ID] = true
		}
	}

	for _, id := range s.UnitIDs() {
		u := s.Units[id]
		if !u.Alive() {
			continue
		}
		switch {
		case attacked[id] && u.Status == types.UnitIdle:
			u.Status = types.UnitEngaging
			changedUnits[id] = true
		case !attacked[id] && u.Status == types.UnitEngaging:
			u.Status = types.UnitIdle
			changedUnits[id] = true
		}
	}

	for _, e := range engagements {
		outcome := types.OutcomeDamaged
		switch {
		case destroyed[e.defender]:
			outcome = types.OutcomeDestroyed
		case e.damage == 0:
			outcome = types.OutcomeBlocked
		}
		res.Entries = append(res.Entries, types.CombatLogEntry{
			WorldID:      s.World.ID,
			Tick:         tick,
			AttackerKind: e.attacker.kind,
			AttackerID:   e.attacker.id,
			DefenderKind: e.defender.kind,
			DefenderID:   e.defender.id,
			Damage:       e.damage,
			Outcome:      outcome,
			At:           now,
		})
	}

	res.ChangedUnits = sortedIDs(changedUnits)
	res.ChangedBases = sortedIDs(changedBases)
	return res, nil
}

// collect builds attacker and target lists in id order, units first.
func (c *Combat) collect(s *types.Snapshot) (attackers, targets []*combatant, err error) {
	for _, id := range s.UnitIDs() {
		u := s.Units[id]
		if !u.Alive() {
			continue
		}
		if u.Power < 0 || u.Count < 0 || u.Mitigation < 0 || u.Range < 0 {
			return nil, nil, types.NewStageError("combat", "unit %d has negative combat stats", u.ID)
		}
		if _, ok := s.Players[u.OwnerID]; !ok {
			return nil, nil, types.NewStageError("combat", "unit %d references missing player %d", u.ID, u.OwnerID)
		}
		cb := &combatant{
			kind:  types.KindUnit,
			id:    u.ID,
			owner: u.OwnerID,
			pos:   u.Pos,
			power: u.Power,
			count: u.Count,
			rng:   u.Range,
		}
		targets = append(targets, cb)
		if u.Range > 0 {
			attackers = append(attackers, cb)
		}
	}

	for _, id := range s.BaseIDs() {
		b := s.Bases[id]
		if !b.Owned() || b.Health <= 0 {
			continue
		}
		if !c.defenses.Known(b.Defense.Type) {
			return nil, nil, types.NewStageError("combat", "base %d has unknown defense %q", b.ID, b.Defense.Type)
		}
		if b.Defense.DamageMultiplier < 0 || math.IsNaN(b.Defense.DamageMultiplier) {
			return nil, nil, types.NewStageError("combat", "base %d has invalid damage multiplier", b.ID)
		}
		cb := &combatant{
			kind:  types.KindBase,
			id:    b.ID,
			owner: b.OwnerID,
			pos:   b.Pos(),
			power: c.defenses.Power(b.Defense),
			count: int64(b.Defense.Count),
			rng:   c.defenses.Range(b.Defense),
		}
		targets = append(targets, cb)
		if c.defenses.CanFire(b.Defense) {
			attackers = append(attackers, cb)
		}
	}
	return attackers, targets, nil
}

// damage is attackerPower*attackerCount - defenderMitigation, floored at
// zero. A base scales what it takes by its damage multiplier.
func (c *Combat) damage(s *types.Snapshot, a, t *combatant) (int64, error) {
	raw := a.power * a.count
	switch t.kind {
	case types.KindUnit:
		raw -= s.Units[t.id].Mitigation
		if raw < 0 {
			raw = 0
		}
		return raw, nil
	case types.KindBase:
		b := s.Bases[t.id]
		raw -= c.defenses.Mitigation(b.Defense)
		if raw < 0 {
			raw = 0
		}
		return int64(float64(raw) * b.Defense.DamageMultiplier), nil
	}
	return 0, types.NewStageError("combat", "unknown defender kind %q", t.kind)
}

func sortedKeys(m map[entityKey]int64) []entityKey {
	keys := make([]entityKey, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].kind != keys[j].kind {
			return keys[i].kind > keys[j].kind // units before bases
		}
		return keys[i].id < keys[j].id
	})
	return keys
}

func sortedIDs(m map[int64]bool) []int64 {
	ids := make([]int64, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
