package types

import (
	"math"
	"sort"
	"time"
)

// Every world uses the same fixed tile grid.
const (
	GridWidth  = 5000
	GridHeight = 5000
)

type WorldStatus string

const (
	WorldPending WorldStatus = "pending"
	WorldActive  WorldStatus = "active"
	WorldClosed  WorldStatus = "closed"
)

// World is immutable once active, except for Status and the tick bookkeeping
// (TickCount, LastTickAt, Version) the scheduler advances on every commit.
type World struct {
	ID         string      `json:"id"`
	Width      int         `json:"width"`
	Height     int         `json:"height"`
	Status     WorldStatus `json:"status"`
	TickCount  int64       `json:"tick_count"`
	LastTickAt time.Time   `json:"last_tick_at"`
	CreatedAt  time.Time   `json:"created_at"`
	Version    int64       `json:"version"`
}

func (w World) Contains(v Vec) bool {
	return v.X >= 0 && v.Y >= 0 && v.X <= float64(w.Width-1) && v.Y <= float64(w.Height-1)
}

type ResourceKind string

const (
	Concrete ResourceKind = "concrete"
	Steel    ResourceKind = "steel"
	Fuel     ResourceKind = "fuel"
	Energy   ResourceKind = "energy"
)

var ResourceKinds = []ResourceKind{Concrete, Steel, Fuel, Energy}

// Ledger holds one integer amount per resource kind.
type Ledger struct {
	Concrete int64 `json:"concrete" yaml:"concrete"`
	Steel    int64 `json:"steel" yaml:"steel"`
	Fuel     int64 `json:"fuel" yaml:"fuel"`
	Energy   int64 `json:"energy" yaml:"energy"`
}

func (l Ledger) Get(k ResourceKind) int64 {
	switch k {
	case Concrete:
		return l.Concrete
	case Steel:
		return l.Steel
	case Fuel:
		return l.Fuel
	case Energy:
		return l.Energy
	default:
		return 0
	}
}

func (l *Ledger) Set(k ResourceKind, v int64) {
	switch k {
	case Concrete:
		l.Concrete = v
	case Steel:
		l.Steel = v
	case Fuel:
		l.Fuel = v
	case Energy:
		l.Energy = v
	}
}

// Covers reports whether l holds at least cost of every kind.
func (l Ledger) Covers(cost Ledger) bool {
	for _, k := range ResourceKinds {
		if l.Get(k) < cost.Get(k) {
			return false
		}
	}
	return true
}

func (l Ledger) Sub(cost Ledger) Ledger {
	out := l
	for _, k := range ResourceKinds {
		out.Set(k, l.Get(k)-cost.Get(k))
	}
	return out
}

type BuildingKind string

const (
	ConcretePlant BuildingKind = "concrete_plant"
	SteelMill     BuildingKind = "steel_mill"
	Refinery      BuildingKind = "refinery"
	PowerPlant    BuildingKind = "power_plant"
	Warehouse     BuildingKind = "warehouse"
)

var BuildingKinds = []BuildingKind{ConcretePlant, SteelMill, Refinery, PowerPlant, Warehouse}

// ProducerOf returns the building whose level drives production of k.
func ProducerOf(k ResourceKind) BuildingKind {
	switch k {
	case Concrete:
		return ConcretePlant
	case Steel:
		return SteelMill
	case Fuel:
		return Refinery
	default:
		return PowerPlant
	}
}

func ValidBuilding(b BuildingKind) bool {
	for _, k := range BuildingKinds {
		if k == b {
			return true
		}
	}
	return false
}

// PlayerWorldState is one player's economy inside one world.
// Carry holds sub-unit production remainders so split ticks add up exactly.
type PlayerWorldState struct {
	PlayerID   int64                `json:"player_id"`
	WorldID    string               `json:"world_id"`
	Name       string               `json:"name,omitempty"`
	Resources  Ledger               `json:"resources"`
	Carry      Ledger               `json:"carry"`
	Buildings  map[BuildingKind]int `json:"buildings"`
	LastTickAt time.Time            `json:"last_tick_at"`
	Version    int64                `json:"version"`
}

func (p *PlayerWorldState) Clone() *PlayerWorldState {
	if p == nil {
		return nil
	}
	c := *p
	c.Buildings = make(map[BuildingKind]int, len(p.Buildings))
	for k, v := range p.Buildings {
		c.Buildings[k] = v
	}
	return &c
}

type Vec struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (v Vec) Dist(o Vec) float64 {
	return math.Hypot(o.X-v.X, o.Y-v.Y)
}

type UnitStatus string

const (
	UnitIdle      UnitStatus = "idle"
	UnitMoving    UnitStatus = "moving"
	UnitEngaging  UnitStatus = "engaging"
	UnitDestroyed UnitStatus = "destroyed"
)

type Unit struct {
	ID         int64      `json:"id"`
	WorldID    string     `json:"world_id"`
	OwnerID    int64      `json:"owner_id"`
	Kind       string     `json:"kind"`
	Pos        Vec        `json:"pos"`
	Target     *Vec       `json:"target,omitempty"`
	Speed      float64    `json:"speed"`
	Health     int64      `json:"health"`
	MaxHealth  int64      `json:"max_health"`
	Power      int64      `json:"power"`
	Count      int64      `json:"count"`
	Mitigation int64      `json:"mitigation"`
	Range      float64    `json:"range"`
	Status     UnitStatus `json:"status"`
	Version    int64      `json:"version"`
}

func (u *Unit) Alive() bool {
	return u != nil && u.Status != UnitDestroyed && u.Health > 0
}

func (u *Unit) Clone() *Unit {
	if u == nil {
		return nil
	}
	c := *u
	if u.Target != nil {
		t := *u.Target
		c.Target = &t
	}
	return &c
}

type DefenseType string

const (
	DefenseTurret DefenseType = "turret"
	DefenseBunker DefenseType = "bunker"
	DefenseWall   DefenseType = "wall"
)

type Defense struct {
	Type             DefenseType `json:"type" yaml:"type"`
	Level            int         `json:"level" yaml:"level"`
	Count            int         `json:"count" yaml:"count"`
	DamageMultiplier float64     `json:"damage_multiplier" yaml:"damage_multiplier"`
}

type ClaimStatus string

const (
	BaseUnclaimed ClaimStatus = "unclaimed"
	BaseClaimed   ClaimStatus = "claimed"
	BaseContested ClaimStatus = "contested"
)

// Base sits on one tile. OwnerID 0 means nobody owns it.
type Base struct {
	ID          int64       `json:"id"`
	WorldID     string      `json:"world_id"`
	X           int         `json:"x"`
	Y           int         `json:"y"`
	OwnerID     int64       `json:"owner_id"`
	Health      int64       `json:"health"`
	MaxHealth   int64       `json:"max_health"`
	Defense     Defense     `json:"defense"`
	ClaimStatus ClaimStatus `json:"claim_status"`
	Version     int64       `json:"version"`
}

func (b *Base) Pos() Vec { return Vec{X: float64(b.X), Y: float64(b.Y)} }

func (b *Base) Owned() bool { return b.OwnerID != 0 }

func (b *Base) Clone() *Base {
	if b == nil {
		return nil
	}
	c := *b
	return &c
}

type EntityKind string

const (
	KindWorld  EntityKind = "world"
	KindPlayer EntityKind = "player"
	KindUnit   EntityKind = "unit"
	KindBase   EntityKind = "base"

	// realtime-only kinds; never stored as entities
	KindCombatLog EntityKind = "combat_log"
	KindClaim     EntityKind = "claim"
)

// EntityRef addresses one versioned entity in the store.
type EntityRef struct {
	WorldID string     `json:"world_id"`
	Kind    EntityKind `json:"kind"`
	ID      int64      `json:"id"`
}

type CombatOutcome string

const (
	OutcomeBlocked   CombatOutcome = "blocked"
	OutcomeDamaged   CombatOutcome = "damaged"
	OutcomeDestroyed CombatOutcome = "destroyed"
)

// CombatLogEntry is append-only. ID is assigned by the store.
type CombatLogEntry struct {
	ID           int64         `json:"id"`
	WorldID      string        `json:"world_id"`
	Tick         int64         `json:"tick"`
	AttackerKind EntityKind    `json:"attacker_kind"`
	AttackerID   int64         `json:"attacker_id"`
	DefenderKind EntityKind    `json:"defender_kind"`
	DefenderID   int64         `json:"defender_id"`
	Damage       int64         `json:"damage"`
	Outcome      CombatOutcome `json:"outcome"`
	At           time.Time     `json:"at"`
}

// ClaimAttempt lives from submission until the next tick consumes it.
type ClaimAttempt struct {
	ID          int64     `json:"id"`
	WorldID     string    `json:"world_id"`
	PlayerID    int64     `json:"player_id"`
	BaseID      int64     `json:"base_id"`
	SubmittedAt time.Time `json:"submitted_at"`
}

type ClaimResultStatus string

const (
	ClaimWon      ClaimResultStatus = "won"
	ClaimLost     ClaimResultStatus = "lost"
	ClaimRejected ClaimResultStatus = "rejected"
)

type ClaimResult struct {
	AttemptID int64             `json:"attempt_id"`
	PlayerID  int64             `json:"player_id"`
	BaseID    int64             `json:"base_id"`
	Status    ClaimResultStatus `json:"status"`
	Reason    string            `json:"reason,omitempty"`
}

type TickLease struct {
	WorldID   string    `json:"world_id"`
	Holder    string    `json:"holder"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (l TickLease) Valid(now time.Time) bool {
	return l.Token != "" && now.Before(l.ExpiresAt)
}

// Snapshot is one world's committed state as read at the start of a tick.
type Snapshot struct {
	World   World                       `json:"world"`
	Players map[int64]*PlayerWorldState `json:"players"`
	Units   map[int64]*Unit             `json:"units"`
	Bases   map[int64]*Base             `json:"bases"`
}

func NewSnapshot(w World) *Snapshot {
	return &Snapshot{
		World:   w,
		Players: make(map[int64]*PlayerWorldState),
		Units:   make(map[int64]*Unit),
		Bases:   make(map[int64]*Base),
	}
}

func (s *Snapshot) Clone() *Snapshot {
	c := NewSnapshot(s.World)
	for id, p := range s.Players {
		c.Players[id] = p.Clone()
	}
	for id, u := range s.Units {
		c.Units[id] = u.Clone()
	}
	for id, b := range s.Bases {
		c.Bases[id] = b.Clone()
	}
	return c
}

func (s *Snapshot) PlayerIDs() []int64 { return sortedKeys(s.Players) }
func (s *Snapshot) UnitIDs() []int64   { return sortedKeys(s.Units) }
func (s *Snapshot) BaseIDs() []int64   { return sortedKeys(s.Bases) }

func sortedKeys[V any](m map[int64]V) []int64 {
	ids := make([]int64, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
