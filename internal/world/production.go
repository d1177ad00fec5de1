package world

import (
	"math"
	"math/bits"
	"time"

	"github.com/Scrimzay/rtsworld/internal/config"
	"github.com/Scrimzay/rtsworld/internal/types"
)

// carryScale is the number of carry units in one resource unit. Rates are
// kept in milli-units per second and elapsed time in nanoseconds, so
// rate*elapsed lands in 1e-12 units.
const carryScale = 1_000_000_000_000

// Production turns building levels and elapsed time into resources.
type Production struct {
	ratesMilli       map[types.ResourceKind]int64
	baseCapacity     int64
	capacityPerLevel int64
}

func NewProduction(cfg config.EconomyConfig) *Production {
	p := &Production{
		ratesMilli:       make(map[types.ResourceKind]int64, len(cfg.RatesPerLevel)),
		baseCapacity:     cfg.BaseCapacity,
		capacityPerLevel: cfg.CapacityPerLevel,
	}
	for k, r := range cfg.RatesPerLevel {
		p.ratesMilli[k] = int64(math.Round(r * 1000))
	}
	return p
}

// ResourceDelta is what one Apply call adds to a ledger, plus the carry
// left over after truncation.
type ResourceDelta struct {
	Amounts types.Ledger `json:"amounts"`
	Carry   types.Ledger `json:"carry"`
}

func (d ResourceDelta) Zero() bool {
	return d.Amounts == types.Ledger{}
}

// Capacity is the storage cap shared by every resource kind.
func (p *Production) Capacity(state *types.PlayerWorldState) int64 {
	return p.baseCapacity + p.capacityPerLevel*int64(state.Buildings[types.Warehouse])
}

// RateMilli is kind's production in milli-units per second.
func (p *Production) RateMilli(state *types.PlayerWorldState, kind types.ResourceKind) int64 {
	level := int64(state.Buildings[types.ProducerOf(kind)])
	if level <= 0 {
		return 0
	}
	return p.ratesMilli[kind] * level
}

// Apply computes the delta for elapsed time. It never mutates state and
// never returns a negative amount. Production past capacity is dropped,
// together with its carry.
func (p *Production) Apply(state *types.PlayerWorldState, elapsed time.Duration) ResourceDelta {
	var d ResourceDelta
	ns := int64(elapsed)
	if ns < 0 {
		ns = 0
	}
	capacity := p.Capacity(state)

	for _, k := range types.ResourceKinds {
		cur := state.Resources.Get(k)
		if cur >= capacity {
			continue
		}
		units, carry := accrue(p.RateMilli(state, k), ns, state.Carry.Get(k))
		if units >= capacity-cur {
			units = capacity - cur
			carry = 0
		}
		d.Amounts.Set(k, units)
		d.Carry.Set(k, carry)
	}
	return d
}

// accrue returns (rate*ns + carry) split into whole units and the
// remaining carry. The product is taken in 128 bits; a result too large
// for int64 saturates, which capacity clamps anyway.
func accrue(rateMilli, ns, carry int64) (units, rest int64) {
	if rateMilli <= 0 {
		return 0, carry
	}
	hi, lo := bits.Mul64(uint64(rateMilli), uint64(ns))
	var c uint64
	lo, c = bits.Add64(lo, uint64(carry), 0)
	hi += c
	if hi >= carryScale {
		return math.MaxInt64, 0
	}
	q, r := bits.Div64(hi, lo, carryScale)
	if q > math.MaxInt64 {
		return math.MaxInt64, 0
	}
	return int64(q), int64(r)
}

// Clamp pulls every resource above capacity down to it and reports
// whether anything changed.
func (p *Production) Clamp(state *types.PlayerWorldState) bool {
	capacity := p.Capacity(state)
	changed := false
	for _, k := range types.ResourceKinds {
		if state.Resources.Get(k) > capacity {
			state.Resources.Set(k, capacity)
			state.Carry.Set(k, 0)
			changed = true
		}
	}
	return changed
}

// ApplyTo adds d to state and replaces its carry.
func (d ResourceDelta) ApplyTo(state *types.PlayerWorldState) {
	for _, k := range types.ResourceKinds {
		state.Resources.Set(k, state.Resources.Get(k)+d.Amounts.Get(k))
	}
	state.Carry = d.Carry
}
