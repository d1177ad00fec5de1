package world

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Scrimzay/rtsworld/internal/config"
	"github.com/Scrimzay/rtsworld/internal/types"
)

func economy() config.EconomyConfig {
	return config.EconomyConfig{
		RatesPerLevel: map[types.ResourceKind]float64{
			types.Concrete: 10,
			types.Steel:    0.7,
			types.Fuel:     3.3,
			types.Energy:   8,
		},
		BaseCapacity:     1000,
		CapacityPerLevel: 500,
	}
}

func player(concrete int64, buildings map[types.BuildingKind]int) *types.PlayerWorldState {
	return &types.PlayerWorldState{PlayerID: 1, WorldID: "w1", Resources: types.Ledger{Concrete: concrete}, Buildings: buildings}
}

func TestProductionAccruesAndClamps(t *testing.T) {
	p := NewProduction(economy())
	ps := player(100, map[types.BuildingKind]int{types.ConcretePlant: 1})

	p.Apply(ps, 5*time.Second).ApplyTo(ps)
	assert.Equal(t, int64(150), ps.Resources.Concrete)

	p.Apply(ps, 100*time.Second).ApplyTo(ps)
	assert.Equal(t, int64(1000), ps.Resources.Concrete)

	d := p.Apply(ps, time.Hour)
	assert.True(t, d.Zero())
}

func TestProductionScalesWithLevelAndWarehouse(t *testing.T) {
	p := NewProduction(economy())
	ps := player(0, map[types.BuildingKind]int{types.ConcretePlant: 3, types.Warehouse: 2})

	assert.Equal(t, int64(2000), p.Capacity(ps))
	d := p.Apply(ps, 10*time.Second)
	assert.Equal(t, int64(300), d.Amounts.Concrete)
	assert.Equal(t, int64(0), d.Amounts.Steel, "no steel mill")
}

func TestProductionNeverNegative(t *testing.T) {
	p := NewProduction(economy())
	ps := player(10, map[types.BuildingKind]int{types.ConcretePlant: 1})

	d := p.Apply(ps, -5*time.Second)
	assert.True(t, d.Zero())

	ps.Resources.Concrete = 5000
	d = p.Apply(ps, time.Minute)
	assert.Equal(t, int64(0), d.Amounts.Concrete)
}

func TestProductionClampPullsLedgerToCapacity(t *testing.T) {
	p := NewProduction(economy())
	ps := player(5000, map[types.BuildingKind]int{types.ConcretePlant: 1})
	ps.Resources.Steel = 999

	assert.True(t, p.Clamp(ps))
	assert.Equal(t, int64(1000), ps.Resources.Concrete)
	assert.Equal(t, int64(999), ps.Resources.Steel)
	assert.False(t, p.Clamp(ps))
}

func TestProductionSubMillisecondTicksCompose(t *testing.T) {
	p := NewProduction(config.EconomyConfig{
		RatesPerLevel: map[types.ResourceKind]float64{types.Concrete: 1000},
		BaseCapacity:  1 << 40,
	})
	buildings := map[types.BuildingKind]int{types.ConcretePlant: 1}

	whole := player(0, buildings)
	p.Apply(whole, 5*time.Millisecond).ApplyTo(whole)
	split := player(0, buildings)
	p.Apply(split, 2500*time.Microsecond).ApplyTo(split)
	p.Apply(split, 2500*time.Microsecond).ApplyTo(split)
	assert.Equal(t, int64(5), whole.Resources.Concrete)
	assert.Equal(t, whole.Resources, split.Resources)

	// default-rate ticks that never land on a millisecond boundary
	step := 5*time.Second + 900*time.Microsecond
	big := NewProduction(config.EconomyConfig{
		RatesPerLevel: map[types.ResourceKind]float64{types.Concrete: 10},
		BaseCapacity:  1 << 40,
	})
	whole = player(0, buildings)
	big.Apply(whole, 1000*step).ApplyTo(whole)
	split = player(0, buildings)
	for i := 0; i < 1000; i++ {
		big.Apply(split, step).ApplyTo(split)
	}
	assert.Equal(t, int64(50009), whole.Resources.Concrete)
	assert.Equal(t, whole.Resources, split.Resources)
}

func TestProductionLongGapDoesNotOverflow(t *testing.T) {
	p := NewProduction(config.EconomyConfig{
		RatesPerLevel: map[types.ResourceKind]float64{types.Concrete: 1e6},
		BaseCapacity:  1000,
	})
	ps := player(0, map[types.BuildingKind]int{types.ConcretePlant: 50})
	d := p.Apply(ps, 200*365*24*time.Hour)
	assert.Equal(t, int64(1000), d.Amounts.Concrete)
}

func TestProductionSplitTicksCompose(t *testing.T) {
	p := NewProduction(economy())
	rng := rand.New(rand.NewSource(7))
	buildings := map[types.BuildingKind]int{types.ConcretePlant: 1, types.SteelMill: 2, types.Refinery: 1}

	for trial := 0; trial < 50; trial++ {
		total := time.Duration(rng.Int63n(int64(60 * time.Second)))

		whole := player(0, buildings)
		p.Apply(whole, total).ApplyTo(whole)

		split := player(0, buildings)
		left := total
		for left > 0 {
			step := time.Duration(rng.Int63n(int64(left)) + 1)
			p.Apply(split, step).ApplyTo(split)
			left -= step
		}
		assert.Equal(t, whole.Resources, split.Resources, "trial %d over %s", trial, total)
	}
}
