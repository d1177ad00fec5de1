package world

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Scrimzay/rtsworld/internal/types"
)

func movingUnit(id int64, pos, target types.Vec, speed float64) *types.Unit {
	return &types.Unit{ID: id, WorldID: "w1", OwnerID: 1, Pos: pos, Target: &target, Speed: speed, Health: 10, MaxHealth: 10, Status: types.UnitMoving}
}

func TestMovementLandsExactlyOnTarget(t *testing.T) {
	s := types.NewSnapshot(types.World{ID: "w1"})
	s.Units[1] = movingUnit(1, types.Vec{}, types.Vec{X: 3}, 5)

	res, err := ResolveMovement(s, time.Second)
	require.NoError(t, err)
	assert.Equal(t, types.Vec{X: 3}, s.Units[1].Pos)
	assert.Equal(t, types.UnitIdle, s.Units[1].Status)
	assert.Nil(t, s.Units[1].Target)
	assert.Equal(t, []int64{1}, res.Arrived)
}

func TestMovementAdvancesAlongStraightLine(t *testing.T) {
	s := types.NewSnapshot(types.World{ID: "w1"})
	s.Units[1] = movingUnit(1, types.Vec{}, types.Vec{X: 30, Y: 40}, 5)
	s.Units[2] = &types.Unit{ID: 2, OwnerID: 1, Pos: types.Vec{X: 9, Y: 9}, Speed: 5, Status: types.UnitIdle}

	res, err := ResolveMovement(s, 2*time.Second)
	require.NoError(t, err)
	assert.InDelta(t, 6, s.Units[1].Pos.X, 1e-9)
	assert.InDelta(t, 8, s.Units[1].Pos.Y, 1e-9)
	assert.Equal(t, types.UnitMoving, s.Units[1].Status)
	assert.Equal(t, []int64{1}, res.Moved)
	assert.Empty(t, res.Arrived)
	assert.Equal(t, types.Vec{X: 9, Y: 9}, s.Units[2].Pos, "units without a target stay put")
}

func TestMovementRejectsBadKinematics(t *testing.T) {
	s := types.NewSnapshot(types.World{ID: "w1"})
	s.Units[1] = movingUnit(1, types.Vec{}, types.Vec{X: 3}, -1)

	_, err := ResolveMovement(s, time.Second)
	var se *types.StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, StageMovement, se.Stage)
}
