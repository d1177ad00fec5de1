package world

import (
	"math"
	"time"

	"github.com/Scrimzay/rtsworld/internal/types"
)

type MovementResult struct {
	Moved   []int64 // includes arrivals
	Arrived []int64
}

// ResolveMovement advances every moving unit of s toward its target by
// speed*elapsed. A unit that can cover the remaining distance lands exactly
// on the target and goes idle. Units sharing a tile are left alone; combat
// sorts out hostile overlap.
func ResolveMovement(s *types.Snapshot, elapsed time.Duration) (MovementResult, error) {
	var res MovementResult
	secs := elapsed.Seconds()
	if secs < 0 {
		secs = 0
	}

	for _, id := range s.UnitIDs() {
		u := s.Units[id]
		if u.Status != types.UnitMoving || u.Target == nil {
			continue
		}
		if u.Speed < 0 || math.IsNaN(u.Speed) || badVec(u.Pos) || badVec(*u.Target) {
			return res, types.NewStageError("movement", "unit %d has invalid kinematics", u.ID)
		}

		maxDist := u.Speed * secs
		if maxDist == 0 {
			continue
		}
		remaining := u.Pos.Dist(*u.Target)
		if remaining <= maxDist {
			u.Pos = *u.Target
			u.Target = nil
			u.Status = types.UnitIdle
			res.Arrived = append(res.Arrived, u.ID)
		} else {
			f := maxDist / remaining
			u.Pos = types.Vec{
				X: u.Pos.X + (u.Target.X-u.Pos.X)*f,
				Y: u.Pos.Y + (u.Target.Y-u.Pos.Y)*f,
			}
		}
		res.Moved = append(res.Moved, u.ID)
	}
	return res, nil
}

func badVec(v types.Vec) bool {
	return math.IsNaN(v.X) || math.IsNaN(v.Y) || math.IsInf(v.X, 0) || math.IsInf(v.Y, 0)
}
