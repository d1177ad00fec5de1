package world

import (
	"sort"

	"github.com/Scrimzay/rtsworld/internal/types"
)

type ClaimsResult struct {
	Results      []types.ClaimResult
	ChangedBases []int64
}

// ArbitrateClaims settles every staged claim attempt against s. For each
// base with at least one valid attempt, the earliest submission wins and
// equal timestamps go to the lowest player id; every other attempt on that
// base is lost. Bases razed this tick, bases already owned, unknown bases
// and players outside the world are rejected outright.
//
// After arbitration no base is left contested.
func ArbitrateClaims(s *types.Snapshot, attempts []types.ClaimAttempt, razed []int64) (ClaimsResult, error) {
	var res ClaimsResult

	razedSet := make(map[int64]bool, len(razed))
	for _, id := range razed {
		razedSet[id] = true
	}

	ordered := make([]types.ClaimAttempt, len(attempts))
	copy(ordered, attempts)
	sort.Slice(ordered, func(i, j int) bool { return claimBefore(ordered[i], ordered[j]) })

	byBase := make(map[int64][]types.ClaimAttempt)
	for _, a := range ordered {
		if a.WorldID != "" && a.WorldID != s.World.ID {
			return res, types.NewStageError("claims", "attempt %d belongs to world %s", a.ID, a.WorldID)
		}
		b, ok := s.Bases[a.BaseID]
		switch {
		case !ok:
			res.Results = append(res.Results, rejected(a, "unknown base"))
		case s.Players[a.PlayerID] == nil:
			res.Results = append(res.Results, rejected(a, "player not in world"))
		case razedSet[a.BaseID]:
			res.Results = append(res.Results, rejected(a, "base destroyed this tick"))
		case b.Owned():
			res.Results = append(res.Results, rejected(a, "base already claimed"))
		default:
			byBase[a.BaseID] = append(byBase[a.BaseID], a)
		}
	}

	changed := make(map[int64]bool)
	for _, id := range s.BaseIDs() {
		b := s.Bases[id]
		contenders := byBase[id]
		if len(contenders) > 1 {
			b.ClaimStatus = types.BaseContested
		}

		if len(contenders) > 0 {
			// already sorted by claimBefore
			winner := contenders[0]
			b.OwnerID = winner.PlayerID
			b.ClaimStatus = types.BaseClaimed
			if b.Health <= 0 {
				b.Health = b.MaxHealth
			}
			changed[id] = true
			res.Results = append(res.Results, types.ClaimResult{
				AttemptID: winner.ID,
				PlayerID:  winner.PlayerID,
				BaseID:    id,
				Status:    types.ClaimWon,
			})
			for _, a := range contenders[1:] {
				res.Results = append(res.Results, types.ClaimResult{
					AttemptID: a.ID,
					PlayerID:  a.PlayerID,
					BaseID:    id,
					Status:    types.ClaimLost,
					Reason:    types.ErrClaimLost.Error(),
				})
			}
		}

		// committed state is never contested and ownership matches status
		want := types.BaseUnclaimed
		if b.Owned() {
			want = types.BaseClaimed
		}
		if b.ClaimStatus != want {
			b.ClaimStatus = want
			changed[id] = true
		}
	}

	sort.SliceStable(res.Results, func(i, j int) bool { return res.Results[i].AttemptID < res.Results[j].AttemptID })
	res.ChangedBases = sortedIDs(changed)
	return res, nil
}

func claimBefore(a, b types.ClaimAttempt) bool {
	if !a.SubmittedAt.Equal(b.SubmittedAt) {
		return a.SubmittedAt.Before(b.SubmittedAt)
	}
	if a.PlayerID != b.PlayerID {
		return a.PlayerID < b.PlayerID
	}
	return a.ID < b.ID
}

func rejected(a types.ClaimAttempt, reason string) types.ClaimResult {
	return types.ClaimResult{
		AttemptID: a.ID,
		PlayerID:  a.PlayerID,
		BaseID:    a.BaseID,
		Status:    types.ClaimRejected,
		Reason:    reason,
	}
}
