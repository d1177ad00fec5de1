package world

import (
	"encoding/binary"
	"fmt"

	"lukechampine.com/blake3"

	"github.com/Scrimzay/rtsworld/internal/types"
)

// SeedBases lays out n unclaimed bases for a world that is being activated.
// Positions come from a blake3 hash of the world id, so the same world
// always gets the same map. Bases are dealt round-robin into the four
// quadrants to keep the map balanced, and no two share a tile.
func SeedBases(worldID string, n int, health int64, def types.Defense) []*types.Base {
	halfW, halfH := types.GridWidth/2, types.GridHeight/2
	quadrants := [4][2]int{{0, 0}, {halfW, 0}, {0, halfH}, {halfW, halfH}}

	taken := make(map[[2]int]bool, n)
	bases := make([]*types.Base, 0, n)
	for i := 0; i < n; i++ {
		q := quadrants[i%4]
		for salt := 0; ; salt++ {
			h := blake3.Sum256([]byte(fmt.Sprintf("%s-base-%d-%d", worldID, i, salt)))
			x := q[0] + int(binary.BigEndian.Uint32(h[0:4])%uint32(halfW))
			y := q[1] + int(binary.BigEndian.Uint32(h[4:8])%uint32(halfH))
			if taken[[2]int{x, y}] {
				continue
			}
			taken[[2]int{x, y}] = true
			bases = append(bases, &types.Base{
				WorldID:     worldID,
				X:           x,
				Y:           y,
				Health:      health,
				MaxHealth:   health,
				Defense:     def,
				ClaimStatus: types.BaseUnclaimed,
			})
			break
		}
	}
	return bases
}
