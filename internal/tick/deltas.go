package tick

import (
	"encoding/json"

	"github.com/Scrimzay/rtsworld/internal/realtime"
	"github.com/Scrimzay/rtsworld/internal/types"
	"github.com/Scrimzay/rtsworld/internal/world"
)

// Deltas turns a committed outcome into realtime messages, one per changed
// entity per category. Within each channel messages follow id order.
func Deltas(out *world.Outcome) ([]realtime.Message, error) {
	next := out.Next
	var msgs []realtime.Message
	add := func(ch realtime.Channel, kind types.EntityKind, id, version int64, v any) error {
		payload, err := json.Marshal(v)
		if err != nil {
			return err
		}
		msgs = append(msgs, realtime.Message{
			Channel:     ch,
			WorldID:     next.World.ID,
			EntityType:  string(kind),
			EntityID:    id,
			Version:     version,
			Payload:     payload,
			CommittedAt: out.At,
		})
		return nil
	}

	for _, id := range out.ChangedPlayers {
		p := next.Players[id]
		if err := add(realtime.ChannelResources, types.KindPlayer, id, p.Version, p); err != nil {
			return nil, err
		}
	}
	for _, id := range out.Movement.Moved {
		u := next.Units[id]
		if err := add(realtime.ChannelMovement, types.KindUnit, id, u.Version, u); err != nil {
			return nil, err
		}
	}
	for _, id := range out.Combat.ChangedUnits {
		u := next.Units[id]
		if err := add(realtime.ChannelCombat, types.KindUnit, id, u.Version, u); err != nil {
			return nil, err
		}
	}
	for _, id := range out.Combat.ChangedBases {
		b := next.Bases[id]
		if err := add(realtime.ChannelCombat, types.KindBase, id, b.Version, b); err != nil {
			return nil, err
		}
	}
	// log entries never change, so their version is always 1
	for _, e := range out.Combat.Entries {
		if err := add(realtime.ChannelCombat, types.KindCombatLog, e.ID, 1, e); err != nil {
			return nil, err
		}
	}
	for _, id := range out.Claims.ChangedBases {
		b := next.Bases[id]
		if err := add(realtime.ChannelClaims, types.KindBase, id, b.Version, b); err != nil {
			return nil, err
		}
	}
	for _, r := range out.Claims.Results {
		if err := add(realtime.ChannelClaims, types.KindClaim, r.AttemptID, 1, r); err != nil {
			return nil, err
		}
	}
	return msgs, nil
}
