package store

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/Scrimzay/rtsworld/internal/types"
)

// CurrentSchema is written by every encode. Older payloads are migrated
// on read and rewritten at the current schema on their next write.
const CurrentSchema = 2

// playerV1 is the loose blob the first release stored: resources as an
// untyped map and buildings as an embedded JSON string.
type playerV1 struct {
	Player        int64          `json:"player"`
	World         string         `json:"world"`
	Res           map[string]any `json:"res"`
	BuildingsJSON string         `json:"buildings_json"`
	LastTick      int64          `json:"last_tick"` // unix seconds
}

func EncodePlayer(p *types.PlayerWorldState) ([]byte, error) { return json.Marshal(p) }
func EncodeUnit(u *types.Unit) ([]byte, error)               { return json.Marshal(u) }
func EncodeBase(b *types.Base) ([]byte, error)               { return json.Marshal(b) }

func DecodePlayer(rec Record) (*types.PlayerWorldState, error) {
	var p types.PlayerWorldState
	switch rec.Schema {
	case 1:
		mp, err := migratePlayerV1(rec.Payload)
		if err != nil {
			return nil, fmt.Errorf("player %d: migrate v1: %w", rec.Ref.ID, err)
		}
		p = *mp
	case CurrentSchema:
		if err := json.Unmarshal(rec.Payload, &p); err != nil {
			return nil, fmt.Errorf("player %d: %w", rec.Ref.ID, err)
		}
	default:
		return nil, fmt.Errorf("player %d: unknown schema %d", rec.Ref.ID, rec.Schema)
	}
	if p.Buildings == nil {
		p.Buildings = make(map[types.BuildingKind]int)
	}
	p.PlayerID = rec.Ref.ID
	p.WorldID = rec.Ref.WorldID
	p.Version = rec.Version
	return &p, nil
}

func DecodeUnit(rec Record) (*types.Unit, error) {
	if rec.Schema != CurrentSchema && rec.Schema != 1 {
		return nil, fmt.Errorf("unit %d: unknown schema %d", rec.Ref.ID, rec.Schema)
	}
	var u types.Unit
	if err := json.Unmarshal(rec.Payload, &u); err != nil {
		return nil, fmt.Errorf("unit %d: %w", rec.Ref.ID, err)
	}
	if u.Status == "" {
		u.Status = types.UnitIdle
	}
	u.ID = rec.Ref.ID
	u.WorldID = rec.Ref.WorldID
	u.Version = rec.Version
	return &u, nil
}

func DecodeBase(rec Record) (*types.Base, error) {
	if rec.Schema != CurrentSchema && rec.Schema != 1 {
		return nil, fmt.Errorf("base %d: unknown schema %d", rec.Ref.ID, rec.Schema)
	}
	var b types.Base
	if err := json.Unmarshal(rec.Payload, &b); err != nil {
		return nil, fmt.Errorf("base %d: %w", rec.Ref.ID, err)
	}
	if b.ClaimStatus == "" {
		b.ClaimStatus = types.BaseUnclaimed
		if b.Owned() {
			b.ClaimStatus = types.BaseClaimed
		}
	}
	if b.Defense.DamageMultiplier == 0 {
		b.Defense.DamageMultiplier = 1
	}
	b.ID = rec.Ref.ID
	b.WorldID = rec.Ref.WorldID
	b.Version = rec.Version
	return &b, nil
}

func migratePlayerV1(raw []byte) (*types.PlayerWorldState, error) {
	var old playerV1
	if err := json.Unmarshal(raw, &old); err != nil {
		return nil, err
	}
	p := &types.PlayerWorldState{
		PlayerID:  old.Player,
		WorldID:   old.World,
		Buildings: make(map[types.BuildingKind]int),
	}
	if old.LastTick > 0 {
		p.LastTickAt = time.Unix(old.LastTick, 0).UTC()
	}
	for _, k := range types.ResourceKinds {
		v, err := looseInt(old.Res[string(k)])
		if err != nil {
			return nil, fmt.Errorf("res.%s: %w", k, err)
		}
		if v < 0 {
			v = 0
		}
		p.Resources.Set(k, v)
	}
	if old.BuildingsJSON != "" {
		var b map[string]any
		if err := json.Unmarshal([]byte(old.BuildingsJSON), &b); err != nil {
			return nil, fmt.Errorf("buildings_json: %w", err)
		}
		for name, raw := range b {
			kind := types.BuildingKind(name)
			if !types.ValidBuilding(kind) {
				continue
			}
			lvl, err := looseInt(raw)
			if err != nil {
				return nil, fmt.Errorf("buildings.%s: %w", name, err)
			}
			p.Buildings[kind] = int(lvl)
		}
	}
	return p, nil
}

func looseInt(v any) (int64, error) {
	switch n := v.(type) {
	case nil:
		return 0, nil
	case float64:
		return int64(n), nil
	case string:
		if n == "" {
			return 0, nil
		}
		return strconv.ParseInt(n, 10, 64)
	case bool:
		return 0, fmt.Errorf("unexpected bool")
	default:
		return 0, fmt.Errorf("unexpected %T", v)
	}
}
