// Package actions stages player and admin requests between ticks. Every
// change goes through a version-checked write; a write that loses a race
// with the tick or another action is re-read and retried a few times.
package actions

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/Scrimzay/rtsworld/internal/config"
	"github.com/Scrimzay/rtsworld/internal/store"
	"github.com/Scrimzay/rtsworld/internal/types"
	"github.com/Scrimzay/rtsworld/internal/world"
)

const maxAttempts = 3

type Service struct {
	store      store.Store
	economy    config.EconomyConfig
	production *world.Production
	units      map[string]config.UnitProfile
	worlds     config.WorldsConfig
	log        *log.Logger

	now func() time.Time
}

func NewService(st store.Store, cfg config.Config, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.Default()
	}
	return &Service{
		store:      st,
		economy:    cfg.Economy,
		production: world.NewProduction(cfg.Economy),
		units:      cfg.Units,
		worlds:     cfg.Worlds,
		log:        logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// CreateWorld registers a pending world with the standard grid.
func (s *Service) CreateWorld(ctx context.Context, id string) (types.World, error) {
	if id == "" {
		return types.World{}, fmt.Errorf("empty world id: %w", types.ErrInvalidAction)
	}
	if err := s.store.CreateWorld(ctx, types.World{ID: id, Status: types.WorldPending, CreatedAt: s.now()}); err != nil {
		return types.World{}, err
	}
	return s.store.World(ctx, id)
}

// ActivateWorld seeds the world's bases and opens it for ticking.
func (s *Service) ActivateWorld(ctx context.Context, id string) (types.World, error) {
	w, err := s.store.World(ctx, id)
	if err != nil {
		return w, err
	}
	if w.Status != types.WorldPending {
		return w, fmt.Errorf("world %s is %s: %w", id, w.Status, types.ErrInvalidAction)
	}
	bases := world.SeedBases(id, s.worlds.BasesPerWorld, s.worlds.BaseHealth, s.worlds.BaseDefense)
	w, err = s.store.ActivateWorld(ctx, id, w.Version, bases)
	if err != nil {
		return w, err
	}
	s.log.Printf("world %s active with %d bases", id, len(bases))
	return w, nil
}

func (s *Service) CloseWorld(ctx context.Context, id string) (types.World, error) {
	var w types.World
	err := retry(ctx, func() error {
		cur, err := s.store.World(ctx, id)
		if err != nil {
			return err
		}
		if cur.Status == types.WorldClosed {
			w = cur
			return nil
		}
		w, err = s.store.SetWorldStatus(ctx, id, cur.Version, types.WorldClosed)
		return err
	})
	return w, err
}

// JoinWorld creates the player's state with the configured starting
// economy. Production starts counting from the join time.
func (s *Service) JoinWorld(ctx context.Context, worldID string, playerID int64, name string) (*types.PlayerWorldState, error) {
	if _, err := s.activeWorld(ctx, worldID); err != nil {
		return nil, err
	}
	buildings := make(map[types.BuildingKind]int, len(s.economy.StartingBuildings))
	for k, v := range s.economy.StartingBuildings {
		buildings[k] = v
	}
	p := &types.PlayerWorldState{
		PlayerID:   playerID,
		WorldID:    worldID,
		Name:       name,
		Resources:  s.economy.StartingResources,
		Buildings:  buildings,
		LastTickAt: s.now(),
	}
	if err := s.store.InsertPlayer(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// UpgradeBuilding spends the cost of the next level and raises it.
func (s *Service) UpgradeBuilding(ctx context.Context, worldID string, playerID int64, kind types.BuildingKind) (*types.PlayerWorldState, error) {
	if !types.ValidBuilding(kind) {
		return nil, fmt.Errorf("unknown building %q: %w", kind, types.ErrInvalidAction)
	}
	if _, err := s.activeWorld(ctx, worldID); err != nil {
		return nil, err
	}
	return s.modifyPlayer(ctx, worldID, playerID, func(p *types.PlayerWorldState) error {
		level := p.Buildings[kind]
		cost := scaled(s.economy.UpgradeCost[kind], int64(level+1))
		if !p.Resources.Covers(cost) {
			return fmt.Errorf("%s level %d: %w", kind, level+1, types.ErrInsufficient)
		}
		p.Resources = p.Resources.Sub(cost)
		p.Buildings[kind] = level + 1
		return nil
	})
}

// TrainUnit pays for a unit of the given profile and places it idle at pos.
func (s *Service) TrainUnit(ctx context.Context, worldID string, playerID int64, kind string, pos types.Vec) (*types.Unit, error) {
	profile, ok := s.units[kind]
	if !ok {
		return nil, fmt.Errorf("unknown unit kind %q: %w", kind, types.ErrInvalidAction)
	}
	w, err := s.activeWorld(ctx, worldID)
	if err != nil {
		return nil, err
	}
	if !w.Contains(pos) {
		return nil, fmt.Errorf("position %v outside world: %w", pos, types.ErrInvalidAction)
	}

	if _, err := s.modifyPlayer(ctx, worldID, playerID, func(p *types.PlayerWorldState) error {
		if !p.Resources.Covers(profile.Cost) {
			return fmt.Errorf("train %s: %w", kind, types.ErrInsufficient)
		}
		p.Resources = p.Resources.Sub(profile.Cost)
		return nil
	}); err != nil {
		return nil, err
	}

	u := &types.Unit{
		WorldID:    worldID,
		OwnerID:    playerID,
		Kind:       kind,
		Pos:        pos,
		Speed:      profile.Speed,
		Health:     profile.Health,
		MaxHealth:  profile.Health,
		Power:      profile.Power,
		Count:      profile.Count,
		Mitigation: profile.Mitigation,
		Range:      profile.Range,
		Status:     types.UnitIdle,
	}
	if err := s.store.InsertUnit(ctx, u); err != nil {
		s.refund(ctx, worldID, playerID, profile.Cost)
		return nil, err
	}
	return u, nil
}

// MoveUnit points one of the player's units at target. The tick moves it.
func (s *Service) MoveUnit(ctx context.Context, worldID string, playerID, unitID int64, target types.Vec) (*types.Unit, error) {
	w, err := s.activeWorld(ctx, worldID)
	if err != nil {
		return nil, err
	}
	if !w.Contains(target) {
		return nil, fmt.Errorf("target %v outside world: %w", target, types.ErrInvalidAction)
	}
	return s.modifyUnit(ctx, worldID, playerID, unitID, func(u *types.Unit) error {
		t := target
		u.Target = &t
		u.Status = types.UnitMoving
		return nil
	})
}

func (s *Service) StopUnit(ctx context.Context, worldID string, playerID, unitID int64) (*types.Unit, error) {
	if _, err := s.activeWorld(ctx, worldID); err != nil {
		return nil, err
	}
	return s.modifyUnit(ctx, worldID, playerID, unitID, func(u *types.Unit) error {
		u.Target = nil
		u.Status = types.UnitIdle
		return nil
	})
}

// SubmitClaim stages a claim for the next tick. Ownership is only
// settled there; this checks just that the base and player exist.
func (s *Service) SubmitClaim(ctx context.Context, worldID string, playerID, baseID int64) (types.ClaimAttempt, error) {
	if _, err := s.activeWorld(ctx, worldID); err != nil {
		return types.ClaimAttempt{}, err
	}
	if _, err := s.store.Read(ctx, types.EntityRef{WorldID: worldID, Kind: types.KindPlayer, ID: playerID}); err != nil {
		return types.ClaimAttempt{}, err
	}
	rec, err := s.store.Read(ctx, types.EntityRef{WorldID: worldID, Kind: types.KindBase, ID: baseID})
	if err != nil {
		return types.ClaimAttempt{}, err
	}
	b, err := store.DecodeBase(rec)
	if err != nil {
		return types.ClaimAttempt{}, err
	}
	if b.OwnerID == playerID {
		return types.ClaimAttempt{}, fmt.Errorf("base %d already yours: %w", baseID, types.ErrClaimRejected)
	}
	return s.store.SubmitClaim(ctx, types.ClaimAttempt{
		WorldID:     worldID,
		PlayerID:    playerID,
		BaseID:      baseID,
		SubmittedAt: s.now(),
	})
}

func (s *Service) activeWorld(ctx context.Context, id string) (types.World, error) {
	w, err := s.store.World(ctx, id)
	if err != nil {
		return w, err
	}
	if w.Status != types.WorldActive {
		return w, fmt.Errorf("world %s is %s: %w", id, w.Status, types.ErrWorldNotActive)
	}
	return w, nil
}

func (s *Service) modifyPlayer(ctx context.Context, worldID string, playerID int64, fn func(*types.PlayerWorldState) error) (*types.PlayerWorldState, error) {
	ref := types.EntityRef{WorldID: worldID, Kind: types.KindPlayer, ID: playerID}
	var out *types.PlayerWorldState
	err := retry(ctx, func() error {
		rec, err := s.store.Read(ctx, ref)
		if err != nil {
			return err
		}
		p, err := store.DecodePlayer(rec)
		if err != nil {
			return err
		}
		if err := fn(p); err != nil {
			return err
		}
		payload, err := store.EncodePlayer(p)
		if err != nil {
			return err
		}
		p.Version, err = s.store.ConditionalWrite(ctx, ref, rec.Version, payload)
		out = p
		return err
	})
	return out, err
}

func (s *Service) modifyUnit(ctx context.Context, worldID string, playerID, unitID int64, fn func(*types.Unit) error) (*types.Unit, error) {
	ref := types.EntityRef{WorldID: worldID, Kind: types.KindUnit, ID: unitID}
	var out *types.Unit
	err := retry(ctx, func() error {
		rec, err := s.store.Read(ctx, ref)
		if err != nil {
			return err
		}
		u, err := store.DecodeUnit(rec)
		if err != nil {
			return err
		}
		if u.OwnerID != playerID {
			return fmt.Errorf("unit %d not owned by player %d: %w", unitID, playerID, types.ErrInvalidAction)
		}
		if !u.Alive() {
			return fmt.Errorf("unit %d destroyed: %w", unitID, types.ErrInvalidAction)
		}
		if err := fn(u); err != nil {
			return err
		}
		payload, err := store.EncodeUnit(u)
		if err != nil {
			return err
		}
		u.Version, err = s.store.ConditionalWrite(ctx, ref, rec.Version, payload)
		out = u
		return err
	})
	return out, err
}

func (s *Service) refund(ctx context.Context, worldID string, playerID int64, cost types.Ledger) {
	_, err := s.modifyPlayer(ctx, worldID, playerID, func(p *types.PlayerWorldState) error {
		for _, k := range types.ResourceKinds {
			p.Resources.Set(k, p.Resources.Get(k)+cost.Get(k))
		}
		// a tick may have filled storage since the spend
		s.production.Clamp(p)
		return nil
	})
	if err != nil {
		s.log.Printf("actions: refund for player %d in %s failed: %v", playerID, worldID, err)
	}
}

// retry runs fn again while it loses version races.
func retry(ctx context.Context, fn func() error) error {
	var err error
	for i := 0; i < maxAttempts; i++ {
		if err = fn(); !errors.Is(err, types.ErrVersionConflict) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return err
}

func scaled(l types.Ledger, n int64) types.Ledger {
	var out types.Ledger
	for _, k := range types.ResourceKinds {
		out.Set(k, l.Get(k)*n)
	}
	return out
}
