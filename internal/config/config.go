package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Scrimzay/rtsworld/internal/types"
)

type Config struct {
	Server   ServerConfig           `yaml:"server"`
	Store    StoreConfig            `yaml:"store"`
	Tick     TickConfig             `yaml:"tick"`
	Trigger  TriggerConfig          `yaml:"trigger"`
	Economy  EconomyConfig          `yaml:"economy"`
	Combat   CombatConfig           `yaml:"combat"`
	Units    map[string]UnitProfile `yaml:"units"`
	Realtime RealtimeConfig         `yaml:"realtime"`
	Journal  JournalConfig          `yaml:"journal"`
	Worlds   WorldsConfig           `yaml:"worlds"`
}

type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	// Requests per second per client IP on the action endpoints.
	ActionRate  float64 `yaml:"action_rate"`
	ActionBurst int     `yaml:"action_burst"`
}

type StoreConfig struct {
	Path string `yaml:"path"`
}

type TickConfig struct {
	Interval time.Duration `yaml:"interval"`
	// LeaseTTL must cover the worst-case stage run plus commit.
	LeaseTTL time.Duration `yaml:"lease_ttl"`
	// CommitMargin is reserved at the end of the lease; a tick that has not
	// committed by ExpiresAt-CommitMargin gives up.
	CommitMargin time.Duration `yaml:"commit_margin"`
	Concurrency  int           `yaml:"concurrency"`
	Holder       string        `yaml:"holder"`
}

type TriggerConfig struct {
	Secret     string  `yaml:"secret"`
	RatePerSec float64 `yaml:"rate_per_sec"`
	Burst      int     `yaml:"burst"`
}

type EconomyConfig struct {
	// Units per second produced per level of the producing building.
	RatesPerLevel    map[types.ResourceKind]float64 `yaml:"rates_per_level"`
	BaseCapacity     int64                          `yaml:"base_capacity"`
	CapacityPerLevel int64                          `yaml:"capacity_per_level"`
	// Cost of going from level L to L+1 is UpgradeCost * (L+1).
	UpgradeCost       map[types.BuildingKind]types.Ledger `yaml:"upgrade_cost"`
	StartingResources types.Ledger                        `yaml:"starting_resources"`
	StartingBuildings map[types.BuildingKind]int          `yaml:"starting_buildings"`
}

type DefenseProfile struct {
	PowerPerLevel      int64   `yaml:"power_per_level"`
	MitigationPerLevel int64   `yaml:"mitigation_per_level"`
	Range              float64 `yaml:"range"`
}

type CombatConfig struct {
	Defenses map[types.DefenseType]DefenseProfile `yaml:"defenses"`
}

type UnitProfile struct {
	Speed      float64      `yaml:"speed"`
	Health     int64        `yaml:"health"`
	Power      int64        `yaml:"power"`
	Count      int64        `yaml:"count"`
	Mitigation int64        `yaml:"mitigation"`
	Range      float64      `yaml:"range"`
	Cost       types.Ledger `yaml:"cost"`
}

type ReconnectConfig struct {
	MaxRetries        int     `yaml:"max_retries" json:"maxRetries"`
	RetryDelayMs      int     `yaml:"retry_delay_ms" json:"retryDelayMs"`
	BackoffMultiplier float64 `yaml:"backoff_multiplier" json:"backoffMultiplier"`
}

// Delay returns the wait before reconnect attempt n (0-based).
func (r ReconnectConfig) Delay(attempt int) time.Duration {
	d := float64(r.RetryDelayMs) * math.Pow(r.BackoffMultiplier, float64(attempt))
	return time.Duration(d) * time.Millisecond
}

func (r ReconnectConfig) Validate() error {
	if r.MaxRetries < 0 {
		return errors.New("max_retries must be >= 0")
	}
	if r.RetryDelayMs <= 0 {
		return errors.New("retry_delay_ms must be > 0")
	}
	if r.BackoffMultiplier < 1 {
		return errors.New("backoff_multiplier must be >= 1")
	}
	return nil
}

type RealtimeConfig struct {
	Reconnect     ReconnectConfig `yaml:"reconnect"`
	ClientBuffer  int             `yaml:"client_buffer"`
	PublishBuffer int             `yaml:"publish_buffer"`
}

type JournalConfig struct {
	Dir                string `yaml:"dir"`
	TickLog            bool   `yaml:"tick_log"`
	SnapshotEveryTicks int64  `yaml:"snapshot_every_ticks"`
}

type WorldsConfig struct {
	// Bootstrap worlds created (and activated) at startup if missing.
	Bootstrap     []string      `yaml:"bootstrap"`
	BasesPerWorld int           `yaml:"bases_per_world"`
	BaseHealth    int64         `yaml:"base_health"`
	BaseDefense   types.Defense `yaml:"base_defense"`
}

func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Addr:         ":8000",
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
			ActionRate:   5,
			ActionBurst:  10,
		},
		Store: StoreConfig{Path: "./data/rtsworld.db"},
		Tick: TickConfig{
			Interval:     5 * time.Second,
			LeaseTTL:     10 * time.Second,
			CommitMargin: 500 * time.Millisecond,
			Concurrency:  4,
		},
		Trigger: TriggerConfig{RatePerSec: 2, Burst: 4},
		Economy: EconomyConfig{
			RatesPerLevel: map[types.ResourceKind]float64{
				types.Concrete: 10,
				types.Steel:    6,
				types.Fuel:     4,
				types.Energy:   8,
			},
			BaseCapacity:     1000,
			CapacityPerLevel: 500,
			UpgradeCost: map[types.BuildingKind]types.Ledger{
				types.ConcretePlant: {Concrete: 50, Steel: 20},
				types.SteelMill:     {Concrete: 80, Energy: 20},
				types.Refinery:      {Concrete: 60, Steel: 40},
				types.PowerPlant:    {Concrete: 40, Steel: 40},
				types.Warehouse:     {Concrete: 120, Steel: 60},
			},
			StartingResources: types.Ledger{Concrete: 100, Steel: 100, Fuel: 50, Energy: 50},
			StartingBuildings: map[types.BuildingKind]int{
				types.ConcretePlant: 1,
				types.SteelMill:     1,
				types.Refinery:      1,
				types.PowerPlant:    1,
			},
		},
		Combat: CombatConfig{
			Defenses: map[types.DefenseType]DefenseProfile{
				types.DefenseTurret: {PowerPerLevel: 8, MitigationPerLevel: 2, Range: 6},
				types.DefenseBunker: {PowerPerLevel: 4, MitigationPerLevel: 6, Range: 4},
				types.DefenseWall:   {PowerPerLevel: 0, MitigationPerLevel: 10, Range: 0},
			},
		},
		Units: map[string]UnitProfile{
			"infantry": {Speed: 1, Health: 100, Power: 4, Count: 10, Mitigation: 2, Range: 2, Cost: types.Ledger{Concrete: 20, Fuel: 5}},
			"tank":     {Speed: 2, Health: 400, Power: 30, Count: 1, Mitigation: 10, Range: 4, Cost: types.Ledger{Steel: 120, Fuel: 40}},
			"scout":    {Speed: 5, Health: 40, Power: 2, Count: 2, Mitigation: 0, Range: 3, Cost: types.Ledger{Steel: 20, Fuel: 10}},
		},
		Realtime: RealtimeConfig{
			Reconnect:     ReconnectConfig{MaxRetries: 5, RetryDelayMs: 500, BackoffMultiplier: 2},
			ClientBuffer:  64,
			PublishBuffer: 1024,
		},
		Journal: JournalConfig{Dir: "./data/journal", TickLog: true, SnapshotEveryTicks: 720},
		Worlds: WorldsConfig{
			BasesPerWorld: 64,
			BaseHealth:    1000,
			BaseDefense:   types.Defense{Type: types.DefenseTurret, Level: 1, Count: 2, DamageMultiplier: 1},
		},
	}
}

// Load reads path on top of Defaults. An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if strings.TrimSpace(path) != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("%s: %w", path, err)
		}
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// Normalize applies environment overrides and fills derived defaults.
func (c *Config) Normalize() {
	if port := os.Getenv("PORT"); port != "" {
		c.Server.Addr = ":" + port
	}
	if secret := os.Getenv("RTS_TICK_SECRET"); secret != "" {
		c.Trigger.Secret = secret
	}
	if c.Tick.Concurrency <= 0 {
		c.Tick.Concurrency = 1
	}
	if c.Realtime.ClientBuffer <= 0 {
		c.Realtime.ClientBuffer = 64
	}
	if c.Realtime.PublishBuffer <= 0 {
		c.Realtime.PublishBuffer = 1024
	}
	if c.Worlds.BaseDefense.DamageMultiplier <= 0 {
		c.Worlds.BaseDefense.DamageMultiplier = 1
	}
}

func (c Config) Validate() error {
	if c.Tick.Interval <= 0 {
		return errors.New("tick.interval must be > 0")
	}
	if c.Tick.LeaseTTL <= c.Tick.CommitMargin {
		return errors.New("tick.lease_ttl must exceed tick.commit_margin")
	}
	for k, r := range c.Economy.RatesPerLevel {
		if r < 0 {
			return fmt.Errorf("economy.rates_per_level.%s must be >= 0", k)
		}
	}
	if c.Economy.BaseCapacity < 0 || c.Economy.CapacityPerLevel < 0 {
		return errors.New("economy capacities must be >= 0")
	}
	startCap := c.Economy.BaseCapacity + c.Economy.CapacityPerLevel*int64(c.Economy.StartingBuildings[types.Warehouse])
	for _, k := range types.ResourceKinds {
		if v := c.Economy.StartingResources.Get(k); v < 0 || v > startCap {
			return fmt.Errorf("economy.starting_resources.%s must be within [0, %d]", k, startCap)
		}
	}
	for name, u := range c.Units {
		if u.Speed < 0 || u.Health <= 0 || u.Count <= 0 {
			return fmt.Errorf("units.%s: speed >= 0, health > 0 and count > 0 required", name)
		}
	}
	if err := c.Realtime.Reconnect.Validate(); err != nil {
		return fmt.Errorf("realtime.reconnect: %w", err)
	}
	return nil
}
