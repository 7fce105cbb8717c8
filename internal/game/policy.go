package game

import (
	"fmt"
	"math"
	"strings"
)

type GhostPolicy string

const (
	// GhostDemand substitutes the current customer demand.
	GhostDemand GhostPolicy = "demand"
	// GhostRandom draws uniformly from [GhostMin, GhostMax].
	GhostRandom GhostPolicy = "random"
)

func ParseGhostPolicy(s string) (GhostPolicy, error) {
	switch GhostPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case GhostDemand:
		return GhostDemand, nil
	case GhostRandom:
		return GhostRandom, nil
	}
	return "", fmt.Errorf("%w: unknown ghost policy %q", ErrInvalidInput, s)
}

// Config parameterises the round-advance engine and the game roster.
type Config struct {
	Teams []string

	// LeadTime is 1 (an order arrives the following week) or 2 (it arrives
	// two weeks later).
	LeadTime int
	// PipelineDefault is delivered when the two week pipeline has no order
	// on record, including weeks nobody submitted.
	PipelineDefault int
	// PipelineFromGhost delivers the substitute order of an unsubmitted week
	// instead of PipelineDefault.
	PipelineFromGhost bool

	Ghost    GhostPolicy
	GhostMin int
	GhostMax int

	Shock       bool
	ShockWeek   int
	ShockDemand int

	HoldRate    float64
	BacklogRate float64

	InitialInventory int
	DefaultDemand    int
	MaxDemand        int
}

func DefaultConfig() Config {
	return Config{
		Teams:            []string{"A", "B", "C"},
		LeadTime:         2,
		PipelineDefault:  DefaultPipelineOrder,
		Ghost:            GhostDemand,
		GhostMin:         2,
		GhostMax:         8,
		Shock:            true,
		ShockWeek:        DefaultShockWeek,
		ShockDemand:      DefaultShockDemand,
		HoldRate:         DefaultHoldRate,
		BacklogRate:      DefaultBacklogRate,
		InitialInventory: DefaultInitialInventory,
		DefaultDemand:    DefaultDemand,
		MaxDemand:        MaxDemand,
	}
}

func (c Config) Validate() error {
	if len(c.Teams) == 0 {
		return fmt.Errorf("%w: at least one team is required", ErrInvalidInput)
	}
	seen := make(map[string]struct{}, len(c.Teams))
	for _, t := range c.Teams {
		if strings.TrimSpace(t) == "" {
			return fmt.Errorf("%w: empty team name", ErrInvalidInput)
		}
		if _, ok := seen[t]; ok {
			return fmt.Errorf("%w: duplicate team %q", ErrInvalidInput, t)
		}
		seen[t] = struct{}{}
	}
	if c.LeadTime != 1 && c.LeadTime != 2 {
		return fmt.Errorf("%w: lead time must be 1 or 2, got %d", ErrInvalidInput, c.LeadTime)
	}
	if c.PipelineDefault < 0 {
		return fmt.Errorf("%w: pipeline default must be >= 0", ErrInvalidInput)
	}
	switch c.Ghost {
	case GhostDemand:
	case GhostRandom:
		if c.GhostMin < 0 || c.GhostMin > c.GhostMax {
			return fmt.Errorf("%w: ghost range [%d,%d]", ErrInvalidInput, c.GhostMin, c.GhostMax)
		}
	default:
		return fmt.Errorf("%w: unknown ghost policy %q", ErrInvalidInput, c.Ghost)
	}
	if c.Shock {
		if c.ShockWeek < 1 {
			return fmt.Errorf("%w: shock week must be >= 1", ErrInvalidInput)
		}
		if err := ValidateDemand(c.ShockDemand, c.MaxDemand); err != nil {
			return fmt.Errorf("shock demand: %w", err)
		}
	}
	for _, rate := range []float64{c.HoldRate, c.BacklogRate} {
		if math.IsNaN(rate) || math.IsInf(rate, 0) || rate < 0 {
			return fmt.Errorf("%w: cost rates must be finite and >= 0", ErrInvalidInput)
		}
	}
	if c.InitialInventory < 0 {
		return fmt.Errorf("%w: initial inventory must be >= 0", ErrInvalidInput)
	}
	if c.MaxDemand < 0 {
		return fmt.Errorf("%w: max demand must be >= 0", ErrInvalidInput)
	}
	if err := ValidateDemand(c.DefaultDemand, c.MaxDemand); err != nil {
		return err
	}
	return nil
}

func (c Config) HasTeam(team string) bool {
	for _, t := range c.Teams {
		if t == team {
			return true
		}
	}
	return false
}

// ResolveDemand returns the customer demand for the given week. When the
// automatic shock applies and the stored settings do not reflect it yet, the
// returned settings carry the override and changed is true so the caller can
// persist it. Once triggered the shock stays on until a reset.
func (c Config) ResolveDemand(s Settings, week int) (demand int, next Settings, changed bool) {
	next = s
	if !c.Shock {
		return s.Demand, next, false
	}
	if week < c.ShockWeek && !s.ShockTriggered {
		return s.Demand, next, false
	}
	if s.Demand != c.ShockDemand || !s.ShockTriggered {
		next.Demand = c.ShockDemand
		next.ShockTriggered = true
		changed = true
	}
	return c.ShockDemand, next, changed
}

// ResetSettings is the settings state right after a full reset.
func (c Config) ResetSettings() Settings {
	return Settings{Demand: c.DefaultDemand}
}
