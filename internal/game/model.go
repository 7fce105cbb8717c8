package game

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

const (
	DefaultInitialInventory = 12
	DefaultDemand           = 4
	MaxDemand               = 20
	DefaultPipelineOrder    = 4

	DefaultShockWeek   = 5
	DefaultShockDemand = 8

	DefaultHoldRate    = 0.5
	DefaultBacklogRate = 1.0
)

var (
	ErrNotFound         = errors.New("not found")
	ErrAlreadySubmitted = errors.New("order already submitted for this week")
	ErrAlreadyTaken     = errors.New("role already taken")
	ErrInvalidInput     = errors.New("invalid input")
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrGameInactive     = errors.New("game is not active")
	ErrRoundClosed      = errors.New("round already resolved")
	ErrTxConflict       = errors.New("transaction conflict, retry")
	ErrShockLocked      = errors.New("demand is locked by the shock until reset")
)

// Role is one of the four supply chain positions. The zero value is not a
// valid role.
type Role int

const (
	Retailer Role = iota + 1
	Wholesaler
	Distributor
	Manufacturer
)

// Roles lists every role downstream first.
var Roles = [4]Role{Retailer, Wholesaler, Distributor, Manufacturer}

func (r Role) String() string {
	switch r {
	case Retailer:
		return "Retailer"
	case Wholesaler:
		return "Wholesaler"
	case Distributor:
		return "Distributor"
	case Manufacturer:
		return "Manufacturer"
	default:
		return fmt.Sprintf("Role(%d)", int(r))
	}
}

func (r Role) Valid() bool {
	return r >= Retailer && r <= Manufacturer
}

// Index is the role's position in the chain, 0 for the Retailer.
func (r Role) Index() int {
	return int(r) - 1
}

// Downstream returns the role whose orders this role fills. The Retailer
// faces the external customer and has none.
func (r Role) Downstream() (Role, bool) {
	if !r.Valid() || r == Retailer {
		return 0, false
	}
	return r - 1, true
}

// Upstream returns this role's supplier. The Manufacturer brews its own and
// has none.
func (r Role) Upstream() (Role, bool) {
	if !r.Valid() || r == Manufacturer {
		return 0, false
	}
	return r + 1, true
}

func (r Role) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("%w: role %d", ErrInvalidInput, int(r))
	}
	return []byte(r.String()), nil
}

func (r *Role) UnmarshalText(b []byte) error {
	parsed, err := ParseRole(string(b))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// ParseRole accepts role names case-insensitively. "factory" is accepted as
// an alias for the Manufacturer.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "retailer":
		return Retailer, nil
	case "wholesaler":
		return Wholesaler, nil
	case "distributor":
		return Distributor, nil
	case "manufacturer", "factory":
		return Manufacturer, nil
	}
	return 0, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, s)
}

// RoundRecord is the state of one role of one team at the end of a week.
type RoundRecord struct {
	Team        string  `json:"team"`
	Role        Role    `json:"role"`
	Week        int     `json:"week"`
	Inventory   int     `json:"inventory"`
	Backlog     int     `json:"backlog"`
	OrderPlaced *int    `json:"order_placed"`
	TotalCost   float64 `json:"total_cost"`
	Occupant    *string `json:"occupant,omitempty"`

	// Audit of the resolution that produced this record. Zero on seed rows.
	Shipped          int  `json:"shipped"`
	DemandIn         int  `json:"demand_in"`
	IncomingDelivery int  `json:"incoming_delivery"`
	ResolvedOrder    *int `json:"resolved_order,omitempty"`
	GhostOrder       bool `json:"ghost_order"`

	CreatedAt time.Time `json:"created_at"`
}

func (r RoundRecord) Submitted() bool {
	return r.OrderPlaced != nil
}

// SeedRecord is the week 1 state of a role after a reset.
func SeedRecord(team string, role Role, initialInventory int) RoundRecord {
	return RoundRecord{
		Team:      team,
		Role:      role,
		Week:      1,
		Inventory: initialInventory,
	}
}

// Settings is the singleton game settings entity. Version increases on every
// write so observers can tell stale copies apart.
type Settings struct {
	Demand         int       `json:"demand"`
	Active         bool      `json:"active"`
	ShockTriggered bool      `json:"shock_triggered"`
	Version        int64     `json:"version"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type AdvanceStatus string

const (
	StatusNotReady        AdvanceStatus = "not_ready"
	StatusAdvanced        AdvanceStatus = "advanced"
	StatusAlreadyAdvanced AdvanceStatus = "already_advanced"
)

// AdvanceResult is the outcome of TryAdvance. Records holds the week+1 rows
// when the round has been resolved, by this call or an earlier one.
type AdvanceResult struct {
	Status  AdvanceStatus `json:"status"`
	Team    string        `json:"team"`
	Week    int           `json:"week"`
	Forced  bool          `json:"forced"`
	Demand  int           `json:"demand"`
	Records []RoundRecord `json:"records,omitempty"`
}

type TeamProgress struct {
	Team      string `json:"team"`
	Week      int    `json:"week"`
	Submitted []Role `json:"submitted"`
}

func intPtr(v int) *int {
	return &v
}

// RoundCost rounds a cost for display. Accumulation never rounds.
func RoundCost(v float64) float64 {
	return math.Round(v*100) / 100
}

func ValidateDemand(v, max int) error {
	if v < 0 || v > max {
		return fmt.Errorf("%w: demand must be in [0,%d]", ErrInvalidInput, max)
	}
	return nil
}

func ValidateOrder(amount int) error {
	if amount < 0 {
		return fmt.Errorf("%w: order must be >= 0", ErrInvalidInput)
	}
	return nil
}
