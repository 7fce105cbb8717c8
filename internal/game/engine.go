package game

import (
	"fmt"
	"time"
)

// Ready reports whether every role of the team has submitted an order for
// the week. It expects exactly one record per role.
func Ready(records []RoundRecord) bool {
	byRole, err := indexByRole(records)
	if err != nil {
		return false
	}
	for _, r := range byRole {
		if !r.Submitted() {
			return false
		}
	}
	return true
}

// ResolvedOrders returns the order each role is resolved with. Roles that
// did not submit get ghost(role); the flag marks them.
func ResolvedOrders(current [4]RoundRecord, ghost func(Role) int) (orders [4]int, ghosted [4]bool) {
	for i, rec := range current {
		if rec.OrderPlaced != nil {
			orders[i] = *rec.OrderPlaced
			continue
		}
		orders[i] = ghost(Roles[i])
		if orders[i] < 0 {
			orders[i] = 0
		}
		ghosted[i] = true
	}
	return orders, ghosted
}

// ResolveInput is one team's week as seen by the engine.
type ResolveInput struct {
	Team    string
	Week    int
	Demand  int
	Current [4]RoundRecord
	Orders  [4]int
	Ghosted [4]bool
	// Prior holds the week-1 records, used by the two week pipeline. Missing
	// entries are nil.
	Prior [4]*RoundRecord
	Now   time.Time
}

// RoleStep is the arithmetic of one role's week.
type RoleStep struct {
	DemandIn         int
	TotalNeeded      int
	Shipped          int
	NewBacklog       int
	IncomingDelivery int
	NewInventory     int
	WeeklyCost       float64
}

// Step resolves a single role's week: fill what inventory allows, carry the
// rest as backlog, receive the delivery and charge holding and backlog cost.
func (c Config) Step(inventory, backlog, demandIn, incoming int) RoleStep {
	s := RoleStep{DemandIn: demandIn, IncomingDelivery: incoming}
	s.TotalNeeded = demandIn + backlog
	s.Shipped = min(inventory, s.TotalNeeded)
	s.NewBacklog = s.TotalNeeded - s.Shipped
	s.NewInventory = inventory - s.Shipped + incoming
	s.WeeklyCost = float64(s.NewInventory)*c.HoldRate + float64(s.NewBacklog)*c.BacklogRate
	return s
}

// IncomingDelivery is what arrives for the role at the start of week+1.
func (c Config) IncomingDelivery(in ResolveInput, i int) int {
	if c.LeadTime == 1 {
		return in.Orders[i]
	}
	if p := in.Prior[i]; p != nil && p.OrderPlaced != nil {
		return *p.OrderPlaced
	}
	// The current record carries the substitute that week-1 was resolved with.
	if c.PipelineFromGhost {
		if cur := in.Current[i]; cur.Week > 1 && cur.ResolvedOrder != nil {
			return *cur.ResolvedOrder
		}
	}
	return c.PipelineDefault
}

// Resolve produces the week+1 records for all four roles, processing the
// chain from the Retailer upward.
func (c Config) Resolve(in ResolveInput) [4]RoundRecord {
	var out [4]RoundRecord
	for i, role := range Roles {
		cur := in.Current[i]
		demandIn := in.Demand
		if down, ok := role.Downstream(); ok {
			demandIn = in.Orders[down.Index()]
		}
		step := c.Step(cur.Inventory, cur.Backlog, demandIn, c.IncomingDelivery(in, i))
		out[i] = RoundRecord{
			Team:             in.Team,
			Role:             role,
			Week:             in.Week + 1,
			Inventory:        step.NewInventory,
			Backlog:          step.NewBacklog,
			TotalCost:        cur.TotalCost + step.WeeklyCost,
			Occupant:         cur.Occupant,
			Shipped:          step.Shipped,
			DemandIn:         step.DemandIn,
			IncomingDelivery: step.IncomingDelivery,
			ResolvedOrder:    intPtr(in.Orders[i]),
			GhostOrder:       in.Ghosted[i],
			CreatedAt:        in.Now,
		}
	}
	return out
}

func indexByRole(records []RoundRecord) ([4]RoundRecord, error) {
	var out [4]RoundRecord
	var seen [4]bool
	for _, r := range records {
		if !r.Role.Valid() {
			return out, fmt.Errorf("%w: record with role %d", ErrInvalidInput, int(r.Role))
		}
		i := r.Role.Index()
		if seen[i] {
			return out, fmt.Errorf("%w: duplicate %s record", ErrInvalidInput, r.Role)
		}
		seen[i] = true
		out[i] = r
	}
	for i, ok := range seen {
		if !ok {
			return out, fmt.Errorf("%w: %s record", ErrNotFound, Roles[i])
		}
	}
	return out, nil
}

func indexPartial(records []RoundRecord) [4]*RoundRecord {
	var out [4]*RoundRecord
	for i := range records {
		r := records[i]
		if r.Role.Valid() {
			out[r.Role.Index()] = &r
		}
	}
	return out
}
