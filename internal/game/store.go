package game

import "context"

// Store is the durable state behind the game. InTx runs fn as one
// all-or-nothing unit; implementations serialise conflicting units or fail
// them with ErrTxConflict once retries are exhausted. fn may be invoked more
// than once when a unit is retried.
type Store interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the view of the store inside one unit of work. Record lookups
// return ErrNotFound when nothing matches.
type Tx interface {
	Settings(ctx context.Context) (Settings, error)
	// SaveSettings stores s, bumping the version, and returns what was stored.
	SaveSettings(ctx context.Context, s Settings) (Settings, error)

	// WeekRecords returns the team's records for a week in role order.
	// Implementations lock the rows when they can. An empty result is not an
	// error.
	WeekRecords(ctx context.Context, team string, week int) ([]RoundRecord, error)
	LatestWeek(ctx context.Context, team string) (int, error)
	Latest(ctx context.Context, team string, role Role) (RoundRecord, error)
	History(ctx context.Context, team string) ([]RoundRecord, error)

	// InsertRecords inserts records whose (team, role, week) is new and
	// reports how many were inserted. Existing rows are left untouched.
	InsertRecords(ctx context.Context, records []RoundRecord) (int, error)
	// SetOrder sets order_placed on a record whose order is still null. It
	// returns ErrNotFound or ErrAlreadySubmitted otherwise.
	SetOrder(ctx context.Context, team string, role Role, week, amount int) error
	// SetOccupant binds occupant to the record unless a different occupant
	// already holds it, in which case it returns ErrAlreadyTaken.
	SetOccupant(ctx context.Context, team string, role Role, week int, occupant string) error

	// Purge deletes every round record.
	Purge(ctx context.Context) error
}

// Observer is told about state changes after they have been committed.
type Observer interface {
	Observe(ctx context.Context, ev Event)
}

type EventKind string

const (
	EventSubmitted EventKind = "submitted"
	EventAdvanced  EventKind = "advanced"
	EventSettings  EventKind = "settings"
	EventShock     EventKind = "shock"
	EventClaimed   EventKind = "claimed"
	EventReset     EventKind = "reset"
)

type Event struct {
	Kind     EventKind      `json:"kind"`
	Team     string         `json:"team,omitempty"`
	Role     Role           `json:"role,omitempty"`
	Week     int            `json:"week,omitempty"`
	Settings *Settings      `json:"settings,omitempty"`
	Result   *AdvanceResult `json:"result,omitempty"`
}
