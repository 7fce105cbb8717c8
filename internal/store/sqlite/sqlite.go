// Package sqlite stores game state in a SQLite file. The connection pool
// holds a single connection and transactions begin IMMEDIATE, so units of
// work never interleave.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"

	"beergame/internal/game"
)

var _ game.Store = (*Store)(nil)

type Store struct {
	db *sqlx.DB
}

func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

func (s *Store) InTx(ctx context.Context, fn func(tx game.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return classify(fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback()
	if err := fn(&sqliteTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return classify(fmt.Errorf("commit tx: %w", err))
	}
	return nil
}

type recordRow struct {
	Team             string         `db:"team"`
	Role             string         `db:"role"`
	Week             int            `db:"week"`
	Inventory        int            `db:"inventory"`
	Backlog          int            `db:"backlog"`
	OrderPlaced      sql.NullInt64  `db:"order_placed"`
	TotalCost        float64        `db:"total_cost"`
	Occupant         sql.NullString `db:"occupant"`
	Shipped          int            `db:"shipped"`
	DemandIn         int            `db:"demand_in"`
	IncomingDelivery int            `db:"incoming_delivery"`
	ResolvedOrder    sql.NullInt64  `db:"resolved_order"`
	GhostOrder       bool           `db:"ghost_order"`
	CreatedAt        time.Time      `db:"created_at"`
}

func toRow(r game.RoundRecord) recordRow {
	row := recordRow{
		Team:             r.Team,
		Role:             r.Role.String(),
		Week:             r.Week,
		Inventory:        r.Inventory,
		Backlog:          r.Backlog,
		TotalCost:        r.TotalCost,
		Shipped:          r.Shipped,
		DemandIn:         r.DemandIn,
		IncomingDelivery: r.IncomingDelivery,
		GhostOrder:       r.GhostOrder,
		CreatedAt:        r.CreatedAt,
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	if r.OrderPlaced != nil {
		row.OrderPlaced = sql.NullInt64{Int64: int64(*r.OrderPlaced), Valid: true}
	}
	if r.ResolvedOrder != nil {
		row.ResolvedOrder = sql.NullInt64{Int64: int64(*r.ResolvedOrder), Valid: true}
	}
	if r.Occupant != nil {
		row.Occupant = sql.NullString{String: *r.Occupant, Valid: true}
	}
	return row
}

func (row recordRow) record() (game.RoundRecord, error) {
	role, err := game.ParseRole(row.Role)
	if err != nil {
		return game.RoundRecord{}, err
	}
	r := game.RoundRecord{
		Team:             row.Team,
		Role:             role,
		Week:             row.Week,
		Inventory:        row.Inventory,
		Backlog:          row.Backlog,
		TotalCost:        row.TotalCost,
		Shipped:          row.Shipped,
		DemandIn:         row.DemandIn,
		IncomingDelivery: row.IncomingDelivery,
		GhostOrder:       row.GhostOrder,
		CreatedAt:        row.CreatedAt,
	}
	if row.OrderPlaced.Valid {
		v := int(row.OrderPlaced.Int64)
		r.OrderPlaced = &v
	}
	if row.ResolvedOrder.Valid {
		v := int(row.ResolvedOrder.Int64)
		r.ResolvedOrder = &v
	}
	if row.Occupant.Valid {
		v := row.Occupant.String
		r.Occupant = &v
	}
	return r, nil
}

type settingsRow struct {
	Demand         int       `db:"demand"`
	Active         bool      `db:"active"`
	ShockTriggered bool      `db:"shock_triggered"`
	Version        int64     `db:"version"`
	UpdatedAt      time.Time `db:"updated_at"`
}

type sqliteTx struct {
	tx *sqlx.Tx
}

func (t *sqliteTx) Settings(ctx context.Context) (game.Settings, error) {
	var row settingsRow
	err := t.tx.GetContext(ctx, &row, `
		SELECT demand, active, shock_triggered, version, updated_at
		FROM game_settings
		WHERE id = 1
	`)
	if errors.Is(err, sql.ErrNoRows) {
		return game.Settings{}, fmt.Errorf("%w: game settings", game.ErrNotFound)
	}
	if err != nil {
		return game.Settings{}, err
	}
	return game.Settings(row), nil
}

func (t *sqliteTx) SaveSettings(ctx context.Context, s game.Settings) (game.Settings, error) {
	now := time.Now().UTC()
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO game_settings (id, demand, active, shock_triggered, version, updated_at)
		VALUES (1, ?, ?, ?, 1, ?)
		ON CONFLICT (id) DO UPDATE
		SET demand = excluded.demand,
		    active = excluded.active,
		    shock_triggered = excluded.shock_triggered,
		    version = game_settings.version + 1,
		    updated_at = excluded.updated_at
	`, s.Demand, s.Active, s.ShockTriggered, now)
	if err != nil {
		return game.Settings{}, err
	}
	return t.Settings(ctx)
}

func (t *sqliteTx) selectRecords(ctx context.Context, query string, args ...any) ([]game.RoundRecord, error) {
	var rows []recordRow
	if err := t.tx.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	out := make([]game.RoundRecord, 0, len(rows))
	for _, row := range rows {
		r, err := row.record()
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Week != out[j].Week {
			return out[i].Week < out[j].Week
		}
		return out[i].Role < out[j].Role
	})
	return out, nil
}

func (t *sqliteTx) WeekRecords(ctx context.Context, team string, week int) ([]game.RoundRecord, error) {
	return t.selectRecords(ctx, `SELECT * FROM round_records WHERE team = ? AND week = ?`, team, week)
}

func (t *sqliteTx) LatestWeek(ctx context.Context, team string) (int, error) {
	var week sql.NullInt64
	if err := t.tx.GetContext(ctx, &week, `SELECT MAX(week) FROM round_records WHERE team = ?`, team); err != nil {
		return 0, err
	}
	if !week.Valid {
		return 0, fmt.Errorf("%w: team %s has no records", game.ErrNotFound, team)
	}
	return int(week.Int64), nil
}

func (t *sqliteTx) Latest(ctx context.Context, team string, role game.Role) (game.RoundRecord, error) {
	out, err := t.selectRecords(ctx, `
		SELECT * FROM round_records
		WHERE team = ? AND role = ?
		ORDER BY week DESC
		LIMIT 1
	`, team, role.String())
	if err != nil {
		return game.RoundRecord{}, err
	}
	if len(out) == 0 {
		return game.RoundRecord{}, fmt.Errorf("%w: %s/%s", game.ErrNotFound, team, role)
	}
	return out[0], nil
}

func (t *sqliteTx) History(ctx context.Context, team string) ([]game.RoundRecord, error) {
	return t.selectRecords(ctx, `SELECT * FROM round_records WHERE team = ? ORDER BY week`, team)
}

func (t *sqliteTx) InsertRecords(ctx context.Context, records []game.RoundRecord) (int, error) {
	inserted := 0
	for _, r := range records {
		res, err := t.tx.NamedExecContext(ctx, `
			INSERT INTO round_records (
				team, role, week, inventory, backlog, order_placed, total_cost, occupant,
				shipped, demand_in, incoming_delivery, resolved_order, ghost_order, created_at
			) VALUES (
				:team, :role, :week, :inventory, :backlog, :order_placed, :total_cost, :occupant,
				:shipped, :demand_in, :incoming_delivery, :resolved_order, :ghost_order, :created_at
			)
			ON CONFLICT (team, role, week) DO NOTHING
		`, toRow(r))
		if err != nil {
			return inserted, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return inserted, err
		}
		inserted += int(n)
	}
	return inserted, nil
}

func (t *sqliteTx) SetOrder(ctx context.Context, team string, role game.Role, week, amount int) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE round_records
		SET order_placed = ?
		WHERE team = ? AND role = ? AND week = ? AND order_placed IS NULL
	`, amount, team, role.String(), week)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 1 {
		return nil
	}
	exists, err := t.exists(ctx, team, role, week)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %s/%s week %d", game.ErrNotFound, team, role, week)
	}
	return game.ErrAlreadySubmitted
}

func (t *sqliteTx) SetOccupant(ctx context.Context, team string, role game.Role, week int, occupant string) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE round_records
		SET occupant = ?
		WHERE team = ? AND role = ? AND week = ? AND (occupant IS NULL OR occupant = ?)
	`, occupant, team, role.String(), week, occupant)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 1 {
		return nil
	}
	exists, err := t.exists(ctx, team, role, week)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %s/%s week %d", game.ErrNotFound, team, role, week)
	}
	return game.ErrAlreadyTaken
}

func (t *sqliteTx) Purge(ctx context.Context) error {
	_, err := t.tx.ExecContext(ctx, `DELETE FROM round_records`)
	return err
}

func (t *sqliteTx) exists(ctx context.Context, team string, role game.Role, week int) (bool, error) {
	var n int
	err := t.tx.GetContext(ctx, &n, `
		SELECT COUNT(1) FROM round_records WHERE team = ? AND role = ? AND week = ?
	`, team, role.String(), week)
	return n > 0, err
}

func classify(err error) error {
	if errors.Is(err, sql.ErrConnDone) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", game.ErrStoreUnavailable, err)
	}
	return err
}
