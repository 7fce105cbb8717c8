// Package postgres stores game state in Postgres. Every unit of work runs
// at serializable isolation and is retried on serialization failures.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"beergame/internal/game"
)

var _ game.Store = (*Store)(nil)

const recordColumns = `team, role, week, inventory, backlog, order_placed, total_cost, occupant,
	shipped, demand_in, incoming_delivery, resolved_order, ghost_order, created_at`

type Store struct {
	db  *pgxpool.Pool
	log *slog.Logger
}

func New(db *pgxpool.Pool, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, log: logger}
}

func (s *Store) InTx(ctx context.Context, fn func(tx game.Tx) error) error {
	const maxAttempts = 8
	retryDelay := 50 * time.Millisecond
	for attempt := 0; attempt < maxAttempts; attempt++ {
		err := s.runOnce(ctx, fn)
		if err == nil {
			return nil
		}
		if !isSerializationError(err) {
			return classify(err)
		}
		s.log.Debug("serialization conflict, retrying", "attempt", attempt+1)
		if attempt == maxAttempts-1 {
			break
		}
		if err := sleepWithContext(ctx, retryDelay); err != nil {
			return err
		}
		if retryDelay < 800*time.Millisecond {
			retryDelay *= 2
		}
	}
	return game.ErrTxConflict
}

func (s *Store) runOnce(ctx context.Context, fn func(tx game.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) Settings(ctx context.Context) (game.Settings, error) {
	var out game.Settings
	err := t.tx.QueryRow(ctx, `
		SELECT demand, active, shock_triggered, version, updated_at
		FROM game_settings
		WHERE id = 1
	`).Scan(&out.Demand, &out.Active, &out.ShockTriggered, &out.Version, &out.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return out, fmt.Errorf("%w: game settings", game.ErrNotFound)
	}
	return out, err
}

func (t *pgTx) SaveSettings(ctx context.Context, s game.Settings) (game.Settings, error) {
	err := t.tx.QueryRow(ctx, `
		INSERT INTO game_settings (id, demand, active, shock_triggered, version, updated_at)
		VALUES (1, $1, $2, $3, 1, now())
		ON CONFLICT (id) DO UPDATE
		SET demand = EXCLUDED.demand,
		    active = EXCLUDED.active,
		    shock_triggered = EXCLUDED.shock_triggered,
		    version = game_settings.version + 1,
		    updated_at = now()
		RETURNING version, updated_at
	`, s.Demand, s.Active, s.ShockTriggered).Scan(&s.Version, &s.UpdatedAt)
	return s, err
}

func (t *pgTx) WeekRecords(ctx context.Context, team string, week int) ([]game.RoundRecord, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT `+recordColumns+`
		FROM round_records
		WHERE team = $1 AND week = $2
		FOR UPDATE
	`, team, week)
	if err != nil {
		return nil, err
	}
	return collectRecords(rows)
}

func (t *pgTx) LatestWeek(ctx context.Context, team string) (int, error) {
	var week *int
	if err := t.tx.QueryRow(ctx, `SELECT MAX(week) FROM round_records WHERE team = $1`, team).Scan(&week); err != nil {
		return 0, err
	}
	if week == nil {
		return 0, fmt.Errorf("%w: team %s has no records", game.ErrNotFound, team)
	}
	return *week, nil
}

func (t *pgTx) Latest(ctx context.Context, team string, role game.Role) (game.RoundRecord, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT `+recordColumns+`
		FROM round_records
		WHERE team = $1 AND role = $2
		ORDER BY week DESC
		LIMIT 1
	`, team, role.String())
	if err != nil {
		return game.RoundRecord{}, err
	}
	out, err := collectRecords(rows)
	if err != nil {
		return game.RoundRecord{}, err
	}
	if len(out) == 0 {
		return game.RoundRecord{}, fmt.Errorf("%w: %s/%s", game.ErrNotFound, team, role)
	}
	return out[0], nil
}

func (t *pgTx) History(ctx context.Context, team string) ([]game.RoundRecord, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT `+recordColumns+`
		FROM round_records
		WHERE team = $1
		ORDER BY week
	`, team)
	if err != nil {
		return nil, err
	}
	return collectRecords(rows)
}

func (t *pgTx) InsertRecords(ctx context.Context, records []game.RoundRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	batch := &pgx.Batch{}
	for _, r := range records {
		createdAt := r.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		batch.Queue(`
			INSERT INTO round_records (`+recordColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
			ON CONFLICT (team, role, week) DO NOTHING
		`, r.Team, r.Role.String(), r.Week, r.Inventory, r.Backlog, r.OrderPlaced, r.TotalCost, r.Occupant,
			r.Shipped, r.DemandIn, r.IncomingDelivery, r.ResolvedOrder, r.GhostOrder, createdAt)
	}
	br := t.tx.SendBatch(ctx, batch)
	inserted := 0
	for range records {
		cmd, err := br.Exec()
		if err != nil {
			_ = br.Close()
			return inserted, err
		}
		inserted += int(cmd.RowsAffected())
	}
	return inserted, br.Close()
}

func (t *pgTx) SetOrder(ctx context.Context, team string, role game.Role, week, amount int) error {
	cmd, err := t.tx.Exec(ctx, `
		UPDATE round_records
		SET order_placed = $4
		WHERE team = $1 AND role = $2 AND week = $3 AND order_placed IS NULL
	`, team, role.String(), week, amount)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 1 {
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

func (t *pgTx) SetOccupant(ctx context.Context, team string, role game.Role, week int, occupant string) error {
	cmd, err := t.tx.Exec(ctx, `
		UPDATE round_records
		SET occupant = $4
		WHERE team = $1 AND role = $2 AND week = $3 AND (occupant IS NULL OR occupant = $4)
	`, team, role.String(), week, occupant)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 1 {
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

func (t *pgTx) Purge(ctx context.Context) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM round_records`)
	return err
}

func (t *pgTx) exists(ctx context.Context, team string, role game.Role, week int) (bool, error) {
	var ok bool
	err := t.tx.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM round_records WHERE team = $1 AND role = $2 AND week = $3)
	`, team, role.String(), week).Scan(&ok)
	return ok, err
}

func collectRecords(rows pgx.Rows) ([]game.RoundRecord, error) {
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (game.RoundRecord, error) {
		var (
			r    game.RoundRecord
			role string
		)
		err := row.Scan(&r.Team, &role, &r.Week, &r.Inventory, &r.Backlog, &r.OrderPlaced, &r.TotalCost, &r.Occupant,
			&r.Shipped, &r.DemandIn, &r.IncomingDelivery, &r.ResolvedOrder, &r.GhostOrder, &r.CreatedAt)
		if err != nil {
			return r, err
		}
		r.Role, err = game.ParseRole(role)
		return r, err
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Week != out[j].Week {
			return out[i].Week < out[j].Week
		}
		return out[i].Role < out[j].Role
	})
	return out, nil
}

func isSerializationError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && (pgErr.Code == "40001" || pgErr.Code == "40P01")
}

// classify marks connectivity failures as ErrStoreUnavailable and passes
// everything else through.
func classify(err error) error {
	var connectErr *pgconn.ConnectError
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.As(err, &connectErr), pgconn.Timeout(err):
		return fmt.Errorf("%w: %v", game.ErrStoreUnavailable, err)
	}
	return err
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
