// Package storetest holds behaviour checks every game.Store implementation
// must pass.
package storetest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"beergame/internal/game"
)

var errAbort = errors.New("abort")

// Run exercises a fresh store returned by open for each subtest.
func Run(t *testing.T, open func(t *testing.T) game.Store) {
	t.Run("settings", func(t *testing.T) { testSettings(t, open(t)) })
	t.Run("records", func(t *testing.T) { testRecords(t, open(t)) })
	t.Run("set order", func(t *testing.T) { testSetOrder(t, open(t)) })
	t.Run("set occupant", func(t *testing.T) { testSetOccupant(t, open(t)) })
	t.Run("rollback", func(t *testing.T) { testRollback(t, open(t)) })
	t.Run("purge", func(t *testing.T) { testPurge(t, open(t)) })
	t.Run("concurrent advance", func(t *testing.T) { testConcurrentAdvance(t, open(t)) })
}

func week(team string, w int) []game.RoundRecord {
	out := make([]game.RoundRecord, 0, len(game.Roles))
	for _, role := range game.Roles {
		r := game.SeedRecord(team, role, game.DefaultInitialInventory)
		r.Week = w
		out = append(out, r)
	}
	return out
}

func mustTx(t *testing.T, s game.Store, fn func(tx game.Tx) error) {
	t.Helper()
	if err := s.InTx(context.Background(), fn); err != nil {
		t.Fatalf("tx: %v", err)
	}
}

func testSettings(t *testing.T, s game.Store) {
	ctx := context.Background()
	var first, saved game.Settings
	mustTx(t, s, func(tx game.Tx) error {
		var err error
		if first, err = tx.Settings(ctx); err != nil {
			return err
		}
		saved, err = tx.SaveSettings(ctx, game.Settings{Demand: 7, Active: true, ShockTriggered: true})
		return err
	})
	if first.Demand != game.DefaultDemand || first.Active {
		t.Fatalf("initial settings = %+v", first)
	}
	if saved.Demand != 7 || !saved.Active || !saved.ShockTriggered || saved.Version <= first.Version {
		t.Fatalf("saved settings = %+v (initial version %d)", saved, first.Version)
	}
	var again game.Settings
	mustTx(t, s, func(tx game.Tx) error {
		var err error
		again, err = tx.Settings(ctx)
		return err
	})
	if again.Demand != 7 || again.Version != saved.Version {
		t.Fatalf("settings not persisted: %+v", again)
	}
}

func testRecords(t *testing.T, s game.Store) {
	ctx := context.Background()
	mustTx(t, s, func(tx game.Tx) error {
		if _, err := tx.LatestWeek(ctx, "A"); !errors.Is(err, game.ErrNotFound) {
			t.Fatalf("latest week on empty store: %v", err)
		}
		if _, err := tx.Latest(ctx, "A", game.Retailer); !errors.Is(err, game.ErrNotFound) {
			t.Fatalf("latest on empty store: %v", err)
		}
		recs, err := tx.WeekRecords(ctx, "A", 1)
		if err != nil || len(recs) != 0 {
			t.Fatalf("week records on empty store: %v, %v", recs, err)
		}
		return nil
	})

	w2 := week("A", 2)
	audit := 6
	name := "ana"
	w2[1].ResolvedOrder = &audit
	w2[1].GhostOrder = true
	w2[1].Occupant = &name
	w2[1].TotalCost = 12.5

	mustTx(t, s, func(tx game.Tx) error {
		n, err := tx.InsertRecords(ctx, append(week("A", 1), w2...))
		if err != nil {
			return err
		}
		if n != 8 {
			t.Fatalf("inserted %d want 8", n)
		}
		n, err = tx.InsertRecords(ctx, week("A", 2))
		if err != nil {
			return err
		}
		if n != 0 {
			t.Fatalf("re-insert inserted %d want 0", n)
		}
		_, err = tx.InsertRecords(ctx, week("B", 1))
		return err
	})

	mustTx(t, s, func(tx game.Tx) error {
		latestWeek, err := tx.LatestWeek(ctx, "A")
		if err != nil || latestWeek != 2 {
			t.Fatalf("latest week %d, %v", latestWeek, err)
		}
		recs, err := tx.WeekRecords(ctx, "A", 2)
		if err != nil {
			return err
		}
		if len(recs) != 4 {
			t.Fatalf("week 2 records = %d", len(recs))
		}
		for i, r := range recs {
			if r.Role != game.Roles[i] {
				t.Fatalf("record %d has role %s", i, r.Role)
			}
		}
		got := recs[1]
		if got.ResolvedOrder == nil || *got.ResolvedOrder != 6 || !got.GhostOrder || got.TotalCost != 12.5 {
			t.Fatalf("audit fields lost: %+v", got)
		}
		if got.Occupant == nil || *got.Occupant != "ana" || got.OrderPlaced != nil {
			t.Fatalf("nullable fields wrong: %+v", got)
		}
		latest, err := tx.Latest(ctx, "A", game.Wholesaler)
		if err != nil || latest.Week != 2 {
			t.Fatalf("latest %+v, %v", latest, err)
		}
		history, err := tx.History(ctx, "A")
		if err != nil {
			return err
		}
		if len(history) != 8 || history[0].Week != 1 || history[7].Week != 2 || history[7].Role != game.Manufacturer {
			t.Fatalf("history order wrong: %d records", len(history))
		}
		return nil
	})
}

func testSetOrder(t *testing.T, s game.Store) {
	ctx := context.Background()
	mustTx(t, s, func(tx game.Tx) error {
		_, err := tx.InsertRecords(ctx, week("A", 1))
		return err
	})
	mustTx(t, s, func(tx game.Tx) error {
		if err := tx.SetOrder(ctx, "A", game.Retailer, 1, 0); err != nil {
			t.Fatalf("set order: %v", err)
		}
		if err := tx.SetOrder(ctx, "A", game.Retailer, 1, 5); !errors.Is(err, game.ErrAlreadySubmitted) {
			t.Fatalf("second set order: %v", err)
		}
		if err := tx.SetOrder(ctx, "A", game.Retailer, 2, 5); !errors.Is(err, game.ErrNotFound) {
			t.Fatalf("missing week: %v", err)
		}
		return nil
	})
	mustTx(t, s, func(tx game.Tx) error {
		r, err := tx.Latest(ctx, "A", game.Retailer)
		if err != nil {
			return err
		}
		if r.OrderPlaced == nil || *r.OrderPlaced != 0 {
			t.Fatalf("order placed = %v", r.OrderPlaced)
		}
		return nil
	})
}

func testSetOccupant(t *testing.T, s game.Store) {
	ctx := context.Background()
	mustTx(t, s, func(tx game.Tx) error {
		_, err := tx.InsertRecords(ctx, week("A", 1))
		return err
	})
	mustTx(t, s, func(tx game.Tx) error {
		if err := tx.SetOccupant(ctx, "A", game.Distributor, 1, "ana"); err != nil {
			t.Fatalf("claim: %v", err)
		}
		if err := tx.SetOccupant(ctx, "A", game.Distributor, 1, "ana"); err != nil {
			t.Fatalf("re-claim: %v", err)
		}
		if err := tx.SetOccupant(ctx, "A", game.Distributor, 1, "ben"); !errors.Is(err, game.ErrAlreadyTaken) {
			t.Fatalf("claim by other: %v", err)
		}
		if err := tx.SetOccupant(ctx, "A", game.Distributor, 3, "ben"); !errors.Is(err, game.ErrNotFound) {
			t.Fatalf("missing week: %v", err)
		}
		return nil
	})
}

func testRollback(t *testing.T, s game.Store) {
	ctx := context.Background()
	err := s.InTx(ctx, func(tx game.Tx) error {
		if _, err := tx.InsertRecords(ctx, week("A", 1)); err != nil {
			return err
		}
		if _, err := tx.SaveSettings(ctx, game.Settings{Demand: 15}); err != nil {
			return err
		}
		return errAbort
	})
	if !errors.Is(err, errAbort) {
		t.Fatalf("expected abort error, got %v", err)
	}
	mustTx(t, s, func(tx game.Tx) error {
		if _, err := tx.LatestWeek(ctx, "A"); !errors.Is(err, game.ErrNotFound) {
			t.Fatalf("records survived rollback: %v", err)
		}
		st, err := tx.Settings(ctx)
		if err != nil {
			return err
		}
		if st.Demand == 15 {
			t.Fatalf("settings survived rollback")
		}
		return nil
	})
}

func testPurge(t *testing.T, s game.Store) {
	ctx := context.Background()
	mustTx(t, s, func(tx game.Tx) error {
		if _, err := tx.InsertRecords(ctx, append(week("A", 1), week("B", 1)...)); err != nil {
			return err
		}
		return tx.Purge(ctx)
	})
	mustTx(t, s, func(tx game.Tx) error {
		for _, team := range []string{"A", "B"} {
			if _, err := tx.LatestWeek(ctx, team); !errors.Is(err, game.ErrNotFound) {
				t.Fatalf("team %s survived purge: %v", team, err)
			}
		}
		return nil
	})
}

func testConcurrentAdvance(t *testing.T, s game.Store) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := game.NewService(s, game.DefaultConfig(), logger)
	if err := svc.ResetGame(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}

	const workers = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		advanced int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := svc.TryAdvance(ctx, "A", 1, true)
			if err != nil {
				t.Errorf("advance: %v", err)
				return
			}
			if res.Status == game.StatusAdvanced {
				mu.Lock()
				advanced++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if advanced != 1 {
		t.Fatalf("advanced %d times", advanced)
	}
	history, err := svc.History(ctx, "A")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 8 {
		t.Fatalf("history has %d records, want 8", len(history))
	}
}
