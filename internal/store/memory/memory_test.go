package memory

import (
	"context"
	"testing"

	"beergame/internal/game"
	"beergame/internal/store/storetest"
)

func TestStore(t *testing.T) {
	storetest.Run(t, func(*testing.T) game.Store { return New() })
}

func TestReturnedRecordsAreCopies(t *testing.T) {
	ctx := context.Background()
	s := New()
	name := "ana"
	seed := game.SeedRecord("A", game.Retailer, 12)
	seed.Occupant = &name
	err := s.InTx(ctx, func(tx game.Tx) error {
		_, err := tx.InsertRecords(ctx, []game.RoundRecord{seed})
		return err
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	name = "mallory"

	err = s.InTx(ctx, func(tx game.Tx) error {
		r, err := tx.Latest(ctx, "A", game.Retailer)
		if err != nil {
			return err
		}
		if *r.Occupant != "ana" {
			t.Fatalf("stored record aliased caller memory: %s", *r.Occupant)
		}
		*r.Occupant = "eve"
		return nil
	})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	err = s.InTx(ctx, func(tx game.Tx) error {
		r, err := tx.Latest(ctx, "A", game.Retailer)
		if err != nil {
			return err
		}
		if *r.Occupant != "ana" {
			t.Fatalf("returned record aliased store memory: %s", *r.Occupant)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
}

func TestCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	err := New().InTx(ctx, func(game.Tx) error {
		called = true
		return nil
	})
	if err == nil || called {
		t.Fatalf("expected canceled unit to be skipped, err=%v called=%v", err, called)
	}
}
