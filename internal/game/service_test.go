package game_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"beergame/internal/game"
	"beergame/internal/store/memory"
)

type recorder struct {
	mu     sync.Mutex
	events []game.Event
}

func (r *recorder) Observe(_ context.Context, ev game.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) count(kind game.EventKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

func newTestService(t *testing.T, mutate func(*game.Config)) (*game.Service, *recorder) {
	t.Helper()
	cfg := game.DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	rec := &recorder{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := game.NewService(memory.New(), cfg, logger, rec)
	ctx := context.Background()
	if err := svc.EnsureSeeded(ctx); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := svc.SetActive(ctx, true); err != nil {
		t.Fatalf("activate: %v", err)
	}
	return svc, rec
}

func TestTryAdvanceNotReadyWritesNothing(t *testing.T) {
	ctx := context.Background()
	svc, rec := newTestService(t, nil)

	for _, role := range game.Roles[:3] {
		if err := svc.SubmitOrder(ctx, "A", role, 1, 4); err != nil {
			t.Fatalf("submit %s: %v", role, err)
		}
	}
	res, err := svc.TryAdvance(ctx, "A", 1, false)
	if err != nil {
		t.Fatalf("try advance: %v", err)
	}
	if res.Status != game.StatusNotReady || len(res.Records) != 0 {
		t.Fatalf("got %+v", res)
	}
	week, err := svc.LatestWeek(ctx, "A")
	if err != nil || week != 1 {
		t.Fatalf("latest week = %d, %v", week, err)
	}
	if rec.count(game.EventAdvanced) != 0 {
		t.Fatalf("no advance event expected")
	}
}

func TestPlaceOrderAdvancesWhenAllSubmitted(t *testing.T) {
	ctx := context.Background()
	svc, rec := newTestService(t, nil)

	var last game.AdvanceResult
	for _, role := range game.Roles {
		res, err := svc.PlaceOrder(ctx, "B", role, 5)
		if err != nil {
			t.Fatalf("place %s: %v", role, err)
		}
		last = res
	}
	if last.Status != game.StatusAdvanced || len(last.Records) != 4 {
		t.Fatalf("last place = %+v", last)
	}
	for _, r := range last.Records {
		if r.Week != 2 || r.GhostOrder || r.OrderPlaced != nil {
			t.Fatalf("week 2 record = %+v", r)
		}
	}
	retailer := last.Records[0]
	// Demand 4 against inventory 12, pipeline default 4 arrives.
	if retailer.Shipped != 4 || retailer.Inventory != 12 || retailer.TotalCost != 6 {
		t.Fatalf("retailer = %+v", retailer)
	}

	again, err := svc.TryAdvance(ctx, "B", 1, false)
	if err != nil {
		t.Fatalf("second advance: %v", err)
	}
	if again.Status != game.StatusAlreadyAdvanced || len(again.Records) != 4 {
		t.Fatalf("second advance = %+v", again)
	}
	if rec.count(game.EventAdvanced) != 1 {
		t.Fatalf("advanced events = %d", rec.count(game.EventAdvanced))
	}
	if week, _ := svc.LatestWeek(ctx, "A"); week != 1 {
		t.Fatalf("team A must not move, week %d", week)
	}
}

func TestSubmitOrderErrors(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, nil)

	if err := svc.SubmitOrder(ctx, "A", game.Retailer, 1, 3); err != nil {
		t.Fatalf("submit: %v", err)
	}
	tests := []struct {
		name   string
		team   string
		role   game.Role
		week   int
		amount int
		want   error
	}{
		{name: "duplicate", team: "A", role: game.Retailer, week: 1, amount: 5, want: game.ErrAlreadySubmitted},
		{name: "future week", team: "A", role: game.Wholesaler, week: 2, amount: 5, want: game.ErrNotFound},
		{name: "unknown team", team: "Z", role: game.Wholesaler, week: 1, amount: 5, want: game.ErrNotFound},
		{name: "negative", team: "A", role: game.Wholesaler, week: 1, amount: -1, want: game.ErrInvalidInput},
		{name: "bad role", team: "A", role: game.Role(9), week: 1, amount: 1, want: game.ErrInvalidInput},
	}
	for _, tc := range tests {
		err := svc.SubmitOrder(ctx, tc.team, tc.role, tc.week, tc.amount)
		if !errors.Is(err, tc.want) {
			t.Fatalf("%s: got %v want %v", tc.name, err, tc.want)
		}
	}

	latest, err := svc.GetLatest(ctx, "A", game.Retailer)
	if err != nil {
		t.Fatalf("get latest: %v", err)
	}
	if latest.OrderPlaced == nil || *latest.OrderPlaced != 3 {
		t.Fatalf("duplicate submit overwrote order: %v", latest.OrderPlaced)
	}

	if _, err := svc.AdvanceTeam(ctx, "A"); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if err := svc.SubmitOrder(ctx, "A", game.Wholesaler, 1, 2); !errors.Is(err, game.ErrRoundClosed) {
		t.Fatalf("closed round: got %v", err)
	}

	if _, err := svc.SetActive(ctx, false); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if err := svc.SubmitOrder(ctx, "A", game.Wholesaler, 2, 2); !errors.Is(err, game.ErrGameInactive) {
		t.Fatalf("inactive: got %v", err)
	}
}

func TestForcedAdvanceSubstitutesGhostOrders(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, nil)

	if _, err := svc.SetDemand(ctx, 6); err != nil {
		t.Fatalf("set demand: %v", err)
	}
	if err := svc.SubmitOrder(ctx, "C", game.Retailer, 1, 9); err != nil {
		t.Fatalf("submit: %v", err)
	}
	res, err := svc.TryAdvance(ctx, "C", 1, true)
	if err != nil {
		t.Fatalf("forced advance: %v", err)
	}
	if res.Status != game.StatusAdvanced || !res.Forced || res.Demand != 6 {
		t.Fatalf("forced advance = %+v", res)
	}
	for _, r := range res.Records {
		wantGhost := r.Role != game.Retailer
		if r.GhostOrder != wantGhost {
			t.Fatalf("%s ghost=%v", r.Role, r.GhostOrder)
		}
		if wantGhost && *r.ResolvedOrder != 6 {
			t.Fatalf("%s ghost order %d want 6", r.Role, *r.ResolvedOrder)
		}
	}
	// The Wholesaler fills the Retailer's real order of 9.
	if res.Records[1].DemandIn != 9 {
		t.Fatalf("wholesaler demand_in %d", res.Records[1].DemandIn)
	}

	history, err := svc.History(ctx, "C")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	for _, r := range history {
		if r.Week == 1 && r.Role != game.Retailer && r.OrderPlaced != nil {
			t.Fatalf("week 1 %s order back-filled with %d", r.Role, *r.OrderPlaced)
		}
	}
}

func TestRandomGhostPolicyStaysInRange(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, func(c *game.Config) {
		c.Ghost = game.GhostRandom
		c.GhostMin, c.GhostMax = 3, 7
	})
	for week := 1; week <= 10; week++ {
		res, err := svc.AdvanceTeam(ctx, "A")
		if err != nil {
			t.Fatalf("week %d: %v", week, err)
		}
		for _, r := range res.Records {
			if v := *r.ResolvedOrder; v < 3 || v > 7 {
				t.Fatalf("ghost order %d out of range", v)
			}
		}
	}
}

func TestConcurrentForcedAdvanceResolvesOnce(t *testing.T) {
	ctx := context.Background()
	svc, rec := newTestService(t, nil)

	const workers = 16
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		advanced int
		already  int
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
			mu.Lock()
			defer mu.Unlock()
			switch res.Status {
			case game.StatusAdvanced:
				advanced++
			case game.StatusAlreadyAdvanced:
				already++
			}
		}()
	}
	wg.Wait()

	if advanced != 1 || already != workers-1 {
		t.Fatalf("advanced=%d already=%d", advanced, already)
	}
	history, err := svc.History(ctx, "A")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 8 {
		t.Fatalf("expected 8 records (weeks 1 and 2), got %d", len(history))
	}
	if rec.count(game.EventAdvanced) != 1 {
		t.Fatalf("advanced events = %d", rec.count(game.EventAdvanced))
	}
}

func TestDemandShock(t *testing.T) {
	ctx := context.Background()
	svc, rec := newTestService(t, nil)

	if _, err := svc.SetDemand(ctx, 3); err != nil {
		t.Fatalf("set demand: %v", err)
	}
	for week := 1; week <= 4; week++ {
		res, err := svc.AdvanceTeam(ctx, "A")
		if err != nil {
			t.Fatalf("week %d: %v", week, err)
		}
		if res.Demand != 3 {
			t.Fatalf("week %d demand %d want 3", week, res.Demand)
		}
	}
	res, err := svc.AdvanceTeam(ctx, "A")
	if err != nil {
		t.Fatalf("week 5: %v", err)
	}
	if res.Week != 5 || res.Demand != 8 {
		t.Fatalf("week 5 = %+v", res)
	}
	settings, err := svc.GetSettings(ctx)
	if err != nil {
		t.Fatalf("settings: %v", err)
	}
	if settings.Demand != 8 || !settings.ShockTriggered {
		t.Fatalf("settings after shock = %+v", settings)
	}
	if rec.count(game.EventShock) != 1 {
		t.Fatalf("shock events = %d", rec.count(game.EventShock))
	}

	// The shock locks the demand; team B is still at week 1.
	events := rec.count(game.EventSettings)
	if _, err := svc.SetDemand(ctx, 2); !errors.Is(err, game.ErrShockLocked) {
		t.Fatalf("set demand after shock: %v", err)
	}
	if settings, err = svc.GetSettings(ctx); err != nil || settings.Demand != 8 {
		t.Fatalf("settings after rejected demand = %+v, %v", settings, err)
	}
	if rec.count(game.EventSettings) != events {
		t.Fatalf("rejected demand change should not publish settings")
	}
	res, err = svc.AdvanceTeam(ctx, "B")
	if err != nil {
		t.Fatalf("team B: %v", err)
	}
	if res.Demand != 8 {
		t.Fatalf("shock should be sticky, demand %d", res.Demand)
	}
}

func TestResetGame(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, nil)

	if err := svc.ClaimRole(ctx, "A", game.Retailer, "ana"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := svc.SetDemand(ctx, 11); err != nil {
		t.Fatalf("set demand: %v", err)
	}
	for i := 0; i < 6; i++ {
		if _, err := svc.AdvanceAll(ctx); err != nil {
			t.Fatalf("advance all: %v", err)
		}
	}

	for round := 0; round < 2; round++ {
		if err := svc.ResetGame(ctx); err != nil {
			t.Fatalf("reset: %v", err)
		}
		for _, team := range svc.Config().Teams {
			for _, role := range game.Roles {
				r, err := svc.GetLatest(ctx, team, role)
				if err != nil {
					t.Fatalf("latest %s/%s: %v", team, role, err)
				}
				if r.Week != 1 || r.Inventory != 12 || r.Backlog != 0 || r.TotalCost != 0 || r.OrderPlaced != nil || r.Occupant != nil {
					t.Fatalf("after reset %s/%s = %+v", team, role, r)
				}
			}
		}
		settings, err := svc.GetSettings(ctx)
		if err != nil {
			t.Fatalf("settings: %v", err)
		}
		if settings.Active || settings.Demand != 4 || settings.ShockTriggered {
			t.Fatalf("settings after reset = %+v", settings)
		}
	}
}

func TestClaimRole(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, nil)

	if err := svc.ClaimRole(ctx, "A", game.Distributor, "ana"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := svc.ClaimRole(ctx, "A", game.Distributor, "ana"); err != nil {
		t.Fatalf("re-claim by holder: %v", err)
	}
	if err := svc.ClaimRole(ctx, "A", game.Distributor, "ben"); !errors.Is(err, game.ErrAlreadyTaken) {
		t.Fatalf("claim by other: %v", err)
	}
	if err := svc.ClaimRole(ctx, "A", game.Wholesaler, "  "); !errors.Is(err, game.ErrInvalidInput) {
		t.Fatalf("empty occupant: %v", err)
	}

	if _, err := svc.AdvanceTeam(ctx, "A"); err != nil {
		t.Fatalf("advance: %v", err)
	}
	r, err := svc.GetLatest(ctx, "A", game.Distributor)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if r.Week != 2 || r.Occupant == nil || *r.Occupant != "ana" {
		t.Fatalf("occupant not carried forward: %+v", r)
	}
	if err := svc.ClaimRole(ctx, "A", game.Distributor, "ben"); !errors.Is(err, game.ErrAlreadyTaken) {
		t.Fatalf("seat should stay taken after advance: %v", err)
	}
}

func TestProgress(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, nil)

	if err := svc.SubmitOrder(ctx, "B", game.Wholesaler, 1, 4); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := svc.AdvanceTeam(ctx, "C"); err != nil {
		t.Fatalf("advance: %v", err)
	}
	progress, err := svc.Progress(ctx)
	if err != nil {
		t.Fatalf("progress: %v", err)
	}
	if len(progress) != 3 {
		t.Fatalf("progress = %+v", progress)
	}
	want := map[string]struct {
		week      int
		submitted int
	}{"A": {1, 0}, "B": {1, 1}, "C": {2, 0}}
	for _, p := range progress {
		w := want[p.Team]
		if p.Week != w.week || len(p.Submitted) != w.submitted {
			t.Fatalf("team %s progress = %+v", p.Team, p)
		}
	}
}

func TestSetDemandRange(t *testing.T) {
	ctx := context.Background()
	svc, rec := newTestService(t, nil)

	for _, v := range []int{-1, 21} {
		if _, err := svc.SetDemand(ctx, v); !errors.Is(err, game.ErrInvalidInput) {
			t.Fatalf("demand %d: %v", v, err)
		}
	}
	before := rec.count(game.EventSettings)
	s, err := svc.SetDemand(ctx, 20)
	if err != nil {
		t.Fatalf("set demand: %v", err)
	}
	if s.Demand != 20 || rec.count(game.EventSettings) != before+1 {
		t.Fatalf("settings = %+v", s)
	}
	toggled, err := svc.ToggleActive(ctx)
	if err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if toggled.Active || toggled.Version <= s.Version {
		t.Fatalf("toggle = %+v (previous version %d)", toggled, s.Version)
	}
}

func TestTryAdvanceUnknownWeek(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, nil)

	if _, err := svc.TryAdvance(ctx, "A", 3, true); !errors.Is(err, game.ErrNotFound) {
		t.Fatalf("missing week: %v", err)
	}
	if _, err := svc.TryAdvance(ctx, "A", 0, true); !errors.Is(err, game.ErrInvalidInput) {
		t.Fatalf("week 0: %v", err)
	}
}

func TestSetDemandAfterResetUnlocksShock(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, func(c *game.Config) { c.ShockWeek = 1 })

	if _, err := svc.AdvanceTeam(ctx, "A"); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if _, err := svc.SetDemand(ctx, 3); !errors.Is(err, game.ErrShockLocked) {
		t.Fatalf("set demand during shock: %v", err)
	}
	if err := svc.ResetGame(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}
	s, err := svc.SetDemand(ctx, 3)
	if err != nil || s.Demand != 3 || s.ShockTriggered {
		t.Fatalf("set demand after reset = %+v, %v", s, err)
	}
}

func TestTwoWeekPipelineIgnoresSubstituteOrders(t *testing.T) {
	tests := []struct {
		name      string
		fromGhost bool
		want      int
	}{
		{name: "pipeline default", want: game.DefaultPipelineOrder},
		{name: "substitute order", fromGhost: true, want: 7},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			svc, _ := newTestService(t, func(c *game.Config) {
				c.Ghost = game.GhostRandom
				c.GhostMin, c.GhostMax = 7, 7
				c.PipelineFromGhost = tc.fromGhost
			})
			for week := 1; week <= 2; week++ {
				if _, err := svc.AdvanceTeam(ctx, "A"); err != nil {
					t.Fatalf("week %d: %v", week, err)
				}
			}
			history, err := svc.History(ctx, "A")
			if err != nil {
				t.Fatalf("history: %v", err)
			}
			for _, r := range history {
				if r.Week == 1 && r.OrderPlaced != nil {
					t.Fatalf("week 1 %s order should stay unsubmitted", r.Role)
				}
				if r.Week == 3 && r.IncomingDelivery != tc.want {
					t.Fatalf("week 3 %s incoming %d want %d", r.Role, r.IncomingDelivery, tc.want)
				}
			}
		})
	}
}

// conflictAfterOrder fails the unit of work that follows every stored order.
type conflictAfterOrder struct {
	game.Store
	mu    sync.Mutex
	armed bool
}

func (s *conflictAfterOrder) InTx(ctx context.Context, fn func(tx game.Tx) error) error {
	s.mu.Lock()
	if s.armed {
		s.armed = false
		s.mu.Unlock()
		return game.ErrTxConflict
	}
	s.mu.Unlock()

	ordered := false
	err := s.Store.InTx(ctx, func(tx game.Tx) error {
		return fn(orderSpy{Tx: tx, ordered: &ordered})
	})
	if err == nil && ordered {
		s.mu.Lock()
		s.armed = true
		s.mu.Unlock()
	}
	return err
}

type orderSpy struct {
	game.Tx
	ordered *bool
}

func (o orderSpy) SetOrder(ctx context.Context, team string, role game.Role, week, amount int) error {
	err := o.Tx.SetOrder(ctx, team, role, week, amount)
	if err == nil {
		*o.ordered = true
	}
	return err
}

func TestPlaceOrderKeepsStoredOrderWhenAdvanceFails(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := game.NewService(&conflictAfterOrder{Store: memory.New()}, game.DefaultConfig(), logger)
	if err := svc.EnsureSeeded(ctx); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := svc.SetActive(ctx, true); err != nil {
		t.Fatalf("activate: %v", err)
	}

	for _, role := range game.Roles {
		res, err := svc.PlaceOrder(ctx, "A", role, 4)
		if err != nil {
			t.Fatalf("%s: %v", role, err)
		}
		if res.Status != game.StatusNotReady || res.Week != 1 {
			t.Fatalf("%s result = %+v", role, res)
		}
	}
	// The last order is stored; replaying it is rejected as a duplicate.
	if _, err := svc.PlaceOrder(ctx, "A", game.Manufacturer, 4); !errors.Is(err, game.ErrAlreadySubmitted) {
		t.Fatalf("replayed order: %v", err)
	}
	res, err := svc.TryAdvance(ctx, "A", 1, false)
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if res.Status != game.StatusAdvanced {
		t.Fatalf("advance = %+v", res)
	}
}
