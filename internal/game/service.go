package game

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	mathrand "math/rand"
	"strings"
	"sync"
	"time"
)

type Service struct {
	store     Store
	cfg       Config
	log       *slog.Logger
	observers []Observer
	now       func() time.Time

	mu   sync.Mutex
	rand *mathrand.Rand
}

func NewService(store Store, cfg Config, logger *slog.Logger, observers ...Observer) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:     store,
		cfg:       cfg,
		log:       logger,
		observers: observers,
		now:       func() time.Time { return time.Now().UTC() },
		rand:      mathrand.New(mathrand.NewSource(time.Now().UnixNano())),
	}
}

// AddObserver registers o for events committed after the call.
func (s *Service) AddObserver(o Observer) {
	s.observers = append(s.observers, o)
}

func (s *Service) Config() Config {
	return s.cfg
}

// SubmitOrder records a role's order for the team's current week. The order
// can be set once.
func (s *Service) SubmitOrder(ctx context.Context, team string, role Role, week, amount int) error {
	if err := s.checkTeamRole(team, role); err != nil {
		return err
	}
	if err := ValidateOrder(amount); err != nil {
		return err
	}
	err := s.store.InTx(ctx, func(tx Tx) error {
		settings, err := tx.Settings(ctx)
		if err != nil {
			return err
		}
		if !settings.Active {
			return ErrGameInactive
		}
		latest, err := tx.LatestWeek(ctx, team)
		if err != nil {
			return err
		}
		switch {
		case week > latest:
			return fmt.Errorf("%w: team %s has no week %d", ErrNotFound, team, week)
		case week < latest:
			return fmt.Errorf("%w: team %s is at week %d", ErrRoundClosed, team, latest)
		}
		return tx.SetOrder(ctx, team, role, week, amount)
	})
	if err != nil {
		return err
	}
	s.log.Info("order submitted", "team", team, "role", role.String(), "week", week, "amount", amount)
	s.notify(ctx, Event{Kind: EventSubmitted, Team: team, Role: role, Week: week})
	return nil
}

// PlaceOrder is the submission gateway: it submits for the team's current
// week and then tries to resolve the round.
func (s *Service) PlaceOrder(ctx context.Context, team string, role Role, amount int) (AdvanceResult, error) {
	latest, err := s.GetLatest(ctx, team, role)
	if err != nil {
		return AdvanceResult{}, err
	}
	return s.SubmitAndAdvance(ctx, team, role, latest.Week, amount)
}

// SubmitAndAdvance submits the order and tries to resolve the week. Once the
// order is stored the call succeeds: a failed advance is logged and reported
// as StatusNotReady, leaving the round to the next advance attempt.
func (s *Service) SubmitAndAdvance(ctx context.Context, team string, role Role, week, amount int) (AdvanceResult, error) {
	if err := s.SubmitOrder(ctx, team, role, week, amount); err != nil {
		return AdvanceResult{}, err
	}
	res, err := s.TryAdvance(ctx, team, week, false)
	if err != nil {
		s.log.Warn("advance after order failed", "team", team, "role", role.String(), "week", week, "err", err)
		return AdvanceResult{Status: StatusNotReady, Team: team, Week: week}, nil
	}
	return res, nil
}

// TryAdvance resolves the team's week when every role has submitted or when
// forced. A round is resolved at most once; later calls report
// StatusAlreadyAdvanced with the stored week+1 records.
func (s *Service) TryAdvance(ctx context.Context, team string, week int, forced bool) (AdvanceResult, error) {
	if !s.cfg.HasTeam(team) {
		return AdvanceResult{}, fmt.Errorf("%w: team %q", ErrNotFound, team)
	}
	if week < 1 {
		return AdvanceResult{}, fmt.Errorf("%w: week must be >= 1", ErrInvalidInput)
	}

	var (
		out             AdvanceResult
		settingsChanged *Settings
	)
	err := s.store.InTx(ctx, func(tx Tx) error {
		out = AdvanceResult{Team: team, Week: week, Forced: forced}
		settingsChanged = nil

		records, err := tx.WeekRecords(ctx, team, week)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			return fmt.Errorf("%w: team %s week %d", ErrNotFound, team, week)
		}
		current, err := indexByRole(records)
		if err != nil {
			return err
		}

		next, err := tx.WeekRecords(ctx, team, week+1)
		if err != nil {
			return err
		}
		if len(next) > 0 {
			out.Status = StatusAlreadyAdvanced
			out.Records = next
			return nil
		}
		if !forced && !Ready(records) {
			out.Status = StatusNotReady
			return nil
		}

		settings, err := tx.Settings(ctx)
		if err != nil {
			return err
		}
		demand, updated, changed := s.cfg.ResolveDemand(settings, week)
		if changed {
			saved, err := tx.SaveSettings(ctx, updated)
			if err != nil {
				return err
			}
			settingsChanged = &saved
		}

		in := ResolveInput{
			Team:    team,
			Week:    week,
			Demand:  demand,
			Current: current,
			Now:     s.now(),
		}
		in.Orders, in.Ghosted = ResolvedOrders(current, s.ghostOrderer(demand))
		if s.cfg.LeadTime == 2 && week > 1 {
			prior, err := tx.WeekRecords(ctx, team, week-1)
			if err != nil {
				return err
			}
			in.Prior = indexPartial(prior)
		}

		resolved := s.cfg.Resolve(in)
		n, err := tx.InsertRecords(ctx, resolved[:])
		if err != nil {
			return err
		}
		if n != len(resolved) {
			return fmt.Errorf("%w: inserted %d of %d records for team %s week %d", ErrTxConflict, n, len(resolved), team, week+1)
		}
		out.Status = StatusAdvanced
		out.Demand = demand
		out.Records = resolved[:]
		return nil
	})
	if err != nil {
		return AdvanceResult{}, err
	}

	if settingsChanged != nil {
		s.log.Warn("demand shock applied", "week", week, "demand", settingsChanged.Demand)
		s.notify(ctx, Event{Kind: EventShock, Week: week, Settings: settingsChanged})
	}
	if out.Status == StatusAdvanced {
		ghosts := make([]string, 0, len(out.Records))
		for _, r := range out.Records {
			if r.GhostOrder {
				ghosts = append(ghosts, r.Role.String())
			}
		}
		s.log.Info("round advanced",
			"team", team,
			"week", week,
			"forced", forced,
			"demand", out.Demand,
			"ghosts", strings.Join(ghosts, ","),
		)
		res := out
		s.notify(ctx, Event{Kind: EventAdvanced, Team: team, Week: week + 1, Result: &res})
	}
	return out, nil
}

// AdvanceTeam force-resolves the team's current week.
func (s *Service) AdvanceTeam(ctx context.Context, team string) (AdvanceResult, error) {
	week, err := s.LatestWeek(ctx, team)
	if err != nil {
		return AdvanceResult{}, err
	}
	return s.TryAdvance(ctx, team, week, true)
}

// AdvanceAll force-resolves the current week of every team. Failures of one
// team do not stop the others.
func (s *Service) AdvanceAll(ctx context.Context) ([]AdvanceResult, error) {
	var (
		out  []AdvanceResult
		errs []error
	)
	for _, team := range s.cfg.Teams {
		res, err := s.AdvanceTeam(ctx, team)
		if err != nil {
			errs = append(errs, fmt.Errorf("team %s: %w", team, err))
			continue
		}
		out = append(out, res)
	}
	return out, errors.Join(errs...)
}

func (s *Service) GetLatest(ctx context.Context, team string, role Role) (RoundRecord, error) {
	if err := s.checkTeamRole(team, role); err != nil {
		return RoundRecord{}, err
	}
	var out RoundRecord
	err := s.store.InTx(ctx, func(tx Tx) error {
		var err error
		out, err = tx.Latest(ctx, team, role)
		return err
	})
	return out, err
}

func (s *Service) LatestWeek(ctx context.Context, team string) (int, error) {
	if !s.cfg.HasTeam(team) {
		return 0, fmt.Errorf("%w: team %q", ErrNotFound, team)
	}
	var week int
	err := s.store.InTx(ctx, func(tx Tx) error {
		var err error
		week, err = tx.LatestWeek(ctx, team)
		return err
	})
	return week, err
}

func (s *Service) History(ctx context.Context, team string) ([]RoundRecord, error) {
	if !s.cfg.HasTeam(team) {
		return nil, fmt.Errorf("%w: team %q", ErrNotFound, team)
	}
	var out []RoundRecord
	err := s.store.InTx(ctx, func(tx Tx) error {
		var err error
		out, err = tx.History(ctx, team)
		return err
	})
	return out, err
}

// Progress reports each team's current week and which roles have submitted.
func (s *Service) Progress(ctx context.Context) ([]TeamProgress, error) {
	out := make([]TeamProgress, 0, len(s.cfg.Teams))
	err := s.store.InTx(ctx, func(tx Tx) error {
		out = out[:0]
		for _, team := range s.cfg.Teams {
			p := TeamProgress{Team: team, Submitted: []Role{}}
			week, err := tx.LatestWeek(ctx, team)
			if err != nil && !errors.Is(err, ErrNotFound) {
				return err
			}
			p.Week = week
			if week > 0 {
				records, err := tx.WeekRecords(ctx, team, week)
				if err != nil {
					return err
				}
				for _, r := range records {
					if r.Submitted() {
						p.Submitted = append(p.Submitted, r.Role)
					}
				}
			}
			out = append(out, p)
		}
		return nil
	})
	return out, err
}

func (s *Service) GetSettings(ctx context.Context) (Settings, error) {
	var out Settings
	err := s.store.InTx(ctx, func(tx Tx) error {
		var err error
		out, err = tx.Settings(ctx)
		return err
	})
	return out, err
}

// SetDemand sets the manual customer demand. Once the shock has fired the
// demand stays at the shock value until a reset.
func (s *Service) SetDemand(ctx context.Context, demand int) (Settings, error) {
	if err := ValidateDemand(demand, s.cfg.MaxDemand); err != nil {
		return Settings{}, err
	}
	return s.updateSettings(ctx, func(st *Settings) error {
		if s.cfg.Shock && st.ShockTriggered {
			return fmt.Errorf("%w: demand stays at %d", ErrShockLocked, s.cfg.ShockDemand)
		}
		st.Demand = demand
		return nil
	})
}

// SetActive opens or closes the submission gateway.
func (s *Service) SetActive(ctx context.Context, active bool) (Settings, error) {
	return s.updateSettings(ctx, func(st *Settings) error {
		st.Active = active
		return nil
	})
}

func (s *Service) ToggleActive(ctx context.Context) (Settings, error) {
	return s.updateSettings(ctx, func(st *Settings) error {
		st.Active = !st.Active
		return nil
	})
}

func (s *Service) updateSettings(ctx context.Context, mutate func(*Settings) error) (Settings, error) {
	var out Settings
	err := s.store.InTx(ctx, func(tx Tx) error {
		cur, err := tx.Settings(ctx)
		if err != nil {
			return err
		}
		if err := mutate(&cur); err != nil {
			return err
		}
		out, err = tx.SaveSettings(ctx, cur)
		return err
	})
	if err != nil {
		return Settings{}, err
	}
	s.log.Info("settings updated", "demand", out.Demand, "active", out.Active, "version", out.Version)
	st := out
	s.notify(ctx, Event{Kind: EventSettings, Settings: &st})
	return out, nil
}

// ResetGame purges every round record, seeds week 1 for every team and role
// and closes the game, all in one unit.
func (s *Service) ResetGame(ctx context.Context) error {
	seeds := make([]RoundRecord, 0, len(s.cfg.Teams)*len(Roles))
	now := s.now()
	for _, team := range s.cfg.Teams {
		for _, role := range Roles {
			rec := SeedRecord(team, role, s.cfg.InitialInventory)
			rec.CreatedAt = now
			seeds = append(seeds, rec)
		}
	}
	var settings Settings
	err := s.store.InTx(ctx, func(tx Tx) error {
		if err := tx.Purge(ctx); err != nil {
			return err
		}
		n, err := tx.InsertRecords(ctx, seeds)
		if err != nil {
			return err
		}
		if n != len(seeds) {
			return fmt.Errorf("%w: seeded %d of %d records", ErrTxConflict, n, len(seeds))
		}
		settings, err = tx.SaveSettings(ctx, s.cfg.ResetSettings())
		return err
	})
	if err != nil {
		return err
	}
	s.log.Warn("game reset", "teams", len(s.cfg.Teams))
	s.notify(ctx, Event{Kind: EventReset, Settings: &settings})
	return nil
}

// EnsureSeeded resets the game when no team has any record yet.
func (s *Service) EnsureSeeded(ctx context.Context) error {
	empty := true
	err := s.store.InTx(ctx, func(tx Tx) error {
		empty = true
		for _, team := range s.cfg.Teams {
			_, err := tx.LatestWeek(ctx, team)
			if err == nil {
				empty = false
				return nil
			}
			if !errors.Is(err, ErrNotFound) {
				return err
			}
		}
		return nil
	})
	if err != nil || !empty {
		return err
	}
	return s.ResetGame(ctx)
}

// ClaimRole binds occupant to the team's role. Seats stay bound until the
// next reset; claiming a seat you already hold succeeds.
func (s *Service) ClaimRole(ctx context.Context, team string, role Role, occupant string) error {
	if err := s.checkTeamRole(team, role); err != nil {
		return err
	}
	occupant = strings.TrimSpace(occupant)
	if occupant == "" {
		return fmt.Errorf("%w: occupant is required", ErrInvalidInput)
	}
	var week int
	err := s.store.InTx(ctx, func(tx Tx) error {
		latest, err := tx.Latest(ctx, team, role)
		if err != nil {
			return err
		}
		week = latest.Week
		return tx.SetOccupant(ctx, team, role, latest.Week, occupant)
	})
	if err != nil {
		return err
	}
	s.log.Info("role claimed", "team", team, "role", role.String(), "week", week)
	s.notify(ctx, Event{Kind: EventClaimed, Team: team, Role: role, Week: week})
	return nil
}

func (s *Service) checkTeamRole(team string, role Role) error {
	if !s.cfg.HasTeam(team) {
		return fmt.Errorf("%w: team %q", ErrNotFound, team)
	}
	if !role.Valid() {
		return fmt.Errorf("%w: role %d", ErrInvalidInput, int(role))
	}
	return nil
}

func (s *Service) ghostOrderer(demand int) func(Role) int {
	switch s.cfg.Ghost {
	case GhostRandom:
		return func(Role) int { return s.intBetween(s.cfg.GhostMin, s.cfg.GhostMax) }
	default:
		return func(Role) int { return demand }
	}
}

func (s *Service) intBetween(lo, hi int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return lo + s.rand.Intn(hi-lo+1)
}

func (s *Service) notify(ctx context.Context, ev Event) {
	for _, o := range s.observers {
		o.Observe(ctx, ev)
	}
}
