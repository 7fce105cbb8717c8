// Package memory keeps game state in process memory. Units of work run one
// at a time against a copy of the state that replaces the live state only on
// success.
package memory

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"beergame/internal/game"
)

var _ game.Store = (*Store)(nil)

type key struct {
	team string
	role game.Role
	week int
}

type state struct {
	records  map[key]game.RoundRecord
	settings game.Settings
}

type Store struct {
	mu  sync.Mutex
	st  state
	now func() time.Time
}

func New() *Store {
	return &Store{
		st: state{
			records:  map[key]game.RoundRecord{},
			settings: game.Settings{Demand: game.DefaultDemand},
		},
		now: func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) InTx(ctx context.Context, fn func(tx game.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	t := &tx{st: state{records: maps.Clone(s.st.records), settings: s.st.settings}, now: s.now}
	if err := fn(t); err != nil {
		return err
	}
	s.st = t.st
	return nil
}

type tx struct {
	st  state
	now func() time.Time
}

func (t *tx) Settings(context.Context) (game.Settings, error) {
	return t.st.settings, nil
}

func (t *tx) SaveSettings(_ context.Context, s game.Settings) (game.Settings, error) {
	s.Version = t.st.settings.Version + 1
	s.UpdatedAt = t.now()
	t.st.settings = s
	return s, nil
}

func (t *tx) WeekRecords(_ context.Context, team string, week int) ([]game.RoundRecord, error) {
	out := make([]game.RoundRecord, 0, len(game.Roles))
	for _, role := range game.Roles {
		if r, ok := t.st.records[key{team, role, week}]; ok {
			out = append(out, copyRecord(r))
		}
	}
	return out, nil
}

func (t *tx) LatestWeek(_ context.Context, team string) (int, error) {
	latest := 0
	for k := range t.st.records {
		if k.team == team && k.week > latest {
			latest = k.week
		}
	}
	if latest == 0 {
		return 0, fmt.Errorf("%w: team %s has no records", game.ErrNotFound, team)
	}
	return latest, nil
}

func (t *tx) Latest(_ context.Context, team string, role game.Role) (game.RoundRecord, error) {
	var (
		best  game.RoundRecord
		found bool
	)
	for k, r := range t.st.records {
		if k.team == team && k.role == role && (!found || k.week > best.Week) {
			best, found = r, true
		}
	}
	if !found {
		return game.RoundRecord{}, fmt.Errorf("%w: %s/%s", game.ErrNotFound, team, role)
	}
	return copyRecord(best), nil
}

func (t *tx) History(_ context.Context, team string) ([]game.RoundRecord, error) {
	var out []game.RoundRecord
	for k, r := range t.st.records {
		if k.team == team {
			out = append(out, copyRecord(r))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Week != out[j].Week {
			return out[i].Week < out[j].Week
		}
		return out[i].Role < out[j].Role
	})
	return out, nil
}

func (t *tx) InsertRecords(_ context.Context, records []game.RoundRecord) (int, error) {
	n := 0
	for _, r := range records {
		k := key{r.Team, r.Role, r.Week}
		if _, exists := t.st.records[k]; exists {
			continue
		}
		if r.CreatedAt.IsZero() {
			r.CreatedAt = t.now()
		}
		t.st.records[k] = copyRecord(r)
		n++
	}
	return n, nil
}

func (t *tx) SetOrder(_ context.Context, team string, role game.Role, week, amount int) error {
	k := key{team, role, week}
	r, ok := t.st.records[k]
	if !ok {
		return fmt.Errorf("%w: %s/%s week %d", game.ErrNotFound, team, role, week)
	}
	if r.OrderPlaced != nil {
		return game.ErrAlreadySubmitted
	}
	r.OrderPlaced = &amount
	t.st.records[k] = r
	return nil
}

func (t *tx) SetOccupant(_ context.Context, team string, role game.Role, week int, occupant string) error {
	k := key{team, role, week}
	r, ok := t.st.records[k]
	if !ok {
		return fmt.Errorf("%w: %s/%s week %d", game.ErrNotFound, team, role, week)
	}
	if r.Occupant != nil {
		if *r.Occupant == occupant {
			return nil
		}
		return game.ErrAlreadyTaken
	}
	r.Occupant = &occupant
	t.st.records[k] = r
	return nil
}

func (t *tx) Purge(context.Context) error {
	t.st.records = map[key]game.RoundRecord{}
	return nil
}

func copyRecord(r game.RoundRecord) game.RoundRecord {
	if r.OrderPlaced != nil {
		v := *r.OrderPlaced
		r.OrderPlaced = &v
	}
	if r.ResolvedOrder != nil {
		v := *r.ResolvedOrder
		r.ResolvedOrder = &v
	}
	if r.Occupant != nil {
		v := *r.Occupant
		r.Occupant = &v
	}
	return r
}
