package cli

import (
	"testing"

	"beergame/internal/game"
)

func TestSessionLifecycle(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	first, err := LoadOrCreateSession()
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if first.Occupant == "" || first.Seated() {
		t.Fatalf("fresh session = %+v", first)
	}
	again, err := LoadOrCreateSession()
	if err != nil || again.Occupant != first.Occupant {
		t.Fatalf("occupant should persist: %+v %v", again, err)
	}

	first.Name = "Ada"
	first.Team = "B"
	first.Role = game.Distributor
	if err := SaveSession(first); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := LoadSession()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !loaded.Seated() || loaded.Role != game.Distributor || loaded.Team != "B" {
		t.Fatalf("loaded = %+v", loaded)
	}

	if err := ClearSession(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if err := ClearSession(); err != nil {
		t.Fatalf("second clear: %v", err)
	}
	if _, err := LoadSession(); err == nil {
		t.Fatalf("expected error after clear")
	}
}

func TestSessionLabel(t *testing.T) {
	tests := []struct {
		s    Session
		want string
	}{
		{s: Session{Occupant: "0123456789abcdef"}, want: "0123456789abcdef"},
		{s: Session{Occupant: "0123456789abcdef", Name: "Ada"}, want: "Ada (01234567)"},
		{s: Session{Occupant: "abc", Name: "Bo"}, want: "Bo (abc)"},
	}
	for _, tc := range tests {
		if got := tc.s.Label(); got != tc.want {
			t.Fatalf("Label() = %q want %q", got, tc.want)
		}
	}
}
