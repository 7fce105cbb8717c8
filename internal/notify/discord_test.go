package notify

import (
	"strings"
	"testing"

	"beergame/internal/game"
)

func TestDescribe(t *testing.T) {
	advanced := game.Event{
		Kind: game.EventAdvanced,
		Team: "B",
		Week: 4,
		Result: &game.AdvanceResult{
			Demand: 8,
			Records: []game.RoundRecord{
				{Role: game.Retailer},
				{Role: game.Wholesaler, GhostOrder: true},
				{Role: game.Distributor},
				{Role: game.Manufacturer, GhostOrder: true},
			},
		},
	}
	tests := []struct {
		name string
		ev   game.Event
		want []string
	}{
		{name: "advanced", ev: advanced, want: []string{"Team B", "week 4", "demand 8", "Wholesaler, Manufacturer"}},
		{name: "shock", ev: game.Event{Kind: game.EventShock, Settings: &game.Settings{Demand: 8}}, want: []string{"shock", "8"}},
		{name: "reset", ev: game.Event{Kind: game.EventReset}, want: []string{"reset"}},
	}
	for _, tc := range tests {
		got := Describe(tc.ev)
		for _, part := range tc.want {
			if !strings.Contains(got, part) {
				t.Fatalf("%s: %q missing %q", tc.name, got, part)
			}
		}
	}

	quiet := []game.Event{
		{Kind: game.EventSubmitted, Team: "A"},
		{Kind: game.EventClaimed, Team: "A"},
		{Kind: game.EventSettings, Settings: &game.Settings{Demand: 5}},
		{Kind: game.EventAdvanced},
	}
	for _, ev := range quiet {
		if got := Describe(ev); got != "" {
			t.Fatalf("%s should not be announced, got %q", ev.Kind, got)
		}
	}
	if got := Describe(game.Event{Kind: game.EventAdvanced, Team: "A", Week: 2, Result: &game.AdvanceResult{Demand: 4}}); strings.Contains(got, "Ghost") {
		t.Fatalf("no ghosts expected in %q", got)
	}
}
