// Package notify posts game announcements to a Discord channel.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"beergame/internal/game"
)

const sendTimeout = 10 * time.Second

type Discord struct {
	session   *discordgo.Session
	channelID string
	log       *slog.Logger
}

var _ game.Observer = (*Discord)(nil)

func NewDiscord(token, channelID string, logger *slog.Logger) (*Discord, error) {
	if logger == nil {
		logger = slog.Default()
	}
	session, err := discordgo.New("Bot " + strings.TrimSpace(token))
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	return &Discord{session: session, channelID: channelID, log: logger}, nil
}

// Observe announces advances, shocks and resets in the background. Orders
// and claims are too chatty for a class channel and are skipped.
func (d *Discord) Observe(ctx context.Context, ev game.Event) {
	msg := Describe(ev)
	if msg == "" {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sendTimeout)
		defer cancel()
		if _, err := d.session.ChannelMessageSend(d.channelID, msg, discordgo.WithContext(ctx)); err != nil {
			d.log.Warn("discord announce failed", "kind", ev.Kind, "err", err)
		}
	}()
}

// Describe renders the announcement for ev, or "" when ev is not announced.
func Describe(ev game.Event) string {
	switch ev.Kind {
	case game.EventAdvanced:
		if ev.Result == nil {
			return ""
		}
		var ghosts []string
		for _, r := range ev.Result.Records {
			if r.GhostOrder {
				ghosts = append(ghosts, r.Role.String())
			}
		}
		msg := fmt.Sprintf("Team %s moved to week %d (customer demand %d).", ev.Team, ev.Week, ev.Result.Demand)
		if len(ghosts) > 0 {
			msg += " Ghost orders for: " + strings.Join(ghosts, ", ") + "."
		}
		return msg
	case game.EventShock:
		if ev.Settings == nil {
			return ""
		}
		return fmt.Sprintf("Demand shock! Customer demand is now %d.", ev.Settings.Demand)
	case game.EventReset:
		return "The game has been reset. Claim your seats for week 1."
	}
	return ""
}
