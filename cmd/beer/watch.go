package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	cl "beergame/internal/cli"
	"beergame/internal/events"
	"beergame/internal/game"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	boardStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("63")).Padding(0, 1)
	mineStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	alertStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("203"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	headerStyle = lipgloss.NewStyle().Underline(true)
)

func newWatchCmd(apiBase *string) *cobra.Command {
	var (
		team  string
		every time.Duration
		push  bool
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Live board of a team's current week",
		RunE: func(cmd *cobra.Command, args []string) error {
			var role game.Role
			if sess, err := cl.LoadSession(); err == nil && sess.Seated() {
				if team == "" {
					team = sess.Team
				}
				if strings.EqualFold(team, sess.Team) {
					role = sess.Role
				}
			}
			if team == "" {
				return fmt.Errorf("pass --team or join first")
			}
			if every <= 0 {
				every = 5 * time.Second
			}
			client := newClient(apiBase)
			m := newBoardModel(client, strings.ToUpper(team), role, every)
			p := tea.NewProgram(m)

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			if push {
				url, err := client.StreamURL(m.team)
				if err != nil {
					return err
				}
				go streamEvents(ctx, url, p)
			}
			_, err := p.Run()
			return err
		},
	}
	cmd.Flags().StringVar(&team, "team", "", "team to watch (defaults to your seat)")
	cmd.Flags().DurationVar(&every, "every", 5*time.Second, "poll interval")
	cmd.Flags().BoolVar(&push, "push", false, "refresh on server events over a websocket")
	return cmd
}

type boardLoadedMsg struct {
	gen      int
	settings game.Settings
	records  []game.RoundRecord
	err      error
}

type refreshMsg struct{ gen int }

type streamMsg struct {
	kind game.EventKind
	err  error
}

type boardModel struct {
	client  *cl.Client
	team    string
	role    game.Role
	every   time.Duration
	spinner spinner.Model

	// gen identifies the newest load; stale results and timers are ignored.
	gen      int
	loading  bool
	settings game.Settings
	current  []game.RoundRecord
	updated  time.Time
	lastPush game.EventKind
	err      error
}

func newBoardModel(client *cl.Client, team string, role game.Role, every time.Duration) boardModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	return boardModel{client: client, team: team, role: role, every: every, spinner: s, loading: true}
}

func (m boardModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.load(m.gen))
}

func (m boardModel) reload() (boardModel, tea.Cmd) {
	m.gen++
	m.loading = true
	return m, m.load(m.gen)
}

func (m boardModel) load(gen int) tea.Cmd {
	client, team := m.client, m.team
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		settings, err := client.Settings(ctx)
		if err != nil {
			return boardLoadedMsg{gen: gen, err: err}
		}
		records, err := client.History(ctx, team)
		if err != nil {
			return boardLoadedMsg{gen: gen, err: err}
		}
		return boardLoadedMsg{gen: gen, settings: settings, records: records}
	}
}

func (m boardModel) scheduleRefresh() tea.Cmd {
	gen := m.gen
	return tea.Tick(m.every, func(time.Time) tea.Msg { return refreshMsg{gen: gen} })
}

func (m boardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "r":
			return m.reload()
		}
	case refreshMsg:
		if msg.gen != m.gen {
			return m, nil
		}
		return m.reload()
	case streamMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.lastPush = msg.kind
		return m.reload()
	case boardLoadedMsg:
		if msg.gen != m.gen {
			return m, nil
		}
		m.loading = false
		m.err = msg.err
		if msg.err == nil {
			m.settings = msg.settings
			m.current = latestWeek(msg.records)
			m.updated = time.Now()
		}
		return m, m.scheduleRefresh()
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m boardModel) View() string {
	var b strings.Builder
	week := 0
	if len(m.current) > 0 {
		week = m.current[0].Week
	}
	status := okStyle.Render("open")
	if !m.settings.Active {
		status = alertStyle.Render("closed")
	}
	title := fmt.Sprintf("Team %s  week %d  demand %d  game %s", m.team, week, m.settings.Demand, status)
	if m.settings.ShockTriggered {
		title += "  " + alertStyle.Render("SHOCK")
	}
	b.WriteString(titleStyle.Render(title))
	b.WriteString("\n\n")

	b.WriteString(headerStyle.Render(fmt.Sprintf("%-13s %6s %7s %6s %6s %9s %-8s", "ROLE", "STOCK", "BACKLOG", "IN", "DEMAND", "COST", "ORDER")))
	b.WriteString("\n")
	for _, r := range m.current {
		order := mutedStyle.Render("waiting")
		if r.OrderPlaced != nil {
			order = okStyle.Render("placed")
			if r.Role == m.role {
				order = okStyle.Render(fmt.Sprintf("%d", *r.OrderPlaced))
			}
		}
		line := fmt.Sprintf("%-13s %6d %7d %6d %6d %9.2f ", r.Role, r.Inventory, r.Backlog, r.IncomingDelivery, r.DemandIn, r.TotalCost)
		if r.Role == m.role {
			line = mineStyle.Render(line)
		}
		b.WriteString(line + order + "\n")
	}

	footer := mutedStyle.Render("q quit  r refresh")
	if m.loading {
		footer = m.spinner.View() + " " + footer
	} else if !m.updated.IsZero() {
		footer = mutedStyle.Render("updated "+m.updated.Format("15:04:05")) + "  " + footer
	}
	if m.lastPush != "" {
		footer += mutedStyle.Render("  last event: " + string(m.lastPush))
	}
	body := boardStyle.Render(strings.TrimRight(b.String(), "\n"))
	if m.err != nil {
		body += "\n" + alertStyle.Render(m.err.Error())
	}
	return body + "\n" + footer + "\n"
}

// latestWeek returns the records of the highest week in role order.
func latestWeek(records []game.RoundRecord) []game.RoundRecord {
	week := 0
	for _, r := range records {
		week = max(week, r.Week)
	}
	out := make([]game.RoundRecord, 0, len(game.Roles))
	for _, r := range records {
		if r.Week == week {
			out = append(out, r)
		}
	}
	return out
}

// streamEvents forwards server events to the board until ctx ends.
func streamEvents(ctx context.Context, url string, p *tea.Program) {
	backoff := time.Second
	for ctx.Err() == nil {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
		if err != nil {
			p.Send(streamMsg{err: fmt.Errorf("event stream: %w", err)})
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, 30*time.Second)
			continue
		}
		backoff = time.Second
		go func() {
			<-ctx.Done()
			_ = conn.Close()
		}()
		for {
			var msg events.Message
			if err := conn.ReadJSON(&msg); err != nil {
				_ = conn.Close()
				break
			}
			p.Send(streamMsg{kind: msg.Event.Kind})
		}
	}
}
