// Package syncq keeps order submissions that could not reach the API so they
// can be replayed later.
package syncq

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"beergame/internal/game"
)

// Command is one queued order. Week 0 targets whatever week is current at
// replay time.
type Command struct {
	ID       string    `json:"id"`
	Team     string    `json:"team"`
	Role     game.Role `json:"role"`
	Week     int       `json:"week"`
	Amount   int       `json:"amount"`
	QueuedAt time.Time `json:"queued_at"`
}

// Outcome is the result of replaying one command.
type Outcome struct {
	Command Command
	Result  game.AdvanceResult
	Err     error
	// Kept is true when the command stays queued for a later replay.
	Kept bool
}

// Dir overrides the queue directory; empty means ~/.beer.
var Dir string

func queuePath() (string, error) {
	dir := Dir
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dir = filepath.Join(home, ".beer")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	return filepath.Join(dir, "queue.json"), nil
}

func Load() ([]Command, error) {
	path, err := queuePath()
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []Command{}, nil
		}
		return nil, err
	}
	if len(raw) == 0 {
		return []Command{}, nil
	}
	var out []Command
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func Save(commands []Command) error {
	path, err := queuePath()
	if err != nil {
		return err
	}
	raw, err := json.MarshalIndent(commands, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o600)
}

// Push queues cmd, replacing an earlier command for the same seat and week.
func Push(cmd Command) error {
	commands, err := Load()
	if err != nil {
		return err
	}
	out := commands[:0]
	for _, c := range commands {
		if c.Team == cmd.Team && c.Role == cmd.Role && c.Week == cmd.Week {
			continue
		}
		out = append(out, c)
	}
	out = append(out, cmd)
	return Save(out)
}

// Replay submits queued commands in order. Commands whose failure is
// retryable stay queued; the rest are dropped with their outcome reported.
func Replay(ctx context.Context, submit func(context.Context, Command) (game.AdvanceResult, error), retryable func(error) bool) ([]Outcome, error) {
	commands, err := Load()
	if err != nil {
		return nil, err
	}
	outcomes := make([]Outcome, 0, len(commands))
	remaining := make([]Command, 0, len(commands))
	for _, cmd := range commands {
		res, err := submit(ctx, cmd)
		o := Outcome{Command: cmd, Result: res, Err: err}
		if err != nil && retryable(err) {
			o.Kept = true
			remaining = append(remaining, cmd)
		}
		outcomes = append(outcomes, o)
	}
	if err := Save(remaining); err != nil {
		return outcomes, err
	}
	return outcomes, nil
}
