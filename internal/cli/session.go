package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"beergame/internal/game"
)

// Session is the local player identity and seat.
type Session struct {
	Occupant string    `json:"occupant"`
	Name     string    `json:"name,omitempty"`
	Team     string    `json:"team,omitempty"`
	Role     game.Role `json:"role,omitempty"`
}

func (s Session) Seated() bool {
	return s.Team != "" && s.Role.Valid()
}

// Label is what the API records as the seat occupant.
func (s Session) Label() string {
	if s.Name == "" {
		return s.Occupant
	}
	short := s.Occupant
	if len(short) > 8 {
		short = short[:8]
	}
	return s.Name + " (" + short + ")"
}

// BaseDir is ~/.beer, created on first use.
func BaseDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(home, ".beer")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	return dir, nil
}

func sessionPath() (string, error) {
	dir, err := BaseDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "session.json"), nil
}

func SaveSession(s Session) error {
	path, err := sessionPath()
	if err != nil {
		return err
	}
	body, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, body, 0o600); err != nil {
		return err
	}
	return nil
}

func LoadSession() (Session, error) {
	path, err := sessionPath()
	if err != nil {
		return Session{}, err
	}
	body, err := os.ReadFile(path)
	if err != nil {
		return Session{}, err
	}
	var s Session
	if err := json.Unmarshal(body, &s); err != nil {
		return Session{}, err
	}
	if strings.TrimSpace(s.Occupant) == "" {
		return Session{}, fmt.Errorf("no occupant id found in session")
	}
	return s, nil
}

// LoadOrCreateSession returns the stored session, creating a fresh occupant
// id when none exists yet.
func LoadOrCreateSession() (Session, error) {
	s, err := LoadSession()
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return Session{}, err
	}
	s = Session{Occupant: uuid.NewString()}
	if err := SaveSession(s); err != nil {
		return Session{}, err
	}
	return s, nil
}

func ClearSession() error {
	path, err := sessionPath()
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	return os.Remove(path)
}
