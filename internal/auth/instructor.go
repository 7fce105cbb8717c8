package auth

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

var ErrBadPassword = errors.New("wrong instructor password")

// InstructorGate checks the shared instructor password. Only the bcrypt
// hash is kept after construction.
type InstructorGate struct {
	hash []byte
}

// NewInstructorGate accepts either a plain password or a bcrypt hash
// (starting with "$2").
func NewInstructorGate(secret string) (*InstructorGate, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("instructor password is required")
	}
	if strings.HasPrefix(secret, "$2") {
		if _, err := bcrypt.Cost([]byte(secret)); err != nil {
			return nil, fmt.Errorf("instructor password hash: %w", err)
		}
		return &InstructorGate{hash: []byte(secret)}, nil
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash instructor password: %w", err)
	}
	return &InstructorGate{hash: hash}, nil
}

func (g *InstructorGate) Check(password string) error {
	if password == "" {
		return ErrBadPassword
	}
	if err := bcrypt.CompareHashAndPassword(g.hash, []byte(password)); err != nil {
		return ErrBadPassword
	}
	return nil
}
