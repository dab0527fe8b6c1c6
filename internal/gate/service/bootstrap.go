package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aussiebroadwan/lockstep/internal/gate/domain"
	"github.com/aussiebroadwan/lockstep/internal/gate/store"
	"github.com/aussiebroadwan/lockstep/pkg/cryptox"
	"github.com/aussiebroadwan/lockstep/pkg/idx"
)

// BootstrapService seeds the initial user when the user table is empty, so
// a fresh deployment has a login to exercise. Subsequent startups are
// no-ops.
type BootstrapService struct {
	Store    store.Store
	Username string
	Password string // empty means a password is generated and logged once
	Logger   *slog.Logger
}

func (s *BootstrapService) Run(ctx context.Context) error {
	if s.Username == "" {
		return nil
	}

	empty, err := s.Store.Users().IsEmpty(ctx)
	if err != nil {
		return fmt.Errorf("bootstrap: check users: %w", err)
	}
	if !empty {
		return nil
	}

	password := s.Password
	generated := false
	if password == "" {
		password, err = cryptox.GeneratePassword()
		if err != nil {
			return fmt.Errorf("bootstrap: %w", err)
		}
		generated = true
	}

	hash, err := cryptox.HashPassword(password)
	if err != nil {
		return fmt.Errorf("bootstrap: hash password: %w", err)
	}

	user := domain.User{
		ID:           idx.New().String(),
		Username:     s.Username,
		PasswordHash: hash,
	}
	if err := s.Store.Users().CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return nil
		}
		return fmt.Errorf("bootstrap: create user: %w", err)
	}

	if generated {
		// Logged once on purpose; there is no other way to hand over a
		// generated credential.
		s.Logger.Info("seed user created with generated password",
			"username", s.Username, "password", password)
	} else {
		s.Logger.Info("seed user created", "username", s.Username)
	}

	return nil
}
