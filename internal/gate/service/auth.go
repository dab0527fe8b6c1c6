package service

import (
	"context"
	"errors"

	"github.com/aussiebroadwan/lockstep/internal/gate/store"
	"github.com/aussiebroadwan/lockstep/internal/normalize"
	"github.com/aussiebroadwan/lockstep/pkg/cryptox"
	"github.com/aussiebroadwan/lockstep/pkg/slogx"
)

var ErrInvalidCredentials = errors.New("invalid_credentials")

// AuthService runs the credential check for a login surface and invokes the
// timing normalizer around it: a fresh timer per attempt, Save on success,
// Apply on failure. Both happen before control returns to the handler, so
// the response leaves only after any compensating delay has run.
type AuthService struct {
	Store      store.Store
	Normalizer *normalize.Normalizer
	Tokens     *TokenService

	// Surface names this service's attempts so each login surface learns
	// an independent baseline. Empty means the normalizer default.
	Surface string
}

// Login verifies username/password and returns a signed access token. On
// failure it returns ErrInvalidCredentials only after the normalizer has
// padded the elapsed time up to the learned baseline.
func (s *AuthService) Login(ctx context.Context, username, password string) (string, error) {
	l := slogx.FromContext(ctx)

	timer := s.Normalizer.NewTimer()
	timer.Start(s.Surface)

	user, err := s.Store.Users().GetUserByUsername(ctx, username)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			l.Error("user lookup failed", "error", err)
		}
		// Unknown usernames still burn a password verification below via
		// the normalizer's delay, not via a dummy hash: the baseline
		// already covers the full successful-path cost.
		timer.Apply(ctx)
		return "", ErrInvalidCredentials
	}

	if err := cryptox.VerifyPassword(password, user.PasswordHash); err != nil {
		if !errors.Is(err, cryptox.ErrPasswordMismatch) {
			l.Error("password verification failed", "user_id", user.ID, "error", err)
		}
		timer.Apply(ctx)
		return "", ErrInvalidCredentials
	}

	timer.Save(ctx)

	token, err := s.Tokens.Mint(user.ID)
	if err != nil {
		l.Error("token mint failed", "user_id", user.ID, "error", err)
		return "", err
	}

	return token, nil
}
