package auth

import (
	"context"

	"authservice/internal/domain"
	"authservice/internal/pkg/jwt"
)

// UserStore lists only the methods the credential service uses.
type UserStore interface {
	Create(ctx context.Context, u *domain.User) error
	FindByEmail(ctx context.Context, email string) (*domain.User, error)
	FindByID(ctx context.Context, id string) (*domain.Profile, error)
	FindByIDWithCredentials(ctx context.Context, id string) (*domain.User, error)
	SetRefreshHash(ctx context.Context, id string, hash *string) error
	SwapRefreshHash(ctx context.Context, id, oldHash, newHash string) (bool, error)
	UpdateProfile(ctx context.Context, id string, upd domain.ProfileUpdate) (*domain.Profile, error)
	SetPasswordHash(ctx context.Context, id, hash string) error
}

// PasswordHasher is implemented by *password.Hasher.
type PasswordHasher interface {
	Hash(ctx context.Context, plaintext string) (string, error)
	Verify(ctx context.Context, plaintext, hash string) bool
	VerifyDummy(ctx context.Context, plaintext string)
}

// TokenCodec is implemented by *jwt.Service.
type TokenCodec interface {
	Sign(claims jwt.Claims) (string, error)
	Verify(token string) (*jwt.Claims, error)
}

// OutcomeRecorder counts operation outcomes; *metrics.Metrics satisfies it.
type OutcomeRecorder interface {
	AuthOutcome(operation, outcome string)
}

type nopRecorder struct{}

func (nopRecorder) AuthOutcome(string, string) {}
