package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"authservice/internal/domain"
	"authservice/internal/logging"
	"authservice/internal/pkg/jwt"
	"authservice/internal/pkg/password"
	"authservice/internal/repository"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	opRegister       = "register"
	opLogin          = "login"
	opRefresh        = "refresh"
	opLogout         = "logout"
	opChangePassword = "change_password"
)

var (
	errNoSession    = errors.New("no active session")
	errHashMismatch = errors.New("refresh token does not match stored hash")
	errRotationLost = errors.New("refresh token rotated concurrently")
)

// Service contains all business logic for credentials and sessions. It holds
// no per-user state; every call is a short exchange with the store.
type Service struct {
	users    UserStore
	hasher   PasswordHasher
	access   TokenCodec
	refresh  TokenCodec
	recorder OutcomeRecorder
}

// NewService wires the credential service. access and refresh must be signed
// with different secrets. recorder may be nil.
func NewService(users UserStore, hasher PasswordHasher, access, refresh TokenCodec, recorder OutcomeRecorder) *Service {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Service{
		users:    users,
		hasher:   hasher,
		access:   access,
		refresh:  refresh,
		recorder: recorder,
	}
}

func (s *Service) Register(ctx context.Context, req RegisterRequest) (res *RegisterResult, err error) {
	defer func() { s.record(opRegister, err) }()

	email := strings.TrimSpace(req.Email)
	if _, err := s.users.FindByEmail(ctx, email); err == nil {
		return nil, ErrDuplicateAccount
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("lookup email: %w", err)
	}

	hash, err := s.hasher.Hash(ctx, req.Password)
	if err != nil {
		if errors.Is(err, password.ErrTooLong) {
			return nil, fmt.Errorf("%w: %v", ErrValidation, err)
		}
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &domain.User{
		ID:           uuid.NewString(),
		Email:        email,
		Name:         strings.TrimSpace(req.Name),
		PasswordHash: hash,
		Role:         domain.RoleUser,
	}
	if phone := strings.TrimSpace(req.Phone); phone != "" {
		user.Phone = &phone
	}

	pair, digest, err := s.issueTokens(user)
	if err != nil {
		return nil, err
	}
	user.RefreshTokenHash = &digest

	// user and session land in one insert, so a failure leaves nothing behind
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return nil, ErrDuplicateAccount
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	logging.FromContext(ctx).Info("user registered", "user_id", user.ID)
	return &RegisterResult{User: user.Profile(), TokenPair: *pair}, nil
}

// Login returns ErrInvalidCredentials for an unknown email and for a wrong
// password alike.
func (s *Service) Login(ctx context.Context, req LoginRequest) (pair *TokenPair, err error) {
	defer func() { s.record(opLogin, err) }()

	user, err := s.users.FindByEmail(ctx, strings.TrimSpace(req.Email))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.hasher.VerifyDummy(ctx, req.Password)
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("lookup email: %w", err)
	}

	if !s.hasher.Verify(ctx, req.Password, user.PasswordHash) {
		logging.FromContext(ctx).Info("login rejected", "user_id", user.ID)
		return nil, ErrInvalidCredentials
	}

	pair, digest, err := s.issueTokens(user)
	if err != nil {
		return nil, err
	}
	if err := s.users.SetRefreshHash(ctx, user.ID, &digest); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("store refresh hash: %w", err)
	}

	return pair, nil
}

// Refresh exchanges a refresh token for a new pair. The presented token stops
// working once this returns successfully. Every failure is reported as
// ErrInvalidRefreshToken; the underlying cause is only logged.
func (s *Service) Refresh(ctx context.Context, rawToken string) (*TokenPair, error) {
	pair, err := s.rotate(ctx, rawToken)
	s.record(opRefresh, err)
	if err != nil {
		logging.FromContext(ctx).Info("refresh rejected", "error", err)
		return nil, ErrInvalidRefreshToken
	}
	return pair, nil
}

func (s *Service) rotate(ctx context.Context, rawToken string) (*TokenPair, error) {
	claims, err := s.refresh.Verify(rawToken)
	if err != nil {
		return nil, fmt.Errorf("verify: %w", err)
	}

	user, err := s.users.FindByIDWithCredentials(ctx, claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("load user %s: %w", claims.Subject, err)
	}
	if !user.HasSession() {
		return nil, errNoSession
	}

	stored := *user.RefreshTokenHash
	if subtle.ConstantTimeCompare([]byte(hashToken(rawToken)), []byte(stored)) != 1 {
		return nil, errHashMismatch
	}

	pair, digest, err := s.issueTokens(user)
	if err != nil {
		return nil, err
	}

	swapped, err := s.users.SwapRefreshHash(ctx, user.ID, stored, digest)
	if err != nil {
		return nil, fmt.Errorf("swap refresh hash: %w", err)
	}
	if !swapped {
		return nil, errRotationLost
	}
	return pair, nil
}

// Logout ends the caller's session. Calling it without a session, or for an
// account that no longer exists, is not an error.
func (s *Service) Logout(ctx context.Context, userID string) (err error) {
	defer func() { s.record(opLogout, err) }()

	if err := s.users.SetRefreshHash(ctx, userID, nil); err != nil && !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("clear refresh hash: %w", err)
	}
	return nil
}

// ChangePassword also ends the current session, so every refresh token issued
// before the change stops working.
func (s *Service) ChangePassword(ctx context.Context, userID string, req ChangePasswordRequest) (err error) {
	defer func() { s.record(opChangePassword, err) }()

	user, err := s.users.FindByIDWithCredentials(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrUserNotFound
		}
		return fmt.Errorf("load user: %w", err)
	}

	if !s.hasher.Verify(ctx, req.CurrentPassword, user.PasswordHash) {
		return ErrWrongPassword
	}

	hash, err := s.hasher.Hash(ctx, req.NewPassword)
	if err != nil {
		if errors.Is(err, password.ErrTooLong) {
			return fmt.Errorf("%w: %v", ErrValidation, err)
		}
		return fmt.Errorf("hash password: %w", err)
	}

	if err := s.users.SetPasswordHash(ctx, userID, hash); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrUserNotFound
		}
		return fmt.Errorf("store password hash: %w", err)
	}

	logging.FromContext(ctx).Info("password changed", "user_id", userID)
	return nil
}

func (s *Service) GetProfile(ctx context.Context, userID string) (*domain.Profile, error) {
	p, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load profile: %w", err)
	}
	return p, nil
}

func (s *Service) UpdateProfile(ctx context.Context, userID string, req UpdateProfileRequest) (*domain.Profile, error) {
	upd := domain.ProfileUpdate{Name: trimmed(req.Name), Phone: trimmed(req.Phone)}

	p, err := s.users.UpdateProfile(ctx, userID, upd)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("update profile: %w", err)
	}
	return p, nil
}

// issueTokens mints an access/refresh pair for u and returns the digest of the
// refresh token, which is what gets stored.
func (s *Service) issueTokens(u *domain.User) (*TokenPair, string, error) {
	access, err := s.access.Sign(jwt.Claims{
		Email:            u.Email,
		Role:             string(u.Role),
		RegisteredClaims: jwtlib.RegisteredClaims{Subject: u.ID},
	})
	if err != nil {
		return nil, "", fmt.Errorf("sign access token: %w", err)
	}

	refresh, err := s.refresh.Sign(jwt.Claims{
		RegisteredClaims: jwtlib.RegisteredClaims{Subject: u.ID, ID: uuid.NewString()},
	})
	if err != nil {
		return nil, "", fmt.Errorf("sign refresh token: %w", err)
	}

	return &TokenPair{AccessToken: access, RefreshToken: refresh}, hashToken(refresh), nil
}

func (s *Service) record(op string, err error) {
	outcome := "success"
	switch {
	case err == nil:
	case errors.Is(err, ErrDuplicateAccount),
		errors.Is(err, ErrInvalidCredentials),
		errors.Is(err, ErrValidation),
		op == opRefresh:
		outcome = "rejected"
	default:
		outcome = "error"
	}
	s.recorder.AuthOutcome(op, outcome)
}

// hashToken returns the hex SHA-256 of a raw refresh token. Refresh tokens are
// high-entropy, so a fast unsalted digest is enough; bcrypt would also
// truncate them at 72 bytes.
func hashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func trimmed(v *string) *string {
	if v == nil {
		return nil
	}
	t := strings.TrimSpace(*v)
	return &t
}
