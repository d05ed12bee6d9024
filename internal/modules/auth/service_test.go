package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"authservice/internal/database"
	"authservice/internal/domain"
	"authservice/internal/logging"
	"authservice/internal/pkg/jwt"
	"authservice/internal/pkg/password"
	"authservice/internal/repository"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const (
	accessSecret  = "access-secret-for-tests"
	refreshSecret = "refresh-secret-for-tests"
)

type testEnv struct {
	svc      *Service
	repo     *repository.UserRepository
	access   *jwt.Service
	refresh  *jwt.Service
	recorder *countingRecorder
}

func newTestHasher(t *testing.T) *password.Hasher {
	t.Helper()
	h, err := password.New(bcrypt.MinCost, 4)
	require.NoError(t, err)
	return h
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	dsn := fmt.Sprintf("file:auth_service_test_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := database.Connect(dsn, logging.Discard())
	require.NoError(t, err)
	require.NoError(t, database.Migrate(context.Background(), db, dsn))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	env := &testEnv{
		repo:     repository.NewUserRepository(db),
		access:   jwt.New(accessSecret, 15*time.Minute),
		refresh:  jwt.New(refreshSecret, 7*24*time.Hour),
		recorder: &countingRecorder{counts: map[string]int{}},
	}
	env.svc = NewService(env.repo, newTestHasher(t), env.access, env.refresh, env.recorder)
	return env
}

func (e *testEnv) register(t *testing.T, email, pass string) *RegisterResult {
	t.Helper()
	res, err := e.svc.Register(context.Background(), RegisterRequest{
		Email:    email,
		Password: pass,
		Name:     "Test User",
		Phone:    "+77001234567",
	})
	require.NoError(t, err)
	return res
}

type countingRecorder struct {
	mu     sync.Mutex
	counts map[string]int
}

func (r *countingRecorder) AuthOutcome(op, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counts[op+"/"+outcome]++
}

func (r *countingRecorder) get(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[key]
}

func TestService_Register_Success(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	res := env.register(t, "test@example.com", "securepass123")

	require.NotNil(t, res.User)
	assert.Equal(t, "test@example.com", res.User.Email)
	assert.Equal(t, domain.RoleUser, res.User.Role)
	require.NotNil(t, res.User.Phone)
	assert.Equal(t, "+77001234567", *res.User.Phone)
	assert.NotEmpty(t, res.AccessToken)
	assert.NotEmpty(t, res.RefreshToken)

	raw, err := json.Marshal(res)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "password")
	assert.NotContains(t, string(raw), "refresh_token_hash")

	claims, err := env.access.Verify(res.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, res.User.ID, claims.Subject)
	assert.Equal(t, "test@example.com", claims.Email)
	assert.Equal(t, "user", claims.Role)

	stored, err := env.repo.FindByIDWithCredentials(ctx, res.User.ID)
	require.NoError(t, err)
	assert.NotEqual(t, "securepass123", stored.PasswordHash)
	require.True(t, stored.HasSession())
	assert.Equal(t, hashToken(res.RefreshToken), *stored.RefreshTokenHash)

	pair, err := env.svc.Login(ctx, LoginRequest{Email: "test@example.com", Password: "securepass123"})
	require.NoError(t, err)
	assert.NotEmpty(t, pair.AccessToken)
	assert.Equal(t, 1, env.recorder.get("register/success"))
}

func TestService_Register_DuplicateEmail(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first := env.register(t, "exists@example.com", "securepass123")

	_, err := env.svc.Register(ctx, RegisterRequest{Email: "exists@example.com", Password: "otherpass123", Name: "Other"})
	assert.ErrorIs(t, err, ErrDuplicateAccount)

	// the original account and its session are untouched
	u, err := env.repo.FindByEmail(ctx, "exists@example.com")
	require.NoError(t, err)
	assert.Equal(t, first.User.ID, u.ID)
	_, err = env.svc.Refresh(ctx, first.RefreshToken)
	assert.NoError(t, err)
	_, err = env.svc.Login(ctx, LoginRequest{Email: "exists@example.com", Password: "otherpass123"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	assert.Equal(t, 1, env.recorder.get("register/rejected"))
}

func TestService_Register_PasswordTooLong(t *testing.T) {
	env := newTestEnv(t)

	long := make([]byte, password.MaxLength+1)
	for i := range long {
		long[i] = 'a'
	}
	_, err := env.svc.Register(context.Background(), RegisterRequest{Email: "long@example.com", Password: string(long), Name: "L"})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = env.repo.FindByEmail(context.Background(), "long@example.com")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestService_Login_InvalidCredentialsAreIndistinguishable(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.register(t, "a@x.com", "correctpass")

	_, wrongPassword := env.svc.Login(ctx, LoginRequest{Email: "a@x.com", Password: "wrong"})
	_, unknownEmail := env.svc.Login(ctx, LoginRequest{Email: "nouser@x.com", Password: "anything"})

	assert.ErrorIs(t, wrongPassword, ErrInvalidCredentials)
	assert.ErrorIs(t, unknownEmail, ErrInvalidCredentials)
	assert.Equal(t, wrongPassword, unknownEmail)
	assert.Equal(t, wrongPassword.Error(), unknownEmail.Error())
	assert.Equal(t, 2, env.recorder.get("login/rejected"))
}

func TestService_Login_RotatesSession(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	reg := env.register(t, "rot@x.com", "securepass123")

	pair, err := env.svc.Login(ctx, LoginRequest{Email: "rot@x.com", Password: "securepass123"})
	require.NoError(t, err)

	// one session per user: logging in again retires the registration token
	_, err = env.svc.Refresh(ctx, reg.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidRefreshToken)

	_, err = env.svc.Refresh(ctx, pair.RefreshToken)
	assert.NoError(t, err)
}

func TestService_Refresh_SingleUse(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	reg := env.register(t, "once@x.com", "securepass123")

	pair, err := env.svc.Refresh(ctx, reg.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, reg.RefreshToken, pair.RefreshToken)

	claims, err := env.access.Verify(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, reg.User.ID, claims.Subject)

	_, err = env.svc.Refresh(ctx, reg.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidRefreshToken)

	// the rotated token still works exactly once
	_, err = env.svc.Refresh(ctx, pair.RefreshToken)
	assert.NoError(t, err)
	_, err = env.svc.Refresh(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidRefreshToken)
}

func TestService_Refresh_ConcurrentReplayOnlyOneWins(t *testing.T) {
	env := newTestEnv(t)
	reg := env.register(t, "race@x.com", "securepass123")

	const workers = 6
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := env.svc.Refresh(context.Background(), reg.RefreshToken); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			} else {
				assert.ErrorIs(t, err, ErrInvalidRefreshToken)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
}

func TestService_Refresh_RejectsBadTokens(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	reg := env.register(t, "bad@x.com", "securepass123")

	sub := jwtlib.RegisteredClaims{Subject: reg.User.ID, ID: uuid.NewString()}
	wrongSecret, err := jwt.New("some-other-secret", time.Hour).Sign(jwt.Claims{RegisteredClaims: sub})
	require.NoError(t, err)
	expired, err := jwt.New(refreshSecret, -time.Minute).Sign(jwt.Claims{RegisteredClaims: sub})
	require.NoError(t, err)
	unknownUser, err := env.refresh.Sign(jwt.Claims{RegisteredClaims: jwtlib.RegisteredClaims{Subject: uuid.NewString()}})
	require.NoError(t, err)
	forged, err := env.refresh.Sign(jwt.Claims{RegisteredClaims: sub})
	require.NoError(t, err)

	cases := map[string]string{
		"wrong secret":  wrongSecret,
		"expired":       expired,
		"access token":  reg.AccessToken,
		"unknown user":  unknownUser,
		"hash mismatch": forged,
		"malformed":     "not.a.token",
		"empty":         "",
		"truncated":     reg.RefreshToken[:len(reg.RefreshToken)-4],
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := env.svc.Refresh(ctx, token)
			assert.Equal(t, ErrInvalidRefreshToken, err)
		})
	}

	// none of the failures disturbed the live session
	_, err = env.svc.Refresh(ctx, reg.RefreshToken)
	assert.NoError(t, err)
}

func TestService_Logout(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	reg := env.register(t, "out@x.com", "securepass123")

	require.NoError(t, env.svc.Logout(ctx, reg.User.ID))
	require.NoError(t, env.svc.Logout(ctx, reg.User.ID))
	require.NoError(t, env.svc.Logout(ctx, uuid.NewString()))

	_, err := env.svc.Refresh(ctx, reg.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidRefreshToken)

	// logout only ends the session; credentials still work
	pair, err := env.svc.Login(ctx, LoginRequest{Email: "out@x.com", Password: "securepass123"})
	require.NoError(t, err)
	_, err = env.svc.Refresh(ctx, pair.RefreshToken)
	assert.NoError(t, err)
}

func TestService_ChangePassword(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	reg := env.register(t, "pw@x.com", "oldpassword")

	err := env.svc.ChangePassword(ctx, reg.User.ID, ChangePasswordRequest{CurrentPassword: "oldpassword", NewPassword: "newpassword"})
	require.NoError(t, err)

	_, err = env.svc.Refresh(ctx, reg.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidRefreshToken)

	_, err = env.svc.Login(ctx, LoginRequest{Email: "pw@x.com", Password: "oldpassword"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	pair, err := env.svc.Login(ctx, LoginRequest{Email: "pw@x.com", Password: "newpassword"})
	require.NoError(t, err)
	_, err = env.svc.Refresh(ctx, pair.RefreshToken)
	assert.NoError(t, err)
}

func TestService_ChangePassword_Failures(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	reg := env.register(t, "cp@x.com", "oldpassword")

	err := env.svc.ChangePassword(ctx, reg.User.ID, ChangePasswordRequest{CurrentPassword: "nope", NewPassword: "newpassword"})
	assert.ErrorIs(t, err, ErrWrongPassword)
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	err = env.svc.ChangePassword(ctx, uuid.NewString(), ChangePasswordRequest{CurrentPassword: "oldpassword", NewPassword: "newpassword"})
	assert.ErrorIs(t, err, ErrUserNotFound)
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	// a rejected change leaves the session alone
	_, err = env.svc.Refresh(ctx, reg.RefreshToken)
	assert.NoError(t, err)
}

func TestService_Profile(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	reg := env.register(t, "prof@x.com", "securepass123")

	p, err := env.svc.GetProfile(ctx, reg.User.ID)
	require.NoError(t, err)
	assert.Equal(t, "Test User", p.Name)

	name := "  Renamed  "
	p, err = env.svc.UpdateProfile(ctx, reg.User.ID, UpdateProfileRequest{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", p.Name)
	require.NotNil(t, p.Phone)
	assert.Equal(t, "+77001234567", *p.Phone)

	_, err = env.svc.GetProfile(ctx, uuid.NewString())
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = env.svc.UpdateProfile(ctx, uuid.NewString(), UpdateProfileRequest{Name: &name})
	assert.ErrorIs(t, err, ErrNotFound)
}

// Mock store for failure paths the database cannot produce on demand.
type mockUserStore struct {
	mock.Mock
}

func (m *mockUserStore) Create(ctx context.Context, u *domain.User) error {
	args := m.Called(ctx, u)
	return args.Error(0)
}

func (m *mockUserStore) FindByEmail(ctx context.Context, email string) (*domain.User, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *mockUserStore) FindByID(ctx context.Context, id string) (*domain.Profile, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Profile), args.Error(1)
}

func (m *mockUserStore) FindByIDWithCredentials(ctx context.Context, id string) (*domain.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *mockUserStore) SetRefreshHash(ctx context.Context, id string, hash *string) error {
	args := m.Called(ctx, id, hash)
	return args.Error(0)
}

func (m *mockUserStore) SwapRefreshHash(ctx context.Context, id, oldHash, newHash string) (bool, error) {
	args := m.Called(ctx, id, oldHash, newHash)
	return args.Bool(0), args.Error(1)
}

func (m *mockUserStore) UpdateProfile(ctx context.Context, id string, upd domain.ProfileUpdate) (*domain.Profile, error) {
	args := m.Called(ctx, id, upd)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Profile), args.Error(1)
}

func (m *mockUserStore) SetPasswordHash(ctx context.Context, id, hash string) error {
	args := m.Called(ctx, id, hash)
	return args.Error(0)
}

func newMockService(t *testing.T, store *mockUserStore) (*Service, *jwt.Service) {
	t.Helper()
	refresh := jwt.New(refreshSecret, time.Hour)
	return NewService(store, newTestHasher(t), jwt.New(accessSecret, time.Minute), refresh, nil), refresh
}

func TestService_Register_InsertRaceIsDuplicate(t *testing.T) {
	store := new(mockUserStore)
	svc, _ := newMockService(t, store)

	store.On("FindByEmail", mock.Anything, "race@x.com").Return(nil, repository.ErrNotFound)
	store.On("Create", mock.Anything, mock.MatchedBy(func(u *domain.User) bool {
		return u.RefreshTokenHash != nil && u.PasswordHash != "" && u.ID != ""
	})).Return(repository.ErrDuplicateEmail)

	_, err := svc.Register(context.Background(), RegisterRequest{Email: "race@x.com", Password: "securepass123", Name: "R"})
	assert.ErrorIs(t, err, ErrDuplicateAccount)
	store.AssertExpectations(t)
}

func TestService_Register_StoreErrorIsNotDuplicate(t *testing.T) {
	store := new(mockUserStore)
	svc, _ := newMockService(t, store)
	boom := errors.New("connection refused")

	store.On("FindByEmail", mock.Anything, "x@x.com").Return(nil, boom)

	_, err := svc.Register(context.Background(), RegisterRequest{Email: "x@x.com", Password: "securepass123", Name: "X"})
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrDuplicateAccount)
	store.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestService_Refresh_StoreErrorsAreInvalidRefreshToken(t *testing.T) {
	store := new(mockUserStore)
	svc, refresh := newMockService(t, store)

	userID := uuid.NewString()
	token, err := refresh.Sign(jwt.Claims{RegisteredClaims: jwtlib.RegisteredClaims{Subject: userID, ID: uuid.NewString()}})
	require.NoError(t, err)
	digest := hashToken(token)

	store.On("FindByIDWithCredentials", mock.Anything, userID).
		Return(&domain.User{ID: userID, Role: domain.RoleUser, RefreshTokenHash: &digest}, nil)
	store.On("SwapRefreshHash", mock.Anything, userID, digest, mock.AnythingOfType("string")).
		Return(false, errors.New("deadlock detected")).Once()

	_, err = svc.Refresh(context.Background(), token)
	assert.Equal(t, ErrInvalidRefreshToken, err)

	store.On("SwapRefreshHash", mock.Anything, userID, digest, mock.AnythingOfType("string")).
		Return(false, nil).Once()

	_, err = svc.Refresh(context.Background(), token)
	assert.Equal(t, ErrInvalidRefreshToken, err)
	store.AssertExpectations(t)
}

func TestService_Logout_StoreError(t *testing.T) {
	store := new(mockUserStore)
	svc, _ := newMockService(t, store)
	boom := errors.New("disk full")

	store.On("SetRefreshHash", mock.Anything, "u1", (*string)(nil)).Return(boom)

	err := svc.Logout(context.Background(), "u1")
	assert.ErrorIs(t, err, boom)
}
