package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bookhaven/library-service/internal/domain"
	"github.com/bookhaven/library-service/internal/service"
	"github.com/bookhaven/library-service/internal/testutil"
	"github.com/bookhaven/library-service/pkg/auth"
	"github.com/bookhaven/library-service/pkg/config"
)

type authEnv struct {
	svc        service.AuthService
	userRepo   *testutil.FakeUserRepository
	borrowRepo *testutil.FakeBorrowRepository
	bookRepo   *testutil.FakeBookRepository
	bus        *testutil.FakeEventBus
	cfg        *config.Config
}

func newAuthEnv(t *testing.T) *authEnv {
	t.Helper()

	userRepo := testutil.NewFakeUserRepository()
	bookRepo := testutil.NewFakeBookRepository()
	borrowRepo := testutil.NewFakeBorrowRepository(bookRepo, userRepo)
	bus := testutil.NewFakeEventBus()

	cfg := &config.Config{
		Auth: config.AuthConfig{
			JWTSecret:      "test-secret",
			AccessTokenTTL: time.Hour,
		},
		Library: config.LibraryConfig{
			AdminUsername: "admin",
			AdminPassword: "admin123",
		},
	}

	return &authEnv{
		svc:        service.NewAuthService(userRepo, borrowRepo, bus, cfg),
		userRepo:   userRepo,
		borrowRepo: borrowRepo,
		bookRepo:   bookRepo,
		bus:        bus,
		cfg:        cfg,
	}
}

func TestRegister_AndLogin(t *testing.T) {
	env := newAuthEnv(t)
	ctx := context.Background()

	user, err := env.svc.Register(ctx, &domain.CreateUserRequest{
		Username: "Alice",
		Password: "secret123",
		Name:     "Alice Smith",
	})
	require.NoError(t, err)
	assert.Equal(t, "alice", user.Username, "usernames are lowercased")
	assert.Equal(t, domain.RoleUser, user.Role)
	assert.Contains(t, env.bus.Subjects(), "user.registered")

	resp, err := env.svc.Login(ctx, &domain.LoginRequest{Username: "Alice", Password: "secret123"})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.AccessToken)
	assert.Equal(t, int64(3600), resp.ExpiresIn)
	assert.Equal(t, user.ID, resp.User.ID)

	claims, err := auth.Parse(resp.AccessToken, "test-secret")
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.Sub)
	assert.Equal(t, "alice", claims.Username)
	assert.Equal(t, domain.RoleUser, claims.Role)
}

func TestRegister_NeverGrantsAdmin(t *testing.T) {
	env := newAuthEnv(t)

	user, err := env.svc.Register(context.Background(), &domain.CreateUserRequest{
		Username: "mallory",
		Password: "secret123",
		Name:     "Mallory",
		Role:     domain.RoleAdmin,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.RoleUser, user.Role)
}

func TestRegister_DuplicateUsername(t *testing.T) {
	env := newAuthEnv(t)
	ctx := context.Background()

	_, err := env.svc.Register(ctx, &domain.CreateUserRequest{
		Username: "alice", Password: "secret123", Name: "Alice",
	})
	require.NoError(t, err)

	_, err = env.svc.Register(ctx, &domain.CreateUserRequest{
		Username: "ALICE", Password: "other456", Name: "Impostor",
	})
	assert.ErrorIs(t, err, domain.ErrUsernameExists)
}

func TestRegister_InvalidInput(t *testing.T) {
	env := newAuthEnv(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  domain.CreateUserRequest
	}{
		{"empty username", domain.CreateUserRequest{Password: "secret123", Name: "X"}},
		{"short password", domain.CreateUserRequest{Username: "bob", Password: "123", Name: "Bob"}},
		{"empty name", domain.CreateUserRequest{Username: "bob", Password: "secret123"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.svc.Register(ctx, &tt.req)
			assert.ErrorIs(t, err, domain.ErrInvalidInput)
		})
	}
}

func TestLogin_InvalidCredentials(t *testing.T) {
	env := newAuthEnv(t)
	ctx := context.Background()

	_, err := env.svc.Register(ctx, &domain.CreateUserRequest{
		Username: "alice", Password: "secret123", Name: "Alice",
	})
	require.NoError(t, err)

	_, err = env.svc.Login(ctx, &domain.LoginRequest{Username: "alice", Password: "wrong-password"})
	assert.ErrorIs(t, err, domain.ErrInvalidCredentials)

	_, err = env.svc.Login(ctx, &domain.LoginRequest{Username: "nobody", Password: "secret123"})
	assert.ErrorIs(t, err, domain.ErrInvalidCredentials)
}

func TestChangePassword(t *testing.T) {
	env := newAuthEnv(t)
	ctx := context.Background()

	user, err := env.svc.Register(ctx, &domain.CreateUserRequest{
		Username: "alice", Password: "secret123", Name: "Alice",
	})
	require.NoError(t, err)

	err = env.svc.ChangePassword(ctx, user.ID, &domain.ChangePasswordRequest{
		OldPassword: "wrong", NewPassword: "newsecret",
	})
	assert.ErrorIs(t, err, domain.ErrInvalidCredentials)

	err = env.svc.ChangePassword(ctx, user.ID, &domain.ChangePasswordRequest{
		OldPassword: "secret123", NewPassword: "newsecret",
	})
	require.NoError(t, err)

	_, err = env.svc.Login(ctx, &domain.LoginRequest{Username: "alice", Password: "secret123"})
	assert.ErrorIs(t, err, domain.ErrInvalidCredentials)

	_, err = env.svc.Login(ctx, &domain.LoginRequest{Username: "alice", Password: "newsecret"})
	require.NoError(t, err)
}

func TestUpdateUser_UsernameConflict(t *testing.T) {
	env := newAuthEnv(t)
	ctx := context.Background()

	_, err := env.svc.Register(ctx, &domain.CreateUserRequest{
		Username: "alice", Password: "secret123", Name: "Alice",
	})
	require.NoError(t, err)

	bob, err := env.svc.Register(ctx, &domain.CreateUserRequest{
		Username: "bob", Password: "secret123", Name: "Bob",
	})
	require.NoError(t, err)

	taken := "alice"
	_, err = env.svc.UpdateUser(ctx, bob.ID, &domain.UpdateUserRequest{Username: &taken})
	assert.ErrorIs(t, err, domain.ErrUsernameExists)

	newName := "Robert"
	updated, err := env.svc.UpdateUser(ctx, bob.ID, &domain.UpdateUserRequest{Name: &newName})
	require.NoError(t, err)
	assert.Equal(t, "Robert", updated.Name)
}

func TestDeleteUser_Guards(t *testing.T) {
	env := newAuthEnv(t)
	ctx := context.Background()

	admin, err := env.svc.CreateUser(ctx, &domain.CreateUserRequest{
		Username: "root", Password: "secret123", Name: "Root", Role: domain.RoleAdmin,
	})
	require.NoError(t, err)

	alice, err := env.svc.Register(ctx, &domain.CreateUserRequest{
		Username: "alice", Password: "secret123", Name: "Alice",
	})
	require.NoError(t, err)

	// Self-deletion is refused.
	err = env.svc.DeleteUser(ctx, admin.ID, admin.ID)
	assert.ErrorIs(t, err, domain.ErrSelfDelete)

	// Open borrows block deletion.
	book, err := env.bookRepo.Create(ctx, &domain.CreateBookRequest{
		Title: "Held", Author: "A", ISBN: "i-1", Quantity: 1,
	})
	require.NoError(t, err)
	now := time.Now()
	rec, err := env.borrowRepo.Create(ctx, alice.ID, book.ID, now, now.AddDate(0, 0, 7))
	require.NoError(t, err)

	err = env.svc.DeleteUser(ctx, admin.ID, alice.ID)
	assert.ErrorIs(t, err, domain.ErrHasOpenBorrows)

	_, err = env.borrowRepo.MarkReturned(ctx, rec.ID)
	require.NoError(t, err)

	require.NoError(t, env.svc.DeleteUser(ctx, admin.ID, alice.ID))

	err = env.svc.DeleteUser(ctx, admin.ID, alice.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDeleteUser_PurgesReturnedHistory(t *testing.T) {
	env := newAuthEnv(t)
	ctx := context.Background()

	admin, err := env.svc.CreateUser(ctx, &domain.CreateUserRequest{
		Username: "root", Password: "secret123", Name: "Root", Role: domain.RoleAdmin,
	})
	require.NoError(t, err)

	bob, err := env.svc.Register(ctx, &domain.CreateUserRequest{
		Username: "bob", Password: "secret123", Name: "Bob",
	})
	require.NoError(t, err)

	book, err := env.bookRepo.Create(ctx, &domain.CreateBookRequest{
		Title: "Cycled", Author: "B", ISBN: "i-2", Quantity: 1,
	})
	require.NoError(t, err)

	now := time.Now()
	rec, err := env.borrowRepo.Create(ctx, bob.ID, book.ID, now, now.AddDate(0, 0, 7))
	require.NoError(t, err)
	_, err = env.borrowRepo.MarkReturned(ctx, rec.ID)
	require.NoError(t, err)

	require.NoError(t, env.svc.DeleteUser(ctx, admin.ID, bob.ID))

	_, total, err := env.borrowRepo.List(ctx, domain.BorrowFilter{UserID: &bob.ID}, 10, 0)
	require.NoError(t, err)
	assert.Zero(t, total, "returned history goes with the user")
}

func TestEnsureAdmin(t *testing.T) {
	env := newAuthEnv(t)
	ctx := context.Background()

	require.NoError(t, env.svc.EnsureAdmin(ctx))

	admin, err := env.userRepo.FindByUsername(ctx, "admin")
	require.NoError(t, err)
	require.NotNil(t, admin)
	assert.Equal(t, domain.RoleAdmin, admin.Role)

	// Idempotent on restart.
	require.NoError(t, env.svc.EnsureAdmin(ctx))
	_, total, err := env.userRepo.List(ctx, "", 10, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)

	resp, err := env.svc.Login(ctx, &domain.LoginRequest{Username: "admin", Password: "admin123"})
	require.NoError(t, err)
	assert.Equal(t, domain.RoleAdmin, resp.User.Role)
}
