package auth

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"bucketd/internal/config"
)

func testConfig() config.AuthConfig {
	return config.AuthConfig{
		TokenSecret: "test-secret",
		TokenTTL:    time.Minute,
		BcryptCost:  4,
	}
}

func TestRegisterSuccess(t *testing.T) {
	store := newMemoryStore()
	service := NewService(store, testConfig(), 1<<30)

	result, err := service.Register(context.Background(), RegisterInput{
		Email:    "user@example.com",
		Password: "StrongPass1!",
	})
	if err != nil {
		t.Fatalf("register returned error: %v", err)
	}

	if result.User.PasswordHash != "" {
		t.Fatalf("expected password hash to be stripped from response")
	}
	if result.Token.AccessToken == "" {
		t.Fatalf("expected a token to be issued")
	}
	if result.User.StorageLimitBytes != 1<<30 {
		t.Fatalf("expected default storage limit, got %d", result.User.StorageLimitBytes)
	}
	if len(store.users) != 1 {
		t.Fatalf("expected user stored; got %d", len(store.users))
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	store := newMemoryStore()
	service := NewService(store, testConfig(), 1<<30)

	if _, err := service.Register(context.Background(), RegisterInput{
		Email:    "user@example.com",
		Password: "StrongPass1!",
	}); err != nil {
		t.Fatalf("initial registration returned error: %v", err)
	}

	_, err := service.Register(context.Background(), RegisterInput{
		Email:    "user@example.com",
		Password: "AnotherPass2!",
	})
	if err != ErrEmailAlreadyExists {
		t.Fatalf("expected ErrEmailAlreadyExists, got %v", err)
	}
}

func TestLoginAndTokenValidation(t *testing.T) {
	store := newMemoryStore()
	service := NewService(store, testConfig(), 1<<30)

	if _, err := service.Register(context.Background(), RegisterInput{
		Email:    "user@example.com",
		Password: "StrongPass1!",
	}); err != nil {
		t.Fatalf("register returned error: %v", err)
	}

	result, err := service.Login(context.Background(), LoginInput{
		Email:    "user@example.com",
		Password: "StrongPass1!",
	})
	if err != nil {
		t.Fatalf("login returned error: %v", err)
	}

	identity, err := service.ValidateAccessToken(result.Token.AccessToken)
	if err != nil {
		t.Fatalf("validate token returned error: %v", err)
	}
	if identity.UserID != result.User.ID {
		t.Fatalf("expected identity %s, got %s", result.User.ID, identity.UserID)
	}
	if identity.IsAdmin {
		t.Fatalf("regular user must not carry the admin flag")
	}
}

func TestLoginWrongPassword(t *testing.T) {
	store := newMemoryStore()
	service := NewService(store, testConfig(), 1<<30)

	if _, err := service.Register(context.Background(), RegisterInput{
		Email:    "user@example.com",
		Password: "StrongPass1!",
	}); err != nil {
		t.Fatalf("register returned error: %v", err)
	}

	if _, err := service.Login(context.Background(), LoginInput{
		Email:    "user@example.com",
		Password: "WrongPass9!",
	}); err != ErrInvalidCredentials {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestValidateExpiredToken(t *testing.T) {
	store := newMemoryStore()
	service := NewService(store, testConfig(), 1<<30)

	past := time.Now().Add(-time.Hour)
	service.nowFunc = func() time.Time { return past }

	result, err := service.Register(context.Background(), RegisterInput{
		Email:    "user@example.com",
		Password: "StrongPass1!",
	})
	if err != nil {
		t.Fatalf("register returned error: %v", err)
	}

	service.nowFunc = time.Now
	if _, err := service.ValidateAccessToken(result.Token.AccessToken); err != ErrUnauthorized {
		t.Fatalf("expected ErrUnauthorized for expired token, got %v", err)
	}
}

func TestValidateGarbageToken(t *testing.T) {
	service := NewService(newMemoryStore(), testConfig(), 1<<30)

	for _, token := range []string{"", "not-a-jwt", "a.b.c"} {
		if _, err := service.ValidateAccessToken(token); err != ErrUnauthorized {
			t.Fatalf("token %q: expected ErrUnauthorized, got %v", token, err)
		}
	}
}

func TestEnsureAdminBootstrap(t *testing.T) {
	store := newMemoryStore()
	cfg := testConfig()
	cfg.AdminEmail = "admin@example.com"
	cfg.AdminPassword = "AdminPass1!"
	service := NewService(store, cfg, 1<<30)

	if err := service.EnsureAdmin(context.Background()); err != nil {
		t.Fatalf("EnsureAdmin returned error: %v", err)
	}
	if len(store.users) != 1 {
		t.Fatalf("expected admin account created, got %d users", len(store.users))
	}

	// Idempotent.
	if err := service.EnsureAdmin(context.Background()); err != nil {
		t.Fatalf("second EnsureAdmin returned error: %v", err)
	}
	if len(store.users) != 1 {
		t.Fatalf("EnsureAdmin must not duplicate the admin account")
	}

	result, err := service.Login(context.Background(), LoginInput{
		Email:    "admin@example.com",
		Password: "AdminPass1!",
	})
	if err != nil {
		t.Fatalf("admin login returned error: %v", err)
	}
	identity, err := service.ValidateAccessToken(result.Token.AccessToken)
	if err != nil {
		t.Fatalf("validate admin token returned error: %v", err)
	}
	if !identity.IsAdmin {
		t.Fatalf("expected bootstrap account to carry the admin flag")
	}
}

func TestEnsureAdminDisabledWithoutPassword(t *testing.T) {
	store := newMemoryStore()
	service := NewService(store, testConfig(), 1<<30)

	if err := service.EnsureAdmin(context.Background()); err != nil {
		t.Fatalf("EnsureAdmin returned error: %v", err)
	}
	if len(store.users) != 0 {
		t.Fatalf("expected no bootstrap account without a password")
	}
}

// --- fakes ----

type memoryStore struct {
	users map[uuid.UUID]User
}

func newMemoryStore() *memoryStore {
	return &memoryStore{users: make(map[uuid.UUID]User)}
}

func (m *memoryStore) CreateUser(ctx context.Context, email, passwordHash string, displayName *string, isAdmin bool, storageLimit int64) (User, error) {
	for _, u := range m.users {
		if u.Email == email {
			return User{}, ErrEmailAlreadyExists
		}
	}
	user := User{
		ID:                uuid.New(),
		Email:             email,
		PasswordHash:      passwordHash,
		DisplayName:       displayName,
		IsAdmin:           isAdmin,
		StorageLimitBytes: storageLimit,
		CreatedAt:         time.Now(),
	}
	m.users[user.ID] = user
	return user, nil
}

func (m *memoryStore) FindUserByEmail(ctx context.Context, email string) (User, error) {
	for _, u := range m.users {
		if u.Email == email {
			return u, nil
		}
	}
	return User{}, ErrUserNotFound
}

func (m *memoryStore) GetUser(ctx context.Context, userID uuid.UUID) (User, error) {
	u, ok := m.users[userID]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return u, nil
}
