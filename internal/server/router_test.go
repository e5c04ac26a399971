package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bucketd/internal/auth"
	"bucketd/internal/blob"
	"bucketd/internal/config"
)

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.Config{
		Auth: config.AuthConfig{
			TokenSecret: "router-test-secret",
			TokenTTL:    time.Minute,
			BcryptCost:  4,
		},
		Metrics: config.MetricsConfig{PrometheusPath: "/metrics"},
	}

	authService := auth.NewService(newUserStore(), cfg.Auth, 1<<30)

	return NewRouter(Dependencies{
		Config:      cfg,
		BlobStore:   blob.NewStore(memfs.New()),
		AuthService: authService,
	})
}

func TestLivenessEndpoint(t *testing.T) {
	router := newTestRouter(t)

	rr := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/health/live", nil)
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	router := newTestRouter(t)

	rr := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/v1/auth/me", nil)
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestRegisterLoginAndMe(t *testing.T) {
	router := newTestRouter(t)

	registerBody, _ := json.Marshal(map[string]string{
		"email":    "router@example.com",
		"password": "password123",
	})
	rr := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPost, "/v1/auth/register", bytes.NewBuffer(registerBody))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusCreated, rr.Code)

	loginBody, _ := json.Marshal(map[string]string{
		"email":    "router@example.com",
		"password": "password123",
	})
	rr = httptest.NewRecorder()
	req, _ = http.NewRequest(http.MethodPost, "/v1/auth/login", bytes.NewBuffer(loginBody))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	var loginResp struct {
		Token struct {
			AccessToken string `json:"access_token"`
		} `json:"token"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &loginResp))
	require.NotEmpty(t, loginResp.Token.AccessToken)

	rr = httptest.NewRecorder()
	req, _ = http.NewRequest(http.MethodGet, "/v1/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+loginResp.Token.AccessToken)
	router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)

	var me struct {
		Email string `json:"email"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &me))
	assert.Equal(t, "router@example.com", me.Email)
}

func TestMetricsEndpointMounted(t *testing.T) {
	router := newTestRouter(t)

	rr := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/metrics", nil)
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.NotZero(t, rr.Body.Len())
}

// --- fakes ----

type userStore struct {
	users map[uuid.UUID]auth.User
}

func newUserStore() *userStore {
	return &userStore{users: make(map[uuid.UUID]auth.User)}
}

func (s *userStore) CreateUser(ctx context.Context, email, passwordHash string, displayName *string, isAdmin bool, storageLimit int64) (auth.User, error) {
	for _, u := range s.users {
		if u.Email == email {
			return auth.User{}, auth.ErrEmailAlreadyExists
		}
	}
	user := auth.User{
		ID:                uuid.New(),
		Email:             email,
		PasswordHash:      passwordHash,
		DisplayName:       displayName,
		IsAdmin:           isAdmin,
		StorageLimitBytes: storageLimit,
		CreatedAt:         time.Now(),
	}
	s.users[user.ID] = user
	return user, nil
}

func (s *userStore) FindUserByEmail(ctx context.Context, email string) (auth.User, error) {
	for _, u := range s.users {
		if u.Email == email {
			return u, nil
		}
	}
	return auth.User{}, auth.ErrUserNotFound
}

func (s *userStore) GetUser(ctx context.Context, userID uuid.UUID) (auth.User, error) {
	u, ok := s.users[userID]
	if !ok {
		return auth.User{}, auth.ErrUserNotFound
	}
	return u, nil
}
