package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"bucketd/internal/config"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const maxPasswordLength = 72 // bcrypt limit

// userStore abstracts the persistence layer.
type userStore interface {
	CreateUser(ctx context.Context, email, passwordHash string, displayName *string, isAdmin bool, storageLimit int64) (User, error)
	FindUserByEmail(ctx context.Context, email string) (User, error)
	GetUser(ctx context.Context, userID uuid.UUID) (User, error)
}

// Service is the identity provider: it issues tokens and resolves bearer
// credentials to a verified Identity. No other component touches credentials.
type Service struct {
	store        userStore
	cfg          config.AuthConfig
	defaultLimit int64
	nowFunc      func() time.Time
	idIssuer     string
	parser       *jwt.Parser
}

// NewService creates a Service with dependencies.
func NewService(store userStore, cfg config.AuthConfig, defaultLimit int64) *Service {
	return &Service{
		store:        store,
		cfg:          cfg,
		defaultLimit: defaultLimit,
		nowFunc:      time.Now,
		idIssuer:     "bucketd",
		parser:       jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name})),
	}
}

// RegisterInput carries data for user registration.
type RegisterInput struct {
	Email       string
	Password    string
	DisplayName *string
}

// LoginInput carries login credentials.
type LoginInput struct {
	Email    string
	Password string
}

// AuthResult contains user and token information.
type AuthResult struct {
	User  User
	Token Token
}

// Register creates a new user with the default storage limit and issues a token.
func (s *Service) Register(ctx context.Context, input RegisterInput) (AuthResult, error) {
	if err := validateCredentials(input.Email, input.Password); err != nil {
		return AuthResult{}, err
	}

	hashedPassword, err := hashPassword(input.Password, s.cfg.BcryptCost)
	if err != nil {
		return AuthResult{}, fmt.Errorf("hash password: %w", err)
	}

	user, err := s.store.CreateUser(ctx, strings.ToLower(input.Email), hashedPassword, input.DisplayName, false, s.defaultLimit)
	if err != nil {
		if errors.Is(err, ErrEmailAlreadyExists) {
			return AuthResult{}, ErrEmailAlreadyExists
		}
		return AuthResult{}, fmt.Errorf("create user: %w", err)
	}

	return s.issueToken(user)
}

// Login authenticates credentials and issues a fresh token.
func (s *Service) Login(ctx context.Context, input LoginInput) (AuthResult, error) {
	if err := validateCredentials(input.Email, input.Password); err != nil {
		return AuthResult{}, ErrInvalidCredentials
	}

	user, err := s.store.FindUserByEmail(ctx, strings.ToLower(input.Email))
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return AuthResult{}, ErrInvalidCredentials
		}
		return AuthResult{}, fmt.Errorf("find user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(input.Password)); err != nil {
		return AuthResult{}, ErrInvalidCredentials
	}

	return s.issueToken(user)
}

// CurrentUser resolves an identity back to the full user record.
func (s *Service) CurrentUser(ctx context.Context, userID uuid.UUID) (User, error) {
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return User{}, err
	}
	return user.SafeUser(), nil
}

// EnsureAdmin creates the bootstrap admin account if it does not exist yet.
// A blank password disables the bootstrap entirely.
func (s *Service) EnsureAdmin(ctx context.Context) error {
	if s.cfg.AdminPassword == "" {
		return nil
	}

	if _, err := s.store.FindUserByEmail(ctx, strings.ToLower(s.cfg.AdminEmail)); err == nil {
		return nil
	} else if !errors.Is(err, ErrUserNotFound) {
		return fmt.Errorf("look up admin: %w", err)
	}

	hashedPassword, err := hashPassword(s.cfg.AdminPassword, s.cfg.BcryptCost)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}

	name := "Administrator"
	if _, err := s.store.CreateUser(ctx, strings.ToLower(s.cfg.AdminEmail), hashedPassword, &name, true, s.defaultLimit); err != nil {
		if errors.Is(err, ErrEmailAlreadyExists) {
			return nil
		}
		return fmt.Errorf("create admin: %w", err)
	}
	return nil
}

// ValidateAccessToken verifies the token signature and extracts the identity.
func (s *Service) ValidateAccessToken(tokenString string) (Identity, error) {
	if strings.TrimSpace(tokenString) == "" {
		return Identity{}, ErrUnauthorized
	}

	parsed, err := s.parser.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.cfg.TokenSecret), nil
	})
	if err != nil || !parsed.Valid {
		return Identity{}, ErrUnauthorized
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return Identity{}, ErrUnauthorized
	}

	sub, ok := claims["sub"].(string)
	if !ok {
		return Identity{}, ErrUnauthorized
	}

	userID, err := uuid.Parse(sub)
	if err != nil {
		return Identity{}, ErrUnauthorized
	}

	expFloat, ok := claims["exp"].(float64)
	if !ok {
		return Identity{}, ErrUnauthorized
	}
	if time.Unix(int64(expFloat), 0).Before(s.nowFunc()) {
		return Identity{}, ErrUnauthorized
	}

	isAdmin, _ := claims["is_admin"].(bool)

	return Identity{UserID: userID, IsAdmin: isAdmin}, nil
}

func (s *Service) issueToken(user User) (AuthResult, error) {
	now := s.nowFunc()
	expiresAt := now.Add(s.cfg.TokenTTL)

	claims := jwt.MapClaims{
		"sub":      user.ID.String(),
		"iss":      s.idIssuer,
		"aud":      "bucketd-api",
		"iat":      now.Unix(),
		"exp":      expiresAt.Unix(),
		"email":    user.Email,
		"is_admin": user.IsAdmin,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.cfg.TokenSecret))
	if err != nil {
		return AuthResult{}, fmt.Errorf("sign access token: %w", err)
	}

	return AuthResult{
		User:  user.SafeUser(),
		Token: Token{AccessToken: signed, ExpiresAt: expiresAt},
	}, nil
}

func hashPassword(password string, cost int) (string, error) {
	if len(password) > maxPasswordLength {
		return "", fmt.Errorf("password exceeds maximum length of %d characters", maxPasswordLength)
	}
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

func validateCredentials(email, password string) error {
	if len(strings.TrimSpace(email)) == 0 || len(strings.TrimSpace(password)) == 0 {
		return ErrInvalidCredentials
	}

	if len(password) < 8 || len(password) > maxPasswordLength {
		return ErrInvalidCredentials
	}
	return nil
}
