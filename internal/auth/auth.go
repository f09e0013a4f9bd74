package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/xtrntr/marketplace/internal/catalog"
	"github.com/xtrntr/marketplace/internal/models"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const (
	tokenTTL          = 24 * time.Hour
	maxUsernameLength = 50
	// bcrypt ignores everything past 72 bytes
	maxPasswordLength = 72
)

// ErrInvalidCredentials is returned by Login for unknown users and wrong passwords
var ErrInvalidCredentials = fmt.Errorf("invalid credentials")

// AuthService handles user authentication
type AuthService struct {
	Catalog *catalog.Service
	secret  []byte
	now     func() time.Time
}

// NewAuthService creates a new auth service signing tokens with secret
func NewAuthService(cat *catalog.Service, secret string) *AuthService {
	return &AuthService{Catalog: cat, secret: []byte(secret), now: time.Now}
}

// HashPassword hashes a password with bcrypt
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", fmt.Errorf("password cannot be empty")
	}
	if len(password) > maxPasswordLength {
		return "", fmt.Errorf("password too long (max %d characters)", maxPasswordLength)
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// Register creates a new user with hashed password
func (s *AuthService) Register(ctx context.Context, username, password string) (*models.User, error) {
	if username == "" {
		return nil, fmt.Errorf("username cannot be empty")
	}
	if len(username) > maxUsernameLength {
		return nil, fmt.Errorf("username too long (max %d characters)", maxUsernameLength)
	}

	hashed, err := HashPassword(password)
	if err != nil {
		return nil, err
	}

	user, err := s.Catalog.RegisterUser(ctx, username, hashed)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

// Login verifies credentials and generates a JWT
func (s *AuthService) Login(ctx context.Context, username, password string) (string, error) {
	user, err := s.Catalog.UserByName(ctx, username)
	if err != nil {
		return "", ErrInvalidCredentials
	}
	// catalog-only users have no password and cannot log in
	if user.PasswordHash == "" {
		return "", ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", ErrInvalidCredentials
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id":  user.ID,
		"username": user.Name,
		"exp":      s.now().Add(tokenTTL).Unix(),
	})
	tokenString, err := token.SignedString(s.secret)
	if err != nil {
		return "", err
	}
	return tokenString, nil
}

// GetUserFromToken extracts the user ID from a JWT
func (s *AuthService) GetUserFromToken(tokenString string) (int64, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return 0, err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return 0, fmt.Errorf("invalid token")
	}
	userID, ok := claims["user_id"].(float64)
	if !ok {
		return 0, fmt.Errorf("token has no user_id claim")
	}
	return int64(userID), nil
}
