package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidSession signals a missing, malformed, expired, or forged session
// token.
var ErrInvalidSession = errors.New("auth: invalid session token")

const sessionTTL = 30 * 24 * time.Hour

// Service mints and verifies anonymous customer session tokens. A token binds
// the browser to exactly one customer id; there are no accounts or passwords,
// the identity provider proper sits outside this system.
type Service struct {
	jwtSecret []byte
}

// NewService creates the session token service.
func NewService(jwtSecret string) *Service {
	return &Service{jwtSecret: []byte(jwtSecret)}
}

// MintSession issues a signed token for the given customer id.
func (s *Service) MintSession(customerID string) (string, error) {
	if customerID == "" {
		return "", fmt.Errorf("auth: customer id required")
	}

	claims := jwt.MapClaims{
		"customer_id": customerID,
		"exp":         time.Now().Add(sessionTTL).Unix(),
		"iat":         time.Now().Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("auth: sign session: %w", err)
	}
	return signed, nil
}

// VerifySession validates a token and returns the customer id it binds.
func (s *Service) VerifySession(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", ErrInvalidSession
	}
	customerID, ok := claims["customer_id"].(string)
	if !ok || customerID == "" {
		return "", ErrInvalidSession
	}
	return customerID, nil
}
