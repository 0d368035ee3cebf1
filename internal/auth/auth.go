// Package auth implements the Credential Verifier: HMAC-signed join tokens
// that prove a client was issued membership in a specific room.
package auth

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// CustomClaims is the JWT payload minted by the REST join endpoint and
// verified by the Signaling Hub's WebSocket upgrade.
type CustomClaims struct {
	RoomID  string `json:"room_id"`
	Display string `json:"display"`
	jwt.RegisteredClaims
}

// Service generates and validates join tokens using a single symmetric
// secret — there is no external identity provider in this deployment.
type Service struct {
	secret        []byte
	expirySeconds int
}

// NewService builds a Service from a configured HMAC secret and token
// lifetime.
func NewService(secret string, expirySeconds int) *Service {
	if expirySeconds <= 0 {
		expirySeconds = 900
	}
	return &Service{secret: []byte(secret), expirySeconds: expirySeconds}
}

// GenerateToken mints a signed join token binding a user to a room.
func (s *Service) GenerateToken(userID, roomID, display string) (string, error) {
	now := time.Now()
	claims := CustomClaims{
		RoomID:  roomID,
		Display: display,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Duration(s.expirySeconds) * time.Second)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken parses and verifies a join token, returning its claims.
func (s *Service) ValidateToken(tokenString string) (*CustomClaims, error) {
	claims := &CustomClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}

// ExtractFromQuery pulls a bare "token=xxx" query parameter out of a raw
// query string, matching the format the client appends to the WS URL.
func ExtractFromQuery(rawQuery string) (string, error) {
	values, err := url.ParseQuery(rawQuery)
	if err != nil {
		return "", fmt.Errorf("parse query: %w", err)
	}
	token := values.Get("token")
	if token == "" {
		return "", fmt.Errorf("token not provided")
	}
	return token, nil
}

// GetAllowedOriginsFromEnv reads a comma-separated origin allowlist from an
// environment variable, falling back to the given defaults when unset.
func GetAllowedOriginsFromEnv(envVarName string, defaults []string) []string {
	raw := os.Getenv(envVarName)
	if raw == "" {
		return defaults
	}
	parts := strings.Split(raw, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			origins = append(origins, p)
		}
	}
	if len(origins) == 0 {
		return defaults
	}
	return origins
}
