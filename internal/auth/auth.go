// Package auth verifies bearer tokens issued by the identity service.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type Role string

const (
	RoleMember Role = "member"
	RoleAdmin  Role = "admin"
)

var ErrInvalidToken = errors.New("invalid token")

// Claims are the JWT claims embedded in each access token.
type Claims struct {
	UserID string `json:"user_id"`
	Role   Role   `json:"role"`
	jwt.RegisteredClaims
}

// Identity is the caller of a request. The zero value is anonymous.
type Identity struct {
	UserID string
	Role   Role
}

func (i Identity) Anonymous() bool { return i.UserID == "" }
func (i Identity) IsAdmin() bool   { return i.Role == RoleAdmin }

// ParseToken validates an HS256 token and returns the caller it names.
// Tokens signed with any other algorithm are rejected.
func ParseToken(tokenStr, secret string) (Identity, error) {
	const op = "auth.ParseToken"

	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return Identity{}, fmt.Errorf("%s:%w: %v", op, ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.UserID == "" {
		return Identity{}, fmt.Errorf("%s:%w", op, ErrInvalidToken)
	}
	switch claims.Role {
	case RoleMember, RoleAdmin:
	default:
		return Identity{}, fmt.Errorf("%s:%w: unknown role %q", op, ErrInvalidToken, claims.Role)
	}

	return Identity{UserID: claims.UserID, Role: claims.Role}, nil
}

// IssueToken signs a token for id. Production tokens come from the identity
// service; this exists for local tooling and tests.
func IssueToken(id Identity, secret string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: id.UserID,
		Role:   id.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("auth.IssueToken:%w", err)
	}
	return signed, nil
}
