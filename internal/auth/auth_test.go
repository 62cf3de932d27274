package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "test-secret"

func TestParseTokenRoundTrip(t *testing.T) {
	tok, err := IssueToken(Identity{UserID: "u1", Role: RoleAdmin}, secret, time.Hour)
	require.NoError(t, err)

	id, err := ParseToken(tok, secret)
	require.NoError(t, err)
	assert.Equal(t, "u1", id.UserID)
	assert.True(t, id.IsAdmin())
	assert.False(t, id.Anonymous())
}

func TestParseTokenRejects(t *testing.T) {
	expired, err := IssueToken(Identity{UserID: "u1", Role: RoleMember}, secret, -time.Minute)
	require.NoError(t, err)

	wrongKey, err := IssueToken(Identity{UserID: "u1", Role: RoleMember}, "other", time.Hour)
	require.NoError(t, err)

	badRole, err := IssueToken(Identity{UserID: "u1", Role: "root"}, secret, time.Hour)
	require.NoError(t, err)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{UserID: "u1", Role: RoleAdmin}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	hs512, err := jwt.NewWithClaims(jwt.SigningMethodHS512, Claims{UserID: "u1", Role: RoleAdmin}).
		SignedString([]byte(secret))
	require.NoError(t, err)

	for name, tok := range map[string]string{
		"expired":   expired,
		"wrong key": wrongKey,
		"bad role":  badRole,
		"alg none":  none,
		"hs512":     hs512,
		"garbage":   "not.a.jwt",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParseToken(tok, secret)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestZeroIdentityIsAnonymous(t *testing.T) {
	var id Identity
	assert.True(t, id.Anonymous())
	assert.False(t, id.IsAdmin())
}
