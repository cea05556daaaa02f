package security

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestIssueAndVerify(t *testing.T) {
	issuer := NewTokenIssuer(testSecret, time.Hour, ScopeUser)

	token, expiresAt, err := issuer.Issue(42, "+15551234567", false)
	require.NoError(t, err)
	require.NotEmpty(t, token)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, 5*time.Second)

	claims, err := issuer.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, int64(42), claims.UserID)
	assert.Equal(t, "+15551234567", claims.PhoneNumber)
	assert.Equal(t, ScopeUser, claims.Scope)
	assert.False(t, claims.IsAdmin)
}

func TestVerifyExpiredToken(t *testing.T) {
	issuer := NewTokenIssuer(testSecret, -time.Minute, ScopeUser)

	token, _, err := issuer.Issue(1, "+15550000001", false)
	require.NoError(t, err)

	_, err = issuer.Verify(token)
	assert.Error(t, err)
}

func TestVerifyWrongSecret(t *testing.T) {
	a := NewTokenIssuer(testSecret, time.Hour, ScopeUser)
	b := NewTokenIssuer(strings.Repeat("k", 32), time.Hour, ScopeUser)

	token, _, err := a.Issue(1, "+15550000001", false)
	require.NoError(t, err)

	_, err = b.Verify(token)
	assert.Error(t, err)
}

func TestVerifyScopeMismatch(t *testing.T) {
	// Same secret on purpose: scope alone must keep the surfaces apart.
	userIssuer := NewTokenIssuer(testSecret, time.Hour, ScopeUser)
	adminIssuer := NewTokenIssuer(testSecret, time.Hour, ScopeAdmin)

	token, _, err := userIssuer.Issue(1, "+15550000001", false)
	require.NoError(t, err)

	_, err = adminIssuer.Verify(token)
	assert.Error(t, err)
}

func TestVerifyGarbage(t *testing.T) {
	issuer := NewTokenIssuer(testSecret, time.Hour, ScopeAdmin)

	for _, token := range []string{"", "not-a-jwt", "a.b.c"} {
		_, err := issuer.Verify(token)
		assert.Error(t, err)
	}
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("hunter2-but-longer")
	require.NoError(t, err)

	assert.True(t, CheckPasswordHash("hunter2-but-longer", hash))
	assert.False(t, CheckPasswordHash("wrong", hash))
}
