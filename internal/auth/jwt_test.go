package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndVerify(t *testing.T) {
	m, err := NewManager("secret", time.Hour)
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	token, err := m.Issue(now, 7, "admin@clinic.mx", "admin")
	require.NoError(t, err)

	claims, err := m.Verify(token, now.Add(time.Minute))
	require.NoError(t, err)
	id, err := claims.UserID()
	require.NoError(t, err)
	assert.Equal(t, int64(7), id)
	assert.Equal(t, "admin@clinic.mx", claims.Email)
	assert.Equal(t, "admin", claims.Role)
}

func TestVerify_Expired(t *testing.T) {
	m, _ := NewManager("secret", time.Hour)
	now := time.Unix(1700000000, 0).UTC()
	token, err := m.Issue(now, 1, "a@clinic.mx", "staff")
	require.NoError(t, err)

	_, err = m.Verify(token, now.Add(2*time.Hour))
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestVerify_WrongSecret(t *testing.T) {
	a, _ := NewManager("secret-a", time.Hour)
	b, _ := NewManager("secret-b", time.Hour)
	now := time.Now()
	token, err := a.Issue(now, 1, "a@clinic.mx", "staff")
	require.NoError(t, err)

	_, err = b.Verify(token, now)
	assert.ErrorIs(t, err, jwt.ErrTokenSignatureInvalid)
}

func TestNewManager_RequiresSecret(t *testing.T) {
	_, err := NewManager("", time.Hour)
	assert.ErrorIs(t, err, ErrMissingSecret)
}
