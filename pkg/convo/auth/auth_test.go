package auth_test

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/randalmurphal/convograph/pkg/convo/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestJWT_IssueVerify(t *testing.T) {
	j, err := auth.NewJWT("s3cret")
	require.NoError(t, err)

	tok, err := j.Issue(42)
	require.NoError(t, err)

	id, err := j.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)
}

func TestJWT_Rejects(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	j, err := auth.NewJWT("s3cret", auth.WithTTL(time.Hour), auth.WithClock(clock))
	require.NoError(t, err)
	other, err := auth.NewJWT("different")
	require.NoError(t, err)

	expired, err := j.Issue(7)
	require.NoError(t, err)
	foreign, err := other.Issue(7)
	require.NoError(t, err)
	noSubject, err := j.Issue(0)
	require.NoError(t, err)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, auth.Claims{UserID: 7}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	now = now.Add(2 * time.Hour)

	tests := []struct {
		name  string
		token string
	}{
		{"expired", expired},
		{"wrong secret", foreign},
		{"missing subject", noSubject},
		{"unsigned", none},
		{"garbage", "not.a.token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := j.Verify(tt.token)
			assert.ErrorIs(t, err, auth.ErrInvalidCredential)
		})
	}

	_, err = j.Verify("")
	assert.ErrorIs(t, err, auth.ErrNoCredential)
}

func TestNewJWT_EmptySecret(t *testing.T) {
	_, err := auth.NewJWT("")
	assert.ErrorIs(t, err, auth.ErrEmptySecret)
}

func TestBcryptHasher(t *testing.T) {
	h := auth.BcryptHasher{Cost: bcrypt.MinCost}

	hash, err := h.Hash("hunter22")
	require.NoError(t, err)
	assert.NotEqual(t, "hunter22", hash)

	assert.NoError(t, h.Compare(hash, "hunter22"))
	assert.ErrorIs(t, h.Compare(hash, "hunter23"), auth.ErrPasswordMismatch)
	assert.Error(t, h.Compare("not-a-hash", "hunter22"))
}
