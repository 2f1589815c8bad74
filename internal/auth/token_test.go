package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestVerifyRoundTrip(t *testing.T) {
	v := NewVerifier("a-test-secret-that-is-long-enough")
	perms := Permissions{CanRead: []string{"doc1"}, CanWrite: []string{"doc1"}}

	token, err := v.IssueAccessToken("user-1", "u@example.com", perms, time.Hour)
	require.NoError(t, err)

	payload, ok := v.Verify(token)
	require.True(t, ok)
	require.Equal(t, "user-1", payload.UserID)
	require.Equal(t, "u@example.com", payload.Email)
	require.Equal(t, perms, payload.Permissions)
}

func TestVerifyFailsSilentlyOnBadSignature(t *testing.T) {
	v1 := NewVerifier("secret-one-is-long-enough-123456")
	v2 := NewVerifier("secret-two-is-long-enough-123456")

	token, err := v1.IssueAccessToken("user-1", "", Permissions{}, time.Hour)
	require.NoError(t, err)

	_, ok := v2.Verify(token)
	require.False(t, ok)
}

func TestVerifyFailsSilentlyOnExpired(t *testing.T) {
	v := NewVerifier("secret-expired-test-is-long-enough")
	token, err := v.IssueAccessToken("user-1", "", Permissions{}, -time.Hour)
	require.NoError(t, err)

	_, ok := v.Verify(token)
	require.False(t, ok)
}

func TestVerifyFailsOnGarbage(t *testing.T) {
	v := NewVerifier("secret-garbage-test-is-long-enough")
	_, ok := v.Verify("not.a.jwt")
	require.False(t, ok)
}

func TestRefreshTokenRoundTrip(t *testing.T) {
	v := NewVerifier("secret-refresh-test-is-long-enough")
	token, err := v.IssueRefreshToken("user-1", 0)
	require.NoError(t, err)

	userID, ok := v.VerifyRefreshToken(token)
	require.True(t, ok)
	require.Equal(t, "user-1", userID)
}

func TestPermissionEvaluationTable(t *testing.T) {
	const doc = "doc1"
	cases := []struct {
		admin    bool
		wildcard bool
		exact    bool
		want     bool
	}{
		{false, false, false, false},
		{false, false, true, true},
		{false, true, false, true},
		{false, true, true, true},
		{true, false, false, true},
		{true, false, true, true},
		{true, true, false, true},
		{true, true, true, true},
	}
	for _, tc := range cases {
		var grants []string
		if tc.wildcard {
			grants = append(grants, "*")
		}
		if tc.exact {
			grants = append(grants, doc)
		}
		p := Permissions{CanRead: grants, CanWrite: grants, IsAdmin: tc.admin}
		require.Equal(t, tc.want, p.CanReadDocument(doc), "%+v", tc)
		require.Equal(t, tc.want, p.CanWriteDocument(doc), "%+v", tc)
	}
}

func TestValidateSecret(t *testing.T) {
	_, err := ValidateSecret("production", DefaultDevelopmentSecret)
	require.Error(t, err)

	_, err = ValidateSecret("production", "short")
	require.Error(t, err)

	warn, err := ValidateSecret("development", "short")
	require.NoError(t, err)
	require.NotEmpty(t, warn)

	warn, err = ValidateSecret("production", "a-secret-that-is-at-least-32-bytes-long")
	require.NoError(t, err)
	require.Empty(t, warn)
}
