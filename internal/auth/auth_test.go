package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndVerify(t *testing.T) {
	svc := NewService("test-secret-at-least-16-chars", time.Hour)

	token, err := svc.Issue("rakib")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	username, err := svc.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "rakib", username)
}

func TestVerifyExpiredToken(t *testing.T) {
	svc := NewService("test-secret-at-least-16-chars", -time.Minute)

	token, err := svc.Issue("rakib")
	require.NoError(t, err)

	_, err = svc.Verify(token)
	assert.Error(t, err)
}

func TestVerifyWrongSecret(t *testing.T) {
	issuer := NewService("test-secret-at-least-16-chars", time.Hour)
	verifier := NewService("a-completely-different-secret", time.Hour)

	token, err := issuer.Issue("rakib")
	require.NoError(t, err)

	_, err = verifier.Verify(token)
	assert.Error(t, err)
}

func TestVerifyGarbageToken(t *testing.T) {
	svc := NewService("test-secret-at-least-16-chars", time.Hour)

	tests := []string{
		"",
		"not-a-token",
		"aaaa.bbbb.cccc",
	}
	for _, token := range tests {
		_, err := svc.Verify(token)
		assert.Error(t, err, "token %q should not verify", token)
	}
}

func TestVerifyTokenWithoutSubject(t *testing.T) {
	svc := NewService("test-secret-at-least-16-chars", time.Hour)

	token, err := svc.Issue("")
	require.NoError(t, err)

	_, err = svc.Verify(token)
	assert.Error(t, err)
}

func TestHashAndCheckPassword(t *testing.T) {
	hash, err := HashPassword("s3cret-password")
	require.NoError(t, err)
	require.NotEmpty(t, hash)
	assert.NotEqual(t, "s3cret-password", hash)

	assert.True(t, CheckPassword(hash, "s3cret-password"))
	assert.False(t, CheckPassword(hash, "wrong-password"))
	assert.False(t, CheckPassword("not-a-hash", "s3cret-password"))
}

func TestHashPasswordUniqueSalts(t *testing.T) {
	h1, err := HashPassword("same-password")
	require.NoError(t, err)
	h2, err := HashPassword("same-password")
	require.NoError(t, err)

	assert.NotEqual(t, h1, h2, "bcrypt salts should differ per call")
}
