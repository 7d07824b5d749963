package auth

import (
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignAndVerify(t *testing.T) {
	svc := NewService([]byte("test-secret"), "clickbattle")

	token, err := svc.Sign("u-123", "Alice")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := svc.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "u-123", claims.UserID)
	assert.Equal(t, "Alice", claims.Name)
	assert.Equal(t, "clickbattle", claims.Issuer)
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	svc := NewService([]byte("test-secret"), "clickbattle")
	other := NewService([]byte("other-secret"), "clickbattle")

	token, err := svc.Sign("u-123", "Alice")
	require.NoError(t, err)

	_, err = other.Verify(token)
	assert.Error(t, err)
}

func TestVerifyRejectsGarbage(t *testing.T) {
	svc := NewService([]byte("test-secret"), "clickbattle")

	_, err := svc.Verify("not.a.token")
	assert.Error(t, err)
	_, err = svc.Verify("")
	assert.Error(t, err)
}

func TestVerifyRejectsNonHMAC(t *testing.T) {
	svc := NewService([]byte("test-secret"), "clickbattle")

	// alg=none tokens must never pass.
	token := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{UserID: "u-123", Name: "Eve"})
	signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = svc.Verify(signed)
	assert.Error(t, err)
}
