package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
)

func TestHashAndCheckPassword(t *testing.T) {
	pwd := "s3cr3t-password"
	hash, err := HashPassword(pwd)
	require.NoError(t, err)

	require.NoError(t, CheckPassword(hash, pwd))
	require.Error(t, CheckPassword(hash, "wrong"))
}

func TestJWTManager_GenerateAndVerify(t *testing.T) {
	m := NewJWTManager("test-secret", 5*time.Minute)
	id := bson.NewObjectID()

	token, exp, err := m.GenerateToken(id, "test@example.com")
	require.NoError(t, err)
	require.WithinDuration(t, time.Now().Add(5*time.Minute), exp, 5*time.Second)

	claims, err := m.VerifyToken(token)
	require.NoError(t, err)
	require.Equal(t, id.Hex(), claims.UserID)
	require.Equal(t, id.Hex(), claims.Subject)
	require.Equal(t, "test@example.com", claims.Email)
}

func TestJWTManager_NormalizeEmailClaim(t *testing.T) {
	m := NewJWTManager("test-secret", 5*time.Minute)

	token, _, err := m.GenerateToken(bson.NewObjectID(), " User.Case@Example.COM ")
	require.NoError(t, err)

	claims, err := m.VerifyToken(token)
	require.NoError(t, err)
	require.Equal(t, "user.case@example.com", claims.Email)
}

func TestJWTManager_Rotation(t *testing.T) {
	keys := map[string]string{"k1": "secret-one", "k2": "secret-two"}
	m := NewJWTManagerFromKeys(keys, "k2", 5*time.Minute)
	id := bson.NewObjectID()

	tkn2, _, err := m.GenerateToken(id, "rot@example.com")
	require.NoError(t, err)
	_, err = m.VerifyToken(tkn2)
	require.NoError(t, err)

	// a token issued while k1 was active still verifies
	old := NewJWTManagerFromKeys(keys, "k1", 5*time.Minute)
	tkn1, _, err := old.GenerateToken(id, "rot@example.com")
	require.NoError(t, err)
	_, err = m.VerifyToken(tkn1)
	require.NoError(t, err)

	// once k1 is retired it no longer does
	retired := NewJWTManagerFromKeys(map[string]string{"k2": "secret-two"}, "k2", 5*time.Minute)
	_, err = retired.VerifyToken(tkn1)
	require.ErrorIs(t, err, ErrUnknownKey)
}

func TestJWTManager_Rejects(t *testing.T) {
	m := NewJWTManager("test-secret", time.Minute)
	id := bson.NewObjectID()

	t.Run("expired", func(t *testing.T) {
		past := NewJWTManager("test-secret", time.Minute)
		past.now = func() time.Time { return time.Now().Add(-time.Hour) }
		token, _, err := past.GenerateToken(id, "a@example.com")
		require.NoError(t, err)

		_, err = m.VerifyToken(token)
		require.True(t, errors.Is(err, jwt.ErrTokenExpired))
	})

	t.Run("wrong secret", func(t *testing.T) {
		token, _, err := NewJWTManager("other", time.Minute).GenerateToken(id, "a@example.com")
		require.NoError(t, err)

		_, err = m.VerifyToken(token)
		require.ErrorIs(t, err, jwt.ErrTokenSignatureInvalid)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := m.VerifyToken("not-a-token")
		require.Error(t, err)
	})

	t.Run("malformed user id", func(t *testing.T) {
		claims := &Claims{UserID: "nope", RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		}}
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
		token.Header["kid"] = defaultKID
		signed, err := token.SignedString([]byte("test-secret"))
		require.NoError(t, err)

		_, err = m.VerifyToken(signed)
		require.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestNewJWTManagerFromKeys_FallsBackToFirstKid(t *testing.T) {
	m := NewJWTManagerFromKeys(map[string]string{"b": "two", "a": "one"}, "missing", time.Minute)
	require.Equal(t, "a", m.activeKID)
}

func TestBearerToken(t *testing.T) {
	require.Equal(t, "abc", BearerToken("Bearer abc"))
	require.Equal(t, "abc", BearerToken("  Bearer   abc "))
	require.Equal(t, "abc", BearerToken("abc"))
	require.Empty(t, BearerToken("Bearer "))
}
