package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func signToken(t *testing.T, claims jwt.MapClaims, secret string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func setupRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	verifier, err := NewTokenVerifier(testSecret)
	if err != nil {
		panic(err)
	}
	r.GET("/me", AuthMiddleware(verifier), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user_id": c.GetInt64(UserIDKey)})
	})
	r.GET("/admin", AuthMiddleware(verifier), AdminOnly(), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	return r
}

func do(r *gin.Engine, path, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestAuthMiddleware(t *testing.T) {
	r := setupRouter()
	valid := signToken(t, jwt.MapClaims{"sub": "42", "exp": time.Now().Add(time.Hour).Unix()}, testSecret)

	rec := do(r, "/me", "Bearer "+valid)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"user_id":42}`, rec.Body.String())

	assert.Equal(t, http.StatusUnauthorized, do(r, "/me", "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(r, "/me", "Token "+valid).Code)

	expired := signToken(t, jwt.MapClaims{"sub": "42", "exp": time.Now().Add(-time.Hour).Unix()}, testSecret)
	assert.Equal(t, http.StatusUnauthorized, do(r, "/me", "Bearer "+expired).Code)

	wrongKey := signToken(t, jwt.MapClaims{"sub": "42"}, "other")
	assert.Equal(t, http.StatusUnauthorized, do(r, "/me", "Bearer "+wrongKey).Code)

	badSubject := signToken(t, jwt.MapClaims{"sub": "not-a-number"}, testSecret)
	assert.Equal(t, http.StatusUnauthorized, do(r, "/me", "Bearer "+badSubject).Code)
}

func TestAdminOnly(t *testing.T) {
	r := setupRouter()
	user := signToken(t, jwt.MapClaims{"sub": "7"}, testSecret)
	admin := signToken(t, jwt.MapClaims{"sub": "1", "role": "admin"}, testSecret)

	assert.Equal(t, http.StatusForbidden, do(r, "/admin", "Bearer "+user).Code)
	assert.Equal(t, http.StatusNoContent, do(r, "/admin", "Bearer "+admin).Code)
}

func TestNewTokenVerifierRejectsEmptySecret(t *testing.T) {
	verifier, err := NewTokenVerifier("")
	assert.ErrorIs(t, err, ErrEmptySecret)
	assert.Nil(t, verifier)

	forged := signToken(t, jwt.MapClaims{"sub": "1", "role": "admin"}, "")
	_, err = (&TokenVerifier{}).Verify(forged)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
