package service

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/comphours-api/internal/models"
	appErrors "github.com/noah-isme/comphours-api/pkg/errors"
)

const testSecret = "test-secret"

func signToken(t *testing.T, method jwt.SigningMethod, key interface{}, claims *models.JWTClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return token
}

func validClaims() *models.JWTClaims {
	return &models.JWTClaims{
		UserID: "user-1",
		Roles:  []models.UserRole{models.RoleWorker},
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "comphours",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
}

func TestAuthServiceResolvePrincipal(t *testing.T) {
	svc := NewAuthService(zap.NewNop(), AuthConfig{AccessTokenSecret: testSecret, Issuer: "comphours"})

	claims := validClaims()
	claims.Role = models.RoleAdmin
	principal, err := svc.ResolvePrincipal(signToken(t, jwt.SigningMethodHS256, []byte(testSecret), claims))
	require.NoError(t, err)
	assert.Equal(t, "user-1", principal.UserID)
	assert.True(t, principal.IsAdmin())
	assert.True(t, principal.HasRole(models.RoleWorker))
}

func TestAuthServiceRejectsBadTokens(t *testing.T) {
	svc := NewAuthService(nil, AuthConfig{AccessTokenSecret: testSecret, Issuer: "comphours"})

	wrongKey := signToken(t, jwt.SigningMethodHS256, []byte("other"), validClaims())
	_, err := svc.ValidateToken(wrongKey)
	assert.True(t, errors.Is(err, appErrors.ErrUnauthorized))

	expired := validClaims()
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
	_, err = svc.ValidateToken(signToken(t, jwt.SigningMethodHS256, []byte(testSecret), expired))
	assert.True(t, errors.Is(err, appErrors.ErrUnauthorized))

	otherIssuer := validClaims()
	otherIssuer.Issuer = "elsewhere"
	_, err = svc.ValidateToken(signToken(t, jwt.SigningMethodHS256, []byte(testSecret), otherIssuer))
	assert.True(t, errors.Is(err, appErrors.ErrUnauthorized))

	noSubject := validClaims()
	noSubject.UserID = ""
	_, err = svc.ValidateToken(signToken(t, jwt.SigningMethodHS256, []byte(testSecret), noSubject))
	assert.True(t, errors.Is(err, appErrors.ErrUnauthorized))

	_, err = svc.ValidateToken("not-a-token")
	assert.Error(t, err)
}
