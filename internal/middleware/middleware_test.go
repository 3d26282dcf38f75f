package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/comphours-api/internal/models"
	appErrors "github.com/noah-isme/comphours-api/pkg/errors"
)

type stubValidator map[string]*models.JWTClaims

func (s stubValidator) ValidateToken(token string) (*models.JWTClaims, error) {
	claims, ok := s[token]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token")
	}
	return claims, nil
}

var tokens = stubValidator{
	"admin":  {UserID: "admin-1", Roles: []models.UserRole{models.RoleAdmin}},
	"worker": {UserID: "worker-1", Roles: []models.UserRole{models.RoleWorker}},
}

func newRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	protected := r.Group("/", JWT(tokens))
	protected.GET("/users/:id/balance", RBAC(string(models.RoleAdmin), RoleSelf), func(c *gin.Context) {
		principal, _ := PrincipalFromContext(c)
		c.String(http.StatusOK, principal.UserID)
	})
	protected.POST("/admin", RequireRoles(models.RoleAdmin), func(c *gin.Context) { c.Status(http.StatusNoContent) })
	r.GET("/stream", StreamJWT(tokens), func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func do(r *gin.Engine, method, path, token string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	r.ServeHTTP(w, req)
	return w
}

func TestJWTRequiresBearerToken(t *testing.T) {
	r := newRouter()
	assert.Equal(t, http.StatusUnauthorized, do(r, http.MethodGet, "/users/worker-1/balance", "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(r, http.MethodGet, "/users/worker-1/balance", "forged").Code)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/users/worker-1/balance", nil)
	req.Header.Set("Authorization", "Basic abc")
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRBACAllowsAdminOrSelf(t *testing.T) {
	r := newRouter()
	w := do(r, http.MethodGet, "/users/worker-1/balance", "worker")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "worker-1", w.Body.String())

	assert.Equal(t, http.StatusForbidden, do(r, http.MethodGet, "/users/worker-2/balance", "worker").Code)
	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/users/worker-2/balance", "admin").Code)
	assert.Equal(t, http.StatusForbidden, do(r, http.MethodPost, "/admin", "worker").Code)
	assert.Equal(t, http.StatusNoContent, do(r, http.MethodPost, "/admin", "admin").Code)
}

func TestStreamJWTAcceptsQueryToken(t *testing.T) {
	r := newRouter()
	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/stream?access_token=worker", "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(r, http.MethodGet, "/stream", "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(r, http.MethodGet, "/users/worker-1/balance?access_token=worker", "").Code)
}

type recordingObserver struct {
	paths []string
}

func (o *recordingObserver) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	o.paths = append(o.paths, method+" "+path)
}

func TestMetricsUsesRouteTemplate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	observer := &recordingObserver{}
	r := gin.New()
	r.Use(Metrics(observer))
	r.GET("/users/:id", func(c *gin.Context) { c.Status(http.StatusOK) })

	do(r, http.MethodGet, "/users/42", "")
	do(r, http.MethodGet, "/nope", "")
	assert.Equal(t, []string{"GET /users/:id", "GET unmatched"}, observer.paths)
}
