package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/wfunc/cookie-catcher/internal/service"
	"github.com/wfunc/cookie-catcher/internal/utils"
)

// stubAdmin 只实现令牌校验
type stubAdmin struct {
	service.AdminService
	tokens map[string]*utils.AdminClaims
}

func (s *stubAdmin) ValidateToken(ctx context.Context, token string) (*utils.AdminClaims, error) {
	if c, ok := s.tokens[token]; ok {
		return c, nil
	}
	return nil, errors.New("invalid")
}

func newEngine() *gin.Engine {
	gin.SetMode(gin.TestMode)
	admin := &stubAdmin{tokens: map[string]*utils.AdminClaims{
		"good":   {Role: utils.RoleAdmin, RegisteredClaims: jwt.RegisteredClaims{Subject: "s1"}},
		"viewer": {Role: "viewer"},
	}}
	m := NewAuthMiddleware(admin)

	r := gin.New()
	r.Use(Recovery(), RequestLogger())
	r.POST("/admin", m.RequireRole(utils.RoleAdmin), func(c *gin.Context) {
		role, _ := GetRole(c)
		sid, _ := GetSessionID(c)
		c.JSON(http.StatusOK, gin.H{"role": role, "session": sid})
	})
	r.GET("/panic", func(c *gin.Context) { panic("boom") })
	return r
}

func do(r http.Handler, method, path string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRequireRole(t *testing.T) {
	r := newEngine()

	w := do(r, http.MethodPost, "/admin", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.JSONEq(t, `{"error":"Unauthorized"}`, w.Body.String())

	w = do(r, http.MethodPost, "/admin", map[string]string{"Authorization": "Bearer nope"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(r, http.MethodPost, "/admin", map[string]string{"Authorization": "Bearer viewer"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = do(r, http.MethodPost, "/admin", map[string]string{"Authorization": "bearer good"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"role":"admin","session":"s1"}`, w.Body.String())

	w = do(r, http.MethodPost, "/admin", map[string]string{"X-Access-Token": "good"})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRecovery(t *testing.T) {
	w := do(newEngine(), http.MethodGet, "/panic", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"error":"Internal server error"}`, w.Body.String())
}
