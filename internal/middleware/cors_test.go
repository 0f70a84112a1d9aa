package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func performWithOrigin(extraOrigins []string, origin string) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(CORSMiddleware(extraOrigins))
	router.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestCORSAllowsConfiguredOrigin(t *testing.T) {
	w := performWithOrigin([]string{"https://app.example.com"}, "https://app.example.com")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "https://app.example.com", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
}

func TestCORSAllowsLocalDevelopmentOrigin(t *testing.T) {
	w := performWithOrigin(nil, "http://localhost:3000")

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCORSRejectsUnknownOrigin(t *testing.T) {
	w := performWithOrigin([]string{"https://app.example.com"}, "https://evil.example.com")

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestCORSSameOriginRequestPasses(t *testing.T) {
	w := performWithOrigin(nil, "")

	assert.Equal(t, http.StatusOK, w.Code)
}
