package security_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/chirino/conversation-service/internal/config"
	"github.com/chirino/conversation-service/internal/security"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMetricsLabels(t *testing.T) {
	labels, err := security.ParseMetricsLabels("")
	require.NoError(t, err)
	assert.Nil(t, labels)

	labels, err = security.ParseMetricsLabels("service=conversation-service,env=prod")
	require.NoError(t, err)
	assert.Equal(t, "conversation-service", labels["service"])
	assert.Equal(t, "prod", labels["env"])

	t.Setenv("TEST_REGION", "us-east-1")
	labels, err = security.ParseMetricsLabels("region=${TEST_REGION}")
	require.NoError(t, err)
	assert.Equal(t, "us-east-1", labels["region"])

	_, err = security.ParseMetricsLabels("no-equals-sign")
	require.Error(t, err)

	_, err = security.ParseMetricsLabels("bad key=value")
	require.Error(t, err)
}

func authRouter(cfg *config.Config) *gin.Engine {
	gin.SetMode(gin.TestMode)
	resolver := security.NewTokenResolver(cfg)
	router := gin.New()
	router.GET("/whoami", security.AuthMiddleware(resolver), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"userID":   security.GetUserID(c),
			"clientID": security.GetClientID(c),
		})
	})
	return router
}

func whoami(router *gin.Engine, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestAuthMiddleware_MissingHeader(t *testing.T) {
	cfg := config.DefaultConfig()
	router := authRouter(&cfg)

	w := whoami(router, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthMiddleware_NonBearerHeader(t *testing.T) {
	cfg := config.DefaultConfig()
	router := authRouter(&cfg)

	w := whoami(router, map[string]string{"Authorization": "Basic dXNlcjpwYXNz"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthMiddleware_BearerTokenAsUserID(t *testing.T) {
	// Without an OIDC issuer configured the token itself is the user ID.
	cfg := config.DefaultConfig()
	router := authRouter(&cfg)

	w := whoami(router, map[string]string{"Authorization": "Bearer alice"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"userID":"alice"`)
}

func TestAuthMiddleware_APIKeyResolvesClientID(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.APIKeys = map[string]string{"secret-key": "agent-7"}
	router := authRouter(&cfg)

	w := whoami(router, map[string]string{
		"Authorization": "Bearer alice",
		"X-API-Key":     "secret-key",
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"clientID":"agent-7"`)

	// An unknown key does not abort the request, it just resolves no client.
	w = whoami(router, map[string]string{
		"Authorization": "Bearer alice",
		"X-API-Key":     "wrong",
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"clientID":""`)
}

func TestAuthMiddleware_ClientIDHeaderOnlyInTestingMode(t *testing.T) {
	cfg := config.DefaultConfig()
	router := authRouter(&cfg)
	w := whoami(router, map[string]string{
		"Authorization": "Bearer alice",
		"X-Client-ID":   "spoofed",
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"clientID":""`)

	cfg.Mode = config.ModeTesting
	router = authRouter(&cfg)
	w = whoami(router, map[string]string{
		"Authorization": "Bearer alice",
		"X-Client-ID":   "test-agent",
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"clientID":"test-agent"`)
}
