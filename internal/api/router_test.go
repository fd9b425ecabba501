package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"veritrust/internal/api/handlers"
	"veritrust/pkg/auth"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testApp() *fiber.App {
	logger := zap.NewNop()
	return SetupRouter(
		handlers.NewAuthHandler(nil, logger),
		handlers.NewDocumentHandler(nil, logger),
		handlers.NewVerificationHandler(nil, logger),
		auth.NewJWTManager("test-secret", time.Hour, 24*time.Hour),
		logger,
	)
}

func TestHealthEndpoint(t *testing.T) {
	app := testApp()

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/health", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	app := testApp()

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	app := testApp()

	paths := []string{
		"/api/v1/documents",
		"/api/v1/verification/status/00000000-0000-0000-0000-000000000000",
	}
	for _, path := range paths {
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, path, nil))
		require.NoError(t, err)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, path)
	}
}

func TestProtectedRoutesRejectBadToken(t *testing.T) {
	app := testApp()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/documents", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
