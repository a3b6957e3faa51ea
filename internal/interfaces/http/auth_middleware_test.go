package http_test

import (
	"encoding/json"
	nethttp "net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apphttp "github.com/jhoicas/nfse-api/internal/interfaces/http"
	"github.com/jhoicas/nfse-api/pkg/jwt"
)

const testSecret = "segredo-dos-testes"

func newProtectedApp() *fiber.App {
	app := fiber.New()
	app.Get("/protegido", apphttp.AuthMiddleware(testSecret), func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"userId": apphttp.GetUserID(c),
			"role":   apphttp.GetRole(c),
		})
	})
	return app
}

func doRequest(t *testing.T, app *fiber.App, authorization string) *nethttp.Response {
	t.Helper()
	req := httptest.NewRequest(nethttp.MethodGet, "/protegido", nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	resp, err := app.Test(req)
	require.NoError(t, err)
	return resp
}

func TestAuthMiddleware_TokenValido(t *testing.T) {
	token, err := jwt.Generate(testSecret, "user-1", "emissor", "nfse-api", 10)
	require.NoError(t, err)

	resp := doRequest(t, newProtectedApp(), "Bearer "+token)
	defer resp.Body.Close()
	require.Equal(t, nethttp.StatusOK, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "user-1", body["userId"])
	assert.Equal(t, "emissor", body["role"])
}

func TestAuthMiddleware_SemHeader(t *testing.T) {
	resp := doRequest(t, newProtectedApp(), "")
	defer resp.Body.Close()
	require.Equal(t, nethttp.StatusUnauthorized, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "MISSING_TOKEN", body["code"])
}

func TestAuthMiddleware_FormatoInvalido(t *testing.T) {
	resp := doRequest(t, newProtectedApp(), "Basic abc123")
	defer resp.Body.Close()
	require.Equal(t, nethttp.StatusUnauthorized, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "INVALID_TOKEN", body["code"])
}

func TestAuthMiddleware_TokenAdulterado(t *testing.T) {
	token, err := jwt.Generate(testSecret, "user-1", "emissor", "nfse-api", 10)
	require.NoError(t, err)

	resp := doRequest(t, newProtectedApp(), "Bearer "+token+"x")
	defer resp.Body.Close()
	require.Equal(t, nethttp.StatusUnauthorized, resp.StatusCode)
}

func TestAuthMiddleware_SecretErrado(t *testing.T) {
	token, err := jwt.Generate("outro-segredo", "user-1", "admin", "nfse-api", 10)
	require.NoError(t, err)

	resp := doRequest(t, newProtectedApp(), "Bearer "+token)
	defer resp.Body.Close()
	require.Equal(t, nethttp.StatusUnauthorized, resp.StatusCode)
}
