package jwt_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/nfse-api/pkg/jwt"
)

func TestGenerateParse_RoundTrip(t *testing.T) {
	token, err := jwt.Generate("segredo", "user-42", "admin", "nfse-api", 10)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	userID, role, err := jwt.Parse("segredo", token)
	require.NoError(t, err)
	assert.Equal(t, "user-42", userID)
	assert.Equal(t, "admin", role)
}

func TestParse_SecretErrado(t *testing.T) {
	token, err := jwt.Generate("segredo", "user-42", "admin", "nfse-api", 10)
	require.NoError(t, err)

	_, _, err = jwt.Parse("outro", token)
	assert.Error(t, err)
}

func TestParse_TokenExpirado(t *testing.T) {
	token, err := jwt.Generate("segredo", "user-42", "admin", "nfse-api", -5)
	require.NoError(t, err)

	_, _, err = jwt.Parse("segredo", token)
	assert.Error(t, err)
}

func TestGenerate_SecretVazio(t *testing.T) {
	_, err := jwt.Generate("", "user", "role", "iss", 10)
	assert.Error(t, err)
}
