package nfse_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/nfse-api/internal/domain"
	infranfse "github.com/jhoicas/nfse-api/internal/infrastructure/nfse"
)

func TestCertProvider_AutoassinadoSemPath(t *testing.T) {
	provider := infranfse.NewCertProvider("", "", "test")

	mat, err := provider.Material()
	require.NoError(t, err)
	require.NotNil(t, mat)

	assert.NotNil(t, mat.PrivateKey)
	assert.NotNil(t, mat.Certificate)
	assert.Len(t, mat.Thumbprint, 40, "thumbprint SHA-1 em hex")

	now := time.Now()
	assert.True(t, now.After(mat.NotBefore))
	assert.True(t, now.Before(mat.NotAfter))

	tlsCert := mat.TLSCertificate()
	require.Len(t, tlsCert.Certificate, 1)
	assert.Equal(t, mat.Certificate, tlsCert.Leaf)
}

func TestCertProvider_CargaUnicaEmCache(t *testing.T) {
	provider := infranfse.NewCertProvider("", "", "test")

	first, err := provider.Material()
	require.NoError(t, err)
	second, err := provider.Material()
	require.NoError(t, err)

	assert.Same(t, first, second, "material carregado uma única vez")
}

func TestCertProvider_ArquivoInexistente(t *testing.T) {
	provider := infranfse.NewCertProvider("/caminho/que/nao/existe.pfx", "senha", "production")

	mat, err := provider.Material()
	assert.Nil(t, mat)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrCertificate)
}

func TestCertProvider_SemCertificadoForaDeTeste(t *testing.T) {
	for _, env := range []string{"production", "staging", ""} {
		provider := infranfse.NewCertProvider("", "", env)

		mat, err := provider.Material()
		assert.Nil(t, mat, "ambiente %q", env)
		require.Error(t, err, "ambiente %q", env)
		assert.ErrorIs(t, err, domain.ErrCertificate)
	}
}

func TestCertProvider_AutoassinadoEmDesenvolvimento(t *testing.T) {
	provider := infranfse.NewCertProvider("", "", "development")

	mat, err := provider.Material()
	require.NoError(t, err)
	assert.NotNil(t, mat)
}
