package envelope_test

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/nfse-api/internal/domain"
	"github.com/jhoicas/nfse-api/internal/domain/entity"
	"github.com/jhoicas/nfse-api/internal/infrastructure/envelope"
)

const testSecret = "segredo-de-teste-com-32-caracteres!"

func TestCodec_RoundTripComChave(t *testing.T) {
	codec := envelope.NewCodec(testSecret)
	require.True(t, codec.Enabled())

	plain := base64.StdEncoding.EncodeToString([]byte("<Rps>conteudo</Rps>"))
	env, err := codec.Encrypt(plain)
	require.NoError(t, err)
	assert.Equal(t, entity.EnvelopeAESGCM, env.Version)
	assert.NotEmpty(t, env.IV)
	assert.NotEmpty(t, env.AuthTag)
	assert.NotEqual(t, plain, env.Ciphertext)

	got, err := codec.Decrypt(env)
	require.NoError(t, err)
	assert.Equal(t, plain, got)
}

func TestCodec_PassthroughSemChave(t *testing.T) {
	// Segredo curto demais desativa a criptografia
	codec := envelope.NewCodec("curto")
	require.False(t, codec.Enabled())

	plain := "qualquer-base64"
	env, err := codec.Encrypt(plain)
	require.NoError(t, err)
	assert.Equal(t, entity.EnvelopePlaintext, env.Version)
	assert.Equal(t, plain, env.Ciphertext)
	assert.Empty(t, env.IV)

	got, err := codec.Decrypt(env)
	require.NoError(t, err)
	assert.Equal(t, plain, got)
}

func TestCodec_DecryptFalhaFechadaComTagAdulterada(t *testing.T) {
	codec := envelope.NewCodec(testSecret)
	env, err := codec.Encrypt("conteudo")
	require.NoError(t, err)

	env.AuthTag = base64.StdEncoding.EncodeToString(make([]byte, 16))
	_, err = codec.Decrypt(env)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrDecryption)
}

func TestCodec_DecryptEnvelopeCifradoSemChave(t *testing.T) {
	withKey := envelope.NewCodec(testSecret)
	env, err := withKey.Encrypt("conteudo")
	require.NoError(t, err)

	noKey := envelope.NewCodec("")
	_, err = noKey.Decrypt(env)
	assert.ErrorIs(t, err, domain.ErrDecryption)
}

func TestCodec_VersaoDesconhecida(t *testing.T) {
	codec := envelope.NewCodec(testSecret)
	_, err := codec.Decrypt(&entity.EncryptedEnvelope{Version: 99})
	assert.ErrorIs(t, err, domain.ErrDecryption)
}

func TestCodec_JSONRoundTrip(t *testing.T) {
	codec := envelope.NewCodec(testSecret)
	raw, err := codec.EncryptToJSON("conteudo-base64")
	require.NoError(t, err)
	assert.Contains(t, raw, `"v":1`)

	got, err := codec.DecryptFromJSON(raw)
	require.NoError(t, err)
	assert.Equal(t, "conteudo-base64", got)
}

func TestCodec_DecryptFromJSONValorLegado(t *testing.T) {
	// Valores persistidos antes do envelope não são JSON: devolver como estão
	codec := envelope.NewCodec(testSecret)
	got, err := codec.DecryptFromJSON("nao-e-json")
	require.NoError(t, err)
	assert.Equal(t, "nao-e-json", got)
}
