// Codec de criptografia em repouso para os artefatos da nota (XML/PDF em Base64).

package envelope

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"

	"github.com/jhoicas/nfse-api/internal/domain"
	"github.com/jhoicas/nfse-api/internal/domain/entity"
)

// tamanho mínimo do segredo para habilitar AES-256-GCM.
const minSecretLength = 32

const gcmNonceSize = 12

// Codec encripta e decripta artefatos opacos. Sem segredo suficiente opera
// em modo passthrough (envelope versão 0), para ambientes de desenvolvimento.
type Codec struct {
	key     []byte // nil quando em modo passthrough
	enabled bool
}

// NewCodec deriva a chave simétrica via SHA-256 do segredo configurado.
func NewCodec(secret string) *Codec {
	if len(secret) < minSecretLength {
		return &Codec{}
	}
	sum := sha256.Sum256([]byte(secret))
	return &Codec{key: sum[:], enabled: true}
}

// Enabled indica se o codec está operando com criptografia real.
func (c *Codec) Enabled() bool { return c.enabled }

// Encrypt encripta o conteúdo (tipicamente já em Base64). Sem chave
// configurada devolve um envelope versão 0 com o conteúdo intacto.
func (c *Codec) Encrypt(plain string) (*entity.EncryptedEnvelope, error) {
	if !c.enabled {
		return &entity.EncryptedEnvelope{
			Version:    entity.EnvelopePlaintext,
			Ciphertext: plain,
		}, nil
	}
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, fmt.Errorf("envelope: criar cifra: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("envelope: criar GCM: %w", err)
	}
	iv := make([]byte, gcmNonceSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, fmt.Errorf("envelope: gerar IV: %w", err)
	}
	sealed := gcm.Seal(nil, iv, []byte(plain), nil)
	tagStart := len(sealed) - gcm.Overhead()
	return &entity.EncryptedEnvelope{
		Version:    entity.EnvelopeAESGCM,
		IV:         base64.StdEncoding.EncodeToString(iv),
		AuthTag:    base64.StdEncoding.EncodeToString(sealed[tagStart:]),
		Ciphertext: base64.StdEncoding.EncodeToString(sealed[:tagStart]),
	}, nil
}

// Decrypt reverte Encrypt. Falha fechada: qualquer divergência de tag ou
// campo malformado devolve erro, nunca conteúdo parcial.
func (c *Codec) Decrypt(env *entity.EncryptedEnvelope) (string, error) {
	if env == nil {
		return "", fmt.Errorf("%w: envelope ausente", domain.ErrDecryption)
	}
	switch env.Version {
	case entity.EnvelopePlaintext:
		return env.Ciphertext, nil
	case entity.EnvelopeAESGCM:
		if !c.enabled {
			return "", fmt.Errorf("%w: envelope cifrado sem chave configurada", domain.ErrDecryption)
		}
		iv, err := base64.StdEncoding.DecodeString(env.IV)
		if err != nil || len(iv) != gcmNonceSize {
			return "", fmt.Errorf("%w: IV inválido", domain.ErrDecryption)
		}
		tag, err := base64.StdEncoding.DecodeString(env.AuthTag)
		if err != nil {
			return "", fmt.Errorf("%w: tag inválida", domain.ErrDecryption)
		}
		ct, err := base64.StdEncoding.DecodeString(env.Ciphertext)
		if err != nil {
			return "", fmt.Errorf("%w: ciphertext inválido", domain.ErrDecryption)
		}
		block, err := aes.NewCipher(c.key)
		if err != nil {
			return "", fmt.Errorf("%w: criar cifra", domain.ErrDecryption)
		}
		gcm, err := cipher.NewGCM(block)
		if err != nil {
			return "", fmt.Errorf("%w: criar GCM", domain.ErrDecryption)
		}
		plain, err := gcm.Open(nil, iv, append(ct, tag...), nil)
		if err != nil {
			return "", fmt.Errorf("%w: tag de autenticação não confere", domain.ErrDecryption)
		}
		return string(plain), nil
	default:
		return "", fmt.Errorf("%w: versão de envelope desconhecida (%d)", domain.ErrDecryption, env.Version)
	}
}

// EncryptToJSON encripta e serializa o envelope em JSON, pronto para persistir.
func (c *Codec) EncryptToJSON(plain string) (string, error) {
	env, err := c.Encrypt(plain)
	if err != nil {
		return "", err
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("envelope: serializar: %w", err)
	}
	return string(raw), nil
}

// DecryptFromJSON desserializa o envelope JSON e decripta o conteúdo.
func (c *Codec) DecryptFromJSON(raw string) (string, error) {
	if raw == "" {
		return "", nil
	}
	var env entity.EncryptedEnvelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		// Valor legado persistido antes do envelope: devolver como está
		return raw, nil
	}
	return c.Decrypt(&env)
}
