package entity

// Versões do envelope de criptografia em repouso.
const (
	// EnvelopePlaintext versão 0: passthrough sem cifra (nenhum segredo
	// configurado). Mantém compatibilidade de leitura em ambientes de
	// desenvolvimento.
	EnvelopePlaintext = 0
	// EnvelopeAESGCM versão 1: AES-256-GCM com IV de 96 bits.
	EnvelopeAESGCM = 1
)

// EncryptedEnvelope embala um artefato base64 (XML assinado, XML/PDF
// devolvidos pelo agente) para armazenamento. Na versão 0, Ciphertext carrega
// o plaintext inalterado e IV/AuthTag ficam vazios.
type EncryptedEnvelope struct {
	Version    int    `json:"v"`
	IV         string `json:"iv,omitempty"`
	AuthTag    string `json:"tag,omitempty"`
	Ciphertext string `json:"data"`
}
