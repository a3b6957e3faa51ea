// Carga de certificado digital A1 desde .pfx/.p12 (PKCS#12).

package nfse

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"fmt"
	"math/big"
	"os"
	"sync"
	"time"

	"golang.org/x/crypto/pkcs12"

	"github.com/jhoicas/nfse-api/internal/domain"
)

// Material reúne a chave privada e o certificado extraídos do arquivo PKCS#12.
type Material struct {
	PrivateKey  *rsa.PrivateKey
	Certificate *x509.Certificate
	// Thumbprint é o SHA-1 hexadecimal do certificado DER, como exibido
	// pelas ferramentas de gestão de certificados.
	Thumbprint string
	NotBefore  time.Time
	NotAfter   time.Time
}

// TLSCertificate monta um tls.Certificate para autenticação mútua com a prefeitura.
func (m *Material) TLSCertificate() tls.Certificate {
	return tls.Certificate{
		Certificate: [][]byte{m.Certificate.Raw},
		PrivateKey:  m.PrivateKey,
		Leaf:        m.Certificate,
	}
}

// CertProvider carrega o certificado uma única vez e o mantém em cache.
// Quando path é vazio, gera um certificado autoassinado efêmero — mas somente
// em ambiente de teste ou desenvolvimento; nos demais ambientes a ausência do
// certificado A1 é erro na primeira carga. Documento fiscal nunca sai assinado
// com material efêmero em produção.
type CertProvider struct {
	path        string
	password    string
	environment string

	once     sync.Once
	material *Material
	loadErr  error
}

// NewCertProvider cria o provider. A carga é adiada até o primeiro uso.
// environment é o ambiente de execução (test, development, staging,
// production) e controla o fallback autoassinado.
func NewCertProvider(path, password, environment string) *CertProvider {
	return &CertProvider{path: path, password: password, environment: environment}
}

// Material devolve o material criptográfico, carregando-o se necessário.
func (p *CertProvider) Material() (*Material, error) {
	p.once.Do(func() {
		if p.path == "" {
			if !ephemeralAllowed(p.environment) {
				p.loadErr = fmt.Errorf("%w: nenhum certificado A1 configurado (NFSE_CERT_PATH) em ambiente %q",
					domain.ErrCertificate, p.environment)
				return
			}
			p.material, p.loadErr = selfSignedMaterial()
			return
		}
		p.material, p.loadErr = loadFromP12(p.path, p.password)
	})
	return p.material, p.loadErr
}

// ephemeralAllowed restringe o certificado autoassinado aos ambientes que não
// têm certificado A1 real.
func ephemeralAllowed(env string) bool {
	switch env {
	case "test", "development":
		return true
	}
	return false
}

// loadFromP12 decodifica o arquivo .pfx/.p12 e valida o período de vigência.
func loadFromP12(path, password string) (*Material, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: ler p12: %v", domain.ErrCertificate, err)
	}
	priv, cert, err := pkcs12.Decode(data, password)
	if err != nil {
		return nil, fmt.Errorf("%w: decodificar p12: %v", domain.ErrCertificate, err)
	}
	rsaKey, ok := priv.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: o certificado deve conter chave privada RSA", domain.ErrCertificate)
	}
	now := time.Now()
	if now.Before(cert.NotBefore) || now.After(cert.NotAfter) {
		return nil, fmt.Errorf("%w: certificado fora do período de vigência (%s a %s)",
			domain.ErrCertificate,
			cert.NotBefore.Format("2006-01-02"), cert.NotAfter.Format("2006-01-02"))
	}
	return newMaterial(rsaKey, cert), nil
}

// selfSignedMaterial gera um par de chaves e certificado autoassinado de curta duração.
func selfSignedMaterial() (*Material, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("%w: gerar chave: %v", domain.ErrCertificate, err)
	}
	template := &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject: pkix.Name{
			CommonName:   "NFSe Emissor Desenvolvimento",
			Organization: []string{"nfse-api"},
		},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("%w: emitir certificado autoassinado: %v", domain.ErrCertificate, err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("%w: parsear certificado autoassinado: %v", domain.ErrCertificate, err)
	}
	return newMaterial(key, cert), nil
}

func newMaterial(key *rsa.PrivateKey, cert *x509.Certificate) *Material {
	sum := sha1.Sum(cert.Raw)
	return &Material{
		PrivateKey:  key,
		Certificate: cert,
		Thumbprint:  hex.EncodeToString(sum[:]),
		NotBefore:   cert.NotBefore,
		NotAfter:    cert.NotAfter,
	}
}
