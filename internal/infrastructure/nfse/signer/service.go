// Serviço de assinatura digital XML-DSig envelopada para o XML do RPS.
// Injeta <ds:Signature> como último filho do elemento raiz.

package signer

import (
	"bytes"
	"crypto"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/beevik/etree"
	"github.com/ucarion/c14n"

	"github.com/jhoicas/nfse-api/internal/domain"
	infranfse "github.com/jhoicas/nfse-api/internal/infrastructure/nfse"
)

// Service assina e verifica documentos XML com o certificado A1 do prestador.
// Com legacySHA1 ativo usa SHA-1/RSA-SHA1 para prefeituras com endpoints antigos.
type Service struct {
	certs      *infranfse.CertProvider
	legacySHA1 bool
}

// NewService cria o serviço de assinatura.
func NewService(certs *infranfse.CertProvider, legacySHA1 bool) *Service {
	return &Service{certs: certs, legacySHA1: legacySHA1}
}

// Sign assina o XML e devolve o documento com a assinatura envelopada.
func (s *Service) Sign(xmlString string) (string, error) {
	if strings.TrimSpace(xmlString) == "" {
		return "", fmt.Errorf("%w: XML vazio", domain.ErrSigning)
	}
	material, err := s.certs.Material()
	if err != nil {
		return "", fmt.Errorf("%w: obter certificado: %v", domain.ErrSigning, err)
	}

	// 1) Digest do documento canonicalizado (sem a assinatura, que ainda não existe)
	docDigestB64, err := s.documentDigest([]byte(xmlString))
	if err != nil {
		return "", fmt.Errorf("%w: digest do documento: %v", domain.ErrSigning, err)
	}

	// 2) SignedInfo canônico e valor da assinatura
	signedInfoXML := s.buildSignedInfo(docDigestB64)
	canonicalSignedInfo, err := canonicalize([]byte(signedInfoXML))
	if err != nil {
		canonicalSignedInfo = []byte(signedInfoXML)
	}
	signatureValue, err := s.signBytes(material.PrivateKey, canonicalSignedInfo)
	if err != nil {
		return "", fmt.Errorf("%w: assinar SignedInfo: %v", domain.ErrSigning, err)
	}

	// 3) Signature completa com KeyInfo/X509Certificate
	certB64 := base64.StdEncoding.EncodeToString(material.Certificate.Raw)
	signatureXML := s.buildSignature(signedInfoXML, base64.StdEncoding.EncodeToString(signatureValue), certB64)

	// 4) Injetar como último filho da raiz
	signed, err := injectSignature([]byte(xmlString), signatureXML)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrSigning, err)
	}
	return ensureKeyInfo(signed, certB64), nil
}

// Verify confere a assinatura usando o certificado embutido no documento.
// Qualquer falha de parse ou criptográfica devolve false, nunca erro.
func (s *Service) Verify(signedXML string) bool {
	doc := etree.NewDocument()
	if err := doc.ReadFromString(signedXML); err != nil {
		return false
	}
	root := doc.Root()
	if root == nil {
		return false
	}
	sigEl := findSignature(root)
	if sigEl == nil {
		return false
	}
	certText := findElementText(sigEl, "X509Certificate")
	sigValueText := findElementText(sigEl, "SignatureValue")
	digestText := findElementText(sigEl, "DigestValue")
	if certText == "" || sigValueText == "" || digestText == "" {
		return false
	}
	certDER, err := base64.StdEncoding.DecodeString(strings.TrimSpace(certText))
	if err != nil {
		return false
	}
	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return false
	}
	pubKey, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return false
	}
	sigValue, err := base64.StdEncoding.DecodeString(strings.TrimSpace(sigValueText))
	if err != nil {
		return false
	}

	// Digest do documento sem o nó de assinatura (transformação envelopada)
	stripped := doc.Copy()
	strippedRoot := stripped.Root()
	if sig := findSignature(strippedRoot); sig != nil {
		strippedRoot.RemoveChild(sig)
	}
	strippedXML, err := stripped.WriteToString()
	if err != nil {
		return false
	}
	expectedDigest, err := s.documentDigest([]byte(strippedXML))
	if err != nil {
		return false
	}
	if expectedDigest != strings.TrimSpace(digestText) {
		return false
	}

	// Recriar o SignedInfo canônico e conferir a assinatura RSA
	var signedInfo *etree.Element
	for _, child := range sigEl.ChildElements() {
		if localTag(child) == "SignedInfo" {
			signedInfo = child
			break
		}
	}
	if signedInfo == nil {
		return false
	}
	siDoc := etree.NewDocument()
	siDoc.AddChild(signedInfo.Copy())
	siXML, err := siDoc.WriteToString()
	if err != nil {
		return false
	}
	canonicalSignedInfo, err := canonicalize([]byte(siXML))
	if err != nil {
		canonicalSignedInfo = []byte(siXML)
	}
	return s.verifyBytes(pubKey, canonicalSignedInfo, sigValue)
}

// documentDigest canonicaliza o documento e devolve o digest em Base64.
func (s *Service) documentDigest(data []byte) (string, error) {
	canonical, err := canonicalize(data)
	if err != nil {
		canonical = data
	}
	if s.legacySHA1 {
		sum := sha1.Sum(canonical)
		return base64.StdEncoding.EncodeToString(sum[:]), nil
	}
	sum := sha256.Sum256(canonical)
	return base64.StdEncoding.EncodeToString(sum[:]), nil
}

func (s *Service) signBytes(priv *rsa.PrivateKey, data []byte) ([]byte, error) {
	if s.legacySHA1 {
		sum := sha1.Sum(data)
		return rsa.SignPKCS1v15(nil, priv, crypto.SHA1, sum[:])
	}
	sum := sha256.Sum256(data)
	return rsa.SignPKCS1v15(nil, priv, crypto.SHA256, sum[:])
}

func (s *Service) verifyBytes(pub *rsa.PublicKey, data, sig []byte) bool {
	if s.legacySHA1 {
		sum := sha1.Sum(data)
		return rsa.VerifyPKCS1v15(pub, crypto.SHA1, sum[:], sig) == nil
	}
	sum := sha256.Sum256(data)
	return rsa.VerifyPKCS1v15(pub, crypto.SHA256, sum[:], sig) == nil
}

func (s *Service) digestAlg() string {
	if s.legacySHA1 {
		return AlgSHA1
	}
	return AlgSHA256
}

func (s *Service) signatureAlg() string {
	if s.legacySHA1 {
		return AlgRSASHA1
	}
	return AlgRSASHA256
}

func (s *Service) buildSignedInfo(docDigestB64 string) string {
	var sb strings.Builder
	sb.WriteString(`<ds:SignedInfo xmlns:ds="` + NamespaceDS + `">`)
	sb.WriteString(`<ds:CanonicalizationMethod Algorithm="` + AlgC14N + `"/>`)
	sb.WriteString(`<ds:SignatureMethod Algorithm="` + s.signatureAlg() + `"/>`)
	sb.WriteString(`<ds:Reference URI="">`)
	sb.WriteString(`<ds:Transforms><ds:Transform Algorithm="` + TransformEnveloped + `"/>`)
	sb.WriteString(`<ds:Transform Algorithm="` + AlgC14N + `"/></ds:Transforms>`)
	sb.WriteString(`<ds:DigestMethod Algorithm="` + s.digestAlg() + `"/>`)
	sb.WriteString(`<ds:DigestValue>` + docDigestB64 + `</ds:DigestValue>`)
	sb.WriteString(`</ds:Reference>`)
	sb.WriteString(`</ds:SignedInfo>`)
	return sb.String()
}

func (s *Service) buildSignature(signedInfoXML, signatureValueB64, certB64 string) string {
	var sb strings.Builder
	sb.WriteString(`<ds:Signature xmlns:ds="` + NamespaceDS + `">`)
	sb.WriteString(signedInfoXML)
	sb.WriteString(`<ds:SignatureValue>` + signatureValueB64 + `</ds:SignatureValue>`)
	sb.WriteString(`<ds:KeyInfo><ds:X509Data><ds:X509Certificate>` + certB64 + `</ds:X509Certificate></ds:X509Data></ds:KeyInfo>`)
	sb.WriteString(`</ds:Signature>`)
	return sb.String()
}

func canonicalize(data []byte) ([]byte, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Entity = map[string]string{}
	return c14n.Canonicalize(dec)
}

// injectSignature insere a assinatura como último filho do elemento raiz.
func injectSignature(xmlBytes []byte, signatureXML string) (string, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(xmlBytes); err != nil {
		return "", fmt.Errorf("parsear XML: %w", err)
	}
	root := doc.Root()
	if root == nil {
		return "", fmt.Errorf("documento sem raiz")
	}
	sigDoc := etree.NewDocument()
	if err := sigDoc.ReadFromString(signatureXML); err != nil {
		return "", fmt.Errorf("parsear Signature: %w", err)
	}
	if sigRoot := sigDoc.Root(); sigRoot != nil {
		root.AddChild(sigRoot)
	}
	out, err := doc.WriteToString()
	if err != nil {
		return "", fmt.Errorf("serializar documento assinado: %w", err)
	}
	return out, nil
}

// ensureKeyInfo garante um ds:KeyInfo com o certificado antes do fechamento
// da assinatura, para documentos montados por caminhos que não o incluem.
func ensureKeyInfo(signedXML, certB64 string) string {
	if strings.Contains(signedXML, "KeyInfo") {
		return signedXML
	}
	keyInfo := `<ds:KeyInfo><ds:X509Data><ds:X509Certificate>` + certB64 + `</ds:X509Certificate></ds:X509Data></ds:KeyInfo>`
	closing := "</ds:Signature>"
	if idx := strings.LastIndex(signedXML, closing); idx >= 0 {
		return signedXML[:idx] + keyInfo + signedXML[idx:]
	}
	return signedXML
}

// findSignature localiza o primeiro elemento Signature filho direto da raiz.
func findSignature(root *etree.Element) *etree.Element {
	if root == nil {
		return nil
	}
	for _, child := range root.ChildElements() {
		if localTag(child) == "Signature" {
			return child
		}
	}
	return nil
}

// findElementText busca em profundidade o texto do primeiro elemento com o tag local dado.
func findElementText(el *etree.Element, local string) string {
	if localTag(el) == local {
		return el.Text()
	}
	for _, child := range el.ChildElements() {
		if text := findElementText(child, local); text != "" {
			return text
		}
	}
	return ""
}

func localTag(el *etree.Element) string {
	if idx := strings.Index(el.Tag, ":"); idx >= 0 {
		return el.Tag[idx+1:]
	}
	return el.Tag
}
