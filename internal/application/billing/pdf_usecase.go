package billing

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/jhoicas/nfse-api/internal/domain"
	"github.com/jhoicas/nfse-api/internal/domain/repository"
)

// PDFUseCase entrega o PDF da nota: primeiro o devolvido pelo agente
// (decriptado do envelope em repouso); sem ele, gera o DANFSE localmente.
type PDFUseCase struct {
	invoiceRepo repository.InvoiceRepository
	codec       ArtifactCodec
	generator   NFSePDFGenerator
}

// NewPDFUseCase cria o caso de uso.
func NewPDFUseCase(invoiceRepo repository.InvoiceRepository, codec ArtifactCodec, generator NFSePDFGenerator) *PDFUseCase {
	return &PDFUseCase{invoiceRepo: invoiceRepo, codec: codec, generator: generator}
}

// GetPDF devolve os bytes do PDF da nota.
func (u *PDFUseCase) GetPDF(ctx context.Context, invoiceID string) ([]byte, error) {
	inv, err := u.invoiceRepo.GetByID(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if inv == nil {
		return nil, fmt.Errorf("%w: nota %s", domain.ErrNotFound, invoiceID)
	}

	if inv.PDFBase64 != "" {
		plainB64, err := u.codec.DecryptFromJSON(inv.PDFBase64)
		if err != nil {
			return nil, err
		}
		raw, err := base64.StdEncoding.DecodeString(plainB64)
		if err != nil {
			return nil, fmt.Errorf("%w: PDF persistido não é base64 válido", domain.ErrDecryption)
		}
		return raw, nil
	}
	return u.generator.Generate(inv)
}
