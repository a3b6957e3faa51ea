package domain

import (
	"errors"
	"fmt"
)

// Erros de domínio (sem dependências externas).
var (
	ErrNotFound            = errors.New("recurso não encontrado")
	ErrNormalization       = errors.New("payload não reconhecido")
	ErrValidation          = errors.New("validação falhou")
	ErrIdempotencyConflict = errors.New("chave de idempotência reutilizada com payload diferente")
	ErrInvalidState        = errors.New("transição de status inválida")
	ErrAgentCommunication  = errors.New("falha de comunicação com o agente")
	ErrCertificate         = errors.New("certificado digital inválido ou ausente")
	ErrSigning             = errors.New("falha na assinatura digital")
	ErrDecryption          = errors.New("falha ao decifrar artefato")
	ErrUnauthorized        = errors.New("não autorizado")
)

// ValidationError carrega o detalhe estruturado de uma violação de regra de
// negócio ou de esquema. errors.Is(err, ErrValidation) continua funcionando.
type ValidationError struct {
	Field   string // campo canônico violado (ex: "taxRate")
	Rule    string // regra violada (ex: "tax_band", "retroactivity")
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validação: %s", e.Message)
	}
	return fmt.Sprintf("validação: campo %s: %s", e.Field, e.Message)
}

// Is permite errors.Is(err, ErrValidation).
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// NewValidationError constrói o erro estruturado.
func NewValidationError(field, rule, message string) *ValidationError {
	return &ValidationError{Field: field, Rule: rule, Message: message}
}
