package entity

import "time"

// IdempotencyRecord amarra uma chave fornecida pelo chamador à nota criada
// e ao hash do payload. Criado uma única vez por chave; após a criação só o
// StatusSnapshot é atualizado. PayloadHash nunca muda: a mesma chave com um
// payload diferente é conflito, não atualização.
type IdempotencyRecord struct {
	Key            string
	InvoiceID      string
	PayloadHash    string
	StatusSnapshot string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
