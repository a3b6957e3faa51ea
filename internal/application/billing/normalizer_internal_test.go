package billing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetroactivityOK(t *testing.T) {
	// Dia 3 do mês: janela de graça do mês anterior ainda aberta.
	day3 := time.Date(2026, 8, 3, 12, 0, 0, 0, time.UTC)
	// Dia 20: janela de graça fechada.
	day20 := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		issueDate time.Time
		now       time.Time
		want      bool
	}{
		{"hoje", day20, day20, true},
		{"ha 5 dias", day20.AddDate(0, 0, -5), day20, true},
		{"ha exatamente 10 dias", day20.AddDate(0, 0, -10), day20, true},
		{"ha 11 dias", day20.AddDate(0, 0, -11), day20, false},
		{"mes anterior com dia corrente <= 5", time.Date(2026, 7, 15, 0, 0, 0, 0, time.UTC), day3, true},
		{"mes anterior com dia corrente > 5", time.Date(2026, 7, 15, 0, 0, 0, 0, time.UTC), day20, false},
		{"dois meses atras", time.Date(2026, 6, 15, 0, 0, 0, 0, time.UTC), day3, false},
		{"futuro dentro da tolerancia", day20.Add(12 * time.Hour), day20, true},
		{"futuro alem da tolerancia", day20.Add(48 * time.Hour), day20, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, retroactivityOK(tt.issueDate, tt.now))
		})
	}
}
