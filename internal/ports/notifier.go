package ports

import (
	"context"

	"github.com/alejandrodnm/circuitbreaker/internal/domain"
)

// Notifier presenta los veredictos de una pasada del monitor al usuario.
type Notifier interface {
	// Notify muestra los veredictos en el orden en que se recibieron.
	// En la implementación de consola, imprime una línea o una tabla formateada.
	Notify(ctx context.Context, verdicts []domain.VerdictRecord) error
}
