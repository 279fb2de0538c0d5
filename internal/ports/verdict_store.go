package ports

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alejandrodnm/circuitbreaker/internal/domain"
)

// VerdictStore persiste el resultado de cada inspección y la blacklist de solvers.
type VerdictStore interface {
	// SaveVerdict guarda un veredicto. Un tx hash ya guardado se sobreescribe.
	SaveVerdict(ctx context.Context, v domain.VerdictRecord) error

	// Blacklist marca al solver como no apto por la settlement txHash.
	// Bloquear dos veces al mismo solver no es un error.
	Blacklist(ctx context.Context, solver common.Address, txHash common.Hash, reason string) error

	// IsBlacklisted indica si el solver está en la blacklist.
	IsBlacklisted(ctx context.Context, solver common.Address) (bool, error)

	// GetVerdicts devuelve los veredictos comprobados en el rango dado, más recientes primero.
	GetVerdicts(ctx context.Context, from, to time.Time) ([]domain.VerdictRecord, error)

	// Close cierra la conexión a la base de datos limpiamente.
	Close() error
}
