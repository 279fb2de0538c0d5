package ports

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alejandrodnm/circuitbreaker/internal/domain"
)

// OnchainSource obtiene los datos de una settlement tal como se ejecutó en la cadena.
type OnchainSource interface {
	// FetchOnchain decodifica la transacción de settlement dada.
	// Devuelve domain.ErrMissingOnchainData si el nodo todavía no la conoce,
	// o *domain.NoncriticalDataFetchingError si no se pudo obtener.
	FetchOnchain(ctx context.Context, txHash common.Hash) (domain.OnchainSettlementData, error)
}

// OffchainSource obtiene la solución ganadora de la competición para una subasta.
type OffchainSource interface {
	// FetchOffchain devuelve la solución ganadora registrada para auctionID.
	// Los errores de decodificación se reportan como *domain.CriticalDataFetchingError
	// con el solver de la settlement, los fallos transitorios como
	// *domain.NoncriticalDataFetchingError.
	FetchOffchain(ctx context.Context, txHash common.Hash, auctionID int64) (domain.OffchainSettlementData, error)
}
