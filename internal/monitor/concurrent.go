package monitor

// concurrent.go: worker pool para inspeccionar settlements en paralelo.
//
// Los fetches comparten el rate limiter del monitor; la inspección en sí es
// CPU pura y no lo consume.

import (
	"context"
	"log/slog"
	"runtime"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alejandrodnm/circuitbreaker/internal/domain"
)

// checkConcurrent inspecciona todos los tx hashes usando un worker pool.
// El resultado conserva el orden de txHashes.
//
// Si workers <= 0 usa runtime.NumCPU() × 2.
func checkConcurrent(ctx context.Context, m *Monitor, txHashes []common.Hash, workers int) []domain.VerdictRecord {
	if workers <= 0 {
		workers = runtime.NumCPU() * 2
	}

	type work struct {
		idx    int
		txHash common.Hash
	}

	workCh := make(chan work, len(txHashes))
	verdicts := make([]domain.VerdictRecord, len(txHashes))

	// Cada worker escribe solo en su índice; no hace falta lock.
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for w := range workCh {
				verdicts[w.idx] = m.Check(ctx, w.txHash)
			}
		}()
	}

	for i, h := range txHashes {
		workCh <- work{idx: i, txHash: h}
	}
	close(workCh)
	wg.Wait()

	slog.Debug("concurrent inspection complete",
		"settlements", len(txHashes),
		"workers", workers,
	)
	return verdicts
}
