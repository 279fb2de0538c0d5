package storage

// blacklist.go: solvers bloqueados tras una settlement inválida.
//
// La primera settlement que bloquea a un solver es la que queda registrada;
// bloqueos posteriores no cambian la fila.

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alejandrodnm/circuitbreaker/internal/domain"
)

const blacklistSchema = `
CREATE TABLE IF NOT EXISTS blacklist (
    solver         TEXT PRIMARY KEY,
    tx_hash        TEXT    NOT NULL,
    reason         TEXT    NOT NULL DEFAULT '',
    blacklisted_at INTEGER NOT NULL
);
`

// Blacklist inserta al solver si no estaba bloqueado.
func (s *SQLiteStorage) Blacklist(ctx context.Context, solver common.Address, txHash common.Hash, reason string) error {
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO blacklist (solver, tx_hash, reason, blacklisted_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(solver) DO NOTHING
	`, solver.Hex(), txHash.Hex(), reason, time.Now().UTC().UnixMilli()); err != nil {
		return fmt.Errorf("storage.Blacklist: insert %s: %w", solver.Hex(), err)
	}

	s.mu.Lock()
	s.blacklisted[solver] = struct{}{}
	s.mu.Unlock()
	return nil
}

// IsBlacklisted consulta la caché en memoria, precargada al abrir la DB.
func (s *SQLiteStorage) IsBlacklisted(_ context.Context, solver common.Address) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.blacklisted[solver]
	return ok, nil
}

// GetBlacklist devuelve todos los solvers bloqueados, los más antiguos primero.
func (s *SQLiteStorage) GetBlacklist(ctx context.Context) ([]domain.BlacklistEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT solver, tx_hash, reason, blacklisted_at FROM blacklist ORDER BY blacklisted_at, solver`,
	)
	if err != nil {
		return nil, fmt.Errorf("storage.GetBlacklist: query: %w", err)
	}
	defer rows.Close()

	var entries []domain.BlacklistEntry
	for rows.Next() {
		var (
			e              domain.BlacklistEntry
			solver, txHash string
			at             int64
		)
		if err := rows.Scan(&solver, &txHash, &e.Reason, &at); err != nil {
			return nil, fmt.Errorf("storage.GetBlacklist: scan row: %w", err)
		}
		e.Solver = common.HexToAddress(solver)
		e.TxHash = common.HexToHash(txHash)
		e.BlacklistedAt = time.UnixMilli(at).UTC()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// warmBlacklist precarga la caché desde la DB al arrancar.
func (s *SQLiteStorage) warmBlacklist(ctx context.Context) error {
	entries, err := s.GetBlacklist(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		s.blacklisted[e.Solver] = struct{}{}
	}
	return nil
}
