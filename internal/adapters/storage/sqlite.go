package storage

// sqlite.go: log de veredictos del circuit breaker.
//
// Estrategia:
//   - `verdicts`: UNA fila por tx hash (UPSERT). Un recheck sobreescribe el
//     veredicto anterior y conserva el id original.
//   - `blacklist`: ver blacklist.go.
//   - Timestamps como unix millis (INTEGER), comparables con BETWEEN.
//   - Prune automático al arrancar: veredictos > 30d. La blacklist nunca se poda.

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/alejandrodnm/circuitbreaker/internal/domain"
)

const schema = `
-- Un veredicto por settlement
CREATE TABLE IF NOT EXISTS verdicts (
    tx_hash    TEXT PRIMARY KEY,
    id         TEXT    NOT NULL,
    auction_id INTEGER NOT NULL DEFAULT 0,
    solver     TEXT    NOT NULL DEFAULT '',
    outcome    TEXT    NOT NULL,
    stage      INTEGER NOT NULL DEFAULT 0,
    rule       TEXT    NOT NULL DEFAULT '',
    reason     TEXT    NOT NULL DEFAULT '',
    attempts   INTEGER NOT NULL DEFAULT 0,
    checked_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_verdicts_checked ON verdicts(checked_at DESC);
CREATE INDEX IF NOT EXISTS idx_verdicts_solver  ON verdicts(solver);
`

const retentionVerdicts = 30 * 24 * time.Hour // veredictos: 30 días

// SQLiteStorage implementa ports.VerdictStore usando SQLite (pure Go, sin CGo).
type SQLiteStorage struct {
	db          *sql.DB
	blacklisted map[common.Address]struct{} // caché de la tabla blacklist
	mu          sync.Mutex
}

// NewSQLiteStorage abre (o crea) la base de datos en la ruta dada.
// Aplica el schema, limpia datos antiguos y precarga la blacklist.
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage.NewSQLiteStorage: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite es single-writer
	db.SetMaxIdleConns(1)

	for _, ddl := range []string{schema, blacklistSchema} {
		if _, err := db.Exec(ddl); err != nil {
			db.Close()
			return nil, fmt.Errorf("storage.NewSQLiteStorage: apply schema: %w", err)
		}
	}

	s := &SQLiteStorage{
		db:          db,
		blacklisted: make(map[common.Address]struct{}),
	}
	s.pruneOld(context.Background())
	if err := s.warmBlacklist(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewSQLiteStorage: %w", err)
	}
	return s, nil
}

// SaveVerdict hace upsert del veredicto por tx hash. Si el veredicto no trae id
// se le asigna uno nuevo.
func (s *SQLiteStorage) SaveVerdict(ctx context.Context, v domain.VerdictRecord) error {
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	if v.CheckedAt.IsZero() {
		v.CheckedAt = time.Now()
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO verdicts
			(tx_hash, id, auction_id, solver, outcome, stage, rule, reason, attempts, checked_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tx_hash) DO UPDATE SET
			auction_id = excluded.auction_id,
			solver     = excluded.solver,
			outcome    = excluded.outcome,
			stage      = excluded.stage,
			rule       = excluded.rule,
			reason     = excluded.reason,
			attempts   = excluded.attempts,
			checked_at = excluded.checked_at
	`,
		v.TxHash.Hex(),
		v.ID,
		v.AuctionID,
		solverHex(v.Solver),
		string(v.Outcome),
		int(v.Stage),
		string(v.Rule),
		v.Reason,
		v.Attempts,
		v.CheckedAt.UTC().UnixMilli(),
	); err != nil {
		return fmt.Errorf("storage.SaveVerdict: upsert %s: %w", v.TxHash.Hex(), err)
	}
	return nil
}

// GetVerdicts devuelve los veredictos cuyo checked_at está en el rango dado.
// Ordenados por checked_at desc: los más recientes primero.
func (s *SQLiteStorage) GetVerdicts(ctx context.Context, from, to time.Time) ([]domain.VerdictRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tx_hash, auction_id, solver, outcome, stage, rule, reason, attempts, checked_at
		FROM verdicts
		WHERE checked_at BETWEEN ? AND ?
		ORDER BY checked_at DESC, tx_hash
	`, from.UTC().UnixMilli(), to.UTC().UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("storage.GetVerdicts: query: %w", err)
	}
	defer rows.Close()

	var verdicts []domain.VerdictRecord
	for rows.Next() {
		var (
			v              domain.VerdictRecord
			txHash, solver string
			outcome, rule  string
			stage          int
			checkedAt      int64
		)
		if err := rows.Scan(
			&v.ID,
			&txHash,
			&v.AuctionID,
			&solver,
			&outcome,
			&stage,
			&rule,
			&v.Reason,
			&v.Attempts,
			&checkedAt,
		); err != nil {
			return nil, fmt.Errorf("storage.GetVerdicts: scan row: %w", err)
		}

		v.TxHash = common.HexToHash(txHash)
		if solver != "" {
			v.Solver = common.HexToAddress(solver)
		}
		v.Outcome = domain.Outcome(outcome)
		v.Stage = domain.Stage(stage)
		v.Rule = domain.Rule(rule)
		v.CheckedAt = time.UnixMilli(checkedAt).UTC()
		verdicts = append(verdicts, v)
	}

	return verdicts, rows.Err()
}

// Close cierra la conexión a la base de datos.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// --- helpers internos ---

// pruneOld elimina veredictos antiguos para mantener la DB ligera.
func (s *SQLiteStorage) pruneOld(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-retentionVerdicts).UnixMilli()
	s.db.ExecContext(ctx, `DELETE FROM verdicts WHERE checked_at < ?`, cutoff)
}

// solverHex deja vacío el solver de veredictos sin datos on-chain.
func solverHex(a common.Address) string {
	if a == (common.Address{}) {
		return ""
	}
	return a.Hex()
}
