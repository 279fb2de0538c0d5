package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/alejandrodnm/circuitbreaker/internal/domain"
	"github.com/alejandrodnm/circuitbreaker/internal/inspector"
	"github.com/alejandrodnm/circuitbreaker/internal/ports"
)

// Config contiene la configuración del monitor.
type Config struct {
	Workers          int           // goroutines para inspección paralela (0 = NumCPU*2)
	FetchesPerSecond float64       // límite de fetches a las fuentes (0 = sin límite)
	RecheckThreshold int           // reintentos de un fetch no crítico antes de rendirse
	RecheckDelay     time.Duration // espera entre reintentos
	RecheckBudget    int           // fetches por tx sumando las pasadas de Watch (0 = sin límite)
	WatchInterval    time.Duration // cada cuánto buscar settlements nuevas en Watch
}

// DefaultConfig devuelve la configuración por defecto.
func DefaultConfig() Config {
	return Config{
		Workers:          4,
		FetchesPerSecond: 10,
		RecheckThreshold: 3,
		RecheckDelay:     2 * time.Second,
		RecheckBudget:    128,
		WatchInterval:    12 * time.Second, // un bloque
	}
}

// Monitor inspecciona settlements, bloquea solvers y registra los veredictos.
type Monitor struct {
	cfg       Config
	onchain   ports.OnchainSource
	offchain  ports.OffchainSource
	inspector *inspector.Inspector
	store     ports.VerdictStore // opcional
	notifier  ports.Notifier     // opcional
	limiter   *rate.Limiter
	now       func() time.Time
}

// New crea un Monitor con todas las dependencias inyectadas.
// store y notifier pueden ser nil (modo dry-run).
func New(
	cfg Config,
	onchain ports.OnchainSource,
	offchain ports.OffchainSource,
	insp *inspector.Inspector,
	store ports.VerdictStore,
	notifier ports.Notifier,
) *Monitor {
	limit := rate.Inf
	if cfg.FetchesPerSecond > 0 {
		limit = rate.Limit(cfg.FetchesPerSecond)
	}
	return &Monitor{
		cfg:       cfg,
		onchain:   onchain,
		offchain:  offchain,
		inspector: insp,
		store:     store,
		notifier:  notifier,
		limiter:   rate.NewLimiter(limit, max(1, cfg.Workers)),
		now:       time.Now,
	}
}

// Run inspecciona los tx hashes dados en paralelo, persiste y notifica los
// veredictos. Los veredictos se devuelven en el orden de txHashes.
func (m *Monitor) Run(ctx context.Context, txHashes []common.Hash) ([]domain.VerdictRecord, error) {
	start := time.Now()
	verdicts := checkConcurrent(ctx, m, txHashes, m.cfg.Workers)

	if m.notifier != nil {
		if err := m.notifier.Notify(ctx, verdicts); err != nil {
			slog.Warn("notifier error", "err", err)
		}
	}

	slog.Info("monitor pass complete",
		"settlements", len(verdicts),
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	return verdicts, ctx.Err()
}

// Watch ejecuta Run cada WatchInterval sobre los tx hashes que list devuelve y
// que todavía no tienen un veredicto definitivo, hasta que el contexto se cancele.
//
// Un ERROR por un fetch reintentable vuelve a intentarse en la siguiente pasada
// hasta gastar RecheckBudget fetches; cualquier otro veredicto es definitivo.
func (m *Monitor) Watch(ctx context.Context, list func() ([]common.Hash, error)) error {
	interval := m.cfg.WatchInterval
	if interval <= 0 {
		interval = DefaultConfig().WatchInterval
	}
	slog.Info("monitor watching", "interval", interval, "workers", m.cfg.Workers)

	done := make(map[common.Hash]bool)
	attempts := make(map[common.Hash]int)
	pass := func() {
		if ctx.Err() != nil {
			return
		}
		all, err := list()
		if err != nil {
			slog.Error("listing settlements failed", "err", err)
			return
		}
		var pending []common.Hash
		for _, h := range all {
			if !done[h] {
				pending = append(pending, h)
			}
		}
		if len(pending) == 0 {
			return
		}
		verdicts, _ := m.Run(ctx, pending)
		if ctx.Err() != nil {
			return
		}
		for _, v := range verdicts {
			attempts[v.TxHash] += v.Attempts
			switch {
			case !v.Recheck:
				done[v.TxHash] = true
			case m.cfg.RecheckBudget > 0 && attempts[v.TxHash] >= m.cfg.RecheckBudget:
				slog.Warn("recheck budget exhausted, giving up on settlement",
					"tx_hash", v.TxHash.Hex(),
					"attempts", attempts[v.TxHash],
					"reason", v.Reason,
				)
				done[v.TxHash] = true
			}
		}
	}

	pass()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("monitor stopped")
			return nil
		case <-ticker.C:
			pass()
		}
	}
}

// Check inspecciona una settlement y devuelve su veredicto, ya persistido.
func (m *Monitor) Check(ctx context.Context, txHash common.Hash) domain.VerdictRecord {
	rec := m.check(ctx, txHash)
	rec.ID = uuid.NewString()
	rec.CheckedAt = m.now().UTC()

	if m.store != nil {
		if rec.Outcome == domain.OutcomeFailed {
			if err := m.store.Blacklist(ctx, rec.Solver, txHash, rec.Reason); err != nil {
				slog.Error("blacklisting solver failed", "solver", rec.Solver.Hex(), "tx_hash", txHash.Hex(), "err", err)
			}
		}
		if err := m.store.SaveVerdict(ctx, rec); err != nil {
			slog.Warn("storage error", "tx_hash", txHash.Hex(), "err", err)
		}
	}
	return rec
}

func (m *Monitor) check(ctx context.Context, txHash common.Hash) domain.VerdictRecord {
	rec := domain.VerdictRecord{TxHash: txHash, Stage: domain.StageNotStarted}

	onchain, err := fetchWithRecheck(ctx, m, &rec.Attempts, func() (domain.OnchainSettlementData, error) {
		return m.onchain.FetchOnchain(ctx, txHash)
	})
	if err != nil {
		return m.fetchFailed(rec, "onchain", err)
	}
	rec.AuctionID, rec.Solver = onchain.AuctionID, onchain.Solver

	if m.inspector.IsWhitelisted(onchain.Solver) {
		// Las settlements del equipo no tienen competición que consultar.
		rec.Outcome = domain.OutcomeSkipped
		rec.Reason = (&domain.WhitelistedSolverError{TxHash: txHash, Solver: onchain.Solver}).Error()
		slog.Info("whitelisted solver, skipping checks", "tx_hash", txHash.Hex(), "solver", onchain.Solver.Hex())
		return rec
	}

	if m.store != nil {
		blocked, err := m.store.IsBlacklisted(ctx, onchain.Solver)
		switch {
		case err != nil:
			slog.Warn("storage error", "solver", onchain.Solver.Hex(), "tx_hash", txHash.Hex(), "err", err)
		case blocked:
			slog.Warn("solver already blacklisted", "solver", onchain.Solver.Hex(), "tx_hash", txHash.Hex())
		}
	}

	offchain, err := fetchWithRecheck(ctx, m, &rec.Attempts, func() (domain.OffchainSettlementData, error) {
		return m.offchain.FetchOffchain(ctx, txHash, onchain.AuctionID)
	})
	if err != nil {
		return m.fetchFailed(rec, "offchain", err)
	}

	v := m.inspector.Evaluate(onchain, offchain)
	rec.Outcome, rec.Stage = v.Outcome, v.Stage
	if v.Err != nil {
		rec.Reason = reason(v.Err)
		var invalid *domain.InvalidSettlementError
		if errors.As(v.Err, &invalid) {
			rec.Rule = invalid.Rule
		}
	}

	switch rec.Outcome {
	case domain.OutcomeFailed:
		slog.Error("invalid settlement, blacklisting solver",
			"tx_hash", txHash.Hex(),
			"auction_id", rec.AuctionID,
			"solver", rec.Solver.Hex(),
			"err", v.Err,
		)
	case domain.OutcomeError:
		slog.Error("settlement could not be inspected", "tx_hash", txHash.Hex(), "err", v.Err)
	}
	return rec
}

func (m *Monitor) fetchFailed(rec domain.VerdictRecord, source string, err error) domain.VerdictRecord {
	rec.Outcome = domain.OutcomeError
	rec.Reason = fmt.Sprintf("fetch %s: %s", source, err)
	rec.Recheck = domain.Retryable(err)

	var critical *domain.CriticalDataFetchingError
	if errors.As(err, &critical) {
		rec.Solver = critical.Solver
		slog.Error("critical data fetching error",
			"tx_hash", rec.TxHash.Hex(),
			"solver", critical.Solver.Hex(),
			"err", err,
		)
		return rec
	}
	slog.Warn("data fetching failed",
		"tx_hash", rec.TxHash.Hex(),
		"source", source,
		"attempts", rec.Attempts,
		"err", err,
	)
	return rec
}

// fetchWithRecheck llama a fetch respetando el rate limit y reintenta mientras
// el error sea reintentable y queden rechecks.
func fetchWithRecheck[T any](ctx context.Context, m *Monitor, attempts *int, fetch func() (T, error)) (T, error) {
	var zero T
	for try := 0; ; try++ {
		if err := m.limiter.Wait(ctx); err != nil {
			return zero, fmt.Errorf("rate limiter: %w", err)
		}
		*attempts++

		v, err := fetch()
		if err == nil {
			return v, nil
		}
		if !domain.Retryable(err) || try >= m.cfg.RecheckThreshold {
			return zero, err
		}

		slog.Debug("recheck scheduled", "attempt", *attempts, "delay", m.cfg.RecheckDelay, "err", err)
		if !sleep(ctx, m.cfg.RecheckDelay) {
			return zero, ctx.Err()
		}
	}
}

// sleep espera d respetando el contexto. Devuelve false si el contexto se canceló.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// reason resume el error para el registro; la evidencia completa va al log.
func reason(err error) string {
	var invalid *domain.InvalidSettlementError
	if errors.As(err, &invalid) {
		if invalid.SubCheck > 0 {
			return fmt.Sprintf("%s check %d: %s", invalid.Rule, invalid.SubCheck, invalid.Reason)
		}
		return fmt.Sprintf("%s check: %s", invalid.Rule, invalid.Reason)
	}
	return err.Error()
}
