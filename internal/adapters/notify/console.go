package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/olekukonko/tablewriter"

	"github.com/alejandrodnm/circuitbreaker/internal/domain"
)

// Console implementa ports.Notifier.
type Console struct {
	out   io.Writer
	table bool
}

// NewConsole crea un notificador que escribe a stdout.
func NewConsole(table bool) *Console {
	return &Console{out: os.Stdout, table: table}
}

// NewConsoleWriter crea un notificador para tests.
func NewConsoleWriter(w io.Writer, table bool) *Console {
	return &Console{out: w, table: table}
}

// Notify imprime los veredictos en el modo configurado.
func (c *Console) Notify(_ context.Context, verdicts []domain.VerdictRecord) error {
	if len(verdicts) == 0 {
		fmt.Fprintf(c.out, "[%s] no settlements checked\n", time.Now().Format("15:04:05"))
		return nil
	}

	if c.table {
		c.printFull(verdicts)
	} else {
		c.printCompact(verdicts)
	}
	return nil
}

// printCompact imprime una línea con el resumen y los primeros fallos.
func (c *Console) printCompact(verdicts []domain.VerdictRecord) {
	now := time.Now().Format("15:04:05")
	counts := countByOutcome(verdicts)

	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] %d txs → ok:%d fail:%d skip:%d err:%d", now, len(verdicts),
		counts[domain.OutcomePassed], counts[domain.OutcomeFailed],
		counts[domain.OutcomeSkipped], counts[domain.OutcomeError])

	shown := 0
	for _, v := range verdicts {
		if shown >= 4 {
			break
		}
		if v.Outcome != domain.OutcomeFailed && v.Outcome != domain.OutcomeError {
			continue
		}
		fmt.Fprintf(&sb, " | %s %s %s", v.Outcome, shortHex(v.TxHash.Hex()), compactName(v.Reason, 40))
		shown++
	}

	fmt.Fprintln(c.out, sb.String())
}

// printFull imprime la tabla completa.
func (c *Console) printFull(verdicts []domain.VerdictRecord) {
	now := time.Now().Format("15:04:05")
	counts := countByOutcome(verdicts)

	fmt.Fprintf(c.out, "\n[%s] %d settlements | passed:%d failed:%d skipped:%d error:%d\n",
		now, len(verdicts),
		counts[domain.OutcomePassed], counts[domain.OutcomeFailed],
		counts[domain.OutcomeSkipped], counts[domain.OutcomeError])

	table := tablewriter.NewWriter(c.out)
	table.Header("#", "Tx", "Auction", "Solver", "Outcome", "Stage", "Rule", "Tries", "Reason")

	for i, v := range verdicts {
		solver := "-"
		if v.Solver != (common.Address{}) {
			solver = shortHex(v.Solver.Hex())
		}
		rule := string(v.Rule)
		if rule == "" {
			rule = "-"
		}
		table.Append(
			fmt.Sprintf("%d", i+1),
			shortHex(v.TxHash.Hex()),
			fmt.Sprintf("%d", v.AuctionID),
			solver,
			string(v.Outcome),
			v.Stage.String(),
			rule,
			fmt.Sprintf("%d", v.Attempts),
			truncate(v.Reason, 60),
		)
	}

	table.Render()

	fmt.Fprintln(c.out, "  Stage = último check superado | FAILED = solver a la blacklist")
}

// PrintBlacklist imprime los solvers bloqueados.
func (c *Console) PrintBlacklist(entries []domain.BlacklistEntry) {
	if len(entries) == 0 {
		fmt.Fprintln(c.out, "blacklist vacía")
		return
	}

	table := tablewriter.NewWriter(c.out)
	table.Header("Solver", "Tx", "Since", "Reason")
	for _, e := range entries {
		table.Append(
			e.Solver.Hex(),
			shortHex(e.TxHash.Hex()),
			e.BlacklistedAt.Format(time.DateTime),
			truncate(e.Reason, 60),
		)
	}
	table.Render()
}

// --- helpers ---

func countByOutcome(verdicts []domain.VerdictRecord) map[domain.Outcome]int {
	counts := make(map[domain.Outcome]int, 4)
	for _, v := range verdicts {
		counts[v.Outcome]++
	}
	return counts
}

// shortHex deja "0x1234…abcd".
func shortHex(s string) string {
	if len(s) <= 14 {
		return s
	}
	return s[:6] + "…" + s[len(s)-4:]
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

func compactName(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := s[:maxLen]
	if idx := strings.LastIndex(cut, " "); idx > maxLen/2 {
		cut = cut[:idx]
	}
	return cut + "…"
}
