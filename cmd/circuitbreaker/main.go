package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alejandrodnm/circuitbreaker/config"
	"github.com/alejandrodnm/circuitbreaker/internal/adapters/fixture"
	"github.com/alejandrodnm/circuitbreaker/internal/adapters/notify"
	"github.com/alejandrodnm/circuitbreaker/internal/adapters/onchain"
	"github.com/alejandrodnm/circuitbreaker/internal/adapters/storage"
	"github.com/alejandrodnm/circuitbreaker/internal/domain"
	"github.com/alejandrodnm/circuitbreaker/internal/inspector"
	"github.com/alejandrodnm/circuitbreaker/internal/monitor"
	"github.com/alejandrodnm/circuitbreaker/internal/ports"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	fixturesDir := flag.String("fixtures", "", "directory with settlement fixtures (overrides config)")
	rpcURL := flag.String("rpc", "", "node RPC URL to read settlements from (overrides config)")
	dryRun := flag.Bool("dry-run", false, "do not persist verdicts nor blacklist solvers")
	watch := flag.Bool("watch", false, "keep polling the fixtures directory for new settlements")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
	table := flag.Bool("table", false, "print full verdict table (default: compact 1-line)")
	blacklist := flag.Bool("blacklist", false, "print blacklisted solvers and exit")
	history := flag.Duration("history", 0, "print verdicts checked within this window and exit")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] [tx_hash ...]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(1)
	}

	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	if *fixturesDir != "" {
		cfg.Fixtures.Dir = *fixturesDir
	}
	if *rpcURL != "" {
		cfg.Chain.RPCURL = *rpcURL
	}
	setupLogger(cfg.Log)

	notifier := notify.NewConsole(*table)

	var store *storage.SQLiteStorage
	if !*dryRun {
		store, err = storage.NewSQLiteStorage(cfg.Storage.DSN)
		if err != nil {
			slog.Error("failed to open storage", "err", err, "dsn", cfg.Storage.DSN)
			os.Exit(1)
		}
		defer store.Close()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if *blacklist || *history > 0 {
		if store == nil {
			slog.Error("-blacklist and -history need storage, drop -dry-run")
			os.Exit(1)
		}
		if err := report(ctx, store, notifier, *blacklist, *history); err != nil {
			slog.Error("report failed", "err", err)
			os.Exit(1)
		}
		return
	}

	whitelist, _ := cfg.WhitelistAddresses() // validada en config.Load
	var inspOpts []inspector.Option
	if len(whitelist) > 0 {
		inspOpts = append(inspOpts, inspector.WithWhitelist(whitelist...))
	}
	insp := inspector.New(inspOpts...)

	src := fixture.NewSource(cfg.Fixtures.Dir)
	var onchainSrc ports.OnchainSource = src
	if cfg.Chain.RPCURL != "" {
		client, err := onchain.NewSettlementClient(cfg.Chain.RPCURL)
		if err != nil {
			slog.Error("failed to connect to node", "err", err)
			os.Exit(1)
		}
		defer client.Close()
		onchainSrc = client
	}

	monCfg := monitor.DefaultConfig()
	monCfg.Workers = cfg.Monitor.Workers
	monCfg.FetchesPerSecond = cfg.Monitor.FetchesPerSecond
	monCfg.RecheckThreshold = cfg.Monitor.RecheckThreshold
	monCfg.RecheckDelay = cfg.RecheckDelay()
	monCfg.RecheckBudget = cfg.Monitor.RecheckBudget
	monCfg.WatchInterval = cfg.WatchInterval()

	// Sin store el monitor no persiste ni bloquea.
	var m *monitor.Monitor
	if store != nil {
		m = monitor.New(monCfg, onchainSrc, src, insp, store, notifier)
	} else {
		m = monitor.New(monCfg, onchainSrc, src, insp, nil, notifier)
	}

	slog.Info("circuit breaker starting",
		"config", *configPath,
		"fixtures", cfg.Fixtures.Dir,
		"rpc", cfg.Chain.RPCURL != "",
		"dry_run", *dryRun,
		"watch", *watch,
		"whitelist", len(whitelist),
	)

	if *watch {
		if err := m.Watch(ctx, src.TxHashes); err != nil {
			slog.Error("monitor exited with error", "err", err)
			os.Exit(1)
		}
		slog.Info("circuit breaker stopped cleanly")
		return
	}

	hashes, err := txHashes(flag.Args(), src)
	if err != nil {
		slog.Error("invalid arguments", "err", err)
		os.Exit(1)
	}

	verdicts, err := m.Run(ctx, hashes)
	if err != nil {
		slog.Error("monitor interrupted", "err", err)
		os.Exit(1)
	}
	if failed(verdicts) {
		os.Exit(2)
	}
}

// txHashes usa los argumentos, o todos los fixtures si no hay.
func txHashes(args []string, src *fixture.Source) ([]common.Hash, error) {
	if len(args) == 0 {
		return src.TxHashes()
	}
	hashes := make([]common.Hash, 0, len(args))
	for _, a := range args {
		var h common.Hash
		if err := h.UnmarshalText([]byte(a)); err != nil {
			return nil, fmt.Errorf("tx hash %q: %w", a, err)
		}
		hashes = append(hashes, h)
	}
	return hashes, nil
}

func report(ctx context.Context, store *storage.SQLiteStorage, notifier *notify.Console, blacklist bool, window time.Duration) error {
	if blacklist {
		entries, err := store.GetBlacklist(ctx)
		if err != nil {
			return err
		}
		notifier.PrintBlacklist(entries)
	}
	if window > 0 {
		now := time.Now()
		verdicts, err := store.GetVerdicts(ctx, now.Add(-window), now)
		if err != nil {
			return err
		}
		return notifier.Notify(ctx, verdicts)
	}
	return nil
}

func failed(verdicts []domain.VerdictRecord) bool {
	for _, v := range verdicts {
		if v.Outcome == domain.OutcomeFailed {
			return true
		}
	}
	return false
}

func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}
