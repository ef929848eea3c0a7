package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/alejandrodnm/polybet/config"
	"github.com/alejandrodnm/polybet/internal/adapters/ledger"
	"github.com/alejandrodnm/polybet/internal/adapters/lock"
	"github.com/alejandrodnm/polybet/internal/adapters/notify"
	"github.com/alejandrodnm/polybet/internal/adapters/registry"
	"github.com/alejandrodnm/polybet/internal/adapters/storage"
	"github.com/alejandrodnm/polybet/internal/application/market"
	"github.com/alejandrodnm/polybet/internal/domain"
	"gopkg.in/natefinch/lumberjack.v2"
)

const usage = `usage: polybet [flags] <command> [args]

commands:
  grant                                  claim the one-time faucet grant
  balance [identity]                     show a balance (default: -as)
  create -name N -options a,b[,..] -close RFC3339|-in DUR -base AMOUNT
  activities                             list activities
  activity <id>                          show one activity with stake per option
  buy <activity> <option> <amount>       stake on an option
  tickets [owner]                        tickets held by owner (default: -as)
  sell <ticket> <price>                  list a ticket for sale
  cancel <listing>                       cancel an active listing
  purchase <listing>                     buy a listed ticket
  listings -activity N | -seller X       secondary market listings
  resolve <activity> <option>            resolve an activity (operator)
  events [-limit N]                      audit journal, newest first

flags:
`

// exit codes
const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	as := flag.String("as", "", "acting identity (default: the operator)")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	format := flag.String("format", "", "output and log format: text|json (overrides config)")
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(exitUsage)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(exitError)
	}

	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *format != "" {
		cfg.Log.Format = *format
	}
	closeLog, err := setupLogger(cfg.Log)
	if err != nil {
		slog.Error("failed to set up logging", "err", err)
		os.Exit(exitError)
	}
	defer closeLog()

	caller := cfg.Operator()
	if *as != "" {
		if caller, err = domain.ParseIdentity(*as); err != nil {
			fmt.Fprintf(os.Stderr, "error: -as: %v\n", err)
			os.Exit(exitUsage)
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	code := run(ctx, cfg, caller, cfg.Log.Format, flag.Args())
	closeLog()
	cancel()
	os.Exit(code)
}

// run ejecuta un único comando dentro de una sesión exclusiva de la base:
// cargar estado, operar, persistir. Otro proceso espera hasta que termine.
func run(ctx context.Context, cfg *config.Config, caller domain.Identity, format string, args []string) int {
	if cfg.Lock.RedisAddr != "" {
		unlock, err := acquireRedisLock(ctx, cfg)
		if err != nil {
			slog.Error("failed to acquire lock", "err", err, "key", cfg.Lock.Key)
			return exitError
		}
		defer unlock()
	}

	store, err := storage.NewSQLiteStorage(cfg.Storage.DSN)
	if err != nil {
		slog.Error("failed to open storage", "err", err, "dsn", cfg.Storage.DSN)
		return exitError
	}
	defer store.Close()

	var cmdErr error
	err = store.Exclusive(ctx, func(ctx context.Context) error {
		cli, err := openCLI(ctx, cfg, store, caller, format)
		if err != nil {
			return err
		}
		slog.Debug("polybet command",
			"cmd", args[0],
			"caller", caller,
			"dsn", cfg.Storage.DSN,
			"activities", cli.engine.ActivityCount(),
		)
		// los errores del comando no descartan lo ya confirmado
		cmdErr = cli.dispatch(ctx, args)
		return nil
	})
	if err != nil {
		slog.Error("failed to run command", "err", err, "dsn", cfg.Storage.DSN)
		return exitError
	}

	if cmdErr != nil {
		var ue usageError
		if errors.As(cmdErr, &ue) {
			fmt.Fprintf(os.Stderr, "error: %v\n\n", cmdErr)
			flag.Usage()
			return exitUsage
		}
		fmt.Fprintf(os.Stderr, "error: %s: %v\n", domain.KindOf(cmdErr), cmdErr)
		return exitError
	}
	return exitOK
}

// openCLI reconstruye el engine desde disco.
func openCLI(ctx context.Context, cfg *config.Config, store *storage.SQLiteStorage, caller domain.Identity, format string) (*cli, error) {
	snap, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}

	balances := ledger.NewMemory(cfg.Engine.GrantAmount)
	balances.Load(snap.Balances, snap.Grants)
	claims := registry.NewMemory()
	claims.Load(snap.Claims)

	console := notify.NewConsole(format)
	opts := []market.Option{market.WithStorage(store)}
	if format != notify.FormatJSON {
		opts = append(opts, market.WithNotifier(console))
	}

	eng, err := market.New(market.Config{Operator: cfg.Operator()}, balances, claims, opts...)
	if err != nil {
		return nil, fmt.Errorf("create engine: %w", err)
	}
	if err := eng.Restore(snap); err != nil {
		return nil, fmt.Errorf("restore state: %w", err)
	}
	return &cli{engine: eng, store: store, console: console, caller: caller}, nil
}

// acquireRedisLock toma el lock compartido entre hosts, esperando hasta el TTL.
func acquireRedisLock(ctx context.Context, cfg *config.Config) (func(), error) {
	r, err := lock.NewRedis(ctx, lock.RedisConfig{
		Addr:     cfg.Lock.RedisAddr,
		Password: cfg.Lock.RedisPassword,
		DB:       cfg.Lock.RedisDB,
	})
	if err != nil {
		return nil, err
	}

	waitCtx, cancel := context.WithTimeout(ctx, cfg.LockTTL())
	defer cancel()
	unlock, err := lock.Wait(waitCtx, r, cfg.Lock.Key, cfg.LockTTL())
	if err != nil {
		_ = r.Close()
		return nil, err
	}
	return func() {
		unlock()
		_ = r.Close()
	}, nil
}

// setupLogger configura slog. Los logs van a stderr (stdout queda para las
// tablas) y opcionalmente a un archivo rotado.
func setupLogger(cfg config.LogConfig) (func(), error) {
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

	var w io.Writer = os.Stderr
	closeFn := func() {}
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
			return nil, fmt.Errorf("setupLogger: create log dir: %w", err)
		}
		fileWriter := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
		}
		w = io.MultiWriter(os.Stderr, fileWriter)
		closeFn = func() { _ = fileWriter.Close() }
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	slog.SetDefault(slog.New(handler))
	return closeFn, nil
}
