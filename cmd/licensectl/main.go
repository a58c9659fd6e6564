// Command licensectl performs operator tasks against the license database:
// schema migrations, status checks, test licenses, revocation, plugin
// registration and usage export.
//
// Usage:
//
//	licensectl <command> [flags]
//
// Configuration is read the same way as the server (GMF_* environment, .env,
// optional config.yaml). Every command needs the postgres driver.
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
	"syscall"

	cacheredis "gmflicense/internal/cache/redis"
	"gmflicense/internal/config"
	"gmflicense/internal/infrastructure"
	"gmflicense/internal/license"
	"gmflicense/internal/storage/postgres"
)

const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

// usageError marks a problem with the command line rather than the operation
type usageError struct {
	msg string
}

func (e *usageError) Error() string { return e.msg }

func usagef(format string, args ...any) error {
	return &usageError{msg: fmt.Sprintf(format, args...)}
}

// action runs a parsed command
type action func(ctx context.Context, e *env) error

// command registers its flags on fs and returns the action to run once they
// are parsed
type command struct {
	name    string
	summary string
	setup   func(fs *flag.FlagSet) action
}

// env carries what commands share and lazily opens the database
type env struct {
	cfg    *config.Config
	logger *slog.Logger
	out    io.Writer

	store   *postgres.Store
	closers []func() error
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := realMain(ctx, os.Args[1:], os.Stdout, os.Stderr, config.Load)
	stop()
	os.Exit(code)
}

// realMain dispatches args to a command and returns the process exit code
func realMain(ctx context.Context, args []string, stdout, stderr io.Writer, load func() (*config.Config, error)) int {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		printUsage(stderr)
		return exitUsage
	}

	cmd, ok := lookup(args[0])
	if !ok {
		fmt.Fprintf(stderr, "unknown command %q\n\n", args[0])
		printUsage(stderr)
		return exitUsage
	}

	fs := flag.NewFlagSet(cmd.name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	run := cmd.setup(fs)
	if err := fs.Parse(args[1:]); err != nil {
		// flag has already reported the problem, or printed -h output
		return exitUsage
	}

	cfg, err := load()
	if err != nil {
		fmt.Fprintf(stderr, "licensectl: %v\n", err)
		return exitError
	}

	e := &env{
		cfg:    cfg,
		logger: infrastructure.WithComponent(infrastructure.NewLoggerWithWriter(stderr, cfg.Logging), "licensectl"),
		out:    stdout,
	}
	defer e.close()

	ctx = infrastructure.EnsureTraceID(ctx)
	if err := run(ctx, e); err != nil {
		var ue *usageError
		if errors.As(err, &ue) {
			fmt.Fprintf(stderr, "licensectl %s: %v\n", cmd.name, err)
			fs.Usage()
			return exitUsage
		}
		e.logger.ErrorContext(ctx, "command failed",
			slog.String("command", cmd.name),
			slog.String("error", err.Error()))
		fmt.Fprintf(stderr, "licensectl %s: %v\n", cmd.name, err)
		return exitError
	}
	return exitOK
}

func lookup(name string) (command, bool) {
	for _, c := range commands {
		if c.name == name {
			return c, true
		}
	}
	return command{}, false
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: licensectl <command> [flags]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	for _, c := range commands {
		fmt.Fprintf(w, "  %-22s %s\n", c.name, c.summary)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Run 'licensectl <command> -h' for command flags.")
}

// dsn returns the database URL, refusing drivers licensectl cannot manage
func (e *env) dsn() (string, error) {
	if e.cfg.Database.Driver != config.BackendPostgres {
		return "", fmt.Errorf("database driver %q is not supported; set GMF_DATABASE_DRIVER=postgres", e.cfg.Database.Driver)
	}
	return e.cfg.Database.URL, nil
}

// openStore connects to the database on first use
func (e *env) openStore(ctx context.Context) (*postgres.Store, error) {
	if e.store != nil {
		return e.store, nil
	}
	if _, err := e.dsn(); err != nil {
		return nil, err
	}

	store, err := postgres.Open(ctx, e.cfg.Database, e.logger)
	if err != nil {
		return nil, err
	}
	e.store = store
	e.closers = append(e.closers, store.Close)
	return store, nil
}

// service builds the license engine over the database. When the server caches
// snapshots in Redis, the same cache is attached so revocations invalidate it.
func (e *env) service(ctx context.Context) (*license.Service, *postgres.Store, error) {
	store, err := e.openStore(ctx)
	if err != nil {
		return nil, nil, err
	}

	var snapshots *license.SnapshotCache
	if e.cfg.Cache.Backend == config.BackendRedis {
		rc, err := cacheredis.New(e.cfg.Redis, e.logger)
		if err != nil {
			e.logger.WarnContext(ctx, "redis cache unavailable; cached snapshots will expire on their own",
				slog.String("error", err.Error()))
		} else {
			e.closers = append(e.closers, rc.Close)
			snapshots = license.NewSnapshotCache(rc, e.cfg.Cache.TTL, e.cfg.Redis.Timeout, e.logger)
		}
	}

	svc := license.NewService(store, snapshots,
		license.WithLogger(e.logger),
		license.WithStoreTimeout(e.cfg.Engine.StoreTimeout),
		license.WithTrialDays(e.cfg.Engine.TrialDays),
		license.WithHistoryLimit(e.cfg.Engine.HistoryLimit),
	)
	return svc, store, nil
}

func (e *env) close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			e.logger.Warn("failed to release resource", slog.String("error", err.Error()))
		}
	}
	e.closers = nil
}
