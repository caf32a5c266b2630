// Command softdel soft deletes, restores and inspects single records.
//
//	softdel [--config FILE] [--driver postgres|sqlite] [--dsn DSN] delete products 0190...
//
// Exit codes: 0 applied, unchanged or status printed; 1 error; 2 the
// operation was vetoed or matched no row. On a table with a lock column the
// latter case prints "stale".
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/prometheus/client_golang/prometheus"

	"deletionmark/internal/config"
	"deletionmark/internal/core/apperror"
	appctx "deletionmark/internal/core/context"
	"deletionmark/internal/core/entity"
	"deletionmark/internal/core/id"
	"deletionmark/internal/core/tx"
	"deletionmark/internal/domain/softdelete"
	"deletionmark/internal/infrastructure/storage/postgres"
	"deletionmark/internal/infrastructure/storage/sqlite"
	"deletionmark/pkg/logger"
)

const (
	exitOK         = 0
	exitError      = 1
	exitNotApplied = 2
)

type cli struct {
	Config      string `help:"Path to the TOML configuration file." env:"SOFTDEL_CONFIG" type:"path"`
	Driver      string `help:"Storage driver: postgres or sqlite. Overrides the config file."`
	DSN         string `name:"dsn" help:"Database connection string. Overrides the config file."`
	LogLevel    string `help:"Log level: debug, info, warn, error."`
	Actor       string `help:"Actor recorded in the audit log." env:"USER"`
	MetricsFile string `help:"Write Prometheus metrics to this file on exit (textfile collector format)."`

	Delete  deleteCmd  `cmd:"" help:"Soft delete a record."`
	Restore restoreCmd `cmd:"" help:"Restore a soft-deleted record."`
	Status  statusCmd  `cmd:"" help:"Print the deletion state of a record."`
}

type recordArgs struct {
	Table string `arg:"" help:"Table of the record."`
	ID    string `arg:"" name:"id" help:"Primary key (UUID)."`
}

type (
	deleteCmd  struct{ recordArgs }
	restoreCmd struct{ recordArgs }
	statusCmd  struct{ recordArgs }
)

// errNotApplied is returned by delete and restore when the outcome is
// rejected or failed.
type errNotApplied struct {
	outcome softdelete.Outcome
}

func (e errNotApplied) Error() string {
	return "record not changed: " + e.outcome.String()
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	var c cli
	parser, err := kong.New(&c,
		kong.Name("softdel"),
		kong.Description("Soft delete and restore records by flipping marker attributes."),
		kong.Writers(stdout, stderr),
		kong.UsageOnError(),
	)
	if err != nil {
		fmt.Fprintf(stderr, "softdel: %v\n", err)
		return exitError
	}

	kctx, err := parser.Parse(args)
	if err != nil {
		fmt.Fprintf(stderr, "softdel: %v\n", err)
		return exitError
	}

	cfg, err := config.Load(c.Config)
	if err != nil {
		fmt.Fprintf(stderr, "softdel: %v\n", err)
		return exitError
	}
	if c.Driver != "" {
		cfg.Database.Driver = c.Driver
	}
	if c.DSN != "" {
		cfg.Database.DSN = c.DSN
	}
	if c.LogLevel != "" {
		cfg.Logging.Level = c.LogLevel
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "softdel: %v\n", err)
		return exitError
	}

	log, err := logger.New(logger.Config{
		Level:       cfg.Logging.Level,
		Development: getEnv("APP_ENV", "production") == "development",
		OutputPaths: []string{"stderr"},
	})
	if err != nil {
		fmt.Fprintf(stderr, "failed to initialize logger: %v\n", err)
		return exitError
	}
	defer func() { _ = log.Sync() }()

	ctx = appctx.WithTrace(ctx, appctx.NewTraceContext())
	ctx = appctx.WithActor(ctx, &appctx.Actor{UserID: c.Actor, Source: "cli"})
	ctx = logger.WithLogger(ctx, log.WithContext(ctx))

	b, err := openBackend(ctx, cfg.Database)
	if err != nil {
		logger.Error(ctx, "failed to open database", "driver", cfg.Database.Driver, "error", err)
		return exitError
	}
	defer b.close()

	reg := prometheus.NewRegistry()
	e := &env{
		ctx:     ctx,
		cfg:     cfg,
		backend: b,
		metrics: softdelete.NewMetrics(reg),
		out:     stdout,
	}

	err = kctx.Run(e)

	if c.MetricsFile != "" {
		if werr := prometheus.WriteToTextfile(c.MetricsFile, reg); werr != nil {
			logger.Warn(ctx, "failed to write metrics file", "path", c.MetricsFile, "error", werr)
		}
	}

	var notApplied errNotApplied
	switch {
	case err == nil:
		return exitOK
	case errors.As(err, &notApplied):
		fmt.Fprintln(stdout, notApplied.outcome.String())
		return exitNotApplied
	case apperror.IsStaleObject(err):
		logger.Warn(ctx, "record changed concurrently or vetoed", "command", kctx.Command(), "error", err)
		fmt.Fprintln(stdout, "stale")
		return exitNotApplied
	}
	logger.Error(ctx, "command failed", "command", kctx.Command(), "error", err)
	return exitError
}

// recordStore is what the commands need from a storage backend.
type recordStore interface {
	softdelete.Updater
	Find(ctx context.Context, table string, key id.ID, lockAttr string) (*entity.Model, error)
}

type backend struct {
	txm    tx.ReadOnlyManager
	store  recordStore
	audit  *postgres.AuditLog
	outbox *postgres.OutboxPublisher
	close  func()
}

func openBackend(ctx context.Context, cfg config.DatabaseConfig) (*backend, error) {
	switch cfg.Driver {
	case "sqlite":
		db, err := sqlite.Open(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		txm := sqlite.NewTxManager(db)
		return &backend{
			txm:   txm,
			store: sqlite.NewRecordRepo(txm),
			close: func() { _ = db.Close() },
		}, nil

	case "postgres":
		pool, err := postgres.NewPool(ctx, postgres.DefaultPoolConfig(cfg.DSN))
		if err != nil {
			return nil, err
		}
		txm := postgres.NewTxManager(pool)
		audit, err := postgres.NewAuditLog(txm)
		if err != nil {
			pool.Close()
			return nil, err
		}
		b := &backend{
			txm:   txm,
			store: postgres.NewRecordRepo(txm),
			audit: audit,
			close: pool.Close,
		}
		if cfg.Outbox {
			b.outbox = postgres.NewOutboxPublisher(txm)
		}
		return b, nil
	}
	return nil, fmt.Errorf("unsupported driver %q", cfg.Driver)
}

// env is bound to every command's Run method.
type env struct {
	ctx     context.Context
	cfg     *config.Config
	backend *backend
	metrics *softdelete.Metrics
	out     io.Writer
}

// controller builds the controller configured for table.
func (e *env) controller(table string) (*softdelete.Controller, config.ModelConfig, error) {
	model := e.cfg.Model(table)

	sd, err := model.SoftDeleteConfig()
	if err != nil {
		return nil, model, err
	}
	ctrl, err := softdelete.New(sd, e.backend.txm, e.backend.store, softdelete.WithMetrics(e.metrics))
	if err != nil {
		return nil, model, err
	}

	guard, err := model.NewGuard()
	if err != nil {
		return nil, model, err
	}
	if guard != nil {
		guard.Register(ctrl.Hooks())
	}
	if e.backend.audit != nil {
		e.backend.audit.Register(ctrl.Hooks())
	}
	if e.backend.outbox != nil {
		e.backend.outbox.Register(ctrl.Hooks())
	}
	return ctrl, model, nil
}

func (e *env) find(ctx context.Context, model config.ModelConfig, rawID string) (*entity.Model, error) {
	key, err := id.Parse(rawID)
	if err != nil {
		return nil, fmt.Errorf("invalid id %q: %w", rawID, err)
	}
	return e.backend.store.Find(ctx, model.Table, key, model.Lock)
}

func (e *env) transition(args recordArgs, op func(*softdelete.Controller, context.Context, entity.Record) (softdelete.Outcome, error)) error {
	ctrl, model, err := e.controller(args.Table)
	if err != nil {
		return err
	}
	rec, err := e.find(e.ctx, model, args.ID)
	if err != nil {
		return err
	}

	outcome, err := op(ctrl, e.ctx, rec)
	if err != nil {
		return err
	}
	if outcome == softdelete.OutcomeRejected || outcome == softdelete.OutcomeFailed {
		return errNotApplied{outcome: outcome}
	}
	fmt.Fprintln(e.out, outcome.String())
	return nil
}

func (c *deleteCmd) Run(e *env) error {
	return e.transition(c.recordArgs, (*softdelete.Controller).SoftDelete)
}

func (c *restoreCmd) Run(e *env) error {
	return e.transition(c.recordArgs, (*softdelete.Controller).SoftRestore)
}

type status struct {
	Table   string `json:"table"`
	ID      string `json:"id"`
	Deleted bool   `json:"deleted"`
	Flag    any    `json:"flag"`
	Lock    any    `json:"lock,omitempty"`
}

func (c *statusCmd) Run(e *env) error {
	ctrl, model, err := e.controller(c.Table)
	if err != nil {
		return err
	}

	var rec *entity.Model
	err = e.backend.txm.ReadOnly(e.ctx, func(ctx context.Context) error {
		rec, err = e.find(ctx, model, c.ID)
		return err
	})
	if err != nil {
		return err
	}

	deleted, err := ctrl.IsDeleted(rec)
	if err != nil {
		return err
	}
	flag, err := ctrl.DeletionFlag(rec)
	if err != nil {
		return err
	}

	s := status{Table: c.Table, ID: rec.ID.String(), Deleted: deleted, Flag: flag}
	if model.Lock != "" {
		s.Lock = rec.Get(model.Lock)
	}
	enc := json.NewEncoder(e.out)
	return enc.Encode(s)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
