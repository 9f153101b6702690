// Package server initializes and runs the subpool core: it opens the
// database, runs migrations, wires the services, and drives the background
// scheduler. The HTTP/controller surface is an external collaborator that
// embeds this package and calls the services directly.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/dmitrijs2005/subpool/internal/logging"
	"github.com/dmitrijs2005/subpool/internal/server/config"
	"github.com/dmitrijs2005/subpool/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/subpool/internal/server/services"
	"github.com/dmitrijs2005/subpool/internal/server/sweep"
)

type App struct {
	config    *config.Config
	logger    logging.Logger
	db        *sql.DB
	scheduler *sweep.Scheduler

	Groups      *services.GroupService
	Memberships *services.MembershipService
	Access      *services.AccessService
	Credentials *services.CredentialService
	Withdrawals *services.WithdrawalService
	Payments    *services.PaymentService
}

func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {

	sl := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	logger := logging.NewSlogLogger(sl)

	db, err := sql.Open("pgx", cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}

	rm, err := repomanager.NewPostgresRepositoryManager(db)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	if err := rm.RunMigrations(ctx, db); err != nil {
		return nil, fmt.Errorf("migration error: %w", err)
	}

	audit := services.NewAuditor(db, rm, logger)

	groups := services.NewGroupService(db, rm, cfg, audit, logger)
	memberships := services.NewMembershipService(db, rm, cfg, audit, logger)
	access := services.NewAccessService(db, rm, cfg, audit, logger)
	credentials := services.NewCredentialService(db, rm, cfg, audit)
	withdrawals := services.NewWithdrawalService(db, rm, cfg, audit, logger)
	payments := services.NewPaymentService(db, rm, audit, logger)
	archive := services.NewArchiveService(db, rm, cfg, logger)

	scheduler := sweep.NewScheduler(groups, access, archive, cfg, logger)

	return &App{
		config:      cfg,
		logger:      logger,
		db:          db,
		scheduler:   scheduler,
		Groups:      groups,
		Memberships: memberships,
		Access:      access,
		Credentials: credentials,
		Withdrawals: withdrawals,
		Payments:    payments,
	}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

// Run starts the background scheduler and blocks until the context is
// cancelled or a termination signal arrives.
func (app *App) Run(ctx context.Context) {

	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	if err := app.scheduler.Start(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		return
	}

	<-ctx.Done()

	app.scheduler.Stop()
	if err := app.db.Close(); err != nil {
		app.logger.Error(ctx, err.Error())
	}
	app.logger.Info(ctx, "App stopped")
}
