package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/congo-pay/payroll/internal/bulk"
	"github.com/congo-pay/payroll/internal/chain"
	"github.com/congo-pay/payroll/internal/config"
	"github.com/congo-pay/payroll/internal/dispatch"
	"github.com/congo-pay/payroll/internal/employee"
	"github.com/congo-pay/payroll/internal/infra"
	"github.com/congo-pay/payroll/internal/ledger"
	"github.com/congo-pay/payroll/internal/logging"
	"github.com/congo-pay/payroll/internal/notification"
	"github.com/congo-pay/payroll/internal/payments"
	"github.com/congo-pay/payroll/internal/routes"
	"github.com/congo-pay/payroll/internal/server"
	"github.com/congo-pay/payroll/internal/transfer"
	"github.com/congo-pay/payroll/internal/wallet"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewWithOptions(logging.Options{Level: cfg.LogLevel, File: cfg.LogFile})

	if err := run(cfg, logger); err != nil {
		logger.Error("payroll stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("server exited cleanly")
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var db *pgxpool.Pool
	if cfg.DatabaseURL != "" {
		if err := infra.Migrate(cfg.DatabaseURL, logger); err != nil {
			return err
		}
		pool, err := infra.NewPostgresPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer pool.Close()
		db = pool
	}

	var cache *redis.Client
	if cfg.RedisURL != "" {
		client, err := infra.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer func() {
			if err := client.Close(); err != nil {
				logger.Warn("close redis", "error", err)
			}
		}()
		cache = client
	}

	registry, err := chain.Build(cfg.Networks, logger)
	if err != nil {
		return fmt.Errorf("build chain registry: %w", err)
	}

	var (
		employees employee.Directory
		repo      payments.Repository
		store     ledger.Store
		balances  wallet.BalanceCache
	)
	if db != nil {
		employees = employee.NewPostgresDirectory(db)
		repo = payments.NewPostgresRepository(db)
		store = ledger.NewPostgresStore(db)
	} else {
		logger.Warn("DATABASE_URL not set, using in-memory storage")
		var seed []employee.Employee
		if cfg.EmployeesSeed != "" {
			if seed, err = employee.LoadSeed(cfg.EmployeesSeed); err != nil {
				return err
			}
		}
		employees = employee.NewMemoryDirectory(seed...)
		repo = payments.NewMemoryRepository()
		store = ledger.NewInMemory()
	}

	var locker dispatch.Locker = dispatch.NopLocker{}
	sinks := notification.Multi{notification.NewLoggerNotifier(logger)}
	var inbox *notification.RedisNotifier
	if cache != nil {
		balances = wallet.NewRedisCache(cache, 0)
		locker = dispatch.NewRedisLocker(cache, cfg.DispatchLockTTL, logger)
		inbox = notification.NewRedisNotifier(cache)
		sinks = append(sinks, inbox)
	} else {
		logger.Warn("REDIS_URL not set, balance cache and lane locks are process-local")
		balances = wallet.NewMemoryCache()
	}

	walletSvc := wallet.NewService(registry, balances, logger)
	recorder := ledger.NewRecorder(store, walletSvc, logger, cfg.LedgerRetryInterval)
	dispatcher := dispatch.New(logger, locker)
	notifier := notification.NewAsync(sinks, logger, 1024)
	executor := transfer.NewExecutor(registry, logger, transfer.WithRetries(cfg.TransferMaxRetries, cfg.TransferBaseDelay))

	paymentSvc := payments.NewService(payments.Deps{
		Repo:       repo,
		Employees:  employees,
		Registry:   registry,
		Gate:       walletSvc,
		Executor:   executor,
		Dispatcher: dispatcher,
		Recorder:   recorder,
		Notifier:   notifier,
		Logger:     logger,
	})
	bulkSvc := bulk.NewService(employees, paymentSvc, logger)

	deps := routes.Deps{
		Cfg:      cfg,
		DB:       db,
		Logger:   logger,
		Payments: payments.NewHandler(paymentSvc),
		Bulk:     bulk.NewHandler(bulkSvc),
		Wallets:  wallet.NewHandler(walletSvc, recorder),
	}
	if cache != nil {
		deps.Cache = cache
		deps.Inbox = inbox
	}
	srv, err := server.New(deps)
	if err != nil {
		return fmt.Errorf("build server: %w", err)
	}

	recorderCtx, stopRecorder := context.WithCancel(context.Background())
	defer stopRecorder()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return recorder.Run(recorderCtx)
	})
	g.Go(func() error {
		logger.Info("http server listening", "addr", cfg.Address(), "networks", registry.Networks())
		if err := srv.Listen(); err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down", "timeout", cfg.ShutdownPeriod.String())

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownPeriod)
		defer cancel()

		var errs []error
		if err := srv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
		if err := dispatcher.Close(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("dispatcher drain: %w", err))
		}
		stopRecorder()
		notifier.Close()
		return errors.Join(errs...)
	})
	return g.Wait()
}
