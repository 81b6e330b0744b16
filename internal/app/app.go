package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/you-humble/degreegen/internal/infra/config"
	"github.com/you-humble/degreegen/internal/transport"
)

type app struct {
	di  *dependencyInjector
	srv *http.Server
}

func New(ctx context.Context, cfgPath string) *app {
	di := newDI(cfgPath)
	di.Logger()
	mux := http.NewServeMux()
	return &app{
		di: di,
		srv: &http.Server{
			Addr: di.Config().Addr,
			Handler: transport.WithRecover(
				transport.LogMiddleware(
					di.Router(ctx).MountRoutes(mux),
				),
			),
		},
	}
}

func (a *app) Run(ctx context.Context) error {
	cfg := a.di.Config()

	// Workers keep running after ctx ends until the local runner drained.
	workCtx, stopWork := context.WithCancel(context.WithoutCancel(ctx))
	defer stopWork()

	var consumer Consumer
	switch cfg.Runner.Mode {
	case config.RunnerJetStream:
		consumer = a.di.Consumer(workCtx)
		if err := consumer.Run(workCtx); err != nil {
			return fmt.Errorf("start consumer: %w", err)
		}
	default:
		a.di.Runner(workCtx)
		a.di.local.Run(workCtx)
	}
	a.di.Cleaner(workCtx).Start(workCtx)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting server", slog.String("addr", a.srv.Addr))
		if e := a.srv.ListenAndServe(); e != nil && !errors.Is(e, http.ErrServerClosed) {
			slog.Error("server error", slog.String("error", e.Error()))
			errCh <- e
		}
	}()

	var runErr error
	select {
	case runErr = <-errCh:
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(
		context.Background(),
		cfg.ShutdownTimeout,
	)
	defer cancel()

	if err := a.srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", slog.String("error", err.Error()))
		runErr = errors.Join(runErr, err)
	}

	if a.di.local != nil {
		if err := a.di.local.Stop(shutdownCtx); err != nil {
			slog.Error("runner shutdown error", slog.String("error", err.Error()))
		}
	}
	stopWork()
	if consumer != nil {
		consumer.Stop(workCtx)
	}

	a.di.Close(shutdownCtx)

	if runErr != nil {
		return runErr
	}
	slog.Info("server gracefully stopped")
	return nil
}
