package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"TrustGate/internal/repository"
	"TrustGate/internal/usecase"
	"TrustGate/pkg/config"
	xhttp "TrustGate/pkg/http"
	pkgkafka "TrustGate/pkg/kafka"
	applogger "TrustGate/pkg/logger"
)

// Closer is a named resource released at shutdown.
type Closer struct {
	Name  string
	Close func() error
}

// AppOption configures App.
type AppOption func(*App)

// App encapsulates the application lifecycle: the gate runner, the optional
// HTTP server and Kafka consumer, and the resources released on shutdown.
type App struct {
	cfg        *config.Config
	log        *applogger.Logger
	runner     *usecase.GateRunner
	summary    *repository.SummaryWriter
	httpServer *xhttp.Server
	consumer   *pkgkafka.Consumer
	closers    []Closer
}

func WithHTTPServer(s *xhttp.Server) AppOption {
	return func(a *App) { a.httpServer = s }
}

func WithConsumer(c *pkgkafka.Consumer) AppOption {
	return func(a *App) { a.consumer = c }
}

// WithCloser registers a resource; closers run in reverse registration order.
func WithCloser(name string, fn func() error) AppOption {
	return func(a *App) {
		if fn != nil {
			a.closers = append(a.closers, Closer{Name: name, Close: fn})
		}
	}
}

// New creates a new App instance with all dependencies.
func New(
	cfg *config.Config,
	log *applogger.Logger,
	runner *usecase.GateRunner,
	summary *repository.SummaryWriter,
	opts ...AppOption,
) *App {
	a := &App{cfg: cfg, log: log, runner: runner, summary: summary}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Runner exposes the gate runner.
func (a *App) Runner() *usecase.GateRunner { return a.runner }

// Run blocks until the runner stops: sources exhausted, run duration elapsed
// or ctx cancelled. The summary is always written before Run returns.
func (a *App) Run(ctx context.Context) (err error) {
	defer func() {
		if serr := a.shutdown(); serr != nil && err == nil {
			err = serr
		}
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var httpErrs <-chan error
	if a.httpServer != nil {
		if err := a.httpServer.Start(); err != nil {
			return fmt.Errorf("http server start: %w", err)
		}
		httpErrs = a.httpServer.Errors()
	}

	stopCron := func() {}
	if a.runner.Mode() == usecase.ModeRealtime && a.cfg.Output.SummarySchedule != "" {
		c := cron.New(cron.WithSeconds())
		if _, err := c.AddFunc(a.cfg.Output.SummarySchedule, a.checkpoint); err != nil {
			return fmt.Errorf("summary schedule %q: %w", a.cfg.Output.SummarySchedule, err)
		}
		c.Start()
		stopCron = func() { <-c.Stop().Done() }
		defer stopCron()
	}

	done := make(chan error, 1)
	go func() { done <- a.runner.Run(ctx) }()

	select {
	case err = <-done:
	case herr := <-httpErrs:
		a.log.Error("http server failed, stopping gate", applogger.Error(herr))
		cancel()
		err = errors.Join(herr, <-done)
	}
	stopCron()

	if werr := a.summary.Write(a.runner.Summary()); werr != nil {
		a.log.Error("summary write failed", applogger.Error(werr))
		err = errors.Join(err, werr)
	} else {
		s := a.runner.Summary()
		a.log.Info("run finished",
			applogger.String("summary", a.summary.Path()),
			applogger.Int64("events", s.Events),
			applogger.Int64("decisions", s.Decisions),
			applogger.Int64("transitions", s.Transitions),
			applogger.Int64("errors", s.Errors),
		)
	}
	return err
}

// checkpoint rewrites summary.json with the live counters.
func (a *App) checkpoint() {
	if err := a.summary.Write(a.runner.Summary()); err != nil {
		a.log.Warn("summary checkpoint failed", applogger.Error(err))
		return
	}
	a.log.Debug("summary checkpoint written", applogger.String("path", a.summary.Path()))
}

// shutdown stops the HTTP server and the consumer, then releases every
// registered resource.
func (a *App) shutdown() error {
	timeout := a.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var errs []error
	if a.httpServer != nil {
		if err := a.httpServer.Stop(ctx); err != nil {
			a.log.Error("http shutdown error", applogger.Error(err))
			errs = append(errs, err)
		}
	}
	if a.consumer != nil {
		if err := a.consumer.Stop(ctx); err != nil {
			a.log.Warn("kafka consumer stop error", applogger.Error(err))
			errs = append(errs, err)
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.Close(); err != nil {
			a.log.Warn("close failed", applogger.String("resource", c.Name), applogger.Error(err))
			errs = append(errs, fmt.Errorf("close %s: %w", c.Name, err))
		}
	}
	a.log.Info("shutdown complete")
	return errors.Join(errs...)
}
