// Command impress runs the templated-email delivery service.
//
//	impress [serve]     run the HTTP API server
//	impress flush       re-dispatch unsent messages
//	impress seed <dir>  import template files into the database
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/impresshq/impress/internal/config"
	"github.com/impresshq/impress/internal/dispatch"
	"github.com/impresshq/impress/internal/handler"
	"github.com/impresshq/impress/internal/render"
	"github.com/impresshq/impress/internal/seed"
	"github.com/impresshq/impress/internal/store"
	"github.com/impresshq/impress/pkg/db"
	"github.com/impresshq/impress/pkg/health"
	"github.com/impresshq/impress/pkg/logger"
	"github.com/impresshq/impress/pkg/mailer"
	"github.com/impresshq/impress/pkg/mailer/remote"
	"github.com/impresshq/impress/pkg/mailer/resend"
	"github.com/impresshq/impress/pkg/mailer/smtp"
	"github.com/impresshq/impress/pkg/ratelimit"
	"github.com/impresshq/impress/pkg/redis"
)

func main() {
	cmd := "serve"
	args := os.Args[1:]
	if len(args) > 0 {
		cmd = args[0]
		args = args[1:]
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log := logger.New(cfg.Logger, requestIDExtractor)
	slog.SetDefault(log)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var runErr error
	switch cmd {
	case "serve":
		runErr = serve(ctx, cfg, log)
	case "flush":
		runErr = flush(ctx, cfg, log)
	case "seed":
		if len(args) != 1 {
			runErr = errors.New("usage: impress seed <dir>")
		} else {
			runErr = seedTemplates(ctx, cfg, log, args[0])
		}
	default:
		runErr = fmt.Errorf("unknown command %q", cmd)
	}
	if runErr != nil {
		log.Error("command failed", slog.String("command", cmd), slog.Any("error", runErr))
		os.Exit(1)
	}
}

// requestIDExtractor attaches the chi request ID to every log line emitted
// within a request context.
func requestIDExtractor(ctx context.Context) (slog.Attr, bool) {
	if id := middleware.GetReqID(ctx); id != "" {
		return slog.String("request_id", id), true
	}
	return slog.Attr{}, false
}

// app holds the wired application and its shutdown hooks.
type app struct {
	store      *store.Store
	dispatcher *dispatch.Dispatcher
	sender     mailer.Sender
	checks     health.Checks
	shutdown   []func(context.Context) error
}

// setup connects storage, applies migrations, and wires the dispatch
// pipeline. withRedis controls whether the shared limiter is connected.
func setup(ctx context.Context, cfg *config.Config, log *slog.Logger, withRedis bool) (*app, error) {
	pool, err := db.Connect(ctx, cfg.DB)
	if err != nil {
		return nil, err
	}
	a := &app{checks: health.Checks{"postgres": db.Healthcheck(pool)}}
	a.shutdown = append(a.shutdown, db.Shutdown(pool))

	if err := db.Migrate(ctx, pool, store.Migrations(), cfg.DB.MigrationsTable, log); err != nil {
		return nil, err
	}
	a.store = store.New(pool)

	var limiter ratelimit.Limiter = ratelimit.NewMemory()
	if withRedis && cfg.Redis.URL != "" {
		client, err := redis.Open(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		a.checks["redis"] = redis.Healthcheck(client)
		a.shutdown = append(a.shutdown, redis.Shutdown(client))
		limiter = ratelimit.NewRedis(client)
	}

	a.sender, err = newSender(cfg)
	if err != nil {
		return nil, err
	}

	var renderOpts []render.Option
	if cfg.StrictVariables {
		renderOpts = append(renderOpts, render.Strict())
	}
	renderer := render.New(a.store, renderOpts...)
	a.dispatcher = dispatch.New(a.store, renderer, a.sender, limiter, log)
	return a, nil
}

func (a *app) close(ctx context.Context, log *slog.Logger) {
	for _, hook := range a.shutdown {
		if err := hook(ctx); err != nil {
			log.Error("shutdown hook failed", slog.Any("error", err))
		}
	}
}

func newSender(cfg *config.Config) (mailer.Sender, error) {
	switch cfg.MailerBackend {
	case config.BackendSMTP:
		return smtp.New(cfg.SMTP), nil
	case config.BackendResend:
		return resend.New(cfg.Resend), nil
	case config.BackendRemote:
		return remote.New(cfg.Remote), nil
	}
	return nil, fmt.Errorf("unknown mail backend %q", cfg.MailerBackend)
}

func serve(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	a, err := setup(ctx, cfg, log, true)
	if err != nil {
		return err
	}

	h := handler.New(a.store, a.dispatcher, cfg.AdminToken, a.checks, log)
	server := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: h.Router(),
	}

	ln, err := net.Listen("tcp", server.Addr)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server starting",
			slog.String("address", ln.Addr().String()),
			slog.String("backend", cfg.MailerBackend))
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := server.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	a.close(shutdownCtx, log)
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	log.Info("shutdown completed")
	return nil
}

func flush(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	a, err := setup(ctx, cfg, log, false)
	if err != nil {
		return err
	}
	defer a.close(context.Background(), log)

	flusher := dispatch.NewFlusher(a.store, a.dispatcher, a.sender, cfg.FlushWorkers, log)
	stats, err := flusher.Flush(ctx)
	if err != nil {
		return err
	}
	log.Info("flush completed",
		slog.Int64("sent", stats.Sent),
		slog.Int64("failed", stats.Failed),
		slog.Int64("skipped", stats.Skipped))
	return nil
}

func seedTemplates(ctx context.Context, cfg *config.Config, log *slog.Logger, dir string) error {
	a, err := setup(ctx, cfg, log, false)
	if err != nil {
		return err
	}
	defer a.close(context.Background(), log)

	importer := seed.NewImporter(a.store, log)
	n, err := importer.ImportDir(ctx, os.DirFS(dir))
	if err != nil {
		return err
	}
	log.Info("seed completed", slog.Int("templates", n), slog.String("dir", dir))
	return nil
}
