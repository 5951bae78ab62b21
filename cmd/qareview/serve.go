package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/pavelanni/qareview/internal/handler"
	appI18n "github.com/pavelanni/qareview/internal/i18n"
	"github.com/pavelanni/qareview/internal/review"
	"github.com/pavelanni/qareview/internal/worker"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the review API, evaluation worker and queue sweeper",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.StringP("lang", "l", "en", "Default message language (en, ru)")
	f.Bool("strict-actions", false, "Reject unknown review actions instead of treating them as approve")
	f.Bool("no-worker", false, "Serve the API only, without evaluating queued questions")
	f.Bool("llm-check", false, "Check the evaluator endpoint at startup")
	f.Int("workers", 1, "Concurrent evaluation workers")
	f.Duration("poll-interval", 5*time.Second, "Wait between queue polls when idle")
	f.Duration("stale-after", 10*time.Minute, "Requeue entries stuck in processing for longer than this (0 = never)")
	f.Bool("retry-failed", false, "Let the sweeper requeue failed evaluations")
	f.Duration("sweep-interval", time.Minute, "Interval between queue sweeps")
	addLLMFlags(f)
	addCommonFlags(f)
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := openStore(v)
	if err != nil {
		return err
	}
	defer db.Close()
	count, err := db.QuestionCount(context.Background())
	if err != nil {
		return fmt.Errorf("count questions: %w", err)
	}

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	evaluator, err := newEvaluator(v)
	if err != nil {
		return err
	}
	if v.GetBool("llm-check") {
		if err := evaluator.Ping(context.Background()); err != nil {
			return fmt.Errorf("evaluator health check: %w", err)
		}
		slog.Info("evaluator endpoint OK", "url", v.GetString("llm-url"), "model", v.GetString("llm-model"))
	}

	cfg := reviewConfig(v)
	var opts []review.Option
	if cfg.StrictActions {
		opts = append(opts, review.WithStrictActions())
	}
	h := handler.New(db, review.New(db, opts...))

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(appI18n.Middleware(lang))
	h.Routes(r)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	addr := v.GetString("addr")
	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	switch {
	case v.GetBool("no-worker"):
		slog.Info("evaluation worker disabled")
	case !evaluator.Configured():
		slog.Warn("evaluator not configured, queued questions will wait; set --llm-key and --llm-model")
	default:
		if cfg.StaleAfter > 0 && (cfg.EvalTimeout <= 0 || cfg.EvalTimeout >= cfg.StaleAfter) {
			slog.Warn("stale-after does not exceed eval-timeout, slow evaluations may be requeued and repeated",
				"stale_after", cfg.StaleAfter, "eval_timeout", cfg.EvalTimeout)
		}
		w := worker.New(db, evaluator, cfg)
		g.Go(func() error { return w.Run(ctx) })
	}
	sweeper := worker.NewSweeper(db, cfg)
	g.Go(func() error { return sweeper.Run(ctx) })

	slog.Info("starting server",
		"addr", addr,
		"db", v.GetString("db"),
		"questions", count,
		"model", v.GetString("llm-model"),
		"llm_url", v.GetString("llm-url"),
		"prompt_variant", v.GetString("prompt-variant"),
		"lang", lang,
		"workers", cfg.Workers,
		"strict_actions", cfg.StrictActions,
		"stale_after", cfg.StaleAfter,
		"retry_failed", cfg.RetryFailed,
	)
	return g.Wait()
}
