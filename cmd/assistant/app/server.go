// Package app provides the assistant server application.
package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/kart-io/logger"

	"github.com/kart-io/helix-assistant/cmd/assistant/app/options"
	assistant "github.com/kart-io/helix-assistant/internal/assistant"
	"github.com/kart-io/helix-assistant/internal/assistant/biz"
	"github.com/kart-io/helix-assistant/pkg/infra/app"
)

// commandDesc is the description of the command.
const commandDesc = `Helix Assistant Service

The retrieval-augmented assistant of the Helix HR platform.

This server provides:
  - Per-tenant document ingestion with vector embeddings
  - Cosine similarity retrieval over active documents
  - Multi-turn conversations with cited answers
  - Ollama and OpenAI compatible model providers

Tenant documents live in one folder per tenant under --assistant.docs-dir.
Send SIGHUP to re-ingest every tenant folder without restarting.`

// NewApp creates and returns a new App object with default parameters.
func NewApp() *app.App {
	opts := options.NewServerOptions()
	return app.NewApp(
		app.WithName(assistant.Name),
		app.WithShortDescription("Helix HR assistant"),
		app.WithDescription(commandDesc),
		app.WithOptions(opts),
		app.WithRunFunc(run(opts)),
	)
}

// run builds the server, wires the re-ingest triggers and blocks until shutdown.
func run(opts *options.ServerOptions) app.RunFunc {
	return func() error {
		cfg, err := opts.Config()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		if err := ensureDocsDir(cfg.AssistantOptions.DocsDir); err != nil {
			return err
		}

		ctx, reload := setupSignals()

		server, err := cfg.NewServer(ctx)
		if err != nil {
			return fmt.Errorf("failed to create server: %w", err)
		}

		r := &reindexer{target: server}
		server.OnShutdown(r.wait)
		if cfg.AssistantOptions.IngestOnStart {
			r.trigger(ctx, "startup")
		}
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case <-reload:
					r.trigger(ctx, "SIGHUP")
				}
			}
		}()

		return server.Run(ctx)
	}
}

// ensureDocsDir creates the tenant documents root so that watchers and
// ingestion have a folder to work on from the first request.
func ensureDocsDir(dir string) error {
	info, err := os.Stat(dir)
	switch {
	case os.IsNotExist(err):
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create docs dir %q: %w", dir, err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("failed to stat docs dir %q: %w", dir, err)
	case !info.IsDir():
		return fmt.Errorf("docs dir %q is not a directory", dir)
	}
	return nil
}

// indexer re-ingests every tenant folder.
type indexer interface {
	Reindex(ctx context.Context) (map[string]*biz.IngestionSummary, error)
}

// reindexer runs at most one full re-ingest at a time. Triggers that arrive
// while a pass is running are dropped, since that pass already picks up the
// current folder contents.
type reindexer struct {
	target  indexer
	running atomic.Bool
	wg      sync.WaitGroup
}

// trigger starts a re-ingest pass in the background and reports whether it did.
func (r *reindexer) trigger(ctx context.Context, reason string) bool {
	if ctx.Err() != nil {
		return false
	}
	if !r.running.CompareAndSwap(false, true) {
		logger.Infow("Re-ingest already running, trigger dropped", "reason", reason)
		return false
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.running.Store(false)

		logger.Infow("Re-ingesting tenant folders", "reason", reason)
		start := time.Now()
		summaries, err := r.target.Reindex(ctx)
		documents := 0
		for _, s := range summaries {
			documents += s.DocumentsIngested
		}
		if err != nil {
			logger.Errorw("Re-ingest finished with errors",
				"reason", reason,
				"tenants", len(summaries),
				"ingested", documents,
				"error", err.Error(),
			)
			return
		}
		logger.Infow("Re-ingest finished",
			"reason", reason,
			"tenants", len(summaries),
			"ingested", documents,
			"duration", time.Since(start).String(),
		)
	}()
	return true
}

// wait blocks until the running pass, if any, returns.
func (r *reindexer) wait() {
	r.wg.Wait()
}

// setupSignals returns a context that is cancelled on SIGINT or SIGTERM, and
// a channel that receives SIGHUP. A second SIGINT or SIGTERM exits immediately.
func setupSignals() (context.Context, <-chan os.Signal) {
	ctx, cancel := context.WithCancel(context.Background())
	stop := make(chan os.Signal, 2)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-stop
		cancel()
		<-stop
		os.Exit(1)
	}()

	reload := make(chan os.Signal, 1)
	signal.Notify(reload, syscall.SIGHUP)
	return ctx, reload
}
