// Command agentrun is the HTTP entrypoint: it wires the token accountant,
// compactor, prompt assembler, tool registry, model client, agent loop, run
// logger, and session store into the two external endpoints spec.md §6
// describes (run, run/stream), leaving HTTP routing and SSE framing — named
// external-collaborator concerns — to this command rather than the core
// packages.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"goa.design/clue/log"

	"github.com/agentrun/agentrun/agentloop"
	"github.com/agentrun/agentrun/config"
	"github.com/agentrun/agentrun/humaninput"
	"github.com/agentrun/agentrun/providers"
	"github.com/agentrun/agentrun/runlog/jsonlstore"
	"github.com/agentrun/agentrun/runtime/agent/model"
	sessionjsonl "github.com/agentrun/agentrun/session/jsonlstore"
	"github.com/agentrun/agentrun/toolregistry"
	mcploader "github.com/agentrun/agentrun/toolregistry/mcp"
)

func main() {
	var (
		hostF    = flag.String("host", "localhost", "server host")
		portF    = flag.String("port", "8080", "server port")
		dataDirF = flag.String("data-dir", "./data", "base directory for the default JSONL session/run persistence backend")
		dbgF     = flag.Bool("debug", false, "log request and response bodies")
	)
	flag.Parse()

	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))
	if *dbgF {
		ctx = log.Context(ctx, log.WithDebug())
	}

	cfg := config.Load()

	modelClient, err := providers.New(ctx, cfg, providers.Options{})
	if err != nil {
		log.Fatal(ctx, fmt.Errorf("build model client: %w", err))
	}

	tools, err := buildToolRegistry(ctx, cfg, modelClient)
	if err != nil {
		log.Fatal(ctx, fmt.Errorf("build tool registry: %w", err))
	}

	runLogDir := filepath.Join(*dataDirF, "runs")
	runStore, err := jsonlstore.New(runLogDir)
	if err != nil {
		log.Fatal(ctx, fmt.Errorf("open run log store: %w", err))
	}
	sessionStore, err := sessionjsonl.New(filepath.Join(*dataDirF, "sessions"))
	if err != nil {
		log.Fatal(ctx, fmt.Errorf("open session store: %w", err))
	}

	srv := newServer(serverDeps{
		Config:    cfg,
		Model:     modelClient,
		Tools:     tools,
		RunLog:    runStore,
		RunLogDir: runLogDir,
		Sessions:  sessionStore,
	})

	addr := net.JoinHostPort(*hostF, *portF)
	u := &url.URL{Scheme: "http", Host: addr}
	log.Print(ctx, log.KV{K: "addr", V: u.String()})

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.mux(),
		ReadHeaderTimeout: 60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("%s", <-c)
	}()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
	}()

	log.Printf(ctx, "exiting (%v)", <-errc)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)
	_ = runStore.Close()
	_ = sessionStore.Close()

	wg.Wait()
	log.Printf(ctx, "exited")
}

// buildToolRegistry assembles the native tools every run can call, then
// merges in MCP-discovered tools when configured, per the registry's
// documented load order: native, then MCP, then sandbox substitutes, then
// spawn_agent.
//
// spawn_agent's child runner shares this same registry, so a spawned agent
// can itself call spawn_agent — recursion is bounded by Spawn.MaxDepth, not
// by a fresh registry per depth. Spawn.Invoke carries the nesting depth in
// the context of the child run, so each nested call counts one level deeper
// than the call that spawned it.
func buildToolRegistry(ctx context.Context, cfg config.Config, modelClient model.Client) (*toolregistry.Registry, error) {
	reg := toolregistry.New(nil)

	if err := reg.Register(humaninput.Tool{}); err != nil {
		return nil, fmt.Errorf("register %s: %w", humaninput.ToolName, err)
	}

	if cfg.EnableMCP && cfg.MCPConfigPath != "" {
		raw, err := os.ReadFile(cfg.MCPConfigPath)
		if err != nil {
			return nil, fmt.Errorf("read mcp config: %w", err)
		}
		doc, err := mcploader.ParseDocument(raw)
		if err != nil {
			return nil, err
		}
		mcpTools, errs := mcploader.Dial(ctx, doc)
		for _, e := range errs {
			log.Error(ctx, e, log.KV{K: "msg", V: "mcp server dial failed"})
		}
		for _, t := range mcpTools {
			if err := reg.Register(t); err != nil {
				log.Error(ctx, err, log.KV{K: "msg", V: "mcp tool registration failed"})
			}
		}
	}

	childRunner := agentloop.NewChildRunner(agentloop.New(), agentloop.RunConfig{
		Model:    modelClient,
		Tools:    reg,
		MaxSteps: cfg.AgentMaxSteps,
	})
	if err := reg.Register(&toolregistry.Spawn{Runner: childRunner, Depth: 1, MaxDepth: cfg.SpawnAgentMaxDepth}); err != nil {
		return nil, fmt.Errorf("register spawn_agent: %w", err)
	}
	return reg, nil
}
