// lonelycatd is the LonelyCat core server: it serves the HTTP API (spec.md
// §6) over the conversation, memory, sandbox, and execution stores, and
// wires the MCP tool catalog from environment configuration.
//
// Bootstrap follows cmd/tarsy/main.go's shape (flag-parsed config dir,
// godotenv.Load of a .env file within it, GIN_MODE/gin.SetMode, then
// sequential subsystem initialization with fatal errors on failure), with an
// optional pkg/config YAML file (<config-dir>/lonelycat.yaml) supplying flag
// defaults beneath CONFIG_DIR/env overrides, rather than pkg/api/server.go's
// heavier config.Initialize/database.NewClient path, since that path pulls
// in TARSy-specific chain/agent/MCP-provider registries this module does
// not have.
package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/nana77mi/lonelycat/pkg/api"
	"github.com/nana77mi/lonelycat/pkg/artifact"
	"github.com/nana77mi/lonelycat/pkg/catalog"
	"github.com/nana77mi/lonelycat/pkg/config"
	"github.com/nana77mi/lonelycat/pkg/conversation"
	"github.com/nana77mi/lonelycat/pkg/execlock"
	"github.com/nana77mi/lonelycat/pkg/executor"
	"github.com/nana77mi/lonelycat/pkg/governance"
	"github.com/nana77mi/lonelycat/pkg/memory"
	"github.com/nana77mi/lonelycat/pkg/planner"
	"github.com/nana77mi/lonelycat/pkg/policy"
	"github.com/nana77mi/lonelycat/pkg/runqueue"
	"github.com/nana77mi/lonelycat/pkg/sandbox"
	"github.com/nana77mi/lonelycat/pkg/store"
	"github.com/nana77mi/lonelycat/pkg/version"
	"github.com/nana77mi/lonelycat/pkg/webadapter"
	lcworker "github.com/nana77mi/lonelycat/pkg/worker"
)

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

// orDefault returns v unless it's empty, in which case it returns fallback —
// used to layer pkg/config's YAML-file settings beneath the CONFIG_DIR/env
// defaults that already feed each flag.
func orDefault(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}

func main() {
	configDirDefault := getEnv("CONFIG_DIR", "./deploy/config")
	appCfg, err := config.Load(filepath.Join(configDirDefault, "lonelycat.yaml"))
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	configDir := flag.String("config-dir", configDirDefault, "path to the directory holding .env")
	dbPath := flag.String("db", getEnv("LONELYCAT_DB", orDefault(appCfg.DBPath, "./.lonelycat/executor.db")), "path to the sqlite database file")
	workspaceRoot := flag.String("workspace-root", getEnv("LONELYCAT_WORKSPACE_ROOT", orDefault(appCfg.WorkspaceRoot, ".")), "project workspace root for artifacts and sandbox mounts")
	httpAddr := flag.String("addr", getEnv("HTTP_ADDR", orDefault(appCfg.HTTPAddr, ":8080")), "HTTP listen address")
	policyFile := flag.String("policy-file", getEnv("LONELYCAT_POLICY_FILE", orDefault(appCfg.PolicyFile, "./deploy/policy.yaml")), "path to the WriteGate policy YAML file")
	flag.Parse()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		log.Printf("warning: could not load %s: %v (continuing with existing environment)", envPath, err)
	}
	gin.SetMode(getEnv("GIN_MODE", "release"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbClient, err := store.NewClient(ctx, store.Config{Path: *dbPath, MaxOpenConns: 1, MaxIdleConns: 1, ConnMaxLifetime: time.Hour})
	if err != nil {
		log.Fatalf("opening database: %v", err)
	}
	defer dbClient.Close()
	db := dbClient.DB()

	convStore := conversation.NewStore(db)
	convOrch := conversation.NewOrchestrator(convStore, conversation.Config{
		// Agent-loop requires an LLM-backed agentdecision.Engine; none is
		// wired here, so every message falls back to the chat_flow / error
		// path create_message already handles (spec.md §4.13 step 5).
		AgentLoopEnabled: false,
		AllowedRunTypes:  []string{"sandbox_exec", "code_change", "web_search", "web_fetch"},
	})
	runStore := runqueue.NewStore(db)
	memStore := memory.NewStore(db)
	auditLog := &memory.AuditLogger{DB: db}
	sandboxStore := sandbox.NewStore(db)
	execStore := store.NewExecutionStore(db)
	artifacts := artifact.NewManager(*workspaceRoot)

	cat := buildCatalog(ctx)
	defer cat.CloseProviders()
	slog.Info("tool catalog ready", "tools", len(cat.ListTools()))

	sandboxRun := buildSandboxRunner(*workspaceRoot, sandboxStore, appCfg.Sandbox)
	if sandboxRun != nil {
		defer func() {
			if closer, ok := sandboxRun.Docker.(interface{ Close() error }); ok {
				_ = closer.Close()
			}
		}()
	}

	server := api.NewServer(db, convOrch, convStore, runStore, memStore, auditLog, sandboxRun, sandboxStore, execStore, artifacts)

	runWorker := buildRunWorker(db, convStore, runStore, execStore, artifacts, sandboxRun, *workspaceRoot, *policyFile, appCfg.WebSearch)
	runWorker.Start(ctx)
	defer runWorker.Stop()

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(*httpAddr); err != nil {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down")
	case err := <-errCh:
		log.Fatalf("http server: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("error during shutdown: %v", err)
	}
}

// buildCatalog wires MCP tool providers from environment configuration
// (spec.md §6's MCP_SERVERS_JSON / MCP_SERVER_* env vars), following
// pkg/catalog/mcpenv.go's parsing helpers.
func buildCatalog(ctx context.Context) *catalog.Catalog {
	cat := catalog.NewCatalog(nil)
	cat.RegisterProvider("builtin", catalog.NewBuiltinProvider())

	specs := catalog.ParseMCPServersJSON(os.Getenv("MCP_SERVERS_JSON"))
	if len(specs) == 0 {
		if spec, ok := catalog.MCPServerFromLegacyEnv(); ok {
			specs = append(specs, spec)
		}
	}
	var names []string
	for _, spec := range specs {
		provider, err := catalog.NewMCPProvider(ctx, spec)
		if err != nil {
			slog.Warn("mcp server unavailable, skipping", "name", spec.Name, "error", err)
			continue
		}
		cat.RegisterProvider(spec.Name, provider)
		names = append(names, spec.Name)
	}
	if len(names) > 0 {
		cat.SetPreferredProviderOrder(append(append([]string{"builtin"}, names...), "stub"))
	}
	return cat
}

// buildSandboxRunner connects to the local Docker daemon; if unreachable,
// the sandbox exec endpoints report unavailable rather than failing
// startup, since the rest of the API (conversations, memory, executions)
// does not depend on Docker.
func buildSandboxRunner(workspaceRoot string, sandboxStore *sandbox.Store, cfg config.SandboxConfig) *sandbox.Runner {
	docker, err := sandbox.NewSDKClient()
	if err != nil {
		slog.Warn("docker daemon unavailable, sandbox exec endpoints will report unavailable", "error", err)
		return nil
	}
	maxConcurrent := cfg.MaxConcurrentExecs
	if maxConcurrent <= 0 {
		maxConcurrent = sandbox.DefaultLimits().MaxConcurrentExecs
	}
	return sandbox.NewRunner(filepath.Join(workspaceRoot, ".lonelycat", "projects"), docker, sandboxStore, maxConcurrent)
}

// buildRunWorker assembles the Run Queue worker that drives spec.md §4.1's
// `Worker pulls → Run handler → (for code changes) Planner → WriteGate →
// Executor → Artifact+Store` data flow. A missing or unreadable policy file
// degrades to a permissive empty Policy (no forbidden paths, no triggers)
// with a warning rather than failing startup, since a fresh deployment may
// not have authored one yet.
func buildRunWorker(db *sql.DB, convStore *conversation.Store, runStore *runqueue.Store, execStore *store.ExecutionStore, artifacts *artifact.Manager, sandboxRun *sandbox.Runner, workspaceRoot, policyFile string, webSearchCfg config.WebSearchConfig) *runqueue.Worker {
	pol, err := policy.Load(policyFile)
	if err != nil {
		slog.Warn("policy file unavailable, using a permissive default policy", "path", policyFile, "error", err)
		pol = &policy.Policy{}
	}

	codeChange := &lcworker.CodeChangeHandler{
		Planner:   planner.NewPlanner(nil),
		WriteGate: policy.NewWriteGate(pol, workspaceRoot),
		Executor: &executor.Executor{
			WorkspaceRoot:  workspaceRoot,
			Artifacts:      artifacts,
			Store:          execStore,
			Lock:           execlock.NewLock(workspaceRoot),
			Idempotency:    execlock.NewIdempotencyCache(workspaceRoot),
			UseLocking:     true,
			UseIdempotency: true,
		},
		Governance: governance.NewStore(db),
	}
	handlers := map[string]runqueue.RunHandler{"code_change": codeChange}
	if sandboxRun != nil {
		handlers["sandbox_exec"] = &lcworker.SandboxHandler{Runner: sandboxRun}
	}
	webSearchBase := orDefault(os.Getenv("WEB_SEARCH_BASE_URL"), webSearchCfg.BaseURL)
	if backend := buildWebSearchBackend(webSearchBase, webSearchCfg); backend != nil {
		handlers["web_search"] = &lcworker.WebSearchHandler{Backend: backend, QueryURL: func(q string) string { return webSearchBase + url.QueryEscape(q) }}
		handlers["web_fetch"] = &lcworker.WebFetchHandler{Backend: backend}
	}

	queue := runqueue.NewQueue(runStore, convStore)
	return runqueue.NewWorker("lonelycatd-worker-1", runStore, queue, handlers)
}

// buildWebSearchBackend wires pkg/webadapter's generalized cooldown/captcha
// state machine (spec.md §4.15) to one concrete HTML-scraping endpoint,
// resolved from WEB_SEARCH_BASE_URL or the config file's web_search.base_url.
// Left nil (web_search/web_fetch runs unregistered) when neither is set,
// since no default backend can be assumed without fabricating one.
func buildWebSearchBackend(base string, fileCfg config.WebSearchConfig) *webadapter.Adapter {
	if base == "" {
		return nil
	}
	cfg := webadapter.Config{
		BackendID:        "generic",
		SearchURL:        base,
		HomeURL:          orDefault(os.Getenv("WEB_SEARCH_HOME_URL"), orDefault(fileCfg.HomeURL, base)),
		UserAgent:        orDefault(os.Getenv("WEB_SEARCH_USER_AGENT"), orDefault(fileCfg.UserAgent, version.Full())),
		ProxyURL:         orDefault(os.Getenv("WEB_SEARCH_PROXY_URL"), fileCfg.ProxyURL),
		CooldownMinutes:  10,
		WarmUpEnabled:    true,
		WarmUpTTLSeconds: 300,
	}
	return webadapter.NewAdapter(cfg, webadapter.NewGenericParser(), nil)
}
