// voxd CLI entry point
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"

	"github.com/voxlabs/voxd/internal/agent"
	"github.com/voxlabs/voxd/internal/checkpoint"
	"github.com/voxlabs/voxd/internal/cli"
	"github.com/voxlabs/voxd/internal/config"
	"github.com/voxlabs/voxd/internal/domain"
	"github.com/voxlabs/voxd/internal/mcp"
	"github.com/voxlabs/voxd/internal/provider"
	"github.com/voxlabs/voxd/internal/store"
	"github.com/voxlabs/voxd/internal/tools"
)

var version = "dev"

func init() {
	if version != "dev" {
		return
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		version = info.Main.Version
	}
}

func main() {
	versionFlag := flag.Bool("version", false, "Print version and exit")
	configFlag := flag.String("config", "", "Path to config.json (default: data dir)")
	resumeFlag := flag.String("resume", "", "Resume a session by id or title")
	continueFlag := flag.Bool("continue", false, "Continue the most recent session")
	forkFlag := flag.String("fork", "", "Fork a session by id and continue in the fork")
	flag.Parse()

	if *versionFlag {
		fmt.Printf("voxd %s\n", version)
		return
	}

	logger := config.NewLogger()
	defer logger.Close()

	cfgPath := *configFlag
	if cfgPath == "" {
		p, err := config.ConfigPath()
		if err != nil {
			fatal("resolve config path: %v", err)
		}
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fatal("load config: %v", err)
	}

	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	if apiKey == "" {
		fatal("ANTHROPIC_API_KEY is not set")
	}
	prov := provider.NewAnthropic(apiKey, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Durable memory: store, event sink, checkpoints. All nil when disabled.
	var st *store.Store
	var sink *store.EventSink
	var checkpoints *checkpoint.Manager
	if cfg.Memory.Enabled {
		st, err = store.Open(cfg.Memory.DBPath)
		if err != nil {
			fatal("open memory store: %v", err)
		}
		defer st.Close()

		if err := st.PruneMemory(cfg.Memory.MaxSessions, cfg.Memory.MaxMessagesPerSession, cfg.Memory.RetentionDays); err != nil {
			logger.Printf("memory pruning failed: %v", err)
		}

		sink = store.NewEventSink(st, logger)
		defer sink.Close()

		checkpoints = checkpoint.NewManager(st, sink, logger, cfg.WorkingDirectory,
			cfg.Checkpoints.Enabled, cfg.Checkpoints.WriteToolsOnly)
	}

	registry := tools.NewRegistry(tools.Builtin()...)

	// External tool servers.
	mcpManager := mcp.NewManager(logger)
	serverCfgs, err := mcp.FromConfig(cfg.MCPServers)
	if err != nil {
		fatal("mcp config: %v", err)
	}
	if len(serverCfgs) > 0 {
		mcpManager.StartAll(ctx, serverCfgs)
		for _, def := range mcpManager.ToolDefs() {
			if err := registry.Register(def); err != nil {
				logger.Printf("register mcp tool %s: %v", def.Spec.Name, err)
			}
		}
	}
	defer mcpManager.StopAll()

	sessionID, err := selectSession(st, cfg, *resumeFlag, *continueFlag, *forkFlag)
	if err != nil {
		fatal("%v", err)
	}

	var compactor agent.Strategy = agent.NoneStrategy{}
	if cfg.Compaction.Strategy != "none" {
		compactor = agent.NewSummarizeStrategy(prov, cfg.SummaryModel,
			cfg.Compaction.ThresholdTokens, cfg.Compaction.ProtectedTailMessages, logger)
	}

	printer := cli.NewPrinter(os.Stdout, "assistant> ")

	var events agent.Emitter
	if sink != nil {
		events = sink
	}
	ag := agent.New(agent.Options{
		Config:      cfg,
		Provider:    prov,
		Registry:    registry,
		ToolContext: &tools.ToolContext{Cwd: cfg.WorkingDirectory, Logger: logger},
		Store:       st,
		Events:      events,
		Checkpoints: checkpoints,
		Compactor:   compactor,
		Logger:      logger,
		Out:         os.Stdout,
		Sink:        printer,
		SessionID:   sessionID,
	})
	defer ag.Shutdown(context.Background())

	if err := ag.InitializeSession(); err != nil {
		fatal("initialize session: %v", err)
	}

	fmt.Printf("voxd %s (model %s)\n", version, cfg.Model)
	if sessionID != "" {
		fmt.Printf("session %s\n", sessionID)
	}
	fmt.Println(`Type a message, /help for commands, or Ctrl-D to exit.`)

	runREPL(ctx, ag, printer)
}

// selectSession resolves the startup session from flags and config. Returns
// an empty id when memory is disabled.
func selectSession(st *store.Store, cfg config.Config, resume string, cont bool, fork string) (string, error) {
	if st == nil {
		return "", nil
	}

	if resume == "" {
		resume = cfg.Session.ResumeSessionID
	}
	if resume != "" {
		sess, err := st.ResolveSessionIdentifier(resume)
		if err != nil {
			return "", fmt.Errorf("resume session %q: %w", resume, err)
		}
		return sess.ID, nil
	}

	if fork == "" && cfg.Session.ForkSession {
		fork = cfg.Session.SessionID
	}
	if fork != "" {
		forkID, err := st.ForkSession(fork, domain.NewUUID())
		if err != nil {
			return "", fmt.Errorf("fork session %q: %w", fork, err)
		}
		return forkID, nil
	}

	if cont || cfg.Session.ContinueConversation {
		if cfg.Session.SessionID != "" {
			sess, err := st.LoadOrCreate(cfg.Session.SessionID, cfg.Model)
			if err != nil {
				return "", fmt.Errorf("continue session: %w", err)
			}
			return sess.ID, nil
		}
		sessions, err := st.ListSessions(1)
		if err != nil {
			return "", fmt.Errorf("continue session: %w", err)
		}
		if len(sessions) > 0 {
			return sessions[0].ID, nil
		}
		// Nothing to continue; fall through to a fresh session.
	}

	sess, err := st.CreateSession("", "", cfg.Model, nil)
	if err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	return sess.ID, nil
}

func runREPL(ctx context.Context, ag *agent.Agent, printer *cli.Printer) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		printer.Prompt("you> ")
		select {
		case <-ctx.Done():
			fmt.Println()
			return
		case line, ok := <-lines:
			if !ok {
				fmt.Println()
				return
			}
			if strings.TrimSpace(line) == "" {
				continue
			}
			if err := ag.HandleInput(ctx, line); err != nil {
				printer.PrintError(err.Error())
			}
		}
	}
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}
