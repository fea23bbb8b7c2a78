// devteam: phase-governed AI development team
//
// A team leader that delegates research, code analysis, frontend and
// backend work to specialist agents, enforcing a sequential phase process,
// a complexity budget and a no-mock quality gate. It is exposed to AI
// hosts as an MCP server and to dashboards through a WebSocket hub.
//
// Usage:
//
//	devteam serve    # Start MCP server (stdio transport)
//	devteam hub      # Start the team leader with the WebSocket hub only
//	devteam status   # Print persisted execution statistics
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/HendryAvila/devteam/internal/config"
	"github.com/HendryAvila/devteam/internal/hub"
	"github.com/HendryAvila/devteam/internal/logging"
	"github.com/HendryAvila/devteam/internal/mcpclient"
	devserver "github.com/HendryAvila/devteam/internal/server"
	"github.com/HendryAvila/devteam/internal/store"
	"github.com/HendryAvila/devteam/internal/teamleader"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(os.Args[2:])
	case "hub":
		err = runHub(os.Args[2:])
	case "status":
		err = runStatus(os.Args[2:])
	case "--help", "-h", "help":
		printUsage()
		os.Exit(0)
	case "--version", "-v", "version":
		fmt.Printf("devteam v%s\n", devserver.Version)
		os.Exit(0)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// options are the flags shared by every subcommand.
type options struct {
	configPath string
	logLevel   string
	withHub    bool
	noStore    bool
	limit      int
	prune      time.Duration
}

func parseFlags(name string, args []string) (options, error) {
	var o options
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.StringVarP(&o.configPath, "config", "c", "", "configuration file (default: $DEVTEAM_CONFIG or ./config/team_leader.yaml)")
	fs.StringVar(&o.logLevel, "log-level", "", "override log.level")
	fs.BoolVar(&o.noStore, "no-store", false, "do not persist executions")
	switch name {
	case "serve":
		fs.BoolVar(&o.withHub, "hub", false, "also start the WebSocket hub")
	case "status":
		fs.IntVarP(&o.limit, "limit", "n", 10, "recent executions to show")
		fs.DurationVar(&o.prune, "prune", 0, "delete executions older than this age (e.g. 720h) before reporting")
	}
	return o, fs.Parse(args)
}

// environment is what every long-running subcommand needs.
type environment struct {
	cfg    *config.Config
	logger *zap.Logger
	store  *store.Store
}

func setup(o options) (*environment, func(), error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "WARNING: %v; using defaults\n", err)
		cfg = config.Default()
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}

	logger, err := logging.Setup(cfg.Log)
	if err != nil {
		return nil, nil, fmt.Errorf("setting up logging: %w", err)
	}
	env := &environment{cfg: cfg, logger: logger}
	cleanup := func() { _ = logger.Sync() }

	if !o.noStore {
		st, err := store.Open(cfg.DBPath())
		if err != nil {
			logger.Warn("execution history disabled", zap.Error(err))
		} else {
			env.store = st
			cleanup = func() {
				if err := st.Close(); err != nil {
					logger.Warn("store close", zap.Error(err))
				}
				_ = logger.Sync()
			}
		}
	}
	return env, cleanup, nil
}

func (env *environment) teamLeader(ctx context.Context, publisher teamleader.Publisher) (*teamleader.TeamLeader, error) {
	mcpclient.Version = devserver.Version
	opts := []teamleader.Option{teamleader.WithLogger(env.logger)}
	if env.store != nil {
		opts = append(opts, teamleader.WithStore(env.store))
	}
	if publisher != nil {
		opts = append(opts, teamleader.WithPublisher(publisher))
	}
	tl, err := teamleader.New(env.cfg, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating team leader: %w", err)
	}
	if err := tl.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("initializing team leader: %w", err)
	}
	return tl, nil
}

func (env *environment) hub(tl *teamleader.TeamLeader) *hub.Hub {
	opts := []hub.Option{hub.WithLogger(env.logger)}
	if tl != nil {
		opts = append(opts,
			hub.WithStatus(func() any { return tl.Status() }),
			hub.WithAuthorizer(tl.Policy().Authorize))
		if !tl.Policy().TokenRequired() {
			env.logger.Warn("event hub accepts clients without a token; set websocket.auth_token to require one")
		}
	}
	return hub.New(env.cfg.WebSocket, opts...)
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runServe(args []string) error {
	o, err := parseFlags("serve", args)
	if err != nil {
		return err
	}
	env, cleanup, err := setup(o)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, cancel := signalContext()
	defer cancel()

	// The hub reads status from the team leader, so it is attached to the
	// relay after Initialize.
	var h *hub.Hub
	var publisher teamleader.Publisher
	relay := &lateHub{}
	if o.withHub {
		publisher = relay
	}
	tl, err := env.teamLeader(ctx, publisher)
	if err != nil {
		return err
	}
	defer tl.Shutdown(context.Background())
	if o.withHub {
		h = env.hub(tl)
		relay.set(h)
	}

	g, gctx := errgroup.WithContext(ctx)
	stdio := server.NewStdioServer(devserver.New(tl, env.logger))
	stdio.SetErrorLogger(zap.NewStdLog(env.logger))
	g.Go(func() error {
		defer cancel()
		return stdio.Listen(gctx, os.Stdin, os.Stdout)
	})
	if h != nil {
		g.Go(func() error { return h.ListenAndServe(gctx) })
	}
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func runHub(args []string) error {
	o, err := parseFlags("hub", args)
	if err != nil {
		return err
	}
	env, cleanup, err := setup(o)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, cancel := signalContext()
	defer cancel()

	relay := &lateHub{}
	tl, err := env.teamLeader(ctx, relay)
	if err != nil {
		return err
	}
	defer tl.Shutdown(context.Background())

	h := env.hub(tl)
	relay.set(h)
	return h.ListenAndServe(ctx)
}

func runStatus(args []string) error {
	o, err := parseFlags("status", args)
	if err != nil {
		return err
	}
	o.noStore = false
	env, cleanup, err := setup(o)
	if err != nil {
		return err
	}
	defer cleanup()
	if env.store == nil {
		return fmt.Errorf("no execution history at %s", env.cfg.DBPath())
	}

	var pruned int64
	if o.prune > 0 {
		pruned, err = env.store.PruneBefore(time.Now().Add(-o.prune))
		if err != nil {
			return err
		}
		env.logger.Info("pruned execution history", zap.Int64("deleted", pruned), zap.Duration("older_than", o.prune))
	}

	stats, err := env.store.Stats()
	if err != nil {
		return err
	}
	recent, err := env.store.RecentExecutions(o.limit)
	if err != nil {
		return err
	}
	transitions, err := env.store.PhaseTransitions()
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]any{
		"database":          env.cfg.DBPath(),
		"stats":             stats,
		"recent_executions": recent,
		"phase_transitions": transitions,
		"pruned":            pruned,
	})
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `devteam v%s: phase-governed AI development team

Usage:
  devteam serve [--hub]   Start the MCP server (stdio transport)
  devteam hub             Start the team leader with the WebSocket hub
  devteam status [-n N] [--prune AGE]
                          Print persisted execution statistics
  devteam version         Print the version

Flags:
  -c, --config FILE       Configuration file
      --log-level LEVEL   Override the configured log level
      --no-store          Do not persist executions

Configuration:
  Add to your AI tool's MCP config:

  {
    "mcpServers": {
      "devteam": {
        "command": "devteam",
        "args": ["serve"],
        "env": {"ANTHROPIC_API_KEY": "..."}
      }
    }
  }
`, devserver.Version)
}
