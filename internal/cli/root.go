package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"tasktree/internal/config"
	"tasktree/internal/format"
	"tasktree/internal/lock"
	"tasktree/internal/logger"
	"tasktree/internal/service"
	"tasktree/internal/store"
	"tasktree/internal/store/graphstore"
	"tasktree/internal/store/pgstore"
)

type App struct {
	Format     string
	PrettyJSON bool
	Width      int
	ShowIDs    bool

	v       *viper.Viper
	cfg     config.Config
	svc     *service.Service
	closers []func() error
}

func NewRootCmd() *cobra.Command {
	app := &App{}
	v, cfgErr := config.New()
	app.v = v

	cmd := &cobra.Command{
		Use:          "tasktree",
		Short:        "Hierarchical tasks with completion propagation and a shared template graph",
		SilenceUsage: true,
		Example: strings.TrimSpace(`
  # Show the task forest
  tasktree tasks list --format tree

  # Add a subtask and complete it
  tasktree tasks add "Write changelog" --parent task-1a2b3c4d
  tasktree tasks complete task-5e6f7a8b

  # Direct task lookup (shortcut for: tasktree tasks show <task-id>)
  tasktree task-1a2b3c4d

  # Serve the HTTP API with live updates on /ws
  tasktree serve --addr :8080
`),
	}

	cmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if cfgErr != nil {
			return writeErr(cmd, cfgErr)
		}
		cfg, err := config.Decode(app.v)
		if err != nil {
			return writeErr(cmd, err)
		}
		app.cfg = cfg
		logger.InitWriter(cmd.ErrOrStderr(), cfg.Log.Level, cfg.Log.JSON)
		return nil
	}
	cmd.PersistentPostRunE = func(cmd *cobra.Command, args []string) error {
		return app.Close()
	}

	pf := cmd.PersistentFlags()
	pf.String("backend", config.BackendSQLite, "Storage backend (sqlite|postgres|neo4j|memory)")
	pf.String("dir", "", "Data directory for the sqlite backend")
	pf.String("log-level", "warn", "Log level (debug|info|warn|error)")
	pf.Bool("log-json", false, "Log as JSON")
	pf.StringVar(&app.Format, "format", "json", "Output format (json|tree)")
	pf.BoolVar(&app.PrettyJSON, "pretty", false, "Pretty-print JSON output (colors in tree output)")
	pf.IntVar(&app.Width, "width", 0, "Truncate tree lines to this width (0 = no limit)")
	pf.BoolVar(&app.ShowIDs, "ids", false, "Show ids in tree output")
	if v != nil {
		for key, name := range map[string]string{
			"backend":   "backend",
			"dir":       "dir",
			"log.level": "log-level",
			"log.json":  "log-json",
		} {
			_ = v.BindPFlag(key, pf.Lookup(name))
		}
	}

	cmd.AddCommand(newTasksCmd(app))
	cmd.AddCommand(newTemplatesCmd(app))
	cmd.AddCommand(newEventsCmd(app))
	cmd.AddCommand(newDoctorCmd(app))
	cmd.AddCommand(newServeCmd(app))

	return cmd
}

// service opens the configured backend on first use.
func (a *App) service(ctx context.Context) (*service.Service, error) {
	if a.svc != nil {
		return a.svc, nil
	}
	backend, err := openBackend(ctx, a.cfg)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, backend.Close)

	var locker lock.Locker = lock.Noop{}
	if a.cfg.Redis.Addr != "" {
		rl, err := lock.NewRedis(a.cfg.Redis.Addr, a.cfg.Redis.Password, a.cfg.Redis.DB)
		if err != nil {
			logger.Warn("redis lock unavailable; using in-process lock only", "addr", a.cfg.Redis.Addr, "err", err)
		} else {
			locker = rl
			a.closers = append(a.closers, rl.Close)
		}
	}

	a.svc = service.New(service.Options{
		Backend: backend,
		Locker:  locker,
		Logger:  logger.With("backend", a.cfg.Backend),
	})
	return a.svc, nil
}

func openBackend(ctx context.Context, cfg config.Config) (store.Backend, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return store.NewMemory(nil), nil
	case config.BackendPostgres:
		return pgstore.Open(cfg.Postgres.DSN)
	case config.BackendNeo4j:
		return graphstore.Open(ctx, cfg.Neo4j.URI, cfg.Neo4j.User, cfg.Neo4j.Password, cfg.Neo4j.Database)
	case config.BackendSQLite:
		s := store.Store{Dir: cfg.Dir}
		if err := s.Ensure(); err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown backend: %s", cfg.Backend)
	}
}

func (a *App) Close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	a.svc = nil
	return first
}

func writeOut(cmd *cobra.Command, app *App, v any) error {
	return format.Write(cmd.OutOrStdout(), v, app.Format, app.PrettyJSON)
}

// writeData prints v inside the {"data": ...} envelope, or as a tree when
// --format tree is set and v has a tree form.
func writeData(cmd *cobra.Command, app *App, v any) error {
	if app.Format == "tree" {
		if format.CanTree(v) {
			return format.WriteTree(cmd.OutOrStdout(), v, format.TreeOptions{
				Color:   app.PrettyJSON,
				Width:   app.Width,
				ShowIDs: app.ShowIDs,
			})
		}
		return format.WriteJSON(cmd.OutOrStdout(), map[string]any{"data": v}, true)
	}
	return writeOut(cmd, app, map[string]any{"data": v})
}
