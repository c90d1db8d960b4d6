// Command modstorectl inspects and maintains the stored records of any
// configured backend. Configuration comes from MODSTORE_* variables; the
// persistent flags override the backend selection.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/spf13/cobra"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"modstore/internal/config"
	"modstore/internal/core"
	"modstore/internal/persistence"
	"modstore/pkg/pluginapi"
	"modstore/pkg/query"
	"modstore/plugins/jail"
	"modstore/plugins/kits"
	"modstore/plugins/playerinfo"
)

// Error is the class of command line errors.
var Error = errs.Class("modstorectl")

var exitFunc = os.Exit

func main() {
	exitFunc(execute(os.Args[1:], os.Stdout, os.Stderr))
}

func execute(args []string, stdout, stderr io.Writer) int {
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		return 1
	}
	return 0
}

type globalFlags struct {
	backend string
	dataDir string
}

func newRootCmd() *cobra.Command {
	var g globalFlags
	cmd := &cobra.Command{
		Use:          "modstorectl",
		Short:        "Inspect and maintain modstore records",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&g.backend, "backend", "", "backend id (overrides MODSTORE_BACKEND)")
	cmd.PersistentFlags().StringVar(&g.dataDir, "data-dir", "", "flat-file data directory (overrides MODSTORE_DATA_DIR)")

	cmd.AddCommand(
		backendsCmd(&g),
		getCmd(&g),
		idsCmd(&g),
		pruneCmd(&g),
		migrateCmd(&g),
	)
	return cmd
}

// installed holds the feature modules. Their keys live on process-wide
// schemas, so they are installed once however many managers are opened.
var installed = sync.OnceValues(func() (*core.PluginRegistry, error) {
	reg := core.NewPluginRegistry()
	for _, p := range []pluginapi.Plugin{playerinfo.New(), jail.New(), kits.New()} {
		if err := reg.Install(p); err != nil {
			return nil, err
		}
	}
	return reg, nil
})

// session is one opened manager plus its logger.
type session struct {
	m   *core.Manager
	log *zap.Logger
}

func open(g *globalFlags) (*session, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if g.backend != "" {
		cfg.Backend = g.backend
	}
	if g.dataDir != "" {
		cfg.DataDir = g.dataDir
	}
	cfg.SweepInterval = 0
	log, err := cfg.NewLogger()
	if err != nil {
		return nil, err
	}
	plugins, err := installed()
	if err != nil {
		return nil, err
	}
	m, err := core.NewManager(cfg, core.WithLogger(log), core.WithPluginRegistry(plugins))
	if err != nil {
		_ = log.Sync()
		return nil, err
	}
	return &session{m: m, log: log}, nil
}

func (s *session) close(ctx context.Context, err *error) {
	*err = errs.Combine(*err, s.m.Shutdown(ctx))
	_ = s.log.Sync()
}

func parseCategory(s string) (persistence.Category, error) {
	switch strings.ToLower(strings.TrimSuffix(s, "s")) {
	case string(persistence.CategoryUser):
		return persistence.CategoryUser, nil
	case string(persistence.CategoryWorld):
		return persistence.CategoryWorld, nil
	}
	return "", Error.New("unknown category %q (want user or world)", s)
}

// bulk is the part of a keyed service the maintenance commands use.
type bulk interface {
	IDs(q query.Query) *core.Future[[]string]
	RemoveMatching(q query.Query) *core.Future[core.RemoveResult]
}

func (s *session) service(c persistence.Category) bulk {
	if c == persistence.CategoryWorld {
		return s.m.Worlds()
	}
	return s.m.Users()
}

func (s *session) parseFilter(c persistence.Category, filter string) (query.Query, error) {
	return query.Parse(filter, s.m.Plugins().QueryFields(c))
}

func backendsCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "backends",
		Short: "List registered backends; the active one is marked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			s, err := open(g)
			if err != nil {
				return err
			}
			defer s.close(cmd.Context(), &err)
			active := s.m.Backend().ID()
			for _, id := range s.m.Registry().IDs() {
				mark := " "
				if id == active {
					mark = "*"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", mark, id)
			}
			return nil
		},
	}
}

func getCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "get <user|world> <id> | get <general|kits>",
		Short: "Print a stored document",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			s, err := open(g)
			if err != nil {
				return err
			}
			defer s.close(cmd.Context(), &err)

			raw, ok, err := s.fetch(cmd.Context(), args)
			if err != nil {
				return err
			}
			if !ok {
				return Error.New("%s not found", strings.Join(args, " "))
			}
			return printJSON(cmd.OutOrStdout(), raw)
		},
	}
}

func (s *session) fetch(ctx context.Context, args []string) (persistence.Raw, bool, error) {
	backend := s.m.Backend()
	switch name := strings.ToLower(args[0]); name {
	case persistence.SingleGeneral, persistence.SingleKits:
		if len(args) != 1 {
			return nil, false, Error.New("%s takes no id", name)
		}
		repo, err := backend.SingleRepository(name)
		if err != nil {
			return nil, false, err
		}
		return repo.Get(ctx)
	}
	c, err := parseCategory(args[0])
	if err != nil {
		return nil, false, err
	}
	if len(args) != 2 {
		return nil, false, Error.New("%s requires an id", c)
	}
	repo, err := backend.KeyedRepository(c)
	if err != nil {
		return nil, false, err
	}
	return repo.Get(ctx, args[1])
}

func printJSON(w io.Writer, raw persistence.Raw) error {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return Error.Wrap(err)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func idsCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "ids <user|world> [filter]",
		Short: "List stored ids, optionally filtered",
		Example: `  modstorectl ids user 'logins > 10'
  modstorectl ids user 'jail.jailed = true'`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			c, err := parseCategory(args[0])
			if err != nil {
				return err
			}
			s, err := open(g)
			if err != nil {
				return err
			}
			defer s.close(cmd.Context(), &err)

			filter := ""
			if len(args) == 2 {
				filter = args[1]
			}
			q, err := s.parseFilter(c, filter)
			if err != nil {
				return err
			}
			ids, err := s.service(c).IDs(q).Wait(cmd.Context())
			if err != nil {
				return err
			}
			for _, id := range ids {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return nil
		},
	}
}

func pruneCmd(g *globalFlags) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "prune <user|world> <filter>",
		Short: "Delete every stored record matching filter",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			c, err := parseCategory(args[0])
			if err != nil {
				return err
			}
			if strings.TrimSpace(args[1]) == "" {
				return Error.New("refusing to prune without a filter")
			}
			s, err := open(g)
			if err != nil {
				return err
			}
			defer s.close(cmd.Context(), &err)

			q, err := s.parseFilter(c, args[1])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if dryRun {
				ids, err := s.service(c).IDs(q).Wait(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "would remove %d %s record(s)\n", len(ids), c)
				for _, id := range ids {
					fmt.Fprintln(out, id)
				}
				return nil
			}
			res, err := s.service(c).RemoveMatching(q).Wait(cmd.Context())
			fmt.Fprintf(out, "removed %d of %d %s record(s)\n", len(res.Removed), len(res.Matched), c)
			for id, ferr := range res.Failed {
				fmt.Fprintf(cmd.ErrOrStderr(), "failed %s: %v\n", id, ferr)
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "list matching ids without deleting")
	return cmd
}

func migrateCmd(g *globalFlags) *cobra.Command {
	var (
		to          string
		concurrency int
	)
	cmd := &cobra.Command{
		Use:   "migrate --to <backend>",
		Short: "Copy every document from the active backend to another",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			s, err := open(g)
			if err != nil {
				return err
			}
			defer s.close(cmd.Context(), &err)

			from := s.m.Backend()
			if to == from.ID() {
				return Error.New("source and destination are both %s", to)
			}
			dst, err := s.m.Registry().Lookup(to)
			if err != nil {
				return err
			}
			report, err := persistence.Copy(cmd.Context(), s.log, from, dst, concurrency)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, c := range persistence.Categories() {
				if n, ok := report.Keyed[c]; ok {
					fmt.Fprintf(out, "%s: %d\n", c, n)
				}
			}
			for _, name := range report.Singles {
				fmt.Fprintf(out, "%s: copied\n", name)
			}
			for _, name := range report.Skipped {
				fmt.Fprintf(out, "%s: skipped\n", name)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "destination backend id")
	cmd.Flags().IntVar(&concurrency, "concurrency", 4, "documents copied in parallel")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}
