package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/AlexanderGrooff/converge/pkg/common"
	"github.com/AlexanderGrooff/converge/pkg/config"
	"github.com/AlexanderGrooff/converge/pkg/executor"
	"github.com/AlexanderGrooff/converge/pkg/facts"
	"github.com/AlexanderGrooff/converge/pkg/inventory"
	"github.com/AlexanderGrooff/converge/pkg/metrics"
	"github.com/AlexanderGrooff/converge/pkg/modules"
	"github.com/AlexanderGrooff/converge/pkg/playbook"
	"github.com/AlexanderGrooff/converge/pkg/runtime"
	"github.com/AlexanderGrooff/converge/pkg/template"
)

type runOptions struct {
	inventory     string
	limit         string
	strategy      string
	metricsListen string
	extraVars     []string
	tags          []string
	skipTags      []string
	forks         int
	check         bool
	diff          bool
	become        bool
	verbose       bool
	listTasks     bool
}

func newRunCmd() *cobra.Command {
	opts := &runOptions{}
	runCmd := &cobra.Command{
		Use:   "run PLAYBOOK",
		Short: "Run a playbook against the inventory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			applyRunFlags(cmd, cfg, opts)
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			code, err := runPlaybook(ctx, cfg, opts, args[0], cmd.OutOrStdout())
			if code != ExitOK {
				return &exitError{code: code, err: err}
			}
			return nil
		},
	}

	flags := runCmd.Flags()
	flags.StringVarP(&opts.inventory, "inventory", "i", "", "Inventory file, JSON inventory or executable script")
	flags.StringArrayVarP(&opts.extraVars, "extra-vars", "e", nil, "Set additional variables as key=value, YAML/JSON or @file")
	flags.BoolVar(&opts.check, "check", false, "Enable check mode (dry run)")
	flags.BoolVar(&opts.diff, "diff", false, "Show differences when changing files")
	flags.BoolVarP(&opts.become, "become", "b", false, "Run all tasks with become")
	flags.StringSliceVarP(&opts.tags, "tags", "t", nil, "Only run tasks with these tags (comma-separated)")
	flags.StringSliceVar(&opts.skipTags, "skip-tags", nil, "Skip tasks with these tags (comma-separated)")
	flags.StringVarP(&opts.limit, "limit", "l", "", "Further limit hosts with a pattern")
	flags.IntVarP(&opts.forks, "forks", "f", 0, "Number of hosts to run in parallel")
	flags.StringVar(&opts.strategy, "strategy", "", "Override the strategy of every play (linear or free)")
	flags.BoolVar(&opts.listTasks, "list-tasks", false, "List the tasks of every play without running them")
	flags.StringVar(&opts.metricsListen, "metrics-listen", "", "Serve prometheus metrics on this address during the run")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "Print the full result of every task")
	return runCmd
}

// applyRunFlags lets explicitly set flags override the loaded configuration.
func applyRunFlags(cmd *cobra.Command, cfg *config.Config, opts *runOptions) {
	flags := cmd.Flags()
	if flags.Changed("check") {
		cfg.Execution.Check = opts.check
	}
	if flags.Changed("diff") {
		cfg.Execution.Diff = opts.diff
	}
	if flags.Changed("become") {
		cfg.Execution.Become = opts.become
	}
	if flags.Changed("forks") {
		cfg.Execution.Forks = opts.forks
	}
	if flags.Changed("tags") {
		cfg.Tags.Tags = opts.tags
	}
	if flags.Changed("skip-tags") {
		cfg.Tags.SkipTags = opts.skipTags
	}
	if flags.Changed("inventory") {
		cfg.Inventory = opts.inventory
	}
	if opts.metricsListen != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Listen = opts.metricsListen
	}
}

func runPlaybook(ctx context.Context, cfg *config.Config, opts *runOptions, path string, out io.Writer) (int, error) {
	runID := uuid.NewString()
	common.SetRunID(runID)

	if opts.strategy != "" && opts.strategy != executor.StrategyLinear && opts.strategy != executor.StrategyFree {
		return ExitError, fmt.Errorf("unknown strategy %q", opts.strategy)
	}

	inv, err := inventory.Load(ctx, cfg.Inventory)
	if err != nil {
		return exitCode(nil, err), err
	}

	fsys := playbook.OS()
	pb, err := playbook.Load(fsys, path)
	if err != nil {
		return ExitBuildError, err
	}
	builder := playbook.NewBuilder(fsys, cfg.RolesPath, playbook.TagFilter{Run: cfg.Tags.Tags, Skip: cfg.Tags.SkipTags})
	builder.GatherFacts = cfg.Facts.Gather

	if opts.listTasks {
		engine := &executor.Engine{Builder: builder}
		graphs, err := engine.BuildAll(pb)
		if err != nil {
			return ExitBuildError, err
		}
		listTasks(out, pb, graphs)
		return ExitOK, nil
	}

	extraVars, err := parseExtraVars(opts.extraVars)
	if err != nil {
		return ExitError, fmt.Errorf("failed to parse extra variables: %w", err)
	}
	playbookDir := filepath.Dir(path)
	playbookVars, err := inventory.LoadGroupedVars(playbookDir)
	if err != nil {
		return ExitError, err
	}

	cache, err := facts.Open(ctx, cfg.Facts)
	if err != nil {
		return ExitError, err
	}
	defer cache.Close()
	conns := runtime.NewManager(cfg.SSH)
	defer conns.Close()

	var recorder metrics.Recorder = metrics.Noop{}
	if cfg.Metrics.Enabled {
		registry := prometheus.NewRegistry()
		recorder = metrics.New(registry)
		metricsCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go func() {
			if err := metrics.Serve(metricsCtx, cfg.Metrics.Listen, registry); err != nil {
				common.LogError("Metrics endpoint failed", map[string]interface{}{"listen": cfg.Metrics.Listen, "error": err.Error()})
			}
		}()
	}

	evaluator := template.New()
	printer := executor.NewPrinter(out, cfg.Logging.Format)
	printer.Verbose = opts.verbose
	engine := &executor.Engine{
		Invoker:      modules.NewRunner(conns, evaluator),
		Evaluator:    evaluator,
		Facts:        cache,
		Builder:      builder,
		Recorder:     recorder,
		Output:       printer,
		Strategy:     opts.strategy,
		Forks:        cfg.Execution.Forks,
		TaskTimeout:  cfg.Execution.TaskTimeout,
		Check:        cfg.Execution.Check,
		Diff:         cfg.Execution.Diff,
		Become:       cfg.Execution.Become,
		BecomeUser:   cfg.Execution.BecomeUser,
		GatherFacts:  cfg.Facts.Gather,
		Limit:        opts.limit,
		RunID:        runID,
		ExtraVars:    extraVars,
		PlaybookVars: playbookVars,
		PlaybookDir:  playbookDir,
	}

	common.LogInfo("Starting run", map[string]interface{}{
		"playbook":  path,
		"inventory": cfg.Inventory,
		"run_id":    runID,
	})
	recap, err := engine.RunPlaybook(ctx, pb, inv)
	return exitCode(recap, err), err
}

// exitCode maps the outcome of a run to the process exit code. Unreachable
// hosts take precedence over failed tasks.
func exitCode(recap *executor.Recap, err error) int {
	switch {
	case err == nil:
	case errors.Is(err, playbook.ErrBuild), errors.Is(err, inventory.ErrGroupCycle):
		return ExitBuildError
	default:
		return ExitError
	}
	switch {
	case recap == nil:
		return ExitOK
	case recap.HasUnreachable():
		return ExitUnreachable
	case recap.HasFailures(), recap.Halted != nil:
		return ExitFailed
	}
	return ExitOK
}

func listTasks(out io.Writer, pb *playbook.Playbook, graphs []*playbook.Graph) {
	fmt.Fprintf(out, "\nplaybook: %s\n", pb.Path)
	for i, g := range graphs {
		fmt.Fprintf(out, "\n  play #%d (%s): %s\tTAGS: [%s]\n", i+1, g.Play.Hosts, g.Play.String(), strings.Join(g.Play.Tags, ","))
		fmt.Fprintf(out, "    tasks:\n")
		playbook.Walk(g.Nodes, func(n playbook.Node) {
			switch t := n.(type) {
			case *playbook.Action:
				if !t.Implicit {
					fmt.Fprintf(out, "      %s\tTAGS: [%s]\n", t.String(), strings.Join(t.Tags, ","))
				}
			case *playbook.Include:
				fmt.Fprintf(out, "      %s\tTAGS: [%s]\n", t.String(), strings.Join(t.Tags, ","))
			}
		})
	}
}
