package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"netintercept/internal/logger"
	"netintercept/internal/metrics"
	"netintercept/internal/rules"
	"netintercept/internal/storage"
	"netintercept/pkg/api"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
)

type runOptions struct {
	DevTools    string
	Target      string
	Rules       string
	MetricsAddr string
	Pattern     string
	NoJournal   bool
}

func (o *runOptions) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.DevTools, "devtools", "", "DevTools HTTP endpoint, e.g. http://127.0.0.1:9222")
	fs.StringVar(&o.Target, "target", "", "target id to attach to; first page when empty")
	fs.StringVar(&o.Rules, "rules", "", "rule set file (YAML or JSON)")
	fs.StringVar(&o.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	fs.StringVar(&o.Pattern, "pattern", "", "Fetch URL pattern to intercept")
	fs.BoolVar(&o.NoJournal, "no-journal", false, "do not record exchanges")
}

func newRunCmd(root *rootOptions) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Attach to a browser target and intercept its requests until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, root, opts)
		},
	}
	opts.AddFlags(cmd.Flags())
	return cmd
}

func run(ctx context.Context, root *rootOptions, opts *runOptions) error {
	cfg, err := root.load()
	if err != nil {
		return err
	}
	if opts.DevTools != "" {
		cfg.DevTools.URL = opts.DevTools
	}
	if opts.Target != "" {
		cfg.DevTools.Target = opts.Target
	}
	if opts.Rules != "" {
		cfg.Rules = opts.Rules
	}
	if opts.MetricsAddr != "" {
		cfg.Metrics.Addr = opts.MetricsAddr
	}
	if opts.Pattern != "" {
		cfg.DevTools.URLPattern = opts.Pattern
	}

	l := logger.New(cfg.LoggerOptions())

	var rs rules.RuleSet
	if cfg.Rules != "" {
		if rs, err = rules.LoadFile(cfg.Rules); err != nil {
			return err
		}
	}

	scfg := api.ServiceConfig{
		Logger:         l,
		ProcessTimeout: cfg.ProcessTimeout(),
		URLPattern:     cfg.DevTools.URLPattern,
		Metrics:        metrics.New(l),
	}
	if !opts.NoJournal {
		j, err := storage.Open(storage.Config{DSN: cfg.Sqlite.Dsn, Prefix: cfg.Sqlite.Prefix, Logger: l})
		if err != nil {
			return err
		}
		defer j.Close()
		scfg.Journal = j
	}

	svc := api.NewService(scfg)
	defer svc.Close()

	id, err := svc.AttachTarget(ctx, cfg.DevTools.URL, cfg.DevTools.Target)
	if err != nil {
		return fmt.Errorf("attach: %w", err)
	}
	if len(rs.Rules) > 0 {
		if err := svc.LoadRules(id, rs); err != nil {
			return err
		}
	}
	l.Info("拦截已启动，按 Ctrl+C 退出", "sessionID", string(id))

	g, gctx := errgroup.WithContext(ctx)
	if cfg.Metrics.Addr != "" {
		g.Go(func() error { return scfg.Metrics.Serve(gctx, cfg.Metrics.Addr) })
	}
	g.Go(func() error {
		<-gctx.Done()
		stats, _ := svc.GetRuleStats(id)
		svc.Close()
		l.Info("拦截已停止", "total", stats.Total, "matched", stats.Matched)
		return nil
	})
	return g.Wait()
}
