package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"netintercept/internal/logger"
	"netintercept/internal/storage"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

type journalOptions struct {
	Limit       int
	URLContains string
	Source      string
	Since       time.Duration
	MockedOnly  bool
	NetworkOnly bool
}

func (o *journalOptions) AddFlags(fs *pflag.FlagSet) {
	fs.IntVar(&o.Limit, "limit", 50, "maximum number of exchanges to print")
	fs.StringVar(&o.URLContains, "url", "", "only exchanges whose URL contains this text")
	fs.StringVar(&o.Source, "source", "", "only exchanges recorded by this interceptor")
	fs.DurationVar(&o.Since, "since", 0, "only exchanges newer than this duration")
	fs.BoolVar(&o.MockedOnly, "mocked", false, "only mocked exchanges")
	fs.BoolVar(&o.NetworkOnly, "network", false, "only exchanges answered by the network")
}

func (o *journalOptions) filter(now time.Time) (storage.Filter, error) {
	if o.MockedOnly && o.NetworkOnly {
		return storage.Filter{}, fmt.Errorf("--mocked and --network are mutually exclusive")
	}
	f := storage.Filter{Source: o.Source, URLContains: o.URLContains, Limit: o.Limit}
	if o.Since > 0 {
		f.Since = now.Add(-o.Since)
	}
	if o.MockedOnly || o.NetworkOnly {
		mocked := o.MockedOnly
		f.Mocked = &mocked
	}
	return f, nil
}

func newJournalCmd(root *rootOptions) *cobra.Command {
	opts := &journalOptions{}
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "List recorded exchanges",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			f, err := opts.filter(time.Now())
			if err != nil {
				return err
			}
			j, err := storage.Open(storage.Config{DSN: cfg.Sqlite.Dsn, Prefix: cfg.Sqlite.Prefix, Logger: logger.NewNop()})
			if err != nil {
				return err
			}
			defer j.Close()

			list, err := j.List(cmd.Context(), f)
			if err != nil {
				return err
			}
			return printExchanges(cmd.OutOrStdout(), list)
		},
	}
	opts.AddFlags(cmd.Flags())
	return cmd
}

func printExchanges(w io.Writer, list []storage.Exchange) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tSOURCE\tMETHOD\tSTATUS\tMOCKED\tSIZE\tURL")
	for _, ex := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%t\t%d\t%s\n",
			ex.CreatedAt.Format(time.DateTime), ex.Source, ex.Method, ex.Status, ex.Mocked, ex.ResponseSize, ex.URL)
	}
	return tw.Flush()
}
