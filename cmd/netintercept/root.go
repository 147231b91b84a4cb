package main

import (
	"netintercept/internal/config"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// rootOptions 所有子命令共享的选项
type rootOptions struct {
	ConfigPath string
	LogLevel   string
	DSN        string
}

func (o *rootOptions) AddFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&o.ConfigPath, "config", "c", "", "path to the YAML config file")
	fs.StringVar(&o.LogLevel, "log-level", "", "override log.level (debug, info, warn, error)")
	fs.StringVar(&o.DSN, "db", "", "override sqlite.dsn of the exchange journal")
}

// load 读取配置并应用命令行覆盖
func (o *rootOptions) load() (*config.Config, error) {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return nil, err
	}
	if o.LogLevel != "" {
		cfg.Log.Level = o.LogLevel
	}
	if o.DSN != "" {
		cfg.Sqlite.Dsn = o.DSN
	}
	return cfg, nil
}

// NewRootCmd 构建命令树
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "netintercept",
		Short:         "Intercept, mock and journal browser network traffic",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	opts.AddFlags(cmd.PersistentFlags())

	cmd.AddCommand(
		newRunCmd(opts),
		newTargetsCmd(opts),
		newJournalCmd(opts),
	)
	return cmd
}
