package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"traffic-law-bot/configs"
	"traffic-law-bot/internal/bootstrap"
	"traffic-law-bot/pkg/logger"
)

var version = "dev"

// globalOptions 所有子命令共用的参数
type globalOptions struct {
	configPath string
	verbose    bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:           "lawbotctl",
		Short:         "Operate the traffic-law chatbot: cache, corpus ingestion and ad-hoc questions",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to config file (default: search configs/config.yaml, config.yaml)")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log at debug level")

	root.AddCommand(
		newCacheCmd(opts),
		newIngestCmd(opts),
		newPurgeCmd(opts),
		newAskCmd(opts),
	)
	return root
}

// load 读取配置并创建输出到 stderr 的日志器，避免干扰命令输出
func (o *globalOptions) load(cmd *cobra.Command) (*configs.Config, logger.Logger, error) {
	cfg, err := configs.LoadFile(cmd.Context(), o.configPath)
	if err != nil {
		return nil, nil, err
	}
	logCfg := cfg.Logging
	logCfg.Output = "stderr"
	if o.verbose {
		logCfg.Level = "debug"
	} else if logCfg.Level == "info" || logCfg.Level == "debug" {
		logCfg.Level = "warn"
	}
	return cfg, bootstrap.NewLogger(logCfg), nil
}
