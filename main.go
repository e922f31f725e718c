package main

import (
	"context"
	"fmt"
	"os"

	"PPresence/global/config"
	"PPresence/logger"

	"github.com/spf13/cobra"
)

type rootFlags struct {
	configPath string
	envFile    string
}

func (f *rootFlags) load() (*config.AppConfig, error) {
	return config.Load(f.configPath, f.envFile)
}

func buildRootCmd() *cobra.Command {
	flags := &rootFlags{}
	root := &cobra.Command{
		Use:           "ppresence",
		Short:         "Presence and real-time notification server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", config.DefaultConfigPath, "Path to YAML configuration file")
	root.PersistentFlags().StringVar(&flags.envFile, "env-file", config.DefaultEnvFile, "dotenv file loaded before PP_* overrides")

	root.AddCommand(
		buildServeCmd(flags),
		buildSweepCmd(flags),
		buildMigrateCmd(flags),
		buildTokenCmd(flags),
	)
	return root
}

func main() {
	defer logger.Sync()
	if err := buildRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
