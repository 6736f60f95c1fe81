package main

import (
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "ark-warden",
		Short:         "Operate an ARK dedicated server: lifecycle, backups and rollback",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a config file (yaml, json or toml)")

	rootCmd.AddCommand(newServeCmd(&configPath), newExecCmd(&configPath))

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("ark-warden failed")
		os.Exit(1)
	}
}
