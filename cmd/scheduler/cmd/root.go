package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/namanarora00/scheduler/internal/common"
	"github.com/namanarora00/scheduler/internal/configuration"
)

const customConfigLocation string = "config"

func RootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "scheduler",
		SilenceUsage: true,
		Short:        "Deployment scheduler worker process",
	}

	cmd.PersistentFlags().StringSlice(
		customConfigLocation,
		[]string{},
		"Fully qualified path to application configuration file (for multiple config files repeat this arg or separate paths with commas)")
	_ = viper.BindPFlag(customConfigLocation, cmd.PersistentFlags().Lookup(customConfigLocation))

	cmd.AddCommand(
		runCmd(),
		migrateDbCmd(),
	)

	return cmd
}

func loadConfig() configuration.SchedulerConfig {
	config := configuration.SchedulerConfig{
		Scheduling: configuration.DefaultSchedulingConfig(),
	}
	userSpecifiedConfigs := viper.GetStringSlice(customConfigLocation)
	common.LoadConfig(&config, "./config/scheduler", userSpecifiedConfigs)
	return config
}
