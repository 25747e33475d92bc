// Package cmd contains the commands of the seda binary.
package cmd

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/squadracorsepolito/seda/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "seda",
	Short: "Self-tuning staged pipeline for CAN telemetry",
	Long: `seda receives cannelloni frames over UDP, decodes the CAN signals
they carry and stores them in QuestDB or publishes them to Kafka.
Every step is a stage with its own backlog and a worker pool
resized at runtime.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is ./seda.yaml)")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))

	rootCmd.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error")
	_ = viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))

	rootCmd.AddCommand(runCmd, sendCmd)
}

func initConfig() {
	config.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("seda")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/seda")
	}

	// e.g. SEDA_QUESTDB_ADDRESS for questdb.address
	viper.AutomaticEnv()
	viper.SetEnvPrefix("SEDA")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// The config file is optional
	_ = viper.ReadInConfig()
}
