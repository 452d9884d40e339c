// Package cmd holds the webloop CLI: the run loop, the report reader,
// and the status API server.
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

// rootCmd is the base command when called without subcommands.
var rootCmd = &cobra.Command{
	Use:   "webloop",
	Short: "Iterative web page generation: plan, generate, evaluate, patch",
	Long: `webloop turns a natural-language task into a working web page by
driving a closed loop: plan the page, generate it with a coding agent,
serve it over a local preview, explore and score it with an agentic
browser evaluator, and patch it from the evaluator's findings until it
passes or the iteration budget runs out.

Every run leaves a durable record: a trace, artifacts, screenshots,
a manifest, and a standalone view.html.`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./webloop.yaml)")
	rootCmd.PersistentFlags().String("log-file", "", "log file path (default logs/webloop-<date>.log)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("log-format", "text", "log format: text or json")

	viper.BindPFlag("log_file", rootCmd.PersistentFlags().Lookup("log-file"))
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("log_format", rootCmd.PersistentFlags().Lookup("log-format"))

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(serverCmd)
}

// initConfig reads the config file and environment. A .env file in the
// working directory is loaded first so API keys land in the process
// environment before viper resolves anything.
func initConfig() {
	_ = godotenv.Load()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName("webloop")
	}

	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}
