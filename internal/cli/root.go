package cli

import (
	"fmt"
	"os"

	"github.com/othala/orchd/internal/config"
	"github.com/othala/orchd/internal/version"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "othalactl",
	Short: "othalactl - operator CLI for the othala orchestration daemon",
	Long: `othalactl drives and inspects an othalad daemon: create, list, stop, and
resume tasks, and dump the append-only event log.

Example:
  othalactl task create --repo repo-1 --title "Add endpoint"
  othalactl task list --state chatting`,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Set version for --version flag
	rootCmd.Version = version.Short()
	rootCmd.SetVersionTemplate("{{.Name}} {{.Version}}\n")

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .othala.yaml)")
	rootCmd.PersistentFlags().Bool("verbose", false, "enable verbose output")
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

func initConfig() {
	if err := config.Bootstrap(cfgFile); err != nil {
		fmt.Fprintln(os.Stderr, "Error loading config:", err)
		os.Exit(1)
	}
	if viper.GetBool("verbose") && viper.ConfigFileUsed() != "" {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}
