package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/henn-dt/stevedore/src/config"
	"github.com/henn-dt/stevedore/src/logger"
)

var (
	cfgFile string
	verbose bool
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "stevedore",
	Short: "Multi-platform image publish orchestrator",
	Long:  "Stevedore — builds multi-architecture container images, pushes them through one authenticated registry session, and verifies every digest.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logger.Init(verbose)

		// Skip config loading for commands that don't need it.
		if cmd.Name() == "version" {
			return nil
		}
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		return nil
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: .stevedore.yml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}

// Execute runs the root command.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return err
	}
	return nil
}
