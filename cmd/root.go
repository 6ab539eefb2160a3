// -- cmd/root.go --
package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/internal/config"
	"github.com/xkilldash9x/webpilot/internal/observability"
)

var cfgFile string

// NewRootCommand builds the root command with all subcommands attached.
// A fresh instance per invocation keeps flag state from leaking between
// executions.
func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "webpilot",
		Short:   "Webpilot is an LLM-driven browser agent.",
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Runs before any command, setting up config and logging.
			if err := initializeConfig(); err != nil {
				return err
			}

			cfg, err := config.NewConfigFromViper(viper.GetViper())
			if err != nil {
				// Initialize a fallback logger so the error is at least visible.
				observability.InitializeLogger(config.LoggerConfig{
					Level: "info", Format: "console", ServiceName: "webpilot",
				})
				return err
			}

			observability.InitializeLogger(cfg.Logger)
			observability.GetLogger().Info("Starting webpilot", zap.String("version", Version))
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./config.yaml)")
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	rootCmd.AddCommand(newRunCmd())
	return rootCmd
}

// Execute runs the root command under the given signal-aware context.
func Execute(ctx context.Context) error {
	rootCmd := NewRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if logger := observability.GetLogger(); logger != nil {
			logger.Error("Command execution failed", zap.Error(err))
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
		return err
	}
	return nil
}

// initializeConfig reads in config file and ENV variables if set.
func initializeConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	config.SetDefaults(viper.GetViper())

	viper.SetEnvPrefix("WEBPILOT")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; proceed with defaults/env vars.
	}
	return nil
}
