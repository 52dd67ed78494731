package cli

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	port       string
	configPath string
	logLevel   string
	retryRule  string
)

// Execute runs the CLI.
func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	envPort := os.Getenv("PORT")
	if envPort == "" {
		envPort = "8080"
	}
	envConfig := os.Getenv("CONFIG_PATH")
	if envConfig == "" {
		envConfig = "config/config.yaml"
	}
	envLogLevel := os.Getenv("LOG_LEVEL")

	cmd := &cobra.Command{
		Use:   "quizroom-service",
		Short: "Multiplayer quiz room coordinator over WebSocket",
	}

	cmd.PersistentFlags().StringVar(&port, "port", envPort, "port to listen on")
	cmd.PersistentFlags().StringVar(&configPath, "config", envConfig, "path to YAML config")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", envLogLevel, "log level (trace..panic), overrides config")
	cmd.PersistentFlags().StringVar(&retryRule, "retry-rule", "", "incorrect-answer retry rule (same_answerer or release_on_incorrect), overrides config")
	cmd.AddCommand(NewStartCmd(&configPath, &port, &logLevel, &retryRule))
	cmd.AddCommand(NewMigrateCmd(&configPath))
	return cmd
}
