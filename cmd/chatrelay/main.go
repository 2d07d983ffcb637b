package main

import (
	"os"

	"github.com/spf13/cobra"
)

var version = "0.1.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:          "chatrelay",
		Short:        "Telegram chat bot relaying conversations to LLM providers",
		Version:      version,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file path (env CHATRELAY_* always applies)")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the bot with health and metrics endpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}

	var (
		askChat     int64
		askProvider string
		askModel    string
	)
	askCmd := &cobra.Command{
		Use:   "ask <text>",
		Short: "Send one message through the provider gateway",
		Long: `Send one message through the provider gateway, using the prompt and
provider configured for --chat (or the defaults).

Examples:
  chatrelay ask "what is a monad"
  chatrelay ask --chat -1001234 --provider anthropic "tell me a joke"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAsk(cmd, configPath, askChat, askProvider, askModel, args)
		},
	}
	askCmd.Flags().Int64Var(&askChat, "chat", 0, "Chat id whose settings apply")
	askCmd.Flags().StringVar(&askProvider, "provider", "", "Override the provider kind")
	askCmd.Flags().StringVar(&askModel, "model", "", "Override the model")

	providersCmd := &cobra.Command{
		Use:   "providers",
		Short: "List LLM providers and whether they are configured",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProviders(cmd, configPath)
		},
	}

	var (
		historyLimit int
		historyRaw   bool
	)
	historyCmd := &cobra.Command{
		Use:   "history <chat-id>",
		Short: "Print the latest logged messages of a chat",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(cmd, configPath, args[0], historyLimit, historyRaw)
		},
	}
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Number of messages")
	historyCmd.Flags().BoolVar(&historyRaw, "raw", false, "Print stored JSON records as is")

	var (
		statsPattern string
		statsJSON    bool
	)
	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show message counts per chat",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStats(cmd, configPath, statsPattern, statsJSON)
		},
	}
	statsCmd.Flags().StringVar(&statsPattern, "pattern", "", "Key glob (default: <key_prefix>:*)")
	statsCmd.Flags().BoolVar(&statsJSON, "json", false, "Output the report as JSON")

	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration with secrets masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfig(cmd, configPath)
		},
	}

	rootCmd.AddCommand(serveCmd, askCmd, providersCmd, historyCmd, statsCmd, configCmd)
	return rootCmd
}
