// Command relaybot is the single binary: a spf13/cobra root command with
// a serve subcommand that runs the daemon, and a tasks subcommand that
// inspects the scheduled-task store without starting anything live.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// version is injected at build time via ldflags; "dev" otherwise.
var version = "dev"

func main() {
	_ = godotenv.Load()

	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "relaybot",
		Short:   "A Discord-backed conversational agent with scheduled tasks",
		Version: version,
	}
	defaults := DefaultPaths()
	cmd.PersistentFlags().String("settings", defaults.SettingsPath, "path to settings.yaml")
	cmd.PersistentFlags().String("prompt", defaults.PromptPath, "path to the system prompt file")
	cmd.PersistentFlags().String("prompt-example", defaults.PromptExample, "path to seed prompt.txt from if missing")
	cmd.PersistentFlags().String("permissions", defaults.PermissionsPath, "path to permissions.yaml")
	cmd.PersistentFlags().String("log-dir", defaults.LogDir, "directory /log reads log files from")

	cmd.AddCommand(newServeCmd(), newTasksCmd())
	return cmd
}

func pathsFromFlags(cmd *cobra.Command) Paths {
	settings, _ := cmd.Flags().GetString("settings")
	prompt, _ := cmd.Flags().GetString("prompt")
	promptExample, _ := cmd.Flags().GetString("prompt-example")
	permissions, _ := cmd.Flags().GetString("permissions")
	logDir, _ := cmd.Flags().GetString("log-dir")
	return Paths{
		SettingsPath:    settings,
		PromptPath:      prompt,
		PromptExample:   promptExample,
		PermissionsPath: permissions,
		LogDir:          logDir,
	}
}
