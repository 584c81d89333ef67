package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"tandem/internal/config"
	"tandem/internal/logging"
)

var (
	// Global flags
	workspace string
	sessionID string
	userID    string
	debugMode bool

	cfg *config.Config
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "tandemd",
	Short: "tandem - local-first AI pair-programming backend",
	Long: `tandem grounds model responses in your own codebase and prior
conversation, then drives a multi-step pair-programming plan to completion.

All state lives under <workspace>/.tandem: chat history, the code index,
per-session vector indexes and pair-programmer plans.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.LoadWorkspace(workspace)
		if err != nil {
			return err
		}
		if !filepath.IsAbs(cfg.DataDir) {
			cfg.DataDir = filepath.Join(workspace, cfg.DataDir)
		}
		if debugMode {
			cfg.Logging.DebugMode = true
		}
		return logging.Initialize(logging.Options{
			Dir:        cfg.LogDir(),
			DebugMode:  cfg.Logging.DebugMode,
			Level:      cfg.Logging.Level,
			Categories: cfg.Logging.Categories,
		})
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().StringVarP(&sessionID, "session", "s", "default", "session id scoping index, chats and plans")
	rootCmd.PersistentFlags().StringVarP(&userID, "user", "u", "local", "user id")
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "enable category log files under .tandem/logs")

	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(contextCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(stepCmd)
	rootCmd.AddCommand(serverCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
