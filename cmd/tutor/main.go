package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"konetutor/internal/config"
)

var (
	// Global flags
	verbose    bool
	apiKeyFlag string
	configFlag string

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "konetutor",
	Short: "Konetutor - a document-grounded machine vision tutor",
	Long: `Konetutor is an interactive tutoring chat for a machine vision course.

You stage local course documents (PDFs, slides), upload them to the Gemini
Files API, and chat with a tutor whose answers are grounded strictly in the
selected document.

Run without arguments to start the interactive chat interface.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// The chat TUI owns the terminal, so the logger writes to a file
		// under the settings directory instead of stderr.
		cfg := zap.NewProductionConfig()
		if verbose {
			cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		if dir, err := config.Dir(); err == nil {
			if err := os.MkdirAll(dir, 0755); err == nil {
				cfg.OutputPaths = []string{filepath.Join(dir, "konetutor.log")}
				cfg.ErrorOutputPaths = cfg.OutputPaths
			}
		}
		var err error
		logger, err = cfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInteractiveChat()
	},
}

// pathsCmd prints where settings and logs live
var pathsCmd = &cobra.Command{
	Use:   "paths",
	Short: "Print the settings and log file locations",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := settingsPath()
		if err != nil {
			return err
		}
		fmt.Printf("settings: %s\n", path)
		fmt.Printf("log:      %s\n", filepath.Join(filepath.Dir(path), "konetutor.log"))
		return nil
	},
}

// settingsPath resolves the settings file, honoring --config.
func settingsPath() (string, error) {
	if configFlag != "" {
		return configFlag, nil
	}
	return config.Path()
}

// loadSettings reads the settings file and layers the CLI/env credentials
// on top. Corrupt files fall back to defaults with a warning.
func loadSettings() (config.Settings, string, error) {
	path, err := settingsPath()
	if err != nil {
		return config.Settings{}, "", err
	}
	settings, loadErr := config.Load(path)
	if loadErr != nil {
		logger.Warn("settings load", zap.Error(loadErr))
	}
	if apiKeyFlag != "" {
		settings.APIKey = apiKeyFlag
	}
	if settings.APIKey == "" {
		settings.APIKey = os.Getenv("GEMINI_API_KEY")
	}
	return settings, path, nil
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&apiKeyFlag, "api-key", "", "Gemini API key (overrides settings and GEMINI_API_KEY)")
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "Path to the settings file")

	rootCmd.AddCommand(pathsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
