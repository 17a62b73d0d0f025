package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/johncui/socrate/pkg/config"
)

var (
	configPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "socrate",
	Short: "Socrate - guided self-reflection",
	Long: `Socrate helps you name what troubles you, then questions you about one
problem at a time until you reach an insight worth keeping.

Run without arguments to start the interactive chat.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runChat(cmd)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.AddCommand(serveCmd, chatCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, err
	}
	if verbose {
		cfg.Log.Level = "debug"
	}
	return cfg, nil
}

// newLogger writes to cfg.Log.File when set and to fallback otherwise.
// The returned close func is never nil.
func newLogger(cfg config.LogConfig, fallback io.Writer) (*slog.Logger, func() error, error) {
	level, err := cfg.SlogLevel()
	if err != nil {
		return nil, nil, err
	}
	out, closeFn := fallback, func() error { return nil }
	if cfg.File != "" {
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		out, closeFn = f, f.Close
	}
	return slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})), closeFn, nil
}
