// llamabridge compiles chat requests into model prompts and parses model
// completions back into chat messages, from the command line.
package main

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/soypete/llamabridge/pkg/bridge"
	"github.com/soypete/llamabridge/pkg/config"
	"github.com/soypete/llamabridge/pkg/metrics"
)

var (
	// Global flags
	configFile string
	modelName  string
	template   string
	debug      bool
	showStats  bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "llamabridge",
		Short: "Chat request compiler and completion parser for llama.cpp models",
		Long: `llamabridge renders chat requests with a model's chat template, negotiating
tool use against what the template supports, and parses raw completions back
into chat messages using the tool-call format chosen at compile time.

Models and their templates are read from .llamabridge.yaml in the current or
home directory. Without a config file a single ChatML model is assumed.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to config file (default: .llamabridge.yaml)")
	rootCmd.PersistentFlags().StringVarP(&modelName, "model", "m", "", "Configured model to use (default: defaults.model)")
	rootCmd.PersistentFlags().StringVarP(&template, "template", "t", "", "Template override: a model template name, builtin name, or inline source")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "Log negotiation decisions to stderr")
	rootCmd.PersistentFlags().BoolVar(&showStats, "stats", false, "Print compile and parse metrics to stderr on exit")

	rootCmd.AddCommand(compileCmd())
	rootCmd.AddCommand(parseCmd())
	rootCmd.AddCommand(capsCmd())
	rootCmd.AddCommand(formatsCmd())
	rootCmd.AddCommand(shellCmd())
	rootCmd.AddCommand(ngramCmd())
	rootCmd.AddCommand(compatCmd())
	rootCmd.AddCommand(versionCmd())

	err := rootCmd.Execute()
	if showStats {
		if werr := metrics.WriteText(os.Stderr, prometheus.DefaultGatherer); werr != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", werr)
		}
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads --config, else the default locations, else falls back
// to the built-in configuration.
func loadConfig() (*config.Config, error) {
	if configFile != "" {
		return config.Load(configFile)
	}
	cfg, err := config.LoadDefault()
	if errors.Is(err, config.ErrNotFound) {
		return config.Default(), nil
	}
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) *log.Logger {
	if debug || cfg.Debug.Enabled {
		return log.New(os.Stderr, "", log.LstdFlags)
	}
	return log.New(io.Discard, "", 0)
}

func newBridge(cfg *config.Config) (*bridge.Bridge, error) {
	sampling, err := cfg.SamplerConfig()
	if err != nil {
		return nil, err
	}
	opts := []bridge.Option{
		bridge.WithLogger(newLogger(cfg)),
		bridge.WithSamplerDefaults(sampling),
	}
	if cfg.Defaults.AssignToolCallIDs {
		opts = append(opts, bridge.WithUUIDToolCallIDs())
	}
	return bridge.New(opts...), nil
}

// templateOverride returns --template, or the configured default.
func templateOverride(cfg *config.Config) string {
	if template != "" {
		return template
	}
	return cfg.Defaults.Template
}

// readInput reads the named file, or stdin for "-" or no argument.
func readInput(args []string) ([]byte, error) {
	if len(args) == 0 || args[0] == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", args[0], err)
	}
	return data, nil
}
