package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/soypete/llamabridge/pkg/bridge"
	"github.com/soypete/llamabridge/pkg/metrics"
	"github.com/soypete/llamabridge/pkg/toolformat"
)

const shellHelp = `Type a completion to parse it with the current format. End a line with \
to continue on the next one.

Commands:
  :format NAME|CODE   switch the parse format
  :formats            list formats
  :stats              show parse counters for this session
  :help               show this help
  :quit               leave the shell`

func shellCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Interactively parse completions",
		Args:  cobra.NoArgs,
		RunE:  runShell,
	}
}

func historyFilePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".llamabridge_history")
}

func shellPrompt(f toolformat.Format) string {
	return fmt.Sprintf("llamabridge [%s]> ", f)
}

func runShell(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	b, err := newBridge(cfg)
	if err != nil {
		return err
	}

	format := toolformat.FormatContentOnly
	if modelName != "" {
		format = toolformat.ForModelName(modelName)
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          shellPrompt(format),
		HistoryFile:     historyFilePath(),
		HistoryLimit:    1000,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("failed to create readline: %w", err)
	}
	defer rl.Close()

	fmt.Fprintln(rl.Stdout(), shellHelp)

	var pending []string
	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			pending = nil
			rl.SetPrompt(shellPrompt(format))
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		if cont, ok := strings.CutSuffix(line, `\`); ok {
			pending = append(pending, cont)
			rl.SetPrompt("...   ")
			continue
		}
		text := strings.Join(append(pending, line), "\n")
		pending = nil
		rl.SetPrompt(shellPrompt(format))

		trimmed := strings.TrimSpace(text)
		switch {
		case trimmed == "":
			continue
		case trimmed == ":quit" || trimmed == ":exit":
			return nil
		case trimmed == ":help":
			fmt.Fprintln(rl.Stdout(), shellHelp)
		case trimmed == ":formats":
			for _, f := range toolformat.All() {
				fmt.Fprintf(rl.Stdout(), "%2d  %s\n", f.Code(), f)
			}
		case trimmed == ":stats":
			if err := metrics.WriteText(rl.Stdout(), prometheus.DefaultGatherer); err != nil {
				fmt.Fprintf(rl.Stderr(), "error: %v\n", err)
			}
		case strings.HasPrefix(trimmed, ":format "):
			f, err := formatArg(strings.TrimSpace(strings.TrimPrefix(trimmed, ":format ")))
			if err != nil {
				fmt.Fprintf(rl.Stderr(), "error: %v\n", err)
				continue
			}
			format = f
			rl.SetPrompt(shellPrompt(format))
		default:
			printParsed(rl, b, text, format)
		}
	}
}

func printParsed(rl *readline.Instance, b *bridge.Bridge, text string, f toolformat.Format) {
	out, err := b.ParseResponse(text, f.Code())
	if err != nil {
		fmt.Fprintf(rl.Stderr(), "error: %v\n", err)
		return
	}
	fmt.Fprintln(rl.Stdout(), out)
}
