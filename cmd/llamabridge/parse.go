package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/soypete/llamabridge/pkg/bridge"
	"github.com/soypete/llamabridge/pkg/chat"
	"github.com/soypete/llamabridge/pkg/toolformat"
)

var (
	parseFormat  string
	parseRequest string
	parseIDs     bool
)

func parseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "parse [completion.txt|-]",
		Short: "Parse a raw completion into a chat message",
		Long: `Parse raw model output under a tool-call format and print the canonical
message JSON.

--format takes a format name (see "llamabridge formats"), its numeric code,
or "auto" to guess the format from the --model name.
With --request the parsed tool calls are checked against the request's tool
definitions and their JSON Schemas.

Examples:
  echo 'hello there' | llamabridge parse --format content-only
  llamabridge parse --format hermes-2-pro --request request.json out.txt`,
		Args: cobra.MaximumNArgs(1),
		RunE: runParse,
	}
	cmd.Flags().StringVarP(&parseFormat, "format", "f", "content-only", "Format name or code")
	cmd.Flags().StringVarP(&parseRequest, "request", "r", "", "Chat request whose tools the calls must match")
	cmd.Flags().BoolVar(&parseIDs, "assign-ids", false, "Give tool calls without an id a generated one")
	return cmd
}

// formatArg resolves a format given by name or numeric code. "auto" guesses
// the format from the selected model's name.
func formatArg(s string) (toolformat.Format, error) {
	if s == "auto" {
		return toolformat.ForModelName(modelName), nil
	}
	if code, err := strconv.ParseInt(s, 10, 32); err == nil {
		return toolformat.FromCode(int32(code))
	}
	return toolformat.ParseName(s)
}

func runParse(cmd *cobra.Command, args []string) error {
	text, err := readInput(args)
	if err != nil {
		return err
	}
	f, err := formatArg(parseFormat)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	var opts []bridge.Option
	opts = append(opts, bridge.WithLogger(newLogger(cfg)))
	if parseIDs || cfg.Defaults.AssignToolCallIDs {
		opts = append(opts, bridge.WithUUIDToolCallIDs())
	}
	b := bridge.New(opts...)

	msg, err := b.ParseMessage(string(text), f.Code())
	if err != nil {
		return err
	}

	if parseRequest != "" {
		payload, err := os.ReadFile(parseRequest)
		if err != nil {
			return fmt.Errorf("read request: %w", err)
		}
		req, err := chat.DecodeRequest(payload)
		if err != nil {
			return err
		}
		if err := chat.ValidateToolCalls(msg, req.Tools); err != nil {
			return err
		}
	}

	out, err := msg.Encode()
	if err != nil {
		return err
	}
	fmt.Println(out)
	return nil
}
