package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/soypete/llamabridge/pkg/bridge"
	"github.com/soypete/llamabridge/pkg/config"
	"github.com/soypete/llamabridge/pkg/handle"
)

var compileJSON bool

// compileResult is the --json output of the compile command.
type compileResult struct {
	Format            string   `json:"format"`
	FormatCode        int32    `json:"format_code"`
	Prompt            string   `json:"prompt"`
	GrammarLazy       bool     `json:"grammar_lazy"`
	GrammarTriggers   []string `json:"grammar_triggers"`
	AdditionalStops   []string `json:"additional_stops"`
	ParallelToolCalls bool     `json:"parallel_tool_calls"`
	ToolChoice        string   `json:"tool_choice"`
}

func compileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compile [request.json|-]",
		Short: "Render a chat request into a prompt",
		Long: `Render an OpenAI-style chat request with the model's chat template.

The request is read from the given file or stdin. The prompt is printed to
stdout; with --json the negotiated format and grammar hints are printed too.

Examples:
  echo '{"messages":[{"role":"user","content":"hi"}]}' | llamabridge compile
  llamabridge compile --model hermes --json request.json`,
		Args: cobra.MaximumNArgs(1),
		RunE: runCompile,
	}
	cmd.Flags().BoolVar(&compileJSON, "json", false, "Print the compiled params as JSON")
	return cmd
}

// openTemplates creates the bridge and the template set of the selected model.
func openTemplates() (*config.Config, *bridge.Bridge, handle.Handle, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, 0, err
	}
	b, err := newBridge(cfg)
	if err != nil {
		return nil, nil, 0, err
	}
	model, err := cfg.ChatModel(modelName)
	if err != nil {
		return nil, nil, 0, err
	}
	tmpl, err := b.TemplatesInit(model, templateOverride(cfg))
	if err != nil {
		return nil, nil, 0, err
	}
	return cfg, b, tmpl, nil
}

func runCompile(cmd *cobra.Command, args []string) error {
	payload, err := readInput(args)
	if err != nil {
		return err
	}

	_, b, tmpl, err := openTemplates()
	if err != nil {
		return err
	}
	defer b.TemplatesFree(tmpl)

	params, err := b.Compile(tmpl, payload)
	if err != nil {
		return err
	}
	defer b.ParamsFree(params)

	n, err := b.PromptLength(params)
	if err != nil {
		return err
	}
	buf := make([]byte, n+1)
	if _, err := b.PromptFill(params, buf); err != nil {
		return err
	}
	prompt := string(buf[:n])

	if !compileJSON {
		fmt.Fprint(os.Stdout, prompt)
		return nil
	}

	p, err := b.Params(params)
	if err != nil {
		return err
	}
	out := compileResult{
		Format:            p.Format().String(),
		FormatCode:        p.Format().Code(),
		Prompt:            prompt,
		GrammarLazy:       p.GrammarLazy(),
		GrammarTriggers:   p.GrammarTriggers(),
		AdditionalStops:   p.AdditionalStops(),
		ParallelToolCalls: p.ParallelToolCalls(),
		ToolChoice:        string(p.ToolChoice()),
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
