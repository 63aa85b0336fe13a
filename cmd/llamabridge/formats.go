package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/soypete/llamabridge/pkg/chattemplate"
	"github.com/soypete/llamabridge/pkg/toolformat"
)

var capsAll bool

func formatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "formats",
		Short: "List the tool-call formats and their codes",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("  %-4s %-28s %-30s %s\n", "CODE", "NAME", "MODELS", "DESCRIPTION")
			for _, info := range toolformat.ListFormatters() {
				fmt.Printf("  %-4d %-28s %-30s %s\n", info.Code, info.Name, strings.Join(info.Models, ", "), info.Description)
			}
			return nil
		},
	}
}

func capsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "caps",
		Short: "Show the tool-use capabilities of a model's templates",
		Long: `Show what tool use the selected model's templates support: the tool-call
format, parallel tool calls, tool-choice policies and Llama built-in tools.
With --all every bundled template is listed instead.`,
		Args: cobra.NoArgs,
		RunE: runCaps,
	}
	cmd.Flags().BoolVar(&capsAll, "all", false, "List every bundled template")
	return cmd
}

func runCaps(cmd *cobra.Command, args []string) error {
	fmt.Printf("  %-28s %-28s %-7s %-9s %-21s %s\n", "TEMPLATE", "FORMAT", "NATIVE", "PARALLEL", "TOOL CHOICE", "BUILTIN TOOLS")

	row := func(name string, c chattemplate.Capabilities) {
		choices := make([]string, len(c.ToolChoices))
		for i, tc := range c.ToolChoices {
			choices[i] = string(tc)
		}
		fmt.Printf("  %-28s %-28s %-7t %-9t %-21s %t\n", name, c.Format, c.ToolUse, c.ParallelToolCalls,
			strings.Join(choices, ","), c.BuiltinTools)
	}

	if capsAll {
		for _, name := range chattemplate.BuiltinNames() {
			ts, err := chattemplate.NewTemplateSet(&chattemplate.StaticModel{ModelName: name}, name)
			if err != nil {
				return err
			}
			row(name, ts.Capabilities())
		}
		return nil
	}

	_, b, tmpl, err := openTemplates()
	if err != nil {
		return err
	}
	defer b.TemplatesFree(tmpl)

	caps, err := b.TemplatesCapabilities(tmpl)
	if err != nil {
		return err
	}
	name := modelName
	if name == "" {
		name = "(default)"
	}
	row(name, caps)
	return nil
}
