package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/soypete/llamabridge/pkg/logits"
	"github.com/soypete/llamabridge/pkg/speculative"
)

func compatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "compat TARGET_VOCAB DRAFT_VOCAB",
		Short: "Check whether a draft model can speculate for a target model",
		Long: `Compare two vocabularies and report whether the draft model's tokens can be
verified by the target model during speculative decoding.

Vocabularies are JSON (.json) or one token per line.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := loadVocab(args[0])
			if err != nil {
				return err
			}
			draft, err := loadVocab(args[1])
			if err != nil {
				return err
			}

			if err := speculative.Check(target, draft); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "compatible")
			return nil
		},
	}
}

func loadVocab(path string) (*logits.VocabTokenizer, error) {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return logits.LoadVocabFromJSON(path)
	}
	return logits.LoadVocabFromFile(path)
}
