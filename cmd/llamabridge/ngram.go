package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/soypete/llamabridge/pkg/ngram"
)

func ngramCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ngram",
		Short: "Build and merge n-gram lookup caches",
		Long: `Manage the static n-gram caches used for lookup decoding.

A static cache maps every 2-gram of a corpus to the tokens that followed it.
The corpus is tokenized with the vocabulary configured for --model.`,
	}
	cmd.AddCommand(ngramBuildCmd())
	cmd.AddCommand(ngramMergeCmd())
	return cmd
}

func ngramBuildCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "build OUTPUT [corpus.txt|-]",
		Short: "Build a static cache from a text corpus",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			tok, err := cfg.Tokenizer(modelName)
			if err != nil {
				return err
			}
			text, err := readInput(args[1:])
			if err != nil {
				return err
			}
			b, err := newBridge(cfg)
			if err != nil {
				return err
			}

			tokens := tok.StringToTokens(string(text))
			h := b.NgramCacheInit()
			defer b.NgramCacheFree(h)
			if err := b.NgramCacheUpdate(h, ngram.StaticN, ngram.StaticN, tokens, len(tokens)); err != nil {
				return err
			}
			if err := b.NgramCacheSave(h, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d tokens -> %s\n", len(tokens), args[0])
			return nil
		},
	}
}

func ngramMergeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "merge OUTPUT INPUT...",
		Short: "Merge caches into one",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			b, err := newBridge(cfg)
			if err != nil {
				return err
			}

			out := b.NgramCacheInit()
			defer b.NgramCacheFree(out)
			for _, path := range args[1:] {
				in, err := b.NgramCacheLoad(path)
				if err != nil {
					return err
				}
				err = b.NgramCacheMerge(out, in)
				b.NgramCacheFree(in)
				if err != nil {
					return fmt.Errorf("merge %s: %w", path, err)
				}
			}
			if err := b.NgramCacheSave(out, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "merged %d caches -> %s\n", len(args)-1, args[0])
			return nil
		},
	}
}
