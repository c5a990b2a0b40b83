package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"math-mentor/api/internal/app"
	"math-mentor/api/internal/rag"
)

var indexSearchK int

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Manage the reference knowledge-base index",
}

var indexRebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Re-chunk and re-embed the knowledge base",
	Args:  cobra.NoArgs,
	RunE:  runIndexRebuild,
}

var indexSeedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Write the built-in reference documents into the knowledge base and rebuild",
	Args:  cobra.NoArgs,
	RunE:  runIndexSeed,
}

var indexSearchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Show the chunks retrieval would return for a query",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runIndexSearch,
}

func init() {
	indexSearchCmd.Flags().IntVarP(&indexSearchK, "top", "k", 0, "Number of chunks (default TOP_K)")
	indexCmd.AddCommand(indexRebuildCmd, indexSeedCmd, indexSearchCmd)
	rootCmd.AddCommand(indexCmd)
}

func runIndexRebuild(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := app.OpenIndex(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.Index.Rebuild(ctx); err != nil {
		return err
	}
	fmt.Printf("indexed %d chunks from %s\n", a.Index.Len(), cfg.Retrieval.KnowledgeBasePath)
	return nil
}

func runIndexSeed(cmd *cobra.Command, args []string) error {
	written, err := rag.SeedKnowledgeBase(cfg.Retrieval.KnowledgeBasePath)
	if err != nil {
		return err
	}
	for _, f := range written {
		fmt.Printf("wrote %s\n", f)
	}
	return runIndexRebuild(cmd, args)
}

func runIndexSearch(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := app.OpenIndex(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	k := indexSearchK
	if k <= 0 {
		k = cfg.Retrieval.TopK
	}
	chunks, err := a.Index.Search(ctx, strings.Join(args, " "), k)
	if err != nil {
		return err
	}
	for i, c := range chunks {
		fmt.Printf("%d. [%s] score=%.3f\n%s\n\n", i+1, c.SourceID, c.RelevanceScore, c.Text)
	}
	return nil
}
