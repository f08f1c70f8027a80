package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"traffic-law-bot/internal/eino/components"
	"traffic-law-bot/internal/ingest"
)

func newIngestCmd(opts *globalOptions) *cobra.Command {
	var (
		file      string
		batchSize int
	)
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Index legal chunks from a JSONL file into the configured vector store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := opts.load(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			embedder, err := components.NewEmbedder(ctx, &cfg.Eino.Embedder)
			if err != nil {
				return err
			}
			idx, err := components.NewIndexer(ctx, &cfg.Eino.Indexer, embedder)
			if err != nil {
				return err
			}
			if batchSize <= 0 {
				batchSize = cfg.Eino.Indexer.BatchSize
			}

			res, err := ingest.NewIngester(idx, batchSize, log).IngestFile(ctx, file)
			if res != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "Indexed %d/%d records in %d batches (%s) into %s/%s\n",
					res.Indexed, res.Records, res.Batches, res.Duration,
					cfg.Eino.Indexer.Provider, cfg.Eino.Indexer.Collection)
			}
			return err
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "JSONL file with one chunk per line")
	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "documents per store call (default: indexer.batch_size)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newPurgeCmd(opts *globalOptions) *cobra.Command {
	var lawID string
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete every indexed chunk of one legal document",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := opts.load(cmd)
			if err != nil {
				return err
			}
			purger, err := ingest.NewPurger(cmd.Context(), &cfg.Eino.Indexer, log)
			if err != nil {
				return err
			}
			defer func() { _ = purger.Close() }()

			res, err := purger.PurgeLaw(cmd.Context(), lawID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d chunks of %q from %s\n", res.Deleted, res.LawID, res.Provider)
			return nil
		},
	}
	cmd.Flags().StringVar(&lawID, "law-id", "", `law identifier, e.g. "Nghị định 168/2024/NĐ-CP"`)
	_ = cmd.MarkFlagRequired("law-id")
	return cmd
}
