package main

import (
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/spf13/cobra"

	"traffic-law-bot/internal/bootstrap"
	"traffic-law-bot/internal/eino/components"
	"traffic-law-bot/internal/eino/nodes"
	"traffic-law-bot/internal/semcache"
)

func newCacheCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and manage the semantic cache",
	}

	// open 打开缓存；withEmbedder 为 false 时不初始化 Embedder，统计和清空不需要它
	open := func(cmd *cobra.Command, withEmbedder bool) (*semcache.Manager, error) {
		cfg, log, err := opts.load(cmd)
		if err != nil {
			return nil, err
		}
		var embedder embedding.Embedder
		if withEmbedder {
			if embedder, err = components.NewEmbedder(cmd.Context(), &cfg.Eino.Embedder); err != nil {
				return nil, err
			}
		}
		return bootstrap.OpenCaches(cmd.Context(), &cfg.Cache, embedder, log)
	}

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show cache statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			caches, err := open(cmd, false)
			if err != nil {
				return err
			}
			defer func() { _ = caches.Close() }()

			stats, err := caches.Semantic().Stats(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Entries:        %d / %d\n", stats.TotalEntries, stats.MaxEntries)
			fmt.Fprintf(out, "Hits:           %d\n", stats.TotalHits)
			fmt.Fprintf(out, "Efficiency:     %.2f\n", stats.CacheEfficiency)
			fmt.Fprintf(out, "Avg similarity: %.3f\n", stats.AverageSimilarity)
			fmt.Fprintf(out, "Threshold:      %.2f\n", stats.SimilarityThreshold)
			fmt.Fprintf(out, "TTL (hours):    %.1f\n", stats.TTLHours)
			if stats.MostHitQuery != "" {
				fmt.Fprintf(out, "Top query:      %q (%d hits)\n", stats.MostHitQuery, stats.MostHitCount)
			}
			if emb := caches.Embeddings(); emb != nil {
				es, err := emb.Stats(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Embeddings:     %d / %d (%d accesses)\n", es.TotalEntries, es.MaxEntries, es.TotalAccesses)
			}
			return nil
		},
	}

	var all bool
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete all semantic cache entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			caches, err := open(cmd, false)
			if err != nil {
				return err
			}
			defer func() { _ = caches.Close() }()

			if all {
				if err := caches.Reset(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Semantic and embedding caches cleared.")
				return nil
			}
			n, err := caches.Semantic().Clear(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d semantic cache entries.\n", n)
			return nil
		},
	}
	clearCmd.Flags().BoolVar(&all, "all", false, "also clear the embedding cache")

	lookupCmd := &cobra.Command{
		Use:   "lookup <query>",
		Short: "Look up a question in the semantic cache",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			caches, err := open(cmd, true)
			if err != nil {
				return err
			}
			defer func() { _ = caches.Close() }()

			query := nodes.CleanText(strings.Join(args, " "))
			res, err := caches.Semantic().Lookup(cmd.Context(), query)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if res.Hit == nil {
				fmt.Fprintf(out, "Result: %s\n", res.Outcome)
				if res.EmbedErr != nil {
					fmt.Fprintf(out, "Embed error: %v\n", res.EmbedErr)
				}
				return nil
			}
			fmt.Fprintf(out, "Result:     hit (id=%d, similarity=%.4f, hits=%d)\n", res.Hit.ID, res.Hit.Similarity, res.Hit.HitCount)
			fmt.Fprintf(out, "Cached for: %s\n", res.Hit.CachedQuery)
			fmt.Fprintf(out, "\n%s\n", res.Hit.Response)
			return nil
		},
	}

	cmd.AddCommand(statsCmd, clearCmd, lookupCmd)
	return cmd
}
