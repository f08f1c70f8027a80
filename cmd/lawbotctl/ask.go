package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"traffic-law-bot/internal/bootstrap"
	"traffic-law-bot/internal/eino/flows"
)

func newAskCmd(opts *globalOptions) *cobra.Command {
	var personaKey string
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer one question through the full pipeline (guard, cache, retrieval, LLM)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := opts.load(cmd)
			if err != nil {
				return err
			}
			app, err := bootstrap.New(cmd.Context(), cfg, log, nil)
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()

			if personaKey != "" && !app.Personas.Has(personaKey) {
				return fmt.Errorf("unknown persona %q", personaKey)
			}

			out, err := app.Answer.Run(cmd.Context(), &flows.AnswerInput{
				SessionID: "lawbotctl",
				UserID:    "lawbotctl",
				Message:   strings.Join(args, " "),
				Persona:   personaKey,
			})
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			fmt.Fprintln(w, out.Response)
			fmt.Fprintf(w, "\n[source=%s persona=%s route=%s", out.Source, out.Persona, out.Route)
			if out.Source == flows.SourceCache {
				fmt.Fprintf(w, " similarity=%.4f", out.Similarity)
			}
			fmt.Fprintln(w, "]")
			for _, c := range out.Citations {
				fmt.Fprintf(w, "  - %s\n", c)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&personaKey, "persona", "p", "", "persona key: general, legal, csgt")
	return cmd
}
