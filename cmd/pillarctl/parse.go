package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"pillar.vc/assistant/internal/domain"
	"pillar.vc/assistant/internal/intent"
	"pillar.vc/assistant/internal/records"
)

func parseCmd() *cobra.Command {
	var (
		mention bool
		hours   int
	)
	cmd := &cobra.Command{
		Use:   "parse [text]",
		Short: "Show how command or mention text is classified",
		Long: `Show the intent a piece of text parses to, without calling Slack or the model.

Examples:
  pillarctl parse "summarize 7d"
  pillarctl parse --mention "what did we decide about the acme round?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")
			rng := intent.HoursRange(hours)

			var keywords intent.Classifier
			if mention {
				keywords = intent.NewKeywordClassifier(records.Disabled{}, rng, nil)
			}
			parser := intent.NewParser(intent.ParserConfig{Keywords: keywords, DefaultRange: rng})

			in, err := parser.Parse(cmd.Context(), text, mention)
			if err != nil {
				fmt.Fprintln(cmd.OutOrStdout(), domain.UserMessage(err))
				return nil
			}
			out, err := json.MarshalIndent(in, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", in.Kind(), out)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&mention, "mention", "m", false, "parse as an @-mention instead of a slash command")
	cmd.Flags().IntVar(&hours, "default-hours", 24, "look-back window when the text names none")
	return cmd
}
