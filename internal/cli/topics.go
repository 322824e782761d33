package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/easyops/contextengine/pkg/knowledge"
)

// topicRow topics 的一行输出
type topicRow struct {
	Topic     string `json:"topic"`
	Source    string `json:"source,omitempty"`
	Fragments int    `json:"fragments"`
}

func newTopicsCmd(root *rootOptions) *cobra.Command {
	var lang string

	cmd := &cobra.Command{
		Use:   "topics [utterance]",
		Short: "List topics, or the topics an utterance activates by keyword",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := root.validateFormat(); err != nil {
				return err
			}
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}

			index, err := knowledge.LoadFile(cfg.Knowledge.FragmentsPath)
			if err != nil {
				return err
			}

			language := knowledge.Language(cfg.Engine.DefaultLanguage)
			if lang != "" {
				parsed, ok := knowledge.ParseLanguage(lang)
				if !ok {
					return fmt.Errorf("unsupported language %q", lang)
				}
				language = parsed
			}

			var rows []topicRow
			if len(args) > 0 {
				for _, a := range index.Query(strings.Join(args, " "), language) {
					rows = append(rows, topicRow{Topic: a.Topic, Source: a.Source.String(), Fragments: len(a.Fragments)})
				}
			} else {
				for _, t := range index.Topics() {
					rows = append(rows, topicRow{Topic: t, Fragments: len(index.FragmentsForTopic(t, language))})
				}
			}

			if root.format == "json" {
				return writeJSON(cmd.OutOrStdout(), rows)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TOPIC\tSOURCE\tFRAGMENTS")
			for _, r := range rows {
				source := r.Source
				if source == "" {
					source = "-"
				}
				fmt.Fprintf(tw, "%s\t%s\t%d\n", r.Topic, source, r.Fragments)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringVarP(&lang, "lang", "l", "", "Language whose fragments are counted (en or is)")
	return cmd
}
