package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/easyops/contextengine/pkg/engine"
	"github.com/easyops/contextengine/pkg/knowledge"
	"github.com/easyops/contextengine/pkg/session"
)

// composeOutput compose 的 JSON 输出
type composeOutput struct {
	RequestID string   `json:"request_id"`
	Language  string   `json:"language"`
	Topics    []string `json:"topics"`
	Modules   []string `json:"modules"`
	Fragments []string `json:"fragments"`
	Length    int      `json:"length"`
	Tokens    int      `json:"tokens"`
	Warnings  []string `json:"warnings"`
	Text      string   `json:"text"`
}

func newComposeCmd(root *rootOptions) *cobra.Command {
	var (
		lang      string
		sessionID string
	)

	cmd := &cobra.Command{
		Use:   "compose <utterance>",
		Short: "Compose the system prompt for an utterance",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := root.validateFormat(); err != nil {
				return err
			}
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}

			eng, err := engine.NewFromConfig(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer eng.Close()

			utterance := strings.Join(args, " ")
			var res *engine.Result
			if sessionID != "" {
				res = eng.Handle(cmd.Context(), eng.Sessions(), sessionID, utterance, knowledge.Language(lang))
			} else {
				res = eng.Process(cmd.Context(), utterance, knowledge.Language(lang), session.Context{})
			}

			p := res.Prompt
			if root.format == "json" {
				out := composeOutput{
					RequestID: res.RequestID,
					Language:  string(res.Language),
					Topics:    res.Detection.Topics,
					Modules:   p.OrderedModules,
					Length:    p.TotalLength,
					Tokens:    p.TokenCount,
					Warnings:  p.Warnings,
					Text:      p.Text,
				}
				for _, f := range p.AttachedFragments {
					out.Fragments = append(out.Fragments, f.Fragment.ID())
				}
				return writeJSON(cmd.OutOrStdout(), out)
			}

			w := cmd.OutOrStdout()
			fmt.Fprintln(w, p.Text)
			fmt.Fprintln(w)
			fmt.Fprintf(w, "# language=%s topics=%v modules=%v length=%d tokens=%d\n",
				res.Language, res.Detection.Topics, p.OrderedModules, p.TotalLength, p.TokenCount)
			for _, warning := range p.Warnings {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s\n", warning)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&lang, "lang", "l", "", "Request language (en or is); defaults to the engine default")
	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "Session ID; reads and updates the configured session store")
	return cmd
}
