package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/easyops/contextengine/pkg/engine"
	"github.com/easyops/contextengine/pkg/knowledge"
)

// validateOutput validate 的 JSON 输出
type validateOutput struct {
	Valid     bool                `json:"valid"`
	Fragments map[string]int      `json:"fragments"`
	Topics    int                 `json:"topics"`
	Modules   int                 `json:"modules"`
	Always    map[string][]string `json:"always_include"`
	Retrieval bool                `json:"retrieval"`
}

func newValidateCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration and content files",
		Long:  "Builds the engine exactly as a service would. Configuration problems are reported and the command exits non-zero.",
		Args:  cobra.NoArgs,
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

			out := validateOutput{
				Valid:     true,
				Fragments: make(map[string]int),
				Topics:    len(eng.Index().Topics()),
				Modules:   eng.Registry().Len(),
				Always:    make(map[string][]string),
				Retrieval: cfg.Retrieval.Enabled,
			}
			for _, lang := range knowledge.SupportedLanguages {
				out.Fragments[string(lang)] = len(eng.Index().FragmentsFor(lang))
				for _, d := range eng.Registry().AlwaysIncluded(lang) {
					out.Always[string(lang)] = append(out.Always[string(lang)], d.ID)
				}
			}

			if root.format == "json" {
				return writeJSON(cmd.OutOrStdout(), out)
			}

			w := cmd.OutOrStdout()
			fmt.Fprintln(w, "configuration OK")
			fmt.Fprintf(w, "topics: %d, modules: %d, retrieval: %t\n", out.Topics, out.Modules, out.Retrieval)
			for _, lang := range knowledge.SupportedLanguages {
				fmt.Fprintf(w, "  %s: %d fragments, always-include %v\n",
					lang, out.Fragments[string(lang)], out.Always[string(lang)])
			}
			return nil
		},
	}
}
