package cmd

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/polla-consensus/internal/config"
	"github.com/JakeFAU/polla-consensus/internal/sources"
)

// newSourcesCmd lists the registered sources and their configured URLs.
func newSourcesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sources",
		Short: "Lists the registered sources",
		Args:  cobra.NoArgs,
		RunE: withEnv(func(cmd *cobra.Command, _ []string, e *env) error {
			reg := sources.NewDefaultRegistry(e.cfg.Sources, nil, e.logger)
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tKIND\tURL")
			for _, name := range reg.DrawNames() {
				fmt.Fprintf(w, "%s\tdraw\t%s\n", name, drawURL(e.cfg.Sources, name))
			}
			for _, name := range reg.JackpotNames() {
				a, _ := reg.Jackpot(name)
				fmt.Fprintf(w, "%s\tjackpot\t%s\n", name, a.URL())
			}
			fmt.Fprintf(w, "%s\tselection\tevery draw source\n", sources.SelectAll)
			fmt.Fprintf(w, "%s\tselection\t%s, %s\n", sources.SelectPozos, sources.NameResultadosLoto, sources.NameOpenLoto)
			if err := w.Flush(); err != nil {
				return fmt.Errorf("print sources: %w", err)
			}
			return nil
		}),
	}
}

func drawURL(cfg config.SourcesConfig, name string) string {
	switch name {
	case sources.NameT13:
		if len(cfg.T13URLs) == 0 {
			return "(no urls configured)"
		}
		return strings.Join(cfg.T13URLs, ", ")
	case sources.NameH24:
		return cfg.H24IndexURL + " (index)"
	default:
		return ""
	}
}
