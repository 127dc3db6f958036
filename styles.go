package main

import (
	"fmt"

	"cartoonize/domain"
	"cartoonize/style"

	"github.com/spf13/cobra"
)

func newStylesCmd(load func() (*app, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "styles",
		Short: "List styles and the size or ratio options of each backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := load()
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()

			fmt.Fprintln(w, "Styles:")
			for _, s := range a.catalog.Styles() {
				if s.Hint != "" {
					fmt.Fprintf(w, "  %-12s %-12s (%s)\n", s.Display, s.Token, s.Hint)
					continue
				}
				fmt.Fprintf(w, "  %-12s %s\n", s.Display, s.Token)
			}

			for _, kind := range domain.BackendKinds() {
				fmt.Fprintf(w, "\n%s (%s input):\n", kind, kind.SourceKind())
				for _, r := range style.Ratios(kind) {
					fmt.Fprintf(w, "  %-12s %s\n", r.Display, r.Token)
				}
			}
			return nil
		},
	}
}
