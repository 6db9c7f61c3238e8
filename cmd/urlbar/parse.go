package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/vango-dev/urlbar/internal/errors"
	"github.com/vango-dev/urlbar/pkg/urlbar"
)

func parseCmd() *cobra.Command {
	var (
		strict bool
		all    bool
		seps   string
	)

	cmd := &cobra.Command{
		Use:   "parse <hash>",
		Short: "Parse a hash or query string",
		Long: `Parse a hash or query string into key/value pairs and print them as JSON.

Examples:
  urlbar parse '#project=site&path=index.html'
  urlbar parse --all '?tag=go&tag=web'
  urlbar parse --separators '&;' 'a=1;b=2'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := urlbar.Options{StrictDecode: strict, Separators: []rune(seps)}
			u, err := urlbar.ParseWithOptions(args[0], opts)
			if err != nil {
				return errors.New("E401").
					Wrap(err).
					WithSuggestion("Escape literal '%' as %25, or drop --strict")
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if all {
				values := make(map[string][]string, u.Len())
				for _, k := range u.Keys() {
					values[k] = u.Values(k)
				}
				return enc.Encode(values)
			}
			return enc.Encode(u.Map())
		},
	}

	cmd.Flags().BoolVar(&strict, "strict", false, "Fail on malformed percent-escapes")
	cmd.Flags().BoolVarP(&all, "all", "a", false, "Print every value of repeated keys")
	cmd.Flags().StringVar(&seps, "separators", "&", "Characters that separate pairs")

	return cmd
}
