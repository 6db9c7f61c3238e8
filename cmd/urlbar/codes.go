package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vango-dev/urlbar/internal/errors"
)

func errorsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "errors [code]",
		Short: "List error codes or explain one",
		Long: `List every urlbar error code, or print the full explanation of one.

Examples:
  urlbar errors
  urlbar errors E103`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if len(args) == 0 {
				for _, code := range errors.GetAllCodes() {
					tmpl, _ := errors.GetTemplate(code)
					fmt.Fprintf(out, "%-8s %s\n", tmpl.Category, errors.New(code).FormatCompact())
				}
				return nil
			}

			code := strings.ToUpper(args[0])
			if _, ok := errors.GetTemplate(code); !ok {
				return errors.New("E402").
					WithDetail("No error is registered as " + code).
					WithSuggestion("Run 'urlbar errors' to list the known codes")
			}
			fmt.Fprint(out, errors.New(code).Format())
			return nil
		},
	}
	return cmd
}
