package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yairfalse/sift/internal/output"
	"github.com/yairfalse/sift/pkg/version"
)

func newVersionCommand() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show sift version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := output.ParseFormat(format)
			if err != nil {
				return err
			}
			info := version.Get()
			out := cmd.OutOrStdout()
			switch f {
			case output.FormatJSON:
				return output.NewJSONFormatter(out, true).Print(info)
			case output.FormatYAML:
				return output.NewYAMLFormatter(out).Print(info)
			default:
				_, err := fmt.Fprintln(out, info.String())
				return err
			}
		},
	}

	cmd.Flags().StringVarP(&format, "output", "o", "human", "output format (human, json, yaml)")
	return cmd
}
