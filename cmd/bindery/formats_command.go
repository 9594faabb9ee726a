package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"bindery/internal/conversion"
	"bindery/internal/services/ffmpeg"
)

func newFormatsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "formats",
		Short: "List supported source formats",
		Args:  cobra.NoArgs,
		Annotations: map[string]string{
			"skipConfigLoad": "true",
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			rows := make([][]string, 0, len(conversion.SupportedExtensions()))
			for _, ext := range conversion.SupportedExtensions() {
				mode := "re-encode"
				if ffmpeg.RemuxExtension(ext) {
					mode = "remux"
				}
				rows = append(rows, []string{ext, mode, yesNo(conversion.CoverExtension(ext))})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Extension", "Conversion", "Cover Art"},
				rows,
			))
			return nil
		},
	}
	return cmd
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
