package cmd

import (
	"github.com/spf13/cobra"
)

func newGetCmd(a *app) *cobra.Command {
	var (
		output string
		sha256 string
	)

	cmd := &cobra.Command{
		Use:   "get URL",
		Short: "Download a single file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			outcome, err := a.engine(false, false).DownloadURL(cmd.Context(), args[0], output, sha256)
			if err != nil {
				return err
			}

			return a.finish(outcome)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file path (inferred from the server response if not provided)")
	cmd.Flags().StringVar(&sha256, "sha256", "", "Expected SHA-256 of the file in hex")

	return cmd
}
