package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var (
	previewOutput     string
	previewSampleSize int
)

var previewCmd = &cobra.Command{
	Use:   "preview <query-file>",
	Short: "Estimate a job's size and credit cost without creating it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		q, err := loadQuery(args[0])
		if err != nil {
			return err
		}

		env, err := initEnv(ctx, "preview")
		if err != nil {
			return err
		}
		defer env.Close()

		n := previewSampleSize
		if n <= 0 {
			n = cfg.Jobs.PreviewSampleSize
		}
		pv, err := env.Runner.Preview(ctx, q.CompanyFilters, q.PersonFilters, n)
		if err != nil {
			return eris.Wrap(err, "preview")
		}
		if err := writeOutput(os.Stdout, pv, previewOutput); err != nil {
			return err
		}
		if pv.Error {
			return eris.Errorf("preview rejected: %s: %s", pv.ErrorCode, pv.Message)
		}
		return nil
	},
}

func init() {
	previewCmd.Flags().StringVarP(&previewOutput, "output", "o", "yaml", "output format: yaml or json")
	previewCmd.Flags().IntVar(&previewSampleSize, "sample-size", 0, "sample companies to show (default from config)")
	rootCmd.AddCommand(previewCmd)
}
