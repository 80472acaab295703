package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/charlie-wiebe/market-sizing-tool/internal/segment"
)

var planOutput string

var planCmd = &cobra.Command{
	Use:   "plan <query-file>",
	Short: "Build the execution plan for a company search",
	Long:  "Counts the company search and splits it by country and headcount until every segment fits under the per-query result ceiling. Costs one credit per count query.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("plan"); err != nil {
			return err
		}
		q, err := loadQuery(args[0])
		if err != nil {
			return err
		}

		plan, err := segment.NewPlanner(initGateway()).CreateExecutionPlan(cmd.Context(), q.CompanyFilters)
		var perr *segment.PlanError
		if err != nil && !errors.As(err, &perr) {
			return eris.Wrap(err, "plan")
		}
		if werr := writeOutput(os.Stdout, plan, planOutput); werr != nil {
			return werr
		}
		return err
	},
}

// writeOutput renders v as yaml or json.
func writeOutput(w io.Writer, v any, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return eris.Wrap(enc.Encode(v), "encode json")
	case "yaml":
		// Round-trip through JSON so custom JSON marshalers shape the YAML.
		data, err := json.Marshal(v)
		if err != nil {
			return eris.Wrap(err, "encode")
		}
		var generic any
		if err := json.Unmarshal(data, &generic); err != nil {
			return eris.Wrap(err, "decode")
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(generic); err != nil {
			return eris.Wrap(err, "encode yaml")
		}
		return eris.Wrap(enc.Close(), "encode yaml")
	default:
		return fmt.Errorf("unknown output format %q (want yaml or json)", format)
	}
}

func init() {
	planCmd.Flags().StringVarP(&planOutput, "output", "o", "yaml", "output format: yaml or json")
	rootCmd.AddCommand(planCmd)
}
