package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kilianp07/transactive/app"
	"github.com/kilianp07/transactive/config"
	"github.com/kilianp07/transactive/core/market"
	"github.com/kilianp07/transactive/pkg/export"
)

func newClearCmd() *cobra.Command {
	var (
		output string
		at     string
	)
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Run one local balancing pass per market and print the cleared intervals",
		Long: "Clear loads the configuration, balances every market once without " +
			"contacting neighbors or devices and prints the result.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			now := time.Now()
			if at != "" {
				t, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return fmt.Errorf("invalid --at: %w", err)
				}
				now = t
			}
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			svc, err := app.New(cfg, app.Offline())
			if err != nil {
				return err
			}
			defer svc.Close()
			results, err := svc.Clear(cmd.Context(), now)
			if err != nil {
				return err
			}
			return printResults(cmd.OutOrStdout(), output, results)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "table", "output format: table, json, yaml or csv")
	cmd.Flags().StringVar(&at, "at", "", "clearing time in RFC 3339, defaults to now")
	return cmd
}

func printResults(w io.Writer, format string, results []market.Result) error {
	rows := export.Rows(results)
	switch format {
	case "json":
		return export.WriteJSON(w, rows)
	case "yaml":
		return export.WriteYAML(w, rows)
	case "csv":
		return export.WriteCSV(w, rows)
	case "table":
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "MARKET\tINTERVAL\tPRICE\tNET\tGENERATION\tDEMAND\tCONVERGED\tSTATE")
		for _, r := range rows {
			fmt.Fprintf(tw, "%s\t%s\t%.5f\t%.3f\t%.3f\t%.3f\t%t\t%s\n",
				r.Market, r.Interval, r.MarginalPrice, r.NetPower, r.Generation, r.Demand, r.Converged, r.State)
		}
		for _, res := range results {
			if res.Forced {
				fmt.Fprintf(tw, "# %s: %v\n", res.Market, res.Err())
			}
		}
		return tw.Flush()
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}
