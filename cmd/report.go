package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/vm-pricedb/internal/database"
	"github.com/JakeFAU/vm-pricedb/internal/report"
)

func newReportCmd() *cobra.Command {
	var (
		file   string
		skus   []string
		region string
		budget float64
	)
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Shows how many hours a budget buys for selected VMs",
		Example: `  pricedb report --file vms.json --region centralindia \
    --sku Standard_E4as_v5 --sku Standard_E8as_v5 --budget 100`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if budget <= 0 {
				return fmt.Errorf("--budget must be positive")
			}
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("read database: %w", err)
			}
			db, err := database.Decode(data)
			if err != nil {
				return err
			}
			rows := report.Rows(db, report.Query{SKUs: skus, Region: region, Budget: budget})
			if len(rows) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no matching records")
				return nil
			}
			report.Render(cmd.OutOrStdout(), rows, budget)
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "vms.json", "database file written by build")
	cmd.Flags().StringSliceVar(&skus, "sku", nil, "SKU to include; repeat to list several (default: all)")
	cmd.Flags().StringVar(&region, "region", "", "only show this region")
	cmd.Flags().Float64Var(&budget, "budget", report.DefaultBudget, "dollar budget to convert into hours")
	return cmd
}
