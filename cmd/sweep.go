package cmd

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Remove stale scratch files once and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		report, err := svcs.OrphanSvc.SweepNow()
		if err != nil {
			return err
		}

		color.New(color.FgCyan).Fprintf(os.Stdout, "🧹 removed %d stale file(s) from %s\n", report.Removed, svcs.StorageSvc.GetFolder())
		if report.Removed == 0 {
			fmt.Fprintln(os.Stdout, "nothing to do")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}
