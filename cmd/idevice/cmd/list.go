package cmd

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List devices reachable on the local network",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), timeoutFlag)
		defer cancel()

		added, _, err := newBrowser().Browse(ctx)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 2, 4, 2, ' ', 0)
		fmt.Fprintln(w, "UDID\tMAC\tPORT\tADDRESSES")
		count := 0
		for svc := range added {
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\n",
				svc.UDID, svc.MACAddress, svc.Port, strings.Join(svc.Addresses, ","))
			count++
		}
		if err := w.Flush(); err != nil {
			return err
		}
		if count == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "no devices found")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}
