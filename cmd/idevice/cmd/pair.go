package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/idevice-protocol/idevice-go/pkg/device"
	"github.com/idevice-protocol/idevice-go/pkg/lockdown"
)

var pairPIN string

var pairCmd = &cobra.Command{
	Use:   "pair",
	Short: "Pair with a device",
	Long: `Pair with the target device and store the pair record.

Without --pin the classic pairing flow runs, which requires the user to
confirm a trust dialog on the device. With --pin the PIN-based flow runs
instead: the device displays a PIN, which is passed here.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDevice(func(d *device.Device) error {
			ldOpts, err := lockdownOptions()
			if err != nil {
				return err
			}
			if pairPIN != "" {
				// PIN pairing runs outside a session; make sure the record
				// still lands in a store.
				if cfg.RecordDir == "" {
					store, err := lockdown.DefaultRecordStore()
					if err != nil {
						return err
					}
					ldOpts = append(ldOpts, lockdown.WithStore(store))
				}
				ldOpts = append(ldOpts, lockdown.WithoutSession())
			}
			client, err := lockdown.NewClient(d, clientLabel, ldOpts...)
			if err != nil {
				return err
			}
			defer client.Close()

			if pairPIN != "" {
				if err := client.PairCU(pairPIN); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "paired %s\n", client.UDID())
			return nil
		})
	},
}

var unpairCmd = &cobra.Command{
	Use:   "unpair",
	Short: "Remove the pairing with a device",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDevice(func(d *device.Device) error {
			ldOpts, err := lockdownOptions()
			if err != nil {
				return err
			}
			client, err := lockdown.NewClient(d, clientLabel, ldOpts...)
			if err != nil {
				return err
			}
			defer client.Close()

			if err := client.Unpair(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "unpaired %s\n", client.UDID())
			return nil
		})
	},
}

func init() {
	pairCmd.Flags().StringVar(&pairPIN, "pin", "", "PIN shown on the device for PIN-based pairing")
	rootCmd.AddCommand(pairCmd)
	rootCmd.AddCommand(unpairCmd)
}
