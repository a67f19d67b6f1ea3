package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/idevice-protocol/idevice-go/pkg/device"
	"github.com/idevice-protocol/idevice-go/pkg/lockdown"
	"github.com/idevice-protocol/idevice-go/pkg/plist"
)

var infoDomain string

var infoCmd = &cobra.Command{
	Use:   "info [key]",
	Short: "Read device properties",
	Long: `Read one property, or all properties of a domain, from the device.
Without a key the whole global domain (or the domain given with
--domain) is printed as an XML property list.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := ""
		if len(args) == 1 {
			key = args[0]
		}
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

			value, err := client.GetValue(infoDomain, key)
			if err != nil {
				return err
			}

			if s, ok := value.AsString(); ok {
				fmt.Fprintln(cmd.OutOrStdout(), s)
				return nil
			}
			data, err := plist.Encode(value, plist.FormatXML)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		})
	},
}

func init() {
	infoCmd.Flags().StringVar(&infoDomain, "domain", "", "value domain (e.g. com.apple.mobile.battery)")
	rootCmd.AddCommand(infoCmd)
}
