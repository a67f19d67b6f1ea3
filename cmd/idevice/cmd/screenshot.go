package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/idevice-protocol/idevice-go/pkg/device"
	"github.com/idevice-protocol/idevice-go/pkg/screenshot"
)

var screenshotOut string

var screenshotCmd = &cobra.Command{
	Use:   "screenshot",
	Short: "Capture the device screen",
	Long: `Capture the device screen and write the image to a file. Capturing
requires a mounted developer disk image.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDevice(func(d *device.Device) error {
			opts, err := serviceOptions()
			if err != nil {
				return err
			}
			client, err := screenshot.New(d, clientLabel, opts...)
			if err != nil {
				return err
			}
			defer client.Close()

			data, err := client.Take()
			if err != nil {
				return err
			}
			if err := os.WriteFile(screenshotOut, data, 0o644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d bytes)\n", screenshotOut, len(data))
			return nil
		})
	},
}

func init() {
	screenshotCmd.Flags().StringVarP(&screenshotOut, "output", "o", "screenshot.png", "output file")
	rootCmd.AddCommand(screenshotCmd)
}
