package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/idevice-protocol/idevice-go/pkg/device"
	"github.com/idevice-protocol/idevice-go/pkg/syslog"
)

var syslogCmd = &cobra.Command{
	Use:   "syslog",
	Short: "Stream the device system log",
	Long:  `Stream system log lines to stdout until interrupted with Ctrl-C.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDevice(func(d *device.Device) error {
			opts, err := serviceOptions()
			if err != nil {
				return err
			}
			client, err := syslog.New(d, clientLabel, opts...)
			if err != nil {
				return err
			}
			defer client.Close()

			out := cmd.OutOrStdout()
			token, err := client.StartCapture(func(line []byte) {
				fmt.Fprintf(out, "%s\n", line)
			})
			if err != nil {
				return err
			}
			defer token.Dispose()

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(stop)
			<-stop
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(syslogCmd)
}
