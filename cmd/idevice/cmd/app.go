package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/idevice-protocol/idevice-go/pkg/device"
	"github.com/idevice-protocol/idevice-go/pkg/instproxy"
	"github.com/idevice-protocol/idevice-go/pkg/plist"
)

var appCmd = &cobra.Command{
	Use:   "app",
	Short: "Manage installed applications",
}

var appType string

// withInstproxy wraps withDevice and hands the callback a connected
// installation proxy client.
func withInstproxy(fn func(apps *instproxy.Client) error) error {
	return withDevice(func(d *device.Device) error {
		opts, err := serviceOptions()
		if err != nil {
			return err
		}
		apps, err := instproxy.New(d, clientLabel, opts...)
		if err != nil {
			return err
		}
		defer apps.Close()
		return fn(apps)
	})
}

var appListCmd = &cobra.Command{
	Use:   "list",
	Short: "List installed applications",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withInstproxy(func(apps *instproxy.Client) error {
			opts := &instproxy.Options{
				ApplicationType:  appType,
				ReturnAttributes: []string{"CFBundleIdentifier", "CFBundleShortVersionString", "CFBundleDisplayName"},
			}
			list, err := apps.Browse(opts)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 2, 4, 2, ' ', 0)
			fmt.Fprintln(w, "BUNDLE ID\tVERSION\tNAME")
			for i := 0; i < list.Len(); i++ {
				app := list.At(i)
				id, _ := app.GetString("CFBundleIdentifier")
				version, _ := app.GetString("CFBundleShortVersionString")
				name, _ := app.GetString("CFBundleDisplayName")
				fmt.Fprintf(w, "%s\t%s\t%s\n", id, version, name)
			}
			return w.Flush()
		})
	},
}

// runAppCommand drives one asynchronous app operation to completion,
// printing progress along the way.
func runAppCommand(cmd *cobra.Command, start func(apps *instproxy.Client, cb instproxy.Callback) (*instproxy.Token, error)) error {
	return withInstproxy(func(apps *instproxy.Client) error {
		out := cmd.OutOrStdout()
		token, err := start(apps, func(command string, status *plist.Value) {
			percent := instproxy.PercentComplete(status)
			phase, _ := status.GetString("Status")
			if phase != "" {
				fmt.Fprintf(out, "%3d%% %s\n", percent, phase)
			}
		})
		if err != nil {
			return err
		}
		defer token.Dispose()

		<-token.Done()
		return token.Err()
	})
}

var appInstallCmd = &cobra.Command{
	Use:   "install <remote-package-path>",
	Short: "Install an application package already on the device",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAppCommand(cmd, func(apps *instproxy.Client, cb instproxy.Callback) (*instproxy.Token, error) {
			return apps.Install(args[0], nil, cb)
		})
	},
}

var appUpgradeCmd = &cobra.Command{
	Use:   "upgrade <remote-package-path>",
	Short: "Upgrade an application from a package already on the device",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAppCommand(cmd, func(apps *instproxy.Client, cb instproxy.Callback) (*instproxy.Token, error) {
			return apps.Upgrade(args[0], nil, cb)
		})
	},
}

var appUninstallCmd = &cobra.Command{
	Use:   "uninstall <bundle-id>",
	Short: "Uninstall an application",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAppCommand(cmd, func(apps *instproxy.Client, cb instproxy.Callback) (*instproxy.Token, error) {
			return apps.Uninstall(args[0], nil, cb)
		})
	},
}

var appArchiveCmd = &cobra.Command{
	Use:   "archive <bundle-id>",
	Short: "Archive an application",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAppCommand(cmd, func(apps *instproxy.Client, cb instproxy.Callback) (*instproxy.Token, error) {
			return apps.Archive(args[0], nil, cb)
		})
	},
}

func init() {
	appListCmd.Flags().StringVar(&appType, "type", "", "filter by application type (User, System, Internal)")
	appCmd.AddCommand(appListCmd, appInstallCmd, appUpgradeCmd, appUninstallCmd, appArchiveCmd)
	rootCmd.AddCommand(appCmd)
}
