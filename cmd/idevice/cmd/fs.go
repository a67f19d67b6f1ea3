package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/idevice-protocol/idevice-go/pkg/afc"
	"github.com/idevice-protocol/idevice-go/pkg/device"
)

var fsCmd = &cobra.Command{
	Use:   "fs",
	Short: "Access the device media filesystem",
}

// withAFC wraps withDevice and hands the callback a connected file
// service client.
func withAFC(fn func(files *afc.Client) error) error {
	return withDevice(func(d *device.Device) error {
		opts, err := serviceOptions()
		if err != nil {
			return err
		}
		files, err := afc.New(d, clientLabel, opts...)
		if err != nil {
			return err
		}
		defer files.Close()
		return fn(files)
	})
}

var fsLsCmd = &cobra.Command{
	Use:   "ls <remote-path>",
	Short: "List a directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withAFC(func(files *afc.Client) error {
			names, err := files.ReadDir(args[0])
			if err != nil {
				return err
			}
			for _, name := range names {
				if name == "." || name == ".." {
					continue
				}
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		})
	},
}

var fsPullCmd = &cobra.Command{
	Use:   "pull <remote-path> <local-path>",
	Short: "Copy a file from the device",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withAFC(func(files *afc.Client) error {
			return files.PullFile(args[0], args[1])
		})
	},
}

var fsPushCmd = &cobra.Command{
	Use:   "push <local-path> <remote-path>",
	Short: "Copy a file to the device",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withAFC(func(files *afc.Client) error {
			return files.PushFile(args[0], args[1])
		})
	},
}

var fsRmRecursive bool

var fsRmCmd = &cobra.Command{
	Use:   "rm <remote-path>",
	Short: "Remove a file or directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withAFC(func(files *afc.Client) error {
			if fsRmRecursive {
				return files.RemoveAll(args[0])
			}
			return files.Remove(args[0])
		})
	},
}

var fsMkdirCmd = &cobra.Command{
	Use:   "mkdir <remote-path>",
	Short: "Create a directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withAFC(func(files *afc.Client) error {
			return files.MakeDir(args[0])
		})
	},
}

func init() {
	fsRmCmd.Flags().BoolVarP(&fsRmRecursive, "recursive", "r", false, "remove directories and their contents")
	fsCmd.AddCommand(fsLsCmd, fsPullCmd, fsPushCmd, fsRmCmd, fsMkdirCmd)
	rootCmd.AddCommand(fsCmd)
}
