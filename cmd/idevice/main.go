// Command idevice talks to paired mobile devices over the local
// network.
//
// Devices are discovered via DNS-SD (WiFi sync advertisement). Each
// subcommand is a thin wrapper over one on-device service.
//
// Usage:
//
//	idevice <command> [flags]
//
// Commands:
//
//	list        List devices reachable on the local network
//	info        Read device properties
//	pair        Pair with a device (classic or PIN-based)
//	unpair      Remove the pairing with a device
//	syslog      Stream the device system log
//	screenshot  Capture the device screen
//	fs          Access the device media filesystem (ls, pull, push, rm, mkdir)
//	app         Manage installed applications (list, install, upgrade, uninstall, archive)
//	shell       Interactive file shell on the device
//
// Examples:
//
//	# List devices
//	idevice list
//
//	# Read the device name
//	idevice -u ABC123 info DeviceName
//
//	# Read battery properties
//	idevice info --domain com.apple.mobile.battery
//
//	# Stream syslog until Ctrl-C
//	idevice syslog
//
//	# Download a photo
//	idevice fs pull /DCIM/100APPLE/IMG_0001.JPG .
//
// Configuration is read from ~/.config/idevice/config.yaml: default
// UDID, pair record directory, protocol log file, discovery interface.
package main

import "github.com/idevice-protocol/idevice-go/cmd/idevice/cmd"

func main() {
	cmd.Execute()
}
