package cmd

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/idevice-protocol/idevice-go/pkg/device"
	"github.com/idevice-protocol/idevice-go/pkg/discovery"
	"github.com/idevice-protocol/idevice-go/pkg/lockdown"
	"github.com/idevice-protocol/idevice-go/pkg/log"
	"github.com/idevice-protocol/idevice-go/pkg/service"
	"github.com/idevice-protocol/idevice-go/pkg/transport"
)

const clientLabel = "idevice"

var (
	// Global flags.
	cfgFile     string
	udidFlag    string
	timeoutFlag time.Duration

	// Shared state set during PersistentPreRun.
	cfg        *Config
	fileLogger *log.FileLogger
)

// rootCmd is the base command for idevice.
var rootCmd = &cobra.Command{
	Use:   "idevice",
	Short: "Talk to paired mobile devices over the local network",
	Long: `idevice discovers devices advertising WiFi sync on the local network
and talks to their on-device services: device properties, file transfer,
app management, syslog capture, and screenshots.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		path := cfgFile
		if path == "" {
			path = DefaultConfigPath()
		}
		var err error
		cfg, err = LoadConfig(path)
		if err != nil {
			return err
		}
		if cfg.ProtocolLog != "" {
			fileLogger, err = log.NewFileLogger(cfg.ProtocolLog)
			if err != nil {
				return fmt.Errorf("open protocol log: %w", err)
			}
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if fileLogger != nil {
			fileLogger.Close()
		}
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ~/.config/idevice/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&udidFlag, "udid", "u", "", "target device UDID (default from config, or the only device)")
	rootCmd.PersistentFlags().DurationVar(&timeoutFlag, "timeout", discovery.BrowseTimeout, "discovery timeout")
}

// protocolLogger returns the configured logger, or a discard logger.
func protocolLogger() log.Logger {
	if fileLogger != nil {
		return fileLogger
	}
	return log.NoopLogger{}
}

// newBrowser builds a discovery browser from config.
func newBrowser() *discovery.Browser {
	return discovery.NewBrowser(discovery.BrowserConfig{Interface: cfg.Interface})
}

// serviceOptions assembles the options every service client gets.
func serviceOptions() ([]service.Option, error) {
	ldOpts, err := lockdownOptions()
	if err != nil {
		return nil, err
	}
	return []service.Option{
		service.WithLogger(protocolLogger()),
		service.WithLockdownOptions(ldOpts...),
	}, nil
}

func lockdownOptions() ([]lockdown.Option, error) {
	opts := []lockdown.Option{lockdown.WithLogger(protocolLogger())}
	if cfg.RecordDir != "" {
		store, err := lockdown.NewRecordStore(cfg.RecordDir)
		if err != nil {
			return nil, err
		}
		opts = append(opts, lockdown.WithStore(store))
	}
	return opts, nil
}

// withDevice resolves the target device over the network and runs fn
// against it. The muxer and device handle are torn down afterwards.
func withDevice(fn func(d *device.Device) error) error {
	muxer, err := discovery.NewNetworkMuxer(newBrowser())
	if err != nil {
		return err
	}
	defer muxer.Close()

	udid, err := waitForDevice(muxer, targetUDID(), timeoutFlag)
	if err != nil {
		return err
	}

	d, err := device.New(muxer, udid, device.ScopeNetwork)
	if err != nil {
		return err
	}
	defer d.Release()

	return fn(d)
}

// targetUDID returns the requested UDID: flag first, then config.
// Empty means "the first device that shows up".
func targetUDID() string {
	if udidFlag != "" {
		return udidFlag
	}
	return cfg.UDID
}

// waitForDevice blocks until a device appears on the muxer. With a
// non-empty udid it waits for that device specifically.
func waitForDevice(muxer transport.Muxer, udid string, timeout time.Duration) (string, error) {
	found := make(chan string, 1)
	var once sync.Once

	cancel, err := muxer.Subscribe(func(e transport.Event) {
		if e.Type != transport.EventAttached {
			return
		}
		if udid != "" && e.Entry.UDID != udid {
			return
		}
		once.Do(func() { found <- e.Entry.UDID })
	})
	if err != nil {
		return "", err
	}
	defer cancel()

	select {
	case got := <-found:
		return got, nil
	case <-time.After(timeout):
		if udid != "" {
			return "", fmt.Errorf("device %s not found on the network", udid)
		}
		return "", errors.New("no devices found on the network")
	}
}
