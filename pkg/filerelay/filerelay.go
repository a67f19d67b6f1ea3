// Package filerelay requests diagnostic archives from the file relay
// service. The device acknowledges the source list, then streams a
// gzip-compressed cpio archive and closes the connection.
package filerelay

import (
	"errors"
	"fmt"
	"io"

	"github.com/idevice-protocol/idevice-go/pkg/device"
	"github.com/idevice-protocol/idevice-go/pkg/plist"
	"github.com/idevice-protocol/idevice-go/pkg/service"
)

// ServiceName is the file relay service.
const ServiceName = "com.apple.mobile.file_relay"

// File relay errors.
var (
	// ErrInvalidSource indicates the device rejected a source name.
	ErrInvalidSource = errors.New("filerelay: invalid source")

	// ErrPermissionDenied indicates the device refused the request
	// entirely, which newer OS releases do unless specially provisioned.
	ErrPermissionDenied = errors.New("filerelay: permission denied")
)

// Well-known diagnostic sources.
const (
	SourceAppleSupport   = "AppleSupport"
	SourceNetwork        = "Network"
	SourceCrashReporter  = "CrashReporter"
	SourceMobileBackup   = "MobileBackup"
	SourceSystemLog      = "SystemConfiguration"
	SourceUserDatabases  = "UserDatabases"
	SourceAppleTV        = "AppleTV"
	SourceVPN            = "VPN"
	SourceWiFi           = "WiFi"
	SourceCaches         = "Caches"
)

// Client is a file relay client. One request per connection.
type Client struct {
	svc       *service.Client
	requested bool
}

// New starts the file relay service and connects to it.
func New(d *device.Device, label string, opts ...service.Option) (*Client, error) {
	svc, err := service.Start(d, label, ServiceName, false, opts...)
	if err != nil {
		return nil, err
	}
	return &Client{svc: svc}, nil
}

// RequestSources asks for the given diagnostic sources. On
// acknowledgement it returns a reader over the raw archive stream; the
// stream ends when the device closes the connection.
func (c *Client) RequestSources(sources []string) (io.Reader, error) {
	if c.requested {
		return nil, fmt.Errorf("filerelay: connection already consumed")
	}

	list := plist.NewArray()
	for _, s := range sources {
		list.Append(plist.NewString(s))
	}
	req := plist.NewDict()
	req.Set("Sources", list)
	if err := c.svc.SendPlist(req); err != nil {
		return nil, err
	}

	resp, err := c.svc.ReceivePlist()
	if err != nil {
		return nil, err
	}
	if name, ok := resp.GetString("Error"); ok {
		switch name {
		case "InvalidSource":
			return nil, ErrInvalidSource
		case "PermissionDenied":
			return nil, ErrPermissionDenied
		default:
			return nil, fmt.Errorf("filerelay: %s", name)
		}
	}
	if status, _ := resp.GetString("Status"); status != "Acknowledged" {
		return nil, fmt.Errorf("filerelay: unexpected status %q", status)
	}

	c.requested = true
	conn, err := c.svc.Conn()
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Close shuts the connection down, ending the stream.
func (c *Client) Close() error {
	return c.svc.Close()
}
