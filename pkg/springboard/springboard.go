// Package springboard talks to the springboard services daemon for
// home-screen state: app icons, icon layout and wallpaper.
package springboard

import (
	"errors"
	"fmt"

	"github.com/idevice-protocol/idevice-go/pkg/device"
	"github.com/idevice-protocol/idevice-go/pkg/plist"
	"github.com/idevice-protocol/idevice-go/pkg/service"
)

// ServiceName is the springboard services daemon.
const ServiceName = "com.apple.springboardservices"

// iconStateFormatVersion selects the nested-folder icon state layout.
const iconStateFormatVersion = "2"

// ErrNoData indicates the device answered without the requested data.
var ErrNoData = errors.New("springboard: no data in reply")

// Client is a springboard services client.
type Client struct {
	svc *service.Client
}

// New starts the springboard service and connects to it.
func New(d *device.Device, label string, opts ...service.Option) (*Client, error) {
	svc, err := service.Start(d, label, ServiceName, false, opts...)
	if err != nil {
		return nil, err
	}
	return &Client{svc: svc}, nil
}

// Close shuts the service connection down.
func (c *Client) Close() error {
	return c.svc.Close()
}

func (c *Client) roundTrip(req *plist.Value) (*plist.Value, error) {
	if err := c.svc.SendBinaryPlist(req); err != nil {
		return nil, err
	}
	return c.svc.ReceivePlist()
}

// IconPNGData returns the PNG icon of an installed application.
func (c *Client) IconPNGData(bundleID string) ([]byte, error) {
	req := plist.NewDict()
	req.Set("command", plist.NewString("getIconPNGData"))
	req.Set("bundleId", plist.NewString(bundleID))

	resp, err := c.roundTrip(req)
	if err != nil {
		return nil, err
	}
	data, ok := resp.Get("pngData").AsData()
	if !ok {
		return nil, fmt.Errorf("%w: icon for %s", ErrNoData, bundleID)
	}
	return data, nil
}

// WallpaperPNGData returns the current home screen wallpaper as PNG.
func (c *Client) WallpaperPNGData() ([]byte, error) {
	req := plist.NewDict()
	req.Set("command", plist.NewString("getHomeScreenWallpaperPNGData"))

	resp, err := c.roundTrip(req)
	if err != nil {
		return nil, err
	}
	data, ok := resp.Get("pngData").AsData()
	if !ok {
		return nil, fmt.Errorf("%w: wallpaper", ErrNoData)
	}
	return data, nil
}

// IconState returns the home screen layout: an array of pages, each an
// array of icon dictionaries (folders nest one level deeper).
func (c *Client) IconState() (*plist.Value, error) {
	req := plist.NewDict()
	req.Set("command", plist.NewString("getIconState"))
	req.Set("formatVersion", plist.NewString(iconStateFormatVersion))

	return c.roundTrip(req)
}

// SetIconState replaces the home screen layout. The daemon sends no
// acknowledgement; a later IconState read confirms the change.
func (c *Client) SetIconState(state *plist.Value) error {
	req := plist.NewDict()
	req.Set("command", plist.NewString("setIconState"))
	req.Set("iconState", state.Copy())

	return c.svc.SendBinaryPlist(req)
}
