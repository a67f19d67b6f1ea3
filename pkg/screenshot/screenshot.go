// Package screenshot grabs framebuffer snapshots through the
// screenshotr service. The service speaks the DeviceLink protocol: a
// version exchange on connect, then process-message envelopes wrapping
// request/reply dictionaries.
package screenshot

import (
	"errors"
	"fmt"

	"github.com/idevice-protocol/idevice-go/pkg/device"
	"github.com/idevice-protocol/idevice-go/pkg/plist"
	"github.com/idevice-protocol/idevice-go/pkg/service"
)

// ServiceName is the screenshot service. It requires a mounted
// developer disk image on older device OS releases.
const ServiceName = "com.apple.mobile.screenshotr"

// DeviceLink message names.
const (
	dlVersionExchange = "DLMessageVersionExchange"
	dlVersionsOk      = "DLVersionsOk"
	dlDeviceReady     = "DLMessageDeviceReady"
	dlProcessMessage  = "DLMessageProcessMessage"
)

// ErrBadHandshake indicates the DeviceLink version exchange failed.
var ErrBadHandshake = errors.New("screenshot: devicelink handshake failed")

// Client is a screenshotr client with a completed DeviceLink handshake.
type Client struct {
	svc *service.Client
}

// New starts the screenshot service and performs the version exchange.
func New(d *device.Device, label string, opts ...service.Option) (*Client, error) {
	svc, err := service.Start(d, label, ServiceName, false, opts...)
	if err != nil {
		return nil, err
	}
	c := &Client{svc: svc}
	if err := c.handshake(); err != nil {
		svc.Close()
		return nil, err
	}
	return c, nil
}

func (c *Client) handshake() error {
	greeting, err := c.svc.ReceivePlist()
	if err != nil {
		return err
	}
	name, _ := greeting.At(0).AsString()
	if name != dlVersionExchange {
		return fmt.Errorf("%w: got %q", ErrBadHandshake, name)
	}
	major, _ := greeting.At(1).AsUint()

	reply := plist.NewArray()
	reply.Append(plist.NewString(dlVersionExchange))
	reply.Append(plist.NewString(dlVersionsOk))
	reply.Append(plist.NewUint(major))
	if err := c.svc.SendBinaryPlist(reply); err != nil {
		return err
	}

	ready, err := c.svc.ReceivePlist()
	if err != nil {
		return err
	}
	if name, _ := ready.At(0).AsString(); name != dlDeviceReady {
		return fmt.Errorf("%w: got %q instead of device ready", ErrBadHandshake, name)
	}
	return nil
}

// Take captures the screen and returns the image bytes (PNG or TIFF,
// depending on the device OS).
func (c *Client) Take() ([]byte, error) {
	request := plist.NewDict()
	request.Set("MessageType", plist.NewString("ScreenShotRequest"))

	envelope := plist.NewArray()
	envelope.Append(plist.NewString(dlProcessMessage))
	envelope.Append(request)
	if err := c.svc.SendBinaryPlist(envelope); err != nil {
		return nil, err
	}

	resp, err := c.svc.ReceivePlist()
	if err != nil {
		return nil, err
	}
	if name, _ := resp.At(0).AsString(); name != dlProcessMessage {
		return nil, fmt.Errorf("screenshot: unexpected reply %q", name)
	}
	body := resp.At(1)
	if msgType, _ := body.GetString("MessageType"); msgType != "ScreenShotReply" {
		return nil, fmt.Errorf("screenshot: unexpected message type %q", msgType)
	}
	data, ok := body.Get("ScreenShotData").AsData()
	if !ok {
		return nil, errors.New("screenshot: reply carries no image data")
	}
	return data, nil
}

// Close shuts the service connection down.
func (c *Client) Close() error {
	return c.svc.Close()
}
