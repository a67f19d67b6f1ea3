// Package housearrest reaches into an installed application's sandbox.
// After vending a container the connection stops speaking plists and
// becomes a regular AFC channel rooted at the app's container.
package housearrest

import (
	"fmt"

	"github.com/idevice-protocol/idevice-go/pkg/afc"
	"github.com/idevice-protocol/idevice-go/pkg/device"
	"github.com/idevice-protocol/idevice-go/pkg/plist"
	"github.com/idevice-protocol/idevice-go/pkg/service"
)

// ServiceName is the house arrest service.
const ServiceName = "com.apple.mobile.house_arrest"

// VendError is a failure reported for a vend request, e.g.
// ApplicationLookupFailed or InstallationLookupFailed.
type VendError struct {
	Name string
}

// Error implements the error interface.
func (e *VendError) Error() string {
	return fmt.Sprintf("housearrest: %s", e.Name)
}

// Client is a house arrest client. Vend once, then switch to AFC.
type Client struct {
	svc    *service.Client
	vended bool
}

// New starts the house arrest service and connects to it.
func New(d *device.Device, label string, opts ...service.Option) (*Client, error) {
	svc, err := service.Start(d, label, ServiceName, false, opts...)
	if err != nil {
		return nil, err
	}
	return &Client{svc: svc}, nil
}

// VendContainer exposes the app's whole sandbox container.
func (c *Client) VendContainer(bundleID string) error {
	return c.vend("VendContainer", bundleID)
}

// VendDocuments exposes only the app's Documents directory.
func (c *Client) VendDocuments(bundleID string) error {
	return c.vend("VendDocuments", bundleID)
}

func (c *Client) vend(command, bundleID string) error {
	req := plist.NewDict()
	req.Set("Command", plist.NewString(command))
	req.Set("Identifier", plist.NewString(bundleID))
	if err := c.svc.SendPlist(req); err != nil {
		return err
	}

	resp, err := c.svc.ReceivePlist()
	if err != nil {
		return err
	}
	if name, ok := resp.GetString("Error"); ok {
		return &VendError{Name: name}
	}
	if status, _ := resp.GetString("Status"); status != "Complete" {
		return fmt.Errorf("housearrest: unexpected vend status %q", status)
	}
	c.vended = true
	return nil
}

// AFC adopts the vended connection as an AFC client rooted at the
// container. Closing the returned client closes the connection; this
// client must not be used afterwards.
func (c *Client) AFC() (*afc.Client, error) {
	if !c.vended {
		return nil, fmt.Errorf("housearrest: no container vended")
	}
	return afc.FromService(c.svc)
}

// Close shuts the connection down. Not needed after handing the
// connection to AFC.
func (c *Client) Close() error {
	return c.svc.Close()
}
