package instproxy

import (
	"errors"
	"fmt"
	"sync"

	"github.com/idevice-protocol/idevice-go/pkg/device"
	"github.com/idevice-protocol/idevice-go/pkg/plist"
	"github.com/idevice-protocol/idevice-go/pkg/service"
)

// ServiceName is the installation proxy service.
const ServiceName = "com.apple.mobile.installation_proxy"

// Instproxy errors.
var (
	// ErrClientClosed indicates use of a closed client.
	ErrClientClosed = errors.New("instproxy: client closed")

	// ErrCommandActive indicates an async command is still running on
	// the connection; the protocol cannot interleave commands.
	ErrCommandActive = errors.New("instproxy: another command is in progress")
)

// StatusError is a failure the device reported inside a status message.
type StatusError struct {
	// Name is the device's error identifier, e.g. "APIInternalError".
	Name string
	// Description is the human-readable detail, when present.
	Description string
	// Code is the numeric detail, when present.
	Code uint64
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("instproxy: %s: %s", e.Name, e.Description)
	}
	return fmt.Sprintf("instproxy: %s", e.Name)
}

// Options are the client options attached to commands. Zero values are
// omitted from the wire message.
type Options struct {
	// ApplicationType filters Browse/Lookup: "User", "System", "Any".
	ApplicationType string

	// ReturnAttributes limits which keys each app entry carries.
	ReturnAttributes []string

	// PackageType marks developer installs ("Developer").
	PackageType string

	// SkipUninstall skips the uninstall step on upgrade.
	SkipUninstall bool

	// ApplicationSINF is the SINF blob for App Store packages.
	ApplicationSINF []byte

	// ITunesMetadata is the metadata plist for App Store packages.
	ITunesMetadata []byte

	// BundleIDs filters Lookup to the given identifiers.
	BundleIDs []string

	// Capabilities is the capability list for CheckCapabilitiesMatch.
	Capabilities []string
}

// toPlist builds the ClientOptions dictionary, or nil when empty.
func (o *Options) toPlist() *plist.Value {
	if o == nil {
		return nil
	}
	d := plist.NewDict()
	if o.ApplicationType != "" {
		d.Set("ApplicationType", plist.NewString(o.ApplicationType))
	}
	if len(o.ReturnAttributes) > 0 {
		d.Set("ReturnAttributes", stringArray(o.ReturnAttributes))
	}
	if o.PackageType != "" {
		d.Set("PackageType", plist.NewString(o.PackageType))
	}
	if o.SkipUninstall {
		d.Set("SkipUninstall", plist.NewBool(true))
	}
	if len(o.ApplicationSINF) > 0 {
		d.Set("ApplicationSINF", plist.NewData(o.ApplicationSINF))
	}
	if len(o.ITunesMetadata) > 0 {
		d.Set("iTunesMetadata", plist.NewData(o.ITunesMetadata))
	}
	if len(o.BundleIDs) > 0 {
		d.Set("BundleIDs", stringArray(o.BundleIDs))
	}
	if len(o.Capabilities) > 0 {
		d.Set("Capabilities", stringArray(o.Capabilities))
	}
	if d.Len() == 0 {
		return nil
	}
	return d
}

func stringArray(items []string) *plist.Value {
	arr := plist.NewArray()
	for _, s := range items {
		arr.Append(plist.NewString(s))
	}
	return arr
}

// Client talks to the installation proxy. Commands are sent as binary
// plists; one command owns the connection until its terminal status.
type Client struct {
	mu     sync.Mutex
	svc    *service.Client
	busy   bool
	closed bool
}

// New starts the installation proxy on the device and connects to it.
func New(d *device.Device, label string, opts ...service.Option) (*Client, error) {
	svc, err := service.Start(d, label, ServiceName, false, opts...)
	if err != nil {
		return nil, err
	}
	return &Client{svc: svc}, nil
}

// Close shuts the connection down. Closing twice is a no-op. An async
// command still in flight ends with a receive error in its goroutine.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.svc.Close()
}

// acquire claims the connection for one command.
func (c *Client) acquire() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClientClosed
	}
	if c.busy {
		return ErrCommandActive
	}
	c.busy = true
	return nil
}

func (c *Client) release() {
	c.mu.Lock()
	c.busy = false
	c.mu.Unlock()
}

// command builds the base message.
func command(name string, opts *Options) *plist.Value {
	msg := plist.NewDict()
	msg.Set("Command", plist.NewString(name))
	if clientOptions := opts.toPlist(); clientOptions != nil {
		msg.Set("ClientOptions", clientOptions)
	}
	return msg
}

// statusOf reads the Status field; an Error field takes precedence and
// maps to a StatusError.
func statusOf(resp *plist.Value) (string, error) {
	if err := ExtractError(resp); err != nil {
		return "", err
	}
	status, _ := resp.GetString("Status")
	return status, nil
}

// Browse lists installed applications, accumulating all pages into one
// array of application dictionaries.
func (c *Client) Browse(opts *Options) (*plist.Value, error) {
	apps := plist.NewArray()
	err := c.BrowseWithCallback(opts, func(command string, status *plist.Value) {
		list := status.Get("CurrentList")
		for i := 0; i < list.Len(); i++ {
			apps.Append(list.At(i).Copy())
		}
	})
	if err != nil {
		return nil, err
	}
	return apps, nil
}

// BrowseWithCallback lists installed applications, invoking cb once per
// status page (including the terminal Complete page) in arrival order,
// with "Browse" as the command name. The callback is released when the
// terminal page has been delivered.
func (c *Client) BrowseWithCallback(opts *Options, cb Callback) error {
	if err := c.acquire(); err != nil {
		return err
	}
	defer c.release()

	if err := c.svc.SendBinaryPlist(command("Browse", opts)); err != nil {
		return err
	}
	for {
		resp, err := c.svc.ReceivePlist()
		if err != nil {
			return err
		}
		status, err := statusOf(resp)
		if err != nil {
			return err
		}
		if cb != nil {
			cb("Browse", resp)
		}
		if status == "Complete" {
			return nil
		}
	}
}

// Lookup returns the application dictionaries for the given bundle
// identifiers, keyed by identifier. Unknown identifiers are absent.
func (c *Client) Lookup(opts *Options) (map[string]*plist.Value, error) {
	if err := c.acquire(); err != nil {
		return nil, err
	}
	defer c.release()

	if err := c.svc.SendBinaryPlist(command("Lookup", opts)); err != nil {
		return nil, err
	}

	result := make(map[string]*plist.Value)
	for {
		resp, err := c.svc.ReceivePlist()
		if err != nil {
			return nil, err
		}
		status, err := statusOf(resp)
		if err != nil {
			return nil, err
		}
		if lookup := resp.Get("LookupResult"); lookup != nil {
			for _, id := range lookup.Keys() {
				result[id] = lookup.Get(id).Copy()
			}
		}
		if status == "Complete" {
			return result, nil
		}
	}
}

// CheckCapabilitiesMatch reports whether the device satisfies the
// required capabilities.
func (c *Client) CheckCapabilitiesMatch(opts *Options) (bool, error) {
	if err := c.acquire(); err != nil {
		return false, err
	}
	defer c.release()

	if err := c.svc.SendBinaryPlist(command("CheckCapabilitiesMatch", opts)); err != nil {
		return false, err
	}
	for {
		resp, err := c.svc.ReceivePlist()
		if err != nil {
			return false, err
		}
		status, err := statusOf(resp)
		if err != nil {
			return false, err
		}
		if match := resp.Get("LookupResult"); match != nil {
			ok, _ := match.AsBool()
			return ok, nil
		}
		if status == "Complete" {
			return false, nil
		}
	}
}

// AppPath returns the installed path of an application bundle.
func (c *Client) AppPath(bundleID string) (string, error) {
	result, err := c.Lookup(&Options{
		BundleIDs:        []string{bundleID},
		ReturnAttributes: []string{"CFBundleIdentifier", "Path"},
	})
	if err != nil {
		return "", err
	}
	entry, ok := result[bundleID]
	if !ok {
		return "", fmt.Errorf("instproxy: application %s not installed", bundleID)
	}
	p, ok := entry.GetString("Path")
	if !ok {
		return "", fmt.Errorf("instproxy: application %s has no path", bundleID)
	}
	return p, nil
}

// PercentComplete reads the progress of a status message, 0 when the
// message carries none.
func PercentComplete(status *plist.Value) int {
	if pct, ok := status.GetUint("PercentComplete"); ok {
		return int(pct)
	}
	return 0
}

// ExtractError reads the failure of a status message, nil when the
// message carries none.
func ExtractError(status *plist.Value) *StatusError {
	name, ok := status.GetString("Error")
	if !ok {
		return nil
	}
	e := &StatusError{Name: name}
	e.Description, _ = status.GetString("ErrorDescription")
	e.Code, _ = status.GetUint("ErrorDetail")
	return e
}
