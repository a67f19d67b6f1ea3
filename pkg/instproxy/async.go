package instproxy

import (
	"sync"

	"github.com/idevice-protocol/idevice-go/pkg/plist"
)

// Callback receives one status message of an async command. Invocations
// happen on the command's delivery goroutine, in arrival order.
type Callback func(command string, status *plist.Value)

// Token tracks one async command's callback registration. Dispose is
// required once per token even when the device is still working; it
// does not cancel the device-side operation.
type Token struct {
	mu   sync.Mutex
	cb   Callback
	once sync.Once
	done chan struct{}

	// err is written by the delivery goroutine before done closes.
	err error
}

func newToken(cb Callback) *Token {
	return &Token{cb: cb, done: make(chan struct{})}
}

// Dispose unregisters the callback. Disposing twice is a no-op; an
// in-flight invocation may still complete.
func (t *Token) Dispose() {
	t.once.Do(func() {
		t.mu.Lock()
		t.cb = nil
		t.mu.Unlock()
	})
}

// Done is closed when the command reached a terminal status or the
// connection failed.
func (t *Token) Done() <-chan struct{} { return t.done }

// Err returns the terminal failure, nil on success. Valid after Done is
// closed.
func (t *Token) Err() error {
	select {
	case <-t.done:
	default:
		return nil
	}
	return t.err
}

func (t *Token) deliver(command string, status *plist.Value) {
	t.mu.Lock()
	cb := t.cb
	t.mu.Unlock()
	if cb != nil {
		cb(command, status)
	}
}

// Install installs a package already present on the device filesystem
// (usually pushed under /PublicStaging via AFC).
func (c *Client) Install(packagePath string, opts *Options, cb Callback) (*Token, error) {
	return c.startAsync("Install", "PackagePath", packagePath, opts, cb)
}

// Upgrade upgrades an installed application from a staged package.
func (c *Client) Upgrade(packagePath string, opts *Options, cb Callback) (*Token, error) {
	return c.startAsync("Upgrade", "PackagePath", packagePath, opts, cb)
}

// Uninstall removes an installed application.
func (c *Client) Uninstall(bundleID string, opts *Options, cb Callback) (*Token, error) {
	return c.startAsync("Uninstall", "ApplicationIdentifier", bundleID, opts, cb)
}

// Archive archives an installed application. Modern device OS releases
// removed the archive container; the command then fails with a device
// error, which is surfaced, not masked.
func (c *Client) Archive(bundleID string, opts *Options, cb Callback) (*Token, error) {
	return c.startAsync("Archive", "ApplicationIdentifier", bundleID, opts, cb)
}

// Restore restores an archived application.
func (c *Client) Restore(bundleID string, opts *Options, cb Callback) (*Token, error) {
	return c.startAsync("Restore", "ApplicationIdentifier", bundleID, opts, cb)
}

// RemoveArchive deletes an application archive.
func (c *Client) RemoveArchive(bundleID string, opts *Options, cb Callback) (*Token, error) {
	return c.startAsync("RemoveArchive", "ApplicationIdentifier", bundleID, opts, cb)
}

func (c *Client) startAsync(name, argKey, argValue string, opts *Options, cb Callback) (*Token, error) {
	if err := c.acquire(); err != nil {
		return nil, err
	}

	msg := command(name, opts)
	msg.Set(argKey, plist.NewString(argValue))
	if err := c.svc.SendBinaryPlist(msg); err != nil {
		c.release()
		return nil, err
	}

	token := newToken(cb)
	go c.deliverStatuses(name, token)
	return token, nil
}

// deliverStatuses pumps status messages to the token until a terminal
// one arrives, then releases the connection for the next command.
func (c *Client) deliverStatuses(name string, token *Token) {
	defer c.release()
	defer close(token.done)

	for {
		resp, err := c.svc.ReceivePlist()
		if err != nil {
			token.err = err
			return
		}
		token.deliver(name, resp)
		if statusErr := ExtractError(resp); statusErr != nil {
			token.err = statusErr
			return
		}
		if status, _ := resp.GetString("Status"); status == "Complete" {
			return
		}
	}
}
