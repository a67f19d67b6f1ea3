package afc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/idevice-protocol/idevice-go/pkg/device"
	"github.com/idevice-protocol/idevice-go/pkg/service"
)

// ServiceName is the AFC service started through lockdown.
const ServiceName = "com.apple.afc"

// ErrClientClosed indicates use of a closed AFC client.
var ErrClientClosed = errors.New("afc: client closed")

// LinkType selects the kind of link MakeLink creates.
type LinkType uint64

const (
	// LinkHard creates a hard link.
	LinkHard LinkType = 1
	// LinkSymlink creates a symbolic link.
	LinkSymlink LinkType = 2
)

// Client speaks the AFC file protocol over one service connection.
// Requests are strictly serialized; the protocol has no interleaving.
type Client struct {
	mu        sync.Mutex
	svc       *service.Client
	rw        io.ReadWriter
	packetNum uint64
	closed    bool
}

// New starts the AFC service on the device and connects to it.
func New(d *device.Device, label string, opts ...service.Option) (*Client, error) {
	svc, err := service.Start(d, label, ServiceName, false, opts...)
	if err != nil {
		return nil, err
	}
	return FromService(svc)
}

// FromService adopts an established service connection. House arrest
// uses this after vending a container: the same stream switches from
// plists to AFC packets.
func FromService(svc *service.Client) (*Client, error) {
	conn, err := svc.Conn()
	if err != nil {
		return nil, err
	}
	return &Client{svc: svc, rw: conn}, nil
}

// Close shuts the connection down. Closing twice is a no-op; open file
// handles become unusable.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.svc.Close()
}

// dispatch sends one request and reads the reply. The reply must be
// either a status packet or one of the opcodes in accept.
func (c *Client) dispatch(op opcode, header, data []byte, accept ...opcode) (opcode, []byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, nil, ErrClientClosed
	}

	c.packetNum++
	if err := writePacket(c.rw, c.packetNum, op, header, data); err != nil {
		return 0, nil, err
	}
	replyOp, payload, err := readPacket(c.rw)
	if err != nil {
		return 0, nil, err
	}

	if replyOp == opStatus {
		status, err := statusFromPayload(payload)
		if err != nil {
			return 0, nil, err
		}
		if status != StatusSuccess {
			return replyOp, nil, status
		}
		return replyOp, nil, nil
	}
	for _, a := range accept {
		if replyOp == a {
			return replyOp, payload, nil
		}
	}
	return replyOp, nil, fmt.Errorf("%w: got 0x%02x to 0x%02x", ErrUnexpectedPacket, uint64(replyOp), uint64(op))
}

// expectData dispatches and requires a data-carrying reply.
func (c *Client) expectData(op opcode, header, data []byte, accept opcode) ([]byte, error) {
	replyOp, payload, err := c.dispatch(op, header, data, accept)
	if err != nil {
		return nil, err
	}
	if replyOp != accept {
		return nil, fmt.Errorf("%w: status to 0x%02x", ErrUnexpectedPacket, uint64(op))
	}
	return payload, nil
}

// DeviceInfo returns the filesystem-level device information pairs
// (Model, FSTotalBytes, FSFreeBytes, FSBlockSize).
func (c *Client) DeviceInfo() (map[string]string, error) {
	payload, err := c.expectData(opGetDeviceInfo, nil, nil, opData)
	if err != nil {
		return nil, err
	}
	return parsePairs(payload), nil
}

// ReadDir lists the entries of a directory, including "." and "..".
func (c *Client) ReadDir(dirPath string) ([]string, error) {
	payload, err := c.expectData(opReadDir, cstr(nil, dirPath), nil, opData)
	if err != nil {
		return nil, err
	}
	return splitNUL(payload), nil
}

// FileInfo returns the stat pairs for a path (st_size, st_blocks,
// st_ifmt, st_nlink, st_mtime, st_birthtime; times in nanoseconds).
func (c *Client) FileInfo(filePath string) (map[string]string, error) {
	payload, err := c.expectData(opGetFileInfo, cstr(nil, filePath), nil, opData)
	if err != nil {
		return nil, err
	}
	return parsePairs(payload), nil
}

// Remove deletes a file or an empty directory.
func (c *Client) Remove(filePath string) error {
	_, _, err := c.dispatch(opRemovePath, cstr(nil, filePath), nil)
	return err
}

// RemoveAll deletes a path and everything under it.
func (c *Client) RemoveAll(filePath string) error {
	_, _, err := c.dispatch(opRemovePathAndDir, cstr(nil, filePath), nil)
	return err
}

// Rename moves a file or directory.
func (c *Client) Rename(from, to string) error {
	_, _, err := c.dispatch(opRenamePath, cstr(cstr(nil, from), to), nil)
	return err
}

// MakeDir creates a directory, including missing parents.
func (c *Client) MakeDir(dirPath string) error {
	_, _, err := c.dispatch(opMakeDir, cstr(nil, dirPath), nil)
	return err
}

// MakeLink creates a hard or symbolic link at linkPath pointing to
// target.
func (c *Client) MakeLink(kind LinkType, target, linkPath string) error {
	header := make([]byte, 8)
	binary.LittleEndian.PutUint64(header, uint64(kind))
	header = cstr(cstr(header, target), linkPath)
	_, _, err := c.dispatch(opMakeLink, header, nil)
	return err
}

// SetFileTime sets a file's modification time.
func (c *Client) SetFileTime(filePath string, mtime time.Time) error {
	header := make([]byte, 8)
	binary.LittleEndian.PutUint64(header, uint64(mtime.UnixNano()))
	header = cstr(header, filePath)
	_, _, err := c.dispatch(opSetFileModTime, header, nil)
	return err
}

// TruncatePath sets a file's size without opening it.
func (c *Client) TruncatePath(filePath string, size uint64) error {
	header := make([]byte, 8)
	binary.LittleEndian.PutUint64(header, size)
	header = cstr(header, filePath)
	_, _, err := c.dispatch(opTruncateFile, header, nil)
	return err
}

// PullFile copies a device file to the local filesystem.
func (c *Client) PullFile(remotePath, localPath string) error {
	f, err := c.Open(remotePath, ModeReadOnly)
	if err != nil {
		return err
	}
	defer f.Close()

	local, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("afc: pull %s: %w", remotePath, err)
	}
	defer local.Close()

	if _, err := io.Copy(local, f); err != nil {
		return fmt.Errorf("afc: pull %s: %w", remotePath, err)
	}
	return local.Close()
}

// PushFile copies a local file onto the device.
func (c *Client) PushFile(localPath, remotePath string) error {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return fmt.Errorf("afc: push %s: %w", localPath, err)
	}

	f, err := c.Open(remotePath, ModeWriteTruncate)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := f.WriteAll(data, nil); err != nil {
		return err
	}
	return f.Close()
}

// PushTree copies a local directory tree onto the device, depth-first,
// creating each directory before descending into it.
func (c *Client) PushTree(localDir, remoteDir string) error {
	if err := c.MakeDir(remoteDir); err != nil {
		return err
	}
	entries, err := os.ReadDir(localDir)
	if err != nil {
		return fmt.Errorf("afc: push tree %s: %w", localDir, err)
	}
	for _, entry := range entries {
		local := filepath.Join(localDir, entry.Name())
		remote := path.Join(remoteDir, entry.Name())
		if entry.IsDir() {
			if err := c.PushTree(local, remote); err != nil {
				return err
			}
			continue
		}
		if err := c.PushFile(local, remote); err != nil {
			return err
		}
	}
	return nil
}
