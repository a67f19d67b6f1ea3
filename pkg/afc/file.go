package afc

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// FileMode selects how Open opens a file, mirroring the device's mode
// numbering rather than os.O_* flags.
type FileMode uint64

const (
	// ModeReadOnly opens for reading (r).
	ModeReadOnly FileMode = 1
	// ModeReadWrite opens for reading and writing (r+).
	ModeReadWrite FileMode = 2
	// ModeWriteTruncate opens for writing, truncating (w).
	ModeWriteTruncate FileMode = 3
	// ModeReadWriteTruncate opens for reading and writing, truncating (w+).
	ModeReadWriteTruncate FileMode = 4
	// ModeAppend opens for appending (a).
	ModeAppend FileMode = 5
	// ModeReadAppend opens for reading and appending (a+).
	ModeReadAppend FileMode = 6
)

// LockType selects the flock operation for File.Lock.
type LockType uint64

const (
	// LockShared takes a shared lock.
	LockShared LockType = 5
	// LockExclusive takes an exclusive lock.
	LockExclusive LockType = 6
	// LockUnlock releases the lock.
	LockUnlock LockType = 12
)

// readChunk caps one FILE_READ request.
const readChunk = 64 << 10

// writeChunk is the slice size WriteAll sends per packet.
const writeChunk = 100 << 10

// ErrFileClosed indicates use of a closed file handle.
var ErrFileClosed = errors.New("afc: file closed")

// File is an open handle on the device filesystem. It implements
// io.Reader, io.Writer, io.Seeker and io.Closer. A file is not safe
// for concurrent use.
type File struct {
	c      *Client
	handle uint64
	closed bool
}

// Open opens a device file.
func (c *Client) Open(filePath string, mode FileMode) (*File, error) {
	header := make([]byte, 8)
	binary.LittleEndian.PutUint64(header, uint64(mode))
	header = cstr(header, filePath)

	payload, err := c.expectData(opFileOpen, header, nil, opFileOpenResult)
	if err != nil {
		return nil, err
	}
	if len(payload) < 8 {
		return nil, fmt.Errorf("%w: short open result", ErrBadPacket)
	}
	return &File{c: c, handle: binary.LittleEndian.Uint64(payload)}, nil
}

func (f *File) guard() error {
	if f.closed {
		return ErrFileClosed
	}
	return nil
}

// handleHeader builds a header payload starting with the file handle.
func (f *File) handleHeader(extra int) []byte {
	header := make([]byte, 8, 8+extra)
	binary.LittleEndian.PutUint64(header, f.handle)
	return header
}

// Read implements io.Reader. The device answers a read past the end of
// the file with an empty data packet, which maps to io.EOF.
func (f *File) Read(p []byte) (int, error) {
	if err := f.guard(); err != nil {
		return 0, err
	}
	if len(p) == 0 {
		return 0, nil
	}
	want := len(p)
	if want > readChunk {
		want = readChunk
	}

	header := f.handleHeader(8)
	header = binary.LittleEndian.AppendUint64(header, uint64(want))
	payload, err := f.c.expectData(opFileRead, header, nil, opData)
	if err != nil {
		return 0, err
	}
	if len(payload) == 0 {
		return 0, io.EOF
	}
	return copy(p, payload), nil
}

// ReadAll reads from the current position to the end of the file.
func (f *File) ReadAll() ([]byte, error) {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, f); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Write implements io.Writer with a single protocol round-trip; the
// caller chunks. WriteAll handles chunking for bulk payloads.
func (f *File) Write(p []byte) (int, error) {
	if err := f.guard(); err != nil {
		return 0, err
	}
	if _, _, err := f.c.dispatch(opFileWrite, f.handleHeader(0), p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// WriteAll writes data in chunks. progress, when non-nil, is called
// after every chunk with the running byte count and the total.
func (f *File) WriteAll(data []byte, progress func(written, total int)) error {
	total := len(data)
	for written := 0; written < total; {
		end := written + writeChunk
		if end > total {
			end = total
		}
		n, err := f.Write(data[written:end])
		if err != nil {
			return err
		}
		written += n
		if progress != nil {
			progress(written, total)
		}
	}
	return nil
}

// Seek implements io.Seeker.
func (f *File) Seek(offset int64, whence int) (int64, error) {
	if err := f.guard(); err != nil {
		return 0, err
	}
	header := f.handleHeader(16)
	header = binary.LittleEndian.AppendUint64(header, uint64(whence))
	header = binary.LittleEndian.AppendUint64(header, uint64(offset))
	if _, _, err := f.c.dispatch(opFileSeek, header, nil); err != nil {
		return 0, err
	}
	pos, err := f.Tell()
	return int64(pos), err
}

// Tell returns the current file position.
func (f *File) Tell() (uint64, error) {
	if err := f.guard(); err != nil {
		return 0, err
	}
	payload, err := f.c.expectData(opFileTell, f.handleHeader(0), nil, opFileTellResult)
	if err != nil {
		return 0, err
	}
	if len(payload) < 8 {
		return 0, fmt.Errorf("%w: short tell result", ErrBadPacket)
	}
	return binary.LittleEndian.Uint64(payload), nil
}

// Truncate sets the file's size.
func (f *File) Truncate(size uint64) error {
	if err := f.guard(); err != nil {
		return err
	}
	header := f.handleHeader(8)
	header = binary.LittleEndian.AppendUint64(header, size)
	_, _, err := f.c.dispatch(opFileSetSize, header, nil)
	return err
}

// Lock performs an flock operation on the handle.
func (f *File) Lock(kind LockType) error {
	if err := f.guard(); err != nil {
		return err
	}
	header := f.handleHeader(8)
	header = binary.LittleEndian.AppendUint64(header, uint64(kind))
	_, _, err := f.c.dispatch(opFileLock, header, nil)
	return err
}

// Close releases the device-side handle. Closing twice is a no-op.
func (f *File) Close() error {
	if f.closed {
		return nil
	}
	f.closed = true
	_, _, err := f.c.dispatch(opFileClose, f.handleHeader(0), nil)
	return err
}
