package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/idevice-protocol/idevice-go/pkg/log"
	"github.com/idevice-protocol/idevice-go/pkg/plist"
)

// Framing constants.
const (
	// LengthPrefixSize is the size of the length prefix in bytes.
	LengthPrefixSize = 4

	// DefaultMaxMessageSize caps one framed plist (64 MiB). Application
	// listings on a full device can run to tens of megabytes.
	DefaultMaxMessageSize = 64 << 20

	// MaxLogFrameDataSize is the maximum frame data size to include in
	// log events (4 KiB). Larger frames are truncated in the event.
	MaxLogFrameDataSize = 4096
)

// Framing errors.
var (
	// ErrMessageTooLarge indicates the message exceeds the maximum size.
	ErrMessageTooLarge = errors.New("transport: message too large")

	// ErrMessageEmpty indicates an empty message.
	ErrMessageEmpty = errors.New("transport: message is empty")

	// ErrFrameTruncated indicates the stream ended inside a frame.
	ErrFrameTruncated = errors.New("transport: frame truncated")
)

// PlistCodec frames plist messages with a 4-byte big-endian length
// prefix, the sub-protocol spoken on the lockdown channel and by most
// plist services.
//
// Sends are serialized; Receive must not be called concurrently with
// itself.
type PlistCodec struct {
	rw             io.ReadWriter
	maxMessageSize uint32
	writeMu        sync.Mutex
	lengthBuf      [LengthPrefixSize]byte

	logger  log.Logger
	connID  string
	service string
}

// NewPlistCodec creates a codec over a duplex stream.
func NewPlistCodec(rw io.ReadWriter) *PlistCodec {
	return &PlistCodec{
		rw:             rw,
		maxMessageSize: DefaultMaxMessageSize,
		logger:         log.NoopLogger{},
	}
}

// SetMaxMessageSize updates the maximum framed message size.
func (p *PlistCodec) SetMaxMessageSize(size uint32) {
	p.maxMessageSize = size
}

// SetLogger configures protocol logging for this codec. Pass nil to
// disable.
func (p *PlistCodec) SetLogger(logger log.Logger, connID, service string) {
	if logger == nil {
		logger = log.NoopLogger{}
	}
	p.logger = logger
	p.connID = connID
	p.service = service
}

// Send frames and writes v as an XML plist.
func (p *PlistCodec) Send(v *plist.Value) error {
	data, err := plist.Encode(v, plist.FormatXML)
	if err != nil {
		return fmt.Errorf("transport: encode plist: %w", err)
	}
	return p.sendRaw(data, v)
}

// SendBinary frames and writes v as a binary plist. Some services
// (installation proxy, DeviceLink peers) expect the binary form.
func (p *PlistCodec) SendBinary(v *plist.Value) error {
	data, err := plist.Encode(v, plist.FormatBinary)
	if err != nil {
		return fmt.Errorf("transport: encode plist: %w", err)
	}
	return p.sendRaw(data, v)
}

func (p *PlistCodec) sendRaw(data []byte, v *plist.Value) error {
	if len(data) == 0 {
		return ErrMessageEmpty
	}
	if uint32(len(data)) > p.maxMessageSize {
		return fmt.Errorf("%w: %d > %d", ErrMessageTooLarge, len(data), p.maxMessageSize)
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	var lengthBuf [LengthPrefixSize]byte
	binary.BigEndian.PutUint32(lengthBuf[:], uint32(len(data)))
	if _, err := p.rw.Write(lengthBuf[:]); err != nil {
		return fmt.Errorf("transport: write length prefix: %w", err)
	}
	if _, err := p.rw.Write(data); err != nil {
		return fmt.Errorf("transport: write payload: %w", err)
	}

	p.logMessage(v, len(data), log.DirectionOut)
	return nil
}

// Receive reads one framed plist, auto-detecting binary versus XML.
func (p *PlistCodec) Receive() (*plist.Value, error) {
	if _, err := io.ReadFull(p.rw, p.lengthBuf[:]); err != nil {
		if err == io.EOF {
			return nil, err
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrFrameTruncated
		}
		return nil, fmt.Errorf("transport: read length prefix: %w", err)
	}

	length := binary.BigEndian.Uint32(p.lengthBuf[:])
	if length == 0 {
		return nil, ErrMessageEmpty
	}
	if length > p.maxMessageSize {
		return nil, fmt.Errorf("%w: %d > %d", ErrMessageTooLarge, length, p.maxMessageSize)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(p.rw, payload); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || err == io.EOF {
			return nil, ErrFrameTruncated
		}
		return nil, fmt.Errorf("transport: read payload: %w", err)
	}

	v, err := plist.DecodeAuto(payload)
	if err != nil {
		return nil, fmt.Errorf("transport: decode plist: %w", err)
	}

	p.logMessage(v, len(payload), log.DirectionIn)
	return v, nil
}

// logMessage emits a protocol-layer event describing one plist message.
func (p *PlistCodec) logMessage(v *plist.Value, size int, direction log.Direction) {
	if _, isNoop := p.logger.(log.NoopLogger); isNoop {
		return
	}

	msg := &log.MessageEvent{Size: size}
	if req, ok := v.GetString("Request"); ok {
		msg.Request = req
	} else if cmd, ok := v.GetString("Command"); ok {
		msg.Request = cmd
	}
	if e, ok := v.GetString("Error"); ok {
		msg.Result = e
	} else if s, ok := v.GetString("Status"); ok {
		msg.Result = s
	}

	p.logger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: p.connID,
		Direction:    direction,
		Layer:        log.LayerProtocol,
		Category:     log.CategoryMessage,
		Service:      p.service,
		Message:      msg,
	})
}
