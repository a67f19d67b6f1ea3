// Package debugserver speaks the GDB remote serial protocol to the
// device's debug server. Packets are "$payload#xx" with a two-digit
// hex checksum; in ack mode every packet is answered with '+' before
// the reply packet.
package debugserver

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/idevice-protocol/idevice-go/pkg/device"
	"github.com/idevice-protocol/idevice-go/pkg/service"
)

// ServiceName is the debug server service. It requires a mounted
// developer disk image.
const ServiceName = "com.apple.debugserver"

// Debugserver errors.
var (
	// ErrNak indicates the server rejected a packet ('-').
	ErrNak = errors.New("debugserver: packet rejected")

	// ErrBadChecksum indicates a reply with a wrong checksum.
	ErrBadChecksum = errors.New("debugserver: bad reply checksum")
)

// Client is a GDB remote serial client.
type Client struct {
	svc     *service.Client
	br      *bufio.Reader
	ackMode bool
}

// New starts the debug server and connects to it. Ack mode starts
// enabled, as the protocol requires.
func New(d *device.Device, label string, opts ...service.Option) (*Client, error) {
	svc, err := service.Start(d, label, ServiceName, false, opts...)
	if err != nil {
		return nil, err
	}
	conn, err := svc.Conn()
	if err != nil {
		svc.Close()
		return nil, err
	}
	return &Client{svc: svc, br: bufio.NewReader(conn), ackMode: true}, nil
}

// Close shuts the connection down.
func (c *Client) Close() error {
	return c.svc.Close()
}

// EncodeString frames a payload as a remote serial packet.
func EncodeString(payload string) string {
	return fmt.Sprintf("$%s#%02x", payload, checksum(payload))
}

func checksum(payload string) byte {
	var sum byte
	for i := 0; i < len(payload); i++ {
		sum += payload[i]
	}
	return sum
}

// SetAckMode switches packet acknowledgements. Callers disable acks
// after a successful QStartNoAckMode exchange.
func (c *Client) SetAckMode(enabled bool) {
	c.ackMode = enabled
}

// Command sends one packet and returns the reply payload.
func (c *Client) Command(payload string) (string, error) {
	if _, err := c.svc.Send([]byte(EncodeString(payload))); err != nil {
		return "", err
	}

	if c.ackMode {
		ack, err := c.br.ReadByte()
		if err != nil {
			return "", err
		}
		if ack == '-' {
			return "", ErrNak
		}
		if ack != '+' {
			// Some servers skip the ack on notifications; the byte then
			// belongs to the reply packet.
			if err := c.br.UnreadByte(); err != nil {
				return "", err
			}
		}
	}

	reply, err := c.readPacket()
	if err != nil {
		return "", err
	}
	if c.ackMode {
		if _, err := c.svc.Send([]byte("+")); err != nil {
			return "", err
		}
	}
	return reply, nil
}

// readPacket consumes one "$payload#xx" packet and verifies its
// checksum.
func (c *Client) readPacket() (string, error) {
	for {
		b, err := c.br.ReadByte()
		if err != nil {
			return "", err
		}
		if b == '$' {
			break
		}
	}

	var payload strings.Builder
	for {
		b, err := c.br.ReadByte()
		if err != nil {
			return "", err
		}
		if b == '#' {
			break
		}
		payload.WriteByte(b)
	}

	var sumHex [2]byte
	for i := range sumHex {
		b, err := c.br.ReadByte()
		if err != nil {
			return "", err
		}
		sumHex[i] = b
	}

	want := checksum(payload.String())
	var got byte
	if _, err := fmt.Sscanf(string(sumHex[:]), "%02x", &got); err != nil {
		return "", ErrBadChecksum
	}
	if got != want {
		return "", fmt.Errorf("%w: %02x != %02x", ErrBadChecksum, got, want)
	}
	return payload.String(), nil
}

// SetArgv sets the launch arguments for the next process the server
// spawns, using the A packet's length,index,hex-argument triples.
func (c *Client) SetArgv(args []string) (string, error) {
	if len(args) == 0 {
		return "", errors.New("debugserver: empty argv")
	}

	var b strings.Builder
	b.WriteByte('A')
	for i, arg := range args {
		hexArg := hexEncode(arg)
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%d,%d,%s", len(hexArg), i, hexArg)
	}
	return c.Command(b.String())
}

func hexEncode(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		fmt.Fprintf(&b, "%02x", s[i])
	}
	return b.String()
}
