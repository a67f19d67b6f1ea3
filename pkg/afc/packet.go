package afc

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Wire framing: every packet starts with a 40-byte header, little
// endian throughout, followed by the header payload (operation
// arguments, strings NUL-terminated) and an optional data payload.
const (
	packetMagic      = "CFA6LPAA"
	packetHeaderSize = 40

	// maxPacketSize caps one inbound packet. File reads are chunked well
	// below this; anything larger is a corrupt stream.
	maxPacketSize = 16 << 20
)

// opcode identifies one AFC operation.
type opcode uint64

const (
	opStatus               opcode = 0x01
	opData                 opcode = 0x02
	opReadDir              opcode = 0x03
	opReadFile             opcode = 0x04
	opWriteFile            opcode = 0x05
	opWritePart            opcode = 0x06
	opTruncateFile         opcode = 0x07
	opRemovePath           opcode = 0x08
	opMakeDir              opcode = 0x09
	opGetFileInfo          opcode = 0x0a
	opGetDeviceInfo        opcode = 0x0b
	opWriteFileAtomic      opcode = 0x0c
	opFileOpen             opcode = 0x0d
	opFileOpenResult       opcode = 0x0e
	opFileRead             opcode = 0x0f
	opFileWrite            opcode = 0x10
	opFileSeek             opcode = 0x11
	opFileTell             opcode = 0x12
	opFileTellResult       opcode = 0x13
	opFileClose            opcode = 0x14
	opFileSetSize          opcode = 0x15
	opGetConnectionInfo    opcode = 0x16
	opSetConnectionOptions opcode = 0x17
	opRenamePath           opcode = 0x18
	opSetFSBlockSize       opcode = 0x19
	opSetSocketBlockSize   opcode = 0x1a
	opFileLock             opcode = 0x1b
	opMakeLink             opcode = 0x1c
	opGetFileHash          opcode = 0x1d
	opSetFileModTime       opcode = 0x1e
	opGetFileHashRange     opcode = 0x1f
	opFileSetImmutable     opcode = 0x20
	opGetSizeOfPath        opcode = 0x21
	opRemovePathAndDir     opcode = 0x22
	opDirOpen              opcode = 0x23
)

// Packet errors.
var (
	// ErrBadPacket indicates a malformed inbound packet.
	ErrBadPacket = errors.New("afc: malformed packet")

	// ErrUnexpectedPacket indicates the device answered with a packet
	// type the operation does not expect.
	ErrUnexpectedPacket = errors.New("afc: unexpected packet type")
)

// writePacket frames and writes one request.
func writePacket(w io.Writer, packetNum uint64, op opcode, header, data []byte) error {
	buf := make([]byte, packetHeaderSize, packetHeaderSize+len(header))
	copy(buf, packetMagic)
	binary.LittleEndian.PutUint64(buf[8:], uint64(packetHeaderSize+len(header)+len(data)))
	binary.LittleEndian.PutUint64(buf[16:], uint64(packetHeaderSize+len(header)))
	binary.LittleEndian.PutUint64(buf[24:], packetNum)
	binary.LittleEndian.PutUint64(buf[32:], uint64(op))
	buf = append(buf, header...)

	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("afc: write packet: %w", err)
	}
	if len(data) > 0 {
		if _, err := w.Write(data); err != nil {
			return fmt.Errorf("afc: write payload: %w", err)
		}
	}
	return nil
}

// readPacket reads one packet, returning its opcode and everything
// after the header (header payload and data payload concatenated).
func readPacket(r io.Reader) (opcode, []byte, error) {
	var header [packetHeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if err == io.EOF {
			return 0, nil, err
		}
		return 0, nil, fmt.Errorf("afc: read packet header: %w", err)
	}
	if !bytes.Equal(header[:8], []byte(packetMagic)) {
		return 0, nil, fmt.Errorf("%w: bad magic", ErrBadPacket)
	}

	entireLength := binary.LittleEndian.Uint64(header[8:])
	thisLength := binary.LittleEndian.Uint64(header[16:])
	op := opcode(binary.LittleEndian.Uint64(header[32:]))

	if entireLength < packetHeaderSize || thisLength < packetHeaderSize || thisLength > entireLength {
		return 0, nil, fmt.Errorf("%w: inconsistent lengths %d/%d", ErrBadPacket, thisLength, entireLength)
	}
	if entireLength > maxPacketSize {
		return 0, nil, fmt.Errorf("%w: packet of %d bytes", ErrBadPacket, entireLength)
	}

	payload := make([]byte, entireLength-packetHeaderSize)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, fmt.Errorf("afc: read packet payload: %w", err)
	}
	return op, payload, nil
}

// statusFromPayload extracts the status code of an opStatus packet.
func statusFromPayload(payload []byte) (Status, error) {
	if len(payload) < 8 {
		return 0, fmt.Errorf("%w: short status payload", ErrBadPacket)
	}
	return Status(binary.LittleEndian.Uint64(payload)), nil
}

// cstr appends s and a NUL terminator.
func cstr(buf []byte, s string) []byte {
	buf = append(buf, s...)
	return append(buf, 0)
}

// parsePairs splits a NUL-separated key/value list into a map.
func parsePairs(payload []byte) map[string]string {
	fields := splitNUL(payload)
	pairs := make(map[string]string, len(fields)/2)
	for i := 0; i+1 < len(fields); i += 2 {
		pairs[fields[i]] = fields[i+1]
	}
	return pairs
}

// splitNUL splits a NUL-separated string list, dropping the trailing
// empty field.
func splitNUL(payload []byte) []string {
	if len(payload) == 0 {
		return nil
	}
	parts := bytes.Split(bytes.TrimSuffix(payload, []byte{0}), []byte{0})
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		out = append(out, string(p))
	}
	return out
}
