package devicetest

import (
	"encoding/binary"
	"io"
	"net"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// AFCD is a fake AFC daemon over an in-memory filesystem. It implements
// the subset of operations the client exercises, with the device's
// status semantics (object-not-found, object-is-dir, permission-denied
// on read-only handles, directory-not-empty).
type AFCD struct {
	mu         sync.Mutex
	nodes      map[string]*afcNode
	handles    map[uint64]*afcHandle
	nextHandle uint64
}

type afcNode struct {
	dir        bool
	data       []byte
	linkTarget string
	mtime      time.Time
}

type afcHandle struct {
	path string
	mode uint64
	pos  int
}

const afcHeaderSize = 40

// AFC opcodes and statuses used by the fake.
const (
	afcOpStatus        = 0x01
	afcOpData          = 0x02
	afcOpReadDir       = 0x03
	afcOpTruncate      = 0x07
	afcOpRemovePath    = 0x08
	afcOpMakeDir       = 0x09
	afcOpGetFileInfo   = 0x0a
	afcOpGetDevInfo    = 0x0b
	afcOpFileOpen      = 0x0d
	afcOpFileOpenRes   = 0x0e
	afcOpFileRead      = 0x0f
	afcOpFileWrite     = 0x10
	afcOpFileSeek      = 0x11
	afcOpFileTell      = 0x12
	afcOpFileTellRes   = 0x13
	afcOpFileClose     = 0x14
	afcOpFileSetSize   = 0x15
	afcOpRenamePath    = 0x18
	afcOpFileLock      = 0x1b
	afcOpMakeLink      = 0x1c
	afcOpSetFileTime   = 0x1e
	afcOpRemoveAndDir  = 0x22
	afcStatusSuccess   = 0
	afcStatusOpUnsupp  = 15
	afcStatusNotFound  = 8
	afcStatusIsDir     = 9
	afcStatusPermDeny  = 10
	afcStatusInvalid   = 7
	afcStatusExists    = 16
	afcStatusDirNotMT  = 33
	afcModeReadOnly    = 1
	afcModeWriteTrunc  = 3
	afcModeRWTruncate  = 4
	afcModeAppend      = 5
	afcModeReadAppend  = 6
)

// NewAFCD creates a fake daemon with an empty root.
func NewAFCD() *AFCD {
	return &AFCD{
		nodes: map[string]*afcNode{
			"/": {dir: true, mtime: time.Now()},
		},
		handles: make(map[uint64]*afcHandle),
	}
}

// WriteFile seeds a file, creating parent directories.
func (a *AFCD) WriteFile(p string, data []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.mkdirAll(path.Dir(cleanPath(p)))
	a.nodes[cleanPath(p)] = &afcNode{data: append([]byte(nil), data...), mtime: time.Now()}
}

// Mkdir seeds a directory.
func (a *AFCD) Mkdir(p string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.mkdirAll(cleanPath(p))
}

// ReadFile returns a seeded or written file's content.
func (a *AFCD) ReadFile(p string) ([]byte, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	node, ok := a.nodes[cleanPath(p)]
	if !ok || node.dir {
		return nil, false
	}
	return append([]byte(nil), node.data...), true
}

func cleanPath(p string) string {
	p = path.Clean("/" + p)
	return p
}

func (a *AFCD) mkdirAll(p string) {
	if p == "/" {
		return
	}
	a.mkdirAll(path.Dir(p))
	if _, ok := a.nodes[p]; !ok {
		a.nodes[p] = &afcNode{dir: true, mtime: time.Now()}
	}
}

// Serve handles one AFC connection until it closes.
func (a *AFCD) Serve(conn net.Conn) {
	defer conn.Close()
	for {
		op, packetNum, payload, err := afcReadPacket(conn)
		if err != nil {
			return
		}
		replyOp, reply := a.handle(op, payload)
		if err := afcWritePacket(conn, packetNum, replyOp, reply); err != nil {
			return
		}
	}
}

func afcReadPacket(r io.Reader) (op, packetNum uint64, payload []byte, err error) {
	var header [afcHeaderSize]byte
	if _, err = io.ReadFull(r, header[:]); err != nil {
		return 0, 0, nil, err
	}
	entire := binary.LittleEndian.Uint64(header[8:])
	packetNum = binary.LittleEndian.Uint64(header[24:])
	op = binary.LittleEndian.Uint64(header[32:])
	payload = make([]byte, entire-afcHeaderSize)
	if _, err = io.ReadFull(r, payload); err != nil {
		return 0, 0, nil, err
	}
	return op, packetNum, payload, nil
}

func afcWritePacket(w io.Writer, packetNum, op uint64, payload []byte) error {
	buf := make([]byte, afcHeaderSize, afcHeaderSize+len(payload))
	copy(buf, "CFA6LPAA")
	binary.LittleEndian.PutUint64(buf[8:], uint64(afcHeaderSize+len(payload)))
	binary.LittleEndian.PutUint64(buf[16:], uint64(afcHeaderSize+len(payload)))
	binary.LittleEndian.PutUint64(buf[24:], packetNum)
	binary.LittleEndian.PutUint64(buf[32:], op)
	buf = append(buf, payload...)
	_, err := w.Write(buf)
	return err
}

func afcStatus(code uint64) (uint64, []byte) {
	payload := make([]byte, 8)
	binary.LittleEndian.PutUint64(payload, code)
	return afcOpStatus, payload
}

func (a *AFCD) handle(op uint64, payload []byte) (uint64, []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch op {
	case afcOpGetDevInfo:
		return afcOpData, joinNUL(
			"Model", "TestDevice1,1",
			"FSTotalBytes", "64000000000",
			"FSFreeBytes", "32000000000",
			"FSBlockSize", "4096",
		)

	case afcOpReadDir:
		p := cleanPath(nulString(payload))
		node, ok := a.nodes[p]
		if !ok {
			return afcStatus(afcStatusNotFound)
		}
		if !node.dir {
			return afcStatus(afcStatusInvalid)
		}
		names := []string{".", ".."}
		names = append(names, a.childNames(p)...)
		return afcOpData, joinNUL(names...)

	case afcOpGetFileInfo:
		p := cleanPath(nulString(payload))
		node, ok := a.nodes[p]
		if !ok {
			return afcStatus(afcStatusNotFound)
		}
		ifmt := "S_IFREG"
		if node.dir {
			ifmt = "S_IFDIR"
		} else if node.linkTarget != "" {
			ifmt = "S_IFLNK"
		}
		pairs := []string{
			"st_size", strconv.Itoa(len(node.data)),
			"st_blocks", "8",
			"st_nlink", "1",
			"st_ifmt", ifmt,
			"st_mtime", strconv.FormatInt(node.mtime.UnixNano(), 10),
			"st_birthtime", strconv.FormatInt(node.mtime.UnixNano(), 10),
		}
		if node.linkTarget != "" {
			pairs = append(pairs, "LinkTarget", node.linkTarget)
		}
		return afcOpData, joinNUL(pairs...)

	case afcOpFileOpen:
		if len(payload) < 9 {
			return afcStatus(afcStatusInvalid)
		}
		mode := binary.LittleEndian.Uint64(payload)
		p := cleanPath(nulString(payload[8:]))
		node, ok := a.nodes[p]
		if ok && node.dir {
			return afcStatus(afcStatusIsDir)
		}
		if !ok {
			if mode == afcModeReadOnly {
				return afcStatus(afcStatusNotFound)
			}
			if _, parentOK := a.nodes[path.Dir(p)]; !parentOK {
				return afcStatus(afcStatusNotFound)
			}
			node = &afcNode{mtime: time.Now()}
			a.nodes[p] = node
		}
		if mode == afcModeWriteTrunc || mode == afcModeRWTruncate {
			node.data = nil
		}
		a.nextHandle++
		h := &afcHandle{path: p, mode: mode}
		if mode == afcModeAppend || mode == afcModeReadAppend {
			h.pos = len(node.data)
		}
		a.handles[a.nextHandle] = h
		res := make([]byte, 8)
		binary.LittleEndian.PutUint64(res, a.nextHandle)
		return afcOpFileOpenRes, res

	case afcOpFileRead:
		if len(payload) < 16 {
			return afcStatus(afcStatusInvalid)
		}
		h := a.handles[binary.LittleEndian.Uint64(payload)]
		if h == nil {
			return afcStatus(afcStatusInvalid)
		}
		want := int(binary.LittleEndian.Uint64(payload[8:]))
		node := a.nodes[h.path]
		if h.pos >= len(node.data) {
			return afcOpData, nil
		}
		end := h.pos + want
		if end > len(node.data) {
			end = len(node.data)
		}
		chunk := node.data[h.pos:end]
		h.pos = end
		return afcOpData, chunk

	case afcOpFileWrite:
		if len(payload) < 8 {
			return afcStatus(afcStatusInvalid)
		}
		h := a.handles[binary.LittleEndian.Uint64(payload)]
		if h == nil {
			return afcStatus(afcStatusInvalid)
		}
		if h.mode == afcModeReadOnly {
			return afcStatus(afcStatusPermDeny)
		}
		node := a.nodes[h.path]
		data := payload[8:]
		if h.mode == afcModeAppend || h.mode == afcModeReadAppend {
			h.pos = len(node.data)
		}
		if h.pos > len(node.data) {
			node.data = append(node.data, make([]byte, h.pos-len(node.data))...)
		}
		if h.pos+len(data) > len(node.data) {
			node.data = append(node.data[:h.pos], data...)
		} else {
			copy(node.data[h.pos:], data)
		}
		h.pos += len(data)
		node.mtime = time.Now()
		return afcStatus(afcStatusSuccess)

	case afcOpFileSeek:
		if len(payload) < 24 {
			return afcStatus(afcStatusInvalid)
		}
		h := a.handles[binary.LittleEndian.Uint64(payload)]
		if h == nil {
			return afcStatus(afcStatusInvalid)
		}
		whence := binary.LittleEndian.Uint64(payload[8:])
		offset := int64(binary.LittleEndian.Uint64(payload[16:]))
		node := a.nodes[h.path]
		var base int64
		switch whence {
		case 1:
			base = int64(h.pos)
		case 2:
			base = int64(len(node.data))
		}
		pos := base + offset
		if pos < 0 {
			return afcStatus(afcStatusInvalid)
		}
		h.pos = int(pos)
		return afcStatus(afcStatusSuccess)

	case afcOpFileTell:
		if len(payload) < 8 {
			return afcStatus(afcStatusInvalid)
		}
		h := a.handles[binary.LittleEndian.Uint64(payload)]
		if h == nil {
			return afcStatus(afcStatusInvalid)
		}
		res := make([]byte, 8)
		binary.LittleEndian.PutUint64(res, uint64(h.pos))
		return afcOpFileTellRes, res

	case afcOpFileClose:
		if len(payload) < 8 {
			return afcStatus(afcStatusInvalid)
		}
		delete(a.handles, binary.LittleEndian.Uint64(payload))
		return afcStatus(afcStatusSuccess)

	case afcOpFileSetSize:
		if len(payload) < 16 {
			return afcStatus(afcStatusInvalid)
		}
		h := a.handles[binary.LittleEndian.Uint64(payload)]
		if h == nil {
			return afcStatus(afcStatusInvalid)
		}
		a.truncateNode(a.nodes[h.path], int(binary.LittleEndian.Uint64(payload[8:])))
		return afcStatus(afcStatusSuccess)

	case afcOpTruncate:
		if len(payload) < 9 {
			return afcStatus(afcStatusInvalid)
		}
		size := int(binary.LittleEndian.Uint64(payload))
		p := cleanPath(nulString(payload[8:]))
		node, ok := a.nodes[p]
		if !ok {
			return afcStatus(afcStatusNotFound)
		}
		a.truncateNode(node, size)
		return afcStatus(afcStatusSuccess)

	case afcOpRemovePath:
		p := cleanPath(nulString(payload))
		node, ok := a.nodes[p]
		if !ok {
			return afcStatus(afcStatusNotFound)
		}
		if node.dir && len(a.childNames(p)) > 0 {
			return afcStatus(afcStatusDirNotMT)
		}
		delete(a.nodes, p)
		return afcStatus(afcStatusSuccess)

	case afcOpRemoveAndDir:
		p := cleanPath(nulString(payload))
		if _, ok := a.nodes[p]; !ok {
			return afcStatus(afcStatusNotFound)
		}
		for existing := range a.nodes {
			if existing == p || strings.HasPrefix(existing, p+"/") {
				delete(a.nodes, existing)
			}
		}
		return afcStatus(afcStatusSuccess)

	case afcOpRenamePath:
		fields := splitNULFields(payload)
		if len(fields) < 2 {
			return afcStatus(afcStatusInvalid)
		}
		from, to := cleanPath(fields[0]), cleanPath(fields[1])
		if _, ok := a.nodes[from]; !ok {
			return afcStatus(afcStatusNotFound)
		}
		moved := make(map[string]*afcNode)
		for existing, node := range a.nodes {
			if existing == from {
				moved[to] = node
				delete(a.nodes, existing)
			} else if strings.HasPrefix(existing, from+"/") {
				moved[to+strings.TrimPrefix(existing, from)] = node
				delete(a.nodes, existing)
			}
		}
		for p, node := range moved {
			a.nodes[p] = node
		}
		return afcStatus(afcStatusSuccess)

	case afcOpMakeDir:
		a.mkdirAll(cleanPath(nulString(payload)))
		return afcStatus(afcStatusSuccess)

	case afcOpMakeLink:
		if len(payload) < 9 {
			return afcStatus(afcStatusInvalid)
		}
		fields := splitNULFields(payload[8:])
		if len(fields) < 2 {
			return afcStatus(afcStatusInvalid)
		}
		target, link := fields[0], cleanPath(fields[1])
		if _, ok := a.nodes[link]; ok {
			return afcStatus(afcStatusExists)
		}
		a.nodes[link] = &afcNode{linkTarget: target, mtime: time.Now()}
		return afcStatus(afcStatusSuccess)

	case afcOpSetFileTime:
		if len(payload) < 9 {
			return afcStatus(afcStatusInvalid)
		}
		mtime := time.Unix(0, int64(binary.LittleEndian.Uint64(payload)))
		p := cleanPath(nulString(payload[8:]))
		node, ok := a.nodes[p]
		if !ok {
			return afcStatus(afcStatusNotFound)
		}
		node.mtime = mtime
		return afcStatus(afcStatusSuccess)

	case afcOpFileLock:
		return afcStatus(afcStatusSuccess)

	default:
		return afcStatus(afcStatusOpUnsupp)
	}
}

func (a *AFCD) truncateNode(node *afcNode, size int) {
	if size <= len(node.data) {
		node.data = node.data[:size]
		return
	}
	node.data = append(node.data, make([]byte, size-len(node.data))...)
}

func (a *AFCD) childNames(dir string) []string {
	prefix := dir
	if prefix != "/" {
		prefix += "/"
	}
	var names []string
	for p := range a.nodes {
		if p == dir || !strings.HasPrefix(p, prefix) {
			continue
		}
		rest := strings.TrimPrefix(p, prefix)
		if !strings.Contains(rest, "/") {
			names = append(names, rest)
		}
	}
	sort.Strings(names)
	return names
}

func nulString(payload []byte) string {
	fields := splitNULFields(payload)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

func splitNULFields(payload []byte) []string {
	var fields []string
	for _, f := range strings.Split(string(payload), "\x00") {
		if f != "" {
			fields = append(fields, f)
		}
	}
	return fields
}

func joinNUL(fields ...string) []byte {
	var b strings.Builder
	for _, f := range fields {
		b.WriteString(f)
		b.WriteByte(0)
	}
	return []byte(b.String())
}
