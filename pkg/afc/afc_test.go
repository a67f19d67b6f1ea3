package afc_test

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/idevice-protocol/idevice-go/internal/devicetest"
	"github.com/idevice-protocol/idevice-go/pkg/afc"
	"github.com/idevice-protocol/idevice-go/pkg/device"
	"github.com/idevice-protocol/idevice-go/pkg/lockdown"
	"github.com/idevice-protocol/idevice-go/pkg/service"
	"github.com/idevice-protocol/idevice-go/pkg/transport"
)

const (
	testUDID = "ABC123"
	afcPort  = 50010
)

func newAFCSetup(t *testing.T) (*devicetest.AFCD, *afc.Client) {
	t.Helper()

	daemon, err := devicetest.NewLockdownd(testUDID)
	require.NoError(t, err)

	muxer := devicetest.NewMuxer()
	daemon.Install(muxer, transport.KindUSB)
	daemon.AddService(afc.ServiceName, afcPort)

	afcd := devicetest.NewAFCD()
	muxer.Handle(testUDID, afcPort, afcd.Serve)

	d, err := device.New(muxer, testUDID, device.ScopeAny)
	require.NoError(t, err)
	t.Cleanup(d.Release)

	store, err := lockdown.NewRecordStore(t.TempDir())
	require.NoError(t, err)

	c, err := afc.New(d, "test-client", service.WithLockdownOptions(lockdown.WithStore(store)))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return afcd, c
}

func TestDeviceInfo(t *testing.T) {
	_, c := newAFCSetup(t)

	info, err := c.DeviceInfo()
	require.NoError(t, err)
	assert.Equal(t, "4096", info["FSBlockSize"])
	assert.Contains(t, info, "FSTotalBytes")
}

func TestReadDirIncludesDotEntries(t *testing.T) {
	afcd, c := newAFCSetup(t)
	afcd.WriteFile("/Books/one.txt", []byte("1"))
	afcd.WriteFile("/Books/two.txt", []byte("2"))

	entries, err := c.ReadDir("/Books")
	require.NoError(t, err)
	assert.Equal(t, []string{".", "..", "one.txt", "two.txt"}, entries)

	_, err = c.ReadDir("/NoSuchDir")
	assert.ErrorIs(t, err, afc.StatusObjectNotFound)
}

func TestFileInfo(t *testing.T) {
	afcd, c := newAFCSetup(t)
	afcd.WriteFile("/note.txt", []byte("hello"))

	info, err := c.FileInfo("/note.txt")
	require.NoError(t, err)
	assert.Equal(t, "5", info["st_size"])
	assert.Equal(t, "S_IFREG", info["st_ifmt"])

	info, err = c.FileInfo("/")
	require.NoError(t, err)
	assert.Equal(t, "S_IFDIR", info["st_ifmt"])

	_, err = c.FileInfo("/missing")
	assert.ErrorIs(t, err, afc.StatusObjectNotFound)
}

func TestReadWriteRoundTrip(t *testing.T) {
	_, c := newAFCSetup(t)

	f, err := c.Open("/data.bin", afc.ModeWriteTruncate)
	require.NoError(t, err)
	_, err = f.Write([]byte("payload-bytes"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	f, err = c.Open("/data.bin", afc.ModeReadOnly)
	require.NoError(t, err)
	got, err := f.ReadAll()
	require.NoError(t, err)
	assert.Equal(t, []byte("payload-bytes"), got)
	require.NoError(t, f.Close())
}

func TestWriteOnReadOnlyHandleFails(t *testing.T) {
	afcd, c := newAFCSetup(t)
	afcd.WriteFile("/ro.txt", []byte("content"))

	f, err := c.Open("/ro.txt", afc.ModeReadOnly)
	require.NoError(t, err)
	defer f.Close()

	_, err = f.Write([]byte("nope"))
	assert.ErrorIs(t, err, afc.StatusPermDenied)
}

func TestOpenMissingReadOnly(t *testing.T) {
	_, c := newAFCSetup(t)

	_, err := c.Open("/absent.txt", afc.ModeReadOnly)
	assert.ErrorIs(t, err, afc.StatusObjectNotFound)
}

func TestOpenDirectoryFails(t *testing.T) {
	afcd, c := newAFCSetup(t)
	afcd.Mkdir("/Books")

	_, err := c.Open("/Books", afc.ModeReadOnly)
	assert.ErrorIs(t, err, afc.StatusObjectIsDir)
}

func TestSeekAndTell(t *testing.T) {
	afcd, c := newAFCSetup(t)
	afcd.WriteFile("/seek.bin", []byte("0123456789"))

	f, err := c.Open("/seek.bin", afc.ModeReadOnly)
	require.NoError(t, err)
	defer f.Close()

	pos, err := f.Seek(4, io.SeekStart)
	require.NoError(t, err)
	assert.EqualValues(t, 4, pos)

	buf := make([]byte, 3)
	n, err := f.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "456", string(buf[:n]))

	pos, err = f.Seek(-2, io.SeekEnd)
	require.NoError(t, err)
	assert.EqualValues(t, 8, pos)

	tell, err := f.Tell()
	require.NoError(t, err)
	assert.EqualValues(t, 8, tell)
}

func TestTruncate(t *testing.T) {
	afcd, c := newAFCSetup(t)
	afcd.WriteFile("/t.bin", []byte("0123456789"))

	f, err := c.Open("/t.bin", afc.ModeReadWrite)
	require.NoError(t, err)
	require.NoError(t, f.Truncate(4))
	require.NoError(t, f.Close())

	data, ok := afcd.ReadFile("/t.bin")
	require.True(t, ok)
	assert.Equal(t, []byte("0123"), data)

	require.NoError(t, c.TruncatePath("/t.bin", 2))
	data, _ = afcd.ReadFile("/t.bin")
	assert.Equal(t, []byte("01"), data)
}

func TestWriteAllChunksWithProgress(t *testing.T) {
	afcd, c := newAFCSetup(t)

	big := make([]byte, 250<<10)
	for i := range big {
		big[i] = byte(i)
	}

	f, err := c.Open("/big.bin", afc.ModeWriteTruncate)
	require.NoError(t, err)

	var calls []int
	require.NoError(t, f.WriteAll(big, func(written, total int) {
		assert.Equal(t, len(big), total)
		calls = append(calls, written)
	}))
	require.NoError(t, f.Close())

	assert.Equal(t, []int{100 << 10, 200 << 10, 250 << 10}, calls)
	data, _ := afcd.ReadFile("/big.bin")
	assert.Equal(t, big, data)
}

func TestRemoveSemantics(t *testing.T) {
	afcd, c := newAFCSetup(t)
	afcd.WriteFile("/dir/file.txt", []byte("x"))

	err := c.Remove("/dir")
	assert.ErrorIs(t, err, afc.StatusDirNotEmpty)

	require.NoError(t, c.Remove("/dir/file.txt"))
	require.NoError(t, c.Remove("/dir"))

	assert.ErrorIs(t, c.Remove("/dir"), afc.StatusObjectNotFound)
}

func TestRemoveAll(t *testing.T) {
	afcd, c := newAFCSetup(t)
	afcd.WriteFile("/tree/a/b.txt", []byte("x"))
	afcd.WriteFile("/tree/c.txt", []byte("y"))

	require.NoError(t, c.RemoveAll("/tree"))
	_, err := c.FileInfo("/tree")
	assert.ErrorIs(t, err, afc.StatusObjectNotFound)
}

func TestRenameMovesTree(t *testing.T) {
	afcd, c := newAFCSetup(t)
	afcd.WriteFile("/old/file.txt", []byte("content"))

	require.NoError(t, c.Rename("/old", "/new"))
	data, ok := afcd.ReadFile("/new/file.txt")
	require.True(t, ok)
	assert.Equal(t, []byte("content"), data)
}

func TestMakeLink(t *testing.T) {
	afcd, c := newAFCSetup(t)
	afcd.WriteFile("/target.txt", []byte("x"))

	require.NoError(t, c.MakeLink(afc.LinkSymlink, "/target.txt", "/link"))
	info, err := c.FileInfo("/link")
	require.NoError(t, err)
	assert.Equal(t, "S_IFLNK", info["st_ifmt"])
	assert.Equal(t, "/target.txt", info["LinkTarget"])
}

func TestSetFileTime(t *testing.T) {
	afcd, c := newAFCSetup(t)
	afcd.WriteFile("/stamped.txt", []byte("x"))

	want := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, c.SetFileTime("/stamped.txt", want))

	info, err := c.FileInfo("/stamped.txt")
	require.NoError(t, err)
	assert.Equal(t, "1717243200000000000", info["st_mtime"])
}

func TestPullAndPushFile(t *testing.T) {
	afcd, c := newAFCSetup(t)
	afcd.WriteFile("/remote.txt", []byte("from device"))

	local := filepath.Join(t.TempDir(), "pulled.txt")
	require.NoError(t, c.PullFile("/remote.txt", local))
	got, err := os.ReadFile(local)
	require.NoError(t, err)
	assert.Equal(t, []byte("from device"), got)

	src := filepath.Join(t.TempDir(), "push.txt")
	require.NoError(t, os.WriteFile(src, []byte("to device"), 0o600))
	require.NoError(t, c.PushFile(src, "/pushed.txt"))
	data, ok := afcd.ReadFile("/pushed.txt")
	require.True(t, ok)
	assert.Equal(t, []byte("to device"), data)
}

func TestPushTree(t *testing.T) {
	afcd, c := newAFCSetup(t)

	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "sub"), 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(root, "top.txt"), []byte("t"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(root, "sub", "nested.txt"), []byte("n"), 0o600))

	require.NoError(t, c.PushTree(root, "/uploaded"))

	data, ok := afcd.ReadFile("/uploaded/top.txt")
	require.True(t, ok)
	assert.Equal(t, []byte("t"), data)
	data, ok = afcd.ReadFile("/uploaded/sub/nested.txt")
	require.True(t, ok)
	assert.Equal(t, []byte("n"), data)
}

func TestClosedGuards(t *testing.T) {
	afcd, c := newAFCSetup(t)
	afcd.WriteFile("/f.txt", []byte("x"))

	f, err := c.Open("/f.txt", afc.ModeReadOnly)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	require.NoError(t, f.Close(), "closing a handle twice is a no-op")

	_, err = f.Read(make([]byte, 1))
	assert.ErrorIs(t, err, afc.ErrFileClosed)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	_, err = c.DeviceInfo()
	assert.True(t, errors.Is(err, afc.ErrClientClosed))
}
