package syslog_test

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/idevice-protocol/idevice-go/internal/devicetest"
	"github.com/idevice-protocol/idevice-go/pkg/device"
	"github.com/idevice-protocol/idevice-go/pkg/lockdown"
	"github.com/idevice-protocol/idevice-go/pkg/service"
	"github.com/idevice-protocol/idevice-go/pkg/syslog"
	"github.com/idevice-protocol/idevice-go/pkg/transport"
)

func TestLineAssembler(t *testing.T) {
	var a syslog.LineAssembler

	lines := a.Feed([]byte("first line\nsecond "))
	require.Len(t, lines, 1)
	assert.Equal(t, "first line", string(lines[0]))
	assert.Equal(t, "second ", string(a.Pending()))

	lines = a.Feed([]byte("half\nthird\n"))
	require.Len(t, lines, 2)
	assert.Equal(t, "second half", string(lines[0]))
	assert.Equal(t, "third", string(lines[1]))
	assert.Empty(t, a.Pending())
}

func TestLineAssemblerStripsNULs(t *testing.T) {
	var a syslog.LineAssembler

	lines := a.Feed([]byte("mes\x00sage\x00\nnext"))
	require.Len(t, lines, 1)
	assert.Equal(t, "message", string(lines[0]))
}

func TestLineAssemblerEmptyLines(t *testing.T) {
	var a syslog.LineAssembler

	lines := a.Feed([]byte("\n\nx\n"))
	require.Len(t, lines, 3)
	assert.Empty(t, lines[0])
	assert.Empty(t, lines[1])
	assert.Equal(t, "x", string(lines[2]))
}

func TestStartCapture(t *testing.T) {
	const syslogPort = 50030

	daemon, err := devicetest.NewLockdownd("ABC123")
	require.NoError(t, err)

	muxer := devicetest.NewMuxer()
	daemon.Install(muxer, transport.KindUSB)
	daemon.AddService(syslog.ServiceName, syslogPort)

	// The relay writes chunks that split messages mid-line.
	muxer.Handle("ABC123", syslogPort, func(conn net.Conn) {
		defer conn.Close()
		chunks := []string{
			"Aug 27 10:00:01 device kernel[0]: first\nAug 27 10:0",
			"0:02 device Spring",
			"Board[57]: second\x00\n",
		}
		for _, chunk := range chunks {
			if _, err := conn.Write([]byte(chunk)); err != nil {
				return
			}
		}
		// Keep the stream open until the client disconnects.
		buf := make([]byte, 1)
		_, _ = conn.Read(buf)
	})

	d, err := device.New(muxer, "ABC123", device.ScopeAny)
	require.NoError(t, err)
	defer d.Release()

	store, err := lockdown.NewRecordStore(t.TempDir())
	require.NoError(t, err)

	c, err := syslog.New(d, "test-client", service.WithLockdownOptions(lockdown.WithStore(store)))
	require.NoError(t, err)
	defer c.Close()

	var mu sync.Mutex
	var got []string
	lineCh := make(chan struct{}, 16)
	token, err := c.StartCapture(func(line []byte) {
		mu.Lock()
		got = append(got, string(line))
		mu.Unlock()
		lineCh <- struct{}{}
	})
	require.NoError(t, err)
	defer token.Dispose()

	for i := 0; i < 2; i++ {
		select {
		case <-lineCh:
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for log lines")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 2)
	assert.Equal(t, "Aug 27 10:00:01 device kernel[0]: first", got[0])
	assert.Equal(t, "Aug 27 10:00:02 device SpringBoard[57]: second", got[1])

	_, err = c.StartCapture(func([]byte) {})
	assert.ErrorIs(t, err, syslog.ErrCaptureActive)
}
