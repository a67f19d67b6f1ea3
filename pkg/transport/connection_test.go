package transport

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pipeConnection(t *testing.T) (*Connection, net.Conn) {
	t.Helper()
	local, remote := net.Pipe()
	conn := NewConnection(local)
	t.Cleanup(func() {
		conn.Disconnect()
		remote.Close()
	})
	return conn, remote
}

func TestConnectionSendReceive(t *testing.T) {
	conn, remote := pipeConnection(t)

	go func() {
		buf := make([]byte, 16)
		n, _ := remote.Read(buf)
		remote.Write(buf[:n])
	}()

	n, err := conn.Send([]byte("ping"))
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	got, err := conn.Receive(16, 0)
	require.NoError(t, err)
	assert.Equal(t, []byte("ping"), got)
}

func TestConnectionReceiveTimeout(t *testing.T) {
	conn, _ := pipeConnection(t)

	start := time.Now()
	got, err := conn.Receive(16, 50*time.Millisecond)
	require.NoError(t, err, "an elapsed timeout is not an error")
	assert.Empty(t, got)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestConnectionDisconnectIsTerminal(t *testing.T) {
	conn, _ := pipeConnection(t)

	require.NoError(t, conn.Disconnect())
	require.NoError(t, conn.Disconnect(), "repeated disconnect is a no-op")

	_, err := conn.Send([]byte("x"))
	assert.True(t, errors.Is(err, ErrDisconnected))

	_, err = conn.Receive(1, 0)
	assert.True(t, errors.Is(err, ErrDisconnected))

	_, err = conn.Fd()
	assert.True(t, errors.Is(err, ErrDisconnected))

	assert.True(t, errors.Is(conn.EnableSessionSSL(nil), ErrDisconnected))
}

func TestConnectionDisableSSLWithoutEnable(t *testing.T) {
	conn, _ := pipeConnection(t)
	// Disabling session security that was never enabled reports success
	// quietly.
	assert.NoError(t, conn.DisableSessionSSL())
	assert.NoError(t, conn.DisableSessionSSL())
}

func TestConnectionFdOnPipe(t *testing.T) {
	conn, _ := pipeConnection(t)
	_, err := conn.Fd()
	assert.True(t, errors.Is(err, ErrNoDescriptor), "net.Pipe has no descriptor")
}

func TestConnectionIDsAreUnique(t *testing.T) {
	a, _ := pipeConnection(t)
	b, _ := pipeConnection(t)
	assert.NotEqual(t, a.ID(), b.ID())
	assert.NotEmpty(t, a.ID())
}
