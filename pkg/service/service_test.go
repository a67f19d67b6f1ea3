package service_test

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/idevice-protocol/idevice-go/internal/devicetest"
	"github.com/idevice-protocol/idevice-go/pkg/device"
	"github.com/idevice-protocol/idevice-go/pkg/lockdown"
	"github.com/idevice-protocol/idevice-go/pkg/plist"
	"github.com/idevice-protocol/idevice-go/pkg/service"
	"github.com/idevice-protocol/idevice-go/pkg/transport"
)

const (
	testUDID    = "ABC123"
	echoService = "com.apple.mobile.echo"
	echoPort    = 50100
)

// echoHandler answers every plist message with a copy plus Echo=true.
func echoHandler(conn net.Conn) {
	defer conn.Close()
	codec := transport.NewPlistCodec(conn)
	for {
		req, err := codec.Receive()
		if err != nil {
			return
		}
		resp := req.Copy()
		resp.Set("Echo", plist.NewBool(true))
		if err := codec.Send(resp); err != nil {
			return
		}
	}
}

// silentHandler accepts messages and never answers.
func silentHandler(conn net.Conn) {
	defer conn.Close()
	codec := transport.NewPlistCodec(conn)
	for {
		if _, err := codec.Receive(); err != nil {
			return
		}
	}
}

func newServiceSetup(t *testing.T, handler devicetest.Handler) (*device.Device, []service.Option) {
	t.Helper()

	daemon, err := devicetest.NewLockdownd(testUDID)
	require.NoError(t, err)

	muxer := devicetest.NewMuxer()
	daemon.Install(muxer, transport.KindUSB)
	daemon.AddService(echoService, echoPort)
	muxer.Handle(testUDID, echoPort, handler)

	d, err := device.New(muxer, testUDID, device.ScopeAny)
	require.NoError(t, err)
	t.Cleanup(d.Release)

	store, err := lockdown.NewRecordStore(t.TempDir())
	require.NoError(t, err)
	opts := []service.Option{service.WithLockdownOptions(lockdown.WithStore(store))}
	return d, opts
}

func TestStartConnectsToService(t *testing.T) {
	d, opts := newServiceSetup(t, echoHandler)

	c, err := service.Start(d, "test-client", echoService, false, opts...)
	require.NoError(t, err)
	defer c.Close()

	assert.Equal(t, echoService, c.Name())

	req := plist.NewDict()
	req.Set("Request", plist.NewString("Ping"))
	require.NoError(t, c.SendPlist(req))

	resp, err := c.ReceivePlist()
	require.NoError(t, err)
	echoed, ok := resp.Get("Echo").AsBool()
	require.True(t, ok)
	assert.True(t, echoed)
}

func TestStartUnknownService(t *testing.T) {
	d, opts := newServiceSetup(t, echoHandler)

	_, err := service.Start(d, "test-client", "com.apple.nonexistent", false, opts...)
	assert.True(t, errors.Is(err, lockdown.CodeInvalidService))
}

func TestReceivePlistTimeout(t *testing.T) {
	d, opts := newServiceSetup(t, silentHandler)

	c, err := service.Start(d, "test-client", echoService, false, opts...)
	require.NoError(t, err)
	defer c.Close()

	req := plist.NewDict()
	req.Set("Request", plist.NewString("Ping"))
	require.NoError(t, c.SendPlist(req))

	_, err = c.ReceivePlistTimeout(50 * time.Millisecond)
	assert.ErrorIs(t, err, service.ErrReceiveTimeout)
}

func TestBinaryPlistRoundTrip(t *testing.T) {
	d, opts := newServiceSetup(t, echoHandler)

	c, err := service.Start(d, "test-client", echoService, false, opts...)
	require.NoError(t, err)
	defer c.Close()

	req := plist.NewDict()
	req.Set("Command", plist.NewString("Browse"))
	require.NoError(t, c.SendBinaryPlist(req))

	resp, err := c.ReceivePlist()
	require.NoError(t, err)
	cmd, _ := resp.GetString("Command")
	assert.Equal(t, "Browse", cmd)
}

func TestClosedClientGuards(t *testing.T) {
	d, opts := newServiceSetup(t, echoHandler)

	c, err := service.Start(d, "test-client", echoService, false, opts...)
	require.NoError(t, err)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	assert.ErrorIs(t, c.SendPlist(plist.NewDict()), service.ErrClientClosed)
	_, err = c.ReceivePlist()
	assert.ErrorIs(t, err, service.ErrClientClosed)
	_, err = c.Conn()
	assert.ErrorIs(t, err, service.ErrClientClosed)
	_, err = c.Send([]byte("x"))
	assert.ErrorIs(t, err, service.ErrClientClosed)
}

func TestNewClientFromDescriptor(t *testing.T) {
	d, _ := newServiceSetup(t, echoHandler)

	desc := &lockdown.ServiceDescriptor{Port: echoPort, Name: echoService}
	c, err := service.NewClient(d, desc)
	require.NoError(t, err)
	defer c.Close()

	req := plist.NewDict()
	req.Set("Request", plist.NewString("Ping"))
	require.NoError(t, c.SendPlist(req))
	_, err = c.ReceivePlist()
	require.NoError(t, err)
}
