package screenshot_test

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/idevice-protocol/idevice-go/internal/devicetest"
	"github.com/idevice-protocol/idevice-go/pkg/device"
	"github.com/idevice-protocol/idevice-go/pkg/lockdown"
	"github.com/idevice-protocol/idevice-go/pkg/plist"
	"github.com/idevice-protocol/idevice-go/pkg/screenshot"
	"github.com/idevice-protocol/idevice-go/pkg/service"
	"github.com/idevice-protocol/idevice-go/pkg/transport"
)

var fakePNG = []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a, 1, 2, 3}

// screenshotrHandler speaks DeviceLink: version exchange, then answers
// screenshot requests with a canned image.
func screenshotrHandler(conn net.Conn) {
	defer conn.Close()
	codec := transport.NewPlistCodec(conn)

	greeting := plist.NewArray()
	greeting.Append(plist.NewString("DLMessageVersionExchange"))
	greeting.Append(plist.NewUint(300))
	greeting.Append(plist.NewUint(0))
	if codec.Send(greeting) != nil {
		return
	}

	reply, err := codec.Receive()
	if err != nil {
		return
	}
	if ok, _ := reply.At(1).AsString(); ok != "DLVersionsOk" {
		return
	}

	ready := plist.NewArray()
	ready.Append(plist.NewString("DLMessageDeviceReady"))
	if codec.Send(ready) != nil {
		return
	}

	for {
		req, err := codec.Receive()
		if err != nil {
			return
		}
		if msgType, _ := req.At(1).GetString("MessageType"); msgType != "ScreenShotRequest" {
			return
		}
		body := plist.NewDict()
		body.Set("MessageType", plist.NewString("ScreenShotReply"))
		body.Set("ScreenShotData", plist.NewData(fakePNG))
		envelope := plist.NewArray()
		envelope.Append(plist.NewString("DLMessageProcessMessage"))
		envelope.Append(body)
		if codec.Send(envelope) != nil {
			return
		}
	}
}

func TestTake(t *testing.T) {
	const screenshotPort = 50040

	daemon, err := devicetest.NewLockdownd("ABC123")
	require.NoError(t, err)

	muxer := devicetest.NewMuxer()
	daemon.Install(muxer, transport.KindUSB)
	daemon.AddService(screenshot.ServiceName, screenshotPort)
	muxer.Handle("ABC123", screenshotPort, screenshotrHandler)

	d, err := device.New(muxer, "ABC123", device.ScopeAny)
	require.NoError(t, err)
	defer d.Release()

	store, err := lockdown.NewRecordStore(t.TempDir())
	require.NoError(t, err)

	c, err := screenshot.New(d, "test-client", service.WithLockdownOptions(lockdown.WithStore(store)))
	require.NoError(t, err)
	defer c.Close()

	img, err := c.Take()
	require.NoError(t, err)
	assert.Equal(t, fakePNG, img)

	// The session supports repeated captures.
	img, err = c.Take()
	require.NoError(t, err)
	assert.Equal(t, fakePNG, img)
}
