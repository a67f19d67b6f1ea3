package housearrest_test

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/idevice-protocol/idevice-go/internal/devicetest"
	"github.com/idevice-protocol/idevice-go/pkg/afc"
	"github.com/idevice-protocol/idevice-go/pkg/device"
	"github.com/idevice-protocol/idevice-go/pkg/housearrest"
	"github.com/idevice-protocol/idevice-go/pkg/lockdown"
	"github.com/idevice-protocol/idevice-go/pkg/plist"
	"github.com/idevice-protocol/idevice-go/pkg/service"
	"github.com/idevice-protocol/idevice-go/pkg/transport"
)

// houseArrestHandler vends containers for one known bundle and then
// hands the connection over to a fake AFC daemon.
func houseArrestHandler(afcd *devicetest.AFCD) devicetest.Handler {
	return func(conn net.Conn) {
		codec := transport.NewPlistCodec(conn)
		req, err := codec.Receive()
		if err != nil {
			conn.Close()
			return
		}
		id, _ := req.GetString("Identifier")
		resp := plist.NewDict()
		if id != "com.example.one" {
			resp.Set("Error", plist.NewString("ApplicationLookupFailed"))
			_ = codec.Send(resp)
			conn.Close()
			return
		}
		resp.Set("Status", plist.NewString("Complete"))
		if codec.Send(resp) != nil {
			conn.Close()
			return
		}
		afcd.Serve(conn)
	}
}

func newHouseArrestSetup(t *testing.T) (*devicetest.AFCD, *device.Device, []service.Option) {
	t.Helper()
	const haPort = 50060

	daemon, err := devicetest.NewLockdownd("ABC123")
	require.NoError(t, err)

	muxer := devicetest.NewMuxer()
	daemon.Install(muxer, transport.KindUSB)
	daemon.AddService(housearrest.ServiceName, haPort)

	afcd := devicetest.NewAFCD()
	afcd.WriteFile("/Documents/note.txt", []byte("sandboxed"))
	muxer.Handle("ABC123", haPort, houseArrestHandler(afcd))

	d, err := device.New(muxer, "ABC123", device.ScopeAny)
	require.NoError(t, err)
	t.Cleanup(d.Release)

	store, err := lockdown.NewRecordStore(t.TempDir())
	require.NoError(t, err)
	return afcd, d, []service.Option{service.WithLockdownOptions(lockdown.WithStore(store))}
}

func TestVendContainerThenAFC(t *testing.T) {
	_, d, opts := newHouseArrestSetup(t)

	c, err := housearrest.New(d, "test-client", opts...)
	require.NoError(t, err)

	require.NoError(t, c.VendContainer("com.example.one"))

	files, err := c.AFC()
	require.NoError(t, err)
	defer files.Close()

	f, err := files.Open("/Documents/note.txt", afc.ModeReadOnly)
	require.NoError(t, err)
	data, err := f.ReadAll()
	require.NoError(t, err)
	assert.Equal(t, "sandboxed", string(data))
	require.NoError(t, f.Close())
}

func TestVendUnknownBundle(t *testing.T) {
	_, d, opts := newHouseArrestSetup(t)

	c, err := housearrest.New(d, "test-client", opts...)
	require.NoError(t, err)
	defer c.Close()

	err = c.VendDocuments("com.example.missing")
	var vendErr *housearrest.VendError
	require.ErrorAs(t, err, &vendErr)
	assert.Equal(t, "ApplicationLookupFailed", vendErr.Name)

	_, err = c.AFC()
	assert.Error(t, err, "AFC requires a vended container")
}
