package idevice_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/idevice-protocol/idevice-go/internal/devicetest"
	"github.com/idevice-protocol/idevice-go/pkg/afc"
	"github.com/idevice-protocol/idevice-go/pkg/device"
	"github.com/idevice-protocol/idevice-go/pkg/instproxy"
	"github.com/idevice-protocol/idevice-go/pkg/lockdown"
	"github.com/idevice-protocol/idevice-go/pkg/service"
	"github.com/idevice-protocol/idevice-go/pkg/transport"
)

// fakeDevice is one fully wired in-process device: lockdownd plus the
// services the scenario tests exercise.
type fakeDevice struct {
	muxer *devicetest.Muxer
	store *lockdown.RecordStore
	afcd  *devicetest.AFCD
	apps  *devicetest.Instproxyd
}

const (
	e2eUDID          = "ABC123"
	e2eAFCPort       = 50010
	e2eInstproxyPort = 50020
)

func newFakeDevice(t *testing.T) *fakeDevice {
	t.Helper()

	daemon, err := devicetest.NewLockdownd(e2eUDID)
	require.NoError(t, err)

	muxer := devicetest.NewMuxer()
	daemon.Install(muxer, transport.KindUSB)

	afcd := devicetest.NewAFCD()
	daemon.AddService(afc.ServiceName, e2eAFCPort)
	muxer.Handle(e2eUDID, e2eAFCPort, afcd.Serve)

	apps := devicetest.NewInstproxyd()
	apps.AddApp(map[string]string{
		"CFBundleIdentifier": "com.example.notes",
		"Path":               "/private/var/containers/Bundle/Application/notes.app",
	})
	daemon.AddService(instproxy.ServiceName, e2eInstproxyPort)
	muxer.Handle(e2eUDID, e2eInstproxyPort, apps.Serve)

	store, err := lockdown.NewRecordStore(t.TempDir())
	require.NoError(t, err)

	return &fakeDevice{muxer: muxer, store: store, afcd: afcd, apps: apps}
}

func (f *fakeDevice) open(t *testing.T) *device.Device {
	t.Helper()
	d, err := device.New(f.muxer, e2eUDID, device.ScopeAny)
	require.NoError(t, err)
	t.Cleanup(d.Release)
	return d
}

func (f *fakeDevice) serviceOptions() []service.Option {
	return []service.Option{service.WithLockdownOptions(lockdown.WithStore(f.store))}
}

// TestE2E_HandshakeAndProperties pairs with a fresh device and reads
// properties through the established session.
func TestE2E_HandshakeAndProperties(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	fake := newFakeDevice(t)
	d := fake.open(t)

	client, err := lockdown.NewClient(d, "integration", lockdown.WithStore(fake.store))
	require.NoError(t, err)
	defer client.Close()

	require.Equal(t, lockdown.StateReady, client.State())

	name, err := client.GetValue("", "DeviceName")
	require.NoError(t, err)
	s, ok := name.AsString()
	require.True(t, ok, "DeviceName should be a string")
	assert.NotEmpty(t, s)

	// The pair record survived to disk and a second client reuses it.
	udids, err := fake.store.List()
	require.NoError(t, err)
	assert.Contains(t, udids, e2eUDID)

	second, err := lockdown.NewClient(d, "integration", lockdown.WithStore(fake.store))
	require.NoError(t, err)
	defer second.Close()
	assert.Equal(t, lockdown.StateReady, second.State())
}

// TestE2E_AppBrowse starts the installation proxy through lockdown and
// browses installed applications.
func TestE2E_AppBrowse(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	fake := newFakeDevice(t)
	d := fake.open(t)

	apps, err := instproxy.New(d, "integration", fake.serviceOptions()...)
	require.NoError(t, err)
	defer apps.Close()

	list, err := apps.Browse(nil)
	require.NoError(t, err)
	require.Greater(t, list.Len(), 0)

	var ids []string
	for i := 0; i < list.Len(); i++ {
		if id, ok := list.At(i).GetString("CFBundleIdentifier"); ok {
			ids = append(ids, id)
		}
	}
	assert.Contains(t, ids, "com.example.notes")
}

// TestE2E_FileTransfer writes a file over the file service and reads it
// back through a second client.
func TestE2E_FileTransfer(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	fake := newFakeDevice(t)
	d := fake.open(t)

	files, err := afc.New(d, "integration", fake.serviceOptions()...)
	require.NoError(t, err)

	require.NoError(t, files.MakeDir("/Downloads"))
	f, err := files.Open("/Downloads/report.txt", afc.ModeWriteTruncate)
	require.NoError(t, err)
	require.NoError(t, f.WriteAll([]byte("quarterly numbers"), nil))
	require.NoError(t, f.Close())
	require.NoError(t, files.Close())

	again, err := afc.New(d, "integration", fake.serviceOptions()...)
	require.NoError(t, err)
	defer again.Close()

	g, err := again.Open("/Downloads/report.txt", afc.ModeReadOnly)
	require.NoError(t, err)
	data, err := g.ReadAll()
	require.NoError(t, err)
	assert.Equal(t, "quarterly numbers", string(data))
	require.NoError(t, g.Close())
}
