package devicetest

import (
	"net"
	"sync"

	"github.com/idevice-protocol/idevice-go/pkg/plist"
	"github.com/idevice-protocol/idevice-go/pkg/transport"
)

// browsePageSize is the number of apps per Browse status page.
const browsePageSize = 2

// Instproxyd is a fake installation proxy daemon over an in-memory
// application list.
type Instproxyd struct {
	mu   sync.Mutex
	apps []*plist.Value

	// Capabilities is the set the fake device claims to support.
	Capabilities map[string]bool
}

// NewInstproxyd creates a fake daemon with no installed apps.
func NewInstproxyd() *Instproxyd {
	return &Instproxyd{Capabilities: make(map[string]bool)}
}

// AddApp registers an installed application dictionary.
func (ip *Instproxyd) AddApp(attrs map[string]string) {
	entry := plist.NewDict()
	for k, v := range attrs {
		entry.Set(k, plist.NewString(v))
	}
	ip.mu.Lock()
	defer ip.mu.Unlock()
	ip.apps = append(ip.apps, entry)
}

// HasApp reports whether a bundle identifier is installed.
func (ip *Instproxyd) HasApp(bundleID string) bool {
	ip.mu.Lock()
	defer ip.mu.Unlock()
	return ip.findApp(bundleID) != nil
}

func (ip *Instproxyd) findApp(bundleID string) *plist.Value {
	for _, app := range ip.apps {
		if id, _ := app.GetString("CFBundleIdentifier"); id == bundleID {
			return app
		}
	}
	return nil
}

// Serve handles one installation proxy connection until it closes.
func (ip *Instproxyd) Serve(conn net.Conn) {
	defer conn.Close()
	codec := transport.NewPlistCodec(conn)
	for {
		req, err := codec.Receive()
		if err != nil {
			return
		}
		cmd, _ := req.GetString("Command")
		if !ip.dispatch(codec, cmd, req) {
			return
		}
	}
}

func (ip *Instproxyd) dispatch(codec *transport.PlistCodec, cmd string, req *plist.Value) bool {
	switch cmd {
	case "Browse":
		ip.mu.Lock()
		apps := append([]*plist.Value(nil), ip.apps...)
		ip.mu.Unlock()
		for start := 0; start < len(apps); start += browsePageSize {
			end := start + browsePageSize
			if end > len(apps) {
				end = len(apps)
			}
			page := plist.NewDict()
			page.Set("Status", plist.NewString("BrowsingApplications"))
			page.Set("CurrentIndex", plist.NewUint(uint64(start)))
			page.Set("CurrentAmount", plist.NewUint(uint64(end-start)))
			list := plist.NewArray()
			for _, app := range apps[start:end] {
				list.Append(app.Copy())
			}
			page.Set("CurrentList", list)
			if codec.Send(page) != nil {
				return false
			}
		}
		return sendStatus(codec, "Complete")

	case "Lookup":
		ids := stringList(req.Get("ClientOptions").Get("BundleIDs"))
		result := plist.NewDict()
		ip.mu.Lock()
		if len(ids) == 0 {
			for _, app := range ip.apps {
				if id, ok := app.GetString("CFBundleIdentifier"); ok {
					result.Set(id, app.Copy())
				}
			}
		} else {
			for _, id := range ids {
				if app := ip.findApp(id); app != nil {
					result.Set(id, app.Copy())
				}
			}
		}
		ip.mu.Unlock()
		resp := plist.NewDict()
		resp.Set("Status", plist.NewString("Complete"))
		resp.Set("LookupResult", result)
		return codec.Send(resp) == nil

	case "CheckCapabilitiesMatch":
		match := true
		for _, capability := range stringList(req.Get("ClientOptions").Get("Capabilities")) {
			if !ip.Capabilities[capability] {
				match = false
				break
			}
		}
		resp := plist.NewDict()
		resp.Set("Status", plist.NewString("Complete"))
		resp.Set("LookupResult", plist.NewBool(match))
		return codec.Send(resp) == nil

	case "Install", "Upgrade":
		if !sendProgress(codec, "CreatingStagingDirectory", 10) {
			return false
		}
		if !sendProgress(codec, "Installing", 60) {
			return false
		}
		return sendStatus(codec, "Complete")

	case "Uninstall":
		id, _ := req.GetString("ApplicationIdentifier")
		ip.mu.Lock()
		for i, app := range ip.apps {
			if appID, _ := app.GetString("CFBundleIdentifier"); appID == id {
				ip.apps = append(ip.apps[:i], ip.apps[i+1:]...)
				break
			}
		}
		ip.mu.Unlock()
		if !sendProgress(codec, "RemovingApplication", 50) {
			return false
		}
		return sendStatus(codec, "Complete")

	case "Archive", "Restore", "RemoveArchive":
		// The archive container is gone on modern device OS.
		resp := plist.NewDict()
		resp.Set("Error", plist.NewString("APIInternalError"))
		resp.Set("ErrorDescription", plist.NewString("archive support removed"))
		return codec.Send(resp) == nil

	default:
		resp := plist.NewDict()
		resp.Set("Error", plist.NewString("UnknownCommand"))
		return codec.Send(resp) == nil
	}
}

func sendStatus(codec *transport.PlistCodec, status string) bool {
	resp := plist.NewDict()
	resp.Set("Status", plist.NewString(status))
	return codec.Send(resp) == nil
}

func sendProgress(codec *transport.PlistCodec, status string, pct uint64) bool {
	resp := plist.NewDict()
	resp.Set("Status", plist.NewString(status))
	resp.Set("PercentComplete", plist.NewUint(pct))
	return codec.Send(resp) == nil
}

func stringList(v *plist.Value) []string {
	var out []string
	for i := 0; i < v.Len(); i++ {
		if s, ok := v.At(i).AsString(); ok {
			out = append(out, s)
		}
	}
	return out
}
