package devicetest

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/idevice-protocol/idevice-go/pkg/plist"
	"github.com/idevice-protocol/idevice-go/pkg/transport"
)

// LockdownPort is the fixed port lockdownd listens on.
const LockdownPort = 62078

// Lockdownd is a fake lockdown daemon. It answers the query, pairing,
// session, and service-start requests the real daemon does, backed by
// an in-memory property store.
type Lockdownd struct {
	UDID string

	mu sync.Mutex

	// values is the global-domain property store. DeviceName and
	// DevicePublicKey are preset.
	values map[string]*plist.Value

	// domains holds non-global domains, keyed by domain name.
	domains map[string]map[string]*plist.Value

	// services maps service names to the port StartService hands out.
	services map[string]uint16

	// pairedHostIDs tracks HostIDs with established trust.
	pairedHostIDs map[string]bool

	// DenyPairing makes Pair answer UserDeniedPairing.
	DenyPairing bool

	// PairingPIN, when set, enables the CUPairingCreate exchange.
	PairingPIN string

	srpSessions map[net.Conn]*srpServer
	sessionSeq  int
}

// NewLockdownd creates a fake daemon for one device UDID with a fresh
// device RSA key.
func NewLockdownd(udid string) (*Lockdownd, error) {
	deviceKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("devicetest: generate device key: %w", err)
	}
	pubPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PUBLIC KEY",
		Bytes: x509.MarshalPKCS1PublicKey(&deviceKey.PublicKey),
	})

	l := &Lockdownd{
		UDID:          udid,
		values:        make(map[string]*plist.Value),
		domains:       make(map[string]map[string]*plist.Value),
		services:      make(map[string]uint16),
		pairedHostIDs: make(map[string]bool),
		srpSessions:   make(map[net.Conn]*srpServer),
	}
	l.values["DevicePublicKey"] = plist.NewData(pubPEM)
	l.values["DeviceName"] = plist.NewString("Test Device")
	l.values["UniqueDeviceID"] = plist.NewString(udid)
	l.values["ProductVersion"] = plist.NewString("17.0")
	return l, nil
}

// SetValue presets a global-domain property.
func (l *Lockdownd) SetValue(key string, v *plist.Value) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.values[key] = v
}

// SetDomainValue presets a property in a named domain.
func (l *Lockdownd) SetDomainValue(domain, key string, v *plist.Value) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.domains[domain] == nil {
		l.domains[domain] = make(map[string]*plist.Value)
	}
	l.domains[domain][key] = v
}

// AddService makes StartService hand out the given port for name.
func (l *Lockdownd) AddService(name string, port uint16) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.services[name] = port
}

// Install registers the device and its lockdown port on the muxer.
func (l *Lockdownd) Install(m *Muxer, kind transport.Kind) {
	m.AddDevice(transport.DeviceEntry{UDID: l.UDID, Kind: kind, MuxHandle: 1})
	m.Handle(l.UDID, LockdownPort, l.Serve)
}

// Serve handles one lockdown connection until it closes.
func (l *Lockdownd) Serve(conn net.Conn) {
	defer conn.Close()
	defer func() {
		l.mu.Lock()
		delete(l.srpSessions, conn)
		l.mu.Unlock()
	}()

	codec := transport.NewPlistCodec(conn)
	for {
		req, err := codec.Receive()
		if err != nil {
			return
		}
		request, _ := req.GetString("Request")
		resp := l.dispatch(conn, request, req)
		if resp != nil {
			if err := codec.Send(resp); err != nil {
				return
			}
		}
		if request == "Goodbye" {
			return
		}
	}
}

func (l *Lockdownd) dispatch(conn net.Conn, request string, req *plist.Value) *plist.Value {
	resp := plist.NewDict()
	resp.Set("Request", plist.NewString(request))

	switch request {
	case "QueryType":
		resp.Set("Type", plist.NewString("com.apple.mobile.lockdown"))

	case "GetValue":
		domain, _ := req.GetString("Domain")
		key, _ := req.GetString("Key")
		value, ok := l.lookupValue(domain, key)
		if !ok {
			return errorResponse(request, "MissingValue")
		}
		resp.Set("Value", value.Copy())

	case "SetValue":
		key, _ := req.GetString("Key")
		value := req.Get("Value")
		if key == "" || value == nil {
			return errorResponse(request, "MissingKey")
		}
		domain, _ := req.GetString("Domain")
		l.storeValue(domain, key, value.Copy())

	case "RemoveValue":
		key, _ := req.GetString("Key")
		domain, _ := req.GetString("Domain")
		l.removeValue(domain, key)

	case "Pair":
		if l.DenyPairing {
			return errorResponse(request, "UserDeniedPairing")
		}
		hostID, ok := req.Get("PairRecord").GetString("HostID")
		if !ok {
			return errorResponse(request, "MissingHostID")
		}
		l.mu.Lock()
		l.pairedHostIDs[hostID] = true
		l.mu.Unlock()
		resp.Set("EscrowBag", plist.NewData([]byte("escrow-bag-opaque")))

	case "ValidatePair":
		hostID, _ := req.Get("PairRecord").GetString("HostID")
		if !l.isPaired(hostID) {
			return errorResponse(request, "InvalidHostID")
		}

	case "Unpair":
		hostID, _ := req.Get("PairRecord").GetString("HostID")
		l.mu.Lock()
		delete(l.pairedHostIDs, hostID)
		l.mu.Unlock()

	case "StartSession":
		hostID, _ := req.GetString("HostID")
		if !l.isPaired(hostID) {
			return errorResponse(request, "InvalidHostID")
		}
		l.mu.Lock()
		l.sessionSeq++
		seq := l.sessionSeq
		l.mu.Unlock()
		resp.Set("SessionID", plist.NewString(fmt.Sprintf("session-%d", seq)))
		resp.Set("EnableSessionSSL", plist.NewBool(false))

	case "StopSession":
		// Nothing to tear down in the fake.

	case "StartService":
		name, _ := req.GetString("Service")
		l.mu.Lock()
		port, ok := l.services[name]
		l.mu.Unlock()
		if !ok {
			return errorResponse(request, "InvalidService")
		}
		resp.Set("Port", plist.NewUint(uint64(port)))
		resp.Set("Service", plist.NewString(name))
		resp.Set("EnableServiceSSL", plist.NewBool(false))

	case "CUPairingCreate":
		return l.handleCUPairing(conn, req)

	case "EnterRecovery", "Goodbye":
		// Acknowledged with the bare response.

	default:
		return errorResponse(request, "InvalidRequest")
	}
	return resp
}

func (l *Lockdownd) handleCUPairing(conn net.Conn, req *plist.Value) *plist.Value {
	if l.PairingPIN == "" {
		return errorResponse("CUPairingCreate", "PairingProhibitedOverThisConnection")
	}
	step, _ := req.Get("PairingStep").AsUint()

	resp := plist.NewDict()
	resp.Set("Request", plist.NewString("CUPairingCreate"))

	switch step {
	case 1:
		srv, err := newSRPServer("Pair-Setup", l.PairingPIN)
		if err != nil {
			return errorResponse("CUPairingCreate", "PairingFailed")
		}
		l.mu.Lock()
		l.srpSessions[conn] = srv
		l.mu.Unlock()
		resp.Set("Salt", plist.NewData(srv.Salt))
		resp.Set("DevicePublicKey", plist.NewData(srv.PublicKey()))

	case 2:
		l.mu.Lock()
		srv := l.srpSessions[conn]
		l.mu.Unlock()
		if srv == nil {
			return errorResponse("CUPairingCreate", "PairingFailed")
		}
		clientKey, _ := req.Get("PublicKey").AsData()
		proof, _ := req.Get("Proof").AsData()
		m2, err := srv.VerifyClient(clientKey, proof)
		if err != nil {
			return errorResponse("CUPairingCreate", "PairingFailed")
		}
		resp.Set("Proof", plist.NewData(m2))

	case 3:
		l.mu.Lock()
		srv := l.srpSessions[conn]
		l.mu.Unlock()
		if srv == nil || srv.Key() == nil {
			return errorResponse("CUPairingCreate", "PairingFailed")
		}
		encrypted, _ := req.Get("EncryptedData").AsData()
		hostIdentity, err := cuOpen(srv.Key(), "PS-Msg05", encrypted)
		if err != nil {
			return errorResponse("CUPairingCreate", "PairingFailed")
		}
		identity, err := plist.DecodeAuto(hostIdentity)
		if err != nil {
			return errorResponse("CUPairingCreate", "PairingFailed")
		}
		if hostID, ok := identity.GetString("HostID"); ok {
			l.mu.Lock()
			l.pairedHostIDs[hostID] = true
			l.mu.Unlock()
		}
		deviceIdentity := plist.NewDict()
		deviceIdentity.Set("EscrowBag", plist.NewData([]byte("cu-escrow-bag")))
		deviceIdentity.Set("WiFiMACAddress", plist.NewString("aa:bb:cc:dd:ee:ff"))
		plain, err := plist.Encode(deviceIdentity, plist.FormatBinary)
		if err != nil {
			return errorResponse("CUPairingCreate", "PairingFailed")
		}
		sealed, err := cuSeal(srv.Key(), "PS-Msg06", plain)
		if err != nil {
			return errorResponse("CUPairingCreate", "PairingFailed")
		}
		resp.Set("EncryptedData", plist.NewData(sealed))

	default:
		return errorResponse("CUPairingCreate", "InvalidRequest")
	}
	return resp
}

func (l *Lockdownd) lookupValue(domain, key string) (*plist.Value, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	store := l.values
	if domain != "" {
		if store = l.domains[domain]; store == nil {
			return nil, false
		}
	}
	if key == "" {
		all := plist.NewDict()
		for k, v := range store {
			all.Set(k, v.Copy())
		}
		return all, true
	}
	v, ok := store[key]
	return v, ok
}

func (l *Lockdownd) storeValue(domain, key string, v *plist.Value) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if domain == "" {
		l.values[key] = v
		return
	}
	if l.domains[domain] == nil {
		l.domains[domain] = make(map[string]*plist.Value)
	}
	l.domains[domain][key] = v
}

func (l *Lockdownd) removeValue(domain, key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if domain == "" {
		delete(l.values, key)
		return
	}
	delete(l.domains[domain], key)
}

func (l *Lockdownd) isPaired(hostID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pairedHostIDs[hostID]
}

func errorResponse(request, name string) *plist.Value {
	resp := plist.NewDict()
	resp.Set("Request", plist.NewString(request))
	resp.Set("Error", plist.NewString(name))
	return resp
}

// drainConn discards everything until the peer closes. Some fakes use
// it for half-duplex services.
func drainConn(conn net.Conn) {
	_, _ = io.Copy(io.Discard, conn)
}
