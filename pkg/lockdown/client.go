package lockdown

import (
	"errors"
	"fmt"
	"sync"

	"github.com/idevice-protocol/idevice-go/pkg/device"
	"github.com/idevice-protocol/idevice-go/pkg/log"
	"github.com/idevice-protocol/idevice-go/pkg/plist"
	"github.com/idevice-protocol/idevice-go/pkg/transport"
)

// Port is the fixed device port lockdownd listens on.
const Port = 62078

// serviceType is the type string lockdownd reports to QueryType.
const serviceType = "com.apple.mobile.lockdown"

// State tracks the session lifecycle. The device closes idle sessions
// after roughly ten seconds, which surfaces as a receive error on the
// next request rather than a state transition here.
type State uint8

const (
	// StateUnstarted is the zero value before any connection exists.
	StateUnstarted State = iota
	// StateHandshaking covers the QueryType/pair/StartSession exchange.
	StateHandshaking
	// StateReady means an authenticated session is established.
	StateReady
	// StateClosed is terminal.
	StateClosed
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateUnstarted:
		return "unstarted"
	case StateHandshaking:
		return "handshaking"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// ServiceDescriptor identifies one started device service. It is
// single-use: opening a client from it consumes it.
type ServiceDescriptor struct {
	// Port is the ephemeral device port the service listens on.
	Port uint16

	// SSLEnabled reports whether the service expects session TLS using
	// the pair-record credentials.
	SSLEnabled bool

	// Name is the reverse-DNS service identifier.
	Name string

	// Credentials carries the pair-record TLS material when SSLEnabled.
	Credentials *transport.SessionCredentials
}

// Option configures a Client.
type Option func(*Client)

// WithStore overrides the pair-record store. The default is the
// per-user store from DefaultRecordStore.
func WithStore(store *RecordStore) Option {
	return func(c *Client) { c.store = store }
}

// WithLogger attaches a protocol event logger to the session channel.
func WithLogger(logger log.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithoutSession connects and verifies the service type but skips
// pairing and StartSession. Only unauthenticated queries work.
func WithoutSession() Option {
	return func(c *Client) { c.noSession = true }
}

// Client is a lockdown session client. One client owns one connection;
// it is safe for concurrent use, requests are serialized.
type Client struct {
	mu    sync.Mutex
	state State

	conn  *transport.Connection
	codec *transport.PlistCodec

	label     string
	udid      string
	sessionID string
	record    *PairRecord

	store     *RecordStore
	logger    log.Logger
	noSession bool
}

// NewClient connects to lockdownd on the device and performs the full
// handshake: QueryType, pair validation (pairing afresh when no usable
// record exists), StartSession, and session SSL when the device asks
// for it. On any failure the client is left closed and the most
// specific error is returned.
func NewClient(d *device.Device, label string, opts ...Option) (*Client, error) {
	c := &Client{label: label}
	for _, opt := range opts {
		opt(c)
	}

	udid, err := d.UDID()
	if err != nil {
		return nil, err
	}
	c.udid = udid

	if c.store == nil && !c.noSession {
		store, err := DefaultRecordStore()
		if err != nil {
			return nil, err
		}
		c.store = store
	}

	conn, err := d.Connect(Port)
	if err != nil {
		return nil, err
	}
	c.conn = conn
	c.codec = transport.NewPlistCodec(conn)
	if c.logger != nil {
		conn.SetLogger(c.logger)
		c.codec.SetLogger(c.logger, conn.ID(), serviceType)
	}

	c.state = StateHandshaking
	if err := c.handshake(); err != nil {
		c.teardown()
		return nil, err
	}
	c.state = StateReady
	return c, nil
}

func (c *Client) handshake() error {
	queryType, err := c.queryTypeLocked()
	if err != nil {
		return err
	}
	if queryType != serviceType {
		return fmt.Errorf("%w: unexpected service type %q", CodeInvalidResponse, queryType)
	}
	if c.noSession {
		return nil
	}

	record, err := c.store.Load(c.udid)
	if errors.Is(err, ErrNoRecord) {
		record, err = c.pairLocked()
	}
	if err != nil {
		return err
	}

	if err := c.validatePairLocked(record); err != nil {
		// Stale records (restored device, revoked trust) fail HostID
		// validation. Pair again once before giving up.
		if errors.Is(err, CodeInvalidHostID) || errors.Is(err, CodeMissingPairRecord) {
			if record, err = c.pairLocked(); err != nil {
				return err
			}
		} else {
			return err
		}
	}
	c.record = record

	return c.startSessionLocked(record)
}

// pairLocked establishes fresh trust with the device and persists the
// resulting record. The user must confirm the trust dialog on the
// device; until then the device answers PairingDialogResponsePending.
func (c *Client) pairLocked() (*PairRecord, error) {
	pubValue, err := c.getValueLocked("", "DevicePublicKey")
	if err != nil {
		return nil, err
	}
	pubPEM, ok := pubValue.AsData()
	if !ok {
		return nil, fmt.Errorf("%w: DevicePublicKey is not data", CodeInvalidResponse)
	}

	record, err := GeneratePairRecord(pubPEM, "")
	if err != nil {
		return nil, err
	}
	if mac, e := c.getValueLocked("", "WiFiAddress"); e == nil {
		record.WiFiMACAddress, _ = mac.AsString()
	}

	resp, err := c.rpcLocked("Pair", func(req *plist.Value) {
		req.Set("PairRecord", record.pairingDict())
		options := plist.NewDict()
		options.Set("ExtendedPairingErrors", plist.NewBool(true))
		req.Set("PairingOptions", options)
	})
	if err != nil {
		return nil, err
	}
	if bag, ok := resp.Get("EscrowBag").AsData(); ok {
		record.EscrowBag = bag
	}

	if err := c.store.Save(c.udid, record); err != nil {
		return nil, fmt.Errorf("%w: %v", CodeSavePairRecordFailed, err)
	}
	return record, nil
}

func (c *Client) validatePairLocked(record *PairRecord) error {
	_, err := c.rpcLocked("ValidatePair", func(req *plist.Value) {
		req.Set("PairRecord", record.pairingDict())
	})
	return err
}

func (c *Client) startSessionLocked(record *PairRecord) error {
	resp, err := c.rpcLocked("StartSession", func(req *plist.Value) {
		req.Set("HostID", plist.NewString(record.HostID))
		req.Set("SystemBUID", plist.NewString(record.SystemBUID))
	})
	if err != nil {
		return err
	}

	sessionID, ok := resp.GetString("SessionID")
	if !ok {
		return fmt.Errorf("%w: StartSession response", CodeMissingSessionID)
	}
	c.sessionID = sessionID

	if enable, _ := resp.Get("EnableSessionSSL").AsBool(); enable {
		config, err := transport.NewSessionTLSConfig(record.SessionCredentials())
		if err != nil {
			return fmt.Errorf("%w: %v", CodeSSLError, err)
		}
		if err := c.conn.EnableSessionSSL(config); err != nil {
			return fmt.Errorf("%w: %v", CodeSSLError, err)
		}
	}
	return nil
}

// request builds the base message for one lockdown request.
func (c *Client) request(name string) *plist.Value {
	req := plist.NewDict()
	if c.label != "" {
		req.Set("Label", plist.NewString(c.label))
	}
	req.Set("ProtocolVersion", plist.NewString("2"))
	req.Set("Request", plist.NewString(name))
	return req
}

// rpcLocked performs one request/response exchange. Callers hold c.mu
// or are inside the handshake before the client is shared.
func (c *Client) rpcLocked(name string, build func(*plist.Value)) (*plist.Value, error) {
	req := c.request(name)
	if build != nil {
		build(req)
	}
	if err := c.codec.Send(req); err != nil {
		return nil, err
	}
	resp, err := c.codec.Receive()
	if err != nil {
		return nil, err
	}
	return resp, checkResponse(resp, name)
}

// checkResponse maps a device response into the error taxonomy.
func checkResponse(resp *plist.Value, requested string) error {
	if name, ok := resp.GetString("Error"); ok {
		return deviceError(name)
	}
	if got, ok := resp.GetString("Request"); ok && got != requested {
		return fmt.Errorf("%w: response for %q to request %q", CodeInvalidResponse, got, requested)
	}
	// Pre-iOS 5 lockdownd reports failures through Result only.
	if result, ok := resp.GetString("Result"); ok && result == "Failure" {
		return &DeviceError{Code: CodeUnknown, Name: "Failure"}
	}
	return nil
}

// rpc is the guarded variant used after construction.
func (c *Client) rpc(name string, build func(*plist.Value)) (*plist.Value, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed || c.conn == nil {
		return nil, ErrDeallocated
	}
	return c.rpcLocked(name, build)
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// UDID returns the device identifier the client is bound to.
func (c *Client) UDID() string { return c.udid }

// PairRecord returns the record in use, or nil without a session.
func (c *Client) PairRecord() *PairRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.record
}

// QueryType asks lockdownd for its service type.
func (c *Client) QueryType() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed || c.conn == nil {
		return "", ErrDeallocated
	}
	return c.queryTypeLocked()
}

func (c *Client) queryTypeLocked() (string, error) {
	resp, err := c.rpcLocked("QueryType", nil)
	if err != nil {
		return "", err
	}
	t, ok := resp.GetString("Type")
	if !ok {
		return "", fmt.Errorf("%w: QueryType response has no Type", CodeInvalidResponse)
	}
	return t, nil
}

// GetValue reads one value from the device's property store. Empty
// domain selects the global domain; empty key returns the whole domain
// as a dictionary.
func (c *Client) GetValue(domain, key string) (*plist.Value, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed || c.conn == nil {
		return nil, ErrDeallocated
	}
	return c.getValueLocked(domain, key)
}

func (c *Client) getValueLocked(domain, key string) (*plist.Value, error) {
	resp, err := c.rpcLocked("GetValue", func(req *plist.Value) {
		if domain != "" {
			req.Set("Domain", plist.NewString(domain))
		}
		if key != "" {
			req.Set("Key", plist.NewString(key))
		}
	})
	if err != nil {
		return nil, err
	}
	value := resp.Get("Value")
	if value == nil {
		return nil, fmt.Errorf("%w: GetValue %s/%s", CodeMissingValue, domain, key)
	}
	return value.Copy(), nil
}

// SetValue writes one value into the device's property store.
func (c *Client) SetValue(domain, key string, value *plist.Value) error {
	_, err := c.rpc("SetValue", func(req *plist.Value) {
		if domain != "" {
			req.Set("Domain", plist.NewString(domain))
		}
		req.Set("Key", plist.NewString(key))
		req.Set("Value", value.Copy())
	})
	return err
}

// RemoveValue deletes one value from the device's property store.
func (c *Client) RemoveValue(domain, key string) error {
	_, err := c.rpc("RemoveValue", func(req *plist.Value) {
		if domain != "" {
			req.Set("Domain", plist.NewString(domain))
		}
		req.Set("Key", plist.NewString(key))
	})
	return err
}

// StartService asks lockdownd to start a named service and returns the
// descriptor for connecting to it. withEscrowBag sends the pair
// record's escrow bag, which some services require to work while the
// device is locked; a locked device without a usable bag answers
// EscrowLocked.
func (c *Client) StartService(name string, withEscrowBag bool) (*ServiceDescriptor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed || c.conn == nil {
		return nil, ErrDeallocated
	}
	if c.state != StateReady {
		return nil, CodeNoRunningSession
	}
	if withEscrowBag && (c.record == nil || len(c.record.EscrowBag) == 0) {
		return nil, fmt.Errorf("%w: no escrow bag in pair record", CodeInvalidPairRecord)
	}

	resp, err := c.rpcLocked("StartService", func(req *plist.Value) {
		req.Set("Service", plist.NewString(name))
		if withEscrowBag {
			req.Set("EscrowBag", plist.NewData(c.record.EscrowBag))
		}
	})
	if err != nil {
		return nil, err
	}

	port, ok := resp.GetUint("Port")
	if !ok || port == 0 || port > 0xffff {
		return nil, fmt.Errorf("%w: StartService %s returned no usable port", CodeInvalidResponse, name)
	}
	desc := &ServiceDescriptor{
		Port: uint16(port),
		Name: name,
	}
	if ssl, _ := resp.Get("EnableServiceSSL").AsBool(); ssl {
		desc.SSLEnabled = true
		desc.Credentials = c.record.SessionCredentials()
	}
	return desc, nil
}

// EnterRecovery reboots the device into recovery mode. The connection
// is unusable afterwards.
func (c *Client) EnterRecovery() error {
	_, err := c.rpc("EnterRecovery", nil)
	return err
}

// Unpair removes the trust relationship on both sides.
func (c *Client) Unpair() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed || c.conn == nil {
		return ErrDeallocated
	}
	if c.record == nil {
		return CodeMissingPairRecord
	}
	record := c.record
	if _, err := c.rpcLocked("Unpair", func(req *plist.Value) {
		req.Set("PairRecord", record.pairingDict())
	}); err != nil {
		return err
	}
	c.record = nil
	if c.store != nil {
		return c.store.Remove(c.udid)
	}
	return nil
}

// Goodbye tells lockdownd the session is over and closes the client.
func (c *Client) Goodbye() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed {
		return nil
	}
	_, err := c.rpcLocked("Goodbye", nil)
	c.teardown()
	return err
}

// Close ends the session. Closing twice is a no-op.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed {
		return nil
	}
	if c.sessionID != "" {
		// Best effort; the device may already have idle-closed us.
		sessionID := c.sessionID
		_, _ = c.rpcLocked("StopSession", func(req *plist.Value) {
			req.Set("SessionID", plist.NewString(sessionID))
		})
	}
	c.teardown()
	return nil
}

// teardown closes the connection and marks the client terminal.
// Callers hold c.mu or own the client exclusively.
func (c *Client) teardown() {
	if c.conn != nil {
		_ = c.conn.Disconnect()
	}
	c.state = StateClosed
	c.sessionID = ""
}
